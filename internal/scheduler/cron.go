// Cron-list parsing is hand-rolled against the standard library: no
// third-party cron parser appears anywhere in the retrieval pack, and
// fabricating a dependency is off the table. The five-field grammar and
// next-fire walk below follow the conventional cron semantics (minute hour
// day-of-month month day-of-week, `*`, lists, ranges, steps).
package scheduler

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

type cronField struct {
	match map[int]bool
}

func (f cronField) allows(v int) bool {
	return f.match[v]
}

// cronExpr is one parsed five-field expression.
type cronExpr struct {
	minute  cronField
	hour    cronField
	dom     cronField
	month   cronField
	dow     cronField
	rawDom  string
	rawDow  string
}

var fieldBounds = [5][2]int{
	{0, 59}, // minute
	{0, 23}, // hour
	{1, 31}, // day of month
	{1, 12}, // month
	{0, 6},  // day of week, 0=Sunday
}

func parseCronExpr(expr string) (*cronExpr, error) {
	fields := strings.Fields(expr)
	if len(fields) != 5 {
		return nil, fmt.Errorf("scheduler: cron expression must have 5 fields, got %d in %q", len(fields), expr)
	}

	parsed := make([]cronField, 5)
	for i, f := range fields {
		cf, err := parseCronField(f, fieldBounds[i][0], fieldBounds[i][1])
		if err != nil {
			return nil, fmt.Errorf("scheduler: field %d (%q): %w", i, f, err)
		}
		parsed[i] = cf
	}

	return &cronExpr{
		minute: parsed[0],
		hour:   parsed[1],
		dom:    parsed[2],
		month:  parsed[3],
		dow:    parsed[4],
		rawDom: fields[2],
		rawDow: fields[4],
	}, nil
}

func parseCronField(field string, min, max int) (cronField, error) {
	match := make(map[int]bool)

	for _, part := range strings.Split(field, ",") {
		base := part
		step := 1
		if idx := strings.Index(part, "/"); idx >= 0 {
			base = part[:idx]
			s, err := strconv.Atoi(part[idx+1:])
			if err != nil || s < 1 {
				return cronField{}, fmt.Errorf("invalid step in %q", part)
			}
			step = s
		}

		lo, hi := min, max
		switch {
		case base == "*":
			// lo, hi already span the full range.
		case strings.Contains(base, "-"):
			bounds := strings.SplitN(base, "-", 2)
			a, err1 := strconv.Atoi(bounds[0])
			b, err2 := strconv.Atoi(bounds[1])
			if err1 != nil || err2 != nil || a > b {
				return cronField{}, fmt.Errorf("invalid range %q", base)
			}
			lo, hi = a, b
		default:
			v, err := strconv.Atoi(base)
			if err != nil {
				return cronField{}, fmt.Errorf("invalid value %q", base)
			}
			lo, hi = v, v
		}

		for v := lo; v <= hi; v += step {
			if v < min || v > max {
				return cronField{}, fmt.Errorf("value %d out of range [%d,%d]", v, min, max)
			}
			match[v] = true
		}
	}

	return cronField{match: match}, nil
}

// matches reports whether t satisfies the expression, honoring the
// standard cron rule that day-of-month and day-of-week are OR'd together
// when both are restricted (not "*").
func (c *cronExpr) matches(t time.Time) bool {
	if !c.minute.allows(t.Minute()) || !c.hour.allows(t.Hour()) || !c.month.allows(int(t.Month())) {
		return false
	}

	domRestricted := c.rawDom != "*"
	dowRestricted := c.rawDow != "*"
	domMatch := c.dom.allows(t.Day())
	dowMatch := c.dow.allows(int(t.Weekday()))

	switch {
	case domRestricted && dowRestricted:
		return domMatch || dowMatch
	case domRestricted:
		return domMatch
	case dowRestricted:
		return dowMatch
	default:
		return true
	}
}

// maxCronMinutesAhead bounds the forward search for a matching minute.
const maxCronMinutesAhead = 366 * 24 * 60

// next returns the earliest minute boundary after now that satisfies c, in
// loc.
func (c *cronExpr) next(now time.Time, loc *time.Location) time.Time {
	t := now.In(loc).Truncate(time.Minute).Add(time.Minute)
	for i := 0; i < maxCronMinutesAhead; i++ {
		if c.matches(t) {
			return t.UTC()
		}
		t = t.Add(time.Minute)
	}
	return now
}

// cronList is one or more cron expressions joined by "||"; next-fire is
// the earliest across all of them.
type cronList struct {
	exprs []*cronExpr
}

func parseCronList(raw string) (*cronList, error) {
	parts := strings.Split(raw, "||")
	exprs := make([]*cronExpr, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		ce, err := parseCronExpr(p)
		if err != nil {
			return nil, err
		}
		exprs = append(exprs, ce)
	}
	if len(exprs) == 0 {
		return nil, fmt.Errorf("scheduler: cron-list has no expressions")
	}
	return &cronList{exprs: exprs}, nil
}

func (c *cronList) next(now time.Time, loc *time.Location) time.Time {
	best := c.exprs[0].next(now, loc)
	for _, e := range c.exprs[1:] {
		if n := e.next(now, loc); n.Before(best) {
			best = n
		}
	}
	return best
}
