package scheduler

import (
	"fmt"
	"regexp"
	"time"
)

// Schedule computes next-fire times for either grammar.
type Schedule interface {
	Next(now time.Time) time.Time
}

type cronSchedule struct {
	list *cronList
	loc  *time.Location
}

func (s *cronSchedule) Next(now time.Time) time.Time {
	return s.list.next(now, s.loc)
}

type intervalScheduleAdapter struct {
	sched *intervalSchedule
}

func (s *intervalScheduleAdapter) Next(now time.Time) time.Time {
	return s.sched.next(now)
}

// Parse parses a raw schedule string, dispatching on the interval-grammar
// prefix. timezone is an IANA zone name
// used for cron-list evaluation; an empty string defaults to UTC.
func Parse(raw, timezone string) (Schedule, error) {
	if looksLikeInterval(raw) {
		sched, err := parseInterval(raw)
		if err != nil {
			return nil, err
		}
		return &intervalScheduleAdapter{sched: sched}, nil
	}

	loc := time.UTC
	if timezone != "" {
		l, err := time.LoadLocation(timezone)
		if err != nil {
			return nil, fmt.Errorf("scheduler: invalid timezone %q: %w", timezone, err)
		}
		loc = l
	}

	list, err := parseCronList(raw)
	if err != nil {
		return nil, err
	}
	return &cronSchedule{list: list, loc: loc}, nil
}

// legacyStepPatterns recognizes the three legacy every-N-minutes/hours/days
// patterns from prior step-based schedule strings.
var legacyStepPatterns = []struct {
	re   *regexp.Regexp
	kind string
}{
	{regexp.MustCompile(`^\*/(\d+) \* \* \* \*$`), "minute"},
	{regexp.MustCompile(`^0 \*/(\d+) \* \* \*$`), "hour"},
	{regexp.MustCompile(`^0 0 \*/(\d+) \* \*$`), "day"},
}

// LegacyDisplay recognizes a legacy step-cron pattern and returns an
// equivalent interval-grammar string for display purposes, with ok=false
// when raw does not match any recognized legacy shape. The raw cron string
// is still what fires unless explicitly rewritten.
func LegacyDisplay(raw string, anchor time.Time) (display string, ok bool) {
	for _, p := range legacyStepPatterns {
		m := p.re.FindStringSubmatch(raw)
		if m == nil {
			continue
		}
		return fmt.Sprintf("interval:%s:%s:%s", p.kind, m[1], anchor.UTC().Format(time.RFC3339)), true
	}
	return "", false
}
