// Package gate implements the Concurrency Gate (C3): a two-level counting
// semaphore over the coordination store enforcing a global and a
// per-channel concurrency ceiling, with TTL-based auto-recovery of orphan
// holds.
package gate

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/suiyueqingqian/model-check-sub000/internal/coordination"
	"github.com/suiyueqingqian/model-check-sub000/internal/observability"
)

var log = logrus.WithField("component", "gate")

// slotTTL bounds how long an acquired slot survives without a holder
// renewing it; a crashed worker cannot permanently deplete capacity.
const slotTTL = 120 * time.Second

// pollInterval is the backoff between acquisition attempts when a ceiling
// is currently saturated.
const pollInterval = 500 * time.Millisecond

// Limits is the subset of SchedulerConfig the gate needs, read fresh on
// every Acquire call by the caller (the worker pool owns hot-reload, C4).
type Limits struct {
	MaxGlobalConcurrency int
	ChannelConcurrency   int
}

// Gate enforces Limits over a coordination.Store.
type Gate struct {
	store coordination.Store
}

// New builds a Gate backed by store.
func New(store coordination.Store) *Gate {
	return &Gate{store: store}
}

// Acquire blocks until both the global and the channel's slot are available,
// following this sequence: increment global (with its TTL), check ceiling,
// increment channel (with its TTL), check ceiling, backing off 500ms and
// retrying on either overflow.
func (g *Gate) Acquire(ctx context.Context, channelID string, limits Limits) error {
	channelKey := coordination.ChannelSemaphoreKey(channelID)
	start := time.Now()
	defer func() {
		observability.GateAcquireWaitSeconds.Observe(time.Since(start).Seconds())
	}()

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		globalVal, err := g.store.Incr(ctx, coordination.KeyGlobalSemaphore, slotTTL)
		if err != nil {
			return err
		}
		if globalVal > int64(limits.MaxGlobalConcurrency) {
			if _, err := g.store.Decr(ctx, coordination.KeyGlobalSemaphore); err != nil {
				return err
			}
			if !sleep(ctx, pollInterval) {
				return ctx.Err()
			}
			continue
		}

		channelVal, err := g.store.Incr(ctx, channelKey, slotTTL)
		if err != nil {
			return err
		}
		if channelVal > int64(limits.ChannelConcurrency) {
			if _, err := g.store.Decr(ctx, channelKey); err != nil {
				return err
			}
			if _, err := g.store.Decr(ctx, coordination.KeyGlobalSemaphore); err != nil {
				return err
			}
			if !sleep(ctx, pollInterval) {
				return ctx.Err()
			}
			continue
		}

		if limits.MaxGlobalConcurrency > 0 {
			observability.GateSaturation.WithLabelValues("global").Set(float64(globalVal) / float64(limits.MaxGlobalConcurrency))
		}
		if limits.ChannelConcurrency > 0 {
			observability.GateSaturation.WithLabelValues("channel").Set(float64(channelVal) / float64(limits.ChannelConcurrency))
		}
		return nil
	}
}

// Release decrements both counters. Errors here must propagate (never be
// swallowed) so a slot is never silently leaked — the one coordination
// failure mode callers must rethrow instead of logging.
func (g *Gate) Release(ctx context.Context, channelID string) error {
	channelKey := coordination.ChannelSemaphoreKey(channelID)

	_, chErr := g.store.Decr(ctx, channelKey)
	_, glErr := g.store.Decr(ctx, coordination.KeyGlobalSemaphore)
	if chErr != nil {
		log.WithError(chErr).WithField("channel_id", channelID).Error("release: channel decrement failed")
		return chErr
	}
	if glErr != nil {
		log.WithError(glErr).WithField("channel_id", channelID).Error("release: global decrement failed")
	}
	return glErr
}

func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
