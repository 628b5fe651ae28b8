// Package progress implements the Progress Bus (C6): relaying per-job
// completion events published on the coordination store's progress topic to
// Server-Sent-Event subscribers, plus a polling-fallback snapshot endpoint.
// Follows control_plane/hub.go's fan-out pattern, adapted from a
// hub-held subscriber list to a coordination.Store pub/sub subscription
// per client (this module is single-process, so the store
// itself is the only fan-out point that needs to exist).
package progress

import (
	"context"
	"fmt"
	"io"
	"math"

	"github.com/sirupsen/logrus"

	"github.com/suiyueqingqian/model-check-sub000/internal/coordination"
	"github.com/suiyueqingqian/model-check-sub000/internal/queue"
)

var log = logrus.WithField("component", "progress")

// Bus relays coordination.Store progress events to subscribers.
type Bus struct {
	coord coordination.Store
	queue *queue.Queue
}

// New builds a Bus over coord, reading queue stats from q for snapshots.
func New(coord coordination.Store, q *queue.Queue) *Bus {
	return &Bus{coord: coord, queue: q}
}

// Subscribe opens a subscription to the progress topic.
func (b *Bus) Subscribe(ctx context.Context) (coordination.Subscription, error) {
	return b.coord.Subscribe(ctx, coordination.TopicProgress)
}

// RelaySSE streams progress events to w as `event: progress\ndata: <json>\n\n`
// frames until ctx is done or the subscription errors. Each frame is pushed
// to the client through flush when it is non-nil; the caller (the HTTP layer) is responsible
// for setting the SSE response headers before invoking this.
func (b *Bus) RelaySSE(ctx context.Context, w io.Writer, flush func()) error {
	sub, err := b.Subscribe(ctx)
	if err != nil {
		return err
	}
	defer sub.Close()

	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-sub.Channel():
			if !ok {
				return nil
			}
			if _, err := fmt.Fprintf(w, "event: progress\ndata: %s\n\n", msg.Payload); err != nil {
				return err
			}
			if flush != nil {
				flush()
			}
		}
	}
}

// Snapshot is the polling-fallback response shape.
type Snapshot struct {
	Waiting         int64    `json:"waiting"`
	Active          int64    `json:"active"`
	Completed       int64    `json:"completed"`
	Failed          int64    `json:"failed"`
	IsRunning       bool     `json:"isRunning"`
	ProgressPercent int      `json:"progress"`
	TestingModelIDs []string `json:"testingModelIds"`
}

// CurrentSnapshot computes the snapshot response. The progress percentage
// follows this formula literally:
// round(100 * (completed+failed) / (total+completed+failed)).
func (b *Bus) CurrentSnapshot(ctx context.Context) (Snapshot, error) {
	stats, err := b.queue.Stats(ctx)
	if err != nil {
		return Snapshot{}, err
	}
	ids, err := b.queue.TestingModelIDs(ctx)
	if err != nil {
		log.WithError(err).Warn("testing-model-ids scan failed")
		ids = nil
	}

	done := stats.Completed + stats.Failed
	denominator := stats.Total + done
	var pct int
	if denominator > 0 {
		pct = int(math.Round(100 * float64(done) / float64(denominator)))
	}

	return Snapshot{
		Waiting:         stats.Waiting,
		Active:          stats.Active,
		Completed:       stats.Completed,
		Failed:          stats.Failed,
		IsRunning:       stats.Waiting > 0 || stats.Active > 0,
		ProgressPercent: pct,
		TestingModelIDs: ids,
	}, nil
}
