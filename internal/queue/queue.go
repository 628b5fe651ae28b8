package queue

import (
	"context"
	"sort"
	"sync/atomic"

	"github.com/suiyueqingqian/model-check-sub000/internal/coordination"
	"github.com/suiyueqingqian/model-check-sub000/internal/observability"
)

// maxScanLimit bounds how many queue rows a stats/testing-ids scan reads in
// one call; detection runs are expected to stay well under this limit.
const maxScanLimit = 20000

// Stats mirrors the queue contract's stats() shape.
type Stats struct {
	Waiting   int64
	Active    int64
	Completed int64
	Failed    int64
	Total     int64
}

// Queue wraps a coordination.Store's durable-FIFO primitives with the job
// encoding and the completed/failed/total bookkeeping the store itself does
// not track, reporting {waiting, active, completed, failed, total}.
type Queue struct {
	store     coordination.Store
	name      string
	total     int64
	completed int64
	failed    int64
}

// New builds a Queue over the detection-queue namespace.
func New(store coordination.Store) *Queue {
	return &Queue{store: store, name: coordination.QueueDetection}
}

// EnqueueBulk appends jobs atomically and returns their assigned IDs in
// order.
func (q *Queue) EnqueueBulk(ctx context.Context, jobs []Job) ([]string, error) {
	if len(jobs) == 0 {
		return nil, nil
	}
	payloads := make([][]byte, len(jobs))
	for i, j := range jobs {
		b, err := Marshal(j)
		if err != nil {
			return nil, err
		}
		payloads[i] = b
	}
	ids, err := q.store.EnqueueBulk(ctx, q.name, payloads)
	if err != nil {
		return nil, err
	}
	atomic.AddInt64(&q.total, int64(len(jobs)))
	return ids, nil
}

// Dequeue blocks until a job is available and decodes it.
func (q *Queue) Dequeue(ctx context.Context) (id string, job Job, ack func(), err error) {
	id, payload, ack, err := q.store.Dequeue(ctx, q.name)
	if err != nil {
		return "", Job{}, nil, err
	}
	job, err = Unmarshal(payload)
	return id, job, ack, err
}

// MarkDone records the terminal outcome of one job for stats purposes.
func (q *Queue) MarkDone(success bool) {
	if success {
		atomic.AddInt64(&q.completed, 1)
	} else {
		atomic.AddInt64(&q.failed, 1)
	}
}

// Stats reports the queue's current counters.
func (q *Queue) Stats(ctx context.Context) (Stats, error) {
	waiting, active, err := q.store.QueueStats(ctx, q.name)
	if err != nil {
		return Stats{}, err
	}
	observability.QueueDepth.WithLabelValues("waiting").Set(float64(waiting))
	observability.QueueDepth.WithLabelValues("active").Set(float64(active))
	return Stats{
		Waiting:   waiting,
		Active:    active,
		Completed: atomic.LoadInt64(&q.completed),
		Failed:    atomic.LoadInt64(&q.failed),
		Total:     atomic.LoadInt64(&q.total),
	}, nil
}

// Drain removes all waiting jobs; active jobs are left untouched.
func (q *Queue) Drain(ctx context.Context) (int64, error) {
	return q.store.DrainQueue(ctx, q.name)
}

func (q *Queue) scanModelIDs(ctx context.Context) (map[string]int, error) {
	counts := make(map[string]int)
	for _, state := range []string{"waiting", "active"} {
		payloads, err := q.store.QueueJobsByState(ctx, q.name, state, 0, maxScanLimit)
		if err != nil {
			return nil, err
		}
		for _, raw := range payloads {
			j, err := Unmarshal(raw)
			if err != nil {
				continue
			}
			counts[j.ModelID]++
		}
	}
	return counts, nil
}

// TestingModelIDs returns the union of modelIds across waiting and active
// jobs.
func (q *Queue) TestingModelIDs(ctx context.Context) ([]string, error) {
	counts, err := q.scanModelIDs(ctx)
	if err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(counts))
	for id := range counts {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}

// IsModelComplete reports whether modelID has no other waiting/active job
// besides the one currently finalizing.
func (q *Queue) IsModelComplete(ctx context.Context, modelID string) (bool, error) {
	counts, err := q.scanModelIDs(ctx)
	if err != nil {
		return false, err
	}
	return counts[modelID] <= 1, nil
}
