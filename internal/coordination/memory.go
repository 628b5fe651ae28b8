package coordination

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

type counterEntry struct {
	value    int64
	expireAt time.Time
	hasTTL   bool
}

type flagEntry struct {
	expireAt time.Time
	hasTTL   bool
}

type queuedJob struct {
	id      string
	payload []byte
}

type memoryQueue struct {
	mu      sync.Mutex
	waiting []queuedJob
	active  map[string][]byte
	notify  chan struct{}
}

func newMemoryQueue() *memoryQueue {
	return &memoryQueue{
		active: make(map[string][]byte),
		notify: make(chan struct{}, 1),
	}
}

func (q *memoryQueue) wake() {
	select {
	case q.notify <- struct{}{}:
	default:
	}
}

// Memory is an in-process Store used for unit tests and the standalone
// fallback mode. It mirrors the semantics of the
// Redis implementation exactly, including TTL-based auto-recovery of
// semaphore counters, so component tests can run against either backend.
type Memory struct {
	mu       sync.Mutex
	counters map[string]*counterEntry
	flags    map[string]*flagEntry
	queues   map[string]*memoryQueue

	subsMu sync.Mutex
	subs   map[string][]*memorySub
}

type memorySub struct {
	ch     chan Message
	closed bool
}

func (s *memorySub) Channel() <-chan Message { return s.ch }
func (s *memorySub) Close() error            { close(s.ch); s.closed = true; return nil }

// NewMemory creates an empty coordination store.
func NewMemory() *Memory {
	return &Memory{
		counters: make(map[string]*counterEntry),
		flags:    make(map[string]*flagEntry),
		queues:   make(map[string]*memoryQueue),
		subs:     make(map[string][]*memorySub),
	}
}

func (m *Memory) Close() error { return nil }

func (m *Memory) counterValue(key string) int64 {
	c, ok := m.counters[key]
	if !ok {
		return 0
	}
	if c.hasTTL && time.Now().After(c.expireAt) {
		delete(m.counters, key)
		return 0
	}
	return c.value
}

func (m *Memory) Incr(_ context.Context, key string, ttl time.Duration) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v := m.counterValue(key) + 1
	c := m.counters[key]
	if c == nil {
		c = &counterEntry{}
		m.counters[key] = c
	}
	c.value = v
	if ttl > 0 {
		c.hasTTL = true
		c.expireAt = time.Now().Add(ttl)
	}
	return v, nil
}

func (m *Memory) Decr(_ context.Context, key string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v := m.counterValue(key) - 1
	if v <= 0 {
		delete(m.counters, key)
		return v, nil
	}
	c := m.counters[key]
	c.value = v
	return v, nil
}

func (m *Memory) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.counters, key)
	delete(m.flags, key)
	return nil
}

func (m *Memory) Publish(_ context.Context, topic string, payload []byte) error {
	m.subsMu.Lock()
	defer m.subsMu.Unlock()
	for _, sub := range m.subs[topic] {
		if sub.closed {
			continue
		}
		select {
		case sub.ch <- Message{Topic: topic, Payload: payload}:
		default:
			// Slow subscriber: drop rather than block the publisher,
			// matching the "publish failure is logged, never fatal" rule.
		}
	}
	return nil
}

func (m *Memory) Subscribe(_ context.Context, topic string) (Subscription, error) {
	sub := &memorySub{ch: make(chan Message, 64)}
	m.subsMu.Lock()
	m.subs[topic] = append(m.subs[topic], sub)
	m.subsMu.Unlock()
	return sub, nil
}

func (m *Memory) getQueue(name string) *memoryQueue {
	m.mu.Lock()
	defer m.mu.Unlock()
	q, ok := m.queues[name]
	if !ok {
		q = newMemoryQueue()
		m.queues[name] = q
	}
	return q
}

func (m *Memory) EnqueueBulk(_ context.Context, queue string, payloads [][]byte) ([]string, error) {
	q := m.getQueue(queue)
	q.mu.Lock()
	ids := make([]string, len(payloads))
	for i, p := range payloads {
		id := uuid.NewString()
		ids[i] = id
		q.waiting = append(q.waiting, queuedJob{id: id, payload: p})
	}
	q.mu.Unlock()
	q.wake()
	return ids, nil
}

func (m *Memory) Dequeue(ctx context.Context, queue string) (string, []byte, func(), error) {
	q := m.getQueue(queue)
	for {
		q.mu.Lock()
		if len(q.waiting) > 0 {
			job := q.waiting[0]
			q.waiting = q.waiting[1:]
			q.active[job.id] = job.payload
			q.mu.Unlock()
			ack := func() {
				q.mu.Lock()
				delete(q.active, job.id)
				q.mu.Unlock()
			}
			return job.id, job.payload, ack, nil
		}
		q.mu.Unlock()

		select {
		case <-ctx.Done():
			return "", nil, nil, ctx.Err()
		case <-q.notify:
		case <-time.After(200 * time.Millisecond):
		}
	}
}

func (m *Memory) QueueStats(_ context.Context, queue string) (int64, int64, error) {
	q := m.getQueue(queue)
	q.mu.Lock()
	defer q.mu.Unlock()
	return int64(len(q.waiting)), int64(len(q.active)), nil
}

func (m *Memory) QueueJobsByState(_ context.Context, queue, state string, offset, limit int) ([][]byte, error) {
	q := m.getQueue(queue)
	q.mu.Lock()
	defer q.mu.Unlock()

	var src [][]byte
	switch state {
	case "waiting":
		for _, j := range q.waiting {
			src = append(src, j.payload)
		}
	case "active":
		for _, p := range q.active {
			src = append(src, p)
		}
	}
	if offset >= len(src) {
		return nil, nil
	}
	end := offset + limit
	if end > len(src) || limit <= 0 {
		end = len(src)
	}
	return src[offset:end], nil
}

func (m *Memory) DrainQueue(_ context.Context, queue string) (int64, error) {
	q := m.getQueue(queue)
	q.mu.Lock()
	defer q.mu.Unlock()
	n := int64(len(q.waiting))
	q.waiting = nil
	return n, nil
}

func (m *Memory) SetFlag(_ context.Context, key string, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	f := &flagEntry{}
	if ttl > 0 {
		f.hasTTL = true
		f.expireAt = time.Now().Add(ttl)
	}
	m.flags[key] = f
	return nil
}

func (m *Memory) ClearFlag(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.flags, key)
	return nil
}

func (m *Memory) IsFlagSet(_ context.Context, key string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	f, ok := m.flags[key]
	if !ok {
		return false, nil
	}
	if f.hasTTL && time.Now().After(f.expireAt) {
		delete(m.flags, key)
		return false, nil
	}
	return true, nil
}
