// Package coordination abstracts the ephemeral, process-external state the
// detection core shares across workers: semaphore counters (C3), the
// durable job queue's native keys and stopped-flag (C4), and the progress
// pub/sub topic (C6), behind six primitives. The Store interface exposes
// them so tests can substitute an in-memory implementation instead of a
// running Redis instance (following control_plane/store.Store's
// Memory/Redis duality).
package coordination

import (
	"context"
	"time"
)

// Message is a single published event, delivered to subscribers of a topic.
type Message struct {
	Topic   string
	Payload []byte
}

// Subscription is returned by Subscribe; Close stops delivery.
type Subscription interface {
	Channel() <-chan Message
	Close() error
}

// Store is the coordination-store contract:
//
//  1. IncrDecrWithTTL — atomic increment/decrement with TTL refresh on increment
//  2. Delete           — unconditional key delete
//  3. Publish          — fire a message on a topic
//  4. Subscribe        — receive messages on a topic
//  5. Enqueue/Dequeue  — a durable FIFO with bulk push
//  6. Flag get/set/clear — a boolean coordination flag (the stopped-flag)
type Store interface {
	// Incr atomically increments the counter at key and returns the new
	// value. If ttl > 0, the key's TTL is (re)set on every increment.
	Incr(ctx context.Context, key string, ttl time.Duration) (int64, error)
	// Decr atomically decrements the counter at key and returns the new
	// value. If the result is <= 0, the key is deleted.
	Decr(ctx context.Context, key string) (int64, error)
	// Delete removes a key unconditionally.
	Delete(ctx context.Context, key string) error

	Publish(ctx context.Context, topic string, payload []byte) error
	Subscribe(ctx context.Context, topic string) (Subscription, error)

	// EnqueueBulk appends jobs atomically and returns their assigned IDs in
	// order.
	EnqueueBulk(ctx context.Context, queue string, payloads [][]byte) ([]string, error)
	// Dequeue blocks (respecting ctx) until a job is available, then
	// returns it. The returned ack function must be called once the job
	// has been fully processed.
	Dequeue(ctx context.Context, queue string) (id string, payload []byte, ack func(), err error)
	// QueueStats reports counts for the durable FIFO.
	QueueStats(ctx context.Context, queue string) (waiting, active int64, err error)
	// QueueJobsByState lists a page of job payloads in a given lifecycle
	// state ("waiting" or "active"), oldest first (FIFO order).
	QueueJobsByState(ctx context.Context, queue, state string, offset, limit int) ([][]byte, error)
	// DrainQueue removes all waiting jobs and returns how many were removed.
	// Active jobs are left untouched.
	DrainQueue(ctx context.Context, queue string) (int64, error)

	SetFlag(ctx context.Context, key string, ttl time.Duration) error
	ClearFlag(ctx context.Context, key string) error
	IsFlagSet(ctx context.Context, key string) (bool, error)

	Close() error
}

// Key namespaces for the persisted coordination keys.
const (
	KeyGlobalSemaphore  = "detection:semaphore:global"
	KeyChannelSemaphore = "detection:semaphore:channel:"
	KeyStopped          = "detection:stopped"
	TopicProgress       = "detection:progress"
	QueueDetection      = "detection-queue"
)

// ChannelSemaphoreKey builds the per-channel semaphore key.
func ChannelSemaphoreKey(channelID string) string {
	return KeyChannelSemaphore + channelID
}
