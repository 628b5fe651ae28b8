package coordination

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// incrWithTTLScript atomically increments a counter and, when ttl > 0,
// refreshes its expiry, mirroring control_plane/store/redis.go's
// preloaded-Lua-script pattern so the increment-and-TTL pair never races
// with a concurrent Release/Acquire.
const incrWithTTLScript = `
local v = redis.call("incr", KEYS[1])
if tonumber(ARGV[1]) > 0 then
	redis.call("pexpire", KEYS[1], ARGV[1])
end
return v
`

// decrAndMaybeDeleteScript decrements a counter and deletes the key if the
// result drops to zero or below, matching the gate release rationale:
// a stray negative counter (from a forced queue clear or a race) must not
// permanently block future acquisitions.
const decrAndMaybeDeleteScript = `
local v = redis.call("decr", KEYS[1])
if v <= 0 then
	redis.call("del", KEYS[1])
end
return v
`

// Redis implements Store on top of go-redis, using a list for the durable
// FIFO, a hash for in-flight (active) jobs, and native pub/sub for the
// progress topic.
type Redis struct {
	client        *redis.Client
	incrTTLSHA    string
	decrDelSHA    string
}

// NewRedis connects to addr and preloads the Lua scripts used for atomic
// semaphore arithmetic.
func NewRedis(addr, password string, db int) (*Redis, error) {
	client := redis.NewClient(&redis.Options{Addr: addr, Password: password, DB: db})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, err
	}

	incrSHA, err := client.ScriptLoad(ctx, incrWithTTLScript).Result()
	if err != nil {
		return nil, errors.New("coordination: failed to preload incr script: " + err.Error())
	}
	decrSHA, err := client.ScriptLoad(ctx, decrAndMaybeDeleteScript).Result()
	if err != nil {
		return nil, errors.New("coordination: failed to preload decr script: " + err.Error())
	}

	return &Redis{client: client, incrTTLSHA: incrSHA, decrDelSHA: decrSHA}, nil
}

func (r *Redis) Close() error { return r.client.Close() }

func (r *Redis) Incr(ctx context.Context, key string, ttl time.Duration) (int64, error) {
	res, err := r.client.EvalSha(ctx, r.incrTTLSHA, []string{key}, int64(ttl/time.Millisecond)).Result()
	if err != nil {
		return 0, err
	}
	return res.(int64), nil
}

func (r *Redis) Decr(ctx context.Context, key string) (int64, error) {
	res, err := r.client.EvalSha(ctx, r.decrDelSHA, []string{key}).Result()
	if err != nil {
		return 0, err
	}
	return res.(int64), nil
}

func (r *Redis) Delete(ctx context.Context, key string) error {
	return r.client.Del(ctx, key).Err()
}

func (r *Redis) Publish(ctx context.Context, topic string, payload []byte) error {
	return r.client.Publish(ctx, topic, payload).Err()
}

type redisSub struct {
	pubsub *redis.PubSub
	ch     chan Message
	cancel context.CancelFunc
}

func (s *redisSub) Channel() <-chan Message { return s.ch }
func (s *redisSub) Close() error {
	s.cancel()
	return s.pubsub.Close()
}

func (r *Redis) Subscribe(ctx context.Context, topic string) (Subscription, error) {
	pubsub := r.client.Subscribe(ctx, topic)
	if _, err := pubsub.Receive(ctx); err != nil {
		return nil, err
	}
	subCtx, cancel := context.WithCancel(ctx)
	out := make(chan Message, 64)
	go func() {
		defer close(out)
		ch := pubsub.Channel()
		for {
			select {
			case <-subCtx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				select {
				case out <- Message{Topic: msg.Channel, Payload: []byte(msg.Payload)}:
				case <-subCtx.Done():
					return
				}
			}
		}
	}()
	return &redisSub{pubsub: pubsub, ch: out, cancel: cancel}, nil
}

func waitingKey(queue string) string { return "coord:queue:" + queue + ":waiting" }
func activeKey(queue string) string  { return "coord:queue:" + queue + ":active" }

func (r *Redis) EnqueueBulk(ctx context.Context, queue string, payloads [][]byte) ([]string, error) {
	ids := make([]string, len(payloads))
	pipe := r.client.TxPipeline()
	for i, p := range payloads {
		id := uuid.NewString()
		ids[i] = id
		pipe.RPush(ctx, waitingKey(queue), id+"\x1f"+string(p))
	}
	_, err := pipe.Exec(ctx)
	if err != nil {
		return nil, err
	}
	return ids, nil
}

func splitJobRecord(raw string) (id string, payload []byte) {
	for i := 0; i < len(raw); i++ {
		if raw[i] == '\x1f' {
			return raw[:i], []byte(raw[i+1:])
		}
	}
	return raw, nil
}

func (r *Redis) Dequeue(ctx context.Context, queue string) (string, []byte, func(), error) {
	res, err := r.client.BLPop(ctx, 1*time.Second, waitingKey(queue)).Result()
	if errors.Is(err, redis.Nil) {
		// No job within the poll window; caller loops.
		select {
		case <-ctx.Done():
			return "", nil, nil, ctx.Err()
		default:
			return r.Dequeue(ctx, queue)
		}
	}
	if err != nil {
		return "", nil, nil, err
	}
	id, payload := splitJobRecord(res[1])
	if err := r.client.HSet(ctx, activeKey(queue), id, payload).Err(); err != nil {
		return "", nil, nil, err
	}
	ack := func() {
		r.client.HDel(context.Background(), activeKey(queue), id)
	}
	return id, payload, ack, nil
}

func (r *Redis) QueueStats(ctx context.Context, queue string) (int64, int64, error) {
	waiting, err := r.client.LLen(ctx, waitingKey(queue)).Result()
	if err != nil {
		return 0, 0, err
	}
	active, err := r.client.HLen(ctx, activeKey(queue)).Result()
	if err != nil {
		return 0, 0, err
	}
	return waiting, active, nil
}

func (r *Redis) QueueJobsByState(ctx context.Context, queue, state string, offset, limit int) ([][]byte, error) {
	switch state {
	case "waiting":
		raws, err := r.client.LRange(ctx, waitingKey(queue), int64(offset), int64(offset+limit-1)).Result()
		if err != nil {
			return nil, err
		}
		out := make([][]byte, len(raws))
		for i, raw := range raws {
			_, payload := splitJobRecord(raw)
			out[i] = payload
		}
		return out, nil
	case "active":
		all, err := r.client.HVals(ctx, activeKey(queue)).Result()
		if err != nil {
			return nil, err
		}
		start := offset
		if start > len(all) {
			start = len(all)
		}
		end := start + limit
		if end > len(all) || limit <= 0 {
			end = len(all)
		}
		out := make([][]byte, end-start)
		for i, v := range all[start:end] {
			out[i] = []byte(v)
		}
		return out, nil
	}
	return nil, nil
}

func (r *Redis) DrainQueue(ctx context.Context, queue string) (int64, error) {
	n, err := r.client.LLen(ctx, waitingKey(queue)).Result()
	if err != nil {
		return 0, err
	}
	if err := r.client.Del(ctx, waitingKey(queue)).Err(); err != nil {
		return 0, err
	}
	return n, nil
}

func (r *Redis) SetFlag(ctx context.Context, key string, ttl time.Duration) error {
	return r.client.Set(ctx, key, "1", ttl).Err()
}

func (r *Redis) ClearFlag(ctx context.Context, key string) error {
	return r.client.Del(ctx, key).Err()
}

func (r *Redis) IsFlagSet(ctx context.Context, key string) (bool, error) {
	n, err := r.client.Exists(ctx, key).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}
