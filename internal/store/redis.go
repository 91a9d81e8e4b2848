package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// hitScript starts a fresh window on the first hit and pins the key's TTL to
// the window length, so key absence means the window has rolled over.
var hitScript = redis.NewScript(`
local current = redis.call("INCR", KEYS[1])
if current == 1 then
  redis.call("PEXPIRE", KEYS[1], ARGV[1])
end
return current
`)

// touchScript records the hit only when the previous accepted hit is at
// least the configured gap old. ARGV: gap millis, now unix millis.
var touchScript = redis.NewScript(`
local last = redis.call("GET", KEYS[1])
if last and (tonumber(ARGV[2]) - tonumber(last)) < tonumber(ARGV[1]) then
  return 0
end
redis.call("SET", KEYS[1], ARGV[2], "PX", ARGV[1])
return 1
`)

// RedisStore implements CounterStore and RankStore on a shared Redis so many
// gate processes agree on counts and standings.
type RedisStore struct {
	client *redis.Client
	prefix string
}

// NewRedisStore constructs a RedisStore. Keys are namespaced by prefix when
// one is given.
func NewRedisStore(client *redis.Client, prefix string) *RedisStore {
	return &RedisStore{client: client, prefix: strings.TrimSpace(prefix)}
}

// Close releases the underlying client.
func (s *RedisStore) Close() error {
	if s == nil || s.client == nil {
		return nil
	}
	return s.client.Close()
}

// Ping verifies connectivity.
func (s *RedisStore) Ping(ctx context.Context) error {
	if s == nil || s.client == nil {
		return fmt.Errorf("%w: redis client not initialized", ErrUnavailable)
	}
	if errPing := s.client.Ping(ctx).Err(); errPing != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, errPing)
	}
	return nil
}

// Hit implements CounterStore.
func (s *RedisStore) Hit(ctx context.Context, key string, window time.Duration, _ time.Time) (int64, error) {
	res, errEval := hitScript.Run(ctx, s.client, []string{s.buildKey("c", key)}, window.Milliseconds()).Result()
	if errEval != nil {
		return 0, fmt.Errorf("%w: hit: %v", ErrUnavailable, errEval)
	}
	count, okCount := res.(int64)
	if !okCount {
		return 0, fmt.Errorf("%w: hit: unexpected response type %T", ErrUnavailable, res)
	}
	return count, nil
}

// Touch implements CounterStore.
func (s *RedisStore) Touch(ctx context.Context, key string, gap time.Duration, now time.Time) (bool, error) {
	res, errEval := touchScript.Run(ctx, s.client,
		[]string{s.buildKey("c", key)}, gap.Milliseconds(), now.UnixMilli()).Result()
	if errEval != nil {
		return false, fmt.Errorf("%w: touch: %v", ErrUnavailable, errEval)
	}
	accepted, okAccepted := res.(int64)
	if !okAccepted {
		return false, fmt.Errorf("%w: touch: unexpected response type %T", ErrUnavailable, res)
	}
	return accepted == 1, nil
}

// Reset implements CounterStore.
func (s *RedisStore) Reset(ctx context.Context, key string) error {
	if errDel := s.client.Del(ctx, s.buildKey("c", key)).Err(); errDel != nil {
		return fmt.Errorf("%w: reset: %v", ErrUnavailable, errDel)
	}
	return nil
}

// Standing implements RankStore. Standings are stored as JSON blobs with a
// TTL, the same shape the admin API reports.
func (s *RedisStore) Standing(ctx context.Context, key Key) (Standing, bool, error) {
	data, errGet := s.client.Get(ctx, s.buildKey("s", key.String())).Bytes()
	if errors.Is(errGet, redis.Nil) {
		return Standing{}, false, nil
	}
	if errGet != nil {
		return Standing{}, false, fmt.Errorf("%w: standing: %v", ErrUnavailable, errGet)
	}
	var standing Standing
	if errUnmarshal := json.Unmarshal(data, &standing); errUnmarshal != nil {
		return Standing{}, false, fmt.Errorf("store: decode standing: %w", errUnmarshal)
	}
	return standing, true, nil
}

// SaveStanding implements RankStore.
func (s *RedisStore) SaveStanding(ctx context.Context, key Key, standing Standing, ttl time.Duration) error {
	payload, errMarshal := json.Marshal(standing)
	if errMarshal != nil {
		return fmt.Errorf("store: encode standing: %w", errMarshal)
	}
	if errSet := s.client.Set(ctx, s.buildKey("s", key.String()), payload, ttl).Err(); errSet != nil {
		return fmt.Errorf("%w: save standing: %v", ErrUnavailable, errSet)
	}
	return nil
}

// DeleteStanding implements RankStore.
func (s *RedisStore) DeleteStanding(ctx context.Context, key Key) error {
	if errDel := s.client.Del(ctx, s.buildKey("s", key.String())).Err(); errDel != nil {
		return fmt.Errorf("%w: delete standing: %v", ErrUnavailable, errDel)
	}
	return nil
}

func (s *RedisStore) buildKey(kind, key string) string {
	if s.prefix == "" {
		return kind + ":" + key
	}
	return s.prefix + ":" + kind + ":" + key
}
