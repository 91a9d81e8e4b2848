package store

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"
)

const redisBreakerDuration = 30 * time.Second

// RedisSettings describes the Redis backend selection.
type RedisSettings struct {
	Enabled  bool
	Addr     string
	Password string
	DB       int
	Prefix   string
}

// SettingsProvider supplies the latest Redis settings snapshot.
type SettingsProvider func() RedisSettings

// RedisClientFactory constructs a Redis client for the given options.
type RedisClientFactory func(options *redis.Options) *redis.Client

// Manager selects the storage backend for each operation. When Redis is
// enabled it is preferred; on failure a breaker trips and operations fall
// back to the local stores for a while. The fallback is a host-level
// availability policy, the decision engine itself never falls back.
type Manager struct {
	provider       SettingsProvider
	nowFn          func() time.Time
	fallback       Stores
	newRedisClient RedisClientFactory

	mu           sync.Mutex
	redisStore   *RedisStore
	redisCfg     RedisSettings
	breakerUntil time.Time
}

// NewManager constructs a Manager with default dependencies when nil.
// fallback must carry usable local stores.
func NewManager(provider SettingsProvider, fallback Stores, nowFn func() time.Time, newRedisClient RedisClientFactory) *Manager {
	if provider == nil {
		provider = func() RedisSettings { return RedisSettings{} }
	}
	if nowFn == nil {
		nowFn = time.Now
	}
	if newRedisClient == nil {
		newRedisClient = redis.NewClient
	}
	return &Manager{
		provider:       provider,
		nowFn:          nowFn,
		fallback:       fallback,
		newRedisClient: newRedisClient,
	}
}

// Counters returns the counter store to use for the next operation.
func (m *Manager) Counters(ctx context.Context) CounterStore {
	if redisStore := m.pickRedis(ctx); redisStore != nil {
		return &breakerCounters{manager: m, store: redisStore}
	}
	return m.fallback.Counters
}

// Ranks returns the rank store to use for the next operation.
func (m *Manager) Ranks(ctx context.Context) RankStore {
	if redisStore := m.pickRedis(ctx); redisStore != nil {
		return &breakerRanks{manager: m, store: redisStore}
	}
	return m.fallback.Ranks
}

// Stores returns the backend pair for the next operation.
func (m *Manager) Stores(ctx context.Context) Stores {
	return Stores{Counters: m.Counters(ctx), Ranks: m.Ranks(ctx)}
}

// Close releases any held Redis client.
func (m *Manager) Close() error {
	if m == nil {
		return nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.redisStore != nil {
		errClose := m.redisStore.Close()
		m.redisStore = nil
		return errClose
	}
	return nil
}

func (m *Manager) pickRedis(ctx context.Context) *RedisStore {
	if m == nil {
		return nil
	}
	cfg := m.provider()
	if !cfg.Enabled {
		return nil
	}
	now := m.nowFn()
	if m.isBreakerActive(now) {
		return nil
	}
	redisStore, errEnsure := m.ensureRedis(ctx, cfg)
	if errEnsure != nil {
		m.tripBreaker(errEnsure, now)
		return nil
	}
	return redisStore
}

func (m *Manager) isBreakerActive(now time.Time) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.breakerUntil.IsZero() {
		return false
	}
	if now.Before(m.breakerUntil) {
		return true
	}
	m.breakerUntil = time.Time{}
	return false
}

func (m *Manager) tripBreaker(err error, now time.Time) {
	if err == nil || m == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.breakerUntil.IsZero() && now.Before(m.breakerUntil) {
		return
	}
	m.breakerUntil = now.Add(redisBreakerDuration)
	log.WithError(err).Warn("store: redis unavailable, falling back to local stores")
}

func (m *Manager) ensureRedis(ctx context.Context, cfg RedisSettings) (*RedisStore, error) {
	addr := strings.TrimSpace(cfg.Addr)
	if addr == "" {
		return nil, errors.New("store: redis enabled without address")
	}

	next := RedisSettings{
		Enabled:  true,
		Addr:     addr,
		Password: strings.TrimSpace(cfg.Password),
		DB:       cfg.DB,
		Prefix:   strings.TrimSpace(cfg.Prefix),
	}
	if next.DB < 0 {
		next.DB = 0
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.redisStore != nil && m.redisCfg == next {
		return m.redisStore, nil
	}
	if m.redisStore != nil {
		_ = m.redisStore.Close()
		m.redisStore = nil
	}

	client := m.newRedisClient(&redis.Options{
		Addr:     next.Addr,
		Password: next.Password,
		DB:       next.DB,
	})
	ctxPing, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if errPing := client.Ping(ctxPing).Err(); errPing != nil {
		_ = client.Close()
		return nil, errPing
	}
	m.redisStore = NewRedisStore(client, next.Prefix)
	m.redisCfg = next
	return m.redisStore, nil
}

// breakerCounters trips the manager's breaker when a Redis operation fails,
// while still surfacing the failure to the caller for this request.
type breakerCounters struct {
	manager *Manager
	store   *RedisStore
}

func (b *breakerCounters) Hit(ctx context.Context, key string, window time.Duration, now time.Time) (int64, error) {
	count, errHit := b.store.Hit(ctx, key, window, now)
	if errHit != nil {
		b.manager.tripBreaker(errHit, b.manager.nowFn())
	}
	return count, errHit
}

func (b *breakerCounters) Touch(ctx context.Context, key string, gap time.Duration, now time.Time) (bool, error) {
	ok, errTouch := b.store.Touch(ctx, key, gap, now)
	if errTouch != nil {
		b.manager.tripBreaker(errTouch, b.manager.nowFn())
	}
	return ok, errTouch
}

func (b *breakerCounters) Reset(ctx context.Context, key string) error {
	errReset := b.store.Reset(ctx, key)
	if errReset != nil {
		b.manager.tripBreaker(errReset, b.manager.nowFn())
	}
	return errReset
}

type breakerRanks struct {
	manager *Manager
	store   *RedisStore
}

func (b *breakerRanks) Standing(ctx context.Context, key Key) (Standing, bool, error) {
	standing, found, errGet := b.store.Standing(ctx, key)
	if errGet != nil {
		b.manager.tripBreaker(errGet, b.manager.nowFn())
	}
	return standing, found, errGet
}

func (b *breakerRanks) SaveStanding(ctx context.Context, key Key, standing Standing, ttl time.Duration) error {
	errSave := b.store.SaveStanding(ctx, key, standing, ttl)
	if errSave != nil {
		b.manager.tripBreaker(errSave, b.manager.nowFn())
	}
	return errSave
}

func (b *breakerRanks) DeleteStanding(ctx context.Context, key Key) error {
	errDelete := b.store.DeleteStanding(ctx, key)
	if errDelete != nil {
		b.manager.tripBreaker(errDelete, b.manager.nowFn())
	}
	return errDelete
}
