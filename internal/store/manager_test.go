package store

import (
	"context"
	"testing"
	"time"
)

func TestManagerFallsBackWhenRedisDisabled(t *testing.T) {
	mem := NewMemoryStore()
	manager := NewManager(func() RedisSettings { return RedisSettings{} }, Stores{Counters: mem, Ranks: mem}, nil, nil)

	backends := manager.Stores(context.Background())
	if backends.Counters != CounterStore(mem) {
		t.Fatal("Counters should be the fallback store when redis is disabled")
	}
	if backends.Ranks != RankStore(mem) {
		t.Fatal("Ranks should be the fallback store when redis is disabled")
	}
}

func TestManagerTripsBreakerOnConnectFailure(t *testing.T) {
	mem := NewMemoryStore()
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	nowFn := func() time.Time { return now }

	// Enabled without an address cannot connect, so the breaker trips and the
	// fallback serves.
	manager := NewManager(func() RedisSettings {
		return RedisSettings{Enabled: true}
	}, Stores{Counters: mem, Ranks: mem}, nowFn, nil)

	if got := manager.Counters(context.Background()); got != CounterStore(mem) {
		t.Fatal("Counters should fall back when redis cannot connect")
	}
	if !manager.isBreakerActive(now.Add(redisBreakerDuration - time.Second)) {
		t.Fatal("breaker should stay active inside the breaker window")
	}
	if manager.isBreakerActive(now.Add(redisBreakerDuration)) {
		t.Fatal("breaker should clear once the window elapses")
	}
}

func TestManagerBreakerSkipsRedisWhileActive(t *testing.T) {
	mem := NewMemoryStore()
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	calls := 0
	manager := NewManager(func() RedisSettings {
		calls++
		return RedisSettings{Enabled: true}
	}, Stores{Counters: mem, Ranks: mem}, func() time.Time { return now }, nil)

	manager.Counters(context.Background())
	connectAttempts := calls

	// While the breaker is active the manager serves the fallback without
	// re-dialing.
	manager.Counters(context.Background())
	if calls != connectAttempts+1 {
		t.Fatalf("provider calls = %d, want %d", calls, connectAttempts+1)
	}
	if !manager.isBreakerActive(now.Add(time.Second)) {
		t.Fatal("breaker should be active after a failed connect")
	}
}

func TestManagerCloseWithoutRedis(t *testing.T) {
	mem := NewMemoryStore()
	manager := NewManager(nil, Stores{Counters: mem, Ranks: mem}, nil, nil)
	if errClose := manager.Close(); errClose != nil {
		t.Fatalf("Close() error = %v", errClose)
	}
}
