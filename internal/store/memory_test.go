package store

import (
	"context"
	"testing"
	"time"
)

func TestMemoryHitFixedOriginWindow(t *testing.T) {
	mem := NewMemoryStore()
	ctx := context.Background()
	origin := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	window := 10 * time.Second

	for want := int64(1); want <= 3; want++ {
		count, errHit := mem.Hit(ctx, "k", window, origin.Add(time.Duration(want)*time.Second))
		if errHit != nil {
			t.Fatalf("Hit() error = %v", errHit)
		}
		if count != want {
			t.Fatalf("Hit() = %d, want %d", count, want)
		}
	}

	// The window origin is the first hit, not the latest, so the count resets
	// exactly one window after the first hit.
	count, errHit := mem.Hit(ctx, "k", window, origin.Add(window+time.Second))
	if errHit != nil {
		t.Fatalf("Hit() error = %v", errHit)
	}
	if count != 1 {
		t.Fatalf("Hit() after window = %d, want fresh count 1", count)
	}
}

func TestMemoryTouchGapFromLastAccepted(t *testing.T) {
	mem := NewMemoryStore()
	ctx := context.Background()
	origin := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	gap := 10 * time.Second

	accepted, errTouch := mem.Touch(ctx, "k", gap, origin)
	if errTouch != nil || !accepted {
		t.Fatalf("Touch() = %v, %v, want accepted", accepted, errTouch)
	}

	// A rejected touch must not move the stored timestamp.
	accepted, errTouch = mem.Touch(ctx, "k", gap, origin.Add(5*time.Second))
	if errTouch != nil || accepted {
		t.Fatalf("Touch() inside gap = %v, %v, want rejected", accepted, errTouch)
	}
	accepted, errTouch = mem.Touch(ctx, "k", gap, origin.Add(gap))
	if errTouch != nil || !accepted {
		t.Fatalf("Touch() at gap from first accept = %v, %v, want accepted", accepted, errTouch)
	}
}

func TestMemoryResetClearsCounter(t *testing.T) {
	mem := NewMemoryStore()
	ctx := context.Background()
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	if _, errHit := mem.Hit(ctx, "k", time.Minute, now); errHit != nil {
		t.Fatalf("Hit() error = %v", errHit)
	}
	if _, errHit := mem.Hit(ctx, "k", time.Minute, now); errHit != nil {
		t.Fatalf("Hit() error = %v", errHit)
	}
	if errReset := mem.Reset(ctx, "k"); errReset != nil {
		t.Fatalf("Reset() error = %v", errReset)
	}
	count, errHit := mem.Hit(ctx, "k", time.Minute, now)
	if errHit != nil {
		t.Fatalf("Hit() error = %v", errHit)
	}
	if count != 1 {
		t.Fatalf("Hit() after reset = %d, want 1", count)
	}
}

func TestMemoryStandingRoundTrip(t *testing.T) {
	mem := NewMemoryStore()
	ctx := context.Background()
	key := Key{Endpoint: "GET /api", Group: "default", CallerID: "ip:10.0.0.1"}

	_, found, errGet := mem.Standing(ctx, key)
	if errGet != nil {
		t.Fatalf("Standing() error = %v", errGet)
	}
	if found {
		t.Fatal("Standing() found an absent key")
	}

	saved := Standing{Rank: 2, BlockedUntil: time.Now().Add(time.Minute)}
	if errSave := mem.SaveStanding(ctx, key, saved, time.Hour); errSave != nil {
		t.Fatalf("SaveStanding() error = %v", errSave)
	}
	got, found, errGet := mem.Standing(ctx, key)
	if errGet != nil || !found {
		t.Fatalf("Standing() = found %v, err %v", found, errGet)
	}
	if got.Rank != 2 || !got.BlockedUntil.Equal(saved.BlockedUntil) {
		t.Fatalf("Standing() = %+v, want %+v", got, saved)
	}

	if errDelete := mem.DeleteStanding(ctx, key); errDelete != nil {
		t.Fatalf("DeleteStanding() error = %v", errDelete)
	}
	_, found, errGet = mem.Standing(ctx, key)
	if errGet != nil {
		t.Fatalf("Standing() error = %v", errGet)
	}
	if found {
		t.Fatal("Standing() found a deleted key")
	}
}

func TestStandingPredicates(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	var zero Standing
	if zero.Blocked(now) || zero.Exempt(now) || !zero.Zero() {
		t.Fatalf("zero standing predicates wrong: %+v", zero)
	}

	blocked := Standing{BlockedUntil: now.Add(time.Minute)}
	if !blocked.Blocked(now) {
		t.Fatal("standing with future deadline should block")
	}
	if blocked.Blocked(now.Add(time.Minute)) {
		t.Fatal("block deadline is exclusive")
	}

	byTimes := Standing{IgnoreTimes: 1}
	if !byTimes.Exempt(now) {
		t.Fatal("remaining ignore budget should exempt")
	}
	byUntil := Standing{IgnoreUntil: now.Add(time.Minute)}
	if !byUntil.Exempt(now) || byUntil.Exempt(now.Add(2*time.Minute)) {
		t.Fatal("deadline exemption bounds wrong")
	}
}

func TestKeyStrings(t *testing.T) {
	key := Key{Endpoint: "GET /api", Group: "default", CallerID: "ip:10.0.0.1"}
	if got := key.String(); got != "e:GET /api:g:default:u:ip_10.0.0.1" {
		t.Fatalf("Key.String() = %q", got)
	}
	if got := EndpointKey("GET /api").String(); got != "e:GET /api" {
		t.Fatalf("EndpointKey().String() = %q", got)
	}
	if got := CounterKey(key, 1, 2); got != "e:GET /api:g:default:u:ip_10.0.0.1:r:1:i:2" {
		t.Fatalf("CounterKey() = %q", got)
	}
}
