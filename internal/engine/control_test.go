package engine

import (
	"context"
	"testing"
	"time"

	"github.com/rankgate/rankgate/internal/rule"
	"github.com/rankgate/rankgate/internal/store"
)

func TestManualBlockAndUnblock(t *testing.T) {
	eng, clock := newTestEngine(t)
	ladder := rule.Ladder{rule.NewRank(countRule(100, time.Minute, time.Minute))}
	id := caller("key:abuser")
	key := store.Key{Endpoint: "GET /api", Group: id.Group, CallerID: id.UniqueID}

	if errBlock := eng.Block(context.Background(), key, time.Hour, "abuse report", "contact support"); errBlock != nil {
		t.Fatalf("Block() error = %v", errBlock)
	}

	verdict := mustBlock(t, eng, id, ladder)
	if verdict.Rule == nil || verdict.Rule.Reason != "abuse report" {
		t.Fatalf("verdict rule = %+v, want manual reason", verdict.Rule)
	}
	if !verdict.BlockedUntil.Equal(clock.Now().Add(time.Hour)) {
		t.Fatalf("BlockedUntil = %v, want one hour out", verdict.BlockedUntil)
	}

	if errUnblock := eng.Unblock(context.Background(), key); errUnblock != nil {
		t.Fatalf("Unblock() error = %v", errUnblock)
	}
	mustAllow(t, eng, id, ladder)
}

func TestManualBlockDefaultReason(t *testing.T) {
	eng, _ := newTestEngine(t)
	key := store.Key{Endpoint: "GET /api", Group: "default", CallerID: "key:x"}

	if errBlock := eng.Block(context.Background(), key, time.Minute, "", ""); errBlock != nil {
		t.Fatalf("Block() error = %v", errBlock)
	}
	standing, found, errInspect := eng.Inspect(context.Background(), key)
	if errInspect != nil || !found {
		t.Fatalf("Inspect() = found %v, err %v", found, errInspect)
	}
	if standing.BlockedBy == nil || standing.BlockedBy.Reason != "blocked by operator" {
		t.Fatalf("BlockedBy = %+v, want operator default reason", standing.BlockedBy)
	}
}

func TestSetRankPinsAndClamps(t *testing.T) {
	eng, _ := newTestEngine(t)
	ladder := rule.Ladder{
		rule.NewRank(countRule(100, time.Minute, time.Second)),
		rule.NewRank(countRule(1, time.Minute, time.Minute)),
	}
	id := caller("key:pinned")
	key := store.Key{Endpoint: "GET /api", Group: id.Group, CallerID: id.UniqueID}

	if errRank := eng.SetRank(context.Background(), key, 1); errRank != nil {
		t.Fatalf("SetRank() error = %v", errRank)
	}
	mustAllow(t, eng, id, ladder)
	verdict := mustBlock(t, eng, id, ladder)
	if verdict.RetryAfter != time.Minute {
		t.Fatalf("RetryAfter = %v, want rank one penalty", verdict.RetryAfter)
	}

	if errRank := eng.SetRank(context.Background(), key, -3); errRank != nil {
		t.Fatalf("SetRank() error = %v", errRank)
	}
	standing, _, errInspect := eng.Inspect(context.Background(), key)
	if errInspect != nil {
		t.Fatalf("Inspect() error = %v", errInspect)
	}
	if standing.Rank != 0 {
		t.Fatalf("Rank = %d, want clamped to 0", standing.Rank)
	}
}

func TestForgetRestoresRankZero(t *testing.T) {
	eng, clock := newTestEngine(t)
	ladder := rule.Ladder{
		rule.NewRank(countRule(1, 10*time.Second, time.Second)),
		rule.NewRank(countRule(1, 10*time.Second, time.Hour)),
	}
	id := caller("key:forgiven")
	key := store.Key{Endpoint: "GET /api", Group: id.Group, CallerID: id.UniqueID}

	mustAllow(t, eng, id, ladder)
	mustBlock(t, eng, id, ladder)
	clock.Advance(2 * time.Second)

	if errForget := eng.Forget(context.Background(), key); errForget != nil {
		t.Fatalf("Forget() error = %v", errForget)
	}
	clock.Advance(11 * time.Second)
	mustAllow(t, eng, id, ladder)
	verdict := mustBlock(t, eng, id, ladder)
	if verdict.RetryAfter != time.Second {
		t.Fatalf("RetryAfter = %v, want rank zero penalty after forget", verdict.RetryAfter)
	}
}
