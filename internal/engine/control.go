package engine

import (
	"context"
	"time"

	"github.com/rankgate/rankgate/internal/rule"
	"github.com/rankgate/rankgate/internal/store"
)

// Inspect returns the persisted standing for a key.
func (e *Engine) Inspect(ctx context.Context, key store.Key) (store.Standing, bool, error) {
	return e.provider.Stores(ctx).Ranks.Standing(ctx, key)
}

// SetRank pins a caller's rank, clamped at zero. The active block window, if
// any, is preserved.
func (e *Engine) SetRank(ctx context.Context, key store.Key, rank int) error {
	ranks := e.provider.Stores(ctx).Ranks
	standing, _, errStanding := ranks.Standing(ctx, key)
	if errStanding != nil {
		return errStanding
	}
	if rank < 0 {
		rank = 0
	}
	standing.Rank = rank
	return ranks.SaveStanding(ctx, key, standing, e.standingTTL)
}

// ResetRank returns a caller to the least strict rank.
func (e *Engine) ResetRank(ctx context.Context, key store.Key) error {
	return e.SetRank(ctx, key, 0)
}

// Block imposes a manual block for the given duration without touching the
// caller's rank.
func (e *Engine) Block(ctx context.Context, key store.Key, d time.Duration, reason, message string) error {
	ranks := e.provider.Stores(ctx).Ranks
	standing, _, errStanding := ranks.Standing(ctx, key)
	if errStanding != nil {
		return errStanding
	}
	if reason == "" {
		reason = "blocked by operator"
	}
	standing.BlockedUntil = e.nowFn().Add(d)
	standing.BlockedBy = &rule.Snapshot{
		Mode:      rule.ModeCount,
		BlockTime: d,
		Reason:    reason,
		Message:   message,
	}
	return ranks.SaveStanding(ctx, key, standing, e.standingTTL)
}

// Unblock lifts an active block window, leaving rank and exemptions intact.
func (e *Engine) Unblock(ctx context.Context, key store.Key) error {
	ranks := e.provider.Stores(ctx).Ranks
	standing, found, errStanding := ranks.Standing(ctx, key)
	if errStanding != nil {
		return errStanding
	}
	if !found {
		return nil
	}
	standing.BlockedUntil = time.Time{}
	standing.BlockedBy = nil
	if standing.Zero() {
		return ranks.DeleteStanding(ctx, key)
	}
	return ranks.SaveStanding(ctx, key, standing, e.standingTTL)
}

// Exempt grants an exemption for a number of requests, until a deadline, or
// both. Use store.EndpointKey to exempt every caller on an endpoint.
func (e *Engine) Exempt(ctx context.Context, key store.Key, times int, until time.Time) error {
	ranks := e.provider.Stores(ctx).Ranks
	standing, _, errStanding := ranks.Standing(ctx, key)
	if errStanding != nil {
		return errStanding
	}
	if times < 0 {
		times = 0
	}
	standing.IgnoreTimes = times
	standing.IgnoreUntil = until
	ttl := e.standingTTL
	if !until.IsZero() {
		if remaining := until.Sub(e.nowFn()); remaining > ttl {
			ttl = remaining
		}
	}
	return ranks.SaveStanding(ctx, key, standing, ttl)
}

// Forget deletes a caller's standing entirely, restoring rank zero.
func (e *Engine) Forget(ctx context.Context, key store.Key) error {
	return e.provider.Stores(ctx).Ranks.DeleteStanding(ctx, key)
}
