// Package store defines the storage contracts the decision engine runs
// against, with in-memory, Redis, and database-backed implementations.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/rankgate/rankgate/internal/rule"
)

// ErrUnavailable wraps backend failures so callers can tell storage outages
// apart from decision outcomes. The engine propagates it without deciding
// whether to fail open or closed.
var ErrUnavailable = errors.New("store: unavailable")

// CounterStore keeps per-rule counters and timestamps. Each operation is
// atomic per key under concurrent callers; two simultaneous requests must
// never both observe a stale count.
type CounterStore interface {
	// Hit records a hit for a count-mode rule and returns the hit count
	// inside the current window. When the key is absent or the stored window
	// origin is at least window old, a fresh window starts at now with count
	// one. Keys self-expire a window after their origin.
	Hit(ctx context.Context, key string, window time.Duration, now time.Time) (int64, error)

	// Touch records now as the last accepted hit for a delay-mode rule when
	// the previous accepted hit is at least gap old (or absent) and reports
	// whether the hit was accepted. A rejected hit leaves the stored
	// timestamp unchanged so the gap is measured from the last accepted
	// request. Keys self-expire gap after the stored timestamp.
	Touch(ctx context.Context, key string, gap time.Duration, now time.Time) (bool, error)

	// Reset drops the counter state for a key.
	Reset(ctx context.Context, key string) error
}

// Standing is the persisted rank state of one caller on one endpoint.
// An absent standing behaves as the zero value: rank zero, not blocked,
// not exempt.
type Standing struct {
	Rank         int            `json:"rank"`
	BlockedUntil time.Time      `json:"blocked_until,omitzero"`
	BlockedBy    *rule.Snapshot `json:"blocked_by,omitempty"`

	// Exemptions bypass rule evaluation while active. IgnoreTimes is a
	// remaining-request budget, IgnoreUntil a deadline; either grants the
	// exemption on its own.
	IgnoreTimes int       `json:"ignore_times,omitempty"`
	IgnoreUntil time.Time `json:"ignore_until,omitzero"`
}

// Blocked reports whether the standing blocks requests at the given instant.
func (s Standing) Blocked(now time.Time) bool {
	return !s.BlockedUntil.IsZero() && now.Before(s.BlockedUntil)
}

// Exempt reports whether the standing exempts requests at the given instant.
func (s Standing) Exempt(now time.Time) bool {
	if s.IgnoreTimes > 0 {
		return true
	}
	return !s.IgnoreUntil.IsZero() && !now.After(s.IgnoreUntil)
}

// Zero reports whether the standing carries no state worth persisting.
func (s Standing) Zero() bool {
	return s.Rank == 0 && s.BlockedUntil.IsZero() && s.BlockedBy == nil &&
		s.IgnoreTimes == 0 && s.IgnoreUntil.IsZero()
}

// RankStore persists caller standings keyed by (endpoint, group, unique id).
// TTL is advisory cleanup for stale offenders, not a correctness mechanism.
type RankStore interface {
	// Standing loads the standing for a key; found is false when the key is
	// absent, in which case the zero standing applies.
	Standing(ctx context.Context, key Key) (standing Standing, found bool, err error)

	// SaveStanding stores the standing under the key with the given TTL.
	SaveStanding(ctx context.Context, key Key, standing Standing, ttl time.Duration) error

	// DeleteStanding removes the standing, restoring the caller to rank zero.
	DeleteStanding(ctx context.Context, key Key) error
}

// Stores bundles the two contracts a backend provides.
type Stores struct {
	Counters CounterStore
	Ranks    RankStore
}
