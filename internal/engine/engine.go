// Package engine implements the admission-control decision engine: it turns
// a caller identity, an escalation ladder, and stored counters into an
// allow/block verdict and keeps the caller's standing up to date.
package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rankgate/rankgate/internal/identity"
	"github.com/rankgate/rankgate/internal/rule"
	"github.com/rankgate/rankgate/internal/store"
	log "github.com/sirupsen/logrus"
)

// DefaultStandingTTL is the advisory retention for caller standings. Stale
// offenders fall back to rank zero once their standing expires server-side.
const DefaultStandingTTL = time.Hour

// ErrIdentityMissing indicates an identity with no usable unique id reached
// the engine. The host is expected to reject such requests earlier.
var ErrIdentityMissing = errors.New("engine: caller identity missing")

// Verdict is the outcome of one evaluation. Rule carries the snapshot of the
// rule that caused (or originally caused) the block; it is nil when allowed.
type Verdict struct {
	Allowed      bool
	RetryAfter   time.Duration
	BlockedUntil time.Time
	Rule         *rule.Snapshot
}

// BlockRecord describes one breach for auditing.
type BlockRecord struct {
	Key       store.Key
	RankIndex int
	Rule      rule.Snapshot
	At        time.Time
}

// Sink receives breach records. Implementations must not block evaluation
// on slow backends.
type Sink interface {
	RecordBlock(ctx context.Context, record BlockRecord)
}

// StoreProvider yields the stores to use for one evaluation. A provider may
// switch backends between calls (see store.Manager); within one evaluation
// the same pair is used throughout.
type StoreProvider interface {
	Stores(ctx context.Context) store.Stores
}

// Static adapts a fixed store pair into a StoreProvider.
type Static store.Stores

// Stores implements StoreProvider.
func (s Static) Stores(context.Context) store.Stores { return store.Stores(s) }

// Option configures an Engine.
type Option func(*Engine)

// WithClock overrides the engine clock, used by tests.
func WithClock(nowFn func() time.Time) Option {
	return func(e *Engine) { e.nowFn = nowFn }
}

// WithStandingTTL overrides the advisory standing retention.
func WithStandingTTL(ttl time.Duration) Option {
	return func(e *Engine) { e.standingTTL = ttl }
}

// WithSink attaches a breach sink.
func WithSink(sink Sink) Option {
	return func(e *Engine) { e.sink = sink }
}

// Engine evaluates escalation ladders against shared stores. It holds no
// per-request mutable state; concurrent evaluations coordinate only through
// the stores' per-key atomicity.
type Engine struct {
	provider    StoreProvider
	standingTTL time.Duration
	nowFn       func() time.Time
	sink        Sink
}

// New constructs an Engine.
func New(provider StoreProvider, opts ...Option) *Engine {
	e := &Engine{
		provider:    provider,
		standingTTL: DefaultStandingTTL,
		nowFn:       time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Evaluate decides whether the identified caller may perform the operation
// named by endpointKey, updating counters and standing as a side effect.
// Store failures propagate; deciding whether to then admit or reject is the
// host's policy, not the engine's.
func (e *Engine) Evaluate(ctx context.Context, id identity.Identity, ladder rule.Ladder, endpointKey string) (Verdict, error) {
	if !id.Valid() {
		return Verdict{}, ErrIdentityMissing
	}
	if len(ladder) == 0 {
		return Verdict{}, rule.ErrEmptyLadder
	}

	now := e.nowFn()
	key := store.Key{Endpoint: endpointKey, Group: id.Group, CallerID: id.UniqueID}
	backends := e.provider.Stores(ctx)

	standing, found, errStanding := backends.Ranks.Standing(ctx, key)
	if errStanding != nil {
		return Verdict{}, errStanding
	}

	// An active block wins over everything. No counters are touched and no
	// further escalation happens, so repeated requests during the window are
	// rejected idempotently with the original deadline.
	if standing.Blocked(now) {
		log.WithFields(log.Fields{
			"endpoint": endpointKey,
			"caller":   id.UniqueID,
			"until":    standing.BlockedUntil,
		}).Debug("engine: caller still blocked")
		return Verdict{
			Allowed:      false,
			RetryAfter:   standing.BlockedUntil.Sub(now),
			BlockedUntil: standing.BlockedUntil,
			Rule:         standing.BlockedBy,
		}, nil
	}

	exempt, errExempt := e.consumeExemption(ctx, backends.Ranks, key, standing, found, now)
	if errExempt != nil {
		return Verdict{}, errExempt
	}
	if exempt {
		return Verdict{Allowed: true}, nil
	}

	rankIndex := ladder.Clamp(standing.Rank)
	applicable := ladder[rankIndex].RulesFor(id.Group)
	if len(applicable) == 0 {
		return Verdict{Allowed: true}, nil
	}

	// Every applicable rule is evaluated and its counters updated, even after
	// a breach is already known, so counters stay accurate for later requests.
	var breached []rule.Rule
	for _, entry := range applicable {
		counterKey := store.CounterKey(key, rankIndex, entry.Index)
		hit, errRule := e.evaluateRule(ctx, backends.Counters, entry.Rule, counterKey, now)
		if errRule != nil {
			return Verdict{}, errRule
		}
		if hit {
			breached = append(breached, entry.Rule)
		}
	}
	if len(breached) == 0 {
		return Verdict{Allowed: true}, nil
	}

	worst := breached[0]
	escalate := false
	for _, r := range breached {
		if r.BlockTime > worst.BlockTime {
			worst = r
		}
		if !r.NoEscalate {
			escalate = true
		}
	}

	if escalate && standing.Rank+1 < len(ladder) {
		standing.Rank++
	}
	snapshot := worst.Snap()
	standing.BlockedUntil = now.Add(worst.BlockTime)
	standing.BlockedBy = &snapshot

	if errSave := backends.Ranks.SaveStanding(ctx, key, standing, e.standingTTL); errSave != nil {
		return Verdict{}, errSave
	}

	log.WithFields(log.Fields{
		"endpoint": endpointKey,
		"caller":   id.UniqueID,
		"group":    id.Group,
		"rank":     standing.Rank,
		"mode":     snapshot.Mode,
		"block":    worst.BlockTime,
	}).Debug("engine: caller blocked")

	if e.sink != nil {
		e.sink.RecordBlock(ctx, BlockRecord{
			Key:       key,
			RankIndex: rankIndex,
			Rule:      snapshot,
			At:        now,
		})
	}

	return Verdict{
		Allowed:      false,
		RetryAfter:   worst.BlockTime,
		BlockedUntil: standing.BlockedUntil,
		Rule:         &snapshot,
	}, nil
}

// evaluateRule applies one rule against the counter store and reports
// whether it breached.
func (e *Engine) evaluateRule(ctx context.Context, counters store.CounterStore, r rule.Rule, key string, now time.Time) (bool, error) {
	switch r.Mode() {
	case rule.ModeDelay:
		accepted, errTouch := counters.Touch(ctx, key, r.Delay, now)
		if errTouch != nil {
			return false, errTouch
		}
		return !accepted, nil
	case rule.ModeCount:
		count, errHit := counters.Hit(ctx, key, r.BatchTime, now)
		if errHit != nil {
			return false, errHit
		}
		return count > int64(r.Hits), nil
	default:
		return false, fmt.Errorf("%w: unknown mode", rule.ErrInvalidRule)
	}
}

// consumeExemption applies endpoint-wide and per-caller exemptions. A
// by-count exemption is decremented as it admits the request.
func (e *Engine) consumeExemption(ctx context.Context, ranks store.RankStore, key store.Key, callerStanding store.Standing, callerFound bool, now time.Time) (bool, error) {
	endpointKey := store.EndpointKey(key.Endpoint)
	endpointStanding, endpointFound, errEndpoint := ranks.Standing(ctx, endpointKey)
	if errEndpoint != nil {
		return false, errEndpoint
	}
	if endpointFound && endpointStanding.Exempt(now) {
		if endpointStanding.IgnoreTimes > 0 {
			endpointStanding.IgnoreTimes--
			if errSave := ranks.SaveStanding(ctx, endpointKey, endpointStanding, e.standingTTL); errSave != nil {
				return false, errSave
			}
		}
		return true, nil
	}
	if callerFound && callerStanding.Exempt(now) {
		if callerStanding.IgnoreTimes > 0 {
			callerStanding.IgnoreTimes--
			if errSave := ranks.SaveStanding(ctx, key, callerStanding, e.standingTTL); errSave != nil {
				return false, errSave
			}
		}
		return true, nil
	}
	return false, nil
}
