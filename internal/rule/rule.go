// Package rule defines the limiting rules, rule groups, and the escalation
// ladder evaluated by the decision engine.
package rule

import (
	"errors"
	"fmt"
	"time"
)

// Mode identifies which limiting condition a rule enforces.
type Mode string

const (
	// ModeCount limits the number of hits inside a fixed-origin window.
	ModeCount Mode = "count"
	// ModeDelay enforces a minimum gap between accepted requests.
	ModeDelay Mode = "delay"
)

// ErrInvalidRule indicates a rule whose fields do not describe exactly one mode.
var ErrInvalidRule = errors.New("rule: invalid rule")

// ErrEmptyLadder indicates a ladder with no ranks.
var ErrEmptyLadder = errors.New("rule: ladder has no ranks")

// Rule is a single limiting condition plus its penalty.
//
// Exactly one of the two modes must be configured: Hits+BatchTime (count
// mode) or Delay (delay mode). BlockTime is always required and is the
// duration the caller is blocked once the rule is breached.
type Rule struct {
	Hits      int           `json:"hits,omitempty"`
	BatchTime time.Duration `json:"batch_time,omitempty"`
	Delay     time.Duration `json:"delay,omitempty"`
	BlockTime time.Duration `json:"block_time"`

	// NoEscalate keeps the caller's rank unchanged when this rule breaches.
	// The zero value escalates, which is the normal behavior.
	NoEscalate bool `json:"no_escalate,omitempty"`

	// Message and Reason are returned to the client when this rule blocks.
	// Reason falls back to DefaultReason when empty.
	Message string `json:"message,omitempty"`
	Reason  string `json:"reason,omitempty"`

	// Groups restricts the rule to the listed caller groups. Empty means the
	// rule applies to every group.
	Groups []string `json:"groups,omitempty"`
}

// Mode returns the limiting mode the rule is configured for.
func (r Rule) Mode() Mode {
	if r.Delay > 0 {
		return ModeDelay
	}
	return ModeCount
}

// AppliesTo reports whether the rule affects callers in the given group.
func (r Rule) AppliesTo(group string) bool {
	if len(r.Groups) == 0 {
		return true
	}
	for _, g := range r.Groups {
		if g == group {
			return true
		}
	}
	return false
}

// Validate checks that the rule describes exactly one limiting mode with
// positive parameters.
func (r Rule) Validate() error {
	hasCount := r.Hits != 0 || r.BatchTime != 0
	hasDelay := r.Delay != 0

	if hasCount && hasDelay {
		return fmt.Errorf("%w: both count and delay fields set", ErrInvalidRule)
	}
	if !hasCount && !hasDelay {
		return fmt.Errorf("%w: neither count nor delay fields set", ErrInvalidRule)
	}
	if hasCount {
		if r.Hits <= 0 {
			return fmt.Errorf("%w: hits must be greater than zero", ErrInvalidRule)
		}
		if r.BatchTime <= 0 {
			return fmt.Errorf("%w: batch time must be greater than zero", ErrInvalidRule)
		}
	}
	if hasDelay && r.Delay <= 0 {
		return fmt.Errorf("%w: delay must be greater than zero", ErrInvalidRule)
	}
	if r.BlockTime <= 0 {
		return fmt.Errorf("%w: block time must be greater than zero", ErrInvalidRule)
	}
	return nil
}

// DefaultReason builds the reason string reported for a breach of the rule.
func (r Rule) DefaultReason() string {
	if r.Reason != "" {
		return r.Reason
	}
	if r.Mode() == ModeDelay {
		return "delay between requests exceeded"
	}
	return "max hits per time exceeded"
}

// Rank is one tier of the escalation ladder: a group of rules evaluated
// together with AND semantics.
type Rank struct {
	Rules []Rule
}

// NewRank wraps one or more rules into a rank. A single rule is the common
// case and stands for a group of size one.
func NewRank(rules ...Rule) Rank {
	return Rank{Rules: rules}
}

// RulesFor returns the subset of the rank's rules affecting the given caller
// group, keeping each rule's position inside the rank.
func (k Rank) RulesFor(group string) []Indexed {
	out := make([]Indexed, 0, len(k.Rules))
	for i, r := range k.Rules {
		if r.AppliesTo(group) {
			out = append(out, Indexed{Index: i, Rule: r})
		}
	}
	return out
}

// Indexed pairs a rule with its position inside a rank. Counter keys embed
// the position so every rule keeps independent counters.
type Indexed struct {
	Index int
	Rule  Rule
}

// Ladder is an ordered list of ranks, least strict first. A caller's rank
// index is clamped to the last rank once the ladder is exhausted.
type Ladder []Rank

// Validate checks every rule of every rank and rejects an empty ladder.
func (l Ladder) Validate() error {
	if len(l) == 0 {
		return ErrEmptyLadder
	}
	for i, rank := range l {
		if len(rank.Rules) == 0 {
			return fmt.Errorf("rule: rank %d has no rules", i)
		}
		for j, r := range rank.Rules {
			if errRule := r.Validate(); errRule != nil {
				return fmt.Errorf("rank %d rule %d: %w", i, j, errRule)
			}
		}
	}
	return nil
}

// Clamp returns a valid rank index for the ladder, pinning indexes past the
// end to the last rank.
func (l Ladder) Clamp(index int) int {
	if index < 0 {
		return 0
	}
	if index >= len(l) {
		return len(l) - 1
	}
	return index
}

// Snapshot is the persisted shape of the rule that caused a block. It is
// stored with the caller's standing so requests arriving during the block
// window report the original reason without re-evaluating rules.
type Snapshot struct {
	Mode      Mode          `json:"mode"`
	Hits      int           `json:"hits,omitempty"`
	BatchTime time.Duration `json:"batch_time,omitempty"`
	Delay     time.Duration `json:"delay,omitempty"`
	BlockTime time.Duration `json:"block_time"`
	Reason    string        `json:"reason,omitempty"`
	Message   string        `json:"message,omitempty"`
}

// Snap captures the persisted shape of the rule.
func (r Rule) Snap() Snapshot {
	return Snapshot{
		Mode:      r.Mode(),
		Hits:      r.Hits,
		BatchTime: r.BatchTime,
		Delay:     r.Delay,
		BlockTime: r.BlockTime,
		Reason:    r.DefaultReason(),
		Message:   r.Message,
	}
}
