package rule

import (
	"errors"
	"testing"
	"time"
)

func TestRuleValidate(t *testing.T) {
	cases := []struct {
		name    string
		rule    Rule
		wantErr bool
	}{
		{"count mode", Rule{Hits: 5, BatchTime: time.Minute, BlockTime: time.Minute}, false},
		{"delay mode", Rule{Delay: time.Second, BlockTime: time.Minute}, false},
		{"both modes", Rule{Hits: 5, BatchTime: time.Minute, Delay: time.Second, BlockTime: time.Minute}, true},
		{"neither mode", Rule{BlockTime: time.Minute}, true},
		{"zero hits", Rule{BatchTime: time.Minute, BlockTime: time.Minute}, true},
		{"negative hits", Rule{Hits: -1, BatchTime: time.Minute, BlockTime: time.Minute}, true},
		{"missing batch time", Rule{Hits: 5, BlockTime: time.Minute}, true},
		{"negative delay", Rule{Delay: -time.Second, BlockTime: time.Minute}, true},
		{"missing block time", Rule{Hits: 5, BatchTime: time.Minute}, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			errValidate := tc.rule.Validate()
			if tc.wantErr && !errors.Is(errValidate, ErrInvalidRule) {
				t.Fatalf("Validate() = %v, want ErrInvalidRule", errValidate)
			}
			if !tc.wantErr && errValidate != nil {
				t.Fatalf("Validate() = %v, want nil", errValidate)
			}
		})
	}
}

func TestRuleMode(t *testing.T) {
	if mode := (Rule{Hits: 5, BatchTime: time.Minute}).Mode(); mode != ModeCount {
		t.Fatalf("Mode() = %v, want %v", mode, ModeCount)
	}
	if mode := (Rule{Delay: time.Second}).Mode(); mode != ModeDelay {
		t.Fatalf("Mode() = %v, want %v", mode, ModeDelay)
	}
}

func TestRuleAppliesTo(t *testing.T) {
	unscoped := Rule{Hits: 1, BatchTime: time.Minute, BlockTime: time.Minute}
	if !unscoped.AppliesTo("anything") {
		t.Fatal("unscoped rule should apply to every group")
	}

	scoped := unscoped
	scoped.Groups = []string{"trial", "free"}
	if !scoped.AppliesTo("trial") || !scoped.AppliesTo("free") {
		t.Fatal("scoped rule should apply to its listed groups")
	}
	if scoped.AppliesTo("paying") {
		t.Fatal("scoped rule should not apply outside its groups")
	}
}

func TestRuleDefaultReason(t *testing.T) {
	count := Rule{Hits: 1, BatchTime: time.Minute, BlockTime: time.Minute}
	if got := count.DefaultReason(); got != "max hits per time exceeded" {
		t.Fatalf("DefaultReason() = %q", got)
	}
	delay := Rule{Delay: time.Second, BlockTime: time.Minute}
	if got := delay.DefaultReason(); got != "delay between requests exceeded" {
		t.Fatalf("DefaultReason() = %q", got)
	}
	custom := Rule{Delay: time.Second, BlockTime: time.Minute, Reason: "slow down"}
	if got := custom.DefaultReason(); got != "slow down" {
		t.Fatalf("DefaultReason() = %q, want custom reason", got)
	}
}

func TestLadderValidate(t *testing.T) {
	valid := Ladder{
		NewRank(Rule{Hits: 5, BatchTime: time.Minute, BlockTime: time.Minute}),
		NewRank(Rule{Delay: time.Second, BlockTime: time.Hour}),
	}
	if errValidate := valid.Validate(); errValidate != nil {
		t.Fatalf("Validate() = %v, want nil", errValidate)
	}

	if errValidate := (Ladder{}).Validate(); !errors.Is(errValidate, ErrEmptyLadder) {
		t.Fatalf("Validate() = %v, want ErrEmptyLadder", errValidate)
	}

	emptyRank := Ladder{NewRank()}
	if errValidate := emptyRank.Validate(); errValidate == nil {
		t.Fatal("Validate() = nil, want error for empty rank")
	}

	badRule := Ladder{NewRank(Rule{BlockTime: time.Minute})}
	if errValidate := badRule.Validate(); !errors.Is(errValidate, ErrInvalidRule) {
		t.Fatalf("Validate() = %v, want ErrInvalidRule", errValidate)
	}
}

func TestLadderClamp(t *testing.T) {
	ladder := Ladder{NewRank(), NewRank(), NewRank()}
	cases := []struct{ in, want int }{
		{-5, 0},
		{0, 0},
		{2, 2},
		{3, 2},
		{100, 2},
	}
	for _, tc := range cases {
		if got := ladder.Clamp(tc.in); got != tc.want {
			t.Fatalf("Clamp(%d) = %d, want %d", tc.in, got, tc.want)
		}
	}
}

func TestRankRulesFor(t *testing.T) {
	scoped := Rule{Hits: 1, BatchTime: time.Minute, BlockTime: time.Minute, Groups: []string{"trial"}}
	open := Rule{Delay: time.Second, BlockTime: time.Minute}
	rank := NewRank(scoped, open)

	trial := rank.RulesFor("trial")
	if len(trial) != 2 {
		t.Fatalf("RulesFor(trial) = %d rules, want 2", len(trial))
	}
	if trial[0].Index != 0 || trial[1].Index != 1 {
		t.Fatalf("RulesFor(trial) indexes = %d,%d, want 0,1", trial[0].Index, trial[1].Index)
	}

	paying := rank.RulesFor("paying")
	if len(paying) != 1 {
		t.Fatalf("RulesFor(paying) = %d rules, want 1", len(paying))
	}
	if paying[0].Index != 1 {
		t.Fatalf("RulesFor(paying) index = %d, want the rule's rank position", paying[0].Index)
	}
}

func TestSnapCapturesReason(t *testing.T) {
	r := Rule{Hits: 3, BatchTime: time.Minute, BlockTime: time.Hour, Message: "try later"}
	snap := r.Snap()
	if snap.Mode != ModeCount || snap.Hits != 3 || snap.BlockTime != time.Hour {
		t.Fatalf("Snap() = %+v", snap)
	}
	if snap.Reason != "max hits per time exceeded" {
		t.Fatalf("Snap().Reason = %q, want default reason resolved", snap.Reason)
	}
	if snap.Message != "try later" {
		t.Fatalf("Snap().Message = %q", snap.Message)
	}
}
