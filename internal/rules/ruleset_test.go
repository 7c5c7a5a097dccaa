package rules

import (
	"testing"
	"time"

	"github.com/platformbuilds/healthwatch-engine/internal/model"
)

func newTestThreshold(name, program, op string) *ThresholdWithinWindow {
	r, err := NewThresholdWithinWindow(ThresholdConfig{
		RuleName:      name,
		ProgramName:   program,
		OperationName: op,
		AlarmLevel:    model.High,
		Threshold:     3,
		Window:        time.Minute,
	})
	if err != nil {
		panic(err)
	}
	return r
}

func TestRuleSetAddOrReplaceIdempotent(t *testing.T) {
	var set RuleSet
	r := newTestThreshold("r1", "X", "pay")
	set.AddOrReplace(r)
	set.AddOrReplace(r)
	if set.Len() != 1 {
		t.Fatalf("Len() = %d, want 1", set.Len())
	}
}

func TestRuleSetClearThenRepopulate(t *testing.T) {
	var set RuleSet
	r1 := newTestThreshold("r1", "X", "pay")
	r2 := newTestThreshold("r2", "X", "refund")
	set.AddOrReplace(r1)
	set.AddOrReplace(r2)
	set.Clear()
	if set.Len() != 0 {
		t.Fatalf("Len() after Clear = %d, want 0", set.Len())
	}
	set.AddOrReplace(r1)
	if set.Len() != 1 {
		t.Fatalf("Len() after repopulate = %d, want 1", set.Len())
	}
	if _, ok := set.Get("r2"); ok {
		t.Fatal("r2 should not survive Clear")
	}
}

func TestRuleSetMatchingRules(t *testing.T) {
	var set RuleSet
	pay := newTestThreshold("pay-rule", "X", "pay")
	all := newTestThreshold("all-rule", "X", "")
	set.AddOrReplace(pay)
	set.AddOrReplace(all)

	ev := model.SystemEvent{Application: "X", Operation: "pay"}
	matches := set.MatchingRules(ev)
	if len(matches) != 2 {
		t.Fatalf("MatchingRules(pay) = %d rules, want 2", len(matches))
	}

	ev2 := model.SystemEvent{Application: "X", Operation: "refund"}
	matches2 := set.MatchingRules(ev2)
	if len(matches2) != 1 {
		t.Fatalf("MatchingRules(refund) = %d rules, want 1 (only the wildcard rule)", len(matches2))
	}
}
