package rules

import (
	"testing"
	"time"

	"github.com/platformbuilds/healthwatch-engine/internal/model"
)

func TestLatencyPercentileTriggersOnSlowSamples(t *testing.T) {
	r, err := NewLatencyPercentile(LatencyConfig{
		RuleName:    "slow",
		ProgramName: "X",
		Quantile:    0.95,
		MaxDuration: 200 * time.Millisecond,
		WindowCount: 20,
	})
	if err != nil {
		t.Fatalf("NewLatencyPercentile: %v", err)
	}

	event := func(ms float64) model.SystemEvent {
		return model.SystemEvent{
			Application: "X",
			Parameters:  map[string]any{"duration_ms": ms},
		}
	}

	for i := 0; i < 19; i++ {
		if r.AddAndCheckIfTriggered(event(50)) {
			t.Fatal("fast samples should never trigger")
		}
	}

	triggered := false
	for i := 0; i < 5; i++ {
		if r.AddAndCheckIfTriggered(event(500)) {
			triggered = true
			break
		}
	}
	if !triggered {
		t.Fatal("expected a trigger once enough slow samples pushed the p95 estimate over maxDuration")
	}
}

func TestLatencyPercentileIgnoresEventsWithoutDuration(t *testing.T) {
	r, err := NewLatencyPercentile(LatencyConfig{
		RuleName:    "slow",
		ProgramName: "X",
		Quantile:    0.9,
		MaxDuration: 100 * time.Millisecond,
		WindowCount: 5,
	})
	if err != nil {
		t.Fatalf("NewLatencyPercentile: %v", err)
	}
	if r.AddAndCheckIfTriggered(model.SystemEvent{Application: "X"}) {
		t.Fatal("event without duration_ms should never trigger")
	}
}

func TestNewLatencyPercentileRejectsInvalidConfig(t *testing.T) {
	base := LatencyConfig{MaxDuration: time.Second, WindowCount: 10}
	bad := base
	bad.Quantile = 1.5
	if _, err := NewLatencyPercentile(bad); err == nil {
		t.Fatal("expected error for out-of-range quantile")
	}

	bad = base
	bad.Quantile = 0.9
	bad.MaxDuration = 0
	if _, err := NewLatencyPercentile(bad); err == nil {
		t.Fatal("expected error for non-positive maxDuration")
	}

	bad = base
	bad.Quantile = 0.9
	bad.WindowCount = 0
	if _, err := NewLatencyPercentile(bad); err == nil {
		t.Fatal("expected error for non-positive windowCount")
	}
}
