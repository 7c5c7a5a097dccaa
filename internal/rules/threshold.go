package rules

import (
	"fmt"
	"sync"
	"time"

	"github.com/platformbuilds/healthwatch-engine/internal/model"
)

// ThresholdConfig parameterizes ThresholdWithinWindow.
type ThresholdConfig struct {
	RuleName      string
	ProgramName   string
	OperationName string
	AlarmLevel    model.AlarmLevel
	AlarmMessage  string

	Threshold int
	Window    time.Duration
	// FilterExpr is an optional CEL boolean expression; empty matches
	// every event of the rule's operation.
	FilterExpr string
}

// ThresholdWithinWindow triggers when the count of matching events inside
// a trailing window reaches Threshold. Once triggered it enters cooldown
// and will not re-trigger until the in-window count drops back below
// Threshold, per the spec's alarm-storm avoidance policy.
type ThresholdWithinWindow struct {
	base
	threshold int
	window    time.Duration
	predicate EventPredicate

	mu         sync.Mutex
	timestamps []int64 // Unix seconds, oldest first
	cooldown   bool
}

// NewThresholdWithinWindow builds a ThresholdWithinWindow rule. Threshold
// must be positive and Window must be greater than zero.
func NewThresholdWithinWindow(cfg ThresholdConfig) (*ThresholdWithinWindow, error) {
	if cfg.Threshold <= 0 {
		return nil, fmt.Errorf("rules: threshold must be positive, got %d", cfg.Threshold)
	}
	if cfg.Window <= 0 {
		return nil, fmt.Errorf("rules: window must be positive, got %s", cfg.Window)
	}
	pred := AlwaysTrue
	if cfg.FilterExpr != "" {
		pred = CompilePredicate(cfg.FilterExpr)
	}
	return &ThresholdWithinWindow{
		base: base{
			ruleName:      cfg.RuleName,
			programName:   cfg.ProgramName,
			operationName: cfg.OperationName,
			alarmLevel:    cfg.AlarmLevel,
			alarmMessage:  cfg.AlarmMessage,
		},
		threshold: cfg.Threshold,
		window:    cfg.Window,
		predicate: pred,
	}, nil
}

// AddAndCheckIfTriggered appends the event's timestamp, evicts entries
// older than window, and reports whether the in-window count has reached
// threshold and cooldown is not already active.
func (r *ThresholdWithinWindow) AddAndCheckIfTriggered(event model.SystemEvent) bool {
	if !r.predicate(event) {
		return false
	}

	now := event.OccurredAt
	r.mu.Lock()
	defer r.mu.Unlock()

	r.timestamps = append(r.timestamps, now)
	cutoff := now - int64(r.window/time.Second)
	i := 0
	for i < len(r.timestamps) && r.timestamps[i] <= cutoff {
		i++
	}
	if i > 0 {
		r.timestamps = r.timestamps[i:]
	}

	count := len(r.timestamps)
	if count < r.threshold {
		r.cooldown = false
		return false
	}
	if r.cooldown {
		return false
	}
	r.cooldown = true
	return true
}

func (r *ThresholdWithinWindow) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.timestamps = nil
	r.cooldown = false
}

func (r *ThresholdWithinWindow) Close() {}

func (r *ThresholdWithinWindow) BuildAlarm(event model.SystemEvent) model.AlarmMessage {
	detail := ""
	if event.Failure != nil {
		detail = event.Failure.Message
	}
	return model.AlarmMessage{
		Application:   r.programName,
		RuleName:      r.ruleName,
		Level:         r.alarmLevel,
		Summary:       r.alarmSummary(),
		Detail:        detail,
		RaisedAt:      event.OccurredAt,
		SourceEventID: &event.ID,
	}
}
