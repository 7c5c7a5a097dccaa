package rules

import (
	"fmt"
	"sync"
	"time"

	"github.com/platformbuilds/healthwatch-engine/internal/model"
)

// TimeBetweenConfig parameterizes TimeBetweenOperations.
type TimeBetweenConfig struct {
	RuleName      string
	ProgramName   string
	OperationName string
	AlarmLevel    model.AlarmLevel
	AlarmMessage  string

	MaxGap time.Duration
}

// TimeBetweenOperations triggers when the gap since the last matching
// event exceeds MaxGap, either because a new event arrives late or
// because an independent timer elapses with no event at all. The rule
// holds its own timer and calls back into an attached Observer (normally
// the owning ProgramAnalyzer) on a timeout trigger, since a timer fire is
// not a SystemEvent the analyzer's queue can carry.
type TimeBetweenOperations struct {
	base
	maxGap time.Duration

	mu       sync.Mutex
	hasLast  bool
	lastSeen int64
	timer    *time.Timer
	observer Observer
}

// NewTimeBetweenOperations builds a TimeBetweenOperations rule. MaxGap
// must be greater than zero.
func NewTimeBetweenOperations(cfg TimeBetweenConfig) (*TimeBetweenOperations, error) {
	if cfg.MaxGap <= 0 {
		return nil, fmt.Errorf("rules: maxGap must be positive, got %s", cfg.MaxGap)
	}
	return &TimeBetweenOperations{
		base: base{
			ruleName:      cfg.RuleName,
			programName:   cfg.ProgramName,
			operationName: cfg.OperationName,
			alarmLevel:    cfg.AlarmLevel,
			alarmMessage:  cfg.AlarmMessage,
		},
		maxGap: cfg.MaxGap,
	}, nil
}

// AttachObserver registers the sink for timer-driven triggers. Must be
// called before the rule is exposed to concurrent event traffic.
func (r *TimeBetweenOperations) AttachObserver(o Observer) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.observer = o
}

// AddAndCheckIfTriggered reports whether the gap since the last matching
// event exceeds maxGap, then resets lastSeen and re-arms the timer.
func (r *TimeBetweenOperations) AddAndCheckIfTriggered(event model.SystemEvent) bool {
	now := event.OccurredAt

	r.mu.Lock()
	triggered := r.hasLast && time.Duration(now-r.lastSeen)*time.Second > r.maxGap
	r.hasLast = true
	r.lastSeen = now
	if r.timer != nil {
		r.timer.Stop()
	}
	r.timer = time.AfterFunc(r.maxGap, r.onTimeout)
	r.mu.Unlock()

	return triggered
}

// onTimeout runs on the timer goroutine when no matching event arrived
// within maxGap of the last one. It clears lastSeen so the next event
// restarts the cycle, then notifies the observer.
func (r *TimeBetweenOperations) onTimeout() {
	r.mu.Lock()
	if !r.hasLast {
		r.mu.Unlock()
		return
	}
	r.hasLast = false
	observer := r.observer
	r.mu.Unlock()

	if observer == nil {
		return
	}
	observer.OnRuleTriggered(r.buildTimeoutAlarm())
}

// buildTimeoutAlarm renders an alarm for a timer-driven trigger, with no
// originating event at all. SourceEventID is left nil rather than set to
// a zero-valued EventID, so it's distinguishable from a real event whose
// id genuinely is partition 0, row 0.
func (r *TimeBetweenOperations) buildTimeoutAlarm() model.AlarmMessage {
	return model.AlarmMessage{
		Application: r.programName,
		RuleName:    r.ruleName,
		Level:       r.alarmLevel,
		Summary:     r.alarmSummary(),
		Detail:      fmt.Sprintf("gap exceeded %s", r.maxGap),
		RaisedAt:    time.Now().Unix(),
	}
}

func (r *TimeBetweenOperations) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.hasLast = false
	if r.timer != nil {
		r.timer.Stop()
		r.timer = nil
	}
}

// Close cancels the pending timer. Called when the rule is replaced or
// its RuleSet is unloaded, so a stale timer never fires against a
// discarded rule.
func (r *TimeBetweenOperations) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.timer != nil {
		r.timer.Stop()
		r.timer = nil
	}
}

// BuildAlarm renders an alarm for an event-driven trigger. Timer-driven
// triggers go through buildTimeoutAlarm instead, since they have no
// originating event to reference.
func (r *TimeBetweenOperations) BuildAlarm(event model.SystemEvent) model.AlarmMessage {
	detail := fmt.Sprintf("gap exceeded %s", r.maxGap)
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
