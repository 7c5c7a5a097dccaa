// Package rules implements the AnalyzeRule contract and its concrete
// variants: ThresholdWithinWindow, TimeBetweenOperations, and the
// supplemental LatencyPercentile.
package rules

import "github.com/platformbuilds/healthwatch-engine/internal/model"

// AnalyzeRule is the polymorphic contract every rule variant satisfies. A
// rule instance belongs to exactly one program; ProgramAnalyzer's
// AddOrReplaceRule enforces that invariant, not the rule or its RuleSet.
type AnalyzeRule interface {
	Name() string
	ProgramName() string
	// OperationName returns the operation filter; empty matches every
	// operation of the owning program.
	OperationName() string
	AlarmLevel() model.AlarmLevel

	// Matches reports whether the rule's operation filter accepts the
	// event. Called by ProgramAnalyzer before fan-out so non-matching
	// rules never see the event.
	Matches(event model.SystemEvent) bool

	// AddAndCheckIfTriggered feeds the event into the rule's private
	// state and reports whether the rule is now triggered.
	AddAndCheckIfTriggered(event model.SystemEvent) bool

	// Reset clears the rule's evaluation state (and cancels any pending
	// timer) without removing it from its RuleSet.
	Reset()

	// Close releases any resources (armed timers) held by the rule.
	// Called when the rule is replaced or its RuleSet is unloaded.
	Close()

	// BuildAlarm renders an AlarmMessage for an event-driven trigger
	// caused by event. Timer-driven triggers build their own alarm and
	// deliver it through Observer instead.
	BuildAlarm(event model.SystemEvent) model.AlarmMessage
}

// Observer receives alarms raised by a timer-driven rule outside of the
// analyzer's normal per-event evaluation path. ProgramAnalyzer implements
// this so a rule can publish an alarm without holding a queue reference.
type Observer interface {
	OnRuleTriggered(alarm model.AlarmMessage)
}

// TimerDriven is implemented by rule variants that schedule an
// independent timer and need to call back into the owning analyzer when
// it fires (currently only TimeBetweenOperations).
type TimerDriven interface {
	AttachObserver(o Observer)
}

// base holds the attributes common to every AnalyzeRule variant.
type base struct {
	ruleName      string
	programName   string
	operationName string
	alarmLevel    model.AlarmLevel
	alarmMessage  string
}

func (b *base) Name() string                   { return b.ruleName }
func (b *base) ProgramName() string            { return b.programName }
func (b *base) OperationName() string          { return b.operationName }
func (b *base) AlarmLevel() model.AlarmLevel   { return b.alarmLevel }

func (b *base) Matches(event model.SystemEvent) bool {
	return b.operationName == "" || b.operationName == event.Operation
}

func (b *base) alarmSummary() string {
	if b.alarmMessage != "" {
		return b.alarmMessage
	}
	return b.ruleName + " triggered"
}
