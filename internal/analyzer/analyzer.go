// Package analyzer implements ProgramAnalyzer: the per-application worker
// that owns a private event queue and a mutable RuleSet, fans each event
// out to matching rules in parallel, and publishes alarms.
package analyzer

import (
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/platformbuilds/healthwatch-engine/internal/metrics"
	"github.com/platformbuilds/healthwatch-engine/internal/model"
	"github.com/platformbuilds/healthwatch-engine/internal/rules"
)

// ProgramMismatch is returned by AddOrReplaceRule when the rule's program
// does not match the analyzer's.
var ProgramMismatch = errors.New("analyzer: rule program does not match analyzer's program")

// maxConcurrentRuleEval bounds the goroutines fanned out per event so a
// program with hundreds of rules cannot exhaust the runtime scheduler.
const maxConcurrentRuleEval = 16

// AlarmSink is the narrow publish contract the analyzer needs; concrete
// sinks live in internal/alarmsink and satisfy this structurally.
type AlarmSink interface {
	RaiseAlarm(alarm model.AlarmMessage)
}

// Diagnostics receives EngineMessages describing faults and lifecycle
// events, for operator introspection.
type Diagnostics interface {
	LogMessage(msg model.EngineMessage)
}

// Analyzer is ProgramAnalyzer. The zero value is not usable; build one
// with New.
type Analyzer struct {
	sink  AlarmSink
	diags Diagnostics

	// Metrics is optional; set by the owning AnalyzerEngine after
	// construction. A nil Metrics is safe to use everywhere below.
	Metrics *metrics.Collector

	mu          sync.Mutex
	programName string
	state       model.State

	ruleSet rules.RuleSet

	qmu   sync.Mutex
	queue []model.SystemEvent

	wg sync.WaitGroup
}

// New builds an Analyzer for programName (may be empty; the first
// AddOrReplaceRule call then adopts the rule's program). sink and diags
// must not be nil.
func New(programName string, sink AlarmSink, diags Diagnostics) *Analyzer {
	return &Analyzer{
		programName: programName,
		sink:        sink,
		diags:       diags,
		state:       model.Stopped,
	}
}

// ProgramName returns the analyzer's owning program, possibly empty if no
// rule has been installed yet.
func (a *Analyzer) ProgramName() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.programName
}

// State returns the analyzer's current lifecycle state.
func (a *Analyzer) State() model.State {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.state
}

// AddEvent appends event to the private queue. The engine's dispatch
// loop is responsible for ensuring the analyzer's task is running before
// calling this.
func (a *Analyzer) AddEvent(event model.SystemEvent) {
	a.qmu.Lock()
	a.queue = append(a.queue, event)
	a.qmu.Unlock()
}

func (a *Analyzer) popEvent() (model.SystemEvent, bool) {
	a.qmu.Lock()
	defer a.qmu.Unlock()
	if len(a.queue) == 0 {
		return model.SystemEvent{}, false
	}
	event := a.queue[0]
	a.queue = a.queue[1:]
	return event, true
}

func (a *Analyzer) queueLen() int {
	a.qmu.Lock()
	defer a.qmu.Unlock()
	return len(a.queue)
}

// AddOrReplaceRule installs rule under its name. If the analyzer's
// program is unset, it adopts rule.ProgramName(); otherwise the rule's
// program must match, or ProgramMismatch is returned and the RuleSet is
// left unchanged. Replacing an existing rule cancels its pending timers.
func (a *Analyzer) AddOrReplaceRule(rule rules.AnalyzeRule) error {
	a.mu.Lock()
	if a.programName == "" {
		a.programName = rule.ProgramName()
	} else if a.programName != rule.ProgramName() {
		a.mu.Unlock()
		return fmt.Errorf("%w: analyzer=%q rule=%q", ProgramMismatch, a.programName, rule.ProgramName())
	}
	a.mu.Unlock()

	if td, ok := rule.(rules.TimerDriven); ok {
		td.AttachObserver(a)
	}
	a.ruleSet.AddOrReplace(rule)
	return nil
}

// UnloadAllRules cancels every rule's pending timers and empties the
// RuleSet.
func (a *Analyzer) UnloadAllRules() {
	a.ruleSet.Clear()
}

// OnRuleTriggered implements rules.Observer for timer-driven rules,
// publishing the alarm exactly as an event-driven trigger would.
func (a *Analyzer) OnRuleTriggered(alarm model.AlarmMessage) {
	a.publish(alarm)
}

func (a *Analyzer) publish(alarm model.AlarmMessage) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("[analyzer/%s] alarm sink panicked: %v", alarm.Application, r)
		}
	}()
	a.sink.RaiseAlarm(alarm)
}

// StartAnalyzerTask launches the evaluation loop if it is not already
// running. Idempotent.
func (a *Analyzer) StartAnalyzerTask() {
	a.mu.Lock()
	if a.state != model.Stopped {
		a.mu.Unlock()
		return
	}
	a.state = model.Running
	a.mu.Unlock()

	a.wg.Add(1)
	go a.run()
}

// StopAnalyzer transitions the analyzer to ShuttingDown; the running
// task drains its queue and then stops on its own.
func (a *Analyzer) StopAnalyzer() {
	a.mu.Lock()
	if a.state != model.Running {
		a.mu.Unlock()
		return
	}
	a.state = model.ShuttingDown
	a.mu.Unlock()
}

// Wait blocks until the evaluation loop has exited (state has reached
// Stopped). Used by the engine's stop and reload sequences.
func (a *Analyzer) Wait() {
	a.wg.Wait()
}

func (a *Analyzer) run() {
	defer a.wg.Done()
	programName := a.ProgramName()

	defer func() {
		if r := recover(); r != nil {
			a.mu.Lock()
			a.state = model.Stopped
			a.mu.Unlock()
			text := fmt.Sprintf("analyzer %q evaluation loop crashed: %v", programName, r)
			a.logFault(text)
			a.publish(model.AlarmMessage{
				Application: programName,
				Level:       model.Medium,
				Summary:     "analyzer fault",
				Detail:      text,
				RaisedAt:    time.Now().Unix(),
			})
		}
	}()

	for {
		event, ok := a.popEvent()
		if !ok {
			if a.stateSnapshot() == model.ShuttingDown {
				a.mu.Lock()
				a.state = model.Stopped
				a.mu.Unlock()
				return
			}
			time.Sleep(10 * time.Millisecond)
			continue
		}

		a.evaluate(event)
	}
}

func (a *Analyzer) stateSnapshot() model.State {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.state
}

// evaluate fans event out to every matching rule in parallel, bounded by
// maxConcurrentRuleEval, and publishes an alarm for each rule that
// reports triggered. A panicking rule is caught, surfaced as a Medium
// alarm, and left installed for the next event.
func (a *Analyzer) evaluate(event model.SystemEvent) {
	matching := a.ruleSet.MatchingRules(event)
	if len(matching) == 0 {
		return
	}

	sem := make(chan struct{}, maxConcurrentRuleEval)
	var wg sync.WaitGroup
	wg.Add(len(matching))

	for _, rule := range matching {
		rule := rule
		sem <- struct{}{}
		go func() {
			defer wg.Done()
			defer func() { <-sem }()
			a.evaluateOne(rule, event)
		}()
	}
	wg.Wait()
}

func (a *Analyzer) evaluateOne(rule rules.AnalyzeRule, event model.SystemEvent) {
	defer func() {
		if r := recover(); r != nil {
			a.logFault(fmt.Sprintf("rule %q on program %q faulted: %v", rule.Name(), rule.ProgramName(), r))
			if a.Metrics != nil {
				a.Metrics.IncRuleFaults()
			}
			a.publish(model.AlarmMessage{
				Application: rule.ProgramName(),
				RuleName:    rule.Name(),
				Level:       model.Medium,
				Summary:     "rule evaluation fault",
				Detail:      fmt.Sprintf("%v", r),
				RaisedAt:    event.OccurredAt,
			})
		}
	}()

	if rule.AddAndCheckIfTriggered(event) {
		a.publish(rule.BuildAlarm(event))
	}
}

func (a *Analyzer) logFault(text string) {
	log.Printf("[analyzer] %s", text)
	if a.diags == nil {
		return
	}
	a.diags.LogMessage(model.EngineMessage{
		Application: a.ProgramName(),
		Text:        text,
		At:          time.Now().Unix(),
	})
}
