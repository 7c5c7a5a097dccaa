// Package engine implements AnalyzerEngine: the top-level coordinator
// that owns the ingest queue, the AnalyzerRegistry, and the
// Stopped/Running/ShuttingDown lifecycle. Grounded on
// internal/pipeline/pipeline.go's BuildAndRun/runSinglePipeline
// goroutine-per-stage orchestration and cmd/mirador-nrt-aggregator/
// main.go's lifecycle shape.
package engine

import (
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/platformbuilds/healthwatch-engine/internal/analyzer"
	"github.com/platformbuilds/healthwatch-engine/internal/metrics"
	"github.com/platformbuilds/healthwatch-engine/internal/model"
	"github.com/platformbuilds/healthwatch-engine/internal/registry"
	"github.com/platformbuilds/healthwatch-engine/internal/rules"
)

// DefaultShutdownGrace is the recommended default grace period §4.1
// names for stop() to wait on lagging analyzers.
const DefaultShutdownGrace = 5 * time.Minute

// maxEngineMessages bounds the in-memory diagnostics ring so a
// long-running engine with an undrained EngineMessages queue doesn't
// grow without bound.
const maxEngineMessages = 1000

// RuleStorage is the read-only contract the engine queries at Start and
// ReloadRules.
type RuleStorage interface {
	GetAllRules() ([]rules.AnalyzeRule, error)
	GetRulesForApplication(programName string) ([]rules.AnalyzeRule, error)
}

// AlarmSink receives alarms raised by rules. Optionally an io.Closer:
// closed during stop() after the shutdown grace period.
type AlarmSink interface {
	RaiseAlarm(alarm model.AlarmMessage)
}

// metricsSink wraps the configured AlarmSink so every alarm that reaches
// an analyzer also increments the per-level counter, regardless of which
// concrete sink (or MultiSink fan-out) is configured.
type metricsSink struct {
	AlarmSink
	metrics *metrics.Collector
}

func (m metricsSink) RaiseAlarm(alarm model.AlarmMessage) {
	if m.metrics != nil {
		m.metrics.IncAlarmsRaised(alarm.Level.String())
	}
	m.AlarmSink.RaiseAlarm(alarm)
}

// Close forwards to the wrapped sink if it is an io.Closer, so wrapping
// with metricsSink never hides a sink's shutdown-time Close from
// drainShutdown's type assertion.
func (m metricsSink) Close() error {
	if closer, ok := m.AlarmSink.(interface{ Close() error }); ok {
		return closer.Close()
	}
	return nil
}

// AnalyzerStatus is one entry of listAnalyzers().
type AnalyzerStatus struct {
	ProgramName string
	State       string
}

// AnalyzerEngine is the process-wide singleton coordinator. The zero
// value is a usable Stopped engine; build one with New.
type AnalyzerEngine struct {
	ShutdownGrace time.Duration
	Metrics       *metrics.Collector

	mu          sync.Mutex
	state       model.State
	ruleStorage RuleStorage
	sink        AlarmSink

	registry registry.AnalyzerRegistry

	qmu         sync.Mutex
	ingestQueue []model.SystemEvent

	msgMu    sync.Mutex
	messages []model.EngineMessage

	dispatchDone chan struct{}
}

// New builds a Stopped AnalyzerEngine.
func New() *AnalyzerEngine {
	return &AnalyzerEngine{
		ShutdownGrace: DefaultShutdownGrace,
		state:         model.Stopped,
	}
}

// State returns the engine's current lifecycle state.
func (e *AnalyzerEngine) State() model.State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// Start reads the full rule set from ruleStorage, groups it by program,
// constructs and starts one ProgramAnalyzer per program, then starts the
// dispatch task and transitions to Running. Calling Start while not
// Stopped is a usage error.
func (e *AnalyzerEngine) Start(ruleStorage RuleStorage, sink AlarmSink) error {
	e.mu.Lock()
	if e.state != model.Stopped {
		e.mu.Unlock()
		return ErrNotStopped
	}
	e.ruleStorage = ruleStorage
	e.sink = sink
	if sink != nil {
		e.sink = metricsSink{AlarmSink: sink, metrics: e.Metrics}
	}
	e.mu.Unlock()

	docs, err := ruleStorage.GetAllRules()
	if err != nil {
		return fmt.Errorf("engine: read rule storage: %w", err)
	}
	if len(docs) == 0 {
		log.Printf("[engine] starting with an empty rule set; analyzers will be created on demand")
	}

	byProgram := make(map[string][]rules.AnalyzeRule)
	for _, r := range docs {
		byProgram[r.ProgramName()] = append(byProgram[r.ProgramName()], r)
	}
	for program, programRules := range byProgram {
		a := e.registry.GetOrCreate(program, func() *analyzer.Analyzer {
			return analyzer.New(program, e.sink, e)
		})
		a.Metrics = e.Metrics
		for _, r := range programRules {
			if err := a.AddOrReplaceRule(r); err != nil {
				log.Printf("[engine] install rule %q for program %q: %v", r.Name(), program, err)
			}
		}
		a.StartAnalyzerTask()
	}

	e.mu.Lock()
	e.state = model.Running
	e.dispatchDone = make(chan struct{})
	done := e.dispatchDone
	e.mu.Unlock()

	go e.dispatch(done)
	return nil
}

// Enqueue appends events to the ingest queue in order. Concurrent
// callers are permitted; events from one call preserve relative order,
// but interleaving across callers is unspecified.
func (e *AnalyzerEngine) Enqueue(events []model.SystemEvent) error {
	if e.State() != model.Running {
		return EngineNotRunning
	}
	e.qmu.Lock()
	e.ingestQueue = append(e.ingestQueue, events...)
	e.qmu.Unlock()
	if e.Metrics != nil {
		e.Metrics.IncEventsIngested(len(events))
	}
	return nil
}

func (e *AnalyzerEngine) popIngest() (model.SystemEvent, bool) {
	e.qmu.Lock()
	defer e.qmu.Unlock()
	if len(e.ingestQueue) == 0 {
		return model.SystemEvent{}, false
	}
	event := e.ingestQueue[0]
	e.ingestQueue = e.ingestQueue[1:]
	return event, true
}

func (e *AnalyzerEngine) ingestDepth() int {
	e.qmu.Lock()
	defer e.qmu.Unlock()
	return len(e.ingestQueue)
}

// dispatch is the dispatch task (§4.1). While Running it pulls one event
// at a time and forwards it to the correct analyzer, auto-creating a
// rule-less analyzer on first sight of a new application. After
// ShuttingDown it keeps draining the ingest queue, then stops every
// analyzer and transitions to Stopped.
func (e *AnalyzerEngine) dispatch(done chan struct{}) {
	defer close(done)
	defer func() {
		if r := recover(); r != nil {
			e.mu.Lock()
			e.state = model.Stopped
			e.mu.Unlock()
			e.publishFault(fmt.Sprintf("dispatch task crashed: %v", r))
		}
	}()

	for {
		event, ok := e.popIngest()
		if e.Metrics != nil {
			e.Metrics.SetDispatchQueueDepth(e.ingestDepth())
		}
		if !ok {
			if e.State() == model.ShuttingDown {
				e.drainShutdown()
				return
			}
			time.Sleep(10 * time.Millisecond)
			continue
		}

		a := e.registry.GetOrCreate(event.Application, func() *analyzer.Analyzer {
			return analyzer.New(event.Application, e.sink, e)
		})
		a.Metrics = e.Metrics
		a.StartAnalyzerTask() // idempotent; covers absent/crashed/stopped
		a.AddEvent(event)
	}
}

// drainShutdown stops every registered analyzer and waits until each
// one's evaluation loop has exited or the grace period elapses.
func (e *AnalyzerEngine) drainShutdown() {
	var analyzers []*analyzer.Analyzer
	e.registry.Each(func(_ string, a *analyzer.Analyzer) {
		a.StopAnalyzer()
		analyzers = append(analyzers, a)
	})

	done := make(chan struct{})
	go func() {
		for _, a := range analyzers {
			a.Wait()
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(e.ShutdownGrace):
		e.LogMessage(model.EngineMessage{
			Text: "shutdown grace period elapsed with analyzers still running",
			At:   time.Now().Unix(),
		})
	}

	if closer, ok := e.sink.(interface{ Close() error }); ok {
		if err := closer.Close(); err != nil {
			log.Printf("[engine] alarm sink close: %v", err)
		}
	}

	e.mu.Lock()
	e.state = model.Stopped
	e.mu.Unlock()
}

// Stop transitions the engine to ShuttingDown and blocks until the
// dispatch task has finished draining and every analyzer has stopped (or
// the grace period elapsed).
func (e *AnalyzerEngine) Stop() {
	e.mu.Lock()
	if e.state != model.Running {
		e.mu.Unlock()
		return
	}
	e.state = model.ShuttingDown
	done := e.dispatchDone
	e.mu.Unlock()

	<-done
}

// ReloadRules stops the named analyzer, waits until it reaches Stopped,
// clears its rules, re-reads rules for that program from RuleStorage,
// installs them, and restarts the analyzer. If the analyzer does not
// exist, it is created.
func (e *AnalyzerEngine) ReloadRules(programName string) error {
	e.mu.Lock()
	storage := e.ruleStorage
	sink := e.sink
	e.mu.Unlock()
	if storage == nil {
		return fmt.Errorf("engine: ReloadRules called before Start")
	}

	a := e.registry.GetOrCreate(programName, func() *analyzer.Analyzer {
		return analyzer.New(programName, sink, e)
	})
	a.Metrics = e.Metrics
	a.StopAnalyzer()
	a.Wait()
	a.UnloadAllRules()

	docs, err := storage.GetRulesForApplication(programName)
	if err != nil {
		return fmt.Errorf("engine: reload rules for %q: %w", programName, err)
	}
	for _, r := range docs {
		if err := a.AddOrReplaceRule(r); err != nil {
			log.Printf("[engine] install rule %q for program %q: %v", r.Name(), programName, err)
		}
	}
	a.StartAnalyzerTask()
	return nil
}

// ListAnalyzers returns a best-effort snapshot of (programName, state).
func (e *AnalyzerEngine) ListAnalyzers() []AnalyzerStatus {
	snap := e.registry.Snapshot()
	out := make([]AnalyzerStatus, 0, len(snap))
	for program, state := range snap {
		out = append(out, AnalyzerStatus{ProgramName: program, State: state})
	}
	return out
}

// EngineMessages returns a snapshot of the diagnostic message queue.
func (e *AnalyzerEngine) EngineMessages() []model.EngineMessage {
	e.msgMu.Lock()
	defer e.msgMu.Unlock()
	out := make([]model.EngineMessage, len(e.messages))
	copy(out, e.messages)
	return out
}

// LogMessage implements analyzer.Diagnostics, appending msg to the
// bounded in-memory ring.
func (e *AnalyzerEngine) LogMessage(msg model.EngineMessage) {
	e.msgMu.Lock()
	defer e.msgMu.Unlock()
	e.messages = append(e.messages, msg)
	if over := len(e.messages) - maxEngineMessages; over > 0 {
		e.messages = e.messages[over:]
	}
}

func (e *AnalyzerEngine) publishFault(text string) {
	log.Printf("[engine] %s", text)
	e.LogMessage(model.EngineMessage{Text: text, At: time.Now().Unix()})
	if e.sink != nil {
		e.sink.RaiseAlarm(model.AlarmMessage{
			Level:    model.Medium,
			Summary:  "engine fault",
			Detail:   text,
			RaisedAt: time.Now().Unix(),
		})
	}
}

// MetricsSnapshot returns a best-effort counters snapshot, additive and
// non-blocking. Returns the zero Snapshot if no Collector is attached.
func (e *AnalyzerEngine) MetricsSnapshot() metrics.Snapshot {
	if e.Metrics == nil {
		return metrics.Snapshot{}
	}
	e.Metrics.SetAnalyzerCount(len(e.registry.Snapshot()))
	return e.Metrics.Snapshot()
}
