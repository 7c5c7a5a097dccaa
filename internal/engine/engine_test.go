package engine

import (
	"sync"
	"testing"
	"time"

	"github.com/platformbuilds/healthwatch-engine/internal/model"
	"github.com/platformbuilds/healthwatch-engine/internal/rules"
)

type recordingSink struct {
	mu     sync.Mutex
	alarms []model.AlarmMessage
}

func (s *recordingSink) RaiseAlarm(a model.AlarmMessage) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.alarms = append(s.alarms, a)
}

func (s *recordingSink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.alarms)
}

type memRuleStorage struct {
	mu    sync.Mutex
	docs  []rules.AnalyzeRule
}

func (s *memRuleStorage) GetAllRules() ([]rules.AnalyzeRule, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]rules.AnalyzeRule, len(s.docs))
	copy(out, s.docs)
	return out, nil
}

func (s *memRuleStorage) GetRulesForApplication(programName string) ([]rules.AnalyzeRule, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []rules.AnalyzeRule
	for _, r := range s.docs {
		if r.ProgramName() == programName {
			out = append(out, r)
		}
	}
	return out, nil
}

func waitUntil(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("condition not met within %s", timeout)
}

func newBurstRule(t *testing.T, program string) rules.AnalyzeRule {
	t.Helper()
	r, err := rules.NewThresholdWithinWindow(rules.ThresholdConfig{
		RuleName:    "burst",
		ProgramName: program,
		AlarmLevel:  model.High,
		Threshold:   3,
		Window:      60 * time.Second,
	})
	if err != nil {
		t.Fatalf("NewThresholdWithinWindow: %v", err)
	}
	return r
}

func TestEngineStartRejectedWhenNotStopped(t *testing.T) {
	e := New()
	storage := &memRuleStorage{}
	sink := &recordingSink{}
	if err := e.Start(storage, sink); err != nil {
		t.Fatalf("first Start: %v", err)
	}
	defer e.Stop()

	if err := e.Start(storage, sink); err != ErrNotStopped {
		t.Fatalf("second Start err = %v, want ErrNotStopped", err)
	}
}

func TestEngineEnqueueRejectedWhenNotRunning(t *testing.T) {
	e := New()
	if err := e.Enqueue([]model.SystemEvent{{Application: "X"}}); err != EngineNotRunning {
		t.Fatalf("Enqueue err = %v, want EngineNotRunning", err)
	}
}

// TestEngineAutoCreatesAnalyzerOnFirstEvent exercises scenario 5: an
// event for an application with no configured rules still gets an
// analyzer, and the analyzer reaches Running. Later rule installation via
// ReloadRules is covered by TestEngineReloadRulesAppliesNewRuleSet.
func TestEngineAutoCreatesAnalyzerOnFirstEvent(t *testing.T) {
	storage := &memRuleStorage{}
	sink := &recordingSink{}
	e := New()
	if err := e.Start(storage, sink); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer e.Stop()

	if err := e.Enqueue([]model.SystemEvent{{Application: "checkout", Operation: "charge", OccurredAt: 0}}); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	waitUntil(t, time.Second, func() bool {
		for _, s := range e.ListAnalyzers() {
			if s.ProgramName == "checkout" && s.State == model.Running.String() {
				return true
			}
		}
		return false
	})
}

// TestEngineEndToEndThresholdAlarm exercises spec scenario 1 through the
// full engine: three matching events inside the window raise exactly one
// alarm.
func TestEngineEndToEndThresholdAlarm(t *testing.T) {
	storage := &memRuleStorage{docs: []rules.AnalyzeRule{newBurstRule(t, "checkout")}}
	sink := &recordingSink{}
	e := New()
	if err := e.Start(storage, sink); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer e.Stop()

	events := []model.SystemEvent{
		{Application: "checkout", Operation: "charge", OccurredAt: 0},
		{Application: "checkout", Operation: "charge", OccurredAt: 10},
		{Application: "checkout", Operation: "charge", OccurredAt: 20},
		{Application: "checkout", Operation: "charge", OccurredAt: 30},
	}
	if err := e.Enqueue(events); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	waitUntil(t, time.Second, func() bool { return sink.count() >= 1 })
	time.Sleep(50 * time.Millisecond) // let any spurious extra alarms land
	if got := sink.count(); got != 1 {
		t.Fatalf("alarm count = %d, want 1", got)
	}
}

// TestEngineShutdownDrainsQueue exercises scenario 6: 1000 queued events
// are all dispatched before the engine finishes stopping.
func TestEngineShutdownDrainsQueue(t *testing.T) {
	storage := &memRuleStorage{}
	sink := &recordingSink{}
	e := New()
	e.ShutdownGrace = 5 * time.Second
	if err := e.Start(storage, sink); err != nil {
		t.Fatalf("Start: %v", err)
	}

	const n = 1000
	events := make([]model.SystemEvent, n)
	for i := range events {
		events[i] = model.SystemEvent{Application: "bulk", Operation: "op", OccurredAt: int64(i)}
	}
	if err := e.Enqueue(events); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	e.Stop()

	if e.State() != model.Stopped {
		t.Fatalf("state after Stop = %v, want Stopped", e.State())
	}
	if depth := e.ingestDepth(); depth != 0 {
		t.Fatalf("ingest queue depth after shutdown = %d, want 0", depth)
	}
}

func TestEngineReloadRulesAppliesNewRuleSet(t *testing.T) {
	storage := &memRuleStorage{}
	sink := &recordingSink{}
	e := New()
	if err := e.Start(storage, sink); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer e.Stop()

	if err := e.Enqueue([]model.SystemEvent{{Application: "checkout", Operation: "charge", OccurredAt: 0}}); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	waitUntil(t, time.Second, func() bool {
		_, ok := e.registry.Get("checkout")
		return ok
	})

	storage.mu.Lock()
	storage.docs = []rules.AnalyzeRule{newBurstRule(t, "checkout")}
	storage.mu.Unlock()

	if err := e.ReloadRules("checkout"); err != nil {
		t.Fatalf("ReloadRules: %v", err)
	}

	events := []model.SystemEvent{
		{Application: "checkout", Operation: "charge", OccurredAt: 0},
		{Application: "checkout", Operation: "charge", OccurredAt: 10},
		{Application: "checkout", Operation: "charge", OccurredAt: 20},
	}
	if err := e.Enqueue(events); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	waitUntil(t, time.Second, func() bool { return sink.count() >= 1 })
}

func TestEngineEngineMessagesBounded(t *testing.T) {
	e := New()
	for i := 0; i < maxEngineMessages+10; i++ {
		e.LogMessage(model.EngineMessage{Text: "x", At: int64(i)})
	}
	if got := len(e.EngineMessages()); got != maxEngineMessages {
		t.Fatalf("len(EngineMessages()) = %d, want %d", got, maxEngineMessages)
	}
}
