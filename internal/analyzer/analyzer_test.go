package analyzer

import (
	"sync"
	"testing"
	"time"

	"github.com/platformbuilds/healthwatch-engine/internal/metrics"
	"github.com/platformbuilds/healthwatch-engine/internal/model"
	"github.com/platformbuilds/healthwatch-engine/internal/rules"
)

type stubSink struct {
	mu     sync.Mutex
	alarms []model.AlarmMessage
}

func (s *stubSink) RaiseAlarm(alarm model.AlarmMessage) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.alarms = append(s.alarms, alarm)
}

func (s *stubSink) snapshot() []model.AlarmMessage {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]model.AlarmMessage, len(s.alarms))
	copy(out, s.alarms)
	return out
}

type stubDiagnostics struct {
	mu       sync.Mutex
	messages []model.EngineMessage
}

func (d *stubDiagnostics) LogMessage(msg model.EngineMessage) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.messages = append(d.messages, msg)
}

func waitUntil(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatal("condition not met before timeout")
}

func TestAnalyzerAddOrReplaceRuleAdoptsProgramName(t *testing.T) {
	a := New("", &stubSink{}, &stubDiagnostics{})
	r, err := rules.NewThresholdWithinWindow(rules.ThresholdConfig{
		RuleName:    "r1",
		ProgramName: "X",
		Threshold:   1,
		Window:      time.Minute,
	})
	if err != nil {
		t.Fatalf("NewThresholdWithinWindow: %v", err)
	}
	if err := a.AddOrReplaceRule(r); err != nil {
		t.Fatalf("AddOrReplaceRule: %v", err)
	}
	if a.ProgramName() != "X" {
		t.Fatalf("ProgramName() = %q, want %q", a.ProgramName(), "X")
	}
}

func TestAnalyzerAddOrReplaceRuleRejectsMismatch(t *testing.T) {
	a := New("X", &stubSink{}, &stubDiagnostics{})
	r, err := rules.NewThresholdWithinWindow(rules.ThresholdConfig{
		RuleName:    "r1",
		ProgramName: "Y",
		Threshold:   1,
		Window:      time.Minute,
	})
	if err != nil {
		t.Fatalf("NewThresholdWithinWindow: %v", err)
	}
	if err := a.AddOrReplaceRule(r); err == nil {
		t.Fatal("expected ProgramMismatch error")
	}
	if a.ruleSet.Len() != 0 {
		t.Fatal("RuleSet must be unchanged after a rejected add")
	}
}

func TestAnalyzerEvaluatesEventsInOrderAndPublishesAlarm(t *testing.T) {
	sink := &stubSink{}
	a := New("X", sink, &stubDiagnostics{})
	r, err := rules.NewThresholdWithinWindow(rules.ThresholdConfig{
		RuleName:    "burst",
		ProgramName: "X",
		Threshold:   3,
		Window:      time.Minute,
		AlarmLevel:  model.High,
	})
	if err != nil {
		t.Fatalf("NewThresholdWithinWindow: %v", err)
	}
	if err := a.AddOrReplaceRule(r); err != nil {
		t.Fatalf("AddOrReplaceRule: %v", err)
	}

	a.StartAnalyzerTask()
	for _, at := range []int64{0, 10, 20, 30} {
		a.AddEvent(model.SystemEvent{Application: "X", OccurredAt: at})
	}

	waitUntil(t, time.Second, func() bool { return len(sink.snapshot()) == 1 })
	alarms := sink.snapshot()
	if alarms[0].RuleName != "burst" || alarms[0].Level != model.High {
		t.Fatalf("unexpected alarm: %+v", alarms[0])
	}

	a.StopAnalyzer()
	waitUntil(t, time.Second, func() bool { return a.State() == model.Stopped })
}

func TestAnalyzerUnloadAllRulesCancelsTimers(t *testing.T) {
	sink := &stubSink{}
	a := New("Y", sink, &stubDiagnostics{})
	r, err := rules.NewTimeBetweenOperations(rules.TimeBetweenConfig{
		RuleName:    "gap",
		ProgramName: "Y",
		MaxGap:      10 * time.Millisecond,
	})
	if err != nil {
		t.Fatalf("NewTimeBetweenOperations: %v", err)
	}
	if err := a.AddOrReplaceRule(r); err != nil {
		t.Fatalf("AddOrReplaceRule: %v", err)
	}

	a.StartAnalyzerTask()
	a.AddEvent(model.SystemEvent{Application: "Y"})
	waitUntil(t, time.Second, func() bool { return a.ruleSet.Len() == 1 })
	a.UnloadAllRules()

	time.Sleep(50 * time.Millisecond)
	if len(sink.snapshot()) != 0 {
		t.Fatalf("expected no alarms after unloading rules, got %+v", sink.snapshot())
	}
	a.StopAnalyzer()
}

func TestAnalyzerRecoversFromRulePanic(t *testing.T) {
	sink := &stubSink{}
	diags := &stubDiagnostics{}
	a := New("X", sink, diags)
	a.ruleSet.AddOrReplace(panickyRule{programName: "X"})

	a.StartAnalyzerTask()
	a.AddEvent(model.SystemEvent{Application: "X"})

	waitUntil(t, time.Second, func() bool {
		diags.mu.Lock()
		defer diags.mu.Unlock()
		return len(diags.messages) == 1
	})
	alarms := sink.snapshot()
	if len(alarms) != 1 || alarms[0].Level != model.Medium {
		t.Fatalf("expected one Medium fault alarm, got %+v", alarms)
	}
	if a.State() != model.Running {
		t.Fatal("a single rule panic must not stop the analyzer")
	}
	a.StopAnalyzer()
}

func TestAnalyzerEvaluateOneRecoverIncrementsRuleFaultMetric(t *testing.T) {
	sink := &stubSink{}
	diags := &stubDiagnostics{}
	a := New("X", sink, diags)
	a.Metrics = metrics.New()
	a.ruleSet.AddOrReplace(panickyRule{programName: "X"})

	a.StartAnalyzerTask()
	a.AddEvent(model.SystemEvent{Application: "X"})

	waitUntil(t, time.Second, func() bool { return a.Metrics.Snapshot().RuleFaults == 1 })
	a.StopAnalyzer()
}

// TestAnalyzerRunRecoversFromEvaluateLoopPanic exercises run()'s own
// recover, distinct from evaluateOne's per-rule recover: matchPanicsRule
// panics inside RuleSet.MatchingRules, which runs synchronously in
// evaluate() before any per-rule goroutine (and its recover) exists.
func TestAnalyzerRunRecoversFromEvaluateLoopPanic(t *testing.T) {
	sink := &stubSink{}
	diags := &stubDiagnostics{}
	a := New("X", sink, diags)
	a.ruleSet.AddOrReplace(matchPanicsRule{programName: "X"})

	a.StartAnalyzerTask()
	a.AddEvent(model.SystemEvent{Application: "X"})

	waitUntil(t, time.Second, func() bool { return a.State() == model.Stopped })
	waitUntil(t, time.Second, func() bool { return len(sink.snapshot()) == 1 })

	alarms := sink.snapshot()
	if alarms[0].Level != model.Medium || alarms[0].Application != "X" {
		t.Fatalf("expected a Medium analyzer-fault alarm naming the program, got %+v", alarms[0])
	}
	diags.mu.Lock()
	n := len(diags.messages)
	diags.mu.Unlock()
	if n != 1 {
		t.Fatalf("expected one diagnostic message, got %d", n)
	}
}

type matchPanicsRule struct{ programName string }

func (matchPanicsRule) Name() string                      { return "match-panics" }
func (r matchPanicsRule) ProgramName() string             { return r.programName }
func (matchPanicsRule) OperationName() string             { return "" }
func (matchPanicsRule) AlarmLevel() model.AlarmLevel      { return model.Critical }
func (matchPanicsRule) Matches(model.SystemEvent) bool    { panic("matches boom") }
func (matchPanicsRule) AddAndCheckIfTriggered(model.SystemEvent) bool {
	return false
}
func (matchPanicsRule) Reset() {}
func (matchPanicsRule) Close() {}
func (r matchPanicsRule) BuildAlarm(event model.SystemEvent) model.AlarmMessage {
	return model.AlarmMessage{Application: r.programName, RuleName: "match-panics"}
}

type panickyRule struct{ programName string }

func (panickyRule) Name() string                 { return "panicky" }
func (r panickyRule) ProgramName() string        { return r.programName }
func (panickyRule) OperationName() string        { return "" }
func (panickyRule) AlarmLevel() model.AlarmLevel { return model.Critical }
func (panickyRule) Matches(model.SystemEvent) bool { return true }
func (panickyRule) AddAndCheckIfTriggered(model.SystemEvent) bool {
	panic("boom")
}
func (panickyRule) Reset() {}
func (panickyRule) Close() {}
func (r panickyRule) BuildAlarm(event model.SystemEvent) model.AlarmMessage {
	return model.AlarmMessage{Application: r.programName, RuleName: "panicky"}
}
