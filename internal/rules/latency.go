package rules

import (
	"fmt"
	"sync"
	"time"

	tdigest "github.com/caio/go-tdigest/v4"

	"github.com/platformbuilds/healthwatch-engine/internal/model"
)

// LatencyConfig parameterizes LatencyPercentile.
type LatencyConfig struct {
	RuleName      string
	ProgramName   string
	OperationName string
	AlarmLevel    model.AlarmLevel
	AlarmMessage  string

	// Quantile is the estimated percentile to check, e.g. 0.95.
	Quantile float64
	// MaxDuration is the bound the estimate must not exceed.
	MaxDuration time.Duration
	// WindowCount is how many of the most recent matching-event durations
	// feed the digest; older samples are dropped.
	WindowCount int
	// FilterExpr is an optional CEL boolean expression restricting which
	// events are sampled.
	FilterExpr string
}

// LatencyPercentile is a supplemental AnalyzeRule variant that watches
// for slow operations: it feeds each matching event's duration into a
// rolling t-digest and triggers when the estimated Quantile exceeds
// MaxDuration. Cooldown mirrors ThresholdWithinWindow: no re-trigger
// until the estimate falls back under the bound.
type LatencyPercentile struct {
	base
	quantile    float64
	maxDuration time.Duration
	windowCount int
	predicate   EventPredicate

	mu       sync.Mutex
	samples  []float64 // milliseconds, oldest first, capped at windowCount
	cooldown bool
}

// NewLatencyPercentile builds a LatencyPercentile rule.
func NewLatencyPercentile(cfg LatencyConfig) (*LatencyPercentile, error) {
	if cfg.Quantile <= 0 || cfg.Quantile >= 1 {
		return nil, fmt.Errorf("rules: quantile must be in (0,1), got %v", cfg.Quantile)
	}
	if cfg.MaxDuration <= 0 {
		return nil, fmt.Errorf("rules: maxDuration must be positive, got %s", cfg.MaxDuration)
	}
	if cfg.WindowCount <= 0 {
		return nil, fmt.Errorf("rules: windowCount must be positive, got %d", cfg.WindowCount)
	}
	pred := AlwaysTrue
	if cfg.FilterExpr != "" {
		pred = CompilePredicate(cfg.FilterExpr)
	}
	return &LatencyPercentile{
		base: base{
			ruleName:      cfg.RuleName,
			programName:   cfg.ProgramName,
			operationName: cfg.OperationName,
			alarmLevel:    cfg.AlarmLevel,
			alarmMessage:  cfg.AlarmMessage,
		},
		quantile:    cfg.Quantile,
		maxDuration: cfg.MaxDuration,
		windowCount: cfg.WindowCount,
		predicate:   pred,
	}, nil
}

// AddAndCheckIfTriggered reads the event's duration_ms parameter (the
// same convention span-duration processors in the pack use), adds it to
// the rolling digest, and reports whether the estimated quantile now
// exceeds maxDuration and cooldown is not already active.
func (r *LatencyPercentile) AddAndCheckIfTriggered(event model.SystemEvent) bool {
	if !r.predicate(event) {
		return false
	}
	durationMS, ok := durationMillis(event)
	if !ok {
		return false
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	r.samples = append(r.samples, durationMS)
	if over := len(r.samples) - r.windowCount; over > 0 {
		r.samples = r.samples[over:]
	}

	td, err := tdigest.New()
	if err != nil {
		return false
	}
	for _, v := range r.samples {
		if err := td.Add(v); err != nil {
			return false
		}
	}

	estimate := td.Quantile(r.quantile)
	if estimate <= float64(r.maxDuration.Milliseconds()) {
		r.cooldown = false
		return false
	}
	if r.cooldown {
		return false
	}
	r.cooldown = true
	return true
}

func durationMillis(event model.SystemEvent) (float64, bool) {
	raw, ok := event.Parameters["duration_ms"]
	if !ok {
		return 0, false
	}
	switch v := raw.(type) {
	case float64:
		return v, true
	case float32:
		return float64(v), true
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	default:
		return 0, false
	}
}

func (r *LatencyPercentile) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.samples = nil
	r.cooldown = false
}

func (r *LatencyPercentile) Close() {}

func (r *LatencyPercentile) BuildAlarm(event model.SystemEvent) model.AlarmMessage {
	detail := fmt.Sprintf("p%.0f latency exceeded %s", r.quantile*100, r.maxDuration)
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
