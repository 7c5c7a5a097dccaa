// Package alarmsink implements the AlarmSink external contract from spec
// §6: async, best-effort, fire-and-forget alarm publishing. Failure to
// publish must not crash an analyzer — every sink here logs and returns
// rather than propagating.
package alarmsink

import "github.com/platformbuilds/healthwatch-engine/internal/model"

// AlarmSink receives alarms raised by rules.
type AlarmSink interface {
	RaiseAlarm(alarm model.AlarmMessage)
}

// MultiSink fans an alarm out to every configured sink, so an operator
// can run stdout and weaviate side by side.
type MultiSink struct {
	Sinks []AlarmSink
}

func (m MultiSink) RaiseAlarm(alarm model.AlarmMessage) {
	for _, s := range m.Sinks {
		s.RaiseAlarm(alarm)
	}
}

// Close closes every member sink that implements io.Closer, so
// AnalyzerEngine's shutdown-time close reaches HTTP-backed sinks (e.g.
// weaviate) even when they're wrapped in a MultiSink.
func (m MultiSink) Close() error {
	var first error
	for _, s := range m.Sinks {
		if closer, ok := s.(interface{ Close() error }); ok {
			if err := closer.Close(); err != nil && first == nil {
				first = err
			}
		}
	}
	return first
}
