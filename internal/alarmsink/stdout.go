package alarmsink

import (
	"encoding/json"
	"log"
	"os"

	"github.com/platformbuilds/healthwatch-engine/internal/model"
)

// StdoutSink logs each alarm as a JSON line through a dedicated logger,
// grounded verbatim on internal/exporters/stdout/stdout.go.
type StdoutSink struct {
	logger *log.Logger
	pretty bool
}

// NewStdoutSink builds a StdoutSink. pretty indents the JSON payload,
// mirroring the teacher's "pretty" exporter flag.
func NewStdoutSink(pretty bool) *StdoutSink {
	return &StdoutSink{
		logger: log.New(os.Stdout, "[stdout-alarmsink] ", log.LstdFlags),
		pretty: pretty,
	}
}

func (s *StdoutSink) RaiseAlarm(alarm model.AlarmMessage) {
	payload := map[string]any{
		"application": alarm.Application,
		"rule_name":   alarm.RuleName,
		"level":       alarm.Level.String(),
		"summary":     alarm.Summary,
		"detail":      alarm.Detail,
		"raised_at":   alarm.RaisedAt,
	}
	if alarm.SourceEventID != nil {
		payload["event_id"] = alarm.SourceEventID.Encode()
	}
	b, err := s.marshal(payload)
	if err != nil {
		s.logger.Printf("marshal failed: %v", err)
		return
	}
	s.logger.Printf("%s", b)
}

func (s *StdoutSink) marshal(payload map[string]any) ([]byte, error) {
	if s.pretty {
		return json.MarshalIndent(payload, "", "  ")
	}
	return json.Marshal(payload)
}
