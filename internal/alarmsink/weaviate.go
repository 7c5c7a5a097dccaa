package alarmsink

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"text/template"
	"time"

	"github.com/platformbuilds/healthwatch-engine/internal/model"
)

// WeaviateSink POSTs each alarm to a Weaviate instance's /v1/objects
// endpoint with a hash-embedded vector, grounded on
// internal/exporters/weaviate/weaviate.go's upsert/renderID shape.
type WeaviateSink struct {
	endpoint   string
	class      string
	idTemplate *template.Template
	client     *http.Client
	embedder   *hashEmbedder
}

// WeaviateConfig configures a WeaviateSink.
type WeaviateConfig struct {
	Endpoint   string
	Class      string
	IDTemplate string // defaults to "{{.Application}}:{{.RaisedAt}}"
	HashDim    int
	HashNGrams int
}

// NewWeaviateSink builds a WeaviateSink. It returns an error only if
// IDTemplate fails to parse; network issues surface per-alarm in
// RaiseAlarm's log line, never here.
func NewWeaviateSink(cfg WeaviateConfig) (*WeaviateSink, error) {
	tmpl := cfg.IDTemplate
	if tmpl == "" {
		tmpl = "{{.Application}}:{{.RaisedAt}}"
	}
	tt, err := template.New("id").Parse(tmpl)
	if err != nil {
		return nil, fmt.Errorf("alarmsink: invalid id template: %w", err)
	}
	return &WeaviateSink{
		endpoint:   strings.TrimSuffix(cfg.Endpoint, "/"),
		class:      cfg.Class,
		idTemplate: tt,
		client:     &http.Client{Timeout: 10 * time.Second},
		embedder:   newHashEmbedder(cfg.HashDim, cfg.HashNGrams),
	}, nil
}

func (s *WeaviateSink) RaiseAlarm(alarm model.AlarmMessage) {
	if err := s.upsert(context.Background(), alarm); err != nil {
		log.Printf("[weaviate-alarmsink] upsert failed: %v", err)
	}
}

func (s *WeaviateSink) upsert(ctx context.Context, alarm model.AlarmMessage) error {
	id := s.renderID(alarm)
	vector := s.embedder.embed(alarm.Summary + " " + alarm.Detail)

	properties := map[string]any{
		"application": alarm.Application,
		"rule_name":   alarm.RuleName,
		"level":       alarm.Level.String(),
		"summary":     alarm.Summary,
		"detail":      alarm.Detail,
		"raised_at":   alarm.RaisedAt,
	}
	if alarm.SourceEventID != nil {
		properties["event_id"] = alarm.SourceEventID.Encode()
	}
	body := map[string]any{
		"class":      s.class,
		"id":         id,
		"vector":     vector,
		"properties": properties,
	}
	b, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshal alarm object: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.endpoint+"/v1/objects", bytes.NewReader(b))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode == http.StatusConflict {
		return nil
	}
	if resp.StatusCode >= 300 {
		return fmt.Errorf("weaviate HTTP %d", resp.StatusCode)
	}
	return nil
}

func (s *WeaviateSink) renderID(alarm model.AlarmMessage) string {
	var sb strings.Builder
	if err := s.idTemplate.Execute(&sb, alarm); err != nil {
		return fmt.Sprintf("%s:%d", alarm.Application, alarm.RaisedAt)
	}
	return sb.String()
}

// Close releases the underlying HTTP client's idle connections. It
// satisfies io.Closer so AnalyzerEngine can close the sink during stop().
func (s *WeaviateSink) Close() error {
	s.client.CloseIdleConnections()
	return nil
}
