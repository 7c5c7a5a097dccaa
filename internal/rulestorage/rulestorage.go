// Package rulestorage implements the RuleStorage external contract from
// spec §6: a read-only source of rule definitions, queried at startup and
// on explicit reload. The YAML document shape and type/name composite-key
// normalization are grounded on internal/config/config.go.
package rulestorage

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/platformbuilds/healthwatch-engine/internal/model"
	"github.com/platformbuilds/healthwatch-engine/internal/rules"
)

// RuleStorage is the read-only contract the engine queries at startup and
// on reloadRules. Implementations must return independent rule instances
// with no shared mutable state.
type RuleStorage interface {
	GetAllRules() ([]rules.AnalyzeRule, error)
	GetRulesForApplication(programName string) ([]rules.AnalyzeRule, error)
}

// RuleDoc is one rule definition as read from YAML. Type selects the
// concrete AnalyzeRule variant; variant-specific parameters travel in
// Extra, the same type/name+inline-extra shape config.ProcessorCfg uses.
type RuleDoc struct {
	Name         string         `yaml:"-"`
	ProgramName  string         `yaml:"program"`
	Operation    string         `yaml:"operation,omitempty"`
	Type         string         `yaml:"type"`
	AlarmLevel   string         `yaml:"alarm_level,omitempty"`
	AlarmMessage string         `yaml:"alarm_message,omitempty"`
	Extra        map[string]any `yaml:",inline"`
}

// ExtraString reads a string field from Extra, or def if absent/wrong type.
func (d RuleDoc) ExtraString(key, def string) string {
	if d.Extra == nil {
		return def
	}
	if v, ok := d.Extra[key]; ok {
		if s, ok2 := v.(string); ok2 {
			return s
		}
	}
	return def
}

// ExtraInt reads an integer field from Extra, or def if absent/wrong type.
func (d RuleDoc) ExtraInt(key string, def int) int {
	if d.Extra == nil {
		return def
	}
	if v, ok := d.Extra[key]; ok {
		switch n := v.(type) {
		case int:
			return n
		case float64:
			return int(n)
		}
	}
	return def
}

// ExtraFloat reads a float field from Extra, or def if absent/wrong type.
func (d RuleDoc) ExtraFloat(key string, def float64) float64 {
	if d.Extra == nil {
		return def
	}
	if v, ok := d.Extra[key]; ok {
		switch n := v.(type) {
		case float64:
			return n
		case int:
			return float64(n)
		}
	}
	return def
}

// ExtraDuration reads a duration field (parsed with time.ParseDuration)
// from Extra, or def if absent/unparsable.
func (d RuleDoc) ExtraDuration(key string, def time.Duration) time.Duration {
	s := d.ExtraString(key, "")
	if s == "" {
		return def
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return def
	}
	return parsed
}

func alarmLevel(s string) model.AlarmLevel {
	switch strings.ToLower(s) {
	case "low":
		return model.Low
	case "high":
		return model.High
	case "critical":
		return model.Critical
	default:
		return model.Medium
	}
}

// Build converts a RuleDoc into a concrete rules.AnalyzeRule, grounded on
// pipeline.buildProcessors' type-switch factory shape.
func Build(doc RuleDoc) (rules.AnalyzeRule, error) {
	level := alarmLevel(doc.AlarmLevel)

	switch doc.Type {
	case "threshold_within_window":
		return rules.NewThresholdWithinWindow(rules.ThresholdConfig{
			RuleName:      doc.Name,
			ProgramName:   doc.ProgramName,
			OperationName: doc.Operation,
			AlarmLevel:    level,
			AlarmMessage:  doc.AlarmMessage,
			Threshold:     doc.ExtraInt("threshold", 1),
			Window:        doc.ExtraDuration("window", time.Minute),
			FilterExpr:    doc.ExtraString("filter_expr", ""),
		})
	case "time_between_operations":
		return rules.NewTimeBetweenOperations(rules.TimeBetweenConfig{
			RuleName:      doc.Name,
			ProgramName:   doc.ProgramName,
			OperationName: doc.Operation,
			AlarmLevel:    level,
			AlarmMessage:  doc.AlarmMessage,
			MaxGap:        doc.ExtraDuration("max_gap", time.Minute),
		})
	case "latency_percentile":
		return rules.NewLatencyPercentile(rules.LatencyConfig{
			RuleName:      doc.Name,
			ProgramName:   doc.ProgramName,
			OperationName: doc.Operation,
			AlarmLevel:    level,
			AlarmMessage:  doc.AlarmMessage,
			Quantile:      doc.ExtraFloat("quantile", 0.95),
			MaxDuration:   doc.ExtraDuration("max_duration", time.Second),
			WindowCount:   doc.ExtraInt("window_count", 100),
			FilterExpr:    doc.ExtraString("filter_expr", ""),
		})
	default:
		return nil, fmt.Errorf("rulestorage: unknown rule type %q for rule %q", doc.Type, doc.Name)
	}
}

// splitKey lets a YAML key be written "type/name"; lifted verbatim from
// config.splitKey.
func splitKey(k string) (typ, name string) {
	if k == "" {
		return "", ""
	}
	parts := strings.SplitN(k, "/", 2)
	if len(parts) == 1 {
		return parts[0], parts[0]
	}
	return parts[0], parts[1]
}

type fileDocument struct {
	Rules map[string]RuleDoc `yaml:"rules"`
}

// FileStore is a YAML-file-backed RuleStorage. It re-reads and
// re-validates the file on every call, so an operator editing the file
// between calls to GetAllRules/GetRulesForApplication sees the new
// content without a restart (WatchFile builds on this for push-style
// reload).
type FileStore struct {
	Path string
}

// NewFileStore builds a FileStore reading rule documents from path.
func NewFileStore(path string) *FileStore {
	return &FileStore{Path: path}
}

func (f *FileStore) loadDocs() (map[string]RuleDoc, error) {
	b, err := os.ReadFile(f.Path)
	if err != nil {
		return nil, fmt.Errorf("rulestorage: read %s: %w", f.Path, err)
	}
	var doc fileDocument
	if err := yaml.Unmarshal(b, &doc); err != nil {
		return nil, fmt.Errorf("rulestorage: parse %s: %w", f.Path, err)
	}
	for k, v := range doc.Rules {
		typ, name := splitKey(k)
		if v.Type == "" {
			v.Type = typ
		}
		if v.Name == "" {
			v.Name = name
		}
		if v.Extra == nil {
			v.Extra = map[string]any{}
		}
		doc.Rules[k] = v
	}
	return doc.Rules, nil
}

// GetAllRules builds every rule document in the file into independent
// AnalyzeRule instances.
func (f *FileStore) GetAllRules() ([]rules.AnalyzeRule, error) {
	docs, err := f.loadDocs()
	if err != nil {
		return nil, err
	}
	out := make([]rules.AnalyzeRule, 0, len(docs))
	for _, d := range docs {
		r, err := Build(d)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, nil
}

// GetRulesForApplication builds only the rule documents whose program
// matches programName.
func (f *FileStore) GetRulesForApplication(programName string) ([]rules.AnalyzeRule, error) {
	docs, err := f.loadDocs()
	if err != nil {
		return nil, err
	}
	out := make([]rules.AnalyzeRule, 0)
	for _, d := range docs {
		if d.ProgramName != programName {
			continue
		}
		r, err := Build(d)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, nil
}

// MemoryStore is an in-memory RuleStorage for tests, grounded on the
// teacher's hand-rolled stub pattern (pipeline_test.go's
// stubReceiver/stubProcessor).
type MemoryStore struct {
	Docs []RuleDoc
}

func (m *MemoryStore) GetAllRules() ([]rules.AnalyzeRule, error) {
	out := make([]rules.AnalyzeRule, 0, len(m.Docs))
	for _, d := range m.Docs {
		r, err := Build(d)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, nil
}

func (m *MemoryStore) GetRulesForApplication(programName string) ([]rules.AnalyzeRule, error) {
	out := make([]rules.AnalyzeRule, 0)
	for _, d := range m.Docs {
		if d.ProgramName != programName {
			continue
		}
		r, err := Build(d)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, nil
}
