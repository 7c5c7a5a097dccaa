// Package config loads healthwatch-engine's single YAML configuration
// document. Grounded on the teacher's internal/config/config.go: a
// top-level map per concern, each entry carrying a type discriminator plus
// an inline Extra map, normalized via composite "type/name" keys.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration object.
type Config struct {
	Engine      EngineCfg                `yaml:"engine"`
	RuleStorage RuleStorageCfg           `yaml:"rule_storage"`
	AlarmSinks  map[string]AlarmSinkCfg  `yaml:"alarm_sink"`
	Ingest      map[string]IngestCfg     `yaml:"ingest"`
}

// EngineCfg configures the AnalyzerEngine's own knobs.
type EngineCfg struct {
	ShutdownGrace time.Duration `yaml:"shutdown_grace,omitempty"`
	MetricsAddr   string        `yaml:"metrics_addr,omitempty"`
	ArchiveAddr   string        `yaml:"archive_addr,omitempty"`
}

// RuleStorageCfg selects and parameterizes a rulestorage.RuleStorage.
// Type is currently only "file"; Extra carries "path" and, for reload,
// "watch_interval".
type RuleStorageCfg struct {
	Type  string         `yaml:"type"`
	Extra map[string]any `yaml:",inline"`
}

// AlarmSinkCfg is one entry of the alarm_sink fan-out map. Every configured
// entry is wired into an alarmsink.MultiSink.
type AlarmSinkCfg struct {
	Name  string         `yaml:"-"`
	Type  string         `yaml:"type"`
	Extra map[string]any `yaml:",inline"`
}

// IngestCfg is one entry of the ingest map: a named transport adapter
// (kafka, pulsar, httpjson) feeding AnalyzerEngine.Enqueue.
type IngestCfg struct {
	Name  string         `yaml:"-"`
	Type  string         `yaml:"type"`
	Extra map[string]any `yaml:",inline"`
}

// Load reads YAML config into a Config struct and normalizes composite
// "type/name" keys on the alarm_sink and ingest maps.
func Load(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	var cfg Config
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}

	for k, v := range cfg.AlarmSinks {
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
		cfg.AlarmSinks[k] = v
	}

	for k, v := range cfg.Ingest {
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
		cfg.Ingest[k] = v
	}

	if cfg.RuleStorage.Extra == nil {
		cfg.RuleStorage.Extra = map[string]any{}
	}

	return &cfg, nil
}

// splitKey lets a YAML key be written "type/name"; lifted verbatim from the
// teacher's own splitKey.
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

func extraString(m map[string]any, key, def string) string {
	if m == nil {
		return def
	}
	if v, ok := m[key]; ok {
		if s, ok2 := v.(string); ok2 {
			return s
		}
	}
	return def
}

func extraBool(m map[string]any, key string, def bool) bool {
	if m == nil {
		return def
	}
	if v, ok := m[key]; ok {
		if b, ok2 := v.(bool); ok2 {
			return b
		}
	}
	return def
}

func extraInt(m map[string]any, key string, def int) int {
	if m == nil {
		return def
	}
	if v, ok := m[key]; ok {
		switch n := v.(type) {
		case int:
			return n
		case float64:
			return int(n)
		}
	}
	return def
}

func extraStrings(m map[string]any, key string) []string {
	if m == nil {
		return nil
	}
	v, ok := m[key]
	if !ok {
		return nil
	}
	list, ok := v.([]any)
	if !ok {
		return nil
	}
	out := make([]string, 0, len(list))
	for _, item := range list {
		if s, ok := item.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

func extraDuration(m map[string]any, key string, def time.Duration) time.Duration {
	s := extraString(m, key, "")
	if s == "" {
		return def
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return def
	}
	return d
}

// ExtraString reads a string field from RuleStorageCfg.Extra.
func (c RuleStorageCfg) ExtraString(key, def string) string { return extraString(c.Extra, key, def) }

// ExtraDuration reads a duration field from RuleStorageCfg.Extra.
func (c RuleStorageCfg) ExtraDuration(key string, def time.Duration) time.Duration {
	return extraDuration(c.Extra, key, def)
}

// ExtraString reads a string field from AlarmSinkCfg.Extra.
func (c AlarmSinkCfg) ExtraString(key, def string) string { return extraString(c.Extra, key, def) }

// ExtraBool reads a bool field from AlarmSinkCfg.Extra.
func (c AlarmSinkCfg) ExtraBool(key string, def bool) bool { return extraBool(c.Extra, key, def) }

// ExtraInt reads an int field from AlarmSinkCfg.Extra.
func (c AlarmSinkCfg) ExtraInt(key string, def int) int { return extraInt(c.Extra, key, def) }

// ExtraString reads a string field from IngestCfg.Extra.
func (c IngestCfg) ExtraString(key, def string) string { return extraString(c.Extra, key, def) }

// ExtraBool reads a bool field from IngestCfg.Extra.
func (c IngestCfg) ExtraBool(key string, def bool) bool { return extraBool(c.Extra, key, def) }

// ExtraInt reads an int field from IngestCfg.Extra.
func (c IngestCfg) ExtraInt(key string, def int) int { return extraInt(c.Extra, key, def) }

// ExtraStrings reads a string-list field from IngestCfg.Extra.
func (c IngestCfg) ExtraStrings(key string) []string { return extraStrings(c.Extra, key) }
