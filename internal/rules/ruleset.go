package rules

import (
	"sync"

	"github.com/platformbuilds/healthwatch-engine/internal/model"
)

// RuleSet is the mapping from rule name to AnalyzeRule for one program.
// Zero value is usable. Safe for concurrent use.
type RuleSet struct {
	mu    sync.RWMutex
	rules map[string]AnalyzeRule
}

// AddOrReplace inserts rule under its Name, replacing and closing any
// existing rule with the same name (cancelling its pending timers first).
func (s *RuleSet) AddOrReplace(rule AnalyzeRule) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.rules == nil {
		s.rules = make(map[string]AnalyzeRule)
	}
	if old, ok := s.rules[rule.Name()]; ok && old != rule {
		old.Close()
	}
	s.rules[rule.Name()] = rule
}

// Clear cancels every rule's pending timers and empties the set.
func (s *RuleSet) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range s.rules {
		r.Close()
	}
	s.rules = make(map[string]AnalyzeRule)
}

// Get returns the rule registered under name, if any.
func (s *RuleSet) Get(name string) (AnalyzeRule, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.rules[name]
	return r, ok
}

// Len reports the number of installed rules.
func (s *RuleSet) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.rules)
}

// Snapshot returns a stable slice of the currently installed rules,
// suitable for fanning out over without holding the set's lock.
func (s *RuleSet) Snapshot() []AnalyzeRule {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]AnalyzeRule, 0, len(s.rules))
	for _, r := range s.rules {
		out = append(out, r)
	}
	return out
}

// MatchingRules returns the subset of installed rules whose operation
// filter accepts event.
func (s *RuleSet) MatchingRules(event model.SystemEvent) []AnalyzeRule {
	all := s.Snapshot()
	out := make([]AnalyzeRule, 0, len(all))
	for _, r := range all {
		if r.Matches(event) {
			out = append(out, r)
		}
	}
	return out
}
