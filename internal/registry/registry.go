// Package registry implements AnalyzerRegistry: a concurrent-safe
// insert-or-get mapping from application name to ProgramAnalyzer.
package registry

import (
	"sync"

	"github.com/platformbuilds/healthwatch-engine/internal/analyzer"
)

// AnalyzerRegistry maps application name to *analyzer.Analyzer. Lookups
// and inserts use sync.Map's atomic LoadOrStore so two concurrent
// dispatch goroutines racing to create the same program's analyzer never
// both win; the loser simply observes the winner's value. This avoids
// the bounded-spin-on-registry-lookup pattern of a naive concurrent map.
type AnalyzerRegistry struct {
	m sync.Map // string -> *analyzer.Analyzer
}

// GetOrCreate returns the existing analyzer for programName, or atomically
// installs and returns newAnalyzer() if none exists yet. newAnalyzer is
// only invoked when an insert is actually needed.
func (r *AnalyzerRegistry) GetOrCreate(programName string, newAnalyzer func() *analyzer.Analyzer) *analyzer.Analyzer {
	if existing, ok := r.m.Load(programName); ok {
		return existing.(*analyzer.Analyzer)
	}
	candidate := newAnalyzer()
	actual, loaded := r.m.LoadOrStore(programName, candidate)
	if loaded {
		return actual.(*analyzer.Analyzer)
	}
	return candidate
}

// Get returns the analyzer for programName, if one exists.
func (r *AnalyzerRegistry) Get(programName string) (*analyzer.Analyzer, bool) {
	v, ok := r.m.Load(programName)
	if !ok {
		return nil, false
	}
	return v.(*analyzer.Analyzer), true
}

// Snapshot returns the current (programName, state) pairs. Best-effort;
// not transactionally consistent with concurrent inserts.
func (r *AnalyzerRegistry) Snapshot() map[string]string {
	out := make(map[string]string)
	r.m.Range(func(key, value any) bool {
		out[key.(string)] = value.(*analyzer.Analyzer).State().String()
		return true
	})
	return out
}

// Each calls fn for every currently registered analyzer.
func (r *AnalyzerRegistry) Each(fn func(programName string, a *analyzer.Analyzer)) {
	r.m.Range(func(key, value any) bool {
		fn(key.(string), value.(*analyzer.Analyzer))
		return true
	})
}
