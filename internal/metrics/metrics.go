// Package metrics exposes engine counters and gauges through
// github.com/prometheus/client_golang, grounded on the teacher's
// setupMetricsMux wiring in cmd/mirador-nrt-aggregator/main.go.
package metrics

import (
	"net/http"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector owns the engine's Prometheus instruments. It also mirrors
// each value into a plain atomic so AnalyzerEngine.MetricsSnapshot() can return a
// Snapshot without gathering the whole registry. The zero value is not
// usable; build one with New.
type Collector struct {
	registry *prometheus.Registry

	eventsIngestedVec prometheus.Counter
	alarmsRaisedVec   *prometheus.CounterVec
	analyzerCountVec  prometheus.Gauge
	dispatchDepthVec  prometheus.Gauge
	ruleFaultsVec     prometheus.Counter

	eventsIngested int64
	alarmsRaised   int64
	analyzerCount  int64
	dispatchDepth  int64
	ruleFaults     int64
}

// New builds a Collector registered against a private Prometheus
// registry, so multiple engines in the same process (e.g. in tests)
// never collide on metric names.
func New() *Collector {
	reg := prometheus.NewRegistry()
	return &Collector{
		registry: reg,
		eventsIngestedVec: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Name: "healthwatch_events_ingested_total",
			Help: "Total SystemEvents accepted by AnalyzerEngine.Enqueue.",
		}),
		alarmsRaisedVec: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "healthwatch_alarms_raised_total",
			Help: "Total AlarmMessages published, by level.",
		}, []string{"level"}),
		analyzerCountVec: promauto.With(reg).NewGauge(prometheus.GaugeOpts{
			Name: "healthwatch_analyzers",
			Help: "Number of ProgramAnalyzers currently registered.",
		}),
		dispatchDepthVec: promauto.With(reg).NewGauge(prometheus.GaugeOpts{
			Name: "healthwatch_ingest_queue_depth",
			Help: "Number of events waiting in the engine's ingest queue.",
		}),
		ruleFaultsVec: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Name: "healthwatch_rule_faults_total",
			Help: "Total rule evaluations that panicked and were recovered.",
		}),
	}
}

// Handler returns the promhttp.Handler serving this Collector's registry.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

func (c *Collector) IncEventsIngested(n int) {
	c.eventsIngestedVec.Add(float64(n))
	atomic.AddInt64(&c.eventsIngested, int64(n))
}

func (c *Collector) IncAlarmsRaised(level string) {
	c.alarmsRaisedVec.WithLabelValues(level).Inc()
	atomic.AddInt64(&c.alarmsRaised, 1)
}

func (c *Collector) SetAnalyzerCount(n int) {
	c.analyzerCountVec.Set(float64(n))
	atomic.StoreInt64(&c.analyzerCount, int64(n))
}

func (c *Collector) SetDispatchQueueDepth(n int) {
	c.dispatchDepthVec.Set(float64(n))
	atomic.StoreInt64(&c.dispatchDepth, int64(n))
}

func (c *Collector) IncRuleFaults() {
	c.ruleFaultsVec.Inc()
	atomic.AddInt64(&c.ruleFaults, 1)
}

// Snapshot is a best-effort point-in-time read of the counters, used by
// AnalyzerEngine.MetricsSnapshot() and in tests where scraping the HTTP handler
// would be overkill.
type Snapshot struct {
	EventsIngested    int64
	AlarmsRaised      int64
	AnalyzerCount     int64
	DispatchQueueSize int64
	RuleFaults        int64
}

func (c *Collector) Snapshot() Snapshot {
	return Snapshot{
		EventsIngested:    atomic.LoadInt64(&c.eventsIngested),
		AlarmsRaised:      atomic.LoadInt64(&c.alarmsRaised),
		AnalyzerCount:     atomic.LoadInt64(&c.analyzerCount),
		DispatchQueueSize: atomic.LoadInt64(&c.dispatchDepth),
		RuleFaults:        atomic.LoadInt64(&c.ruleFaults),
	}
}
