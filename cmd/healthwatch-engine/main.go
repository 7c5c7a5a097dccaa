// Command healthwatch-engine wires AnalyzerEngine to its configured rule
// storage, alarm sinks, and ingest adapters, and serves /metrics and
// /livez, /readyz. Grounded line-for-line on
// cmd/mirador-nrt-aggregator/main.go's flag/env parsing, errgroup-based
// goroutine coordination, and health-mux shape.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"sync/atomic"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/platformbuilds/healthwatch-engine/internal/alarmsink"
	"github.com/platformbuilds/healthwatch-engine/internal/config"
	"github.com/platformbuilds/healthwatch-engine/internal/engine"
	"github.com/platformbuilds/healthwatch-engine/internal/eventarchive"
	"github.com/platformbuilds/healthwatch-engine/internal/ingest/httpjson"
	"github.com/platformbuilds/healthwatch-engine/internal/ingest/kafka"
	"github.com/platformbuilds/healthwatch-engine/internal/ingest/pulsar"
	"github.com/platformbuilds/healthwatch-engine/internal/metrics"
	"github.com/platformbuilds/healthwatch-engine/internal/rulestorage"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	defaultCfg := envOr("HEALTHWATCH_CONFIG", "config.yaml")
	var (
		cfgPath     = flag.String("config", defaultCfg, "Path to the config YAML")
		metricsAddr = flag.String("metrics.addr", envOr("HEALTHWATCH_METRICS_ADDR", ":9090"), "Prometheus metrics HTTP listen address")
		logTime     = flag.Bool("log.timestamps", true, "Include timestamps in log output")
	)
	flag.Parse()

	if *logTime {
		log.SetFlags(log.LstdFlags | log.Lmsgprefix)
	} else {
		log.SetFlags(0)
	}
	log.Printf("healthwatch-engine %s (commit %s, built %s)", version, commit, date)

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		log.Fatalf("config load failed: %v", err)
	}
	log.Printf("loaded config from %s with %d ingest source(s), %d alarm sink(s)", *cfgPath, len(cfg.Ingest), len(cfg.AlarmSinks))

	storage, err := buildRuleStorage(cfg.RuleStorage)
	if err != nil {
		log.Fatalf("rule storage: %v", err)
	}

	sink, err := buildAlarmSink(cfg.AlarmSinks)
	if err != nil {
		log.Fatalf("alarm sink: %v", err)
	}

	collector := metrics.New()
	eng := engine.New()
	eng.Metrics = collector
	if cfg.Engine.ShutdownGrace > 0 {
		eng.ShutdownGrace = cfg.Engine.ShutdownGrace
	}

	if err := eng.Start(storage, sink); err != nil {
		log.Fatalf("engine start failed: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 2)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	ready := &atomic.Bool{}
	ready.Store(true)

	metricsAddrResolved := *metricsAddr
	if cfg.Engine.MetricsAddr != "" {
		metricsAddrResolved = cfg.Engine.MetricsAddr
	}
	metricsSrv := &http.Server{
		Addr:              metricsAddrResolved,
		Handler:           setupMetricsMux(ready, collector),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		log.Printf("metrics: listening on %s", metricsAddrResolved)
		if err := metricsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Printf("metrics: server error: %v", err)
		}
	}()

	var g errgroup.Group

	for name, ic := range cfg.Ingest {
		name, ic := name, ic
		g.Go(func() error {
			if err := runIngest(ctx, name, ic, eng); err != nil {
				return fmt.Errorf("ingest %q: %w", name, err)
			}
			return nil
		})
	}

	if cfg.Engine.ArchiveAddr != "" {
		g.Go(func() error {
			store := eventarchive.NewMemoryStore(10000)
			srv := eventarchive.NewServer(cfg.Engine.ArchiveAddr, "/events/", store)
			return srv.Run(ctx)
		})
	}

	watchEligible := cfg.RuleStorage.Type == "file" || cfg.RuleStorage.Type == ""
	if interval := cfg.RuleStorage.ExtraDuration("watch_interval", 0); watchEligible && interval > 0 {
		path := cfg.RuleStorage.ExtraString("path", "rules.yaml")
		log.Printf("rulestorage: watching %s every %s", path, interval)
		g.Go(func() error {
			rulestorage.WatchFile(path, interval, eng, func() []string {
				statuses := eng.ListAnalyzers()
				names := make([]string, len(statuses))
				for i, s := range statuses {
					names[i] = s.ProgramName
				}
				return names
			}, ctx.Done())
			return nil
		})
	}

	g.Go(func() error {
		s := <-sigCh
		log.Printf("signal received: %s — initiating graceful shutdown", s)
		cancel()
		return nil
	})

	g.Go(func() error {
		<-ctx.Done()
		eng.Stop()
		shCtx, shCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shCancel()
		if err := metricsSrv.Shutdown(shCtx); err != nil {
			log.Printf("metrics: shutdown error: %v", err)
		}
		return nil
	})

	if err := g.Wait(); err != nil && err != context.Canceled {
		log.Printf("shutdown with error: %v", err)
	} else {
		log.Printf("shutdown complete")
	}
}

func runIngest(ctx context.Context, name string, ic config.IngestCfg, eng *engine.AnalyzerEngine) error {
	switch ic.Type {
	case "kafka":
		r := kafka.New(kafka.Config{
			Brokers: ic.ExtraStrings("brokers"),
			Topic:   ic.ExtraString("topic", ""),
			Group:   ic.ExtraString("group", ""),
		})
		return r.Run(ctx, eng)
	case "pulsar":
		r := pulsar.New(pulsar.Config{
			ServiceURL:       ic.ExtraString("service_url", ""),
			Topic:            ic.ExtraString("topic", ""),
			SubscriptionName: ic.ExtraString("subscription_name", ""),
			SubscriptionType: ic.ExtraString("subscription_type", ""),
			AuthToken:        ic.ExtraString("auth_token", ""),
			AuthTokenFile:    ic.ExtraString("auth_token_file", ""),
		})
		return r.Run(ctx, eng)
	case "httpjson":
		r := httpjson.New(httpjson.Config{
			Addr: ic.ExtraString("addr", ""),
			Path: ic.ExtraString("path", ""),
		})
		return r.Run(ctx, eng)
	default:
		return fmt.Errorf("unknown ingest type %q for %q", ic.Type, name)
	}
}

func buildRuleStorage(cfg config.RuleStorageCfg) (engine.RuleStorage, error) {
	switch cfg.Type {
	case "file", "":
		path := cfg.ExtraString("path", "rules.yaml")
		return rulestorage.NewFileStore(path), nil
	default:
		return nil, fmt.Errorf("unknown rule_storage type %q", cfg.Type)
	}
}

func buildAlarmSink(cfgs map[string]config.AlarmSinkCfg) (engine.AlarmSink, error) {
	if len(cfgs) == 0 {
		return alarmsink.NewStdoutSink(false), nil
	}
	multi := alarmsink.MultiSink{}
	for name, sc := range cfgs {
		switch sc.Type {
		case "stdout":
			multi.Sinks = append(multi.Sinks, alarmsink.NewStdoutSink(sc.ExtraBool("pretty", false)))
		case "weaviate":
			s, err := alarmsink.NewWeaviateSink(alarmsink.WeaviateConfig{
				Endpoint:   sc.ExtraString("endpoint", ""),
				Class:      sc.ExtraString("class", "Alarm"),
				IDTemplate: sc.ExtraString("id_template", ""),
				HashDim:    sc.ExtraInt("hash_dim", 0),
				HashNGrams: sc.ExtraInt("hash_ngrams", 0),
			})
			if err != nil {
				return nil, fmt.Errorf("alarm sink %q: %w", name, err)
			}
			multi.Sinks = append(multi.Sinks, s)
		default:
			return nil, fmt.Errorf("unknown alarm_sink type %q for %q", sc.Type, name)
		}
	}
	return multi, nil
}

func setupMetricsMux(ready *atomic.Bool, collector *metrics.Collector) http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", collector.Handler())
	mux.HandleFunc("/livez", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	mux.HandleFunc("/readyz", func(w http.ResponseWriter, _ *http.Request) {
		if ready.Load() {
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write([]byte("ready"))
			return
		}
		http.Error(w, "not ready", http.StatusServiceUnavailable)
	})
	return mux
}

func envOr(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}
