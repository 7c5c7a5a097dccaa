// Package kafka adapts a Kafka topic of JSON-encoded operation events into
// AnalyzerEngine.Enqueue calls. Grounded on internal/receivers/kafka/
// kafka.go's reader loop, header-to-attrs mapping, and graceful
// context-cancel exit; the OTLP/metrics/traces/prom_rw envelope kinds that
// receiver supports have no SystemEvent counterpart, so this adapter
// decodes a single domain-specific JSON shape instead of branching on kind.
package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"strings"
	"time"

	kafkago "github.com/segmentio/kafka-go"

	"github.com/platformbuilds/healthwatch-engine/internal/model"
)

// Enqueuer is the narrow engine contract this adapter drives.
type Enqueuer interface {
	Enqueue(events []model.SystemEvent) error
}

// Config parameterizes the Kafka source.
type Config struct {
	Brokers  []string
	Topic    string
	Group    string
	MaxBytes int
}

// Receiver consumes one JSON-encoded SystemEvent per Kafka message and
// forwards it to an Enqueuer.
type Receiver struct {
	brokers  []string
	topic    string
	group    string
	maxBytes int
}

// New builds a Kafka receiver.
func New(cfg Config) *Receiver {
	maxBytes := cfg.MaxBytes
	if maxBytes <= 0 {
		maxBytes = 10 * 1024 * 1024
	}
	return &Receiver{
		brokers:  cfg.Brokers,
		topic:    cfg.Topic,
		group:    cfg.Group,
		maxBytes: maxBytes,
	}
}

// Run blocks, consuming until ctx is cancelled or the topic/brokers are
// misconfigured.
func (r *Receiver) Run(ctx context.Context, engine Enqueuer) error {
	if len(r.brokers) == 0 || strings.TrimSpace(r.topic) == "" {
		return errors.New("kafka ingest: missing brokers or topic")
	}

	reader := kafkago.NewReader(kafkago.ReaderConfig{
		Brokers:  r.brokers,
		GroupID:  r.groupOrDefault(),
		Topic:    r.topic,
		MaxBytes: r.maxBytes,
	})
	defer func() { _ = reader.Close() }()

	log.Printf("[ingest/kafka] consuming topic=%s group=%s brokers=%v", r.topic, r.groupOrDefault(), r.brokers)

	for {
		msg, err := reader.ReadMessage(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return nil
			}
			select {
			case <-ctx.Done():
				return nil
			default:
				log.Printf("[ingest/kafka] read error: %v", err)
				time.Sleep(500 * time.Millisecond)
				continue
			}
		}

		event, err := decode(msg)
		if err != nil {
			log.Printf("[ingest/kafka] malformed message skipped: %v", err)
			continue
		}
		if err := engine.Enqueue([]model.SystemEvent{event}); err != nil {
			log.Printf("[ingest/kafka] enqueue failed: %v", err)
		}
	}
}

func decode(msg kafkago.Message) (model.SystemEvent, error) {
	var event model.SystemEvent
	if err := json.Unmarshal(msg.Value, &event); err != nil {
		return model.SystemEvent{}, err
	}
	if event.Attrs == nil {
		event.Attrs = headersToMap(msg.Headers)
	}
	if event.OccurredAt == 0 {
		event.OccurredAt = time.Now().Unix()
	}
	return event, nil
}

func headersToMap(hdrs []kafkago.Header) map[string]string {
	if len(hdrs) == 0 {
		return nil
	}
	m := make(map[string]string, len(hdrs))
	for _, h := range hdrs {
		m[h.Key] = string(h.Value)
	}
	return m
}

func (r *Receiver) groupOrDefault() string {
	g := strings.TrimSpace(r.group)
	if g == "" {
		return "healthwatch-engine"
	}
	return g
}
