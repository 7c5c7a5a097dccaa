// Package pulsar adapts an Apache Pulsar topic of JSON-encoded operation
// events into AnalyzerEngine.Enqueue calls. Grounded on
// internal/receivers/pulsar/pulsar.go's client/consumer option wiring,
// subscription-type mapping, token/TLS auth, and backpressure-drop sends;
// the envelope-kind branching that receiver does for OTLP/prom_rw payloads
// has no SystemEvent equivalent, so this adapter decodes one JSON shape.
package pulsar

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"strings"
	"time"

	ps "github.com/apache/pulsar-client-go/pulsar"

	"github.com/platformbuilds/healthwatch-engine/internal/model"
)

// Enqueuer is the narrow engine contract this adapter drives.
type Enqueuer interface {
	Enqueue(events []model.SystemEvent) error
}

// Config parameterizes the Pulsar source.
type Config struct {
	ServiceURL          string
	Topic               string
	SubscriptionName    string
	SubscriptionType    string // "exclusive" | "shared" | "failover" | "key_shared"
	AuthToken           string
	AuthTokenFile       string
	TLSAllowInsecure    bool
	TLSTrustCertsPath   string
	MessageChanBuffer   int
	ReceiverQueueSize   int
}

// Receiver consumes one JSON-encoded SystemEvent per Pulsar message and
// forwards it to an Enqueuer.
type Receiver struct {
	cfg Config
}

// New builds a Pulsar receiver.
func New(cfg Config) *Receiver {
	if cfg.MessageChanBuffer <= 0 {
		cfg.MessageChanBuffer = 32
	}
	if cfg.ReceiverQueueSize <= 0 {
		cfg.ReceiverQueueSize = 1000
	}
	return &Receiver{cfg: cfg}
}

func (r *Receiver) subType() ps.SubscriptionType {
	switch strings.ToLower(strings.TrimSpace(r.cfg.SubscriptionType)) {
	case "exclusive":
		return ps.Exclusive
	case "failover":
		return ps.Failover
	case "key_shared", "keyshared", "key-shared":
		return ps.KeyShared
	default:
		return ps.Shared
	}
}

// Run blocks, consuming until ctx is cancelled or the connection is
// misconfigured.
func (r *Receiver) Run(ctx context.Context, engine Enqueuer) error {
	if r.cfg.ServiceURL == "" || strings.TrimSpace(r.cfg.Topic) == "" || strings.TrimSpace(r.cfg.SubscriptionName) == "" {
		return errors.New("pulsar ingest: missing serviceURL, topic, or subscription name")
	}

	cliOpts := ps.ClientOptions{
		URL:                        r.cfg.ServiceURL,
		TLSAllowInsecureConnection: r.cfg.TLSAllowInsecure,
		TLSTrustCertsFilePath:      r.cfg.TLSTrustCertsPath,
	}
	if r.cfg.AuthToken != "" {
		cliOpts.Authentication = ps.NewAuthenticationToken(r.cfg.AuthToken)
	} else if r.cfg.AuthTokenFile != "" {
		cliOpts.Authentication = ps.NewAuthenticationTokenFromFile(r.cfg.AuthTokenFile)
	}

	client, err := ps.NewClient(cliOpts)
	if err != nil {
		return err
	}
	defer client.Close()

	consumer, err := client.Subscribe(ps.ConsumerOptions{
		Topic:             r.cfg.Topic,
		SubscriptionName:  r.cfg.SubscriptionName,
		Type:              r.subType(),
		MessageChannel:    make(chan ps.ConsumerMessage, r.cfg.MessageChanBuffer),
		ReceiverQueueSize: r.cfg.ReceiverQueueSize,
	})
	if err != nil {
		return err
	}
	defer consumer.Close()

	log.Printf("[ingest/pulsar] consuming topic=%s subscription=%s url=%s", r.cfg.Topic, r.cfg.SubscriptionName, r.cfg.ServiceURL)

	msgCh := consumer.Chan()
	for {
		select {
		case <-ctx.Done():
			return nil
		case cm, ok := <-msgCh:
			if !ok {
				return nil
			}
			msg := cm.Message
			event, derr := decode(msg)
			if derr != nil {
				log.Printf("[ingest/pulsar] malformed message skipped: %v", derr)
				consumer.Ack(msg)
				continue
			}
			if err := engine.Enqueue([]model.SystemEvent{event}); err != nil {
				log.Printf("[ingest/pulsar] enqueue failed: %v", err)
			}
			consumer.Ack(msg)
		}
	}
}

func decode(msg ps.Message) (model.SystemEvent, error) {
	var event model.SystemEvent
	if err := json.Unmarshal(msg.Payload(), &event); err != nil {
		return model.SystemEvent{}, err
	}
	if event.Attrs == nil {
		event.Attrs = propsToMap(msg.Properties())
	}
	if event.OccurredAt == 0 {
		event.OccurredAt = time.Now().Unix()
	}
	return event, nil
}

func propsToMap(p map[string]string) map[string]string {
	if len(p) == 0 {
		return nil
	}
	out := make(map[string]string, len(p))
	for k, v := range p {
		out[k] = v
	}
	return out
}
