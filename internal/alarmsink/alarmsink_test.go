package alarmsink

import (
	"bytes"
	"encoding/json"
	"log"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/platformbuilds/healthwatch-engine/internal/model"
)

func TestStdoutSinkWritesJSONLine(t *testing.T) {
	var buf bytes.Buffer
	s := &StdoutSink{logger: log.New(&buf, "", 0)}

	s.RaiseAlarm(model.AlarmMessage{
		Application: "X",
		RuleName:    "burst",
		Level:       model.High,
		Summary:     "too many failures",
		RaisedAt:    42,
	})

	var decoded map[string]any
	if err := json.Unmarshal(buf.Bytes(), &decoded); err != nil {
		t.Fatalf("output is not valid JSON: %v\noutput: %s", err, buf.String())
	}
	if decoded["application"] != "X" || decoded["level"] != "high" {
		t.Fatalf("unexpected payload: %+v", decoded)
	}
}

func TestMultiSinkFansOutToEverySink(t *testing.T) {
	var a, b int
	count := func(n *int) AlarmSink { return sinkFunc(func(model.AlarmMessage) { *n++ }) }
	m := MultiSink{Sinks: []AlarmSink{count(&a), count(&b)}}
	m.RaiseAlarm(model.AlarmMessage{})
	if a != 1 || b != 1 {
		t.Fatalf("a=%d b=%d, want both 1", a, b)
	}
}

type sinkFunc func(model.AlarmMessage)

func (f sinkFunc) RaiseAlarm(a model.AlarmMessage) { f(a) }

type closingSink struct{ closed bool }

func (s *closingSink) RaiseAlarm(model.AlarmMessage) {}
func (s *closingSink) Close() error {
	s.closed = true
	return nil
}

func TestMultiSinkClosesEveryCloser(t *testing.T) {
	a := &closingSink{}
	b := &closingSink{}
	m := MultiSink{Sinks: []AlarmSink{a, sinkFunc(func(model.AlarmMessage) {}), b}}
	if err := m.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if !a.closed || !b.closed {
		t.Fatalf("expected both closers closed: a=%v b=%v", a.closed, b.closed)
	}
}

func TestWeaviateSinkUpsertsAndToleratesConflict(t *testing.T) {
	var gotPath string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		w.WriteHeader(http.StatusConflict)
	}))
	defer srv.Close()

	sink, err := NewWeaviateSink(WeaviateConfig{Endpoint: srv.URL, Class: "Alarm"})
	if err != nil {
		t.Fatalf("NewWeaviateSink: %v", err)
	}
	sink.RaiseAlarm(model.AlarmMessage{Application: "X", RuleName: "burst", Summary: "slow"})
	if gotPath != "/v1/objects" {
		t.Fatalf("gotPath = %q, want /v1/objects", gotPath)
	}
	if err := sink.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
}

func TestWeaviateSinkRejectsInvalidIDTemplate(t *testing.T) {
	if _, err := NewWeaviateSink(WeaviateConfig{Endpoint: "http://x", IDTemplate: "{{.Nope"}); err == nil {
		t.Fatal("expected error for malformed id template")
	}
}

func TestHashEmbedderIsDeterministicAndNormalized(t *testing.T) {
	e := newHashEmbedder(64, 2)
	v1 := e.embed("too many failures on checkout")
	v2 := e.embed("too many failures on checkout")
	if len(v1) != 64 {
		t.Fatalf("len(v1) = %d, want 64", len(v1))
	}
	for i := range v1 {
		if v1[i] != v2[i] {
			t.Fatalf("embedding is not deterministic at index %d: %v vs %v", i, v1[i], v2[i])
		}
	}
	var sum float64
	for _, x := range v1 {
		sum += float64(x) * float64(x)
	}
	if sum < 0.999 || sum > 1.001 {
		t.Fatalf("embedding is not unit length: squared norm = %v", sum)
	}
}
