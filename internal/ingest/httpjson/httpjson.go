// Package httpjson adapts an HTTP endpoint accepting NDJSON or single-JSON
// bodies of operation events into AnalyzerEngine.Enqueue calls. Grounded on
// internal/receivers/jsonlogs/jsonlogs.go's HTTPReceiver: gzip
// Content-Encoding support, NDJSON body scanning, single-object fallback,
// and the net/http.Server + context-driven Shutdown lifecycle.
package httpjson

import (
	"bufio"
	"compress/gzip"
	"context"
	"encoding/json"
	"io"
	"log"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/platformbuilds/healthwatch-engine/internal/model"
)

const defaultPath = "/v1/events"

// Enqueuer is the narrow engine contract this adapter drives.
type Enqueuer interface {
	Enqueue(events []model.SystemEvent) error
}

// Config parameterizes the HTTP source.
type Config struct {
	Addr string // e.g. "0.0.0.0:9428"
	Path string // defaults to "/v1/events"
}

// Receiver is an HTTP server accepting POSTed SystemEvent bodies.
type Receiver struct {
	addr string
	path string
}

// New builds an HTTP receiver.
func New(cfg Config) *Receiver {
	path := cfg.Path
	if strings.TrimSpace(path) == "" {
		path = defaultPath
	}
	addr := cfg.Addr
	if addr == "" {
		addr = "0.0.0.0:9428"
	}
	return &Receiver{addr: addr, path: path}
}

// Run blocks, serving until ctx is cancelled.
func (r *Receiver) Run(ctx context.Context, engine Enqueuer) error {
	mux := http.NewServeMux()
	mux.HandleFunc(r.path, r.handle(engine))

	srv := &http.Server{
		Addr:              r.addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	ln, err := net.Listen("tcp", r.addr)
	if err != nil {
		return err
	}
	log.Printf("[ingest/httpjson] listening on %s path=%s", r.addr, r.path)

	errCh := make(chan error, 1)
	go func() {
		if serveErr := srv.Serve(ln); serveErr != nil && serveErr != http.ErrServerClosed {
			errCh <- serveErr
		}
	}()

	select {
	case <-ctx.Done():
		shctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shctx)
	case e := <-errCh:
		return e
	}
}

func (r *Receiver) handle(engine Enqueuer) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		if req.Method != http.MethodPost {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}

		var body io.Reader = req.Body
		defer req.Body.Close()

		if enc := req.Header.Get("Content-Encoding"); strings.Contains(strings.ToLower(enc), "gzip") {
			gr, err := gzip.NewReader(body)
			if err != nil {
				http.Error(w, "bad gzip", http.StatusBadRequest)
				return
			}
			defer gr.Close()
			body = gr
		}

		ct := strings.ToLower(req.Header.Get("Content-Type"))
		var n int
		var err error
		if strings.Contains(ct, "ndjson") || strings.Contains(ct, "x-ndjson") {
			n, err = r.acceptNDJSON(body, engine)
		} else {
			n, err = r.acceptBody(body, engine)
		}
		if err != nil {
			http.Error(w, "bad body", http.StatusBadRequest)
			return
		}

		w.WriteHeader(http.StatusAccepted)
		_, _ = w.Write([]byte("ok"))
		log.Printf("[ingest/httpjson] accepted %d events", n)
	}
}

func (r *Receiver) acceptNDJSON(body io.Reader, engine Enqueuer) (int, error) {
	sc := bufio.NewScanner(body)
	buf := make([]byte, 0, 64*1024)
	sc.Buffer(buf, 10*1024*1024)

	n := 0
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		if err := enqueueLine(line, engine); err != nil {
			log.Printf("[ingest/httpjson] malformed line skipped: %v", err)
			continue
		}
		n++
	}
	if err := sc.Err(); err != nil && err != io.EOF {
		return n, err
	}
	return n, nil
}

func (r *Receiver) acceptBody(body io.Reader, engine Enqueuer) (int, error) {
	b, err := io.ReadAll(body)
	if err != nil {
		return 0, err
	}
	payload := strings.TrimSpace(string(b))
	if payload == "" {
		return 0, nil
	}

	if strings.Contains(payload, "\n") {
		n := 0
		for _, line := range strings.Split(payload, "\n") {
			line = strings.TrimSpace(line)
			if line == "" {
				continue
			}
			if err := enqueueLine(line, engine); err != nil {
				log.Printf("[ingest/httpjson] malformed line skipped: %v", err)
				continue
			}
			n++
		}
		return n, nil
	}

	if err := enqueueLine(payload, engine); err != nil {
		return 0, err
	}
	return 1, nil
}

func enqueueLine(line string, engine Enqueuer) error {
	var event model.SystemEvent
	if err := json.Unmarshal([]byte(line), &event); err != nil {
		return err
	}
	if event.OccurredAt == 0 {
		event.OccurredAt = time.Now().Unix()
	}
	return engine.Enqueue([]model.SystemEvent{event})
}
