// Package eventarchive exposes a read-only, off-hot-path document view over
// previously ingested SystemEvents, addressed by their EventID. Grounded on
// internal/exporters/weaviate/weaviate.go's id-template rendering
// convention (generalized here into an explicit encode/decode pair via
// model.EventID) and internal/receivers/jsonlogs/jsonlogs.go's
// net/http.Server + context-driven Shutdown lifecycle.
package eventarchive

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/platformbuilds/healthwatch-engine/internal/model"
)

// ErrNotFound is returned by EventStore.Get when no event exists for the
// requested id.
var ErrNotFound = errors.New("eventarchive: event not found")

// EventStore is the pluggable read side an archive server sits on top of.
type EventStore interface {
	Get(id model.EventID) (model.SystemEvent, error)
}

// MemoryStore is a bounded in-memory EventStore, useful for tests and small
// deployments that don't need a durable archive.
type MemoryStore struct {
	mu       sync.Mutex
	events   map[string]model.SystemEvent
	order    []string
	capacity int
}

// NewMemoryStore builds a MemoryStore capped at capacity entries (oldest
// evicted first). capacity <= 0 means unbounded.
func NewMemoryStore(capacity int) *MemoryStore {
	return &MemoryStore{
		events:   make(map[string]model.SystemEvent),
		capacity: capacity,
	}
}

// Put records event under its own id, evicting the oldest entry if the
// store is at capacity.
func (m *MemoryStore) Put(event model.SystemEvent) {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := event.ID.Encode()
	if _, exists := m.events[key]; !exists {
		m.order = append(m.order, key)
	}
	m.events[key] = event

	if m.capacity > 0 {
		for len(m.order) > m.capacity {
			oldest := m.order[0]
			m.order = m.order[1:]
			delete(m.events, oldest)
		}
	}
}

// Get implements EventStore.
func (m *MemoryStore) Get(id model.EventID) (model.SystemEvent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	event, ok := m.events[id.Encode()]
	if !ok {
		return model.SystemEvent{}, ErrNotFound
	}
	return event, nil
}

// Server serves GET /events/{id} over a pluggable EventStore.
type Server struct {
	addr  string
	path  string
	store EventStore
}

// NewServer builds an archive Server. path defaults to "/events/".
func NewServer(addr, path string, store EventStore) *Server {
	if strings.TrimSpace(path) == "" {
		path = "/events/"
	}
	if !strings.HasSuffix(path, "/") {
		path += "/"
	}
	return &Server{addr: addr, path: path, store: store}
}

// Run blocks, serving until ctx is cancelled.
func (s *Server) Run(ctx context.Context) error {
	mux := http.NewServeMux()
	mux.HandleFunc(s.path, s.handleGet)

	srv := &http.Server{
		Addr:              s.addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Printf("[eventarchive] listening on %s path=%s", s.addr, s.path)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		shctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shctx)
	case err := <-errCh:
		return err
	}
}

func (s *Server) handleGet(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	raw := strings.TrimPrefix(r.URL.Path, s.path)
	id, err := model.DecodeEventID(raw)
	if err != nil {
		http.Error(w, "malformed event id", http.StatusBadRequest)
		return
	}

	event, err := s.store.Get(id)
	if errors.Is(err, ErrNotFound) {
		http.Error(w, "not found", http.StatusNotFound)
		return
	}
	if err != nil {
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(event); err != nil {
		log.Printf("[eventarchive] encode response: %v", err)
	}
}
