package signal

import (
	"log"
	"sync"
	"time"
)

// Config controls registry and reaper behavior.
type Config struct {
	// MaxSessionAge is how long an empty session survives before the reaper
	// reclaims it. A host may reattach under the same id within this window.
	MaxSessionAge time.Duration

	// ReapInterval is the reaper cadence.
	ReapInterval time.Duration
}

// DefaultConfig returns the production defaults.
func DefaultConfig() Config {
	return Config{
		MaxSessionAge: time.Hour,
		ReapInterval:  60 * time.Second,
	}
}

// Hub is the authoritative session registry and signaling router. All
// session mutations are serialized by a single lock; sends to endpoints
// happen strictly after the lock is released.
type Hub struct {
	cfg Config

	mu        sync.RWMutex
	endpoints map[string]*Endpoint
	sessions  map[string]*Session

	stopCh chan struct{}
	wg     sync.WaitGroup

	stopOnce sync.Once
}

// NewHub creates a hub. The reaper loop is not started here; call
// StartReaper for the in-process loop or drive ReapOnce from a scheduler.
func NewHub(cfg Config) *Hub {
	if cfg.MaxSessionAge <= 0 {
		cfg.MaxSessionAge = time.Hour
	}
	if cfg.ReapInterval <= 0 {
		cfg.ReapInterval = 60 * time.Second
	}
	return &Hub{
		cfg:       cfg,
		endpoints: make(map[string]*Endpoint),
		sessions:  make(map[string]*Session),
		stopCh:    make(chan struct{}),
	}
}

// Register adds a freshly accepted endpoint to the hub.
func (h *Hub) Register(e *Endpoint) {
	h.mu.Lock()
	h.endpoints[e.ID] = e
	h.mu.Unlock()
	log.Printf("Hub: endpoint %s connected", e.ID)
}

// Disconnect removes an endpoint whose transport has closed. It detaches the
// endpoint from its session and delivers the departure notifications of the
// routing rules. Safe to call more than once.
func (h *Hub) Disconnect(e *Endpoint) {
	h.mu.Lock()
	if _, ok := h.endpoints[e.ID]; !ok {
		h.mu.Unlock()
		return
	}
	delete(h.endpoints, e.ID)
	deliveries := h.detachLocked(e)
	h.mu.Unlock()

	e.close()
	flush(deliveries)
	log.Printf("Hub: endpoint %s disconnected", e.ID)
}

// Sessions returns the number of live sessions.
func (h *Hub) Sessions() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.sessions)
}

// Clients returns the number of connected endpoints.
func (h *Hub) Clients() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.endpoints)
}

// Stop terminates the background loops and closes every endpoint.
func (h *Hub) Stop() {
	h.stopOnce.Do(func() {
		close(h.stopCh)
	})
	h.wg.Wait()

	h.mu.Lock()
	endpoints := make([]*Endpoint, 0, len(h.endpoints))
	for _, e := range h.endpoints {
		endpoints = append(endpoints, e)
	}
	h.endpoints = make(map[string]*Endpoint)
	h.sessions = make(map[string]*Session)
	h.mu.Unlock()

	for _, e := range endpoints {
		e.close()
	}
}

// delivery is an outbound message bound to its target. Registry operations
// collect deliveries under the lock and the caller flushes them after
// unlocking, so no send ever happens while the registry is held.
type delivery struct {
	to  *Endpoint
	msg interface{}
}

func flush(ds []delivery) {
	for _, d := range ds {
		d.to.Enqueue(d.msg)
	}
}
