package core

import (
	"context"
	"sync"

	"github.com/rs/zerolog"
	"github.com/samber/lo"

	"github.com/vovakirdan/wirerelay/internal/metrics"
	"github.com/vovakirdan/wirerelay/internal/store"
)

// HubConfig tunes per-connection behaviour.
type HubConfig struct {
	// SendBuffer is the outbound queue length of each connection.
	SendBuffer int
	// MaxContentLength caps message content in characters; 0 disables the check.
	MaxContentLength int
}

// Hub owns the registry and dispatcher and opens a Session per connection.
type Hub struct {
	cfg        HubConfig
	registry   *Registry
	oracle     MembershipOracle
	dispatcher *Dispatcher
	log        *zerolog.Logger
	metrics    *metrics.Metrics

	mu       sync.Mutex
	sessions map[*Session]struct{}
	closing  bool
	drained  chan struct{}
}

// NewHub creates a hub. A nil metrics records nothing.
func NewHub(cfg HubConfig, oracle MembershipOracle, messages store.MessageStore, logger *zerolog.Logger, m *metrics.Metrics) *Hub {
	registry := NewRegistry()
	return &Hub{
		cfg:        cfg,
		registry:   registry,
		oracle:     oracle,
		dispatcher: NewDispatcher(registry, oracle, messages, cfg.MaxContentLength, logger, m),
		log:        logger,
		metrics:    m,
		sessions:   make(map[*Session]struct{}),
	}
}

// Registry exposes the hub's connection registry.
func (h *Hub) Registry() *Registry {
	return h.registry
}

// Dispatcher exposes the hub's dispatcher.
func (h *Hub) Dispatcher() *Dispatcher {
	return h.dispatcher
}

// Open creates a connection and a session in the Connecting state.
// After Shutdown the returned session's connection is already closed.
func (h *Hub) Open(connID string) *Session {
	h.metrics.Incr(metrics.Connections, 1)
	s := &Session{
		conn:       NewConn(connID, h.cfg.SendBuffer),
		registry:   h.registry,
		oracle:     h.oracle,
		dispatcher: h.dispatcher,
		log:        h.log.With().Str("conn_id", connID).Logger(),
		metrics:    h.metrics,
		state:      StateConnecting,
		onClose:    h.release,
	}

	h.mu.Lock()
	closing := h.closing
	if !closing {
		h.sessions[s] = struct{}{}
	}
	h.mu.Unlock()

	if closing {
		s.conn.Close()
	}
	return s
}

func (h *Hub) release(s *Session) {
	h.mu.Lock()
	defer h.mu.Unlock()

	delete(h.sessions, s)
	if h.drained != nil && len(h.sessions) == 0 {
		close(h.drained)
		h.drained = nil
	}
}

// Shutdown closes every open connection and waits until each session has
// run Close, so no dispatch is still in flight when it returns nil.
// New sessions opened afterwards start closed.
func (h *Hub) Shutdown(ctx context.Context) error {
	h.mu.Lock()
	h.closing = true
	open := lo.Keys(h.sessions)
	drained := h.drained
	if drained == nil {
		drained = make(chan struct{})
		if len(open) == 0 {
			close(drained)
		} else {
			h.drained = drained
		}
	}
	h.mu.Unlock()

	h.log.Info().Int("sessions", len(open)).Msg("closing live sessions")
	for _, s := range open {
		s.conn.Close()
	}

	select {
	case <-drained:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
