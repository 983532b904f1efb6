package bridge

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/sergiopesch/virtualpodcaststudio/internal/archive"
	"github.com/sergiopesch/virtualpodcaststudio/internal/observability"
)

var ErrNotFound = errors.New("session not found")

// Registry maps a session identifier to exactly one live session. It is the
// only path through which sessions are created, retrieved, or destroyed.
type Registry struct {
	cfg     Config
	dialer  Dialer
	store   archive.Store
	metrics *observability.Metrics
	logger  *zap.Logger

	inactivityTimeout time.Duration

	mu       sync.Mutex
	sessions map[string]*Session
	onExpire func(*Session)
}

func NewRegistry(cfg Config, dialer Dialer, store archive.Store, metrics *observability.Metrics, logger *zap.Logger, inactivityTimeout time.Duration) *Registry {
	if inactivityTimeout <= 0 {
		inactivityTimeout = 2 * time.Minute
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Registry{
		cfg:               cfg,
		dialer:            dialer,
		store:             store,
		metrics:           metrics,
		logger:            logger,
		inactivityTimeout: inactivityTimeout,
		sessions:          make(map[string]*Session),
	}
}

func (r *Registry) SetExpireHook(hook func(*Session)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.onExpire = hook
}

// Get returns the session for id, constructing an idle one on first
// reference. Construction and lookup are atomic with respect to concurrent
// callers: N racing callers for an unseen id observe the same instance.
func (r *Registry) Get(id string) *Session {
	r.mu.Lock()
	defer r.mu.Unlock()
	if s, ok := r.sessions[id]; ok {
		return s
	}
	s := NewSession(id, r.cfg, r.dialer, r.store, r.metrics, r.logger)
	r.sessions[id] = s
	r.metrics.SessionEvents.WithLabelValues("created").Inc()
	r.metrics.ActiveSessions.Set(float64(len(r.sessions)))
	return s
}

// Lookup returns the session for id without creating one.
func (r *Registry) Lookup(id string) (*Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[id]
	return s, ok
}

// Stop closes and removes the session for id.
func (r *Registry) Stop(id string) error {
	r.mu.Lock()
	s, ok := r.sessions[id]
	if ok {
		delete(r.sessions, id)
		r.metrics.ActiveSessions.Set(float64(len(r.sessions)))
	}
	r.mu.Unlock()
	if !ok {
		return ErrNotFound
	}
	return s.Close()
}

// Count reports the number of registered sessions.
func (r *Registry) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

// StartJanitor evicts sessions idle beyond the inactivity window. It also
// reaps sessions that reached a terminal state on their own.
func (r *Registry) StartJanitor(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				r.evictStale()
			}
		}
	}()
}

func (r *Registry) evictStale() {
	now := time.Now().UTC()
	var expired []*Session

	r.mu.Lock()
	for id, s := range r.sessions {
		state := s.State()
		terminal := state == StateClosed || state == StateError
		if !terminal && now.Sub(s.LastActivity()) < r.inactivityTimeout {
			continue
		}
		delete(r.sessions, id)
		expired = append(expired, s)
	}
	r.metrics.ActiveSessions.Set(float64(len(r.sessions)))
	hook := r.onExpire
	r.mu.Unlock()

	for _, s := range expired {
		_ = s.Close()
		r.metrics.SessionEvents.WithLabelValues("expired").Inc()
		r.logger.Info("session evicted", zap.String("session_id", s.ID))
		if hook != nil {
			hook(s)
		}
	}
}
