package session

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

const (
	defaultIdleTimeout   = 3 * time.Minute
	defaultSweepInterval = 30 * time.Second
)

// RegistryOption is a functional option for configuring a Registry.
type RegistryOption func(*Registry)

// WithIdleTimeout sets how long a session may go without activity before the
// sweeper destroys it. Default 3 minutes.
func WithIdleTimeout(d time.Duration) RegistryOption {
	return func(r *Registry) {
		r.idleTimeout = d
	}
}

// WithSweepInterval sets how often the sweeper checks for idle sessions.
// Default 30 seconds.
func WithSweepInterval(d time.Duration) RegistryOption {
	return func(r *Registry) {
		r.sweepInterval = d
	}
}

// WithRegistryLogger sets the logger. Defaults to slog.Default().
func WithRegistryLogger(logger *slog.Logger) RegistryOption {
	return func(r *Registry) {
		r.logger = logger
	}
}

// Registry tracks live sessions by id. Sessions are created with their own
// worker goroutine and destroyed explicitly or by the idle sweeper.
//
// Registry is safe for concurrent use.
type Registry struct {
	factory       ProcessorFactory
	logger        *slog.Logger
	idleTimeout   time.Duration
	sweepInterval time.Duration

	mu       sync.Mutex
	sessions map[string]*Session

	runCtx context.Context
}

// NewRegistry creates a Registry. factory is called once per created session
// to build its processor.
func NewRegistry(factory ProcessorFactory, opts ...RegistryOption) (*Registry, error) {
	if factory == nil {
		return nil, fmt.Errorf("session: processor factory must not be nil")
	}
	r := &Registry{
		factory:       factory,
		logger:        slog.Default(),
		idleTimeout:   defaultIdleTimeout,
		sweepInterval: defaultSweepInterval,
		sessions:      make(map[string]*Session),
		runCtx:        context.Background(),
	}
	for _, o := range opts {
		o(r)
	}
	return r, nil
}

// Create starts a new session and its worker goroutine. The returned session
// is registered until Destroy is called or the idle sweeper reaps it.
func (r *Registry) Create() (*Session, error) {
	id := uuid.NewString()
	proc, err := r.factory(id)
	if err != nil {
		return nil, fmt.Errorf("session: create processor for %s: %w", id, err)
	}

	s := newSession(id, proc, r.logger)

	r.mu.Lock()
	r.sessions[id] = s
	n := len(r.sessions)
	ctx := r.runCtx
	r.mu.Unlock()

	go s.run(ctx)

	r.logger.Info("session created", "session_id", id, "active_sessions", n)
	return s, nil
}

// Get returns the session with the given id, or false when absent.
func (r *Registry) Get(id string) (*Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[id]
	return s, ok
}

// Destroy closes the session and removes it from the registry. Destroying an
// unknown id is a no-op.
func (r *Registry) Destroy(id string) {
	r.mu.Lock()
	s, ok := r.sessions[id]
	delete(r.sessions, id)
	r.mu.Unlock()

	if ok {
		s.Close()
		r.logger.Info("session destroyed", "session_id", id)
	}
}

// Len returns the number of live sessions.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

// Run executes the idle sweeper until ctx is cancelled, then closes every
// remaining session. Sessions created after Run starts inherit ctx as their
// worker lifetime.
func (r *Registry) Run(ctx context.Context) {
	r.mu.Lock()
	r.runCtx = ctx
	r.mu.Unlock()

	ticker := time.NewTicker(r.sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			r.closeAll()
			return
		case <-ticker.C:
			r.sweep()
		}
	}
}

// sweep destroys sessions idle for longer than the timeout.
func (r *Registry) sweep() {
	cutoff := time.Now().Add(-r.idleTimeout)

	r.mu.Lock()
	var expired []*Session
	for id, s := range r.sessions {
		if s.LastActive().Before(cutoff) {
			expired = append(expired, s)
			delete(r.sessions, id)
		}
	}
	r.mu.Unlock()

	for _, s := range expired {
		s.Close()
		r.logger.Info("idle session reaped",
			"session_id", s.ID(), "idle_timeout", r.idleTimeout)
	}
}

func (r *Registry) closeAll() {
	r.mu.Lock()
	all := make([]*Session, 0, len(r.sessions))
	for id, s := range r.sessions {
		all = append(all, s)
		delete(r.sessions, id)
	}
	r.mu.Unlock()

	for _, s := range all {
		s.Close()
	}
}
