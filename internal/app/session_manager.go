package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/voxkiosk/voxkiosk/internal/capture"
	"github.com/voxkiosk/voxkiosk/internal/observe"
	"github.com/voxkiosk/voxkiosk/internal/session"
	"github.com/voxkiosk/voxkiosk/pkg/audio"
	"github.com/voxkiosk/voxkiosk/pkg/provider/vad"
)

// ErrUnknownSession is returned when a frame or stop request names a session
// that does not exist or has already been destroyed.
var ErrUnknownSession = errors.New("app: unknown session")

// reconcileInterval is how often intakes are checked against the registry so
// that idle-reaped sessions also release their VAD session and capture loop.
const reconcileInterval = 10 * time.Second

// SessionInfo holds metadata about an active kiosk session.
type SessionInfo struct {
	// SessionID is the unique identifier for this session.
	SessionID string

	// StartedAt is when the session was started.
	StartedAt time.Time
}

// PipelineFactory builds the utterance pipeline for a new session.
type PipelineFactory func(sessionID string) (*Pipeline, error)

// SessionManagerConfig holds all dependencies for a [SessionManager].
type SessionManagerConfig struct {
	// NewPipeline builds the per-session pipeline. Required.
	NewPipeline PipelineFactory

	// VAD creates the per-session speech detector. Required.
	VAD vad.Engine

	// VADConfig is the per-session detector configuration.
	VADConfig vad.Config

	// Capture controls utterance segmentation timing.
	Capture capture.Config

	// QueueCapacity bounds each session's frame queue.
	QueueCapacity int

	// IdleTimeout and SweepInterval configure the idle-session reaper.
	// Zero values keep the registry defaults.
	IdleTimeout   time.Duration
	SweepInterval time.Duration

	Metrics *observe.Metrics
	Logger  *slog.Logger
}

// SessionManager owns the lifecycle of kiosk sessions: one session per
// customer, each with its own audio intake, capture machine, worker and
// dialogue state. All exported methods are safe for concurrent use.
type SessionManager struct {
	registry *session.Registry
	factory  PipelineFactory
	vad      vad.Engine
	vadCfg   vad.Config
	capCfg   capture.Config
	queueCap int
	metrics  *observe.Metrics
	logger   *slog.Logger

	mu        sync.Mutex
	intakes   map[string]*Intake
	pipelines map[string]*Pipeline
	started   map[string]time.Time
}

// NewSessionManager creates a SessionManager with the given dependencies.
func NewSessionManager(cfg SessionManagerConfig) (*SessionManager, error) {
	if cfg.NewPipeline == nil {
		return nil, errors.New("app: pipeline factory is required")
	}
	if cfg.VAD == nil {
		return nil, errors.New("app: vad engine is required")
	}
	if cfg.Metrics == nil {
		cfg.Metrics = observe.DefaultMetrics()
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	sm := &SessionManager{
		factory:   cfg.NewPipeline,
		vad:       cfg.VAD,
		vadCfg:    cfg.VADConfig,
		capCfg:    cfg.Capture,
		queueCap:  cfg.QueueCapacity,
		metrics:   cfg.Metrics,
		logger:    cfg.Logger,
		intakes:   make(map[string]*Intake),
		pipelines: make(map[string]*Pipeline),
		started:   make(map[string]time.Time),
	}

	regOpts := []session.RegistryOption{session.WithRegistryLogger(cfg.Logger)}
	if cfg.IdleTimeout > 0 {
		regOpts = append(regOpts, session.WithIdleTimeout(cfg.IdleTimeout))
	}
	if cfg.SweepInterval > 0 {
		regOpts = append(regOpts, session.WithSweepInterval(cfg.SweepInterval))
	}

	reg, err := session.NewRegistry(func(id string) (session.Processor, error) {
		p, err := sm.factory(id)
		if err != nil {
			return nil, err
		}
		sm.mu.Lock()
		sm.pipelines[id] = p
		sm.mu.Unlock()
		return p, nil
	}, regOpts...)
	if err != nil {
		return nil, err
	}
	sm.registry = reg
	return sm, nil
}

// Start begins a new kiosk session: a registry entry with its worker, a VAD
// session, and an audio intake, then greets the customer.
func (sm *SessionManager) Start(ctx context.Context) (SessionInfo, error) {
	sess, err := sm.registry.Create()
	if err != nil {
		return SessionInfo{}, fmt.Errorf("app: create session: %w", err)
	}
	id := sess.ID()

	sm.mu.Lock()
	pipeline := sm.pipelines[id]
	sm.mu.Unlock()

	vadSess, err := sm.vad.NewSession(sm.vadCfg)
	if err != nil {
		sm.destroy(id)
		return SessionInfo{}, fmt.Errorf("app: create vad session: %w", err)
	}

	intake, err := NewIntake(id, IntakeConfig{
		Capture:       sm.capCfg,
		VADSession:    vadSess,
		QueueCapacity: sm.queueCap,
		Submit:        sess.Submit,
		OnIdle: func() {
			go pipeline.Greet(context.Background())
		},
		Metrics: sm.metrics,
		Logger:  sm.logger,
	})
	if err != nil {
		_ = vadSess.Close()
		sm.destroy(id)
		return SessionInfo{}, fmt.Errorf("app: create intake: %w", err)
	}

	now := time.Now().UTC()
	sm.mu.Lock()
	sm.intakes[id] = intake
	sm.started[id] = now
	sm.mu.Unlock()
	sm.metrics.ActiveSessions.Add(ctx, 1)

	go pipeline.Greet(ctx)

	sm.logger.Info("kiosk session started", "session_id", id)
	return SessionInfo{SessionID: id, StartedAt: now}, nil
}

// Push routes one microphone frame to its session's intake.
func (sm *SessionManager) Push(sessionID string, f audio.Frame) error {
	sm.mu.Lock()
	intake, ok := sm.intakes[sessionID]
	sm.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownSession, sessionID)
	}
	intake.Push(f)
	return nil
}

// Stop ends a session: the intake and VAD session close, the worker drains
// and the registry entry is removed.
func (sm *SessionManager) Stop(sessionID string) error {
	sm.mu.Lock()
	_, ok := sm.intakes[sessionID]
	sm.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownSession, sessionID)
	}
	sm.destroy(sessionID)
	sm.logger.Info("kiosk session stopped", "session_id", sessionID)
	return nil
}

// Active returns the number of live sessions.
func (sm *SessionManager) Active() int {
	return sm.registry.Len()
}

// Info returns metadata for a session, or false when it does not exist.
func (sm *SessionManager) Info(sessionID string) (SessionInfo, bool) {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	startedAt, ok := sm.started[sessionID]
	if !ok {
		return SessionInfo{}, false
	}
	return SessionInfo{SessionID: sessionID, StartedAt: startedAt}, true
}

// Run executes the idle sweeper and the intake reconciler until ctx is
// cancelled, then tears down every remaining session.
func (sm *SessionManager) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		sm.registry.Run(ctx)
		return ctx.Err()
	})
	g.Go(func() error {
		ticker := time.NewTicker(reconcileInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				sm.closeAllIntakes()
				return ctx.Err()
			case <-ticker.C:
				sm.reconcile()
			}
		}
	})
	return g.Wait()
}

// destroy removes all per-session state in intake-first order so no frames
// arrive for a closed worker.
func (sm *SessionManager) destroy(id string) {
	sm.mu.Lock()
	intake := sm.intakes[id]
	delete(sm.intakes, id)
	delete(sm.pipelines, id)
	delete(sm.started, id)
	sm.mu.Unlock()

	if intake != nil {
		intake.Close()
		sm.metrics.ActiveSessions.Add(context.Background(), -1)
	}
	sm.registry.Destroy(id)
}

// reconcile closes intakes whose session the idle sweeper already reaped.
func (sm *SessionManager) reconcile() {
	sm.mu.Lock()
	var orphaned []string
	for id := range sm.intakes {
		if _, ok := sm.registry.Get(id); !ok {
			orphaned = append(orphaned, id)
		}
	}
	sm.mu.Unlock()

	for _, id := range orphaned {
		sm.logger.Info("releasing intake for reaped session", "session_id", id)
		sm.destroy(id)
	}
}

func (sm *SessionManager) closeAllIntakes() {
	sm.mu.Lock()
	all := make([]string, 0, len(sm.intakes))
	for id := range sm.intakes {
		all = append(all, id)
	}
	sm.mu.Unlock()

	for _, id := range all {
		sm.destroy(id)
	}
}
