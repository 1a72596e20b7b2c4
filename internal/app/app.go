// Package app wires all voxkiosk subsystems into a running application.
//
// The App struct owns the full lifecycle: New creates and connects all
// subsystems, Run serves the kiosk stream and background loops, and Shutdown
// tears everything down in order.
//
// For testing, inject mock implementations via functional options
// (WithOrderStore, WithMetrics, etc.). When an option is not provided, New
// creates real implementations from the config.
package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/voxkiosk/voxkiosk/internal/capture"
	"github.com/voxkiosk/voxkiosk/internal/config"
	"github.com/voxkiosk/voxkiosk/internal/dialogue"
	"github.com/voxkiosk/voxkiosk/internal/health"
	"github.com/voxkiosk/voxkiosk/internal/intent"
	"github.com/voxkiosk/voxkiosk/internal/observe"
	"github.com/voxkiosk/voxkiosk/internal/order"
	orderpg "github.com/voxkiosk/voxkiosk/internal/order/postgres"
	"github.com/voxkiosk/voxkiosk/internal/phonetic"
	"github.com/voxkiosk/voxkiosk/internal/preprocess"
	"github.com/voxkiosk/voxkiosk/internal/resilience"
	"github.com/voxkiosk/voxkiosk/internal/speech"
	"github.com/voxkiosk/voxkiosk/pkg/provider/asr"
	"github.com/voxkiosk/voxkiosk/pkg/provider/embeddings"
	"github.com/voxkiosk/voxkiosk/pkg/provider/llm"
	"github.com/voxkiosk/voxkiosk/pkg/provider/payment"
	"github.com/voxkiosk/voxkiosk/pkg/provider/speaker"
	"github.com/voxkiosk/voxkiosk/pkg/provider/tts"
	"github.com/voxkiosk/voxkiosk/pkg/provider/vad"
	vadenergy "github.com/voxkiosk/voxkiosk/pkg/provider/vad/energy"
)

// Providers holds one interface value per provider slot. Nil means the
// provider is not configured. Populated by main.go via the config registry.
type Providers struct {
	ASR        asr.Recognizer
	LLM        llm.Provider
	TTS        tts.Synthesizer
	VAD        vad.Engine
	Embeddings embeddings.Provider
	Speaker    speaker.Service
	Payment    payment.Processor
}

// App owns all subsystem lifetimes and orchestrates the voxkiosk pipeline.
type App struct {
	cfg       *config.Config
	providers *Providers

	// Subsystems, initialised in New and torn down in Shutdown.
	store     order.Store
	menuIndex order.MenuIndex
	menu      *order.Menu
	orders    *order.Manager
	matcher   *phonetic.Matcher
	speech    *speech.Service
	preproc   *preprocess.Processor

	// intentsMu guards intents, which hot reload swaps while session
	// creation reads it.
	intentsMu sync.RWMutex
	intents   *intent.Resolver

	sessions  *SessionManager
	prompts   *PromptBus
	server    *Server
	health    *health.Handler
	metrics   *observe.Metrics
	httpSrv   *http.Server

	// closers are called in order during Shutdown.
	closers []func() error

	// stopOnce guards the Shutdown path.
	stopOnce sync.Once
}

// Option is a functional option for New. Use these to inject test doubles.
type Option func(*App)

// WithOrderStore injects an order store instead of creating one from config.
func WithOrderStore(s order.Store) Option {
	return func(a *App) { a.store = s }
}

// WithMenuIndex injects a semantic menu index instead of the Postgres one.
func WithMenuIndex(idx order.MenuIndex) Option {
	return func(a *App) { a.menuIndex = idx }
}

// WithMetrics injects a metrics bundle instead of the process-wide default.
func WithMetrics(m *observe.Metrics) Option {
	return func(a *App) { a.metrics = m }
}

// ─── New ─────────────────────────────────────────────────────────────────────

// New creates an App by wiring all subsystems together. The providers struct
// comes from main.go (populated via the config registry). Use Option functions
// to inject test doubles for any subsystem.
//
// New performs all initialisation synchronously: order store connection, menu
// load and indexing, recognition and intent services, and the session layer.
func New(ctx context.Context, cfg *config.Config, providers *Providers, opts ...Option) (*App, error) {
	if providers == nil {
		providers = &Providers{}
	}
	if providers.ASR == nil {
		return nil, errors.New("app: an asr provider is required")
	}
	if providers.LLM == nil {
		return nil, errors.New("app: an llm provider is required")
	}
	if providers.Payment == nil {
		return nil, errors.New("app: a payment processor is required")
	}

	a := &App{
		cfg:       cfg,
		providers: providers,
	}
	for _, o := range opts {
		o(a)
	}
	if a.metrics == nil {
		a.metrics = observe.DefaultMetrics()
	}

	var checkers []health.Checker

	// ── 1. Order store + menu ────────────────────────────────────────────
	if err := a.initOrders(ctx, &checkers); err != nil {
		return nil, fmt.Errorf("app: init orders: %w", err)
	}

	// ── 2. Transcript correction vocabulary ──────────────────────────────
	a.matcher = phonetic.New(a.menu.Vocabulary())

	// ── 3. Speech recognition ────────────────────────────────────────────
	if err := a.initSpeech(); err != nil {
		return nil, fmt.Errorf("app: init speech: %w", err)
	}

	// ── 4. Intent resolution ─────────────────────────────────────────────
	if err := a.initIntents(); err != nil {
		return nil, fmt.Errorf("app: init intents: %w", err)
	}

	// ── 5. Preprocessing ─────────────────────────────────────────────────
	if err := a.initPreprocess(); err != nil {
		return nil, fmt.Errorf("app: init preprocess: %w", err)
	}

	// ── 6. Session layer ─────────────────────────────────────────────────
	if err := a.initSessions(); err != nil {
		return nil, fmt.Errorf("app: init sessions: %w", err)
	}

	// ── 7. HTTP surface ──────────────────────────────────────────────────
	checkers = append(checkers, collaboratorCheckers(cfg)...)
	a.health = health.New(checkers...)
	server, err := NewServer(ServerConfig{
		Sessions:      a.sessions,
		Prompts:       a.prompts,
		Health:        a.health,
		SampleRate:    cfg.Audio.SampleRate,
		FrameDuration: cfg.Audio.FrameDuration,
		Metrics:       a.metrics,
	})
	if err != nil {
		return nil, fmt.Errorf("app: init server: %w", err)
	}
	a.server = server

	return a, nil
}

// ─── Init helpers ────────────────────────────────────────────────────────────

// initOrders sets up order persistence, loads the menu catalog and builds the
// order manager, indexing the menu when a semantic index is available.
func (a *App) initOrders(ctx context.Context, checkers *[]health.Checker) error {
	if a.store == nil {
		if dsn := a.cfg.Order.PostgresDSN; dsn != "" {
			store, err := orderpg.NewStore(ctx, dsn, a.cfg.Order.EmbeddingDimensions)
			if err != nil {
				return fmt.Errorf("connect order store: %w", err)
			}
			a.store = store
			if a.menuIndex == nil {
				a.menuIndex = store
			}
			a.closers = append(a.closers, func() error {
				store.Close()
				return nil
			})
			*checkers = append(*checkers, health.PingChecker("postgres", store))
		} else {
			slog.Info("no postgres dsn configured, orders are in-memory only")
			a.store = order.NewMemStore()
		}
	}

	menu, err := order.LoadMenu(a.cfg.Order.MenuPath)
	if err != nil {
		return fmt.Errorf("load menu %q: %w", a.cfg.Order.MenuPath, err)
	}
	a.menu = menu
	slog.Info("menu loaded", "path", a.cfg.Order.MenuPath, "items", len(menu.Items()))

	mgrOpts := []order.ManagerOption{}
	if a.menuIndex != nil && a.providers.Embeddings != nil {
		mgrOpts = append(mgrOpts,
			order.WithSemanticIndex(a.menuIndex, a.providers.Embeddings),
			order.WithSemanticDistanceMax(a.cfg.Order.SemanticDistanceMax),
		)
	}
	mgr, err := order.NewManager(menu, a.store, mgrOpts...)
	if err != nil {
		return fmt.Errorf("create order manager: %w", err)
	}
	a.orders = mgr

	if a.menuIndex != nil && a.providers.Embeddings != nil {
		if err := mgr.IndexMenu(ctx); err != nil {
			slog.Warn("menu indexing failed, semantic item lookup disabled", "err", err)
		} else {
			slog.Info("menu indexed", "model", a.providers.Embeddings.ModelID())
		}
	}
	return nil
}

// initSpeech builds the recognition service with the menu-vocabulary
// transcript corrector.
func (a *App) initSpeech() error {
	svc, err := speech.NewService(a.providers.ASR,
		speech.WithTimeout(a.cfg.Timeouts.Collaborator),
		speech.WithCorrector(a.matcher),
	)
	if err != nil {
		return err
	}
	a.speech = svc
	return nil
}

// initIntents builds the classifier and resolver. Configured thresholds
// override the defaults per intent type.
func (a *App) initIntents() error {
	classifier, err := intent.NewLLMClassifier(a.providers.LLM,
		intent.WithVocabulary(a.menu.Vocabulary()),
		intent.WithPhoneticSimilarityPercent(a.cfg.Intent.PhoneticSimilarityPercent),
	)
	if err != nil {
		return err
	}

	thresholds := intent.DefaultThresholds()
	for t, v := range a.cfg.Intent.ThresholdMap() {
		thresholds[t] = v
	}

	resolver, err := intent.NewResolver(classifier, intent.WithThresholds(thresholds))
	if err != nil {
		return err
	}
	a.intents = resolver
	return nil
}

// initPreprocess builds the shared feature extractor. Speaker separation is
// wired only when both the speaker service and a registered reference
// embedding are available; otherwise the energy fallback isolates.
func (a *App) initPreprocess() error {
	pcfg := preprocess.DefaultConfig()
	pcfg.TargetSampleRate = a.cfg.Audio.SampleRate
	pcfg.NoiseReduction = a.cfg.Preprocess.NoiseReduction
	pcfg.SpeakerSimilarityThreshold = a.cfg.Preprocess.SpeakerSimilarity

	var popts []preprocess.Option
	if a.providers.Speaker != nil {
		reference, err := loadSpeakerReference(a.cfg.Providers.Speaker.Options)
		switch {
		case err != nil:
			slog.Warn("speaker reference unavailable, using energy isolation", "err", err)
		case len(reference) == 0:
			slog.Info("no speaker reference registered, using energy isolation")
		default:
			popts = append(popts, preprocess.WithSpeakerModels(
				a.providers.Speaker, a.providers.Speaker, reference))
		}
	}

	proc, err := preprocess.NewProcessor(pcfg, popts...)
	if err != nil {
		return err
	}
	a.preproc = proc
	return nil
}

// initSessions builds the prompt bus, the per-session pipeline factory and
// the session manager with its capture configuration.
func (a *App) initSessions() error {
	a.prompts = NewPromptBus(slog.Default())

	vadEngine := a.providers.VAD
	if vadEngine == nil {
		slog.Warn("no vad provider configured, using energy detector")
		vadEngine = vadenergy.New()
	} else {
		// A neural detector that fails, at session init or mid-stream,
		// degrades to the local energy detector instead of stalling capture.
		vadEngine = resilience.NewVADFallback(
			vadEngine, a.cfg.Providers.VAD.Name, vadenergy.New(), "energy", slog.Default())
	}

	capCfg := capture.DefaultConfig(a.cfg.Audio.SampleRate)
	capCfg.FrameDuration = a.cfg.Audio.FrameDuration
	capCfg.PreRoll = a.cfg.Capture.PreRoll
	capCfg.Debounce = a.cfg.Capture.Debounce
	capCfg.MaxSilenceStart = a.cfg.Capture.MaxSilenceStart
	capCfg.MaxSilenceEnd = a.cfg.Capture.MaxSilenceEnd
	capCfg.MinRecordDuration = a.cfg.Capture.MinRecordDuration

	sensitivity := a.cfg.Capture.VADSensitivity
	vadCfg := vad.Config{
		SampleRate:       a.cfg.Audio.SampleRate,
		FrameSizeMs:      int(a.cfg.Audio.FrameDuration / time.Millisecond),
		SpeechThreshold:  sensitivity,
		SilenceThreshold: sensitivity * 0.7,
	}

	factory := func(sessionID string) (*Pipeline, error) {
		machine, err := dialogue.NewMachine(sessionID, a.orders, a.providers.Payment)
		if err != nil {
			return nil, err
		}
		a.intentsMu.RLock()
		intents := a.intents
		a.intentsMu.RUnlock()
		return NewPipeline(sessionID, PipelineConfig{
			Preprocess: a.preproc,
			Speech:     a.speech,
			Intents:    intents,
			Dialogue:   machine,
			TTS:        a.providers.TTS,
			Speak:      a.prompts.Speak,
			RetryMax:   a.cfg.Timeouts.RetryMax,
			Metrics:    a.metrics,
		})
	}

	sm, err := NewSessionManager(SessionManagerConfig{
		NewPipeline:   factory,
		VAD:           vadEngine,
		VADConfig:     vadCfg,
		Capture:       capCfg,
		QueueCapacity: a.cfg.Audio.QueueCapacity,
		IdleTimeout:   a.cfg.Session.IdleTimeout,
		SweepInterval: a.cfg.Session.SweepInterval,
		Metrics:       a.metrics,
	})
	if err != nil {
		return err
	}
	a.sessions = sm
	return nil
}

// ─── Run ─────────────────────────────────────────────────────────────────────

// Run serves the kiosk HTTP surface and the session background loops, and
// blocks until ctx is cancelled.
func (a *App) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              a.cfg.Server.ListenAddr,
		Handler:           a.server.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	a.httpSrv = srv

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return a.sessions.Run(gctx)
	})
	g.Go(func() error {
		if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("app: http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	slog.Info("app running", "listen_addr", a.cfg.Server.ListenAddr)
	err := g.Wait()
	if ctx.Err() != nil {
		return ctx.Err()
	}
	return err
}

// Sessions returns the session manager, for surfaces that drive sessions
// outside the HTTP stream (tests, local tooling).
func (a *App) Sessions() *SessionManager { return a.sessions }

// ApplyConfig applies the hot-reload-safe parts of a config change. Changed
// settings take effect for sessions created after the reload; sessions in
// flight keep the configuration they started with.
func (a *App) ApplyConfig(diff config.ConfigDiff) {
	if diff.Empty() {
		return
	}
	if diff.ThresholdsChanged {
		thresholds := intent.DefaultThresholds()
		for t, v := range diff.NewIntent.ThresholdMap() {
			thresholds[t] = v
		}
		a.intentsMu.RLock()
		classifier := a.intents.Classifier()
		a.intentsMu.RUnlock()
		resolver, err := intent.NewResolver(classifier, intent.WithThresholds(thresholds))
		if err != nil {
			slog.Warn("threshold reload failed", "err", err)
		} else {
			a.intentsMu.Lock()
			a.intents = resolver
			a.intentsMu.Unlock()
			slog.Info("intent thresholds reloaded")
		}
	}
	if diff.CaptureChanged {
		slog.Info("capture timing change staged for new sessions")
	}
	if diff.SessionChanged {
		slog.Info("session timing change staged for new sessions")
	}
}

// ─── Shutdown ────────────────────────────────────────────────────────────────

// Shutdown tears down all subsystems in order. It respects the context
// deadline: if ctx expires before all closers finish, remaining closers are
// skipped and the context error is returned.
func (a *App) Shutdown(ctx context.Context) error {
	var shutdownErr error
	a.stopOnce.Do(func() {
		slog.Info("shutting down", "closers", len(a.closers))

		for i, closer := range a.closers {
			select {
			case <-ctx.Done():
				slog.Warn("shutdown deadline exceeded", "remaining", len(a.closers)-i)
				shutdownErr = ctx.Err()
				return
			default:
			}
			if err := closer(); err != nil {
				slog.Warn("closer error", "index", i, "err", err)
			}
		}

		slog.Info("shutdown complete")
	})
	return shutdownErr
}

// ─── Helpers ─────────────────────────────────────────────────────────────────

// collaboratorCheckers builds readiness probes for every HTTP collaborator
// named in the provider config.
func collaboratorCheckers(cfg *config.Config) []health.Checker {
	entries := map[string]config.ProviderEntry{
		"asr":     cfg.Providers.ASR,
		"tts":     cfg.Providers.TTS,
		"vad":     cfg.Providers.VAD,
		"speaker": cfg.Providers.Speaker,
	}
	var checkers []health.Checker
	for kind, entry := range entries {
		if entry.BaseURL == "" {
			continue
		}
		name := kind
		if entry.Name != "" {
			name = kind + "/" + entry.Name
		}
		checkers = append(checkers, health.EndpointChecker(name, entry.BaseURL, nil))
	}
	return checkers
}

// loadSpeakerReference reads the registered primary-speaker embedding from
// the path named in the speaker provider options, stored as a JSON array of
// float32 produced at enrollment time.
func loadSpeakerReference(opts map[string]any) ([]float32, error) {
	path, _ := opts["reference_profile"].(string)
	if path == "" {
		return nil, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read speaker profile %q: %w", path, err)
	}
	var ref []float32
	if err := json.Unmarshal(data, &ref); err != nil {
		return nil, fmt.Errorf("parse speaker profile %q: %w", path, err)
	}
	return ref, nil
}
