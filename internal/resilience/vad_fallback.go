package resilience

import (
	"log/slog"
	"sync"

	"github.com/voxkiosk/voxkiosk/pkg/provider/vad"
)

// VADFallback implements [vad.Engine] with degradation to a local stand-in
// detector. Unlike the request-scoped fallbacks, speech detection is
// session-scoped and sits on the per-frame hot path, so there is no breaker:
// a session whose primary fails switches to the stand-in once and stays
// there for the rest of the customer interaction. A primary that cannot even
// create a session degrades immediately.
type VADFallback struct {
	primary     vad.Engine
	primaryName string
	standby     vad.Engine
	standbyName string
	logger      *slog.Logger

	initLog sync.Once
}

var _ vad.Engine = (*VADFallback)(nil)

// NewVADFallback wraps primary with standby as its degraded-mode detector.
// A nil logger defaults to [slog.Default].
func NewVADFallback(primary vad.Engine, primaryName string, standby vad.Engine, standbyName string, logger *slog.Logger) *VADFallback {
	if logger == nil {
		logger = slog.Default()
	}
	return &VADFallback{
		primary:     primary,
		primaryName: primaryName,
		standby:     standby,
		standbyName: standbyName,
		logger:      logger,
	}
}

// NewSession creates a session on the primary detector. Failure to
// initialize is non-fatal: the session comes from the standby instead,
// logged once per process.
func (f *VADFallback) NewSession(cfg vad.Config) (vad.SessionHandle, error) {
	primary, err := f.primary.NewSession(cfg)
	if err != nil {
		f.initLog.Do(func() {
			f.logger.Warn("primary speech detector unavailable, degrading",
				"primary", f.primaryName, "standby", f.standbyName, "error", err)
		})
		return f.standby.NewSession(cfg)
	}
	return &degradingSession{owner: f, cfg: cfg, active: primary, onPrimary: true}, nil
}

// degradingSession forwards to the primary session until a frame fails, then
// builds a standby session and forwards there for good.
type degradingSession struct {
	owner *VADFallback
	cfg   vad.Config

	mu        sync.Mutex
	active    vad.SessionHandle
	onPrimary bool
}

var _ vad.SessionHandle = (*degradingSession)(nil)

func (s *degradingSession) ProcessFrame(frame []byte) (vad.Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ev, err := s.active.ProcessFrame(frame)
	if err == nil || !s.onPrimary {
		return ev, err
	}

	standby, serr := s.owner.standby.NewSession(s.cfg)
	if serr != nil {
		return vad.Event{}, err
	}
	s.owner.logger.Warn("primary speech detector failed mid-stream, degrading",
		"primary", s.owner.primaryName, "standby", s.owner.standbyName, "error", err)
	_ = s.active.Close()
	s.active = standby
	s.onPrimary = false
	return s.active.ProcessFrame(frame)
}

func (s *degradingSession) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.active.Reset()
}

func (s *degradingSession) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active.Close()
}
