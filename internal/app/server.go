package app

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/voxkiosk/voxkiosk/internal/health"
	"github.com/voxkiosk/voxkiosk/internal/observe"
	"github.com/voxkiosk/voxkiosk/pkg/audio"
	"github.com/voxkiosk/voxkiosk/pkg/provider/tts"
)

// promptQueueDepth bounds the per-session outbound prompt queue. A kiosk
// speaks one short prompt per utterance; a full queue means the client
// stopped reading and the oldest prompt is stale anyway.
const promptQueueDepth = 8

// PromptBus fans synthesized prompts out to per-session subscribers. The
// pipeline publishes through Speak; the stream handler for a session
// subscribes and plays. Safe for concurrent use.
type PromptBus struct {
	mu     sync.Mutex
	subs   map[string]chan *tts.Audio
	logger *slog.Logger
}

// NewPromptBus creates an empty bus.
func NewPromptBus(logger *slog.Logger) *PromptBus {
	if logger == nil {
		logger = slog.Default()
	}
	return &PromptBus{
		subs:   make(map[string]chan *tts.Audio),
		logger: logger,
	}
}

// Subscribe returns the prompt channel for a session, creating it on first
// use. The channel closes on Unsubscribe.
func (b *PromptBus) Subscribe(sessionID string) <-chan *tts.Audio {
	b.mu.Lock()
	defer b.mu.Unlock()
	ch, ok := b.subs[sessionID]
	if !ok {
		ch = make(chan *tts.Audio, promptQueueDepth)
		b.subs[sessionID] = ch
	}
	return ch
}

// Unsubscribe removes and closes a session's prompt channel.
func (b *PromptBus) Unsubscribe(sessionID string) {
	b.mu.Lock()
	ch, ok := b.subs[sessionID]
	delete(b.subs, sessionID)
	b.mu.Unlock()
	if ok {
		close(ch)
	}
}

// Speak publishes a prompt for a session. Prompts for sessions without a
// subscriber, and prompts that would block, are dropped with a warning.
func (b *PromptBus) Speak(sessionID string, a *tts.Audio) {
	b.mu.Lock()
	ch, ok := b.subs[sessionID]
	b.mu.Unlock()
	if !ok {
		b.logger.Warn("prompt dropped, no subscriber", "session_id", sessionID)
		return
	}
	select {
	case ch <- a:
	default:
		b.logger.Warn("prompt dropped, queue full", "session_id", sessionID)
	}
}

// ServerConfig holds the dependencies for the HTTP surface.
type ServerConfig struct {
	// Sessions manages kiosk session lifecycle. Required.
	Sessions *SessionManager

	// Prompts carries synthesized audio back to stream clients. Required.
	Prompts *PromptBus

	// Health serves /healthz and /readyz. Nil disables the endpoints.
	Health *health.Handler

	// SampleRate is the PCM rate expected on inbound stream frames, in Hz.
	SampleRate int

	// FrameDuration is the nominal duration of one inbound frame.
	FrameDuration time.Duration

	Metrics *observe.Metrics
	Logger  *slog.Logger
}

// Server is the kiosk's HTTP surface: a WebSocket audio stream per customer
// session plus health and metrics endpoints.
type Server struct {
	sessions *SessionManager
	prompts  *PromptBus
	health   *health.Handler
	rate     int
	frameDur time.Duration
	metrics  *observe.Metrics
	logger   *slog.Logger
}

// NewServer creates the HTTP surface.
func NewServer(cfg ServerConfig) (*Server, error) {
	if cfg.Sessions == nil {
		return nil, errors.New("app: session manager is required")
	}
	if cfg.Prompts == nil {
		return nil, errors.New("app: prompt bus is required")
	}
	if cfg.SampleRate <= 0 {
		return nil, errors.New("app: sample rate must be positive")
	}
	if cfg.Metrics == nil {
		cfg.Metrics = observe.DefaultMetrics()
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Server{
		sessions: cfg.Sessions,
		prompts:  cfg.Prompts,
		health:   cfg.Health,
		rate:     cfg.SampleRate,
		frameDur: cfg.FrameDuration,
		metrics:  cfg.Metrics,
		logger:   cfg.Logger,
	}, nil
}

// Handler returns the full route set wrapped in the telemetry middleware.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	if s.health != nil {
		s.health.Register(mux)
	}
	mux.Handle("GET /metrics", promhttp.Handler())
	mux.HandleFunc("GET /v1/stream", s.handleStream)
	return observe.Middleware(s.metrics)(mux)
}

// streamHello is the first message on a stream connection.
type streamHello struct {
	SessionID string `json:"session_id"`
	StartedAt string `json:"started_at"`
}

// handleStream runs one customer's audio stream. Each inbound binary message
// is one PCM frame; synthesized prompts flow back as binary messages. The
// session lives exactly as long as the connection.
func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket accept failed", "err", err)
		return
	}
	defer conn.Close(websocket.StatusInternalError, "stream aborted")

	ctx := r.Context()
	logger := observe.Logger(ctx, s.logger)
	info, err := s.sessions.Start(ctx)
	if err != nil {
		logger.Error("session start failed", "err", err)
		conn.Close(websocket.StatusInternalError, "session start failed")
		return
	}
	defer s.sessions.Stop(info.SessionID)

	prompts := s.prompts.Subscribe(info.SessionID)
	defer s.prompts.Unsubscribe(info.SessionID)

	hello, _ := json.Marshal(streamHello{
		SessionID: info.SessionID,
		StartedAt: info.StartedAt.Format(time.RFC3339),
	})
	if err := conn.Write(ctx, websocket.MessageText, hello); err != nil {
		logger.Warn("stream hello failed", "session_id", info.SessionID, "err", err)
		return
	}

	// Prompt writer. Exits when the subscription closes or ctx ends.
	writeCtx, cancelWrite := context.WithCancel(ctx)
	defer cancelWrite()
	go func() {
		for {
			select {
			case <-writeCtx.Done():
				return
			case a, ok := <-prompts:
				if !ok {
					return
				}
				if err := conn.Write(writeCtx, websocket.MessageBinary, a.PCM); err != nil {
					logger.Warn("prompt write failed",
						"session_id", info.SessionID, "err", err)
					return
				}
			}
		}
	}()

	logger.Info("stream opened", "session_id", info.SessionID, "remote", r.RemoteAddr)

	var seq uint64
	for {
		typ, data, err := conn.Read(ctx)
		if err != nil {
			status := websocket.CloseStatus(err)
			if status == websocket.StatusNormalClosure || status == websocket.StatusGoingAway || ctx.Err() != nil {
				logger.Info("stream closed", "session_id", info.SessionID)
				conn.Close(websocket.StatusNormalClosure, "")
			} else {
				logger.Warn("stream read failed", "session_id", info.SessionID, "err", err)
			}
			return
		}
		if typ != websocket.MessageBinary || len(data) == 0 {
			continue
		}
		frame := audio.Frame{
			Data:       data,
			SampleRate: s.rate,
			Seq:        seq,
			Timestamp:  time.Duration(seq) * s.frameDur,
		}
		seq++
		if err := s.sessions.Push(info.SessionID, frame); err != nil {
			logger.Warn("frame push failed", "session_id", info.SessionID, "err", err)
			return
		}
	}
}
