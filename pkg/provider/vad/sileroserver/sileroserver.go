// Package sileroserver provides a VAD engine backed by a remote Silero VAD
// HTTP server.
//
// The server exposes POST /v1/detect accepting raw 16-bit little-endian PCM
// and returning a JSON speech probability for the frame. Session state
// (hysteresis between speech and silence) is kept client-side so the server
// can stay stateless and be shared by every kiosk lane.
//
// Usage:
//
//	eng := sileroserver.New("http://localhost:9091",
//	    sileroserver.WithTimeout(150*time.Millisecond),
//	)
//	sess, err := eng.NewSession(cfg)
//	ev, err := sess.ProcessFrame(frame)
package sileroserver

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/voxkiosk/voxkiosk/pkg/provider/vad"
)

const defaultTimeout = 200 * time.Millisecond

// Compile-time assertion that Engine implements vad.Engine.
var _ vad.Engine = (*Engine)(nil)

// Option is a functional option for configuring an Engine.
type Option func(*Engine)

// WithHTTPClient overrides the HTTP client used for detection requests.
func WithHTTPClient(c *http.Client) Option {
	return func(e *Engine) {
		e.client = c
	}
}

// WithTimeout sets the per-frame request timeout. Detection sits on the hot
// capture path, so this should stay well below the frame interval budget.
// Defaults to 200 ms.
func WithTimeout(d time.Duration) Option {
	return func(e *Engine) {
		e.timeout = d
	}
}

// Engine talks to a Silero VAD server over HTTP.
type Engine struct {
	serverURL string
	client    *http.Client
	timeout   time.Duration
}

// New creates an Engine for the Silero server at serverURL.
func New(serverURL string, opts ...Option) *Engine {
	e := &Engine{
		serverURL: serverURL,
		timeout:   defaultTimeout,
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.client == nil {
		e.client = &http.Client{Timeout: e.timeout}
	}
	return e
}

// NewSession creates a client-side session. One silent frame is sent as a
// probe so an unreachable server fails here, at session creation, instead of
// mid-utterance.
func (e *Engine) NewSession(cfg vad.Config) (vad.SessionHandle, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("silero vad config: %w", err)
	}
	s := &session{engine: e, cfg: cfg}
	if _, err := s.detect(make([]byte, cfg.FrameBytes())); err != nil {
		return nil, fmt.Errorf("silero vad: server probe: %w", err)
	}
	return s, nil
}

type detectResponse struct {
	Probability float64 `json:"probability"`
}

type session struct {
	mu       sync.Mutex
	engine   *Engine
	cfg      vad.Config
	inSpeech bool
	closed   bool
}

func (s *session) ProcessFrame(frame []byte) (vad.Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return vad.Event{}, fmt.Errorf("silero vad: session closed")
	}
	if want := s.cfg.FrameBytes(); len(frame) != want {
		return vad.Event{}, fmt.Errorf("silero vad: frame size %d bytes, want %d", len(frame), want)
	}

	prob, err := s.detect(frame)
	if err != nil {
		return vad.Event{}, err
	}

	ev := vad.Event{Probability: prob}
	switch {
	case !s.inSpeech && prob >= s.cfg.SpeechThreshold:
		s.inSpeech = true
		ev.Type = vad.SpeechStart
	case s.inSpeech && prob > s.cfg.SilenceThreshold:
		ev.Type = vad.SpeechContinue
	case s.inSpeech:
		s.inSpeech = false
		ev.Type = vad.SpeechEnd
	default:
		ev.Type = vad.Silence
	}
	return ev, nil
}

func (s *session) detect(frame []byte) (float64, error) {
	req, err := http.NewRequest(http.MethodPost, s.engine.serverURL+"/v1/detect", bytes.NewReader(frame))
	if err != nil {
		return 0, fmt.Errorf("silero vad: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/octet-stream")
	req.Header.Set("X-Sample-Rate", strconv.Itoa(s.cfg.SampleRate))

	resp, err := s.engine.client.Do(req)
	if err != nil {
		return 0, fmt.Errorf("silero vad: detect request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return 0, fmt.Errorf("silero vad: server returned %d: %s", resp.StatusCode, body)
	}

	var dr detectResponse
	if err := json.NewDecoder(resp.Body).Decode(&dr); err != nil {
		return 0, fmt.Errorf("silero vad: decode response: %w", err)
	}
	if dr.Probability < 0 || dr.Probability > 1 {
		return 0, fmt.Errorf("silero vad: probability out of range: %v", dr.Probability)
	}
	return dr.Probability, nil
}

func (s *session) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.inSpeech = false
}

func (s *session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

var _ vad.SessionHandle = (*session)(nil)
