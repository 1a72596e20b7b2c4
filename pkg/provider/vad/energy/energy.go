// Package energy implements a local voice activity detector based on an
// adaptive noise floor. It needs no external model or server, which makes it
// the degraded-mode backend when the Silero server is unreachable.
//
// The detector tracks a slow exponential estimate of the ambient noise level
// and maps each frame's RMS energy relative to that floor onto a pseudo
// speech probability. It is less accurate than a neural VAD around soft
// speech onsets but never fails closed.
package energy

import (
	"fmt"
	"math"
	"sync"

	"github.com/voxkiosk/voxkiosk/pkg/audio"
	"github.com/voxkiosk/voxkiosk/pkg/provider/vad"
)

// floorAdaptRate controls how quickly the noise floor tracks quiet frames.
// Speech frames adapt the floor an order of magnitude slower so a long order
// does not inflate the floor and clip its own tail.
const (
	floorAdaptRate       = 0.05
	floorAdaptRateActive = 0.005
	initialFloor         = 0.01
)

// Engine creates adaptive-energy VAD sessions.
type Engine struct{}

// New returns an Engine ready to create sessions.
func New() *Engine {
	return &Engine{}
}

// NewSession creates a detection session with its own noise floor state.
func (e *Engine) NewSession(cfg vad.Config) (vad.SessionHandle, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("energy vad config: %w", err)
	}
	return &session{cfg: cfg, floor: initialFloor}, nil
}

var _ vad.Engine = (*Engine)(nil)

type session struct {
	mu       sync.Mutex
	cfg      vad.Config
	floor    float64
	inSpeech bool
	closed   bool
}

func (s *session) ProcessFrame(frame []byte) (vad.Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return vad.Event{}, fmt.Errorf("energy vad: session closed")
	}
	if want := s.cfg.FrameBytes(); len(frame) != want {
		return vad.Event{}, fmt.Errorf("energy vad: frame size %d bytes, want %d", len(frame), want)
	}

	rms := audio.RMS(frame)
	prob := s.probability(rms)
	s.adaptFloor(rms)

	var ev vad.Event
	ev.Probability = prob
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

// probability maps the RMS-to-floor ratio onto [0, 1] with a logistic curve
// centered at 4x the noise floor.
func (s *session) probability(rms float64) float64 {
	if s.floor <= 0 {
		if rms > 0 {
			return 1
		}
		return 0
	}
	ratio := rms / s.floor
	return 1 / (1 + math.Exp(-(ratio-4)))
}

func (s *session) adaptFloor(rms float64) {
	rate := floorAdaptRate
	if s.inSpeech {
		rate = floorAdaptRateActive
	}
	s.floor = s.floor*(1-rate) + rms*rate
	if s.floor < 1e-6 {
		s.floor = 1e-6
	}
}

func (s *session) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.floor = initialFloor
	s.inSpeech = false
}

func (s *session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

var _ vad.SessionHandle = (*session)(nil)
