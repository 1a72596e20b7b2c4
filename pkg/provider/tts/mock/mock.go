// Package mock provides a test double for the tts.Synthesizer interface.
//
// Use Synthesizer to return controlled audio from Synthesize and to verify
// which prompts were spoken.
//
// Example:
//
//	s := &mock.Synthesizer{
//	    SynthesizeAudio: &tts.Audio{PCM: []byte{0, 0}, SampleRate: 16000, Channels: 1},
//	}
//	audio, _ := s.Synthesize(ctx, "주문 확인해주세요")
package mock

import (
	"context"
	"sync"

	"github.com/voxkiosk/voxkiosk/pkg/provider/tts"
)

// Compile-time interface assertion.
var _ tts.Synthesizer = (*Synthesizer)(nil)

// Synthesizer is a configurable mock implementation of tts.Synthesizer.
// The zero value is usable; all fields are optional. Safe for concurrent use.
type Synthesizer struct {
	mu sync.Mutex

	// SynthesizeFunc, when non-nil, is called by Synthesize after the call
	// is recorded. It takes precedence over SynthesizeAudio/SynthesizeErr.
	SynthesizeFunc func(ctx context.Context, text string) (*tts.Audio, error)

	// SynthesizeAudio is returned by Synthesize when SynthesizeFunc is nil.
	// When nil, a one-sample 16 kHz mono Audio is synthesised.
	SynthesizeAudio *tts.Audio

	// SynthesizeErr, when non-nil, is returned by Synthesize.
	SynthesizeErr error

	// SynthesizerName overrides the value returned by Name. Defaults to "mock".
	SynthesizerName string

	// SynthesizeCalls records the text of every Synthesize invocation.
	SynthesizeCalls []string
}

// Synthesize records the call and returns the configured audio or error.
func (s *Synthesizer) Synthesize(ctx context.Context, text string) (*tts.Audio, error) {
	s.mu.Lock()
	s.SynthesizeCalls = append(s.SynthesizeCalls, text)
	fn := s.SynthesizeFunc
	audio := s.SynthesizeAudio
	err := s.SynthesizeErr
	s.mu.Unlock()

	if fn != nil {
		return fn(ctx, text)
	}
	if err != nil {
		return nil, err
	}
	if audio != nil {
		return audio, nil
	}
	return &tts.Audio{PCM: []byte{0, 0}, SampleRate: 16000, Channels: 1}, nil
}

// Name returns SynthesizerName or "mock".
func (s *Synthesizer) Name() string {
	if s.SynthesizerName != "" {
		return s.SynthesizerName
	}
	return "mock"
}

// Reset clears all recorded calls.
func (s *Synthesizer) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.SynthesizeCalls = nil
}
