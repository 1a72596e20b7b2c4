package resilience

import (
	"context"

	"github.com/voxkiosk/voxkiosk/pkg/provider/tts"
)

// TTSFallback implements [tts.Synthesizer] with automatic failover across
// multiple TTS backends. Each backend has its own circuit breaker.
type TTSFallback struct {
	group *FallbackGroup[tts.Synthesizer]
}

// Compile-time interface assertion.
var _ tts.Synthesizer = (*TTSFallback)(nil)

// NewTTSFallback creates a [TTSFallback] with primary as the preferred backend.
func NewTTSFallback(primary tts.Synthesizer, primaryName string, cfg FallbackConfig) *TTSFallback {
	return &TTSFallback{
		group: NewFallbackGroup(primary, primaryName, cfg),
	}
}

// AddFallback registers an additional synthesizer as a fallback.
func (f *TTSFallback) AddFallback(name string, synth tts.Synthesizer) {
	f.group.AddFallback(name, synth)
}

// Synthesize speaks the prompt through the first healthy backend. If the
// primary fails, subsequent fallbacks are tried with the same text.
func (f *TTSFallback) Synthesize(ctx context.Context, text string) (*tts.Audio, error) {
	return ExecuteWithResult(f.group, func(s tts.Synthesizer) (*tts.Audio, error) {
		return s.Synthesize(ctx, text)
	})
}

// Name returns the name of the primary backend prefixed with "fallback/".
func (f *TTSFallback) Name() string {
	return "fallback/" + f.group.entries[0].name
}
