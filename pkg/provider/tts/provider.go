// Package tts defines the Synthesizer interface for Text-to-Speech backends.
//
// A TTS synthesizer turns a kiosk prompt (a short Korean sentence such as an
// order summary or a payment confirmation question) into raw PCM audio for
// playback on the kiosk speaker. Prompts are short and synthesised one at a
// time, so the interface is single-shot rather than streaming.
//
// Implementations live in subpackages (coqui, elevenlabs) plus a mock
// implementation for testing.
package tts

import "context"

// Audio is the result of a synthesis request: raw 16-bit little-endian PCM
// together with the format needed to play it back.
type Audio struct {
	// PCM holds 16-bit little-endian signed samples, no container header.
	PCM []byte

	// SampleRate is the number of samples per second (e.g. 16000, 22050).
	SampleRate int

	// Channels is 1 for mono, 2 for stereo. Kiosk playback is mono.
	Channels int
}

// Synthesizer is the interface implemented by all TTS backends.
//
// Implementations must be safe for concurrent use; the kiosk may synthesise
// prompts for several sessions at once.
type Synthesizer interface {
	// Synthesize converts text into PCM audio. The call blocks until the
	// backend has produced the full prompt or ctx is cancelled. An empty
	// text returns an error rather than silent audio.
	Synthesize(ctx context.Context, text string) (*Audio, error)

	// Name returns a human-readable identifier for logging and metrics,
	// e.g. "coqui" or "elevenlabs/eleven_flash_v2_5".
	Name() string
}
