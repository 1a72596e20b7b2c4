// Package speaker defines the provider interfaces for speaker-aware audio
// models: source separation and speaker embeddings.
//
// The preprocessor uses a Separator to split an utterance into candidate
// streams (one per detected voice) and an Embedder to score each stream
// against the registered primary-speaker reference embedding. Both are
// optional capabilities: when either model server is unavailable the
// preprocessor falls back to an energy-window heuristic that needs no model.
//
// Implementations must be safe for concurrent use.
package speaker

import "context"

// Embedder maps raw audio to a fixed-length speaker embedding vector.
type Embedder interface {
	// Embed computes the speaker embedding for 16-bit LE mono PCM at the
	// given sample rate. Returns a float32 slice of length Dimensions().
	Embed(ctx context.Context, pcm []byte, sampleRate int) ([]float32, error)

	// Dimensions returns the fixed length of every embedding vector produced
	// by this provider.
	Dimensions() int
}

// Separator splits a mixed recording into per-voice streams.
type Separator interface {
	// Separate returns one PCM stream per detected voice, each the same
	// length and sample rate as the input. A single-voice recording yields a
	// one-element result.
	Separate(ctx context.Context, pcm []byte, sampleRate int) ([][]byte, error)
}

// Service is implemented by providers that offer both separation and
// embedding behind a single endpoint.
type Service interface {
	Embedder
	Separator
}
