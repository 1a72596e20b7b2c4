// Package asr defines the Recognizer interface for speech recognition
// backends.
//
// A Recognizer consumes the preprocessor's fixed-shape features for one
// utterance and returns text plus per-segment log-probability statistics.
// Recognizers never report a final confidence value themselves; the
// confidence gate always derives it from the segment statistics so that no
// backend can smuggle in an optimistic default.
//
// Implementations must be safe for concurrent use; utterances from different
// sessions may be recognized in parallel.
package asr

import (
	"context"

	"github.com/voxkiosk/voxkiosk/pkg/types"
)

// Result is the raw recognizer output for one utterance.
type Result struct {
	// Text is the full transcription.
	Text string

	// Segments carry the per-span text and average log-probability the
	// confidence gate derives its score from. May be empty when the backend
	// heard nothing.
	Segments []types.Segment
}

// Recognizer is the abstraction over any speech recognition backend.
type Recognizer interface {
	// Recognize transcribes one preprocessed utterance. The call blocks until
	// transcription completes, ctx is cancelled, or the backend fails.
	Recognize(ctx context.Context, feats *types.Features) (*Result, error)

	// Name identifies the backend for logging and fallback diagnostics.
	Name() string
}
