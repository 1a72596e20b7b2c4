package types

import "errors"

// Error taxonomy for the voice pipeline. Stage-local degradation inside the
// preprocessor is logged, not surfaced; everything else wraps one of these
// sentinels so the session layer can route uniformly with errors.Is.
var (
	// ErrInvalidFormat rejects malformed or oversized input audio. Fatal for
	// the utterance.
	ErrInvalidFormat = errors.New("invalid audio format")

	// ErrFeatureExtraction marks a failed feature computation. Fatal for the
	// utterance since no recognizer can consume a malformed shape.
	ErrFeatureExtraction = errors.New("feature extraction failed")

	// ErrCollaboratorTimeout marks a recognizer, LLM or TTS call that
	// exceeded its deadline. Retryable up to the configured bound.
	ErrCollaboratorTimeout = errors.New("collaborator timed out")

	// ErrCollaboratorUnavailable marks a collaborator that could not be
	// reached at all. Retryable up to the configured bound.
	ErrCollaboratorUnavailable = errors.New("collaborator unavailable")

	// ErrStateInvariant marks corrupted session state. The session is reset
	// to idle; this is never silently ignored.
	ErrStateInvariant = errors.New("session state invariant violated")
)
