package resilience

import (
	"context"

	"github.com/voxkiosk/voxkiosk/pkg/provider/asr"
	"github.com/voxkiosk/voxkiosk/pkg/types"
)

// ASRFallback implements [asr.Recognizer] with automatic failover across
// multiple recognition backends. Each backend has its own circuit breaker;
// when the primary fails or its breaker is open, the next healthy fallback
// is tried.
type ASRFallback struct {
	group *FallbackGroup[asr.Recognizer]
}

// Compile-time interface assertion.
var _ asr.Recognizer = (*ASRFallback)(nil)

// NewASRFallback creates an [ASRFallback] with primary as the preferred backend.
func NewASRFallback(primary asr.Recognizer, primaryName string, cfg FallbackConfig) *ASRFallback {
	return &ASRFallback{
		group: NewFallbackGroup(primary, primaryName, cfg),
	}
}

// AddFallback registers an additional recognizer as a fallback.
func (f *ASRFallback) AddFallback(name string, recognizer asr.Recognizer) {
	f.group.AddFallback(name, recognizer)
}

// Recognize transcribes the utterance against the first healthy backend.
// If the primary fails, subsequent fallbacks are tried with the same features.
func (f *ASRFallback) Recognize(ctx context.Context, feats *types.Features) (*asr.Result, error) {
	return ExecuteWithResult(f.group, func(r asr.Recognizer) (*asr.Result, error) {
		return r.Recognize(ctx, feats)
	})
}

// Name returns the name of the primary backend prefixed with "fallback/".
func (f *ASRFallback) Name() string {
	return "fallback/" + f.group.entries[0].name
}
