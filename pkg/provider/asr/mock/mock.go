// Package mock provides a test double for the asr.Recognizer interface.
package mock

import (
	"context"
	"sync"

	"github.com/voxkiosk/voxkiosk/pkg/provider/asr"
	"github.com/voxkiosk/voxkiosk/pkg/types"
)

// RecognizeCall records a single invocation of Recognize.
type RecognizeCall struct {
	// Feats is the features value passed in.
	Feats *types.Features
}

// Recognizer is a mock implementation of asr.Recognizer.
type Recognizer struct {
	mu sync.Mutex

	// RecognizeFunc, if set, handles Recognize calls. Otherwise Result and
	// RecognizeErr are returned.
	RecognizeFunc func(ctx context.Context, feats *types.Features) (*asr.Result, error)

	// Result is returned by Recognize when RecognizeFunc is nil.
	Result *asr.Result

	// RecognizeErr, if non-nil, is returned by every Recognize call.
	RecognizeErr error

	// ProviderName is returned by Name. Defaults to "mock".
	ProviderName string

	// RecognizeCalls records every call to Recognize in order.
	RecognizeCalls []RecognizeCall
}

// Recognize records the call and returns the configured result.
func (r *Recognizer) Recognize(ctx context.Context, feats *types.Features) (*asr.Result, error) {
	r.mu.Lock()
	fn := r.RecognizeFunc
	r.RecognizeCalls = append(r.RecognizeCalls, RecognizeCall{Feats: feats})
	r.mu.Unlock()
	if fn != nil {
		return fn(ctx, feats)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.RecognizeErr != nil {
		return nil, r.RecognizeErr
	}
	if r.Result != nil {
		return r.Result, nil
	}
	return &asr.Result{}, nil
}

// Name returns ProviderName or "mock".
func (r *Recognizer) Name() string {
	if r.ProviderName != "" {
		return r.ProviderName
	}
	return "mock"
}

// Reset clears all recorded calls. Thread-safe.
func (r *Recognizer) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.RecognizeCalls = nil
}

// Ensure Recognizer implements asr.Recognizer at compile time.
var _ asr.Recognizer = (*Recognizer)(nil)
