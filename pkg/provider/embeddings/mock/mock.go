// Package mock is a test double for embeddings.Provider: canned vectors, no
// live model, call recording for asserting what the menu index submitted.
package mock

import (
	"context"
	"sync"

	"github.com/voxkiosk/voxkiosk/pkg/provider/embeddings"
)

var _ embeddings.Provider = (*Provider)(nil)

// EmbedCall records one Embed invocation.
type EmbedCall struct {
	Text string
}

// EmbedBatchCall records one EmbedBatch invocation. Texts is a copy.
type EmbedBatchCall struct {
	Texts []string
}

// Provider implements embeddings.Provider with configurable responses. The
// zero value embeds everything to empty vectors. Safe for concurrent use.
type Provider struct {
	mu sync.Mutex

	// EmbedResult is returned by every Embed call.
	EmbedResult []float32

	// EmbedErr, if non-nil, is returned as the error from Embed.
	EmbedErr error

	// EmbedBatchResult is returned by EmbedBatch. When nil, a slice of nil
	// vectors matching len(texts) is returned instead.
	EmbedBatchResult [][]float32

	// EmbedBatchErr, if non-nil, is returned as the error from EmbedBatch.
	EmbedBatchErr error

	// DimensionsValue is returned by Dimensions.
	DimensionsValue int

	// ModelIDValue is returned by ModelID.
	ModelIDValue string

	// EmbedCalls and EmbedBatchCalls record every invocation in order.
	EmbedCalls      []EmbedCall
	EmbedBatchCalls []EmbedBatchCall
}

func (p *Provider) Embed(_ context.Context, text string) ([]float32, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.EmbedCalls = append(p.EmbedCalls, EmbedCall{Text: text})
	return p.EmbedResult, p.EmbedErr
}

func (p *Provider) EmbedBatch(_ context.Context, texts []string) ([][]float32, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	cp := make([]string, len(texts))
	copy(cp, texts)
	p.EmbedBatchCalls = append(p.EmbedBatchCalls, EmbedBatchCall{Texts: cp})
	if p.EmbedBatchErr != nil {
		return nil, p.EmbedBatchErr
	}
	if p.EmbedBatchResult != nil {
		return p.EmbedBatchResult, nil
	}
	return make([][]float32, len(texts)), nil
}

func (p *Provider) Dimensions() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.DimensionsValue
}

func (p *Provider) ModelID() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.ModelIDValue
}
