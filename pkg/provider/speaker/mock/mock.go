// Package mock provides test doubles for the speaker package interfaces.
package mock

import (
	"context"
	"sync"
)

// Embedder is a mock implementation of speaker.Embedder.
type Embedder struct {
	mu sync.Mutex

	// EmbedFunc, if set, handles Embed calls. Otherwise EmbedResult and
	// EmbedErr are returned.
	EmbedFunc func(pcm []byte, sampleRate int) ([]float32, error)

	// EmbedResult is returned by Embed when EmbedFunc is nil.
	EmbedResult []float32

	// EmbedErr, if non-nil, is returned by every Embed call.
	EmbedErr error

	// Dims is returned by Dimensions.
	Dims int

	// EmbedCalls counts Embed invocations.
	EmbedCalls int
}

func (e *Embedder) Embed(_ context.Context, pcm []byte, sampleRate int) ([]float32, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.EmbedCalls++
	if e.EmbedFunc != nil {
		return e.EmbedFunc(pcm, sampleRate)
	}
	return e.EmbedResult, e.EmbedErr
}

func (e *Embedder) Dimensions() int { return e.Dims }

// Separator is a mock implementation of speaker.Separator.
type Separator struct {
	mu sync.Mutex

	// Streams is returned by Separate. If nil, the input is echoed back as a
	// single stream.
	Streams [][]byte

	// SeparateErr, if non-nil, is returned by every Separate call.
	SeparateErr error

	// SeparateCalls counts Separate invocations.
	SeparateCalls int
}

func (s *Separator) Separate(_ context.Context, pcm []byte, sampleRate int) ([][]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.SeparateCalls++
	if s.SeparateErr != nil {
		return nil, s.SeparateErr
	}
	if s.Streams != nil {
		return s.Streams, nil
	}
	return [][]byte{pcm}, nil
}
