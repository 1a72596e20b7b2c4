// This file contains the NativeProvider implementation backed by the
// whisper.cpp CGO bindings. The whisper.cpp static library (libwhisper.a)
// and headers (whisper.h) must be available at link time via LIBRARY_PATH
// and C_INCLUDE_PATH environment variables.

package whisper

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"strings"
	"sync"

	whisperlib "github.com/ggerganov/whisper.cpp/bindings/go/pkg/whisper"

	"github.com/voxkiosk/voxkiosk/pkg/provider/asr"
	"github.com/voxkiosk/voxkiosk/pkg/types"
)

// Compile-time assertion that NativeProvider satisfies asr.Recognizer.
var _ asr.Recognizer = (*NativeProvider)(nil)

// NativeProvider implements asr.Recognizer using whisper.cpp Go bindings
// (CGO), eliminating HTTP overhead entirely. The model is loaded once at
// startup and shared across all utterances.
type NativeProvider struct {
	model    whisperlib.Model
	language string

	// Each whisper context is single-threaded; contexts are created per call
	// and the model itself is shared. mu guards Close against in-flight
	// inference.
	mu     sync.RWMutex
	closed bool
}

// NativeOption is a functional option for configuring a NativeProvider.
type NativeOption func(*NativeProvider)

// WithNativeLanguage sets the BCP-47 language code for transcription.
// Defaults to "ko".
func WithNativeLanguage(lang string) NativeOption {
	return func(p *NativeProvider) { p.language = lang }
}

// NewNative creates a NativeProvider that loads the whisper.cpp model from
// the given file path. The caller must call Close when the provider is no
// longer needed.
func NewNative(modelPath string, opts ...NativeOption) (*NativeProvider, error) {
	if modelPath == "" {
		return nil, errors.New("whisper: modelPath must not be empty")
	}
	model, err := whisperlib.New(modelPath)
	if err != nil {
		return nil, fmt.Errorf("whisper: load model %q: %w", modelPath, err)
	}
	p := &NativeProvider{
		model:    model,
		language: defaultLanguage,
	}
	for _, o := range opts {
		o(p)
	}
	return p, nil
}

// Name identifies this backend.
func (p *NativeProvider) Name() string { return "whisper-native" }

// Close releases the whisper model.
func (p *NativeProvider) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil
	}
	p.closed = true
	return p.model.Close()
}

// Recognize runs batch inference on the cleaned PCM using a fresh whisper
// context. Per-segment average log-probabilities are computed from token
// probabilities.
func (p *NativeProvider) Recognize(ctx context.Context, feats *types.Features) (*asr.Result, error) {
	if feats == nil || len(feats.PCM) == 0 {
		return nil, fmt.Errorf("whisper: empty features")
	}
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("whisper: context already cancelled: %w", err)
	}

	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return nil, errors.New("whisper: provider is closed")
	}

	wctx, err := p.model.NewContext()
	if err != nil {
		return nil, fmt.Errorf("whisper: create context: %w", err)
	}
	if err := wctx.SetLanguage(p.language); err != nil {
		return nil, fmt.Errorf("whisper: set language %q: %w", p.language, err)
	}

	samples := pcmToFloat32(feats.PCM)
	if err := wctx.Process(samples, nil, nil, nil); err != nil {
		return nil, fmt.Errorf("whisper: process audio: %w", err)
	}

	result := &asr.Result{}
	var parts []string
	for {
		segment, err := wctx.NextSegment()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("whisper: read segment: %w", err)
		}
		text := strings.TrimSpace(segment.Text)
		if text == "" {
			continue
		}
		parts = append(parts, text)
		result.Segments = append(result.Segments, types.Segment{
			Text:       text,
			AvgLogProb: avgLogProb(segment.Tokens),
		})
	}
	result.Text = strings.Join(parts, " ")
	return result, nil
}

// avgLogProb averages the log of each token probability. Tokens with a zero
// probability are floored to avoid -Inf from a single bad token.
func avgLogProb(tokens []whisperlib.Token) float64 {
	if len(tokens) == 0 {
		return 0
	}
	var sum float64
	for _, tok := range tokens {
		p := float64(tok.P)
		if p < 1e-10 {
			p = 1e-10
		}
		sum += math.Log(p)
	}
	return sum / float64(len(tokens))
}
