// Package speech turns preprocessed audio features into scored transcripts.
// It wraps a speech recognizer with timeout handling, confidence derivation
// and optional vocabulary-based transcript correction.
package speech

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/voxkiosk/voxkiosk/internal/phonetic"
	"github.com/voxkiosk/voxkiosk/pkg/provider/asr"
	"github.com/voxkiosk/voxkiosk/pkg/types"
)

const defaultRecognizeTimeout = 10 * time.Second

// Service performs speech recognition on utterance features and attaches a
// confidence score to every transcript. A Service is safe for concurrent use
// as long as the underlying recognizer is.
type Service struct {
	recognizer asr.Recognizer
	corrector  *phonetic.Matcher
	timeout    time.Duration
	logger     *slog.Logger
}

// Option configures a [Service].
type Option func(*Service)

// WithTimeout bounds each recognition call. Zero or negative disables the
// per-call deadline.
func WithTimeout(d time.Duration) Option {
	return func(s *Service) {
		s.timeout = d
	}
}

// WithCorrector enables menu-vocabulary transcript correction on recognition
// results.
func WithCorrector(m *phonetic.Matcher) Option {
	return func(s *Service) {
		s.corrector = m
	}
}

// WithLogger sets the logger. Defaults to [slog.Default].
func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		s.logger = logger
	}
}

// NewService creates a recognition service around the given recognizer.
func NewService(recognizer asr.Recognizer, opts ...Option) (*Service, error) {
	if recognizer == nil {
		return nil, errors.New("speech: recognizer must not be nil")
	}
	s := &Service{
		recognizer: recognizer,
		timeout:    defaultRecognizeTimeout,
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Recognize transcribes the given features and scores the result. Recognizer
// failures are classified: a deadline hit maps to
// [types.ErrCollaboratorTimeout], anything else to
// [types.ErrCollaboratorUnavailable].
func (s *Service) Recognize(ctx context.Context, feats *types.Features) (*types.RecognitionResult, error) {
	if feats == nil {
		return nil, errors.New("speech: features must not be nil")
	}
	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	start := time.Now()
	res, err := s.recognizer.Recognize(ctx, feats)
	latency := time.Since(start)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, fmt.Errorf("speech: %s timed out after %s: %w",
				s.recognizer.Name(), latency.Round(time.Millisecond), types.ErrCollaboratorTimeout)
		}
		return nil, fmt.Errorf("speech: %s failed: %v: %w",
			s.recognizer.Name(), err, types.ErrCollaboratorUnavailable)
	}

	text := res.Text
	if s.corrector != nil {
		if corrected, changed := s.corrector.CorrectTranscript(text); changed {
			s.logger.Debug("corrected transcript against menu vocabulary",
				"original", text, "corrected", corrected)
			text = corrected
		}
	}

	confidence := DeriveConfidence(res.Segments)
	result := &types.RecognitionResult{
		Text:          text,
		Segments:      res.Segments,
		Confidence:    confidence,
		LowConfidence: confidence < LowConfidenceThreshold,
		Latency:       latency,
	}
	if result.LowConfidence {
		s.logger.Warn("low confidence transcript",
			"recognizer", s.recognizer.Name(),
			"confidence", fmt.Sprintf("%.3f", confidence),
			"text", text)
	}
	return result, nil
}
