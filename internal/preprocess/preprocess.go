// Package preprocess turns a captured utterance into the fixed-shape feature
// tensor the speech recognizer consumes.
//
// The pipeline has four stages: primary-speaker isolation, spectral-gating
// noise reduction, resampling to the recognizer rate and log-mel feature
// extraction. The first two stages degrade rather than abort: when a model is
// unavailable or rejects the input, a weaker method takes over and the
// degradation is logged. Only malformed input and feature extraction itself
// are fatal for an utterance.
package preprocess

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/voxkiosk/voxkiosk/pkg/audio"
	"github.com/voxkiosk/voxkiosk/pkg/provider/speaker"
	"github.com/voxkiosk/voxkiosk/pkg/types"
)

// Config controls the preprocessing pipeline.
type Config struct {
	// MaxDuration is the longest accepted utterance.
	MaxDuration time.Duration

	// MinSampleRate is the lowest accepted input rate in Hz.
	MinSampleRate int

	// TargetSampleRate is the recognizer's required rate in Hz.
	TargetSampleRate int

	// SpeakerSimilarityThreshold is the minimum cosine similarity between a
	// separated stream's embedding and the primary-speaker reference for the
	// stream to be accepted.
	SpeakerSimilarityThreshold float64

	// EnergyKeepRatio is the fraction of windows retained by the energy
	// isolation fallback.
	EnergyKeepRatio float64

	// EnergyWindow is the window size used by the energy fallback.
	EnergyWindow time.Duration

	// NoiseReduction scales the spectral gate in [0, 1]; 0 disables it.
	NoiseReduction float64

	// FFTSize and HopSize define the short-time spectrum resolution.
	FFTSize int
	HopSize int

	// MelBands and FeatureFrames define the output tensor shape.
	MelBands      int
	FeatureFrames int
}

// DefaultConfig returns settings matched to a 16 kHz whisper-family
// recognizer: 25 ms windows, 10 ms hop, 80 mel bands over 30 s of context.
func DefaultConfig() Config {
	return Config{
		MaxDuration:                30 * time.Second,
		MinSampleRate:              8000,
		TargetSampleRate:           16000,
		SpeakerSimilarityThreshold: 0.5,
		EnergyKeepRatio:            0.6,
		EnergyWindow:               100 * time.Millisecond,
		NoiseReduction:             1.0,
		FFTSize:                    400,
		HopSize:                    160,
		MelBands:                   80,
		FeatureFrames:              3000,
	}
}

// Option is a functional option for configuring a Processor.
type Option func(*Processor)

// WithSpeakerModels supplies the separation and embedding providers together
// with the registered primary-speaker reference embedding. Without them the
// processor always uses the energy-window isolation fallback.
func WithSpeakerModels(sep speaker.Separator, emb speaker.Embedder, reference []float32) Option {
	return func(p *Processor) {
		p.separator = sep
		p.embedder = emb
		p.reference = reference
	}
}

// WithLogger overrides the default logger.
func WithLogger(logger *slog.Logger) Option {
	return func(p *Processor) {
		p.logger = logger
	}
}

// Processor runs the preprocessing pipeline. Safe for concurrent use; all
// per-utterance state is local to Process.
type Processor struct {
	cfg    Config
	logger *slog.Logger

	separator speaker.Separator
	embedder  speaker.Embedder
	reference []float32

	filterbank [][]float64
}

// NewProcessor creates a Processor with the given configuration.
func NewProcessor(cfg Config, opts ...Option) (*Processor, error) {
	if cfg.MelBands <= 0 || cfg.FeatureFrames <= 0 {
		return nil, fmt.Errorf("preprocess: feature shape %dx%d is invalid", cfg.MelBands, cfg.FeatureFrames)
	}
	if cfg.FFTSize <= 0 || cfg.HopSize <= 0 || cfg.HopSize > cfg.FFTSize {
		return nil, fmt.Errorf("preprocess: fft size %d / hop %d is invalid", cfg.FFTSize, cfg.HopSize)
	}
	if cfg.TargetSampleRate <= 0 {
		return nil, fmt.Errorf("preprocess: target sample rate must be positive, got %d", cfg.TargetSampleRate)
	}
	if cfg.EnergyKeepRatio <= 0 || cfg.EnergyKeepRatio > 1 {
		return nil, fmt.Errorf("preprocess: energy keep ratio out of (0,1]: %v", cfg.EnergyKeepRatio)
	}
	p := &Processor{
		cfg:    cfg,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(p)
	}
	p.filterbank = melFilterbank(cfg.MelBands, cfg.FFTSize, cfg.TargetSampleRate)
	return p, nil
}

// Process runs the full pipeline on one utterance.
func (p *Processor) Process(ctx context.Context, u *audio.Utterance) (*types.Features, error) {
	if err := p.validate(u); err != nil {
		return nil, err
	}

	pcm := u.PCM()

	isolated, _ := p.isolate(ctx, pcm, u.SampleRate)

	samples := audio.Float64Samples(isolated)
	if p.cfg.NoiseReduction > 0 {
		samples = p.denoise(samples)
	}

	if u.SampleRate != p.cfg.TargetSampleRate {
		resampled := audio.ResampleMono16(audio.PCMFromFloat64(samples), u.SampleRate, p.cfg.TargetSampleRate)
		samples = audio.Float64Samples(resampled)
	}

	cleaned := audio.PCMFromFloat64(samples)
	mel, err := p.logMel(samples)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", types.ErrFeatureExtraction, err)
	}
	return &types.Features{
		Mel:        mel,
		PCM:        cleaned,
		SampleRate: p.cfg.TargetSampleRate,
	}, nil
}

func (p *Processor) validate(u *audio.Utterance) error {
	if u == nil || len(u.Frames) == 0 {
		return fmt.Errorf("%w: empty utterance", types.ErrInvalidFormat)
	}
	if u.SampleRate < p.cfg.MinSampleRate {
		return fmt.Errorf("%w: sample rate %d below minimum %d", types.ErrInvalidFormat, u.SampleRate, p.cfg.MinSampleRate)
	}
	if d := u.Duration(); d > p.cfg.MaxDuration {
		return fmt.Errorf("%w: duration %v exceeds maximum %v", types.ErrInvalidFormat, d, p.cfg.MaxDuration)
	}
	return nil
}

// logMel computes the normalized log-mel tensor. Shorter signals are padded
// with silence frames; longer signals are truncated from the tail so the
// utterance onset is always preserved.
func (p *Processor) logMel(samples []float64) ([][]float64, error) {
	if len(samples) == 0 {
		return nil, fmt.Errorf("no samples after preprocessing")
	}

	frames := stft(samples, p.cfg.FFTSize, p.cfg.HopSize)
	if len(frames) == 0 {
		return nil, fmt.Errorf("no spectral frames produced")
	}
	if len(frames) > p.cfg.FeatureFrames {
		frames = frames[:p.cfg.FeatureFrames]
	}

	mel := make([][]float64, p.cfg.MelBands)
	for b := range mel {
		mel[b] = make([]float64, p.cfg.FeatureFrames)
	}

	maxVal := math.Inf(-1)
	for f, bins := range frames {
		for b, filter := range p.filterbank {
			var sum float64
			for k, w := range filter {
				if w == 0 {
					continue
				}
				m := cmplxAbs(bins[k])
				sum += w * m * m
			}
			v := math.Log10(math.Max(sum, 1e-10))
			mel[b][f] = v
			if v > maxVal {
				maxVal = v
			}
		}
	}

	// Silence padding and dynamic-range clamp relative to the peak, then
	// rescale to roughly zero-mean unit range.
	floor := maxVal - 8
	for b := range mel {
		for f := range mel[b] {
			v := mel[b][f]
			if f >= len(frames) || v < floor {
				v = floor
			}
			mel[b][f] = (v + 4) / 4
		}
	}

	return mel, nil
}
