package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"

	"gopkg.in/yaml.v3"
)

// ValidProviderNames lists known provider names per provider kind.
// Used by [Validate] to warn about unrecognised provider names.
var ValidProviderNames = map[string][]string{
	"asr":        {"whisper", "whisper-native", "deepgram"},
	"llm":        {"openai", "anthropic", "ollama", "gemini", "deepseek", "mistral", "groq", "llamacpp", "llamafile"},
	"tts":        {"coqui", "elevenlabs"},
	"vad":        {"energy", "silero"},
	"embeddings": {"openai", "ollama"},
	"speaker":    {"speakerserver"},
	"payment":    {"stripe"},
}

// Load reads the YAML configuration file at path and returns a validated [Config].
// It is a convenience wrapper around [LoadFromReader] and [Validate].
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r on top of [Default] and
// validates the result. Useful in tests where configs are constructed from
// string literals.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := Default()
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	// Server
	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}

	// Audio
	if cfg.Audio.SampleRate <= 0 {
		errs = append(errs, fmt.Errorf("audio.sample_rate %d must be positive", cfg.Audio.SampleRate))
	}
	if cfg.Audio.FrameDuration <= 0 {
		errs = append(errs, fmt.Errorf("audio.frame_duration %s must be positive", cfg.Audio.FrameDuration))
	}
	if cfg.Audio.QueueCapacity <= 0 {
		errs = append(errs, fmt.Errorf("audio.queue_capacity %d must be positive", cfg.Audio.QueueCapacity))
	}

	// Capture
	if cfg.Capture.MaxSilenceEnd <= 0 {
		errs = append(errs, fmt.Errorf("capture.max_silence_end %s must be positive", cfg.Capture.MaxSilenceEnd))
	}
	if cfg.Capture.MinRecordDuration < 0 {
		errs = append(errs, fmt.Errorf("capture.min_record_duration %s must not be negative", cfg.Capture.MinRecordDuration))
	}
	if cfg.Capture.VADSensitivity < 0 || cfg.Capture.VADSensitivity > 1 {
		errs = append(errs, fmt.Errorf("capture.vad_sensitivity %.2f is out of range [0, 1]", cfg.Capture.VADSensitivity))
	}

	// Preprocess
	if cfg.Preprocess.NoiseReduction < 0 || cfg.Preprocess.NoiseReduction > 1 {
		errs = append(errs, fmt.Errorf("preprocess.noise_reduction %.2f is out of range [0, 1]", cfg.Preprocess.NoiseReduction))
	}
	if cfg.Preprocess.SpeakerSimilarity < 0 || cfg.Preprocess.SpeakerSimilarity > 1 {
		errs = append(errs, fmt.Errorf("preprocess.speaker_similarity %.2f is out of range [0, 1]", cfg.Preprocess.SpeakerSimilarity))
	}

	// Intent
	for name, v := range cfg.Intent.Thresholds {
		if _, ok := intentNames[name]; !ok {
			errs = append(errs, fmt.Errorf("intent.thresholds has unknown intent %q", name))
			continue
		}
		if v < 0 || v > 1 {
			errs = append(errs, fmt.Errorf("intent.thresholds[%s] %.2f is out of range [0, 1]", name, v))
		}
	}
	if p := cfg.Intent.PhoneticSimilarityPercent; p < 1 || p > 100 {
		errs = append(errs, fmt.Errorf("intent.phonetic_similarity_percent %d is out of range [1, 100]", p))
	}

	// Order
	if cfg.Order.MenuPath == "" {
		errs = append(errs, errors.New("order.menu_path is required"))
	}
	if cfg.Order.SemanticDistanceMax < 0 || cfg.Order.SemanticDistanceMax > 2 {
		errs = append(errs, fmt.Errorf("order.semantic_distance_max %.2f is out of range [0, 2]", cfg.Order.SemanticDistanceMax))
	}
	if cfg.Order.PostgresDSN != "" && cfg.Order.EmbeddingDimensions <= 0 {
		errs = append(errs, errors.New("order.embedding_dimensions must be positive when order.postgres_dsn is set"))
	}

	// Session
	if cfg.Session.IdleTimeout <= 0 {
		errs = append(errs, fmt.Errorf("session.idle_timeout %s must be positive", cfg.Session.IdleTimeout))
	}
	if cfg.Session.SweepInterval <= 0 {
		errs = append(errs, fmt.Errorf("session.sweep_interval %s must be positive", cfg.Session.SweepInterval))
	}

	// Timeouts
	if cfg.Timeouts.Collaborator <= 0 {
		errs = append(errs, fmt.Errorf("timeouts.collaborator %s must be positive", cfg.Timeouts.Collaborator))
	}
	if cfg.Timeouts.RetryMax < 0 {
		errs = append(errs, fmt.Errorf("timeouts.retry_max %d must not be negative", cfg.Timeouts.RetryMax))
	}

	// Provider name validation, warn for unknown provider names.
	validateProviderName("asr", cfg.Providers.ASR.Name)
	validateProviderName("llm", cfg.Providers.LLM.Name)
	validateProviderName("tts", cfg.Providers.TTS.Name)
	validateProviderName("vad", cfg.Providers.VAD.Name)
	validateProviderName("embeddings", cfg.Providers.Embeddings.Name)
	validateProviderName("speaker", cfg.Providers.Speaker.Name)
	validateProviderName("payment", cfg.Providers.Payment.Name)

	// Provider availability warnings
	if cfg.Providers.ASR.Name == "" {
		slog.Warn("no ASR provider configured; utterances cannot be transcribed")
	}
	if cfg.Providers.LLM.Name == "" {
		slog.Warn("no LLM provider configured; intent classification will be unavailable")
	}
	if cfg.Providers.Payment.Name == "" {
		slog.Warn("no payment provider configured; orders cannot be settled")
	}
	if cfg.Order.PostgresDSN == "" {
		slog.Warn("order.postgres_dsn is empty; orders will be kept in memory only")
	}
	if cfg.Order.PostgresDSN != "" && cfg.Providers.Embeddings.Name == "" {
		slog.Warn("order.postgres_dsn is set but providers.embeddings is not; semantic menu matching will be unavailable")
	}

	return errors.Join(errs...)
}

// validateProviderName logs a warning if name is non-empty and not found in
// the [ValidProviderNames] list for the given kind.
func validateProviderName(kind, name string) {
	if name == "" {
		return
	}
	known, ok := ValidProviderNames[kind]
	if !ok {
		return
	}
	if slices.Contains(known, name) {
		return
	}
	slog.Warn("unknown provider name; may be a typo or third-party provider",
		"kind", kind,
		"name", name,
		"known", known,
	)
}
