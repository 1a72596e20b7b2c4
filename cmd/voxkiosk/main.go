// Command voxkiosk is the main entry point for the voxkiosk voice-ordering
// engine.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	anyllmlib "github.com/mozilla-ai/any-llm-go"

	"github.com/voxkiosk/voxkiosk/internal/app"
	"github.com/voxkiosk/voxkiosk/internal/config"
	"github.com/voxkiosk/voxkiosk/internal/observe"
	"github.com/voxkiosk/voxkiosk/internal/resilience"
	"github.com/voxkiosk/voxkiosk/pkg/provider/asr"
	"github.com/voxkiosk/voxkiosk/pkg/provider/asr/deepgram"
	"github.com/voxkiosk/voxkiosk/pkg/provider/asr/whisper"
	"github.com/voxkiosk/voxkiosk/pkg/provider/embeddings"
	ollamaembed "github.com/voxkiosk/voxkiosk/pkg/provider/embeddings/ollama"
	oaembed "github.com/voxkiosk/voxkiosk/pkg/provider/embeddings/openai"
	"github.com/voxkiosk/voxkiosk/pkg/provider/llm"
	"github.com/voxkiosk/voxkiosk/pkg/provider/llm/anyllm"
	oallm "github.com/voxkiosk/voxkiosk/pkg/provider/llm/openai"
	"github.com/voxkiosk/voxkiosk/pkg/provider/payment"
	"github.com/voxkiosk/voxkiosk/pkg/provider/payment/stripe"
	"github.com/voxkiosk/voxkiosk/pkg/provider/speaker"
	"github.com/voxkiosk/voxkiosk/pkg/provider/speaker/speakerserver"
	"github.com/voxkiosk/voxkiosk/pkg/provider/tts"
	"github.com/voxkiosk/voxkiosk/pkg/provider/tts/coqui"
	"github.com/voxkiosk/voxkiosk/pkg/provider/tts/elevenlabs"
	"github.com/voxkiosk/voxkiosk/pkg/provider/vad"
	vadenergy "github.com/voxkiosk/voxkiosk/pkg/provider/vad/energy"
	"github.com/voxkiosk/voxkiosk/pkg/provider/vad/sileroserver"
)

func main() {
	os.Exit(run())
}

func run() int {
	// ── CLI flags ──────────────────────────────────────────────────────────────
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file")
	flag.Parse()

	// ── Load configuration ────────────────────────────────────────────────────
	cfg, err := config.Load(*configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "voxkiosk: config file %q not found — copy configs/example.yaml to get started\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "voxkiosk: %v\n", err)
		}
		return 1
	}

	// ── Logger ────────────────────────────────────────────────────────────────
	logger := newLogger(cfg.Server.LogLevel)
	slog.SetDefault(logger)

	slog.Info("voxkiosk starting",
		"config", *configPath,
		"listen_addr", cfg.Server.ListenAddr,
		"log_level", cfg.Server.LogLevel,
	)

	// ── Signal context ────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Telemetry ─────────────────────────────────────────────────────────────
	otelShutdown, err := observe.InitProvider(ctx, observe.ProviderConfig{
		ServiceName: "voxkiosk",
	})
	if err != nil {
		slog.Error("failed to initialise telemetry", "err", err)
		return 1
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := otelShutdown(flushCtx); err != nil {
			slog.Warn("telemetry shutdown error", "err", err)
		}
	}()

	// ── Provider registry ─────────────────────────────────────────────────────
	reg := config.NewRegistry()
	registerBuiltinProviders(reg)

	// ── Instantiate providers ─────────────────────────────────────────────────
	providers, err := buildProviders(cfg, reg)
	if err != nil {
		slog.Error("failed to build providers", "err", err)
		return 1
	}

	// ── Startup summary ───────────────────────────────────────────────────────
	printStartupSummary(cfg)

	application, err := app.New(ctx, cfg, providers)
	if err != nil {
		slog.Error("failed to initialise application", "err", err)
		return 1
	}

	// ── Config hot reload ─────────────────────────────────────────────────────
	watcher, err := config.NewWatcher(*configPath, func(old, new *config.Config) {
		application.ApplyConfig(config.Diff(old, new))
	})
	if err != nil {
		slog.Warn("config watcher disabled", "err", err)
	} else {
		defer watcher.Stop()
	}

	slog.Info("kiosk ready — press Ctrl+C to shut down")

	if err := application.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("run error", "err", err)
		return 1
	}

	// ── Graceful shutdown ─────────────────────────────────────────────────────
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	slog.Info("shutdown signal received, stopping…")

	if err := application.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "err", err)
		return 1
	}
	slog.Info("goodbye")
	return 0
}

// ── Provider wiring ───────────────────────────────────────────────────────────

// builtinProviders maps provider category names to the implementations that
// ship with voxkiosk. Used for startup logging.
var builtinProviders = map[string][]string{
	"asr":        {"whisper", "whisper-native", "deepgram"},
	"llm":        {"openai", "anthropic", "gemini", "ollama", "deepseek", "mistral", "groq", "llamacpp", "llamafile"},
	"tts":        {"coqui", "elevenlabs"},
	"vad":        {"energy", "silero"},
	"embeddings": {"openai", "ollama"},
	"speaker":    {"speakerserver"},
	"payment":    {"stripe"},
}

// registerBuiltinProviders wires all built-in provider factories into reg.
// Each factory receives a config.ProviderEntry and constructs the appropriate
// provider from the real implementation packages.
func registerBuiltinProviders(reg *config.Registry) {
	// ── ASR ───────────────────────────────────────────────────────────────────

	reg.RegisterASR("whisper", func(entry config.ProviderEntry) (asr.Recognizer, error) {
		var opts []whisper.Option
		if entry.Model != "" {
			opts = append(opts, whisper.WithModel(entry.Model))
		}
		if lang := optString(entry.Options, "language"); lang != "" {
			opts = append(opts, whisper.WithLanguage(lang))
		}
		return whisper.New(entry.BaseURL, opts...)
	})

	reg.RegisterASR("whisper-native", func(entry config.ProviderEntry) (asr.Recognizer, error) {
		modelPath := entry.Model
		if modelPath == "" {
			modelPath = optString(entry.Options, "model_path")
		}
		var opts []whisper.NativeOption
		if lang := optString(entry.Options, "language"); lang != "" {
			opts = append(opts, whisper.WithNativeLanguage(lang))
		}
		return whisper.NewNative(modelPath, opts...)
	})

	reg.RegisterASR("deepgram", func(entry config.ProviderEntry) (asr.Recognizer, error) {
		var opts []deepgram.Option
		if entry.Model != "" {
			opts = append(opts, deepgram.WithModel(entry.Model))
		}
		if lang := optString(entry.Options, "language"); lang != "" {
			opts = append(opts, deepgram.WithLanguage(lang))
		}
		return deepgram.New(entry.APIKey, opts...)
	})

	// ── LLM ───────────────────────────────────────────────────────────────────

	// openai goes through the native client; it supports organization scoping
	// and JSON response mode tuning that the aggregator does not expose.
	reg.RegisterLLM("openai", func(entry config.ProviderEntry) (llm.Provider, error) {
		var opts []oallm.Option
		if entry.BaseURL != "" {
			opts = append(opts, oallm.WithBaseURL(entry.BaseURL))
		}
		if org := optString(entry.Options, "organization"); org != "" {
			opts = append(opts, oallm.WithOrganization(org))
		}
		return oallm.New(entry.APIKey, entry.Model, opts...)
	})

	// The remaining hosted providers share the aggregator pattern: optional
	// APIKey + optional BaseURL.
	for _, providerName := range []string{
		"anthropic", "gemini", "deepseek", "mistral", "groq", "llamacpp", "llamafile",
	} {
		reg.RegisterLLM(providerName, func(entry config.ProviderEntry) (llm.Provider, error) {
			var opts []anyllmlib.Option
			if entry.APIKey != "" {
				opts = append(opts, anyllmlib.WithAPIKey(entry.APIKey))
			}
			if entry.BaseURL != "" {
				opts = append(opts, anyllmlib.WithBaseURL(entry.BaseURL))
			}
			return anyllm.New(providerName, entry.Model, opts...)
		})
	}

	// ollama is a local server; it uses BaseURL for the address, not an API key.
	reg.RegisterLLM("ollama", func(entry config.ProviderEntry) (llm.Provider, error) {
		var opts []anyllmlib.Option
		if entry.BaseURL != "" {
			opts = append(opts, anyllmlib.WithBaseURL(entry.BaseURL))
		}
		return anyllm.New("ollama", entry.Model, opts...)
	})

	// ── TTS ───────────────────────────────────────────────────────────────────

	reg.RegisterTTS("coqui", func(entry config.ProviderEntry) (tts.Synthesizer, error) {
		var opts []coqui.Option
		if lang := optString(entry.Options, "language"); lang != "" {
			opts = append(opts, coqui.WithLanguage(lang))
		}
		if id := optString(entry.Options, "speaker_id"); id != "" {
			opts = append(opts, coqui.WithSpeaker(id))
		}
		if mode := optString(entry.Options, "api_mode"); mode != "" {
			opts = append(opts, coqui.WithAPIMode(coqui.APIMode(mode)))
		}
		return coqui.New(entry.BaseURL, opts...)
	})

	reg.RegisterTTS("elevenlabs", func(entry config.ProviderEntry) (tts.Synthesizer, error) {
		var opts []elevenlabs.Option
		if entry.Model != "" {
			opts = append(opts, elevenlabs.WithModel(entry.Model))
		}
		if entry.BaseURL != "" {
			opts = append(opts, elevenlabs.WithBaseURL(entry.BaseURL))
		}
		if outputFmt := optString(entry.Options, "output_format"); outputFmt != "" {
			opts = append(opts, elevenlabs.WithOutputFormat(outputFmt))
		}
		return elevenlabs.New(entry.APIKey, optString(entry.Options, "voice_id"), opts...)
	})

	// ── VAD ───────────────────────────────────────────────────────────────────

	reg.RegisterVAD("energy", func(config.ProviderEntry) (vad.Engine, error) {
		return vadenergy.New(), nil
	})

	reg.RegisterVAD("silero", func(entry config.ProviderEntry) (vad.Engine, error) {
		return sileroserver.New(entry.BaseURL), nil
	})

	// ── Embeddings ────────────────────────────────────────────────────────────

	reg.RegisterEmbeddings("openai", func(entry config.ProviderEntry) (embeddings.Provider, error) {
		var opts []oaembed.Option
		if entry.BaseURL != "" {
			opts = append(opts, oaembed.WithBaseURL(entry.BaseURL))
		}
		return oaembed.New(entry.APIKey, entry.Model, opts...)
	})

	reg.RegisterEmbeddings("ollama", func(entry config.ProviderEntry) (embeddings.Provider, error) {
		return ollamaembed.New(entry.BaseURL, entry.Model)
	})

	// ── Speaker ───────────────────────────────────────────────────────────────

	reg.RegisterSpeaker("speakerserver", func(entry config.ProviderEntry) (speaker.Service, error) {
		dims := optInt(entry.Options, "dimensions")
		if dims <= 0 {
			dims = 256
		}
		return speakerserver.New(entry.BaseURL, dims), nil
	})

	// ── Payment ───────────────────────────────────────────────────────────────

	reg.RegisterPayment("stripe", func(entry config.ProviderEntry) (payment.Processor, error) {
		var opts []stripe.Option
		if pm := optString(entry.Options, "payment_method"); pm != "" {
			opts = append(opts, stripe.WithPaymentMethod(pm))
		}
		return stripe.New(entry.APIKey, opts...)
	})

	// Debug log of all registered providers.
	for kind, names := range builtinProviders {
		for _, name := range names {
			slog.Debug("registered provider", "kind", kind, "name", name)
		}
	}
}

// buildProviders instantiates all providers named in cfg using the registry
// and returns them in an [app.Providers] struct for the application to consume.
func buildProviders(cfg *config.Config, reg *config.Registry) (*app.Providers, error) {
	ps := &app.Providers{}

	if name := cfg.Providers.ASR.Name; name != "" {
		p, err := reg.CreateASR(cfg.Providers.ASR)
		if errors.Is(err, config.ErrProviderNotRegistered) {
			slog.Debug("provider not yet implemented — skipping", "kind", "asr", "name", name)
		} else if err != nil {
			return nil, fmt.Errorf("create asr provider %q: %w", name, err)
		} else {
			ps.ASR = p
			slog.Info("provider created", "kind", "asr", "name", name)
			if fb, ok := fallbackEntry(cfg.Providers.ASR); ok {
				secondary, err := reg.CreateASR(fb)
				if err != nil {
					return nil, fmt.Errorf("create asr fallback %q: %w", fb.Name, err)
				}
				wrapped := resilience.NewASRFallback(p, name, resilience.FallbackConfig{})
				wrapped.AddFallback(fb.Name, secondary)
				ps.ASR = wrapped
				slog.Info("provider fallback armed", "kind", "asr", "primary", name, "fallback", fb.Name)
			}
		}
	}

	if name := cfg.Providers.LLM.Name; name != "" {
		p, err := reg.CreateLLM(cfg.Providers.LLM)
		if errors.Is(err, config.ErrProviderNotRegistered) {
			slog.Debug("provider not yet implemented — skipping", "kind", "llm", "name", name)
		} else if err != nil {
			return nil, fmt.Errorf("create llm provider %q: %w", name, err)
		} else {
			ps.LLM = p
			slog.Info("provider created", "kind", "llm", "name", name)
			if fb, ok := fallbackEntry(cfg.Providers.LLM); ok {
				secondary, err := reg.CreateLLM(fb)
				if err != nil {
					return nil, fmt.Errorf("create llm fallback %q: %w", fb.Name, err)
				}
				wrapped := resilience.NewLLMFallback(p, name, resilience.FallbackConfig{})
				wrapped.AddFallback(fb.Name, secondary)
				ps.LLM = wrapped
				slog.Info("provider fallback armed", "kind", "llm", "primary", name, "fallback", fb.Name)
			}
		}
	}

	if name := cfg.Providers.TTS.Name; name != "" {
		p, err := reg.CreateTTS(cfg.Providers.TTS)
		if errors.Is(err, config.ErrProviderNotRegistered) {
			slog.Debug("provider not yet implemented — skipping", "kind", "tts", "name", name)
		} else if err != nil {
			return nil, fmt.Errorf("create tts provider %q: %w", name, err)
		} else {
			ps.TTS = p
			slog.Info("provider created", "kind", "tts", "name", name)
			if fb, ok := fallbackEntry(cfg.Providers.TTS); ok {
				secondary, err := reg.CreateTTS(fb)
				if err != nil {
					return nil, fmt.Errorf("create tts fallback %q: %w", fb.Name, err)
				}
				wrapped := resilience.NewTTSFallback(p, name, resilience.FallbackConfig{})
				wrapped.AddFallback(fb.Name, secondary)
				ps.TTS = wrapped
				slog.Info("provider fallback armed", "kind", "tts", "primary", name, "fallback", fb.Name)
			}
		}
	}

	if name := cfg.Providers.VAD.Name; name != "" {
		p, err := reg.CreateVAD(cfg.Providers.VAD)
		if errors.Is(err, config.ErrProviderNotRegistered) {
			slog.Debug("provider not yet implemented — skipping", "kind", "vad", "name", name)
		} else if err != nil {
			return nil, fmt.Errorf("create vad provider %q: %w", name, err)
		} else {
			ps.VAD = p
			slog.Info("provider created", "kind", "vad", "name", name)
		}
	}

	if name := cfg.Providers.Embeddings.Name; name != "" {
		p, err := reg.CreateEmbeddings(cfg.Providers.Embeddings)
		if errors.Is(err, config.ErrProviderNotRegistered) {
			slog.Debug("provider not yet implemented — skipping", "kind", "embeddings", "name", name)
		} else if err != nil {
			return nil, fmt.Errorf("create embeddings provider %q: %w", name, err)
		} else {
			ps.Embeddings = p
			slog.Info("provider created", "kind", "embeddings", "name", name)
		}
	}

	if name := cfg.Providers.Speaker.Name; name != "" {
		p, err := reg.CreateSpeaker(cfg.Providers.Speaker)
		if errors.Is(err, config.ErrProviderNotRegistered) {
			slog.Debug("provider not yet implemented — skipping", "kind", "speaker", "name", name)
		} else if err != nil {
			return nil, fmt.Errorf("create speaker provider %q: %w", name, err)
		} else {
			ps.Speaker = p
			slog.Info("provider created", "kind", "speaker", "name", name)
		}
	}

	if name := cfg.Providers.Payment.Name; name != "" {
		p, err := reg.CreatePayment(cfg.Providers.Payment)
		if errors.Is(err, config.ErrProviderNotRegistered) {
			slog.Debug("provider not yet implemented — skipping", "kind", "payment", "name", name)
		} else if err != nil {
			return nil, fmt.Errorf("create payment provider %q: %w", name, err)
		} else {
			ps.Payment = p
			slog.Info("provider created", "kind", "payment", "name", name)
		}
	}

	return ps, nil
}

// ── Startup summary ───────────────────────────────────────────────────────────

func printStartupSummary(cfg *config.Config) {
	fmt.Println("╔═══════════════════════════════════════╗")
	fmt.Println("║        voxkiosk — startup summary     ║")
	fmt.Println("╠═══════════════════════════════════════╣")
	printProvider("ASR", cfg.Providers.ASR.Name, cfg.Providers.ASR.Model)
	printProvider("LLM", cfg.Providers.LLM.Name, cfg.Providers.LLM.Model)
	printProvider("TTS", cfg.Providers.TTS.Name, cfg.Providers.TTS.Model)
	printProvider("VAD", cfg.Providers.VAD.Name, "")
	printProvider("Embeddings", cfg.Providers.Embeddings.Name, cfg.Providers.Embeddings.Model)
	printProvider("Speaker", cfg.Providers.Speaker.Name, "")
	printProvider("Payment", cfg.Providers.Payment.Name, "")
	fmt.Printf("║  Menu catalog    : %-19s ║\n", trimSummary(cfg.Order.MenuPath))
	if cfg.Order.PostgresDSN != "" {
		fmt.Printf("║  Order store     : %-19s ║\n", "postgres")
	} else {
		fmt.Printf("║  Order store     : %-19s ║\n", "in-memory")
	}
	if cfg.Server.ListenAddr != "" {
		fmt.Printf("║  Listen addr     : %-19s ║\n", cfg.Server.ListenAddr)
	}
	fmt.Println("╚═══════════════════════════════════════╝")
}

func printProvider(kind, name, model string) {
	value := name
	if value == "" {
		value = "(not configured)"
	} else if model != "" {
		value = name + " / " + model
	}
	fmt.Printf("║  %-12s    : %-19s ║\n", kind, trimSummary(value))
}

func trimSummary(value string) string {
	if len(value) > 19 {
		return value[:16] + "…"
	}
	return value
}

// ── Logger ─────────────────────────────────────────────────────────────────────

func newLogger(level config.LogLevel) *slog.Logger {
	var lvl slog.Level
	switch level {
	case config.LogDebug:
		lvl = slog.LevelDebug
	case config.LogWarn:
		lvl = slog.LevelWarn
	case config.LogError:
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}

// ── Helpers ───────────────────────────────────────────────────────────────────

// optString extracts a string value from a provider Options map[string]any.
// Returns "" if the map is nil, the key is absent, or the value is not a string.
func optString(opts map[string]any, key string) string {
	if opts == nil {
		return ""
	}
	v, ok := opts[key]
	if !ok {
		return ""
	}
	s, ok := v.(string)
	if !ok {
		return ""
	}
	return s
}

// fallbackEntry extracts a nested fallback provider block from an entry's
// Options map. The block mirrors the standard provider fields:
//
//	options:
//	  fallback:
//	    name: whisper
//	    base_url: http://localhost:9000
func fallbackEntry(entry config.ProviderEntry) (config.ProviderEntry, bool) {
	raw, ok := entry.Options["fallback"].(map[string]any)
	if !ok {
		return config.ProviderEntry{}, false
	}
	fb := config.ProviderEntry{
		Name:    optString(raw, "name"),
		APIKey:  optString(raw, "api_key"),
		BaseURL: optString(raw, "base_url"),
		Model:   optString(raw, "model"),
	}
	if nested, ok := raw["options"].(map[string]any); ok {
		fb.Options = nested
	}
	return fb, fb.Name != ""
}

// optInt extracts an integer value from a provider Options map[string]any.
// YAML decodes integers as int; zero means absent or not an integer.
func optInt(opts map[string]any, key string) int {
	if opts == nil {
		return 0
	}
	switch v := opts[key].(type) {
	case int:
		return v
	case float64:
		return int(v)
	}
	return 0
}
