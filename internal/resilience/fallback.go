package resilience

import (
	"errors"
	"fmt"
	"log/slog"
)

// ErrExhausted is returned when every provider in a [FallbackGroup] failed or
// had an open circuit.
var ErrExhausted = errors.New("resilience: every provider failed")

// FallbackConfig configures a [FallbackGroup]. Each registered provider gets
// its own circuit breaker built from CircuitBreaker.
type FallbackConfig struct {
	CircuitBreaker CircuitBreakerConfig

	// Logger defaults to [slog.Default].
	Logger *slog.Logger
}

// guarded pairs one provider with its dedicated breaker.
type guarded[T any] struct {
	name     string
	provider T
	breaker  *CircuitBreaker
}

// FallbackGroup holds a primary provider and its stand-ins. Calls go to the
// first entry whose breaker admits them; a failing primary is bypassed until
// its breaker closes again, so one collaborator outage costs the kiosk answer
// quality, not the whole lane.
//
// Safe for concurrent use once registration is done.
type FallbackGroup[T any] struct {
	cfg     FallbackConfig
	logger  *slog.Logger
	entries []guarded[T]
}

// NewFallbackGroup creates a group with primary as its preferred provider.
// Register stand-ins with [FallbackGroup.AddFallback] before first use.
func NewFallbackGroup[T any](primary T, primaryName string, cfg FallbackConfig) *FallbackGroup[T] {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	fg := &FallbackGroup[T]{cfg: cfg, logger: cfg.Logger}
	fg.register(primaryName, primary)
	return fg
}

// AddFallback appends a stand-in. Stand-ins answer in registration order,
// after the primary.
func (fg *FallbackGroup[T]) AddFallback(name string, fallback T) {
	fg.register(name, fallback)
}

func (fg *FallbackGroup[T]) register(name string, provider T) {
	cbCfg := fg.cfg.CircuitBreaker
	cbCfg.Name = name
	cbCfg.Logger = fg.logger
	fg.entries = append(fg.entries, guarded[T]{
		name:     name,
		provider: provider,
		breaker:  NewCircuitBreaker(cbCfg),
	})
}

// Execute runs fn against the first provider that answers. Open-circuit
// entries are skipped without a call.
func (fg *FallbackGroup[T]) Execute(fn func(T) error) error {
	_, err := ExecuteWithResult(fg, func(p T) (struct{}, error) {
		return struct{}{}, fn(p)
	})
	return err
}

// ExecuteWithResult runs fn against the first provider that answers and
// returns its result. A package-level function because Go methods cannot take
// their own type parameters. Returns [ErrExhausted] wrapping the last error
// when no provider answered.
func ExecuteWithResult[T any, R any](fg *FallbackGroup[T], fn func(T) (R, error)) (R, error) {
	var (
		zero    R
		lastErr error
	)
	for i := range fg.entries {
		g := &fg.entries[i]
		var result R
		err := g.breaker.Execute(func() error {
			var callErr error
			result, callErr = fn(g.provider)
			return callErr
		})
		if err == nil {
			if i > 0 {
				fg.logger.Info("served by stand-in provider", "provider", g.name)
			}
			return result, nil
		}
		lastErr = err
		if errors.Is(err, ErrCircuitOpen) {
			fg.logger.Debug("circuit open, skipping provider", "provider", g.name)
		} else {
			fg.logger.Warn("provider failed, trying next", "provider", g.name, "error", err)
		}
	}
	return zero, fmt.Errorf("%w: %v", ErrExhausted, lastErr)
}
