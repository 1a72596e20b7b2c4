// Package resilience keeps a kiosk lane answering when a collaborator goes
// dark. Every remote collaborator on the utterance path (the recognition
// server, the language-model endpoint, the synthesis server, the speech
// detector) can fail mid-shift; a [CircuitBreaker] stops the lane from
// hammering a dead endpoint, and [FallbackGroup] routes each call to the
// first healthy stand-in so an outage degrades answer quality instead of
// silencing the kiosk.
//
// All types are safe for concurrent use.
package resilience

import (
	"errors"
	"log/slog"
	"sync"
	"time"
)

// ErrCircuitOpen is returned by [CircuitBreaker.Execute] while the breaker
// rejects calls because its collaborator is presumed down.
var ErrCircuitOpen = errors.New("resilience: circuit open")

// State is a circuit breaker's operating mode.
type State int

const (
	// StateClosed forwards every call. Normal operation.
	StateClosed State = iota

	// StateOpen rejects every call with [ErrCircuitOpen] until the cooldown
	// elapses.
	StateOpen

	// StateProbing lets a bounded number of calls through to test whether
	// the collaborator has recovered.
	StateProbing
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateProbing:
		return "probing"
	default:
		return "unknown"
	}
}

// CircuitBreakerConfig tunes a [CircuitBreaker]. The zero value gets
// production defaults.
type CircuitBreakerConfig struct {
	// Name labels the guarded collaborator in logs.
	Name string

	// TripAfter is how many consecutive failures open the breaker.
	// Default: 5.
	TripAfter int

	// Cooldown is how long an open breaker rejects calls before probing the
	// collaborator again. Default: 30s.
	Cooldown time.Duration

	// ProbeQuota is how many successful probes close the breaker again, and
	// the cap on probe calls per cooldown cycle. Default: 3.
	ProbeQuota int

	// Logger defaults to [slog.Default].
	Logger *slog.Logger
}

// CircuitBreaker guards calls to one collaborator. Consecutive failures trip
// it open; after a cooldown it probes, and enough successful probes close it.
type CircuitBreaker struct {
	tripAfter  int
	cooldown   time.Duration
	probeQuota int
	logger     *slog.Logger

	mu         sync.Mutex
	state      State
	failures   int
	openedAt   time.Time
	probes     int
	probeFails int
}

// NewCircuitBreaker creates a breaker from cfg, filling zero fields with
// defaults.
func NewCircuitBreaker(cfg CircuitBreakerConfig) *CircuitBreaker {
	if cfg.TripAfter <= 0 {
		cfg.TripAfter = 5
	}
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = 30 * time.Second
	}
	if cfg.ProbeQuota <= 0 {
		cfg.ProbeQuota = 3
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &CircuitBreaker{
		tripAfter:  cfg.TripAfter,
		cooldown:   cfg.Cooldown,
		probeQuota: cfg.ProbeQuota,
		logger:     cfg.Logger.With("collaborator", cfg.Name),
	}
}

// Execute runs fn unless the breaker is open. Probing calls count against the
// probe quota; fn's error is returned as-is so callers keep their own error
// taxonomy.
func (cb *CircuitBreaker) Execute(fn func() error) error {
	probing, err := cb.allow()
	if err != nil {
		return err
	}
	err = fn()
	cb.settle(err, probing)
	return err
}

// allow decides whether a call may proceed and whether it counts as a probe.
func (cb *CircuitBreaker) allow() (probing bool, err error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if cb.state == StateOpen {
		if time.Since(cb.openedAt) < cb.cooldown {
			return false, ErrCircuitOpen
		}
		cb.state = StateProbing
		cb.probes = 0
		cb.probeFails = 0
		cb.logger.Info("cooldown elapsed, probing collaborator")
	}
	if cb.state == StateProbing {
		if cb.probes >= cb.probeQuota {
			return false, ErrCircuitOpen
		}
		cb.probes++
		return true, nil
	}
	return false, nil
}

// settle records the call outcome.
func (cb *CircuitBreaker) settle(err error, probing bool) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if err == nil {
		if probing {
			if cb.probes-cb.probeFails >= cb.probeQuota {
				cb.state = StateClosed
				cb.failures = 0
				cb.logger.Info("collaborator recovered, circuit closed")
			}
			return
		}
		cb.failures = 0
		return
	}

	if probing {
		// One failed probe is enough evidence the outage is not over.
		cb.probeFails++
		cb.state = StateOpen
		cb.openedAt = time.Now()
		cb.failures = cb.tripAfter
		cb.logger.Warn("probe failed, circuit re-opened")
		return
	}

	cb.failures++
	if cb.failures >= cb.tripAfter {
		cb.state = StateOpen
		cb.openedAt = time.Now()
		cb.logger.Warn("circuit opened", "consecutive_failures", cb.failures)
	}
}

// State reports the breaker's mode. An open breaker whose cooldown has
// elapsed reports [StateProbing]; the transition itself happens on the next
// [CircuitBreaker.Execute].
func (cb *CircuitBreaker) State() State {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if cb.state == StateOpen && time.Since(cb.openedAt) >= cb.cooldown {
		return StateProbing
	}
	return cb.state
}

// Reset forces the breaker closed and clears all failure accounting. Used
// when an operator knows the collaborator is back.
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.state = StateClosed
	cb.failures = 0
	cb.probes = 0
	cb.probeFails = 0
	cb.logger.Info("circuit manually reset")
}
