package resilience

import (
	"errors"
	"testing"
	"time"
)

var errServerDown = errors.New("server down")

// failN returns a call fn that fails its first n invocations and succeeds
// afterwards, counting every invocation.
func failN(n int, calls *int) func() error {
	return func() error {
		*calls++
		if *calls <= n {
			return errServerDown
		}
		return nil
	}
}

func TestNewCircuitBreaker_Defaults(t *testing.T) {
	t.Parallel()
	cb := NewCircuitBreaker(CircuitBreakerConfig{Name: "whisper"})
	if cb.tripAfter != 5 {
		t.Errorf("tripAfter = %d, want 5", cb.tripAfter)
	}
	if cb.cooldown != 30*time.Second {
		t.Errorf("cooldown = %v, want 30s", cb.cooldown)
	}
	if cb.probeQuota != 3 {
		t.Errorf("probeQuota = %d, want 3", cb.probeQuota)
	}
	if cb.State() != StateClosed {
		t.Errorf("initial state = %v, want closed", cb.State())
	}
}

func TestCircuitBreaker_TripsAfterConsecutiveFailures(t *testing.T) {
	t.Parallel()
	cb := NewCircuitBreaker(CircuitBreakerConfig{Name: "whisper", TripAfter: 3})

	var calls int
	for range 3 {
		if err := cb.Execute(failN(99, &calls)); !errors.Is(err, errServerDown) {
			t.Fatalf("err = %v, want server down", err)
		}
	}
	if cb.State() != StateOpen {
		t.Fatalf("state = %v, want open", cb.State())
	}

	// An open breaker rejects without invoking the call.
	if err := cb.Execute(failN(0, &calls)); !errors.Is(err, ErrCircuitOpen) {
		t.Fatalf("err = %v, want ErrCircuitOpen", err)
	}
	if calls != 3 {
		t.Fatalf("calls = %d, want 3", calls)
	}
}

func TestCircuitBreaker_SuccessResetsFailureCount(t *testing.T) {
	t.Parallel()
	cb := NewCircuitBreaker(CircuitBreakerConfig{Name: "coqui", TripAfter: 2})

	var calls int
	fn := failN(1, &calls)
	if err := cb.Execute(fn); err == nil {
		t.Fatal("first call should fail")
	}
	if err := cb.Execute(fn); err != nil {
		t.Fatalf("second call: %v", err)
	}
	// The earlier failure no longer counts toward the trip.
	calls = 0
	if err := cb.Execute(failN(1, &calls)); err == nil {
		t.Fatal("expected failure")
	}
	if cb.State() != StateClosed {
		t.Fatalf("state = %v, want closed after a single failure", cb.State())
	}
}

func TestCircuitBreaker_ClosesAfterSuccessfulProbes(t *testing.T) {
	t.Parallel()
	cb := NewCircuitBreaker(CircuitBreakerConfig{
		Name:       "silero",
		TripAfter:  1,
		Cooldown:   10 * time.Millisecond,
		ProbeQuota: 2,
	})

	var calls int
	if err := cb.Execute(failN(99, &calls)); err == nil {
		t.Fatal("expected failure")
	}
	if cb.State() != StateOpen {
		t.Fatalf("state = %v, want open", cb.State())
	}

	time.Sleep(20 * time.Millisecond)
	if cb.State() != StateProbing {
		t.Fatalf("state = %v, want probing after cooldown", cb.State())
	}

	ok := func() error { return nil }
	if err := cb.Execute(ok); err != nil {
		t.Fatalf("first probe: %v", err)
	}
	if err := cb.Execute(ok); err != nil {
		t.Fatalf("second probe: %v", err)
	}
	if cb.State() != StateClosed {
		t.Fatalf("state = %v, want closed after successful probes", cb.State())
	}
}

func TestCircuitBreaker_ReopensOnFailedProbe(t *testing.T) {
	t.Parallel()
	cb := NewCircuitBreaker(CircuitBreakerConfig{
		Name:       "stripe",
		TripAfter:  1,
		Cooldown:   10 * time.Millisecond,
		ProbeQuota: 3,
	})

	var calls int
	if err := cb.Execute(failN(99, &calls)); err == nil {
		t.Fatal("expected failure")
	}
	time.Sleep(20 * time.Millisecond)

	if err := cb.Execute(failN(99, &calls)); !errors.Is(err, errServerDown) {
		t.Fatalf("probe err = %v, want server down", err)
	}
	if cb.State() != StateOpen {
		t.Fatalf("state = %v, want open again after failed probe", cb.State())
	}
	if err := cb.Execute(failN(0, &calls)); !errors.Is(err, ErrCircuitOpen) {
		t.Fatalf("err = %v, want ErrCircuitOpen during fresh cooldown", err)
	}
}

func TestCircuitBreaker_ProbeQuotaCapsCalls(t *testing.T) {
	t.Parallel()
	cb := NewCircuitBreaker(CircuitBreakerConfig{
		Name:       "openai",
		TripAfter:  1,
		Cooldown:   10 * time.Millisecond,
		ProbeQuota: 2,
	})

	var calls int
	if err := cb.Execute(failN(99, &calls)); err == nil {
		t.Fatal("expected failure")
	}
	time.Sleep(20 * time.Millisecond)

	// One probe succeeds, the next fails and re-opens the breaker. Any
	// further call during the fresh cooldown is rejected without running.
	_ = cb.Execute(func() error { return nil })
	_ = cb.Execute(failN(99, &calls))
	before := calls
	if err := cb.Execute(failN(0, &calls)); !errors.Is(err, ErrCircuitOpen) {
		t.Fatalf("err = %v, want ErrCircuitOpen", err)
	}
	if calls != before {
		t.Fatalf("call ran while rejected: calls = %d, want %d", calls, before)
	}
}

func TestCircuitBreaker_ResetForcesClosed(t *testing.T) {
	t.Parallel()
	cb := NewCircuitBreaker(CircuitBreakerConfig{Name: "deepgram", TripAfter: 1, Cooldown: time.Hour})

	var calls int
	if err := cb.Execute(failN(99, &calls)); err == nil {
		t.Fatal("expected failure")
	}
	if cb.State() != StateOpen {
		t.Fatalf("state = %v, want open", cb.State())
	}

	cb.Reset()
	if cb.State() != StateClosed {
		t.Fatalf("state = %v, want closed after reset", cb.State())
	}
	if err := cb.Execute(func() error { return nil }); err != nil {
		t.Fatalf("call after reset: %v", err)
	}
}

func TestState_String(t *testing.T) {
	t.Parallel()
	cases := []struct {
		state State
		want  string
	}{
		{StateClosed, "closed"},
		{StateOpen, "open"},
		{StateProbing, "probing"},
		{State(42), "unknown"},
	}
	for _, tc := range cases {
		if got := tc.state.String(); got != tc.want {
			t.Errorf("State(%d).String() = %q, want %q", tc.state, got, tc.want)
		}
	}
}
