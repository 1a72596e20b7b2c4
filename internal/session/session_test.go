package session

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/voxkiosk/voxkiosk/pkg/audio"
)

// recordingProcessor records processed utterances in order. An optional gate
// makes processing block until released, and blockOnCtx makes it wait for
// cancellation instead, to exercise supersede behaviour. entered, when
// non-nil, receives each utterance's seq as processing starts.
type recordingProcessor struct {
	mu         sync.Mutex
	processed  []uint64
	cancelled  []uint64
	gate       chan struct{}
	entered    chan uint64
	blockOnCtx bool
}

func (p *recordingProcessor) ProcessUtterance(ctx context.Context, u *audio.Utterance) error {
	seq := u.Frames[0].Seq
	if p.entered != nil {
		p.entered <- seq
	}
	if p.gate != nil {
		<-p.gate
	}
	if p.blockOnCtx {
		<-ctx.Done()
		p.mu.Lock()
		p.cancelled = append(p.cancelled, seq)
		p.mu.Unlock()
		return ctx.Err()
	}
	p.mu.Lock()
	p.processed = append(p.processed, seq)
	p.mu.Unlock()
	return nil
}

func (p *recordingProcessor) snapshot() (processed, cancelled []uint64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]uint64(nil), p.processed...), append([]uint64(nil), p.cancelled...)
}

func utteranceWithSeq(seq uint64) *audio.Utterance {
	u := &audio.Utterance{}
	u.Append(audio.Frame{Data: []byte{0, 0}, SampleRate: 16000, Seq: seq})
	return u
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}

func newTestRegistry(t *testing.T, proc Processor, opts ...RegistryOption) *Registry {
	t.Helper()
	reg, err := NewRegistry(func(string) (Processor, error) {
		return proc, nil
	}, opts...)
	if err != nil {
		t.Fatalf("NewRegistry: %v", err)
	}
	return reg
}

func TestSessionProcessesUtterance(t *testing.T) {
	t.Parallel()

	proc := &recordingProcessor{}
	reg := newTestRegistry(t, proc)

	s, err := reg.Create()
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	defer s.Close()

	if err := s.Submit(utteranceWithSeq(1)); err != nil {
		t.Fatalf("Submit: %v", err)
	}

	waitFor(t, func() bool {
		done, _ := proc.snapshot()
		return len(done) == 1
	})
	done, _ := proc.snapshot()
	if done[0] != 1 {
		t.Fatalf("processed = %v, want [1]", done)
	}
}

func TestSessionStrictOrdering(t *testing.T) {
	t.Parallel()

	proc := &recordingProcessor{gate: make(chan struct{})}
	reg := newTestRegistry(t, proc)

	s, err := reg.Create()
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	defer s.Close()

	if err := s.Submit(utteranceWithSeq(1)); err != nil {
		t.Fatalf("Submit: %v", err)
	}
	proc.gate <- struct{}{}
	waitFor(t, func() bool {
		done, _ := proc.snapshot()
		return len(done) == 1
	})

	if err := s.Submit(utteranceWithSeq(2)); err != nil {
		t.Fatalf("Submit: %v", err)
	}
	proc.gate <- struct{}{}
	waitFor(t, func() bool {
		done, _ := proc.snapshot()
		return len(done) == 2
	})

	done, _ := proc.snapshot()
	if done[0] != 1 || done[1] != 2 {
		t.Fatalf("processed order = %v, want [1 2]", done)
	}
}

func TestSubmitSupersedesInFlightUtterance(t *testing.T) {
	t.Parallel()

	proc := &recordingProcessor{blockOnCtx: true, entered: make(chan uint64, 2)}
	reg := newTestRegistry(t, proc)

	s, err := reg.Create()
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	if err := s.Submit(utteranceWithSeq(1)); err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if seq := <-proc.entered; seq != 1 {
		t.Fatalf("first in flight = %d, want 1", seq)
	}

	// A newer utterance must cancel the in-flight one.
	if err := s.Submit(utteranceWithSeq(2)); err != nil {
		t.Fatalf("Submit: %v", err)
	}
	waitFor(t, func() bool {
		_, cancelled := proc.snapshot()
		return len(cancelled) == 1
	})
	_, cancelled := proc.snapshot()
	if cancelled[0] != 1 {
		t.Fatalf("cancelled = %v, want [1]", cancelled)
	}

	// Utterance 2 then starts; closing the session cancels it too.
	if seq := <-proc.entered; seq != 2 {
		t.Fatalf("second in flight = %d, want 2", seq)
	}
	s.Close()
	waitFor(t, func() bool {
		_, cancelled := proc.snapshot()
		return len(cancelled) == 2
	})
}

func TestSubmitCancelsJustClaimedUtterance(t *testing.T) {
	t.Parallel()

	// Drive the claim by hand: the moment takePending returns, the claimed
	// context must already be wired to cancelInFlight, so a Submit landing
	// right then supersedes it. No worker is running here on purpose.
	s := newSession("test", &recordingProcessor{}, slog.Default())

	if err := s.Submit(utteranceWithSeq(1)); err != nil {
		t.Fatalf("Submit: %v", err)
	}
	in, ok := s.takePending(context.Background())
	if !ok {
		t.Fatal("takePending: no utterance claimed")
	}
	defer in.cancel()

	if err := s.Submit(utteranceWithSeq(2)); err != nil {
		t.Fatalf("Submit: %v", err)
	}

	select {
	case <-in.ctx.Done():
	default:
		t.Fatal("newer submit did not cancel the just-claimed utterance")
	}
}

func TestSubmitReplacesQueuedUtterance(t *testing.T) {
	t.Parallel()

	proc := &recordingProcessor{gate: make(chan struct{}), entered: make(chan uint64, 2)}
	reg := newTestRegistry(t, proc)

	s, err := reg.Create()
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	defer s.Close()

	// Utterance 1 blocks on the gate; 2 and 3 queue behind it, so 2 is
	// replaced by 3 before its processing ever starts.
	if err := s.Submit(utteranceWithSeq(1)); err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if seq := <-proc.entered; seq != 1 {
		t.Fatalf("in flight = %d, want 1", seq)
	}
	if err := s.Submit(utteranceWithSeq(2)); err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if err := s.Submit(utteranceWithSeq(3)); err != nil {
		t.Fatalf("Submit: %v", err)
	}

	proc.gate <- struct{}{} // release 1
	proc.gate <- struct{}{} // release 3

	waitFor(t, func() bool {
		done, _ := proc.snapshot()
		return len(done) == 2
	})
	done, _ := proc.snapshot()
	if done[0] != 1 || done[1] != 3 {
		t.Fatalf("processed = %v, want [1 3] with 2 superseded", done)
	}
	if s.Superseded() != 1 {
		t.Fatalf("Superseded() = %d, want 1", s.Superseded())
	}
}

func TestSubmitAfterCloseFails(t *testing.T) {
	t.Parallel()

	reg := newTestRegistry(t, &recordingProcessor{})
	s, err := reg.Create()
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	s.Close()

	if err := s.Submit(utteranceWithSeq(1)); !errors.Is(err, ErrSessionClosed) {
		t.Fatalf("Submit after close = %v, want ErrSessionClosed", err)
	}
}

func TestRegistryDestroy(t *testing.T) {
	t.Parallel()

	reg := newTestRegistry(t, &recordingProcessor{})
	s, err := reg.Create()
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if reg.Len() != 1 {
		t.Fatalf("Len() = %d, want 1", reg.Len())
	}
	if got, ok := reg.Get(s.ID()); !ok || got != s {
		t.Fatal("Get should return the created session")
	}

	reg.Destroy(s.ID())
	if reg.Len() != 0 {
		t.Fatalf("Len() after destroy = %d, want 0", reg.Len())
	}
	if _, ok := reg.Get(s.ID()); ok {
		t.Fatal("destroyed session still retrievable")
	}
	if err := s.Submit(utteranceWithSeq(1)); !errors.Is(err, ErrSessionClosed) {
		t.Fatalf("Submit on destroyed session = %v, want ErrSessionClosed", err)
	}
}

func TestRegistrySweepsIdleSessions(t *testing.T) {
	t.Parallel()

	reg := newTestRegistry(t, &recordingProcessor{},
		WithIdleTimeout(50*time.Millisecond),
		WithSweepInterval(10*time.Millisecond),
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go reg.Run(ctx)

	if _, err := reg.Create(); err != nil {
		t.Fatalf("Create: %v", err)
	}

	waitFor(t, func() bool { return reg.Len() == 0 })
}

func TestRegistryRunClosesSessionsOnShutdown(t *testing.T) {
	t.Parallel()

	reg := newTestRegistry(t, &recordingProcessor{},
		WithIdleTimeout(time.Hour),
		WithSweepInterval(10*time.Millisecond),
	)

	ctx, cancel := context.WithCancel(context.Background())
	runDone := make(chan struct{})
	go func() {
		reg.Run(ctx)
		close(runDone)
	}()

	s, err := reg.Create()
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	cancel()
	<-runDone
	if reg.Len() != 0 {
		t.Fatalf("Len() after shutdown = %d, want 0", reg.Len())
	}
	if err := s.Submit(utteranceWithSeq(1)); !errors.Is(err, ErrSessionClosed) {
		t.Fatalf("Submit after shutdown = %v, want ErrSessionClosed", err)
	}
}
