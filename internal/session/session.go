// Package session owns the per-customer conversation lifecycle.
//
// Each kiosk conversation is a [Session] with a dedicated worker goroutine.
// All state mutation for a session happens on that one goroutine: utterances
// submitted for the session are processed strictly in submission order, and a
// newly submitted utterance supersedes any earlier utterance that has not
// finished, cancelling its context. Different sessions process concurrently.
//
// The [Registry] tracks live sessions and destroys the ones that have been
// idle for longer than the configured timeout.
package session

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/voxkiosk/voxkiosk/pkg/audio"
)

// ErrSessionClosed is returned by Submit after a session has been closed.
var ErrSessionClosed = errors.New("session: session closed")

// Processor handles one complete utterance for one session. Implementations
// run the preprocess, recognition, intent, and dialogue stages and speak the
// resulting prompt.
//
// ProcessUtterance is only ever called from the session's worker goroutine,
// so a per-session Processor instance needs no internal locking for session
// state. It must honour ctx cancellation: a cancelled ctx means the utterance
// was superseded or the session is shutting down, and the processor must
// return without mutating dialogue state.
type Processor interface {
	ProcessUtterance(ctx context.Context, u *audio.Utterance) error
}

// ProcessorFactory builds the per-session processor when a session is
// created. Each session gets its own instance.
type ProcessorFactory func(sessionID string) (Processor, error)

// Session is one customer conversation. All processing for a session runs on
// its single worker goroutine; external callers interact only through Submit
// and Close, which are safe for concurrent use.
type Session struct {
	id        string
	proc      Processor
	logger    *slog.Logger
	createdAt time.Time

	mu             sync.Mutex
	pending        *audio.Utterance
	pendingSeq     uint64
	nextSeq        uint64
	cancelInFlight context.CancelFunc
	lastActive     time.Time
	superseded     uint64
	closed         bool

	wake       chan struct{}
	done       chan struct{}
	workerDone chan struct{}
}

func newSession(id string, proc Processor, logger *slog.Logger) *Session {
	now := time.Now()
	return &Session{
		id:        id,
		proc:      proc,
		logger:    logger.With("session_id", id),
		createdAt: now,

		lastActive: now,
		wake:       make(chan struct{}, 1),
		done:       make(chan struct{}),
		workerDone: make(chan struct{}),
	}
}

// ID returns the session identifier.
func (s *Session) ID() string { return s.id }

// Submit hands a completed utterance to the session worker. Utterances are
// processed in submission order; if an earlier utterance is still being
// processed its context is cancelled, and if one is still waiting it is
// replaced. Submit never blocks on processing.
func (s *Session) Submit(u *audio.Utterance) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrSessionClosed
	}
	if s.pending != nil {
		s.superseded++
		s.logger.Info("utterance superseded before processing started",
			"superseded_total", s.superseded)
	}
	if s.cancelInFlight != nil {
		s.cancelInFlight()
		s.logger.Info("cancelling in-flight utterance, newer one arrived")
	}
	s.pending = u
	s.nextSeq++
	s.pendingSeq = s.nextSeq
	s.lastActive = time.Now()
	s.mu.Unlock()

	select {
	case s.wake <- struct{}{}:
	default:
	}
	return nil
}

// Superseded returns how many submitted utterances were replaced before
// processing started.
func (s *Session) Superseded() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.superseded
}

// LastActive returns the time of the most recent Submit or processed
// utterance.
func (s *Session) LastActive() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastActive
}

// Close stops the worker. In-flight processing is cancelled. Close is safe to
// call multiple times.
func (s *Session) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	if s.cancelInFlight != nil {
		s.cancelInFlight()
	}
	close(s.done)
	s.mu.Unlock()
}

// Wait blocks until the worker goroutine has exited. Useful in tests.
func (s *Session) Wait() {
	<-s.workerDone
}

// run is the session worker loop. ctx is the registry's lifetime context.
func (s *Session) run(ctx context.Context) {
	defer close(s.workerDone)
	for {
		select {
		case <-ctx.Done():
			return
		case <-s.done:
			return
		case <-s.wake:
		}

		for {
			in, ok := s.takePending(ctx)
			if !ok {
				break
			}
			s.process(in)
		}
	}
}

// inflight is one claimed utterance together with its armed cancellation.
type inflight struct {
	u      *audio.Utterance
	seq    uint64
	ctx    context.Context
	cancel context.CancelFunc
}

// takePending pops the waiting utterance and arms cancelInFlight in the same
// critical section. A Submit racing with the pop therefore always observes
// either the occupied pending slot or the armed cancel func; there is no
// window where the claimed utterance can escape supersession.
func (s *Session) takePending(parent context.Context) (inflight, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.pending == nil || s.closed {
		return inflight{}, false
	}
	in := inflight{u: s.pending, seq: s.pendingSeq}
	s.pending = nil
	in.ctx, in.cancel = context.WithCancel(parent)
	s.cancelInFlight = in.cancel
	return in, true
}

func (s *Session) process(in inflight) {
	err := s.proc.ProcessUtterance(in.ctx, in.u)

	s.mu.Lock()
	s.cancelInFlight = nil
	s.lastActive = time.Now()
	s.mu.Unlock()
	in.cancel()

	switch {
	case errors.Is(err, context.Canceled):
		s.logger.Info("utterance processing cancelled", "seq", in.seq)
	case err != nil:
		s.logger.Error("utterance processing failed", "seq", in.seq, "error", err)
	}
}
