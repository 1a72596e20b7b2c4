package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/voxkiosk/voxkiosk/internal/capture"
	"github.com/voxkiosk/voxkiosk/internal/observe"
	"github.com/voxkiosk/voxkiosk/pkg/audio"
	"github.com/voxkiosk/voxkiosk/pkg/provider/vad"
)

// IntakeConfig holds the dependencies for one session's audio intake.
type IntakeConfig struct {
	// Capture controls utterance segmentation timing.
	Capture capture.Config

	// VADSession provides the per-frame speech decision. The intake owns it
	// and closes it on Close.
	VADSession vad.SessionHandle

	// QueueCapacity bounds the frame queue between the producer and the
	// capture loop. When full the oldest frame is dropped.
	QueueCapacity int

	// Submit receives each completed utterance. Typically session.Submit.
	Submit func(u *audio.Utterance) error

	// OnIdle is called once per idle period when no speech has been heard
	// for the configured start-silence window. May be nil.
	OnIdle func()

	Metrics *observe.Metrics
	Logger  *slog.Logger
}

// Intake pumps microphone frames for one session through the capture state
// machine. Push is safe to call from any goroutine; the capture machine and
// VAD session are only ever touched by the intake's single loop goroutine.
type Intake struct {
	sessionID string
	queue     *audio.FrameQueue
	machine   *capture.Machine
	vadSess   vad.SessionHandle
	submit    func(u *audio.Utterance) error
	onIdle    func()
	metrics   *observe.Metrics
	logger    *slog.Logger

	wake     chan struct{}
	stop     chan struct{}
	done     chan struct{}
	stopOnce sync.Once
}

// NewIntake creates the intake for one session and starts its capture loop.
func NewIntake(sessionID string, cfg IntakeConfig) (*Intake, error) {
	if sessionID == "" {
		return nil, errors.New("app: session id must not be empty")
	}
	if cfg.VADSession == nil {
		return nil, errors.New("app: vad session is required")
	}
	if cfg.Submit == nil {
		return nil, errors.New("app: submit func is required")
	}
	if cfg.Metrics == nil {
		cfg.Metrics = observe.DefaultMetrics()
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	logger := cfg.Logger.With("session_id", sessionID)

	machine, err := capture.NewMachine(cfg.Capture, cfg.VADSession, logger)
	if err != nil {
		return nil, fmt.Errorf("app: create capture machine: %w", err)
	}

	i := &Intake{
		sessionID: sessionID,
		queue:     audio.NewFrameQueue(cfg.QueueCapacity, logger),
		machine:   machine,
		vadSess:   cfg.VADSession,
		submit:    cfg.Submit,
		onIdle:    cfg.OnIdle,
		metrics:   cfg.Metrics,
		logger:    logger,
		wake:      make(chan struct{}, 1),
		stop:      make(chan struct{}),
		done:      make(chan struct{}),
	}
	go i.loop()
	return i, nil
}

// Push enqueues one microphone frame. When the queue is saturated the oldest
// frame is dropped so live audio keeps flowing.
func (i *Intake) Push(f audio.Frame) {
	if i.queue.Push(f) {
		i.metrics.DroppedFrames.Add(context.Background(), 1)
	}
	select {
	case i.wake <- struct{}{}:
	default:
	}
}

// Close stops the capture loop and releases the VAD session. Safe to call
// more than once.
func (i *Intake) Close() {
	i.stopOnce.Do(func() {
		close(i.stop)
		<-i.done
		if err := i.vadSess.Close(); err != nil {
			i.logger.Warn("vad session close error", "err", err)
		}
	})
}

// Dropped returns the total number of frames evicted since creation.
func (i *Intake) Dropped() uint64 { return i.queue.Dropped() }

// loop drains the frame queue into the capture machine. It is the single
// consumer of the queue and the single caller of the machine and VAD session.
func (i *Intake) loop() {
	defer close(i.done)
	for {
		select {
		case <-i.stop:
			return
		case <-i.wake:
		}
		for {
			f, ok := i.queue.Pop()
			if !ok {
				break
			}
			select {
			case <-i.stop:
				return
			default:
			}
			i.step(f)
		}
	}
}

func (i *Intake) step(f audio.Frame) {
	out, err := i.machine.SubmitFrame(f)
	if err != nil {
		i.logger.Warn("capture error, resetting", "err", err)
		i.machine.Reset()
		return
	}
	switch out.Type {
	case capture.UtteranceReady:
		if err := i.submit(out.Utterance); err != nil {
			i.logger.Warn("utterance submit failed", "err", err)
		}
	case capture.Abandoned:
		i.logger.Debug("discarded sub-minimum utterance")
	case capture.Idle:
		if i.onIdle != nil {
			i.onIdle()
		}
	}
}
