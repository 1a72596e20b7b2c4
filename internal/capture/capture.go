// Package capture segments a continuous frame stream into discrete utterances.
//
// A Machine consumes audio frames one at a time together with the VAD decision
// for each frame and walks a four-state lifecycle: Waiting (idle, keeping a
// pre-roll ring so speech onsets are not clipped), Detecting (speech seen but
// not yet past the debounce window), Recording (committed utterance, trailing
// silence timed) and a transient Processing step that either emits the closed
// buffer or abandons it when it is shorter than the configured minimum.
//
// The machine is agnostic to which detector produced the speech decision; the
// injected vad.SessionHandle may be a neural backend or the energy fallback.
// A Machine is not safe for concurrent use; the capture loop is the single
// consumer of the frame queue.
package capture

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/voxkiosk/voxkiosk/pkg/audio"
	"github.com/voxkiosk/voxkiosk/pkg/provider/vad"
)

// State identifies the capture lifecycle position.
type State int

const (
	// Waiting means no speech activity; pre-roll frames are retained.
	Waiting State = iota

	// Detecting means speech was seen but has not persisted past the debounce
	// window yet.
	Detecting

	// Recording means an utterance is being accumulated.
	Recording
)

func (s State) String() string {
	switch s {
	case Waiting:
		return "waiting"
	case Detecting:
		return "detecting"
	case Recording:
		return "recording"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// OutcomeType classifies the result of submitting one frame.
type OutcomeType int

const (
	// Continue means the frame was consumed with no utterance boundary.
	Continue OutcomeType = iota

	// UtteranceReady means a completed utterance is available in the Outcome.
	UtteranceReady

	// Abandoned means a candidate utterance closed below the minimum duration
	// and was discarded as noise.
	Abandoned

	// Idle means the machine has been in Waiting without speech for longer
	// than the configured start-silence window. Emitted once per idle period
	// so the session layer can issue a greeting or attract prompt.
	Idle
)

// Outcome is the per-frame result of SubmitFrame.
type Outcome struct {
	Type OutcomeType

	// Utterance is set only when Type is UtteranceReady.
	Utterance *audio.Utterance
}

// Config controls segmentation timing.
type Config struct {
	// SampleRate of incoming frames in Hz.
	SampleRate int

	// FrameDuration of each incoming frame. All frames must share it.
	FrameDuration time.Duration

	// PreRoll is how much audio preceding speech onset is prepended to the
	// utterance to avoid clipping the first syllable.
	PreRoll time.Duration

	// Debounce is how long speech must persist before Detecting commits to
	// Recording. Shorter values react faster but record more clicks and
	// coughs.
	Debounce time.Duration

	// MaxSilenceStart is how long Waiting may last before a single Idle
	// outcome is emitted. Zero disables idle notification.
	MaxSilenceStart time.Duration

	// MaxSilenceEnd is the trailing-silence duration that closes an utterance.
	MaxSilenceEnd time.Duration

	// MinRecordDuration is the minimum closed-utterance duration; shorter
	// buffers are abandoned as noise.
	MinRecordDuration time.Duration
}

// DefaultConfig returns the standard kiosk segmentation timings.
func DefaultConfig(sampleRate int) Config {
	return Config{
		SampleRate:        sampleRate,
		FrameDuration:     20 * time.Millisecond,
		PreRoll:           300 * time.Millisecond,
		Debounce:          60 * time.Millisecond,
		MaxSilenceStart:   5 * time.Second,
		MaxSilenceEnd:     3 * time.Second,
		MinRecordDuration: time.Second,
	}
}

// Validate checks the configuration for internal consistency.
func (c Config) Validate() error {
	if c.SampleRate <= 0 {
		return fmt.Errorf("sample rate must be positive, got %d", c.SampleRate)
	}
	if c.FrameDuration <= 0 {
		return fmt.Errorf("frame duration must be positive, got %v", c.FrameDuration)
	}
	if c.MaxSilenceEnd <= 0 {
		return fmt.Errorf("end-silence window must be positive, got %v", c.MaxSilenceEnd)
	}
	if c.MinRecordDuration < 0 {
		return fmt.Errorf("minimum record duration must not be negative, got %v", c.MinRecordDuration)
	}
	return nil
}

// Machine is the utterance segmentation state machine for one audio stream.
type Machine struct {
	cfg    Config
	vad    vad.SessionHandle
	logger *slog.Logger

	state State

	preRoll    []audio.Frame // ring, oldest first
	maxPreRoll int

	tentative []audio.Frame // frames seen while Detecting
	debounced time.Duration

	buf             audio.Utterance
	pendingSilence  []audio.Frame // trailing silence, flushed into buf on next speech
	trailingSilence time.Duration

	idleFor      time.Duration
	idleNotified bool
}

// NewMachine creates a segmentation machine using the given VAD session.
func NewMachine(cfg Config, sess vad.SessionHandle, logger *slog.Logger) (*Machine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("capture config: %w", err)
	}
	if sess == nil {
		return nil, fmt.Errorf("capture: vad session is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	maxPreRoll := int(cfg.PreRoll / cfg.FrameDuration)
	return &Machine{
		cfg:        cfg,
		vad:        sess,
		logger:     logger,
		maxPreRoll: maxPreRoll,
	}, nil
}

// State returns the current lifecycle state.
func (m *Machine) State() State { return m.state }

// SubmitFrame consumes one frame and advances the state machine. The returned
// Outcome reports whether an utterance boundary was reached. Frame data is
// referenced, not copied; callers must not reuse frame buffers.
func (m *Machine) SubmitFrame(f audio.Frame) (Outcome, error) {
	ev, err := m.vad.ProcessFrame(f.Data)
	if err != nil {
		return Outcome{}, fmt.Errorf("capture: vad decision: %w", err)
	}
	speech := ev.Type == vad.SpeechStart || ev.Type == vad.SpeechContinue

	switch m.state {
	case Waiting:
		return m.stepWaiting(f, speech), nil
	case Detecting:
		return m.stepDetecting(f, speech), nil
	case Recording:
		return m.stepRecording(f, speech), nil
	default:
		return Outcome{}, fmt.Errorf("capture: invalid state %v", m.state)
	}
}

func (m *Machine) stepWaiting(f audio.Frame, speech bool) Outcome {
	if speech {
		m.state = Detecting
		m.tentative = append(m.tentative[:0], f)
		m.debounced = m.cfg.FrameDuration
		m.idleFor = 0
		m.idleNotified = false
		return Outcome{Type: Continue}
	}
	m.pushPreRoll(f)
	m.idleFor += m.cfg.FrameDuration
	if m.cfg.MaxSilenceStart > 0 && !m.idleNotified && m.idleFor >= m.cfg.MaxSilenceStart {
		m.idleNotified = true
		return Outcome{Type: Idle}
	}
	return Outcome{Type: Continue}
}

func (m *Machine) stepDetecting(f audio.Frame, speech bool) Outcome {
	if !speech {
		// False start: fold the tentative frames back into pre-roll so a
		// quickly resumed onset still carries them.
		for _, tf := range m.tentative {
			m.pushPreRoll(tf)
		}
		m.pushPreRoll(f)
		m.tentative = m.tentative[:0]
		m.state = Waiting
		return Outcome{Type: Continue}
	}
	m.tentative = append(m.tentative, f)
	m.debounced += m.cfg.FrameDuration
	if m.debounced >= m.cfg.Debounce {
		m.commitRecording()
	}
	return Outcome{Type: Continue}
}

// commitRecording seeds the utterance buffer with pre-roll plus the debounced
// frames and enters Recording.
func (m *Machine) commitRecording() {
	m.buf = audio.Utterance{}
	for _, f := range m.preRoll {
		m.buf.Append(f)
	}
	for _, f := range m.tentative {
		m.buf.Append(f)
	}
	m.preRoll = m.preRoll[:0]
	m.tentative = m.tentative[:0]
	m.pendingSilence = m.pendingSilence[:0]
	m.trailingSilence = 0
	m.state = Recording
	m.logger.Debug("utterance recording started", "buffered", m.buf.Duration())
}

func (m *Machine) stepRecording(f audio.Frame, speech bool) Outcome {
	if speech {
		// Interior pause: keep it, it is part of the utterance.
		for _, sf := range m.pendingSilence {
			m.buf.Append(sf)
		}
		m.pendingSilence = m.pendingSilence[:0]
		m.trailingSilence = 0
		m.buf.Append(f)
		return Outcome{Type: Continue}
	}

	m.pendingSilence = append(m.pendingSilence, f)
	m.trailingSilence += m.cfg.FrameDuration
	if m.trailingSilence < m.cfg.MaxSilenceEnd {
		return Outcome{Type: Continue}
	}
	return m.closeUtterance()
}

// closeUtterance finalizes the buffer, dropping the trailing silence tail, and
// returns to Waiting. Buffers below the minimum duration are abandoned.
func (m *Machine) closeUtterance() Outcome {
	done := m.buf
	m.buf = audio.Utterance{}

	// Trailing silence frames seed the next pre-roll window.
	for _, sf := range m.pendingSilence {
		m.pushPreRoll(sf)
	}
	m.pendingSilence = m.pendingSilence[:0]
	m.trailingSilence = 0
	m.state = Waiting
	m.idleFor = 0
	m.idleNotified = false

	if done.Duration() < m.cfg.MinRecordDuration {
		m.logger.Debug("utterance abandoned below minimum duration",
			"duration", done.Duration(), "minimum", m.cfg.MinRecordDuration)
		return Outcome{Type: Abandoned}
	}
	m.logger.Info("utterance captured", "duration", done.Duration(), "frames", len(done.Frames))
	return Outcome{Type: UtteranceReady, Utterance: &done}
}

// Reset returns the machine to Waiting and clears all buffered audio and the
// VAD session state. Use on session end or stream restart.
func (m *Machine) Reset() {
	m.state = Waiting
	m.preRoll = m.preRoll[:0]
	m.tentative = m.tentative[:0]
	m.pendingSilence = m.pendingSilence[:0]
	m.buf = audio.Utterance{}
	m.trailingSilence = 0
	m.debounced = 0
	m.idleFor = 0
	m.idleNotified = false
	m.vad.Reset()
}

func (m *Machine) pushPreRoll(f audio.Frame) {
	if m.maxPreRoll == 0 {
		return
	}
	if len(m.preRoll) >= m.maxPreRoll {
		copy(m.preRoll, m.preRoll[1:])
		m.preRoll = m.preRoll[:len(m.preRoll)-1]
	}
	m.preRoll = append(m.preRoll, f)
}
