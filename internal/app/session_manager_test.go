package app_test

import (
	"context"
	"encoding/binary"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/voxkiosk/voxkiosk/internal/app"
	"github.com/voxkiosk/voxkiosk/internal/resilience"
	"github.com/voxkiosk/voxkiosk/pkg/audio"
	"github.com/voxkiosk/voxkiosk/pkg/provider/vad"
	vadmock "github.com/voxkiosk/voxkiosk/pkg/provider/vad/mock"
)

// waitFor polls cond until it returns true or the deadline passes.
func waitFor(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal(msg)
}

// managerFixtures tracks the per-session pipeline fixtures a manager created.
type managerFixtures struct {
	mu       sync.Mutex
	bySessID map[string]*fixtures
}

func (m *managerFixtures) factory(t *testing.T) app.PipelineFactory {
	return func(sessionID string) (*app.Pipeline, error) {
		f := newFixturesFor(t, sessionID)
		m.mu.Lock()
		m.bySessID[sessionID] = f
		m.mu.Unlock()
		return f.pipeline, nil
	}
}

func (m *managerFixtures) get(sessionID string) *fixtures {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.bySessID[sessionID]
}

func newTestSessionManager(t *testing.T, eng vad.Engine) (*app.SessionManager, *managerFixtures) {
	t.Helper()
	mf := &managerFixtures{bySessID: make(map[string]*fixtures)}
	sm, err := app.NewSessionManager(app.SessionManagerConfig{
		NewPipeline: mf.factory(t),
		VAD:         eng,
		VADConfig: vad.Config{
			SampleRate:       testSampleRate,
			FrameSizeMs:      20,
			SpeechThreshold:  0.6,
			SilenceThreshold: 0.4,
		},
		Capture:       intakeCaptureConfig(),
		QueueCapacity: 64,
	})
	if err != nil {
		t.Fatalf("NewSessionManager: %v", err)
	}
	return sm, mf
}

// voicedFrame builds one 20 ms ramp-PCM frame so preprocessing has signal to
// work with.
func voicedFrame(seq uint64) audio.Frame {
	samples := testSampleRate / 50
	data := make([]byte, samples*2)
	for i := 0; i < samples; i++ {
		binary.LittleEndian.PutUint16(data[2*i:], uint16(int16((i%64-32)*128)))
	}
	return audio.Frame{
		Data:       data,
		SampleRate: testSampleRate,
		Seq:        seq,
		Timestamp:  time.Duration(seq) * 20 * time.Millisecond,
	}
}

func TestSessionManager_StartStop(t *testing.T) {
	t.Parallel()

	eng := &vadmock.Engine{Session: &vadmock.Session{EventResult: vad.Event{Type: vad.Silence}}}
	sm, mf := newTestSessionManager(t, eng)

	info, err := sm.Start(context.Background())
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	if info.SessionID == "" {
		t.Fatal("Start returned empty session id")
	}
	if info.StartedAt.IsZero() {
		t.Error("Start returned zero StartedAt")
	}
	if got := sm.Active(); got != 1 {
		t.Errorf("Active() = %d, want 1", got)
	}
	if mf.get(info.SessionID) == nil {
		t.Errorf("no pipeline built for session %s", info.SessionID)
	}

	got, ok := sm.Info(info.SessionID)
	if !ok {
		t.Fatalf("Info(%s) not found", info.SessionID)
	}
	if got.SessionID != info.SessionID || !got.StartedAt.Equal(info.StartedAt) {
		t.Errorf("Info() = %+v, want %+v", got, info)
	}

	if err := sm.Stop(info.SessionID); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if got := sm.Active(); got != 0 {
		t.Errorf("Active() after Stop = %d, want 0", got)
	}
	if _, ok := sm.Info(info.SessionID); ok {
		t.Error("Info() still reports a stopped session")
	}
}

func TestSessionManager_MultipleSessions(t *testing.T) {
	t.Parallel()

	// No shared Session handle, each session gets its own default mock.
	eng := &vadmock.Engine{}
	sm, _ := newTestSessionManager(t, eng)

	a, err := sm.Start(context.Background())
	if err != nil {
		t.Fatalf("Start a: %v", err)
	}
	b, err := sm.Start(context.Background())
	if err != nil {
		t.Fatalf("Start b: %v", err)
	}
	if a.SessionID == b.SessionID {
		t.Fatalf("sessions share id %s", a.SessionID)
	}
	if got := sm.Active(); got != 2 {
		t.Errorf("Active() = %d, want 2", got)
	}

	if err := sm.Stop(a.SessionID); err != nil {
		t.Fatalf("Stop a: %v", err)
	}
	if got := sm.Active(); got != 1 {
		t.Errorf("Active() after one Stop = %d, want 1", got)
	}
	if err := sm.Stop(b.SessionID); err != nil {
		t.Fatalf("Stop b: %v", err)
	}
}

func TestSessionManager_UnknownSession(t *testing.T) {
	t.Parallel()

	eng := &vadmock.Engine{Session: &vadmock.Session{EventResult: vad.Event{Type: vad.Silence}}}
	sm, _ := newTestSessionManager(t, eng)

	if err := sm.Push("nope", testFrame(0)); !errors.Is(err, app.ErrUnknownSession) {
		t.Errorf("Push unknown = %v, want ErrUnknownSession", err)
	}
	if err := sm.Stop("nope"); !errors.Is(err, app.ErrUnknownSession) {
		t.Errorf("Stop unknown = %v, want ErrUnknownSession", err)
	}

	info, err := sm.Start(context.Background())
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := sm.Stop(info.SessionID); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if err := sm.Stop(info.SessionID); !errors.Is(err, app.ErrUnknownSession) {
		t.Errorf("second Stop = %v, want ErrUnknownSession", err)
	}
}

func TestSessionManager_VADFailureAbortsStart(t *testing.T) {
	t.Parallel()

	eng := &vadmock.Engine{NewSessionErr: errors.New("model not loaded")}
	sm, _ := newTestSessionManager(t, eng)

	if _, err := sm.Start(context.Background()); err == nil {
		t.Fatal("Start succeeded despite vad failure")
	}
	if got := sm.Active(); got != 0 {
		t.Errorf("Active() after failed Start = %d, want 0", got)
	}
}

func TestSessionManager_UtteranceReachesOrder(t *testing.T) {
	t.Parallel()

	sess := &vadmock.Session{
		Script:      script(10, 4),
		EventResult: vad.Event{Type: vad.Silence},
	}
	eng := &vadmock.Engine{Session: sess}
	sm, mf := newTestSessionManager(t, eng)

	info, err := sm.Start(context.Background())
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer func() { _ = sm.Stop(info.SessionID) }()

	for i := 0; i < 14; i++ {
		if err := sm.Push(info.SessionID, voicedFrame(uint64(i))); err != nil {
			t.Fatalf("Push: %v", err)
		}
	}

	f := mf.get(info.SessionID)
	waitFor(t, func() bool {
		o, err := f.orders.CurrentOrder(context.Background(), info.SessionID)
		return err == nil && o != nil && len(o.Items) == 1
	}, "order never reached the order manager")

	o, err := f.orders.CurrentOrder(context.Background(), info.SessionID)
	if err != nil {
		t.Fatalf("CurrentOrder: %v", err)
	}
	if o.Items[0].MenuItemID != "bigmac-set" {
		t.Errorf("ordered item = %s, want bigmac-set", o.Items[0].MenuItemID)
	}
}

// A neural detector dying mid-stream must not stall capture: the fallback
// engine degrades the session to the local detector and the utterance still
// lands in the order store.
func TestSessionManager_DegradedVADStillCaptures(t *testing.T) {
	t.Parallel()

	primary := &vadmock.Engine{Session: &vadmock.Session{
		ProcessFrameErr: errors.New("silero server gone"),
	}}
	standby := &vadmock.Engine{Session: &vadmock.Session{
		Script:      script(10, 4),
		EventResult: vad.Event{Type: vad.Silence},
	}}
	eng := resilience.NewVADFallback(primary, "silero", standby, "energy", nil)
	sm, mf := newTestSessionManager(t, eng)

	info, err := sm.Start(context.Background())
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer func() { _ = sm.Stop(info.SessionID) }()

	for i := 0; i < 14; i++ {
		if err := sm.Push(info.SessionID, voicedFrame(uint64(i))); err != nil {
			t.Fatalf("Push: %v", err)
		}
	}

	f := mf.get(info.SessionID)
	waitFor(t, func() bool {
		o, err := f.orders.CurrentOrder(context.Background(), info.SessionID)
		return err == nil && o != nil && len(o.Items) == 1
	}, "order never reached the order manager under vad degradation")
}

func TestSessionManager_RunStopsOnCancel(t *testing.T) {
	t.Parallel()

	eng := &vadmock.Engine{Session: &vadmock.Session{EventResult: vad.Event{Type: vad.Silence}}}
	sm, _ := newTestSessionManager(t, eng)

	if _, err := sm.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- sm.Run(ctx) }()
	cancel()

	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("Run = %v, want context.Canceled", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}

	waitFor(t, func() bool { return sm.Active() == 0 }, "sessions not torn down after Run")
}
