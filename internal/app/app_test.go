package app_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/voxkiosk/voxkiosk/internal/app"
	"github.com/voxkiosk/voxkiosk/internal/config"
	"github.com/voxkiosk/voxkiosk/internal/order"
	"github.com/voxkiosk/voxkiosk/pkg/provider/asr"
	asrmock "github.com/voxkiosk/voxkiosk/pkg/provider/asr/mock"
	"github.com/voxkiosk/voxkiosk/pkg/provider/llm"
	llmmock "github.com/voxkiosk/voxkiosk/pkg/provider/llm/mock"
	paymock "github.com/voxkiosk/voxkiosk/pkg/provider/payment/mock"
	ttsmock "github.com/voxkiosk/voxkiosk/pkg/provider/tts/mock"
	"github.com/voxkiosk/voxkiosk/pkg/provider/vad"
	vadmock "github.com/voxkiosk/voxkiosk/pkg/provider/vad/mock"
	"github.com/voxkiosk/voxkiosk/pkg/types"
)

const testMenuYAML = `items:
  - id: bigmac-set
    name: 빅맥 세트
    aliases: [빅맥세트]
    category: 세트
    price: 7500
  - id: cola
    name: 콜라
    category: 음료
    price: 2000
`

// testAppConfig writes a menu catalog to a temp dir and returns a config
// pointing at it, with segmentation timings fast enough for tests.
func testAppConfig(t *testing.T) *config.Config {
	t.Helper()
	menuPath := filepath.Join(t.TempDir(), "menu.yaml")
	if err := os.WriteFile(menuPath, []byte(testMenuYAML), 0o644); err != nil {
		t.Fatalf("write menu: %v", err)
	}

	cfg := config.Default()
	cfg.Server.ListenAddr = "127.0.0.1:0"
	cfg.Order.MenuPath = menuPath
	cfg.Audio.FrameDuration = 20 * time.Millisecond
	cfg.Capture.PreRoll = 40 * time.Millisecond
	cfg.Capture.Debounce = 40 * time.Millisecond
	cfg.Capture.MaxSilenceStart = 10 * time.Second
	cfg.Capture.MaxSilenceEnd = 60 * time.Millisecond
	cfg.Capture.MinRecordDuration = 100 * time.Millisecond
	cfg.Session.IdleTimeout = time.Minute
	cfg.Session.SweepInterval = time.Second
	return cfg
}

// appProviders builds a fresh mock provider set whose classifier accepts a
// one-item order.
func appProviders() *app.Providers {
	return &app.Providers{
		ASR: &asrmock.Recognizer{
			Result: &asr.Result{
				Text:     "빅맥 세트 하나 주세요",
				Segments: []types.Segment{{Text: "빅맥 세트 하나 주세요", AvgLogProb: -0.1}},
			},
		},
		LLM:     &llmmock.Provider{CompleteResponse: &llm.CompletionResponse{Content: orderJSON}},
		TTS:     &ttsmock.Synthesizer{},
		Payment: &paymock.Processor{},
	}
}

func TestApp_New(t *testing.T) {
	t.Parallel()

	a, err := app.New(context.Background(), testAppConfig(t), appProviders(),
		app.WithOrderStore(order.NewMemStore()))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if a.Sessions() == nil {
		t.Fatal("New did not build a session manager")
	}

	if err := a.Shutdown(context.Background()); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}
}

func TestApp_New_RequiresCoreProviders(t *testing.T) {
	t.Parallel()

	cfg := testAppConfig(t)
	full := appProviders()

	cases := []struct {
		name      string
		providers *app.Providers
	}{
		{"nil providers", nil},
		{"missing asr", &app.Providers{LLM: full.LLM, Payment: full.Payment}},
		{"missing llm", &app.Providers{ASR: full.ASR, Payment: full.Payment}},
		{"missing payment", &app.Providers{ASR: full.ASR, LLM: full.LLM}},
	}
	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			if _, err := app.New(context.Background(), cfg, tc.providers,
				app.WithOrderStore(order.NewMemStore())); err == nil {
				t.Error("New succeeded without a required provider")
			}
		})
	}
}

func TestApp_New_MissingMenuFails(t *testing.T) {
	t.Parallel()

	cfg := testAppConfig(t)
	cfg.Order.MenuPath = filepath.Join(t.TempDir(), "absent.yaml")

	if _, err := app.New(context.Background(), cfg, appProviders(),
		app.WithOrderStore(order.NewMemStore())); err == nil {
		t.Error("New succeeded without a menu catalog")
	}
}

func TestApp_SessionLifecycle(t *testing.T) {
	t.Parallel()

	a, err := app.New(context.Background(), testAppConfig(t), appProviders(),
		app.WithOrderStore(order.NewMemStore()))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer func() { _ = a.Shutdown(context.Background()) }()

	info, err := a.Sessions().Start(context.Background())
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	if got := a.Sessions().Active(); got != 1 {
		t.Errorf("Active() = %d, want 1", got)
	}
	if err := a.Sessions().Stop(info.SessionID); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if got := a.Sessions().Active(); got != 0 {
		t.Errorf("Active() after Stop = %d, want 0", got)
	}
}

func TestApp_EndToEndOrder(t *testing.T) {
	t.Parallel()

	providers := appProviders()
	providers.VAD = &vadmock.Engine{Session: &vadmock.Session{
		Script:      script(10, 4),
		EventResult: vad.Event{Type: vad.Silence},
	}}
	store := order.NewMemStore()

	a, err := app.New(context.Background(), testAppConfig(t), providers,
		app.WithOrderStore(store))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer func() { _ = a.Shutdown(context.Background()) }()

	info, err := a.Sessions().Start(context.Background())
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer func() { _ = a.Sessions().Stop(info.SessionID) }()

	for i := 0; i < 14; i++ {
		if err := a.Sessions().Push(info.SessionID, voicedFrame(uint64(i))); err != nil {
			t.Fatalf("Push: %v", err)
		}
	}

	waitFor(t, func() bool {
		o, err := store.OpenOrderForSession(context.Background(), info.SessionID)
		return err == nil && o != nil && len(o.Items) == 1
	}, "order never persisted")

	o, err := store.OpenOrderForSession(context.Background(), info.SessionID)
	if err != nil {
		t.Fatalf("OpenOrderForSession: %v", err)
	}
	if o.Items[0].MenuItemID != "bigmac-set" {
		t.Errorf("ordered item = %s, want bigmac-set", o.Items[0].MenuItemID)
	}
}

func TestApp_ApplyConfigReloadsThresholds(t *testing.T) {
	t.Parallel()

	providers := appProviders()
	providers.VAD = &vadmock.Engine{Session: &vadmock.Session{
		Script:      script(10, 4),
		EventResult: vad.Event{Type: vad.Silence},
	}}
	classified := make(chan struct{}, 4)
	providers.LLM = &llmmock.Provider{
		CompleteFunc: func(context.Context, llm.CompletionRequest) (*llm.CompletionResponse, error) {
			classified <- struct{}{}
			return &llm.CompletionResponse{Content: orderJSON}, nil
		},
	}
	store := order.NewMemStore()

	a, err := app.New(context.Background(), testAppConfig(t), providers,
		app.WithOrderStore(store))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer func() { _ = a.Shutdown(context.Background()) }()

	// Raise the order threshold above the classifier's 0.82 reply. Sessions
	// created after the reload must reject the order even after the phonetic
	// second pass.
	a.ApplyConfig(config.ConfigDiff{
		ThresholdsChanged: true,
		NewIntent: config.IntentConfig{
			Thresholds:                map[string]float64{"order": 0.95},
			PhoneticSimilarityPercent: 70,
		},
	})

	info, err := a.Sessions().Start(context.Background())
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer func() { _ = a.Sessions().Stop(info.SessionID) }()

	for i := 0; i < 14; i++ {
		if err := a.Sessions().Push(info.SessionID, voicedFrame(uint64(i))); err != nil {
			t.Fatalf("Push: %v", err)
		}
	}

	// First pass plus the phonetic second pass.
	for i := 0; i < 2; i++ {
		select {
		case <-classified:
		case <-time.After(2 * time.Second):
			t.Fatalf("classifier call %d never happened", i+1)
		}
	}
	time.Sleep(100 * time.Millisecond)

	if o, _ := store.OpenOrderForSession(context.Background(), info.SessionID); o != nil {
		t.Errorf("order accepted below the raised threshold: %+v", o)
	}
}

func TestApp_ShutdownIsIdempotent(t *testing.T) {
	t.Parallel()

	a, err := app.New(context.Background(), testAppConfig(t), appProviders(),
		app.WithOrderStore(order.NewMemStore()))
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	if err := a.Shutdown(context.Background()); err != nil {
		t.Fatalf("first Shutdown: %v", err)
	}
	if err := a.Shutdown(context.Background()); err != nil {
		t.Fatalf("second Shutdown: %v", err)
	}
}
