package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/metric"

	"github.com/voxkiosk/voxkiosk/internal/dialogue"
	"github.com/voxkiosk/voxkiosk/internal/intent"
	"github.com/voxkiosk/voxkiosk/internal/observe"
	"github.com/voxkiosk/voxkiosk/internal/preprocess"
	"github.com/voxkiosk/voxkiosk/internal/session"
	"github.com/voxkiosk/voxkiosk/internal/speech"
	"github.com/voxkiosk/voxkiosk/pkg/audio"
	"github.com/voxkiosk/voxkiosk/pkg/provider/tts"
	"github.com/voxkiosk/voxkiosk/pkg/types"
)

// Kiosk prompts spoken outside the dialogue machine. The machine owns every
// order-related prompt; these cover recognition failures and the idle greeting.
const (
	repromptText    = "죄송합니다, 잘 못 들었어요. 다시 한 번 말씀해 주시겠어요?"
	unavailableText = "죄송합니다, 지금 주문을 처리할 수 없어요. 잠시 후 다시 시도해 주세요."
	greetingText    = "어서 오세요! 주문하실 메뉴를 말씀해 주세요."
)

// Speak delivers synthesized prompt audio to the kiosk speaker for a session.
// Implementations must not block for long; playback queues belong behind it.
type Speak func(sessionID string, a *tts.Audio)

// PipelineConfig holds the collaborators for one session's utterance pipeline.
type PipelineConfig struct {
	// Preprocess turns raw utterances into recognizer features.
	Preprocess *preprocess.Processor

	// Speech transcribes features and scores confidence.
	Speech *speech.Service

	// Intents classifies transcripts and enforces acceptance thresholds.
	Intents *intent.Resolver

	// Dialogue is the session's conversation state machine.
	Dialogue *dialogue.Machine

	// TTS synthesizes prompts. Nil disables speech output; prompts are
	// still logged, which keeps text-only integration tests simple.
	TTS tts.Synthesizer

	// Speak receives synthesized prompt audio. Ignored when TTS is nil.
	Speak Speak

	// RetryMax is how many times a timed-out collaborator call is retried
	// before the customer is asked to repeat.
	RetryMax int

	Metrics *observe.Metrics
	Logger  *slog.Logger
}

// Pipeline runs one session's utterances through preprocess, recognition,
// intent resolution and dialogue, then speaks the resulting prompt.
//
// A Pipeline is created per session and is only ever invoked from that
// session's worker goroutine, so it holds no locks of its own.
type Pipeline struct {
	sessionID string
	pre       *preprocess.Processor
	speech    *speech.Service
	intents   *intent.Resolver
	dialogue  *dialogue.Machine
	tts       tts.Synthesizer
	speak     Speak
	retryMax  int
	metrics   *observe.Metrics
	logger    *slog.Logger
}

var _ session.Processor = (*Pipeline)(nil)

// NewPipeline creates the utterance pipeline for one session.
func NewPipeline(sessionID string, cfg PipelineConfig) (*Pipeline, error) {
	if sessionID == "" {
		return nil, errors.New("app: session id must not be empty")
	}
	if cfg.Preprocess == nil || cfg.Speech == nil || cfg.Intents == nil || cfg.Dialogue == nil {
		return nil, errors.New("app: preprocess, speech, intents and dialogue are all required")
	}
	if cfg.RetryMax < 0 {
		return nil, fmt.Errorf("app: retry max must be non-negative, got %d", cfg.RetryMax)
	}
	if cfg.Metrics == nil {
		cfg.Metrics = observe.DefaultMetrics()
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Pipeline{
		sessionID: sessionID,
		pre:       cfg.Preprocess,
		speech:    cfg.Speech,
		intents:   cfg.Intents,
		dialogue:  cfg.Dialogue,
		tts:       cfg.TTS,
		speak:     cfg.Speak,
		retryMax:  cfg.RetryMax,
		metrics:   cfg.Metrics,
		logger:    cfg.Logger.With("session_id", sessionID),
	}, nil
}

// Dialogue returns the session's dialogue machine.
func (p *Pipeline) Dialogue() *dialogue.Machine { return p.dialogue }

// Greet speaks the idle greeting. Called by the session layer when a customer
// steps up to a quiet kiosk.
func (p *Pipeline) Greet(ctx context.Context) {
	p.say(ctx, greetingText)
}

// ProcessUtterance runs one utterance through the full pipeline. A cancelled
// ctx means the utterance was superseded; processing stops before any
// dialogue state is touched and the context error is returned.
func (p *Pipeline) ProcessUtterance(ctx context.Context, u *audio.Utterance) error {
	ctx, span := observe.StartSpan(ctx, "utterance")
	defer span.End()
	total := time.Now()

	// ── Preprocess ───────────────────────────────────────────────────────
	start := time.Now()
	feats, err := p.pre.Process(ctx, u)
	p.metrics.PreprocessDuration.Record(ctx, time.Since(start).Seconds())
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		p.logger.Warn("utterance rejected by preprocessing", "err", err)
		p.say(ctx, repromptText)
		return fmt.Errorf("app: preprocess: %w", err)
	}

	// ── Recognize ────────────────────────────────────────────────────────
	var rec *types.RecognitionResult
	err = p.withTimeoutRetries(ctx, "recognize", func(ctx context.Context) error {
		start := time.Now()
		var rerr error
		rec, rerr = p.speech.Recognize(ctx, feats)
		p.metrics.ASRDuration.Record(ctx, time.Since(start).Seconds())
		return rerr
	})
	if err != nil {
		return p.collaboratorFailed(ctx, "recognize", err)
	}
	p.metrics.RecognitionConfidence.Record(ctx, rec.Confidence)
	if rec.LowConfidence {
		// Advisory only. The resolver's per-intent thresholds decide
		// acceptance; the phonetic second pass exists for exactly these.
		p.logger.Info("recognition confidence low",
			"confidence", rec.Confidence, "text", rec.Text)
	}

	// ── Resolve intent ───────────────────────────────────────────────────
	var resolved *types.Intent
	err = p.withTimeoutRetries(ctx, "resolve intent", func(ctx context.Context) error {
		start := time.Now()
		var rerr error
		resolved, rerr = p.intents.Resolve(ctx, rec.Text, rec.Confidence, p.dialogue.History())
		p.metrics.IntentDuration.Record(ctx, time.Since(start).Seconds())
		return rerr
	})
	if err != nil {
		return p.collaboratorFailed(ctx, "resolve intent", err)
	}

	// A superseded utterance must not advance the dialogue.
	if ctx.Err() != nil {
		return ctx.Err()
	}

	// ── Dialogue ─────────────────────────────────────────────────────────
	resp, err := p.dialogue.HandleIntent(ctx, resolved, rec.Text)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		p.logger.Error("dialogue failed", "intent", resolved.Type, "err", err)
		p.say(ctx, unavailableText)
		return fmt.Errorf("app: dialogue: %w", err)
	}
	p.metrics.RecordUtterance(ctx, resolved.Type.String())
	if resp.Receipt != nil {
		p.metrics.RecordPayment(ctx, "approved")
	}

	p.say(ctx, resp.Prompt)
	p.metrics.UtteranceDuration.Record(ctx, time.Since(total).Seconds(),
		metric.WithAttributes(observe.Attr("intent", resolved.Type.String())))
	p.logger.Debug("utterance handled",
		"intent", resolved.Type,
		"state", resp.State,
		"elapsed", time.Since(total).Round(time.Millisecond))
	return nil
}

// withTimeoutRetries runs fn, retrying on collaborator timeouts up to the
// configured cap. Any other error, and a cancelled ctx, stop immediately.
func (p *Pipeline) withTimeoutRetries(ctx context.Context, stage string, fn func(context.Context) error) error {
	var err error
	for attempt := 0; ; attempt++ {
		err = fn(ctx)
		if err == nil || !errors.Is(err, types.ErrCollaboratorTimeout) {
			return err
		}
		if ctx.Err() != nil || attempt >= p.retryMax {
			return err
		}
		p.logger.Warn("collaborator timed out, retrying",
			"stage", stage, "attempt", attempt+1, "err", err)
	}
}

// collaboratorFailed logs a terminal collaborator failure and resolves it to
// a spoken re-prompt. Superseded utterances propagate the context error
// silently instead.
func (p *Pipeline) collaboratorFailed(ctx context.Context, stage string, err error) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	p.logger.Error("collaborator failed", "stage", stage, "err", err)
	if errors.Is(err, types.ErrCollaboratorTimeout) {
		p.say(ctx, repromptText)
	} else {
		p.say(ctx, unavailableText)
	}
	return fmt.Errorf("app: %s: %w", stage, err)
}

// say synthesizes text and hands it to the speaker sink. Synthesis failures
// are logged, never propagated: the dialogue state already advanced and the
// kiosk screen still shows the prompt.
func (p *Pipeline) say(ctx context.Context, text string) {
	if text == "" {
		return
	}
	if p.tts == nil {
		p.logger.Info("prompt", "text", text)
		return
	}
	start := time.Now()
	a, err := p.tts.Synthesize(ctx, text)
	p.metrics.TTSDuration.Record(ctx, time.Since(start).Seconds())
	if err != nil {
		if ctx.Err() == nil {
			p.metrics.RecordProviderError(ctx, p.tts.Name(), "tts")
			p.logger.Warn("tts synthesis failed", "provider", p.tts.Name(), "err", err)
		}
		return
	}
	p.metrics.RecordProviderRequest(ctx, p.tts.Name(), "tts", "ok")
	if p.speak != nil {
		p.speak(p.sessionID, a)
	}
}
