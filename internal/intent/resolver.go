// Package intent converts transcripts into typed intents with enforced
// acceptance thresholds. The language-understanding collaborator proposes a
// classification; this package decides whether it is trustworthy enough to
// act on.
package intent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/voxkiosk/voxkiosk/pkg/types"
)

// Thresholds maps each intent type to its minimum acceptable confidence.
// Classifications below their type's threshold are never acted on directly.
type Thresholds map[types.IntentType]float64

// DefaultThresholds returns the production acceptance thresholds. Riskier
// actions demand more certainty: an unwanted cancellation or charge costs
// more than a misheard menu question.
func DefaultThresholds() Thresholds {
	return Thresholds{
		types.IntentCancel:   0.9,
		types.IntentModify:   0.8,
		types.IntentPayment:  0.8,
		types.IntentOrder:    0.7,
		types.IntentInquiry:  0.6,
		types.IntentGreeting: 0.6,
		types.IntentHelp:     0.6,
		types.IntentUnknown:  0,
	}
}

// threshold returns the acceptance bar for t. Types missing from the map get
// the Order bar so a misconfigured table fails safe rather than open.
func (th Thresholds) threshold(t types.IntentType) float64 {
	if v, ok := th[t]; ok {
		return v
	}
	return 0.7
}

// Resolver turns transcripts into accepted intents. It is safe for
// concurrent use as long as the classifier is.
type Resolver struct {
	classifier Classifier
	thresholds Thresholds
	logger     *slog.Logger
}

// ResolverOption configures a Resolver.
type ResolverOption func(*Resolver)

// WithThresholds overrides the per-type acceptance thresholds.
func WithThresholds(th Thresholds) ResolverOption {
	return func(r *Resolver) {
		r.thresholds = th
	}
}

// WithResolverLogger sets the logger. Defaults to [slog.Default].
func WithResolverLogger(logger *slog.Logger) ResolverOption {
	return func(r *Resolver) {
		r.logger = logger
	}
}

// NewResolver creates a Resolver around the given classifier.
func NewResolver(classifier Classifier, opts ...ResolverOption) (*Resolver, error) {
	if classifier == nil {
		return nil, errors.New("intent: classifier must not be nil")
	}
	r := &Resolver{
		classifier: classifier,
		thresholds: DefaultThresholds(),
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

// Classifier returns the resolver's classifier, so callers can rebuild the
// resolver with new thresholds without reconstructing the classifier.
func (r *Resolver) Classifier() Classifier {
	return r.classifier
}

// Resolve classifies text and applies the acceptance thresholds. When the
// literal reading falls below its type's bar, a second pass asks the
// classifier to interpret sound-alike tokens against known vocabulary; the
// second result is adopted only if it clears its own type's bar. Anything
// still below threshold resolves to an unknown intent with a clarification
// request, never an error.
//
// confidenceHint is the recognition confidence of the transcript and is
// forwarded to the classifier untouched.
func (r *Resolver) Resolve(ctx context.Context, text string, confidenceHint float64, dialogueCtx []types.Message) (*types.Intent, error) {
	first, err := r.classify(ctx, Request{
		Text:           text,
		ConfidenceHint: confidenceHint,
		Context:        dialogueCtx,
	})
	if err != nil {
		return nil, err
	}

	if intent, ok := r.accept(first); ok {
		return intent, nil
	}

	r.logger.Debug("literal classification below threshold, retrying phonetically",
		"text", text,
		"type", first.Type,
		"confidence", first.Confidence,
		"threshold", r.thresholds.threshold(first.Type))

	second, err := r.classify(ctx, Request{
		Text:           text,
		ConfidenceHint: confidenceHint,
		Context:        dialogueCtx,
		Phonetic:       true,
	})
	if err != nil {
		return nil, err
	}

	if intent, ok := r.accept(second); ok {
		return intent, nil
	}

	r.logger.Info("intent unresolved after phonetic pass, asking for clarification",
		"text", text,
		"first_type", first.Type,
		"second_type", second.Type)
	return &types.Intent{
		Type:    types.IntentUnknown,
		Clarify: true,
	}, nil
}

// classify invokes the collaborator and maps its failures onto the pipeline
// error taxonomy.
func (r *Resolver) classify(ctx context.Context, req Request) (*Classification, error) {
	cls, err := r.classifier.Classify(ctx, req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, fmt.Errorf("intent: classifier timed out: %w", types.ErrCollaboratorTimeout)
		}
		return nil, fmt.Errorf("intent: classifier failed: %v: %w", err, types.ErrCollaboratorUnavailable)
	}
	return cls, nil
}

// accept applies the threshold for the classification's own type. The
// collaborator's self-reported confidence is clamped first; a value above 1
// is noise, not extra certainty.
func (r *Resolver) accept(cls *Classification) (*types.Intent, bool) {
	conf := cls.Confidence
	if conf > 1 {
		conf = 1
	} else if conf < 0 {
		conf = 0
	}
	if conf < r.thresholds.threshold(cls.Type) {
		return nil, false
	}
	return &types.Intent{
		Type:       cls.Type,
		Confidence: conf,
		Entities:   cls.Entities,
	}, true
}
