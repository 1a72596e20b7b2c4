package intent

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/voxkiosk/voxkiosk/pkg/provider/llm"
	"github.com/voxkiosk/voxkiosk/pkg/types"
)

// Request carries one utterance to classify.
type Request struct {
	// Text is the transcript of the customer utterance.
	Text string

	// ConfidenceHint is the recognition confidence attached to the
	// transcript, in [0, 1]. Classifiers may use it to temper their own
	// certainty on garbled input.
	ConfidenceHint float64

	// Context is the recent dialogue history, oldest first.
	Context []types.Message

	// Phonetic enables the sound-alike interpretation mode: tokens that are
	// phonetically close to known vocabulary should be read as that
	// vocabulary.
	Phonetic bool
}

// Classification is the collaborator's reading of one utterance. Confidence
// is self-reported and untrusted; callers clamp and threshold it themselves.
type Classification struct {
	Type       types.IntentType
	Confidence float64
	Entities   []types.Entity
}

// Classifier is the language-understanding collaborator boundary.
type Classifier interface {
	Classify(ctx context.Context, req Request) (*Classification, error)
}

const classifySystemPrompt = `You are the order-understanding component of a Korean fast-food kiosk.
Classify the customer utterance into exactly one intent:
order, modify, cancel, payment, inquiry, greeting, help, unknown.

Extract ordered items as entities. Respond with a JSON object:
{"intent": "...", "confidence": 0.0, "entities": [{"menu_item": "...", "quantity": 1, "modification": ""}]}

confidence is your certainty in [0,1]. Use "unknown" when the utterance does
not fit any intent.`

// LLMClassifier implements Classifier on top of an llm.Provider.
type LLMClassifier struct {
	provider        llm.Provider
	vocabulary      []string
	phoneticPercent int
	maxTokens       int
}

// Compile-time interface assertion.
var _ Classifier = (*LLMClassifier)(nil)

// ClassifierOption configures an LLMClassifier.
type ClassifierOption func(*LLMClassifier)

// WithVocabulary supplies the menu vocabulary quoted in the phonetic
// interpretation instruction.
func WithVocabulary(terms []string) ClassifierOption {
	return func(c *LLMClassifier) {
		c.vocabulary = terms
	}
}

// WithPhoneticSimilarityPercent sets the similarity cutoff quoted in the
// phonetic instruction. Defaults to 70.
func WithPhoneticSimilarityPercent(pct int) ClassifierOption {
	return func(c *LLMClassifier) {
		c.phoneticPercent = pct
	}
}

// WithMaxTokens caps the completion length. Defaults to 512.
func WithMaxTokens(n int) ClassifierOption {
	return func(c *LLMClassifier) {
		c.maxTokens = n
	}
}

// NewLLMClassifier creates a Classifier backed by the given model provider.
func NewLLMClassifier(provider llm.Provider, opts ...ClassifierOption) (*LLMClassifier, error) {
	if provider == nil {
		return nil, fmt.Errorf("intent: provider must not be nil")
	}
	c := &LLMClassifier{
		provider:        provider,
		phoneticPercent: 70,
		maxTokens:       512,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Classify implements Classifier.
func (c *LLMClassifier) Classify(ctx context.Context, req Request) (*Classification, error) {
	if strings.TrimSpace(req.Text) == "" {
		return &Classification{Type: types.IntentUnknown}, nil
	}

	system := classifySystemPrompt
	if req.Phonetic {
		system += "\n\n" + c.phoneticInstruction()
	}
	if req.ConfidenceHint > 0 {
		system += fmt.Sprintf("\n\nThe transcript was recognized with confidence %.2f. Lower your own confidence for garbled transcripts.", req.ConfidenceHint)
	}

	messages := make([]types.Message, 0, len(req.Context)+1)
	messages = append(messages, req.Context...)
	messages = append(messages, types.Message{Role: "user", Content: req.Text})

	resp, err := c.provider.Complete(ctx, llm.CompletionRequest{
		SystemPrompt: system,
		Messages:     messages,
		MaxTokens:    c.maxTokens,
		JSONResponse: true,
	})
	if err != nil {
		return nil, fmt.Errorf("intent: classify %q: %w", req.Text, err)
	}

	return parseClassification(resp.Content)
}

// phoneticInstruction builds the sound-alike interpretation addendum,
// quoting the known vocabulary when one was configured.
func (c *LLMClassifier) phoneticInstruction() string {
	var b strings.Builder
	fmt.Fprintf(&b, "The transcript may contain recognition errors. Interpret any token whose pronunciation is at least %d%% similar to a known vocabulary term as that term before classifying.", c.phoneticPercent)
	if len(c.vocabulary) > 0 {
		b.WriteString(" Known vocabulary: ")
		b.WriteString(strings.Join(c.vocabulary, ", "))
		b.WriteString(".")
	}
	return b.String()
}

// classificationPayload mirrors the JSON contract with the model.
type classificationPayload struct {
	Intent     string  `json:"intent"`
	Confidence float64 `json:"confidence"`
	Entities   []struct {
		MenuItem     string `json:"menu_item"`
		Quantity     int    `json:"quantity"`
		Modification string `json:"modification"`
	} `json:"entities"`
}

// parseClassification decodes the model reply, tolerating code fences and
// surrounding prose from models without a native JSON mode.
func parseClassification(content string) (*Classification, error) {
	raw := extractJSONObject(content)
	if raw == "" {
		return nil, fmt.Errorf("intent: no JSON object in reply %q", content)
	}

	var payload classificationPayload
	if err := json.Unmarshal([]byte(raw), &payload); err != nil {
		return nil, fmt.Errorf("intent: decode reply: %w", err)
	}

	cls := &Classification{
		Type:       intentTypeFromString(payload.Intent),
		Confidence: payload.Confidence,
	}
	for _, e := range payload.Entities {
		qty := e.Quantity
		if qty <= 0 {
			qty = 1
		}
		cls.Entities = append(cls.Entities, types.Entity{
			MenuItem:     e.MenuItem,
			Quantity:     qty,
			Modification: e.Modification,
		})
	}
	return cls, nil
}

// extractJSONObject returns the outermost {...} span of s, or "".
func extractJSONObject(s string) string {
	start := strings.IndexByte(s, '{')
	end := strings.LastIndexByte(s, '}')
	if start < 0 || end <= start {
		return ""
	}
	return s[start : end+1]
}

// intentTypeFromString maps the wire intent name onto the typed enum.
// Unrecognized names map to unknown rather than erroring so a drifting
// model cannot crash the pipeline.
func intentTypeFromString(s string) types.IntentType {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "order":
		return types.IntentOrder
	case "modify":
		return types.IntentModify
	case "cancel":
		return types.IntentCancel
	case "payment", "pay":
		return types.IntentPayment
	case "inquiry":
		return types.IntentInquiry
	case "greeting":
		return types.IntentGreeting
	case "help":
		return types.IntentHelp
	default:
		return types.IntentUnknown
	}
}
