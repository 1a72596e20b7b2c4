// Package types defines the shared types used across all voxkiosk packages.
//
// These types form the lingua franca between providers, the capture pipeline,
// and the dialogue layer. They are intentionally minimal — each package defines
// its own domain types, but cross-cutting data structures live here to avoid
// circular imports.
package types

import "time"

// Features is the fixed-shape recognizer input produced by the preprocessor:
// a log-mel tensor plus the cleaned PCM it was computed from. Produced once
// per utterance and consumed exactly once. Backends use whichever
// representation fits: tensor-native recognizers read Mel, audio-native ones
// read PCM.
type Features struct {
	// Mel is indexed [band][frame]; shape is fixed by the preprocessor
	// configuration (80×3000 for a whisper-family recognizer).
	Mel [][]float64

	// PCM is the isolated, denoised, resampled 16-bit LE mono audio.
	PCM []byte

	// SampleRate is the effective rate of PCM in Hz.
	SampleRate int
}

// Duration returns the length of the cleaned audio.
func (f *Features) Duration() time.Duration {
	if f.SampleRate <= 0 {
		return 0
	}
	samples := len(f.PCM) / 2
	return time.Duration(samples) * time.Second / time.Duration(f.SampleRate)
}

// Segment is one recognizer-reported span of transcribed text together with
// the average log-probability of its tokens. Confidence is always derived
// from AvgLogProb downstream; providers must not pre-bake a confidence here.
type Segment struct {
	// Text is the transcribed content of the segment.
	Text string

	// AvgLogProb is the mean token log-probability reported by the recognizer.
	// Always ≤ 0 for a well-behaved backend.
	AvgLogProb float64
}

// RecognitionResult is the outcome of transcribing one utterance.
type RecognitionResult struct {
	// Text is the full transcribed utterance.
	Text string

	// Segments are the per-span recognizer outputs Text was assembled from.
	Segments []Segment

	// Confidence is the derived scalar in [0, 1]. It is recomputed from
	// Segments by the confidence gate, never trusted from the provider.
	Confidence float64

	// LowConfidence flags a derived confidence below 0.5. Advisory only; a
	// flagged result still flows through the pipeline.
	LowConfidence bool

	// Latency is how long the recognizer call took.
	Latency time.Duration
}

// IntentType enumerates the actions a customer utterance can resolve to.
type IntentType int

const (
	// IntentUnknown is the fallback when no classification clears its
	// threshold. Always accepted.
	IntentUnknown IntentType = iota

	// IntentOrder adds items to the current order.
	IntentOrder

	// IntentModify changes items already in the order.
	IntentModify

	// IntentCancel removes items or voids the order.
	IntentCancel

	// IntentPayment asks to pay for the current order.
	IntentPayment

	// IntentInquiry asks about the menu, prices or the current order.
	IntentInquiry

	// IntentGreeting is small talk that opens an interaction.
	IntentGreeting

	// IntentHelp asks how to use the kiosk.
	IntentHelp
)

func (t IntentType) String() string {
	switch t {
	case IntentOrder:
		return "order"
	case IntentModify:
		return "modify"
	case IntentCancel:
		return "cancel"
	case IntentPayment:
		return "payment"
	case IntentInquiry:
		return "inquiry"
	case IntentGreeting:
		return "greeting"
	case IntentHelp:
		return "help"
	default:
		return "unknown"
	}
}

// Entity is a structured reference extracted from an utterance: a menu item,
// a quantity or a modification request.
type Entity struct {
	// MenuItem is the canonical menu item name, empty if the entity does not
	// reference one.
	MenuItem string

	// Quantity is the requested count; 0 means unspecified.
	Quantity int

	// Modification is a free-form change request ("no pickles", "large").
	Modification string
}

// Intent is a typed classification of one utterance. It is ephemeral: it
// exists only for the duration of one resolution cycle and is never stored.
type Intent struct {
	// Type is the resolved action class.
	Type IntentType

	// Confidence in [0, 1] as enforced by the resolver's thresholds.
	Confidence float64

	// Entities are the structured references extracted from the text.
	Entities []Entity

	// Clarify is set when the resolver routed to Unknown and the session
	// should ask the customer to repeat or rephrase.
	Clarify bool
}

// ConfirmationKind identifies what a pending confirmation gates.
type ConfirmationKind int

const (
	// QuantityConfirm resolves an ambiguous item quantity.
	QuantityConfirm ConfirmationKind = iota

	// PaymentConfirm gates execution of a payment.
	PaymentConfirm

	// Clarification asks the customer to restate an unclear request.
	Clarification
)

func (k ConfirmationKind) String() string {
	switch k {
	case QuantityConfirm:
		return "quantity"
	case PaymentConfirm:
		return "payment"
	case Clarification:
		return "clarification"
	default:
		return "confirmation"
	}
}

// Message represents a single message in an LLM conversation history.
type Message struct {
	// Role is one of "system", "user", or "assistant".
	Role string

	// Content is the text content of the message.
	Content string
}
