package intent_test

import (
	"context"
	"errors"
	"testing"

	"github.com/voxkiosk/voxkiosk/internal/intent"
	"github.com/voxkiosk/voxkiosk/pkg/types"
)

// scriptedClassifier returns canned classifications in order and records
// every request it saw.
type scriptedClassifier struct {
	results []*intent.Classification
	err     error
	calls   []intent.Request
}

func (s *scriptedClassifier) Classify(_ context.Context, req intent.Request) (*intent.Classification, error) {
	s.calls = append(s.calls, req)
	if s.err != nil {
		return nil, s.err
	}
	if len(s.results) == 0 {
		return &intent.Classification{Type: types.IntentUnknown}, nil
	}
	next := s.results[0]
	s.results = s.results[1:]
	return next, nil
}

func TestResolveAcceptsConfidentOrder(t *testing.T) {
	t.Parallel()
	classifier := &scriptedClassifier{
		results: []*intent.Classification{
			{
				Type:       types.IntentOrder,
				Confidence: 0.82,
				Entities:   []types.Entity{{MenuItem: "빅맥 세트", Quantity: 1}},
			},
		},
	}
	r, err := intent.NewResolver(classifier)
	if err != nil {
		t.Fatalf("NewResolver: %v", err)
	}

	got, err := r.Resolve(t.Context(), "빅맥 세트 하나 주세요", 0.82, nil)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if got.Type != types.IntentOrder {
		t.Fatalf("Type: got %v, want %v", got.Type, types.IntentOrder)
	}
	if got.Confidence != 0.82 {
		t.Fatalf("Confidence: got %v", got.Confidence)
	}
	if len(got.Entities) != 1 || got.Entities[0].MenuItem != "빅맥 세트" {
		t.Fatalf("Entities: got %v", got.Entities)
	}
	if len(classifier.calls) != 1 {
		t.Fatalf("classifier calls: got %d, want 1", len(classifier.calls))
	}
	if classifier.calls[0].Phonetic {
		t.Fatal("first pass must not be phonetic")
	}
}

func TestResolveAdoptsPhoneticSecondPass(t *testing.T) {
	t.Parallel()
	classifier := &scriptedClassifier{
		results: []*intent.Classification{
			{Type: types.IntentOrder, Confidence: 0.45},
			{Type: types.IntentOrder, Confidence: 0.91, Entities: []types.Entity{{MenuItem: "감자튀김", Quantity: 2}}},
		},
	}
	r, err := intent.NewResolver(classifier)
	if err != nil {
		t.Fatalf("NewResolver: %v", err)
	}

	got, err := r.Resolve(t.Context(), "감자 튀김 두 개요", 0.6, nil)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if got.Type != types.IntentOrder || got.Confidence != 0.91 {
		t.Fatalf("got %+v, want order at 0.91", got)
	}
	if len(classifier.calls) != 2 {
		t.Fatalf("classifier calls: got %d, want 2", len(classifier.calls))
	}
	if !classifier.calls[1].Phonetic {
		t.Fatal("second pass must be phonetic")
	}
}

func TestResolveNeverAcceptsWeakCancel(t *testing.T) {
	t.Parallel()
	// The collaborator reports a higher confidence on the second pass, but
	// both stay under the cancel bar. The resolver must ask for
	// clarification rather than cancel anything.
	classifier := &scriptedClassifier{
		results: []*intent.Classification{
			{Type: types.IntentCancel, Confidence: 0.7},
			{Type: types.IntentCancel, Confidence: 0.88},
		},
	}
	r, err := intent.NewResolver(classifier)
	if err != nil {
		t.Fatalf("NewResolver: %v", err)
	}

	got, err := r.Resolve(t.Context(), "주문 치소해 주세요", 0.5, nil)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if got.Type != types.IntentUnknown {
		t.Fatalf("Type: got %v, want unknown", got.Type)
	}
	if !got.Clarify {
		t.Fatal("Clarify not set on unresolved intent")
	}
}

func TestResolveClampsSelfReportedConfidence(t *testing.T) {
	t.Parallel()
	classifier := &scriptedClassifier{
		results: []*intent.Classification{
			{Type: types.IntentCancel, Confidence: 3.5},
		},
	}
	r, err := intent.NewResolver(classifier)
	if err != nil {
		t.Fatalf("NewResolver: %v", err)
	}

	got, err := r.Resolve(t.Context(), "주문 취소해 주세요", 0.9, nil)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if got.Confidence != 1 {
		t.Fatalf("Confidence: got %v, want clamped 1", got.Confidence)
	}
}

func TestResolveCustomThresholds(t *testing.T) {
	t.Parallel()
	classifier := &scriptedClassifier{
		results: []*intent.Classification{
			{Type: types.IntentInquiry, Confidence: 0.55},
			{Type: types.IntentInquiry, Confidence: 0.55},
		},
	}
	r, err := intent.NewResolver(classifier, intent.WithThresholds(intent.Thresholds{
		types.IntentInquiry: 0.9,
	}))
	if err != nil {
		t.Fatalf("NewResolver: %v", err)
	}

	got, err := r.Resolve(t.Context(), "이거 얼마예요", 0.8, nil)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if got.Type != types.IntentUnknown || !got.Clarify {
		t.Fatalf("got %+v, want unknown with clarification", got)
	}
}

func TestResolveMapsClassifierFailures(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name    string
		err     error
		wantErr error
	}{
		{"timeout", context.DeadlineExceeded, types.ErrCollaboratorTimeout},
		{"unavailable", errors.New("connection refused"), types.ErrCollaboratorUnavailable},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			r, err := intent.NewResolver(&scriptedClassifier{err: tt.err})
			if err != nil {
				t.Fatalf("NewResolver: %v", err)
			}
			if _, err := r.Resolve(t.Context(), "빅맥 하나", 0.8, nil); !errors.Is(err, tt.wantErr) {
				t.Fatalf("Resolve error: got %v, want %v", err, tt.wantErr)
			}
		})
	}
}
