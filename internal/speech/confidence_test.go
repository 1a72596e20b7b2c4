package speech_test

import (
	"math"
	"testing"

	"github.com/voxkiosk/voxkiosk/internal/speech"
	"github.com/voxkiosk/voxkiosk/pkg/types"
)

func TestDeriveConfidence(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name     string
		segments []types.Segment
		want     float64
	}{
		{
			name:     "no segments yields neutral score",
			segments: nil,
			want:     0.5,
		},
		{
			name: "only empty text yields neutral score",
			segments: []types.Segment{
				{Text: "", AvgLogProb: -0.1},
				{Text: "", AvgLogProb: -2},
			},
			want: 0.5,
		},
		{
			name: "single segment recovers probability",
			segments: []types.Segment{
				{Text: "빅맥 세트 하나", AvgLogProb: math.Log(0.9)},
			},
			want: 0.9,
		},
		{
			name: "positive log prob clamps to one",
			segments: []types.Segment{
				{Text: "콜라", AvgLogProb: 0.3},
			},
			want: 1,
		},
		{
			name: "weighting follows rune count",
			segments: []types.Segment{
				// 6 runes at 0.9 and 2 runes at 0.3: (0.9*6+0.3*2)/8.
				{Text: "감자튀김 추가", AvgLogProb: math.Log(0.9)},
				{Text: "네?", AvgLogProb: math.Log(0.3)},
			},
			want: 0.75,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got := speech.DeriveConfidence(tt.segments)
			if math.Abs(got-tt.want) > 1e-9 {
				t.Fatalf("DeriveConfidence(%v): got %v, want %v", tt.segments, got, tt.want)
			}
		})
	}
}

func TestDeriveConfidenceIsIdempotent(t *testing.T) {
	t.Parallel()
	segments := []types.Segment{
		{Text: "빅맥 하나 주세요", AvgLogProb: -0.25},
		{Text: "콜라도요", AvgLogProb: -1.1},
	}
	first := speech.DeriveConfidence(segments)
	second := speech.DeriveConfidence(segments)
	if first != second {
		t.Fatalf("repeated derivation diverged: %v then %v", first, second)
	}
}

func TestDeriveConfidenceMonotonicInLogProbs(t *testing.T) {
	t.Parallel()
	base := []types.Segment{
		{Text: "치즈버거 두 개", AvgLogProb: -1.5},
		{Text: "포장이요", AvgLogProb: -0.8},
	}
	better := []types.Segment{
		{Text: base[0].Text, AvgLogProb: -0.4},
		{Text: base[1].Text, AvgLogProb: -0.2},
	}
	low, high := speech.DeriveConfidence(base), speech.DeriveConfidence(better)
	if high <= low {
		t.Fatalf("confidence did not increase with log probs: %v -> %v", low, high)
	}
	if low < 0 || low > 1 || high < 0 || high > 1 {
		t.Fatalf("confidence out of range: %v, %v", low, high)
	}
}
