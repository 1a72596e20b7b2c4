package speech

import (
	"math"
	"unicode/utf8"

	"github.com/voxkiosk/voxkiosk/pkg/types"
)

// LowConfidenceThreshold is the confidence below which a recognition result is
// flagged as advisory. Flagged results still flow downstream; consumers decide
// whether to ask the customer to repeat.
const LowConfidenceThreshold = 0.5

// DeriveConfidence aggregates per-segment average log-probabilities into a
// single confidence in [0, 1]. Each segment contributes exp(avgLogProb),
// clamped to [0, 1], weighted by its text length in runes so that long
// segments dominate short fillers. Recognizers that report no segments (or
// only empty ones) yield a neutral 0.5 rather than claiming certainty either
// way.
func DeriveConfidence(segments []types.Segment) float64 {
	var weighted, total float64
	for _, seg := range segments {
		n := float64(utf8.RuneCountInString(seg.Text))
		if n == 0 {
			continue
		}
		p := math.Exp(seg.AvgLogProb)
		if p > 1 {
			p = 1
		} else if p < 0 || math.IsNaN(p) {
			p = 0
		}
		weighted += p * n
		total += n
	}
	if total == 0 {
		return 0.5
	}
	return weighted / total
}
