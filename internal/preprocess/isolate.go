package preprocess

import (
	"context"
	"math"
	"sort"

	"github.com/voxkiosk/voxkiosk/pkg/audio"
)

// isolate extracts the primary speaker's signal from a possibly mixed
// recording. It first tries model-based separation scored against the
// registered reference embedding; on any failure, or when no separated stream
// reaches the similarity threshold, it degrades to the energy-window
// heuristic. The boolean result reports whether degradation happened.
func (p *Processor) isolate(ctx context.Context, pcm []byte, sampleRate int) ([]byte, bool) {
	if p.separator == nil || p.embedder == nil || len(p.reference) == 0 {
		return p.energySelect(pcm, sampleRate), true
	}

	streams, err := p.separator.Separate(ctx, pcm, sampleRate)
	if err != nil {
		p.logger.Warn("speaker separation unavailable, using energy selection", "error", err)
		return p.energySelect(pcm, sampleRate), true
	}

	best := -1
	bestSim := math.Inf(-1)
	for i, stream := range streams {
		emb, err := p.embedder.Embed(ctx, stream, sampleRate)
		if err != nil {
			p.logger.Warn("speaker embedding failed for stream", "stream", i, "error", err)
			continue
		}
		if sim := cosineSimilarity(emb, p.reference); sim > bestSim {
			best, bestSim = i, sim
		}
	}

	if best < 0 || bestSim < p.cfg.SpeakerSimilarityThreshold {
		p.logger.Warn("no separated stream matched primary speaker, using energy selection",
			"best_similarity", bestSim, "threshold", p.cfg.SpeakerSimilarityThreshold)
		return p.energySelect(pcm, sampleRate), true
	}

	p.logger.Debug("primary speaker isolated", "stream", best, "similarity", bestSim)
	return streams[best], false
}

// energySelect is the model-free isolation heuristic: split the signal into
// fixed windows, rank them by RMS energy, keep the top fraction and
// concatenate the survivors in their original temporal order.
func (p *Processor) energySelect(pcm []byte, sampleRate int) []byte {
	windowBytes := sampleRate * int(p.cfg.EnergyWindow.Milliseconds()) / 1000 * 2
	if windowBytes <= 0 || len(pcm) <= windowBytes {
		return pcm
	}

	type window struct {
		index  int
		energy float64
	}
	var windows []window
	for i, start := 0, 0; start < len(pcm); i, start = i+1, start+windowBytes {
		end := min(start+windowBytes, len(pcm))
		windows = append(windows, window{index: i, energy: audio.RMS(pcm[start:end])})
	}

	keep := int(math.Ceil(float64(len(windows)) * p.cfg.EnergyKeepRatio))
	if keep < 1 {
		keep = 1
	}
	if keep >= len(windows) {
		return pcm
	}

	sort.Slice(windows, func(a, b int) bool { return windows[a].energy > windows[b].energy })
	kept := windows[:keep]
	sort.Slice(kept, func(a, b int) bool { return kept[a].index < kept[b].index })

	out := make([]byte, 0, keep*windowBytes)
	for _, w := range kept {
		start := w.index * windowBytes
		end := min(start+windowBytes, len(pcm))
		out = append(out, pcm[start:end]...)
	}
	return out
}

func cosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return -1
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return -1
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}
