package preprocess

import (
	"context"
	"math"
	"testing"

	"github.com/voxkiosk/voxkiosk/pkg/provider/speaker/mock"
)

func newTestProcessor(t *testing.T, opts ...Option) *Processor {
	t.Helper()
	p, err := NewProcessor(DefaultConfig(), opts...)
	if err != nil {
		t.Fatalf("NewProcessor: %v", err)
	}
	return p
}

// embeddingWithSimilarity returns a unit vector whose cosine similarity to
// the reference [1, 0] equals sim.
func embeddingWithSimilarity(sim float64) []float32 {
	return []float32{float32(sim), float32(math.Sqrt(1 - sim*sim))}
}

func tonePCM(n int, freq float64, rate int) []byte {
	pcm := make([]byte, n*2)
	for i := range n {
		s := int16(8000 * math.Sin(2*math.Pi*freq*float64(i)/float64(rate)))
		pcm[i*2] = byte(s)
		pcm[i*2+1] = byte(s >> 8)
	}
	return pcm
}

func TestIsolate_AcceptsStreamAboveThreshold(t *testing.T) {
	t.Parallel()
	streamA := tonePCM(16000, 300, 16000)
	streamB := tonePCM(16000, 900, 16000)
	sep := &mock.Separator{Streams: [][]byte{streamA, streamB}}
	sims := []float64{0.3, 0.92}
	call := 0
	emb := &mock.Embedder{
		Dims: 2,
		EmbedFunc: func(pcm []byte, sampleRate int) ([]float32, error) {
			v := embeddingWithSimilarity(sims[call])
			call++
			return v, nil
		},
	}
	p := newTestProcessor(t, WithSpeakerModels(sep, emb, []float32{1, 0}))

	got, degraded := p.isolate(context.Background(), tonePCM(16000, 440, 16000), 16000)
	if degraded {
		t.Fatal("expected model-based isolation, got degraded path")
	}
	if &got[0] != &streamB[0] {
		t.Error("expected the higher-similarity stream to be selected")
	}
}

func TestIsolate_SimilarityBelowThresholdFallsBack(t *testing.T) {
	t.Parallel()
	// Best separated stream scores 0.42, below the 0.5 threshold, so the
	// energy heuristic must be used instead of the separated stream.
	sep := &mock.Separator{Streams: [][]byte{tonePCM(16000, 300, 16000)}}
	emb := &mock.Embedder{Dims: 2, EmbedResult: embeddingWithSimilarity(0.42)}
	p := newTestProcessor(t, WithSpeakerModels(sep, emb, []float32{1, 0}))

	input := tonePCM(32000, 440, 16000)
	got, degraded := p.isolate(context.Background(), input, 16000)
	if !degraded {
		t.Fatal("expected degradation to energy selection")
	}
	want := p.energySelect(input, 16000)
	if len(got) != len(want) {
		t.Errorf("fallback output length: got %d, want %d", len(got), len(want))
	}
}

func TestEnergySelect_KeepsHighestEnergyWindowsInOrder(t *testing.T) {
	t.Parallel()
	p := newTestProcessor(t)
	rate := 16000
	windowSamples := rate / 10 // 100ms windows

	// 10 windows: loud at indices 1,3,4,6,8,9; quiet elsewhere.
	loud := map[int]bool{1: true, 3: true, 4: true, 6: true, 8: true, 9: true}
	pcm := make([]byte, 0, 10*windowSamples*2)
	for w := range 10 {
		amp := int16(50)
		if loud[w] {
			amp = 20000
		}
		for range windowSamples {
			pcm = append(pcm, byte(amp), byte(amp>>8))
		}
	}

	got := p.energySelect(pcm, rate)
	// 60% of 10 windows = 6 windows.
	if want := 6 * windowSamples * 2; len(got) != want {
		t.Fatalf("output length: got %d, want %d", len(got), want)
	}
	// Survivors must be the loud windows in temporal order: the boundary
	// between windows 4 and 6 shows as two adjacent loud samples, never a
	// quiet one.
	for i := 0; i+1 < len(got); i += 2 {
		s := int16(got[i]) | int16(got[i+1])<<8
		if s != 20000 {
			t.Fatalf("sample %d: got %d, want 20000 (only loud windows kept)", i/2, s)
		}
	}
}

func TestEnergySelect_ShortInputUnchanged(t *testing.T) {
	t.Parallel()
	p := newTestProcessor(t)
	pcm := tonePCM(100, 440, 16000) // shorter than one window
	if got := p.energySelect(pcm, 16000); len(got) != len(pcm) {
		t.Errorf("short input: got %d bytes, want %d unchanged", len(got), len(pcm))
	}
}

func TestCosineSimilarity(t *testing.T) {
	t.Parallel()
	cases := []struct {
		name string
		a, b []float32
		want float64
	}{
		{"identical", []float32{1, 0}, []float32{1, 0}, 1},
		{"orthogonal", []float32{1, 0}, []float32{0, 1}, 0},
		{"opposite", []float32{1, 0}, []float32{-1, 0}, -1},
		{"length mismatch", []float32{1}, []float32{1, 0}, -1},
		{"zero vector", []float32{0, 0}, []float32{1, 0}, -1},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := cosineSimilarity(tc.a, tc.b); math.Abs(got-tc.want) > 1e-9 {
				t.Errorf("cosineSimilarity(%v, %v): got %v, want %v", tc.a, tc.b, got, tc.want)
			}
		})
	}
}

func TestSTFTISTFTRoundTrip(t *testing.T) {
	t.Parallel()
	rate := 16000
	n := 4000
	samples := make([]float64, n)
	for i := range samples {
		samples[i] = 0.5 * math.Sin(2*math.Pi*440*float64(i)/float64(rate))
	}
	frames := stft(samples, 400, 160)
	back := istft(frames, 400, 160, n)
	if len(back) != n {
		t.Fatalf("length: got %d, want %d", len(back), n)
	}
	// Ignore window-edge samples where overlap-add coverage is partial.
	var maxErr float64
	for i := 400; i < n-400; i++ {
		if e := math.Abs(back[i] - samples[i]); e > maxErr {
			maxErr = e
		}
	}
	if maxErr > 0.01 {
		t.Errorf("round-trip error: got %v, want < 0.01", maxErr)
	}
}

func TestDenoise_ShortInputPassesThrough(t *testing.T) {
	t.Parallel()
	p := newTestProcessor(t)
	samples := []float64{0.1, 0.2, 0.3}
	got := p.denoise(samples)
	if len(got) != len(samples) {
		t.Fatalf("length: got %d, want %d", len(got), len(samples))
	}
	for i := range samples {
		if got[i] != samples[i] {
			t.Errorf("sample %d modified on pass-through", i)
		}
	}
}

func TestDenoise_SuppressesStationaryNoise(t *testing.T) {
	t.Parallel()
	p := newTestProcessor(t)
	rate := 16000
	n := rate // 1s
	samples := make([]float64, n)
	// Quiet broadband-ish noise everywhere, tone burst in the middle third.
	for i := range samples {
		samples[i] = 0.01 * math.Sin(2*math.Pi*3731*float64(i)/float64(rate))
		if i > n/3 && i < 2*n/3 {
			samples[i] += 0.5 * math.Sin(2*math.Pi*440*float64(i)/float64(rate))
		}
	}
	got := p.denoise(samples)

	noiseEnergyBefore := energyOf(samples[:n/4])
	noiseEnergyAfter := energyOf(got[:n/4])
	if noiseEnergyAfter >= noiseEnergyBefore {
		t.Errorf("noise-only region energy: got %v, want < %v", noiseEnergyAfter, noiseEnergyBefore)
	}
	speechEnergyAfter := energyOf(got[n/3+800 : 2*n/3-800])
	if speechEnergyAfter < 0.25*energyOf(samples[n/3+800:2*n/3-800]) {
		t.Errorf("speech region attenuated too much: %v", speechEnergyAfter)
	}
}

func energyOf(s []float64) float64 {
	var e float64
	for _, v := range s {
		e += v * v
	}
	return e
}

func TestMelFilterbankShape(t *testing.T) {
	t.Parallel()
	fb := melFilterbank(80, 400, 16000)
	if len(fb) != 80 {
		t.Fatalf("bands: got %d, want 80", len(fb))
	}
	for b, filter := range fb {
		if len(filter) != 201 {
			t.Fatalf("band %d bins: got %d, want 201", b, len(filter))
		}
		var sum float64
		for _, w := range filter {
			if w < 0 {
				t.Fatalf("band %d: negative filter weight", b)
			}
			sum += w
		}
		if sum == 0 {
			t.Errorf("band %d: empty filter", b)
		}
	}
}
