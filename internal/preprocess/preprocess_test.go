package preprocess_test

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/voxkiosk/voxkiosk/internal/preprocess"
	"github.com/voxkiosk/voxkiosk/pkg/audio"
	"github.com/voxkiosk/voxkiosk/pkg/provider/speaker/mock"
	"github.com/voxkiosk/voxkiosk/pkg/types"
)

// sineUtterance builds a mono utterance of the given duration at rate Hz
// carrying a 440 Hz tone.
func sineUtterance(d time.Duration, rate int) *audio.Utterance {
	n := int(float64(rate) * d.Seconds())
	pcm := make([]byte, n*2)
	for i := range n {
		s := int16(8000 * math.Sin(2*math.Pi*440*float64(i)/float64(rate)))
		pcm[i*2] = byte(s)
		pcm[i*2+1] = byte(s >> 8)
	}
	u := &audio.Utterance{}
	u.Append(audio.Frame{Data: pcm, SampleRate: rate})
	return u
}

func TestProcess_OutputShape(t *testing.T) {
	t.Parallel()
	p, err := preprocess.NewProcessor(preprocess.DefaultConfig())
	if err != nil {
		t.Fatalf("NewProcessor: %v", err)
	}
	feats, err := p.Process(context.Background(), sineUtterance(2*time.Second, 16000))
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if len(feats.Mel) != 80 {
		t.Fatalf("mel bands: got %d, want 80", len(feats.Mel))
	}
	for b, row := range feats.Mel {
		if len(row) != 3000 {
			t.Fatalf("band %d frames: got %d, want 3000", b, len(row))
		}
		for f, v := range row {
			if math.IsNaN(v) || math.IsInf(v, 0) {
				t.Fatalf("band %d frame %d: non-finite value %v", b, f, v)
			}
		}
	}
	if feats.SampleRate != 16000 {
		t.Errorf("feature sample rate: got %d, want 16000", feats.SampleRate)
	}
}

func TestProcess_ResamplesInput(t *testing.T) {
	t.Parallel()
	p, err := preprocess.NewProcessor(preprocess.DefaultConfig())
	if err != nil {
		t.Fatalf("NewProcessor: %v", err)
	}
	feats, err := p.Process(context.Background(), sineUtterance(time.Second, 44100))
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if feats.SampleRate != 16000 {
		t.Errorf("feature sample rate: got %d, want 16000", feats.SampleRate)
	}
}

func TestProcess_RejectsInvalidInput(t *testing.T) {
	t.Parallel()
	p, err := preprocess.NewProcessor(preprocess.DefaultConfig())
	if err != nil {
		t.Fatalf("NewProcessor: %v", err)
	}
	cases := []struct {
		name string
		u    *audio.Utterance
	}{
		{"nil utterance", nil},
		{"empty utterance", &audio.Utterance{}},
		{"over 30s", sineUtterance(31*time.Second, 16000)},
		{"below 8kHz", sineUtterance(time.Second, 4000)},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := p.Process(context.Background(), tc.u)
			if !errors.Is(err, types.ErrInvalidFormat) {
				t.Errorf("Process: got error %v, want ErrInvalidFormat", err)
			}
		})
	}
}

func TestProcess_SeparationFailureDegrades(t *testing.T) {
	t.Parallel()
	sep := &mock.Separator{SeparateErr: errors.New("model not loaded")}
	emb := &mock.Embedder{Dims: 2}
	p, err := preprocess.NewProcessor(preprocess.DefaultConfig(),
		preprocess.WithSpeakerModels(sep, emb, []float32{1, 0}))
	if err != nil {
		t.Fatalf("NewProcessor: %v", err)
	}
	// Degradation must not surface as an error.
	if _, err := p.Process(context.Background(), sineUtterance(2*time.Second, 16000)); err != nil {
		t.Fatalf("Process: %v", err)
	}
	if sep.SeparateCalls != 1 {
		t.Errorf("Separate calls: got %d, want 1", sep.SeparateCalls)
	}
	if emb.EmbedCalls != 0 {
		t.Errorf("Embed calls after separation failure: got %d, want 0", emb.EmbedCalls)
	}
}
