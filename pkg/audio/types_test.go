package audio_test

import (
	"testing"
	"time"

	"github.com/voxkiosk/voxkiosk/pkg/audio"
)

func TestFrameDuration(t *testing.T) {
	f := audio.Frame{
		Data:       make([]byte, 640), // 320 samples
		SampleRate: 16000,
	}
	if got := f.Duration(); got != 20*time.Millisecond {
		t.Errorf("Duration: got %v, want 20ms", got)
	}
	f.SampleRate = 0
	if got := f.Duration(); got != 0 {
		t.Errorf("Duration with zero rate: got %v, want 0", got)
	}
}

func TestUtteranceAppendAndPCM(t *testing.T) {
	var u audio.Utterance
	u.Append(audio.Frame{
		Data:       samplesToBytes([]int16{1, 2}),
		SampleRate: 16000,
		Timestamp:  100 * time.Millisecond,
	})
	u.Append(audio.Frame{
		Data:       samplesToBytes([]int16{3, 4}),
		SampleRate: 16000,
		Timestamp:  120 * time.Millisecond,
	})

	if u.SampleRate != 16000 {
		t.Errorf("SampleRate: got %d, want 16000", u.SampleRate)
	}
	if u.Start != 100*time.Millisecond {
		t.Errorf("Start: got %v, want 100ms", u.Start)
	}
	got := bytesToSamples(u.PCM())
	want := []int16{1, 2, 3, 4}
	if len(got) != len(want) {
		t.Fatalf("PCM length: got %d, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("sample %d: got %d, want %d", i, got[i], want[i])
		}
	}
	// 4 samples at 16 kHz = 250µs.
	if got := u.Duration(); got != 250*time.Microsecond {
		t.Errorf("Duration: got %v, want 250µs", got)
	}
}

func TestUtteranceEmpty(t *testing.T) {
	var u audio.Utterance
	if got := u.Duration(); got != 0 {
		t.Errorf("Duration: got %v, want 0", got)
	}
	if pcm := u.PCM(); len(pcm) != 0 {
		t.Errorf("PCM: got %d bytes, want 0", len(pcm))
	}
}
