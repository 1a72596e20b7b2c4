// Package audio provides the shared audio primitives for the voxkiosk
// pipeline: PCM frame types, utterance buffers, format conversion, and the
// bounded frame queue that connects capture sources to the capture consumer.
//
// All PCM data is 16-bit signed little-endian. The capture path is mono;
// stereo sources are downmixed at the ingestion boundary.
package audio

import "time"

// Frame is a single fixed-duration slice of PCM samples produced by a capture
// source. Frames carry a monotonically increasing sequence index so consumers
// can detect drops introduced by queue backpressure.
//
// A Frame is owned by the frame queue from Push until Pop; consumers must not
// retain the Data slice beyond the utterance it is appended to.
type Frame struct {
	// Data is little-endian int16 mono PCM.
	Data []byte

	// SampleRate in Hz (e.g., 16000, 48000).
	SampleRate int

	// Seq is the monotonic sequence index assigned by the capture source.
	Seq uint64

	// Timestamp marks when this frame was captured, relative to stream start.
	Timestamp time.Duration
}

// Duration returns the play time of the frame at its sample rate.
func (f Frame) Duration() time.Duration {
	if f.SampleRate <= 0 {
		return 0
	}
	samples := len(f.Data) / 2
	return time.Duration(samples) * time.Second / time.Duration(f.SampleRate)
}

// Utterance is an ordered sequence of frames belonging to one candidate
// utterance. It is mutable only by the capture state machine; once handed to
// the preprocessor it must be treated as immutable.
type Utterance struct {
	// Frames in submission order. All frames share a sample rate.
	Frames []Frame

	// SampleRate of every frame in the utterance.
	SampleRate int

	// Start is the capture timestamp of the first frame.
	Start time.Duration
}

// Append adds a frame to the utterance. The first appended frame fixes the
// utterance sample rate and start timestamp.
func (u *Utterance) Append(f Frame) {
	if len(u.Frames) == 0 {
		u.SampleRate = f.SampleRate
		u.Start = f.Timestamp
	}
	u.Frames = append(u.Frames, f)
}

// Duration returns the total play time of all frames.
func (u *Utterance) Duration() time.Duration {
	var d time.Duration
	for _, f := range u.Frames {
		d += f.Duration()
	}
	return d
}

// PCM concatenates all frame data into one contiguous PCM buffer.
func (u *Utterance) PCM() []byte {
	var n int
	for _, f := range u.Frames {
		n += len(f.Data)
	}
	out := make([]byte, 0, n)
	for _, f := range u.Frames {
		out = append(out, f.Data...)
	}
	return out
}
