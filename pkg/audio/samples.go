package audio

import "math"

// Float64Samples decodes 16-bit LE mono PCM into float64 samples in [-1, 1).
func Float64Samples(pcm []byte) []float64 {
	n := len(pcm) / 2
	out := make([]float64, n)
	for i := range n {
		s := int16(pcm[i*2]) | int16(pcm[i*2+1])<<8
		out[i] = float64(s) / 32768.0
	}
	return out
}

// PCMFromFloat64 encodes float64 samples back to 16-bit LE mono PCM,
// clamping to the int16 range.
func PCMFromFloat64(samples []float64) []byte {
	out := make([]byte, len(samples)*2)
	for i, f := range samples {
		v := f * 32768.0
		if v > 32767 {
			v = 32767
		} else if v < -32768 {
			v = -32768
		}
		s := int16(v)
		out[i*2] = byte(s)
		out[i*2+1] = byte(s >> 8)
	}
	return out
}

// RMS returns the root-mean-square amplitude of 16-bit LE mono PCM,
// normalized to [0, 1]. Empty input yields 0.
func RMS(pcm []byte) float64 {
	n := len(pcm) / 2
	if n == 0 {
		return 0
	}
	var sum float64
	for i := range n {
		s := float64(int16(pcm[i*2]) | int16(pcm[i*2+1])<<8)
		sum += s * s
	}
	return math.Sqrt(sum/float64(n)) / 32768.0
}
