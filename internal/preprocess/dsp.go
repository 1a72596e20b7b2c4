package preprocess

import (
	"math"

	"gonum.org/v1/gonum/dsp/fourier"
)

// stft computes a short-time Fourier transform of samples using a Hann window
// of size fftSize advanced by hop. Each returned row holds fftSize/2+1
// complex bins. Frames are zero-padded at the tail so every sample is
// covered.
func stft(samples []float64, fftSize, hop int) [][]complex128 {
	if len(samples) == 0 {
		return nil
	}
	fft := fourier.NewFFT(fftSize)
	window := hannWindow(fftSize)
	frame := make([]float64, fftSize)

	nFrames := 1 + (len(samples)+hop-1)/hop
	out := make([][]complex128, 0, nFrames)
	for start := 0; start < len(samples); start += hop {
		for i := range frame {
			if start+i < len(samples) {
				frame[i] = samples[start+i] * window[i]
			} else {
				frame[i] = 0
			}
		}
		out = append(out, fft.Coefficients(nil, frame))
	}
	return out
}

// istft reconstructs a time-domain signal from STFT frames via overlap-add
// with the same Hann window, normalized by the summed squared window.
func istft(frames [][]complex128, fftSize, hop, length int) []float64 {
	if len(frames) == 0 {
		return nil
	}
	fft := fourier.NewFFT(fftSize)
	window := hannWindow(fftSize)

	total := (len(frames)-1)*hop + fftSize
	acc := make([]float64, total)
	norm := make([]float64, total)
	seq := make([]float64, fftSize)

	for f, bins := range frames {
		fft.Sequence(seq, bins)
		start := f * hop
		for i := range fftSize {
			// gonum's inverse is unnormalized; divide by fftSize.
			acc[start+i] += seq[i] / float64(fftSize) * window[i]
			norm[start+i] += window[i] * window[i]
		}
	}

	if length > total {
		length = total
	}
	out := make([]float64, length)
	for i := range out {
		if norm[i] > 1e-10 {
			out[i] = acc[i] / norm[i]
		}
	}
	return out
}

func hannWindow(n int) []float64 {
	w := make([]float64, n)
	for i := range w {
		w[i] = 0.5 * (1 - math.Cos(2*math.Pi*float64(i)/float64(n-1)))
	}
	return w
}

func hzToMel(hz float64) float64 {
	return 2595 * math.Log10(1+hz/700)
}

func melToHz(mel float64) float64 {
	return 700 * (math.Pow(10, mel/2595) - 1)
}

// melFilterbank builds nMels triangular filters spanning 0 Hz to sampleRate/2
// over fftSize/2+1 spectrum bins.
func melFilterbank(nMels, fftSize, sampleRate int) [][]float64 {
	nBins := fftSize/2 + 1
	maxMel := hzToMel(float64(sampleRate) / 2)

	// nMels+2 equally spaced mel points mapped back to bin indices.
	binOf := make([]float64, nMels+2)
	for i := range binOf {
		hz := melToHz(maxMel * float64(i) / float64(nMels+1))
		binOf[i] = hz * float64(fftSize) / float64(sampleRate)
	}

	filters := make([][]float64, nMels)
	for m := range nMels {
		filters[m] = make([]float64, nBins)
		left, center, right := binOf[m], binOf[m+1], binOf[m+2]
		for b := range nBins {
			fb := float64(b)
			switch {
			case fb > left && fb < center:
				filters[m][b] = (fb - left) / (center - left)
			case fb >= center && fb < right:
				filters[m][b] = (right - fb) / (right - center)
			}
		}
	}
	return filters
}

func magnitudes(frames [][]complex128) [][]float64 {
	out := make([][]float64, len(frames))
	for i, bins := range frames {
		row := make([]float64, len(bins))
		for j, c := range bins {
			row[j] = cmplxAbs(c)
		}
		out[i] = row
	}
	return out
}

func cmplxAbs(c complex128) float64 {
	return math.Hypot(real(c), imag(c))
}
