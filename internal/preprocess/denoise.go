package preprocess

import (
	"math"
	"sort"
)

// maskFloor is the minimum suppression mask value. Keeping a fraction of
// every bin avoids musical-noise artifacts from hard gating.
const maskFloor = 0.1

// noiseProfileFraction is the share of lowest-energy STFT frames used to
// estimate the noise magnitude profile.
const noiseProfileFraction = 0.2

// denoise applies spectral gating to float64 samples: a noise magnitude
// profile is estimated from the quietest frames, a soft suppression mask
// scaled by the configured reduction factor is applied to the magnitude
// spectrum, and the signal is rebuilt preserving the original phase. Any
// condition that prevents gating returns the input unchanged so the stage
// degrades instead of aborting.
func (p *Processor) denoise(samples []float64) []float64 {
	frames := stft(samples, p.cfg.FFTSize, p.cfg.HopSize)
	if len(frames) < 4 {
		p.logger.Warn("utterance too short for spectral gating, passing through",
			"frames", len(frames))
		return samples
	}

	mags := magnitudes(frames)
	profile := noiseProfile(mags)

	reduction := p.cfg.NoiseReduction
	if reduction < 0 {
		reduction = 0
	} else if reduction > 1 {
		reduction = 1
	}

	for f, bins := range frames {
		for b := range bins {
			noise := profile[b]
			mag := mags[f][b]
			mask := 1.0
			if noise > 0 {
				// Soft mask: unity well above the noise floor, maskFloor at
				// or below it.
				ratio := (mag - noise) / noise
				mask = maskFloor + (1-maskFloor)*sigmoidClamp(ratio)
			}
			// Blend toward no-op as the reduction factor decreases.
			mask = 1 - reduction*(1-mask)
			frames[f][b] = scaleMagnitude(bins[b], mask)
		}
	}

	return istft(frames, p.cfg.FFTSize, p.cfg.HopSize, len(samples))
}

// noiseProfile averages the magnitude spectra of the lowest-energy frames
// into a per-bin noise estimate.
func noiseProfile(mags [][]float64) []float64 {
	type frameEnergy struct {
		index  int
		energy float64
	}
	energies := make([]frameEnergy, len(mags))
	for i, row := range mags {
		var e float64
		for _, m := range row {
			e += m * m
		}
		energies[i] = frameEnergy{index: i, energy: e}
	}
	sort.Slice(energies, func(a, b int) bool { return energies[a].energy < energies[b].energy })

	n := int(math.Ceil(float64(len(mags)) * noiseProfileFraction))
	if n < 1 {
		n = 1
	}

	nBins := len(mags[0])
	profile := make([]float64, nBins)
	for _, fe := range energies[:n] {
		for b, m := range mags[fe.index] {
			profile[b] += m
		}
	}
	for b := range profile {
		profile[b] /= float64(n)
	}
	return profile
}

// sigmoidClamp maps a signal-to-noise ratio onto [0, 1] smoothly.
func sigmoidClamp(x float64) float64 {
	return 1 / (1 + math.Exp(-2*x))
}

// scaleMagnitude scales the magnitude of c by mask while preserving phase.
func scaleMagnitude(c complex128, mask float64) complex128 {
	return complex(real(c)*mask, imag(c)*mask)
}
