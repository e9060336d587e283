// Package energy implements an RMS energy detector with an adaptive noise
// floor. It needs no model file, which makes it the default VAD backend: the
// server runs out of the box and heavier detectors can be registered on top.
package energy

import (
	"math"

	"github.com/voxhall/voxhall/pkg/provider/vad"
)

const (
	// smoothingAlpha is the exponential smoothing factor applied to the
	// per-window RMS before scoring.
	smoothingAlpha = 0.3

	// floorAlpha is the (slow) adaptation rate of the noise floor estimate
	// during quiet windows.
	floorAlpha = 0.05

	// maxExpectedRMS is the normalized RMS treated as full-scale voice.
	maxExpectedRMS = 0.5
)

// Config tunes the energy detector.
type Config struct {
	// MinVolume is the normalized RMS below which a window always scores 0.
	// Defaults to 0.01.
	MinVolume float64
}

// Detector scores windows by smoothed RMS above an adaptive noise floor.
type Detector struct {
	minVolume   float64
	smoothedRMS float64
	noiseFloor  float64
}

var _ vad.Detector = (*Detector)(nil)

// New creates an energy detector.
func New(cfg Config) *Detector {
	minVolume := cfg.MinVolume
	if minVolume <= 0 {
		minVolume = 0.01
	}
	return &Detector{minVolume: minVolume, noiseFloor: minVolume}
}

// Detect returns the speech probability for the window.
func (d *Detector) Detect(window []int16) (float64, error) {
	if len(window) == 0 {
		return 0, nil
	}

	var sumSquares float64
	for _, s := range window {
		n := float64(s) / 32768.0
		sumSquares += n * n
	}
	rms := math.Sqrt(sumSquares / float64(len(window)))

	d.smoothedRMS = smoothingAlpha*rms + (1-smoothingAlpha)*d.smoothedRMS

	// Track the noise floor only while the signal sits near it, so sustained
	// speech does not drag the floor up and mask itself.
	if d.smoothedRMS < d.noiseFloor*2 {
		d.noiseFloor = floorAlpha*d.smoothedRMS + (1-floorAlpha)*d.noiseFloor
		if d.noiseFloor < d.minVolume {
			d.noiseFloor = d.minVolume
		}
	}

	threshold := math.Max(d.minVolume, d.noiseFloor*1.5)
	if d.smoothedRMS <= threshold {
		return 0, nil
	}
	p := (d.smoothedRMS - threshold) / (maxExpectedRMS - threshold)
	if p > 1 {
		p = 1
	}
	return p, nil
}

// Reset clears smoothing and noise floor state.
func (d *Detector) Reset() {
	d.smoothedRMS = 0
	d.noiseFloor = d.minVolume
}
