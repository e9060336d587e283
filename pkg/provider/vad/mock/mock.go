// Package mock provides a test double for the vad package.
//
// Use Detector to script per-window probabilities and inspect the windows
// that were submitted:
//
//	det := &mock.Detector{Probabilities: []float64{0.1, 0.9, 0.9, 0.1}}
//	p, _ := det.Detect(window)
package mock

import (
	"sync"

	"github.com/voxhall/voxhall/pkg/provider/vad"
)

// Detector is a mock implementation of vad.Detector.
type Detector struct {
	mu sync.Mutex

	// Probabilities is returned one entry per Detect call, in order. When
	// exhausted, Default is returned.
	Probabilities []float64

	// Default is the probability returned after Probabilities runs out.
	Default float64

	// Err, if non-nil, is returned as the error from every Detect call.
	Err error

	// DetectCalls counts Detect invocations.
	DetectCalls int

	// ResetCalls counts Reset invocations.
	ResetCalls int

	// Windows records a copy of every window passed to Detect.
	Windows [][]int16
}

var _ vad.Detector = (*Detector)(nil)

// Detect records the call and returns the next scripted probability.
func (d *Detector) Detect(window []int16) (float64, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	cp := make([]int16, len(window))
	copy(cp, window)
	d.Windows = append(d.Windows, cp)
	idx := d.DetectCalls
	d.DetectCalls++
	if d.Err != nil {
		return 0, d.Err
	}
	if idx < len(d.Probabilities) {
		return d.Probabilities[idx], nil
	}
	return d.Default, nil
}

// CallCount returns the number of Detect invocations so far.
func (d *Detector) CallCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.DetectCalls
}

// Reset records the call.
func (d *Detector) Reset() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.ResetCalls++
}
