// Package vad defines the Detector interface for voice activity detection
// backends.
//
// A detector scores one fixed-size window of mono PCM16 samples at a time and
// returns a speech probability. Windowing, smoothing across windows, and turn
// segmentation are all handled upstream, so implementations stay simple:
// score the window, nothing else.
//
// Detection is synchronous by design: Detect returns immediately, making it
// suitable for the per-window audio loop that gates ASR input.
package vad

// Detector scores audio windows for speech probability.
//
// A Detector instance is used by exactly one session's audio loop and is
// never shared across goroutines, so implementations may keep per-stream
// state (noise floor estimates, smoothing history) without locking.
type Detector interface {
	// Detect returns the speech probability for the window in [0.0, 1.0].
	// The window is owned by the caller and may be reused after Detect
	// returns. The sample count per window is fixed for the lifetime of the
	// detector; implementations may return an error on a mismatched length
	// or on internal failure.
	Detect(window []int16) (float64, error)

	// Reset clears accumulated per-stream state. Called when the audio
	// stream restarts so stale history does not bleed into the next segment.
	Reset()
}
