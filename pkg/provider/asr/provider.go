// Package asr defines the Recognizer interface for speech-to-text backends.
//
// Recognition is per-segment: the turn segmenter hands over one complete
// speech segment at a time and the backend transcribes it as a batch. This
// keeps the contract small and matches how whisper-family engines actually
// work; backends with true streaming APIs can additionally implement
// StreamingRecognizer to surface interim hypotheses.
//
// Implementations must be safe for concurrent use: segments from different
// sessions may be recognized simultaneously.
package asr

import "context"

// Recognizer transcribes a complete speech segment.
type Recognizer interface {
	// Recognize transcribes the samples in req and returns the final
	// transcript. The sample slice is owned by the caller and must not be
	// retained after Recognize returns. Blocks until the transcript is
	// available, the context is cancelled, or the backend fails.
	Recognize(ctx context.Context, req Request) (Transcript, error)
}

// StreamingRecognizer is implemented by backends that can emit interim
// hypotheses while a segment is still being processed. The orchestrator
// forwards partials to the client as transcript updates; the Transcript
// returned by Recognize remains the authoritative text.
type StreamingRecognizer interface {
	Recognizer

	// RecognizePartials transcribes req and sends interim hypotheses on the
	// returned channel, closing it when the final transcript is ready. The
	// final result is then obtained from the second return value's channel,
	// which receives exactly one element.
	RecognizePartials(ctx context.Context, req Request) (<-chan Transcript, <-chan Result, error)
}
