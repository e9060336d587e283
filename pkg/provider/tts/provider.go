// Package tts defines the Synthesizer interface for text-to-speech backends.
//
// Synthesis is per-sentence: the reply pipeline hands over one sentence at a
// time and streams the resulting audio chunks to the client before the next
// sentence is submitted. This keeps the audio strictly ordered behind its
// text without the backend needing any notion of a reply.
//
// Implementations must be safe for concurrent use. Channels returned by
// Synthesize must be closed by the implementation when synthesis finishes or
// when the supplied context is cancelled.
package tts

import "context"

// Synthesizer is the abstraction over any TTS backend.
type Synthesizer interface {
	// Synthesize converts req.Text to speech and returns a read-only channel
	// that emits audio chunks as they become available. The channel is closed
	// by the implementation when synthesis completes or ctx is cancelled.
	//
	// Callers must drain the channel to avoid goroutine leaks. Errors that
	// occur after the channel is opened are surfaced as a final Chunk with
	// Err set; the initial error return is non-nil only for failures that
	// prevent synthesis from starting.
	//
	// The returned channel must never be nil when error is nil.
	Synthesize(ctx context.Context, req Request) (<-chan Chunk, error)
}
