package tts

// Request is one sentence to synthesize.
type Request struct {
	// Text is the sentence to speak. Must be non-empty.
	Text string

	// Voice is the backend-specific voice identifier. Empty selects the
	// backend default.
	Voice string

	// Rate adjusts speaking speed (0.5–2.0, 0 = backend default).
	Rate float64

	// Volume adjusts loudness (0.0–1.0, 0 = backend default).
	Volume float64
}

// Chunk is a piece of synthesized audio.
type Chunk struct {
	// Data is the encoded audio payload.
	Data []byte

	// Codec identifies the payload encoding: "pcm16", "wav", or "mp3".
	Codec string

	// SampleRate is the audio sample rate in Hz. Zero for codecs that carry
	// their own rate (mp3, wav).
	SampleRate int

	// Err is set on the final chunk when synthesis failed mid-stream. A
	// chunk with Err carries no audio.
	Err error
}
