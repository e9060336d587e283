package asr

// Request is one complete speech segment to transcribe.
type Request struct {
	// Samples is mono PCM16 audio.
	Samples []int16

	// SampleRate is the sample rate of Samples in Hz.
	SampleRate int

	// Language is an optional BCP-47 hint (e.g. "en", "de"). Empty lets the
	// backend decide.
	Language string
}

// Transcript is a recognition hypothesis.
type Transcript struct {
	// Text is the transcribed text, whitespace-trimmed by the backend.
	Text string

	// Final reports whether this is the authoritative result for the segment.
	Final bool
}

// Result pairs a final transcript with a terminal error for streaming
// recognizers.
type Result struct {
	Transcript Transcript
	Err        error
}
