package audio

import "time"

// Frame is a fixed-size window of mono PCM16 samples positioned within a
// session's audio stream. Offset is the index of the first sample, counted
// from the start of the stream, so downstream stages can reason about time
// without wall clocks.
type Frame struct {
	// PCM holds the decoded samples. The slice is owned by the producer and
	// may be reused after the consumer returns; copy it if it must outlive
	// the call.
	PCM []int16

	// Offset is the stream position of PCM[0] in samples.
	Offset int64
}

// Duration returns the playback duration of the frame at the given sample rate.
func (f Frame) Duration(sampleRate int) time.Duration {
	if sampleRate <= 0 {
		return 0
	}
	return time.Duration(len(f.PCM)) * time.Second / time.Duration(sampleRate)
}

// SamplesToDuration converts a sample count to a duration at the given rate.
func SamplesToDuration(samples int64, sampleRate int) time.Duration {
	if sampleRate <= 0 {
		return 0
	}
	return time.Duration(samples) * time.Second / time.Duration(sampleRate)
}

// DurationToSamples converts a duration to a sample count at the given rate.
func DurationToSamples(d time.Duration, sampleRate int) int64 {
	return int64(d) * int64(sampleRate) / int64(time.Second)
}
