package dialog

import (
	"time"

	"github.com/voxhall/voxhall/pkg/audio"
)

func millis(ms int) time.Duration {
	return time.Duration(ms) * time.Millisecond
}

// SegmenterConfig tunes a [Segmenter].
type SegmenterConfig struct {
	// SampleRate of the windows in Hz.
	SampleRate int

	// SpeechThreshold is the VAD probability at or above which a window
	// counts as speech.
	SpeechThreshold float64

	// EOSSilenceMs closes an open segment after this much trailing silence.
	EOSSilenceMs int

	// MaxSegmentMs force-closes a segment exceeding this duration.
	MaxSegmentMs int
}

// SpeechStart signals the opening of a new speech segment. Emitted before
// any transcription so an active reply can be cancelled immediately
// (barge-in).
type SpeechStart struct {
	// Offset is the stream position of the segment's first sample.
	Offset int64
}

// SpeechEnd carries a closed segment ready for transcription.
type SpeechEnd struct {
	// Samples is the segment audio, speech onset through close.
	Samples []int16

	// Offset is the stream position of Samples[0].
	Offset int64

	// Forced reports a max-duration cutoff rather than a silence close.
	Forced bool
}

// Segmenter is the per-window speech-turn state machine. It consumes
// (window, probability) pairs in stream order and cuts them into speech
// segments bounded by trailing silence or a maximum duration.
//
// The segmenter is pure per window: state advances only through Feed, so a
// duplicated transport frame merely extends the current segment and can
// never corrupt the machine. Not safe for concurrent use; it belongs to the
// session's audio loop.
type Segmenter struct {
	cfg SegmenterConfig

	inSpeech       bool
	segment        []int16
	segmentOffset  int64
	silenceSamples int64
	eosSamples     int64
	maxSamples     int64
}

// NewSegmenter creates a segmenter.
func NewSegmenter(cfg SegmenterConfig) *Segmenter {
	if cfg.SampleRate <= 0 {
		cfg.SampleRate = 16000
	}
	if cfg.SpeechThreshold <= 0 {
		cfg.SpeechThreshold = 0.65
	}
	if cfg.EOSSilenceMs <= 0 {
		cfg.EOSSilenceMs = 1200
	}
	if cfg.MaxSegmentMs <= 0 {
		cfg.MaxSegmentMs = 5000
	}
	return &Segmenter{
		cfg:        cfg,
		eosSamples: audio.DurationToSamples(millis(cfg.EOSSilenceMs), cfg.SampleRate),
		maxSamples: audio.DurationToSamples(millis(cfg.MaxSegmentMs), cfg.SampleRate),
	}
}

// Feed advances the state machine by one window. It returns a non-nil
// *SpeechStart when the window opens a segment and a non-nil *SpeechEnd when
// the window closes one. A single window can both open and force-close a
// segment only in the degenerate case maxSamples <= len(window).
func (s *Segmenter) Feed(frame audio.Frame, prob float64) (*SpeechStart, *SpeechEnd) {
	speech := prob >= s.cfg.SpeechThreshold

	if !s.inSpeech {
		if !speech {
			return nil, nil
		}
		s.inSpeech = true
		s.segment = append(s.segment[:0], frame.PCM...)
		s.segmentOffset = frame.Offset
		s.silenceSamples = 0
		start := &SpeechStart{Offset: frame.Offset}
		if end := s.checkBounds(); end != nil {
			return start, end
		}
		return start, nil
	}

	s.segment = append(s.segment, frame.PCM...)
	if speech {
		s.silenceSamples = 0
	} else {
		s.silenceSamples += int64(len(frame.PCM))
	}
	return nil, s.checkBounds()
}

// checkBounds closes the open segment when the silence or duration bound is
// hit.
func (s *Segmenter) checkBounds() *SpeechEnd {
	if s.silenceSamples >= s.eosSamples {
		return s.closeSegment(false)
	}
	if int64(len(s.segment)) >= s.maxSamples {
		return s.closeSegment(true)
	}
	return nil
}

// ForceClose ends the open segment immediately (push-to-talk release).
// Returns nil when no segment is open.
func (s *Segmenter) ForceClose() *SpeechEnd {
	if !s.inSpeech {
		return nil
	}
	return s.closeSegment(true)
}

// InSpeech reports whether a segment is currently open.
func (s *Segmenter) InSpeech() bool {
	return s.inSpeech
}

// Reset drops any open segment without emitting it.
func (s *Segmenter) Reset() {
	s.inSpeech = false
	s.segment = s.segment[:0]
	s.silenceSamples = 0
}

func (s *Segmenter) closeSegment(forced bool) *SpeechEnd {
	samples := make([]int16, len(s.segment))
	copy(samples, s.segment)
	end := &SpeechEnd{
		Samples: samples,
		Offset:  s.segmentOffset,
		Forced:  forced,
	}
	s.inSpeech = false
	s.segment = s.segment[:0]
	s.silenceSamples = 0
	return end
}
