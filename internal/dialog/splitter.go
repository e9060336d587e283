package dialog

import (
	"strings"
	"unicode/utf8"
)

// sentenceTerminators end a sentence for TTS dispatch. Both ASCII and
// fullwidth CJK terminators are recognised; a newline also ends a sentence
// so list-style LLM output speaks line by line.
const sentenceTerminators = ".?!。？！\n"

// Splitter cuts a streamed token sequence into sentences. Tokens are pushed
// as they arrive; each completed sentence is returned as soon as its
// terminator (or the pending-length bound) is seen, preserving exact
// left-to-right text order. The concatenation of all returned sentences plus
// the final Flush equals the pushed text exactly.
type Splitter struct {
	// MaxPendingChars force-flushes the buffer when no terminator appeared
	// within this many pending characters. Zero means 120.
	MaxPendingChars int

	pending strings.Builder
}

// Push appends a token fragment and returns any sentences completed by it,
// in order. Returned sentences keep their terminators and any interior
// whitespace; they are not trimmed, so re-concatenation is lossless.
func (s *Splitter) Push(token string) []string {
	if token == "" {
		return nil
	}
	maxPending := s.MaxPendingChars
	if maxPending <= 0 {
		maxPending = 120
	}

	s.pending.WriteString(token)
	buf := s.pending.String()

	var out []string
	for {
		cut := firstSentenceBoundary(buf)
		if cut < 0 {
			if len([]rune(buf)) >= maxPending {
				out = append(out, buf)
				buf = ""
			}
			break
		}
		out = append(out, buf[:cut])
		buf = buf[cut:]
	}

	s.pending.Reset()
	s.pending.WriteString(buf)
	return out
}

// Flush returns the pending remainder, if any, and resets the splitter.
// Called once at stream end.
func (s *Splitter) Flush() string {
	rest := s.pending.String()
	s.pending.Reset()
	return rest
}

// firstSentenceBoundary returns the byte index just past the first sentence
// terminator in text, including any terminator run (e.g. "?!" or "..."), or
// -1 when text holds no complete sentence.
func firstSentenceBoundary(text string) int {
	idx := strings.IndexAny(text, sentenceTerminators)
	if idx < 0 {
		return -1
	}
	// Extend over consecutive terminators so ellipses stay in one sentence.
	end := idx
	for end < len(text) {
		r, size := utf8.DecodeRuneInString(text[end:])
		if !strings.ContainsRune(sentenceTerminators, r) {
			break
		}
		end += size
	}
	return end
}
