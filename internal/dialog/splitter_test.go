package dialog

import (
	"strings"
	"testing"
)

func TestSplitterCutsOnTerminators(t *testing.T) {
	t.Parallel()

	s := &Splitter{}
	got := s.Push("Hello there. How are you? I am fine")
	want := []string{"Hello there.", " How are you?"}
	if len(got) != len(want) {
		t.Fatalf("Push returned %d sentences, want %d: %q", len(got), len(want), got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("sentence %d = %q, want %q", i, got[i], want[i])
		}
	}
	if rest := s.Flush(); rest != " I am fine" {
		t.Errorf("Flush() = %q, want %q", rest, " I am fine")
	}
}

func TestSplitterKeepsTerminatorRuns(t *testing.T) {
	t.Parallel()

	s := &Splitter{}
	got := s.Push("Wait... really?! Yes")
	want := []string{"Wait...", " really?!"}
	if len(got) != len(want) {
		t.Fatalf("Push returned %q, want %q", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("sentence %d = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestSplitterNewlineEndsSentence(t *testing.T) {
	t.Parallel()

	s := &Splitter{}
	got := s.Push("- first item\n- second")
	if len(got) != 1 || got[0] != "- first item\n" {
		t.Fatalf("Push returned %q, want [%q]", got, "- first item\n")
	}
}

func TestSplitterCJKTerminators(t *testing.T) {
	t.Parallel()

	s := &Splitter{}
	got := s.Push("你好。今天怎么样？还行")
	want := []string{"你好。", "今天怎么样？"}
	if len(got) != len(want) {
		t.Fatalf("Push returned %q, want %q", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("sentence %d = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestSplitterForceFlushAtMaxPending(t *testing.T) {
	t.Parallel()

	s := &Splitter{MaxPendingChars: 10}
	if got := s.Push("abcdefghi"); len(got) != 0 {
		t.Fatalf("Push below bound returned %q, want none", got)
	}
	got := s.Push("jk")
	if len(got) != 1 || got[0] != "abcdefghijk" {
		t.Fatalf("Push at bound returned %q, want [%q]", got, "abcdefghijk")
	}
}

// Streaming token by token must reproduce the input exactly: the history
// delta is defined as the concatenation of emitted sentences.
func TestSplitterLossless(t *testing.T) {
	t.Parallel()

	input := "Hi there! Let me think... Sure: 3.14 is pi. Done?\nYes"
	tokens := []string{}
	for i := 0; i < len(input); i += 3 {
		end := i + 3
		if end > len(input) {
			end = len(input)
		}
		tokens = append(tokens, input[i:end])
	}

	s := &Splitter{}
	var out strings.Builder
	for _, tok := range tokens {
		for _, sentence := range s.Push(tok) {
			out.WriteString(sentence)
		}
	}
	out.WriteString(s.Flush())

	if out.String() != input {
		t.Errorf("reassembled %q, want %q", out.String(), input)
	}
}

func TestSplitterEmptyPush(t *testing.T) {
	t.Parallel()

	s := &Splitter{}
	if got := s.Push(""); got != nil {
		t.Errorf("Push(\"\") = %q, want nil", got)
	}
	if rest := s.Flush(); rest != "" {
		t.Errorf("Flush() = %q, want empty", rest)
	}
}
