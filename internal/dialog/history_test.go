package dialog

import "testing"

func TestHistoryAppendAndSnapshot(t *testing.T) {
	t.Parallel()

	h := &History{}
	h.Append("user", "hello")
	h.Append("assistant", "hi there")
	h.Append("assistant", "") // ignored

	if h.Len() != 2 {
		t.Fatalf("Len() = %d, want 2", h.Len())
	}
	snap := h.Snapshot()
	if snap[0].Role != "user" || snap[0].Text != "hello" {
		t.Errorf("entry 0 = %+v", snap[0])
	}
	if snap[1].Role != "assistant" || snap[1].Text != "hi there" {
		t.Errorf("entry 1 = %+v", snap[1])
	}

	// The snapshot is a copy, not a view.
	snap[0].Text = "mutated"
	if h.Snapshot()[0].Text != "hello" {
		t.Error("Snapshot shares backing storage with the history")
	}
}

func TestHistoryMessages(t *testing.T) {
	t.Parallel()

	h := &History{}
	h.Append("user", "question")
	h.Append("assistant", "answer")

	msgs := h.Messages()
	if len(msgs) != 2 {
		t.Fatalf("Messages() returned %d entries, want 2", len(msgs))
	}
	if msgs[0].Role != "user" || msgs[0].Content != "question" {
		t.Errorf("message 0 = %+v", msgs[0])
	}
	if msgs[1].Role != "assistant" || msgs[1].Content != "answer" {
		t.Errorf("message 1 = %+v", msgs[1])
	}
}
