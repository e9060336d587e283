package dialog

import (
	"sync"
	"time"

	"github.com/voxhall/voxhall/pkg/provider/llm"
)

// HistoryEntry is one completed exchange half in the session transcript.
type HistoryEntry struct {
	// Role is "user" or "assistant".
	Role string

	// Text is the content. For an interrupted assistant turn this is the
	// partial text exactly as emitted to the client.
	Text string

	// At is the append time.
	At time.Time
}

// History is the in-session conversation log. Entries are appended exactly
// once per turn, whether the turn completed or was cancelled. History is not
// persisted; it dies with the session.
//
// Safe for concurrent use: the turn loop appends while status queries
// snapshot.
type History struct {
	mu      sync.Mutex
	entries []HistoryEntry
}

// Append adds one entry. Empty text is ignored so a turn cancelled before
// any output leaves no assistant entry.
func (h *History) Append(role, text string) {
	if text == "" {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	h.entries = append(h.entries, HistoryEntry{Role: role, Text: text, At: time.Now()})
}

// Snapshot returns a copy of all entries in order.
func (h *History) Snapshot() []HistoryEntry {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]HistoryEntry, len(h.entries))
	copy(out, h.entries)
	return out
}

// Len returns the number of entries.
func (h *History) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.entries)
}

// Messages converts the history to LLM conversation messages in order.
func (h *History) Messages() []llm.Message {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]llm.Message, len(h.entries))
	for i, e := range h.entries {
		out[i] = llm.Message{Role: e.Role, Content: e.Text}
	}
	return out
}
