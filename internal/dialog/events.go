// Package dialog implements the per-session conversation pipeline: audio
// ingestion, turn segmentation, the serial turn orchestrator, and the reply
// pipeline that interleaves streamed text with synthesized audio.
package dialog

// Event is the tagged union of everything the pipeline can emit towards the
// client. The transport drains events from the session's bounded outbound
// queue and encodes them for the wire.
type Event interface {
	event()
}

// SessionStarted confirms session establishment.
type SessionStarted struct {
	// SessionID is the assigned session identifier.
	SessionID string

	// ActivationEnabled reports whether the wake-keyword gate is on.
	ActivationEnabled bool

	// Active reports the initial activation state.
	Active bool
}

// TextChunk is one sentence of assistant output. A chunk with IsFinal set
// carries no text and marks the end of the turn's text stream.
type TextChunk struct {
	Text    string
	IsFinal bool
}

// AudioChunk is one piece of synthesized assistant speech.
type AudioChunk struct {
	Data       []byte
	Codec      string
	SampleRate int
}

// AsrUpdate carries a transcript hypothesis. IsFinal marks the authoritative
// text for the segment.
type AsrUpdate struct {
	Text    string
	IsFinal bool
}

// SystemMessage is a scripted, non-LLM reply (activation prompts, notices).
type SystemMessage struct {
	Text string
}

// ErrorEvent reports a session-scoped failure without tearing the session
// down.
type ErrorEvent struct {
	Kind ErrorKind
	Text string
}

func (SessionStarted) event() {}
func (TextChunk) event()      {}
func (AudioChunk) event()     {}
func (AsrUpdate) event()      {}
func (SystemMessage) event()  {}
func (ErrorEvent) event()     {}

// Emitter enqueues events onto the session's outbound queue. The enqueue
// blocks when the queue is full; it never drops.
type Emitter func(Event)
