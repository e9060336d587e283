package dialog

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/voxhall/voxhall/pkg/provider/llm"
	llmmock "github.com/voxhall/voxhall/pkg/provider/llm/mock"
	ttsmock "github.com/voxhall/voxhall/pkg/provider/tts/mock"

	asrmock "github.com/voxhall/voxhall/pkg/provider/asr/mock"
)

// eventRecorder collects emitted events for inspection.
type eventRecorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *eventRecorder) emit(e Event) {
	r.mu.Lock()
	r.events = append(r.events, e)
	r.mu.Unlock()
}

func (r *eventRecorder) snapshot() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Event, len(r.events))
	copy(out, r.events)
	return out
}

// waitFor polls until an event matching match was emitted.
func (r *eventRecorder) waitFor(t *testing.T, what string, match func(Event) bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		for _, e := range r.snapshot() {
			if match(e) {
				return
			}
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s; events: %#v", what, r.snapshot())
}

// assistantText concatenates the non-final text chunks, which by contract is
// exactly what the history must record for the assistant.
func assistantText(events []Event) string {
	var b strings.Builder
	for _, e := range events {
		if tc, ok := e.(TextChunk); ok && !tc.IsFinal {
			b.WriteString(tc.Text)
		}
	}
	return b.String()
}

func hasFinalTextChunk(events []Event) bool {
	for _, e := range events {
		if tc, ok := e.(TextChunk); ok && tc.IsFinal {
			return true
		}
	}
	return false
}

func newTestOrchestrator(providers Providers, gate *Gate) (*Orchestrator, *eventRecorder) {
	rec := &eventRecorder{}
	cfg := OrchestratorConfig{
		Retries:              -1, // no retries unless a test opts in
		ASRTimeout:           5 * time.Second,
		LLMFirstTokenTimeout: 5 * time.Second,
		LLMTokenGapTimeout:   5 * time.Second,
		TTSTimeout:           5 * time.Second,
		CarryoverWindow:      8 * time.Second,
	}
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	o := NewOrchestrator(cfg, providers, gate, &History{}, rec.emit, nil, log)
	return o, rec
}

func TestTurnFromText(t *testing.T) {
	t.Parallel()

	llmMock := &llmmock.Provider{StreamChunks: [][]llm.Chunk{{
		{Text: "Hello there. "},
		{Text: "How are you?"},
		{FinishReason: "stop"},
	}}}
	ttsMock := &ttsmock.Synthesizer{}
	o, rec := newTestOrchestrator(Providers{LLM: llmMock, TTS: ttsMock}, nil)

	o.processTurn(context.Background(), turnRequest{text: "hi", at: time.Now()})

	events := rec.snapshot()
	want := []Event{
		TextChunk{Text: "Hello there."},
		AudioChunk{Data: []byte{0, 0}, Codec: "pcm16", SampleRate: 16000},
		TextChunk{Text: " How are you?"},
		AudioChunk{Data: []byte{1, 0}, Codec: "pcm16", SampleRate: 16000},
		TextChunk{IsFinal: true},
	}
	if len(events) != len(want) {
		t.Fatalf("emitted %d events, want %d: %#v", len(events), len(want), events)
	}
	for i := range want {
		switch w := want[i].(type) {
		case TextChunk:
			g, ok := events[i].(TextChunk)
			if !ok || g != w {
				t.Errorf("event %d = %#v, want %#v", i, events[i], w)
			}
		case AudioChunk:
			g, ok := events[i].(AudioChunk)
			if !ok || string(g.Data) != string(w.Data) || g.Codec != w.Codec || g.SampleRate != w.SampleRate {
				t.Errorf("event %d = %#v, want %#v", i, events[i], w)
			}
		}
	}

	// Each sentence is synthesized exactly as emitted.
	texts := ttsMock.Texts()
	if len(texts) != 2 || texts[0] != "Hello there." || texts[1] != " How are you?" {
		t.Errorf("synthesized texts = %q", texts)
	}

	// The history delta equals the emitted text, concatenated.
	snap := o.history.Snapshot()
	if len(snap) != 2 {
		t.Fatalf("history has %d entries, want 2: %+v", len(snap), snap)
	}
	if snap[0].Role != "user" || snap[0].Text != "hi" {
		t.Errorf("history[0] = %+v", snap[0])
	}
	if snap[1].Role != "assistant" || snap[1].Text != assistantText(events) {
		t.Errorf("history[1].Text = %q, want emitted %q", snap[1].Text, assistantText(events))
	}

	req := llmMock.LastStreamCall()
	if len(req.Messages) != 1 || req.Messages[0].Content != "hi" {
		t.Errorf("llm messages = %+v", req.Messages)
	}
	if o.State() != StateListening {
		t.Errorf("state after turn = %q", o.State())
	}
}

func TestTurnFromTextWithoutTTS(t *testing.T) {
	t.Parallel()

	llmMock := &llmmock.Provider{StreamChunks: [][]llm.Chunk{{
		{Text: "Just text."}, {FinishReason: "stop"},
	}}}
	o, rec := newTestOrchestrator(Providers{LLM: llmMock}, nil)

	o.processTurn(context.Background(), turnRequest{text: "hi", at: time.Now()})

	for _, e := range rec.snapshot() {
		if _, ok := e.(AudioChunk); ok {
			t.Fatal("text-only deployment emitted audio")
		}
	}
	if !hasFinalTextChunk(rec.snapshot()) {
		t.Error("missing final text chunk")
	}
}

func TestTurnFromSegment(t *testing.T) {
	t.Parallel()

	asrMock := &asrmock.Recognizer{Transcripts: []string{"what time is it"}}
	llmMock := &llmmock.Provider{StreamChunks: [][]llm.Chunk{{
		{Text: "It is noon."}, {FinishReason: "stop"},
	}}}
	o, rec := newTestOrchestrator(Providers{ASR: asrMock, LLM: llmMock, TTS: &ttsmock.Synthesizer{}}, nil)

	o.processTurn(context.Background(), turnRequest{samples: make([]int16, 4096), at: time.Now()})

	events := rec.snapshot()
	if len(events) == 0 {
		t.Fatal("no events emitted")
	}
	up, ok := events[0].(AsrUpdate)
	if !ok || !up.IsFinal || up.Text != "what time is it" {
		t.Fatalf("first event = %#v, want final AsrUpdate", events[0])
	}
	if asrMock.CallCount() != 1 || asrMock.Calls[0].SampleCount != 4096 {
		t.Errorf("asr calls = %+v", asrMock.Calls)
	}
	if got := llmMock.LastStreamCall().Messages; len(got) != 1 || got[0].Content != "what time is it" {
		t.Errorf("llm messages = %+v", got)
	}
}

func TestEmptyTranscriptEndsTurnQuietly(t *testing.T) {
	t.Parallel()

	asrMock := &asrmock.Recognizer{Transcripts: []string{"   "}}
	llmMock := &llmmock.Provider{}
	o, rec := newTestOrchestrator(Providers{ASR: asrMock, LLM: llmMock}, nil)

	o.processTurn(context.Background(), turnRequest{samples: make([]int16, 1024), at: time.Now()})

	events := rec.snapshot()
	if len(events) != 1 {
		t.Fatalf("emitted %d events, want only the final AsrUpdate: %#v", len(events), events)
	}
	up, ok := events[0].(AsrUpdate)
	if !ok || !up.IsFinal || up.Text != "" {
		t.Errorf("event = %#v, want empty final AsrUpdate", events[0])
	}
	if llmMock.StreamCallCount() != 0 {
		t.Error("empty transcript reached the LLM")
	}
	if o.history.Len() != 0 {
		t.Error("empty transcript left a history entry")
	}
}

func TestBargeInCancelsActiveTurn(t *testing.T) {
	t.Parallel()

	gate := make(chan struct{})
	llmMock := &llmmock.Provider{
		StreamChunks: [][]llm.Chunk{{
			{Text: "One. "}, {Text: "Two. "}, {FinishReason: "stop"},
		}},
		ChunkGate: gate,
	}
	o, rec := newTestOrchestrator(Providers{LLM: llmMock, TTS: &ttsmock.Synthesizer{}}, nil)

	done := make(chan struct{})
	go func() {
		defer close(done)
		o.processTurn(context.Background(), turnRequest{text: "first question", at: time.Now()})
	}()

	// Let the first sentence through, then interrupt.
	gate <- struct{}{}
	rec.waitFor(t, "first sentence audio", func(e Event) bool {
		_, ok := e.(AudioChunk)
		return ok
	})
	o.NotifySpeechStarted()
	<-done

	events := rec.snapshot()
	if hasFinalTextChunk(events) {
		t.Error("cancelled turn emitted a final text chunk")
	}
	for _, e := range events {
		if _, ok := e.(ErrorEvent); ok {
			t.Errorf("barge-in surfaced an error event: %#v", e)
		}
	}

	// The history records the partial reply exactly as emitted.
	snap := o.history.Snapshot()
	if len(snap) != 2 {
		t.Fatalf("history = %+v, want user + partial assistant", snap)
	}
	if snap[1].Role != "assistant" || snap[1].Text != assistantText(events) {
		t.Errorf("history[1].Text = %q, want emitted %q", snap[1].Text, assistantText(events))
	}
	if snap[1].Text != "One." {
		t.Errorf("partial assistant text = %q, want %q", snap[1].Text, "One.")
	}

	o.mu.Lock()
	interrupted := o.interrupted
	o.mu.Unlock()
	if interrupted == nil || interrupted.text != "first question" {
		t.Errorf("interrupted carry-over = %+v", interrupted)
	}
}

func TestCarryOverAppliedExactlyOnce(t *testing.T) {
	t.Parallel()

	llmMock := &llmmock.Provider{StreamChunks: [][]llm.Chunk{
		{{Text: "A."}, {FinishReason: "stop"}},
		{{Text: "B."}, {FinishReason: "stop"}},
	}}
	o, _ := newTestOrchestrator(Providers{LLM: llmMock}, nil)

	o.interrupted = &carryOver{text: "first question", at: time.Now()}
	o.processTurn(context.Background(), turnRequest{text: "second question", at: time.Now()})

	req := llmMock.StreamCalls[0]
	last := req.Messages[len(req.Messages)-1]
	if last.Content != "first question second question" {
		t.Errorf("carried-over prompt = %q", last.Content)
	}

	// The history keeps the new utterance, not the stitched prompt.
	if got := o.history.Snapshot()[0].Text; got != "second question" {
		t.Errorf("history user text = %q", got)
	}

	// Consumed: the next turn gets a plain prompt.
	o.processTurn(context.Background(), turnRequest{text: "third question", at: time.Now()})
	req = llmMock.StreamCalls[1]
	last = req.Messages[len(req.Messages)-1]
	if last.Content != "third question" {
		t.Errorf("prompt after carry-over consumed = %q", last.Content)
	}
}

func TestCarryOverExpires(t *testing.T) {
	t.Parallel()

	llmMock := &llmmock.Provider{StreamChunks: [][]llm.Chunk{
		{{Text: "A."}, {FinishReason: "stop"}},
	}}
	o, _ := newTestOrchestrator(Providers{LLM: llmMock}, nil)

	o.interrupted = &carryOver{text: "stale", at: time.Now().Add(-time.Minute)}
	o.processTurn(context.Background(), turnRequest{text: "fresh question", at: time.Now()})

	last := llmMock.StreamCalls[0].Messages
	if last[len(last)-1].Content != "fresh question" {
		t.Errorf("expired carry-over leaked into prompt: %q", last[len(last)-1].Content)
	}
	if o.interrupted != nil {
		t.Error("expired carry-over not cleared")
	}
}

func TestActivationGateBlocksAndOpens(t *testing.T) {
	t.Parallel()

	llmMock := &llmmock.Provider{StreamChunks: [][]llm.Chunk{
		{{Text: "Sure."}, {FinishReason: "stop"}},
	}}
	o, rec := newTestOrchestrator(Providers{LLM: llmMock}, NewGate(testGateSettings()))

	// Gated: no LLM, scripted prompt only.
	o.processTurn(context.Background(), turnRequest{text: "what time is it", at: time.Now()})
	events := rec.snapshot()
	if len(events) != 1 {
		t.Fatalf("gated input emitted %#v", events)
	}
	if msg, ok := events[0].(SystemMessage); !ok || msg.Text != "Say the wake phrase first." {
		t.Errorf("gated reply = %#v", events[0])
	}
	if llmMock.StreamCallCount() != 0 {
		t.Fatal("gated input reached the LLM")
	}
	if o.history.Len() != 0 {
		t.Error("gated input left a history entry")
	}

	// Bare wake phrase: activation reply, still no LLM.
	o.processTurn(context.Background(), turnRequest{text: "hello assistant", at: time.Now()})
	if llmMock.StreamCallCount() != 0 {
		t.Fatal("bare wake phrase reached the LLM")
	}

	// Now active: forwarded.
	o.processTurn(context.Background(), turnRequest{text: "tell me a joke", at: time.Now()})
	if llmMock.StreamCallCount() != 1 {
		t.Fatal("active input did not reach the LLM")
	}
}

func TestActivationKeywordWithUtterance(t *testing.T) {
	t.Parallel()

	llmMock := &llmmock.Provider{StreamChunks: [][]llm.Chunk{
		{{Text: "Sunny."}, {FinishReason: "stop"}},
	}}
	o, rec := newTestOrchestrator(Providers{LLM: llmMock}, NewGate(testGateSettings()))

	o.processTurn(context.Background(), turnRequest{text: "hello assistant, what's the weather", at: time.Now()})

	if msg, ok := rec.snapshot()[0].(SystemMessage); !ok || msg.Text != "I'm listening." {
		t.Errorf("first event = %#v, want activation reply", rec.snapshot()[0])
	}
	last := llmMock.LastStreamCall().Messages
	if last[len(last)-1].Content != "what's the weather" {
		t.Errorf("forwarded utterance = %q", last[len(last)-1].Content)
	}
	if got := o.history.Snapshot()[0].Text; got != "what's the weather" {
		t.Errorf("history user text = %q", got)
	}
}

func TestAsrFailureRetriesThenReportsUnavailable(t *testing.T) {
	t.Parallel()

	asrMock := &asrmock.Recognizer{Err: errors.New("backend down")}
	llmMock := &llmmock.Provider{}
	o, rec := newTestOrchestrator(Providers{ASR: asrMock, LLM: llmMock}, nil)
	o.cfg.Retries = 1

	o.processTurn(context.Background(), turnRequest{samples: make([]int16, 512), at: time.Now()})

	if asrMock.CallCount() != 2 {
		t.Errorf("asr called %d times, want initial + 1 retry", asrMock.CallCount())
	}
	events := rec.snapshot()
	if len(events) != 1 {
		t.Fatalf("events = %#v, want a single error", events)
	}
	ev, ok := events[0].(ErrorEvent)
	if !ok || ev.Kind != KindProviderUnavailable {
		t.Errorf("error event = %#v, want kind ProviderUnavailable", events[0])
	}
	if llmMock.StreamCallCount() != 0 {
		t.Error("failed transcription reached the LLM")
	}
	if o.history.Len() != 0 {
		t.Error("failed turn left a history entry")
	}
}

func TestLLMStreamErrorFailsTurn(t *testing.T) {
	t.Parallel()

	llmMock := &llmmock.Provider{StreamChunks: [][]llm.Chunk{{
		{Text: "Partial. "},
		{Text: "boom", FinishReason: llm.FinishReasonError},
	}}}
	o, rec := newTestOrchestrator(Providers{LLM: llmMock, TTS: &ttsmock.Synthesizer{}}, nil)

	o.processTurn(context.Background(), turnRequest{text: "hi", at: time.Now()})

	events := rec.snapshot()
	if hasFinalTextChunk(events) {
		t.Error("failed turn emitted a final text chunk")
	}
	var errEvent *ErrorEvent
	for _, e := range events {
		if ev, ok := e.(ErrorEvent); ok {
			errEvent = &ev
		}
	}
	if errEvent == nil || errEvent.Kind != KindProviderUnavailable {
		t.Fatalf("error event = %+v, want kind ProviderUnavailable", errEvent)
	}

	// Whatever was spoken before the failure is still history.
	snap := o.history.Snapshot()
	if len(snap) != 2 || snap[1].Text != assistantText(events) {
		t.Errorf("history = %+v, emitted %q", snap, assistantText(events))
	}
}

func TestLLMFirstTokenTimeout(t *testing.T) {
	t.Parallel()

	// A gated stream that is never released: no token ever arrives.
	llmMock := &llmmock.Provider{
		StreamChunks: [][]llm.Chunk{{{Text: "never"}}},
		ChunkGate:    make(chan struct{}),
	}
	o, rec := newTestOrchestrator(Providers{LLM: llmMock}, nil)
	o.cfg.LLMFirstTokenTimeout = 30 * time.Millisecond

	o.processTurn(context.Background(), turnRequest{text: "hi", at: time.Now()})

	rec.waitFor(t, "timeout error event", func(e Event) bool {
		ev, ok := e.(ErrorEvent)
		return ok && ev.Kind == KindProviderTimeout
	})
}

func TestTTSFailureFailsTurn(t *testing.T) {
	t.Parallel()

	llmMock := &llmmock.Provider{StreamChunks: [][]llm.Chunk{{
		{Text: "One. Two."}, {FinishReason: "stop"},
	}}}
	ttsMock := &ttsmock.Synthesizer{Err: errors.New("voice backend down")}
	o, rec := newTestOrchestrator(Providers{LLM: llmMock, TTS: ttsMock}, nil)

	o.processTurn(context.Background(), turnRequest{text: "hi", at: time.Now()})

	events := rec.snapshot()
	var kinds []ErrorKind
	for _, e := range events {
		if ev, ok := e.(ErrorEvent); ok {
			kinds = append(kinds, ev.Kind)
		}
	}
	if len(kinds) != 1 || kinds[0] != KindProviderUnavailable {
		t.Errorf("error kinds = %v, want one ProviderUnavailable", kinds)
	}
	// The first sentence's text went out before synthesis failed; it stays in
	// the history.
	if got := o.history.Snapshot()[1].Text; got != "One." {
		t.Errorf("partial assistant text = %q, want %q", got, "One.")
	}
}

// Turns are strictly serial: the second queued request must see the first
// turn's completed exchange in its prompt messages.
func TestTurnsRunSerially(t *testing.T) {
	t.Parallel()

	llmMock := &llmmock.Provider{StreamChunks: [][]llm.Chunk{
		{{Text: "First reply."}, {FinishReason: "stop"}},
		{{Text: "Second reply."}, {FinishReason: "stop"}},
	}}
	o, rec := newTestOrchestrator(Providers{LLM: llmMock}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go o.Run(ctx)

	o.SubmitText(ctx, "one")
	o.SubmitText(ctx, "two")

	rec.waitFor(t, "second reply", func(e Event) bool {
		tc, ok := e.(TextChunk)
		return ok && tc.Text == "Second reply."
	})

	msgs := llmMock.StreamCalls[1].Messages
	if len(msgs) != 3 {
		t.Fatalf("second turn saw %d messages, want 3: %+v", len(msgs), msgs)
	}
	if msgs[0].Content != "one" || msgs[1].Content != "First reply." || msgs[2].Content != "two" {
		t.Errorf("second turn messages = %+v", msgs)
	}
}

// After enough consecutive provider failures the breaker opens and subsequent
// turns are rejected without touching the backend.
func TestAsrBreakerOpensAfterConsecutiveFailures(t *testing.T) {
	t.Parallel()

	asrMock := &asrmock.Recognizer{Err: errors.New("backend down")}
	o, rec := newTestOrchestrator(Providers{ASR: asrMock, LLM: &llmmock.Provider{}}, nil)

	for i := 0; i < 6; i++ {
		o.processTurn(context.Background(), turnRequest{samples: make([]int16, 512), at: time.Now()})
	}

	// Five failures trip the breaker; the sixth turn never reaches the mock.
	if asrMock.CallCount() != 5 {
		t.Errorf("asr called %d times, want 5", asrMock.CallCount())
	}
	events := rec.snapshot()
	if len(events) != 6 {
		t.Fatalf("emitted %d events, want one error per turn: %#v", len(events), events)
	}
	last, ok := events[5].(ErrorEvent)
	if !ok || last.Kind != KindProviderUnavailable {
		t.Errorf("breaker-rejected turn emitted %#v, want kind ProviderUnavailable", events[5])
	}
}
