package session

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/voxhall/voxhall/internal/config"
	"github.com/voxhall/voxhall/internal/dialog"
	"github.com/voxhall/voxhall/pkg/provider/llm"
	llmmock "github.com/voxhall/voxhall/pkg/provider/llm/mock"
	ttsmock "github.com/voxhall/voxhall/pkg/provider/tts/mock"
	vadmock "github.com/voxhall/voxhall/pkg/provider/vad/mock"

	asrmock "github.com/voxhall/voxhall/pkg/provider/asr/mock"
)

// testDialogConfig uses a 3-window silence bound (96 ms of 512-sample
// windows at 16 kHz) so voice tests need few frames.
func testDialogConfig() config.DialogConfig {
	d := config.DialogConfig{
		EOSSilenceMs:    96,
		ShutdownGraceMs: 2000,
		ProviderRetries: -1,
	}
	d.ApplyDefaults()
	return d
}

func newTestSession(t *testing.T, cfg Config) *Session {
	t.Helper()
	if cfg.Dialog.SampleRate == 0 {
		cfg.Dialog = testDialogConfig()
	}
	cfg.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	s := New(cfg)
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	s.Start(ctx)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

// pcmFrame encodes n zero samples as PCM16LE bytes.
func pcmFrame(n int) []byte {
	return make([]byte, n*2)
}

// collectUntil drains events until pred matches, returning everything seen
// so far including the match.
func collectUntil(t *testing.T, ch <-chan dialog.Event, what string, pred func(dialog.Event) bool) []dialog.Event {
	t.Helper()
	var events []dialog.Event
	deadline := time.After(3 * time.Second)
	for {
		select {
		case e, ok := <-ch:
			if !ok {
				t.Fatalf("event channel closed waiting for %s; got %#v", what, events)
			}
			events = append(events, e)
			if pred(e) {
				return events
			}
		case <-deadline:
			t.Fatalf("timed out waiting for %s; got %#v", what, events)
		}
	}
}

func isFinalText(e dialog.Event) bool {
	tc, ok := e.(dialog.TextChunk)
	return ok && tc.IsFinal
}

func TestSessionEmitsSessionStarted(t *testing.T) {
	t.Parallel()

	s := newTestSession(t, Config{
		Activation: config.ActivationConfig{
			EnablePromptActivation: true,
			ActivationKeywords:     []string{"hello assistant"},
		},
		Providers: dialog.Providers{LLM: &llmmock.Provider{}},
	})

	e := <-s.Events()
	started, ok := e.(dialog.SessionStarted)
	if !ok {
		t.Fatalf("first event = %#v, want SessionStarted", e)
	}
	if started.SessionID != s.ID() {
		t.Errorf("SessionID = %q, want %q", started.SessionID, s.ID())
	}
	if !started.ActivationEnabled || started.Active {
		t.Errorf("activation flags = %+v, want enabled and not yet active", started)
	}
}

func TestSessionGeneratesID(t *testing.T) {
	t.Parallel()

	s := newTestSession(t, Config{Providers: dialog.Providers{LLM: &llmmock.Provider{}}})
	if s.ID() == "" {
		t.Error("session did not generate an ID")
	}
}

func TestSessionTextTurn(t *testing.T) {
	t.Parallel()

	llmMock := &llmmock.Provider{StreamChunks: [][]llm.Chunk{{
		{Text: "Hello!"}, {FinishReason: "stop"},
	}}}
	s := newTestSession(t, Config{
		Providers: dialog.Providers{LLM: llmMock, TTS: &ttsmock.Synthesizer{}},
	})

	s.SubmitText("hi")
	events := collectUntil(t, s.Events(), "final text chunk", isFinalText)

	var sawText, sawAudio bool
	for _, e := range events {
		switch ev := e.(type) {
		case dialog.TextChunk:
			if ev.Text == "Hello!" {
				sawText = true
			}
		case dialog.AudioChunk:
			sawAudio = true
		}
	}
	if !sawText || !sawAudio {
		t.Errorf("missing text (%v) or audio (%v) in %#v", sawText, sawAudio, events)
	}
}

func TestSessionVoiceTurn(t *testing.T) {
	t.Parallel()

	det := &vadmock.Detector{
		Probabilities: []float64{0.9, 0.9, 0.9, 0.9}, // 4 speech windows
		Default:       0.1,                           // then silence
	}
	asrMock := &asrmock.Recognizer{Transcripts: []string{"what time is it"}}
	llmMock := &llmmock.Provider{StreamChunks: [][]llm.Chunk{{
		{Text: "It is noon."}, {FinishReason: "stop"},
	}}}
	s := newTestSession(t, Config{
		Detector:  det,
		Providers: dialog.Providers{ASR: asrMock, LLM: llmMock, TTS: &ttsmock.Synthesizer{}},
	})

	// 4 speech + 3 silence windows: the silence bound closes the segment.
	for i := 0; i < 7; i++ {
		if err := s.PushAudio(pcmFrame(512)); err != nil {
			t.Fatal(err)
		}
	}

	events := collectUntil(t, s.Events(), "final text chunk", isFinalText)

	var up *dialog.AsrUpdate
	for _, e := range events {
		if u, ok := e.(dialog.AsrUpdate); ok {
			up = &u
		}
	}
	if up == nil || !up.IsFinal || up.Text != "what time is it" {
		t.Errorf("asr update = %+v", up)
	}
	if asrMock.CallCount() != 1 {
		t.Errorf("asr called %d times, want 1", asrMock.CallCount())
	}
	// The full segment, trailing silence included.
	if got := asrMock.Calls[0].SampleCount; got != 7*512 {
		t.Errorf("segment sample count = %d, want %d", got, 7*512)
	}
}

// Continuous speech past the segment bound is force-closed and recognised,
// and the speech that keeps coming opens a second segment that is recognised
// on its own.
func TestSessionContinuousSpeechSplitsSegments(t *testing.T) {
	t.Parallel()

	det := &vadmock.Detector{
		Probabilities: []float64{0.9, 0.9, 0.9, 0.9, 0.9, 0.9}, // 6 speech windows
		Default:       0.1,                                     // then silence
	}
	asrMock := &asrmock.Recognizer{Transcripts: []string{"tell me about", "the weather"}}
	llmMock := &llmmock.Provider{StreamChunks: [][]llm.Chunk{
		{{Text: "Sure."}, {FinishReason: "stop"}},
		{{Text: "Sunny."}, {FinishReason: "stop"}},
	}}
	cfg := testDialogConfig()
	cfg.MaxSegmentMs = 128 // 4 windows of 512 samples at 16 kHz
	s := newTestSession(t, Config{
		Dialog:    cfg,
		Detector:  det,
		Providers: dialog.Providers{ASR: asrMock, LLM: llmMock},
	})

	// 6 speech + 3 silence windows: the bound cuts a first segment after 4
	// windows, the remaining speech opens a second one closed by silence.
	for i := 0; i < 9; i++ {
		if err := s.PushAudio(pcmFrame(512)); err != nil {
			t.Fatal(err)
		}
	}

	finalUpdates := 0
	events := collectUntil(t, s.Events(), "second asr update", func(e dialog.Event) bool {
		if u, ok := e.(dialog.AsrUpdate); ok && u.IsFinal {
			finalUpdates++
		}
		return finalUpdates == 2
	})

	var texts []string
	for _, e := range events {
		if u, ok := e.(dialog.AsrUpdate); ok && u.IsFinal {
			texts = append(texts, u.Text)
		}
	}
	if len(texts) != 2 || texts[0] != "tell me about" || texts[1] != "the weather" {
		t.Errorf("asr updates = %v", texts)
	}
	if asrMock.CallCount() != 2 {
		t.Fatalf("asr called %d times, want 2", asrMock.CallCount())
	}
	if got := asrMock.Calls[0].SampleCount; got != 4*512 {
		t.Errorf("forced segment sample count = %d, want %d", got, 4*512)
	}
	// Second segment: 2 speech windows plus the 3 silence windows that
	// closed it.
	if got := asrMock.Calls[1].SampleCount; got != 5*512 {
		t.Errorf("second segment sample count = %d, want %d", got, 5*512)
	}
}

func TestSessionEndSpeechForcesSegment(t *testing.T) {
	t.Parallel()

	det := &vadmock.Detector{Default: 0.9}
	asrMock := &asrmock.Recognizer{Transcripts: []string{"cut short"}}
	llmMock := &llmmock.Provider{StreamChunks: [][]llm.Chunk{{
		{Text: "Ok."}, {FinishReason: "stop"},
	}}}
	s := newTestSession(t, Config{
		Detector:  det,
		Providers: dialog.Providers{ASR: asrMock, LLM: llmMock},
	})

	for i := 0; i < 2; i++ {
		if err := s.PushAudio(pcmFrame(512)); err != nil {
			t.Fatal(err)
		}
	}
	// Wait for the audio loop to consume both windows before forcing.
	deadline := time.Now().Add(2 * time.Second)
	for det.CallCount() < 2 && time.Now().Before(deadline) {
		time.Sleep(2 * time.Millisecond)
	}
	s.EndSpeech()

	events := collectUntil(t, s.Events(), "final text chunk", isFinalText)
	var up *dialog.AsrUpdate
	for _, e := range events {
		if u, ok := e.(dialog.AsrUpdate); ok {
			up = &u
		}
	}
	if up == nil || up.Text != "cut short" {
		t.Errorf("asr update = %+v", up)
	}
	if got := asrMock.Calls[0].SampleCount; got != 2*512 {
		t.Errorf("segment sample count = %d, want %d", got, 2*512)
	}
}

func TestSessionRejectsMalformedFrame(t *testing.T) {
	t.Parallel()

	s := newTestSession(t, Config{Providers: dialog.Providers{LLM: &llmmock.Provider{}}})
	if err := s.PushAudio(make([]byte, 7)); !errors.Is(err, dialog.ErrInvalidFrame) {
		t.Errorf("PushAudio(odd) error = %v, want ErrInvalidFrame", err)
	}
}

func TestSessionUpdateActivationSettings(t *testing.T) {
	t.Parallel()

	s := newTestSession(t, Config{
		Activation: config.ActivationConfig{
			EnablePromptActivation: true,
			ActivationKeywords:     []string{"hello assistant"},
		},
		Providers: dialog.Providers{LLM: &llmmock.Provider{}},
	})

	settings, _ := s.ActivationSettings()
	settings.ActivationKeywords = []string{"hey voxhall"}
	s.UpdateActivationSettings(settings)

	got, _ := s.ActivationSettings()
	if len(got.ActivationKeywords) != 1 || got.ActivationKeywords[0] != "hey voxhall" {
		t.Errorf("keywords after update = %v", got.ActivationKeywords)
	}
}

func TestSessionCloseIsIdempotentAndClosesEvents(t *testing.T) {
	t.Parallel()

	s := newTestSession(t, Config{Providers: dialog.Providers{LLM: &llmmock.Provider{}}})
	<-s.Events() // SessionStarted

	if err := s.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}

	select {
	case _, ok := <-s.Events():
		if ok {
			t.Error("event after close")
		}
	case <-time.After(2 * time.Second):
		t.Error("event channel not closed after Close")
	}
}

func TestRegistry(t *testing.T) {
	t.Parallel()

	r := NewRegistry()
	if _, err := r.Get("nope"); !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("Get(unknown) error = %v, want ErrSessionNotFound", err)
	}

	s := newTestSession(t, Config{Providers: dialog.Providers{LLM: &llmmock.Provider{}}})
	r.Put(s)
	if r.Len() != 1 {
		t.Fatalf("Len() = %d, want 1", r.Len())
	}
	got, err := r.Get(s.ID())
	if err != nil || got != s {
		t.Fatalf("Get = %v, %v", got, err)
	}

	statuses := r.Statuses()
	if len(statuses) != 1 || statuses[0].ID != s.ID() {
		t.Errorf("Statuses() = %+v", statuses)
	}

	if removed := r.Remove(s.ID()); removed != s {
		t.Errorf("Remove returned %v", removed)
	}
	if r.Len() != 0 {
		t.Errorf("Len() after Remove = %d", r.Len())
	}
}

func TestRegistryCloseAll(t *testing.T) {
	t.Parallel()

	r := NewRegistry()
	a := newTestSession(t, Config{Providers: dialog.Providers{LLM: &llmmock.Provider{}}})
	b := newTestSession(t, Config{Providers: dialog.Providers{LLM: &llmmock.Provider{}}})
	r.Put(a)
	r.Put(b)

	if err := r.CloseAll(); err != nil {
		t.Fatalf("CloseAll: %v", err)
	}
	if r.Len() != 0 {
		t.Errorf("Len() after CloseAll = %d", r.Len())
	}
}
