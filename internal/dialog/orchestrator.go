package dialog

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/voxhall/voxhall/internal/observe"
	"github.com/voxhall/voxhall/internal/resilience"
	"github.com/voxhall/voxhall/pkg/provider/asr"
	"github.com/voxhall/voxhall/pkg/provider/llm"
	"github.com/voxhall/voxhall/pkg/provider/tts"
)

// TurnState tracks where the active turn is in its lifecycle. Exposed for
// status reporting and logs.
type TurnState string

const (
	StateListening    TurnState = "listening"
	StateTranscribing TurnState = "transcribing"
	StateGenerating   TurnState = "generating"
	StateSpeaking     TurnState = "speaking"
)

// OrchestratorConfig tunes an [Orchestrator].
type OrchestratorConfig struct {
	// SampleRate of inbound segments in Hz.
	SampleRate int

	// Language is the ASR language hint.
	Language string

	// SystemPrompt is prepended to every LLM request.
	SystemPrompt string

	// Voice is the TTS voice identifier.
	Voice string

	// CarryoverWindow is how long an interrupted turn's user text remains
	// eligible for prompt carry-over.
	CarryoverWindow time.Duration

	// MaxPendingChars force-flushes the sentence splitter.
	MaxPendingChars int

	// Retries is the transient-failure retry count per provider call.
	Retries int

	// ASRTimeout bounds one recognition call.
	ASRTimeout time.Duration

	// LLMFirstTokenTimeout bounds the wait for the first streamed token.
	LLMFirstTokenTimeout time.Duration

	// LLMTokenGapTimeout bounds the gap between subsequent tokens.
	LLMTokenGapTimeout time.Duration

	// TTSTimeout bounds one sentence synthesis.
	TTSTimeout time.Duration

	// QueueDepth is the pending turn-request queue capacity.
	QueueDepth int
}

func (c *OrchestratorConfig) applyDefaults() {
	if c.SampleRate <= 0 {
		c.SampleRate = 16000
	}
	if c.CarryoverWindow <= 0 {
		c.CarryoverWindow = 8 * time.Second
	}
	if c.MaxPendingChars <= 0 {
		c.MaxPendingChars = 120
	}
	if c.Retries < 0 {
		c.Retries = 0
	} else if c.Retries == 0 {
		c.Retries = 2
	}
	if c.ASRTimeout <= 0 {
		c.ASRTimeout = 15 * time.Second
	}
	if c.LLMFirstTokenTimeout <= 0 {
		c.LLMFirstTokenTimeout = 10 * time.Second
	}
	if c.LLMTokenGapTimeout <= 0 {
		c.LLMTokenGapTimeout = 30 * time.Second
	}
	if c.TTSTimeout <= 0 {
		c.TTSTimeout = 20 * time.Second
	}
	if c.QueueDepth <= 0 {
		c.QueueDepth = 8
	}
}

// Providers bundles the capability backends a session's orchestrator uses.
// ASR and TTS may be nil when their modules are disabled; LLM must be set.
type Providers struct {
	ASR asr.Recognizer
	LLM llm.Provider
	TTS tts.Synthesizer
}

// turnRequest is one queued unit of user input.
type turnRequest struct {
	text    string  // direct text input, when samples is nil
	samples []int16 // speech segment, when non-nil
	at      time.Time
}

// carryOver remembers the user text of a barge-in-cancelled turn so the next
// utterance can be prefixed with it.
type carryOver struct {
	text string
	at   time.Time
}

// Orchestrator drives turns through their lifecycle, strictly one at a time:
// transcribe, gate, generate, speak. User input is queued and processed in
// arrival order; a barge-in cancels the active turn cooperatively at the
// next chunk boundary.
type Orchestrator struct {
	cfg       OrchestratorConfig
	providers Providers
	gate      *Gate
	history   *History
	emit      Emitter
	metrics   *observe.Metrics
	log       *slog.Logger

	requests chan turnRequest

	// One breaker per backend so a flapping provider fails fast instead of
	// burning every turn's deadline budget.
	asrBreaker *resilience.CircuitBreaker
	llmBreaker *resilience.CircuitBreaker
	ttsBreaker *resilience.CircuitBreaker

	mu          sync.Mutex
	state       TurnState
	cancelTurn  context.CancelFunc // non-nil while a turn is active
	interrupted *carryOver
}

// NewOrchestrator creates an orchestrator. Call [Orchestrator.Run] to start
// the turn loop.
func NewOrchestrator(cfg OrchestratorConfig, providers Providers, gate *Gate, history *History, emit Emitter, metrics *observe.Metrics, log *slog.Logger) *Orchestrator {
	cfg.applyDefaults()
	if log == nil {
		log = slog.Default()
	}
	return &Orchestrator{
		cfg:        cfg,
		providers:  providers,
		gate:       gate,
		history:    history,
		emit:       emit,
		metrics:    metrics,
		log:        log,
		requests:   make(chan turnRequest, cfg.QueueDepth),
		asrBreaker: resilience.NewCircuitBreaker(resilience.CircuitBreakerConfig{Name: "asr"}),
		llmBreaker: resilience.NewCircuitBreaker(resilience.CircuitBreakerConfig{Name: "llm"}),
		ttsBreaker: resilience.NewCircuitBreaker(resilience.CircuitBreakerConfig{Name: "tts"}),
		state:      StateListening,
	}
}

// Run processes queued turn requests until ctx is cancelled. It owns all
// turn-loop state; only one Run per orchestrator.
func (o *Orchestrator) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case req := <-o.requests:
			o.processTurn(ctx, req)
		}
	}
}

// SubmitSegment queues a completed speech segment for transcription and
// reply. Blocks only when the turn queue is full.
func (o *Orchestrator) SubmitSegment(ctx context.Context, samples []int16) {
	select {
	case o.requests <- turnRequest{samples: samples, at: time.Now()}:
	case <-ctx.Done():
	}
}

// SubmitText queues direct text input, bypassing ASR. Input that arrives
// while a turn is active or a segment is open is processed after them, as an
// independent turn.
func (o *Orchestrator) SubmitText(ctx context.Context, text string) {
	select {
	case o.requests <- turnRequest{text: text, at: time.Now()}:
	case <-ctx.Done():
	}
}

// NotifySpeechStarted signals a barge-in: speech onset while a reply may be
// playing. The active turn, if any, is cancelled cooperatively; its partial
// output is preserved for carry-over.
func (o *Orchestrator) NotifySpeechStarted() {
	o.mu.Lock()
	cancel := o.cancelTurn
	o.mu.Unlock()
	if cancel != nil {
		cancel()
		if o.metrics != nil {
			o.metrics.BargeIns.Add(context.Background(), 1)
		}
		o.log.Debug("barge-in: cancelling active turn")
	}
}

// CancelActive cancels the active turn, if any. Idempotent.
func (o *Orchestrator) CancelActive() {
	o.mu.Lock()
	cancel := o.cancelTurn
	o.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// State returns the current turn state.
func (o *Orchestrator) State() TurnState {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.state
}

// GateState returns the current activation settings and whether the gate is
// open. A session without a gate reports open with zero settings.
func (o *Orchestrator) GateState() (GateSettings, bool) {
	if o.gate == nil {
		return GateSettings{}, true
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.gate.Settings(), o.gate.Active()
}

// UpdateGateSettings replaces the activation settings at runtime. A no-op
// without a gate.
func (o *Orchestrator) UpdateGateSettings(s GateSettings) {
	if o.gate == nil {
		return
	}
	o.mu.Lock()
	o.gate.UpdateSettings(s)
	o.mu.Unlock()
}

// HistoryLen reports the number of history entries, for status reporting.
func (o *Orchestrator) HistoryLen() int {
	return o.history.Len()
}

// CheckActivationTimeout applies the gate's idle timeout. Called
// periodically by the session.
func (o *Orchestrator) CheckActivationTimeout(now time.Time) {
	if o.gate == nil {
		return
	}
	o.mu.Lock()
	reply, deactivated := o.gate.CheckTimeout(now)
	o.mu.Unlock()
	if deactivated {
		o.log.Info("activation timed out; session deactivated")
		if reply != "" {
			o.emit(SystemMessage{Text: reply})
		}
	}
}

// ─── turn processing ─────────────────────────────────────────────────────────

func (o *Orchestrator) processTurn(ctx context.Context, req turnRequest) {
	turnCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	o.mu.Lock()
	o.cancelTurn = cancel
	o.mu.Unlock()
	defer func() {
		o.mu.Lock()
		o.cancelTurn = nil
		o.state = StateListening
		o.mu.Unlock()
	}()

	// ── Transcribing ──
	userText := req.text
	if req.samples != nil {
		o.setState(StateTranscribing)
		text, err := o.transcribe(turnCtx, req.samples)
		if err != nil {
			o.failTurn(ctx, turnCtx, "asr", err)
			return
		}
		o.emit(AsrUpdate{Text: text, IsFinal: true})
		userText = text
	}

	userText = strings.TrimSpace(userText)
	if userText == "" {
		// Nothing recognised; not an error, not a history entry.
		return
	}

	// ── Activation gate ──
	utterance := userText
	if o.gate != nil {
		o.mu.Lock()
		decision := o.gate.Evaluate(userText, time.Now())
		o.mu.Unlock()
		if decision.Reply != "" {
			o.emit(SystemMessage{Text: decision.Reply})
		}
		switch decision.Action {
		case GateRejected, GateDeactivated:
			return
		case GateActivated:
			if decision.Utterance == "" {
				// Bare wake phrase; the activation reply is the whole turn.
				return
			}
			utterance = decision.Utterance
		case GateForward:
			utterance = decision.Utterance
		}
	}

	// ── Carry-over from a barge-in-cancelled turn ──
	prompt := utterance
	o.mu.Lock()
	if co := o.interrupted; co != nil {
		if req.at.Sub(co.at) <= o.cfg.CarryoverWindow {
			prompt = co.text + " " + utterance
			o.log.Debug("applying carry-over from interrupted turn")
		}
		o.interrupted = nil
	}
	o.mu.Unlock()

	// ── Generating / Speaking ──
	o.setState(StateGenerating)
	started := time.Now()
	emitted, err := o.runReply(turnCtx, prompt)

	// The history records the turn exactly once, completed or not: the user
	// utterance as recognised, the assistant text as emitted.
	o.history.Append("user", utterance)
	if emitted != "" {
		// Partial or complete, the history records exactly what was said.
		o.history.Append("assistant", emitted)
	}

	switch {
	case turnCtx.Err() != nil && ctx.Err() == nil:
		// Cancelled by barge-in (or explicit cancel), not session shutdown.
		o.mu.Lock()
		o.interrupted = &carryOver{text: utterance, at: time.Now()}
		o.mu.Unlock()
		o.recordTurn(ctx, "cancelled")
		o.log.Info("turn cancelled", "emitted_chars", len(emitted))
	case err != nil:
		o.failTurn(ctx, turnCtx, "llm", err)
	default:
		o.recordTurn(ctx, "completed")
		if o.metrics != nil {
			o.metrics.LLMDuration.Record(ctx, time.Since(started).Seconds())
		}
	}
}

// transcribe runs ASR over the segment with deadline and retry.
func (o *Orchestrator) transcribe(ctx context.Context, samples []int16) (string, error) {
	if o.providers.ASR == nil {
		return "", fmt.Errorf("%w: no ASR backend configured", ErrProviderUnavailable)
	}

	started := time.Now()
	var transcript asr.Transcript
	err := o.callProvider(ctx, o.asrBreaker, "asr.recognize", func(ctx context.Context) error {
		callCtx, cancel := context.WithTimeout(ctx, o.cfg.ASRTimeout)
		defer cancel()
		var err error
		transcript, err = o.providers.ASR.Recognize(callCtx, asr.Request{
			Samples:    samples,
			SampleRate: o.cfg.SampleRate,
			Language:   o.cfg.Language,
		})
		return err
	})
	if o.metrics != nil {
		o.metrics.ASRDuration.Record(ctx, time.Since(started).Seconds())
	}
	if err != nil {
		return "", o.escalate("asr", err)
	}
	return strings.TrimSpace(transcript.Text), nil
}

// retryPolicy is shared by all provider calls: context errors are terminal,
// everything else is treated as transient.
func (o *Orchestrator) retryPolicy() resilience.RetryPolicy {
	return resilience.RetryPolicy{
		Retries:   o.cfg.Retries,
		BaseDelay: 200 * time.Millisecond,
		MaxDelay:  2 * time.Second,
	}
}

// callProvider runs one retried provider call through its circuit breaker.
// Cancellation never counts against the breaker; an open breaker rejects the
// call before fn runs.
func (o *Orchestrator) callProvider(ctx context.Context, breaker *resilience.CircuitBreaker, name string, fn func(context.Context) error) error {
	var callErr error
	err := breaker.Execute(func() error {
		callErr = resilience.Do(ctx, name, o.retryPolicy(), fn)
		if errors.Is(callErr, context.Canceled) {
			return nil
		}
		return callErr
	})
	if callErr != nil {
		return callErr
	}
	return err
}

// escalate classifies a post-retry provider error: deadline overruns stay
// timeouts, everything else becomes unavailable.
func (o *Orchestrator) escalate(kind string, err error) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, ErrProviderTimeout) {
		return fmt.Errorf("%w: %s: %v", ErrProviderTimeout, kind, err)
	}
	if errors.Is(err, context.Canceled) {
		return err
	}
	if errors.Is(err, resilience.ErrCircuitOpen) {
		return fmt.Errorf("%w: %s: %v", ErrProviderUnavailable, kind, err)
	}
	return fmt.Errorf("%w: %s after retries: %v", ErrProviderUnavailable, kind, err)
}

// failTurn reports a provider failure for the turn. Session-shutdown and
// barge-in cancellations are not failures and emit nothing.
func (o *Orchestrator) failTurn(ctx, turnCtx context.Context, kind string, err error) {
	if errors.Is(err, context.Canceled) || turnCtx.Err() == context.Canceled {
		return
	}
	errKind := Classify(err)
	o.log.Warn("turn failed", "stage", kind, "kind", string(errKind), "error", err)
	o.emit(ErrorEvent{Kind: errKind, Text: err.Error()})
	o.recordTurn(ctx, "failed")
	if o.metrics != nil {
		o.metrics.RecordProviderError(ctx, kind, strings.ToLower(string(errKind)))
	}
}

func (o *Orchestrator) setState(s TurnState) {
	o.mu.Lock()
	o.state = s
	o.mu.Unlock()
}

func (o *Orchestrator) recordTurn(ctx context.Context, state string) {
	if o.metrics != nil {
		o.metrics.RecordTurn(ctx, state)
	}
}
