// Package session binds one client connection to its dialog pipeline: the
// ingestion buffer, the VAD-driven segmenter, the turn orchestrator, and the
// bounded outbound event queue the transport drains.
package session

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/voxhall/voxhall/internal/config"
	"github.com/voxhall/voxhall/internal/dialog"
	"github.com/voxhall/voxhall/internal/observe"
	"github.com/voxhall/voxhall/pkg/provider/vad"
)

// idleCheckInterval is how often the activation idle timeout is evaluated.
const idleCheckInterval = time.Second

// Config holds everything a new session needs.
type Config struct {
	// ID is the session identifier. Empty generates a fresh UUID.
	ID string

	// Dialog tunes the pipeline. Defaults are applied by the loader.
	Dialog config.DialogConfig

	// Activation configures the wake-keyword gate.
	Activation config.ActivationConfig

	// Detector is the per-session VAD. Nil disables voice input; text input
	// still works.
	Detector vad.Detector

	// Providers are the capability backends shared across sessions.
	Providers dialog.Providers

	// Metrics may be nil.
	Metrics *observe.Metrics

	// Logger may be nil; the default logger is used then.
	Logger *slog.Logger
}

// Session is one client's conversation. All exported methods are safe for
// concurrent use; Start must be called exactly once before any input methods.
type Session struct {
	id        string
	cfg       Config
	log       *slog.Logger
	metrics   *observe.Metrics
	startedAt time.Time

	ingest   *dialog.Ingest
	detector vad.Detector
	orch     *dialog.Orchestrator
	outbound chan dialog.Event

	// segMu guards the segmenter, which is shared between the audio loop and
	// EndSpeech.
	segMu     sync.Mutex
	segmenter *dialog.Segmenter

	ctx    context.Context
	cancel context.CancelFunc
	eg     *errgroup.Group

	closeOnce sync.Once
	closeErr  error
}

// New assembles a session from its configuration. The pipeline does not run
// until [Session.Start].
func New(cfg Config) *Session {
	if cfg.ID == "" {
		cfg.ID = uuid.NewString()
	}
	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}
	log = log.With("session_id", cfg.ID)

	s := &Session{
		id:       cfg.ID,
		cfg:      cfg,
		log:      log,
		metrics:  cfg.Metrics,
		detector: cfg.Detector,
		outbound: make(chan dialog.Event, cfg.Dialog.OutboundQueueSize),
	}

	s.ingest = dialog.NewIngest(dialog.IngestConfig{
		SampleRate:     cfg.Dialog.SampleRate,
		WindowSamples:  cfg.Dialog.WindowSamples,
		BacklogSeconds: cfg.Dialog.BacklogSeconds,
		OnDrop:         s.onDrop,
	})
	s.segmenter = dialog.NewSegmenter(dialog.SegmenterConfig{
		SampleRate:      cfg.Dialog.SampleRate,
		SpeechThreshold: cfg.Dialog.SpeechThreshold,
		EOSSilenceMs:    cfg.Dialog.EOSSilenceMs,
		MaxSegmentMs:    cfg.Dialog.MaxSegmentMs,
	})

	var gate *dialog.Gate
	if cfg.Activation.EnablePromptActivation {
		gate = dialog.NewGate(gateSettings(cfg.Activation))
	}

	s.orch = dialog.NewOrchestrator(dialog.OrchestratorConfig{
		SampleRate:           cfg.Dialog.SampleRate,
		Language:             cfg.Dialog.Language,
		SystemPrompt:         cfg.Dialog.SystemPrompt,
		Voice:                cfg.Dialog.Voice,
		CarryoverWindow:      cfg.Dialog.CarryoverWindow(),
		MaxPendingChars:      cfg.Dialog.MaxPendingChars,
		Retries:              cfg.Dialog.ProviderRetries,
		ASRTimeout:           time.Duration(cfg.Dialog.ASRTimeoutMs) * time.Millisecond,
		LLMFirstTokenTimeout: time.Duration(cfg.Dialog.LLMFirstTokenTimeoutMs) * time.Millisecond,
		LLMTokenGapTimeout:   time.Duration(cfg.Dialog.LLMTokenGapTimeoutMs) * time.Millisecond,
		TTSTimeout:           time.Duration(cfg.Dialog.TTSTimeoutMs) * time.Millisecond,
	}, cfg.Providers, gate, &dialog.History{}, s.emit, cfg.Metrics, log)

	return s
}

// gateSettings maps the activation config onto gate settings.
func gateSettings(a config.ActivationConfig) dialog.GateSettings {
	return dialog.GateSettings{
		Enabled:              a.EnablePromptActivation,
		ActivationKeywords:   a.ActivationKeywords,
		DeactivationKeywords: a.DeactivationKeywords,
		IdleTimeout:          time.Duration(a.ActivationTimeoutSeconds) * time.Second,
		ActivationReply:      a.ActivationReply,
		DeactivationReply:    a.DeactivationReply,
		PromptIfNotActivated: a.PromptIfNotActivated,
	}
}

// Start launches the pipeline goroutines. ctx scopes the whole session; a
// cancelled ctx tears it down as [Session.Close] would, minus the grace wait.
func (s *Session) Start(ctx context.Context) {
	s.ctx, s.cancel = context.WithCancel(ctx)
	s.eg, s.ctx = errgroup.WithContext(s.ctx)
	s.startedAt = time.Now()

	settings, active := s.orch.GateState()
	s.emit(dialog.SessionStarted{
		SessionID:         s.id,
		ActivationEnabled: settings.Enabled,
		Active:            active,
	})

	s.eg.Go(func() error { return s.audioLoop(s.ctx) })
	s.eg.Go(func() error { s.orch.Run(s.ctx); return nil })
	s.eg.Go(func() error { return s.idleLoop(s.ctx) })

	s.log.Info("session started",
		"activation_enabled", settings.Enabled,
		"voice_input", s.detector != nil,
	)
	if s.metrics != nil {
		s.metrics.ActiveSessions.Add(s.ctx, 1)
	}
}

// audioLoop drains VAD windows, advances the segmenter, and hands closed
// segments to the orchestrator. Speech onset cancels the active reply before
// any transcription happens.
func (s *Session) audioLoop(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case frame, ok := <-s.ingest.Windows():
			if !ok {
				return nil
			}
			if s.detector == nil {
				continue
			}
			prob, err := s.detector.Detect(frame.PCM)
			if err != nil {
				s.log.Warn("vad detect failed; window treated as silence", "error", err)
				prob = 0
			}

			s.segMu.Lock()
			start, end := s.segmenter.Feed(frame, prob)
			s.segMu.Unlock()

			if start != nil {
				s.orch.NotifySpeechStarted()
			}
			if end != nil {
				s.submitSegment(ctx, end)
			}
		}
	}
}

func (s *Session) submitSegment(ctx context.Context, end *dialog.SpeechEnd) {
	s.log.Debug("speech segment closed",
		"samples", len(end.Samples),
		"offset", end.Offset,
		"forced", end.Forced,
	)
	s.orch.SubmitSegment(ctx, end.Samples)
}

// idleLoop periodically applies the activation idle timeout.
func (s *Session) idleLoop(ctx context.Context) error {
	ticker := time.NewTicker(idleCheckInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case now := <-ticker.C:
			s.orch.CheckActivationTimeout(now)
		}
	}
}

// emit enqueues an event onto the bounded outbound queue. A full queue blocks
// the pipeline rather than dropping the event; session teardown unblocks it.
func (s *Session) emit(e dialog.Event) {
	if s.ctx == nil {
		s.outbound <- e
		return
	}
	select {
	case s.outbound <- e:
	case <-s.ctx.Done():
	}
}

// onDrop reports an ingest backpressure episode. Only the first drop of an
// episode surfaces to the client.
func (s *Session) onDrop(n int) {
	if s.metrics != nil {
		s.metrics.FramesDropped.Add(context.Background(), 1)
	}
	if n == 1 {
		s.log.Warn("audio backlog full; dropping oldest audio")
		s.emit(dialog.SystemMessage{Text: "Audio is arriving faster than it can be processed; oldest audio was dropped."})
	}
}

// ID returns the session identifier.
func (s *Session) ID() string {
	return s.id
}

// Events returns the outbound event queue. It is closed after [Session.Close]
// has joined the pipeline goroutines.
func (s *Session) Events() <-chan dialog.Event {
	return s.outbound
}

// PushAudio feeds one binary PCM16LE frame into the pipeline. Malformed
// frames are rejected whole with [dialog.ErrInvalidFrame].
func (s *Session) PushAudio(frame []byte) error {
	return s.ingest.Push(frame)
}

// SubmitText queues direct text input, bypassing ASR.
func (s *Session) SubmitText(text string) {
	s.orch.SubmitText(s.ctx, text)
}

// EndSpeech force-closes the open speech segment, if any (push-to-talk
// release). The segment is submitted as if the silence bound had closed it.
func (s *Session) EndSpeech() {
	s.segMu.Lock()
	end := s.segmenter.ForceClose()
	s.segMu.Unlock()
	if end != nil {
		s.submitSegment(s.ctx, end)
	}
}

// CancelActive cancels the in-flight turn, if any.
func (s *Session) CancelActive() {
	s.orch.CancelActive()
}

// ActivationSettings returns the live activation settings and gate state.
func (s *Session) ActivationSettings() (dialog.GateSettings, bool) {
	return s.orch.GateState()
}

// UpdateActivationSettings replaces the activation settings at runtime.
func (s *Session) UpdateActivationSettings(settings dialog.GateSettings) {
	s.orch.UpdateGateSettings(settings)
	s.log.Info("activation settings updated", "enabled", settings.Enabled)
}

// Status describes a session for status reports.
type Status struct {
	ID         string
	State      dialog.TurnState
	Activated  bool
	HistoryLen int
	StartedAt  time.Time
}

// Status returns a point-in-time view of the session.
func (s *Session) Status() Status {
	_, active := s.orch.GateState()
	return Status{
		ID:         s.id,
		State:      s.orch.State(),
		Activated:  active,
		HistoryLen: s.orch.HistoryLen(),
		StartedAt:  s.startedAt,
	}
}

// Close tears the session down: input stops, the active turn is cancelled,
// and the pipeline goroutines are joined within the shutdown grace period.
// Idempotent.
func (s *Session) Close() error {
	s.closeOnce.Do(func() {
		s.log.Info("session closing")
		s.ingest.Close()
		s.orch.CancelActive()
		if s.cancel != nil {
			s.cancel()
		}

		if s.eg != nil {
			done := make(chan error, 1)
			go func() { done <- s.eg.Wait() }()
			select {
			case err := <-done:
				s.closeErr = err
				close(s.outbound)
			case <-time.After(s.cfg.Dialog.ShutdownGrace()):
				// Stragglers keep the outbound queue open so they cannot
				// panic on a closed channel; the queue is simply abandoned.
				s.closeErr = fmt.Errorf("session %s: pipeline did not stop within %s", s.id, s.cfg.Dialog.ShutdownGrace())
				s.log.Error("session teardown timed out", "grace", s.cfg.Dialog.ShutdownGrace())
			}
		} else {
			close(s.outbound)
		}

		if s.metrics != nil {
			s.metrics.ActiveSessions.Add(context.Background(), -1)
		}
		s.log.Info("session closed")
	})
	return s.closeErr
}
