package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/voxhall/voxhall/internal/config"
	"github.com/voxhall/voxhall/internal/dialog"
	"github.com/voxhall/voxhall/internal/observe"
	"github.com/voxhall/voxhall/internal/session"
	"github.com/voxhall/voxhall/pkg/provider/vad"
)

// Options holds the server's dependencies.
type Options struct {
	Config *config.Config

	// Providers are shared across sessions.
	Providers dialog.Providers

	// NewDetector builds a fresh per-session VAD. Nil disables voice input.
	NewDetector func() vad.Detector

	// Metrics may be nil.
	Metrics *observe.Metrics

	// LogLevel, when non-nil, is adjustable at runtime through CONFIG_SET.
	LogLevel *slog.LevelVar

	Logger *slog.Logger
}

// Server is the WebSocket front door: one connection carries one session.
type Server struct {
	cfg         *config.Config
	providers   dialog.Providers
	newDetector func() vad.Detector
	registry    *session.Registry
	metrics     *observe.Metrics
	logLevel    *slog.LevelVar
	log         *slog.Logger
}

// New creates a server.
func New(opts Options) *Server {
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}
	return &Server{
		cfg:         opts.Config,
		providers:   opts.Providers,
		newDetector: opts.NewDetector,
		registry:    session.NewRegistry(),
		metrics:     opts.Metrics,
		logLevel:    opts.LogLevel,
		log:         log,
	}
}

// Handler returns the HTTP handler: the WebSocket endpoint at /ws plus
// health and metrics endpoints.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.handleWS)
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	mux.Handle("/metrics", promhttp.Handler())
	return mux
}

// Run serves until ctx is cancelled, then closes all sessions and shuts the
// listener down within the configured grace period.
func (s *Server) Run(ctx context.Context) error {
	addr := fmt.Sprintf("%s:%d", s.cfg.Transport.Host, s.cfg.Transport.Port)
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("server: listen on %s: %w", addr, err)
	}

	httpSrv := &http.Server{
		Handler:     s.Handler(),
		BaseContext: func(net.Listener) context.Context { return ctx },
	}

	errCh := make(chan error, 1)
	go func() { errCh <- httpSrv.Serve(ln) }()
	s.log.Info("server listening", "addr", ln.Addr().String())

	select {
	case err := <-errCh:
		return fmt.Errorf("server: serve: %w", err)
	case <-ctx.Done():
	}

	s.log.Info("server shutting down", "sessions", s.registry.Len())
	if err := s.registry.CloseAll(); err != nil {
		s.log.Warn("session close during shutdown", "error", err)
	}

	grace := s.cfg.Dialog.ShutdownGrace()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), grace)
	defer cancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server: shutdown: %w", err)
	}
	return nil
}

// handleWS upgrades one connection and runs its message loop until the peer
// disconnects.
func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		s.log.Warn("websocket accept failed", "remote", r.RemoteAddr, "error", err)
		return
	}
	if s.cfg.Transport.MaxMessageSize > 0 {
		ws.SetReadLimit(s.cfg.Transport.MaxMessageSize)
	}

	c := &clientConn{srv: s, ws: ws, log: s.log.With("remote", r.RemoteAddr)}
	c.run(r.Context())
	_ = ws.Close(websocket.StatusNormalClosure, "")
}

// clientConn is the per-connection state. The read loop is the only reader;
// writes are serialized through send.
type clientConn struct {
	srv *Server
	ws  *websocket.Conn
	log *slog.Logger

	writeMu sync.Mutex
	sess    *session.Session
}

func (c *clientConn) run(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	defer c.teardown()

	for {
		typ, data, err := c.ws.Read(ctx)
		if err != nil {
			status := websocket.CloseStatus(err)
			if status == websocket.StatusNormalClosure || status == websocket.StatusGoingAway || errors.Is(err, context.Canceled) {
				c.log.Debug("connection closed", "status", status)
			} else {
				c.log.Info("connection read ended", "error", err)
			}
			return
		}
		switch typ {
		case websocket.MessageBinary:
			c.handleAudio(ctx, data)
		case websocket.MessageText:
			c.handleText(ctx, data)
		}
	}
}

func (c *clientConn) teardown() {
	if c.sess == nil {
		return
	}
	c.srv.registry.Remove(c.sess.ID())
	if err := c.sess.Close(); err != nil {
		c.log.Warn("session close", "error", err)
	}
	c.sess = nil
}

// handleAudio feeds one binary PCM frame into the session. Malformed frames
// produce an error event; the session survives.
func (c *clientConn) handleAudio(ctx context.Context, data []byte) {
	if c.sess == nil {
		c.sendError(ctx, "", dialog.KindProtocolViolation, "audio before session start")
		return
	}
	if err := c.sess.PushAudio(data); err != nil {
		c.sendError(ctx, "", dialog.Classify(err), err.Error())
	}
}

func (c *clientConn) handleText(ctx context.Context, data []byte) {
	env, err := DecodeEnvelope(data)
	if err != nil {
		c.sendError(ctx, "", dialog.KindProtocolViolation, err.Error())
		return
	}

	if env.EventType == EventClientSessionStart {
		c.startSession(ctx, env)
		return
	}
	if c.sess == nil {
		c.sendError(ctx, env.TagID, dialog.KindProtocolViolation,
			fmt.Sprintf("%s before session start", env.EventType))
		return
	}

	switch env.EventType {
	case EventClientTextInput:
		var in TextInputData
		if err := json.Unmarshal(env.EventData, &in); err != nil || in.Text == "" {
			c.sendError(ctx, env.TagID, dialog.KindProtocolViolation, "text input requires a non-empty text field")
			return
		}
		c.sess.SubmitText(in.Text)

	case EventClientSpeechEnd:
		c.sess.EndSpeech()

	case EventConfigGet:
		c.sendConfigSnapshot(ctx, env.TagID)

	case EventConfigSet:
		c.applyConfig(ctx, env)

	case EventModuleStatusGet:
		c.sendModuleStatus(ctx, env.TagID)

	default:
		c.sendError(ctx, env.TagID, dialog.KindProtocolViolation,
			fmt.Sprintf("unknown event_type %q", env.EventType))
	}
}

// startSession creates and starts this connection's session. A second start
// on the same connection is a protocol violation.
func (c *clientConn) startSession(ctx context.Context, env Envelope) {
	if c.sess != nil {
		c.sendError(ctx, env.TagID, dialog.KindProtocolViolation, "session already started")
		return
	}

	var start SessionStartData
	if len(env.EventData) > 0 {
		if err := json.Unmarshal(env.EventData, &start); err != nil {
			c.sendError(ctx, env.TagID, dialog.KindProtocolViolation, "malformed session start payload")
			return
		}
	}

	var detector vad.Detector
	if c.srv.newDetector != nil {
		detector = c.srv.newDetector()
	}

	sess := session.New(session.Config{
		ID:         start.SessionID,
		Dialog:     c.srv.cfg.Dialog,
		Activation: c.srv.cfg.Activation,
		Detector:   detector,
		Providers:  c.srv.providers,
		Metrics:    c.srv.metrics,
		Logger:     c.srv.log,
	})
	sess.Start(ctx)
	c.srv.registry.Put(sess)
	c.sess = sess

	go c.writeEvents(ctx, sess)
}

// writeEvents drains the session's outbound queue onto the wire. A write
// failure closes the connection so the read loop unwinds into teardown;
// stopping the drain alone would leave the bounded queue to fill and wedge
// the pipeline.
func (c *clientConn) writeEvents(ctx context.Context, sess *session.Session) {
	for e := range sess.Events() {
		env, err := EncodeEvent(sess.ID(), e)
		if err != nil {
			c.log.Warn("event encode failed", "error", err)
			continue
		}
		if err := c.send(ctx, env); err != nil {
			c.log.Debug("event write failed, closing connection", "error", err)
			c.ws.Close(websocket.StatusInternalError, "event write failed")
			return
		}
	}
}

func (c *clientConn) send(ctx context.Context, env Envelope) error {
	data, err := json.Marshal(env)
	if err != nil {
		return err
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	writeCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	return c.ws.Write(writeCtx, websocket.MessageText, data)
}

func (c *clientConn) sendError(ctx context.Context, tagID string, kind dialog.ErrorKind, text string) {
	sessionID := ""
	if c.sess != nil {
		sessionID = c.sess.ID()
	}
	env, err := newEnvelope(EventError, sessionID, tagID, ErrorData{Text: text, Kind: string(kind)})
	if err != nil {
		return
	}
	if err := c.send(ctx, env); err != nil {
		c.log.Debug("error write failed", "error", err)
	}
}

func (c *clientConn) sendConfigSnapshot(ctx context.Context, tagID string) {
	settings, active := c.sess.ActivationSettings()
	snap := ConfigSnapshotData{
		Activation: &ActivationData{
			EnablePromptActivation:   settings.Enabled,
			ActivationKeywords:       settings.ActivationKeywords,
			DeactivationKeywords:     settings.DeactivationKeywords,
			ActivationTimeoutSeconds: int(settings.IdleTimeout / time.Second),
			ActivationReply:          settings.ActivationReply,
			DeactivationReply:        settings.DeactivationReply,
			PromptIfNotActivated:     settings.PromptIfNotActivated,
			Active:                   active,
		},
	}
	if c.srv.logLevel != nil {
		snap.LogLevel = levelName(c.srv.logLevel.Level())
	}
	env, err := newEnvelope(EventConfigSnapshot, c.sess.ID(), tagID, snap)
	if err != nil {
		c.log.Warn("config snapshot encode failed", "error", err)
		return
	}
	_ = c.send(ctx, env)
}

// applyConfig handles CONFIG_SET: only the activation settings and the log
// level are adjustable at runtime. The reply is a fresh snapshot.
func (c *clientConn) applyConfig(ctx context.Context, env Envelope) {
	var set ConfigSnapshotData
	if err := json.Unmarshal(env.EventData, &set); err != nil {
		c.sendError(ctx, env.TagID, dialog.KindProtocolViolation, "malformed config payload")
		return
	}

	if set.LogLevel != "" {
		lvl := config.LogLevel(set.LogLevel)
		if !lvl.IsValid() {
			c.sendError(ctx, env.TagID, dialog.KindProtocolViolation,
				fmt.Sprintf("unknown log level %q", set.LogLevel))
			return
		}
		if c.srv.logLevel != nil {
			c.srv.logLevel.Set(lvl.Slog())
			c.log.Info("log level changed", "level", set.LogLevel)
		}
	}

	if set.Activation != nil {
		a := set.Activation
		if a.EnablePromptActivation && len(a.ActivationKeywords) == 0 {
			c.sendError(ctx, env.TagID, dialog.KindProtocolViolation, "activation requires at least one keyword")
			return
		}
		c.sess.UpdateActivationSettings(dialog.GateSettings{
			Enabled:              a.EnablePromptActivation,
			ActivationKeywords:   a.ActivationKeywords,
			DeactivationKeywords: a.DeactivationKeywords,
			IdleTimeout:          time.Duration(a.ActivationTimeoutSeconds) * time.Second,
			ActivationReply:      a.ActivationReply,
			DeactivationReply:    a.DeactivationReply,
			PromptIfNotActivated: a.PromptIfNotActivated,
		})
	}

	c.sendConfigSnapshot(ctx, env.TagID)
}

func (c *clientConn) sendModuleStatus(ctx context.Context, tagID string) {
	status := c.sess.Status()
	report := ModuleStatusData{
		Modules:       c.srv.moduleStates(),
		State:         string(status.State),
		Activated:     status.Activated,
		HistoryLen:    status.HistoryLen,
		UptimeSeconds: int64(time.Since(status.StartedAt) / time.Second),
	}
	env, err := newEnvelope(EventModuleStatusReport, c.sess.ID(), tagID, report)
	if err != nil {
		c.log.Warn("module status encode failed", "error", err)
		return
	}
	_ = c.send(ctx, env)
}

// moduleStates reports per-capability readiness.
func (s *Server) moduleStates() map[string]string {
	state := func(ready bool) string {
		if ready {
			return "ready"
		}
		return "disabled"
	}
	return map[string]string{
		"vad": state(s.newDetector != nil),
		"asr": state(s.providers.ASR != nil),
		"llm": state(s.providers.LLM != nil),
		"tts": state(s.providers.TTS != nil),
	}
}

// levelName maps a slog level back to the config naming.
func levelName(l slog.Level) string {
	switch {
	case l <= slog.LevelDebug:
		return string(config.LogDebug)
	case l <= slog.LevelInfo:
		return string(config.LogInfo)
	case l <= slog.LevelWarn:
		return string(config.LogWarning)
	default:
		return string(config.LogError)
	}
}
