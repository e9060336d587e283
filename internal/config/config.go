// Package config provides the configuration schema, loader, and capability
// registry for the voxhall dialog server.
package config

import (
	"log/slog"
	"time"
)

// LogLevel controls log verbosity for the server.
type LogLevel string

const (
	LogDebug   LogLevel = "DEBUG"
	LogInfo    LogLevel = "INFO"
	LogWarning LogLevel = "WARNING"
	LogError   LogLevel = "ERROR"
)

// IsValid reports whether l is a recognised log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarning, LogError:
		return true
	}
	return false
}

// Slog maps the level to its log/slog equivalent. Unknown levels map to
// info.
func (l LogLevel) Slog() slog.Level {
	switch l {
	case LogDebug:
		return slog.LevelDebug
	case LogWarning:
		return slog.LevelWarn
	case LogError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Config is the root configuration structure for voxhall.
// It is typically loaded from a YAML file using [Load] or [LoadFromReader].
type Config struct {
	Modules    ModulesConfig    `yaml:"modules"`
	Activation ActivationConfig `yaml:"activation_settings"`
	Transport  TransportConfig  `yaml:"transport"`
	Global     GlobalConfig     `yaml:"global_settings"`
	Dialog     DialogConfig     `yaml:"dialog"`
}

// ModulesConfig declares one capability module per pipeline stage.
type ModulesConfig struct {
	VAD ModuleConfig `yaml:"vad"`
	ASR ModuleConfig `yaml:"asr"`
	LLM ModuleConfig `yaml:"llm"`
	TTS ModuleConfig `yaml:"tts"`
}

// ModuleConfig selects and configures a single capability adapter.
type ModuleConfig struct {
	// Enabled toggles the module. A disabled ASR module turns the server
	// into a text-only dialog endpoint; a disabled TTS module produces
	// text-only replies.
	Enabled bool `yaml:"enabled"`

	// AdapterType selects the registered adapter implementation
	// (e.g., "energy", "whisper", "anyllm", "elevenlabs").
	AdapterType string `yaml:"adapter_type"`

	// Config holds per-adapter option maps keyed by adapter type, so a
	// config file can carry the settings of several adapters and switch
	// between them by changing AdapterType alone.
	Config map[string]AdapterOptions `yaml:"config"`
}

// Options returns the option map for the selected adapter type. Never nil.
func (m ModuleConfig) Options() AdapterOptions {
	if opts, ok := m.Config[m.AdapterType]; ok {
		return opts
	}
	return AdapterOptions{}
}

// AdapterOptions is a free-form option map for one adapter. Values may be
// strings, numbers, booleans, or nested maps.
type AdapterOptions map[string]any

// String returns the option under key as a string, or def when absent or of
// another type.
func (o AdapterOptions) String(key, def string) string {
	if v, ok := o[key].(string); ok {
		return v
	}
	return def
}

// Int returns the option under key as an int, or def when absent. YAML
// numbers may decode as int or float64 depending on formatting.
func (o AdapterOptions) Int(key string, def int) int {
	switch v := o[key].(type) {
	case int:
		return v
	case float64:
		return int(v)
	}
	return def
}

// Float returns the option under key as a float64, or def when absent.
func (o AdapterOptions) Float(key string, def float64) float64 {
	switch v := o[key].(type) {
	case float64:
		return v
	case int:
		return float64(v)
	}
	return def
}

// ActivationConfig gates the dialog behind a wake keyword.
type ActivationConfig struct {
	// EnablePromptActivation turns the gate on. When false every transcript
	// reaches the LLM directly.
	EnablePromptActivation bool `yaml:"enable_prompt_activation"`

	// ActivationKeywords are the wake phrases. Matching is case-insensitive
	// with fuzzy tolerance for ASR mis-hearings.
	ActivationKeywords []string `yaml:"activation_keywords"`

	// DeactivationKeywords put the session back to sleep explicitly.
	DeactivationKeywords []string `yaml:"deactivation_keywords"`

	// ActivationTimeoutSeconds deactivates the session after this much idle
	// time. Zero disables the timeout.
	ActivationTimeoutSeconds int `yaml:"activation_timeout_seconds"`

	// ActivationReply is the scripted response emitted once on activation.
	ActivationReply string `yaml:"activation_reply"`

	// DeactivationReply is the scripted response emitted once on deactivation.
	DeactivationReply string `yaml:"deactivation_reply"`

	// PromptIfNotActivated is the scripted response for input received while
	// the gate is closed. Empty suppresses it.
	PromptIfNotActivated string `yaml:"prompt_if_not_activated"`
}

// TransportConfig holds WebSocket server settings.
type TransportConfig struct {
	// Host is the listen address (e.g., "0.0.0.0").
	Host string `yaml:"host"`

	// Port is the TCP listen port.
	Port int `yaml:"port"`

	// MaxMessageSize caps a single inbound WebSocket message in bytes.
	MaxMessageSize int64 `yaml:"max_message_size"`
}

// GlobalConfig holds process-wide settings.
type GlobalConfig struct {
	// LogLevel controls verbosity: DEBUG, INFO, WARNING, ERROR.
	LogLevel LogLevel `yaml:"log_level"`
}

// DialogConfig tunes the per-session pipeline. Zero values select the
// defaults documented on each field (applied by [ApplyDefaults]).
type DialogConfig struct {
	// SampleRate is the fixed inbound audio rate in Hz. Default 16000.
	SampleRate int `yaml:"sample_rate"`

	// WindowSamples is the VAD window size in samples. Default 512.
	WindowSamples int `yaml:"window_samples"`

	// BacklogSeconds caps buffered unprocessed audio; older windows are
	// dropped first. Default 10.
	BacklogSeconds int `yaml:"backlog_seconds"`

	// SpeechThreshold is the VAD probability at or above which a window
	// counts as speech. Default 0.65.
	SpeechThreshold float64 `yaml:"speech_threshold"`

	// EOSSilenceMs closes an open speech segment after this much trailing
	// silence. Default 1200.
	EOSSilenceMs int `yaml:"eos_silence_ms"`

	// MaxSegmentMs force-closes a segment that exceeds this duration.
	// Default 5000.
	MaxSegmentMs int `yaml:"max_segment_ms"`

	// CarryoverWindowMs is how long a barge-in-cancelled turn's user text
	// remains eligible for prompt carry-over. Default 8000.
	CarryoverWindowMs int `yaml:"carryover_window_ms"`

	// MaxPendingChars force-flushes the sentence splitter when no terminator
	// appeared within this many pending characters. Default 120.
	MaxPendingChars int `yaml:"max_pending_chars"`

	// OutboundQueueSize is the bounded outbound event queue capacity.
	// Default 64.
	OutboundQueueSize int `yaml:"outbound_queue_size"`

	// ProviderRetries is the retry count for transient provider failures.
	// Default 2.
	ProviderRetries int `yaml:"provider_retries"`

	// ASRTimeoutMs bounds one recognition call. Default 15000.
	ASRTimeoutMs int `yaml:"asr_timeout_ms"`

	// LLMFirstTokenTimeoutMs bounds the wait for the first token. Default 10000.
	LLMFirstTokenTimeoutMs int `yaml:"llm_first_token_timeout_ms"`

	// LLMTokenGapTimeoutMs bounds the gap between subsequent tokens.
	// Default 30000.
	LLMTokenGapTimeoutMs int `yaml:"llm_token_gap_timeout_ms"`

	// TTSTimeoutMs bounds one sentence synthesis. Default 20000.
	TTSTimeoutMs int `yaml:"tts_timeout_ms"`

	// ShutdownGraceMs is how long session teardown waits for in-flight work.
	// Default 5000.
	ShutdownGraceMs int `yaml:"shutdown_grace_ms"`

	// SystemPrompt is prepended to every LLM request.
	SystemPrompt string `yaml:"system_prompt"`

	// Voice is the default TTS voice identifier.
	Voice string `yaml:"voice"`

	// Language is the ASR language hint.
	Language string `yaml:"language"`
}

// ApplyDefaults fills zero-valued dialog knobs with their documented defaults.
func (d *DialogConfig) ApplyDefaults() {
	if d.SampleRate <= 0 {
		d.SampleRate = 16000
	}
	if d.WindowSamples <= 0 {
		d.WindowSamples = 512
	}
	if d.BacklogSeconds <= 0 {
		d.BacklogSeconds = 10
	}
	if d.SpeechThreshold <= 0 {
		d.SpeechThreshold = 0.65
	}
	if d.EOSSilenceMs <= 0 {
		d.EOSSilenceMs = 1200
	}
	if d.MaxSegmentMs <= 0 {
		d.MaxSegmentMs = 5000
	}
	if d.CarryoverWindowMs <= 0 {
		d.CarryoverWindowMs = 8000
	}
	if d.MaxPendingChars <= 0 {
		d.MaxPendingChars = 120
	}
	if d.OutboundQueueSize <= 0 {
		d.OutboundQueueSize = 64
	}
	if d.ProviderRetries < 0 {
		d.ProviderRetries = 0
	} else if d.ProviderRetries == 0 {
		d.ProviderRetries = 2
	}
	if d.ASRTimeoutMs <= 0 {
		d.ASRTimeoutMs = 15000
	}
	if d.LLMFirstTokenTimeoutMs <= 0 {
		d.LLMFirstTokenTimeoutMs = 10000
	}
	if d.LLMTokenGapTimeoutMs <= 0 {
		d.LLMTokenGapTimeoutMs = 30000
	}
	if d.TTSTimeoutMs <= 0 {
		d.TTSTimeoutMs = 20000
	}
	if d.ShutdownGraceMs <= 0 {
		d.ShutdownGraceMs = 5000
	}
}

// EOSSilence returns EOSSilenceMs as a duration.
func (d DialogConfig) EOSSilence() time.Duration {
	return time.Duration(d.EOSSilenceMs) * time.Millisecond
}

// MaxSegment returns MaxSegmentMs as a duration.
func (d DialogConfig) MaxSegment() time.Duration {
	return time.Duration(d.MaxSegmentMs) * time.Millisecond
}

// CarryoverWindow returns CarryoverWindowMs as a duration.
func (d DialogConfig) CarryoverWindow() time.Duration {
	return time.Duration(d.CarryoverWindowMs) * time.Millisecond
}

// ShutdownGrace returns ShutdownGraceMs as a duration.
func (d DialogConfig) ShutdownGrace() time.Duration {
	return time.Duration(d.ShutdownGraceMs) * time.Millisecond
}
