// Package server exposes the dialog pipeline over WebSocket. Text messages
// carry JSON envelopes; binary messages carry raw PCM16LE audio.
package server

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"time"

	"github.com/voxhall/voxhall/internal/dialog"
)

// Client-to-server event types.
const (
	EventClientSessionStart = "SYSTEM_CLIENT_SESSION_START"
	EventClientTextInput    = "CLIENT_TEXT_INPUT"
	EventClientSpeechEnd    = "CLIENT_SPEECH_END"
	EventConfigGet          = "CONFIG_GET"
	EventConfigSet          = "CONFIG_SET"
	EventModuleStatusGet    = "MODULE_STATUS_GET"
)

// Server-to-client event types.
const (
	EventServerSessionStart  = "SYSTEM_SERVER_SESSION_START"
	EventServerTextResponse  = "SERVER_TEXT_RESPONSE"
	EventServerAudioResponse = "SERVER_AUDIO_RESPONSE"
	EventASRUpdate           = "ASR_UPDATE"
	EventServerSystemMessage = "SERVER_SYSTEM_MESSAGE"
	EventError               = "ERROR"
	EventConfigSnapshot      = "CONFIG_SNAPSHOT"
	EventModuleStatusReport  = "MODULE_STATUS_REPORT"
)

// Envelope is the JSON frame wrapping every text message in both directions.
type Envelope struct {
	EventType string          `json:"event_type"`
	EventData json.RawMessage `json:"event_data,omitempty"`

	// TagID is an opaque client correlation token, echoed back verbatim on
	// direct responses.
	TagID string `json:"tag_id,omitempty"`

	SessionID string `json:"session_id,omitempty"`

	// Timestamp is the send time in Unix milliseconds. Set by the sender.
	Timestamp int64 `json:"timestamp,omitempty"`
}

// DecodeEnvelope parses one inbound text message.
func DecodeEnvelope(data []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return Envelope{}, fmt.Errorf("%w: %v", dialog.ErrProtocolViolation, err)
	}
	if env.EventType == "" {
		return Envelope{}, fmt.Errorf("%w: missing event_type", dialog.ErrProtocolViolation)
	}
	return env, nil
}

// SessionStartData is the SYSTEM_CLIENT_SESSION_START and
// SYSTEM_SERVER_SESSION_START payload.
type SessionStartData struct {
	SessionID         string `json:"session_id,omitempty"`
	ActivationEnabled bool   `json:"activation_enabled,omitempty"`
	Active            bool   `json:"active,omitempty"`
}

// TextInputData is the CLIENT_TEXT_INPUT payload.
type TextInputData struct {
	Text string `json:"text"`
}

// TextResponseData is the SERVER_TEXT_RESPONSE payload.
type TextResponseData struct {
	Text    string `json:"text"`
	IsFinal bool   `json:"is_final"`
}

// AudioResponseData is the SERVER_AUDIO_RESPONSE payload. Data is base64.
type AudioResponseData struct {
	Data       string `json:"data"`
	Codec      string `json:"codec"`
	SampleRate int    `json:"sample_rate,omitempty"`
}

// ASRUpdateData is the ASR_UPDATE payload.
type ASRUpdateData struct {
	Text    string `json:"text"`
	IsFinal bool   `json:"is_final"`
}

// SystemMessageData is the SERVER_SYSTEM_MESSAGE payload.
type SystemMessageData struct {
	Text string `json:"text"`
}

// ErrorData is the ERROR payload.
type ErrorData struct {
	Text string `json:"text"`
	Kind string `json:"kind"`
}

// ActivationData mirrors the runtime-settable activation settings. Active is
// read-only state, reported but ignored on CONFIG_SET.
type ActivationData struct {
	EnablePromptActivation   bool     `json:"enable_prompt_activation"`
	ActivationKeywords       []string `json:"activation_keywords"`
	DeactivationKeywords     []string `json:"deactivation_keywords"`
	ActivationTimeoutSeconds int      `json:"activation_timeout_seconds"`
	ActivationReply          string   `json:"activation_reply"`
	DeactivationReply        string   `json:"deactivation_reply"`
	PromptIfNotActivated     string   `json:"prompt_if_not_activated"`
	Active                   bool     `json:"active,omitempty"`
}

// ConfigSnapshotData is the CONFIG_SNAPSHOT payload and, with pointer fields
// treated as optional, the CONFIG_SET payload.
type ConfigSnapshotData struct {
	LogLevel   string          `json:"log_level,omitempty"`
	Activation *ActivationData `json:"activation_settings,omitempty"`
}

// ModuleStatusData is the MODULE_STATUS_REPORT payload.
type ModuleStatusData struct {
	// Modules maps capability name (vad, asr, llm, tts) to "ready" or
	// "disabled".
	Modules map[string]string `json:"modules"`

	// State is the session's current turn state.
	State string `json:"state"`

	// Activated reports the wake gate.
	Activated bool `json:"activated"`

	// HistoryLen is the number of conversation history entries.
	HistoryLen int `json:"history_len"`

	// UptimeSeconds is seconds since the session started.
	UptimeSeconds int64 `json:"uptime_seconds"`
}

// newEnvelope wraps a payload for sending.
func newEnvelope(eventType, sessionID, tagID string, payload any) (Envelope, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return Envelope{}, fmt.Errorf("encode %s: %w", eventType, err)
	}
	return Envelope{
		EventType: eventType,
		EventData: data,
		TagID:     tagID,
		SessionID: sessionID,
		Timestamp: time.Now().UnixMilli(),
	}, nil
}

// EncodeEvent maps a pipeline event to its wire envelope.
func EncodeEvent(sessionID string, e dialog.Event) (Envelope, error) {
	switch ev := e.(type) {
	case dialog.SessionStarted:
		return newEnvelope(EventServerSessionStart, sessionID, "", SessionStartData{
			SessionID:         ev.SessionID,
			ActivationEnabled: ev.ActivationEnabled,
			Active:            ev.Active,
		})
	case dialog.TextChunk:
		return newEnvelope(EventServerTextResponse, sessionID, "", TextResponseData{
			Text:    ev.Text,
			IsFinal: ev.IsFinal,
		})
	case dialog.AudioChunk:
		return newEnvelope(EventServerAudioResponse, sessionID, "", AudioResponseData{
			Data:       base64.StdEncoding.EncodeToString(ev.Data),
			Codec:      ev.Codec,
			SampleRate: ev.SampleRate,
		})
	case dialog.AsrUpdate:
		return newEnvelope(EventASRUpdate, sessionID, "", ASRUpdateData{
			Text:    ev.Text,
			IsFinal: ev.IsFinal,
		})
	case dialog.SystemMessage:
		return newEnvelope(EventServerSystemMessage, sessionID, "", SystemMessageData{Text: ev.Text})
	case dialog.ErrorEvent:
		return newEnvelope(EventError, sessionID, "", ErrorData{
			Text: ev.Text,
			Kind: string(ev.Kind),
		})
	default:
		return Envelope{}, fmt.Errorf("encode: unhandled event %T", e)
	}
}
