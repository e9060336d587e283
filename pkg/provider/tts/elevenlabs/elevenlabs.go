// Package elevenlabs provides an ElevenLabs-backed TTS synthesizer using the
// ElevenLabs streaming WebSocket API.
package elevenlabs

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/coder/websocket"

	"github.com/voxhall/voxhall/pkg/provider/tts"
)

const (
	wsEndpointFmt    = "wss://api.elevenlabs.io/v1/text-to-speech/%s/stream-input?model_id=%s"
	defaultModel     = "eleven_flash_v2_5"
	defaultVoiceID   = "21m00Tcm4TlvDq8ikWAM"
	defaultOutputFmt = "pcm_16000"
	pcmSampleRate    = 16000
)

// Option is a functional option for configuring the Provider.
type Option func(*Provider)

// WithModel sets the ElevenLabs model ID (e.g., "eleven_flash_v2_5").
func WithModel(model string) Option {
	return func(p *Provider) { p.model = model }
}

// WithVoice sets the default voice ID used when Request.Voice is empty.
func WithVoice(voiceID string) Option {
	return func(p *Provider) { p.voiceID = voiceID }
}

// Provider implements tts.Synthesizer backed by the ElevenLabs streaming API.
// Each Synthesize call opens its own WebSocket, so concurrent sentences from
// different sessions do not interleave.
type Provider struct {
	apiKey  string
	model   string
	voiceID string
}

var _ tts.Synthesizer = (*Provider)(nil)

// New creates a new ElevenLabs Provider. apiKey must be non-empty.
func New(apiKey string, opts ...Option) (*Provider, error) {
	if apiKey == "" {
		return nil, errors.New("elevenlabs: apiKey must not be empty")
	}
	p := &Provider{apiKey: apiKey, model: defaultModel, voiceID: defaultVoiceID}
	for _, o := range opts {
		o(p)
	}
	return p, nil
}

// textMessage is the JSON payload sent to ElevenLabs for each text fragment.
type textMessage struct {
	Text          string         `json:"text"`
	VoiceSettings *voiceSettings `json:"voice_settings,omitempty"`
}

// voiceSettings mirrors the ElevenLabs voice_settings object.
type voiceSettings struct {
	Stability       float64 `json:"stability"`
	SimilarityBoost float64 `json:"similarity_boost"`
	Speed           float64 `json:"speed,omitempty"`
}

// audioResponse is the JSON message received over the WebSocket.
type audioResponse struct {
	Audio   string `json:"audio"` // base64-encoded PCM
	IsFinal bool   `json:"isFinal"`
	Message string `json:"message,omitempty"`
}

// boiMessage is the initial "begin of input" handshake.
type boiMessage struct {
	Text          string         `json:"text"`
	VoiceSettings *voiceSettings `json:"voice_settings,omitempty"`
	XiAPIKey      string         `json:"xi_api_key"`
	OutputFormat  string         `json:"output_format,omitempty"`
}

// Synthesize opens a WebSocket to ElevenLabs, sends the sentence, flushes,
// and streams the resulting PCM chunks until the server signals completion.
func (p *Provider) Synthesize(ctx context.Context, req tts.Request) (<-chan tts.Chunk, error) {
	if req.Text == "" {
		return nil, errors.New("elevenlabs: text must not be empty")
	}
	voice := req.Voice
	if voice == "" {
		voice = p.voiceID
	}

	wsURL := fmt.Sprintf(wsEndpointFmt, voice, p.model)
	conn, _, err := websocket.Dial(ctx, wsURL, nil)
	if err != nil {
		return nil, fmt.Errorf("elevenlabs: dial: %w", err)
	}

	vs := &voiceSettings{Stability: 0.5, SimilarityBoost: 0.75}
	if req.Rate > 0 {
		vs.Speed = req.Rate
	}

	// ElevenLabs requires a non-empty first text value.
	boi := boiMessage{
		Text:          " ",
		VoiceSettings: vs,
		XiAPIKey:      p.apiKey,
		OutputFormat:  defaultOutputFmt,
	}
	boiBytes, _ := json.Marshal(boi)
	if err := conn.Write(ctx, websocket.MessageText, boiBytes); err != nil {
		conn.Close(websocket.StatusInternalError, "failed to send BOI")
		return nil, fmt.Errorf("elevenlabs: send BOI: %w", err)
	}

	ch := make(chan tts.Chunk, 64)
	go func() {
		defer close(ch)
		defer conn.Close(websocket.StatusNormalClosure, "done")

		msg, _ := json.Marshal(textMessage{Text: req.Text + " "})
		if err := conn.Write(ctx, websocket.MessageText, msg); err != nil {
			emit(ctx, ch, tts.Chunk{Err: fmt.Errorf("elevenlabs: send text: %w", err)})
			return
		}
		// Empty text flushes the synthesis buffer and ends the stream.
		flush, _ := json.Marshal(textMessage{Text: ""})
		if err := conn.Write(ctx, websocket.MessageText, flush); err != nil {
			emit(ctx, ch, tts.Chunk{Err: fmt.Errorf("elevenlabs: flush: %w", err)})
			return
		}

		for {
			_, data, err := conn.Read(ctx)
			if err != nil {
				if ctx.Err() == nil {
					emit(ctx, ch, tts.Chunk{Err: fmt.Errorf("elevenlabs: read: %w", err)})
				}
				return
			}
			var resp audioResponse
			if err := json.Unmarshal(data, &resp); err != nil {
				continue
			}
			if resp.Audio != "" {
				pcm, err := base64.StdEncoding.DecodeString(resp.Audio)
				if err == nil && len(pcm) > 0 {
					if !emit(ctx, ch, tts.Chunk{Data: pcm, Codec: "pcm16", SampleRate: pcmSampleRate}) {
						return
					}
				}
			}
			if resp.IsFinal {
				return
			}
		}
	}()

	return ch, nil
}

func emit(ctx context.Context, ch chan<- tts.Chunk, c tts.Chunk) bool {
	select {
	case ch <- c:
		return true
	case <-ctx.Done():
		return false
	}
}
