// Package openai provides a TTS synthesizer backed by the OpenAI speech
// endpoint. The endpoint is request/response rather than streaming, so each
// sentence comes back as one PCM payload that is re-chunked for the outbound
// audio path.
package openai

import (
	"context"
	"errors"
	"fmt"
	"io"

	oai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/packages/param"

	"github.com/voxhall/voxhall/pkg/provider/tts"
)

const (
	defaultModel = "gpt-4o-mini-tts"
	defaultVoice = "alloy"

	// pcmSampleRate is the fixed rate of the endpoint's pcm response format.
	pcmSampleRate = 24000

	// chunkBytes is the outbound chunk size (~85 ms of 24 kHz PCM16).
	chunkBytes = 4096
)

// Option is a functional option for configuring the Provider.
type Option func(*Provider)

// WithModel sets the speech model (e.g., "gpt-4o-mini-tts", "tts-1").
func WithModel(model string) Option {
	return func(p *Provider) { p.model = model }
}

// WithVoice sets the default voice used when Request.Voice is empty.
func WithVoice(voice string) Option {
	return func(p *Provider) { p.voice = voice }
}

// WithBaseURL overrides the default API base URL.
func WithBaseURL(url string) Option {
	return func(p *Provider) { p.baseURL = url }
}

// Provider implements tts.Synthesizer using the OpenAI speech endpoint.
type Provider struct {
	client  oai.Client
	model   string
	voice   string
	baseURL string
}

var _ tts.Synthesizer = (*Provider)(nil)

// New constructs a new OpenAI TTS Provider.
func New(apiKey string, opts ...Option) (*Provider, error) {
	if apiKey == "" {
		return nil, errors.New("openai: apiKey must not be empty")
	}
	p := &Provider{model: defaultModel, voice: defaultVoice}
	for _, o := range opts {
		o(p)
	}
	reqOpts := []option.RequestOption{option.WithAPIKey(apiKey)}
	if p.baseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(p.baseURL))
	}
	p.client = oai.NewClient(reqOpts...)
	return p, nil
}

// Synthesize requests the sentence as raw PCM and streams it in fixed-size
// chunks.
func (p *Provider) Synthesize(ctx context.Context, req tts.Request) (<-chan tts.Chunk, error) {
	if req.Text == "" {
		return nil, errors.New("openai: text must not be empty")
	}
	voice := req.Voice
	if voice == "" {
		voice = p.voice
	}

	params := oai.AudioSpeechNewParams{
		Model:          oai.SpeechModel(p.model),
		Input:          req.Text,
		Voice:          oai.AudioSpeechNewParamsVoice(voice),
		ResponseFormat: oai.AudioSpeechNewParamsResponseFormatPCM,
	}
	if req.Rate > 0 {
		params.Speed = param.NewOpt(req.Rate)
	}

	resp, err := p.client.Audio.Speech.New(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("openai: speech request: %w", err)
	}

	ch := make(chan tts.Chunk, 8)
	go func() {
		defer close(ch)
		defer resp.Body.Close()

		buf := make([]byte, chunkBytes)
		for {
			n, err := io.ReadFull(resp.Body, buf)
			if n > 0 {
				data := make([]byte, n)
				copy(data, buf[:n])
				select {
				case ch <- tts.Chunk{Data: data, Codec: "pcm16", SampleRate: pcmSampleRate}:
				case <-ctx.Done():
					return
				}
			}
			if err != nil {
				if !errors.Is(err, io.EOF) && !errors.Is(err, io.ErrUnexpectedEOF) && ctx.Err() == nil {
					select {
					case ch <- tts.Chunk{Err: fmt.Errorf("openai: read speech body: %w", err)}:
					case <-ctx.Done():
					}
				}
				return
			}
		}
	}()

	return ch, nil
}
