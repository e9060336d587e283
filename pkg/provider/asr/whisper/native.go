// This file contains the NativeProvider implementation backed by the
// whisper.cpp CGO bindings. The whisper.cpp static library (libwhisper.a)
// and headers (whisper.h) must be available at link time via LIBRARY_PATH
// and C_INCLUDE_PATH environment variables.

package whisper

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/voxhall/voxhall/pkg/audio"
	"github.com/voxhall/voxhall/pkg/provider/asr"
	whisperlib "github.com/ggerganov/whisper.cpp/bindings/go/pkg/whisper"
)

// Compile-time assertion that NativeProvider satisfies asr.Recognizer.
var _ asr.Recognizer = (*NativeProvider)(nil)

// NativeProvider implements asr.Recognizer using the whisper.cpp Go bindings
// (CGO), eliminating HTTP overhead entirely. The model is loaded once at
// startup and shared across all sessions; each Recognize call creates its own
// whisper context so concurrent segments do not interfere.
type NativeProvider struct {
	model    whisperlib.Model
	language string

	mu sync.Mutex // whisper contexts are cheap, the model is not re-entrant
}

// NativeOption is a functional option for configuring a NativeProvider.
type NativeOption func(*NativeProvider)

// WithNativeLanguage sets the BCP-47 language code for transcription
// (e.g., "en", "de", "fr"). Defaults to "en".
func WithNativeLanguage(lang string) NativeOption {
	return func(p *NativeProvider) { p.language = lang }
}

// NewNative creates a NativeProvider that loads the whisper.cpp model from
// the given file path. The caller must call Close when the provider is no
// longer needed.
func NewNative(modelPath string, opts ...NativeOption) (*NativeProvider, error) {
	if modelPath == "" {
		return nil, errors.New("whisper: modelPath must not be empty")
	}
	model, err := whisperlib.New(modelPath)
	if err != nil {
		return nil, fmt.Errorf("whisper: load model %q: %w", modelPath, err)
	}
	p := &NativeProvider{model: model, language: defaultLanguage}
	for _, o := range opts {
		o(p)
	}
	return p, nil
}

// Close releases the whisper model.
func (p *NativeProvider) Close() error {
	if p.model != nil {
		return p.model.Close()
	}
	return nil
}

// Recognize runs in-process inference over the segment.
func (p *NativeProvider) Recognize(ctx context.Context, req asr.Request) (asr.Transcript, error) {
	if len(req.Samples) == 0 {
		return asr.Transcript{Final: true}, nil
	}
	if err := ctx.Err(); err != nil {
		return asr.Transcript{}, fmt.Errorf("whisper: context already cancelled: %w", err)
	}

	lang := req.Language
	if lang == "" {
		lang = p.language
	}
	samples := audio.Int16ToFloat32(req.Samples)

	p.mu.Lock()
	defer p.mu.Unlock()

	wctx, err := p.model.NewContext()
	if err != nil {
		return asr.Transcript{}, fmt.Errorf("whisper: create context: %w", err)
	}
	if lang != "" {
		if err := wctx.SetLanguage(lang); err != nil {
			return asr.Transcript{}, fmt.Errorf("whisper: set language %q: %w", lang, err)
		}
	}
	if err := wctx.Process(samples, nil, nil, nil); err != nil {
		return asr.Transcript{}, fmt.Errorf("whisper: process audio: %w", err)
	}

	var sb strings.Builder
	for {
		segment, err := wctx.NextSegment()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return asr.Transcript{}, fmt.Errorf("whisper: read segment: %w", err)
		}
		if sb.Len() > 0 {
			sb.WriteByte(' ')
		}
		sb.WriteString(strings.TrimSpace(segment.Text))
	}

	return asr.Transcript{Text: sb.String(), Final: true}, nil
}
