package dialog

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/voxhall/voxhall/pkg/provider/llm"
	"github.com/voxhall/voxhall/pkg/provider/tts"
)

// runReply streams the assistant's answer for prompt: LLM tokens are cut into
// sentences, each sentence is emitted as a text chunk and then fully
// synthesized before the next sentence starts, so audio order always matches
// text order. The returned string is the assistant text exactly as emitted,
// complete or partial, which is what the history records.
//
// The final empty TextChunk with IsFinal set is emitted only on normal
// completion; a cancelled or failed reply ends without it.
func (o *Orchestrator) runReply(ctx context.Context, prompt string) (string, error) {
	req := llm.CompletionRequest{
		Messages:     append(o.history.Messages(), llm.Message{Role: "user", Content: prompt}),
		SystemPrompt: o.cfg.SystemPrompt,
	}

	started := time.Now()
	var stream <-chan llm.Chunk
	err := o.callProvider(ctx, o.llmBreaker, "llm.stream", func(ctx context.Context) error {
		var err error
		stream, err = o.providers.LLM.StreamCompletion(ctx, req)
		return err
	})
	if err != nil {
		return "", o.escalate("llm", err)
	}

	splitter := &Splitter{MaxPendingChars: o.cfg.MaxPendingChars}
	var emitted strings.Builder

	// flush speaks one completed sentence: text chunk first, then the whole
	// sentence's audio.
	flush := func(sentence string) error {
		if sentence == "" {
			return nil
		}
		o.emit(TextChunk{Text: sentence})
		emitted.WriteString(sentence)
		return o.speak(ctx, sentence)
	}

	firstToken := true
	timer := time.NewTimer(o.cfg.LLMFirstTokenTimeout)
	defer timer.Stop()

stream:
	for {
		select {
		case <-ctx.Done():
			return emitted.String(), ctx.Err()
		case <-timer.C:
			return emitted.String(), fmt.Errorf("%w: llm stream stalled", ErrProviderTimeout)
		case chunk, ok := <-stream:
			if !ok {
				break stream
			}
			if chunk.FinishReason == llm.FinishReasonError {
				return emitted.String(), fmt.Errorf("%w: llm stream: %s", ErrProviderUnavailable, chunk.Text)
			}
			if firstToken && chunk.Text != "" {
				firstToken = false
				if o.metrics != nil {
					o.metrics.LLMFirstTokenDuration.Record(ctx, time.Since(started).Seconds())
				}
			}
			if !timer.Stop() {
				select {
				case <-timer.C:
				default:
				}
			}
			timer.Reset(o.cfg.LLMTokenGapTimeout)
			for _, sentence := range splitter.Push(chunk.Text) {
				if err := flush(sentence); err != nil {
					return emitted.String(), err
				}
			}
		}
	}

	if err := flush(splitter.Flush()); err != nil {
		return emitted.String(), err
	}
	if ctx.Err() != nil {
		return emitted.String(), ctx.Err()
	}
	o.emit(TextChunk{IsFinal: true})
	return emitted.String(), nil
}

// speak synthesizes one sentence and emits its audio chunks in order. A nil
// TTS backend (text-only deployment) makes this a no-op.
func (o *Orchestrator) speak(ctx context.Context, sentence string) error {
	if o.providers.TTS == nil {
		return nil
	}
	o.setState(StateSpeaking)
	defer o.setState(StateGenerating)

	started := time.Now()
	callCtx, cancel := context.WithTimeout(ctx, o.cfg.TTSTimeout)
	defer cancel()

	var chunks <-chan tts.Chunk
	err := o.callProvider(callCtx, o.ttsBreaker, "tts.synthesize", func(ctx context.Context) error {
		var err error
		chunks, err = o.providers.TTS.Synthesize(ctx, tts.Request{Text: sentence, Voice: o.cfg.Voice})
		return err
	})
	if err != nil {
		return o.escalate("tts", err)
	}

	for {
		select {
		case <-callCtx.Done():
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("%w: tts synthesis exceeded %s", ErrProviderTimeout, o.cfg.TTSTimeout)
		case chunk, ok := <-chunks:
			if !ok {
				if o.metrics != nil {
					o.metrics.TTSDuration.Record(ctx, time.Since(started).Seconds())
				}
				return nil
			}
			if chunk.Err != nil {
				return o.escalate("tts", chunk.Err)
			}
			if len(chunk.Data) > 0 {
				o.emit(AudioChunk{Data: chunk.Data, Codec: chunk.Codec, SampleRate: chunk.SampleRate})
			}
		}
	}
}
