// Package mock provides a test double for the tts package.
//
// Use Synthesizer to script per-sentence audio and inspect the requests that
// were submitted:
//
//	syn := &mock.Synthesizer{ChunksPerCall: 2}
//	ch, _ := syn.Synthesize(ctx, tts.Request{Text: "Hello."})
package mock

import (
	"context"
	"sync"

	"github.com/voxhall/voxhall/pkg/provider/tts"
)

// Synthesizer is a mock implementation of tts.Synthesizer.
type Synthesizer struct {
	mu sync.Mutex

	// ChunksPerCall is the number of audio chunks streamed per Synthesize
	// call. Defaults to 1. Each chunk's Data encodes the call index and
	// chunk index so tests can verify ordering.
	ChunksPerCall int

	// Codec and SampleRate are stamped on every emitted chunk. Defaults:
	// "pcm16", 16000.
	Codec      string
	SampleRate int

	// Err, if non-nil, is returned as the initial error from every
	// Synthesize call.
	Err error

	// Errs, if non-empty, overrides Err per call: entry i is returned from
	// call i (nil entries succeed).
	Errs []error

	// Block makes Synthesize's stream wait until the context is done before
	// emitting anything. Used by cancellation and timeout tests.
	Block bool

	// Calls records every Request passed to Synthesize, in order.
	Calls []tts.Request
}

var _ tts.Synthesizer = (*Synthesizer)(nil)

// Synthesize records the call and streams deterministic chunks.
func (s *Synthesizer) Synthesize(ctx context.Context, req tts.Request) (<-chan tts.Chunk, error) {
	s.mu.Lock()
	idx := len(s.Calls)
	s.Calls = append(s.Calls, req)
	var err error
	if idx < len(s.Errs) {
		err = s.Errs[idx]
	} else {
		err = s.Err
	}
	n := s.ChunksPerCall
	if n <= 0 {
		n = 1
	}
	codec := s.Codec
	if codec == "" {
		codec = "pcm16"
	}
	rate := s.SampleRate
	if rate <= 0 {
		rate = 16000
	}
	block := s.Block
	s.mu.Unlock()

	if err != nil {
		return nil, err
	}

	ch := make(chan tts.Chunk)
	go func() {
		defer close(ch)
		if block {
			<-ctx.Done()
			return
		}
		for i := 0; i < n; i++ {
			chunk := tts.Chunk{
				Data:       []byte{byte(idx), byte(i)},
				Codec:      codec,
				SampleRate: rate,
			}
			select {
			case ch <- chunk:
			case <-ctx.Done():
				return
			}
		}
	}()
	return ch, nil
}

// CallCount returns the number of Synthesize invocations so far.
func (s *Synthesizer) CallCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.Calls)
}

// Texts returns the Text of every recorded request, in call order.
func (s *Synthesizer) Texts() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.Calls))
	for i, c := range s.Calls {
		out[i] = c.Text
	}
	return out
}
