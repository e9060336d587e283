// Package mock provides a test double for the llm package.
//
// Use Provider to script streamed chunks and inspect the requests that were
// submitted:
//
//	p := &mock.Provider{StreamChunks: [][]llm.Chunk{{
//	    {Text: "Hello. "}, {Text: "World."}, {FinishReason: "stop"},
//	}}}
//	ch, _ := p.StreamCompletion(ctx, req)
package mock

import (
	"context"
	"sync"

	"github.com/voxhall/voxhall/pkg/provider/llm"
)

// Provider is a mock implementation of llm.Provider.
type Provider struct {
	mu sync.Mutex

	// StreamChunks holds one chunk script per StreamCompletion call, in
	// order. When exhausted, a single {FinishReason: "stop"} chunk is
	// streamed.
	StreamChunks [][]llm.Chunk

	// StreamErr, if non-nil, is returned as the initial error from every
	// StreamCompletion call.
	StreamErr error

	// StreamErrs, if non-empty, overrides StreamErr per call: entry i is
	// returned from call i (nil entries succeed).
	StreamErrs []error

	// ChunkGate, if non-nil, is received from before each chunk is emitted.
	// Lets tests pause the stream mid-reply (e.g. to inject a barge-in) and
	// observe cooperative cancellation.
	ChunkGate chan struct{}

	// CompleteResponse is returned from Complete.
	CompleteResponse *llm.CompletionResponse

	// CompleteErr, if non-nil, is returned as the error from Complete.
	CompleteErr error

	// StreamCalls records every CompletionRequest passed to StreamCompletion.
	StreamCalls []llm.CompletionRequest

	// CompleteCalls records every CompletionRequest passed to Complete.
	CompleteCalls []llm.CompletionRequest
}

var _ llm.Provider = (*Provider)(nil)

// StreamCompletion records the call and streams the next scripted chunks.
func (p *Provider) StreamCompletion(ctx context.Context, req llm.CompletionRequest) (<-chan llm.Chunk, error) {
	p.mu.Lock()
	idx := len(p.StreamCalls)
	p.StreamCalls = append(p.StreamCalls, req)
	var err error
	if idx < len(p.StreamErrs) {
		err = p.StreamErrs[idx]
	} else {
		err = p.StreamErr
	}
	var script []llm.Chunk
	if idx < len(p.StreamChunks) {
		script = p.StreamChunks[idx]
	} else {
		script = []llm.Chunk{{FinishReason: "stop"}}
	}
	gate := p.ChunkGate
	p.mu.Unlock()

	if err != nil {
		return nil, err
	}

	ch := make(chan llm.Chunk)
	go func() {
		defer close(ch)
		for _, c := range script {
			if gate != nil {
				select {
				case <-gate:
				case <-ctx.Done():
					return
				}
			}
			select {
			case ch <- c:
			case <-ctx.Done():
				return
			}
		}
	}()
	return ch, nil
}

// Complete records the call and returns CompleteResponse, CompleteErr.
func (p *Provider) Complete(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	p.mu.Lock()
	p.CompleteCalls = append(p.CompleteCalls, req)
	resp, err := p.CompleteResponse, p.CompleteErr
	p.mu.Unlock()
	if err != nil {
		return nil, err
	}
	if resp == nil {
		resp = &llm.CompletionResponse{}
	}
	return resp, nil
}

// StreamCallCount returns the number of StreamCompletion invocations so far.
func (p *Provider) StreamCallCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.StreamCalls)
}

// LastStreamCall returns the most recent StreamCompletion request, or a zero
// request when none were made.
func (p *Provider) LastStreamCall() llm.CompletionRequest {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.StreamCalls) == 0 {
		return llm.CompletionRequest{}
	}
	return p.StreamCalls[len(p.StreamCalls)-1]
}
