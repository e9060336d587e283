// Package mock provides a test double for the asr package.
//
// Use Recognizer to script transcripts and inspect the segments that were
// submitted:
//
//	rec := &mock.Recognizer{Transcripts: []string{"hello there"}}
//	tr, _ := rec.Recognize(ctx, req)
package mock

import (
	"context"
	"sync"

	"github.com/voxhall/voxhall/pkg/provider/asr"
)

// RecognizeCall records a single invocation of Recognizer.Recognize.
type RecognizeCall struct {
	// SampleCount is len(req.Samples) at call time.
	SampleCount int

	// Language is the language hint passed in the request.
	Language string
}

// Recognizer is a mock implementation of asr.Recognizer.
type Recognizer struct {
	mu sync.Mutex

	// Transcripts is returned one entry per Recognize call, in order. When
	// exhausted, the empty string is returned.
	Transcripts []string

	// Err, if non-nil, is returned as the error from every Recognize call.
	Err error

	// Errs, if non-empty, overrides Err per call: entry i is returned from
	// call i (nil entries succeed). Lets tests script transient failures.
	Errs []error

	// Block makes Recognize wait until the context is done. Used by
	// cancellation and timeout tests.
	Block bool

	// Calls records every invocation in order.
	Calls []RecognizeCall
}

var _ asr.Recognizer = (*Recognizer)(nil)

// Recognize records the call and returns the next scripted transcript.
func (r *Recognizer) Recognize(ctx context.Context, req asr.Request) (asr.Transcript, error) {
	r.mu.Lock()
	idx := len(r.Calls)
	r.Calls = append(r.Calls, RecognizeCall{SampleCount: len(req.Samples), Language: req.Language})
	block := r.Block
	var err error
	if idx < len(r.Errs) {
		err = r.Errs[idx]
	} else {
		err = r.Err
	}
	var text string
	if idx < len(r.Transcripts) {
		text = r.Transcripts[idx]
	}
	r.mu.Unlock()

	if block {
		<-ctx.Done()
		return asr.Transcript{}, ctx.Err()
	}
	if err != nil {
		return asr.Transcript{}, err
	}
	return asr.Transcript{Text: text, Final: true}, nil
}

// CallCount returns the number of Recognize invocations so far.
func (r *Recognizer) CallCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.Calls)
}
