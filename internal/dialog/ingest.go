package dialog

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/voxhall/voxhall/pkg/audio"
)

// IngestConfig tunes an [Ingest] buffer.
type IngestConfig struct {
	// SampleRate of the inbound PCM in Hz.
	SampleRate int

	// WindowSamples is the emitted window size in samples.
	WindowSamples int

	// BacklogSeconds caps unconsumed buffered audio. When the backlog is
	// full the oldest windows are dropped first.
	BacklogSeconds int

	// OnDrop, if non-nil, is called once per backpressure episode with the
	// number of windows dropped so far in that episode.
	OnDrop func(dropped int)
}

// Ingest accepts PCM frames of arbitrary length and re-cuts them into fixed
// windows for the VAD, preserving sample order and stamping each window with
// its monotonic sample offset.
//
// Push is called by the transport reader; Windows is drained by the session's
// audio loop. When the loop falls behind, the oldest windows are discarded
// first and the episode is reported through OnDrop — speech recency matters
// more than completeness.
type Ingest struct {
	cfg IngestConfig

	mu      sync.Mutex
	pending []int16 // partial window accumulator
	offset  int64   // stream offset of pending[0]
	windows chan audio.Frame
	dropped int // windows dropped in the current episode
	closed  bool
}

// NewIngest creates an ingestion buffer.
func NewIngest(cfg IngestConfig) *Ingest {
	if cfg.SampleRate <= 0 {
		cfg.SampleRate = 16000
	}
	if cfg.WindowSamples <= 0 {
		cfg.WindowSamples = 512
	}
	if cfg.BacklogSeconds <= 0 {
		cfg.BacklogSeconds = 10
	}
	capacity := cfg.BacklogSeconds * cfg.SampleRate / cfg.WindowSamples
	if capacity < 1 {
		capacity = 1
	}
	return &Ingest{
		cfg:     cfg,
		pending: make([]int16, 0, cfg.WindowSamples),
		windows: make(chan audio.Frame, capacity),
	}
}

// Push decodes one PCM16LE frame and enqueues any completed windows.
// Returns [ErrInvalidFrame] for an odd byte count; the frame is rejected
// whole, nothing is buffered.
func (g *Ingest) Push(frame []byte) error {
	if len(frame)%2 != 0 {
		return fmt.Errorf("%w: %d bytes is not a whole sample count", ErrInvalidFrame, len(frame))
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	if g.closed {
		return nil
	}

	var err error
	g.pending, err = audio.AppendInt16(g.pending, frame)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidFrame, err)
	}

	w := g.cfg.WindowSamples
	for len(g.pending) >= w {
		win := make([]int16, w)
		copy(win, g.pending[:w])
		g.pending = g.pending[:copy(g.pending, g.pending[w:])]

		f := audio.Frame{PCM: win, Offset: g.offset}
		g.offset += int64(w)
		g.enqueueLocked(f)
	}
	return nil
}

// enqueueLocked adds f to the window queue, dropping the oldest entry when
// the backlog is full. Must be called with g.mu held.
func (g *Ingest) enqueueLocked(f audio.Frame) {
	select {
	case g.windows <- f:
		// Room without eviction ends the drop episode, if one was running.
		if g.dropped > 0 {
			slog.Warn("audio backlog recovered after drop episode",
				"windows_dropped", g.dropped)
			g.dropped = 0
		}
		return
	default:
	}
	for {
		// Backlog full: evict the oldest window and retry.
		select {
		case <-g.windows:
			g.dropped++
			if g.cfg.OnDrop != nil {
				g.cfg.OnDrop(g.dropped)
			}
		default:
		}
		select {
		case g.windows <- f:
			return
		default:
		}
	}
}

// Windows returns the channel of fixed-size windows in arrival order.
// The channel is closed by [Ingest.Close].
func (g *Ingest) Windows() <-chan audio.Frame {
	return g.windows
}

// Close stops the buffer. Idempotent. Pending partial-window samples are
// discarded; already-queued windows remain readable until drained.
func (g *Ingest) Close() {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.closed {
		return
	}
	g.closed = true
	close(g.windows)
}
