package dialog

import (
	"errors"
	"testing"

	"github.com/voxhall/voxhall/pkg/audio"
)

// pcmBytes encodes n int16 samples of the given value as little-endian bytes.
func pcmBytes(n int, value int16) []byte {
	out := make([]byte, n*2)
	for i := 0; i < n; i++ {
		out[2*i] = byte(uint16(value))
		out[2*i+1] = byte(uint16(value) >> 8)
	}
	return out
}

func TestIngestRejectsOddFrame(t *testing.T) {
	t.Parallel()

	in := NewIngest(IngestConfig{SampleRate: 16000, WindowSamples: 512})
	err := in.Push(make([]byte, 1023))
	if !errors.Is(err, ErrInvalidFrame) {
		t.Fatalf("Push(odd) error = %v, want ErrInvalidFrame", err)
	}
	// The rejected frame must not have buffered anything.
	if err := in.Push(pcmBytes(512, 7)); err != nil {
		t.Fatalf("Push after rejection: %v", err)
	}
	w := <-in.Windows()
	if w.Offset != 0 || len(w.PCM) != 512 || w.PCM[0] != 7 {
		t.Errorf("window after rejection = offset %d, %d samples, first %d", w.Offset, len(w.PCM), w.PCM[0])
	}
}

func TestIngestRecutsFramesIntoWindows(t *testing.T) {
	t.Parallel()

	in := NewIngest(IngestConfig{SampleRate: 16000, WindowSamples: 512})

	// 300 + 300 + 424 samples = two full windows.
	if err := in.Push(pcmBytes(300, 1)); err != nil {
		t.Fatal(err)
	}
	select {
	case w := <-in.Windows():
		t.Fatalf("partial frame produced a window: %+v", w)
	default:
	}
	if err := in.Push(pcmBytes(300, 2)); err != nil {
		t.Fatal(err)
	}
	if err := in.Push(pcmBytes(424, 3)); err != nil {
		t.Fatal(err)
	}

	first := <-in.Windows()
	second := <-in.Windows()
	if first.Offset != 0 || second.Offset != 512 {
		t.Errorf("offsets = %d, %d; want 0, 512", first.Offset, second.Offset)
	}
	if first.PCM[0] != 1 || first.PCM[299] != 1 || first.PCM[300] != 2 {
		t.Error("first window does not preserve sample order across frames")
	}
	if second.PCM[0] != 2 || second.PCM[511] != 3 {
		t.Error("second window does not preserve sample order across frames")
	}
}

func TestIngestDropsOldestOnBackpressure(t *testing.T) {
	t.Parallel()

	var drops []int
	// Capacity: 2*512/512 = 2 windows.
	in := NewIngest(IngestConfig{
		SampleRate:     512,
		WindowSamples:  512,
		BacklogSeconds: 2,
		OnDrop:         func(n int) { drops = append(drops, n) },
	})

	for i := 0; i < 4; i++ {
		if err := in.Push(pcmBytes(512, int16(i))); err != nil {
			t.Fatal(err)
		}
	}

	// The two oldest windows were evicted; offsets resume at 1024.
	got := []audio.Frame{<-in.Windows(), <-in.Windows()}
	if got[0].Offset != 1024 || got[1].Offset != 1536 {
		t.Errorf("surviving offsets = %d, %d; want 1024, 1536", got[0].Offset, got[1].Offset)
	}
	if len(drops) != 2 || drops[0] != 1 || drops[1] != 2 {
		t.Errorf("OnDrop calls = %v, want [1 2]", drops)
	}
}

func TestIngestOffsetsStayMonotonicAcrossDrops(t *testing.T) {
	t.Parallel()

	in := NewIngest(IngestConfig{SampleRate: 512, WindowSamples: 512, BacklogSeconds: 1})
	for i := 0; i < 3; i++ {
		if err := in.Push(pcmBytes(512, 0)); err != nil {
			t.Fatal(err)
		}
	}
	// Capacity 1: only the newest window survives, offset untouched by drops.
	w := <-in.Windows()
	if w.Offset != 1024 {
		t.Errorf("surviving offset = %d, want 1024", w.Offset)
	}
}

func TestIngestCloseIsIdempotent(t *testing.T) {
	t.Parallel()

	in := NewIngest(IngestConfig{SampleRate: 16000, WindowSamples: 512})
	if err := in.Push(pcmBytes(512, 5)); err != nil {
		t.Fatal(err)
	}
	in.Close()
	in.Close()

	// Push after close is a quiet no-op.
	if err := in.Push(pcmBytes(512, 6)); err != nil {
		t.Fatalf("Push after Close: %v", err)
	}

	// Queued windows drain, then the channel reports closed.
	if w, ok := <-in.Windows(); !ok || w.Offset != 0 {
		t.Errorf("drain after close = %+v, %v", w, ok)
	}
	if _, ok := <-in.Windows(); ok {
		t.Error("Windows() still open after Close and drain")
	}
}
