// Package audio provides PCM16 conversion helpers shared by the ingestion
// pipeline and the TTS output path. All byte-level functions assume
// little-endian int16 samples, the only wire format the server accepts.
package audio

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// ErrOddPCMLength is returned when a byte buffer cannot be an int16 sample
// sequence because its length is odd.
var ErrOddPCMLength = errors.New("audio: PCM byte length is odd")

// BytesToInt16 decodes little-endian PCM16 bytes into samples. Returns
// ErrOddPCMLength if len(b) is not a multiple of two.
func BytesToInt16(b []byte) ([]int16, error) {
	if len(b)%2 != 0 {
		return nil, fmt.Errorf("%w: %d bytes", ErrOddPCMLength, len(b))
	}
	out := make([]int16, len(b)/2)
	for i := range out {
		out[i] = int16(binary.LittleEndian.Uint16(b[i*2:]))
	}
	return out, nil
}

// AppendInt16 decodes little-endian PCM16 bytes into dst, reusing its backing
// array when capacity allows. Returns ErrOddPCMLength if len(b) is odd.
func AppendInt16(dst []int16, b []byte) ([]int16, error) {
	if len(b)%2 != 0 {
		return dst, fmt.Errorf("%w: %d bytes", ErrOddPCMLength, len(b))
	}
	for i := 0; i+1 < len(b); i += 2 {
		dst = append(dst, int16(binary.LittleEndian.Uint16(b[i:])))
	}
	return dst, nil
}

// Int16ToBytes encodes samples as little-endian PCM16 bytes.
func Int16ToBytes(samples []int16) []byte {
	out := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(out[i*2:], uint16(s))
	}
	return out
}

// Int16ToFloat32 converts samples to the [-1, 1) float range used by model
// backends such as whisper.cpp.
func Int16ToFloat32(samples []int16) []float32 {
	out := make([]float32, len(samples))
	for i, s := range samples {
		out[i] = float32(s) / 32768.0
	}
	return out
}
