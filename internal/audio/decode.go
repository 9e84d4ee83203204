// Package audio converts provider payloads into playable audio: base64
// decoding, 16-bit PCM to float samples, and a WAV container for delivery.
package audio

import (
	"encoding/base64"
	"encoding/binary"
	"log/slog"
	"time"
)

// Buffer is a fixed-length multi-channel sample buffer. Every channel holds
// the same number of frames.
type Buffer struct {
	SampleRate int
	Channels   [][]float32
}

// Frames returns the number of samples per channel.
func (b *Buffer) Frames() int {
	if len(b.Channels) == 0 {
		return 0
	}
	return len(b.Channels[0])
}

// Duration returns the playback length of the buffer.
func (b *Buffer) Duration() time.Duration {
	if b.SampleRate <= 0 {
		return 0
	}
	return time.Duration(b.Frames()) * time.Second / time.Duration(b.SampleRate)
}

// DecodeBase64 decodes standard base64. Malformed input is logged and yields
// an empty slice instead of an error.
func DecodeBase64(s string) []byte {
	data, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		slog.Warn("base64 decoding failed", "error", err, "length", len(s))
		return []byte{}
	}
	return data
}

// EncodeBase64 is the inverse of DecodeBase64.
func EncodeBase64(b []byte) string {
	return base64.StdEncoding.EncodeToString(b)
}

// DecodePCM interprets data as signed 16-bit little-endian interleaved
// samples and normalizes them into [-1, 1). A trailing partial frame is
// dropped.
func DecodePCM(data []byte, sampleRate, channels int) *Buffer {
	if channels < 1 {
		channels = 1
	}
	frameSize := 2 * channels
	frames := len(data) / frameSize

	buf := &Buffer{
		SampleRate: sampleRate,
		Channels:   make([][]float32, channels),
	}
	for ch := range buf.Channels {
		buf.Channels[ch] = make([]float32, frames)
	}

	for i := 0; i < frames; i++ {
		frame := data[i*frameSize:]
		for ch := 0; ch < channels; ch++ {
			sample := int16(binary.LittleEndian.Uint16(frame[ch*2:]))
			buf.Channels[ch][i] = float32(sample) / 32768.0
		}
	}
	return buf
}
