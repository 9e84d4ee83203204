package audio

import (
	"bytes"
	"encoding/binary"
	"math"
)

const wavHeaderSize = 44

// EncodeWAV writes buf as a 16-bit PCM RIFF/WAVE file.
func EncodeWAV(buf *Buffer) []byte {
	channels := len(buf.Channels)
	if channels == 0 {
		channels = 1
	}
	frames := buf.Frames()
	dataSize := frames * channels * 2

	out := bytes.NewBuffer(make([]byte, 0, wavHeaderSize+dataSize))
	out.WriteString("RIFF")
	binary.Write(out, binary.LittleEndian, uint32(36+dataSize))
	out.WriteString("WAVE")

	out.WriteString("fmt ")
	binary.Write(out, binary.LittleEndian, uint32(16))
	binary.Write(out, binary.LittleEndian, uint16(1)) // PCM
	binary.Write(out, binary.LittleEndian, uint16(channels))
	binary.Write(out, binary.LittleEndian, uint32(buf.SampleRate))
	binary.Write(out, binary.LittleEndian, uint32(buf.SampleRate*channels*2))
	binary.Write(out, binary.LittleEndian, uint16(channels*2))
	binary.Write(out, binary.LittleEndian, uint16(16))

	out.WriteString("data")
	binary.Write(out, binary.LittleEndian, uint32(dataSize))

	sample := make([]byte, 2)
	for i := 0; i < frames; i++ {
		for ch := 0; ch < len(buf.Channels); ch++ {
			binary.LittleEndian.PutUint16(sample, uint16(toInt16(buf.Channels[ch][i])))
			out.Write(sample)
		}
	}
	return out.Bytes()
}

func toInt16(v float32) int16 {
	s := math.Round(float64(v) * 32768.0)
	if s > math.MaxInt16 {
		return math.MaxInt16
	}
	if s < math.MinInt16 {
		return math.MinInt16
	}
	return int16(s)
}
