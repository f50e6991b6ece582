package audio

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
)

// ErrNotWAV is returned when a buffer does not start with a RIFF/WAVE header.
var ErrNotWAV = errors.New("not a RIFF/WAVE buffer")

// WAVFormat describes the fmt chunk and data location of a WAV buffer.
type WAVFormat struct {
	AudioFormat   uint16 // 1 = PCM
	Channels      uint16
	SampleRate    uint32
	BitsPerSample uint16
	DataOffset    int // offset of the first sample byte
	DataSize      int // bytes of sample data actually present
}

// IsWAV reports whether b starts with a RIFF/WAVE header.
func IsWAV(b []byte) bool {
	return len(b) >= 12 && string(b[0:4]) == "RIFF" && string(b[8:12]) == "WAVE"
}

// ParseWAV walks the chunk list of b. Streaming encoders write placeholder
// sizes (0 or 0xFFFFFFFF) in the data chunk header; in that case, and
// whenever the declared size overruns the buffer, DataSize is the number of
// bytes that follow the header.
func ParseWAV(b []byte) (WAVFormat, error) {
	var f WAVFormat
	if !IsWAV(b) {
		return f, ErrNotWAV
	}

	haveFmt := false
	off := 12
	for off+8 <= len(b) {
		id := string(b[off : off+4])
		size := int(binary.LittleEndian.Uint32(b[off+4 : off+8]))
		body := off + 8

		switch id {
		case "fmt ":
			if body+16 > len(b) {
				return f, fmt.Errorf("truncated fmt chunk")
			}
			f.AudioFormat = binary.LittleEndian.Uint16(b[body:])
			f.Channels = binary.LittleEndian.Uint16(b[body+2:])
			f.SampleRate = binary.LittleEndian.Uint32(b[body+4:])
			f.BitsPerSample = binary.LittleEndian.Uint16(b[body+14:])
			haveFmt = true

		case "data":
			if !haveFmt {
				return f, fmt.Errorf("data chunk before fmt chunk")
			}
			f.DataOffset = body
			f.DataSize = len(b) - body
			if size > 0 && size != 0xFFFFFFFF && size <= f.DataSize {
				f.DataSize = size
			}
			return f, nil
		}

		// chunks are word aligned
		off = body + size + size%2
	}
	return f, fmt.Errorf("no data chunk")
}

// FixWAVSizes rewrites the RIFF and data chunk sizes of b in place so they
// match the bytes actually present.
func FixWAVSizes(b []byte) error {
	f, err := ParseWAV(b)
	if err != nil {
		return err
	}
	binary.LittleEndian.PutUint32(b[4:8], uint32(len(b)-8))
	binary.LittleEndian.PutUint32(b[f.DataOffset-4:f.DataOffset], uint32(len(b)-f.DataOffset))
	return nil
}

// EncodeWAV wraps 16-bit little-endian PCM in a canonical 44-byte header.
func EncodeWAV(pcm []byte, sampleRate, channels int) []byte {
	if channels <= 0 {
		channels = 1
	}
	blockAlign := channels * 2

	buf := bytes.NewBuffer(make([]byte, 0, 44+len(pcm)))
	buf.WriteString("RIFF")
	binary.Write(buf, binary.LittleEndian, uint32(36+len(pcm)))
	buf.WriteString("WAVE")

	buf.WriteString("fmt ")
	binary.Write(buf, binary.LittleEndian, uint32(16))
	binary.Write(buf, binary.LittleEndian, uint16(1))
	binary.Write(buf, binary.LittleEndian, uint16(channels))
	binary.Write(buf, binary.LittleEndian, uint32(sampleRate))
	binary.Write(buf, binary.LittleEndian, uint32(sampleRate*blockAlign))
	binary.Write(buf, binary.LittleEndian, uint16(blockAlign))
	binary.Write(buf, binary.LittleEndian, uint16(16))

	buf.WriteString("data")
	binary.Write(buf, binary.LittleEndian, uint32(len(pcm)))
	buf.Write(pcm)

	return buf.Bytes()
}
