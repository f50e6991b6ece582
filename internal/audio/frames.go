package audio

// DefaultFrameSize is the byte size of one audio_chunk payload.
const DefaultFrameSize = 4096

// Frames splits data into consecutive slices of at most size bytes.
// The slices share data's backing array. Empty data yields no frames.
func Frames(data []byte, size int) [][]byte {
	if size <= 0 {
		size = DefaultFrameSize
	}
	if len(data) == 0 {
		return nil
	}

	frames := make([][]byte, 0, (len(data)+size-1)/size)
	for start := 0; start < len(data); start += size {
		frames = append(frames, data[start:min(start+size, len(data))])
	}
	return frames
}
