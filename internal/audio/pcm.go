package audio

import (
	"encoding/binary"
	"fmt"
)

// BytesToSamples decodes 16-bit little-endian PCM. A trailing odd byte is dropped.
func BytesToSamples(pcm []byte) []int16 {
	samples := make([]int16, len(pcm)/2)
	for i := range samples {
		samples[i] = int16(binary.LittleEndian.Uint16(pcm[i*2:]))
	}
	return samples
}

// SamplesToBytes encodes samples as 16-bit little-endian PCM.
func SamplesToBytes(samples []int16) []byte {
	out := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(out[i*2:], uint16(s))
	}
	return out
}

// Resample converts mono samples between rates using linear interpolation.
func Resample(samples []int16, inputRate, outputRate int) []int16 {
	if inputRate == outputRate || inputRate <= 0 || outputRate <= 0 || len(samples) == 0 {
		return samples
	}

	ratio := float64(outputRate) / float64(inputRate)
	output := make([]int16, int(float64(len(samples))*ratio))

	for i := range output {
		srcPos := float64(i) / ratio
		idx0 := int(srcPos)
		idx1 := min(idx0+1, len(samples)-1)

		fraction := srcPos - float64(idx0)
		output[i] = int16(float64(samples[idx0])*(1.0-fraction) + float64(samples[idx1])*fraction)
	}

	return output
}

// DecodeClip returns mono 16-bit PCM at outputRate from a WAV clip.
// Stereo input is down-mixed.
func DecodeClip(clip []byte, outputRate int) ([]byte, error) {
	f, err := ParseWAV(clip)
	if err != nil {
		return nil, err
	}
	if f.AudioFormat != 1 || f.BitsPerSample != 16 {
		return nil, fmt.Errorf("unsupported wav format %d/%d bits", f.AudioFormat, f.BitsPerSample)
	}

	samples := BytesToSamples(clip[f.DataOffset : f.DataOffset+f.DataSize])
	if f.Channels == 2 {
		mono := make([]int16, len(samples)/2)
		for i := range mono {
			mono[i] = int16((int32(samples[2*i]) + int32(samples[2*i+1])) / 2)
		}
		samples = mono
	}

	return SamplesToBytes(Resample(samples, int(f.SampleRate), outputRate)), nil
}
