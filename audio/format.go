package audio

import (
	"encoding/binary"
	"time"
)

// Format describes a PCM stream.
type Format struct {
	SampleRate    int
	Channels      int
	BitsPerSample int
}

// DefaultFormat is the wire format of every audio frame.
var DefaultFormat = Format{
	SampleRate:    8000,
	Channels:      1,
	BitsPerSample: 16,
}

const (
	// FrameBytes is the size of one audio frame and one datagram.
	FrameBytes = 1024

	// FrameSamples is the number of 16-bit samples in one frame.
	FrameSamples = FrameBytes / 2
)

// BytesPerSecond returns the data rate of the format.
func (f Format) BytesPerSecond() int {
	return f.SampleRate * f.Channels * f.BitsPerSample / 8
}

// FrameDuration returns the playback duration of a frame of n bytes.
func (f Format) FrameDuration(n int) time.Duration {
	bps := f.BytesPerSecond()
	if bps == 0 {
		return 0
	}
	return time.Duration(n) * time.Second / time.Duration(bps)
}

// FrameDuration is the playback duration of one full frame in DefaultFormat.
var FrameDuration = DefaultFormat.FrameDuration(FrameBytes)

// Samples decodes little-endian 16-bit samples from frame. A trailing odd
// byte is ignored.
func Samples(frame []byte) []int16 {
	out := make([]int16, len(frame)/2)
	for i := range out {
		out[i] = int16(binary.LittleEndian.Uint16(frame[2*i:]))
	}
	return out
}

// PutSamples encodes samples into frame as little-endian 16-bit values and
// returns the number of bytes written.
func PutSamples(frame []byte, samples []int16) int {
	n := 0
	for _, s := range samples {
		if n+2 > len(frame) {
			break
		}
		binary.LittleEndian.PutUint16(frame[n:], uint16(s))
		n += 2
	}
	return n
}
