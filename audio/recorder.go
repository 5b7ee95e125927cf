package audio

import (
	"context"
	"fmt"
	"io"
	"time"

	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"
	"github.com/sirupsen/logrus"
)

// wavPCM is the WAVE format tag for uncompressed PCM.
const wavPCM = 1

// Recorder captures audio from a Device into WAV files.
type Recorder struct {
	Device Device
	Format Format
}

// NewRecorder creates a recorder for d in DefaultFormat.
func NewRecorder(d Device) *Recorder {
	return &Recorder{Device: d, Format: DefaultFormat}
}

// Record writes captured frames to w as a WAV file until maxDuration of
// audio has been captured or ctx is done. It returns the number of PCM bytes
// written. A cancelled ctx ends the recording without error.
func (r *Recorder) Record(ctx context.Context, w io.WriteSeeker, maxDuration time.Duration) (int64, error) {
	logger := logrus.WithFields(logrus.Fields{
		"function":     "Recorder.Record",
		"max_duration": maxDuration,
	})

	capture, err := r.Device.OpenCapture()
	if err != nil {
		logger.WithError(err).Error("Cannot open capture device for recording")
		return 0, fmt.Errorf("record: %w", err)
	}
	defer capture.Close()

	enc := wav.NewEncoder(w, r.Format.SampleRate, r.Format.BitsPerSample, r.Format.Channels, wavPCM)
	limit := int64(r.Format.BytesPerSecond()) * int64(maxDuration) / int64(time.Second)
	limit &^= 1

	buf := make([]byte, FrameBytes)
	intBuf := &goaudio.IntBuffer{
		Format: &goaudio.Format{
			NumChannels: r.Format.Channels,
			SampleRate:  r.Format.SampleRate,
		},
		SourceBitDepth: r.Format.BitsPerSample,
	}

	var written int64
	for written < limit && ctx.Err() == nil {
		n, err := capture.ReadFrame(buf)
		if err != nil {
			enc.Close()
			return written, fmt.Errorf("record: %w", err)
		}
		if remaining := limit - written; int64(n) > remaining {
			n = int(remaining)
		}
		n &^= 1
		if n == 0 {
			continue
		}

		samples := Samples(buf[:n])
		intBuf.Data = intBuf.Data[:0]
		for _, s := range samples {
			intBuf.Data = append(intBuf.Data, int(s))
		}
		if err := enc.Write(intBuf); err != nil {
			enc.Close()
			return written, fmt.Errorf("record: write wav: %w", err)
		}
		written += int64(n)
	}

	if err := enc.Close(); err != nil {
		return written, fmt.Errorf("record: finalize wav: %w", err)
	}
	logger.WithField("bytes", written).Info("Recording finished")
	return written, nil
}
