package audio

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewGainValidation(t *testing.T) {
	_, err := NewGain(-0.1)
	assert.ErrorIs(t, err, ErrInvalidGain)

	_, err = NewGain(MaxGain + 0.1)
	assert.ErrorIs(t, err, ErrInvalidGain)

	g, err := NewGain(1.5)
	require.NoError(t, err)
	assert.Equal(t, 1.5, g.Value())
}

func TestGainApply(t *testing.T) {
	t.Run("unity leaves frame unchanged", func(t *testing.T) {
		g, _ := NewGain(1.0)
		frame := toneFrame(1234)
		want := append([]byte(nil), frame...)
		assert.Equal(t, 0, g.Apply(frame))
		assert.Equal(t, want, frame)
	})

	t.Run("double", func(t *testing.T) {
		g, _ := NewGain(2.0)
		frame := toneFrame(100)
		g.Apply(frame)
		assert.Equal(t, []int16{200, -200}, Samples(frame)[:2])
	})

	t.Run("silence", func(t *testing.T) {
		g, _ := NewGain(0)
		frame := toneFrame(100)
		g.Apply(frame)
		assert.Equal(t, 0.0, Level(frame))
	})

	t.Run("clipping", func(t *testing.T) {
		g, _ := NewGain(4.0)
		frame := toneFrame(20000)
		clipped := g.Apply(frame)
		assert.Equal(t, FrameSamples, clipped)
		s := Samples(frame)
		assert.Equal(t, int16(32767), s[0])
		assert.Equal(t, int16(-32768), s[1])
	})
}

func TestFormat(t *testing.T) {
	assert.Equal(t, 16000, DefaultFormat.BytesPerSecond())
	assert.Equal(t, "64ms", FrameDuration.String())

	samples := []int16{1, -1, 32767, -32768}
	frame := make([]byte, 8)
	assert.Equal(t, 8, PutSamples(frame, samples))
	assert.Equal(t, samples, Samples(frame))

	short := make([]byte, 3)
	assert.Equal(t, 2, PutSamples(short, samples))
}
