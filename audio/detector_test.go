package audio

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestLevel(t *testing.T) {
	assert.Equal(t, 0.0, Level(nil))
	assert.Equal(t, 0.0, Level(make([]byte, FrameBytes)))
	assert.InDelta(t, 1000.0, Level(toneFrame(1000)), 0.001)

	// A single trailing byte is ignored.
	odd := append(toneFrame(50), 0x7f)
	assert.InDelta(t, 50.0, Level(odd), 0.001)
}

func TestLevelIsLittleEndian(t *testing.T) {
	// 0x0100 little-endian is 1, big-endian would be 256.
	frame := []byte{0x01, 0x00, 0x01, 0x00}
	assert.InDelta(t, 1.0, Level(frame), 0.001)
}

func TestDetectorFiresOncePerSession(t *testing.T) {
	d := NewDetector(DefaultThreshold)

	assert.False(t, d.Observe(make([]byte, FrameBytes)), "silence must not trigger")
	assert.False(t, d.Observe(toneFrame(10)), "level equal to threshold must not trigger")
	assert.True(t, d.Observe(toneFrame(500)), "first loud frame must trigger")
	assert.False(t, d.Observe(toneFrame(500)), "second loud frame must not trigger")
	assert.True(t, d.Detected())

	d.Reset()
	assert.False(t, d.Detected())
	assert.True(t, d.Observe(toneFrame(500)), "new session must trigger again")
}

func TestDetectorDefaultThreshold(t *testing.T) {
	assert.Equal(t, DefaultThreshold, NewDetector(0).Threshold())
	assert.Equal(t, DefaultThreshold, NewDetector(-3).Threshold())
	assert.Equal(t, 42.0, NewDetector(42).Threshold())
}

func TestDetectorConcurrentObserve(t *testing.T) {
	d := NewDetector(DefaultThreshold)
	frame := toneFrame(1000)

	results := make(chan bool, 50)
	for i := 0; i < 50; i++ {
		go func() { results <- d.Observe(frame) }()
	}

	fired := 0
	for i := 0; i < 50; i++ {
		if <-results {
			fired++
		}
	}
	assert.Equal(t, 1, fired)
}
