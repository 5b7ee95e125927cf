//go:build !portaudio

package portaudio

import (
	"testing"

	"github.com/opd-ai/lanphone/audio"
	"github.com/stretchr/testify/assert"
)

func TestUnavailableWithoutTag(t *testing.T) {
	assert.False(t, Available)
	assert.ErrorIs(t, audio.CheckCapture(New()), audio.ErrDeviceUnavailable)

	_, err := New().OpenPlayback()
	assert.ErrorIs(t, err, audio.ErrDeviceUnavailable)
}
