//go:build !portaudio

package portaudio

import "github.com/opd-ai/lanphone/audio"

// Available reports whether this build drives real hardware.
const Available = false

// New returns a device that is never available in builds without the
// portaudio tag.
func New() audio.Device {
	return audio.UnavailableDevice{Reason: "built without portaudio support"}
}
