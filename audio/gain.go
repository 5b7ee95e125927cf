package audio

import (
	"fmt"
	"math"
	"sync/atomic"

	"github.com/sirupsen/logrus"
)

// MaxGain is the largest supported playback gain (+12 dB).
const MaxGain = 4.0

// Gain implements linear volume control on little-endian 16-bit frames with
// clipping protection. 0.0 is silence, 1.0 leaves frames unchanged.
type Gain struct {
	bits atomic.Uint64
}

// NewGain creates a gain control.
//
// Parameters:
//   - gain: Linear gain multiplier (0.0 = silence, 1.0 = unity, 2.0 = +6dB)
//
// Returns:
//   - *Gain: New gain control
//   - error: ErrInvalidGain if gain is outside [0, MaxGain]
func NewGain(gain float64) (*Gain, error) {
	g := &Gain{}
	if err := g.Set(gain); err != nil {
		return nil, err
	}
	return g, nil
}

// Set updates the gain. Safe for use while Apply runs on another goroutine.
func (g *Gain) Set(gain float64) error {
	if gain < 0.0 || gain > MaxGain || math.IsNaN(gain) {
		logrus.WithFields(logrus.Fields{
			"function": "Gain.Set",
			"gain":     gain,
		}).Error("Gain validation failed")
		return fmt.Errorf("%w: %.2f (range 0.0-%.1f)", ErrInvalidGain, gain, MaxGain)
	}
	g.bits.Store(math.Float64bits(gain))
	return nil
}

// Value returns the current gain.
func (g *Gain) Value() float64 {
	return math.Float64frombits(g.bits.Load())
}

// Apply scales frame in place and returns the number of clipped samples.
func (g *Gain) Apply(frame []byte) int {
	gain := g.Value()
	if gain == 1.0 {
		return 0
	}

	clipped := 0
	for i := 0; i+1 < len(frame); i += 2 {
		s := int16(uint16(frame[i]) | uint16(frame[i+1])<<8)
		f := float64(s) * gain

		var out int16
		switch {
		case f > math.MaxInt16:
			out = math.MaxInt16
			clipped++
		case f < math.MinInt16:
			out = math.MinInt16
			clipped++
		default:
			out = int16(f)
		}
		frame[i] = byte(uint16(out))
		frame[i+1] = byte(uint16(out) >> 8)
	}

	if clipped > 0 {
		logrus.WithFields(logrus.Fields{
			"function":      "Gain.Apply",
			"clipped_count": clipped,
			"gain":          gain,
		}).Debug("Audio clipping during gain processing")
	}
	return clipped
}
