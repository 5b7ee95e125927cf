package audio

import (
	"math"
	"sync/atomic"
)

// DefaultThreshold is the average absolute amplitude above which a frame
// counts as voiced.
const DefaultThreshold = 10.0

// Detector is an energy-based voice activity detector that fires once per
// session. It is safe for concurrent use.
type Detector struct {
	threshold float64
	detected  atomic.Bool
}

// NewDetector creates a detector. A non-positive threshold selects
// DefaultThreshold.
func NewDetector(threshold float64) *Detector {
	if threshold <= 0 || math.IsNaN(threshold) {
		threshold = DefaultThreshold
	}
	return &Detector{threshold: threshold}
}

// Threshold returns the configured amplitude threshold.
func (d *Detector) Threshold() float64 {
	return d.threshold
}

// Observe reports true for the first frame whose level exceeds the threshold
// since the last Reset, and false for every other frame.
func (d *Detector) Observe(frame []byte) bool {
	if d.detected.Load() {
		return false
	}
	if Level(frame) <= d.threshold {
		return false
	}
	return d.detected.CompareAndSwap(false, true)
}

// Detected reports whether voice has been detected since the last Reset.
func (d *Detector) Detected() bool {
	return d.detected.Load()
}

// Reset re-arms the detector for a new session.
func (d *Detector) Reset() {
	d.detected.Store(false)
}

// Level returns the average absolute amplitude of the 16-bit little-endian
// samples in frame.
func Level(frame []byte) float64 {
	n := len(frame) / 2
	if n == 0 {
		return 0
	}
	var sum float64
	for i := 0; i < n; i++ {
		s := int16(uint16(frame[2*i]) | uint16(frame[2*i+1])<<8)
		sum += math.Abs(float64(s))
	}
	return sum / float64(n)
}
