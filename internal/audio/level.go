package audio

import (
	"encoding/binary"
	"math"
)

// LevelFunc receives the input level of each captured period in [0, 1].
// It is called from the capture goroutine and must not block.
type LevelFunc func(level float64)

const (
	levelFloorDB   = -60.0
	levelRangeDB   = 50.0
	clippingLevel  = 0.95
	fullScaleInt16 = 32768.0
)

// Level computes the meter value of a block of S16LE samples: RMS in dBFS
// mapped from -60..-10 dB onto 0..1, pinned to at least 0.95 when any sample
// hits full scale.
func Level(pcm []byte) float64 {
	n := len(pcm) / 2
	if n == 0 {
		return 0
	}

	var sum float64
	clipping := false
	for i := 0; i < n; i++ {
		s := int16(binary.LittleEndian.Uint16(pcm[2*i:]))
		if s == math.MaxInt16 || s == math.MinInt16 {
			clipping = true
		}
		v := float64(s)
		sum += v * v
	}

	rms := math.Sqrt(sum / float64(n))
	level := 0.0
	if rms > 0 {
		db := 20 * math.Log10(rms/fullScaleInt16)
		level = (db - levelFloorDB) / levelRangeDB
	}
	if clipping {
		level = math.Max(level, clippingLevel)
	}
	return math.Min(math.Max(level, 0), 1)
}
