package audio

import "math"

// ApplyGain scales interleaved s16le samples in place, saturating at the
// int16 range.
func ApplyGain(pcm []byte, gain float64) {
	if gain == 1 {
		return
	}
	for i := 0; i+1 < len(pcm); i += 2 {
		sample := int16(uint16(pcm[i]) | uint16(pcm[i+1])<<8)
		scaled := math.Round(float64(sample) * gain)
		switch {
		case scaled > math.MaxInt16:
			scaled = math.MaxInt16
		case scaled < math.MinInt16:
			scaled = math.MinInt16
		}
		v := uint16(int16(scaled))
		pcm[i] = byte(v)
		pcm[i+1] = byte(v >> 8)
	}
}
