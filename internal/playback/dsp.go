package playback

import "math"

// DefaultNormalizeThreshold is the near-full-scale peak target.
const DefaultNormalizeThreshold = 30000

// Resample converts samples from sourceRate to targetRate by linear interpolation.
// An invalid source rate is treated as the target rate, which returns the input unchanged.
func Resample(samples []int16, sourceRate, targetRate int) []int16 {
	if sourceRate <= 0 || targetRate <= 0 || sourceRate == targetRate || len(samples) == 0 {
		return samples
	}
	ratio := float64(sourceRate) / float64(targetRate)
	// floor(len / ratio) in exact integer arithmetic.
	n := int(int64(len(samples)) * int64(targetRate) / int64(sourceRate))
	out := make([]int16, n)
	last := len(samples) - 1
	for i := range out {
		pos := float64(i) * ratio
		idx := int(pos)
		if idx > last {
			idx = last
		}
		next := idx + 1
		if next > last {
			next = last
		}
		frac := pos - float64(idx)
		v := float64(samples[idx]) + (float64(samples[next])-float64(samples[idx]))*frac
		out[i] = clamp16(math.Round(v))
	}
	return out
}

// Normalize scales samples so the peak reaches threshold. Silent buffers and buffers
// already at or above the threshold are returned unchanged.
func Normalize(samples []int16, threshold int) []int16 {
	if threshold <= 0 {
		threshold = DefaultNormalizeThreshold
	}
	peak := 0
	for _, s := range samples {
		v := int(s)
		if v < 0 {
			v = -v
		}
		if v > peak {
			peak = v
		}
	}
	if peak == 0 || peak >= threshold {
		return samples
	}
	scale := float64(threshold) / float64(peak)
	out := make([]int16, len(samples))
	for i, s := range samples {
		out[i] = clamp16(math.Round(float64(s) * scale))
	}
	return out
}

func clamp16(v float64) int16 {
	if v > math.MaxInt16 {
		return math.MaxInt16
	}
	if v < math.MinInt16 {
		return math.MinInt16
	}
	return int16(v)
}
