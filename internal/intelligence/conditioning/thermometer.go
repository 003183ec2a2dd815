// Package conditioning draws the per-episode conditioning of a batch (the
// inverse temperature β and, for multi-objective tasks, preference weights)
// together with the numeric encoding fed to the policy.
package conditioning

import "math"

// Thermometer encodes x over [lo, hi] into d monotone ramps: entry i is
// clip((x-lo)/(hi-lo)*d - i, 0, 1).
func Thermometer(x float64, d int, lo, hi float64) []float64 {
	out := make([]float64, d)
	ThermometerInto(out, x, lo, hi)
	return out
}

// ThermometerInto writes the encoding of x into dst (len(dst) ramps).  An
// empty range [lo, lo] encodes as a step: all ones from lo upwards.
func ThermometerInto(dst []float64, x, lo, hi float64) {
	if hi <= lo {
		v := 0.0
		if x >= hi {
			v = 1
		}
		for i := range dst {
			dst[i] = v
		}
		return
	}
	d := float64(len(dst))
	scaled := (x - lo) / (hi - lo) * d
	for i := range dst {
		dst[i] = math.Max(0, math.Min(1, scaled-float64(i)))
	}
}
