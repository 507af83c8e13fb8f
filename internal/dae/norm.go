package dae

import "math"

// Weights sets w[i] = 1/(rtol·|y[i]| + atol[i]). A single-element atol is
// applied to every component.
func Weights(w, y []float64, rtol float64, atol []float64) {
	for i := range y {
		a := atol[0]
		if len(atol) > 1 {
			a = atol[i]
		}
		d := rtol*math.Abs(y[i]) + a
		if d <= 0 {
			d = uround
		}
		w[i] = 1 / d
	}
}

// WRMS is the weighted root-mean-square norm of v over the components mask
// selects (all when mask is nil).
func WRMS(v, w []float64, mask []bool) float64 {
	sum := 0.0
	count := 0
	for i := range v {
		if mask != nil && !mask[i] {
			continue
		}
		x := v[i] * w[i]
		sum += x * x
		count++
	}
	if count == 0 {
		return 0
	}
	return math.Sqrt(sum / float64(count))
}
