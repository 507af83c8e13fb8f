package bdf

// derivWeights returns w with p'(nodes[0]) = Σ w[j]·y(nodes[j]) for the
// polynomial p interpolating y at nodes. w[0] is the BDF leading
// coefficient α0 = Σ 1/(t_{n+1} - t_{n+1-j}).
func derivWeights(nodes []float64) []float64 {
	k := len(nodes) - 1
	w := make([]float64, k+1)
	t0 := nodes[0]
	for j := 1; j <= k; j++ {
		w[0] += 1 / (t0 - nodes[j])
	}
	for j := 1; j <= k; j++ {
		num := 1.0
		for m := 1; m <= k; m++ {
			if m != j {
				num *= t0 - nodes[m]
			}
		}
		den := 1.0
		for m := 0; m <= k; m++ {
			if m != j {
				den *= nodes[j] - nodes[m]
			}
		}
		w[j] = num / den
	}
	return w
}

func factorial(k int) float64 {
	f := 1.0
	for i := 2; i <= k; i++ {
		f *= float64(i)
	}
	return f
}

func harmonic(k int) float64 {
	h := 0.0
	for j := 1; j <= k; j++ {
		h += 1 / float64(j)
	}
	return h
}
