package dae

// LagrangeWeights returns the Lagrange basis values at t for the given nodes.
func LagrangeWeights(nodes []float64, t float64) []float64 {
	w := make([]float64, len(nodes))
	for j := range nodes {
		l := 1.0
		for m := range nodes {
			if m != j {
				l *= (t - nodes[m]) / (nodes[j] - nodes[m])
			}
		}
		w[j] = l
	}
	return w
}

// LagrangeDerivWeights returns the derivatives of the Lagrange basis at t.
// It is well defined at the nodes themselves.
func LagrangeDerivWeights(nodes []float64, t float64) []float64 {
	w := make([]float64, len(nodes))
	for j := range nodes {
		sum := 0.0
		for i := range nodes {
			if i == j {
				continue
			}
			term := 1 / (nodes[j] - nodes[i])
			for m := range nodes {
				if m != j && m != i {
					term *= (t - nodes[m]) / (nodes[j] - nodes[m])
				}
			}
			sum += term
		}
		w[j] = sum
	}
	return w
}
