package integrator

import (
	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/san-kum/daesim/internal/bdf"
	"github.com/san-kum/daesim/internal/dae"
)

type Result struct {
	Times  []float64
	States [][]float64
	// Quadratures holds the forward quadratures at each output time.
	Quadratures [][]float64
	// Sensitivities[k][j] is ∂x/∂p for the j-th selected parameter at
	// Times[k].
	Sensitivities [][][]float64

	Gradient []float64
	Lambda0  []float64

	Stats  dae.Stats
	StatsB dae.Stats
	// Checkpoints counts the records of the forward pass kept for the
	// adjoint sweep.
	Checkpoints int

	// Furthest is the largest time the forward pass reached and FurthestB
	// the smallest the backward pass reached.
	Furthest  float64
	FurthestB float64
	LastState dae.Vector
}

func (r *Result) record(lay bdf.Layout, t float64, y []float64) {
	r.Times = append(r.Times, t)
	r.States = append(r.States, append([]float64(nil), lay.StateSlice(y)...))
	if lay.Quads > 0 {
		r.Quadratures = append(r.Quadratures, append([]float64(nil), lay.QuadSlice(y)...))
	}
	if lay.Sens > 0 {
		s := make([][]float64, lay.Sens)
		for j := range s {
			s[j] = append([]float64(nil), lay.SensSlice(y, j)...)
		}
		r.Sensitivities = append(r.Sensitivities, s)
	}
}

// StatsMap exposes the per-direction counters by name: nsteps, nstepsB,
// nlinsetups, nlinsetupsB and the rest.
func (r *Result) StatsMap() map[string]int {
	m := r.Stats.Map(dae.Forward)
	for k, v := range r.StatsB.Map(dae.Backward) {
		m[k] = v
	}
	return m
}

// Final returns the state at the last output time.
func (r *Result) Final() []float64 {
	if len(r.States) == 0 {
		return nil
	}
	return r.States[len(r.States)-1]
}

// dropWarnings discards warn-level records.
type dropWarnings struct {
	next log.Logger
}

func (d dropWarnings) Log(keyvals ...interface{}) error {
	for i := 0; i+1 < len(keyvals); i += 2 {
		if keyvals[i] == level.Key() && keyvals[i+1] == level.WarnValue() {
			return nil
		}
	}
	return d.next.Log(keyvals...)
}
