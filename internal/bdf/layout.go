package bdf

// Layout describes the flat vector the stepper integrates:
// [x (States) | q (Quads) | s_1 .. s_Sens (States each)].
type Layout struct {
	States int
	Quads  int
	Sens   int
}

func (l Layout) Len() int {
	return l.States*(1+l.Sens) + l.Quads
}

func (l Layout) StateSlice(y []float64) []float64 {
	return y[:l.States]
}

func (l Layout) QuadSlice(y []float64) []float64 {
	return y[l.States : l.States+l.Quads]
}

func (l Layout) SensSlice(y []float64, j int) []float64 {
	off := l.States + l.Quads + j*l.States
	return y[off : off+l.States]
}
