package dae

// Stats are per-direction run counters.
type Stats struct {
	Steps        int
	StepAttempts int
	LinSetups    int
	ResEvals     int
	JacEvals     int
	NewtonIters  int
	ConvFails    int
	ErrTestFails int
}

// Map exposes the counters under their documented names; backward names
// carry a B suffix.
func (s Stats) Map(dir Direction) map[string]int {
	suffix := ""
	if dir == Backward {
		suffix = "B"
	}
	return map[string]int{
		"nsteps" + suffix:        s.Steps,
		"nlinsetups" + suffix:    s.LinSetups,
		"nresevals" + suffix:     s.ResEvals,
		"njacevals" + suffix:     s.JacEvals,
		"nniters" + suffix:       s.NewtonIters,
		"nncfails" + suffix:      s.ConvFails,
		"netfails" + suffix:      s.ErrTestFails,
		"nstepattempts" + suffix: s.StepAttempts,
	}
}
