package options

import "sort"

// Presets are named starting points for common problem classes.
var Presets = map[string]func() *Options{
	"default": DefaultOptions,
	"tight": func() *Options {
		o := DefaultOptions()
		o.AbsTol = 1e-10
		o.RelTol = 1e-10
		o.MaxNumSteps = 100000
		return o
	},
	"banded": func() *Options {
		o := DefaultOptions()
		o.LinearSolverType = "banded"
		o.LowerBandwidth = Ptr(1)
		o.UpperBandwidth = Ptr(1)
		return o
	},
	"krylov": func() *Options {
		o := DefaultOptions()
		o.LinearSolverType = "iterative"
		o.IterativeSolver = "gmres"
		o.MaxKrylov = 20
		o.UsePreconditioner = true
		o.PreType = "left"
		return o
	},
	"staggered": func() *Options {
		o := DefaultOptions()
		o.SensitivityMethod = "staggered"
		o.InterpolationType = "polynomial"
		o.StepsPerCheckpoint = 50
		return o
	},
}

// GetPreset returns a fresh copy of the named preset, or nil.
func GetPreset(name string) *Options {
	mk, ok := Presets[name]
	if !ok {
		return nil
	}
	return mk()
}

func ListPresets() []string {
	names := make([]string, 0, len(Presets))
	for name := range Presets {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
