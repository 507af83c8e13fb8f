package problems

import (
	"fmt"
	"sort"

	"github.com/san-kum/daesim/internal/dae"
)

// Case is a problem together with a ready-to-run start.
type Case struct {
	Name        string
	Description string
	Problem     dae.Problem
	X0          []float64
	P           []float64
	T0, Tf      float64
}

type Registry struct {
	cases map[string]func() Case
}

func NewRegistry() *Registry {
	r := &Registry{cases: make(map[string]func() Case)}

	r.cases["sine"] = func() Case {
		return Case{
			Name:        "sine",
			Description: "index-1 DAE x0' = x1, 0 = x1 - p·sin t",
			Problem:     NewSine(),
			X0:          []float64{0, 0},
			P:           []float64{1},
			Tf:          1,
		}
	}
	r.cases["linear"] = func() Case {
		lin := NewLinear()
		p := []float64{1, 0.5, 2}
		return Case{
			Name:        "linear",
			Description: "linear index-1 DAE with analytic solution",
			Problem:     lin,
			X0:          lin.Start(p),
			P:           p,
			Tf:          2,
		}
	}
	r.cases["robertson"] = func() Case {
		return Case{
			Name:        "robertson",
			Description: "stiff kinetics with a conservation constraint",
			Problem:     NewRobertson(),
			X0:          []float64{1, 0, 0},
			P:           []float64{0.04, 1e4, 3e7},
			Tf:          40,
		}
	}
	r.cases["heat"] = func() Case {
		h := NewHeat(20)
		p := []float64{0.1, 0}
		return Case{
			Name:        "heat",
			Description: "1-D heat equation with algebraic boundaries",
			Problem:     h,
			X0:          h.Start(p),
			P:           p,
			Tf:          1,
		}
	}
	r.cases["decay"] = func() Case {
		d := NewDecay(4)
		return Case{
			Name:        "decay",
			Description: "independent exponential decays, diagonal Jacobian",
			Problem:     d,
			X0:          d.Start(),
			P:           d.Rates(),
			Tf:          2,
		}
	}
	return r
}

func (r *Registry) Get(name string) (Case, error) {
	fn, ok := r.cases[name]
	if !ok {
		return Case{}, fmt.Errorf("unknown problem: %s", name)
	}
	return fn(), nil
}

func (r *Registry) List() []string {
	names := make([]string, 0, len(r.cases))
	for name := range r.cases {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
