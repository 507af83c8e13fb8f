package options

import (
	"errors"
	"math"
	"path/filepath"
	"testing"

	. "github.com/onsi/gomega"
	"github.com/san-kum/daesim/internal/checkpoint"
	"github.com/san-kum/daesim/internal/dae"
	"github.com/san-kum/daesim/internal/linsol"
)

func TestDefaultOptions(t *testing.T) {
	o := DefaultOptions()
	if o.AbsTol != 1e-8 || o.RelTol != 1e-6 {
		t.Errorf("tolerances = %g/%g", o.AbsTol, o.RelTol)
	}
	if o.LinearSolverType != "dense" {
		t.Errorf("expected dense solver, got %s", o.LinearSolverType)
	}
	if !o.StopAtEnd || !o.CalcIC {
		t.Error("stop_at_end and calc_ic should default to true")
	}
	if o.CjScaling {
		t.Error("cj_scaling should default to false")
	}
}

func TestSensitivityAbsTolVector(t *testing.T) {
	g := NewWithT(t)
	o := DefaultOptions()
	o.FSensAbsTol = Ptr(1e-5)
	o.FSensAbsTolV = []float64{1e-6, 1e-7}
	r, err := Resolve(o, 2, 1)
	g.Expect(err).NotTo(HaveOccurred())
	g.Expect(r.SensAbsTol).To(Equal([]float64{1e-6, 1e-7}))
	g.Expect(r.BDF(dae.Forward).SensAbsTol).To(Equal([]float64{1e-6, 1e-7}))

	c := o.Clone()
	c.FSensAbsTolV[0] = 1
	g.Expect(o.FSensAbsTolV[0]).To(Equal(1e-6))

	o.FSensAbsTolV = []float64{1e-6}
	_, err = Resolve(o, 2, 1)
	g.Expect(err).To(MatchError(dae.ErrConfig))
	g.Expect(err).To(MatchError(ContainSubstring("fsens_abstolv")))

	o.FSensAbsTolV = []float64{1e-6, -1}
	_, err = Resolve(o, 2, 1)
	g.Expect(err).To(MatchError(dae.ErrConfig))
}

func TestBackwardToleranceInheritsExactly(t *testing.T) {
	o := DefaultOptions()
	o.AbsTol = 3.7e-9
	o.RelTol = 1.1e-7
	r, err := Resolve(o, 3, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(r.Backward.AbsTol) != 1 || r.Backward.AbsTol[0] != o.AbsTol {
		t.Errorf("abstolB = %v, want %v", r.Backward.AbsTol, o.AbsTol)
	}
	if r.Backward.RelTol != o.RelTol {
		t.Errorf("reltolB = %v, want %v", r.Backward.RelTol, o.RelTol)
	}

	o.AbsTolB = Ptr(1e-4)
	r, err = Resolve(o, 3, 0)
	if err != nil {
		t.Fatal(err)
	}
	if r.Backward.AbsTol[0] != 1e-4 || r.Forward.AbsTol[0] != 3.7e-9 {
		t.Errorf("override not applied: fwd %v bwd %v", r.Forward.AbsTol, r.Backward.AbsTol)
	}
}

func TestBackwardSolverInheritance(t *testing.T) {
	g := NewWithT(t)

	o := DefaultOptions()
	o.LinearSolverType = ""
	r, err := Resolve(o, 4, 0)
	g.Expect(err).NotTo(HaveOccurred())
	g.Expect(r.Forward.Solver).To(Equal(linsol.Dense{}))
	g.Expect(r.Backward.Solver).To(Equal(linsol.Dense{}))

	o = GetPreset("banded")
	o.LowerBandwidth = Ptr(2)
	r, err = Resolve(o, 5, 0)
	g.Expect(err).NotTo(HaveOccurred())
	g.Expect(r.Forward.Solver).To(Equal(linsol.Banded{Lower: 2, Upper: 1}))
	g.Expect(r.Backward.Solver).To(Equal(linsol.Banded{Lower: 1, Upper: 2}))

	o.LinearSolverTypeB = Ptr("iterative")
	o.IterativeSolverB = Ptr("tfqmr")
	r, err = Resolve(o, 5, 0)
	g.Expect(err).NotTo(HaveOccurred())
	g.Expect(r.Backward.Solver).To(Equal(linsol.Iterative{Method: linsol.TFQMR, MaxKrylov: DefaultMaxKrylov, MaxRestarts: linsol.DefaultMaxRestarts}))
}

func TestIterativePreconditioning(t *testing.T) {
	g := NewWithT(t)
	o := GetPreset("krylov")
	o.PreType = "both"
	o.UsePreconditionerB = Ptr(false)
	r, err := Resolve(o, 10, 0)
	g.Expect(err).NotTo(HaveOccurred())
	fwd := r.Forward.Solver.(linsol.Iterative)
	g.Expect(fwd.Precondition).To(BeTrue())
	g.Expect(fwd.PreType).To(Equal(linsol.PreBoth))
	g.Expect(fwd.MaxKrylov).To(Equal(20))
	g.Expect(fwd.MaxRestarts).To(Equal(linsol.DefaultMaxRestarts))
	bwd := r.Backward.Solver.(linsol.Iterative)
	g.Expect(bwd.Precondition).To(BeFalse())
	g.Expect(bwd.PreType).To(Equal(linsol.PreNone))
}

func TestResolveRejects(t *testing.T) {
	tests := []struct {
		name string
		mod  func(o *Options)
	}{
		{"negative reltol", func(o *Options) { o.RelTol = -1 }},
		{"zero tolerances", func(o *Options) { o.RelTol = 0; o.AbsTol = 0 }},
		{"nan abstolB", func(o *Options) { o.AbsTolB = Ptr(math.NaN()) }},
		{"abstolv length", func(o *Options) { o.AbsTolV = []float64{1e-8} }},
		{"bandwidth too large", func(o *Options) {
			o.LinearSolverType = "banded"
			o.LowerBandwidth, o.UpperBandwidth = Ptr(3), Ptr(0)
		}},
		{"banded without bandwidths", func(o *Options) { o.LinearSolverType = "banded" }},
		{"max_krylov", func(o *Options) { o.LinearSolverType = "iterative"; o.MaxKrylov = 0 }},
		{"unknown solver", func(o *Options) { o.LinearSolverType = "sparse" }},
		{"unknown iterative", func(o *Options) { o.LinearSolverType = "iterative"; o.IterativeSolver = "cg" }},
		{"unknown pretype", func(o *Options) { o.LinearSolverType = "iterative"; o.PreType = "middle" }},
		{"order", func(o *Options) { o.MaxMultistepOrder = 6 }},
		{"orderB", func(o *Options) { o.MaxMultistepOrderB = Ptr(0) }},
		{"steps", func(o *Options) { o.MaxNumSteps = 0 }},
		{"checkpoint stride", func(o *Options) { o.StepsPerCheckpoint = 0 }},
		{"interpolation", func(o *Options) { o.InterpolationType = "spline" }},
		{"sensitivity method", func(o *Options) { o.SensitivityMethod = "lazy" }},
		{"sensitivity parameter", func(o *Options) { o.FSensSensitivityParameters = []int{2} }},
		{"repeated parameter", func(o *Options) { o.FSensSensitivityParameters = []int{0, 0} }},
		{"zero scaling factor", func(o *Options) { o.FSensScalingFactors = []float64{1, 0} }},
		{"init_xdot", func(o *Options) { o.InitXDot = []float64{0} }},
		{"first_time", func(o *Options) { o.FirstTime = Ptr(1.5) }},
	}
	for _, tt := range tests {
		o := DefaultOptions()
		tt.mod(o)
		if _, err := Resolve(o, 3, 2); !errors.Is(err, dae.ErrConfig) {
			t.Errorf("%s: got %v, want ErrConfig", tt.name, err)
		}
	}
}

func TestResolveSensitivitySelection(t *testing.T) {
	g := NewWithT(t)
	o := DefaultOptions()
	o.FSensSensitivityParameters = []int{2, 0}
	o.FSensScalingFactors = []float64{10, -0.5}
	o.FSensAbsTol = Ptr(1e-5)
	o.SensitivityMethod = "staggered"
	o.InterpolationType = "polynomial"
	r, err := Resolve(o, 2, 3)
	g.Expect(err).NotTo(HaveOccurred())
	g.Expect(r.SensParams).To(Equal([]int{2, 0}))
	g.Expect(r.SensScale).To(Equal([]float64{10, -0.5}))
	g.Expect(r.SensAbsTol).To(Equal([]float64{1e-5}))
	g.Expect(r.SensRelTol).To(Equal(o.RelTol))
	g.Expect(r.Staggered).To(BeTrue())
	g.Expect(r.Interpolation).To(Equal(checkpoint.Polynomial))

	cfg := r.BDF(dae.Forward)
	g.Expect(cfg.Staggered).To(BeTrue())
	g.Expect(cfg.SensScale).To(Equal([]float64{10, -0.5}))
	g.Expect(r.BDF(dae.Backward).SensScale).To(BeNil())
	g.Expect(r.BDF(dae.Backward).StopAtEnd).To(BeTrue())
}

func TestDefaultSensitivitySelection(t *testing.T) {
	r, err := Resolve(DefaultOptions(), 2, 3)
	if err != nil {
		t.Fatal(err)
	}
	if len(r.SensParams) != 3 || r.SensParams[2] != 2 {
		t.Errorf("params = %v", r.SensParams)
	}
	for _, v := range r.SensScale {
		if v != 1 {
			t.Errorf("scale = %v", r.SensScale)
		}
	}
}

func TestGetPreset(t *testing.T) {
	o := GetPreset("tight")
	if o == nil {
		t.Fatal("expected preset, got nil")
	}
	if o.RelTol != 1e-10 {
		t.Errorf("expected reltol 1e-10, got %g", o.RelTol)
	}
	o.RelTol = 1
	if GetPreset("tight").RelTol != 1e-10 {
		t.Error("preset mutated through returned copy")
	}
	if GetPreset("nonexistent") != nil {
		t.Error("expected nil for nonexistent preset")
	}
}

func TestPresetsResolve(t *testing.T) {
	for _, name := range ListPresets() {
		if _, err := Resolve(GetPreset(name), 8, 1); err != nil {
			t.Errorf("preset %s: %v", name, err)
		}
	}
	if len(ListPresets()) != 5 {
		t.Errorf("presets = %v", ListPresets())
	}
}

func TestLoadSave(t *testing.T) {
	g := NewWithT(t)
	path := filepath.Join(t.TempDir(), "opts.yaml")
	o := DefaultOptions()
	o.AbsTolB = Ptr(1e-3)
	o.LinearSolverTypeB = Ptr("banded")
	o.LowerBandwidthB = Ptr(1)
	o.UpperBandwidthB = Ptr(0)
	o.FSensScalingFactors = []float64{2}
	g.Expect(Save(path, o)).To(Succeed())

	back, err := Load(path)
	g.Expect(err).NotTo(HaveOccurred())
	g.Expect(back).To(Equal(o))
	g.Expect(back.RelTolB).To(BeNil())

	_, err = Load(filepath.Join(t.TempDir(), "missing.yaml"))
	g.Expect(err).To(HaveOccurred())
}

func TestClone(t *testing.T) {
	o := DefaultOptions()
	o.AbsTolB = Ptr(1e-3)
	o.AbsTolV = []float64{1, 2}
	c := o.Clone()
	*c.AbsTolB = 5
	c.AbsTolV[0] = 9
	if *o.AbsTolB != 1e-3 || o.AbsTolV[0] != 1 {
		t.Error("clone shares storage with original")
	}
}
