package dae

// Probe names a callback site an observer can watch.
type Probe string

const (
	ProbeRes     Probe = "res"
	ProbeResB    Probe = "resB"
	ProbeResS    Probe = "resS"
	ProbePSetup  Probe = "psetup"
	ProbePSetupB Probe = "psetupB"
	ProbePSolveB Probe = "psolveB"
	ProbeJTimesB Probe = "jtimesB"
	ProbeBJacB   Probe = "bjacB"
	ProbeIC      Probe = "correctInitialConditions"
	ProbeRhsQB   Probe = "rhsQB"
)

// Probes lists every probe name.
var Probes = []Probe{
	ProbeRes, ProbeResB, ProbeResS, ProbePSetup, ProbePSetupB,
	ProbePSolveB, ProbeJTimesB, ProbeBJacB, ProbeIC, ProbeRhsQB,
}

type StepEvent struct {
	Direction Direction
	Step      int
	T         float64
	H         float64
	Order     int
}

// Observer receives probe and step notifications. Implementations must not
// mutate anything the numerics read.
type Observer interface {
	OnProbe(p Probe, t float64)
	OnStep(ev StepEvent)
}

type NopObserver struct{}

func (NopObserver) OnProbe(Probe, float64) {}
func (NopObserver) OnStep(StepEvent)       {}
