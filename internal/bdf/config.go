package bdf

// Config holds the resolved settings of one integration direction.
type Config struct {
	RelTol     float64
	AbsTol     []float64
	QuadAbsTol float64

	SensRelTol float64
	SensAbsTol []float64
	// SensScale holds the parameter scaling factors pbar; sensitivity
	// absolute tolerances are divided by |pbar_j|.
	SensScale []float64

	MaxOrder    int
	MaxSteps    int
	MaxStepSize float64

	StopAtEnd         bool
	SuppressAlgebraic bool
	QuadErrCon        bool
	SensErrCon        bool
	Staggered         bool
	CjScaling         bool

	CalcIC      bool
	ExtraSensIC bool

	MaxConvFails    int
	MaxErrTestFails int
	MaxNewtonIters  int

	// FirstTime is the distance to the first requested output; zero means
	// the whole interval. It scales the initial step.
	FirstTime float64
}

func DefaultConfig() Config {
	return Config{
		RelTol:          1e-6,
		AbsTol:          []float64{1e-8},
		QuadAbsTol:      1e-8,
		SensRelTol:      1e-6,
		SensAbsTol:      []float64{1e-8},
		MaxOrder:        5,
		MaxSteps:        10000,
		StopAtEnd:       true,
		SensErrCon:      true,
		CalcIC:          true,
		MaxConvFails:    10,
		MaxErrTestFails: 10,
		MaxNewtonIters:  4,
	}
}
