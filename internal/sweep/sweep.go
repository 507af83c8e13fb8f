// Package sweep runs one problem over a range of values of a single
// parameter. Every instance gets its own problem, integrator, linear
// solvers and checkpoint manager, so instances run in parallel without
// sharing mutable state.
package sweep

import (
	"context"
	"errors"
	"fmt"
	"runtime"

	"github.com/san-kum/daesim/internal/dae"
	"github.com/san-kum/daesim/internal/integrator"
	"github.com/san-kum/daesim/internal/options"
	"golang.org/x/sync/errgroup"
)

type Spec struct {
	// Problem returns a fresh problem instance.
	Problem func() dae.Problem
	Options *options.Options
	Input   integrator.Input
	// Param is the index into Input.P that is swept.
	Param  int
	Values []float64
	// Workers bounds concurrency; zero means GOMAXPROCS.
	Workers int
	// Observer, when set, builds an observer for instance i.
	Observer func(i int) dae.Observer
}

type Point struct {
	Value  float64
	Result *integrator.Result
	// Err holds an integration failure; Result is then partial.
	Err error
}

// Run integrates every value. Integration failures are reported per point;
// configuration errors and cancellation abort the sweep.
func Run(ctx context.Context, s Spec) ([]Point, error) {
	if s.Problem == nil {
		return nil, fmt.Errorf("%w: sweep needs a problem factory", dae.ErrConfig)
	}
	if s.Param < 0 || s.Param >= len(s.Input.P) {
		return nil, fmt.Errorf("%w: sweep parameter %d outside [0, %d)", dae.ErrConfig, s.Param, len(s.Input.P))
	}
	workers := s.Workers
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}

	points := make([]Point, len(s.Values))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for i, v := range s.Values {
		i, v := i, v
		g.Go(func() error {
			var opts []integrator.Option
			if s.Observer != nil {
				opts = append(opts, integrator.WithObserver(s.Observer(i)))
			}
			var o *options.Options
			if s.Options != nil {
				o = s.Options.Clone()
			}
			it, err := integrator.New(s.Problem(), o, opts...)
			if err != nil {
				return err
			}
			in := s.Input
			in.P = append([]float64(nil), s.Input.P...)
			in.P[s.Param] = v
			res, err := it.Run(gctx, in)
			points[i] = Point{Value: v, Result: res, Err: err}
			if errors.Is(err, dae.ErrConfig) || errors.Is(err, dae.ErrDimensionMismatch) || errors.Is(err, dae.ErrCanceled) {
				return err
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return points, err
	}
	return points, nil
}

// Gradients collects the adjoint gradients of a sweep, one row per point.
func Gradients(points []Point) [][]float64 {
	out := make([][]float64, len(points))
	for i, p := range points {
		if p.Result != nil {
			out[i] = p.Result.Gradient
		}
	}
	return out
}
