package linsol

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
)

// bandSolver factors M with partial pivoting inside the band. Row interchanges
// can push U up to lower+upper superdiagonals, so each row stores
// 2·lower+upper+1 entries; entry (i, j) lives at ab[i*w + j-i+lower].
type bandSolver struct {
	n, kl, ku int
	w         int
	band      *mat.BandDense
	ab        []float64
	piv       []int
	ok        bool
}

func newBanded(n, kl, ku int) *bandSolver {
	w := 2*kl + ku + 1
	return &bandSolver{
		n:    n,
		kl:   kl,
		ku:   ku,
		w:    w,
		band: mat.NewBandDense(n, n, kl, ku, nil),
		ab:   make([]float64, n*w),
		piv:  make([]int, n),
	}
}

func (b *bandSolver) Name() string { return "banded" }

func (b *bandSolver) at(i, j int) *float64 {
	return &b.ab[i*b.w+j-i+b.kl]
}

func (b *bandSolver) Setup(op Operator) error {
	b.ok = false
	if err := b.assemble(op); err != nil {
		return err
	}
	for i := range b.ab {
		b.ab[i] = 0
	}
	for i := 0; i < b.n; i++ {
		lo := max(0, i-b.kl)
		hi := min(b.n-1, i+b.ku)
		for j := lo; j <= hi; j++ {
			*b.at(i, j) = b.band.At(i, j)
		}
	}
	if err := b.factor(); err != nil {
		return fmt.Errorf("%w at t=%g", err, op.T())
	}
	b.ok = true
	return nil
}

func (b *bandSolver) assemble(op Operator) error {
	b.band.Zero()
	if bo, ok := op.(BandOperator); ok {
		return bo.Band(b.band)
	}
	full := mat.NewDense(b.n, b.n, nil)
	if err := op.Dense(full); err != nil {
		return err
	}
	for i := 0; i < b.n; i++ {
		lo := max(0, i-b.kl)
		hi := min(b.n-1, i+b.ku)
		for j := lo; j <= hi; j++ {
			b.band.SetBand(i, j, full.At(i, j))
		}
	}
	return nil
}

func (b *bandSolver) factor() error {
	n, kl := b.n, b.kl
	reach := kl + b.ku
	for k := 0; k < n; k++ {
		last := min(n-1, k+kl)
		p := k
		big := math.Abs(*b.at(k, k))
		for i := k + 1; i <= last; i++ {
			if v := math.Abs(*b.at(i, k)); v > big {
				big, p = v, i
			}
		}
		b.piv[k] = p
		if big == 0 {
			return fmt.Errorf("%w: zero pivot in column %d", ErrSolve, k)
		}
		right := min(n-1, k+reach)
		if p != k {
			for j := k; j <= right; j++ {
				pk, pp := b.at(k, j), b.at(p, j)
				*pk, *pp = *pp, *pk
			}
		}
		pivot := *b.at(k, k)
		for i := k + 1; i <= last; i++ {
			l := *b.at(i, k) / pivot
			*b.at(i, k) = l
			if l == 0 {
				continue
			}
			for j := k + 1; j <= right; j++ {
				*b.at(i, j) -= l * *b.at(k, j)
			}
		}
	}
	return nil
}

func (b *bandSolver) Solve(x []float64) error {
	if !b.ok {
		return fmt.Errorf("%w: solve before setup", ErrSolve)
	}
	n, kl := b.n, b.kl
	reach := kl + b.ku
	for k := 0; k < n; k++ {
		if p := b.piv[k]; p != k {
			x[k], x[p] = x[p], x[k]
		}
		for i := k + 1; i <= min(n-1, k+kl); i++ {
			x[i] -= *b.at(i, k) * x[k]
		}
	}
	for k := n - 1; k >= 0; k-- {
		sum := x[k]
		for j := k + 1; j <= min(n-1, k+reach); j++ {
			sum -= *b.at(k, j) * x[j]
		}
		x[k] = sum / *b.at(k, k)
	}
	return nil
}
