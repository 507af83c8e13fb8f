// Package checkpoint stores the accepted points of a forward integration in
// fixed-stride records and reconstructs intermediate states from them.
//
// A record is sealed after a fixed number of accepted steps and never
// changes afterwards. Each record keeps a copy of the points that preceded
// it, so polynomial reconstruction inside a record never looks outside it.
//
// # Thread Safety
//
// Record and Finish are called by the goroutine running the forward pass.
// Reconstruct, Len, Span and Checkpoints may be called concurrently with it;
// readers only see points that have already been committed.
package checkpoint

import (
	"fmt"
	"math"
	"sort"
	"strings"
	"sync"

	"github.com/san-kum/daesim/internal/dae"
)

type Interpolation int

const (
	Hermite Interpolation = iota
	Polynomial
)

func (i Interpolation) String() string {
	if i == Polynomial {
		return "polynomial"
	}
	return "hermite"
}

func ParseInterpolation(s string) (Interpolation, error) {
	switch strings.ToLower(s) {
	case "hermite", "":
		return Hermite, nil
	case "polynomial":
		return Polynomial, nil
	}
	return Hermite, fmt.Errorf("%w: unknown interpolation type %q", dae.ErrConfig, s)
}

// Point is one accepted step. Order is the BDF order used to reach it;
// the initial point has order zero.
type Point struct {
	T     float64
	H     float64
	Order int
	X     []float64
	XDot  []float64
}

func (p Point) clone() Point {
	p.X = append([]float64(nil), p.X...)
	p.XDot = append([]float64(nil), p.XDot...)
	return p
}

// Record is a checkpoint: a run of consecutive points plus the history
// needed to interpolate inside it.
type Record struct {
	Index     int
	FirstStep int
	History   []Point
	Points    []Point
	sealed    bool
}

func (r *Record) Sealed() bool { return r.sealed }

// Span returns the times of the first and last point of the record.
func (r *Record) Span() (float64, float64) {
	return r.Points[0].T, r.Points[len(r.Points)-1].T
}

// at returns point i of the sequence History ++ Points.
func (r *Record) at(i int) Point {
	if i < len(r.History) {
		return r.History[i]
	}
	return r.Points[i-len(r.History)]
}

type Manager struct {
	mu      sync.RWMutex
	n       int
	stride  int
	depth   int
	interp  Interpolation
	records []*Record
	tail    []Point
	steps   int
	total   int
}

// NewManager returns a manager for states of length n sealing a record every
// stride steps. depth is the number of trailing points copied into each new
// record; it must be at least the maximum BDF order.
func NewManager(n, stride, depth int, interp Interpolation) (*Manager, error) {
	if n < 1 {
		return nil, fmt.Errorf("%w: checkpoint state size %d", dae.ErrConfig, n)
	}
	if stride < 1 {
		return nil, fmt.Errorf("%w: steps_per_checkpoint must be positive, got %d", dae.ErrConfig, stride)
	}
	if depth < 1 {
		depth = 1
	}
	return &Manager{n: n, stride: stride, depth: depth, interp: interp}, nil
}

func (m *Manager) Interpolation() Interpolation { return m.interp }

// Record commits one accepted point. The first call after construction or
// Reset is the initial point. The slices are copied.
func (m *Manager) Record(p Point) error {
	if len(p.X) != m.n || len(p.XDot) != m.n {
		return fmt.Errorf("%w: checkpoint point has %d/%d components, want %d", dae.ErrDimensionMismatch, len(p.X), len(p.XDot), m.n)
	}
	p = p.clone()

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.total > 0 && !(p.T > m.tail[len(m.tail)-1].T) {
		return fmt.Errorf("%w: checkpoint time %g does not advance past %g", dae.ErrReconstruction, p.T, m.tail[len(m.tail)-1].T)
	}
	cur := m.current()
	if cur == nil {
		cur = &Record{
			Index:     len(m.records),
			FirstStep: m.steps,
			History:   append([]Point(nil), m.tail...),
		}
		m.records = append(m.records, cur)
	}
	cur.Points = append(cur.Points, p)
	m.tail = append(m.tail, p)
	if len(m.tail) > m.depth+1 {
		m.tail = append(m.tail[:0], m.tail[len(m.tail)-m.depth-1:]...)
	}
	if m.total > 0 {
		m.steps++
		if m.steps%m.stride == 0 {
			cur.sealed = true
		}
	}
	m.total++
	return nil
}

// Finish seals the open record, if any.
func (m *Manager) Finish() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if cur := m.current(); cur != nil {
		cur.sealed = true
	}
}

// Reset drops every record.
func (m *Manager) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records = nil
	m.tail = nil
	m.steps = 0
	m.total = 0
}

func (m *Manager) current() *Record {
	if len(m.records) == 0 {
		return nil
	}
	if r := m.records[len(m.records)-1]; !r.sealed {
		return r
	}
	return nil
}

// Len returns the number of committed points.
func (m *Manager) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.total
}

// Checkpoints returns the number of records, sealed or open.
func (m *Manager) Checkpoints() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.records)
}

// Records returns the sealed records. They are immutable.
func (m *Manager) Records() []*Record {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*Record, 0, len(m.records))
	for _, r := range m.records {
		if r.sealed {
			out = append(out, r)
		}
	}
	return out
}

// Span returns the initial time and the committed frontier.
func (m *Manager) Span() (float64, float64) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.total == 0 {
		return math.NaN(), math.NaN()
	}
	return m.records[0].Points[0].T, m.tail[len(m.tail)-1].T
}

// Reconstruct writes the state and its derivative at t into x and xdot.
// Times outside the committed span fail with dae.ErrReconstruction.
func (m *Manager) Reconstruct(t float64, x, xdot []float64) error {
	if len(x) != m.n || len(xdot) != m.n {
		return fmt.Errorf("%w: reconstruction buffers have %d/%d components, want %d", dae.ErrDimensionMismatch, len(x), len(xdot), m.n)
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.total == 0 {
		return fmt.Errorf("%w: no checkpoints recorded", dae.ErrReconstruction)
	}
	t0 := m.records[0].Points[0].T
	t1 := m.tail[len(m.tail)-1].T
	slack := 64 * epsilon * math.Max(1, math.Max(math.Abs(t0), math.Abs(t1)))
	if math.IsNaN(t) || t < t0-slack || t > t1+slack {
		return fmt.Errorf("%w: t=%g outside recorded span [%g, %g]", dae.ErrReconstruction, t, t0, t1)
	}
	t = math.Max(t0, math.Min(t1, t))

	ri := sort.Search(len(m.records), func(i int) bool {
		_, hi := m.records[i].Span()
		return hi >= t
	})
	rec := m.records[ri]
	j := sort.Search(len(rec.Points), func(i int) bool { return rec.Points[i].T >= t })
	cur := rec.Points[j]
	if cur.T == t {
		copy(x, cur.X)
		copy(xdot, cur.XDot)
		return nil
	}
	idx := len(rec.History) + j
	if m.interp == Polynomial {
		m.polynomial(rec, idx, t, x, xdot)
		return nil
	}
	hermite(rec.at(idx-1), cur, t, x, xdot)
	return nil
}

var epsilon = math.Nextafter(1, 2) - 1

// hermite evaluates the cubic matching values and slopes at both ends.
func hermite(a, b Point, t float64, x, xdot []float64) {
	h := b.T - a.T
	s := (t - a.T) / h
	s2, s3 := s*s, s*s*s
	h00 := 2*s3 - 3*s2 + 1
	h10 := s3 - 2*s2 + s
	h01 := -2*s3 + 3*s2
	h11 := s3 - s2
	d00 := (6*s2 - 6*s) / h
	d10 := 3*s2 - 4*s + 1
	d01 := (-6*s2 + 6*s) / h
	d11 := 3*s2 - 2*s
	for i := range x {
		x[i] = h00*a.X[i] + h10*h*a.XDot[i] + h01*b.X[i] + h11*h*b.XDot[i]
		xdot[i] = d00*a.X[i] + d10*a.XDot[i] + d01*b.X[i] + d11*b.XDot[i]
	}
}

// polynomial interpolates over the order+1 points ending at idx, which is
// the polynomial the stepper itself used for that step.
func (m *Manager) polynomial(rec *Record, idx int, t float64, x, xdot []float64) {
	k := max(rec.at(idx).Order, 1)
	npts := min(k+1, idx+1)
	nodes := make([]float64, npts)
	for j := range nodes {
		nodes[j] = rec.at(idx - j).T
	}
	w := dae.LagrangeWeights(nodes, t)
	wd := dae.LagrangeDerivWeights(nodes, t)
	for i := range x {
		v, d := 0.0, 0.0
		for j := range nodes {
			xi := rec.at(idx - j).X[i]
			v += w[j] * xi
			d += wd[j] * xi
		}
		x[i] = v
		xdot[i] = d
	}
}
