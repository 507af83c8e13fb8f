package tui

import (
	"math"
	"sync"

	"github.com/san-kum/daesim/internal/dae"
)

const historyLen = 120

// Feed is an observer that keeps what the watch view shows. It is safe
// for use by the integrating goroutine and the UI at the same time.
type Feed struct {
	mu     sync.Mutex
	last   dae.StepEvent
	seen   bool
	steps  map[dae.Direction]int
	probes map[dae.Probe]int
	hist   []float64
}

func NewFeed() *Feed {
	return &Feed{
		steps:  make(map[dae.Direction]int),
		probes: make(map[dae.Probe]int),
		hist:   make([]float64, 0, historyLen),
	}
}

func (f *Feed) OnProbe(p dae.Probe, _ float64) {
	f.mu.Lock()
	f.probes[p]++
	f.mu.Unlock()
}

func (f *Feed) OnStep(ev dae.StepEvent) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.seen && ev.Direction != f.last.Direction {
		f.hist = f.hist[:0]
	}
	f.last = ev
	f.seen = true
	f.steps[ev.Direction]++
	if ev.H > 0 {
		if len(f.hist) == historyLen {
			copy(f.hist, f.hist[1:])
			f.hist = f.hist[:historyLen-1]
		}
		f.hist = append(f.hist, math.Log10(ev.H))
	}
}

type snapshot struct {
	last   dae.StepEvent
	seen   bool
	steps  map[dae.Direction]int
	probes map[dae.Probe]int
	hist   []float64
}

func (f *Feed) snapshot() snapshot {
	f.mu.Lock()
	defer f.mu.Unlock()
	s := snapshot{
		last:   f.last,
		seen:   f.seen,
		steps:  make(map[dae.Direction]int, len(f.steps)),
		probes: make(map[dae.Probe]int, len(f.probes)),
		hist:   append([]float64(nil), f.hist...),
	}
	for k, v := range f.steps {
		s.steps[k] = v
	}
	for k, v := range f.probes {
		s.probes[k] = v
	}
	return s
}
