// Package tui shows a live view of an integration run.
package tui

import (
	"context"
	"fmt"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/san-kum/daesim/internal/dae"
	"github.com/san-kum/daesim/internal/integrator"
)

var (
	cyan   = lipgloss.NewStyle().Foreground(lipgloss.Color("86"))
	white  = lipgloss.NewStyle().Foreground(lipgloss.Color("255"))
	dim    = lipgloss.NewStyle().Foreground(lipgloss.Color("242"))
	dimmer = lipgloss.NewStyle().Foreground(lipgloss.Color("238"))
	green  = lipgloss.NewStyle().Foreground(lipgloss.Color("82"))
	yellow = lipgloss.NewStyle().Foreground(lipgloss.Color("220"))
	red    = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
)

// RunFunc performs the integration, reporting to obs.
type RunFunc func(ctx context.Context, obs dae.Observer) (*integrator.Result, error)

type tickMsg time.Time

type doneMsg struct {
	res *integrator.Result
	err error
}

func tick() tea.Cmd {
	return tea.Tick(50*time.Millisecond, func(t time.Time) tea.Msg { return tickMsg(t) })
}

type model struct {
	title   string
	t0, tf  float64
	adjoint bool

	feed   *Feed
	run    RunFunc
	ctx    context.Context
	cancel context.CancelFunc

	snap    snapshot
	started time.Time
	elapsed time.Duration
	done    bool
	res     *integrator.Result
	err     error
	width   int
}

func newModel(ctx context.Context, title string, t0, tf float64, adjoint bool, run RunFunc) model {
	ctx, cancel := context.WithCancel(ctx)
	return model{
		title:   title,
		t0:      t0,
		tf:      tf,
		adjoint: adjoint,
		feed:    NewFeed(),
		run:     run,
		ctx:     ctx,
		cancel:  cancel,
		width:   80,
	}
}

func (m model) Init() tea.Cmd {
	feed, run, ctx := m.feed, m.run, m.ctx
	return tea.Batch(tick(), func() tea.Msg {
		res, err := run(ctx, feed)
		return doneMsg{res: res, err: err}
	})
}

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c", "esc":
			m.cancel()
			if m.done {
				return m, tea.Quit
			}
		}
		return m, nil
	case tea.WindowSizeMsg:
		m.width = msg.Width
		return m, nil
	case tickMsg:
		if m.started.IsZero() {
			m.started = time.Time(msg)
		}
		m.elapsed = time.Time(msg).Sub(m.started)
		m.snap = m.feed.snapshot()
		if m.done {
			return m, nil
		}
		return m, tick()
	case doneMsg:
		m.done = true
		m.res, m.err = msg.res, msg.err
		m.snap = m.feed.snapshot()
		m.cancel()
		return m, tea.Quit
	}
	return m, nil
}

// progress maps the last step onto [0, 1] of its own pass.
func (m model) progress() (dae.Direction, float64, float64) {
	ev := m.snap.last
	span := m.tf - m.t0
	if !m.snap.seen || span <= 0 {
		return dae.Forward, 0, m.t0
	}
	if ev.Direction == dae.Backward {
		// Backward steps run in reversed time from tf.
		return dae.Backward, clamp(ev.T / span), m.tf - ev.T
	}
	return dae.Forward, clamp((ev.T - m.t0) / span), ev.T
}

func clamp(x float64) float64 {
	if x < 0 {
		return 0
	}
	if x > 1 {
		return 1
	}
	return x
}

func (m model) View() string {
	var b strings.Builder

	dir, frac, t := m.progress()
	status := green.Render("● running")
	switch {
	case m.done && m.err != nil:
		status = red.Render("✗ failed")
	case m.done:
		status = cyan.Render("✓ done")
	}
	b.WriteString(fmt.Sprintf("\n   %s  %s  %s\n", cyan.Render(m.title), status, dim.Render(m.elapsed.Round(time.Millisecond).String())))

	passes := []dae.Direction{dae.Forward}
	if m.adjoint {
		passes = append(passes, dae.Backward)
	}
	barWidth := 36
	for _, p := range passes {
		f := 0.0
		switch {
		case p == dir:
			f = frac
		case p == dae.Forward && dir == dae.Backward:
			f = 1
		}
		if m.done && m.err == nil {
			f = 1
		}
		filled := int(f * float64(barWidth))
		bar := cyan.Render(strings.Repeat("━", filled)) + dimmer.Render(strings.Repeat("─", barWidth-filled))
		b.WriteString(fmt.Sprintf("   %-8s %s %s\n", p, bar, dim.Render(fmt.Sprintf("%3.0f%%  %d steps", 100*f, m.snap.steps[p]))))
	}

	ev := m.snap.last
	b.WriteString(fmt.Sprintf("\n   %s%s  %s%s  %s%d\n",
		dim.Render("t="), white.Render(fmt.Sprintf("%.6g", t)),
		dim.Render("h="), white.Render(fmt.Sprintf("%.3g", ev.H)),
		dim.Render("order="), ev.Order))

	if len(m.snap.hist) > 1 {
		b.WriteString(fmt.Sprintf("   %s %s\n", dim.Render("log h"), cyan.Render(sparkline(m.snap.hist, 40))))
	}

	var probes []string
	for _, p := range dae.Probes {
		if n := m.snap.probes[p]; n > 0 {
			probes = append(probes, dim.Render(string(p)+"=")+white.Render(fmt.Sprint(n)))
		}
	}
	if len(probes) > 0 {
		b.WriteString("   " + strings.Join(probes, "  ") + "\n")
	}

	if m.err != nil {
		b.WriteString("\n   " + yellow.Render(m.err.Error()) + "\n")
	}
	b.WriteString("\n" + dim.Render("   q cancel") + "\n")
	return b.String()
}

func sparkline(data []float64, width int) string {
	if len(data) == 0 {
		return ""
	}
	chars := []rune{'▁', '▂', '▃', '▄', '▅', '▆', '▇', '█'}
	minVal, maxVal := data[0], data[0]
	for _, v := range data {
		if v < minVal {
			minVal = v
		}
		if v > maxVal {
			maxVal = v
		}
	}
	rang := maxVal - minVal
	if rang == 0 {
		rang = 1
	}
	step := len(data) / width
	if step < 1 {
		step = 1
	}
	var sb strings.Builder
	for i := 0; i < width && i*step < len(data); i++ {
		idx := int((data[i*step] - minVal) / rang * 7)
		if idx > 7 {
			idx = 7
		}
		if idx < 0 {
			idx = 0
		}
		sb.WriteRune(chars[idx])
	}
	return sb.String()
}

// Watch runs fn under a live view and returns its outcome once the run
// finishes or the user cancels it.
func Watch(ctx context.Context, title string, t0, tf float64, adjoint bool, fn RunFunc) (*integrator.Result, error) {
	final, err := tea.NewProgram(newModel(ctx, title, t0, tf, adjoint, fn)).Run()
	if err != nil {
		return nil, err
	}
	m := final.(model)
	if !m.done {
		return nil, context.Canceled
	}
	return m.res, m.err
}
