package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sort"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/san-kum/daesim/internal/adjoint"
	"github.com/san-kum/daesim/internal/dae"
	"github.com/san-kum/daesim/internal/integrator"
	"github.com/san-kum/daesim/internal/monitor"
	"github.com/san-kum/daesim/internal/options"
	"github.com/san-kum/daesim/internal/problems"
	"github.com/san-kum/daesim/internal/storage"
	"github.com/san-kum/daesim/internal/sweep"
	"github.com/san-kum/daesim/internal/tui"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	header = lipgloss.NewStyle().Foreground(lipgloss.Color("86")).Bold(true)
	dim    = lipgloss.NewStyle().Foreground(lipgloss.Color("242"))
)

// loadOptions starts from the preset, replaces it with the config file when
// one is given, then applies flag and environment overrides.
func loadOptions(cmd *cobra.Command) (*options.Options, error) {
	o := options.GetPreset(preset)
	if o == nil {
		return nil, fmt.Errorf("unknown preset: %s (available: %v)", preset, options.ListPresets())
	}
	if configFile != "" {
		loaded, err := options.Load(configFile)
		if err != nil {
			return nil, fmt.Errorf("failed to load config: %w", err)
		}
		o = loaded
	}

	for _, key := range overrides {
		if err := viper.BindPFlag(key, cmd.Flags().Lookup(key)); err != nil {
			return nil, err
		}
	}
	if viper.IsSet("reltol") {
		o.RelTol = viper.GetFloat64("reltol")
	}
	if viper.IsSet("abstol") {
		o.AbsTol = viper.GetFloat64("abstol")
	}
	if viper.IsSet("linear_solver_type") {
		o.LinearSolverType = viper.GetString("linear_solver_type")
	}
	if viper.IsSet("iterative_solver") {
		o.IterativeSolver = viper.GetString("iterative_solver")
	}
	if viper.IsSet("max_num_steps") {
		o.MaxNumSteps = viper.GetInt("max_num_steps")
	}
	if viper.IsSet("sensitivity_method") {
		o.SensitivityMethod = viper.GetString("sensitivity_method")
	}
	if viper.IsSet("interpolation_type") {
		o.InterpolationType = viper.GetString("interpolation_type")
	}
	if viper.IsSet("steps_per_checkpoint") {
		o.StepsPerCheckpoint = viper.GetInt("steps_per_checkpoint")
	}
	return o, nil
}

func loadCase(cmd *cobra.Command, name string) (problems.Case, integrator.Input, error) {
	c, err := problems.NewRegistry().Get(name)
	if err != nil {
		return c, integrator.Input{}, err
	}
	if cmd.Flags().Changed("tf") {
		c.Tf = tf
	}
	if cmd.Flags().Changed("params") {
		if len(params) != len(c.P) {
			return c, integrator.Input{}, fmt.Errorf("%s takes %d parameters, got %d", name, len(c.P), len(params))
		}
		c.P = append([]float64(nil), params...)
	}

	in := integrator.Input{
		T0:            c.T0,
		Tf:            c.Tf,
		X0:            c.X0,
		P:             c.P,
		Sensitivities: sens,
	}
	for i := 1; i < outputs; i++ {
		in.Grid = append(in.Grid, c.T0+(c.Tf-c.T0)*float64(i)/float64(outputs))
	}
	if seedX != nil || seedQ != nil {
		in.AdjointSeeds = &adjoint.Seeds{X: seedX, Q: seedQ}
	}
	return c, in, nil
}

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt)
}

func runProblem(cmd *cobra.Command, args []string) error {
	o, err := loadOptions(cmd)
	if err != nil {
		return err
	}
	c, in, err := loadCase(cmd, args[0])
	if err != nil {
		return err
	}

	logger := newLogger()
	obs := monitor.List{monitor.Logging{Logger: logger, Probes: probes}}
	reg := prometheus.NewRegistry()
	if probes {
		counter, err := monitor.NewCounter(reg)
		if err != nil {
			return err
		}
		obs = append(obs, counter)
	}

	it, err := integrator.New(c.Problem, o, integrator.WithLogger(logger), integrator.WithObserver(obs))
	if err != nil {
		return err
	}

	ctx, cancel := signalContext()
	defer cancel()
	start := time.Now()
	res, runErr := it.Run(ctx, in)
	elapsed := time.Since(start)
	if res == nil {
		return runErr
	}

	run := storage.Run{Problem: c.Name, Preset: preset, T0: c.T0, Tf: c.Tf, Params: c.P, Err: runErr}
	if asJSON {
		if err := storage.WriteJSON(os.Stdout, run, res); err != nil {
			return err
		}
		return runErr
	}

	fmt.Printf("%s  %s\n", header.Render(c.Name), dim.Render(elapsed.Round(time.Microsecond).String()))
	if save {
		st := storage.New(dataDir)
		if err := st.Init(); err != nil {
			return err
		}
		runID, err := st.Save(run, res)
		if err != nil {
			return err
		}
		fmt.Printf("run id: %s\n", runID)
	}
	printResult(res)
	if probes {
		printProbes(reg)
	}
	return runErr
}

func printResult(res *integrator.Result) {
	fmt.Println()
	fmt.Println(statsTable(res.StatsMap()))

	if final := res.Final(); final != nil {
		fmt.Printf("\nx(%g) = %s\n", res.Times[len(res.Times)-1], vec(final))
	}
	if len(res.Quadratures) > 0 {
		fmt.Printf("q(%g) = %s\n", res.Times[len(res.Times)-1], vec(res.Quadratures[len(res.Quadratures)-1]))
	}
	if len(res.Sensitivities) > 0 {
		for j, s := range res.Sensitivities[len(res.Sensitivities)-1] {
			fmt.Printf("s%d = %s\n", j, vec(s))
		}
	}
	if res.Gradient != nil {
		fmt.Printf("gradient = %s\n", vec(res.Gradient))
		fmt.Printf("lambda(t0) = %s\n", vec(res.Lambda0))
	}
}

// statsTable lays the counters out with one row per counter and one
// column per direction.
func statsTable(stats map[string]int) string {
	var names []string
	for k := range stats {
		if !strings.HasSuffix(k, "B") {
			names = append(names, k)
		}
	}
	sort.Strings(names)
	t := table.New().
		Border(lipgloss.RoundedBorder()).
		BorderStyle(dim).
		Headers("counter", "forward", "backward")
	for _, k := range names {
		t.Row(k, fmt.Sprint(stats[k]), fmt.Sprint(stats[k+"B"]))
	}
	return t.Render()
}

func printProbes(reg *prometheus.Registry) {
	mfs, err := reg.Gather()
	if err != nil {
		fmt.Fprintln(os.Stderr, "gather:", err)
		return
	}
	fmt.Println()
	for _, mf := range mfs {
		if mf.GetName() == "daesim_probe_calls_total" {
			printCounters(mf)
		}
	}
}

func printCounters(mf *dto.MetricFamily) {
	for _, m := range mf.GetMetric() {
		for _, l := range m.GetLabel() {
			fmt.Printf("  %-26s %d\n", l.GetValue(), int(m.GetCounter().GetValue()))
		}
	}
}

func vec(v []float64) string {
	parts := make([]string, len(v))
	for i, x := range v {
		parts[i] = fmt.Sprintf("%.8g", x)
	}
	return "[" + strings.Join(parts, ", ") + "]"
}

func watchProblem(cmd *cobra.Command, args []string) error {
	o, err := loadOptions(cmd)
	if err != nil {
		return err
	}
	c, in, err := loadCase(cmd, args[0])
	if err != nil {
		return err
	}
	run := func(ctx context.Context, obs dae.Observer) (*integrator.Result, error) {
		it, err := integrator.New(c.Problem, o, integrator.WithObserver(obs))
		if err != nil {
			return nil, err
		}
		return it.Run(ctx, in)
	}
	res, err := tui.Watch(context.Background(), c.Name, in.T0, in.Tf, in.AdjointSeeds != nil, run)
	if res != nil {
		printResult(res)
	}
	return err
}

func sweepProblem(cmd *cobra.Command, args []string) error {
	o, err := loadOptions(cmd)
	if err != nil {
		return err
	}
	name := args[0]
	_, in, err := loadCase(cmd, name)
	if err != nil {
		return err
	}
	reg := problems.NewRegistry()

	ctx, cancel := signalContext()
	defer cancel()
	points, err := sweep.Run(ctx, sweep.Spec{
		Problem: func() dae.Problem {
			c, _ := reg.Get(name)
			return c.Problem
		},
		Options: o,
		Input:   in,
		Param:   sweepIdx,
		Values:  sweepVals,
		Workers: workers,
	})
	if err != nil {
		return err
	}

	t := table.New().
		Border(lipgloss.RoundedBorder()).
		BorderStyle(dim).
		Headers(fmt.Sprintf("p[%d]", sweepIdx), "x(tf)", "gradient", "nsteps", "status")
	for _, pt := range points {
		status := "ok"
		if pt.Err != nil {
			status = pt.Err.Error()
		}
		final, grad, steps := "", "", ""
		if pt.Result != nil {
			final = vec(pt.Result.Final())
			if pt.Result.Gradient != nil {
				grad = vec(pt.Result.Gradient)
			}
			steps = fmt.Sprint(pt.Result.Stats.Steps)
		}
		t.Row(fmt.Sprintf("%g", pt.Value), final, grad, steps, status)
	}
	fmt.Println(t.Render())
	return nil
}
