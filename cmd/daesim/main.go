package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	dataDir    string
	configFile string
	preset     string
	logLevel   string

	tf        float64
	params    []float64
	outputs   int
	sens      bool
	seedX     []float64
	seedQ     []float64
	save      bool
	asJSON    bool
	probes    bool
	sweepIdx  int
	sweepVals []float64
	workers   int
	plotOut   string
	columns   []string
)

// overrides are the option keys settable by flag or DAESIM_* environment
// variable on top of a preset or config file.
var overrides = []string{
	"reltol", "abstol", "linear_solver_type", "iterative_solver", "max_num_steps",
	"sensitivity_method", "interpolation_type", "steps_per_checkpoint",
}

func main() {
	rootCmd := &cobra.Command{
		Use:           "daesim",
		Short:         "DAE integration with forward and adjoint sensitivities",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return initConfig()
		},
	}

	rootCmd.PersistentFlags().StringVar(&dataDir, "data", ".daesim", "data directory")
	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "options file (yaml), also DAESIM_CONFIG")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "warn", "debug, info, warn or error")

	runCmd := &cobra.Command{
		Use:   "run [problem]",
		Short: "integrate a built-in problem",
		Args:  cobra.ExactArgs(1),
		RunE:  runProblem,
	}
	integrationFlags(runCmd)
	runCmd.Flags().BoolVar(&save, "save", true, "store the run under the data directory")
	runCmd.Flags().BoolVar(&asJSON, "json", false, "print the result as JSON")
	runCmd.Flags().BoolVar(&probes, "probes", false, "report callback counts")

	watchCmd := &cobra.Command{
		Use:   "watch [problem]",
		Short: "integrate with a live progress view",
		Args:  cobra.ExactArgs(1),
		RunE:  watchProblem,
	}
	integrationFlags(watchCmd)

	sweepCmd := &cobra.Command{
		Use:   "sweep [problem]",
		Short: "integrate over a range of one parameter",
		Args:  cobra.ExactArgs(1),
		RunE:  sweepProblem,
	}
	integrationFlags(sweepCmd)
	sweepCmd.Flags().IntVar(&sweepIdx, "param", 0, "index of the swept parameter")
	sweepCmd.Flags().Float64SliceVar(&sweepVals, "values", nil, "parameter values")
	sweepCmd.Flags().IntVar(&workers, "workers", 0, "parallel instances (0 = GOMAXPROCS)")
	_ = sweepCmd.MarkFlagRequired("values")

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "list stored runs",
		RunE:  listRuns,
	}

	problemsCmd := &cobra.Command{
		Use:   "problems",
		Short: "list built-in problems",
		RunE:  listProblems,
	}

	plotCmd := &cobra.Command{
		Use:   "plot [run_id]",
		Short: "plot a stored run",
		Args:  cobra.ExactArgs(1),
		RunE:  plotRun,
	}
	plotCmd.Flags().StringVarP(&plotOut, "out", "o", "", "write a chart image (.png, .svg, .pdf) instead of terminal graphs")
	plotCmd.Flags().StringSliceVar(&columns, "columns", nil, "columns to plot (default: states)")

	exportCmd := &cobra.Command{
		Use:   "export [run_id]",
		Short: "export run metadata as JSON",
		Args:  cobra.ExactArgs(1),
		RunE:  exportRun,
	}

	presetsCmd := &cobra.Command{
		Use:   "presets",
		Short: "list option presets",
		RunE:  listPresets,
	}

	rootCmd.AddCommand(runCmd, watchCmd, sweepCmd, listCmd, problemsCmd, plotCmd, exportCmd, presetsCmd)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func integrationFlags(cmd *cobra.Command) {
	f := cmd.Flags()
	f.StringVar(&preset, "preset", "default", "option preset")
	f.Float64Var(&tf, "tf", 0, "end time (default: the problem's)")
	f.Float64SliceVar(&params, "params", nil, "parameter values (default: the problem's)")
	f.IntVar(&outputs, "outputs", 50, "evenly spaced output times")
	f.BoolVar(&sens, "sens", false, "compute forward sensitivities")
	f.Float64SliceVar(&seedX, "adjoint-x", nil, "adjoint seeds on the final states")
	f.Float64SliceVar(&seedQ, "adjoint-q", nil, "adjoint seeds on the final quadratures")

	f.Float64("reltol", 0, "relative tolerance")
	f.Float64("abstol", 0, "absolute tolerance")
	f.String("linear_solver_type", "", "dense, banded, iterative")
	f.String("iterative_solver", "", "gmres, bcgstab, tfqmr")
	f.Int("max_num_steps", 0, "step attempt limit")
	f.String("sensitivity_method", "", "simultaneous or staggered")
	f.String("interpolation_type", "", "hermite or polynomial")
	f.Int("steps_per_checkpoint", 0, "steps between checkpoints")
}

func initConfig() error {
	viper.SetEnvPrefix("DAESIM")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
	if configFile == "" {
		configFile = viper.GetString("config")
	}
	return nil
}

func newLogger() log.Logger {
	logger := log.NewLogfmtLogger(log.NewSyncWriter(os.Stderr))
	logger = log.With(logger, "ts", log.DefaultTimestampUTC)
	var allow level.Option
	switch strings.ToLower(logLevel) {
	case "debug":
		allow = level.AllowDebug()
	case "info":
		allow = level.AllowInfo()
	case "error":
		allow = level.AllowError()
	default:
		allow = level.AllowWarn()
	}
	return level.NewFilter(logger, allow)
}
