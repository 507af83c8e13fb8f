package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/guptarohit/asciigraph"
	"github.com/san-kum/daesim/internal/export"
	"github.com/san-kum/daesim/internal/options"
	"github.com/san-kum/daesim/internal/problems"
	"github.com/san-kum/daesim/internal/storage"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

func listRuns(cmd *cobra.Command, args []string) error {
	st := storage.New(dataDir)
	runs, err := st.List()
	if err != nil {
		return err
	}
	if len(runs) == 0 {
		fmt.Println("no runs found")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tPROBLEM\tTIME\tSPAN\tPRESET\tSTEPS\tSTEPS B\tSTATUS")
	for _, run := range runs {
		status := "ok"
		if run.Error != "" {
			status = "failed"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t[%g, %g]\t%s\t%d\t%d\t%s\n",
			run.ID,
			run.Problem,
			run.Timestamp.Format("2006-01-02 15:04:05"),
			run.T0, run.Tf,
			run.Preset,
			run.Stats["nsteps"],
			run.Stats["nstepsB"],
			status,
		)
	}
	return w.Flush()
}

func listProblems(cmd *cobra.Command, args []string) error {
	reg := problems.NewRegistry()
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "NAME\tSTATES\tPARAMS\tSPAN\tDESCRIPTION")
	for _, name := range reg.List() {
		c, err := reg.Get(name)
		if err != nil {
			return err
		}
		d := c.Problem.Dims()
		fmt.Fprintf(w, "%s\t%d\t%d\t[%g, %g]\t%s\n", c.Name, d.States, d.Params, c.T0, c.Tf, c.Description)
	}
	return w.Flush()
}

// listPresets prints every preset as the yaml a config file would carry.
func listPresets(cmd *cobra.Command, args []string) error {
	for _, name := range options.ListPresets() {
		out, err := yaml.Marshal(options.GetPreset(name))
		if err != nil {
			return err
		}
		fmt.Println(header.Render(name))
		for _, line := range strings.Split(strings.TrimRight(string(out), "\n"), "\n") {
			fmt.Println("  " + line)
		}
		fmt.Println()
	}
	return nil
}

func plotRun(cmd *cobra.Command, args []string) error {
	runID := args[0]
	st := storage.New(dataDir)
	meta, err := st.Load(runID)
	if err != nil {
		return fmt.Errorf("failed to load run: %w", err)
	}
	tab, err := st.LoadStates(runID)
	if err != nil {
		return fmt.Errorf("failed to load states: %w", err)
	}

	if plotOut != "" {
		p, err := export.Chart(tab, fmt.Sprintf("%s (%s)", meta.Problem, meta.ID), columns...)
		if err != nil {
			return err
		}
		if err := export.Save(p, plotOut, 8, 5); err != nil {
			return err
		}
		fmt.Printf("wrote %s\n", plotOut)
		return nil
	}

	cols := columns
	if len(cols) == 0 {
		for _, h := range tab.Header {
			if strings.HasPrefix(h, "x") {
				cols = append(cols, h)
			}
		}
	}
	fmt.Printf("run: %s  problem: %s  t: [%g, %g]\n\n", meta.ID, meta.Problem, meta.T0, meta.Tf)
	for _, name := range cols {
		data := tab.Column(name)
		if data == nil {
			return fmt.Errorf("unknown column %q", name)
		}
		if len(data) < 2 {
			continue
		}
		graph := asciigraph.Plot(data,
			asciigraph.Height(10),
			asciigraph.Width(80),
			asciigraph.Caption(name),
		)
		fmt.Println(graph)
		fmt.Println()
	}
	return nil
}

func exportRun(cmd *cobra.Command, args []string) error {
	st := storage.New(dataDir)
	meta, err := st.Load(args[0])
	if err != nil {
		return fmt.Errorf("failed to load run: %w", err)
	}
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(meta)
}
