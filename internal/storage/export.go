package storage

import (
	"encoding/json"
	"io"
	"os"

	"github.com/san-kum/daesim/internal/integrator"
)

type ExportData struct {
	Problem       string         `json:"problem"`
	Preset        string         `json:"preset,omitempty"`
	T0            float64        `json:"t0"`
	Tf            float64        `json:"tf"`
	Params        []float64      `json:"params"`
	Times         []float64      `json:"times"`
	States        [][]float64    `json:"states"`
	Quadratures   [][]float64    `json:"quadratures,omitempty"`
	Sensitivities [][][]float64  `json:"sensitivities,omitempty"`
	Gradient      []float64      `json:"gradient,omitempty"`
	Lambda0       []float64      `json:"lambda0,omitempty"`
	Stats         map[string]int `json:"stats"`
}

func exportData(run Run, result *integrator.Result) ExportData {
	return ExportData{
		Problem:       run.Problem,
		Preset:        run.Preset,
		T0:            run.T0,
		Tf:            run.Tf,
		Params:        run.Params,
		Times:         result.Times,
		States:        result.States,
		Quadratures:   result.Quadratures,
		Sensitivities: result.Sensitivities,
		Gradient:      result.Gradient,
		Lambda0:       result.Lambda0,
		Stats:         result.StatsMap(),
	}
}

func ExportJSON(path string, run Run, result *integrator.Result) error {
	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()
	return WriteJSON(file, run, result)
}

func WriteJSON(w io.Writer, run Run, result *integrator.Result) error {
	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	return encoder.Encode(exportData(run, result))
}
