package storage

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/san-kum/daesim/internal/integrator"
)

type Store struct {
	baseDir string
}

func New(baseDir string) *Store {
	return &Store{baseDir: baseDir}
}

func (s *Store) Init() error {
	return os.MkdirAll(s.baseDir, 0755)
}

type RunMetadata struct {
	ID        string         `json:"id"`
	Problem   string         `json:"problem"`
	Preset    string         `json:"preset,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
	T0        float64        `json:"t0"`
	Tf        float64        `json:"tf"`
	Params    []float64      `json:"params"`
	Stats     map[string]int `json:"stats"`
	Gradient  []float64      `json:"gradient,omitempty"`
	Lambda0   []float64      `json:"lambda0,omitempty"`
	// Error is set for runs that stopped early.
	Error string `json:"error,omitempty"`
}

// Run describes a finished integration to be saved.
type Run struct {
	Problem string
	Preset  string
	T0, Tf  float64
	Params  []float64
	Err     error
}

func (s *Store) Save(run Run, result *integrator.Result) (string, error) {
	runID := fmt.Sprintf("%s_%s", run.Problem, uuid.NewString()[:8])
	runDir := filepath.Join(s.baseDir, runID)

	if err := os.MkdirAll(runDir, 0755); err != nil {
		return "", err
	}

	meta := RunMetadata{
		ID:        runID,
		Problem:   run.Problem,
		Preset:    run.Preset,
		Timestamp: time.Now(),
		T0:        run.T0,
		Tf:        run.Tf,
		Params:    run.Params,
		Stats:     result.StatsMap(),
		Gradient:  result.Gradient,
		Lambda0:   result.Lambda0,
	}
	if run.Err != nil {
		meta.Error = run.Err.Error()
	}

	metaFile, err := os.Create(filepath.Join(runDir, "metadata.json"))
	if err != nil {
		return "", err
	}
	defer metaFile.Close()

	enc := json.NewEncoder(metaFile)
	enc.SetIndent("", "  ")
	if err := enc.Encode(meta); err != nil {
		return "", err
	}

	csvFile, err := os.Create(filepath.Join(runDir, "states.csv"))
	if err != nil {
		return "", err
	}
	defer csvFile.Close()

	w := csv.NewWriter(csvFile)
	if err := writeStates(w, result); err != nil {
		return "", err
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return "", err
	}
	return runID, nil
}

// writeStates lays rows out as time, x_i, q_k, then s<j>_<i> for each
// sensitivity.
func writeStates(w *csv.Writer, result *integrator.Result) error {
	if len(result.States) == 0 {
		return nil
	}
	n := len(result.States[0])
	header := []string{"time"}
	for i := 0; i < n; i++ {
		header = append(header, fmt.Sprintf("x%d", i))
	}
	nq := 0
	if len(result.Quadratures) > 0 {
		nq = len(result.Quadratures[0])
		for k := 0; k < nq; k++ {
			header = append(header, fmt.Sprintf("q%d", k))
		}
	}
	ns := 0
	if len(result.Sensitivities) > 0 {
		ns = len(result.Sensitivities[0])
		for j := 0; j < ns; j++ {
			for i := 0; i < n; i++ {
				header = append(header, fmt.Sprintf("s%d_%d", j, i))
			}
		}
	}
	if err := w.Write(header); err != nil {
		return err
	}

	format := func(v float64) string { return strconv.FormatFloat(v, 'g', -1, 64) }
	for k := range result.States {
		row := []string{format(result.Times[k])}
		for _, v := range result.States[k] {
			row = append(row, format(v))
		}
		if nq > 0 {
			for _, v := range result.Quadratures[k] {
				row = append(row, format(v))
			}
		}
		if ns > 0 {
			for _, s := range result.Sensitivities[k] {
				for _, v := range s {
					row = append(row, format(v))
				}
			}
		}
		if err := w.Write(row); err != nil {
			return err
		}
	}
	return nil
}

// List returns every readable run, newest first.
func (s *Store) List() ([]RunMetadata, error) {
	entries, err := os.ReadDir(s.baseDir)
	if err != nil {
		if os.IsNotExist(err) {
			return []RunMetadata{}, nil
		}
		return nil, err
	}

	runs := make([]RunMetadata, 0)
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		meta, err := s.Load(entry.Name())
		if err != nil {
			continue
		}
		runs = append(runs, *meta)
	}
	sort.Slice(runs, func(i, j int) bool { return runs[i].Timestamp.After(runs[j].Timestamp) })
	return runs, nil
}

func (s *Store) Load(runID string) (*RunMetadata, error) {
	data, err := os.ReadFile(filepath.Join(s.baseDir, runID, "metadata.json"))
	if err != nil {
		return nil, err
	}

	var meta RunMetadata
	if err := json.Unmarshal(data, &meta); err != nil {
		return nil, err
	}
	return &meta, nil
}

// Table is the contents of states.csv.
type Table struct {
	Header []string
	Times  []float64
	Rows   [][]float64
}

// Column returns the values of the named column, or nil.
func (t *Table) Column(name string) []float64 {
	for c, h := range t.Header {
		if h != name || c == 0 {
			continue
		}
		out := make([]float64, len(t.Rows))
		for i, r := range t.Rows {
			out[i] = r[c-1]
		}
		return out
	}
	return nil
}

func (s *Store) LoadStates(runID string) (*Table, error) {
	file, err := os.Open(filepath.Join(s.baseDir, runID, "states.csv"))
	if err != nil {
		return nil, err
	}
	defer file.Close()

	r := csv.NewReader(file)
	records, err := r.ReadAll()
	if err != nil {
		return nil, err
	}

	t := &Table{}
	if len(records) == 0 {
		return t, nil
	}
	t.Header = records[0]
	for i, record := range records[1:] {
		vals := make([]float64, len(record))
		for j, field := range record {
			v, err := strconv.ParseFloat(field, 64)
			if err != nil {
				return nil, fmt.Errorf("states.csv line %d column %q: %w", i+2, t.Header[j], err)
			}
			vals[j] = v
		}
		t.Times = append(t.Times, vals[0])
		t.Rows = append(t.Rows, vals[1:])
	}
	return t, nil
}
