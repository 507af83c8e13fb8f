// Package export renders stored runs as line charts.
package export

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/san-kum/daesim/internal/storage"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/plotutil"
	"gonum.org/v1/plot/vg"
)

// Formats lists the file extensions Save accepts.
var Formats = []string{".png", ".svg", ".pdf", ".jpg"}

// Chart plots the named columns of tab against time. An empty column list
// selects every state column.
func Chart(tab *storage.Table, title string, columns ...string) (*plot.Plot, error) {
	if len(tab.Times) == 0 {
		return nil, fmt.Errorf("export: no rows to plot")
	}
	if len(columns) == 0 {
		for _, h := range tab.Header {
			if strings.HasPrefix(h, "x") {
				columns = append(columns, h)
			}
		}
	}

	p := plot.New()
	p.Title.Text = title
	p.X.Label.Text = "t"
	p.Add(plotter.NewGrid())

	for i, name := range columns {
		col := tab.Column(name)
		if col == nil {
			return nil, fmt.Errorf("export: unknown column %q", name)
		}
		pts := make(plotter.XYs, len(col))
		for k, v := range col {
			pts[k].X = tab.Times[k]
			pts[k].Y = v
		}
		line, err := plotter.NewLine(pts)
		if err != nil {
			return nil, fmt.Errorf("export: column %q: %w", name, err)
		}
		line.Color = plotutil.Color(i)
		line.Dashes = plotutil.Dashes(i / len(plotutil.DefaultColors))
		p.Add(line)
		p.Legend.Add(name, line)
	}
	p.Legend.Top = true
	return p, nil
}

// Save writes p to path; the extension picks the image format.
func Save(p *plot.Plot, path string, widthIn, heightIn float64) error {
	ext := strings.ToLower(filepath.Ext(path))
	ok := false
	for _, f := range Formats {
		ok = ok || f == ext
	}
	if !ok {
		return fmt.Errorf("export: unsupported format %q", ext)
	}
	return p.Save(vg.Length(widthIn)*vg.Inch, vg.Length(heightIn)*vg.Inch, path)
}
