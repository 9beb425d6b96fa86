package monitor

import (
	"fmt"
	"image/color"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/cruce-data/aforo.report/internal/aforo"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"
	"gonum.org/v1/plot/vg/draw"
)

// TrackPlotter renders a dataset's trajectory events to PNG files, one
// plot per object class, trajectories coloured by RILSA code with the
// configured access polygons drawn underneath. Output is meant for
// visual QC of tracking and classification, not for reports.
type TrackPlotter struct {
	outputDir string

	// Width and Height bound the plot axes in pixels. Zero means derive
	// the bounds from the data.
	Width  int
	Height int
}

// NewTrackPlotter creates a plotter writing into outputDir. The
// directory is created on the first Plot call.
func NewTrackPlotter(outputDir string) *TrackPlotter {
	return &TrackPlotter{outputDir: outputDir}
}

// OutputDir returns the directory plots are written to.
func (tp *TrackPlotter) OutputDir() string {
	return tp.outputDir
}

// Plot renders one PNG per object class present in events. Access
// polygons (or centroids where no polygon is configured) are drawn on
// every plot. Returns the number of files written.
func (tp *TrackPlotter) Plot(events []aforo.TrajectoryEvent, accesses []aforo.AccessPoint) (int, error) {
	if tp.outputDir == "" {
		return 0, fmt.Errorf("no output directory configured")
	}
	if len(events) == 0 {
		return 0, nil
	}

	if err := os.MkdirAll(tp.outputDir, 0755); err != nil {
		return 0, fmt.Errorf("failed to create output dir: %w", err)
	}

	byClass := make(map[string][]aforo.TrajectoryEvent)
	for _, ev := range events {
		byClass[ev.Class] = append(byClass[ev.Class], ev)
	}

	classes := make([]string, 0, len(byClass))
	for class := range byClass {
		classes = append(classes, class)
	}
	sort.Strings(classes)

	written := 0
	for _, class := range classes {
		file := filepath.Join(tp.outputDir, fmt.Sprintf("class_%s_trajectories.png", sanitizeName(class)))
		if err := tp.plotClass(file, class, byClass[class], accesses); err != nil {
			return written, fmt.Errorf("class %s: %w", class, err)
		}
		written++
	}
	return written, nil
}

// plotClass renders all trajectories of one class into a single plot.
func (tp *TrackPlotter) plotClass(file, class string, events []aforo.TrajectoryEvent, accesses []aforo.AccessPoint) error {
	p := plot.New()
	p.Title.Text = fmt.Sprintf("Class %s - Trajectories (n=%d)", class, len(events))
	p.X.Label.Text = "X (px)"
	p.Y.Label.Text = "Y (px)"
	if tp.Width > 0 {
		p.X.Min, p.X.Max = 0, float64(tp.Width)
	}
	if tp.Height > 0 {
		p.Y.Min, p.Y.Max = 0, float64(tp.Height)
	}

	if err := addAccessOverlay(p, accesses); err != nil {
		return err
	}

	// One colour per RILSA code, stable across plots so the same
	// movement reads the same everywhere.
	codes := aforo.AllCodes()
	palette := generateColors(len(codes))
	colorOf := make(map[string]color.Color, len(codes))
	for i, code := range codes {
		colorOf[code] = palette[i]
	}
	inLegend := make(map[string]bool)

	for i := range events {
		ev := &events[i]
		pts := make(plotter.XYs, 0, len(ev.Positions))
		for _, pos := range ev.Positions {
			pts = append(pts, plotter.XY{X: pos.X, Y: pos.Y})
		}
		if len(pts) == 0 {
			continue
		}

		line, err := plotter.NewLine(pts)
		if err != nil {
			return err
		}
		c, ok := colorOf[ev.RilsaCode]
		if !ok {
			c = color.Gray{Y: 128}
		}
		line.Color = c
		line.Width = vg.Points(1)
		if ev.Discarded {
			line.Dashes = []vg.Length{vg.Points(2), vg.Points(2)}
		}
		p.Add(line)

		if ev.RilsaCode != "" && !inLegend[ev.RilsaCode] {
			p.Legend.Add(ev.RilsaCode, line)
			inLegend[ev.RilsaCode] = true
		}
	}

	p.Legend.Top = true
	p.Legend.Left = false
	p.Legend.XOffs = -10
	p.Legend.YOffs = -10

	if err := p.Save(10*vg.Inch, 10*vg.Inch, file); err != nil {
		return fmt.Errorf("save trajectory plot: %w", err)
	}
	return nil
}

// addAccessOverlay draws the access geometry: polygon outlines where
// configured, centroid markers always.
func addAccessOverlay(p *plot.Plot, accesses []aforo.AccessPoint) error {
	outline := color.RGBA{R: 130, G: 130, B: 130, A: 255}

	centroids := make(plotter.XYs, 0, len(accesses))
	for _, a := range accesses {
		centroids = append(centroids, plotter.XY{X: a.X, Y: a.Y})

		if len(a.Polygon) >= 3 {
			ring := make(plotter.XYs, 0, len(a.Polygon)+1)
			for _, v := range a.Polygon {
				ring = append(ring, plotter.XY{X: v.X, Y: v.Y})
			}
			ring = append(ring, plotter.XY{X: a.Polygon[0].X, Y: a.Polygon[0].Y})

			line, err := plotter.NewLine(ring)
			if err != nil {
				return err
			}
			line.Color = outline
			line.Width = vg.Points(0.5)
			p.Add(line)
		}

		if a.Gate != nil {
			gate := plotter.XYs{
				{X: a.Gate.A.X, Y: a.Gate.A.Y},
				{X: a.Gate.B.X, Y: a.Gate.B.Y},
			}
			line, err := plotter.NewLine(gate)
			if err != nil {
				return err
			}
			line.Color = outline
			line.Width = vg.Points(1.5)
			p.Add(line)
		}
	}

	if len(centroids) > 0 {
		marks, err := plotter.NewScatter(centroids)
		if err != nil {
			return err
		}
		marks.GlyphStyle.Color = outline
		marks.GlyphStyle.Radius = vg.Points(4)
		marks.GlyphStyle.Shape = draw.PyramidGlyph{}
		p.Add(marks)
		p.Legend.Add("accesses", marks)
	}
	return nil
}

// sanitizeName makes a class name safe for a filename.
func sanitizeName(name string) string {
	if name == "" {
		return "unknown"
	}
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			return r
		}
		return '_'
	}, name)
}

// generateColors creates a palette of distinct colours for trajectory lines.
func generateColors(n int) []color.Color {
	if n <= 0 {
		return nil
	}

	colors := make([]color.Color, n)
	for i := 0; i < n; i++ {
		hue := float64(i) / float64(n)
		r, g, b := hslToRGB(hue, 0.7, 0.5)
		colors[i] = color.RGBA{R: r, G: g, B: b, A: 255}
	}
	return colors
}

// hslToRGB converts HSL to RGB (0-255 range)
func hslToRGB(h, s, l float64) (r, g, b uint8) {
	var rf, gf, bf float64

	if s == 0 {
		rf, gf, bf = l, l, l
	} else {
		var q float64
		if l < 0.5 {
			q = l * (1 + s)
		} else {
			q = l + s - l*s
		}
		p := 2*l - q
		rf = hueToRGB(p, q, h+1.0/3.0)
		gf = hueToRGB(p, q, h)
		bf = hueToRGB(p, q, h-1.0/3.0)
	}

	return uint8(rf * 255), uint8(gf * 255), uint8(bf * 255)
}

func hueToRGB(p, q, t float64) float64 {
	if t < 0 {
		t += 1
	}
	if t > 1 {
		t -= 1
	}
	if t < 1.0/6.0 {
		return p + (q-p)*6*t
	}
	if t < 1.0/2.0 {
		return q
	}
	if t < 2.0/3.0 {
		return p + (q-p)*(2.0/3.0-t)*6
	}
	return p
}

// FormatTimestamp generates a timestamp string for directory naming.
func FormatTimestamp(t time.Time) string {
	return t.Format("20060102_150405")
}

// MakePlotOutputDir builds a timestamped output directory for one
// dataset's plots: <baseDir>/<datasetID>/<timestamp>.
func MakePlotOutputDir(baseDir, datasetID string) string {
	ts := FormatTimestamp(time.Now())
	if datasetID != "" {
		return filepath.Join(baseDir, sanitizeName(datasetID), ts)
	}
	return filepath.Join(baseDir, ts)
}
