// Package monitor provides the QC visual surfaces: echarts debug pages
// rendered server-side and a gonum/plot trajectory plotter. These are
// operator diagnostics, not report output.
package monitor

import (
	"bytes"
	"database/sql"
	"encoding/json"
	"fmt"
	"html"
	"math"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"time"

	"github.com/cruce-data/aforo.report/internal/aforo"
	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/components"
	"github.com/go-echarts/go-echarts/v2/opts"
)

// echartsAssetsPrefix is where the rendered pages load the echarts
// runtime from.
const echartsAssetsPrefix = "https://go-echarts.github.io/go-echarts-assets/assets/"

// viridisRamp colours scatter points by their third value dimension.
var viridisRamp = []string{"#440154", "#482777", "#3e4989", "#31688e", "#26828e", "#1f9e89", "#35b779", "#6ece58", "#b5de2b", "#fde725"}

// Charts serves the debugging chart endpoints (no auth) so trajectory
// and count sanity checks don't need an external UI.
type Charts struct {
	datasets *aforo.DatasetStore
	configs  *aforo.ConfigStore
	events   *aforo.EventStore
	counts   *aforo.CountStore
}

func NewCharts(db *sql.DB) *Charts {
	return &Charts{
		datasets: aforo.NewDatasetStore(db),
		configs:  aforo.NewConfigStore(db),
		events:   aforo.NewEventStore(db),
		counts:   aforo.NewCountStore(db),
	}
}

// Attach mounts the chart handlers on mux under /debug/charts.
func (c *Charts) Attach(mux *http.ServeMux) {
	mux.HandleFunc("/debug/charts", c.handleDashboard)
	mux.HandleFunc("/debug/charts/trajectories", c.handleTrajectoriesChart)
	mux.HandleFunc("/debug/charts/counts", c.handleCountsChart)
}

func (c *Charts) writeJSONError(w http.ResponseWriter, status int, msg string) {
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": msg})
}

// handleDashboard renders a simple page with iframes to the debug charts.
func (c *Charts) handleDashboard(w http.ResponseWriter, r *http.Request) {
	datasetID := r.URL.Query().Get("dataset_id")
	safeDatasetID := html.EscapeString(datasetID)
	qs := ""
	if datasetID != "" {
		qs = "?dataset_id=" + url.QueryEscape(datasetID)
	}
	safeQs := html.EscapeString(qs)

	doc := fmt.Sprintf(dashboardHTML, safeDatasetID, safeQs)

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write([]byte(doc))
}

// handleTrajectoriesChart renders the dataset's event trajectories as an
// XY scatter (HTML) coloured by RILSA code ordinal. Query params:
//   - dataset_id (required)
//   - class (optional; restrict to one object class)
//   - max_points (optional; default 8000) to reduce payload size
func (c *Charts) handleTrajectoriesChart(w http.ResponseWriter, r *http.Request) {
	datasetID := r.URL.Query().Get("dataset_id")
	if datasetID == "" {
		c.writeJSONError(w, http.StatusBadRequest, "dataset_id is required")
		return
	}
	if _, err := c.datasets.Get(datasetID); err != nil {
		c.writeJSONError(w, http.StatusNotFound, "no such dataset")
		return
	}

	maxPoints := 8000
	if mp := r.URL.Query().Get("max_points"); mp != "" {
		if v, err := strconv.Atoi(mp); err == nil && v > 100 && v <= 50000 {
			maxPoints = v
		}
	}

	filter := aforo.EventFilter{Class: r.URL.Query().Get("class")}
	events, _, err := c.events.GetEvents(datasetID, filter)
	if err != nil {
		c.writeJSONError(w, http.StatusInternalServerError, fmt.Sprintf("failed to load events: %v", err))
		return
	}
	if len(events) == 0 {
		c.writeJSONError(w, http.StatusNotFound, "no trajectory events available (run an analysis first)")
		return
	}

	total := 0
	for i := range events {
		total += len(events[i].Positions)
	}
	stride := 1
	if total > maxPoints {
		stride = int(math.Ceil(float64(total) / float64(maxPoints)))
	}

	data := make([]opts.ScatterData, 0, total/stride+1)
	maxAbs := 0.0
	maxOrdinal := 0.0
	seen := 0
	for i := range events {
		ordinal := float64(aforo.CodeOrdinal(events[i].RilsaCode))
		if ordinal > maxOrdinal {
			maxOrdinal = ordinal
		}
		for _, p := range events[i].Positions {
			seen++
			if seen%stride != 0 {
				continue
			}
			if math.Abs(p.X) > maxAbs {
				maxAbs = math.Abs(p.X)
			}
			if math.Abs(p.Y) > maxAbs {
				maxAbs = math.Abs(p.Y)
			}
			data = append(data, opts.ScatterData{Value: []interface{}{p.X, p.Y, ordinal}})
		}
	}

	// Access centroids overlay so trajectories can be eyeballed against
	// the configured geometry. Missing config just skips the overlay.
	accessPts := make([]opts.ScatterData, 0, 8)
	if cfg, err := c.configs.Load(datasetID); err == nil {
		for _, a := range cfg.Accesses {
			if math.Abs(a.X) > maxAbs {
				maxAbs = math.Abs(a.X)
			}
			if math.Abs(a.Y) > maxAbs {
				maxAbs = math.Abs(a.Y)
			}
			accessPts = append(accessPts, opts.ScatterData{Value: []interface{}{a.X, a.Y, maxOrdinal}, Name: a.ID})
		}
	}

	pad := maxAbs * 1.05
	if pad == 0 {
		pad = 1.0
	}
	if maxOrdinal == 0 {
		maxOrdinal = 1
	}

	// Square plot in pixel space; image origin is top-left so the plot is
	// vertically mirrored relative to the source video, which is fine for QC.
	scatter := charts.NewScatter()
	scatter.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{PageTitle: "Trajectory Events", Theme: "dark", Width: "900px", Height: "900px", AssetsHost: echartsAssetsPrefix}),
		charts.WithTitleOpts(opts.Title{Title: "Trajectory Events", Subtitle: fmt.Sprintf("dataset=%s events=%d points=%d stride=%d", datasetID, len(events), len(data), stride)}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
		charts.WithLegendOpts(opts.Legend{Show: opts.Bool(true)}),
		charts.WithXAxisOpts(opts.XAxis{Min: 0, Max: pad, Name: "X (px)", NameLocation: "middle", NameGap: 25}),
		charts.WithYAxisOpts(opts.YAxis{Min: 0, Max: pad, Name: "Y (px)", NameLocation: "middle", NameGap: 30}),
		charts.WithVisualMapOpts(opts.VisualMap{
			Show:       opts.Bool(true),
			Calculable: opts.Bool(true),
			Min:        0,
			Max:        float32(maxOrdinal),
			Dimension:  "2",
			InRange:    &opts.VisualMapInRange{Color: viridisRamp},
		}),
	)

	scatter.AddSeries("positions", data, charts.WithScatterChartOpts(opts.ScatterChart{SymbolSize: 4}))
	if len(accessPts) > 0 {
		scatter.AddSeries("accesses", accessPts,
			charts.WithScatterChartOpts(opts.ScatterChart{SymbolSize: 16}),
			charts.WithItemStyleOpts(opts.ItemStyle{Color: "#ff5252"}),
		)
	}

	var buf bytes.Buffer
	if err := scatter.Render(&buf); err != nil {
		c.writeJSONError(w, http.StatusInternalServerError, fmt.Sprintf("failed to render chart: %v", err))
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write(buf.Bytes())
}

// handleCountsChart renders the per-interval movement totals as stacked
// bars, one series per movement kind. Query params:
//   - dataset_id (required)
func (c *Charts) handleCountsChart(w http.ResponseWriter, r *http.Request) {
	datasetID := r.URL.Query().Get("dataset_id")
	if datasetID == "" {
		c.writeJSONError(w, http.StatusBadRequest, "dataset_id is required")
		return
	}
	dataset, err := c.datasets.Get(datasetID)
	if err != nil {
		c.writeJSONError(w, http.StatusNotFound, "no such dataset")
		return
	}

	counts, err := c.counts.ListCounts(datasetID)
	if err != nil {
		c.writeJSONError(w, http.StatusInternalServerError, fmt.Sprintf("failed to load counts: %v", err))
		return
	}
	if len(counts) == 0 {
		c.writeJSONError(w, http.StatusNotFound, "no aggregated counts available (run an analysis first)")
		return
	}

	loc := time.UTC
	if dataset.Timezone != "" {
		if l, err := time.LoadLocation(dataset.Timezone); err == nil {
			loc = l
		}
	}

	kinds := []aforo.MovementKind{aforo.KindStraight, aforo.KindLeft, aforo.KindRight, aforo.KindUTurn, aforo.KindPedestrian}
	kindNames := map[aforo.MovementKind]string{
		aforo.KindStraight:   "straight",
		aforo.KindLeft:       "left",
		aforo.KindRight:      "right",
		aforo.KindUTurn:      "u-turn",
		aforo.KindPedestrian: "pedestrian",
	}

	perInterval := make(map[int64]map[aforo.MovementKind]int)
	for _, mc := range counts {
		byKind := perInterval[mc.IntervalStartMs]
		if byKind == nil {
			byKind = make(map[aforo.MovementKind]int)
			perInterval[mc.IntervalStartMs] = byKind
		}
		byKind[aforo.KindOfCode(mc.RilsaCode)] += mc.Total
	}

	starts := make([]int64, 0, len(perInterval))
	for start := range perInterval {
		starts = append(starts, start)
	}
	sort.Slice(starts, func(i, j int) bool { return starts[i] < starts[j] })

	x := make([]string, 0, len(starts))
	for _, start := range starts {
		x = append(x, time.UnixMilli(start).In(loc).Format("15:04"))
	}

	bar := charts.NewBar()
	bar.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{Width: "100%", Height: "720px", AssetsHost: echartsAssetsPrefix}),
		charts.WithTitleOpts(opts.Title{Title: "Movements per Interval", Subtitle: fmt.Sprintf("dataset=%s intervals=%d tz=%s", datasetID, len(starts), loc.String())}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
		charts.WithLegendOpts(opts.Legend{Show: opts.Bool(true)}),
	)
	bar.SetXAxis(x)
	for _, kind := range kinds {
		series := make([]opts.BarData, 0, len(starts))
		for _, start := range starts {
			series = append(series, opts.BarData{Value: perInterval[start][kind]})
		}
		bar.AddSeries(kindNames[kind], series, charts.WithBarChartOpts(opts.BarChart{Stack: "total"}))
	}

	page := components.NewPage()
	page.SetAssetsHost(echartsAssetsPrefix)
	page.AddCharts(bar)

	var buf bytes.Buffer
	if err := page.Render(&buf); err != nil {
		c.writeJSONError(w, http.StatusInternalServerError, fmt.Sprintf("render error: %v", err))
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write(buf.Bytes())
}
