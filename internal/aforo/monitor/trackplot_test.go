package monitor

import (
	"image/color"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/cruce-data/aforo.report/internal/aforo"
)

func straightEvent(trackID, class, code string, x float64) aforo.TrajectoryEvent {
	return aforo.TrajectoryEvent{
		TrackID:     trackID,
		Class:       class,
		Origin:      aforo.CardinalN,
		Destination: aforo.CardinalS,
		RilsaCode:   code,
		Positions: []aforo.TrackPoint{
			{Frame: 0, X: x, Y: 10},
			{Frame: 1, X: x, Y: 250},
			{Frame: 2, X: x, Y: 470},
		},
	}
}

func TestTrackPlotter_NoOutputDir(t *testing.T) {
	tp := NewTrackPlotter("")
	_, err := tp.Plot([]aforo.TrajectoryEvent{straightEvent("t1", "car", "1", 100)}, nil)
	if err == nil {
		t.Error("expected error when no output directory configured")
	}
}

func TestTrackPlotter_NoEvents(t *testing.T) {
	tp := NewTrackPlotter(t.TempDir())
	n, err := tp.Plot(nil, nil)
	if err != nil {
		t.Errorf("unexpected error: %v", err)
	}
	if n != 0 {
		t.Errorf("expected 0 plots with no events, got %d", n)
	}
}

func TestTrackPlotter_OnePlotPerClass(t *testing.T) {
	dir := t.TempDir()
	tp := NewTrackPlotter(dir)

	events := []aforo.TrajectoryEvent{
		straightEvent("t1", "car", "1", 100),
		straightEvent("t2", "car", "2", 200),
		straightEvent("t3", "truck", "1", 300),
		straightEvent("t4", "person", "P1", 400),
	}

	n, err := tp.Plot(events, nil)
	if err != nil {
		t.Fatalf("Plot failed: %v", err)
	}
	if n != 3 {
		t.Errorf("expected 3 plots (car, truck, person), got %d", n)
	}

	for _, name := range []string{
		"class_car_trajectories.png",
		"class_truck_trajectories.png",
		"class_person_trajectories.png",
	} {
		path := filepath.Join(dir, name)
		info, err := os.Stat(path)
		if err != nil {
			t.Errorf("expected plot file %s: %v", name, err)
			continue
		}
		if info.Size() == 0 {
			t.Errorf("plot file %s is empty", name)
		}
	}
}

func TestTrackPlotter_CreatesOutputDir(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "nested", "plots")
	tp := NewTrackPlotter(dir)

	_, err := tp.Plot([]aforo.TrajectoryEvent{straightEvent("t1", "car", "1", 100)}, nil)
	if err != nil {
		t.Fatalf("Plot failed: %v", err)
	}

	info, err := os.Stat(dir)
	if err != nil {
		t.Fatalf("output directory not created: %v", err)
	}
	if !info.IsDir() {
		t.Error("expected directory, got file")
	}
}

func TestTrackPlotter_AccessOverlayDrawn(t *testing.T) {
	dir := t.TempDir()
	tp := NewTrackPlotter(dir)
	tp.Width = 640
	tp.Height = 480

	accesses := []aforo.AccessPoint{
		{
			ID: "A1", Cardinal: aforo.CardinalN, X: 320, Y: 20,
			Polygon: []aforo.Point{{X: 280, Y: 0}, {X: 360, Y: 0}, {X: 360, Y: 40}, {X: 280, Y: 40}},
		},
		{
			ID: "A2", Cardinal: aforo.CardinalS, X: 320, Y: 460,
			Gate: &aforo.Segment{A: aforo.Point{X: 280, Y: 480}, B: aforo.Point{X: 360, Y: 480}},
		},
	}

	n, err := tp.Plot([]aforo.TrajectoryEvent{straightEvent("t1", "car", "1", 320)}, accesses)
	if err != nil {
		t.Fatalf("Plot with accesses failed: %v", err)
	}
	if n != 1 {
		t.Errorf("expected 1 plot, got %d", n)
	}
}

func TestTrackPlotter_SkipsEmptyPositions(t *testing.T) {
	dir := t.TempDir()
	tp := NewTrackPlotter(dir)

	events := []aforo.TrajectoryEvent{
		{TrackID: "empty", Class: "car", RilsaCode: "1"},
		straightEvent("t1", "car", "1", 100),
	}

	n, err := tp.Plot(events, nil)
	if err != nil {
		t.Fatalf("Plot failed: %v", err)
	}
	if n != 1 {
		t.Errorf("expected 1 plot, got %d", n)
	}
}

func TestSanitizeName(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"car", "car"},
		{"heavy truck", "heavy_truck"},
		{"auto/bus", "auto_bus"},
		{"", "unknown"},
		{"bike-2", "bike-2"},
	}
	for _, tt := range tests {
		if got := sanitizeName(tt.in); got != tt.want {
			t.Errorf("sanitizeName(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestMakePlotOutputDir(t *testing.T) {
	result := MakePlotOutputDir("/tmp/plots", "ds-001")
	if filepath.Dir(filepath.Dir(result)) != "/tmp/plots" {
		t.Errorf("expected base dir '/tmp/plots' in path, got '%s'", result)
	}
	if filepath.Base(filepath.Dir(result)) != "ds-001" {
		t.Errorf("expected dataset dir 'ds-001' in path, got '%s'", result)
	}

	// Without a dataset id the timestamp lands directly under base.
	result = MakePlotOutputDir("/tmp/plots", "")
	if filepath.Dir(result) != "/tmp/plots" {
		t.Errorf("expected timestamp directly under base, got '%s'", result)
	}
}

func TestFormatTimestamp(t *testing.T) {
	ts := time.Date(2026, 1, 30, 14, 35, 22, 0, time.UTC)
	result := FormatTimestamp(ts)

	expected := "20260130_143522"
	if result != expected {
		t.Errorf("expected '%s', got '%s'", expected, result)
	}
}

func TestGenerateColors(t *testing.T) {
	tests := []struct {
		n        int
		expected int
	}{
		{0, 0},
		{1, 1},
		{20, 20},
	}

	for _, tt := range tests {
		colors := generateColors(tt.n)
		if len(colors) != tt.expected {
			t.Errorf("generateColors(%d): expected %d colours, got %d", tt.n, tt.expected, len(colors))
		}
	}

	// Distinct hues for the full code palette.
	colors := generateColors(len(aforo.AllCodes()))
	seen := make(map[uint32]bool)
	for _, c := range colors {
		rgba := c.(color.RGBA)
		key := uint32(rgba.R)<<16 | uint32(rgba.G)<<8 | uint32(rgba.B)
		if seen[key] {
			t.Error("duplicate colour found in generated palette")
		}
		seen[key] = true
	}
}

func TestHslToRGB(t *testing.T) {
	tests := []struct {
		h, s, l   float64
		expectedR uint8
		expectedG uint8
		expectedB uint8
	}{
		{0.0, 1.0, 0.5, 255, 0, 0},
		{1.0 / 3.0, 1.0, 0.5, 0, 255, 0},
		{2.0 / 3.0, 1.0, 0.5, 0, 0, 255},
		{0.0, 0.0, 1.0, 255, 255, 255},
		{0.0, 0.0, 0.0, 0, 0, 0},
	}

	for _, tt := range tests {
		r, g, b := hslToRGB(tt.h, tt.s, tt.l)
		if absInt(int(r)-int(tt.expectedR)) > 1 ||
			absInt(int(g)-int(tt.expectedG)) > 1 ||
			absInt(int(b)-int(tt.expectedB)) > 1 {
			t.Errorf("hslToRGB(%f, %f, %f): expected (%d, %d, %d), got (%d, %d, %d)",
				tt.h, tt.s, tt.l, tt.expectedR, tt.expectedG, tt.expectedB, r, g, b)
		}
	}
}

func absInt(x int) int {
	if x < 0 {
		return -x
	}
	return x
}
