// Package main provides the aforo-track-plot tool. It renders a
// dataset's trajectory events to PNG files (one per object class) for
// visual QC of tracking and movement classification, with the
// configured access geometry drawn underneath.
package main

import (
	"errors"
	"flag"
	"fmt"
	"log"

	"github.com/cruce-data/aforo.report/internal/aforo"
	"github.com/cruce-data/aforo.report/internal/aforo/monitor"
	"github.com/cruce-data/aforo.report/internal/db"
)

// Config holds the track-plot tool configuration.
type Config struct {
	DBPath           string
	DatasetID        string
	OutputDir        string
	Class            string
	IncludeDiscarded bool
}

func main() {
	cfg := parseFlags()

	if cfg.DatasetID == "" {
		log.Fatal("-dataset is required")
	}

	dbConn, err := db.NewDB(cfg.DBPath)
	if err != nil {
		log.Fatalf("open db: %v", err)
	}
	defer dbConn.Close()

	datasets := aforo.NewDatasetStore(dbConn.DB)
	dataset, err := datasets.Get(cfg.DatasetID)
	if err != nil {
		log.Fatalf("dataset %s: %v", cfg.DatasetID, err)
	}

	filter := aforo.EventFilter{
		Class:            cfg.Class,
		IncludeDiscarded: cfg.IncludeDiscarded,
	}
	events, _, err := aforo.NewEventStore(dbConn.DB).GetEvents(cfg.DatasetID, filter)
	if err != nil {
		log.Fatalf("load events: %v", err)
	}
	if len(events) == 0 {
		log.Fatalf("dataset %s has no trajectory events (run an analysis first)", cfg.DatasetID)
	}

	// Missing site config just means no access overlay.
	var accesses []aforo.AccessPoint
	siteCfg, err := aforo.NewConfigStore(dbConn.DB).Load(cfg.DatasetID)
	if err != nil && !errors.Is(err, aforo.ErrConfigIncomplete) {
		log.Fatalf("load config: %v", err)
	}
	if siteCfg != nil {
		accesses = siteCfg.Accesses
	}

	outDir := monitor.MakePlotOutputDir(cfg.OutputDir, cfg.DatasetID)
	plotter := monitor.NewTrackPlotter(outDir)
	plotter.Width = dataset.Width
	plotter.Height = dataset.Height

	written, err := plotter.Plot(events, accesses)
	if err != nil {
		log.Fatalf("plot failed: %v", err)
	}

	fmt.Printf("plotted %d events (%d classes) from dataset %s\n", len(events), written, cfg.DatasetID)
	fmt.Printf("output: %s\n", outDir)
}

func parseFlags() Config {
	cfg := Config{}

	flag.StringVar(&cfg.DBPath, "db", "aforo.db", "path to sqlite db")
	flag.StringVar(&cfg.DatasetID, "dataset", "", "dataset id to plot")
	flag.StringVar(&cfg.OutputDir, "out", "plots", "base output directory")
	flag.StringVar(&cfg.Class, "class", "", "restrict to one object class")
	flag.BoolVar(&cfg.IncludeDiscarded, "include-discarded", false, "also plot discarded trajectories (dashed)")

	flag.Parse()

	return cfg
}
