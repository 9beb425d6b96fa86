// Package main provides the aforo-reprocess tool. It re-runs the full
// movement analysis (tracking, classification, aggregation) over one or
// more datasets, for example after a tracker tuning change or a
// migration that touched detections. Datasets are processed in
// parallel; each dataset's own pipeline stays sequential.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"sort"
	"strings"
	"sync"

	"github.com/cruce-data/aforo.report/internal/aforo"
	"github.com/cruce-data/aforo.report/internal/config"
	"github.com/cruce-data/aforo.report/internal/db"
	"github.com/schollz/progressbar/v3"
)

// Config holds the reprocess tool configuration.
type Config struct {
	DBPath     string
	Datasets   string
	All        bool
	Parallel   int
	TuningPath string
	Quiet      bool
}

// runResult pairs a dataset with its analysis outcome.
type runResult struct {
	DatasetID string
	Run       *aforo.AnalysisRun
	Err       error
}

func main() {
	cfg := parseFlags()

	if !cfg.All && cfg.Datasets == "" {
		log.Fatal("pass -datasets id[,id...] or -all")
	}
	if cfg.Parallel < 1 {
		log.Fatalf("-parallel must be at least 1, got %d", cfg.Parallel)
	}

	dbConn, err := db.NewDB(cfg.DBPath)
	if err != nil {
		log.Fatalf("open db: %v", err)
	}
	defer dbConn.Close()

	pipeline := aforo.NewPipeline(dbConn.DB)
	if cfg.TuningPath != "" {
		tuning, err := config.LoadTuningConfig(cfg.TuningPath)
		if err != nil {
			log.Fatalf("load tuning config: %v", err)
		}
		pipeline.Tuning = tuning
	}

	ids, err := resolveDatasets(dbConn, cfg)
	if err != nil {
		log.Fatalf("resolve datasets: %v", err)
	}
	if len(ids) == 0 {
		fmt.Println("no datasets to reprocess")
		return
	}

	results := reprocessAll(pipeline, ids, cfg.Parallel, cfg.Quiet)

	failed := 0
	for _, res := range results {
		if res.Err != nil {
			failed++
			fmt.Printf("dataset %s: FAILED: %v\n", res.DatasetID, res.Err)
			continue
		}
		run := res.Run
		fmt.Printf("dataset %s: %d tracks -> %d counted events (%dms)\n",
			res.DatasetID, run.RawTracks, run.CountedEvents, run.DurationMs)
		printDrops(run)
	}

	fmt.Printf("reprocessed %d datasets, %d failed\n", len(results), failed)
	if failed > 0 {
		os.Exit(1)
	}
}

func parseFlags() Config {
	cfg := Config{}

	flag.StringVar(&cfg.DBPath, "db", "aforo.db", "path to sqlite db")
	flag.StringVar(&cfg.Datasets, "datasets", "", "comma-separated dataset ids")
	flag.BoolVar(&cfg.All, "all", false, "reprocess every dataset with imported detections")
	flag.IntVar(&cfg.Parallel, "parallel", 2, "datasets to process concurrently")
	flag.StringVar(&cfg.TuningPath, "tuning", "", "tuning config JSON overriding the compiled defaults")
	flag.BoolVar(&cfg.Quiet, "quiet", false, "suppress the progress bar")

	flag.Parse()

	return cfg
}

// resolveDatasets expands the -datasets / -all flags into dataset ids,
// verifying each one exists and skipping datasets with nothing to
// process.
func resolveDatasets(dbConn *db.DB, cfg Config) ([]string, error) {
	datasets := aforo.NewDatasetStore(dbConn.DB)

	if cfg.All {
		all, err := datasets.List()
		if err != nil {
			return nil, err
		}
		ids := make([]string, 0, len(all))
		for _, d := range all {
			if d.DetectionsImportedAt == nil {
				fmt.Printf("skipping dataset %s (%s): no detections imported\n", d.ID, d.Name)
				continue
			}
			ids = append(ids, d.ID)
		}
		sort.Strings(ids)
		return ids, nil
	}

	var ids []string
	for _, id := range strings.Split(cfg.Datasets, ",") {
		id = strings.TrimSpace(id)
		if id == "" {
			continue
		}
		if _, err := datasets.Get(id); err != nil {
			return nil, fmt.Errorf("dataset %s: %w", id, err)
		}
		ids = append(ids, id)
	}
	return ids, nil
}

// reprocessAll runs the analysis over ids with at most parallel datasets
// in flight. Results come back in input order.
func reprocessAll(pipeline *aforo.Pipeline, ids []string, parallel int, quiet bool) []runResult {
	var bar *progressbar.ProgressBar
	if !quiet {
		bar = progressbar.NewOptions(len(ids),
			progressbar.OptionSetDescription("reprocessing"),
			progressbar.OptionShowCount(),
			progressbar.OptionSetWriter(os.Stderr),
			progressbar.OptionClearOnFinish(),
		)
	}

	results := make([]runResult, len(ids))
	sem := make(chan struct{}, parallel)
	var wg sync.WaitGroup

	for i, id := range ids {
		wg.Add(1)
		go func(i int, id string) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()

			run, err := pipeline.Analyze(context.Background(), id)
			results[i] = runResult{DatasetID: id, Run: run, Err: err}
			if bar != nil {
				_ = bar.Add(1)
			}
		}(i, id)
	}
	wg.Wait()

	if bar != nil {
		_ = bar.Finish()
	}
	return results
}

func printDrops(run *aforo.AnalysisRun) {
	if len(run.DropReasons) == 0 {
		return
	}
	reasons := make([]string, 0, len(run.DropReasons))
	for reason := range run.DropReasons {
		reasons = append(reasons, reason)
	}
	sort.Strings(reasons)
	for _, reason := range reasons {
		fmt.Printf("  dropped %-20s %d\n", reason, run.DropReasons[reason])
	}
}
