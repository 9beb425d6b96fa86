// Package main provides the aforo-ingest tool. It loads a raw detection
// dump (local file or HTTP URL), normalizes it to the canonical
// detection form, and imports it into a dataset. Optionally runs the
// movement analysis straight after the import.
package main

import (
	"bytes"
	"context"
	"flag"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/cruce-data/aforo.report/internal/aforo"
	"github.com/cruce-data/aforo.report/internal/aforo/parse"
	"github.com/cruce-data/aforo.report/internal/db"
	"github.com/cruce-data/aforo.report/internal/httputil"
	"github.com/schollz/progressbar/v3"
)

// Config holds the ingest tool configuration.
type Config struct {
	DBPath    string
	File      string
	URL       string
	DatasetID string
	Name      string
	Timezone  string
	Analyze   bool
	Quiet     bool
}

func main() {
	cfg := parseFlags()

	if cfg.File == "" && cfg.URL == "" {
		log.Fatal("one of -file or -url is required")
	}
	if cfg.File != "" && cfg.URL != "" {
		log.Fatal("-file and -url are mutually exclusive")
	}
	if cfg.DatasetID == "" && cfg.Name == "" {
		log.Fatal("-name is required when creating a new dataset (or pass -dataset to reuse one)")
	}

	data, err := loadDump(cfg)
	if err != nil {
		log.Fatalf("load dump: %v", err)
	}

	dump, err := parse.Normalize(data)
	if err != nil {
		log.Fatalf("normalize dump: %v", err)
	}

	dbConn, err := db.NewDB(cfg.DBPath)
	if err != nil {
		log.Fatalf("open db: %v", err)
	}
	defer dbConn.Close()

	datasets := aforo.NewDatasetStore(dbConn.DB)
	pipeline := aforo.NewPipeline(dbConn.DB)

	datasetID := cfg.DatasetID
	if datasetID == "" {
		d := &aforo.Dataset{
			Name:     cfg.Name,
			BaseMs:   dump.BaseMs,
			Width:    dump.Meta.Width,
			Height:   dump.Meta.Height,
			FPS:      dump.Meta.FPS,
			Timezone: cfg.Timezone,
		}
		if err := datasets.Insert(d); err != nil {
			log.Fatalf("create dataset: %v", err)
		}
		datasetID = d.ID
		fmt.Printf("created dataset %s (%s)\n", datasetID, d.Name)
	} else if _, err := datasets.Get(datasetID); err != nil {
		log.Fatalf("dataset %s: %v", datasetID, err)
	}

	if err := pipeline.ImportDetections(datasetID, dump.BaseMs, dump.Meta, dump.Detections); err != nil {
		log.Fatalf("import detections: %v", err)
	}

	if dump.Config != nil {
		if len(dump.Config.Rules) == 0 {
			dump.Config.Rules = aforo.DefaultRuleMap()
		}
		configs := aforo.NewConfigStore(dbConn.DB)
		if err := configs.Save(datasetID, dump.Config); err != nil {
			log.Fatalf("save embedded config: %v", err)
		}
		if err := datasets.RecordHistory(datasetID, "config", "embedded in dump"); err != nil {
			log.Fatalf("record history: %v", err)
		}
	}

	printImportSummary(datasetID, dump)

	if cfg.Analyze {
		run, err := pipeline.Analyze(context.Background(), datasetID)
		if err != nil {
			log.Fatalf("analysis failed: %v", err)
		}
		printRunSummary(run)
	}
}

func parseFlags() Config {
	cfg := Config{}

	flag.StringVar(&cfg.DBPath, "db", "aforo.db", "path to sqlite db")
	flag.StringVar(&cfg.File, "file", "", "detection dump file (CSV or JSON)")
	flag.StringVar(&cfg.URL, "url", "", "detection dump URL (http or https)")
	flag.StringVar(&cfg.DatasetID, "dataset", "", "existing dataset id to import into")
	flag.StringVar(&cfg.Name, "name", "", "name for a new dataset")
	flag.StringVar(&cfg.Timezone, "tz", "UTC", "IANA timezone for a new dataset")
	flag.BoolVar(&cfg.Analyze, "analyze", false, "run the movement analysis after importing")
	flag.BoolVar(&cfg.Quiet, "quiet", false, "suppress the progress bar")

	flag.Parse()

	return cfg
}

// loadDump reads the raw dump bytes from the configured source, showing
// a byte progress bar for anything bigger than a trivial read.
func loadDump(cfg Config) ([]byte, error) {
	if cfg.URL != "" {
		client := httputil.NewStandardClient(&http.Client{Timeout: 5 * time.Minute})
		return fetchDump(client, cfg.URL, cfg.Quiet)
	}

	f, err := os.Open(cfg.File)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, err
	}
	return readAllProgress(f, info.Size(), fmt.Sprintf("reading %s", cfg.File), cfg.Quiet)
}

func fetchDump(client httputil.HTTPClient, url string, quiet bool) ([]byte, error) {
	if !strings.HasPrefix(url, "http://") && !strings.HasPrefix(url, "https://") {
		return nil, fmt.Errorf("unsupported URL scheme in %q", url)
	}

	resp, err := client.Get(url)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("GET %s: status %d", url, resp.StatusCode)
	}
	return readAllProgress(resp.Body, resp.ContentLength, "downloading", quiet)
}

func readAllProgress(r io.Reader, size int64, description string, quiet bool) ([]byte, error) {
	if quiet {
		return io.ReadAll(r)
	}

	bar := progressbar.DefaultBytes(size, description)
	var buf bytes.Buffer
	if _, err := io.Copy(io.MultiWriter(&buf, bar), r); err != nil {
		return nil, err
	}
	_ = bar.Finish()
	fmt.Println()
	return buf.Bytes(), nil
}

func printImportSummary(datasetID string, dump *parse.Dump) {
	fmt.Printf("imported %d detections into dataset %s\n", len(dump.Detections), datasetID)
	fmt.Printf("  base time:  %s\n", time.UnixMilli(dump.BaseMs).UTC().Format(time.RFC3339))
	fmt.Printf("  frame size: %dx%d @ %.1f fps\n", dump.Meta.Width, dump.Meta.Height, dump.Meta.FPS)
	if dump.Config != nil {
		fmt.Printf("  config:     %d accesses (embedded in dump)\n", len(dump.Config.Accesses))
	}
}

func printRunSummary(run *aforo.AnalysisRun) {
	fmt.Printf("analysis %s: %s in %dms\n", run.RunID, run.Status, run.DurationMs)
	fmt.Printf("  frames:     %d\n", run.TotalFrames)
	fmt.Printf("  detections: %d\n", run.TotalDetections)
	fmt.Printf("  raw tracks: %d\n", run.RawTracks)
	fmt.Printf("  counted:    %d\n", run.CountedEvents)
	if len(run.DropReasons) > 0 {
		reasons := make([]string, 0, len(run.DropReasons))
		for reason := range run.DropReasons {
			reasons = append(reasons, reason)
		}
		sort.Strings(reasons)
		fmt.Println("  dropped:")
		for _, reason := range reasons {
			fmt.Printf("    %-20s %d\n", reason, run.DropReasons[reason])
		}
	}
}
