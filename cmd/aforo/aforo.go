package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	_ "modernc.org/sqlite"

	"github.com/cruce-data/aforo.report/internal/api"
	"github.com/cruce-data/aforo.report/internal/config"
	"github.com/cruce-data/aforo.report/internal/db"
	"github.com/cruce-data/aforo.report/internal/units"
	"github.com/cruce-data/aforo.report/internal/version"
)

var (
	listen        = flag.String("listen", ":8080", "HTTP listen address")
	dbFile        = flag.String("db", "aforo.db", "Path to the SQLite database file")
	migrationsDir = flag.String("migrations", "internal/db/migrations", "Path to the migrations directory")
	dataDir       = flag.String("data-dir", "", "Directory server-side imports may read from (empty disables)")
	tuningPath    = flag.String("tuning", "", "Path to a tuning config JSON (empty uses compiled defaults)")
	countUnits    = flag.String("units", units.PerInterval, "Count units for API responses (per_interval or per_hour)")
	adminRoutes   = flag.Bool("admin-routes", false, "Mount the tailsql console and backup download under /debug")
	showVersion   = flag.Bool("version", false, "Print version and exit")
)

func main() {
	flag.Parse()

	if *showVersion {
		fmt.Printf("aforo %s (%s, built %s)\n", version.Version, version.GitSHA, version.BuildTime)
		return
	}

	// Subcommand dispatch before the service starts: `aforo migrate <action>`.
	if flag.Arg(0) == "migrate" {
		db.RunMigrateCommand(flag.Args()[1:], *dbFile, *migrationsDir)
		return
	}

	if *listen == "" {
		log.Fatal("HTTP listen address is required")
	}

	tuning := config.DefaultTuningConfig()
	if *tuningPath != "" {
		var err error
		tuning, err = config.LoadTuningConfig(*tuningPath)
		if err != nil {
			log.Fatalf("Failed to load tuning config: %v", err)
		}
		log.Printf("Loaded tuning config from %s", *tuningPath)
	}

	database, err := db.NewDB(*dbFile)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer database.Close()

	// Refuse to run against a database that is behind the migrations on
	// disk; the operator decides when to migrate.
	if shouldExit, err := database.CheckAndPromptMigrations(*migrationsDir); err != nil {
		log.Fatalf("Migration check failed: %v", err)
	} else if shouldExit {
		os.Exit(1)
	}

	worker := db.NewRebuildWorker(database)
	worker.SetTuning(tuning)
	worker.Interval = tuning.GetRebuildInterval()

	server := api.NewServer(database, tuning, *countUnits)
	server.DataDir = *dataDir
	server.OnMutate = worker.Kick

	var wg sync.WaitGroup
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Rebuild worker routine: periodic stale-aggregate scans plus
	// immediate kicks after API mutations.
	worker.Start()
	wg.Add(1)
	go func() {
		defer wg.Done()
		<-ctx.Done()
		worker.Stop()
		log.Print("rebuild worker terminated")
	}()

	// HTTP server goroutine
	wg.Add(1)
	go func() {
		defer wg.Done()

		mux := server.ServeMux()
		server.AttachDebugCharts(mux)

		// mount the admin debugging routes only when asked; tailsql has
		// no auth of its own
		if *adminRoutes {
			database.AttachAdminRoutes(mux)
			log.Print("admin routes mounted under /debug")
		}

		mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			fmt.Fprintf(w, `{"status": "ok", "service": "aforo", "version": %q, "timestamp": %q}`,
				version.Version, time.Now().UTC().Format(time.RFC3339))
		})

		httpServer := &http.Server{
			Addr:    *listen,
			Handler: api.LoggingMiddleware(mux),
		}

		// Start server in a goroutine so it doesn't block
		go func() {
			log.Printf("Starting HTTP server on %s", *listen)
			if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Fatalf("failed to start server: %v", err)
			}
		}()

		// Wait for context cancellation to shut down server
		<-ctx.Done()
		log.Println("shutting down HTTP server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			log.Printf("HTTP server shutdown error: %v", err)
		}

		log.Printf("HTTP server routine stopped")
	}()

	// Wait for all goroutines to finish
	wg.Wait()
	log.Printf("Graceful shutdown complete")
}
