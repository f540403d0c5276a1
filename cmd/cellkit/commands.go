package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/google/uuid"

	"github.com/amperelab/cellkit/internal/api"
	"github.com/amperelab/cellkit/internal/batch"
	"github.com/amperelab/cellkit/internal/config"
	"github.com/amperelab/cellkit/internal/export"
	"github.com/amperelab/cellkit/internal/monitoring"
	"github.com/amperelab/cellkit/internal/pipeline"
	"github.com/amperelab/cellkit/internal/store"
	"github.com/amperelab/cellkit/internal/summary"
	"github.com/amperelab/cellkit/internal/version"
)

func runCommand(command string, args []string, dbPath string, cfg *config.Config) error {
	switch command {
	case "ingest":
		return runIngest(args, dbPath, cfg)
	case "batch":
		return runBatch(args, dbPath, cfg)
	case "list":
		return runList(dbPath)
	case "summary":
		return runSummary(args, dbPath)
	case "steps":
		return runSteps(args, dbPath)
	case "export":
		return runExport(args, dbPath)
	case "delete":
		return runDelete(args, dbPath)
	case "serve":
		return runServe(args, dbPath)
	case "migrate":
		return runMigrate(args, dbPath)
	case "version":
		fmt.Printf("cellkit %s (commit %s, built %s)\n", version.Version, version.GitSHA, version.BuildTime)
		return nil
	case "help":
		printUsage()
		return nil
	default:
		printUsage()
		return fmt.Errorf("unknown command %q", command)
	}
}

// signalContext cancels on SIGINT/SIGTERM so external converters get killed
// and their temp files cleaned up.
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

func openStore(dbPath string) (*store.DB, error) {
	db, err := store.Open(dbPath)
	if err != nil {
		return nil, err
	}
	if err := db.MigrateUp(); err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}

func ingestOptions(cfg *config.Config) pipeline.Options {
	return pipeline.Options{
		ResTool:  cfg.GetConverterTool(),
		ResTable: cfg.GetConverterTable(),
		TempDir:  cfg.GetTempDir(),
	}
}

func runIngest(args []string, dbPath string, cfg *config.Config) error {
	if len(args) != 1 {
		return errors.New("usage: cellkit ingest <file>")
	}
	ctx, cancel := signalContext()
	defer cancel()
	ctx, cancelTimeout := context.WithTimeout(ctx, cfg.GetIngestTimeout())
	defer cancelTimeout()

	db, err := openStore(dbPath)
	if err != nil {
		return err
	}
	defer db.Close()

	ds, _, err := pipeline.Ingest(ctx, args[0], ingestOptions(cfg))
	if err != nil {
		return err
	}
	handle, err := db.Store(ctx, ds)
	if err != nil {
		return err
	}
	fmt.Println(handle)
	return nil
}

func runBatch(args []string, dbPath string, cfg *config.Config) error {
	if len(args) == 0 {
		return errors.New("usage: cellkit batch <file...>")
	}
	ctx, cancel := signalContext()
	defer cancel()

	db, err := openStore(dbPath)
	if err != nil {
		return err
	}
	defer db.Close()

	runner := batch.NewRunner(db, ingestOptions(cfg), cfg.GetWorkers())
	report, err := runner.Run(ctx, args)
	if err != nil {
		return err
	}
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(report); err != nil {
		return err
	}
	if len(report.Failures) > 0 {
		return fmt.Errorf("%d of %d files failed", len(report.Failures), len(args))
	}
	return nil
}

func runList(dbPath string) error {
	ctx, cancel := signalContext()
	defer cancel()

	db, err := openStore(dbPath)
	if err != nil {
		return err
	}
	defer db.Close()

	infos, err := db.List(ctx)
	if err != nil {
		return err
	}
	for _, info := range infos {
		fmt.Printf("%s  cell=%s rows=%d v%d %s\n",
			info.Handle, info.CellID, info.RowCount, info.FormatVersion, info.SourceFile)
	}
	return nil
}

func parseHandleArg(args []string, usage string) (store.Handle, error) {
	if len(args) < 1 {
		return uuid.Nil, errors.New(usage)
	}
	handle, err := uuid.Parse(args[0])
	if err != nil {
		return uuid.Nil, fmt.Errorf("invalid handle %q: %w", args[0], err)
	}
	return handle, nil
}

func runSummary(args []string, dbPath string) error {
	handle, err := parseHandleArg(args, "usage: cellkit summary <handle>")
	if err != nil {
		return err
	}
	ctx, cancel := signalContext()
	defer cancel()

	db, err := openStore(dbPath)
	if err != nil {
		return err
	}
	defer db.Close()

	ds, err := db.Load(ctx, handle, store.All())
	if err != nil {
		return err
	}
	records := summary.Summarize(ds)
	if err := db.SaveSummaries(ctx, handle, records); err != nil {
		monitoring.Logf("caching summaries failed: %v", err)
	}
	return export.Summaries(os.Stdout, records)
}

func runSteps(args []string, dbPath string) error {
	handle, err := parseHandleArg(args, "usage: cellkit steps <handle>")
	if err != nil {
		return err
	}
	ctx, cancel := signalContext()
	defer cancel()

	db, err := openStore(dbPath)
	if err != nil {
		return err
	}
	defer db.Close()

	ds, err := db.Load(ctx, handle, store.All())
	if err != nil {
		return err
	}
	return export.StepRecords(os.Stdout, summary.Steps(ds))
}

func runExport(args []string, dbPath string) error {
	handle, err := parseHandleArg(args, "usage: cellkit export <handle> [file]")
	if err != nil {
		return err
	}
	ctx, cancel := signalContext()
	defer cancel()

	db, err := openStore(dbPath)
	if err != nil {
		return err
	}
	defer db.Close()

	ds, err := db.Load(ctx, handle, store.All())
	if err != nil {
		return err
	}

	out := os.Stdout
	if len(args) > 1 {
		f, err := os.Create(args[1])
		if err != nil {
			return fmt.Errorf("creating %s: %w", args[1], err)
		}
		defer f.Close()
		out = f
	}
	return export.Samples(out, ds)
}

func runDelete(args []string, dbPath string) error {
	handle, err := parseHandleArg(args, "usage: cellkit delete <handle>")
	if err != nil {
		return err
	}
	ctx, cancel := signalContext()
	defer cancel()

	db, err := openStore(dbPath)
	if err != nil {
		return err
	}
	defer db.Close()

	return db.Delete(ctx, handle)
}

func runServe(args []string, dbPath string) error {
	fs := flag.NewFlagSet("serve", flag.ContinueOnError)
	listen := fs.String("listen", ":8080", "Listen address")
	if err := fs.Parse(args); err != nil {
		return err
	}

	db, err := openStore(dbPath)
	if err != nil {
		return err
	}
	defer db.Close()

	server := api.NewServer(db)
	mux := server.ServeMux()
	if err := server.AttachAdminRoutes(mux, dbPath); err != nil {
		return err
	}

	ctx, cancel := signalContext()
	defer cancel()

	httpServer := &http.Server{Addr: *listen, Handler: mux}
	errCh := make(chan error, 1)
	go func() { errCh <- httpServer.ListenAndServe() }()
	monitoring.Logf("serving container %s on %s", dbPath, *listen)

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		return shutdownServer(httpServer)
	}
}

// shutdownTimeout bounds the drain of in-flight requests on interrupt.
const shutdownTimeout = 10 * time.Second

func shutdownServer(srv *http.Server) error {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return srv.Shutdown(ctx)
}

func runMigrate(args []string, dbPath string) error {
	if len(args) < 1 {
		return errors.New("usage: cellkit migrate <up|down|status|force N>")
	}
	db, err := store.Open(dbPath)
	if err != nil {
		return err
	}
	defer db.Close()

	switch args[0] {
	case "up":
		if err := db.MigrateUp(); err != nil {
			return err
		}
	case "down":
		if err := db.MigrateDown(); err != nil {
			return err
		}
	case "status":
		// fall through to the version report below
	case "force":
		if len(args) < 2 {
			return errors.New("usage: cellkit migrate force <version>")
		}
		v, err := strconv.Atoi(args[1])
		if err != nil {
			return fmt.Errorf("invalid version %q: %w", args[1], err)
		}
		if err := db.MigrateForce(v); err != nil {
			return err
		}
	default:
		return fmt.Errorf("unknown migrate action %q", args[0])
	}

	current, dirty, err := db.MigrateVersion()
	if err != nil {
		return err
	}
	fmt.Printf("schema version %d (dirty: %v)\n", current, dirty)
	return nil
}
