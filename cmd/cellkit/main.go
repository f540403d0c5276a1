// Command cellkit ingests battery-cycler exports into a SQLite container and
// serves the normalized datasets back out as summaries, CSV, and HTTP JSON.
package main

import (
	"flag"
	"fmt"
	"log"
	"os"

	"github.com/amperelab/cellkit/internal/config"
	"github.com/amperelab/cellkit/internal/monitoring"
)

var (
	dbPath     = flag.String("db", "cells.db", "Path to the container database")
	configPath = flag.String("config", "", "Path to a JSON config file")
	verbose    = flag.Bool("verbose", false, "Log per-file detail")
)

func main() {
	flag.Parse()
	monitoring.SetVerbose(*verbose)

	cfg := config.Empty()
	if *configPath != "" {
		loaded, err := config.Load(*configPath)
		if err != nil {
			log.Fatalf("Failed to load config: %v", err)
		}
		cfg = loaded
	}

	args := flag.Args()
	if len(args) < 1 {
		printUsage()
		os.Exit(1)
	}

	if err := runCommand(args[0], args[1:], *dbPath, cfg); err != nil {
		log.Fatalf("%s failed: %v", args[0], err)
	}
}

func printUsage() {
	fmt.Println("Usage: cellkit [flags] <command> [args]")
	fmt.Println()
	fmt.Println("Commands:")
	fmt.Println("  ingest <file>              Ingest one raw file, print its handle")
	fmt.Println("  batch <file...>            Ingest many files, print a JSON report")
	fmt.Println("  list                       List stored datasets")
	fmt.Println("  summary <handle>           Print per-cycle summaries as CSV")
	fmt.Println("  steps <handle>             Print per-step aggregates as CSV")
	fmt.Println("  export <handle> [file]     Export samples as CSV (stdout by default)")
	fmt.Println("  delete <handle>            Remove a dataset from the container")
	fmt.Println("  serve [-listen addr]       Serve the read-only HTTP API")
	fmt.Println("  migrate <up|down|status|force N>")
	fmt.Println("                             Manage the container schema")
	fmt.Println("  version                    Print build information")
	fmt.Println()
	fmt.Println("Flags:")
	flag.PrintDefaults()
}
