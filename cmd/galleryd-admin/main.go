// Package main is the entry point for galleryd-admin, the maintenance tool:
// date_taken backfill and metadata export/import.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/galleryd/galleryd/internal/backfill"
	"github.com/galleryd/galleryd/internal/config"
	"github.com/galleryd/galleryd/internal/logging"
	"github.com/galleryd/galleryd/internal/metadata"
	"github.com/galleryd/galleryd/internal/serialization"
	"github.com/galleryd/galleryd/internal/storage"
)

const usage = "Usage: galleryd-admin <backfill|export|import> [flags]"

func main() {
	os.Exit(run(os.Args[1:], os.Stdin, os.Stdout, os.Stderr))
}

func run(args []string, stdin io.Reader, stdout, stderr io.Writer) int {
	if len(args) < 1 {
		fmt.Fprintln(stderr, usage)
		return 1
	}
	switch args[0] {
	case "backfill":
		return runBackfill(args[1:], stdout, stderr)
	case "export":
		return runExport(args[1:], stdout, stderr)
	case "import":
		return runImport(args[1:], stdin, stderr)
	default:
		fmt.Fprintf(stderr, "Unknown command: %s\n%s\n", args[0], usage)
		return 1
	}
}

// loadStore loads the config and opens the metadata store it selects.
func loadStore(ctx context.Context, configPath string, stderr io.Writer) (*config.Config, metadata.Store, bool) {
	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Fprintf(stderr, "Error reading config: %v\n", err)
		return nil, nil, false
	}
	logging.SetupWithOptions(logging.Options{Level: cfg.Logging.Level, Format: cfg.Logging.Format}, stderr)
	store, err := metadata.Open(ctx, cfg.Metadata)
	if err != nil {
		fmt.Fprintf(stderr, "Error opening metadata store: %v\n", err)
		return nil, nil, false
	}
	return cfg, store, true
}

func runBackfill(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("backfill", flag.ContinueOnError)
	fs.SetOutput(stderr)
	configPath := fs.String("config", "galleryd.yaml", "Config file path")
	persist := fs.Bool("persist", false, "Write the computed date_taken values (default: report only)")
	if err := fs.Parse(args); err != nil {
		return 2
	}

	ctx := context.Background()
	cfg, store, ok := loadStore(ctx, *configPath, stderr)
	if !ok {
		return 1
	}
	defer store.Close()

	images := storage.NewResolver(cfg.Storage).ResolveImageStorage(ctx)
	report, runErr := backfill.Run(ctx, store, images, backfill.Options{Persist: *persist})
	if report != nil {
		enc := json.NewEncoder(stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(report); err != nil {
			fmt.Fprintf(stderr, "Error writing report: %v\n", err)
			return 1
		}
		fmt.Fprintf(stderr, "  %d from EXIF, %d without EXIF, %d missing files\n",
			report.Count(backfill.SourceExif), report.Count(backfill.SourceNoExif), report.Count(backfill.SourceMissingFile))
		if !*persist {
			fmt.Fprintln(stderr, "  Dry run; pass --persist to store these values")
		}
	}
	if runErr != nil {
		fmt.Fprintf(stderr, "Error: %v\n", runErr)
		return 1
	}
	return 0
}

func runExport(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("export", flag.ContinueOnError)
	fs.SetOutput(stderr)
	configPath := fs.String("config", "galleryd.yaml", "Config file path")
	output := fs.String("output", "-", "Output file path (- for stdout)")
	tables := fs.String("tables", "", "Comma-separated table names")
	if err := fs.Parse(args); err != nil {
		return 2
	}

	tableList, err := parseTables(*tables)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}

	ctx := context.Background()
	_, store, ok := loadStore(ctx, *configPath, stderr)
	if !ok {
		return 1
	}
	defer store.Close()

	w := stdout
	if *output != "-" {
		f, err := os.Create(*output)
		if err != nil {
			fmt.Fprintf(stderr, "Error writing output: %v\n", err)
			return 1
		}
		defer f.Close()
		w = f
	}
	if err := serialization.WriteExport(ctx, w, store, &serialization.ExportOptions{Tables: tableList}); err != nil {
		fmt.Fprintf(stderr, "Error exporting: %v\n", err)
		return 1
	}
	if *output != "-" {
		fmt.Fprintf(stderr, "Exported to %s\n", *output)
	}
	return 0
}

func runImport(args []string, stdin io.Reader, stderr io.Writer) int {
	fs := flag.NewFlagSet("import", flag.ContinueOnError)
	fs.SetOutput(stderr)
	configPath := fs.String("config", "galleryd.yaml", "Config file path")
	input := fs.String("input", "-", "Input file path (- for stdin)")
	if err := fs.Parse(args); err != nil {
		return 2
	}

	r := stdin
	if *input != "-" {
		f, err := os.Open(*input)
		if err != nil {
			fmt.Fprintf(stderr, "Error reading input: %v\n", err)
			return 1
		}
		defer f.Close()
		r = f
	}
	doc, err := serialization.ReadDocument(r)
	if err != nil {
		fmt.Fprintf(stderr, "Error reading input: %v\n", err)
		return 1
	}

	ctx := context.Background()
	_, store, ok := loadStore(ctx, *configPath, stderr)
	if !ok {
		return 1
	}
	defer store.Close()

	result, err := serialization.Import(ctx, store, doc)
	if err != nil {
		fmt.Fprintf(stderr, "Error importing: %v\n", err)
		return 1
	}

	for _, table := range serialization.AllTables {
		msg := fmt.Sprintf("  %s: %d imported", table, result.Counts[table])
		if skip := result.Skipped[table]; skip > 0 {
			msg += fmt.Sprintf(", %d skipped", skip)
		}
		fmt.Fprintln(stderr, msg)
	}
	for _, w := range result.Warnings {
		fmt.Fprintf(stderr, "  WARNING: %s\n", w)
	}
	return 0
}

// parseTables splits a comma-separated table list; empty means all tables.
func parseTables(s string) ([]string, error) {
	if strings.TrimSpace(s) == "" {
		return serialization.AllTables, nil
	}
	valid := make(map[string]bool)
	for _, t := range serialization.AllTables {
		valid[t] = true
	}
	var out []string
	for _, t := range strings.Split(s, ",") {
		t = strings.TrimSpace(t)
		if !valid[t] {
			return nil, fmt.Errorf("invalid table name: %s", t)
		}
		out = append(out, t)
	}
	return out, nil
}
