// Package main is the entry point for the galleryd photo gallery server.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/galleryd/galleryd/internal/auth"
	"github.com/galleryd/galleryd/internal/config"
	"github.com/galleryd/galleryd/internal/gallery"
	"github.com/galleryd/galleryd/internal/logging"
	"github.com/galleryd/galleryd/internal/metadata"
	"github.com/galleryd/galleryd/internal/metrics"
	"github.com/galleryd/galleryd/internal/server"
	"github.com/galleryd/galleryd/internal/storage"
)

func main() {
	configPath := flag.String("config", "galleryd.yaml", "path to configuration file")
	port := flag.Int("port", 0, "override listening port (default: from config or 8000)")
	host := flag.String("host", "", "override listening host (default: from config or 0.0.0.0)")
	logLevel := flag.String("log-level", "", "log level: debug, info, warn, error (default: from config or info)")
	logFormat := flag.String("log-format", "", "log format: text, json (default: from config or text)")
	shutdownTimeout := flag.Int("shutdown-timeout", 0, "graceful shutdown timeout in seconds (default: from config or 30)")
	maxUploadSize := flag.Int64("max-upload-size", 0, "maximum upload request size in bytes (default: from config or 67108864)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	// Command-line flags override config file values.
	if *port != 0 {
		cfg.Server.Port = *port
	}
	if *host != "" {
		cfg.Server.Host = *host
	}
	if *logLevel != "" {
		cfg.Logging.Level = *logLevel
	}
	if *logFormat != "" {
		cfg.Logging.Format = *logFormat
	}
	if *shutdownTimeout != 0 {
		cfg.Server.ShutdownTimeout = *shutdownTimeout
	}
	if *maxUploadSize != 0 {
		cfg.Server.MaxUploadSize = *maxUploadSize
	}

	logging.SetupWithOptions(logging.Options{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		File:   cfg.Logging.File,
	}, os.Stderr)

	if cfg.Observability.Metrics {
		metrics.Register()
	}

	ctx := context.Background()

	if cfg.Metadata.Engine == "sqlite" || cfg.Metadata.Engine == "" {
		if err := os.MkdirAll(filepath.Dir(cfg.Metadata.SQLite.Path), 0o755); err != nil {
			fmt.Fprintf(os.Stderr, "failed to create metadata directory: %v\n", err)
			os.Exit(1)
		}
	}
	store, err := metadata.Open(ctx, cfg.Metadata)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize metadata store: %v\n", err)
		os.Exit(1)
	}
	defer store.Close()
	slog.Info("Metadata store initialized", "engine", cfg.Metadata.Engine)

	handles := storage.NewResolver(cfg.Storage).Handles(ctx)
	// Every boot clears temp files left behind by interrupted writes.
	cleanTempFiles(handles)
	slog.Info("Storage resolved",
		"images", handles.Images.Class(),
		"thumbnails", handles.Thumbnails.Class(),
		"shared", handles.SharedBackend(),
	)
	if cfg.Observability.Metrics {
		handles = storage.InstrumentHandles(handles)
	}

	svc := gallery.NewService(store, handles, gallery.Options{
		AlbumOrder:      cfg.Gallery.AlbumOrder,
		ThumbnailWidth:  cfg.Thumbnails.Width,
		ThumbnailHeight: cfg.Thumbnails.Height,
	})
	if cfg.Observability.Metrics {
		svc.RefreshMetrics(ctx)
	}

	verifier, err := auth.NewVerifier(cfg.Auth)
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid auth configuration: %v\n", err)
		os.Exit(1)
	}

	srv, err := server.New(cfg, svc, verifier)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to create server: %v\n", err)
		os.Exit(1)
	}

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)

	// Start the server in a goroutine so we can handle shutdown signals.
	errCh := make(chan error, 1)
	go func() {
		slog.Info("galleryd listening", "addr", addr)
		if err := srv.ListenAndServe(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		slog.Info("Received signal, shutting down", "signal", sig)

		shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Duration(cfg.Server.ShutdownTimeout)*time.Second)
		defer cancel()

		if err := srv.Shutdown(shutdownCtx); err != nil {
			slog.Error("Shutdown error", "error", err)
		}
		slog.Info("Server stopped")

	case err := <-errCh:
		if err != nil {
			fmt.Fprintf(os.Stderr, "server error: %v\n", err)
			os.Exit(1)
		}
	}
}

// cleanTempFiles removes orphaned temp files from local backends.
func cleanTempFiles(h storage.Handles) {
	backends := []storage.Backend{h.Images}
	if !h.SharedBackend() {
		backends = append(backends, h.Thumbnails)
	}
	for _, b := range backends {
		local, ok := b.(*storage.LocalBackend)
		if !ok {
			continue
		}
		if err := local.CleanTempFiles(); err != nil {
			slog.Warn("Failed to clean temp files", "error", err)
		}
	}
}
