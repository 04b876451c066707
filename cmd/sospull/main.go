// Command sospull extracts one business entity record from the state
// registry and writes a JSON artifact for it.
//
// Usage:
//
//	sospull -config sospull.yaml -file-number 09853537
//	sospull -file-number 09853537 -search-url https://registry.example/search
//
// The solving-service API key is read from SOSPULL_SOLVER_KEY unless set in
// the config file.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "modernc.org/sqlite"

	"github.com/lutra-labs/sospull/runner"
)

func main() {
	configPath := flag.String("config", "", "path to sospull.yaml config file")
	fileNumber := flag.String("file-number", "", "business identifier to look up (required)")
	requestID := flag.String("request-id", "", "run correlation id (generated when empty)")
	searchURL := flag.String("search-url", "", "registry search URL (overrides config)")
	outDir := flag.String("out", "", "output directory for artifacts and diagnostics")
	deadline := flag.Duration("deadline", 0, "wall-clock budget for the run (default 4m)")
	logLevel := flag.String("log-level", "info", "log level: debug, info, warn, error")
	flag.Parse()

	var level slog.Level
	switch *logLevel {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, logger, *configPath, *fileNumber, *requestID, *searchURL, *outDir, *deadline); err != nil {
		logger.Error("sospull: fatal", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, logger *slog.Logger, configPath, fileNumber, requestID, searchURL, outDir string, deadline time.Duration) error {
	if fileNumber == "" {
		fmt.Fprintln(os.Stderr, "usage: sospull -file-number <id> [-config <file>] [-search-url <url>]")
		os.Exit(2)
	}

	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	if searchURL != "" {
		cfg.Registry.SearchURL = searchURL
	}
	if outDir != "" {
		cfg.OutDir = outDir
		cfg.ApplyDefaults()
	}
	if deadline > 0 {
		cfg.Deadline = deadline
	}
	if cfg.Solver.APIKey == "" {
		cfg.Solver.APIKey = os.Getenv("SOSPULL_SOLVER_KEY")
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	r, err := runner.New(cfg, logger)
	if err != nil {
		return fmt.Errorf("setup: %w", err)
	}
	defer r.Close()

	res := r.Run(ctx, runner.RunRequest{
		FileNumber: fileNumber,
		RequestID:  requestID,
	})

	logger.Info("sospull: run finished",
		"request_id", res.RequestID,
		"status", res.Status,
		"artifact", res.ArtifactPath,
	)
	if res.Err != nil {
		logger.Warn("sospull: run error detail", "error", res.Err)
	}

	// Exit code distinguishes "wrote a success artifact" from every other
	// outcome; the artifact itself carries the finer-grained status.
	if res.Status != runner.StatusSuccess {
		os.Exit(1)
	}
	return nil
}

func loadConfig(path string) (*runner.Config, error) {
	if path == "" {
		return runner.Default(), nil
	}
	cfg, err := runner.LoadFile(path)
	if err != nil {
		return nil, err
	}
	return cfg, nil
}
