// Command attpc-merger converts raw AT-TPC runs into merged HDF5
// archives: it k-way merges the per-board GET .graw file stacks into
// event-ordered frames, assembles pad-mapped events, decodes the FRIBDAQ
// ring stream, and hands everything to the HDF5 writer. The pipeline runs
// on one background worker while the foreground reports progress.
package main

import (
	"flag"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/attpc/attpc-merger/config"
	"github.com/attpc/attpc-merger/process"
)

// progressInterval is how often the foreground reports the worker's
// progress.
const progressInterval = 2 * time.Second

func main() {
	configPath := flag.String("config", "config.yaml", "path to the YAML run configuration")
	logLevel := flag.String("log-level", "info", "log level: debug, info, warn or error")
	flag.Parse()

	slog.SetDefault(newLogger(*logLevel))

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "attpc-merger: %v\n", err)
		os.Exit(1)
	}

	slog.Info("configuration loaded",
		slog.String("config_path", *configPath),
		slog.Int("first_run", cfg.FirstRunNumber),
		slog.Int("last_run", cfg.LastRunNumber),
		slog.Bool("online", cfg.Online),
	)

	progress := process.NewProgress()

	// The whole pipeline runs on one worker; the foreground only polls
	// the shared progress value.
	done := make(chan error, 1)
	go func() {
		done <- process.Run(cfg, progress)
	}()

	ticker := time.NewTicker(progressInterval)
	defer ticker.Stop()
	for {
		select {
		case err := <-done:
			if err != nil {
				slog.Error("processing failed", slog.Any("error", err))
				os.Exit(1)
			}
			slog.Info("all runs processed")

			return
		case <-ticker.C:
			slog.Info("working",
				slog.String("progress", fmt.Sprintf("%.0f%%", progress.Fraction()*100)))
		}
	}
}

// newLogger builds the default text logger at the requested level.
func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}

	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}
