// This is the main entrypoint for the amsd server.
// It handles configuration loading, server startup, and graceful shutdown.

package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"

	"amsd/internal/config"
	"amsd/internal/logging"
	"amsd/internal/server"
)

func main() {
	configPath := flag.String("config", "", "Path to configuration file (defaults apply when empty)")
	flag.Parse()

	cfg := config.Default()
	if *configPath != "" {
		var err error
		if cfg, err = config.Load(*configPath); err != nil {
			fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
			os.Exit(1)
		}
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "Invalid config: %v\n", err)
		os.Exit(1)
	}

	logger := logging.Init(cfg.Logging)

	srv := server.New(cfg, logger)
	if err := srv.Start(); err != nil {
		logger.Error("server start failed", "error", err)
		os.Exit(1)
	}

	shutdownHandler := server.NewShutdownHandler(context.Background(), srv)
	if err := shutdownHandler.Wait(); err != nil {
		logger.Error("shutdown failed", "error", err)
		os.Exit(1)
	}
	slog.Info("server shut down cleanly")
}
