// fraudscope - fraud scoring and statistics API
package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/fraudscope/fraudscope/internal/config"
	"github.com/fraudscope/fraudscope/internal/logging"
	"github.com/fraudscope/fraudscope/internal/server"
	"github.com/fraudscope/fraudscope/internal/traces"
)

// Build info - set by ldflags
var (
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

func main() {
	// Bootstrap logger until config says otherwise
	logger := logging.New("info", "text")

	if err := run(context.Background(), logger); err != nil {
		logger.Error("fraudscope exited", "error", err)
		os.Exit(1)
	}
}

// run owns every deferred cleanup so that trace flushing and the log file
// close happen on error paths too.
func run(ctx context.Context, bootstrap *slog.Logger) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	var out io.Writer = os.Stdout
	if cfg.LogFile != "" {
		f, err := logging.OpenFile(cfg.LogFile)
		if err != nil {
			return fmt.Errorf("open log file %s: %w", cfg.LogFile, err)
		}
		defer func() { _ = f.Close() }()
		out = io.MultiWriter(logging.NewSafeWriter(os.Stdout), logging.NewSafeWriter(f))
	}
	logger := logging.NewWithWriter(cfg.LogLevel, cfg.LogFormat, out)

	logger.Info("starting fraudscope",
		"version", Version,
		"commit", Commit,
		"build_time", BuildTime,
		"env", cfg.Env,
	)

	shutdownTraces, err := traces.Init(ctx, cfg.OTLPEndpoint, logger)
	if err != nil {
		return fmt.Errorf("init tracing: %w", err)
	}
	defer func() {
		tctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTraces(tctx); err != nil {
			bootstrap.Warn("trace flush failed", "error", err)
		}
	}()

	srv, err := server.New(cfg, server.WithLogger(logger))
	if err != nil {
		logger.Error("failed to create server", "error", err)
		return fmt.Errorf("create server: %w", err)
	}

	if err := srv.Run(ctx); err != nil {
		logger.Error("server error", "error", err)
		return err
	}
	return nil
}
