// Command spyglass runs the competitor page monitor: the scheduler, the
// change detection pipeline and the HTTP API, until SIGINT or SIGTERM.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/raysh454/spyglass/internal/app"
	"github.com/raysh454/spyglass/internal/cli"
	"github.com/raysh454/spyglass/internal/logging"
)

const shutdownTimeout = 15 * time.Second

func main() {
	cfg, err := cli.ParseArgs(os.Args[1:])
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	logger := logging.NewStdoutLogger(logging.ParseLevel(cfg.LogLevel))

	core, err := app.NewCore(cfg, logger)
	if err != nil {
		logger.Error("startup failed", logging.Err(err))
		os.Exit(1)
	}

	core.Start()
	logger.Info("spyglass started",
		logging.F("listen", cfg.ListenAddr),
		logging.F("db", cfg.DBPath),
		logging.F("renderer", cfg.RendererBackend))

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	sig := <-stop
	logger.Info("shutting down", logging.F("signal", sig.String()))

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := core.Shutdown(ctx); err != nil {
		logger.Error("shutdown error", logging.Err(err))
		os.Exit(1)
	}
}
