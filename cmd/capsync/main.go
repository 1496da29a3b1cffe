package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/roach88/capsync/internal/cli"
	"github.com/roach88/capsync/internal/config"
	"github.com/roach88/capsync/internal/telemetry"
)

// version is set at build time via -ldflags.
var version = "dev"

func main() {
	os.Exit(run())
}

func run() int {
	// Load .env file if present (non-fatal; production won't have one).
	_ = godotenv.Load()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// A bad environment is reported by the command itself; validate lists
	// every problem. Telemetry stays disabled in that case.
	if cfg, err := config.Load(); err == nil {
		otelShutdown, err := telemetry.Init(ctx, cfg.OTELEndpoint, cfg.ServiceName, version, cfg.OTELInsecure, 0)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: telemetry: %v\n", err)
			return cli.ExitCommandError
		}
		defer func() { _ = otelShutdown(context.Background()) }()
	}

	root := cli.NewRootCommand()
	root.Version = version
	if err := root.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return cli.GetExitCode(err)
	}
	return cli.ExitSuccess
}
