package app

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"dronewatch.eu/core/internal/cli"
)

func runHealth(args []string) int {
	fs := flag.NewFlagSet("health", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	envFile := cli.AddEnvFlag(fs, ".env")
	timeout := fs.Duration("timeout", 5*time.Second, "Store ping timeout")

	cfg, logger, code := bootstrap(fs, envFile, args)
	if code >= 0 {
		return code
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	rt, err := openStore(ctx, cfg, logger)
	if err != nil {
		logger.Error().Err(err).Msg("health check failed")
		fmt.Fprintf(os.Stderr, "Health check failed: %v\n", err)
		return 1
	}
	defer rt.Close()

	if err := rt.backend.Ping(ctx); err != nil {
		logger.Error().Err(err).Msg("health check failed")
		fmt.Fprintf(os.Stderr, "Health check failed: %v\n", err)
		return 1
	}

	logger.Info().
		Str("store", cfg.StoreBackend).
		Dur("timeout", *timeout).
		Msg("store health check passed")
	fmt.Printf("ok: %s store ping successful\n", cfg.StoreBackend)
	return 0
}
