package app

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"golang.org/x/sync/errgroup"

	"dronewatch.eu/core/internal/cli"
	"dronewatch.eu/core/internal/httpapi"
	"dronewatch.eu/core/internal/ingest"
	"dronewatch.eu/core/internal/logging"
	"dronewatch.eu/core/internal/queue"
)

func runServe(args []string) int {
	fs := flag.NewFlagSet("serve", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	envFile := cli.AddEnvFlag(fs, ".env")
	host := fs.String("host", "", "Host interface to bind (defaults to HTTP_HOST)")
	port := fs.Int("port", 0, "HTTP port (defaults to HTTP_PORT)")
	readTimeout := fs.Duration("read-timeout", 10*time.Second, "HTTP read timeout")
	writeTimeout := fs.Duration("write-timeout", 30*time.Second, "HTTP write timeout")
	shutdownTimeout := fs.Duration("shutdown-timeout", 10*time.Second, "Graceful shutdown timeout")
	consume := fs.Bool("consume", false, "Also consume the Redis candidate queue in this process")

	cfg, logger, code := bootstrap(fs, envFile, args)
	if code >= 0 {
		return code
	}
	if *port < 0 || *port > 65535 {
		fmt.Fprintln(os.Stderr, "--port must be between 1 and 65535")
		return 2
	}
	if *host == "" {
		*host = cfg.HTTPHost
	}
	if *port == 0 {
		*port = cfg.HTTPPort
	}

	dbCtx, dbCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer dbCancel()

	rt, err := openStore(dbCtx, cfg, logger)
	if err != nil {
		logger.Error().Err(err).Msg("serve failed to open store")
		fmt.Fprintf(os.Stderr, "Failed to open store: %v\n", err)
		return 1
	}
	defer rt.Close()

	ctx, cancel := signalContext()
	defer cancel()

	srv := httpapi.NewServer(rt.backend, logging.Component(logger, "http"), httpapi.Options{
		Host:            *host,
		Port:            *port,
		ReadTimeout:     *readTimeout,
		WriteTimeout:    *writeTimeout,
		ShutdownTimeout: *shutdownTimeout,
		AllowedOrigins:  cfg.CORSAllowedOriginsList(),
		Metrics:         rt.metrics.Handler(),
	})

	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(func() error {
		return srv.Start(groupCtx)
	})
	if *consume {
		if err := rt.buildPipeline(ctx); err != nil {
			fmt.Fprintf(os.Stderr, "Consume setup failed: %v\n", err)
			return 1
		}
		consumer, err := queue.NewConsumer(rt.redisClient(), queue.Config{Key: cfg.QueueKey})
		if err != nil {
			fmt.Fprintf(os.Stderr, "Consume setup failed: %v\n", err)
			return 1
		}
		svc := ingest.NewService(rt.pipeline, rt.backend, logging.Component(logger, "ingest"))
		group.Go(func() error {
			result, err := svc.Consume(groupCtx, consumer, ingest.ConsumeOptions{Origin: "serve"})
			if err != nil {
				return fmt.Errorf("consume: %w", err)
			}
			printResult("consume", result)
			return nil
		})
	}

	if err := group.Wait(); err != nil {
		logger.Error().Err(err).Str("host", *host).Int("port", *port).Msg("server failed")
		fmt.Fprintf(os.Stderr, "Server failed: %v\n", err)
		return 1
	}

	return 0
}
