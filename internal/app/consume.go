package app

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"dronewatch.eu/core/internal/cli"
	"dronewatch.eu/core/internal/ingest"
	"dronewatch.eu/core/internal/logging"
	"dronewatch.eu/core/internal/queue"
)

func runConsume(args []string) int {
	fs := flag.NewFlagSet("consume", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	envFile := cli.AddEnvFlag(fs, ".env")
	key := fs.String("key", "", "Redis list key (defaults to QUEUE_KEY)")
	blockTimeout := fs.Duration("block-timeout", 5*time.Second, "How long one pop waits for a message")
	drain := fs.Bool("drain", false, "Exit once the queue is empty")
	maxMessages := fs.Int("max-messages", 0, "Stop after this many messages (0 = unlimited)")
	origin := fs.String("origin", "redis_queue", "Origin recorded on the ingest run")

	cfg, logger, code := bootstrap(fs, envFile, args)
	if code >= 0 {
		return code
	}
	if *maxMessages < 0 {
		fmt.Fprintln(os.Stderr, "--max-messages must be >= 0")
		return 2
	}

	ctx, cancel := signalContext()
	defer cancel()

	rt, err := openPipeline(ctx, cfg, logger)
	if err != nil {
		logger.Error().Err(err).Msg("consume setup failed")
		fmt.Fprintf(os.Stderr, "Consume setup failed: %v\n", err)
		return 1
	}
	defer rt.Close()

	consumer, err := queue.NewConsumer(rt.redisClient(), queue.Config{
		Key:          queueKey(*key, cfg.QueueKey),
		BlockTimeout: *blockTimeout,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Consume setup failed: %v\n", err)
		return 1
	}

	logger.Info().Str("key", consumer.Key()).Bool("drain", *drain).Msg("consuming candidates")

	svc := ingest.NewService(rt.pipeline, rt.backend, logging.Component(logger, "ingest"))
	result, err := svc.Consume(ctx, consumer, ingest.ConsumeOptions{
		Origin:      strings.TrimSpace(*origin),
		Drain:       *drain,
		MaxMessages: *maxMessages,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Consume failed: %v\n", err)
		return 1
	}

	printResult("consume", result)
	fmt.Printf("consume messages=%d key=%s\n", result.Messages, consumer.Key())
	return 0
}

func runEnqueue(args []string) int {
	fs := flag.NewFlagSet("enqueue", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	envFile := cli.AddEnvFlag(fs, ".env")
	key := fs.String("key", "", "Redis list key (defaults to QUEUE_KEY)")
	dir := fs.String("dir", "testdata/candidates", "Directory containing .json candidate files")
	recursive := fs.Bool("recursive", true, "Recursively scan subdirectories")
	timeout := fs.Duration("timeout", 30*time.Second, "Command timeout")

	cfg, logger, code := bootstrap(fs, envFile, args)
	if code >= 0 {
		return code
	}

	files, err := collectJSONFiles(strings.TrimSpace(*dir), *recursive)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Enqueue setup failed: %v\n", err)
		return 1
	}
	payloads := make([][]byte, 0, len(files))
	for _, path := range files {
		raw, err := os.ReadFile(path)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Enqueue failed: read %s: %v\n", path, err)
			return 1
		}
		payloads = append(payloads, raw)
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	rt := &runtime{cfg: cfg, logger: logger}
	defer rt.Close()

	consumer, err := queue.NewConsumer(rt.redisClient(), queue.Config{Key: queueKey(*key, cfg.QueueKey)})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Enqueue setup failed: %v\n", err)
		return 1
	}
	if err := consumer.Push(ctx, payloads...); err != nil {
		logger.Error().Err(err).Msg("enqueue failed")
		fmt.Fprintf(os.Stderr, "Enqueue failed: %v\n", err)
		return 1
	}

	fmt.Printf("enqueue pushed=%d key=%s\n", len(payloads), consumer.Key())
	return 0
}

func queueKey(flagValue, configured string) string {
	if trimmed := strings.TrimSpace(flagValue); trimmed != "" {
		return trimmed
	}
	return configured
}

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}
