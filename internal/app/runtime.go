package app

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"strings"

	redis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"dronewatch.eu/core/internal/cli"
	"dronewatch.eu/core/internal/config"
	"dronewatch.eu/core/internal/db"
	"dronewatch.eu/core/internal/embedding"
	"dronewatch.eu/core/internal/lease"
	"dronewatch.eu/core/internal/logging"
	"dronewatch.eu/core/internal/metrics"
	"dronewatch.eu/core/internal/normalize"
	"dronewatch.eu/core/internal/pipeline"
	"dronewatch.eu/core/internal/profile"
	"dronewatch.eu/core/internal/reasoning"
	"dronewatch.eu/core/internal/store"
)

const providerNone = "none"

// runtime holds everything a command opened and must close again.
type runtime struct {
	cfg      *config.Config
	logger   zerolog.Logger
	backend  store.Backend
	redis    redis.UniversalClient
	metrics  *metrics.Metrics
	pipeline *pipeline.Service
	closers  []func() error
}

// bootstrap parses flags, loads the env file and config, and builds the
// logger. A non-negative exit code means the command should stop.
func bootstrap(fs *flag.FlagSet, envFile *cli.EnvFile, args []string) (*config.Config, zerolog.Logger, int) {
	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return nil, zerolog.Nop(), 0
		}
		return nil, zerolog.Nop(), 2
	}

	var loadedEnv string
	if envFile != nil {
		path, err := envFile.Apply()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to load env file: %v\n", err)
			return nil, zerolog.Nop(), 1
		}
		loadedEnv = path
	}

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		return nil, zerolog.Nop(), 1
	}

	logger, err := logging.New(cfg.Environment, cfg.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		return nil, zerolog.Nop(), 1
	}
	if loadedEnv != "" {
		logger.Debug().Str("path", loadedEnv).Msg("loaded env file")
	}
	return cfg, logger, -1
}

// openStore opens the configured backend. Postgres schemas are migrated on
// open.
func openStore(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (*runtime, error) {
	rt := &runtime{cfg: cfg, logger: logger, metrics: metrics.New()}

	switch cfg.StoreBackend {
	case config.StoreMemory:
		rt.backend = store.NewMemory()
		logger.Warn().Msg("using in-memory store; incidents are lost on exit")
	default:
		pool, err := db.NewPool(ctx, cfg)
		if err != nil {
			return nil, fmt.Errorf("connect to database: %w", err)
		}
		if err := pool.Migrate(ctx, logging.Component(logger, "migrate")); err != nil {
			_ = pool.Close()
			return nil, fmt.Errorf("migrate schema: %w", err)
		}
		rt.backend = db.NewIncidentStore(pool, logging.Component(logger, "store"))
	}
	rt.closers = append(rt.closers, rt.backend.Close)
	return rt, nil
}

// openPipeline opens the store and wires the matcher around it.
func openPipeline(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (*runtime, error) {
	rt, err := openStore(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	if err := rt.buildPipeline(ctx); err != nil {
		rt.Close()
		return nil, err
	}
	return rt, nil
}

func (rt *runtime) buildPipeline(ctx context.Context) error {
	prof, err := profile.Load(rt.cfg.MatchProfilePath)
	if err != nil {
		return fmt.Errorf("load match profile: %w", err)
	}
	normalizer := normalize.New(prof.NormalizeOptions(normalize.Options{}))
	opts := prof.PipelineOptions(pipeline.DefaultOptions())
	opts.EmbeddingTimeout = rt.cfg.EmbeddingTimeout
	opts.ReasoningTimeout = rt.cfg.ReasoningTimeout

	var locker lease.Locker = lease.NewLocal()
	if rt.cfg.LockBackend == config.LockRedis {
		locker = lease.NewRedis(rt.redisClient(), lease.RedisOptions{TTL: rt.cfg.LockTTL}, logging.Component(rt.logger, "lease"))
	}

	embedder, err := rt.buildEmbedder(ctx)
	if err != nil {
		return err
	}
	adjudicator, err := rt.buildAdjudicator(ctx, opts)
	if err != nil {
		return err
	}

	deps := pipeline.Dependencies{
		Store:       rt.backend,
		Normalizer:  normalizer,
		Adjudicator: adjudicator,
		Locker:      locker,
		Metrics:     rt.metrics,
		Logger:      logging.Component(rt.logger, "pipeline"),
	}
	if embedder != nil {
		deps.Embedder = embedder
	}
	svc, err := pipeline.NewService(deps, opts)
	if err != nil {
		return fmt.Errorf("build pipeline: %w", err)
	}
	rt.pipeline = svc

	rt.logger.Info().
		Str("store", rt.cfg.StoreBackend).
		Str("lock", rt.cfg.LockBackend).
		Str("embedding", rt.cfg.EmbeddingProvider).
		Str("reasoning_primary", rt.cfg.ReasoningPrimary).
		Str("reasoning_secondary", rt.cfg.ReasoningSecondary).
		Str("profile", rt.cfg.MatchProfilePath).
		Msg("pipeline ready")
	return nil
}

func (rt *runtime) buildEmbedder(ctx context.Context) (embedding.Provider, error) {
	name := rt.cfg.EmbeddingProvider
	if name == providerNone {
		rt.logger.Warn().Msg("no embedding provider configured; semantic matching disabled")
		return nil, nil
	}

	registry := embedding.NewRegistry(name)
	if err := registry.Register(embedding.NewHTTPProvider(embedding.HTTPOptions{
		Endpoint:   rt.cfg.EmbeddingEndpoint,
		Model:      rt.cfg.EmbeddingModel,
		Dimensions: rt.cfg.EmbeddingDimensions,
	})); err != nil {
		return nil, err
	}
	if err := registry.Register(embedding.NewOpenAIProvider(embedding.OpenAIOptions{
		APIKey:     rt.cfg.OpenAIAPIKey,
		BaseURL:    rt.cfg.OpenAIBaseURL,
		Model:      rt.cfg.EmbeddingModel,
		Dimensions: rt.cfg.EmbeddingDimensions,
	})); err != nil {
		return nil, err
	}
	if name == "gemini" {
		gemini, err := embedding.NewGeminiProvider(ctx, embedding.GeminiOptions{
			APIKey:     rt.cfg.GeminiAPIKey,
			Model:      rt.cfg.EmbeddingModel,
			Dimensions: rt.cfg.EmbeddingDimensions,
		})
		if err != nil {
			return nil, err
		}
		rt.closers = append(rt.closers, gemini.Close)
		if err := registry.Register(gemini); err != nil {
			return nil, err
		}
	}
	return registry.Provider("")
}

func (rt *runtime) buildAdjudicator(ctx context.Context, opts pipeline.Options) (*pipeline.Adjudicator, error) {
	registry := reasoning.NewRegistry()
	for _, name := range []string{rt.cfg.ReasoningPrimary, rt.cfg.ReasoningSecondary} {
		if name == providerNone {
			continue
		}
		provider, err := rt.reasoningProvider(ctx, name)
		if err != nil {
			return nil, err
		}
		if err := registry.Register(provider); err != nil {
			return nil, err
		}
	}

	adjudicatorOpts := pipeline.AdjudicatorOptions{
		PromptTemplate: opts.PromptTemplate,
		Timeout:        opts.ReasoningTimeout,
		ExcerptChars:   opts.NarrativeExcerptChars,
		Metrics:        rt.metrics,
		Logger:         logging.Component(rt.logger, "adjudicator"),
	}
	if rt.cfg.ReasoningPrimary != providerNone {
		primary, err := registry.Provider(rt.cfg.ReasoningPrimary)
		if err != nil {
			return nil, err
		}
		adjudicatorOpts.Primary = primary
	}
	if rt.cfg.ReasoningSecondary != providerNone {
		secondary, err := registry.Provider(rt.cfg.ReasoningSecondary)
		if err != nil {
			return nil, err
		}
		adjudicatorOpts.Secondary = secondary
	}

	adjudicator, err := pipeline.NewAdjudicator(adjudicatorOpts)
	if err != nil {
		return nil, fmt.Errorf("build adjudicator: %w", err)
	}
	if adjudicator == nil {
		rt.logger.Warn().Float64("floor", opts.SemanticFloor).Msg("no reasoning provider configured; ambiguous matches use the similarity floor")
	}
	return adjudicator, nil
}

func (rt *runtime) reasoningProvider(ctx context.Context, name string) (reasoning.Provider, error) {
	switch name {
	case "openai":
		return reasoning.NewOpenAIProvider(reasoning.OpenAIOptions{
			APIKey:  rt.cfg.OpenAIAPIKey,
			BaseURL: rt.cfg.OpenAIBaseURL,
			Model:   rt.cfg.OpenAIModel,
		}), nil
	case "local":
		return reasoning.NewOpenAIProvider(reasoning.OpenAIOptions{
			Name:    "local",
			APIKey:  "local",
			BaseURL: rt.cfg.LocalLLMBaseURL,
			Model:   rt.cfg.LocalLLMModel,
		}), nil
	case "anthropic":
		return reasoning.NewAnthropicProvider(reasoning.AnthropicOptions{
			APIKey: rt.cfg.AnthropicAPIKey,
			Model:  rt.cfg.AnthropicModel,
		}), nil
	case "gemini":
		gemini, err := reasoning.NewGeminiProvider(ctx, reasoning.GeminiOptions{
			APIKey: rt.cfg.GeminiAPIKey,
			Model:  rt.cfg.GeminiModel,
		})
		if err != nil {
			return nil, err
		}
		rt.closers = append(rt.closers, gemini.Close)
		return gemini, nil
	default:
		return nil, fmt.Errorf("reasoning provider %q is not supported", name)
	}
}

func (rt *runtime) redisClient() redis.UniversalClient {
	if rt.redis == nil {
		rt.redis = redis.NewClient(&redis.Options{
			Addr:     strings.TrimSpace(rt.cfg.RedisAddr),
			Password: rt.cfg.RedisPassword,
			DB:       rt.cfg.RedisDB,
		})
		rt.closers = append(rt.closers, rt.redis.Close)
	}
	return rt.redis
}

// Close releases resources in reverse order of acquisition.
func (rt *runtime) Close() {
	if rt == nil {
		return
	}
	for i := len(rt.closers) - 1; i >= 0; i-- {
		if err := rt.closers[i](); err != nil {
			rt.logger.Warn().Err(err).Msg("close failed")
		}
	}
	rt.closers = nil
}
