package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/firebase/genkit/go/ai"
	"github.com/firebase/genkit/go/genkit"
	"github.com/firebase/genkit/go/plugins/googlegenai"
	"github.com/firebase/genkit/go/plugins/ollama"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/avelin0/sage/db"
	"github.com/avelin0/sage/internal/api"
	"github.com/avelin0/sage/internal/config"
	"github.com/avelin0/sage/internal/encoder"
	"github.com/avelin0/sage/internal/knowledge"
	"github.com/avelin0/sage/internal/log"
	"github.com/avelin0/sage/internal/retrieval"
	"github.com/avelin0/sage/internal/syncer"
)

// Setup initializes every component in dependency order. On failure it
// tears down whatever was already built and returns the error.
func Setup(ctx context.Context, cfg *config.Config, version string, logger log.Logger) (_ *App, retErr error) {
	a := &App{Config: cfg, logger: logger}

	defer func() {
		if retErr != nil {
			if err := a.Close(); err != nil {
				logger.Warn("cleanup after failed setup", "error", err)
			}
		}
	}()

	pool, err := provideDBPool(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	a.Pool = pool
	a.Source = knowledge.NewPostgresSource(pool, cfg.SourceTimeout(), logger)

	g, err := provideGenkit(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	a.Genkit = g

	embedder := provideEmbedder(g, cfg)
	if embedder == nil {
		return nil, fmt.Errorf("embedder %q not found for provider %q", cfg.EmbedderModel, cfg.Provider)
	}
	a.Encoder, err = encoder.NewGenkit(embedder, cfg.Dimension)
	if err != nil {
		return nil, fmt.Errorf("creating encoder: %w", err)
	}

	a.Syncer = syncer.New(a.Source, a.Encoder, syncer.Options{
		IndexDir:           cfg.IndexDir,
		Dimension:          cfg.Dimension,
		PollInterval:       cfg.SyncInterval(),
		MinRebuildInterval: cfg.MinRebuildInterval(),
		UptimeThreshold:    cfg.UptimeThreshold(),
	}, logger)

	a.Orchestrator = retrieval.New(
		a.Encoder, a.Syncer, a.Source,
		provideGenerator(g, cfg, logger),
		retrieval.Options{
			TopK:                cfg.TopK,
			MaxK:                config.MaxTopK,
			ConfidenceThreshold: cfg.ConfidenceThreshold,
			HedgePrefix:         cfg.HedgePrefix,
		}, logger)

	a.Server = api.New(a.Orchestrator, a.Syncer, a.Source, api.Options{
		Addr:      cfg.ServeAddr,
		RateBurst: cfg.RateBurst,
	}, version, logger)

	return a, nil
}

// provideDBPool migrates the schema, then opens and verifies the pool.
func provideDBPool(ctx context.Context, cfg *config.Config, logger log.Logger) (*pgxpool.Pool, error) {
	if err := db.Migrate(cfg.PostgresURL(), logger); err != nil {
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	poolCfg, err := pgxpool.ParseConfig(cfg.PostgresConnectionString())
	if err != nil {
		return nil, fmt.Errorf("parsing connection config: %w", err)
	}
	poolCfg.MaxConns = 10
	poolCfg.MinConns = 2
	poolCfg.MaxConnLifetime = 30 * time.Minute
	poolCfg.MaxConnIdleTime = 5 * time.Minute
	poolCfg.HealthCheckPeriod = time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("creating connection pool: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}
	return pool, nil
}

// provideGenkit initializes Genkit with the configured provider plugin.
func provideGenkit(ctx context.Context, cfg *config.Config, logger log.Logger) (*genkit.Genkit, error) {
	switch cfg.Provider {
	case config.ProviderOllama:
		plugin := &ollama.Ollama{ServerAddress: cfg.OllamaHost}
		g := genkit.Init(ctx, genkit.WithPlugins(plugin))
		if g == nil {
			return nil, errors.New("initializing genkit with ollama provider")
		}
		// Ollama has no auto-discovery; models and embedders must be
		// registered explicitly.
		if cfg.ModelName != "" {
			plugin.DefineModel(g, ollama.ModelDefinition{Name: cfg.ModelName, Type: "chat"}, nil)
		}
		plugin.DefineEmbedder(g, cfg.OllamaHost, cfg.EmbedderModel, nil)
		logger.Info("genkit initialized", "provider", cfg.Provider, "host", cfg.OllamaHost)
		return g, nil

	default: // gemini / googleai
		g := genkit.Init(ctx, genkit.WithPlugins(&googlegenai.GoogleAI{}))
		if g == nil {
			return nil, errors.New("initializing genkit with googleai provider")
		}
		logger.Info("genkit initialized", "provider", cfg.Provider)
		return g, nil
	}
}

// provideEmbedder looks up the embedder the provider plugin registered.
func provideEmbedder(g *genkit.Genkit, cfg *config.Config) ai.Embedder {
	switch cfg.Provider {
	case config.ProviderOllama:
		// Keyed by server address, registered in provideGenkit.
		return ollama.Embedder(g, cfg.OllamaHost)
	default:
		return googlegenai.GoogleAIEmbedder(g, cfg.EmbedderModel)
	}
}

// provideGenerator decides degraded mode once, at startup: without a
// configured chat model the service serves stored answers verbatim.
func provideGenerator(g *genkit.Genkit, cfg *config.Config, logger log.Logger) retrieval.Generator {
	if cfg.ModelName == "" {
		logger.Warn("no chat model configured, serving stored answers verbatim")
		return retrieval.NewUnavailable("no chat model configured")
	}
	return retrieval.NewGenkitGenerator(g, cfg.FullModelName(), cfg.GenerateTimeout())
}
