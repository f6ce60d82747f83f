package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/google/uuid"

	"github.com/jkaninda/karakana/internal/config"
	"github.com/jkaninda/karakana/internal/domain"
	"github.com/jkaninda/karakana/internal/lifecycle"
	"github.com/jkaninda/karakana/internal/llm"
	"github.com/jkaninda/karakana/internal/llm/anthropic"
	"github.com/jkaninda/karakana/internal/llm/openai"
	"github.com/jkaninda/karakana/internal/observability"
	"github.com/jkaninda/karakana/internal/runtime"
	"github.com/jkaninda/karakana/internal/storage"
	pgstore "github.com/jkaninda/karakana/internal/storage/postgres"
	sqlitestore "github.com/jkaninda/karakana/internal/storage/sqlite"
	"github.com/jkaninda/karakana/internal/workspace"
)

// SharedComponents holds the subsystems every command mode builds on.
// Built once by initShared, torn down by Cleanup. LLMProvider is nil
// unless initShared was asked for one.
type SharedComponents struct {
	Config    *config.Config
	Logger    *slog.Logger
	Workspace *workspace.Workspace
	Store     storage.Store

	Obs         *observability.Observability
	LLMProvider llm.Provider
	Invoker     runtime.Invoker
	Executor    *runtime.Executor
	Lifecycle   *lifecycle.Manager

	cleanups []func()
}

// Cleanup runs all deferred cleanup functions in reverse order.
func (sc *SharedComponents) Cleanup() {
	for i := len(sc.cleanups) - 1; i >= 0; i-- {
		sc.cleanups[i]()
	}
}

func (sc *SharedComponents) addCleanup(fn func()) {
	sc.cleanups = append(sc.cleanups, fn)
}

// initShared performs common initialization. withLLM selects whether an
// LLM provider is built; sandbox and deploy commands work without API
// keys.
func initShared(cfg *config.Config, logger *slog.Logger, withLLM bool) (*SharedComponents, error) {
	sc := &SharedComponents{
		Config: cfg,
		Logger: logger,
	}

	// Workspace.
	ws, err := initWorkspace(cfg)
	if err != nil {
		return nil, fmt.Errorf("initializing workspace: %w", err)
	}
	if err := ws.EnsureAll(); err != nil {
		return nil, fmt.Errorf("preparing workspace: %w", err)
	}
	sc.Workspace = ws
	logger.Debug("workspace initialized", slog.String("root", ws.Root))

	// Observability.
	obs, err := observability.New(cfg.Observability, logger)
	if err != nil {
		return nil, fmt.Errorf("initializing observability: %w", err)
	}
	sc.Obs = obs
	sc.addCleanup(func() {
		if obs != nil {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			obs.Shutdown(shutdownCtx)
		}
	})
	if obs != nil {
		logger.Debug("observability initialized",
			slog.Bool("metrics", obs.Metrics != nil),
			slog.Bool("tracing", obs.Tracer != nil),
		)
	}

	// Runtime CLI, executor, lifecycle manager.
	invoker := runtime.NewCLI(cfg.Runtime.RuntimeBinary(), logger)
	sc.Invoker = invoker
	sc.Executor = runtime.NewExecutor(invoker, runtime.ExecutorConfig{
		HostTimeout:      cfg.Runtime.HostCommandTimeout(),
		ContainerTimeout: cfg.Runtime.ContainerCommandTimeout(),
	}, logger)
	sc.Lifecycle = lifecycle.NewManager(invoker, sc.Executor, ws, lifecycle.Config{
		ControlTimeout: cfg.Runtime.ControlTimeout(),
		DeployTimeout:  cfg.Runtime.DeployTimeout(),
	}, logger)
	logger.Debug("runtime initialized", slog.String("binary", cfg.Runtime.RuntimeBinary()))

	// Storage.
	store, err := initStore(cfg, ws, logger)
	if err != nil {
		sc.Cleanup()
		return nil, fmt.Errorf("initializing storage: %w", err)
	}
	sc.Store = store
	sc.addCleanup(func() {
		if err := store.Close(); err != nil {
			logger.Error("closing store", slog.String("error", err.Error()))
		}
	})
	if err := store.Migrate(context.Background()); err != nil {
		sc.Cleanup()
		return nil, fmt.Errorf("running migrations: %w", err)
	}
	logger.Debug("storage initialized", slog.String("driver", store.Driver()))

	// Health checks.
	if obs != nil && obs.Health != nil && cfg.Observability != nil && cfg.Observability.Health != nil {
		if cfg.Observability.Health.IncludeDB {
			obs.Health.AddCheck("db", store.Ping)
		}
		if cfg.Observability.Health.IncludeRuntime {
			obs.Health.AddCheck("runtime", func(ctx context.Context) error {
				_, err := sc.Executor.Listing(ctx)
				return err
			})
		}
	}

	// LLM provider.
	if withLLM {
		provider, err := newLLMProvider(cfg, logger)
		if err != nil {
			sc.Cleanup()
			return nil, fmt.Errorf("initializing LLM provider: %w", err)
		}
		logger.Debug("llm provider initialized", slog.String("provider", provider.Name()))

		if obs != nil && obs.Metrics != nil {
			provider = observability.NewInstrumentedProvider(provider, obs.Metrics, obs.TracerOrNil())
		}
		sc.LLMProvider = provider
	}

	return sc, nil
}

// initWorkspace resolves the workspace root from config or defaults.
func initWorkspace(cfg *config.Config) (*workspace.Workspace, error) {
	if cfg.Workspace == "" {
		return workspace.Default()
	}
	return workspace.New(cfg.Workspace)
}

// initStore creates the storage backend from config. SQLite is the
// zero-config default with the database inside the workspace.
func initStore(cfg *config.Config, ws *workspace.Workspace, logger *slog.Logger) (storage.Store, error) {
	switch driver := cfg.Storage.StorageDriver(); driver {
	case "postgres":
		pgCfg := pgstore.Config{DSN: cfg.Storage.Postgres.DSN}
		pgCfg.MaxOpenConns = cfg.Storage.Postgres.MaxOpenConns
		pgCfg.MaxIdleConns = cfg.Storage.Postgres.MaxIdleConns
		pgCfg.ConnMaxLifetime = time.Duration(cfg.Storage.Postgres.ConnMaxLifetimeS) * time.Second
		return pgstore.Open(pgCfg, logger)
	case "sqlite":
		sqliteCfg := sqlitestore.Config{Path: ws.DatabasePath(), JournalMode: "wal"}
		if cfg.Storage != nil && cfg.Storage.SQLite != nil {
			if cfg.Storage.SQLite.Path != "" {
				sqliteCfg.Path = cfg.Storage.SQLite.Path
			}
			if cfg.Storage.SQLite.JournalMode != "" {
				sqliteCfg.JournalMode = cfg.Storage.SQLite.JournalMode
			}
		}
		return sqlitestore.Open(sqliteCfg, logger)
	default:
		return nil, fmt.Errorf("unknown storage driver: %q", driver)
	}
}

// newLLMProvider creates the configured provider, wrapping it in a
// fallback chain when fallbacks are configured.
func newLLMProvider(cfg *config.Config, logger *slog.Logger) (llm.Provider, error) {
	primary, err := buildProvider(cfg.Providers.Default, cfg, logger)
	if err != nil {
		return nil, err
	}

	if len(cfg.Providers.Fallback) > 0 {
		providers := []llm.Provider{primary}
		for _, name := range cfg.Providers.Fallback {
			fb, err := buildProvider(name, cfg, logger)
			if err != nil {
				logger.Warn("skipping fallback provider",
					slog.String("provider", name),
					slog.String("error", err.Error()),
				)
				continue
			}
			providers = append(providers, fb)
		}
		if len(providers) > 1 {
			return llm.NewFallbackProvider(providers, logger), nil
		}
	}

	return primary, nil
}

// buildProvider creates a single LLM provider by name.
func buildProvider(name string, cfg *config.Config, logger *slog.Logger) (llm.Provider, error) {
	switch name {
	case "anthropic", "":
		if cfg.Providers.Anthropic.APIKey == "" {
			return nil, fmt.Errorf("providers.anthropic.api_key is required (set ANTHROPIC_API_KEY env var)")
		}
		return anthropic.NewClient(
			cfg.Providers.Anthropic.APIKey,
			cfg.Providers.Anthropic.Model,
			logger,
		), nil
	case "openai":
		if cfg.Providers.OpenAI.APIKey == "" {
			return nil, fmt.Errorf("providers.openai.api_key is required (set OPENAI_API_KEY env var)")
		}
		var opts []openai.Option
		if cfg.Providers.OpenAI.BaseURL != "" {
			opts = append(opts, openai.WithBaseURL(cfg.Providers.OpenAI.BaseURL))
		}
		return openai.NewClient(
			cfg.Providers.OpenAI.APIKey,
			cfg.Providers.OpenAI.Model,
			logger,
			opts...,
		), nil
	default:
		return nil, fmt.Errorf("unknown provider: %q", name)
	}
}

// resolveProject looks a project up by UUID or name.
func resolveProject(ctx context.Context, store storage.Store, ref string) (*domain.Project, error) {
	if id, err := uuid.Parse(ref); err == nil {
		return store.Projects().Get(ctx, id)
	}
	return store.Projects().GetByName(ctx, ref)
}

// newLogger builds the process logger. Logs go to stderr so stdout
// stays clean for command output and the MCP transport.
func newLogger(level slog.Level) *slog.Logger {
	return slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	}))
}
