package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/jkaninda/karakana/internal/config"
	"github.com/jkaninda/karakana/internal/gateway/httpapi"
	"github.com/jkaninda/karakana/internal/gateway/ws"
	"github.com/jkaninda/karakana/internal/janitor"
	"github.com/jkaninda/karakana/internal/tools/file"
	goutils "github.com/jkaninda/go-utils"
)

var (
	serveConfigPath string
	serveAddr       string
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP API and WebSocket session server",
	RunE:  runServe,
}

func init() {
	// Register flags on both root and serve so that
	// `karakana --config path` and `karakana serve --config path` both work.
	for _, cmd := range []*cobra.Command{rootCmd, serveCmd} {
		cmd.Flags().StringVar(&serveConfigPath, "config", config.DefaultConfigPath(), "path to config file")
		cmd.Flags().StringVar(&serveAddr, "addr", "", "override HTTP listen address (e.g. :8080)")
	}
}

// runServe starts the HTTP API with the WebSocket session endpoint
// mounted on it, plus the idle-sandbox janitor when enabled.
func runServe(_ *cobra.Command, _ []string) error {
	logger := newLogger(slog.LevelInfo)

	cfg, err := config.LoadOrDefault(goutils.Env("KARAKANA_CONFIG", serveConfigPath))
	if err != nil {
		return err
	}
	if serveAddr != "" {
		cfg.Server.ListenAddr = serveAddr
	}

	logger.Info("starting karakana server", slog.String("config", serveConfigPath))

	sc, err := initShared(cfg, logger, true)
	if err != nil {
		return err
	}
	defer sc.Cleanup()

	// Signal-aware context.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// WebSocket session server.
	wsServer := ws.NewServer(
		sc.Store,
		sc.LLMProvider,
		sc.Lifecycle,
		sc.Executor,
		sc.Workspace,
		file.Config{MaxFileSizeBytes: cfg.Tools.File.MaxFileSizeBytes},
		ws.Config{},
		logger,
	)
	if sc.Obs != nil && sc.Obs.Metrics != nil {
		wsServer.WithMetrics(sc.Obs.Metrics)
	}

	// HTTP API gateway with the session endpoint mounted on it.
	httpCfg := httpapi.Config{
		ListenAddr: cfg.Server.Addr(),
		EnableDocs: true,
		APIKeys:    apiKeysFromEnv(),
	}
	if sc.Obs != nil {
		httpCfg.Metrics = sc.Obs.Metrics
		httpCfg.HealthChecker = sc.Obs.Health
		if sc.Obs.Metrics != nil {
			httpCfg.MetricsRegistry = sc.Obs.Metrics.Registry
		}
		if sc.Obs.Tracer != nil {
			httpCfg.Tracer = sc.Obs.Tracer.Tracer()
		}
		if cfg.Observability != nil && cfg.Observability.Metrics != nil {
			httpCfg.MetricsPath = cfg.Observability.Metrics.Path
		}
	}
	gw := httpapi.NewGateway(httpCfg, sc.Store, sc.Lifecycle, sc.Workspace, logger).
		WithHandler("/ws/projects/", wsServer.Handler())
	logger.Debug("websocket session endpoint mounted", slog.String("path", "/ws/projects/"))

	// Idle-sandbox janitor.
	if cfg.Janitor != nil && cfg.Janitor.Enabled {
		jan, err := janitor.New(sc.Store, sc.Lifecycle, cfg.Janitor, logger)
		if err != nil {
			return err
		}
		cancelJanitor := jan.Start(ctx)
		defer cancelJanitor()
	}

	// Run the gateway until a signal or server error.
	errs := make(chan error, 1)
	go func() {
		errs <- gw.Start(ctx)
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	case err := <-errs:
		if err != nil {
			logger.Error("server exited with error", slog.String("error", err.Error()))
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return gw.Stop(shutdownCtx)
}

// apiKeysFromEnv parses KARAKANA_API_KEYS ("key:user,key2:user2") into
// the key → user mapping. Empty means the API runs unauthenticated.
func apiKeysFromEnv() map[string]string {
	raw := os.Getenv("KARAKANA_API_KEYS")
	if raw == "" {
		return nil
	}
	keys := make(map[string]string)
	for _, entry := range strings.Split(raw, ",") {
		parts := strings.SplitN(strings.TrimSpace(entry), ":", 2)
		if len(parts) == 2 {
			keys[parts[0]] = parts[1]
		}
	}
	return keys
}
