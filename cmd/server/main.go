// The server binary runs the caching platform: it loads configuration,
// boots the orchestrator, verifies backend health, and serves the HTTP
// command surface until interrupted.
//
// Exit codes: 0 clean shutdown, 1 initialization failure, 2 boot
// health-check failure.
package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/S-Corkum/caching-platform/internal/api"
	"github.com/S-Corkum/caching-platform/internal/config"
	"github.com/S-Corkum/caching-platform/internal/core"
	"github.com/S-Corkum/caching-platform/internal/platform"
	"github.com/S-Corkum/caching-platform/pkg/observability"
)

const shutdownTimeout = 30 * time.Second

func main() {
	os.Exit(run())
}

func run() int {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	cfg, err := config.Load()
	if err != nil {
		log.Printf("failed to load configuration: %v", err)
		return 1
	}

	logger := observability.NewStandardLoggerWithLevel("server", cfg.LogLevel)

	var metricsClient observability.MetricsClient
	if cfg.Metrics.Enabled {
		metricsClient = observability.NewPrometheusMetricsClient(cfg.Metrics.Namespace, "platform", map[string]string{
			"environment": cfg.Environment,
		})
	} else {
		metricsClient = observability.NewNoopMetricsClient()
	}
	defer func() { _ = metricsClient.Close() }()

	orch, err := core.New(ctx, cfg, platform.RealClock{}, logger, metricsClient)
	if err != nil {
		logger.Error("failed to construct platform", map[string]interface{}{"error": err.Error()})
		return 1
	}

	if err := orch.Initialize(ctx); err != nil {
		logger.Error("failed to initialize platform", map[string]interface{}{"error": err.Error()})
		return 1
	}

	if err := orch.CheckReadiness(ctx); err != nil {
		logger.Error("boot health check failed", map[string]interface{}{"error": err.Error()})
		return 2
	}

	if err := orch.Start(ctx); err != nil {
		logger.Error("failed to start platform", map[string]interface{}{"error": err.Error()})
		return 1
	}

	var server *api.Server
	serverErr := make(chan error, 1)
	if cfg.API.Enabled {
		server = api.NewServer(orch, cfg, logger.WithPrefix("api"), metricsClient)
		go func() { serverErr <- server.Start() }()
	}

	logger.Info("platform running", map[string]interface{}{
		"platform":    cfg.PlatformName,
		"environment": cfg.Environment,
		"api_enabled": cfg.API.Enabled,
	})

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	exitCode := 0
	select {
	case sig := <-sigChan:
		logger.Info("received shutdown signal", map[string]interface{}{"signal": sig.String()})
	case err := <-serverErr:
		if err != nil {
			logger.Error("api server failed", map[string]interface{}{"error": err.Error()})
			exitCode = 1
		}
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()

	if server != nil {
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Error("api server shutdown error", map[string]interface{}{"error": err.Error()})
		}
	}
	if err := orch.Shutdown(shutdownCtx); err != nil {
		logger.Error("platform shutdown error", map[string]interface{}{"error": err.Error()})
		exitCode = 1
	}

	logger.Info("platform stopped", nil)
	return exitCode
}
