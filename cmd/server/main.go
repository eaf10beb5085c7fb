package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/chillingspace/CSD2161-A4/internal/config"
	"github.com/chillingspace/CSD2161-A4/internal/highscore"
	"github.com/chillingspace/CSD2161-A4/internal/metrics"
	"github.com/chillingspace/CSD2161-A4/internal/server"
)

const (
	defaultConfigPath = "configs/config.yaml"
	serviceName       = "asteroids-arena"
	serviceVersion    = "1.0.0"
)

func main() {
	// Parse command line flags
	configPath := flag.String("config", defaultConfigPath, "Path to configuration file")
	flag.Parse()

	// Load configuration
	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	logger := initLogger(cfg.Logging)

	logger.Info("Service starting",
		slog.String("service", serviceName),
		slog.String("version", serviceVersion),
		slog.String("config_path", *configPath),
	)

	logger.Info("Configuration loaded",
		slog.Int("udp_port", cfg.Server.UDPPort),
		slog.String("bind_address", cfg.Server.BindAddress),
		slog.Int("max_players", cfg.Server.MaxPlayers),
		slog.Int("tick_rate", cfg.Game.TickRate),
		slog.Duration("match_duration", cfg.Game.GetMatchDuration()),
		slog.Duration("keepalive_timeout", cfg.Network.GetKeepAliveTimeout()),
		slog.Duration("disconnect_timeout", cfg.Network.GetDisconnectTimeout()),
		slog.String("highscore_backend", cfg.Highscore.Backend),
		slog.String("highscore_path", cfg.Highscore.Path),
		slog.String("log_level", cfg.Logging.Level),
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	if err := run(ctx, cfg, logger, prometheus.DefaultRegisterer, prometheus.DefaultGatherer); err != nil {
		logger.Error("Service failed", slog.String("error", err.Error()))
		stop()
		os.Exit(1)
	}
	stop()

	logger.Info("Service stopped")
}

// run starts the arena and blocks until ctx is cancelled. Every resource it
// opens is released before it returns, including on startup failures.
func run(ctx context.Context, cfg *config.Config, logger *slog.Logger, reg prometheus.Registerer, gatherer prometheus.Gatherer) error {
	appMetrics := metrics.NewMetrics(reg)
	logger.Info("Prometheus metrics initialized")

	scores, err := highscore.Open(cfg.Highscore.Backend, cfg.Highscore.Path, cfg.Highscore.Limit)
	if err != nil {
		return fmt.Errorf("failed to open highscore store: %w", err)
	}
	defer func() {
		if err := scores.Close(); err != nil {
			logger.Error("Error closing highscore store", slog.String("error", err.Error()))
		}
	}()

	arena := server.NewServer(cfg, logger, appMetrics, scores)

	var httpServer *server.HTTPServer
	if cfg.HTTP.Enabled {
		httpServer = server.NewHTTPServer(cfg, logger, arena, appMetrics, gatherer)
	}

	if err := arena.Start(ctx); err != nil {
		return fmt.Errorf("failed to start UDP server: %w", err)
	}

	if httpServer != nil {
		if err := httpServer.Start(); err != nil {
			arena.Stop()
			return fmt.Errorf("failed to start HTTP server: %w", err)
		}
	}

	logger.Info("Service started successfully, waiting for signals...",
		slog.String("udp_address", arena.Addr().String()),
	)

	<-ctx.Done()
	logger.Info("Received shutdown signal")
	logger.Info("Starting graceful shutdown...")

	// Stop HTTP server first so spectators and scrapes stop before the arena
	if httpServer != nil {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()

		if err := httpServer.Stop(shutdownCtx); err != nil {
			logger.Error("Error stopping HTTP server", slog.String("error", err.Error()))
		}
	}

	if err := arena.Stop(); err != nil {
		logger.Error("Error stopping UDP server", slog.String("error", err.Error()))
	}

	stats := arena.Statistics()
	logger.Info("Final server statistics",
		slog.Uint64("packets_received", stats.PacketsReceived),
		slog.Uint64("packets_processed", stats.PacketsProcessed),
		slog.Uint64("parse_errors", stats.ParseErrors),
		slog.Int("active_sessions", stats.ActiveSessions),
	)

	return nil
}

// initLogger creates and configures the structured logger based on configuration
func initLogger(cfg config.LoggingConfig) *slog.Logger {
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{
		Level:     level,
		AddSource: level == slog.LevelDebug,
	}

	var output *os.File
	switch cfg.Output {
	case "stderr":
		output = os.Stderr
	case "stdout", "":
		output = os.Stdout
	default:
		// Assume it's a file path
		file, err := os.OpenFile(cfg.Output, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to open log file %s: %v, falling back to stdout\n", cfg.Output, err)
			output = os.Stdout
		} else {
			output = file
		}
	}

	var handler slog.Handler
	switch cfg.Format {
	case "json":
		handler = slog.NewJSONHandler(output, opts)
	default:
		handler = slog.NewTextHandler(output, opts)
	}

	return slog.New(handler)
}
