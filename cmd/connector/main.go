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

	"github.com/VGCH/alpha-private-speaker-connector/internal/bus"
	"github.com/VGCH/alpha-private-speaker-connector/internal/config"
	"github.com/VGCH/alpha-private-speaker-connector/internal/hass"
	"github.com/VGCH/alpha-private-speaker-connector/internal/metrics"
	"github.com/VGCH/alpha-private-speaker-connector/internal/registry"
	"github.com/VGCH/alpha-private-speaker-connector/internal/server"
	"github.com/VGCH/alpha-private-speaker-connector/internal/store"
)

const (
	defaultConfigPath = "configs/config.yaml"
	serviceName       = "alpha-private-speaker-connector"
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

	// Initialize logger based on configuration
	logger := initLogger(cfg.Logging)

	logger.Info("Service starting",
		slog.String("service", serviceName),
		slog.String("version", server.ServerVersion),
		slog.String("config_path", *configPath),
	)

	logger.Info("Configuration loaded",
		slog.Int("grpc_port", cfg.Server.GRPCPort),
		slog.String("bind_address", cfg.Server.BindAddress),
		slog.Int("max_speakers", cfg.Server.MaxSpeakers),
		slog.Int("inactivity_timeout", cfg.Registry.InactivityTimeout),
		slog.Int("tts_response_timeout", cfg.TTS.ResponseTimeout),
		slog.Bool("hass_connected", cfg.Hass.BaseURL != ""),
		slog.String("log_level", cfg.Logging.Level),
	)

	// Initialize Prometheus metrics
	appMetrics := metrics.NewMetrics()

	// Durable checkpoint store for the speaker registry
	checkpoints, err := store.NewFileStore(cfg.Registry.StorageDir, cfg.Registry.InstanceID)
	if err != nil {
		logger.Error("Failed to create checkpoint store", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// Home Assistant connection (optional; standalone without it)
	var host *hass.Host
	var hassClient *hass.Client
	var events bus.Bus = bus.NewLogBus(cfg.Events.Prefix, logger)
	if cfg.Hass.BaseURL != "" {
		hassClient, err = hass.NewClient(hass.Config{
			BaseURL:       cfg.Hass.BaseURL,
			Token:         cfg.Hass.Token,
			Timeout:       cfg.Hass.GetTimeout(),
			MaxRetries:    cfg.Hass.MaxRetries,
			MaxConcurrent: cfg.Hass.MaxConcurrent,
		})
		if err != nil {
			logger.Error("Failed to create Home Assistant client", slog.String("error", err.Error()))
			os.Exit(1)
		}

		var socket *hass.EventSocket
		if cfg.Hass.WebsocketEnabled {
			socket = hass.NewEventSocket(hass.Config{
				BaseURL: cfg.Hass.BaseURL,
				Token:   cfg.Hass.Token,
			}, logger)
		}
		host = hass.NewHost(hassClient, socket)
		events = hass.NewEventBus(hassClient, cfg.Events.Prefix, logger)
		logger.Info("Home Assistant connection initialized",
			slog.String("base_url", cfg.Hass.BaseURL),
			slog.Bool("websocket", cfg.Hass.WebsocketEnabled),
		)
	} else {
		logger.Info("Running standalone, events go to the log bus")
	}

	// Speaker registry with persistence and eviction
	reg := registry.New(logger, checkpoints, events, registry.Config{
		InactivityTimeout:  cfg.Registry.GetInactivityTimeout(),
		ReaperInterval:     cfg.Registry.GetReaperInterval(),
		ActiveThreshold:    cfg.Registry.GetActiveThreshold(),
		CheckpointInterval: cfg.Registry.GetCheckpointInterval(),
		OnEvict:            appMetrics.RecordEvictions,
	})
	reg.Start()
	logger.Info("Speaker registry initialized", slog.Int("restored_speakers", reg.Count()))

	// RPC service and gRPC server
	var stateHost hass.StateHost
	if host != nil {
		stateHost = host
	}
	service := server.NewService(logger, cfg, reg, stateHost, events, appMetrics)
	grpcServer := server.NewGRPCServer(cfg, logger, service)

	// HTTP API server (if enabled)
	var httpServer *server.HTTPServer
	if cfg.HTTP.Enabled {
		httpServer = server.NewHTTPServer(cfg, logger, service, reg, hassClient, appMetrics)
	}

	// Start everything
	if host != nil {
		host.Start()
	}
	if err := grpcServer.Start(); err != nil {
		logger.Error("Failed to start gRPC server", slog.String("error", err.Error()))
		os.Exit(1)
	}
	if httpServer != nil {
		if err := httpServer.Start(); err != nil {
			logger.Error("Failed to start HTTP server", slog.String("error", err.Error()))
			os.Exit(1)
		}
	}

	events.Emit("connector_started", map[string]any{
		"version":   server.ServerVersion,
		"grpc_port": cfg.Server.GRPCPort,
		"timestamp": time.Now().Unix(),
	})

	// Setup signal handling for graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	logger.Info("Service started successfully, waiting for signals...",
		slog.String("grpc_address", fmt.Sprintf("%s:%d", cfg.Server.BindAddress, cfg.Server.GRPCPort)),
	)

	sig := <-sigChan
	logger.Info("Received shutdown signal", slog.String("signal", sig.String()))

	logger.Info("Starting graceful shutdown...")

	events.Emit("connector_stopped", map[string]any{
		"timestamp": time.Now().Unix(),
	})

	// Stop HTTP server first (stop accepting new requests)
	if httpServer != nil {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		if err := httpServer.Stop(shutdownCtx); err != nil {
			logger.Error("Error stopping HTTP server", slog.String("error", err.Error()))
		}
		shutdownCancel()
	}

	// Stop the gRPC server and its stream loops
	grpcServer.Stop(15 * time.Second)

	// Stop the websocket listener
	if host != nil {
		host.Stop()
	}
	if hassClient != nil {
		if err := hassClient.Close(); err != nil {
			logger.Warn("Error closing Home Assistant client", slog.String("error", err.Error()))
		}
	}

	// Stop the registry last so the final checkpoint reflects everything
	reg.Stop()

	stats := reg.Stats()
	logger.Info("Final registry statistics",
		slog.Int("total_speakers", stats.Total),
		slog.Int("active_speakers", stats.Active),
	)

	logger.Info("Service stopped")
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
