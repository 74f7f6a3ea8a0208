package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/nugget/city-bridge/internal/api"
	"github.com/nugget/city-bridge/internal/buildinfo"
	"github.com/nugget/city-bridge/internal/connwatch"
	"github.com/nugget/city-bridge/internal/events"
	"github.com/nugget/city-bridge/internal/ledger"
	"github.com/nugget/city-bridge/internal/mqtt"
	"github.com/nugget/city-bridge/internal/toolkit"
)

// shutdownTimeout bounds the graceful stop of the HTTP server and the
// MQTT offline message.
const shutdownTimeout = 10 * time.Second

func runServe(ctx context.Context, stdout io.Writer, stderr io.Writer, configPath string) error {
	logger := newLogger(stdout, slog.LevelInfo, "text")
	logger.Info("starting CityBridge", "version", buildinfo.Version, "commit", buildinfo.GitCommit, "branch", buildinfo.GitBranch, "built", buildinfo.BuildTime)

	cfg, cfgPath, err := loadConfig(configPath)
	if err != nil {
		return err
	}

	// Everything after this point uses the configured level and format.
	logger = configLogger(stdout, cfg)
	logger.Info("config loaded",
		"path", cfgPath,
		"port", cfg.Listen.Port,
		"servers", len(cfg.Servers),
	)

	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return fmt.Errorf("create data directory %s: %w", cfg.DataDir, err)
	}

	// NotifyContext wraps the parent context so that SIGINT/SIGTERM
	// cancellation flows through the same ctx used by all components.
	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// --- Event bus ---
	// Fed by every toolkit call and health transition; read by the
	// websocket stream and the MQTT publisher.
	bus := events.New(0)
	observers := []toolkit.Observer{bus}

	// --- Invocation ledger ---
	var store *ledger.Store
	if cfg.Ledger.Enabled {
		store, err = ledger.NewStore(cfg.Ledger.Path, logger)
		if err != nil {
			return fmt.Errorf("open ledger %s: %w", cfg.Ledger.Path, err)
		}
		defer store.Close()
		observers = append(observers, store)
		logger.Info("invocation ledger opened", "path", cfg.Ledger.Path)
	} else {
		logger.Info("invocation ledger disabled")
	}

	// --- Toolkits ---
	// Typed toolkits register without starting their server; generic
	// ones list tools now, which spawns the process.
	fl, err := buildFleet(ctx, cfg, "", observers, logger)
	if err != nil {
		return err
	}
	defer fl.Close()
	logger.Info("tools registered", "count", len(fl.registry.Tools()), "toolkits", len(fl.kits))

	server := api.NewServer(cfg.Listen.Address, cfg.Listen.Port, fl.registry, logger)
	server.SetEventBus(bus)
	if store != nil {
		server.SetHistory(store)
	}

	// --- Health watching ---
	// Each server is pinged with backoff at startup and then polled.
	// Transitions go to the bus, and from there to MQTT availability.
	if cfg.Health.Enabled {
		watcher := connwatch.NewManager(logger)
		defer watcher.Stop()
		backoff := connwatch.BackoffConfig{PollInterval: cfg.Health.PollInterval}
		for _, kit := range fl.kits {
			watcher.WatchPinger(ctx, kit, backoff, bus.ServerHealth)
		}
		server.SetHealth(watcher)
		logger.Info("health watching enabled", "interval", cfg.Health.PollInterval)
	}

	// --- MQTT ---
	var pub *mqtt.Publisher
	if cfg.MQTT.Enabled {
		instanceID, err := mqtt.LoadOrCreateInstanceID(cfg.DataDir)
		if err != nil {
			return fmt.Errorf("mqtt instance id: %w", err)
		}
		pub = mqtt.New(cfg.MQTT, instanceID, fl.names(), logger)
		go func() {
			if err := pub.Run(ctx, bus); err != nil {
				logger.Error("mqtt publisher stopped", "error", err)
			}
		}()
		logger.Info("mqtt publishing enabled",
			"broker", cfg.MQTT.Broker,
			"device_name", cfg.MQTT.DeviceName,
			"instance_id", instanceID,
		)
	} else {
		logger.Info("mqtt publishing disabled")
	}

	bus.Publish(events.Event{
		Source: events.SourceProcess,
		Kind:   events.KindStarted,
		Data:   map[string]any{"version": buildinfo.Version, "servers": fl.names()},
	})

	go func() {
		<-ctx.Done()
		logger.Info("shutdown signal received")
		bus.Publish(events.Event{Source: events.SourceProcess, Kind: events.KindStopping})

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer shutdownCancel()

		// Publish MQTT offline status before disconnecting.
		if pub != nil {
			if err := pub.Stop(shutdownCtx); err != nil {
				logger.Error("mqtt shutdown failed", "error", err)
			}
		}
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Error("api shutdown failed", "error", err)
		}
	}()

	// Start blocks until the server is shut down.
	if err := server.Start(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		if ctx.Err() == nil {
			return fmt.Errorf("server failed: %w", err)
		}
	}

	logger.Info("CityBridge stopped")
	return nil
}
