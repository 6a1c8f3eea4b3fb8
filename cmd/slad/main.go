package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/sharedline/slad/internal/api"
	"github.com/sharedline/slad/internal/ari"
	"github.com/sharedline/slad/internal/cdr"
	"github.com/sharedline/slad/internal/config"
	"github.com/sharedline/slad/internal/devicestate"
	"github.com/sharedline/slad/internal/metrics"
	"github.com/sharedline/slad/internal/sla"
)

func main() {
	// Load .env for local development; a missing file is fine.
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	// Configure structured logging.
	logger := slog.New(cfg.SlogHandler(os.Stdout))
	slog.SetDefault(logger)

	slog.Info("starting slad",
		"http_port", cfg.HTTPPort,
		"ari_url", cfg.ARIURL,
		"application", cfg.ARIApplication,
		"extensions_file", cfg.ExtensionsFile,
	)

	// Shared extension configuration, loaded once.
	extensions, err := config.LoadExtensions(cfg.ExtensionsFile)
	if err != nil {
		slog.Error("failed to load extensions", "error", err)
		os.Exit(1)
	}
	slog.Info("extensions loaded", "count", len(extensions.Names()))

	// Open the call record database and run migrations.
	db, err := cdr.Open(cfg.DataDir)
	if err != nil {
		slog.Error("failed to open database", "error", err)
		os.Exit(1)
	}
	defer db.Close()
	records := cdr.NewRepository(db)

	// Application context for background goroutines.
	appCtx, appCancel := context.WithCancel(context.Background())
	defer appCancel()

	// Connect to Asterisk.
	client, err := ari.Connect(appCtx, ari.Options{
		Application:  cfg.ARIApplication,
		Username:     cfg.ARIUsername,
		Password:     cfg.ARIPassword,
		URL:          cfg.ARIURL,
		WebsocketURL: cfg.ARIWebsocket,
		EndpointTech: cfg.EndpointTech,
	}, logger)
	if err != nil {
		slog.Error("failed to connect to ari", "error", err)
		os.Exit(1)
	}
	defer client.Close()

	// Device-state store: ARI is authoritative; Redis mirrors for other
	// consumers when configured.
	stores := []devicestate.Store{client.DeviceStates()}
	if cfg.RedisAddr != "" {
		mirror, err := devicestate.NewRedisStore(cfg.RedisAddr)
		if err != nil {
			slog.Error("failed to connect to redis", "addr", cfg.RedisAddr, "error", err)
			os.Exit(1)
		}
		defer mirror.Close()
		stores = append(stores, mirror)
		slog.Info("device state mirror enabled", "addr", cfg.RedisAddr)
	}
	devices := devicestate.NewMulti(logger, stores...)

	// Session registry and Stasis dispatcher.
	registry := sla.NewRegistry(extensions, sla.Deps{
		Platform: client,
		Devices:  devices,
		Recorder: cdr.NewRecorder(records, logger),
		Logger:   logger,
	})
	app := ari.NewApp(client, registry, logger)

	appErrCh := make(chan error, 1)
	go func() {
		if err := app.Listen(appCtx); err != nil && appCtx.Err() == nil {
			appErrCh <- err
		}
	}()

	// Prometheus metrics.
	promRegistry := prometheus.NewRegistry()
	promRegistry.MustRegister(metrics.NewCollector(registry, records, time.Now()))

	// HTTP admin server.
	handler := api.NewServer(extensions, devices, registry, records, promRegistry)
	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.HTTPPort),
		Handler:      handler,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	httpErrCh := make(chan error, 1)
	go func() {
		slog.Info("http server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			httpErrCh <- err
		}
	}()

	// Wait for interrupt or a fatal subsystem error.
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-quit:
		slog.Info("shutting down", "signal", sig.String())
	case err := <-appErrCh:
		slog.Error("stasis event loop failed", "error", err)
	case err := <-httpErrCh:
		slog.Error("http server failed", "error", err)
	}

	appCancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("http server shutdown failed", "error", err)
	}

	slog.Info("slad stopped")
}
