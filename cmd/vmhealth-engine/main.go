package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/vigilstack/vigil-vmhealth/internal/api"
	"github.com/vigilstack/vigil-vmhealth/internal/cache"
	"github.com/vigilstack/vigil-vmhealth/internal/config"
	"github.com/vigilstack/vigil-vmhealth/internal/engine"
	"github.com/vigilstack/vigil-vmhealth/internal/metrics"
	"github.com/vigilstack/vigil-vmhealth/internal/repo"
	"github.com/vigilstack/vigil-vmhealth/internal/rules"
	"github.com/vigilstack/vigil-vmhealth/internal/services"
	"github.com/vigilstack/vigil-vmhealth/internal/utils"
	memcache "github.com/vigilstack/vigil-vmhealth/pkg/cache"
)

func main() {
	var configPath string
	flag.StringVar(&configPath, "config", "", "Path to configuration file")
	flag.Parse()

	cfg, err := config.Load(configPath)
	if err != nil {
		slog.Error("failed to load config", slog.String("path", configPath), slog.Any("error", err))
		os.Exit(1)
	}

	logger := utils.NewRotatingLogger(cfg.Logging.Level, cfg.Logging.JSON, utils.LogFileConfig{
		Path:       cfg.Logging.File,
		MaxSizeMB:  cfg.Logging.MaxSizeMB,
		MaxBackups: cfg.Logging.MaxBackups,
		MaxAgeDays: cfg.Logging.MaxAgeDays,
		Compress:   cfg.Logging.Compress,
	})
	logger.Info("starting vigil-vmhealth", slog.String("address", cfg.Server.Address))

	if err := metrics.Register(prometheus.DefaultRegisterer); err != nil {
		logger.Error("failed to register metrics", slog.Any("error", err))
		os.Exit(1)
	}

	var cacheProvider cache.Provider = cache.NoopProvider{}
	if cfg.Cache.Enabled {
		// No addr means cache in process; a dial failure falls back the
		// same way so a flapping Valkey cannot block startup.
		cacheProvider = memcache.NewMemory()
		if cfg.Cache.Addr != "" {
			provider, err := cache.NewValkeyProvider(cache.ValkeyConfig{
				Addr:         cfg.Cache.Addr,
				Username:     cfg.Cache.Username,
				Password:     cfg.Cache.Password,
				DB:           cfg.Cache.DB,
				DialTimeout:  cfg.Cache.DialTimeout,
				ReadTimeout:  cfg.Cache.ReadTimeout,
				WriteTimeout: cfg.Cache.WriteTimeout,
				MaxRetries:   cfg.Cache.MaxRetries,
				TLS:          cfg.Cache.TLS,
			})
			if err != nil {
				logger.Warn("valkey cache unavailable, using in-process cache", slog.Any("error", err))
			} else {
				cacheProvider = provider
			}
		}
	}
	defer cacheProvider.Close()

	storeClient := repo.NewVigilCoreClient(
		cfg.Clients.Core.BaseURL,
		cfg.Clients.Core.SeriesPath,
		cfg.Clients.Core.EntitiesPath,
		cfg.Clients.Core.Timeout,
		cacheProvider,
		cfg.Cache.SeriesTTL,
		cfg.Clients.Core.MaxAttempts,
	)

	catalogue, err := rules.Load(cfg.Rules.Path, logger)
	if err != nil {
		logger.Error("failed to load rule pack", slog.Any("error", err))
		os.Exit(1)
	}

	analyzer := engine.NewGapAnalyzer(cfg.Analysis.ToleranceFactor)
	classifier := engine.NewStatusClassifier(logger)

	healthService := services.NewHealthService(logger, storeClient, analyzer, classifier, catalogue, services.Options{
		ExpectedIntervalMinutes: cfg.Analysis.ExpectedIntervalMinutes,
		NetworkCapacityMbps:     cfg.Analysis.NetworkCapacityMbps,
		HistoryLimit:            cfg.Analysis.HistoryLimit,
		FleetConcurrency:        cfg.Analysis.FleetConcurrency,
	})

	handler := api.NewHandler(healthService, logger)
	server := api.NewServer(cfg.Server, api.NewRouter(handler))

	var probe *api.ProbeServer
	if cfg.Server.ProbeAddress != "" {
		probe, err = api.NewProbeServer(cfg.Server.ProbeAddress)
		if err != nil {
			logger.Error("failed to create probe server", slog.Any("error", err))
			os.Exit(1)
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if cfg.Rules.Watch {
		watcher, err := rules.NewWatcher(cfg.Rules.Path, catalogue, logger)
		if err != nil {
			logger.Warn("rule pack watch disabled", slog.Any("error", err))
		} else {
			go func() {
				if err := watcher.Run(ctx); err != nil {
					logger.Warn("rule pack watcher exited", slog.Any("error", err))
				}
			}()
		}
	}

	var metricsServer *http.Server
	if cfg.Server.MetricsAddress != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		metricsServer = &http.Server{
			Addr:         cfg.Server.MetricsAddress,
			Handler:      mux,
			ReadTimeout:  5 * time.Second,
			WriteTimeout: 15 * time.Second,
		}
		go func() {
			logger.Info("metrics server listening", slog.String("address", cfg.Server.MetricsAddress))
			if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("metrics server exited", slog.Any("error", err))
				stop()
			}
		}()
	}

	if probe != nil {
		go func() {
			logger.Info("probe server listening", slog.String("address", probe.Address()))
			if serveErr := probe.Start(); serveErr != nil {
				logger.Error("probe server exited", slog.Any("error", serveErr))
				stop()
			}
		}()
	}

	go func() {
		logger.Info("http server listening", slog.String("address", server.Address()))
		if serveErr := server.Start(); serveErr != nil && !errors.Is(serveErr, http.ErrServerClosed) {
			logger.Error("http server exited", slog.Any("error", serveErr))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.GracefulTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http server shutdown", slog.Any("error", err))
	}
	if probe != nil {
		probe.Shutdown(shutdownCtx)
	}

	if metricsServer != nil {
		metricsCtx, cancelMetrics := context.WithTimeout(context.Background(), 5*time.Second)
		if err := metricsServer.Shutdown(metricsCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Warn("metrics server shutdown", slog.Any("error", err))
		}
		cancelMetrics()
	}

	// Give remaining goroutines time to finish logging
	time.Sleep(100 * time.Millisecond)
	logger.Info("vigil-vmhealth stopped")
}
