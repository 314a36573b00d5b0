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

	"github.com/miradorstack/river-quality/internal/api"
	"github.com/miradorstack/river-quality/internal/catalog"
	"github.com/miradorstack/river-quality/internal/config"
	"github.com/miradorstack/river-quality/internal/engine"
	"github.com/miradorstack/river-quality/internal/features"
	"github.com/miradorstack/river-quality/internal/metrics"
	"github.com/miradorstack/river-quality/internal/predictor"
	"github.com/miradorstack/river-quality/internal/services"
	"github.com/miradorstack/river-quality/internal/utils"
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

	logger := utils.NewLogger(cfg.Logging.Level, cfg.Logging.JSON)
	logger.Info("starting river-quality", slog.String("address", cfg.Server.Address), slog.String("models", cfg.Models.Backend))

	if err := metrics.Register(prometheus.DefaultRegisterer); err != nil {
		logger.Error("failed to register metrics", slog.Any("error", err))
		os.Exit(1)
	}

	rivers, err := catalog.Load(cfg.Catalog.Path)
	if err != nil {
		logger.Error("failed to load catalog", slog.String("path", cfg.Catalog.Path), slog.Any("error", err))
		os.Exit(1)
	}
	metrics.SetCatalogSize(rivers.Len())
	logger.Info("catalog loaded", slog.String("path", cfg.Catalog.Path), slog.Int("rivers", rivers.Len()))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	adapter, err := loadModels(ctx, cfg.Models)
	if err != nil {
		logger.Error("failed to load models", slog.String("op", utils.OpOf(err)), slog.Any("error", err))
		os.Exit(1)
	}
	logger.Info("models loaded", slog.String("backend", cfg.Models.Backend))

	pipeline := engine.NewPipeline(logger, rivers, features.NewEngineer(), adapter)
	predictionService := services.NewPredictionService(logger, pipeline)
	handler := api.NewHandler(logger, predictionService, cfg.HTTP.IndexPath)

	server, err := api.NewServer(cfg.Server, api.NewRouter(logger, handler, cfg.HTTP))
	if err != nil {
		logger.Error("failed to create HTTP server", slog.Any("error", err))
		os.Exit(1)
	}

	var healthServer *api.HealthServer
	if cfg.Server.GRPCAddress != "" {
		healthServer, err = api.NewHealthServer(cfg.Server.GRPCAddress)
		if err != nil {
			logger.Error("failed to create gRPC health server", slog.Any("error", err))
			os.Exit(1)
		}
		go func() {
			logger.Info("gRPC health server listening", slog.String("address", healthServer.Address()))
			if serveErr := healthServer.Start(); serveErr != nil {
				logger.Error("gRPC health server exited", slog.Any("error", serveErr))
				stop()
			}
		}()
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

	go func() {
		logger.Info("HTTP server listening", slog.String("address", server.Address()))
		if serveErr := server.Start(); serveErr != nil {
			logger.Error("HTTP server exited", slog.Any("error", serveErr))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), server.GracefulTimeout())
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Warn("HTTP server shutdown", slog.Any("error", err))
	}
	if healthServer != nil {
		healthServer.Shutdown(shutdownCtx)
	}

	if metricsServer != nil {
		metricsCtx, cancelMetrics := context.WithTimeout(context.Background(), 5*time.Second)
		if err := metricsServer.Shutdown(metricsCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Warn("metrics server shutdown", slog.Any("error", err))
		}
		cancelMetrics()
	}

	logger.Info("river-quality stopped", slog.Duration("prediction_p95", predictionService.LatencyP95()))
}

// loadModels builds the model adapter for the configured backend. Both paths verify the
// preprocessor's feature order before returning.
func loadModels(ctx context.Context, cfg config.ModelsConfig) (*predictor.Adapter, error) {
	switch cfg.Backend {
	case config.BackendRemote:
		adapter, err := predictor.LoadRemote(ctx, predictor.RemoteConfig{
			BaseURL:         cfg.Remote.BaseURL,
			Timeout:         cfg.Remote.Timeout,
			BreakerRequests: cfg.Remote.Breaker.MaxRequests,
			BreakerInterval: cfg.Remote.Breaker.Interval,
			BreakerTimeout:  cfg.Remote.Breaker.Timeout,
			BreakerRatio:    cfg.Remote.Breaker.FailureRatio,
			BreakerMinCalls: cfg.Remote.Breaker.MinRequests,
		})
		if err != nil {
			return nil, utils.NewAppError("load remote models", cfg.Remote.BaseURL, err)
		}
		return adapter, nil
	default:
		adapter, err := predictor.LoadFiles(cfg.PreprocessorPath, cfg.RegressorPath, cfg.ClassifierPath)
		if err != nil {
			return nil, utils.NewAppError("load model artifacts", cfg.PreprocessorPath, err)
		}
		return adapter, nil
	}
}
