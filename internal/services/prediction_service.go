package services

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/miradorstack/river-quality/internal/engine"
	"github.com/miradorstack/river-quality/internal/metrics"
	"github.com/miradorstack/river-quality/internal/models"
	"github.com/miradorstack/river-quality/internal/utils"
)

// Predictor is the orchestration surface the service fronts.
type Predictor interface {
	Predict(ctx context.Context, riverName string) (models.PredictionResult, error)
	Rivers() []models.RiverOption
}

// PredictionService records metrics and latency around the prediction pipeline.
type PredictionService struct {
	logger    *slog.Logger
	pipeline  Predictor
	latencies *utils.LatencyTracker
}

// NewPredictionService constructs the prediction service facade.
func NewPredictionService(logger *slog.Logger, pipeline Predictor) *PredictionService {
	if logger == nil {
		logger = slog.Default()
	}
	return &PredictionService{
		logger:    logger,
		pipeline:  pipeline,
		latencies: utils.NewLatencyTracker(1024),
	}
}

// Predict runs one prediction. Not-found errors pass through untouched so callers can map them;
// any other failure is tagged with the operation.
func (s *PredictionService) Predict(ctx context.Context, riverName string) (models.PredictionResult, error) {
	if s.pipeline == nil {
		return models.PredictionResult{}, utils.NewAppError("predict", "pipeline not configured", nil)
	}

	start := time.Now()
	result, err := s.pipeline.Predict(ctx, riverName)
	duration := time.Since(start)

	switch {
	case errors.Is(err, engine.ErrRiverNotFound):
		metrics.ObservePrediction(duration, metrics.OutcomeNotFound)
		s.logger.Debug("river not found", slog.String("river", riverName))
		return models.PredictionResult{}, err
	case err != nil:
		metrics.ObservePrediction(duration, metrics.OutcomeError)
		s.logger.Error("prediction failed", slog.String("river", riverName), slog.Any("error", err))
		return models.PredictionResult{}, utils.NewAppError("predict", "prediction failed", err)
	}

	s.latencies.Observe(duration)
	metrics.ObservePrediction(duration, metrics.OutcomeSuccess)
	if count := s.latencies.Count(); count >= 20 && count%20 == 0 {
		p95 := s.latencies.Percentile(95)
		s.logger.Info("prediction latency", slog.Duration("p95", p95), slog.Int("samples", count))
	}
	return result, nil
}

// Rivers lists the rivers that can be predicted.
func (s *PredictionService) Rivers() []models.RiverOption {
	if s.pipeline == nil {
		return []models.RiverOption{}
	}
	return s.pipeline.Rivers()
}

// LatencyP95 returns the current p95 prediction latency.
func (s *PredictionService) LatencyP95() time.Duration {
	if s.latencies == nil {
		return 0
	}
	return s.latencies.Percentile(95)
}
