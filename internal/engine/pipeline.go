package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/miradorstack/river-quality/internal/features"
	"github.com/miradorstack/river-quality/internal/models"
	"github.com/miradorstack/river-quality/internal/predictor"
)

// ErrRiverNotFound is returned when the requested river is not in the catalog.
var ErrRiverNotFound = errors.New("river not found")

// Catalog defines the catalog lookups required by the pipeline.
type Catalog interface {
	Get(name string) (models.WaterSample, bool)
	List() []models.RiverOption
}

// ModelAdapter describes the model pass the pipeline delegates to.
type ModelAdapter interface {
	Predict(ctx context.Context, vec features.Vector) (predictor.Outcome, error)
}

// Pipeline orchestrates lookup, feature derivation and model inference for one river.
// Every dependency is read-only, so a Pipeline is safe for concurrent use.
type Pipeline struct {
	logger   *slog.Logger
	catalog  Catalog
	engineer *features.Engineer
	models   ModelAdapter
}

// NewPipeline constructs a new prediction pipeline.
func NewPipeline(logger *slog.Logger, catalog Catalog, engineer *features.Engineer, models ModelAdapter) *Pipeline {
	if logger == nil {
		logger = slog.Default()
	}
	if engineer == nil {
		engineer = features.NewEngineer()
	}
	return &Pipeline{
		logger:   logger,
		catalog:  catalog,
		engineer: engineer,
		models:   models,
	}
}

// Predict computes the quality score and potability verdict for the named river.
// Unknown names fail with ErrRiverNotFound before any model is consulted.
func (p *Pipeline) Predict(ctx context.Context, riverName string) (models.PredictionResult, error) {
	if p.catalog == nil {
		return models.PredictionResult{}, fmt.Errorf("catalog not configured")
	}
	if p.models == nil {
		return models.PredictionResult{}, fmt.Errorf("models not configured")
	}

	sample, ok := p.catalog.Get(riverName)
	if !ok {
		return models.PredictionResult{}, fmt.Errorf("%w: %q", ErrRiverNotFound, riverName)
	}

	vec, err := p.engineer.Build(sample)
	if err != nil {
		return models.PredictionResult{}, fmt.Errorf("derive features: %w", err)
	}

	outcome, err := p.models.Predict(ctx, vec)
	if err != nil {
		return models.PredictionResult{}, fmt.Errorf("run models: %w", err)
	}

	result := models.PredictionResult{
		RiverName:             sample.Name,
		Station:               sample.Station,
		InputParameters:       sample.Inputs(),
		QualityScore:          outcome.QualityScore,
		PotabilityProbability: outcome.Probability,
		PotabilityLabel:       models.PotabilityLabel(outcome.Class),
	}

	p.logger.Debug("prediction computed",
		slog.String("river", sample.Name),
		slog.Float64("quality_score", result.QualityScore),
		slog.Float64("potability_probability", result.PotabilityProbability),
		slog.String("label", result.PotabilityLabel),
	)
	return result, nil
}

// Rivers lists the catalog in load order.
func (p *Pipeline) Rivers() []models.RiverOption {
	if p.catalog == nil {
		return []models.RiverOption{}
	}
	return p.catalog.List()
}
