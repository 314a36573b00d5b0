package services

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/miradorstack/river-quality/internal/engine"
	"github.com/miradorstack/river-quality/internal/models"
	"github.com/miradorstack/river-quality/internal/utils"
)

type pipelineStub struct {
	result models.PredictionResult
	err    error
	calls  int
}

func (p *pipelineStub) Predict(ctx context.Context, riverName string) (models.PredictionResult, error) {
	p.calls++
	return p.result, p.err
}

func (p *pipelineStub) Rivers() []models.RiverOption {
	return []models.RiverOption{{Name: "RiverX"}}
}

func TestPredictSuccess(t *testing.T) {
	stub := &pipelineStub{result: models.PredictionResult{RiverName: "RiverX", QualityScore: 42}}
	service := NewPredictionService(nil, stub)

	for i := 0; i < 20; i++ {
		result, err := service.Predict(context.Background(), "RiverX")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if result.QualityScore != 42 {
			t.Fatalf("unexpected result %+v", result)
		}
	}
	if service.latencies.Count() != 20 {
		t.Fatalf("expected 20 latency samples, got %d", service.latencies.Count())
	}
}

func TestPredictNotFoundPassesThrough(t *testing.T) {
	stub := &pipelineStub{err: fmt.Errorf("%w: %q", engine.ErrRiverNotFound, "Nowhere")}
	service := NewPredictionService(nil, stub)

	_, err := service.Predict(context.Background(), "Nowhere")
	if !errors.Is(err, engine.ErrRiverNotFound) {
		t.Fatalf("expected ErrRiverNotFound, got %v", err)
	}
	var appErr *utils.AppError
	if errors.As(err, &appErr) {
		t.Fatalf("not-found should not be wrapped as an AppError")
	}
	if service.latencies.Count() != 0 {
		t.Fatalf("failed predictions should not feed the latency tracker")
	}
}

func TestPredictFailureIsTagged(t *testing.T) {
	boom := errors.New("model exploded")
	service := NewPredictionService(nil, &pipelineStub{err: boom})

	_, err := service.Predict(context.Background(), "RiverX")
	var appErr *utils.AppError
	if !errors.As(err, &appErr) || appErr.Op != "predict" {
		t.Fatalf("expected predict AppError, got %v", err)
	}
	if !errors.Is(err, boom) {
		t.Fatalf("expected underlying error to be preserved")
	}
}

func TestPredictWithoutPipeline(t *testing.T) {
	service := NewPredictionService(nil, nil)
	if _, err := service.Predict(context.Background(), "RiverX"); err == nil {
		t.Fatalf("expected error without pipeline")
	}
	if got := service.Rivers(); len(got) != 0 {
		t.Fatalf("expected empty rivers, got %v", got)
	}
}

func TestRiversDelegates(t *testing.T) {
	service := NewPredictionService(nil, &pipelineStub{})
	if got := service.Rivers(); len(got) != 1 || got[0].Name != "RiverX" {
		t.Fatalf("unexpected rivers %v", got)
	}
}
