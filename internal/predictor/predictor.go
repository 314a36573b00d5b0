// Package predictor adapts externally trained preprocessing, regression and classification
// models to the feature vectors produced by the features package.
package predictor

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"

	"github.com/miradorstack/river-quality/internal/features"
)

var (
	// ErrFeatureMismatch is returned when a preprocessor was fit on a different feature order.
	ErrFeatureMismatch = errors.New("preprocessor features mismatch")
	// ErrNonFinite is returned when a model receives or produces NaN or infinite values.
	ErrNonFinite = errors.New("non-finite value")
	// ErrDimension is returned when a vector length does not match the model.
	ErrDimension = errors.New("dimension mismatch")
)

// Transformer normalises raw feature vectors into the space the trained models expect.
type Transformer interface {
	Transform(ctx context.Context, row []float64) ([]float64, error)
}

// FeatureNamer is implemented by transformers that may know the feature order they were fit with.
// A nil result means the order is unknown.
type FeatureNamer interface {
	FeatureNamesIn() []string
}

// Regressor predicts a continuous quality score.
type Regressor interface {
	Predict(ctx context.Context, row []float64) (float64, error)
}

// Classifier predicts potability.
type Classifier interface {
	Predict(ctx context.Context, row []float64) (int, error)
	PredictProbability(ctx context.Context, row []float64) (float64, error)
}

// Outcome is the raw output of one pass through the three models.
type Outcome struct {
	QualityScore float64
	Probability  float64
	Class        int
}

// Adapter runs feature vectors through the preprocessor, regressor and classifier.
// It holds no mutable state and is safe for concurrent use.
type Adapter struct {
	preprocessor Transformer
	regressor    Regressor
	classifier   Classifier
}

// NewAdapter wires the three models together. When the preprocessor exposes the feature
// names it was fit with, they must match the engineered feature order exactly.
func NewAdapter(preprocessor Transformer, regressor Regressor, classifier Classifier) (*Adapter, error) {
	if preprocessor == nil || regressor == nil || classifier == nil {
		return nil, fmt.Errorf("preprocessor, regressor and classifier are all required")
	}
	if namer, ok := preprocessor.(FeatureNamer); ok {
		if trained := namer.FeatureNamesIn(); trained != nil {
			if err := CheckFeatureOrder(trained); err != nil {
				return nil, err
			}
		}
	}
	return &Adapter{preprocessor: preprocessor, regressor: regressor, classifier: classifier}, nil
}

// CheckFeatureOrder compares trained feature names against the engineered order.
func CheckFeatureOrder(trained []string) error {
	expected := features.Names()
	if len(trained) == len(expected) {
		same := true
		for i := range expected {
			if trained[i] != expected[i] {
				same = false
				break
			}
		}
		if same {
			return nil
		}
	}
	return fmt.Errorf("%w\nExpected: [%s]\nGot:      [%s]",
		ErrFeatureMismatch, strings.Join(expected, ", "), strings.Join(trained, ", "))
}

// Predict transforms the vector once and feeds the prepared row to both models.
func (a *Adapter) Predict(ctx context.Context, vec features.Vector) (Outcome, error) {
	prepared, err := a.preprocessor.Transform(ctx, vec.Slice())
	if err != nil {
		return Outcome{}, fmt.Errorf("preprocess: %w", err)
	}

	score, err := a.regressor.Predict(ctx, prepared)
	if err != nil {
		return Outcome{}, fmt.Errorf("regress: %w", err)
	}
	proba, err := a.classifier.PredictProbability(ctx, prepared)
	if err != nil {
		return Outcome{}, fmt.Errorf("classify probability: %w", err)
	}
	if math.IsNaN(proba) || proba < 0 || proba > 1 {
		return Outcome{}, fmt.Errorf("classify probability: %v outside [0,1]", proba)
	}
	class, err := a.classifier.Predict(ctx, prepared)
	if err != nil {
		return Outcome{}, fmt.Errorf("classify: %w", err)
	}

	return Outcome{QualityScore: score, Probability: proba, Class: class}, nil
}

func requireFinite(row []float64) error {
	for i, v := range row {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return fmt.Errorf("%w at column %d", ErrNonFinite, i)
		}
	}
	return nil
}

func requireDim(row []float64, want int) error {
	if len(row) != want {
		return fmt.Errorf("%w: got %d columns, want %d", ErrDimension, len(row), want)
	}
	return nil
}

func sigmoid(z float64) float64 {
	return 1 / (1 + math.Exp(-z))
}
