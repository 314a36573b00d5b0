package predictor

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"math"
	"os"

	"github.com/goccy/go-json"

	"github.com/miradorstack/river-quality/internal/features"
)

// Artifact kinds.
const (
	KindLinear       = "linear"
	KindLogistic     = "logistic"
	KindTreeEnsemble = "tree_ensemble"

	StepImpute = "impute"
	StepScale  = "scale"
	StepClip   = "clip"
)

// Preprocessor is a file-backed transformer made of ordered column-wise steps.
type Preprocessor struct {
	FeatureNames []string           `json:"feature_names_in"`
	Width        int                `json:"n_features_in"`
	Steps        []PreprocessorStep `json:"steps"`
}

// PreprocessorStep is one column-wise operation of a Preprocessor.
type PreprocessorStep struct {
	Kind       string    `json:"kind"`
	Statistics []float64 `json:"statistics,omitempty"`
	Mean       []float64 `json:"mean,omitempty"`
	Scale      []float64 `json:"scale,omitempty"`
	Min        *float64  `json:"min,omitempty"`
	Max        *float64  `json:"max,omitempty"`
}

// FeatureNamesIn returns the names the preprocessor was fit with, or nil when unknown.
func (p *Preprocessor) FeatureNamesIn() []string {
	if p.FeatureNames == nil {
		return nil
	}
	return append([]string(nil), p.FeatureNames...)
}

// Transform applies each step in order. The result must be finite.
func (p *Preprocessor) Transform(_ context.Context, row []float64) ([]float64, error) {
	if err := requireDim(row, p.Width); err != nil {
		return nil, err
	}
	out := append([]float64(nil), row...)
	for _, step := range p.Steps {
		switch step.Kind {
		case StepImpute:
			for i, v := range out {
				if math.IsNaN(v) {
					out[i] = step.Statistics[i]
				}
			}
		case StepScale:
			for i := range out {
				out[i] = (out[i] - step.Mean[i]) / step.Scale[i]
			}
		case StepClip:
			for i := range out {
				if step.Min != nil && out[i] < *step.Min {
					out[i] = *step.Min
				}
				if step.Max != nil && out[i] > *step.Max {
					out[i] = *step.Max
				}
			}
		}
	}
	if err := requireFinite(out); err != nil {
		return nil, err
	}
	return out, nil
}

func (p *Preprocessor) validate() error {
	if p.Width == 0 {
		p.Width = len(p.FeatureNames)
	}
	if p.Width <= 0 {
		return fmt.Errorf("preprocessor declares neither feature_names_in nor n_features_in")
	}
	if p.FeatureNames != nil && len(p.FeatureNames) != p.Width {
		return fmt.Errorf("%w: %d feature names for %d features", ErrDimension, len(p.FeatureNames), p.Width)
	}
	for i, step := range p.Steps {
		switch step.Kind {
		case StepImpute:
			if len(step.Statistics) != p.Width {
				return fmt.Errorf("step %d (impute): %w", i, ErrDimension)
			}
		case StepScale:
			if len(step.Mean) != p.Width || len(step.Scale) != p.Width {
				return fmt.Errorf("step %d (scale): %w", i, ErrDimension)
			}
			for j, s := range step.Scale {
				if s == 0 {
					return fmt.Errorf("step %d (scale): zero scale at column %d", i, j)
				}
			}
		case StepClip:
			if step.Min != nil && step.Max != nil && *step.Min > *step.Max {
				return fmt.Errorf("step %d (clip): min greater than max", i)
			}
		default:
			return fmt.Errorf("step %d: unknown kind %q", i, step.Kind)
		}
	}
	return nil
}

// LinearRegressor scores rows with coef·x + intercept.
type LinearRegressor struct {
	Coef      []float64
	Intercept float64
}

// Predict implements Regressor.
func (r *LinearRegressor) Predict(_ context.Context, row []float64) (float64, error) {
	if err := checkRow(row, len(r.Coef)); err != nil {
		return 0, err
	}
	return dot(r.Coef, row) + r.Intercept, nil
}

// TreeRegressor scores rows with a tree ensemble.
type TreeRegressor struct {
	Ensemble *TreeEnsemble
}

// Predict implements Regressor.
func (r *TreeRegressor) Predict(_ context.Context, row []float64) (float64, error) {
	if err := checkRow(row, r.Ensemble.Width); err != nil {
		return 0, err
	}
	return r.Ensemble.Margin(row), nil
}

// LogisticClassifier is a binary logistic regression.
type LogisticClassifier struct {
	Coef      []float64
	Intercept float64
	Threshold float64
}

// PredictProbability implements Classifier.
func (c *LogisticClassifier) PredictProbability(_ context.Context, row []float64) (float64, error) {
	if err := checkRow(row, len(c.Coef)); err != nil {
		return 0, err
	}
	return sigmoid(dot(c.Coef, row) + c.Intercept), nil
}

// Predict implements Classifier.
func (c *LogisticClassifier) Predict(ctx context.Context, row []float64) (int, error) {
	p, err := c.PredictProbability(ctx, row)
	if err != nil {
		return 0, err
	}
	return classOf(p, c.Threshold), nil
}

// TreeClassifier is a binary tree ensemble. With the logistic link the ensemble margin is a
// log-odds score; with the identity link it is already a class-1 probability.
type TreeClassifier struct {
	Ensemble  *TreeEnsemble
	Link      string
	Threshold float64
}

// Link functions for TreeClassifier.
const (
	LinkLogistic = "logistic"
	LinkIdentity = "identity"
)

// PredictProbability implements Classifier.
func (c *TreeClassifier) PredictProbability(_ context.Context, row []float64) (float64, error) {
	if err := checkRow(row, c.Ensemble.Width); err != nil {
		return 0, err
	}
	margin := c.Ensemble.Margin(row)
	if c.Link == LinkIdentity {
		return margin, nil
	}
	return sigmoid(margin), nil
}

// Predict implements Classifier.
func (c *TreeClassifier) Predict(ctx context.Context, row []float64) (int, error) {
	p, err := c.PredictProbability(ctx, row)
	if err != nil {
		return 0, err
	}
	return classOf(p, c.Threshold), nil
}

type modelFile struct {
	Kind      string    `json:"kind"`
	Coef      []float64 `json:"coef"`
	Intercept float64   `json:"intercept"`
	Threshold *float64  `json:"threshold"`
	Link      string    `json:"link"`
	TreeEnsemble
}

// LoadPreprocessor reads a preprocessor artifact.
func LoadPreprocessor(path string) (*Preprocessor, error) {
	var p Preprocessor
	if err := readArtifact(path, &p); err != nil {
		return nil, err
	}
	if err := p.validate(); err != nil {
		return nil, fmt.Errorf("preprocessor %s: %w", path, err)
	}
	return &p, nil
}

// LoadRegressor reads a regressor artifact of kind linear or tree_ensemble.
func LoadRegressor(path string) (Regressor, error) {
	var m modelFile
	if err := readArtifact(path, &m); err != nil {
		return nil, err
	}
	switch m.Kind {
	case KindLinear:
		if len(m.Coef) == 0 {
			return nil, fmt.Errorf("regressor %s: empty coef", path)
		}
		return &LinearRegressor{Coef: m.Coef, Intercept: m.Intercept}, nil
	case KindTreeEnsemble:
		ensemble := m.TreeEnsemble
		if err := ensemble.validate(); err != nil {
			return nil, fmt.Errorf("regressor %s: %w", path, err)
		}
		return &TreeRegressor{Ensemble: &ensemble}, nil
	default:
		return nil, fmt.Errorf("regressor %s: unsupported kind %q", path, m.Kind)
	}
}

// LoadClassifier reads a classifier artifact of kind logistic or tree_ensemble.
func LoadClassifier(path string) (Classifier, error) {
	var m modelFile
	if err := readArtifact(path, &m); err != nil {
		return nil, err
	}
	threshold := 0.5
	if m.Threshold != nil {
		threshold = *m.Threshold
	}
	if threshold < 0 || threshold > 1 {
		return nil, fmt.Errorf("classifier %s: threshold %v outside [0,1]", path, threshold)
	}

	switch m.Kind {
	case KindLogistic:
		if len(m.Coef) == 0 {
			return nil, fmt.Errorf("classifier %s: empty coef", path)
		}
		return &LogisticClassifier{Coef: m.Coef, Intercept: m.Intercept, Threshold: threshold}, nil
	case KindTreeEnsemble:
		ensemble := m.TreeEnsemble
		if err := ensemble.validate(); err != nil {
			return nil, fmt.Errorf("classifier %s: %w", path, err)
		}
		link := m.Link
		if link == "" {
			link = LinkLogistic
		}
		if link != LinkLogistic && link != LinkIdentity {
			return nil, fmt.Errorf("classifier %s: unsupported link %q", path, link)
		}
		return &TreeClassifier{Ensemble: &ensemble, Link: link, Threshold: threshold}, nil
	default:
		return nil, fmt.Errorf("classifier %s: unsupported kind %q", path, m.Kind)
	}
}

// LoadFiles loads the three artifacts and checks that they agree on dimensions and on the
// engineered feature order.
func LoadFiles(preprocessorPath, regressorPath, classifierPath string) (*Adapter, error) {
	pre, err := LoadPreprocessor(preprocessorPath)
	if err != nil {
		return nil, err
	}
	if pre.Width != features.Count {
		return nil, fmt.Errorf("%w: preprocessor %s expects %d columns, engineer emits %d",
			ErrFeatureMismatch, preprocessorPath, pre.Width, features.Count)
	}
	reg, err := LoadRegressor(regressorPath)
	if err != nil {
		return nil, err
	}
	clf, err := LoadClassifier(classifierPath)
	if err != nil {
		return nil, err
	}
	if w := inputWidth(reg); w != pre.Width {
		return nil, fmt.Errorf("regressor expects %d columns, preprocessor emits %d: %w", w, pre.Width, ErrDimension)
	}
	if w := inputWidth(clf); w != pre.Width {
		return nil, fmt.Errorf("classifier expects %d columns, preprocessor emits %d: %w", w, pre.Width, ErrDimension)
	}
	return NewAdapter(pre, reg, clf)
}

func inputWidth(model any) int {
	switch m := model.(type) {
	case *LinearRegressor:
		return len(m.Coef)
	case *TreeRegressor:
		return m.Ensemble.Width
	case *LogisticClassifier:
		return len(m.Coef)
	case *TreeClassifier:
		return m.Ensemble.Width
	default:
		return -1
	}
}

func readArtifact(path string, v any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("model artifact %s not found: %w", path, err)
		}
		return fmt.Errorf("read model artifact: %w", err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("parse model artifact %s: %w", path, err)
	}
	return nil
}

func checkRow(row []float64, width int) error {
	if err := requireDim(row, width); err != nil {
		return err
	}
	return requireFinite(row)
}

func dot(a, b []float64) float64 {
	sum := 0.0
	for i := range a {
		sum += a[i] * b[i]
	}
	return sum
}

func classOf(p, threshold float64) int {
	if p > threshold {
		return 1
	}
	return 0
}
