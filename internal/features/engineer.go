package features

import (
	"errors"
	"fmt"
	"math"

	"github.com/miradorstack/river-quality/internal/models"
)

// Count is the number of slots in a feature vector.
const Count = 22

// Slot indexes. They follow Names and must never be reordered independently of the model artifacts.
const (
	PH = iota
	Hardness
	Solids
	Chloramines
	Sulfate
	Conductivity
	OrganicCarbon
	Trihalomethanes
	Turbidity
	PHxHardness
	OrganicxTurbidity
	SolidsRatio
	LogSolids
	LogConductivity
	PHBucket
	OrganicBucket
	HardnessxConductivity
	ChloraminexTrihalo
	OrganicxSulfate
	SolidDensity
	DangerIndex
	QualityIndex
)

// names holds the column names the preprocessor was fit with, in slot order.
var names = [Count]string{
	"ph", "Hardness", "Solids", "Chloramines", "Sulfate", "Conductivity",
	"Organic_carbon", "Trihalomethanes", "Turbidity",
	"ph_x_hardness",
	"organic_x_turbidity",
	"solids_ratio",
	"log_solids",
	"log_conductivity",
	"ph_bucket",
	"organic_bucket",
	"hardness_x_conductivity",
	"chloramine_x_trihalo",
	"organic_x_sulfate",
	"solid_density",
	"danger_index",
	"quality_index",
}

// Names returns a copy of the feature names in vector order.
func Names() []string {
	out := make([]string, Count)
	copy(out, names[:])
	return out
}

// Danger index weights.
const (
	weightTrihalomethanes = 0.25
	weightChloramines     = 0.20
	weightOrganicCarbon   = 0.15
	weightTurbidity       = 0.10
)

// phEdges are the right-closed ph bucket edges: (0,6], (6,7], (7,8.5], (8.5,14].
var phEdges = []float64{0, 6, 7, 8.5, 14}

const organicBins = 4

// ErrNonFiniteInput is returned when a bucketed measurement is infinite.
var ErrNonFiniteInput = errors.New("non-finite measurement")

// Vector is a fixed-order feature row. Missing values are NaN.
type Vector [Count]float64

// Slice returns the vector as a slice sharing no memory with v.
func (v Vector) Slice() []float64 {
	out := make([]float64, Count)
	copy(out, v[:])
	return out
}

// Engineer derives model features from raw water samples.
type Engineer struct{}

// NewEngineer creates a feature engineer.
func NewEngineer() *Engineer {
	return &Engineer{}
}

// Build maps a sample to its feature vector. Arithmetic on a missing operand yields NaN;
// bucket features always resolve to an integer category.
func (e *Engineer) Build(sample models.WaterSample) (Vector, error) {
	var v Vector

	ph := value(sample.PH)
	hardness := value(sample.Hardness)
	solids := value(sample.Solids)
	chloramines := value(sample.Chloramine)
	sulfate := value(sample.Sulphate)
	conductivity := value(sample.Conductivity)
	organic := value(sample.OrganicCarbon)
	trihalo := value(sample.Trihalomethane)
	turbidity := value(sample.Turbidity)

	v[PH] = ph
	v[Hardness] = hardness
	v[Solids] = solids
	v[Chloramines] = chloramines
	v[Sulfate] = sulfate
	v[Conductivity] = conductivity
	v[OrganicCarbon] = organic
	v[Trihalomethanes] = trihalo
	v[Turbidity] = turbidity

	v[PHxHardness] = ph * hardness
	v[OrganicxTurbidity] = organic * turbidity
	v[SolidsRatio] = solids / (hardness + 1)
	v[LogSolids] = math.Log1p(solids)
	v[LogConductivity] = math.Log1p(conductivity)

	v[PHBucket] = float64(PHBucketOf(ph))
	organicBucket, err := EqualWidthBucket([]float64{organic}, organic, organicBins)
	if err != nil {
		return Vector{}, fmt.Errorf("organic_bucket for %q: %w", sample.Name, err)
	}
	v[OrganicBucket] = float64(organicBucket)

	v[HardnessxConductivity] = hardness * conductivity
	v[ChloraminexTrihalo] = chloramines * trihalo
	v[OrganicxSulfate] = organic * sulfate
	v[SolidDensity] = solids / (conductivity + 1)

	v[DangerIndex] = float64(trihalo*weightTrihalomethanes) +
		float64(chloramines*weightChloramines) +
		float64(organic*weightOrganicCarbon) +
		float64(turbidity*weightTurbidity)

	v[QualityIndex] = v[PHBucket] + v[OrganicBucket] + v[SolidsRatio]

	return v, nil
}

// PHBucketOf places ph into the fixed right-closed bins. Values outside (0,14] and NaN fall back to 0.
func PHBucketOf(ph float64) int {
	if math.IsNaN(ph) {
		return 0
	}
	for i := 1; i < len(phEdges); i++ {
		if ph > phEdges[i-1] && ph <= phEdges[i] {
			return i - 1
		}
	}
	return 0
}

// EqualWidthBucket assigns x to one of bins equal-width, right-closed intervals spanning
// the finite range of column. A degenerate range is widened by 0.1% on each side; otherwise
// the lowest edge is lowered by 0.1% of the span so the minimum is included.
// NaN inputs and values outside the edges resolve to 0.
func EqualWidthBucket(column []float64, x float64, bins int) (int, error) {
	if bins <= 0 {
		return 0, fmt.Errorf("bins must be positive, got %d", bins)
	}
	if math.IsNaN(x) {
		return 0, nil
	}
	if math.IsInf(x, 0) {
		return 0, ErrNonFiniteInput
	}

	mn, mx := math.Inf(1), math.Inf(-1)
	for _, c := range column {
		if math.IsNaN(c) {
			continue
		}
		if math.IsInf(c, 0) {
			return 0, ErrNonFiniteInput
		}
		mn = math.Min(mn, c)
		mx = math.Max(mx, c)
	}
	if math.IsInf(mn, 1) {
		return 0, nil
	}

	var edges []float64
	if mn == mx {
		mn -= widen(mn)
		mx += widen(mx)
		edges = linspace(mn, mx, bins+1)
	} else {
		edges = linspace(mn, mx, bins+1)
		edges[0] -= (mx - mn) * 0.001
	}

	// index of the first edge >= x
	idx := len(edges)
	for i, edge := range edges {
		if edge >= x {
			idx = i
			break
		}
	}
	if idx == 0 || idx == len(edges) {
		return 0, nil
	}
	return idx - 1, nil
}

func widen(v float64) float64 {
	if v == 0 {
		return 0.001
	}
	return 0.001 * math.Abs(v)
}

// linspace returns n evenly spaced points from start to stop inclusive. Each point is
// computed as i*step + start with the product rounded first, so edges are reproducible.
func linspace(start, stop float64, n int) []float64 {
	out := make([]float64, n)
	step := (stop - start) / float64(n-1)
	for i := range out {
		out[i] = float64(float64(i)*step) + start
	}
	out[n-1] = stop
	return out
}

func value(p *float64) float64 {
	if p == nil {
		return math.NaN()
	}
	return *p
}
