package predictor

import (
	"fmt"
)

// Aggregations for tree ensembles.
const (
	AggregateSum  = "sum"
	AggregateMean = "mean"
)

// Tree is a binary decision tree in flat array form. Node i is a leaf when Left[i] is -1;
// otherwise rows with x[Feature[i]] <= Threshold[i] descend to Left[i], the rest to Right[i].
type Tree struct {
	Feature   []int     `json:"feature"`
	Threshold []float64 `json:"threshold"`
	Left      []int     `json:"left"`
	Right     []int     `json:"right"`
	Value     []float64 `json:"value"`
}

// TreeEnsemble combines trees as BaseScore + LearningRate * aggregate(tree outputs).
// Random forests use mean aggregation with a unit learning rate; boosted models use sum.
type TreeEnsemble struct {
	Width        int      `json:"n_features_in"`
	Trees        []Tree   `json:"trees"`
	Aggregation  string   `json:"aggregation"`
	BaseScore    float64  `json:"base_score"`
	LearningRate *float64 `json:"learning_rate"`
}

// Margin evaluates the ensemble on a row that has already been checked for width.
func (e *TreeEnsemble) Margin(row []float64) float64 {
	total := 0.0
	for i := range e.Trees {
		total += e.Trees[i].eval(row)
	}
	if e.Aggregation == AggregateMean {
		total /= float64(len(e.Trees))
	}
	rate := 1.0
	if e.LearningRate != nil {
		rate = *e.LearningRate
	}
	return e.BaseScore + rate*total
}

func (t *Tree) eval(row []float64) float64 {
	node := 0
	for t.Left[node] != -1 {
		if row[t.Feature[node]] <= t.Threshold[node] {
			node = t.Left[node]
		} else {
			node = t.Right[node]
		}
	}
	return t.Value[node]
}

func (e *TreeEnsemble) validate() error {
	if e.Width <= 0 {
		return fmt.Errorf("tree ensemble needs n_features_in")
	}
	if len(e.Trees) == 0 {
		return fmt.Errorf("tree ensemble has no trees")
	}
	switch e.Aggregation {
	case "":
		e.Aggregation = AggregateSum
	case AggregateSum, AggregateMean:
	default:
		return fmt.Errorf("unsupported aggregation %q", e.Aggregation)
	}
	for i := range e.Trees {
		if err := e.Trees[i].validate(e.Width); err != nil {
			return fmt.Errorf("tree %d: %w", i, err)
		}
	}
	return nil
}

// validate checks array shapes and that every child index points forward, which rules out cycles.
func (t *Tree) validate(width int) error {
	n := len(t.Left)
	if n == 0 {
		return fmt.Errorf("empty tree")
	}
	if len(t.Right) != n || len(t.Feature) != n || len(t.Threshold) != n || len(t.Value) != n {
		return fmt.Errorf("%w: node arrays differ in length", ErrDimension)
	}
	for i := 0; i < n; i++ {
		if t.Left[i] == -1 {
			if t.Right[i] != -1 {
				return fmt.Errorf("node %d: leaf with a right child", i)
			}
			continue
		}
		if t.Left[i] <= i || t.Left[i] >= n || t.Right[i] <= i || t.Right[i] >= n {
			return fmt.Errorf("node %d: child index out of range", i)
		}
		if t.Feature[i] < 0 || t.Feature[i] >= width {
			return fmt.Errorf("node %d: feature %d outside [0,%d)", i, t.Feature[i], width)
		}
	}
	return nil
}
