// Package forest implements the bagged decision-tree classifier used for lead scoring.
package forest

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand/v2"
	"runtime"

	"golang.org/x/sync/errgroup"
)

// Params are the forest hyperparameters.
type Params struct {
	Trees           int    `json:"trees" yaml:"trees"`
	MaxDepth        int    `json:"max_depth" yaml:"maxDepth"`
	MinSamplesSplit int    `json:"min_samples_split" yaml:"minSamplesSplit"`
	MinSamplesLeaf  int    `json:"min_samples_leaf" yaml:"minSamplesLeaf"`
	Balanced        bool   `json:"balanced" yaml:"balanced"`
	Seed            uint64 `json:"seed" yaml:"seed"`
	Workers         int    `json:"-" yaml:"workers"`
}

// DefaultParams favour shallow, well-populated trees over raw fit.
func DefaultParams() Params {
	return Params{
		Trees:           200,
		MaxDepth:        10,
		MinSamplesSplit: 5,
		MinSamplesLeaf:  2,
		Balanced:        true,
		Seed:            42,
	}
}

// ErrEmptyTrainingSet is returned when Fit receives no rows.
var ErrEmptyTrainingSet = errors.New("forest: empty training set")

// Forest is a fitted binary classifier. It is safe for concurrent prediction.
type Forest struct {
	Params   Params `json:"params"`
	Features int    `json:"features"`
	Trees    []tree `json:"trees"`
}

// Fit trains a forest on x (rows × features) and binary labels y.
func Fit(ctx context.Context, x [][]float64, y []int, params Params) (*Forest, error) {
	if len(x) == 0 {
		return nil, ErrEmptyTrainingSet
	}
	if len(x) != len(y) {
		return nil, fmt.Errorf("forest: %d rows but %d labels", len(x), len(y))
	}
	nFeatures := len(x[0])
	if nFeatures == 0 {
		return nil, fmt.Errorf("forest: no features")
	}
	for i, row := range x {
		if len(row) != nFeatures {
			return nil, fmt.Errorf("forest: row %d has %d features, expected %d", i, len(row), nFeatures)
		}
	}
	for i, label := range y {
		if label != 0 && label != 1 {
			return nil, fmt.Errorf("forest: label %d at row %d is not binary", label, i)
		}
	}
	params = withDefaults(params)

	weights := sampleWeights(y, params.Balanced)
	maxFeatures := int(math.Sqrt(float64(nFeatures)))
	if maxFeatures < 1 {
		maxFeatures = 1
	}

	f := &Forest{Params: params, Features: nFeatures, Trees: make([]tree, params.Trees)}

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(params.Workers)
	for i := 0; i < params.Trees; i++ {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			rng := rand.New(rand.NewPCG(params.Seed, uint64(i)))
			samples := make([]int, len(x))
			for j := range samples {
				samples[j] = rng.IntN(len(x))
			}
			b := &treeBuilder{
				x:           x,
				y:           y,
				weights:     weights,
				maxDepth:    params.MaxDepth,
				minSplit:    params.MinSamplesSplit,
				minLeaf:     params.MinSamplesLeaf,
				maxFeatures: maxFeatures,
				rng:         rng,
			}
			f.Trees[i] = b.build(samples)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return f, nil
}

// PredictProba returns the positive-class probability for every row.
func (f *Forest) PredictProba(x [][]float64) ([]float64, error) {
	if f == nil || len(f.Trees) == 0 {
		return nil, fmt.Errorf("forest: model not fitted")
	}
	out := make([]float64, len(x))
	for i, row := range x {
		if len(row) != f.Features {
			return nil, fmt.Errorf("forest: row %d has %d features, model expects %d", i, len(row), f.Features)
		}
		sum := 0.0
		for t := range f.Trees {
			sum += f.Trees[t].predict(row)
		}
		out[i] = sum / float64(len(f.Trees))
	}
	return out, nil
}

// Predict thresholds PredictProba at 0.5.
func (f *Forest) Predict(x [][]float64) ([]int, error) {
	probs, err := f.PredictProba(x)
	if err != nil {
		return nil, err
	}
	labels := make([]int, len(probs))
	for i, p := range probs {
		if p > 0.5 {
			labels[i] = 1
		}
	}
	return labels, nil
}

func withDefaults(p Params) Params {
	def := DefaultParams()
	if p.Trees <= 0 {
		p.Trees = def.Trees
	}
	if p.MaxDepth <= 0 {
		p.MaxDepth = def.MaxDepth
	}
	if p.MinSamplesSplit < 2 {
		p.MinSamplesSplit = 2
	}
	if p.MinSamplesLeaf < 1 {
		p.MinSamplesLeaf = 1
	}
	if p.Workers <= 0 {
		p.Workers = runtime.GOMAXPROCS(0)
	}
	return p
}

// sampleWeights returns n / (2 * count(class)) per row when balanced, else 1.
func sampleWeights(y []int, balanced bool) []float64 {
	weights := make([]float64, len(y))
	counts := [2]int{}
	for _, label := range y {
		counts[label]++
	}
	for i, label := range y {
		if balanced {
			weights[i] = float64(len(y)) / (2 * float64(counts[label]))
		} else {
			weights[i] = 1
		}
	}
	return weights
}
