package forest

import (
	"math/rand/v2"
	"sort"
)

// node is one element of a flattened decision tree. Leaves have Feature == -1.
type node struct {
	Feature   int     `json:"f"`
	Threshold float64 `json:"t,omitempty"`
	Left      int     `json:"l,omitempty"`
	Right     int     `json:"r,omitempty"`
	Prob      float64 `json:"p,omitempty"`
}

// tree is a CART classifier over two classes, stored as a node slice rooted at index 0.
type tree struct {
	Nodes []node `json:"nodes"`
}

type treeBuilder struct {
	x           [][]float64
	y           []int
	weights     []float64
	maxDepth    int
	minSplit    int
	minLeaf     int
	maxFeatures int
	rng         *rand.Rand
	nodes       []node
}

// predict returns the positive-class probability for one row.
func (t *tree) predict(row []float64) float64 {
	idx := 0
	for {
		n := t.Nodes[idx]
		if n.Feature < 0 {
			return n.Prob
		}
		if row[n.Feature] <= n.Threshold {
			idx = n.Left
		} else {
			idx = n.Right
		}
	}
}

func (b *treeBuilder) build(samples []int) tree {
	b.nodes = b.nodes[:0]
	b.grow(samples, 0)
	return tree{Nodes: append([]node(nil), b.nodes...)}
}

func (b *treeBuilder) grow(samples []int, depth int) int {
	idx := len(b.nodes)
	b.nodes = append(b.nodes, node{Feature: -1})

	pos, total := b.classWeights(samples)
	prob := 0.0
	if total > 0 {
		prob = pos / total
	}
	b.nodes[idx].Prob = prob

	if depth >= b.maxDepth || len(samples) < b.minSplit || prob == 0 || prob == 1 {
		return idx
	}

	feature, threshold, ok := b.bestSplit(samples, pos, total)
	if !ok {
		return idx
	}

	left := make([]int, 0, len(samples))
	right := make([]int, 0, len(samples))
	for _, s := range samples {
		if b.x[s][feature] <= threshold {
			left = append(left, s)
		} else {
			right = append(right, s)
		}
	}

	l := b.grow(left, depth+1)
	r := b.grow(right, depth+1)
	b.nodes[idx] = node{Feature: feature, Threshold: threshold, Left: l, Right: r, Prob: prob}
	return idx
}

func (b *treeBuilder) classWeights(samples []int) (float64, float64) {
	pos, total := 0.0, 0.0
	for _, s := range samples {
		w := b.weights[s]
		total += w
		if b.y[s] == 1 {
			pos += w
		}
	}
	return pos, total
}

// bestSplit searches a random subset of features for the threshold with the lowest
// weighted gini impurity, honouring the minimum leaf size.
func (b *treeBuilder) bestSplit(samples []int, pos, total float64) (int, float64, bool) {
	candidates := b.rng.Perm(len(b.x[0]))

	bestScore := gini(pos, total)
	bestFeature, bestThreshold := -1, 0.0
	order := make([]int, len(samples))

	for visited, f := range candidates {
		// keep drawing past maxFeatures until some split is found
		if visited >= b.maxFeatures && bestFeature >= 0 {
			break
		}
		copy(order, samples)
		sort.Slice(order, func(i, j int) bool { return b.x[order[i]][f] < b.x[order[j]][f] })

		leftPos, leftTotal := 0.0, 0.0
		for i := 0; i < len(order)-1; i++ {
			s := order[i]
			w := b.weights[s]
			leftTotal += w
			if b.y[s] == 1 {
				leftPos += w
			}

			cur, next := b.x[s][f], b.x[order[i+1]][f]
			if cur == next {
				continue
			}
			if i+1 < b.minLeaf || len(order)-(i+1) < b.minLeaf {
				continue
			}

			rightPos, rightTotal := pos-leftPos, total-leftTotal
			score := (leftTotal*gini(leftPos, leftTotal) + rightTotal*gini(rightPos, rightTotal)) / total
			if score < bestScore-1e-12 {
				bestScore = score
				bestFeature = f
				bestThreshold = cur + (next-cur)/2
			}
		}
	}
	return bestFeature, bestThreshold, bestFeature >= 0
}

func gini(pos, total float64) float64 {
	if total <= 0 {
		return 0
	}
	p := pos / total
	return 2 * p * (1 - p)
}
