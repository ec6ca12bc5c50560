// Package evaluation computes classification and ranking quality metrics and data splits.
package evaluation

import (
	"sort"

	"github.com/miradorstack/mirador-leads/internal/models"
)

// DefaultTopFraction is the share of score-ranked rows evaluated by Precision@K and Recall@K.
const DefaultTopFraction = 0.2

// Threshold converts probabilities into hard labels (p > 0.5).
func Threshold(probs []float64) []int {
	out := make([]int, len(probs))
	for i, p := range probs {
		if p > 0.5 {
			out[i] = 1
		}
	}
	return out
}

// Accuracy returns the share of matching labels.
func Accuracy(yTrue, yPred []int) float64 {
	if len(yTrue) == 0 || len(yTrue) != len(yPred) {
		return 0
	}
	hits := 0
	for i := range yTrue {
		if yTrue[i] == yPred[i] {
			hits++
		}
	}
	return float64(hits) / float64(len(yTrue))
}

type classCounts struct {
	tp, fp, fn, support int
}

func perClass(yTrue, yPred []int) map[int]*classCounts {
	counts := make(map[int]*classCounts)
	get := func(c int) *classCounts {
		cc, ok := counts[c]
		if !ok {
			cc = &classCounts{}
			counts[c] = cc
		}
		return cc
	}
	for i := range yTrue {
		t, p := yTrue[i], yPred[i]
		get(t).support++
		if t == p {
			get(t).tp++
			continue
		}
		get(p).fp++
		get(t).fn++
	}
	return counts
}

// F1Weighted is the support-weighted mean of per-class F1; undefined ratios count as 0.
func F1Weighted(yTrue, yPred []int) float64 {
	if len(yTrue) == 0 || len(yTrue) != len(yPred) {
		return 0
	}
	total := 0.0
	for _, c := range perClass(yTrue, yPred) {
		denom := 2*c.tp + c.fp + c.fn
		if denom == 0 || c.support == 0 {
			continue
		}
		total += float64(c.support) * float64(2*c.tp) / float64(denom)
	}
	return total / float64(len(yTrue))
}

// PrecisionWeighted is the support-weighted mean of per-class precision; undefined ratios count as 0.
func PrecisionWeighted(yTrue, yPred []int) float64 {
	if len(yTrue) == 0 || len(yTrue) != len(yPred) {
		return 0
	}
	total := 0.0
	for _, c := range perClass(yTrue, yPred) {
		predicted := c.tp + c.fp
		if predicted == 0 || c.support == 0 {
			continue
		}
		total += float64(c.support) * float64(c.tp) / float64(predicted)
	}
	return total / float64(len(yTrue))
}

// AveragePrecision is the area under the precision-recall curve, stepwise over
// distinct score thresholds. It is 0 for non-binary labels or when no positives exist.
func AveragePrecision(yTrue []int, scores []float64) float64 {
	if len(yTrue) == 0 || len(yTrue) != len(scores) {
		return 0
	}
	positives := 0
	for _, y := range yTrue {
		switch y {
		case 1:
			positives++
		case 0:
		default:
			return 0
		}
	}
	if positives == 0 {
		return 0
	}

	order := rankDescending(scores)
	ap, tp, seen, prevRecall := 0.0, 0, 0, 0.0
	for i := 0; i < len(order); {
		// consume every row tied at this threshold
		j := i
		for j < len(order) && scores[order[j]] == scores[order[i]] {
			tp += yTrue[order[j]]
			seen++
			j++
		}
		recall := float64(tp) / float64(positives)
		precision := float64(tp) / float64(seen)
		ap += (recall - prevRecall) * precision
		prevRecall = recall
		i = j
	}
	return ap
}

// TopK returns the number of rows evaluated for a top fraction, never below 1.
func TopK(n int, fraction float64) int {
	k := int(float64(n) * fraction)
	if k < 1 {
		k = 1
	}
	return k
}

// PrecisionRecallAtK ranks rows by score and measures the positives within the top K.
// Recall is 0 when there are no positives.
func PrecisionRecallAtK(yTrue []int, scores []float64, k int) (float64, float64) {
	if len(yTrue) == 0 || len(yTrue) != len(scores) || k < 1 {
		return 0, 0
	}
	order := rankDescending(scores)
	if k > len(order) {
		k = len(order)
	}
	hits, positives := 0, 0
	for _, y := range yTrue {
		if y == 1 {
			positives++
		}
	}
	for _, idx := range order[:k] {
		if yTrue[idx] == 1 {
			hits++
		}
	}
	precision := float64(hits) / float64(k)
	if positives == 0 {
		return precision, 0
	}
	return precision, float64(hits) / float64(positives)
}

// Ranking computes the shared advanced metrics, rounded to four decimals.
func Ranking(yTrue []int, scores []float64, topFraction float64) models.RankingMetrics {
	if len(yTrue) == 0 || len(yTrue) != len(scores) {
		return models.RankingMetrics{}
	}
	if topFraction <= 0 {
		topFraction = DefaultTopFraction
	}
	pAtK, rAtK := PrecisionRecallAtK(yTrue, scores, TopK(len(yTrue), topFraction))
	return models.RankingMetrics{
		F1:          models.Round4(F1Weighted(yTrue, Threshold(scores))),
		PRAUC:       models.Round4(AveragePrecision(yTrue, scores)),
		PrecisionAt: models.Round4(pAtK),
		RecallAt:    models.Round4(rAtK),
	}
}

// rankDescending returns row indices ordered by score, highest first; ties keep row order.
func rankDescending(scores []float64) []int {
	order := make([]int, len(scores))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool { return scores[order[a]] > scores[order[b]] })
	return order
}
