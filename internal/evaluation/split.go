package evaluation

import (
	"math"
	"math/rand/v2"
	"sort"
)

// Split strategies.
const (
	SplitStratified   = "stratified"
	SplitUnstratified = "unstratified"
	SplitSameData     = "same_data"
)

// MinSplitRows is the smallest row count that gets a real holdout split.
const MinSplitRows = 5

// Split holds row indices for training and evaluation.
type Split struct {
	Train    []int
	Test     []int
	Strategy string
}

// Degraded reports whether the model is evaluated on its own training rows.
func (s Split) Degraded() bool {
	return s.Strategy == SplitSameData
}

// TrainTestSplit partitions rows for holdout evaluation. It stratifies by label when
// every class has at least two members, falls back to a plain shuffled split
// otherwise, and to training and testing on all rows when the data is too small.
func TrainTestSplit(y []int, testFraction float64, seed uint64) Split {
	n := len(y)
	nTest := int(math.Ceil(testFraction * float64(n)))
	nTrain := n - nTest
	if n < MinSplitRows || nTest < 1 || nTrain < 1 {
		all := sequence(n)
		return Split{Train: all, Test: append([]int(nil), all...), Strategy: SplitSameData}
	}

	rng := rand.New(rand.NewPCG(seed, 0))
	byClass := groupByClass(y)
	if minClassSize(byClass) >= 2 && nTest >= len(byClass) && nTrain >= len(byClass) {
		return stratifiedSplit(byClass, n, nTest, rng)
	}

	perm := rng.Perm(n)
	test := append([]int(nil), perm[:nTest]...)
	train := append([]int(nil), perm[nTest:]...)
	sort.Ints(test)
	sort.Ints(train)
	return Split{Train: train, Test: test, Strategy: SplitUnstratified}
}

func stratifiedSplit(byClass map[int][]int, n, nTest int, rng *rand.Rand) Split {
	classes := sortedKeys(byClass)

	// proportional allocation, remainder to the largest fractional parts
	alloc := make(map[int]int, len(classes))
	type frac struct {
		class int
		rest  float64
	}
	rests := make([]frac, 0, len(classes))
	assigned := 0
	for _, c := range classes {
		exact := float64(len(byClass[c])) * float64(nTest) / float64(n)
		alloc[c] = int(math.Floor(exact))
		assigned += alloc[c]
		rests = append(rests, frac{class: c, rest: exact - math.Floor(exact)})
	}
	sort.SliceStable(rests, func(i, j int) bool { return rests[i].rest > rests[j].rest })
	for i := 0; assigned < nTest; i = (i + 1) % len(rests) {
		c := rests[i].class
		if alloc[c] < len(byClass[c])-1 {
			alloc[c]++
			assigned++
		}
	}
	for _, c := range classes {
		// every class keeps a member on each side
		if alloc[c] == 0 {
			alloc[c] = 1
		}
	}

	var train, test []int
	for _, c := range classes {
		rows := append([]int(nil), byClass[c]...)
		rng.Shuffle(len(rows), func(i, j int) { rows[i], rows[j] = rows[j], rows[i] })
		test = append(test, rows[:alloc[c]]...)
		train = append(train, rows[alloc[c]:]...)
	}
	sort.Ints(train)
	sort.Ints(test)
	return Split{Train: train, Test: test, Strategy: SplitStratified}
}

// Fold is one cross-validation partition.
type Fold struct {
	Train []int
	Test  []int
}

// StratifiedKFold deals each class's rows round-robin into k folds, in row order.
func StratifiedKFold(y []int, k int) []Fold {
	if k < 2 || len(y) < k {
		return nil
	}
	assignment := make([]int, len(y))
	byClass := groupByClass(y)
	offset := 0
	for _, c := range sortedKeys(byClass) {
		for i, row := range byClass[c] {
			assignment[row] = (offset + i) % k
		}
		offset += len(byClass[c])
	}

	folds := make([]Fold, k)
	for row, f := range assignment {
		for j := range folds {
			if j == f {
				folds[j].Test = append(folds[j].Test, row)
			} else {
				folds[j].Train = append(folds[j].Train, row)
			}
		}
	}
	return folds
}

func groupByClass(y []int) map[int][]int {
	byClass := make(map[int][]int)
	for i, label := range y {
		byClass[label] = append(byClass[label], i)
	}
	return byClass
}

func minClassSize(byClass map[int][]int) int {
	if len(byClass) == 0 {
		return 0
	}
	smallest := math.MaxInt
	for _, rows := range byClass {
		if len(rows) < smallest {
			smallest = len(rows)
		}
	}
	return smallest
}

func sortedKeys(byClass map[int][]int) []int {
	keys := make([]int, 0, len(byClass))
	for k := range byClass {
		keys = append(keys, k)
	}
	sort.Ints(keys)
	return keys
}

func sequence(n int) []int {
	out := make([]int, n)
	for i := range out {
		out[i] = i
	}
	return out
}
