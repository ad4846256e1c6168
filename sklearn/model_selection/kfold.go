package model_selection

import (
	"math/rand/v2"
	"sort"

	"github.com/YuminosukeSato/diabetesml/pkg/errors"
)

// Splitter generates cross-validation folds over n labelled samples.
type Splitter interface {
	Split(y []float64) ([]CVFold, error)
	GetNSplits() int
}

// CVFold is one train/test partition. Both index lists are ascending.
type CVFold struct {
	TrainIndices []int
	TestIndices  []int
}

// KFold splits samples into consecutive folds.
type KFold struct {
	NSplits    int
	Shuffle    bool
	RandomSeed int64
}

// NewKFold creates a k-fold splitter. nSplits below 2 falls back to 5.
func NewKFold(nSplits int, shuffle bool, randomSeed int64) *KFold {
	if nSplits < 2 {
		nSplits = 5
	}
	return &KFold{
		NSplits:    nSplits,
		Shuffle:    shuffle,
		RandomSeed: randomSeed,
	}
}

// GetNSplits returns the number of folds.
func (kf *KFold) GetNSplits() int {
	return kf.NSplits
}

// Split assigns len(y) samples to folds; the first n % k folds get one extra.
func (kf *KFold) Split(y []float64) ([]CVFold, error) {
	n := len(y)
	if n < kf.NSplits {
		return nil, errors.NewValueError("KFold.Split", "fewer samples than folds")
	}
	indices := make([]int, n)
	for i := range indices {
		indices[i] = i
	}
	if kf.Shuffle {
		r := rand.New(rand.NewPCG(uint64(kf.RandomSeed), uint64(kf.RandomSeed)))
		r.Shuffle(n, func(i, j int) {
			indices[i], indices[j] = indices[j], indices[i]
		})
	}

	foldOf := make([]int, n)
	foldSize, remainder := n/kf.NSplits, n%kf.NSplits
	current := 0
	for f := 0; f < kf.NSplits; f++ {
		size := foldSize
		if f < remainder {
			size++
		}
		for _, idx := range indices[current : current+size] {
			foldOf[idx] = f
		}
		current += size
	}
	return buildFolds(foldOf, kf.NSplits), nil
}

// StratifiedKFold splits samples into folds that preserve class proportions.
// Without shuffling, samples of each class are assigned to folds in their
// original order, as scikit-learn does.
type StratifiedKFold struct {
	NSplits    int
	Shuffle    bool
	RandomSeed int64
}

// NewStratifiedKFold creates a stratified splitter. nSplits below 2 falls back to 5.
func NewStratifiedKFold(nSplits int, shuffle bool, randomSeed int64) *StratifiedKFold {
	if nSplits < 2 {
		nSplits = 5
	}
	return &StratifiedKFold{
		NSplits:    nSplits,
		Shuffle:    shuffle,
		RandomSeed: randomSeed,
	}
}

// GetNSplits returns the number of folds.
func (skf *StratifiedKFold) GetNSplits() int {
	return skf.NSplits
}

// Split assigns samples to folds. The per-fold count of each class comes
// from dealing the label-sorted samples round-robin over the folds, so fold
// sizes differ by at most one and each class is spread as evenly as possible.
func (skf *StratifiedKFold) Split(y []float64) ([]CVFold, error) {
	n := len(y)
	k := skf.NSplits
	if n < k {
		return nil, errors.NewValueError("StratifiedKFold.Split", "fewer samples than folds")
	}

	classIndices := make(map[float64][]int)
	for i, label := range y {
		classIndices[label] = append(classIndices[label], i)
	}
	classes := make([]float64, 0, len(classIndices))
	for c := range classIndices {
		classes = append(classes, c)
	}
	sort.Float64s(classes)

	// allocation[f][c]: members of class c placed in fold f.
	allocation := make([][]int, k)
	for f := range allocation {
		allocation[f] = make([]int, len(classes))
	}
	pos := 0
	for c, label := range classes {
		for m := 0; m < len(classIndices[label]); m++ {
			allocation[pos%k][c]++
			pos++
		}
	}

	var r *rand.Rand
	if skf.Shuffle {
		r = rand.New(rand.NewPCG(uint64(skf.RandomSeed), uint64(skf.RandomSeed)))
	}

	foldOf := make([]int, n)
	for c, label := range classes {
		members := classIndices[label]
		assign := make([]int, 0, len(members))
		for f := 0; f < k; f++ {
			for m := 0; m < allocation[f][c]; m++ {
				assign = append(assign, f)
			}
		}
		if r != nil {
			r.Shuffle(len(assign), func(i, j int) {
				assign[i], assign[j] = assign[j], assign[i]
			})
		}
		for m, idx := range members {
			foldOf[idx] = assign[m]
		}
	}
	return buildFolds(foldOf, k), nil
}

func buildFolds(foldOf []int, k int) []CVFold {
	folds := make([]CVFold, k)
	for idx, f := range foldOf {
		for g := 0; g < k; g++ {
			if g == f {
				folds[g].TestIndices = append(folds[g].TestIndices, idx)
			} else {
				folds[g].TrainIndices = append(folds[g].TrainIndices, idx)
			}
		}
	}
	return folds
}
