package ensemble

import (
	"fmt"
	"math"
	"math/rand/v2"

	"gonum.org/v1/gonum/mat"

	"github.com/YuminosukeSato/diabetesml/core/model"
	"github.com/YuminosukeSato/diabetesml/core/parallel"
	"github.com/YuminosukeSato/diabetesml/core/stats"
	"github.com/YuminosukeSato/diabetesml/pkg/errors"
	"github.com/YuminosukeSato/diabetesml/pkg/log"
	"github.com/YuminosukeSato/diabetesml/sklearn/model_selection"
)

const eulerGamma = 0.5772156649015329

// IsolationForest isolates rows with random axis-aligned splits. Rows that
// are isolated in few splits get high anomaly scores.
type IsolationForest struct {
	nEstimators   int
	maxSamples    int
	contamination float64
	randomState   int64
	workers       int
	logger        log.Logger
}

// IFOption is a functional option for IsolationForest.
type IFOption func(*IsolationForest)

// NewIsolationForest creates a forest of 100 trees with contamination 0.075.
func NewIsolationForest(opts ...IFOption) *IsolationForest {
	f := &IsolationForest{
		nEstimators:   100,
		contamination: 0.075,
	}
	for _, opt := range opts {
		opt(f)
	}
	if f.logger == nil {
		f.logger = log.GetLoggerWithName("IsolationForest")
	}
	return f
}

// WithIFNEstimators sets the number of trees.
func WithIFNEstimators(n int) IFOption {
	return func(f *IsolationForest) { f.nEstimators = n }
}

// WithIFMaxSamples sets the subsample size per tree. 0 means min(256, n).
func WithIFMaxSamples(n int) IFOption {
	return func(f *IsolationForest) { f.maxSamples = n }
}

// WithIFContamination sets the expected share of anomalies in (0, 0.5].
func WithIFContamination(c float64) IFOption {
	return func(f *IsolationForest) { f.contamination = c }
}

// WithIFRandomState seeds subsampling and splits.
func WithIFRandomState(seed int64) IFOption {
	return func(f *IsolationForest) { f.randomState = seed }
}

// WithIFWorkers bounds the goroutines used to grow and score trees.
func WithIFWorkers(n int) IFOption {
	return func(f *IsolationForest) { f.workers = n }
}

// WithIFLogger sets the logger.
func WithIFLogger(logger log.Logger) IFOption {
	return func(f *IsolationForest) { f.logger = logger }
}

// iNode is a node of an isolation tree. Leaves have feature -1.
type iNode struct {
	feature   int
	threshold float64
	left      int
	right     int
	size      int
}

type iTree struct {
	nodes []iNode
}

// pathLength returns the depth at which x lands plus the expected remaining
// depth of the unsplit leaf.
func (t *iTree) pathLength(x []float64) float64 {
	idx, depth := 0, 0
	for {
		n := &t.nodes[idx]
		if n.feature < 0 {
			return float64(depth) + averagePathLength(n.size)
		}
		if x[n.feature] <= n.threshold {
			idx = n.left
		} else {
			idx = n.right
		}
		depth++
	}
}

// averagePathLength is c(n), the mean path length of an unsuccessful search
// in a binary search tree of n points.
func averagePathLength(n int) float64 {
	switch {
	case n <= 1:
		return 0
	case n == 2:
		return 1
	}
	m := float64(n - 1)
	return 2*(math.Log(m)+eulerGamma) - 2*m/float64(n)
}

var _ model.FittableTransform[*IsolationForestModel] = (*IsolationForest)(nil)

// IsolationForestModel is a fitted forest with its anomaly threshold. As a
// transform it keeps the inlier rows.
type IsolationForestModel struct {
	trees      []iTree
	psi        int
	nFeatures  int
	threshold  float64
	workers    int
	trainFlags int
}

// Fit grows the forest on X and sets the threshold at the
// (1 - contamination) quantile of the training scores.
func (f *IsolationForest) Fit(X mat.Matrix) (*IsolationForestModel, error) {
	switch {
	case f.nEstimators < 1:
		return nil, errors.NewValidationError("n_estimators", "must be at least 1", f.nEstimators)
	case !(f.contamination > 0 && f.contamination <= 0.5):
		return nil, errors.NewValidationError("contamination", "must be in (0, 0.5]", f.contamination)
	case f.maxSamples < 0:
		return nil, errors.NewValidationError("max_samples", "must be non-negative", f.maxSamples)
	}
	n, p, err := model.CheckMatrix("IsolationForest.Fit", X)
	if err != nil {
		return nil, err
	}
	Xd := mat.DenseCopyOf(X)

	psi := f.maxSamples
	if psi == 0 {
		psi = 256
	}
	psi = min(psi, n)
	heightLimit := int(math.Ceil(math.Log2(float64(max(psi, 2)))))

	// One seed per tree drawn up front keeps trees independent of scheduling.
	rng := rand.New(rand.NewPCG(uint64(f.randomState), uint64(f.randomState)))
	seeds := make([]uint64, f.nEstimators)
	for i := range seeds {
		seeds[i] = rng.Uint64()
	}

	trees := make([]iTree, f.nEstimators)
	parallel.ParallelizeN(f.nEstimators, f.workers, func(start, end int) {
		for k := start; k < end; k++ {
			tr := rand.New(rand.NewPCG(seeds[k], uint64(k)))
			rows := tr.Perm(n)[:psi]
			trees[k] = growIsolationTree(Xd, rows, heightLimit, tr)
		}
	})

	m := &IsolationForestModel{
		trees:     trees,
		psi:       psi,
		nFeatures: p,
		workers:   f.workers,
	}
	scores, err := m.ScoreSamples(Xd)
	if err != nil {
		return nil, err
	}
	m.threshold = stats.Quantile(1-f.contamination, scores)
	for _, s := range scores {
		if s > m.threshold {
			m.trainFlags++
		}
	}

	f.logger.Debug("Isolation forest fitted",
		log.OperationKey, log.OperationFit,
		log.SamplesKey, n,
		"trees", f.nEstimators,
		"max_samples", psi,
		"threshold", m.threshold,
		"flagged", m.trainFlags,
	)
	return m, nil
}

func growIsolationTree(X *mat.Dense, rows []int, heightLimit int, rng *rand.Rand) iTree {
	t := iTree{}
	_, p := X.Dims()

	var grow func(rows []int, depth int) int
	grow = func(rows []int, depth int) int {
		idx := len(t.nodes)
		t.nodes = append(t.nodes, iNode{feature: -1, size: len(rows)})
		if depth >= heightLimit || len(rows) <= 1 {
			return idx
		}

		// Try features in random order until one is not constant here.
		for _, j := range rng.Perm(p) {
			lo, hi := math.Inf(1), math.Inf(-1)
			for _, i := range rows {
				v := X.At(i, j)
				lo = math.Min(lo, v)
				hi = math.Max(hi, v)
			}
			if !(hi > lo) {
				continue
			}
			thr := lo + rng.Float64()*(hi-lo)
			var left, right []int
			for _, i := range rows {
				if X.At(i, j) <= thr {
					left = append(left, i)
				} else {
					right = append(right, i)
				}
			}
			if len(right) == 0 {
				continue
			}
			t.nodes[idx].feature = j
			t.nodes[idx].threshold = thr
			l := grow(left, depth+1)
			r := grow(right, depth+1)
			t.nodes[idx].left = l
			t.nodes[idx].right = r
			return idx
		}
		return idx
	}
	grow(rows, 0)
	return t
}

// ScoreSamples returns the anomaly score 2^(-E[h(x)]/c(psi)) of every row.
// Scores lie in (0, 1]; higher is more anomalous.
func (m *IsolationForestModel) ScoreSamples(X mat.Matrix) ([]float64, error) {
	r, c := X.Dims()
	if c != m.nFeatures {
		return nil, errors.NewDimensionError("IsolationForest.ScoreSamples", m.nFeatures, c, 1)
	}
	norm := averagePathLength(m.psi)
	if norm == 0 {
		norm = 1
	}
	scores := make([]float64, r)
	parallel.ParallelizeN(r, m.workers, func(start, end int) {
		row := make([]float64, c)
		for i := start; i < end; i++ {
			mat.Row(row, i, X)
			total := 0.0
			for k := range m.trees {
				total += m.trees[k].pathLength(row)
			}
			mean := total / float64(len(m.trees))
			scores[i] = math.Pow(2, -mean/norm)
		}
	})
	return scores, nil
}

// Threshold returns the score above which a row is anomalous.
func (m *IsolationForestModel) Threshold() float64 { return m.threshold }

// Predict labels rows -1 when anomalous and 1 otherwise.
func (m *IsolationForestModel) Predict(X mat.Matrix) ([]int, error) {
	scores, err := m.ScoreSamples(X)
	if err != nil {
		return nil, err
	}
	out := make([]int, len(scores))
	for i, s := range scores {
		if s > m.threshold {
			out[i] = -1
		} else {
			out[i] = 1
		}
	}
	return out, nil
}

// Inliers returns the indices of the rows of X that are not anomalous, in
// ascending order.
func (m *IsolationForestModel) Inliers(X mat.Matrix) ([]int, error) {
	labels, err := m.Predict(X)
	if err != nil {
		return nil, err
	}
	keep := make([]int, 0, len(labels))
	for i, l := range labels {
		if l == 1 {
			keep = append(keep, i)
		}
	}
	if len(keep) == 0 {
		return nil, errors.NewValueError("IsolationForest.Inliers", "every row was flagged as anomalous")
	}
	return keep, nil
}

// Transform returns the inlier rows of X in their original order.
func (m *IsolationForestModel) Transform(X mat.Matrix) (*mat.Dense, error) {
	keep, err := m.Inliers(X)
	if err != nil {
		return nil, err
	}
	return model_selection.TakeRows(X, keep), nil
}

// Filter is Transform applied to X and y together. It also returns the
// number of rows dropped.
func (m *IsolationForestModel) Filter(X mat.Matrix, y []float64) (*mat.Dense, []float64, int, error) {
	r, _, err := model.CheckXy("IsolationForest.Filter", X, y)
	if err != nil {
		return nil, nil, 0, err
	}
	keep, err := m.Inliers(X)
	if err != nil {
		return nil, nil, 0, err
	}
	return model_selection.TakeRows(X, keep), model_selection.TakeLabels(y, keep), r - len(keep), nil
}

// String returns a short description.
func (f *IsolationForest) String() string {
	return fmt.Sprintf("IsolationForest(n_estimators=%d, contamination=%g)", f.nEstimators, f.contamination)
}
