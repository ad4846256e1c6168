// Package neighbors implements nearest-neighbour classification on a k-d tree.
package neighbors

import (
	"fmt"

	"gonum.org/v1/gonum/mat"

	"github.com/YuminosukeSato/diabetesml/core/model"
	"github.com/YuminosukeSato/diabetesml/core/parallel"
	"github.com/YuminosukeSato/diabetesml/pkg/errors"
	"github.com/YuminosukeSato/diabetesml/pkg/log"
)

// Neighbour weighting schemes.
const (
	WeightsUniform  = "uniform"
	WeightsDistance = "distance"
)

// Query batches up to this many rows run on the calling goroutine.
const minParallelRows = 64

// KNeighborsClassifier votes among the k nearest training rows.
type KNeighborsClassifier struct {
	state *model.StateManager

	nNeighbors int
	weights    string
	workers    int

	tree     *KDTree
	labels   []int // class index per training row
	classes_ []float64

	logger log.Logger
}

// KNNOption is a functional option for KNeighborsClassifier.
type KNNOption func(*KNeighborsClassifier)

// NewKNeighborsClassifier creates a classifier with n_neighbors=10 and
// distance weighting.
func NewKNeighborsClassifier(opts ...KNNOption) *KNeighborsClassifier {
	knn := &KNeighborsClassifier{
		state:      model.NewStateManager(),
		nNeighbors: 10,
		weights:    WeightsDistance,
	}
	for _, opt := range opts {
		opt(knn)
	}
	if knn.logger == nil {
		knn.logger = log.GetLoggerWithName("KNeighborsClassifier")
	}
	return knn
}

// WithKNNNeighbors sets k.
func WithKNNNeighbors(k int) KNNOption {
	return func(knn *KNeighborsClassifier) { knn.nNeighbors = k }
}

// WithKNNWeights selects "uniform" or "distance" weighting.
func WithKNNWeights(weights string) KNNOption {
	return func(knn *KNeighborsClassifier) { knn.weights = weights }
}

// WithKNNWorkers bounds prediction parallelism; 0 uses every CPU.
func WithKNNWorkers(workers int) KNNOption {
	return func(knn *KNeighborsClassifier) { knn.workers = workers }
}

// WithKNNLogger sets the logger.
func WithKNNLogger(logger log.Logger) KNNOption {
	return func(knn *KNeighborsClassifier) { knn.logger = logger }
}

// Fit indexes the training rows.
func (knn *KNeighborsClassifier) Fit(X mat.Matrix, y []float64) error {
	if knn.nNeighbors < 1 {
		return errors.NewValidationError("n_neighbors", "must be at least 1", knn.nNeighbors)
	}
	if knn.weights != WeightsUniform && knn.weights != WeightsDistance {
		return errors.NewValidationError("weights", "must be uniform or distance", knn.weights)
	}
	n, p, err := model.CheckXy("KNeighborsClassifier.Fit", X, y)
	if err != nil {
		return err
	}

	knn.state.Reset()
	knn.classes_ = model.UniqueLabels(y)
	index := make(map[float64]int, len(knn.classes_))
	for i, c := range knn.classes_ {
		index[c] = i
	}
	knn.labels = make([]int, n)
	for i, v := range y {
		knn.labels[i] = index[v]
	}
	knn.tree = NewKDTree(X)
	knn.state.SetDimensions(p, n)
	knn.state.SetFitted()

	knn.logger.Debug("KNN index built",
		log.OperationKey, log.OperationFit,
		log.SamplesKey, n,
		log.FeaturesKey, p,
	)
	return nil
}

// PredictProba returns the weighted neighbour vote share of every class.
// With distance weighting each neighbour counts 1/d; if any neighbour lies
// at distance zero, only the zero-distance neighbours vote.
func (knn *KNeighborsClassifier) PredictProba(X mat.Matrix) (*mat.Dense, error) {
	if err := knn.state.RequireFitted("KNeighborsClassifier", "PredictProba"); err != nil {
		return nil, err
	}
	r, c := X.Dims()
	if err := knn.state.RequireFeatures(c); err != nil {
		return nil, err
	}
	if r == 0 {
		return nil, errors.Wrap(errors.ErrEmptyData, "KNeighborsClassifier.PredictProba")
	}

	nClasses := len(knn.classes_)
	probas := mat.NewDense(r, nClasses, nil)
	parallel.ParallelizeWithThreshold(r, minParallelRows, knn.workers, func(start, end int) {
		row := make([]float64, c)
		votes := make([]float64, nClasses)
		for i := start; i < end; i++ {
			mat.Row(row, i, X)
			idx, dist := knn.tree.Query(row, knn.nNeighbors)
			knn.vote(votes, idx, dist)
			probas.SetRow(i, votes)
		}
	})
	return probas, nil
}

func (knn *KNeighborsClassifier) vote(votes []float64, idx []int, dist []float64) {
	for k := range votes {
		votes[k] = 0
	}
	exact := false
	if knn.weights == WeightsDistance {
		for _, d := range dist {
			if d == 0 {
				exact = true
				break
			}
		}
	}
	for n, i := range idx {
		w := 1.0
		if knn.weights == WeightsDistance {
			switch {
			case exact && dist[n] == 0:
				w = 1
			case exact:
				w = 0
			default:
				w = 1 / dist[n]
			}
		}
		votes[knn.labels[i]] += w
	}
	total := 0.0
	for _, v := range votes {
		total += v
	}
	for k := range votes {
		votes[k] /= total
	}
}

// Predict returns the class with the largest vote share; ties go to the
// smaller class.
func (knn *KNeighborsClassifier) Predict(X mat.Matrix) ([]float64, error) {
	probas, err := knn.PredictProba(X)
	if err != nil {
		return nil, err
	}
	r, c := probas.Dims()
	out := make([]float64, r)
	for i := 0; i < r; i++ {
		best := 0
		for k := 1; k < c; k++ {
			if probas.At(i, k) > probas.At(i, best) {
				best = k
			}
		}
		out[i] = knn.classes_[best]
	}
	return out, nil
}

// KNeighbors returns the indices and distances of the k training rows
// nearest to each row of X.
func (knn *KNeighborsClassifier) KNeighbors(X mat.Matrix, k int) ([][]int, [][]float64, error) {
	if err := knn.state.RequireFitted("KNeighborsClassifier", "KNeighbors"); err != nil {
		return nil, nil, err
	}
	r, c := X.Dims()
	if err := knn.state.RequireFeatures(c); err != nil {
		return nil, nil, err
	}
	indices := make([][]int, r)
	dists := make([][]float64, r)
	parallel.ParallelizeWithThreshold(r, minParallelRows, knn.workers, func(start, end int) {
		for i := start; i < end; i++ {
			indices[i], dists[i] = knn.tree.Query(mat.Row(nil, i, X), k)
		}
	})
	return indices, dists, nil
}

// Classes returns the sorted training labels.
func (knn *KNeighborsClassifier) Classes() []float64 {
	return append([]float64(nil), knn.classes_...)
}

// GetParams returns the model hyperparameters.
func (knn *KNeighborsClassifier) GetParams() map[string]interface{} {
	return map[string]interface{}{
		"n_neighbors": knn.nNeighbors,
		"weights":     knn.weights,
		"algorithm":   "kd_tree",
	}
}

// String returns a short description.
func (knn *KNeighborsClassifier) String() string {
	return fmt.Sprintf("KNeighborsClassifier(n_neighbors=%d, weights=%s)", knn.nNeighbors, knn.weights)
}
