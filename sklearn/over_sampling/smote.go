// Package over_sampling rebalances labelled training data.
package over_sampling

import (
	"fmt"
	"math/rand/v2"

	"gonum.org/v1/gonum/mat"

	"github.com/YuminosukeSato/diabetesml/core/model"
	"github.com/YuminosukeSato/diabetesml/pkg/errors"
	"github.com/YuminosukeSato/diabetesml/pkg/log"
	"github.com/YuminosukeSato/diabetesml/sklearn/model_selection"
	"github.com/YuminosukeSato/diabetesml/sklearn/neighbors"
)

// SMOTE oversamples every non-majority class with synthetic rows
// interpolated between a class member and one of its nearest same-class
// neighbours.
type SMOTE struct {
	kNeighbors  int
	randomState int64
	logger      log.Logger
}

// SMOTEOption is a functional option for SMOTE.
type SMOTEOption func(*SMOTE)

// NewSMOTE creates a resampler with k_neighbors=5.
func NewSMOTE(opts ...SMOTEOption) *SMOTE {
	s := &SMOTE{kNeighbors: 5}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = log.GetLoggerWithName("SMOTE")
	}
	return s
}

// WithSMOTEKNeighbors sets the neighbourhood size.
func WithSMOTEKNeighbors(k int) SMOTEOption {
	return func(s *SMOTE) { s.kNeighbors = k }
}

// WithSMOTERandomState seeds the generator.
func WithSMOTERandomState(seed int64) SMOTEOption {
	return func(s *SMOTE) { s.randomState = seed }
}

// WithSMOTELogger sets the logger.
func WithSMOTELogger(logger log.Logger) SMOTEOption {
	return func(s *SMOTE) { s.logger = logger }
}

// FitResample returns X and y with the original rows first, followed by
// synthetic rows for each smaller class in ascending label order, so that
// every class ends with the majority count.
func (s *SMOTE) FitResample(X mat.Matrix, y []float64) (*mat.Dense, []float64, error) {
	if s.kNeighbors < 1 {
		return nil, nil, errors.NewValidationError("k_neighbors", "must be at least 1", s.kNeighbors)
	}
	n, p, err := model.CheckXy("SMOTE.FitResample", X, y)
	if err != nil {
		return nil, nil, err
	}

	classes := model.UniqueLabels(y)
	members := make(map[float64][]int, len(classes))
	for i, v := range y {
		members[v] = append(members[v], i)
	}
	majority := 0
	for _, c := range classes {
		if len(members[c]) > majority {
			majority = len(members[c])
		}
	}
	total := 0
	for _, c := range classes {
		total += majority - len(members[c])
	}

	out := mat.NewDense(n+total, p, nil)
	out.Slice(0, n, 0, p).(*mat.Dense).Copy(X)
	yOut := make([]float64, n, n+total)
	copy(yOut, y)

	rng := rand.New(rand.NewPCG(uint64(s.randomState), uint64(s.randomState)))
	row := n
	for _, c := range classes {
		idx := members[c]
		need := majority - len(idx)
		if need == 0 {
			continue
		}
		Xc := model_selection.TakeRows(X, idx)
		nn := s.neighbours(Xc)

		for j := 0; j < need; j++ {
			base := rng.IntN(len(idx))
			other := nn[base][rng.IntN(len(nn[base]))]
			gap := rng.Float64()
			for f := 0; f < p; f++ {
				x := Xc.At(base, f)
				out.Set(row, f, x+gap*(Xc.At(other, f)-x))
			}
			yOut = append(yOut, c)
			row++
		}
		s.logger.Debug("Class oversampled",
			log.OperationKey, log.OperationResample,
			"class", c,
			"original", len(idx),
			"synthetic", need,
		)
	}

	s.logger.Info("SMOTE resampling complete",
		log.OperationKey, log.OperationResample,
		log.SamplesKey, n+total,
		"synthetic", total,
	)
	return out, yOut, nil
}

// neighbours returns, for every row of Xc, the positions of its k nearest
// other rows, with k clamped to [1, len-1]. A lone row is its own neighbour.
func (s *SMOTE) neighbours(Xc *mat.Dense) [][]int {
	size, _ := Xc.Dims()
	nn := make([][]int, size)
	if size == 1 {
		nn[0] = []int{0}
		return nn
	}
	k := s.kNeighbors
	if k > size-1 {
		k = size - 1
	}
	tree := neighbors.NewKDTree(Xc)
	for i := 0; i < size; i++ {
		idx, _ := tree.Query(Xc.RawRowView(i), k+1)
		kept := make([]int, 0, k)
		for _, j := range idx {
			if j != i && len(kept) < k {
				kept = append(kept, j)
			}
		}
		nn[i] = kept
	}
	return nn
}

// GetParams returns the resampler parameters.
func (s *SMOTE) GetParams() map[string]interface{} {
	return map[string]interface{}{
		"k_neighbors":  s.kNeighbors,
		"random_state": s.randomState,
	}
}

func (s *SMOTE) String() string {
	return fmt.Sprintf("SMOTE(k_neighbors=%d)", s.kNeighbors)
}
