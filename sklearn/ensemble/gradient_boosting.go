// Package ensemble provides tree ensembles: a histogram gradient boosting
// classifier and an isolation forest for anomaly filtering.
package ensemble

import (
	"fmt"
	"math"
	"math/rand/v2"
	"sort"

	"gonum.org/v1/gonum/mat"

	"github.com/YuminosukeSato/diabetesml/core/model"
	"github.com/YuminosukeSato/diabetesml/core/parallel"
	"github.com/YuminosukeSato/diabetesml/pkg/errors"
	"github.com/YuminosukeSato/diabetesml/pkg/log"
)

// GradientBoostingClassifier is a binary classifier trained by second-order
// gradient boosting of depth-limited regression trees on the logistic loss.
type GradientBoostingClassifier struct {
	state *model.StateManager

	nEstimators    int
	maxDepth       int
	learningRate   float64
	subsample      float64
	colsample      float64
	regLambda      float64
	minChildWeight float64
	gamma          float64
	maxBin         int
	randomState    int64
	workers        int

	trees     []Tree
	baseScore float64
	classes_  []float64
	gainSum   []float64
	splits    []int
	trainLoss []float64

	logger log.Logger
}

// GBOption is a functional option for GradientBoostingClassifier.
type GBOption func(*GradientBoostingClassifier)

// NewGradientBoostingClassifier creates a classifier with XGBoost defaults:
// 100 trees of depth 6, learning rate 0.3, lambda 1, min_child_weight 1.
func NewGradientBoostingClassifier(opts ...GBOption) *GradientBoostingClassifier {
	gb := &GradientBoostingClassifier{
		state:          model.NewStateManager(),
		nEstimators:    100,
		maxDepth:       6,
		learningRate:   0.3,
		subsample:      1.0,
		colsample:      1.0,
		regLambda:      1.0,
		minChildWeight: 1.0,
		maxBin:         maxBins,
	}
	for _, opt := range opts {
		opt(gb)
	}
	if gb.logger == nil {
		gb.logger = log.GetLoggerWithName("GradientBoostingClassifier")
	}
	return gb
}

// WithGBNEstimators sets the number of boosting rounds.
func WithGBNEstimators(n int) GBOption {
	return func(gb *GradientBoostingClassifier) { gb.nEstimators = n }
}

// WithGBMaxDepth sets the maximum tree depth.
func WithGBMaxDepth(depth int) GBOption {
	return func(gb *GradientBoostingClassifier) { gb.maxDepth = depth }
}

// WithGBLearningRate sets the shrinkage applied to every tree.
func WithGBLearningRate(lr float64) GBOption {
	return func(gb *GradientBoostingClassifier) { gb.learningRate = lr }
}

// WithGBSubsample sets the fraction of rows drawn for each tree.
func WithGBSubsample(fraction float64) GBOption {
	return func(gb *GradientBoostingClassifier) { gb.subsample = fraction }
}

// WithGBColsampleByTree sets the fraction of features drawn for each tree.
func WithGBColsampleByTree(fraction float64) GBOption {
	return func(gb *GradientBoostingClassifier) { gb.colsample = fraction }
}

// WithGBRegLambda sets the L2 penalty on leaf weights.
func WithGBRegLambda(lambda float64) GBOption {
	return func(gb *GradientBoostingClassifier) { gb.regLambda = lambda }
}

// WithGBMinChildWeight sets the minimum hessian sum of a child.
func WithGBMinChildWeight(w float64) GBOption {
	return func(gb *GradientBoostingClassifier) { gb.minChildWeight = w }
}

// WithGBGamma sets the minimum gain required to split.
func WithGBGamma(gamma float64) GBOption {
	return func(gb *GradientBoostingClassifier) { gb.gamma = gamma }
}

// WithGBMaxBin sets the histogram size per feature, at most 256.
func WithGBMaxBin(n int) GBOption {
	return func(gb *GradientBoostingClassifier) { gb.maxBin = n }
}

// WithGBRandomState seeds row and column sampling.
func WithGBRandomState(seed int64) GBOption {
	return func(gb *GradientBoostingClassifier) { gb.randomState = seed }
}

// WithGBWorkers bounds the goroutines used for histogram building.
func WithGBWorkers(n int) GBOption {
	return func(gb *GradientBoostingClassifier) { gb.workers = n }
}

// WithGBLogger sets the logger.
func WithGBLogger(logger log.Logger) GBOption {
	return func(gb *GradientBoostingClassifier) { gb.logger = logger }
}

func (gb *GradientBoostingClassifier) validate() error {
	switch {
	case gb.nEstimators < 1:
		return errors.NewValidationError("n_estimators", "must be at least 1", gb.nEstimators)
	case gb.maxDepth < 1:
		return errors.NewValidationError("max_depth", "must be at least 1", gb.maxDepth)
	case !(gb.learningRate > 0):
		return errors.NewValidationError("learning_rate", "must be positive", gb.learningRate)
	case !(gb.subsample > 0 && gb.subsample <= 1):
		return errors.NewValidationError("subsample", "must be in (0, 1]", gb.subsample)
	case !(gb.colsample > 0 && gb.colsample <= 1):
		return errors.NewValidationError("colsample_bytree", "must be in (0, 1]", gb.colsample)
	case gb.regLambda < 0:
		return errors.NewValidationError("reg_lambda", "must be non-negative", gb.regLambda)
	case gb.minChildWeight < 0:
		return errors.NewValidationError("min_child_weight", "must be non-negative", gb.minChildWeight)
	case gb.gamma < 0:
		return errors.NewValidationError("gamma", "must be non-negative", gb.gamma)
	case gb.maxBin < 2 || gb.maxBin > maxBins:
		return errors.NewValidationError("max_bin", "must be in [2, 256]", gb.maxBin)
	}
	return nil
}

// trainer holds the per-fit working state.
type trainer struct {
	gb     *GradientBoostingClassifier
	mapper *binMapper
	bins   [][]uint8
	target []float64
	margin []float64
	grad   []float64
	hess   []float64
}

// Fit trains the ensemble. y must hold exactly two classes; the larger one
// is the positive class.
func (gb *GradientBoostingClassifier) Fit(X mat.Matrix, y []float64) (err error) {
	defer errors.Recover(&err, "GradientBoostingClassifier.Fit")

	if err := gb.validate(); err != nil {
		return err
	}
	n, p, err := model.CheckXy("GradientBoostingClassifier.Fit", X, y)
	if err != nil {
		return err
	}
	classes, err := model.RequireBinary("GradientBoostingClassifier.Fit", y)
	if err != nil {
		return err
	}

	gb.state.Reset()
	gb.classes_ = classes
	gb.trees = make([]Tree, 0, gb.nEstimators)
	gb.gainSum = make([]float64, p)
	gb.splits = make([]int, p)
	gb.trainLoss = make([]float64, 0, gb.nEstimators)

	Xd := mat.DenseCopyOf(X)
	t := &trainer{
		gb:     gb,
		mapper: newBinMapper(Xd, gb.maxBin),
		target: make([]float64, n),
		margin: make([]float64, n),
		grad:   make([]float64, n),
		hess:   make([]float64, n),
	}
	t.bins = t.mapper.transform(Xd)

	pos := 0.0
	for i, v := range y {
		if v == classes[1] {
			t.target[i] = 1
			pos++
		}
	}
	mean := errors.ClipProbability(pos/float64(n), 1e-7)
	gb.baseScore = math.Log(mean / (1 - mean))
	for i := range t.margin {
		t.margin[i] = gb.baseScore
	}

	rng := rand.New(rand.NewPCG(uint64(gb.randomState), uint64(gb.randomState)))
	for iter := 0; iter < gb.nEstimators; iter++ {
		t.computeGradients()
		rows := sampleIndices(rng, n, gb.subsample)
		features := sampleIndices(rng, p, gb.colsample)

		tree := t.buildTree(rows, features)
		for i := 0; i < n; i++ {
			t.margin[i] += gb.learningRate * tree.predictBinned(t.bins, i)
		}
		gb.trees = append(gb.trees, tree)

		loss := t.logLoss()
		gb.trainLoss = append(gb.trainLoss, loss)
		if err := errors.CheckScalar("GradientBoostingClassifier.Fit", loss, iter); err != nil {
			return err
		}
		if iter%10 == 0 {
			gb.logger.Debug("Boosting progress",
				log.IterationKey, iter,
				log.LossKey, loss,
				"leaves", tree.NumLeaves(),
			)
		}
	}

	gb.state.SetDimensions(p, n)
	gb.state.SetFitted()
	gb.logger.Debug("Gradient boosting fitted",
		log.OperationKey, log.OperationFit,
		log.SamplesKey, n,
		log.FeaturesKey, p,
		log.LossKey, gb.trainLoss[len(gb.trainLoss)-1],
	)
	return nil
}

// sampleIndices draws round(fraction*n) distinct indices, at least one,
// returned in ascending order. fraction 1 returns every index without
// consuming randomness.
func sampleIndices(rng *rand.Rand, n int, fraction float64) []int {
	if fraction >= 1 {
		out := make([]int, n)
		for i := range out {
			out[i] = i
		}
		return out
	}
	k := int(math.Round(fraction * float64(n)))
	k = max(1, min(k, n))
	out := rng.Perm(n)[:k]
	sort.Ints(out)
	return out
}

func (t *trainer) computeGradients() {
	for i, m := range t.margin {
		prob := errors.Sigmoid(m)
		t.grad[i] = prob - t.target[i]
		t.hess[i] = math.Max(prob*(1-prob), 1e-16)
	}
}

func (t *trainer) logLoss() float64 {
	loss := 0.0
	for i, m := range t.margin {
		// log(1+e^m) - y*m
		loss += errors.Log1pExp(m) - t.target[i]*m
	}
	return loss / float64(len(t.margin))
}

func (t *trainer) buildTree(rows, features []int) Tree {
	tree := Tree{}
	t.buildNode(&tree, rows, features, 0)
	return tree
}

// split is the best split found for a node.
type split struct {
	feature int
	bin     int
	gain    float64
}

// buildNode appends the subtree for rows and returns its index.
func (t *trainer) buildNode(tree *Tree, rows, features []int, depth int) int {
	gb := t.gb
	idx := len(tree.Nodes)

	var G, H float64
	for _, i := range rows {
		G += t.grad[i]
		H += t.hess[i]
	}
	tree.Nodes = append(tree.Nodes, Node{
		NodeType:   LeafNode,
		LeftChild:  -1,
		RightChild: -1,
		LeafValue:  -G / (H + gb.regLambda),
		Count:      len(rows),
		SumHess:    H,
	})

	if depth >= gb.maxDepth || len(rows) < 2 {
		return idx
	}
	best, ok := t.findBestSplit(rows, features, G, H)
	if !ok {
		return idx
	}

	var left, right []int
	for _, i := range rows {
		if int(t.bins[best.feature][i]) <= best.bin {
			left = append(left, i)
		} else {
			right = append(right, i)
		}
	}

	node := &tree.Nodes[idx]
	node.NodeType = SplitNode
	node.SplitFeature = best.feature
	node.SplitBin = best.bin
	node.Threshold = t.mapper.threshold(best.feature, best.bin)
	node.Gain = best.gain
	node.LeafValue = 0
	gb.gainSum[best.feature] += best.gain
	gb.splits[best.feature]++

	l := t.buildNode(tree, left, features, depth+1)
	r := t.buildNode(tree, right, features, depth+1)
	tree.Nodes[idx].LeftChild = l
	tree.Nodes[idx].RightChild = r
	return idx
}

// findBestSplit scans the histograms of the sampled features in parallel.
// Ties go to the lower feature index, then the lower bin.
func (t *trainer) findBestSplit(rows, features []int, G, H float64) (split, bool) {
	gb := t.gb
	candidates := make([]split, len(features))
	found := make([]bool, len(features))

	parallel.ParallelizeN(len(features), gb.workers, func(start, end int) {
		for k := start; k < end; k++ {
			j := features[k]
			nBins := t.mapper.numBins(j)
			if nBins < 2 {
				continue
			}
			hist := buildHistogram(t.bins[j], nBins, rows, t.grad, t.hess)
			var GL, HL float64
			for b := 0; b < nBins-1; b++ {
				GL += hist.grad[b]
				HL += hist.hess[b]
				GR, HR := G-GL, H-HL
				if HL < gb.minChildWeight || HR < gb.minChildWeight {
					continue
				}
				if hist.count[b] == 0 {
					continue
				}
				gain := gb.splitGain(GL, HL, GR, HR, G, H)
				if !found[k] || gain > candidates[k].gain {
					candidates[k] = split{feature: j, bin: b, gain: gain}
					found[k] = true
				}
			}
		}
	})

	var best split
	ok := false
	for k := range features {
		if found[k] && (!ok || candidates[k].gain > best.gain) {
			best = candidates[k]
			ok = true
		}
	}
	if !ok || best.gain <= 0 {
		return split{}, false
	}
	return best, true
}

// splitGain is ½[G_L²/(H_L+λ) + G_R²/(H_R+λ) − G²/(H+λ)] − γ.
func (gb *GradientBoostingClassifier) splitGain(GL, HL, GR, HR, G, H float64) float64 {
	lambda := gb.regLambda
	left := GL * GL / (HL + lambda)
	right := GR * GR / (HR + lambda)
	parent := G * G / (H + lambda)
	return 0.5*(left+right-parent) - gb.gamma
}

// DecisionFunction returns the raw log-odds margin of every row.
func (gb *GradientBoostingClassifier) DecisionFunction(X mat.Matrix) ([]float64, error) {
	if err := gb.state.RequireFitted("GradientBoostingClassifier", "DecisionFunction"); err != nil {
		return nil, err
	}
	r, c := X.Dims()
	if err := gb.state.RequireFeatures(c); err != nil {
		return nil, err
	}
	out := make([]float64, r)
	parallel.ParallelizeN(r, gb.workers, func(start, end int) {
		row := make([]float64, c)
		for i := start; i < end; i++ {
			mat.Row(row, i, X)
			m := gb.baseScore
			for k := range gb.trees {
				m += gb.learningRate * gb.trees[k].Predict(row)
			}
			out[i] = m
		}
	})
	return out, nil
}

// PredictProba returns P(class 0) and P(class 1) for every row.
func (gb *GradientBoostingClassifier) PredictProba(X mat.Matrix) (*mat.Dense, error) {
	margins, err := gb.DecisionFunction(X)
	if err != nil {
		return nil, err
	}
	out := mat.NewDense(len(margins), 2, nil)
	for i, m := range margins {
		p := errors.Sigmoid(m)
		out.Set(i, 0, 1-p)
		out.Set(i, 1, p)
	}
	return out, nil
}

// Predict returns the positive class where its probability exceeds 0.5.
func (gb *GradientBoostingClassifier) Predict(X mat.Matrix) ([]float64, error) {
	margins, err := gb.DecisionFunction(X)
	if err != nil {
		return nil, err
	}
	out := make([]float64, len(margins))
	for i, m := range margins {
		if m > 0 {
			out[i] = gb.classes_[1]
		} else {
			out[i] = gb.classes_[0]
		}
	}
	return out, nil
}

// Classes returns the two sorted training labels.
func (gb *GradientBoostingClassifier) Classes() []float64 {
	return append([]float64(nil), gb.classes_...)
}

// FeatureImportances returns the average split gain of each feature,
// normalized to sum to 1. Features never used for a split score 0.
func (gb *GradientBoostingClassifier) FeatureImportances() ([]float64, error) {
	if err := gb.state.RequireFitted("GradientBoostingClassifier", "FeatureImportances"); err != nil {
		return nil, err
	}
	imp := make([]float64, len(gb.gainSum))
	total := 0.0
	for j, g := range gb.gainSum {
		if gb.splits[j] > 0 {
			imp[j] = g / float64(gb.splits[j])
			total += imp[j]
		}
	}
	if total > 0 {
		for j := range imp {
			imp[j] /= total
		}
	}
	return imp, nil
}

// Trees returns the fitted trees.
func (gb *GradientBoostingClassifier) Trees() []Tree { return gb.trees }

// BaseScore returns the initial log-odds margin.
func (gb *GradientBoostingClassifier) BaseScore() float64 { return gb.baseScore }

// TrainingLoss returns the mean training log loss after each round.
func (gb *GradientBoostingClassifier) TrainingLoss() []float64 {
	return append([]float64(nil), gb.trainLoss...)
}

// GetParams returns the model hyperparameters.
func (gb *GradientBoostingClassifier) GetParams() map[string]interface{} {
	return map[string]interface{}{
		"n_estimators":     gb.nEstimators,
		"max_depth":        gb.maxDepth,
		"learning_rate":    gb.learningRate,
		"subsample":        gb.subsample,
		"colsample_bytree": gb.colsample,
		"reg_lambda":       gb.regLambda,
		"min_child_weight": gb.minChildWeight,
		"gamma":            gb.gamma,
		"max_bin":          gb.maxBin,
		"random_state":     gb.randomState,
	}
}

// String returns a short description.
func (gb *GradientBoostingClassifier) String() string {
	return fmt.Sprintf("GradientBoostingClassifier(n_estimators=%d, max_depth=%d, learning_rate=%g)",
		gb.nEstimators, gb.maxDepth, gb.learningRate)
}
