// Package bayesopt implements sequential model-based optimization of a
// black-box objective over a box: a Gaussian process surrogate and an
// acquisition function pick each next point after a few random samples.
package bayesopt

import (
	"math/rand/v2"
	"sort"

	"gonum.org/v1/gonum/optimize"

	"github.com/YuminosukeSato/diabetesml/core/parallel"
	"github.com/YuminosukeSato/diabetesml/pkg/errors"
	"github.com/YuminosukeSato/diabetesml/pkg/log"
)

// Optimizer suggests points to evaluate and learns from the results.
type Optimizer interface {
	Suggest() (Params, error)
	Observe(p Params, target float64) error
	Best() (Observation, bool)
	History() []Observation
	State() State
}

// Observation is one evaluated point. Index counts all observations from 1;
// Iteration counts within Phase.
type Observation struct {
	Index     int     `json:"index"`
	Phase     string  `json:"phase"`
	Iteration int     `json:"iteration"`
	Params    Params  `json:"params"`
	Target    float64 `json:"target"`
}

// BayesianOptimizer maximizes an objective with initPoints random samples
// followed by nIter acquisition-guided points.
type BayesianOptimizer struct {
	recorder

	nCandidates int
	nPolish     int
	acquisition Acquisition
	seed        int64
	workers     int

	rng *rand.Rand
	gp  *GaussianProcess
}

// Option is a functional option for BayesianOptimizer.
type Option func(*BayesianOptimizer)

// WithInitPoints sets the number of random samples.
func WithInitPoints(n int) Option {
	return func(o *BayesianOptimizer) { o.initPoints = n }
}

// WithNIter sets the number of guided iterations.
func WithNIter(n int) Option {
	return func(o *BayesianOptimizer) { o.nIter = n }
}

// WithCandidates sets how many random points are scored per suggestion.
func WithCandidates(n int) Option {
	return func(o *BayesianOptimizer) { o.nCandidates = n }
}

// WithPolish sets how many of the best candidates are refined by Nelder-Mead.
func WithPolish(n int) Option {
	return func(o *BayesianOptimizer) { o.nPolish = n }
}

// WithAcquisition sets the acquisition function.
func WithAcquisition(a Acquisition) Option {
	return func(o *BayesianOptimizer) { o.acquisition = a }
}

// WithSeed seeds probing and candidate sampling.
func WithSeed(seed int64) Option {
	return func(o *BayesianOptimizer) { o.seed = seed }
}

// WithWorkers bounds the goroutines scoring candidates.
func WithWorkers(n int) Option {
	return func(o *BayesianOptimizer) { o.workers = n }
}

// WithLogger sets the logger.
func WithLogger(logger log.Logger) Option {
	return func(o *BayesianOptimizer) { o.logger = logger }
}

// NewBayesianOptimizer creates an optimizer with 5 random samples, 25
// iterations, 10 000 candidates, 5 polished candidates and UCB acquisition.
func NewBayesianOptimizer(bounds *Bounds, opts ...Option) (*BayesianOptimizer, error) {
	o := &BayesianOptimizer{
		recorder:    recorder{bounds: bounds, initPoints: 5, nIter: 25},
		nCandidates: 10000,
		nPolish:     5,
		acquisition: NewUCB(),
	}
	for _, opt := range opts {
		opt(o)
	}
	if err := o.validate(); err != nil {
		return nil, err
	}
	switch {
	case o.nCandidates < 1:
		return nil, errors.NewValidationError("n_candidates", "must be at least 1", o.nCandidates)
	case o.nPolish < 0:
		return nil, errors.NewValidationError("n_polish", "must be non-negative", o.nPolish)
	case o.acquisition == nil:
		return nil, errors.NewValidationError("acquisition", "must not be nil", nil)
	}
	if o.logger == nil {
		o.logger = log.GetLoggerWithName("BayesianOptimizer")
	}
	o.rng = rand.New(rand.NewPCG(uint64(o.seed), uint64(o.seed)))
	o.gp = NewGaussianProcess()
	return o, nil
}

// Suggest returns the next point to evaluate: a uniform random point while
// probing, then the acquisition maximizer. It fails once the budget is spent.
func (o *BayesianOptimizer) Suggest() (Params, error) {
	if o.state == Converged {
		return nil, errors.NewOptimizerStateError(o.state.String(), "suggest")
	}

	n := len(o.history)
	if n < o.initPoints || n == 0 {
		o.state = Probing
		return o.bounds.toParams(o.bounds.fromUnit(o.bounds.sampleUnit(o.rng))), nil
	}

	o.state = Optimizing
	x := make([][]float64, n)
	y := make([]float64, n)
	for i, obs := range o.history {
		v, err := o.bounds.toVector(obs.Params)
		if err != nil {
			return nil, err
		}
		x[i] = o.bounds.toUnit(v)
		y[i] = obs.Target
	}
	if err := o.gp.Fit(x, y); err != nil {
		o.logger.Warn("Surrogate fit failed, falling back to a random point",
			log.ErrAttrKey, err.Error(),
			log.IterationKey, n,
		)
		return o.bounds.toParams(o.bounds.fromUnit(o.bounds.sampleUnit(o.rng))), nil
	}

	best, _ := o.Best()
	u := o.maximize(best.Target)
	return o.bounds.toParams(o.bounds.fromUnit(u)), nil
}

// maximize scores nCandidates uniform points, refines the best nPolish with
// Nelder-Mead inside the unit cube and returns the overall best.
func (o *BayesianOptimizer) maximize(best float64) []float64 {
	acq := func(u []float64) float64 {
		mean, std := o.gp.Predict(u)
		return o.acquisition.Score(mean, std, best)
	}

	cands := make([][]float64, o.nCandidates)
	for i := range cands {
		cands[i] = o.bounds.sampleUnit(o.rng)
	}
	scores := make([]float64, len(cands))
	parallel.ParallelizeN(len(cands), o.workers, func(start, end int) {
		for i := start; i < end; i++ {
			scores[i] = acq(cands[i])
		}
	})

	order := make([]int, len(cands))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool { return scores[order[a]] > scores[order[b]] })

	bestU := cands[order[0]]
	bestScore := scores[order[0]]
	for _, idx := range order[:min(o.nPolish, len(order))] {
		problem := optimize.Problem{
			Func: func(u []float64) float64 {
				return -acq(clampUnit(u))
			},
		}
		settings := &optimize.Settings{
			FuncEvaluations: 200,
			Converger:       &optimize.FunctionConverge{Absolute: 1e-9, Iterations: 20},
		}
		res, err := optimize.Minimize(problem, cands[idx], settings, &optimize.NelderMead{})
		if err != nil {
			o.logger.Debug("Acquisition polish stopped", log.ErrAttrKey, err.Error())
			continue
		}
		u := clampUnit(res.X)
		if s := acq(u); s > bestScore {
			bestU, bestScore = u, s
		}
	}
	return bestU
}

func clampUnit(u []float64) []float64 {
	out := make([]float64, len(u))
	for i, v := range u {
		out[i] = clamp01(v)
	}
	return out
}

// Observe records the target of p. Observations are kept in arrival order.
func (o *BayesianOptimizer) Observe(p Params, target float64) error {
	if err := o.check(p, target); err != nil {
		return err
	}
	o.record(p, target)
	return nil
}

// Maximize runs the full budget against objective and returns the best
// observation.
func (o *BayesianOptimizer) Maximize(objective func(Params) float64) (Observation, error) {
	return Run(o, objective)
}
