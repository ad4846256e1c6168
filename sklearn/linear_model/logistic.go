package linear_model

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/optimize"

	"github.com/YuminosukeSato/diabetesml/core/model"
	"github.com/YuminosukeSato/diabetesml/pkg/errors"
	"github.com/YuminosukeSato/diabetesml/pkg/log"
)

// Solvers supported by LogisticRegression.
const (
	// SolverLiblinear minimizes 0.5||w||^2 + C*sum(loss) where w includes
	// the intercept as an extra feature of value interceptScaling, so the
	// intercept is regularized too.
	SolverLiblinear = "liblinear"
	// SolverLBFGS minimizes the same loss with an unregularized intercept.
	SolverLBFGS = "lbfgs"
)

// LogisticRegression is an L2-regularized binary logistic regression
// classifier compatible with scikit-learn's LogisticRegression.
type LogisticRegression struct {
	state *model.StateManager

	// Hyperparameters
	C                float64 // Inverse regularization strength
	fitIntercept     bool
	interceptScaling float64
	randomState      int64
	solver           string
	maxIter          int
	tol              float64

	// Fitted parameters
	coef_      []float64
	intercept_ float64
	classes_   []float64
	nIter_     int

	logger log.Logger
}

// LogisticRegressionOption is a functional option for LogisticRegression.
type LogisticRegressionOption func(*LogisticRegression)

// NewLogisticRegression creates a LogisticRegression. Defaults follow the
// pipeline's baseline model: C=1, liblinear, max_iter=200, tol=1e-4.
func NewLogisticRegression(opts ...LogisticRegressionOption) *LogisticRegression {
	lr := &LogisticRegression{
		state:            model.NewStateManager(),
		C:                1.0,
		fitIntercept:     true,
		interceptScaling: 1.0,
		randomState:      -1,
		solver:           SolverLiblinear,
		maxIter:          200,
		tol:              1e-4,
	}
	for _, opt := range opts {
		opt(lr)
	}
	if lr.logger == nil {
		lr.logger = log.GetLoggerWithName("LogisticRegression")
	}
	return lr
}

// WithLRC sets the inverse regularization strength.
func WithLRC(c float64) LogisticRegressionOption {
	return func(lr *LogisticRegression) {
		lr.C = c
	}
}

// WithLogisticFitIntercept sets whether to fit an intercept.
func WithLogisticFitIntercept(fit bool) LogisticRegressionOption {
	return func(lr *LogisticRegression) {
		lr.fitIntercept = fit
	}
}

// WithLRSolver selects "liblinear" or "lbfgs".
func WithLRSolver(solver string) LogisticRegressionOption {
	return func(lr *LogisticRegression) {
		lr.solver = solver
	}
}

// WithLRMaxIter sets the maximum number of solver iterations.
func WithLRMaxIter(maxIter int) LogisticRegressionOption {
	return func(lr *LogisticRegression) {
		lr.maxIter = maxIter
	}
}

// WithLRTol sets the stopping tolerance.
func WithLRTol(tol float64) LogisticRegressionOption {
	return func(lr *LogisticRegression) {
		lr.tol = tol
	}
}

// WithLRRandomState records the seed. Both solvers are deterministic; the
// seed is kept for parameter reporting.
func WithLRRandomState(seed int64) LogisticRegressionOption {
	return func(lr *LogisticRegression) {
		lr.randomState = seed
	}
}

// WithLRLogger sets the logger.
func WithLRLogger(logger log.Logger) LogisticRegressionOption {
	return func(lr *LogisticRegression) {
		lr.logger = logger
	}
}

func (lr *LogisticRegression) validate() error {
	if !(lr.C > 0) {
		return errors.NewValidationError("C", "must be positive", lr.C)
	}
	if lr.maxIter < 1 {
		return errors.NewValidationError("max_iter", "must be at least 1", lr.maxIter)
	}
	if !(lr.tol > 0) {
		return errors.NewValidationError("tol", "must be positive", lr.tol)
	}
	if lr.solver != SolverLiblinear && lr.solver != SolverLBFGS {
		return errors.NewValidationError("solver", "must be liblinear or lbfgs", lr.solver)
	}
	return nil
}

// Fit trains the model on X and binary labels y.
func (lr *LogisticRegression) Fit(X mat.Matrix, y []float64) error {
	if err := lr.validate(); err != nil {
		return err
	}
	nSamples, nFeatures, err := model.CheckXy("LogisticRegression.Fit", X, y)
	if err != nil {
		return err
	}
	classes, err := model.RequireBinary("LogisticRegression.Fit", y)
	if err != nil {
		return err
	}
	lr.state.Reset()
	lr.classes_ = classes

	target := make([]float64, nSamples)
	for i, v := range y {
		if v == classes[1] {
			target[i] = 1
		}
	}
	prob := newLogisticProblem(X, target, lr.C, lr.fitIntercept, lr.interceptScaling)

	var w []float64
	var converged bool
	switch lr.solver {
	case SolverLiblinear:
		w, lr.nIter_, converged, err = prob.newton(lr.maxIter, lr.tol)
	default:
		w, lr.nIter_, converged, err = prob.lbfgs(lr.maxIter, lr.tol)
	}
	if err != nil {
		return errors.NewModelError("LogisticRegression.Fit", "solver failed", err)
	}
	if !converged {
		errors.Warn(errors.NewConvergenceWarning(lr.solver, lr.nIter_,
			"increase max_iter or scale the data"))
	}

	lr.coef_ = w[:nFeatures]
	lr.intercept_ = 0
	if lr.fitIntercept {
		lr.intercept_ = w[nFeatures] * prob.interceptScale
	}
	lr.state.SetDimensions(nFeatures, nSamples)
	lr.state.SetFitted()

	lr.logger.Debug("LogisticRegression fitted",
		log.OperationKey, log.OperationFit,
		log.SamplesKey, nSamples,
		log.FeaturesKey, nFeatures,
		log.IterationKey, lr.nIter_,
	)
	return nil
}

// DecisionFunction returns w.x + b for every row of X.
func (lr *LogisticRegression) DecisionFunction(X mat.Matrix) ([]float64, error) {
	if err := lr.state.RequireFitted("LogisticRegression", "DecisionFunction"); err != nil {
		return nil, err
	}
	r, c := X.Dims()
	if err := lr.state.RequireFeatures(c); err != nil {
		return nil, err
	}
	out := make([]float64, r)
	for i := 0; i < r; i++ {
		z := lr.intercept_
		for j := 0; j < c; j++ {
			z += X.At(i, j) * lr.coef_[j]
		}
		out[i] = z
	}
	return out, nil
}

// Predict returns the class with the larger probability; ties go to the
// positive class.
func (lr *LogisticRegression) Predict(X mat.Matrix) ([]float64, error) {
	z, err := lr.DecisionFunction(X)
	if err != nil {
		return nil, err
	}
	out := make([]float64, len(z))
	for i, v := range z {
		if v > 0 {
			out[i] = lr.classes_[1]
		} else {
			out[i] = lr.classes_[0]
		}
	}
	return out, nil
}

// PredictProba returns [P(classes[0]), P(classes[1])] per row.
func (lr *LogisticRegression) PredictProba(X mat.Matrix) (*mat.Dense, error) {
	z, err := lr.DecisionFunction(X)
	if err != nil {
		return nil, err
	}
	probas := mat.NewDense(len(z), 2, nil)
	for i, v := range z {
		p := errors.Sigmoid(v)
		probas.Set(i, 0, 1-p)
		probas.Set(i, 1, p)
	}
	return probas, nil
}

// Classes returns the sorted training labels.
func (lr *LogisticRegression) Classes() []float64 {
	return append([]float64(nil), lr.classes_...)
}

// Coef returns the learned feature weights.
func (lr *LogisticRegression) Coef() []float64 {
	return append([]float64(nil), lr.coef_...)
}

// Intercept returns the learned intercept.
func (lr *LogisticRegression) Intercept() float64 {
	return lr.intercept_
}

// NIter returns the number of solver iterations of the last fit.
func (lr *LogisticRegression) NIter() int {
	return lr.nIter_
}

// Score returns the mean accuracy on X and y.
func (lr *LogisticRegression) Score(X mat.Matrix, y []float64) (float64, error) {
	pred, err := lr.Predict(X)
	if err != nil {
		return 0, err
	}
	if len(pred) != len(y) {
		return 0, errors.NewDimensionError("LogisticRegression.Score", len(pred), len(y), 0)
	}
	correct := 0
	for i := range pred {
		if pred[i] == y[i] {
			correct++
		}
	}
	return float64(correct) / float64(len(y)), nil
}

// GetParams returns the model hyperparameters.
func (lr *LogisticRegression) GetParams() map[string]interface{} {
	return map[string]interface{}{
		"penalty":           "l2",
		"C":                 lr.C,
		"fit_intercept":     lr.fitIntercept,
		"intercept_scaling": lr.interceptScaling,
		"random_state":      lr.randomState,
		"solver":            lr.solver,
		"max_iter":          lr.maxIter,
		"tol":               lr.tol,
	}
}

// String returns a short description.
func (lr *LogisticRegression) String() string {
	return fmt.Sprintf("LogisticRegression(C=%g, solver=%s, max_iter=%d)", lr.C, lr.solver, lr.maxIter)
}

// logisticProblem is the primal objective
//
//	f(w) = 0.5 * sum(w_j^2 for regularized j) + C * sum_i log(1 + exp(-s_i w.x_i))
//
// with s_i = +1/-1. When an intercept is fitted, x_i gains a trailing
// constant column.
type logisticProblem struct {
	X              mat.Matrix
	target         []float64
	C              float64
	nFeatures      int
	dim            int
	intercept      bool
	interceptScale float64
	// regIntercept is true for liblinear, which penalizes the intercept.
	regIntercept bool
	z            []float64
}

func newLogisticProblem(X mat.Matrix, target []float64, C float64, fitIntercept bool, scaling float64) *logisticProblem {
	_, p := X.Dims()
	dim := p
	if fitIntercept {
		dim++
	}
	return &logisticProblem{
		X:              X,
		target:         target,
		C:              C,
		nFeatures:      p,
		dim:            dim,
		intercept:      fitIntercept,
		interceptScale: scaling,
		z:              make([]float64, len(target)),
	}
}

func (p *logisticProblem) feature(i, j int) float64 {
	if j == p.nFeatures {
		return p.interceptScale
	}
	return p.X.At(i, j)
}

func (p *logisticProblem) margins(w []float64) {
	for i := range p.z {
		z := 0.0
		for j := 0; j < p.dim; j++ {
			z += p.feature(i, j) * w[j]
		}
		p.z[i] = z
	}
}

func (p *logisticProblem) regularized(j int) bool {
	return j < p.nFeatures || p.regIntercept
}

func (p *logisticProblem) objective(w []float64) float64 {
	p.margins(w)
	reg := 0.0
	for j := 0; j < p.dim; j++ {
		if p.regularized(j) {
			reg += w[j] * w[j]
		}
	}
	loss := 0.0
	for i, z := range p.z {
		s := 2*p.target[i] - 1
		loss += errors.Log1pExp(-s * z)
	}
	return 0.5*reg + p.C*loss
}

// gradient assumes margins(w) has been called.
func (p *logisticProblem) gradient(grad, w []float64) {
	for j := 0; j < p.dim; j++ {
		grad[j] = 0
		if p.regularized(j) {
			grad[j] = w[j]
		}
	}
	for i, z := range p.z {
		r := p.C * (errors.Sigmoid(z) - p.target[i])
		for j := 0; j < p.dim; j++ {
			grad[j] += r * p.feature(i, j)
		}
	}
}

// newton runs a line-searched Newton method. It stops when
// ||grad|| <= tol * max(min(pos, neg)/n, eps) * ||grad0||, the liblinear
// primal criterion.
func (p *logisticProblem) newton(maxIter int, tol float64) ([]float64, int, bool, error) {
	p.regIntercept = true
	w := make([]float64, p.dim)
	grad := make([]float64, p.dim)
	step := make([]float64, p.dim)
	trial := make([]float64, p.dim)

	pos := floats.Sum(p.target)
	n := float64(len(p.target))
	epsScale := math.Max(math.Min(pos, n-pos)/n, 1e-12)

	f := p.objective(w)
	p.gradient(grad, w)
	gnorm0 := floats.Norm(grad, 2)
	if gnorm0 == 0 {
		return w, 0, true, nil
	}

	h := make([]float64, p.dim*p.dim)
	xi := make([]float64, p.dim)
	var chol mat.Cholesky
	for iter := 1; iter <= maxIter; iter++ {
		// H = I + C * sum d_i x_i x_i^T, d_i = s(1-s). Upper triangle only.
		for k := range h {
			h[k] = 0
		}
		for a := 0; a < p.dim; a++ {
			h[a*p.dim+a] = 1
		}
		for i, z := range p.z {
			s := errors.Sigmoid(z)
			d := p.C * s * (1 - s)
			if d == 0 {
				continue
			}
			for j := range xi {
				xi[j] = p.feature(i, j)
			}
			for a := 0; a < p.dim; a++ {
				xa := d * xi[a]
				row := h[a*p.dim:]
				for b := a; b < p.dim; b++ {
					row[b] += xa * xi[b]
				}
			}
		}
		hess := mat.NewSymDense(p.dim, h)
		if ok := chol.Factorize(hess); !ok {
			return nil, iter, false, errors.ErrSingularMatrix
		}
		dir := mat.NewVecDense(p.dim, step)
		if err := chol.SolveVecTo(dir, mat.NewVecDense(p.dim, grad)); err != nil {
			return nil, iter, false, err
		}

		// Backtracking line search along -step.
		slope := floats.Dot(grad, step)
		alpha := 1.0
		var fNew float64
		for {
			floats.AddScaledTo(trial, w, -alpha, step)
			fNew = p.objective(trial)
			if fNew <= f-1e-4*alpha*slope || alpha < 1e-10 {
				break
			}
			alpha /= 2
		}
		copy(w, trial)
		f = fNew
		p.gradient(grad, w)

		if err := errors.CheckNumericalStability("LogisticRegression.newton", w, iter); err != nil {
			return nil, iter, false, err
		}
		if floats.Norm(grad, 2) <= tol*epsScale*gnorm0 {
			return w, iter, true, nil
		}
	}
	return w, maxIter, false, nil
}

// lbfgs minimizes the objective with an unregularized intercept using
// gonum's L-BFGS.
func (p *logisticProblem) lbfgs(maxIter int, tol float64) ([]float64, int, bool, error) {
	p.regIntercept = false
	problem := optimize.Problem{
		Func: p.objective,
		Grad: func(grad, w []float64) {
			p.margins(w)
			p.gradient(grad, w)
		},
	}
	settings := &optimize.Settings{
		GradientThreshold: tol,
		MajorIterations:   maxIter,
	}
	res, err := optimize.Minimize(problem, make([]float64, p.dim), settings, &optimize.LBFGS{})
	if err != nil && res == nil {
		return nil, 0, false, err
	}
	converged := res.Status != optimize.IterationLimit
	return res.X, res.MajorIterations, converged, nil
}
