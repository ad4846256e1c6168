package bayesopt

import (
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"

	"github.com/YuminosukeSato/diabetesml/pkg/errors"
)

// DefaultLengthScales is the grid searched for the kernel length scale.
var DefaultLengthScales = []float64{0.05, 0.1, 0.2, 0.3, 0.5, 0.75, 1, 1.5, 2, 3, 5}

// GaussianProcess is a zero-mean GP regressor with a Matern 5/2 kernel of
// unit signal variance. Targets are standardized before fitting.
// Predict is safe for concurrent use once Fit has returned.
type GaussianProcess struct {
	Alpha        float64
	LengthScales []float64

	x           [][]float64
	alphaVec    *mat.VecDense
	kInv        *mat.SymDense
	yMean, yStd float64
	lengthScale float64
	lml         float64
}

// NewGaussianProcess returns a GP with jitter 1e-6 and the default grid.
func NewGaussianProcess() *GaussianProcess {
	return &GaussianProcess{Alpha: 1e-6, LengthScales: DefaultLengthScales}
}

// matern52 is k(r) = (1 + √5r/l + 5r²/3l²)·exp(−√5r/l).
func matern52(a, b []float64, l float64) float64 {
	r := floats.Distance(a, b, 2) / l
	s := math.Sqrt(5) * r
	return (1 + s + s*s/3) * math.Exp(-s)
}

// Fit conditions the GP on x and y, choosing the length scale with the
// largest log marginal likelihood.
func (gp *GaussianProcess) Fit(x [][]float64, y []float64) error {
	n := len(x)
	if n == 0 {
		return errors.Wrap(errors.ErrEmptyData, "GaussianProcess.Fit")
	}
	if len(y) != n {
		return errors.NewDimensionError("GaussianProcess.Fit", n, len(y), 0)
	}

	mean, std := stat.PopMeanStdDev(y, nil)
	if !(std > 0) {
		std = 1
	}
	yn := mat.NewVecDense(n, nil)
	for i, v := range y {
		yn.SetVec(i, (v-mean)/std)
	}

	best := math.Inf(-1)
	var bestChol *mat.Cholesky
	var bestAlpha *mat.VecDense
	bestScale := 0.0
	for _, l := range gp.LengthScales {
		chol, ok := gp.factorize(x, l)
		if !ok {
			continue
		}
		alpha := mat.NewVecDense(n, nil)
		if err := chol.SolveVecTo(alpha, yn); err != nil {
			continue
		}
		lml := -0.5*mat.Dot(yn, alpha) - 0.5*chol.LogDet() - 0.5*float64(n)*math.Log(2*math.Pi)
		if lml > best {
			best, bestChol, bestAlpha, bestScale = lml, chol, alpha, l
		}
	}
	if bestChol == nil {
		return errors.WithStack(errors.ErrSingularMatrix)
	}

	kInv := mat.NewSymDense(n, nil)
	if err := bestChol.InverseTo(kInv); err != nil {
		return errors.Wrap(err, "GaussianProcess.Fit")
	}

	gp.x = make([][]float64, n)
	for i := range x {
		gp.x[i] = append([]float64(nil), x[i]...)
	}
	gp.alphaVec = bestAlpha
	gp.kInv = kInv
	gp.yMean, gp.yStd = mean, std
	gp.lengthScale = bestScale
	gp.lml = best
	return nil
}

func (gp *GaussianProcess) factorize(x [][]float64, l float64) (*mat.Cholesky, bool) {
	n := len(x)
	K := mat.NewSymDense(n, nil)
	for i := 0; i < n; i++ {
		K.SetSym(i, i, 1+gp.Alpha)
		for j := i + 1; j < n; j++ {
			K.SetSym(i, j, matern52(x[i], x[j], l))
		}
	}
	var chol mat.Cholesky
	if ok := chol.Factorize(K); !ok {
		return nil, false
	}
	return &chol, true
}

// Predict returns the posterior mean and standard deviation at u, in the
// original target units.
func (gp *GaussianProcess) Predict(u []float64) (mean, std float64) {
	n := len(gp.x)
	k := mat.NewVecDense(n, nil)
	for i, xi := range gp.x {
		k.SetVec(i, matern52(u, xi, gp.lengthScale))
	}
	mu := mat.Dot(k, gp.alphaVec)
	variance := 1 - mat.Inner(k, gp.kInv, k)
	if variance < 0 {
		variance = 0
	}
	return mu*gp.yStd + gp.yMean, math.Sqrt(variance) * gp.yStd
}

// LengthScale returns the fitted length scale.
func (gp *GaussianProcess) LengthScale() float64 { return gp.lengthScale }

// LogMarginalLikelihood returns the log marginal likelihood of the fit.
func (gp *GaussianProcess) LogMarginalLikelihood() float64 { return gp.lml }
