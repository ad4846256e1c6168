package bayesopt

import (
	"fmt"

	"gonum.org/v1/gonum/stat/distuv"

	"github.com/YuminosukeSato/diabetesml/pkg/errors"
)

// Acquisition scores a candidate from its posterior mean and standard
// deviation and the best target seen so far. Higher is better.
type Acquisition interface {
	Score(mean, std, best float64) float64
	String() string
}

// UpperConfidenceBound is mean + Kappa·std.
type UpperConfidenceBound struct {
	Kappa float64
}

// NewUCB returns UCB with kappa 2.576.
func NewUCB() UpperConfidenceBound { return UpperConfidenceBound{Kappa: 2.576} }

func (a UpperConfidenceBound) Score(mean, std, _ float64) float64 {
	return mean + a.Kappa*std
}

func (a UpperConfidenceBound) String() string { return fmt.Sprintf("ucb(kappa=%g)", a.Kappa) }

// ExpectedImprovement is E[max(f − best − Xi, 0)] under the posterior.
type ExpectedImprovement struct {
	Xi float64
}

// NewEI returns EI with xi 0.
func NewEI() ExpectedImprovement { return ExpectedImprovement{} }

func (a ExpectedImprovement) Score(mean, std, best float64) float64 {
	imp := mean - best - a.Xi
	if std <= 0 {
		return max(imp, 0)
	}
	z := imp / std
	return imp*distuv.UnitNormal.CDF(z) + std*distuv.UnitNormal.Prob(z)
}

func (a ExpectedImprovement) String() string { return fmt.Sprintf("ei(xi=%g)", a.Xi) }

// ParseAcquisition maps "ucb" and "ei" to their defaults.
func ParseAcquisition(name string) (Acquisition, error) {
	switch name {
	case "", "ucb":
		return NewUCB(), nil
	case "ei":
		return NewEI(), nil
	}
	return nil, errors.NewValidationError("acquisition", "must be ucb or ei", name)
}
