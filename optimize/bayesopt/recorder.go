package bayesopt

import (
	"math"

	"github.com/YuminosukeSato/diabetesml/pkg/errors"
	"github.com/YuminosukeSato/diabetesml/pkg/log"
)

// recorder is the observation log and life-cycle state shared by every
// Optimizer in this package.
type recorder struct {
	bounds     *Bounds
	initPoints int
	nIter      int
	logger     log.Logger

	state   State
	history []Observation
}

func (r *recorder) validate() error {
	switch {
	case r.bounds == nil:
		return errors.NewValidationError("bounds", "must not be nil", nil)
	case r.initPoints < 0:
		return errors.NewValidationError("init_points", "must be non-negative", r.initPoints)
	case r.nIter < 0:
		return errors.NewValidationError("n_iter", "must be non-negative", r.nIter)
	case r.initPoints+r.nIter < 1:
		return errors.NewValidationError("n_iter", "init_points + n_iter must be at least 1", r.nIter)
	}
	return nil
}

// Budget returns the total number of evaluations, init_points + n_iter.
func (r *recorder) Budget() int { return r.initPoints + r.nIter }

// State returns the current phase.
func (r *recorder) State() State { return r.state }

// Bounds returns the search box.
func (r *recorder) Bounds() *Bounds { return r.bounds }

// check rejects an observation the log cannot accept.
func (r *recorder) check(p Params, target float64) error {
	if r.state == Converged {
		return errors.NewOptimizerStateError(r.state.String(), "observe")
	}
	if _, err := r.bounds.toVector(p); err != nil {
		return err
	}
	if !r.bounds.Contains(p) {
		return errors.NewValidationError("params", "point lies outside the bounds", r.bounds.Format(p))
	}
	if math.IsNaN(target) || math.IsInf(target, 0) {
		return errors.NewValidationError("target", "must be finite", target)
	}
	return nil
}

// phase is the state the next suggestion belongs to.
func (r *recorder) phase() State {
	if len(r.history) < r.initPoints {
		return Probing
	}
	return Optimizing
}

// record appends an observation that passed check and advances the state.
func (r *recorder) record(p Params, target float64) Observation {
	n := len(r.history)
	obs := Observation{
		Index:  n + 1,
		Params: p.Clone(),
		Target: target,
	}
	if n < r.initPoints {
		obs.Phase = Probing.String()
		obs.Iteration = n + 1
	} else {
		obs.Phase = Optimizing.String()
		obs.Iteration = n - r.initPoints + 1
	}
	r.history = append(r.history, obs)

	if len(r.history) >= r.Budget() {
		r.state = Converged
	} else {
		r.state = r.phase()
	}

	r.logger.Info("Optimizer observation",
		log.IterationKey, obs.Index,
		"phase", obs.Phase,
		log.ScoreKey, target,
		log.HyperParamsKey, r.bounds.Format(p),
	)
	return obs
}

// Best returns the observation with the highest target; the earliest wins
// ties. ok is false before the first observation.
func (r *recorder) Best() (obs Observation, ok bool) {
	for i, h := range r.history {
		if i == 0 || h.Target > obs.Target {
			obs = h
			ok = true
		}
	}
	return obs, ok
}

// History returns all observations in arrival order.
func (r *recorder) History() []Observation {
	return append([]Observation(nil), r.history...)
}

// Run drives opt through its whole budget against objective and returns
// the best observation.
func Run(opt Optimizer, objective func(Params) float64) (Observation, error) {
	for opt.State() != Converged {
		p, err := opt.Suggest()
		if err != nil {
			return Observation{}, err
		}
		if err := opt.Observe(p, objective(p)); err != nil {
			return Observation{}, err
		}
	}
	best, _ := opt.Best()
	return best, nil
}
