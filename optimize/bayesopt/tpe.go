package bayesopt

import (
	"sync"

	"github.com/c-bata/goptuna"
	"github.com/c-bata/goptuna/tpe"

	"github.com/YuminosukeSato/diabetesml/pkg/errors"
	"github.com/YuminosukeSato/diabetesml/pkg/log"
)

// Optimizer kinds accepted by ParseKind.
const (
	KindGP  = "gp"
	KindTPE = "tpe"
)

// ParseKind validates an optimizer kind; empty means KindGP.
func ParseKind(kind string) (string, error) {
	switch kind {
	case "", KindGP:
		return KindGP, nil
	case KindTPE:
		return KindTPE, nil
	}
	return "", errors.NewValidationError("optimizer", "must be gp or tpe", kind)
}

var errStudyClosed = errors.New("optimizer closed")

// TPEOptimizer maximizes an objective with a goptuna study and its
// tree-structured Parzen estimator sampler. The first initPoints trials are
// the sampler's random startup trials.
//
// goptuna drives its own trial loop, so the study runs in a goroutine started
// by the first Suggest. Each trial publishes its point and blocks until the
// matching Observe. Call Close to release the goroutine when the budget is
// abandoned.
type TPEOptimizer struct {
	recorder
	seed int64

	study   *goptuna.Study
	points  chan Params
	targets chan float64
	done    chan error
	quit    chan struct{}
	once    sync.Once
	started bool
	pending Params
}

// TPEOption is a functional option for TPEOptimizer.
type TPEOption func(*TPEOptimizer)

// WithTPEInitPoints sets the number of random startup trials.
func WithTPEInitPoints(n int) TPEOption {
	return func(o *TPEOptimizer) { o.initPoints = n }
}

// WithTPENIter sets the number of sampler-guided trials.
func WithTPENIter(n int) TPEOption {
	return func(o *TPEOptimizer) { o.nIter = n }
}

// WithTPESeed seeds the sampler.
func WithTPESeed(seed int64) TPEOption {
	return func(o *TPEOptimizer) { o.seed = seed }
}

// WithTPELogger sets the logger; the study logs through it too.
func WithTPELogger(logger log.Logger) TPEOption {
	return func(o *TPEOptimizer) { o.logger = logger }
}

// NewTPEOptimizer creates an optimizer with 5 startup trials and 25 guided
// trials.
func NewTPEOptimizer(bounds *Bounds, opts ...TPEOption) (*TPEOptimizer, error) {
	o := &TPEOptimizer{
		recorder: recorder{bounds: bounds, initPoints: 5, nIter: 25},
	}
	for _, opt := range opts {
		opt(o)
	}
	if err := o.validate(); err != nil {
		return nil, err
	}
	if o.logger == nil {
		o.logger = log.GetLoggerWithName("TPEOptimizer")
	}

	sampler := tpe.NewSampler(
		tpe.SamplerOptionSeed(o.seed),
		tpe.SamplerOptionNumberOfStartupTrials(o.initPoints),
	)
	study, err := goptuna.CreateStudy("diabetesml",
		goptuna.StudyOptionSampler(sampler),
		goptuna.StudyOptionDirection(goptuna.StudyDirectionMaximize),
		goptuna.StudyOptionLogger(o.logger),
	)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create goptuna study")
	}
	o.study = study
	o.points = make(chan Params)
	o.targets = make(chan float64)
	o.done = make(chan error, 1)
	o.quit = make(chan struct{})
	return o, nil
}

// objective is the goptuna trial body: it draws every dimension, hands the
// point to Suggest and returns the target passed to Observe.
func (o *TPEOptimizer) objective(trial goptuna.Trial) (float64, error) {
	p := make(Params, o.bounds.Dims())
	for _, d := range o.bounds.dims {
		v, err := trial.SuggestFloat(d.Name, d.Lo, d.Hi)
		if err != nil {
			return 0, err
		}
		p[d.Name] = v
	}
	select {
	case o.points <- o.bounds.Clip(p):
	case <-o.quit:
		return 0, errStudyClosed
	}
	select {
	case v := <-o.targets:
		return v, nil
	case <-o.quit:
		return 0, errStudyClosed
	}
}

// Suggest returns the point of the next trial. Until that point is observed,
// repeated calls return the same point.
func (o *TPEOptimizer) Suggest() (Params, error) {
	if o.state == Converged {
		return nil, errors.NewOptimizerStateError(o.state.String(), "suggest")
	}
	if o.closed() {
		return nil, errStudyClosed
	}
	if o.pending != nil {
		return o.pending.Clone(), nil
	}
	if !o.started {
		o.started = true
		go func() { o.done <- o.study.Optimize(o.objective, o.Budget()) }()
	}
	select {
	case p := <-o.points:
		o.pending = p
		o.state = o.phase()
		return p.Clone(), nil
	case err := <-o.done:
		o.state = Converged
		if err == nil {
			err = errors.NewOptimizerStateError(o.state.String(), "suggest")
		}
		return nil, errors.Wrap(err, "goptuna study stopped before the budget was spent")
	case <-o.quit:
		return nil, errStudyClosed
	}
}

// Observe completes the pending trial with target. p must be the point
// returned by the last Suggest.
func (o *TPEOptimizer) Observe(p Params, target float64) error {
	if err := o.check(p, target); err != nil {
		return err
	}
	if o.pending == nil || !samePoint(o.pending, p) {
		return errors.NewOptimizerStateError(o.state.String(), "observe a point that was not suggested")
	}
	if o.closed() {
		return errStudyClosed
	}
	select {
	case o.targets <- target:
	case <-o.quit:
		return errStudyClosed
	}
	o.pending = nil
	o.record(p, target)

	if o.state == Converged {
		if err := <-o.done; err != nil {
			return errors.Wrap(err, "goptuna study failed")
		}
	}
	return nil
}

// Close stops the study goroutine. It is safe to call more than once.
func (o *TPEOptimizer) Close() error {
	o.once.Do(func() { close(o.quit) })
	return nil
}

func (o *TPEOptimizer) closed() bool {
	select {
	case <-o.quit:
		return true
	default:
		return false
	}
}

// Maximize runs the full budget against objective and returns the best
// observation.
func (o *TPEOptimizer) Maximize(objective func(Params) float64) (Observation, error) {
	defer o.Close()
	return Run(o, objective)
}

func samePoint(a, b Params) bool {
	if len(a) != len(b) {
		return false
	}
	for k, v := range a {
		if w, ok := b[k]; !ok || w != v {
			return false
		}
	}
	return true
}
