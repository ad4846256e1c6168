package bayesopt

// State is the optimizer life-cycle phase.
type State int

const (
	// Initialized: nothing suggested yet.
	Initialized State = iota
	// Probing: random initial points are being evaluated.
	Probing
	// Optimizing: points are chosen by the acquisition function.
	Optimizing
	// Converged: the evaluation budget is spent. Terminal.
	Converged
)

func (s State) String() string {
	switch s {
	case Initialized:
		return "Initialized"
	case Probing:
		return "Probing"
	case Optimizing:
		return "Optimizing"
	case Converged:
		return "Converged"
	default:
		return "Unknown"
	}
}
