package model

import "gonum.org/v1/gonum/mat"

// Applier is the fitted state of a transform.
type Applier interface {
	Transform(X mat.Matrix) (*mat.Dense, error)
}

// FittableTransform learns an Applier from data. Transform lives only on
// the returned state, so an unfitted transform cannot be applied.
type FittableTransform[S Applier] interface {
	Fit(X mat.Matrix) (S, error)
}

// FitTransform fits t on X and applies the learned state to X.
func FitTransform[S Applier](t FittableTransform[S], X mat.Matrix) (S, *mat.Dense, error) {
	state, err := t.Fit(X)
	if err != nil {
		var zero S
		return zero, nil, err
	}
	out, err := state.Transform(X)
	if err != nil {
		var zero S
		return zero, nil, err
	}
	return state, out, nil
}
