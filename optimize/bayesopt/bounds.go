package bayesopt

import (
	"fmt"
	"math"
	"math/rand/v2"
	"strings"

	"github.com/YuminosukeSato/diabetesml/pkg/errors"
)

// Dimension is one named axis of the search box.
type Dimension struct {
	Name string  `json:"name" yaml:"name"`
	Lo   float64 `json:"lo" yaml:"lo"`
	Hi   float64 `json:"hi" yaml:"hi"`
}

// Bounds is an ordered set of dimensions. The order fixes the layout of
// internal vectors and of String output.
type Bounds struct {
	dims []Dimension
}

// NewBounds validates dims: names must be unique and non-empty and every
// range finite with Lo < Hi.
func NewBounds(dims ...Dimension) (*Bounds, error) {
	if len(dims) == 0 {
		return nil, errors.NewValidationError("bounds", "at least one dimension is required", 0)
	}
	seen := make(map[string]bool, len(dims))
	for _, d := range dims {
		switch {
		case d.Name == "":
			return nil, errors.NewValidationError("bounds", "dimension name is empty", d)
		case seen[d.Name]:
			return nil, errors.NewValidationError("bounds", "duplicate dimension", d.Name)
		case math.IsNaN(d.Lo) || math.IsInf(d.Lo, 0) || math.IsNaN(d.Hi) || math.IsInf(d.Hi, 0):
			return nil, errors.NewValidationError(d.Name, "bounds must be finite", d)
		case !(d.Lo < d.Hi):
			return nil, errors.NewValidationError(d.Name, "lower bound must be below upper bound", d)
		}
		seen[d.Name] = true
	}
	return &Bounds{dims: append([]Dimension(nil), dims...)}, nil
}

// Dims returns the number of dimensions.
func (b *Bounds) Dims() int { return len(b.dims) }

// Dimensions returns a copy of the dimensions in order.
func (b *Bounds) Dimensions() []Dimension { return append([]Dimension(nil), b.dims...) }

// Params maps dimension names to values.
type Params map[string]float64

// Clone copies p.
func (p Params) Clone() Params {
	out := make(Params, len(p))
	for k, v := range p {
		out[k] = v
	}
	return out
}

// toVector lays p out in dimension order.
func (b *Bounds) toVector(p Params) ([]float64, error) {
	if len(p) != len(b.dims) {
		return nil, errors.NewDimensionError("Bounds.toVector", len(b.dims), len(p), 1)
	}
	x := make([]float64, len(b.dims))
	for i, d := range b.dims {
		v, ok := p[d.Name]
		if !ok {
			return nil, errors.NewValidationError(d.Name, "parameter missing", p)
		}
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return nil, errors.NewValidationError(d.Name, "parameter is not finite", v)
		}
		x[i] = v
	}
	return x, nil
}

func (b *Bounds) toParams(x []float64) Params {
	p := make(Params, len(b.dims))
	for i, d := range b.dims {
		p[d.Name] = x[i]
	}
	return p
}

// toUnit maps x into [0,1]^d; the surrogate works in unit coordinates so
// one length scale fits axes of very different widths.
func (b *Bounds) toUnit(x []float64) []float64 {
	u := make([]float64, len(x))
	for i, d := range b.dims {
		u[i] = (x[i] - d.Lo) / (d.Hi - d.Lo)
	}
	return u
}

func (b *Bounds) fromUnit(u []float64) []float64 {
	x := make([]float64, len(u))
	for i, d := range b.dims {
		// Lo + 1*(Hi-Lo) can round one ulp past Hi.
		x[i] = math.Min(d.Lo+clamp01(u[i])*(d.Hi-d.Lo), d.Hi)
	}
	return x
}

// Clip returns a copy of p with every value moved into its range.
func (b *Bounds) Clip(p Params) Params {
	out := p.Clone()
	for _, d := range b.dims {
		if v, ok := out[d.Name]; ok {
			out[d.Name] = math.Min(math.Max(v, d.Lo), d.Hi)
		}
	}
	return out
}

// Contains reports whether every value of p lies within its range.
func (b *Bounds) Contains(p Params) bool {
	for _, d := range b.dims {
		v, ok := p[d.Name]
		if !ok || v < d.Lo || v > d.Hi {
			return false
		}
	}
	return true
}

// sampleUnit draws a uniform point of the unit cube.
func (b *Bounds) sampleUnit(rng *rand.Rand) []float64 {
	u := make([]float64, len(b.dims))
	for i := range u {
		u[i] = rng.Float64()
	}
	return u
}

// Format renders p in dimension order.
func (b *Bounds) Format(p Params) string {
	var sb strings.Builder
	sb.WriteByte('{')
	for i, d := range b.dims {
		if i > 0 {
			sb.WriteString(", ")
		}
		fmt.Fprintf(&sb, "%s=%.4g", d.Name, p[d.Name])
	}
	sb.WriteByte('}')
	return sb.String()
}

func clamp01(v float64) float64 {
	return math.Min(math.Max(v, 0), 1)
}
