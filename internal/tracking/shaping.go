package tracking

import (
	"errors"
	"fmt"
	"sort"

	"gonum.org/v1/gonum/interp"
)

// ShapingFunc maps a raw blend shape intensity to the value that is smoothed.
// The result is clamped to [0, 1] by the dispatcher.
type ShapingFunc func(float64) float64

// Identity passes intensities through unchanged.
func Identity(x float64) float64 { return x }

// Keyframe is one control point of a shaping curve.
type Keyframe struct {
	In  float64 `json:"in"`
	Out float64 `json:"out"`
}

// ErrEmptyCurve is returned by NewLinearCurve when no keyframes are given.
var ErrEmptyCurve = errors.New("curve has no keyframes")

// NewLinearCurve builds a piecewise-linear curve through keys. Inputs outside
// the key range take the value of the nearest end key; a single key gives a
// constant curve. Keys may be given in any order but inputs must be distinct.
func NewLinearCurve(keys []Keyframe) (ShapingFunc, error) {
	switch len(keys) {
	case 0:
		return nil, ErrEmptyCurve
	case 1:
		out := keys[0].Out
		return func(float64) float64 { return out }, nil
	}

	sorted := append([]Keyframe(nil), keys...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].In < sorted[j].In })

	xs := make([]float64, len(sorted))
	ys := make([]float64, len(sorted))
	for i, k := range sorted {
		if i > 0 && k.In == sorted[i-1].In {
			return nil, fmt.Errorf("duplicate keyframe input %v", k.In)
		}
		xs[i], ys[i] = k.In, k.Out
	}

	var pl interp.PiecewiseLinear
	if err := pl.Fit(xs, ys); err != nil {
		return nil, fmt.Errorf("fit curve: %w", err)
	}
	lo, hi := xs[0], xs[len(xs)-1]
	return func(x float64) float64 {
		switch {
		case x <= lo:
			return ys[0]
		case x >= hi:
			return ys[len(ys)-1]
		}
		return pl.Predict(x)
	}, nil
}

// Curves maps a blend shape group to its shaping function.
type Curves map[string]ShapingFunc

// For returns the curve for group, or Identity when none is configured.
func (c Curves) For(group string) ShapingFunc {
	if f, ok := c[group]; ok && f != nil {
		return f
	}
	return Identity
}

// BuildCurves compiles keyframes per group into Curves.
func BuildCurves(keys map[string][]Keyframe) (Curves, error) {
	curves := make(Curves, len(keys))
	for group, k := range keys {
		f, err := NewLinearCurve(k)
		if err != nil {
			return nil, fmt.Errorf("curve for group %q: %w", group, err)
		}
		curves[group] = f
	}
	return curves, nil
}
