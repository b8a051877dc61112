package fitter

import (
	"fmt"

	"gonum.org/v1/gonum/mat"

	"github.com/banshee-data/trackfit/internal/track"
)

// GainMatrixSmoother runs the backward Rauch-Tung-Striebel recursion over
// a forward-filtered trajectory, filling the Smoothed parameters of every
// state in place.
type GainMatrixSmoother struct{}

// Smooth requires the states in forward order, each carrying filtered
// parameters with covariance and the transport jacobian from its
// predecessor. The last state's smoothed parameters equal its filtered
// ones by construction.
func (GainMatrixSmoother) Smooth(states []*TrackState) error {
	if len(states) < 2 {
		return ErrNotSmoothed
	}

	last := states[len(states)-1]
	last.Smoothed = track.BoundParameters{
		Vector:     last.Filtered.Vector,
		Covariance: track.CloneSym(last.Filtered.Covariance),
	}
	last.HasSmoothed = true

	for k := len(states) - 2; k >= 0; k-- {
		cur, next := states[k], states[k+1]
		if cur.Filtered.Covariance == nil || next.Predicted.Covariance == nil {
			return fmt.Errorf("smooth state %d: missing covariance", k)
		}
		if next.Jacobian == nil {
			return fmt.Errorf("smooth state %d: missing transport jacobian", k)
		}

		var predInv mat.Dense
		if err := predInv.Inverse(next.Predicted.Covariance); err != nil {
			return fmt.Errorf("smooth state %d: %w: %v", k, ErrSingularCovariance, err)
		}

		// Smoother gain G = C_f Jt C_p^-1.
		var g mat.Dense
		g.Mul(cur.Filtered.Covariance, next.Jacobian.T())
		g.Mul(&g, &predInv)

		// Mean: x_s = x_f + G (x_s(next) - x_p(next)).
		smoothed := cur.Filtered.Vector
		var delta track.BoundVector
		for i := 0; i < track.BoundSize; i++ {
			d := next.Smoothed.Vector[i] - next.Predicted.Vector[i]
			if i == track.Phi {
				d = track.WrapPhi(d)
			}
			delta[i] = d
		}
		var corr mat.VecDense
		corr.MulVec(&g, delta.AsVecDense())
		for i := 0; i < track.BoundSize; i++ {
			smoothed[i] += corr.AtVec(i)
		}
		smoothed[track.Phi] = track.WrapPhi(smoothed[track.Phi])

		// Covariance: C_s = C_f + G (C_s(next) - C_p(next)) Gt.
		var diff mat.Dense
		diff.Sub(next.Smoothed.Covariance, next.Predicted.Covariance)
		var tmp mat.Dense
		tmp.Mul(&g, &diff)
		tmp.Mul(&tmp, g.T())
		var cs mat.Dense
		cs.Add(cur.Filtered.Covariance, &tmp)

		cur.Smoothed = track.BoundParameters{
			Vector:     smoothed,
			Covariance: track.SymmetrizeDense(track.BoundSize, &cs),
		}
		cur.HasSmoothed = true
	}
	return nil
}
