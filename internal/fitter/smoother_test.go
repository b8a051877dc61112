package fitter

import (
	"errors"
	"math"
	"testing"

	"gonum.org/v1/gonum/mat"

	"github.com/banshee-data/trackfit/internal/track"
)

func mat6Identity() *mat.Dense {
	m := mat.NewDense(track.BoundSize, track.BoundSize, nil)
	for i := 0; i < track.BoundSize; i++ {
		m.Set(i, i, 1)
	}
	return m
}

func TestSmootherRequiresTwoStates(t *testing.T) {
	var smoother GainMatrixSmoother
	if err := smoother.Smooth(nil); !errors.Is(err, ErrNotSmoothed) {
		t.Errorf("nil states: expected ErrNotSmoothed, got %v", err)
	}
	one := []*TrackState{{
		Filtered: track.BoundParameters{
			Vector:     track.NewBoundVector(0, 0, 0, 1.5, 0.5, 0),
			Covariance: track.DiagonalSym([]float64{1, 1, 1, 1, 1, 1}),
		},
	}}
	if err := smoother.Smooth(one); !errors.Is(err, ErrNotSmoothed) {
		t.Errorf("single state: expected ErrNotSmoothed, got %v", err)
	}
}

func TestSmootherBoundaryCondition(t *testing.T) {
	states := twoStateChain()
	var smoother GainMatrixSmoother
	if err := smoother.Smooth(states); err != nil {
		t.Fatalf("smooth failed: %v", err)
	}

	last := states[1]
	if !last.HasSmoothed {
		t.Fatal("last state not smoothed")
	}
	for i := 0; i < track.BoundSize; i++ {
		if last.Smoothed.Vector[i] != last.Filtered.Vector[i] {
			t.Errorf("last smoothed vector %d differs from filtered", i)
		}
		for j := 0; j < track.BoundSize; j++ {
			if last.Smoothed.Covariance.At(i, j) != last.Filtered.Covariance.At(i, j) {
				t.Errorf("last smoothed covariance (%d,%d) differs from filtered", i, j)
			}
		}
	}
}

func TestSmootherIdentityTransportGain(t *testing.T) {
	// With identity transport jacobian and C_p(next) equal to C_f(cur),
	// the smoother gain is the identity: the update pulls the full
	// difference between the next smoothed and predicted states back.
	states := twoStateChain()
	var smoother GainMatrixSmoother
	if err := smoother.Smooth(states); err != nil {
		t.Fatalf("smooth failed: %v", err)
	}

	cur, next := states[0], states[1]
	for i := 0; i < track.BoundSize; i++ {
		want := cur.Filtered.Vector[i] + (next.Smoothed.Vector[i] - next.Predicted.Vector[i])
		if math.Abs(cur.Smoothed.Vector[i]-want) > 1e-12 {
			t.Errorf("smoothed vector %d: want %g, got %g", i, want, cur.Smoothed.Vector[i])
		}
		wantVar := cur.Filtered.Covariance.At(i, i) +
			(next.Smoothed.Covariance.At(i, i) - next.Predicted.Covariance.At(i, i))
		if math.Abs(cur.Smoothed.Covariance.At(i, i)-wantVar) > 1e-12 {
			t.Errorf("smoothed variance %d: want %g, got %g", i, wantVar, cur.Smoothed.Covariance.At(i, i))
		}
	}
	// Smoothing never inflates the variance beyond the filtered one here.
	for i := 0; i < track.BoundSize; i++ {
		if cur.Smoothed.Covariance.At(i, i) > cur.Filtered.Covariance.At(i, i)+1e-12 {
			t.Errorf("smoothed variance %d exceeds filtered", i)
		}
	}
}

func TestSmootherSingularPredictedCovariance(t *testing.T) {
	states := twoStateChain()
	states[1].Predicted.Covariance = track.DiagonalSym(make([]float64, track.BoundSize))

	var smoother GainMatrixSmoother
	if err := smoother.Smooth(states); !errors.Is(err, ErrSingularCovariance) {
		t.Fatalf("expected ErrSingularCovariance, got %v", err)
	}
}

// twoStateChain builds a minimal forward-filtered trajectory with identity
// transport between the two states.
func twoStateChain() []*TrackState {
	ones := []float64{1, 1, 1, 1, 1, 1}
	halves := []float64{0.5, 0.5, 0.5, 0.5, 0.5, 0.5}

	predicted2 := track.NewBoundVector(0.2, -0.1, 0.05, 0.9, 0.01, 1)
	filtered2 := predicted2
	filtered2[track.Loc0] += 0.1
	filtered2[track.Loc1] -= 0.04

	jac := mat6Identity()
	return []*TrackState{
		{
			Filtered: track.BoundParameters{
				Vector:     track.NewBoundVector(0.1, 0, 0.05, 0.9, 0.01, 0),
				Covariance: track.DiagonalSym(ones),
			},
		},
		{
			Predicted: track.BoundParameters{
				Vector:     predicted2,
				Covariance: track.DiagonalSym(ones),
			},
			Filtered: track.BoundParameters{
				Vector:     filtered2,
				Covariance: track.DiagonalSym(halves),
			},
			Jacobian: jac,
		},
	}
}
