// Package fitter implements the Kalman track fit: the gain-matrix filter
// update, the backward gain-matrix smoother and the forward fitting loop
// that drives the propagator over an ordered sequence of measurement
// surfaces.
package fitter

import (
	"errors"
	"fmt"

	"gonum.org/v1/gonum/mat"

	"github.com/banshee-data/trackfit/internal/surface"
	"github.com/banshee-data/trackfit/internal/track"
)

var (
	// ErrSingularCovariance reports a non-invertible innovation
	// covariance in the filter update.
	ErrSingularCovariance = errors.New("singular innovation covariance")
	// ErrNotSmoothed reports a trajectory too short for the smoother.
	ErrNotSmoothed = errors.New("fewer than two states to smooth")
)

// Measurement is a calibrated hit on a surface: values in a subspace of
// the bound parameters, selected by Indices, with their covariance.
type Measurement struct {
	Surface surface.Surface
	// Indices lists the measured bound-parameter components, most often
	// [Loc0] or [Loc0, Loc1].
	Indices []int
	// Values holds one entry per index.
	Values []float64
	// Covariance is the measurement covariance, len(Indices) square.
	Covariance *mat.SymDense
}

// Dim returns the dimension of the measured subspace.
func (m *Measurement) Dim() int { return len(m.Indices) }

// Validate checks the internal consistency of the measurement.
func (m *Measurement) Validate() error {
	if m.Surface == nil {
		return errors.New("measurement without surface")
	}
	d := m.Dim()
	if d == 0 || d > track.BoundSize {
		return fmt.Errorf("measurement dimension %d out of range", d)
	}
	if len(m.Values) != d {
		return fmt.Errorf("measurement has %d values for %d indices", len(m.Values), d)
	}
	if m.Covariance == nil || m.Covariance.SymmetricDim() != d {
		return fmt.Errorf("measurement covariance does not match dimension %d", d)
	}
	seen := [track.BoundSize]bool{}
	for _, idx := range m.Indices {
		if idx < 0 || idx >= track.BoundSize || seen[idx] {
			return fmt.Errorf("invalid or duplicate measured index %d", idx)
		}
		seen[idx] = true
	}
	return nil
}

// Projector returns the selector matrix H mapping a bound vector onto the
// measured subspace.
func (m *Measurement) Projector() *mat.Dense {
	h := mat.NewDense(m.Dim(), track.BoundSize, nil)
	for row, idx := range m.Indices {
		h.Set(row, idx, 1)
	}
	return h
}

// Residual returns the measurement minus the projection of a bound vector,
// wrapping the azimuth component where it is measured.
func (m *Measurement) Residual(b track.BoundVector) []float64 {
	r := make([]float64, m.Dim())
	for row, idx := range m.Indices {
		d := m.Values[row] - b[idx]
		if idx == track.Phi {
			d = track.WrapPhi(d)
		}
		r[row] = d
	}
	return r
}

// Calibrator refines a raw measurement using the predicted parameters at
// its surface, e.g. resolving a drift-time ambiguity with the predicted
// drift side. Implementations must not mutate the input.
type Calibrator interface {
	Calibrate(m *Measurement, predicted track.BoundParameters) (*Measurement, error)
}

// PassThroughCalibrator returns measurements unchanged.
type PassThroughCalibrator struct{}

func (PassThroughCalibrator) Calibrate(m *Measurement, _ track.BoundParameters) (*Measurement, error) {
	return m, nil
}
