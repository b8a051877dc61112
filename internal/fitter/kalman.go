package fitter

import (
	"context"
	"errors"
	"fmt"

	"github.com/banshee-data/trackfit/internal/monitoring"
	"github.com/banshee-data/trackfit/internal/propagator"
	"github.com/banshee-data/trackfit/internal/stepper"
	"github.com/banshee-data/trackfit/internal/surface"
	"github.com/banshee-data/trackfit/internal/track"
)

// SurfaceMeasurement pairs a sensitive surface with its measurement; a nil
// Measurement marks a surface the track is expected to cross without a
// recorded hit, counted as a hole.
type SurfaceMeasurement struct {
	Surface     surface.Surface
	Measurement *Measurement
}

// FitOptions tunes one fit call.
type FitOptions struct {
	// Mass is the particle hypothesis mass (GeV).
	Mass float64
	// Calibrator refines raw measurements against the prediction; nil
	// means pass-through.
	Calibrator Calibrator
}

// FitResult is the outcome of a Kalman fit.
type FitResult struct {
	// Parameters are the smoothed parameters at the first fitted
	// surface, which Surface names.
	Parameters track.BoundParameters
	Surface    surface.Surface

	// States holds one record per visited surface, in propagation order.
	States []*TrackState

	// Chi2 is the total filtered chi-square; NDF the measurement
	// dimension sum minus the bound parameter count.
	Chi2 float64
	NDF  int

	Measurements int
	Holes        int
}

// KalmanFitter runs the forward filter over an ordered surface sequence
// and the backward smoother over the result.
type KalmanFitter struct {
	prop     *propagator.Propagator
	updater  GainMatrixUpdater
	smoother GainMatrixSmoother
}

// NewKalman builds a fitter over a propagator.
func NewKalman(prop *propagator.Propagator) *KalmanFitter {
	return &KalmanFitter{prop: prop}
}

// Fit runs the full filter-and-smooth chain. The start parameters must
// carry a covariance; the sequence must be ordered along the propagation
// direction and contain at least one measurement.
func (f *KalmanFitter) Fit(ctx context.Context, start track.BoundParameters, startSurface surface.Surface, sequence []SurfaceMeasurement, opts FitOptions) (*FitResult, error) {
	if start.Covariance == nil {
		return nil, errors.New("fit: start parameters carry no covariance")
	}
	if len(sequence) == 0 {
		return nil, errors.New("fit: empty surface sequence")
	}
	calibrator := opts.Calibrator
	if calibrator == nil {
		calibrator = PassThroughCalibrator{}
	}

	st := stepper.NewState(start, startSurface, 1, 100, opts.Mass)
	stp := f.prop.Stepper()

	result := &FitResult{States: make([]*TrackState, 0, len(sequence))}
	for i, sm := range sequence {
		bs, err := f.prop.ToSurface(ctx, st, sm.Surface)
		if err != nil {
			return nil, fmt.Errorf("fit: leg %d: %w", i, err)
		}

		ts := &TrackState{
			Surface:    sm.Surface,
			Predicted:  bs.Parameters,
			Jacobian:   bs.Jacobian,
			PathLength: bs.PathLength,
		}

		if sm.Measurement == nil {
			// Hole: the filtered state is the prediction.
			ts.IsHole = true
			ts.Filtered = bs.Parameters
			result.Holes++
			result.States = append(result.States, ts)
			continue
		}

		calibrated, err := calibrator.Calibrate(sm.Measurement, bs.Parameters)
		if err != nil {
			return nil, fmt.Errorf("fit: calibrate surface %d: %w", i, err)
		}
		ts.Measurement = calibrated

		filtered, chi2, err := f.updater.Update(bs.Parameters, calibrated)
		if err != nil {
			return nil, fmt.Errorf("fit: surface %d: %w", i, err)
		}
		ts.Filtered = filtered
		ts.Chi2 = chi2

		result.Chi2 += chi2
		result.NDF += calibrated.Dim()
		result.Measurements++
		result.States = append(result.States, ts)

		// Resume transport from the filtered parameters.
		stp.Update(st, sm.Surface, filtered)
	}

	if result.Measurements == 0 {
		return nil, errors.New("fit: sequence contains no measurements")
	}
	result.NDF -= track.BoundSize

	if len(result.States) >= 2 {
		if err := f.smoother.Smooth(result.States); err != nil {
			return nil, fmt.Errorf("fit: %w", err)
		}
		first := result.States[0]
		result.Parameters = first.Smoothed
		result.Surface = first.Surface
	} else {
		only := result.States[0]
		result.Parameters = only.Filtered
		result.Surface = only.Surface
	}

	monitoring.Logf("fit: %d measurements, %d holes, chi2/ndf %.3f/%d",
		result.Measurements, result.Holes, result.Chi2, result.NDF)
	return result, nil
}
