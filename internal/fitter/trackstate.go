package fitter

import (
	"gonum.org/v1/gonum/mat"

	"github.com/banshee-data/trackfit/internal/surface"
	"github.com/banshee-data/trackfit/internal/track"
)

// TrackState is the fit record at one visited surface. Predicted is always
// set; Filtered only where a measurement was applied; Smoothed after the
// backward pass.
type TrackState struct {
	Surface surface.Surface

	// Measurement is the calibrated measurement, nil on holes.
	Measurement *Measurement

	Predicted track.BoundParameters
	Filtered  track.BoundParameters
	Smoothed  track.BoundParameters

	// Jacobian is the full transport jacobian from the previous state's
	// surface to this one.
	Jacobian *mat.Dense

	// PathLength is the accumulated signed path from the fit start.
	PathLength float64

	// Chi2 is the filtered-residual chi-square contribution, zero on
	// holes.
	Chi2 float64

	// IsHole marks a sensitive surface crossed without a measurement.
	IsHole bool

	// HasSmoothed reports whether Smoothed is valid.
	HasSmoothed bool
}
