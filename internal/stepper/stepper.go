// Package stepper implements the single-step track transport engines: an
// adaptive Runge-Kutta-Nystrom stepper for inhomogeneous magnetic fields
// and a straight-line stepper for field-free regions. Both advance a shared
// State and accumulate the analytic transport jacobian that the bound-state
// extraction folds into a full 6x6 parameter jacobian.
package stepper

import (
	"errors"

	"gonum.org/v1/gonum/mat"

	"github.com/banshee-data/trackfit/internal/geom"
	"github.com/banshee-data/trackfit/internal/surface"
	"github.com/banshee-data/trackfit/internal/track"
)

// ErrStepSizeStalled reports that the adaptive step-size control shrank the
// step below the numerical cutoff, typically because the local curvature is
// pathologically large for the configured tolerance.
var ErrStepSizeStalled = errors.New("step size stalled below cutoff")

// Config tunes the adaptive step-size control. The zero value is not
// usable; start from DefaultConfig.
type Config struct {
	// Tolerance is the target local truncation error per step.
	Tolerance float64
	// StepSizeCutOff is the step length (mm) below which the adaptive
	// control gives up and reports a stall.
	StepSizeCutOff float64
	// MaxStepTrials bounds the number of shrink retries within one step
	// attempt before the current step is accepted as a last resort.
	MaxStepTrials int
	// MaxStepSize caps the step length (mm) the control may propose.
	MaxStepSize float64
}

// DefaultConfig returns the tuning used by the fitting chain.
func DefaultConfig() Config {
	return Config{
		Tolerance:      1e-4,
		StepSizeCutOff: 1e-4,
		MaxStepTrials:  100,
		MaxStepSize:    1000,
	}
}

// BoundState is a stepper state projected onto a surface: the bound
// parameters, the full 6x6 jacobian accumulated since the last
// reinitialization and the signed path length since the start.
type BoundState struct {
	Parameters track.BoundParameters
	Surface    surface.Surface
	Jacobian   *mat.Dense
	PathLength float64
}

// CurvilinearState is the surface-free analogue of BoundState, bound to
// the frame defined by the track direction.
type CurvilinearState struct {
	Parameters track.CurvilinearParameters
	Jacobian   *mat.Dense
	PathLength float64
}

// Stepper is the transport engine contract the propagator drives. All
// methods operate on a caller-owned State so one Stepper instance can serve
// concurrent propagations.
type Stepper interface {
	// GetField looks up the magnetic field at a global position, threading
	// the state's field cache.
	GetField(st *State, pos geom.Vec3) geom.Vec3

	// Step advances the state by (at most) st.StepSize and returns the
	// signed step length actually taken.
	Step(st *State) (float64, error)

	// BoundState projects the state onto a surface, transporting the
	// covariance when the state carries one. With reinitialize the
	// accumulated jacobian is reset so a following extraction measures
	// transport from this surface.
	BoundState(st *State, srf surface.Surface, reinitialize bool) (BoundState, error)

	// CurvilinearState projects the state onto the curvilinear frame of
	// its current direction.
	CurvilinearState(st *State, reinitialize bool) CurvilinearState

	// Update resets the state's kinematics (and covariance, when present)
	// from bound parameters on a surface.
	Update(st *State, srf surface.Surface, pars track.BoundParameters)

	// UpdateComponents overwrites position, direction, absolute momentum
	// and time without touching the covariance bookkeeping.
	UpdateComponents(st *State, pos, dir geom.Vec3, p, t float64)
}
