package stepper

import (
	"math"

	"gonum.org/v1/gonum/mat"

	"github.com/banshee-data/trackfit/internal/field"
	"github.com/banshee-data/trackfit/internal/geom"
	"github.com/banshee-data/trackfit/internal/surface"
	"github.com/banshee-data/trackfit/internal/track"
)

// State is the mutable per-propagation transport state. It is owned by a
// single propagation; steppers never retain a reference to it.
type State struct {
	// Pos and Dir are the global position (mm) and unit direction.
	Pos geom.Vec3
	Dir geom.Vec3
	// QOverP is the signed charge over momentum (e/GeV), clamped away
	// from zero.
	QOverP float64
	// Mass is the particle hypothesis mass (GeV), used for the time
	// component of the transport.
	Mass float64

	// T0 is the absolute start time; Dt accumulates the elapsed time so
	// the absolute time is T0+Dt.
	T0 float64
	Dt float64

	// NavDir is +1 for forward, -1 for backward propagation.
	NavDir int
	// StepSize is the signed step proposal for the next Step call.
	StepSize float64
	// PathAccumulated is the signed path length since the start.
	PathAccumulated float64

	// CovTransport enables jacobian accumulation; the fields below are
	// only maintained when it is set.
	CovTransport bool
	// Cov is the bound covariance at the departure frame. It is only
	// moved to the current surface by a BoundState/CurvilinearState call.
	Cov *mat.SymDense
	// JacToGlobal is the 8x6 bound-to-free jacobian of the departure
	// frame; JacTransport the 8x8 free-transport jacobian accumulated
	// since departure; Derivative the free-parameter derivative along the
	// path at the end of the last step.
	JacToGlobal  *mat.Dense
	JacTransport *mat.Dense
	Derivative   track.FreeVector
	// Jacobian is the full 6x6 bound-to-bound jacobian accumulated across
	// bound-state extractions since the last reinitialization.
	Jacobian *mat.Dense

	// FieldCache carries field-lookup locality between steps.
	FieldCache field.Cache
}

// NewState seeds a transport state from bound parameters on a surface.
// stepSize is the unsigned initial step proposal; mass the particle
// hypothesis.
func NewState(pars track.BoundParameters, srf surface.Surface, navDir int, stepSize, mass float64) *State {
	b := pars.Vector
	dir := geom.DirectionFromAngles(b[track.Phi], b[track.Theta])
	st := &State{
		Pos:      srf.LocalToGlobal([2]float64{b[track.Loc0], b[track.Loc1]}, dir),
		Dir:      dir,
		QOverP:   track.ClampQOverP(b[track.QOverP]),
		Mass:     mass,
		T0:       b[track.Time],
		NavDir:   navDir,
		StepSize: float64(navDir) * math.Abs(stepSize),
	}
	if pars.Covariance != nil {
		st.CovTransport = true
		st.Cov = track.CloneSym(pars.Covariance)
		st.JacToGlobal = srf.InitJacobianToGlobal(st.Pos, dir, b)
		st.JacTransport = identityDense(track.FreeSize)
		st.Jacobian = identityDense(track.BoundSize)
	}
	return st
}

// NewStateFromCurvilinear seeds a transport state from curvilinear
// parameters, with the jacobian bookkeeping anchored to the direction
// frame.
func NewStateFromCurvilinear(pars track.CurvilinearParameters, navDir int, stepSize, mass float64) *State {
	b := pars.Vector
	dir := geom.DirectionFromAngles(b[track.Phi], b[track.Theta])
	st := &State{
		Pos:      pars.Position,
		Dir:      dir,
		QOverP:   track.ClampQOverP(b[track.QOverP]),
		Mass:     mass,
		T0:       b[track.Time],
		NavDir:   navDir,
		StepSize: float64(navDir) * math.Abs(stepSize),
	}
	if pars.Covariance != nil {
		st.CovTransport = true
		st.Cov = track.CloneSym(pars.Covariance)
		st.JacToGlobal = surface.CurvilinearJacobianToGlobal(dir, b)
		st.JacTransport = identityDense(track.FreeSize)
		st.Jacobian = identityDense(track.BoundSize)
	}
	return st
}

// Position returns the global position.
func (st *State) Position() geom.Vec3 { return st.Pos }

// Direction returns the unit direction.
func (st *State) Direction() geom.Vec3 { return st.Dir }

// Momentum returns the absolute momentum (GeV).
func (st *State) Momentum() float64 { return 1. / math.Abs(st.QOverP) }

// Charge returns the signed charge (e).
func (st *State) Charge() float64 {
	if st.QOverP < 0 {
		return -1
	}
	return 1
}

// Time returns the absolute time (ns).
func (st *State) Time() float64 { return st.T0 + st.Dt }

func identityDense(n int) *mat.Dense {
	m := mat.NewDense(n, n, nil)
	for i := 0; i < n; i++ {
		m.Set(i, i, 1)
	}
	return m
}
