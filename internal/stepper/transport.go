package stepper

import (
	"fmt"

	"gonum.org/v1/gonum/mat"

	"github.com/banshee-data/trackfit/internal/geom"
	"github.com/banshee-data/trackfit/internal/surface"
	"github.com/banshee-data/trackfit/internal/track"
)

// binder carries the stepper-independent state projection and update
// operations; both concrete steppers embed it.
type binder struct{}

func (binder) BoundState(st *State, srf surface.Surface, reinitialize bool) (BoundState, error) {
	loc, ok := srf.GlobalToLocal(st.Pos, st.Dir)
	if !ok {
		return BoundState{}, fmt.Errorf("bound state: position %v not on %s surface", st.Pos, srf.Type())
	}
	vec := track.NewBoundVector(loc[0], loc[1], st.Dir.Phi(), st.Dir.Theta(), st.QOverP, st.Time())

	var cov *mat.SymDense
	if st.CovTransport {
		transportCovarianceToBound(st, srf, vec)
		cov = track.CloneSym(st.Cov)
	}
	jac := cloneOrNil(st.Jacobian)
	if reinitialize && st.Jacobian != nil {
		st.Jacobian = identityDense(track.BoundSize)
	}
	return BoundState{
		Parameters: track.BoundParameters{Vector: vec, Covariance: cov},
		Surface:    srf,
		Jacobian:   jac,
		PathLength: st.PathAccumulated,
	}, nil
}

func (binder) CurvilinearState(st *State, reinitialize bool) CurvilinearState {
	vec := track.NewBoundVector(0, 0, st.Dir.Phi(), st.Dir.Theta(), st.QOverP, st.Time())

	var cov *mat.SymDense
	if st.CovTransport {
		transportCovarianceToCurvilinear(st, vec)
		cov = track.CloneSym(st.Cov)
	}
	jac := cloneOrNil(st.Jacobian)
	if reinitialize && st.Jacobian != nil {
		st.Jacobian = identityDense(track.BoundSize)
	}
	return CurvilinearState{
		Parameters: track.CurvilinearParameters{
			Vector:     vec,
			Covariance: cov,
			Position:   st.Pos,
		},
		Jacobian:   jac,
		PathLength: st.PathAccumulated,
	}
}

func (binder) Update(st *State, srf surface.Surface, pars track.BoundParameters) {
	b := pars.Vector
	dir := geom.DirectionFromAngles(b[track.Phi], b[track.Theta])
	st.Pos = srf.LocalToGlobal([2]float64{b[track.Loc0], b[track.Loc1]}, dir)
	st.Dir = dir
	st.QOverP = track.ClampQOverP(b[track.QOverP])
	st.Dt = b[track.Time] - st.T0
	if pars.Covariance != nil {
		st.CovTransport = true
		st.Cov = track.CloneSym(pars.Covariance)
		st.JacToGlobal = srf.InitJacobianToGlobal(st.Pos, dir, b)
		resetTransport(st)
		if st.Jacobian == nil {
			st.Jacobian = identityDense(track.BoundSize)
		}
	}
}

func (binder) UpdateComponents(st *State, pos, dir geom.Vec3, p, t float64) {
	st.Pos = pos
	st.Dir = dir.Normalized()
	st.QOverP = track.ClampQOverP(st.Charge() / p)
	st.Dt = t - st.T0
}

// transportCovarianceToBound folds the accumulated free transport into the
// bound frame of srf: the covariance moves from the departure surface onto
// srf and the transport bookkeeping is reseeded there.
func transportCovarianceToBound(st *State, srf surface.Surface, vec track.BoundVector) {
	var boundToFree mat.Dense
	boundToFree.Mul(st.JacTransport, st.JacToGlobal)

	jacToLocal, frame := srf.InitJacobianToLocal(st.Pos, st.Dir)
	s := srf.DerivativeFactors(st.Pos, st.Dir, frame, &boundToFree)
	applyPathCorrection(&boundToFree, st.Derivative, s)

	foldFullJacobian(st, jacToLocal, &boundToFree)

	st.JacToGlobal = srf.InitJacobianToGlobal(st.Pos, st.Dir, vec)
	resetTransport(st)
}

func transportCovarianceToCurvilinear(st *State, vec track.BoundVector) {
	var boundToFree mat.Dense
	boundToFree.Mul(st.JacTransport, st.JacToGlobal)

	jacToLocal := surface.CurvilinearJacobianToLocal(st.Dir)
	s := surface.CurvilinearDerivativeFactors(st.Dir, &boundToFree)
	applyPathCorrection(&boundToFree, st.Derivative, s)

	foldFullJacobian(st, jacToLocal, &boundToFree)

	st.JacToGlobal = surface.CurvilinearJacobianToGlobal(st.Dir, vec)
	resetTransport(st)
}

// applyPathCorrection subtracts the rank-one term derivative·s accounting
// for the path-length variation induced by a change of the departure
// parameters.
func applyPathCorrection(boundToFree *mat.Dense, derivative track.FreeVector, s [track.BoundSize]float64) {
	for r := 0; r < track.FreeSize; r++ {
		if derivative[r] == 0 {
			continue
		}
		for c := 0; c < track.BoundSize; c++ {
			boundToFree.Set(r, c, boundToFree.At(r, c)-derivative[r]*s[c])
		}
	}
}

// foldFullJacobian composes the full 6x6 jacobian of this leg, applies the
// similarity transform to the covariance and accumulates the jacobian.
func foldFullJacobian(st *State, jacToLocal mat.Matrix, boundToFree *mat.Dense) {
	var full mat.Dense
	full.Mul(jacToLocal, boundToFree)

	st.Cov = track.Similarity(&full, st.Cov)

	var acc mat.Dense
	acc.Mul(&full, st.Jacobian)
	st.Jacobian = &acc
}

func resetTransport(st *State) {
	st.JacTransport = identityDense(track.FreeSize)
	st.Derivative = track.FreeVector{}
}

func cloneOrNil(m *mat.Dense) *mat.Dense {
	if m == nil {
		return nil
	}
	return mat.DenseCopyOf(m)
}
