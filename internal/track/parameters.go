// Package track holds the state-vector data model of the reconstruction
// toolkit: the surface-bound and free/global parameterizations of a charged
// particle state, their covariance matrices, and the conversions between
// angle and direction representations.
package track

import (
	"math"

	"gonum.org/v1/gonum/mat"

	"github.com/banshee-data/trackfit/internal/geom"
)

// Bound parameter indices. A bound vector lives in the local frame of a
// reference surface: two local coordinates, the global direction angles,
// charge over momentum and time.
const (
	Loc0 = iota
	Loc1
	Phi
	Theta
	QOverP
	Time

	BoundSize = 6
)

// Free parameter indices. The free vector is the surface-independent
// representation used inside the integrators: global position, time, unit
// direction and charge over momentum.
const (
	FreePos0 = iota
	FreePos1
	FreePos2
	FreeTime
	FreeDir0
	FreeDir1
	FreeDir2
	FreeQOverP

	FreeSize = 8
)

// MinQOverP is the minimum magnitude of the charge-over-momentum component.
// Values below it are clamped at construction time since the steppers and
// the updater divide by q/p.
const MinQOverP = 1e-15

// BoundVector is the 6-component bound parameter vector.
type BoundVector [BoundSize]float64

// FreeVector is the 8-component free parameter vector.
type FreeVector [FreeSize]float64

// WrapPhi reduces an azimuth into (−π, π].
func WrapPhi(phi float64) float64 {
	phi = math.Mod(phi, 2*math.Pi)
	if phi <= -math.Pi {
		phi += 2 * math.Pi
	} else if phi > math.Pi {
		phi -= 2 * math.Pi
	}
	return phi
}

// NormalizeAngles brings an azimuth/polar pair into the canonical ranges
// phi ∈ (−π, π], theta ∈ [0, π]. A polar angle outside its range is folded
// back and the azimuth rotated by π so the direction is unchanged.
func NormalizeAngles(phi, theta float64) (float64, float64) {
	theta = math.Mod(theta, 2*math.Pi)
	if theta < 0 {
		theta += 2 * math.Pi
	}
	if theta > math.Pi {
		theta = 2*math.Pi - theta
		phi += math.Pi
	}
	return WrapPhi(phi), theta
}

// ClampQOverP enforces the MinQOverP floor while preserving sign. A zero
// input is treated as positive charge.
func ClampQOverP(qop float64) float64 {
	if math.Abs(qop) >= MinQOverP {
		return qop
	}
	if qop < 0 {
		return -MinQOverP
	}
	return MinQOverP
}

// NewBoundVector builds a bound vector with the angle and q/p invariants
// applied.
func NewBoundVector(loc0, loc1, phi, theta, qop, t float64) BoundVector {
	phi, theta = NormalizeAngles(phi, theta)
	return BoundVector{loc0, loc1, phi, theta, ClampQOverP(qop), t}
}

// Direction returns the global unit direction encoded by the angle
// components.
func (b BoundVector) Direction() geom.Vec3 {
	return geom.DirectionFromAngles(b[Phi], b[Theta])
}

// Momentum returns the absolute momentum |p| = 1/|q/p|.
func (b BoundVector) Momentum() float64 {
	return 1. / math.Abs(b[QOverP])
}

// Charge returns the particle charge sign encoded in q/p.
func (b BoundVector) Charge() float64 {
	if b[QOverP] < 0 {
		return -1
	}
	return 1
}

// AsVecDense copies the bound vector into a gonum column vector.
func (b BoundVector) AsVecDense() *mat.VecDense {
	return mat.NewVecDense(BoundSize, b[:])
}

// NewFreeVector builds a free vector from position, time, direction and
// q/p. The direction is normalized and q/p clamped.
func NewFreeVector(pos geom.Vec3, t float64, dir geom.Vec3, qop float64) FreeVector {
	dir = dir.Normalized()
	return FreeVector{
		pos[0], pos[1], pos[2], t,
		dir[0], dir[1], dir[2],
		ClampQOverP(qop),
	}
}

// Position returns the global position components.
func (f FreeVector) Position() geom.Vec3 {
	return geom.Vec3{f[FreePos0], f[FreePos1], f[FreePos2]}
}

// Direction returns the direction components. The stepper renormalizes
// after every accepted integration step, so this is unit length up to
// floating point drift.
func (f FreeVector) Direction() geom.Vec3 {
	return geom.Vec3{f[FreeDir0], f[FreeDir1], f[FreeDir2]}
}

// Momentum returns the absolute momentum.
func (f FreeVector) Momentum() float64 {
	return 1. / math.Abs(f[FreeQOverP])
}

// Charge returns the charge sign.
func (f FreeVector) Charge() float64 {
	if f[FreeQOverP] < 0 {
		return -1
	}
	return 1
}

// BoundParameters is a bound vector with its optional covariance. The
// reference surface is carried by the caller; the numerics only need the
// local representation.
type BoundParameters struct {
	Vector     BoundVector
	Covariance *mat.SymDense // nil when covariance is not tracked
}

// CurvilinearParameters is a bound-style vector expressed in the frame
// defined purely by the track direction. The local coordinates are zero by
// construction; position and direction pin the frame in space.
type CurvilinearParameters struct {
	Vector     BoundVector
	Covariance *mat.SymDense
	Position   geom.Vec3
}

// NewCurvilinearParameters builds curvilinear parameters from a global
// position, direction, q/p and time.
func NewCurvilinearParameters(pos geom.Vec3, dir geom.Vec3, qop, t float64, cov *mat.SymDense) CurvilinearParameters {
	dir = dir.Normalized()
	return CurvilinearParameters{
		Vector:     NewBoundVector(0, 0, dir.Phi(), dir.Theta(), qop, t),
		Covariance: cov,
		Position:   pos,
	}
}
