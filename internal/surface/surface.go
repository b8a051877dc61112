// Package surface defines the detector-surface abstraction consumed by the
// propagation and fitting core: ray intersection, local/global coordinate
// maps and the surface-type-specific jacobian blocks that feed covariance
// transport. Four concrete surface types are provided (plane, cylinder,
// disc, line); the core only depends on the Surface interface.
package surface

import (
	"gonum.org/v1/gonum/mat"

	"github.com/banshee-data/trackfit/internal/geom"
	"github.com/banshee-data/trackfit/internal/track"
)

// Type discriminates the concrete surface geometry. Covariance transport
// branches on it only through the per-type jacobian methods below.
type Type int

const (
	Plane Type = iota
	Cylinder
	Disc
	Line
)

func (t Type) String() string {
	switch t {
	case Plane:
		return "plane"
	case Cylinder:
		return "cylinder"
	case Disc:
		return "disc"
	case Line:
		return "line"
	}
	return "unknown"
}

// OnSurfaceTolerance is the distance below which a global point is accepted
// as lying on a surface by GlobalToLocal.
const OnSurfaceTolerance = 1e-4

// Intersection is the result of a ray-surface intersection test. Callers
// must check Valid before using Position or PathLength.
type Intersection struct {
	Position   geom.Vec3
	PathLength float64
	Valid      bool
}

// Surface is the geometry contract the steppers and the fitter consume.
// Implementations must be immutable after construction so one instance can
// serve concurrent propagations.
type Surface interface {
	// Type returns the geometry discriminator.
	Type() Type

	// Center returns the surface reference point.
	Center() geom.Vec3

	// ReferenceFrame returns the local measurement frame at a position,
	// for line-like surfaces it depends on the track direction.
	ReferenceFrame(pos, dir geom.Vec3) geom.Frame

	// Intersect computes the intersection of the ray (pos, dir) with the
	// surface. navDir is +1 for forward, −1 for backward propagation and
	// selects which solutions are acceptable. When boundary is true the
	// intersection point must also lie within the surface bounds.
	Intersect(pos, dir geom.Vec3, navDir int, boundary bool) Intersection

	// LocalToGlobal maps local surface coordinates to a global point. The
	// direction is needed by line-like surfaces whose frame depends on it.
	LocalToGlobal(loc [2]float64, dir geom.Vec3) geom.Vec3

	// GlobalToLocal maps a global point into local coordinates. It reports
	// failure when the point is not on the surface within
	// OnSurfaceTolerance.
	GlobalToLocal(glob geom.Vec3, dir geom.Vec3) ([2]float64, bool)

	// InitJacobianToGlobal returns the 8x6 bound-to-free jacobian seeded
	// at this surface for the given bound vector.
	InitJacobianToGlobal(pos, dir geom.Vec3, b track.BoundVector) *mat.Dense

	// InitJacobianToLocal returns the 6x8 free-to-bound jacobian at the
	// given position/direction together with the reference frame used.
	InitJacobianToLocal(pos, dir geom.Vec3) (*mat.Dense, geom.Frame)

	// DerivativeFactors returns the 6-component row vector correcting the
	// bound-to-free jacobian for the path-length variation induced by a
	// change of the initial parameters (the projection of the direction
	// onto the surface normal, with the line-type frame-rotation
	// correction where applicable).
	DerivativeFactors(pos, dir geom.Vec3, frame geom.Frame, jacToGlobal *mat.Dense) [track.BoundSize]float64
}
