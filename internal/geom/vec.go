// Package geom provides the small fixed-size vector and frame types used by
// the trajectory propagation and covariance transport code. The integrator
// hot loop works on these directly; the larger state-space matrices live in
// gonum.
package geom

import "math"

// Vec3 is a 3-vector in global cartesian coordinates (mm for positions,
// dimensionless for unit directions, field units for magnetic fields).
type Vec3 [3]float64

// V constructs a Vec3.
func V(x, y, z float64) Vec3 { return Vec3{x, y, z} }

func (v Vec3) X() float64 { return v[0] }
func (v Vec3) Y() float64 { return v[1] }
func (v Vec3) Z() float64 { return v[2] }

// Add returns v + w.
func (v Vec3) Add(w Vec3) Vec3 {
	return Vec3{v[0] + w[0], v[1] + w[1], v[2] + w[2]}
}

// Sub returns v − w.
func (v Vec3) Sub(w Vec3) Vec3 {
	return Vec3{v[0] - w[0], v[1] - w[1], v[2] - w[2]}
}

// Scale returns s·v.
func (v Vec3) Scale(s float64) Vec3 {
	return Vec3{s * v[0], s * v[1], s * v[2]}
}

// Dot returns the scalar product v·w.
func (v Vec3) Dot(w Vec3) float64 {
	return v[0]*w[0] + v[1]*w[1] + v[2]*w[2]
}

// Cross returns the vector product v × w.
func (v Vec3) Cross(w Vec3) Vec3 {
	return Vec3{
		v[1]*w[2] - v[2]*w[1],
		v[2]*w[0] - v[0]*w[2],
		v[0]*w[1] - v[1]*w[0],
	}
}

// Norm returns the euclidean length of v.
func (v Vec3) Norm() float64 {
	return math.Sqrt(v.Dot(v))
}

// Norm2 returns the squared euclidean length of v.
func (v Vec3) Norm2() float64 { return v.Dot(v) }

// Perp returns the transverse (xy-plane) length of v.
func (v Vec3) Perp() float64 {
	return math.Hypot(v[0], v[1])
}

// Normalized returns v scaled to unit length. The zero vector is returned
// unchanged; callers constructing directions must guard against it.
func (v Vec3) Normalized() Vec3 {
	n := v.Norm()
	if n == 0 {
		return v
	}
	return v.Scale(1. / n)
}

// Phi returns the azimuthal angle of v in (−π, π].
func (v Vec3) Phi() float64 {
	return math.Atan2(v[1], v[0])
}

// Theta returns the polar angle of v in [0, π].
func (v Vec3) Theta() float64 {
	return math.Atan2(v.Perp(), v[2])
}

// DirectionFromAngles builds the unit direction for azimuth phi and polar
// angle theta.
func DirectionFromAngles(phi, theta float64) Vec3 {
	sinTheta := math.Sin(theta)
	return Vec3{
		math.Cos(phi) * sinTheta,
		math.Sin(phi) * sinTheta,
		math.Cos(theta),
	}
}
