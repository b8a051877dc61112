package surface

import (
	"math"

	"gonum.org/v1/gonum/mat"

	"github.com/banshee-data/trackfit/internal/geom"
	"github.com/banshee-data/trackfit/internal/track"
)

// jacobianToGlobal builds the default 8x6 bound-to-free jacobian from a
// reference frame and the bound angles. The local-position block is the
// in-plane part of the frame; the direction block is the analytic
// derivative of the angle parameterization.
func jacobianToGlobal(f geom.Frame, b track.BoundVector) *mat.Dense {
	j := mat.NewDense(track.FreeSize, track.BoundSize, nil)
	for i := 0; i < 3; i++ {
		j.Set(i, track.Loc0, f.U[i])
		j.Set(i, track.Loc1, f.V[i])
	}
	j.Set(track.FreeTime, track.Time, 1)
	setDirectionBlock(j, b[track.Phi], b[track.Theta])
	j.Set(track.FreeQOverP, track.QOverP, 1)
	return j
}

// setDirectionBlock fills d(direction)/d(phi, theta) into rows
// FreeDir0..FreeDir2.
func setDirectionBlock(j *mat.Dense, phi, theta float64) {
	sinPhi, cosPhi := math.Sincos(phi)
	sinTheta, cosTheta := math.Sincos(theta)
	j.Set(track.FreeDir0, track.Phi, -sinTheta*sinPhi)
	j.Set(track.FreeDir0, track.Theta, cosTheta*cosPhi)
	j.Set(track.FreeDir1, track.Phi, sinTheta*cosPhi)
	j.Set(track.FreeDir1, track.Theta, cosTheta*sinPhi)
	j.Set(track.FreeDir2, track.Theta, -sinTheta)
}

// jacobianToLocal builds the default 6x8 free-to-bound jacobian. The angle
// rows invert the direction parameterization; near the poles 1/sin(theta)
// grows without bound, which is inherent to the bound parameterization.
func jacobianToLocal(f geom.Frame, dir geom.Vec3) *mat.Dense {
	j := mat.NewDense(track.BoundSize, track.FreeSize, nil)
	for i := 0; i < 3; i++ {
		j.Set(track.Loc0, i, f.U[i])
		j.Set(track.Loc1, i, f.V[i])
	}
	j.Set(track.Time, track.FreeTime, 1)
	setAngleRows(j, dir)
	j.Set(track.QOverP, track.FreeQOverP, 1)
	return j
}

// setAngleRows fills d(phi, theta)/d(direction) into the angle rows.
func setAngleRows(j *mat.Dense, dir geom.Vec3) {
	sinTheta := dir.Perp()
	invSinTheta := 1. / sinTheta
	cosPhi := dir[0] * invSinTheta
	sinPhi := dir[1] * invSinTheta
	j.Set(track.Phi, track.FreeDir0, -sinPhi*invSinTheta)
	j.Set(track.Phi, track.FreeDir1, cosPhi*invSinTheta)
	j.Set(track.Theta, track.FreeDir2, -invSinTheta)
}

// derivativeFactorsDefault computes the path-variation correction row for
// surfaces whose reference frame is fixed: the projection of the position
// derivatives onto the surface normal, scaled by 1/(normal·direction).
func derivativeFactorsDefault(dir geom.Vec3, normal geom.Vec3, jacToGlobal *mat.Dense) [track.BoundSize]float64 {
	var out [track.BoundSize]float64
	nd := normal.Dot(dir)
	if nd == 0 {
		// Direction parallel to the surface; the correction is undefined
		// and the intersection would have been rejected upstream.
		return out
	}
	inv := 1. / nd
	for col := 0; col < track.BoundSize; col++ {
		var s float64
		for i := 0; i < 3; i++ {
			s += normal[i] * jacToGlobal.At(i, col)
		}
		out[col] = s * inv
	}
	return out
}
