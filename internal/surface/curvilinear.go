package surface

import (
	"math"

	"gonum.org/v1/gonum/mat"

	"github.com/banshee-data/trackfit/internal/geom"
	"github.com/banshee-data/trackfit/internal/track"
)

// CurvilinearProjTolerance bounds |cos(theta)| above which the standard
// curvilinear frame construction becomes numerically unstable and the
// grazing-incidence variant is used instead.
const CurvilinearProjTolerance = 0.999995

// CurvilinearJacobianToGlobal seeds the 8x6 bound-to-free jacobian for the
// frame defined purely by the track direction, used when a propagation
// starts or rebinds without a physical surface.
func CurvilinearJacobianToGlobal(dir geom.Vec3, b track.BoundVector) *mat.Dense {
	return jacobianToGlobal(geom.CurvilinearFrame(dir), b)
}

// CurvilinearDerivativeFactors is the path-variation correction row for the
// curvilinear frame, whose reference plane is normal to the direction.
func CurvilinearDerivativeFactors(dir geom.Vec3, jacToGlobal *mat.Dense) [track.BoundSize]float64 {
	return derivativeFactorsDefault(dir, dir, jacToGlobal)
}

// CurvilinearJacobianToLocal builds the 6x8 free-to-bound jacobian onto the
// curvilinear frame of the given direction. Near the z axis the standard
// frame definition degenerates and an alternative local basis is used.
func CurvilinearJacobianToLocal(dir geom.Vec3) *mat.Dense {
	x, y, z := dir[0], dir[1], dir[2]
	cosTheta := z
	sinTheta := math.Hypot(x, y)
	invSinTheta := 1. / sinTheta
	cosPhi := x * invSinTheta
	sinPhi := y * invSinTheta

	j := mat.NewDense(track.BoundSize, track.FreeSize, nil)
	if math.Abs(cosTheta) < CurvilinearProjTolerance {
		j.Set(track.Loc0, 0, -sinPhi)
		j.Set(track.Loc0, 1, cosPhi)
		j.Set(track.Loc1, 0, -cosPhi*cosTheta)
		j.Set(track.Loc1, 1, -sinPhi*cosTheta)
		j.Set(track.Loc1, 2, sinTheta)
	} else {
		// Under grazing incidence to z the frame above is unstable; switch
		// to a basis built from the yz components.
		c := math.Hypot(y, z)
		invC := 1. / c
		j.Set(track.Loc0, 1, -z*invC)
		j.Set(track.Loc0, 2, y*invC)
		j.Set(track.Loc1, 0, c)
		j.Set(track.Loc1, 1, -x*y*invC)
		j.Set(track.Loc1, 2, -x*z*invC)
	}
	j.Set(track.Time, track.FreeTime, 1)
	j.Set(track.Phi, track.FreeDir0, -sinPhi*invSinTheta)
	j.Set(track.Phi, track.FreeDir1, cosPhi*invSinTheta)
	j.Set(track.Theta, track.FreeDir2, -invSinTheta)
	j.Set(track.QOverP, track.FreeQOverP, 1)
	return j
}
