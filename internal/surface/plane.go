package surface

import (
	"gonum.org/v1/gonum/mat"

	"github.com/banshee-data/trackfit/internal/geom"
	"github.com/banshee-data/trackfit/internal/track"
)

// PlaneSurface is a flat, unbounded sensitive plane with a fixed local
// frame.
type PlaneSurface struct {
	center geom.Vec3
	frame  geom.Frame
}

// NewPlane builds a plane through center with the given normal. The
// in-plane axes are chosen deterministically from the normal.
func NewPlane(center, normal geom.Vec3) *PlaneSurface {
	f := geom.CurvilinearFrame(normal)
	// CurvilinearFrame puts the input along W, which is what a plane
	// normal needs.
	return &PlaneSurface{center: center, frame: f}
}

// NewPlaneWithAxes builds a plane from an explicit orthonormal frame.
func NewPlaneWithAxes(center geom.Vec3, f geom.Frame) *PlaneSurface {
	return &PlaneSurface{center: center, frame: f}
}

func (s *PlaneSurface) Type() Type        { return Plane }
func (s *PlaneSurface) Center() geom.Vec3 { return s.center }

func (s *PlaneSurface) ReferenceFrame(geom.Vec3, geom.Vec3) geom.Frame {
	return s.frame
}

func (s *PlaneSurface) Intersect(pos, dir geom.Vec3, navDir int, boundary bool) Intersection {
	denom := dir.Dot(s.frame.W)
	if denom == 0 {
		return Intersection{}
	}
	path := s.frame.W.Dot(s.center.Sub(pos)) / denom
	if navDir != 0 && path*float64(navDir) < 0 {
		return Intersection{}
	}
	return Intersection{
		Position:   pos.Add(dir.Scale(path)),
		PathLength: path,
		Valid:      true,
	}
}

func (s *PlaneSurface) LocalToGlobal(loc [2]float64, _ geom.Vec3) geom.Vec3 {
	return s.center.Add(s.frame.U.Scale(loc[0])).Add(s.frame.V.Scale(loc[1]))
}

func (s *PlaneSurface) GlobalToLocal(glob geom.Vec3, _ geom.Vec3) ([2]float64, bool) {
	d := glob.Sub(s.center)
	if dist := s.frame.W.Dot(d); dist > OnSurfaceTolerance || dist < -OnSurfaceTolerance {
		return [2]float64{}, false
	}
	return [2]float64{s.frame.U.Dot(d), s.frame.V.Dot(d)}, true
}

func (s *PlaneSurface) InitJacobianToGlobal(pos, dir geom.Vec3, b track.BoundVector) *mat.Dense {
	return jacobianToGlobal(s.ReferenceFrame(pos, dir), b)
}

func (s *PlaneSurface) InitJacobianToLocal(pos, dir geom.Vec3) (*mat.Dense, geom.Frame) {
	f := s.ReferenceFrame(pos, dir)
	return jacobianToLocal(f, dir), f
}

func (s *PlaneSurface) DerivativeFactors(pos, dir geom.Vec3, frame geom.Frame, jacToGlobal *mat.Dense) [track.BoundSize]float64 {
	return derivativeFactorsDefault(dir, frame.W, jacToGlobal)
}
