package surface

import (
	"math"

	"gonum.org/v1/gonum/mat"

	"github.com/banshee-data/trackfit/internal/geom"
	"github.com/banshee-data/trackfit/internal/track"
)

// CylinderSurface is a cylinder of fixed radius whose symmetry axis runs
// along global z through the center. Local coordinates are (r·phi, z).
type CylinderSurface struct {
	center     geom.Vec3
	radius     float64
	halfLength float64
}

// NewCylinder builds a z-axis-aligned cylinder surface.
func NewCylinder(center geom.Vec3, radius, halfLength float64) *CylinderSurface {
	return &CylinderSurface{center: center, radius: radius, halfLength: halfLength}
}

func (s *CylinderSurface) Type() Type        { return Cylinder }
func (s *CylinderSurface) Center() geom.Vec3 { return s.center }

// ReferenceFrame at a point on the cylinder: U tangential, V along the
// axis, W the outward radial normal.
func (s *CylinderSurface) ReferenceFrame(pos, _ geom.Vec3) geom.Frame {
	d := pos.Sub(s.center)
	phi := math.Atan2(d[1], d[0])
	sinPhi, cosPhi := math.Sincos(phi)
	return geom.Frame{
		U: geom.Vec3{-sinPhi, cosPhi, 0},
		V: geom.Vec3{0, 0, 1},
		W: geom.Vec3{cosPhi, sinPhi, 0},
	}
}

func (s *CylinderSurface) Intersect(pos, dir geom.Vec3, navDir int, boundary bool) Intersection {
	// Solve |(pos − center + s·dir)_xy| = radius.
	p := pos.Sub(s.center)
	a := dir[0]*dir[0] + dir[1]*dir[1]
	if a == 0 {
		return Intersection{} // direction parallel to the axis
	}
	b := p[0]*dir[0] + p[1]*dir[1]
	c := p[0]*p[0] + p[1]*p[1] - s.radius*s.radius
	disc := b*b - a*c
	if disc < 0 {
		return Intersection{}
	}
	sq := math.Sqrt(disc)
	s1 := (-b - sq) / a
	s2 := (-b + sq) / a
	path, ok := pickSolution(s1, s2, navDir)
	if !ok {
		return Intersection{}
	}
	hit := pos.Add(dir.Scale(path))
	if boundary && math.Abs(hit[2]-s.center[2]) > s.halfLength+OnSurfaceTolerance {
		return Intersection{}
	}
	return Intersection{Position: hit, PathLength: path, Valid: true}
}

// pickSolution selects the smallest path length compatible with the
// navigation direction.
func pickSolution(s1, s2 float64, navDir int) (float64, bool) {
	if s1 > s2 {
		s1, s2 = s2, s1
	}
	switch {
	case navDir >= 0:
		if s1 >= 0 {
			return s1, true
		}
		if s2 >= 0 {
			return s2, true
		}
	default:
		if s2 <= 0 {
			return s2, true
		}
		if s1 <= 0 {
			return s1, true
		}
	}
	return 0, false
}

func (s *CylinderSurface) LocalToGlobal(loc [2]float64, _ geom.Vec3) geom.Vec3 {
	phi := loc[0] / s.radius
	sinPhi, cosPhi := math.Sincos(phi)
	return s.center.Add(geom.Vec3{s.radius * cosPhi, s.radius * sinPhi, loc[1]})
}

func (s *CylinderSurface) GlobalToLocal(glob geom.Vec3, _ geom.Vec3) ([2]float64, bool) {
	d := glob.Sub(s.center)
	r := math.Hypot(d[0], d[1])
	if math.Abs(r-s.radius) > OnSurfaceTolerance {
		return [2]float64{}, false
	}
	phi := math.Atan2(d[1], d[0])
	return [2]float64{s.radius * phi, d[2]}, true
}

func (s *CylinderSurface) InitJacobianToGlobal(pos, dir geom.Vec3, b track.BoundVector) *mat.Dense {
	return jacobianToGlobal(s.ReferenceFrame(pos, dir), b)
}

func (s *CylinderSurface) InitJacobianToLocal(pos, dir geom.Vec3) (*mat.Dense, geom.Frame) {
	f := s.ReferenceFrame(pos, dir)
	return jacobianToLocal(f, dir), f
}

func (s *CylinderSurface) DerivativeFactors(pos, dir geom.Vec3, frame geom.Frame, jacToGlobal *mat.Dense) [track.BoundSize]float64 {
	return derivativeFactorsDefault(dir, frame.W, jacToGlobal)
}
