package surface

import (
	"math"

	"gonum.org/v1/gonum/mat"

	"github.com/banshee-data/trackfit/internal/geom"
	"github.com/banshee-data/trackfit/internal/track"
)

// DiscSurface is an annular disc in the plane spanned by a fixed frame.
// Local coordinates are polar (r, phi), which is why the disc needs its own
// jacobian blocks: the bound-to-free and free-to-bound maps pick up the
// polar-to-cartesian derivatives.
type DiscSurface struct {
	center     geom.Vec3
	frame      geom.Frame
	rMin, rMax float64
}

// NewDisc builds a disc with the given normal and radial bounds.
func NewDisc(center, normal geom.Vec3, rMin, rMax float64) *DiscSurface {
	return &DiscSurface{
		center: center,
		frame:  geom.CurvilinearFrame(normal),
		rMin:   rMin,
		rMax:   rMax,
	}
}

func (s *DiscSurface) Type() Type        { return Disc }
func (s *DiscSurface) Center() geom.Vec3 { return s.center }

func (s *DiscSurface) ReferenceFrame(geom.Vec3, geom.Vec3) geom.Frame {
	return s.frame
}

func (s *DiscSurface) Intersect(pos, dir geom.Vec3, navDir int, boundary bool) Intersection {
	denom := dir.Dot(s.frame.W)
	if denom == 0 {
		return Intersection{}
	}
	path := s.frame.W.Dot(s.center.Sub(pos)) / denom
	if navDir != 0 && path*float64(navDir) < 0 {
		return Intersection{}
	}
	hit := pos.Add(dir.Scale(path))
	if boundary {
		d := hit.Sub(s.center)
		r := math.Hypot(s.frame.U.Dot(d), s.frame.V.Dot(d))
		if r < s.rMin-OnSurfaceTolerance || r > s.rMax+OnSurfaceTolerance {
			return Intersection{}
		}
	}
	return Intersection{Position: hit, PathLength: path, Valid: true}
}

func (s *DiscSurface) LocalToGlobal(loc [2]float64, _ geom.Vec3) geom.Vec3 {
	sinPhi, cosPhi := math.Sincos(loc[1])
	return s.center.
		Add(s.frame.U.Scale(loc[0] * cosPhi)).
		Add(s.frame.V.Scale(loc[0] * sinPhi))
}

func (s *DiscSurface) GlobalToLocal(glob geom.Vec3, _ geom.Vec3) ([2]float64, bool) {
	d := glob.Sub(s.center)
	if dist := s.frame.W.Dot(d); math.Abs(dist) > OnSurfaceTolerance {
		return [2]float64{}, false
	}
	lx := s.frame.U.Dot(d)
	ly := s.frame.V.Dot(d)
	return [2]float64{math.Hypot(lx, ly), math.Atan2(ly, lx)}, true
}

func (s *DiscSurface) InitJacobianToGlobal(pos, dir geom.Vec3, b track.BoundVector) *mat.Dense {
	j := jacobianToGlobal(s.frame, b)
	// Replace the local-position block with the polar derivatives:
	// d(pos)/dr along the radial unit vector, d(pos)/dphi tangential and
	// proportional to r.
	sinPhi, cosPhi := math.Sincos(b[track.Loc1])
	r := b[track.Loc0]
	for i := 0; i < 3; i++ {
		j.Set(i, track.Loc0, cosPhi*s.frame.U[i]+sinPhi*s.frame.V[i])
		j.Set(i, track.Loc1, r*(cosPhi*s.frame.V[i]-sinPhi*s.frame.U[i]))
	}
	return j
}

func (s *DiscSurface) InitJacobianToLocal(pos, dir geom.Vec3) (*mat.Dense, geom.Frame) {
	j := jacobianToLocal(s.frame, dir)
	// Polar rows: dr/d(pos) is the radial unit vector, dphi/d(pos) the
	// tangential direction scaled by 1/r.
	d := pos.Sub(s.center)
	rc := s.frame.U.Dot(d)
	rs := s.frame.V.Dot(d)
	r2 := rc*rc + rs*rs
	invR := 1. / math.Sqrt(r2)
	for i := 0; i < 3; i++ {
		j.Set(track.Loc0, i, (rc*s.frame.U[i]+rs*s.frame.V[i])*invR)
		j.Set(track.Loc1, i, (rc*s.frame.V[i]-rs*s.frame.U[i])/r2)
	}
	return j, s.frame
}

func (s *DiscSurface) DerivativeFactors(pos, dir geom.Vec3, frame geom.Frame, jacToGlobal *mat.Dense) [track.BoundSize]float64 {
	return derivativeFactorsDefault(dir, frame.W, jacToGlobal)
}
