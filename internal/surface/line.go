package surface

import (
	"math"

	"gonum.org/v1/gonum/mat"

	"github.com/banshee-data/trackfit/internal/geom"
	"github.com/banshee-data/trackfit/internal/track"
)

// LineSurface is a line-like surface: a straw tube or a perigee axis.
// Local coordinates are (signed drift distance, position along the wire).
// Its reference frame depends on the track direction, so covariance
// transport needs the frame-rotation correction in DerivativeFactors.
type LineSurface struct {
	center     geom.Vec3
	axis       geom.Vec3 // unit vector along the wire
	halfLength float64   // 0 means unbounded (perigee)
}

// NewLine builds a straw/wire surface through center along axis.
func NewLine(center, axis geom.Vec3, halfLength float64) *LineSurface {
	return &LineSurface{center: center, axis: axis.Normalized(), halfLength: halfLength}
}

// NewPerigee builds an unbounded line surface along global z, used as a
// reference axis for impact-parameter style parameters.
func NewPerigee(center geom.Vec3) *LineSurface {
	return &LineSurface{center: center, axis: geom.Vec3{0, 0, 1}}
}

func (s *LineSurface) Type() Type        { return Line }
func (s *LineSurface) Center() geom.Vec3 { return s.center }

// ReferenceFrame: V along the wire, U the drift axis perpendicular to both
// wire and track direction, W completing the right-handed triad.
func (s *LineSurface) ReferenceFrame(_, dir geom.Vec3) geom.Frame {
	u := s.axis.Cross(dir).Normalized()
	return geom.Frame{U: u, V: s.axis, W: u.Cross(s.axis)}
}

// Intersect returns the point of closest approach between the track ray
// and the wire.
func (s *LineSurface) Intersect(pos, dir geom.Vec3, navDir int, boundary bool) Intersection {
	a := pos.Sub(s.center)
	dv := dir.Dot(s.axis)
	denom := 1 - dv*dv
	if denom < 1e-12 {
		return Intersection{} // track parallel to the wire
	}
	path := (a.Dot(s.axis)*dv - a.Dot(dir)) / denom
	if navDir != 0 && path*float64(navDir) < 0 {
		return Intersection{}
	}
	hit := pos.Add(dir.Scale(path))
	if boundary && s.halfLength > 0 {
		if z := hit.Sub(s.center).Dot(s.axis); math.Abs(z) > s.halfLength+OnSurfaceTolerance {
			return Intersection{}
		}
	}
	return Intersection{Position: hit, PathLength: path, Valid: true}
}

func (s *LineSurface) LocalToGlobal(loc [2]float64, dir geom.Vec3) geom.Vec3 {
	drift := s.axis.Cross(dir).Normalized()
	return s.center.Add(s.axis.Scale(loc[1])).Add(drift.Scale(loc[0]))
}

func (s *LineSurface) GlobalToLocal(glob geom.Vec3, dir geom.Vec3) ([2]float64, bool) {
	d := glob.Sub(s.center)
	z := s.axis.Dot(d)
	radial := d.Sub(s.axis.Scale(z))
	r := radial.Norm()
	// Sign of the drift coordinate follows the drift axis orientation.
	if s.axis.Cross(dir).Dot(d) < 0 {
		r = -r
	}
	return [2]float64{r, z}, true
}

func (s *LineSurface) InitJacobianToGlobal(pos, dir geom.Vec3, b track.BoundVector) *mat.Dense {
	f := s.ReferenceFrame(pos, dir)
	j := jacobianToGlobal(f, b)
	// The drift axis rotates with the track direction: positions acquire
	// an extra dependence on phi and theta proportional to the drift
	// coordinate. Project the angular direction derivatives through the
	// wire axis and remove their component along the drift axis.
	ipdn := 1. / dir.Dot(f.W)
	dDPhi := geom.Vec3{
		j.At(track.FreeDir0, track.Phi),
		j.At(track.FreeDir1, track.Phi),
		j.At(track.FreeDir2, track.Phi),
	}
	dDTheta := geom.Vec3{
		j.At(track.FreeDir0, track.Theta),
		j.At(track.FreeDir1, track.Theta),
		j.At(track.FreeDir2, track.Theta),
	}
	dPhiY := f.V.Cross(dDPhi)
	dThetaY := f.V.Cross(dDTheta)
	dPhiY = dPhiY.Sub(f.U.Scale(f.U.Dot(dPhiY)))
	dThetaY = dThetaY.Sub(f.U.Scale(f.U.Dot(dThetaY)))
	for i := 0; i < 3; i++ {
		j.Set(i, track.Phi, dPhiY[i]*b[track.Loc0]*ipdn)
		j.Set(i, track.Theta, dThetaY[i]*b[track.Loc0]*ipdn)
	}
	return j
}

func (s *LineSurface) InitJacobianToLocal(pos, dir geom.Vec3) (*mat.Dense, geom.Frame) {
	f := s.ReferenceFrame(pos, dir)
	return jacobianToLocal(f, dir), f
}

// DerivativeFactors for a line surface must account for the reference
// frame itself rotating as the hit position moves along the wire relative
// to the track direction.
func (s *LineSurface) DerivativeFactors(pos, dir geom.Vec3, frame geom.Frame, jacToGlobal *mat.Dense) [track.BoundSize]float64 {
	var out [track.BoundSize]float64
	pc := pos.Sub(s.center)
	locz := frame.V
	longC := locz.Dot(dir)
	norm := 1. / (1. - longC*longC)
	// Transverse component of the direction with respect to the wire.
	normVec := dir.Sub(locz.Scale(longC))
	for col := 0; col < track.BoundSize; col++ {
		var sVec, dVec float64
		for i := 0; i < 3; i++ {
			sVec += normVec[i] * jacToGlobal.At(i, col)
			dVec += locz[i] * jacToGlobal.At(track.FreeDir0+i, col)
		}
		var corr float64
		for i := 0; i < 3; i++ {
			corr += pc[i] * (locz[i]*dVec - jacToGlobal.At(track.FreeDir0+i, col))
		}
		out[col] = norm * (sVec - corr)
	}
	return out
}
