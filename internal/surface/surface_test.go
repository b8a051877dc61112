package surface

import (
	"math"
	"testing"

	"gonum.org/v1/gonum/mat"

	"github.com/banshee-data/trackfit/internal/geom"
	"github.com/banshee-data/trackfit/internal/track"
)

func TestTypeString(t *testing.T) {
	cases := map[Type]string{
		Plane:    "plane",
		Cylinder: "cylinder",
		Disc:     "disc",
		Line:     "line",
		Type(42): "unknown",
	}
	for typ, want := range cases {
		if got := typ.String(); got != want {
			t.Errorf("Type(%d).String() = %q, want %q", typ, got, want)
		}
	}
}

func TestPlaneIntersect(t *testing.T) {
	pl := NewPlane(geom.V(0, 0, 100), geom.V(0, 0, 1))

	isect := pl.Intersect(geom.V(0, 0, 0), geom.V(0, 0, 1), 1, false)
	if !isect.Valid {
		t.Fatal("expected valid intersection")
	}
	if math.Abs(isect.PathLength-100) > 1e-12 {
		t.Errorf("path length %g, want 100", isect.PathLength)
	}

	// Plane behind the ray for forward navigation.
	if isect := pl.Intersect(geom.V(0, 0, 200), geom.V(0, 0, 1), 1, false); isect.Valid {
		t.Error("expected invalid intersection for plane behind the ray")
	}
	// Same plane reachable backwards.
	isect = pl.Intersect(geom.V(0, 0, 200), geom.V(0, 0, 1), -1, false)
	if !isect.Valid || math.Abs(isect.PathLength+100) > 1e-12 {
		t.Errorf("backward intersection = %+v, want path -100", isect)
	}
	// Ray parallel to the plane.
	if isect := pl.Intersect(geom.V(0, 0, 0), geom.V(1, 0, 0), 1, false); isect.Valid {
		t.Error("expected invalid intersection for parallel ray")
	}
}

func TestPlaneLocalGlobalRoundTrip(t *testing.T) {
	pl := NewPlane(geom.V(10, -5, 50), geom.V(1, 1, 1))

	loc := [2]float64{3.5, -1.25}
	glob := pl.LocalToGlobal(loc, geom.Vec3{})
	back, ok := pl.GlobalToLocal(glob, geom.Vec3{})
	if !ok {
		t.Fatal("GlobalToLocal rejected an on-surface point")
	}
	for i := range loc {
		if math.Abs(back[i]-loc[i]) > 1e-12 {
			t.Errorf("loc[%d] = %g, want %g", i, back[i], loc[i])
		}
	}

	// Off-surface point is rejected.
	off := glob.Add(geom.V(1, 1, 1).Normalized().Scale(1.0))
	if _, ok := pl.GlobalToLocal(off, geom.Vec3{}); ok {
		t.Error("GlobalToLocal accepted a point 1mm off the plane")
	}
}

func TestCylinderIntersect(t *testing.T) {
	cyl := NewCylinder(geom.V(0, 0, 0), 100, 300)

	// Radial ray from the axis hits at the radius.
	isect := cyl.Intersect(geom.V(0, 0, 0), geom.V(1, 0, 0), 1, false)
	if !isect.Valid || math.Abs(isect.PathLength-100) > 1e-12 {
		t.Fatalf("radial intersection = %+v, want path 100", isect)
	}

	// From outside moving inwards the near wall is picked.
	isect = cyl.Intersect(geom.V(250, 0, 0), geom.V(-1, 0, 0), 1, false)
	if !isect.Valid || math.Abs(isect.PathLength-150) > 1e-12 {
		t.Errorf("outside-in intersection = %+v, want path 150", isect)
	}

	// Parallel to the axis never intersects.
	if isect := cyl.Intersect(geom.V(50, 0, 0), geom.V(0, 0, 1), 1, false); isect.Valid {
		t.Error("expected invalid intersection for axial ray")
	}

	// Boundary check against the half length.
	isect = cyl.Intersect(geom.V(0, 0, 400), geom.V(1, 0, 0), 1, true)
	if isect.Valid {
		t.Error("expected hit outside the half-length to be rejected")
	}
}

func TestCylinderLocalGlobalRoundTrip(t *testing.T) {
	cyl := NewCylinder(geom.V(0, 0, 0), 100, 300)

	loc := [2]float64{100 * 0.75, 42} // r*phi at phi=0.75, z=42
	glob := cyl.LocalToGlobal(loc, geom.Vec3{})
	if math.Abs(glob.Perp()-100) > 1e-12 {
		t.Fatalf("LocalToGlobal radius %g, want 100", glob.Perp())
	}
	back, ok := cyl.GlobalToLocal(glob, geom.Vec3{})
	if !ok {
		t.Fatal("GlobalToLocal rejected an on-surface point")
	}
	for i := range loc {
		if math.Abs(back[i]-loc[i]) > 1e-10 {
			t.Errorf("loc[%d] = %g, want %g", i, back[i], loc[i])
		}
	}
	if _, ok := cyl.GlobalToLocal(geom.V(50, 0, 0), geom.Vec3{}); ok {
		t.Error("GlobalToLocal accepted a point off the radius")
	}
}

func TestDiscIntersectAndBounds(t *testing.T) {
	d := NewDisc(geom.V(0, 0, 200), geom.V(0, 0, 1), 50, 150)

	dir := geom.V(0, 0, 1)
	isect := d.Intersect(geom.V(100, 0, 0), dir, 1, true)
	if !isect.Valid || math.Abs(isect.PathLength-200) > 1e-12 {
		t.Fatalf("disc intersection = %+v, want path 200", isect)
	}

	// Inside the hole.
	if isect := d.Intersect(geom.V(10, 0, 0), dir, 1, true); isect.Valid {
		t.Error("expected hit inside rMin to be rejected")
	}
	// Outside the rim.
	if isect := d.Intersect(geom.V(200, 0, 0), dir, 1, true); isect.Valid {
		t.Error("expected hit outside rMax to be rejected")
	}
	// Without the boundary check both pass.
	if isect := d.Intersect(geom.V(10, 0, 0), dir, 1, false); !isect.Valid {
		t.Error("expected unbounded intersection to be valid")
	}
}

func TestDiscPolarRoundTrip(t *testing.T) {
	d := NewDisc(geom.V(0, 0, 200), geom.V(0, 0, 1), 50, 150)

	loc := [2]float64{80, 1.1}
	glob := d.LocalToGlobal(loc, geom.Vec3{})
	back, ok := d.GlobalToLocal(glob, geom.Vec3{})
	if !ok {
		t.Fatal("GlobalToLocal rejected an on-surface point")
	}
	if math.Abs(back[0]-loc[0]) > 1e-10 || math.Abs(back[1]-loc[1]) > 1e-12 {
		t.Errorf("round trip (%g, %g), want (%g, %g)", back[0], back[1], loc[0], loc[1])
	}
}

func TestLineClosestApproach(t *testing.T) {
	wire := NewLine(geom.V(0, 0, 0), geom.V(0, 0, 1), 500)

	// Track along x offset in y passes the wire at x=0.
	isect := wire.Intersect(geom.V(-100, 5, 20), geom.V(1, 0, 0), 1, false)
	if !isect.Valid {
		t.Fatal("expected valid closest approach")
	}
	if math.Abs(isect.PathLength-100) > 1e-12 {
		t.Errorf("path length %g, want 100", isect.PathLength)
	}
	if math.Abs(isect.Position.X()) > 1e-12 {
		t.Errorf("closest approach x = %g, want 0", isect.Position.X())
	}

	// Track parallel to the wire has no closest approach.
	if isect := wire.Intersect(geom.V(10, 0, 0), geom.V(0, 0, 1), 1, false); isect.Valid {
		t.Error("expected invalid intersection for track parallel to the wire")
	}

	// Outside the half-length when bounded.
	if isect := wire.Intersect(geom.V(-100, 5, 600), geom.V(1, 0, 0), 1, true); isect.Valid {
		t.Error("expected closest approach beyond the half-length to be rejected")
	}
}

func TestLineDriftSign(t *testing.T) {
	wire := NewPerigee(geom.V(0, 0, 0))
	dir := geom.V(1, 0, 0)

	locPlus, _ := wire.GlobalToLocal(geom.V(0, -5, 10), dir)
	locMinus, _ := wire.GlobalToLocal(geom.V(0, 5, 10), dir)
	// Drift axis is axis x dir = (0,0,1) x (1,0,0) = (0,1,0) normalized
	// opposite sides of the wire get opposite signs.
	if locPlus[0]*locMinus[0] >= 0 {
		t.Errorf("drift distances %g and %g should have opposite signs", locPlus[0], locMinus[0])
	}
	if math.Abs(math.Abs(locPlus[0])-5) > 1e-12 || math.Abs(locPlus[1]-10) > 1e-12 {
		t.Errorf("local = %+v, want |drift| 5, z 10", locPlus)
	}

	// Round trip through the drift frame.
	glob := wire.LocalToGlobal(locPlus, dir)
	if diff := glob.Sub(geom.V(0, -5, 10)).Norm(); diff > 1e-12 {
		t.Errorf("LocalToGlobal round trip off by %g", diff)
	}
}

// jacobianProduct multiplies the 6x8 free-to-bound by the 8x6
// bound-to-free jacobian of a surface at a point. For a parameter set
// bound to that surface the product must be the 6x6 identity.
func jacobianProduct(t *testing.T, s Surface, b track.BoundVector) *mat.Dense {
	t.Helper()
	dir := b.Direction()
	pos := s.LocalToGlobal([2]float64{b[track.Loc0], b[track.Loc1]}, dir)
	toGlobal := s.InitJacobianToGlobal(pos, dir, b)
	toLocal, _ := s.InitJacobianToLocal(pos, dir)
	var prod mat.Dense
	prod.Mul(toLocal, toGlobal)
	return &prod
}

func TestJacobianConsistency(t *testing.T) {
	cases := []struct {
		name string
		s    Surface
		b    track.BoundVector
	}{
		{"plane", NewPlane(geom.V(0, 0, 100), geom.V(0, 0, 1)), track.NewBoundVector(3, -2, 0.4, 0.5, 0.5, 0)},
		{"cylinder", NewCylinder(geom.V(0, 0, 0), 100, 300), track.NewBoundVector(30, 40, 0.9, 1.1, -0.25, 0)},
		{"disc", NewDisc(geom.V(0, 0, 200), geom.V(0, 0, 1), 10, 150), track.NewBoundVector(80, 0.7, 0.3, 0.6, 0.5, 0)},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			prod := jacobianProduct(t, tc.s, tc.b)
			for i := 0; i < track.BoundSize; i++ {
				for j := 0; j < track.BoundSize; j++ {
					want := 0.0
					if i == j {
						want = 1
					}
					if math.Abs(prod.At(i, j)-want) > 1e-10 {
						t.Errorf("product(%d,%d) = %g, want %g", i, j, prod.At(i, j), want)
					}
				}
			}
		})
	}
}

func TestCurvilinearJacobianConsistency(t *testing.T) {
	dir := geom.V(0.3, -0.4, 0.87).Normalized()
	b := track.NewBoundVector(0, 0, dir.Phi(), dir.Theta(), 0.5, 0)

	toGlobal := CurvilinearJacobianToGlobal(dir, b)
	toLocal := CurvilinearJacobianToLocal(dir)
	var prod mat.Dense
	prod.Mul(toLocal, toGlobal)
	for i := 0; i < track.BoundSize; i++ {
		for j := 0; j < track.BoundSize; j++ {
			want := 0.0
			if i == j {
				want = 1
			}
			if math.Abs(prod.At(i, j)-want) > 1e-10 {
				t.Errorf("product(%d,%d) = %g, want %g", i, j, prod.At(i, j), want)
			}
		}
	}
}

func TestCurvilinearJacobianGrazingIncidence(t *testing.T) {
	// Direction almost exactly along z: |cos(theta)| exceeds
	// CurvilinearProjTolerance, so the yz-basis branch must run. Its
	// position rows are (0, -z/c, y/c) and (c, -xy/c, -xz/c) with
	// c = hypot(y, z), here c ≈ z ≈ 1.
	dir := geom.V(1e-9, 1e-9, 1).Normalized()
	j := CurvilinearJacobianToLocal(dir)
	if r, c := j.Dims(); r != track.BoundSize || c != track.FreeSize {
		t.Fatalf("dims = %dx%d, want %dx%d", r, c, track.BoundSize, track.FreeSize)
	}
	if got := j.At(track.Loc0, track.FreePos1); math.Abs(got+1) > 1e-8 {
		t.Errorf("loc0/pos1 entry = %g, want -1 from the yz basis", got)
	}
	if got := j.At(track.Loc1, track.FreePos0); math.Abs(got-1) > 1e-8 {
		t.Errorf("loc1/pos0 entry = %g, want 1 from the yz basis", got)
	}
	for i := 0; i < track.BoundSize; i++ {
		for k := 0; k < track.FreeSize; k++ {
			if math.IsNaN(j.At(i, k)) || math.IsInf(j.At(i, k), 0) {
				t.Fatalf("non-finite entry at (%d,%d)", i, k)
			}
		}
	}
}

func TestCurvilinearJacobianStandardBranch(t *testing.T) {
	// A transverse direction stays on the standard frame construction:
	// the loc0 row is (-sinPhi, cosPhi, 0). Along x that is (0, 1, 0).
	dir := geom.V(1, 1e-9, 1e-9).Normalized()
	j := CurvilinearJacobianToLocal(dir)
	if got := j.At(track.Loc0, track.FreePos0); math.Abs(got) > 1e-8 {
		t.Errorf("loc0/pos0 entry = %g, want 0 (-sinPhi)", got)
	}
	if got := j.At(track.Loc0, track.FreePos1); math.Abs(got-1) > 1e-8 {
		t.Errorf("loc0/pos1 entry = %g, want 1 (cosPhi)", got)
	}
	if got := j.At(track.Loc1, track.FreePos2); math.Abs(got-1) > 1e-8 {
		t.Errorf("loc1/pos2 entry = %g, want 1 (sinTheta)", got)
	}
}
