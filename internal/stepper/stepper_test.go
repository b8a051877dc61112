package stepper

import (
	"errors"
	"math"
	"testing"

	"gonum.org/v1/gonum/mat"

	"github.com/banshee-data/trackfit/internal/field"
	"github.com/banshee-data/trackfit/internal/geom"
	"github.com/banshee-data/trackfit/internal/surface"
	"github.com/banshee-data/trackfit/internal/track"
	"github.com/banshee-data/trackfit/internal/units"
)

const pionMass = 0.139570

func seedCovariance() []float64 {
	return []float64{0.01, 0.01, 1e-4, 1e-4, 1e-4, 1.0}
}

// propagateBy drives a stepper over a total signed path length the way the
// propagator would, re-proposing the remaining distance each step.
func propagateBy(t *testing.T, stp Stepper, st *State, total float64) {
	t.Helper()
	for i := 0; i < 10000; i++ {
		remaining := total - st.PathAccumulated
		if math.Abs(remaining) < 1e-9 {
			return
		}
		if math.Abs(st.StepSize) > math.Abs(remaining) {
			st.StepSize = remaining
		}
		if _, err := stp.Step(st); err != nil {
			t.Fatalf("step %d failed: %v", i, err)
		}
	}
	t.Fatalf("propagation did not reach path length %g", total)
}

func TestStraightLineStep(t *testing.T) {
	sl := NewStraightLine(DefaultConfig())
	start := track.NewCurvilinearParameters(geom.V(0, 0, 0), geom.V(1, 1, 0), 1.0/2.0, 10.0, nil)
	st := NewStateFromCurvilinear(start, 1, 50, pionMass)

	h, err := sl.Step(st)
	if err != nil {
		t.Fatalf("straight line step failed: %v", err)
	}
	if h != 50 {
		t.Errorf("expected full step 50, got %g", h)
	}

	want := geom.V(1, 1, 0).Normalized().Scale(50)
	if st.Pos.Sub(want).Norm() > 1e-12 {
		t.Errorf("expected position %v, got %v", want, st.Pos)
	}
	dtds := math.Hypot(1, pionMass/2.0)
	if math.Abs(st.Time()-(10+50*dtds)) > 1e-12 {
		t.Errorf("unexpected time %g", st.Time())
	}
	if st.PathAccumulated != 50 {
		t.Errorf("expected accumulated path 50, got %g", st.PathAccumulated)
	}
}

func TestRungeKuttaHelix(t *testing.T) {
	bz := 2 * units.T
	rk := NewRungeKutta(field.NewConstant(geom.V(0, 0, bz)), DefaultConfig())

	// Transverse 1 GeV track: curvature radius p/(q·B).
	p := 1.0
	start := track.NewCurvilinearParameters(geom.V(0, 0, 0), geom.V(1, 0, 0), 1/p, 0, nil)
	st := NewStateFromCurvilinear(start, 1, 25, pionMass)

	radius := p / bz
	quarter := math.Pi / 2 * radius
	propagateBy(t, rk, st, quarter)

	// Positive charge in +z field turns clockwise in the xy plane.
	wantDir := geom.V(math.Cos(-math.Pi/2), math.Sin(-math.Pi/2), 0)
	if st.Dir.Sub(wantDir).Norm() > 1e-3 {
		t.Errorf("expected direction %v after quarter turn, got %v", wantDir, st.Dir)
	}
	center := geom.V(0, -radius, 0)
	if r := st.Pos.Sub(center).Norm(); math.Abs(r-radius) > radius*1e-4 {
		t.Errorf("expected orbit radius %g, got %g", radius, r)
	}
	if math.Abs(st.Dir.Norm()-1) > 1e-12 {
		t.Errorf("direction not normalized: |d| = %g", st.Dir.Norm())
	}
}

func TestRungeKuttaStepSizeConsistency(t *testing.T) {
	// The end point must not depend on how the path is chopped into
	// steps, within the integration tolerance.
	bz := 2 * units.T
	total := 300.0
	endpoints := make([]geom.Vec3, 0, 2)
	for _, capMm := range []float64{10.0, 60.0} {
		cfg := DefaultConfig()
		cfg.MaxStepSize = capMm
		rk := NewRungeKutta(field.NewConstant(geom.V(0, 0, bz)), cfg)
		start := track.NewCurvilinearParameters(geom.V(0, 0, 0), geom.V(1, 0, 0.5), 1/1.5, 0, nil)
		st := NewStateFromCurvilinear(start, 1, capMm, pionMass)
		propagateBy(t, rk, st, total)
		endpoints = append(endpoints, st.Pos)
	}
	if d := endpoints[0].Sub(endpoints[1]).Norm(); d > total*1e-3 {
		t.Errorf("endpoints differ by %g mm between step-size caps", d)
	}
}

func TestRungeKuttaCovarianceAdditivity(t *testing.T) {
	// The transported covariance must not depend on how the path is
	// chopped into steps either: binding at the same surface after many
	// small or few large steps has to give the same matrix within the
	// integration tolerance.
	bz := 2 * units.T
	target := surface.NewPlane(geom.V(0, 0, 200), geom.V(0, 0, 1))
	covs := make([]*mat.SymDense, 0, 2)
	for _, capMm := range []float64{20.0, 300.0} {
		cfg := DefaultConfig()
		cfg.MaxStepSize = capMm
		rk := NewRungeKutta(field.NewConstant(geom.V(0, 0, bz)), cfg)
		cov := track.DiagonalSym(seedCovariance())
		start := track.NewCurvilinearParameters(geom.V(0, 0, 0), geom.V(0.2, 0.1, 1).Normalized(), 1/1.5, 0, cov)
		st := NewStateFromCurvilinear(start, 1, capMm, pionMass)
		propagateToSurface(t, rk, st, target)
		bs, err := rk.BoundState(st, target, true)
		if err != nil {
			t.Fatalf("bound state at cap %g failed: %v", capMm, err)
		}
		covs = append(covs, bs.Parameters.Covariance)
	}
	for i := 0; i < track.BoundSize; i++ {
		for j := i; j < track.BoundSize; j++ {
			a, b := covs[0].At(i, j), covs[1].At(i, j)
			scale := math.Max(math.Abs(a), math.Abs(b))
			if scale == 0 {
				continue
			}
			if math.Abs(a-b) > 1e-3*scale+1e-12 {
				t.Errorf("cov(%d,%d) differs between caps: %g vs %g", i, j, a, b)
			}
		}
	}
}

func TestRungeKuttaStall(t *testing.T) {
	rk := NewRungeKutta(field.NewConstant(geom.V(0, 0, 2*units.T)), DefaultConfig())
	// Pathologically soft track: the curvature can never satisfy the
	// tolerance at any step length above the cutoff.
	start := track.NewCurvilinearParameters(geom.V(0, 0, 0), geom.V(1, 0, 0), 1e10, 0, nil)
	st := NewStateFromCurvilinear(start, 1, 100, pionMass)

	_, err := rk.Step(st)
	if !errors.Is(err, ErrStepSizeStalled) {
		t.Fatalf("expected ErrStepSizeStalled, got %v", err)
	}
}

func TestRungeKuttaRetryExhaustionTakesMinimalStep(t *testing.T) {
	cfg := DefaultConfig()
	// No shrink retries allowed: the first over-tolerance trial must fall
	// back to the minimal step instead of accepting the oversized one.
	cfg.MaxStepTrials = 0
	rk := NewRungeKutta(field.NewConstant(geom.V(0, 0, 2*units.T)), cfg)
	start := track.NewCurvilinearParameters(geom.V(0, 0, 0), geom.V(1, 0, 0), 1e6, 0, nil)
	st := NewStateFromCurvilinear(start, 1, 100, pionMass)

	h, err := rk.Step(st)
	if err != nil {
		t.Fatalf("step failed: %v", err)
	}
	if math.Abs(h-cfg.StepSizeCutOff) > 1e-15 {
		t.Errorf("accepted step %g, want the cutoff %g", h, cfg.StepSizeCutOff)
	}
	if math.Abs(st.PathAccumulated-cfg.StepSizeCutOff) > 1e-15 {
		t.Errorf("accumulated path %g, want %g", st.PathAccumulated, cfg.StepSizeCutOff)
	}
}

func TestBoundStateCovarianceTransport(t *testing.T) {
	rk := NewRungeKutta(field.NewConstant(geom.V(0, 0, 2*units.T)), DefaultConfig())
	cov := track.DiagonalSym(seedCovariance())
	start := track.NewCurvilinearParameters(geom.V(0, 0, 0), geom.V(0, 0.1, 1).Normalized(), 1/1.2, 0, cov)
	st := NewStateFromCurvilinear(start, 1, 25, pionMass)

	target := surface.NewPlane(geom.V(0, 0, 150), geom.V(0, 0, 1))
	propagateToSurface(t, rk, st, target)

	bs, err := rk.BoundState(st, target, true)
	if err != nil {
		t.Fatalf("bound state failed: %v", err)
	}
	if bs.Parameters.Covariance == nil {
		t.Fatal("expected transported covariance")
	}
	for i := 0; i < track.BoundSize; i++ {
		v := bs.Parameters.Covariance.At(i, i)
		if !(v > 0) || math.IsInf(v, 0) {
			t.Errorf("covariance diagonal %d not positive and finite: %g", i, v)
		}
	}
	if bs.Jacobian == nil {
		t.Fatal("expected accumulated jacobian")
	}
	// Reinitialize must have reset the state's accumulated jacobian.
	for i := 0; i < track.BoundSize; i++ {
		for j := 0; j < track.BoundSize; j++ {
			want := 0.0
			if i == j {
				want = 1.0
			}
			if st.Jacobian.At(i, j) != want {
				t.Fatalf("jacobian not reset at (%d,%d): %g", i, j, st.Jacobian.At(i, j))
			}
		}
	}
}

func TestCurvilinearStateLocalCoordinates(t *testing.T) {
	rk := NewRungeKutta(field.NewConstant(geom.V(0, 0, 2*units.T)), DefaultConfig())
	cov := track.DiagonalSym(seedCovariance())
	start := track.NewCurvilinearParameters(geom.V(0, 0, 0), geom.V(1, 0, 0.3).Normalized(), 1/1.0, 0, cov)
	st := NewStateFromCurvilinear(start, 1, 25, pionMass)
	propagateBy(t, rk, st, 120)

	cs := rk.CurvilinearState(st, true)
	if cs.Parameters.Vector[track.Loc0] != 0 || cs.Parameters.Vector[track.Loc1] != 0 {
		t.Errorf("curvilinear local coordinates must vanish, got (%g, %g)",
			cs.Parameters.Vector[track.Loc0], cs.Parameters.Vector[track.Loc1])
	}
	if cs.Parameters.Covariance == nil {
		t.Error("expected transported covariance")
	}
	if cs.PathLength != st.PathAccumulated {
		t.Errorf("path length mismatch: %g vs %g", cs.PathLength, st.PathAccumulated)
	}
}

// propagateToSurface walks the state onto the surface by repeatedly
// shrinking the proposal to the remaining intersection distance.
func propagateToSurface(t *testing.T, stp Stepper, st *State, srf surface.Surface) {
	t.Helper()
	for i := 0; i < 10000; i++ {
		isect := srf.Intersect(st.Pos, st.Dir, st.NavDir, false)
		if !isect.Valid {
			t.Fatal("lost the target surface")
		}
		if math.Abs(isect.PathLength) < 1e-7 {
			return
		}
		if math.Abs(st.StepSize) > math.Abs(isect.PathLength) {
			st.StepSize = isect.PathLength
		}
		if _, err := stp.Step(st); err != nil {
			t.Fatalf("step %d failed: %v", i, err)
		}
	}
	t.Fatal("propagation did not converge onto the surface")
}

func TestTransportJacobianAgainstFiniteDifferences(t *testing.T) {
	bz := 2 * units.T
	target := surface.NewPlane(geom.V(0, 0, 200), geom.V(0, 0, 1))
	origin := surface.NewPlane(geom.V(0, 0, 0), geom.V(0, 0, 1))

	nominal := track.NewBoundVector(1.0, -2.0, 0.1, 0.3, 1/1.5, 5.0)

	endpoint := func(b track.BoundVector) track.BoundVector {
		rk := NewRungeKutta(field.NewConstant(geom.V(0, 0, bz)), DefaultConfig())
		st := NewState(track.BoundParameters{Vector: b}, origin, 1, 25, pionMass)
		propagateToSurface(t, rk, st, target)
		bs, err := rk.BoundState(st, target, false)
		if err != nil {
			t.Fatalf("bound state failed: %v", err)
		}
		return bs.Parameters.Vector
	}

	// Analytic jacobian from a covariance-carrying propagation.
	rk := NewRungeKutta(field.NewConstant(geom.V(0, 0, bz)), DefaultConfig())
	st := NewState(track.BoundParameters{
		Vector:     nominal,
		Covariance: track.DiagonalSym(seedCovariance()),
	}, origin, 1, 25, pionMass)
	propagateToSurface(t, rk, st, target)
	bs, err := rk.BoundState(st, target, true)
	if err != nil {
		t.Fatalf("bound state failed: %v", err)
	}

	steps := [track.BoundSize]float64{1e-3, 1e-3, 1e-4, 1e-4, 1e-4, 1e-3}
	base := endpoint(nominal)
	for col := 0; col < track.BoundSize; col++ {
		bumped := nominal
		bumped[col] += steps[col]
		shifted := endpoint(bumped)
		for row := 0; row < track.BoundSize; row++ {
			numeric := (shifted[row] - base[row]) / steps[col]
			if row == track.Phi {
				numeric = track.WrapPhi(shifted[row]-base[row]) / steps[col]
			}
			analytic := bs.Jacobian.At(row, col)
			tol := 0.05*math.Max(math.Abs(analytic), math.Abs(numeric)) + 1e-4
			if math.Abs(analytic-numeric) > tol {
				t.Errorf("jacobian (%d,%d): analytic %g vs finite difference %g",
					row, col, analytic, numeric)
			}
		}
	}
}

func TestUpdateFromBoundParameters(t *testing.T) {
	rk := NewRungeKutta(field.NewConstant(geom.V(0, 0, 2*units.T)), DefaultConfig())
	srf := surface.NewPlane(geom.V(0, 0, 100), geom.V(0, 0, 1))

	start := track.NewCurvilinearParameters(geom.V(0, 0, 0), geom.V(0, 0, 1), 1/1.0, 0, track.DiagonalSym(seedCovariance()))
	st := NewStateFromCurvilinear(start, 1, 25, pionMass)

	pars := track.BoundParameters{
		Vector:     track.NewBoundVector(3, -4, 0.2, 1.3, -1/0.8, 7),
		Covariance: track.DiagonalSym(seedCovariance()),
	}
	rk.Update(st, srf, pars)

	wantDir := geom.DirectionFromAngles(0.2, 1.3)
	if st.Dir.Sub(wantDir).Norm() > 1e-12 {
		t.Errorf("direction not updated: %v", st.Dir)
	}
	wantPos := srf.LocalToGlobal([2]float64{3, -4}, wantDir)
	if st.Pos.Sub(wantPos).Norm() > 1e-12 {
		t.Errorf("position not updated: %v", st.Pos)
	}
	if st.Charge() != -1 {
		t.Errorf("expected negative charge after update, got %g", st.Charge())
	}
	if math.Abs(st.Time()-7) > 1e-12 {
		t.Errorf("expected time 7, got %g", st.Time())
	}

	rk.UpdateComponents(st, geom.V(1, 2, 3), geom.V(0, 1, 0), 2.5, 9)
	if math.Abs(st.Momentum()-2.5) > 1e-12 {
		t.Errorf("expected momentum 2.5, got %g", st.Momentum())
	}
	if st.Charge() != -1 {
		t.Error("UpdateComponents must preserve the charge sign")
	}
}
