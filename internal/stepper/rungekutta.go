package stepper

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"

	"github.com/banshee-data/trackfit/internal/field"
	"github.com/banshee-data/trackfit/internal/geom"
	"github.com/banshee-data/trackfit/internal/track"
)

// RungeKuttaStepper integrates the Lorentz equation of motion with a
// fourth-order Runge-Kutta-Nystrom scheme and adaptive step-size control.
// The transport jacobian of each step is assembled analytically from the
// same field evaluations as the kinematic update.
type RungeKuttaStepper struct {
	binder
	field field.Provider
	cfg   Config
}

// NewRungeKutta builds a stepper over the given field provider.
func NewRungeKutta(provider field.Provider, cfg Config) *RungeKuttaStepper {
	return &RungeKuttaStepper{field: provider, cfg: cfg}
}

func (rk *RungeKuttaStepper) GetField(st *State, pos geom.Vec3) geom.Vec3 {
	return rk.field.GetField(pos, &st.FieldCache)
}

// Step advances the state by one adaptive Runge-Kutta-Nystrom step. The
// proposed st.StepSize is shrunk until the local truncation error estimate
// meets the tolerance; the accepted length is returned and a grown proposal
// stored for the next call.
func (rk *RungeKuttaStepper) Step(st *State) (float64, error) {
	h := clampStep(st.StepSize, rk.cfg.MaxStepSize)
	qop := st.QOverP
	pos, dir := st.Pos, st.Dir

	// k1 only depends on the start point and survives shrink retries.
	bFirst := rk.field.GetField(pos, &st.FieldCache)
	k1 := dir.Cross(bFirst).Scale(qop)

	var (
		k2, k3, k4     geom.Vec3
		bMiddle, bLast geom.Vec3
		errEstimate    float64
	)
	lastResort := false
	for trials := 0; ; trials++ {
		half := 0.5 * h
		posMid := pos.Add(dir.Scale(half)).Add(k1.Scale(h * h / 8))
		bMiddle = rk.field.GetField(posMid, &st.FieldCache)
		k2 = dir.Add(k1.Scale(half)).Cross(bMiddle).Scale(qop)
		k3 = dir.Add(k2.Scale(half)).Cross(bMiddle).Scale(qop)

		posEnd := pos.Add(dir.Scale(h)).Add(k3.Scale(h * h / 2))
		bLast = rk.field.GetField(posEnd, &st.FieldCache)
		k4 = dir.Add(k3.Scale(h)).Cross(bLast).Scale(qop)

		errEstimate = h * h * l1Norm(k1.Sub(k2).Sub(k3).Add(k4))
		if errEstimate < 1e-20 {
			errEstimate = 1e-20
		}
		if errEstimate <= rk.cfg.Tolerance || lastResort {
			break
		}
		if trials >= rk.cfg.MaxStepTrials {
			// Retries exhausted; fall back to the minimal step and take
			// it regardless of the error estimate rather than spin
			// forever on a hostile field region.
			h = math.Copysign(rk.cfg.StepSizeCutOff, h)
			lastResort = true
			continue
		}
		h *= stepScale(rk.cfg.Tolerance, errEstimate)
		if h*h < rk.cfg.StepSizeCutOff*rk.cfg.StepSizeCutOff {
			return 0, fmt.Errorf("runge-kutta step %g: %w", h, ErrStepSizeStalled)
		}
	}

	if st.CovTransport {
		rk.transportMatrix(st, h, qop, dir, k1, k2, k3, k4, bFirst, bMiddle, bLast)
	}

	// Nystrom update; the direction must be renormalized because the
	// truncated expansion does not preserve the norm exactly.
	st.Pos = pos.Add(dir.Scale(h)).Add(k1.Add(k2).Add(k3).Scale(h * h / 6))
	st.Dir = dir.Add(k1.Add(k2.Add(k3).Scale(2)).Add(k4).Scale(h / 6)).Normalized()

	dtds := math.Hypot(1, st.Mass/st.Momentum())
	st.Dt += h * dtds

	if st.CovTransport {
		st.Derivative = track.FreeVector{
			st.Dir[0], st.Dir[1], st.Dir[2],
			dtds,
			k4[0], k4[1], k4[2],
			0,
		}
	}

	st.PathAccumulated += h
	st.StepSize = clampStep(h*stepScale(rk.cfg.Tolerance, errEstimate), rk.cfg.MaxStepSize)
	return h, nil
}

// transportMatrix assembles the analytic 8x8 transport matrix of the step
// from the intermediate field evaluations and folds it into the accumulated
// free-transport jacobian.
func (rk *RungeKuttaStepper) transportMatrix(st *State, h, qop float64, dir geom.Vec3, k1, k2, k3, k4, bFirst, bMiddle, bLast geom.Vec3) {
	half := 0.5 * h

	// Direction derivatives of the four stage accelerations.
	dk1dT := crossMat(bFirst).scale(qop)
	dk2dT := colCross(ident3().addScaled(dk1dT, half), bMiddle).scale(qop)
	dk3dT := colCross(ident3().addScaled(dk2dT, half), bMiddle).scale(qop)
	dk4dT := colCross(ident3().addScaled(dk3dT, h), bLast).scale(qop)

	// q/p derivatives of the stage accelerations.
	dk1dL := dir.Cross(bFirst)
	dk2dL := dir.Add(k1.Scale(half)).Cross(bMiddle).Add(dk1dL.Cross(bMiddle).Scale(qop * half))
	dk3dL := dir.Add(k2.Scale(half)).Cross(bMiddle).Add(dk2dL.Cross(bMiddle).Scale(qop * half))
	dk4dL := dir.Add(k3.Scale(h)).Cross(bLast).Add(dk3dL.Cross(bLast).Scale(qop * h))

	dFdT := ident3().addScaled(dk1dT.add(dk2dT).add(dk3dT), h/6).scale(h)
	dFdL := dk1dL.Add(dk2dL).Add(dk3dL).Scale(h * h / 6)
	dGdT := ident3().addScaled(dk1dT.add(dk4dT).addScaled(dk2dT.add(dk3dT), 2), h/6)
	dGdL := dk1dL.Add(dk4dL).Add(dk2dL.Add(dk3dL).Scale(2)).Scale(h / 6)

	d := identityDense(track.FreeSize)
	setBlock3(d, track.FreePos0, track.FreeDir0, dFdT)
	setCol3(d, track.FreePos0, track.FreeQOverP, dFdL)
	setBlock3(d, track.FreeDir0, track.FreeDir0, dGdT)
	setCol3(d, track.FreeDir0, track.FreeQOverP, dGdL)

	dtds := math.Hypot(1, st.Mass/st.Momentum())
	d.Set(track.FreeTime, track.FreeQOverP, h*st.Mass*st.Mass*qop/dtds)

	var acc mat.Dense
	acc.Mul(d, st.JacTransport)
	st.JacTransport = &acc
}

// stepScale is the adaptive step-size factor, clamped so one retry can
// neither collapse nor explode the step.
func stepScale(tolerance, errEstimate float64) float64 {
	s := math.Sqrt(math.Sqrt(tolerance / (2 * errEstimate)))
	switch {
	case s < 0.25:
		return 0.25
	case s > 4.0:
		return 4.0
	}
	return s
}

func clampStep(h, maxStep float64) float64 {
	if math.Abs(h) > maxStep {
		return math.Copysign(maxStep, h)
	}
	return h
}

func l1Norm(v geom.Vec3) float64 {
	return math.Abs(v[0]) + math.Abs(v[1]) + math.Abs(v[2])
}

// mat3 is a row-major 3x3 matrix for the transport-matrix assembly; gonum
// is overkill for these fixed-size intermediates.
type mat3 [9]float64

func ident3() mat3 {
	return mat3{1, 0, 0, 0, 1, 0, 0, 0, 1}
}

func (m mat3) add(n mat3) mat3 {
	for i := range m {
		m[i] += n[i]
	}
	return m
}

func (m mat3) addScaled(n mat3, s float64) mat3 {
	for i := range m {
		m[i] += s * n[i]
	}
	return m
}

func (m mat3) scale(s float64) mat3 {
	for i := range m {
		m[i] *= s
	}
	return m
}

// crossMat returns the matrix M with M·v = v x b.
func crossMat(b geom.Vec3) mat3 {
	return mat3{
		0, b[2], -b[1],
		-b[2], 0, b[0],
		b[1], -b[0], 0,
	}
}

// colCross replaces each column of m by its cross product with b.
func colCross(m mat3, b geom.Vec3) mat3 {
	var out mat3
	for j := 0; j < 3; j++ {
		c := geom.Vec3{m[j], m[3+j], m[6+j]}.Cross(b)
		out[j], out[3+j], out[6+j] = c[0], c[1], c[2]
	}
	return out
}

func setBlock3(d *mat.Dense, row, col int, m mat3) {
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			d.Set(row+i, col+j, m[3*i+j])
		}
	}
}

func setCol3(d *mat.Dense, row, col int, v geom.Vec3) {
	for i := 0; i < 3; i++ {
		d.Set(row+i, col, v[i])
	}
}
