package stepper

import (
	"math"

	"gonum.org/v1/gonum/mat"

	"github.com/banshee-data/trackfit/internal/geom"
	"github.com/banshee-data/trackfit/internal/track"
)

// StraightLineStepper transports tracks on straight lines, for field-free
// regions and for seeding studies. It shares all state projection logic
// with the Runge-Kutta stepper; only the per-step kinematics differ.
type StraightLineStepper struct {
	binder
	cfg Config
}

// NewStraightLine builds a straight-line stepper.
func NewStraightLine(cfg Config) *StraightLineStepper {
	return &StraightLineStepper{cfg: cfg}
}

func (sl *StraightLineStepper) GetField(*State, geom.Vec3) geom.Vec3 {
	return geom.Vec3{}
}

// Step advances the state by exactly st.StepSize; there is no error
// estimate to adapt against.
func (sl *StraightLineStepper) Step(st *State) (float64, error) {
	h := clampStep(st.StepSize, sl.cfg.MaxStepSize)
	dtds := math.Hypot(1, st.Mass/st.Momentum())

	if st.CovTransport {
		d := identityDense(track.FreeSize)
		for i := 0; i < 3; i++ {
			d.Set(track.FreePos0+i, track.FreeDir0+i, h)
		}
		d.Set(track.FreeTime, track.FreeQOverP, h*st.Mass*st.Mass*st.QOverP/dtds)

		var acc mat.Dense
		acc.Mul(d, st.JacTransport)
		st.JacTransport = &acc

		st.Derivative = track.FreeVector{
			st.Dir[0], st.Dir[1], st.Dir[2],
			dtds,
			0, 0, 0,
			0,
		}
	}

	st.Pos = st.Pos.Add(st.Dir.Scale(h))
	st.Dt += h * dtds
	st.PathAccumulated += h
	return h, nil
}
