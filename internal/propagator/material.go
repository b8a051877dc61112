package propagator

import (
	"fmt"
	"math"

	"github.com/banshee-data/trackfit/internal/track"
	"github.com/banshee-data/trackfit/internal/units"
)

// EnergyLossActor applies a mean ionization energy loss per path length to
// the transported track, modelling a homogeneous medium. It reduces the
// momentum after every step; the direction is untouched.
type EnergyLossActor struct {
	// DEDx is the mean energy loss per path length (GeV/mm), positive.
	DEDx float64
	// MinMomentum aborts the propagation once the track has lost too much
	// energy to transport meaningfully.
	MinMomentum float64
}

// NewEnergyLossActor builds an actor with a loss typical for silicon
// trackers when dedxMeVPerMm is zero.
func NewEnergyLossActor(dedxMeVPerMm float64) *EnergyLossActor {
	if dedxMeVPerMm <= 0 {
		dedxMeVPerMm = 0.4
	}
	return &EnergyLossActor{
		DEDx:        dedxMeVPerMm * units.MeV,
		MinMomentum: 10 * units.MeV,
	}
}

func (a *EnergyLossActor) Act(ctx *StepContext) error {
	st := ctx.State
	p := st.Momentum()
	m := st.Mass

	e := math.Sqrt(p*p+m*m) - a.DEDx*math.Abs(ctx.LastStep)
	if e <= m {
		return fmt.Errorf("track ranged out: energy %g below mass %g", e, m)
	}
	pNew := math.Sqrt(e*e - m*m)
	if pNew < a.MinMomentum {
		return fmt.Errorf("momentum %g below transport floor %g", pNew, a.MinMomentum)
	}
	st.QOverP = track.ClampQOverP(st.Charge() / pNew)
	return nil
}
