// Package propagator orchestrates repeated stepping: it drives a stepper
// state toward a target surface or path limit, clamping the step proposal
// to the remaining distance and invoking per-step actors for material
// effects or diagnostics.
package propagator

import (
	"context"
	"errors"
	"fmt"
	"math"

	"github.com/banshee-data/trackfit/internal/monitoring"
	"github.com/banshee-data/trackfit/internal/stepper"
	"github.com/banshee-data/trackfit/internal/surface"
	"github.com/banshee-data/trackfit/internal/track"
)

var (
	// ErrMaxStepsExceeded reports that the step budget ran out before the
	// target or path limit was reached.
	ErrMaxStepsExceeded = errors.New("maximum number of steps exceeded")
	// ErrTargetUnreachable reports that the target surface left the
	// forward cone of the track during propagation.
	ErrTargetUnreachable = errors.New("target surface unreachable")
)

// Actor observes or modifies the transport state after every accepted
// step. Actors run in registration order; an actor error aborts the
// propagation.
type Actor interface {
	Act(ctx *StepContext) error
}

// StepContext is the view of the propagation handed to actors after each
// step.
type StepContext struct {
	State    *stepper.State
	Stepper  stepper.Stepper
	Target   surface.Surface // nil for free propagation
	LastStep float64         // signed length of the step just taken
}

// Config bounds a propagation. The zero value is not usable; start from
// DefaultConfig.
type Config struct {
	// MaxSteps is the step budget per propagation.
	MaxSteps int
	// PathLimit caps the unsigned path length; zero means no cap.
	PathLimit float64
	// TargetTolerance is the remaining distance below which the target
	// surface counts as reached.
	TargetTolerance float64
}

// DefaultConfig returns the bounds used by the fitting chain.
func DefaultConfig() Config {
	return Config{
		MaxSteps:        1000,
		PathLimit:       0,
		TargetTolerance: surface.OnSurfaceTolerance,
	}
}

// Propagator drives one stepper. It is stateless across calls and safe for
// concurrent use; all mutable state lives in the caller's stepper.State.
type Propagator struct {
	stp    stepper.Stepper
	cfg    Config
	actors []Actor
}

// New builds a propagator over a stepper with the given per-step actors.
func New(stp stepper.Stepper, cfg Config, actors ...Actor) *Propagator {
	return &Propagator{stp: stp, cfg: cfg, actors: actors}
}

// Stepper exposes the underlying transport engine, for callers that need
// to project or update the state between propagation legs.
func (p *Propagator) Stepper() stepper.Stepper { return p.stp }

// ToSurface advances the state onto target and returns the bound state
// there, with the covariance transported and the jacobian bookkeeping
// reinitialized at the target.
func (p *Propagator) ToSurface(ctx context.Context, st *stepper.State, target surface.Surface) (stepper.BoundState, error) {
	if err := p.loop(ctx, st, target); err != nil {
		return stepper.BoundState{}, err
	}
	monitoring.Debugf("propagator: reached %s surface at path %g", target.Type(), st.PathAccumulated)
	return p.stp.BoundState(st, target, true)
}

// Free advances the state until the configured path limit and returns the
// curvilinear state there. A propagator without a path limit cannot run
// free.
func (p *Propagator) Free(ctx context.Context, st *stepper.State) (stepper.CurvilinearState, error) {
	if p.cfg.PathLimit <= 0 {
		return stepper.CurvilinearState{}, errors.New("free propagation requires a path limit")
	}
	if err := p.loop(ctx, st, nil); err != nil {
		return stepper.CurvilinearState{}, err
	}
	return p.stp.CurvilinearState(st, true), nil
}

// PropagateToSurface is the one-shot entry point: seed a state from bound
// parameters on a start surface and transport it onto target.
func (p *Propagator) PropagateToSurface(ctx context.Context, pars track.BoundParameters, start, target surface.Surface, navDir int, mass float64) (stepper.BoundState, error) {
	st := stepper.NewState(pars, start, navDir, initialStep(p.cfg), mass)
	return p.ToSurface(ctx, st, target)
}

func initialStep(cfg Config) float64 {
	if cfg.PathLimit > 0 {
		return cfg.PathLimit
	}
	return 100
}

func (p *Propagator) loop(ctx context.Context, st *stepper.State, target surface.Surface) error {
	for steps := 0; steps < p.cfg.MaxSteps; steps++ {
		if steps%64 == 0 {
			if err := ctx.Err(); err != nil {
				return err
			}
		}

		if target != nil {
			isect := target.Intersect(st.Pos, st.Dir, st.NavDir, false)
			if !isect.Valid {
				return fmt.Errorf("at path %g: %w", st.PathAccumulated, ErrTargetUnreachable)
			}
			if math.Abs(isect.PathLength) <= p.cfg.TargetTolerance {
				return nil
			}
			if math.Abs(st.StepSize) > math.Abs(isect.PathLength) {
				st.StepSize = isect.PathLength
			}
		}
		if p.cfg.PathLimit > 0 {
			remaining := float64(st.NavDir)*p.cfg.PathLimit - st.PathAccumulated
			if math.Abs(remaining) <= p.cfg.TargetTolerance {
				if target == nil {
					return nil
				}
				return fmt.Errorf("path limit %g reached: %w", p.cfg.PathLimit, ErrTargetUnreachable)
			}
			if math.Abs(st.StepSize) > math.Abs(remaining) {
				st.StepSize = remaining
			}
		}

		h, err := p.stp.Step(st)
		if err != nil {
			return fmt.Errorf("after %d steps: %w", steps, err)
		}
		if len(p.actors) > 0 {
			sc := StepContext{State: st, Stepper: p.stp, Target: target, LastStep: h}
			for _, a := range p.actors {
				if err := a.Act(&sc); err != nil {
					return fmt.Errorf("actor aborted propagation: %w", err)
				}
			}
		}
	}
	return fmt.Errorf("budget %d: %w", p.cfg.MaxSteps, ErrMaxStepsExceeded)
}
