// Package main provides a simulation harness for the track fitting chain.
// It generates tracks through a telescope of parallel planes, smears the
// crossings into measurements, fits them in parallel and reports pull
// statistics, optionally persisting the fits and plotting pull
// distributions.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"math"
	"math/rand"
	"os"
	"time"

	"gonum.org/v1/gonum/stat"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"

	"github.com/banshee-data/trackfit/internal/config"
	"github.com/banshee-data/trackfit/internal/field"
	"github.com/banshee-data/trackfit/internal/fitstore"
	"github.com/banshee-data/trackfit/internal/fitter"
	"github.com/banshee-data/trackfit/internal/geom"
	"github.com/banshee-data/trackfit/internal/monitoring"
	"github.com/banshee-data/trackfit/internal/propagator"
	"github.com/banshee-data/trackfit/internal/stepper"
	"github.com/banshee-data/trackfit/internal/surface"
	"github.com/banshee-data/trackfit/internal/track"
	"github.com/banshee-data/trackfit/internal/units"
	"github.com/banshee-data/trackfit/internal/version"
)

// Config holds the simulation and fit campaign settings.
type Config struct {
	Tracks    int
	Planes    int
	SpacingMm float64
	FieldT    float64
	Momentum  float64
	SigmaMm   float64
	MassGeV   float64
	Workers   int
	Seed      int64
	DBPath    string
	Label     string
	PlotPath  string
	TunePath  string
	Verbose   bool
}

func parseFlags() Config {
	var cfg Config
	flag.IntVar(&cfg.Tracks, "tracks", 1000, "number of tracks to simulate and fit")
	flag.IntVar(&cfg.Planes, "planes", 6, "number of telescope planes")
	flag.Float64Var(&cfg.SpacingMm, "spacing", 100, "plane spacing in mm")
	flag.Float64Var(&cfg.FieldT, "field", 2, "solenoid field in Tesla, along z")
	flag.Float64Var(&cfg.Momentum, "momentum", 2, "track momentum in GeV")
	flag.Float64Var(&cfg.SigmaMm, "sigma", 0.1, "measurement resolution in mm")
	flag.Float64Var(&cfg.MassGeV, "mass", 0.139570, "particle hypothesis mass in GeV")
	flag.IntVar(&cfg.Workers, "workers", 0, "fit workers, 0 = one per CPU")
	flag.Int64Var(&cfg.Seed, "seed", 1, "random seed")
	flag.StringVar(&cfg.DBPath, "db", "", "optional SQLite path to persist the fits")
	flag.StringVar(&cfg.Label, "label", "fit-sim", "label for persisted fits")
	flag.StringVar(&cfg.PlotPath, "plot", "", "optional PNG path for the loc0 pull histogram")
	flag.StringVar(&cfg.TunePath, "config", "", "optional JSON tuning config for the transport chain")
	flag.BoolVar(&cfg.Verbose, "v", false, "verbose per-fit logging")
	showVersion := flag.Bool("version", false, "print version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Println(version.String())
		os.Exit(0)
	}
	return cfg
}

func main() {
	cfg := parseFlags()
	if err := run(cfg); err != nil {
		log.Fatalf("fit-sim: %v", err)
	}
}

func run(cfg Config) error {
	if !cfg.Verbose {
		monitoring.SetLogger(nil)
	}
	rng := rand.New(rand.NewSource(cfg.Seed))

	tune := config.EmptyTuningConfig()
	if cfg.TunePath != "" {
		var err error
		tune, err = config.LoadTuningConfig(cfg.TunePath)
		if err != nil {
			return fmt.Errorf("load tuning config: %w", err)
		}
		// File tuning wins over flag defaults for the physics knobs.
		if tune.FieldTesla != nil {
			cfg.FieldT = tune.GetFieldTesla()
		}
		if tune.MassGeV != nil {
			cfg.MassGeV = tune.GetMassGeV()
		}
		if tune.Workers != nil {
			cfg.Workers = tune.GetWorkers()
		}
	}

	bz := cfg.FieldT * units.T
	rk := stepper.NewRungeKutta(field.NewConstant(geom.V(0, 0, bz)), tune.StepperConfig())
	prop := propagator.New(rk, tune.PropagatorConfig())
	kf := fitter.NewKalman(prop)

	start := surface.NewPlane(geom.V(0, 0, 0), geom.V(0, 0, 1))
	// Telescope planes with pinned measurement axes: loc0 along global x,
	// loc1 along global y.
	axes := geom.Frame{U: geom.V(1, 0, 0), V: geom.V(0, 1, 0), W: geom.V(0, 0, 1)}
	planes := make([]surface.Surface, cfg.Planes)
	for i := range planes {
		planes[i] = surface.NewPlaneWithAxes(geom.V(0, 0, float64(i+1)*cfg.SpacingMm), axes)
	}

	log.Printf("simulating %d tracks through %d planes in a %.2f T field (%s)",
		cfg.Tracks, cfg.Planes, units.ToTesla(bz), version.String())
	began := time.Now()

	truths := make([]track.BoundVector, cfg.Tracks)
	items := make([]fitter.BatchItem, cfg.Tracks)
	for i := range items {
		truth, item, err := simulateTrack(prop, rng, cfg, start, planes)
		if err != nil {
			return fmt.Errorf("simulate track %d: %w", i, err)
		}
		truths[i] = truth
		items[i] = item
	}

	results := kf.FitBatch(context.Background(), items, cfg.Workers, fitter.FitOptions{Mass: cfg.MassGeV})

	var store *fitstore.Store
	if cfg.DBPath != "" {
		var err error
		store, err = fitstore.Open(cfg.DBPath)
		if err != nil {
			return err
		}
		defer store.Close()
	}

	var (
		failed     int
		fittedPath float64
		chi2PerNDF []float64
		pullsLoc0  []float64
		pullsLoc1  []float64
	)
	for i, r := range results {
		if r.Err != nil {
			failed++
			monitoring.Logf("fit %d failed: %v", i, r.Err)
			continue
		}
		res := r.Result
		if res.NDF > 0 {
			chi2PerNDF = append(chi2PerNDF, res.Chi2/float64(res.NDF))
		}
		if n := len(res.States); n > 0 {
			fittedPath += res.States[n-1].PathLength
		}

		truthFirst, err := truthAtFirstPlane(prop, truths[i], start, planes[0], cfg.MassGeV)
		if err != nil {
			return fmt.Errorf("truth reference %d: %w", i, err)
		}
		if p, ok := pull(res, truthFirst, track.Loc0); ok {
			pullsLoc0 = append(pullsLoc0, p)
		}
		if p, ok := pull(res, truthFirst, track.Loc1); ok {
			pullsLoc1 = append(pullsLoc1, p)
		}

		if store != nil {
			if err := store.InsertFit(fitstore.RecordFromResult(cfg.Label, res)); err != nil {
				return fmt.Errorf("persist fit %d: %w", i, err)
			}
		}
	}

	fitted := cfg.Tracks - failed
	log.Printf("fitted %d/%d tracks in %v", fitted, cfg.Tracks, time.Since(began).Round(time.Millisecond))
	if fitted > 0 {
		log.Printf("mean fitted trajectory length %.3f m", units.ToMeter(fittedPath/float64(fitted)))
	}
	report("chi2/ndf", chi2PerNDF)
	report("pull loc0", pullsLoc0)
	report("pull loc1", pullsLoc1)

	if cfg.PlotPath != "" {
		if err := plotPulls(cfg.PlotPath, pullsLoc0); err != nil {
			return fmt.Errorf("plot pulls: %w", err)
		}
		log.Printf("wrote pull histogram to %s", cfg.PlotPath)
	}
	return nil
}

// simulateTrack draws a truth track, transports it through the telescope
// and smears the crossings into measurements with the configured
// resolution. The fit seed is the truth deliberately offset by a few
// sigma.
func simulateTrack(prop *propagator.Propagator, rng *rand.Rand, cfg Config, start surface.Surface, planes []surface.Surface) (track.BoundVector, fitter.BatchItem, error) {
	phi := rng.NormFloat64() * 0.05
	theta := 0.4 + rng.NormFloat64()*0.05
	p := cfg.Momentum * (1 + rng.NormFloat64()*0.1)
	truth := track.NewBoundVector(
		rng.NormFloat64()*0.5, rng.NormFloat64()*0.5,
		phi, theta, 1/p, 0,
	)

	st := stepper.NewState(track.BoundParameters{Vector: truth}, start, 1, cfg.SpacingMm, cfg.MassGeV)
	seq := make([]fitter.SurfaceMeasurement, len(planes))
	for i, pl := range planes {
		bs, err := prop.ToSurface(context.Background(), st, pl)
		if err != nil {
			return truth, fitter.BatchItem{}, err
		}
		seq[i] = fitter.SurfaceMeasurement{
			Surface: pl,
			Measurement: &fitter.Measurement{
				Surface: pl,
				Indices: []int{track.Loc0, track.Loc1},
				Values: []float64{
					bs.Parameters.Vector[track.Loc0] + rng.NormFloat64()*cfg.SigmaMm,
					bs.Parameters.Vector[track.Loc1] + rng.NormFloat64()*cfg.SigmaMm,
				},
				Covariance: track.DiagonalSym([]float64{cfg.SigmaMm * cfg.SigmaMm, cfg.SigmaMm * cfg.SigmaMm}),
			},
		}
	}

	seed := truth
	seed[track.Loc0] += rng.NormFloat64() * 0.5
	seed[track.Loc1] += rng.NormFloat64() * 0.5
	seed[track.Phi] += rng.NormFloat64() * 0.005
	seed[track.Theta] += rng.NormFloat64() * 0.005
	seed[track.QOverP] *= 1 + rng.NormFloat64()*0.02

	item := fitter.BatchItem{
		Start: track.BoundParameters{
			Vector:     seed,
			Covariance: track.DiagonalSym([]float64{1, 1, 1e-3, 1e-3, 1e-3, 1}),
		},
		StartSurface: start,
		Sequence:     seq,
	}
	return truth, item, nil
}

func truthAtFirstPlane(prop *propagator.Propagator, truth track.BoundVector, start, first surface.Surface, mass float64) (track.BoundVector, error) {
	st := stepper.NewState(track.BoundParameters{Vector: truth}, start, 1, 100, mass)
	bs, err := prop.ToSurface(context.Background(), st, first)
	if err != nil {
		return track.BoundVector{}, err
	}
	return bs.Parameters.Vector, nil
}

// pull computes (fitted - truth) / sigma for one smoothed component.
func pull(res *fitter.FitResult, truth track.BoundVector, idx int) (float64, bool) {
	if res.Parameters.Covariance == nil {
		return 0, false
	}
	v := res.Parameters.Covariance.At(idx, idx)
	if v <= 0 {
		return 0, false
	}
	return (res.Parameters.Vector[idx] - truth[idx]) / math.Sqrt(v), true
}

func report(name string, xs []float64) {
	if len(xs) == 0 {
		log.Printf("%-10s no entries", name)
		return
	}
	mean := stat.Mean(xs, nil)
	sigma := stat.StdDev(xs, nil)
	log.Printf("%-10s n=%d mean=%+.4f sigma=%.4f", name, len(xs), mean, sigma)
}

func plotPulls(path string, pulls []float64) error {
	p := plot.New()
	p.Title.Text = "loc0 pull"
	p.X.Label.Text = "(fitted - truth) / sigma"
	p.Y.Label.Text = "tracks"

	h, err := plotter.NewHist(plotter.Values(pulls), 40)
	if err != nil {
		return err
	}
	p.Add(h)
	return p.Save(6*vg.Inch, 4*vg.Inch, path)
}
