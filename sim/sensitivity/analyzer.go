package sensitivity

import (
	"context"
	"errors"
	"fmt"
	"runtime"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/checkout-sim/checkout-sim/sim"
	"github.com/checkout-sim/checkout-sim/sim/metrics"
	"github.com/checkout-sim/checkout-sim/sim/stats"
)

// Observer receives grid progress. Implementations must be safe for concurrent use.
type Observer interface {
	ObserveRepeat(detected, refused bool)
	ObserveCell(c Cell)
}

// Analyzer runs power grids for one base configuration.
type Analyzer struct {
	cfg      sim.Config
	engine   *stats.Engine
	observer Observer
	workers  int
}

// Option customizes an Analyzer.
type Option func(*Analyzer)

// WithObserver attaches a progress observer.
func WithObserver(o Observer) Option {
	return func(a *Analyzer) { a.observer = o }
}

// WithWorkers bounds the number of cells computed in parallel.
func WithWorkers(n int) Option {
	return func(a *Analyzer) {
		if n > 0 {
			a.workers = n
		}
	}
}

// NewAnalyzer validates cfg. Uplift and seed in cfg are overridden per repeat.
func NewAnalyzer(cfg sim.Config, opts ...Option) (*Analyzer, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	engine, err := stats.NewEngine(cfg)
	if err != nil {
		return nil, err
	}
	a := &Analyzer{cfg: cfg, engine: engine, workers: runtime.GOMAXPROCS(0)}
	if cfg.Experiment.Workers > 0 {
		a.workers = cfg.Experiment.Workers
	}
	for _, opt := range opts {
		opt(a)
	}
	return a, nil
}

// RepeatSeed is the simulation seed of one repeat of one cell. It depends
// only on the base seed and the cell coordinates, so any cell can be
// recomputed alone.
func RepeatSeed(base int64, key CellKey, repeat int) int64 {
	return sim.DeriveSeed(base, "cell", key.SampleSize, key.Uplift, repeat)
}

// RunGrid estimates every cell of spec. Setup is fully validated before any
// simulation starts. On cancellation no new cells start and the returned grid
// holds only the complete cells, alongside the context error.
func (a *Analyzer) RunGrid(ctx context.Context, spec GridSpec) (*Grid, error) {
	if err := a.validate(spec); err != nil {
		return nil, err
	}
	keys := spec.Keys()
	logrus.Infof("Sensitivity grid: %d sizes x %d uplifts, %d repeats each (%d simulations), alpha=%.3f",
		len(spec.SampleSizes), len(spec.Uplifts), spec.Repeats, len(keys)*spec.Repeats, a.engine.Alpha())

	slots := make([]*Cell, len(keys))
	g, gCtx := errgroup.WithContext(ctx)
	g.SetLimit(a.workers)
	for i, key := range keys {
		g.Go(func() error {
			if err := gCtx.Err(); err != nil {
				return err
			}
			cell, err := a.runCell(gCtx, spec, key)
			if err != nil {
				return err
			}
			slots[i] = &cell
			return nil
		})
	}
	err := g.Wait()

	grid := &Grid{Spec: spec, Alpha: a.engine.Alpha()}
	for _, c := range slots {
		if c != nil {
			grid.Cells = append(grid.Cells, *c)
		}
	}
	switch {
	case err == nil:
		return grid, nil
	case errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded):
		logrus.Warnf("Sensitivity grid cancelled: %d of %d cells complete", len(grid.Cells), len(keys))
		return grid, err
	default:
		return nil, err
	}
}

// RunCell recomputes one cell without running the rest of the grid.
// The result equals the corresponding cell of RunGrid for the same spec.
func (a *Analyzer) RunCell(ctx context.Context, spec GridSpec, key CellKey) (Cell, error) {
	one := spec
	one.SampleSizes = []int{key.SampleSize}
	one.Uplifts = []float64{key.Uplift}
	if err := a.validate(one); err != nil {
		return Cell{}, err
	}
	return a.runCell(ctx, spec, key)
}

func (a *Analyzer) validate(spec GridSpec) error {
	if err := spec.Validate(); err != nil {
		return err
	}
	for _, u := range spec.Uplifts {
		if _, err := sim.NewTransitionTable(a.cfg.WithUplift(u)); err != nil {
			return fmt.Errorf("uplift %.4f: %w", u, err)
		}
	}
	return nil
}

func (a *Analyzer) runCell(ctx context.Context, spec GridSpec, key CellKey) (Cell, error) {
	cell := Cell{SampleSize: key.SampleSize, Uplift: key.Uplift, Repeats: spec.Repeats, Alpha: a.engine.Alpha()}
	for rep := 0; rep < spec.Repeats; rep++ {
		detected, refused, err := a.runRepeat(ctx, key, RepeatSeed(spec.BaseSeed, key, rep))
		if err != nil {
			return Cell{}, fmt.Errorf("cell %s repeat %d: %w", key, rep, err)
		}
		if detected {
			cell.Detections++
		}
		if refused {
			cell.Refused++
		}
		if a.observer != nil {
			a.observer.ObserveRepeat(detected, refused)
		}
	}
	cell.DetectionRate = float64(cell.Detections) / float64(cell.Repeats)
	logrus.Infof("Cell %s: %d/%d detections (rate=%.1f%%)", key, cell.Detections, cell.Repeats, cell.DetectionRate*100)
	if a.observer != nil {
		a.observer.ObserveCell(cell)
	}
	return cell, nil
}

// runRepeat simulates sampleSize fresh users under the cell's uplift and
// tests conversion. A refused test counts as not detected.
func (a *Analyzer) runRepeat(ctx context.Context, key CellKey, seed int64) (detected, refused bool, err error) {
	cfg := a.cfg.WithUplift(key.Uplift).WithSeed(seed)
	cfg.Experiment.Workers = 1
	fs, err := sim.NewFunnelSimulator(cfg)
	if err != nil {
		return false, false, err
	}
	day := cfg.StartTime()
	ids := make([]string, key.SampleSize)
	for i := range ids {
		ids[i] = sim.UserID(day, i)
	}
	pop, err := fs.RunUsers(ctx, ids, day)
	if err != nil {
		return false, false, err
	}
	r, err := a.engine.TestPrimary(metrics.FromSessions(pop.Sessions))
	var insufficient *sim.InsufficientSampleError
	switch {
	case errors.As(err, &insufficient):
		logrus.Debugf("Cell %s seed %d: test refused: %v", key, seed, err)
		return false, true, nil
	case err != nil:
		return false, false, err
	}
	logrus.Debugf("Cell %s seed %d: p=%.4f detected=%v", key, seed, r.PValue, r.Significant)
	return r.Significant, false, nil
}
