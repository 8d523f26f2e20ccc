// Package sensitivity estimates statistical power by Monte-Carlo simulation.
//
// For each (sample size, uplift) cell of a grid, the analyzer simulates a
// fresh population per repeat, runs the primary conversion test and counts
// how often it is significant. At uplift 0 the detection rate is the
// false-positive rate and should sit near alpha.
package sensitivity

import (
	"fmt"
	"sort"

	"github.com/checkout-sim/checkout-sim/sim"
)

// GridSpec names the cells to estimate and how many repeats each gets.
type GridSpec struct {
	SampleSizes []int
	Uplifts     []float64
	Repeats     int
	BaseSeed    int64
}

// GridSpecFromConfig builds a GridSpec from the sensitivity section of cfg.
func GridSpecFromConfig(cfg sim.Config) GridSpec {
	return GridSpec{
		SampleSizes: cfg.Sensitivity.SampleSizes,
		Uplifts:     cfg.Sensitivity.Uplifts,
		Repeats:     cfg.Sensitivity.Repeats,
		BaseSeed:    cfg.Sensitivity.Seed,
	}
}

// Keys enumerates the grid in row-major order: sample sizes outer, uplifts inner.
func (s GridSpec) Keys() []CellKey {
	keys := make([]CellKey, 0, len(s.SampleSizes)*len(s.Uplifts))
	for _, n := range s.SampleSizes {
		for _, u := range s.Uplifts {
			keys = append(keys, CellKey{SampleSize: n, Uplift: u})
		}
	}
	return keys
}

// Validate rejects empty or duplicated grids and non-positive sizes.
func (s GridSpec) Validate() error {
	if len(s.SampleSizes) == 0 {
		return &sim.ConfigurationError{Param: "sensitivity.sample_sizes", Constraint: "list at least one size"}
	}
	if len(s.Uplifts) == 0 {
		return &sim.ConfigurationError{Param: "sensitivity.uplifts", Constraint: "list at least one uplift"}
	}
	if s.Repeats < 1 {
		return &sim.ConfigurationError{Param: "sensitivity.repeats", Constraint: "be at least 1", Value: s.Repeats}
	}
	seenN := make(map[int]bool, len(s.SampleSizes))
	for _, n := range s.SampleSizes {
		if n < 1 {
			return &sim.ConfigurationError{Param: "sensitivity.sample_sizes", Constraint: "contain only positive sizes", Value: n}
		}
		if seenN[n] {
			return &sim.ConfigurationError{Param: "sensitivity.sample_sizes", Constraint: "not repeat a size", Value: n}
		}
		seenN[n] = true
	}
	seenU := make(map[float64]bool, len(s.Uplifts))
	for _, u := range s.Uplifts {
		if !(u >= 0) {
			return &sim.ConfigurationError{Param: "sensitivity.uplifts", Constraint: "contain only non-negative uplifts", Value: u}
		}
		if seenU[u] {
			return &sim.ConfigurationError{Param: "sensitivity.uplifts", Constraint: "not repeat an uplift", Value: u}
		}
		seenU[u] = true
	}
	return nil
}

// CellKey identifies one grid cell.
type CellKey struct {
	SampleSize int
	Uplift     float64
}

func (k CellKey) String() string {
	return fmt.Sprintf("n=%d uplift=%.4f", k.SampleSize, k.Uplift)
}

// Cell is the power estimate for one (sample size, uplift) pair.
type Cell struct {
	SampleSize    int     `json:"sample_size"`
	Uplift        float64 `json:"uplift"`
	Repeats       int     `json:"repeats"`
	Detections    int     `json:"detections"`
	Refused       int     `json:"refused"` // repeats where the test refused to run
	DetectionRate float64 `json:"detection_rate"`
	Alpha         float64 `json:"alpha"`
}

// Key returns the cell's grid key.
func (c Cell) Key() CellKey { return CellKey{SampleSize: c.SampleSize, Uplift: c.Uplift} }

// Grid holds completed cells in grid order. A grid from a cancelled run
// holds only the cells that finished.
type Grid struct {
	Spec  GridSpec
	Alpha float64
	Cells []Cell
}

// Cell looks up a completed cell.
func (g *Grid) Cell(key CellKey) (Cell, bool) {
	for _, c := range g.Cells {
		if c.Key() == key {
			return c, true
		}
	}
	return Cell{}, false
}

// Complete reports whether every cell of the spec finished.
func (g *Grid) Complete() bool {
	return len(g.Cells) == len(g.Spec.SampleSizes)*len(g.Spec.Uplifts)
}

// MinDetectableUplift returns the smallest positive uplift whose detection
// rate at sampleSize reaches target. ok is false if none does.
func (g *Grid) MinDetectableUplift(sampleSize int, target float64) (float64, bool) {
	var uplifts []float64
	for _, c := range g.Cells {
		if c.SampleSize == sampleSize && c.Uplift > 0 && c.DetectionRate >= target {
			uplifts = append(uplifts, c.Uplift)
		}
	}
	if len(uplifts) == 0 {
		return 0, false
	}
	sort.Float64s(uplifts)
	return uplifts[0], true
}
