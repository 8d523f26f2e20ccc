package sensitivity

import (
	"bytes"
	"context"
	"encoding/csv"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/checkout-sim/checkout-sim/sim"
)

func newTestAnalyzer(t *testing.T, opts ...Option) *Analyzer {
	t.Helper()
	a, err := NewAnalyzer(sim.DefaultConfig(), opts...)
	require.NoError(t, err)
	return a
}

func TestRunGrid_FalsePositiveCalibration(t *testing.T) {
	if testing.Short() {
		t.Skip("Monte-Carlo calibration is slow")
	}
	// GIVEN an A/A cell with many repeats
	a := newTestAnalyzer(t)
	spec := GridSpec{SampleSizes: []int{1000}, Uplifts: []float64{0}, Repeats: 300, BaseSeed: 7}

	// WHEN the grid runs
	grid, err := a.RunGrid(context.Background(), spec)
	require.NoError(t, err)

	// THEN the detection rate is the false-positive rate, close to alpha
	cell, ok := grid.Cell(CellKey{SampleSize: 1000, Uplift: 0})
	require.True(t, ok)
	assert.InDelta(t, 0.05, cell.DetectionRate, 0.04)
	assert.Equal(t, 0, cell.Refused)
}

func TestRunGrid_PowerGrowsWithSampleSize(t *testing.T) {
	if testing.Short() {
		t.Skip("Monte-Carlo power estimation is slow")
	}
	a := newTestAnalyzer(t)
	spec := GridSpec{SampleSizes: []int{500, 8000}, Uplifts: []float64{0.08}, Repeats: 30, BaseSeed: 3}

	grid, err := a.RunGrid(context.Background(), spec)
	require.NoError(t, err)

	small, _ := grid.Cell(CellKey{SampleSize: 500, Uplift: 0.08})
	large, _ := grid.Cell(CellKey{SampleSize: 8000, Uplift: 0.08})
	assert.Greater(t, large.DetectionRate, small.DetectionRate)
	assert.GreaterOrEqual(t, large.DetectionRate, 0.8)
}

func TestRunCell_ReproducesGridCell(t *testing.T) {
	// GIVEN a small grid
	a := newTestAnalyzer(t)
	spec := GridSpec{SampleSizes: []int{200, 400}, Uplifts: []float64{0, 0.05}, Repeats: 5, BaseSeed: 11}
	grid, err := a.RunGrid(context.Background(), spec)
	require.NoError(t, err)
	require.True(t, grid.Complete())

	// WHEN one cell is recomputed alone
	key := CellKey{SampleSize: 400, Uplift: 0.05}
	cell, err := a.RunCell(context.Background(), spec, key)
	require.NoError(t, err)

	// THEN it matches the grid's cell exactly
	want, ok := grid.Cell(key)
	require.True(t, ok)
	assert.Equal(t, want, cell)
}

func TestRunGrid_CellOrderFollowsSpec(t *testing.T) {
	a := newTestAnalyzer(t, WithWorkers(4))
	spec := GridSpec{SampleSizes: []int{300, 100}, Uplifts: []float64{0.05, 0}, Repeats: 2, BaseSeed: 1}

	grid, err := a.RunGrid(context.Background(), spec)
	require.NoError(t, err)

	var keys []CellKey
	for _, c := range grid.Cells {
		keys = append(keys, c.Key())
	}
	assert.Equal(t, spec.Keys(), keys)
}

func TestRunGrid_InvalidSetup(t *testing.T) {
	tests := []struct {
		name string
		spec GridSpec
	}{
		{"no sizes", GridSpec{Uplifts: []float64{0}, Repeats: 1}},
		{"no uplifts", GridSpec{SampleSizes: []int{100}, Repeats: 1}},
		{"zero repeats", GridSpec{SampleSizes: []int{100}, Uplifts: []float64{0}}},
		{"duplicate size", GridSpec{SampleSizes: []int{100, 100}, Uplifts: []float64{0}, Repeats: 1}},
		{"duplicate uplift", GridSpec{SampleSizes: []int{100}, Uplifts: []float64{0.02, 0.02}, Repeats: 1}},
		{"negative uplift", GridSpec{SampleSizes: []int{100}, Uplifts: []float64{-0.1}, Repeats: 1}},
	}
	a := newTestAnalyzer(t)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := a.RunGrid(context.Background(), tt.spec)
			var cfgErr *sim.ConfigurationError
			assert.True(t, errors.As(err, &cfgErr), "error = %v", err)
		})
	}
}

func TestRunGrid_UpliftOutOfRange_FailsBeforeSimulating(t *testing.T) {
	obs := &recordingObserver{}
	a := newTestAnalyzer(t, WithObserver(obs))
	spec := GridSpec{SampleSizes: []int{100}, Uplifts: []float64{0, 0.2}, Repeats: 2}

	_, err := a.RunGrid(context.Background(), spec)

	var simErr *sim.SimulationConfigError
	require.True(t, errors.As(err, &simErr), "error = %v", err)
	assert.Zero(t, obs.repeats, "no repeat may run when setup is invalid")
}

func TestRunGrid_Cancelled_ReturnsOnlyCompleteCells(t *testing.T) {
	// GIVEN a context cancelled after the first cell completes
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	obs := &recordingObserver{onCell: cancel}
	a := newTestAnalyzer(t, WithObserver(obs), WithWorkers(1))
	spec := GridSpec{SampleSizes: []int{100, 200, 300}, Uplifts: []float64{0}, Repeats: 2, BaseSeed: 5}

	// WHEN the grid runs
	grid, err := a.RunGrid(ctx, spec)

	// THEN the error is the cancellation and only whole cells are returned
	assert.ErrorIs(t, err, context.Canceled)
	require.NotNil(t, grid)
	assert.False(t, grid.Complete())
	require.Len(t, grid.Cells, 1)
	assert.Equal(t, 2, grid.Cells[0].Repeats)
}

func TestRepeatSeed_DependsOnEveryCoordinate(t *testing.T) {
	base := RepeatSeed(7, CellKey{SampleSize: 100, Uplift: 0.02}, 0)
	assert.NotEqual(t, base, RepeatSeed(8, CellKey{SampleSize: 100, Uplift: 0.02}, 0))
	assert.NotEqual(t, base, RepeatSeed(7, CellKey{SampleSize: 101, Uplift: 0.02}, 0))
	assert.NotEqual(t, base, RepeatSeed(7, CellKey{SampleSize: 100, Uplift: 0.03}, 0))
	assert.NotEqual(t, base, RepeatSeed(7, CellKey{SampleSize: 100, Uplift: 0.02}, 1))
	assert.Equal(t, base, RepeatSeed(7, CellKey{SampleSize: 100, Uplift: 0.02}, 0))
}

func TestGrid_ReportOutputs(t *testing.T) {
	grid := &Grid{
		Spec:  GridSpec{SampleSizes: []int{20000, 10000}, Uplifts: []float64{0.02, 0}, Repeats: 10, BaseSeed: 7},
		Alpha: 0.05,
		Cells: []Cell{
			{SampleSize: 20000, Uplift: 0.02, Repeats: 10, Detections: 9, DetectionRate: 0.9, Alpha: 0.05},
			{SampleSize: 20000, Uplift: 0, Repeats: 10, Detections: 1, DetectionRate: 0.1, Alpha: 0.05},
		},
	}

	meta := grid.Metadata(time.Date(2025, 2, 1, 0, 0, 0, 0, time.UTC), 0.8)
	assert.Equal(t, []int{10000, 20000}, meta.SampleSizes)
	assert.Equal(t, []float64{0, 0.02}, meta.Uplifts)
	assert.Equal(t, 4, meta.GridSize)
	assert.Equal(t, 40, meta.TotalSimulations)
	assert.Equal(t, 2, meta.CompletedCells)

	u, ok := grid.MinDetectableUplift(20000, 0.8)
	assert.True(t, ok)
	assert.Equal(t, 0.02, u)
	_, ok = grid.MinDetectableUplift(10000, 0.8)
	assert.False(t, ok)

	var buf bytes.Buffer
	require.NoError(t, grid.WriteCSV(&buf))
	rows, err := csv.NewReader(&buf).ReadAll()
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.Equal(t, csvHeader, rows[0])
	assert.Equal(t, []string{"20000", "0.02", "10", "9", "0", "0.9000", "0.05"}, rows[1])

	var table bytes.Buffer
	grid.WriteTable(&table)
	assert.Contains(t, table.String(), "90.0%")
}

type recordingObserver struct {
	mu      sync.Mutex
	repeats int
	cells   int
	onCell  func()
}

func (o *recordingObserver) ObserveRepeat(bool, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.repeats++
}

func (o *recordingObserver) ObserveCell(Cell) {
	o.mu.Lock()
	o.cells++
	o.mu.Unlock()
	if o.onCell != nil {
		o.onCell()
	}
}
