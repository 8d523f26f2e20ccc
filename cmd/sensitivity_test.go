package cmd

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	sim "github.com/checkout-sim/checkout-sim/sim"
	"github.com/checkout-sim/checkout-sim/sim/sensitivity"
	"github.com/checkout-sim/checkout-sim/sim/sink"
)

func smallGrid() sensitivity.GridSpec {
	return sensitivity.GridSpec{SampleSizes: []int{400}, Uplifts: []float64{0, 0.02}, Repeats: 2, BaseSeed: 7}
}

func TestGridSpecFromFlags_OverridesConfigGrid(t *testing.T) {
	resetFlagVars(t)
	saved := struct {
		sizes   []int
		uplifts []float64
		repeats int
	}{gridSizes, gridUplifts, gridRepeats}
	t.Cleanup(func() { gridSizes, gridUplifts, gridRepeats = saved.sizes, saved.uplifts, saved.repeats })

	// GIVEN --sizes and --seed set, --uplifts and --repeats left alone
	gridSizes, gridUplifts, gridRepeats = []int{500}, []float64{0.5}, 99
	cfg := sim.DefaultConfig().WithSeed(1234)

	// WHEN the grid spec is built
	spec := gridSpecFromFlags(cfg, changedSet("sizes", "seed"))

	// THEN set flags win and the rest comes from the config
	assert.Equal(t, []int{500}, spec.SampleSizes)
	assert.Equal(t, cfg.Sensitivity.Uplifts, spec.Uplifts)
	assert.Equal(t, cfg.Sensitivity.Repeats, spec.Repeats)
	assert.Equal(t, int64(1234), spec.BaseSeed)
}

func TestRunSensitivity_WritesEveryOutput(t *testing.T) {
	// GIVEN CSV, SQLite and textfile outputs
	dir := t.TempDir()
	opts := sensitivityOptions{
		CSVPath:    filepath.Join(dir, "grid.csv"),
		DBPath:     filepath.Join(dir, "run.db"),
		MetricsOut: filepath.Join(dir, "grid.prom"),
	}
	var out bytes.Buffer

	// WHEN a two-cell grid runs
	grid, err := runSensitivity(context.Background(), sim.DefaultConfig(), smallGrid(), opts, &out)
	require.NoError(t, err)
	require.True(t, grid.Complete())

	// THEN the CSV has a header and one row per cell
	data, err := os.ReadFile(opts.CSVPath)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	assert.Len(t, lines, 3)
	assert.True(t, strings.HasPrefix(lines[0], "sample_size,uplift"))

	// AND the metadata sits next to it
	raw, err := os.ReadFile(filepath.Join(dir, "grid_metadata.json"))
	require.NoError(t, err)
	var meta sensitivity.Metadata
	require.NoError(t, json.Unmarshal(raw, &meta))
	assert.Equal(t, 2, meta.GridSize)
	assert.Equal(t, 4, meta.TotalSimulations)
	assert.Equal(t, int64(7), meta.BaseSeed)

	// AND the database holds both cells
	db, err := sink.OpenSQLite(opts.DBPath)
	require.NoError(t, err)
	defer db.Close()
	n, err := db.CountRows(context.Background(), "sensitivity_cells")
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	// AND the textfile counts completed cells
	prom, err := os.ReadFile(opts.MetricsOut)
	require.NoError(t, err)
	assert.Contains(t, string(prom), "checkout_sim_sensitivity_cells_completed_total 2")
	assert.Contains(t, out.String(), "n=400")
}

func TestRunSensitivity_CancelledRunStillWritesOutputs(t *testing.T) {
	// GIVEN a context cancelled before the grid starts
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	csvPath := filepath.Join(t.TempDir(), "grid.csv")

	// WHEN the grid runs
	grid, err := runSensitivity(ctx, sim.DefaultConfig(), smallGrid(), sensitivityOptions{CSVPath: csvPath}, &bytes.Buffer{})

	// THEN the cancellation is reported with the partial grid
	assert.ErrorIs(t, err, context.Canceled)
	require.NotNil(t, grid)
	assert.False(t, grid.Complete())

	// AND the CSV was still written
	_, statErr := os.Stat(csvPath)
	assert.NoError(t, statErr)
}

func TestRunSensitivity_InvalidGrid(t *testing.T) {
	// GIVEN a grid with no repeats
	spec := smallGrid()
	spec.Repeats = 0

	// WHEN the grid runs
	grid, err := runSensitivity(context.Background(), sim.DefaultConfig(), spec, sensitivityOptions{}, &bytes.Buffer{})

	// THEN nothing runs and the configuration error surfaces
	var cfgErr *sim.ConfigurationError
	assert.ErrorAs(t, err, &cfgErr)
	assert.Nil(t, grid)
}

func TestMetadataPath(t *testing.T) {
	assert.Equal(t, "out/grid_metadata.json", metadataPath("out/grid.csv"))
	assert.Equal(t, "grid.txt_metadata.json", metadataPath("grid.txt"))
}
