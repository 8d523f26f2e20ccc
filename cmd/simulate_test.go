package cmd

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	sim "github.com/checkout-sim/checkout-sim/sim"
	"github.com/checkout-sim/checkout-sim/sim/sink"
)

func smallConfig(users int) sim.Config {
	cfg := sim.DefaultConfig()
	cfg.Experiment.UsersPerDay = users
	return cfg
}

func TestRunSimulate_WritesEverySink(t *testing.T) {
	// GIVEN JSON-lines, SQLite and textfile outputs
	dir := t.TempDir()
	opts := simulateOptions{
		EventsPath: filepath.Join(dir, "events.jsonl"),
		DBPath:     filepath.Join(dir, "run.db"),
		MetricsOut: filepath.Join(dir, "run.prom"),
		TraceLevel: "counts",
	}
	var out bytes.Buffer

	// WHEN a small population is simulated
	res, err := runSimulate(context.Background(), smallConfig(300), opts, &out)
	require.NoError(t, err)

	// THEN both event sinks hold every record
	jsonl, err := sink.ReadJSONL(opts.EventsPath)
	require.NoError(t, err)
	assert.Len(t, jsonl, res.Records)

	db, err := sink.OpenSQLite(opts.DBPath)
	require.NoError(t, err)
	defer db.Close()
	n, err := db.CountRows(context.Background(), "events")
	require.NoError(t, err)
	assert.Equal(t, res.Records, n)

	// AND the textfile carries the session counter
	prom, err := os.ReadFile(opts.MetricsOut)
	require.NoError(t, err)
	assert.Contains(t, string(prom), "checkout_sim_simulation_sessions_total")

	// AND the summary reports the population and the quality checks
	assert.Len(t, res.Population.Sessions, 300)
	assert.Contains(t, out.String(), "=== Simulation Summary ===")
	assert.Contains(t, out.String(), "randomization_balance")
}

func TestRunSimulate_NoSinksStillSummarizes(t *testing.T) {
	// GIVEN no output paths
	var out bytes.Buffer

	// WHEN simulating
	res, err := runSimulate(context.Background(), smallConfig(100), simulateOptions{}, &out)

	// THEN the run succeeds and nothing but stdout is written
	require.NoError(t, err)
	assert.Equal(t, len(res.Population.Records()), res.Records)
	assert.Equal(t, 100, res.Summary.Sessions)
}

func TestRunSimulate_UnknownTraceLevel(t *testing.T) {
	// GIVEN an unsupported trace level
	opts := simulateOptions{TraceLevel: "verbose"}

	// WHEN simulating
	_, err := runSimulate(context.Background(), smallConfig(10), opts, &bytes.Buffer{})

	// THEN the run is refused before generation
	assert.ErrorContains(t, err, "unknown trace level")
}

func TestRunSimulate_CancelledContext(t *testing.T) {
	// GIVEN a cancelled context
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	// WHEN simulating
	_, err := runSimulate(ctx, smallConfig(100), simulateOptions{}, &bytes.Buffer{})

	// THEN the cancellation surfaces
	assert.ErrorIs(t, err, context.Canceled)
}
