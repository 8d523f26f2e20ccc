package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	sim "github.com/checkout-sim/checkout-sim/sim"
	"github.com/checkout-sim/checkout-sim/sim/sensitivity"
	"github.com/checkout-sim/checkout-sim/sim/sink"
	"github.com/checkout-sim/checkout-sim/sim/telemetry"
)

var (
	gridSizes   []int     // Sample sizes (users per repeat)
	gridUplifts []float64 // Uplifts to estimate
	gridRepeats int       // Repeats per cell
	csvOut      string    // Grid CSV output; metadata goes next to it
)

// sensitivityOptions selects the outputs of a grid run.
type sensitivityOptions struct {
	CSVPath    string
	DBPath     string
	MetricsOut string
}

var sensitivityCmd = &cobra.Command{
	Use:   "sensitivity",
	Short: "Estimate detection power over a grid of sample sizes and uplifts",
	Run: func(cmd *cobra.Command, args []string) {
		cfg, err := loadRunConfig(cmd)
		if err != nil {
			logrus.Fatalf("Invalid configuration: %v", err)
		}
		spec := gridSpecFromFlags(cfg, cmd.Flags().Changed)
		opts := sensitivityOptions{CSVPath: csvOut, DBPath: dbPath, MetricsOut: metricsOut}
		if _, err := runSensitivity(cmd.Context(), cfg, spec, opts, os.Stdout); err != nil {
			logrus.Fatalf("Sensitivity analysis failed: %v", err)
		}
		logrus.Info("Sensitivity analysis complete.")
	},
}

// gridSpecFromFlags starts from the config grid and applies explicitly set flags.
// --seed sets the grid base seed.
func gridSpecFromFlags(cfg sim.Config, changed func(name string) bool) sensitivity.GridSpec {
	spec := sensitivity.GridSpecFromConfig(cfg)
	if changed("sizes") {
		spec.SampleSizes = gridSizes
	}
	if changed("uplifts") {
		spec.Uplifts = gridUplifts
	}
	if changed("repeats") {
		spec.Repeats = gridRepeats
	}
	if changed("seed") {
		spec.BaseSeed = cfg.Experiment.Seed
	}
	return spec
}

// runSensitivity runs the grid and writes every requested output. A cancelled
// run still writes the cells that finished, then returns the context error.
func runSensitivity(ctx context.Context, cfg sim.Config, spec sensitivity.GridSpec, opts sensitivityOptions, w io.Writer) (*sensitivity.Grid, error) {
	recorder := telemetry.NewRecorder()
	analyzer, err := sensitivity.NewAnalyzer(cfg, sensitivity.WithObserver(recorder))
	if err != nil {
		return nil, err
	}
	grid, runErr := analyzer.RunGrid(ctx, spec)
	if grid == nil {
		return nil, runErr
	}

	grid.WriteTable(w)
	for _, n := range spec.SampleSizes {
		if u, ok := grid.MinDetectableUplift(n, cfg.Sensitivity.PowerTarget); ok {
			fmt.Fprintf(w, "n=%d: smallest uplift reaching %.0f%% power: %.4f\n", n, cfg.Sensitivity.PowerTarget*100, u)
		} else {
			fmt.Fprintf(w, "n=%d: no uplift in the grid reaches %.0f%% power\n", n, cfg.Sensitivity.PowerTarget*100)
		}
	}

	now := time.Now()
	if opts.CSVPath != "" {
		if err := writeGridFiles(grid, opts.CSVPath, now, cfg.Sensitivity.PowerTarget); err != nil {
			return grid, err
		}
	}
	if opts.DBPath != "" {
		db, err := sink.OpenSQLite(opts.DBPath)
		if err != nil {
			return grid, err
		}
		defer db.Close()
		// The write must outlive a cancelled run context.
		if err := db.WriteCells(context.WithoutCancel(ctx), grid.Cells, now); err != nil {
			return grid, err
		}
	}
	if opts.MetricsOut != "" {
		if err := recorder.WriteTextfile(opts.MetricsOut); err != nil {
			return grid, err
		}
	}
	return grid, runErr
}

// metadataPath derives the metadata JSON path from the CSV path.
func metadataPath(csvPath string) string {
	return strings.TrimSuffix(csvPath, ".csv") + "_metadata.json"
}

func writeGridFiles(grid *sensitivity.Grid, csvPath string, now time.Time, powerTarget float64) (err error) {
	f, err := os.Create(csvPath)
	if err != nil {
		return fmt.Errorf("creating %s: %w", csvPath, err)
	}
	defer func() {
		err = errors.Join(err, f.Close())
	}()
	if err := grid.WriteCSV(f); err != nil {
		return err
	}

	data, err := json.MarshalIndent(grid.Metadata(now, powerTarget), "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(metadataPath(csvPath), data, 0o644)
}

func init() {
	sensitivityCmd.Flags().IntSliceVar(&gridSizes, "sizes", nil, "Comma-separated sample sizes (users per repeat)")
	sensitivityCmd.Flags().Float64SliceVar(&gridUplifts, "uplifts", nil, "Comma-separated uplifts to estimate")
	sensitivityCmd.Flags().IntVar(&gridRepeats, "repeats", 10, "Simulations per grid cell")
	sensitivityCmd.Flags().StringVar(&csvOut, "csv", "", "Write the grid as CSV (metadata JSON is written alongside)")
}
