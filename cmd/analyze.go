package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	sim "github.com/checkout-sim/checkout-sim/sim"
	"github.com/checkout-sim/checkout-sim/sim/metrics"
	"github.com/checkout-sim/checkout-sim/sim/sink"
	"github.com/checkout-sim/checkout-sim/sim/stats"
	"github.com/checkout-sim/checkout-sim/sim/trace"
)

// exitError is the process exit code for any failure. Decisions exit with
// stats.Decision.ExitCode: 0 for ship, 1 otherwise.
const exitError = 2

var (
	eventsIn   string // JSON-lines events to analyze
	analyzeOut string // Analysis records as JSON
	runID      string // Stored run to analyze; empty reads the latest
)

// analyzeOptions selects the input and outputs of an analysis.
type analyzeOptions struct {
	EventsPath string // read events from JSON lines
	DBPath     string // read events from SQLite when EventsPath is empty; analysis is stored here
	OutPath    string // analysis records as a JSON array
	RunID      string // stored run to read from DBPath; empty reads the latest
	AAMode     bool
}

var analyzeCmd = &cobra.Command{
	Use:   "analyze",
	Short: "Test the primary metric and guardrails, then print the ship decision",
	Long: `Reads events from --events, else from --db, else simulates them in memory.
A database read covers one simulate run: the latest, or the one named by --run.
Exits 0 on ship, 1 on no_ship or inconclusive, 2 on error.`,
	Run: func(cmd *cobra.Command, args []string) {
		cfg, err := loadRunConfig(cmd)
		if err != nil {
			logrus.Errorf("Invalid configuration: %v", err)
			os.Exit(exitError)
		}
		opts := analyzeOptions{EventsPath: eventsIn, DBPath: dbPath, OutPath: analyzeOut, RunID: runID, AAMode: aaMode}
		analysis, err := runAnalyze(cmd.Context(), cfg, opts, os.Stdout)
		if err != nil {
			logrus.Errorf("Analysis failed: %v", err)
			os.Exit(exitError)
		}
		os.Exit(analysis.Decision.ExitCode())
	},
}

// runAnalyze loads events, aggregates them and runs the stats engine.
func runAnalyze(ctx context.Context, cfg sim.Config, opts analyzeOptions, w io.Writer) (*stats.Analysis, error) {
	engine, err := stats.NewEngine(cfg)
	if err != nil {
		return nil, err
	}
	records, err := loadEvents(ctx, cfg, opts)
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return nil, errors.New("no events to analyze")
	}

	summary := metrics.Aggregate(records)
	if summary.Unknown > 0 {
		logrus.Warnf("Ignored %d records with an unknown variant", summary.Unknown)
	}
	qt := trace.NewQualityTrace(trace.TraceConfig{})
	ok, err := metrics.RecordQualityChecks(qt, summary, cfg, opts.AAMode)
	if err != nil {
		return nil, fmt.Errorf("quality checks: %w", err)
	}
	if !ok {
		for _, c := range qt.Checks() {
			if !c.Passed {
				logrus.Warnf("Quality check %s failed: %s", c.Name, c.Message)
			}
		}
	}

	analysis, err := engine.Analyze(summary)
	if err != nil {
		return nil, err
	}
	printAnalysis(w, analysis)

	if opts.OutPath != "" {
		data, err := json.MarshalIndent(analysis.Records(), "", "  ")
		if err != nil {
			return nil, err
		}
		if err := os.WriteFile(opts.OutPath, data, 0o644); err != nil {
			return nil, fmt.Errorf("writing analysis: %w", err)
		}
	}
	if opts.DBPath != "" {
		db, err := sink.OpenSQLite(opts.DBPath)
		if err != nil {
			return nil, err
		}
		defer db.Close()
		if err := db.WriteAnalysis(ctx, analysis.Records(), time.Now()); err != nil {
			return nil, err
		}
	}
	return analysis, nil
}

func loadEvents(ctx context.Context, cfg sim.Config, opts analyzeOptions) ([]sim.EventRecord, error) {
	switch {
	case opts.EventsPath != "":
		logrus.Infof("Reading events from %s", opts.EventsPath)
		return sink.ReadJSONL(opts.EventsPath)
	case opts.DBPath != "":
		db, err := sink.OpenSQLite(opts.DBPath)
		if err != nil {
			return nil, err
		}
		defer db.Close()
		run := opts.RunID
		if run == "" {
			if run, err = db.LatestRun(ctx); err != nil {
				return nil, err
			}
			if run == "" {
				return nil, nil
			}
		}
		logrus.Infof("Reading run %s from %s", run, opts.DBPath)
		return db.RunEvents(ctx, run)
	default:
		simulator, err := sim.NewFunnelSimulator(cfg)
		if err != nil {
			return nil, err
		}
		pop, err := simulator.Run(ctx)
		if err != nil {
			return nil, err
		}
		return pop.Records(), nil
	}
}

func printAnalysis(w io.Writer, a *stats.Analysis) {
	fmt.Fprintln(w, "=== Experiment Readout ===")
	printResult(w, "primary", a.Primary)
	for _, g := range a.Guardrails {
		label := "guardrail"
		if g.Guardrail != nil {
			label = g.Guardrail.Name
		}
		printResult(w, label, g)
		if g.Guardrail != nil {
			status := "PASS"
			if !g.Guardrail.Passed {
				status = "FAIL"
			}
			fmt.Fprintf(w, "    %s %s\n", status, g.Guardrail.Message)
		}
	}
	fmt.Fprintf(w, "\nDecision: %s\n", a.Decision)
}

func printResult(w io.Writer, label string, r stats.TestResult) {
	fmt.Fprintf(w, "%-22s %-20s control=%.5f (n=%d) treatment=%.5f (n=%d)\n",
		label, r.Metric, r.Control, r.ControlN, r.Treatment, r.TreatmentN)
	if r.Confidence == 0 { // not computed: insufficient sample
		return
	}
	fmt.Fprintf(w, "    diff=%+.5f rel=%+.2f%% CI%.0f%%=[%.5f, %.5f] p=%.4f significant=%t\n",
		r.AbsDiff, r.RelDiff*100, r.Confidence*100, r.CILow, r.CIHigh, r.PValue, r.Significant)
}

func init() {
	analyzeCmd.Flags().StringVar(&eventsIn, "events", "", "Read event records from this JSON-lines file")
	analyzeCmd.Flags().StringVar(&analyzeOut, "out", "", "Write analysis records as JSON to this path")
	analyzeCmd.Flags().StringVar(&runID, "run", "", "Stored run to analyze from --db (default: the latest)")
}
