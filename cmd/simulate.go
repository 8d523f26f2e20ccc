package cmd

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	sim "github.com/checkout-sim/checkout-sim/sim"
	"github.com/checkout-sim/checkout-sim/sim/metrics"
	"github.com/checkout-sim/checkout-sim/sim/sink"
	"github.com/checkout-sim/checkout-sim/sim/telemetry"
	"github.com/checkout-sim/checkout-sim/sim/trace"
)

var (
	eventsOut  string // JSON-lines event output
	traceLevel string // Data-quality trace verbosity
)

// simulateOptions selects the outputs of a simulation run.
type simulateOptions struct {
	EventsPath string
	DBPath     string
	MetricsOut string
	TraceLevel string
	AAMode     bool
}

// simulateResult is what a simulation run produced.
type simulateResult struct {
	Population *sim.Population
	Summary    *metrics.Summary
	Records    int    // event records written to each sink
	RunID      string // run the events were stored under in the database
	ChecksOK   bool   // every data-quality check passed
}

var simulateCmd = &cobra.Command{
	Use:   "simulate",
	Short: "Generate checkout sessions for the experiment and write their events",
	Run: func(cmd *cobra.Command, args []string) {
		cfg, err := loadRunConfig(cmd)
		if err != nil {
			logrus.Fatalf("Invalid configuration: %v", err)
		}
		opts := simulateOptions{
			EventsPath: eventsOut,
			DBPath:     dbPath,
			MetricsOut: metricsOut,
			TraceLevel: traceLevel,
			AAMode:     aaMode,
		}
		res, err := runSimulate(cmd.Context(), cfg, opts, os.Stdout)
		if err != nil {
			logrus.Fatalf("Simulation failed: %v", err)
		}
		if !res.ChecksOK {
			logrus.Warn("One or more data-quality checks failed; see the summary above")
		}
		logrus.Info("Simulation complete.")
	},
}

// runSimulate generates the population for cfg, writes it to the configured
// sinks and runs the assignment quality checks.
func runSimulate(ctx context.Context, cfg sim.Config, opts simulateOptions, w io.Writer) (*simulateResult, error) {
	if !trace.IsValidTraceLevel(opts.TraceLevel) {
		return nil, fmt.Errorf("unknown trace level %q (valid: counts, records)", opts.TraceLevel)
	}
	recorder := telemetry.NewRecorder()
	simulator, err := sim.NewFunnelSimulator(cfg,
		sim.WithObserver(recorder),
		sim.WithTraceConfig(trace.TraceConfig{Level: trace.TraceLevel(opts.TraceLevel)}),
	)
	if err != nil {
		return nil, err
	}
	logrus.Infof("Simulating %d day(s) x %d users from %s (seed=%d, uplift=%.4f)",
		cfg.Experiment.Days, cfg.Experiment.UsersPerDay, cfg.Experiment.StartDate,
		cfg.Experiment.Seed, cfg.Experiment.Uplift)

	pop, err := simulator.Run(ctx)
	if err != nil {
		return nil, err
	}
	records := pop.Records()

	sinks, err := openSinks(opts.EventsPath, opts.DBPath)
	if err != nil {
		return nil, err
	}
	for _, s := range sinks {
		if err := s.Append(ctx, records); err != nil {
			_ = closeSinks(sinks)
			return nil, fmt.Errorf("writing events: %w", err)
		}
	}
	var storedRun string
	for _, s := range sinks {
		if db, ok := s.(*sink.SQLiteSink); ok {
			storedRun = db.RunID()
			logrus.Infof("Stored %d events as run %s in %s", len(records), storedRun, opts.DBPath)
		}
	}
	if err := closeSinks(sinks); err != nil {
		return nil, err
	}

	summary := metrics.FromSessions(pop.Sessions)
	ok, err := metrics.RecordQualityChecks(pop.Quality, summary, cfg, opts.AAMode)
	if err != nil {
		return nil, fmt.Errorf("quality checks: %w", err)
	}
	printPopulation(w, pop, summary)

	if opts.MetricsOut != "" {
		if err := recorder.WriteTextfile(opts.MetricsOut); err != nil {
			return nil, err
		}
	}
	return &simulateResult{Population: pop, Summary: summary, Records: len(records), RunID: storedRun, ChecksOK: ok}, nil
}

// openSinks opens a JSON-lines sink and/or a SQLite sink; empty paths are skipped.
func openSinks(eventsPath, dbPath string) ([]sink.EventSink, error) {
	var sinks []sink.EventSink
	if eventsPath != "" {
		s, err := sink.CreateJSONL(eventsPath)
		if err != nil {
			return nil, err
		}
		sinks = append(sinks, s)
	}
	if dbPath != "" {
		s, err := sink.OpenSQLite(dbPath)
		if err != nil {
			_ = closeSinks(sinks)
			return nil, err
		}
		sinks = append(sinks, s)
	}
	return sinks, nil
}

// closeSinks closes every sink and returns the first error.
func closeSinks(sinks []sink.EventSink) error {
	var first error
	for _, s := range sinks {
		if err := s.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}

func printPopulation(w io.Writer, pop *sim.Population, summary *metrics.Summary) {
	fmt.Fprintln(w, "=== Simulation Summary ===")
	fmt.Fprintf(w, "Sessions: %d  Skipped: %d  Events: %d\n", len(pop.Sessions), pop.Skipped, summary.Records)
	for _, v := range sim.Variants {
		vs := summary.Variant(v)
		if vs == nil {
			continue
		}
		fmt.Fprintf(w, "\n[%s] adders=%d checkout_starters=%d orderers=%d\n", v, vs.Adders, vs.CheckoutStarters, vs.Orderers)
		for _, step := range summary.StepFunnel(v) {
			fmt.Fprintf(w, "  %-18s views=%-7d reach=%.4f latency_ms=%-8.1f form_error_rate=%.4f\n",
				step.Step, step.Views, step.ReachRate, step.MeanLatencyMs, step.FormErrorRate)
		}
	}
	qs := trace.Summarize(pop.Quality)
	fmt.Fprintf(w, "\nQuality checks: %d run, %d failed\n", qs.ChecksRun, qs.ChecksFailed)
	for _, c := range pop.Quality.Checks() {
		status := "PASS"
		if !c.Passed {
			status = "FAIL"
		}
		fmt.Fprintf(w, "  %-4s %s: %s\n", status, c.Name, c.Message)
	}
}

func init() {
	simulateCmd.Flags().StringVar(&eventsOut, "out", "", "Write event records as JSON lines to this path")
	simulateCmd.Flags().StringVar(&traceLevel, "trace-level", "counts", "Data-quality trace level (counts, records)")
}
