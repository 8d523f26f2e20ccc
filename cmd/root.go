package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	sim "github.com/checkout-sim/checkout-sim/sim"
)

var (
	// Shared experiment flags. Each one overrides the config file only when set.
	configPath  string  // YAML config path; empty uses the built-in defaults
	seed        int64   // Base seed for session generation
	startDate   string  // First simulated day (YYYY-MM-DD)
	days        int     // Number of simulated days
	usersPerDay int     // Users exposed per day
	uplift      float64 // Treatment uplift on the checkout funnel
	aaMode      bool    // A/A calibration run: forces uplift to 0
	workers     int     // Generation workers (0 = GOMAXPROCS)

	// Outputs
	dbPath     string // SQLite database for events, analyses and grid cells
	metricsOut string // Prometheus textfile written at the end of a run
	logLevel   string // Log verbosity level
)

// rootCmd is the base command for the CLI
var rootCmd = &cobra.Command{
	Use:   "checkout-sim",
	Short: "Checkout funnel A/B simulator and experiment stats engine",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		level, err := logrus.ParseLevel(logLevel)
		if err != nil {
			return err
		}
		logrus.SetLevel(level)
		return nil
	},
}

// loadRunConfig builds the run configuration: defaults, then the config file,
// then any flag the user set explicitly.
func loadRunConfig(cmd *cobra.Command) (sim.Config, error) {
	cfg := sim.DefaultConfig()
	if configPath != "" {
		var err error
		if cfg, err = sim.LoadConfig(configPath); err != nil {
			return cfg, err
		}
	}
	cfg = applyOverrides(cfg, cmd.Flags().Changed)
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// applyOverrides copies flag values into cfg for every flag changed reports as set.
func applyOverrides(cfg sim.Config, changed func(name string) bool) sim.Config {
	if changed("seed") {
		cfg.Experiment.Seed = seed
	}
	if changed("start") {
		cfg.Experiment.StartDate = startDate
	}
	if changed("days") {
		cfg.Experiment.Days = days
	}
	if changed("users") {
		cfg.Experiment.UsersPerDay = usersPerDay
	}
	if changed("uplift") {
		cfg.Experiment.Uplift = uplift
	}
	if changed("workers") {
		cfg.Experiment.Workers = workers
	}
	if aaMode {
		cfg.Experiment.Uplift = 0
	}
	return cfg
}

// Execute runs the CLI root command
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		stop()
		os.Exit(exitError)
	}
}

// init sets up CLI flags and subcommands
func init() {
	flags := rootCmd.PersistentFlags()
	flags.StringVar(&configPath, "config", "", "Path to a YAML experiment config (defaults are built in)")
	flags.Int64Var(&seed, "seed", 42, "Seed for session generation (grid base seed for sensitivity)")
	flags.StringVar(&startDate, "start", "2025-02-01", "First simulated day (YYYY-MM-DD)")
	flags.IntVar(&days, "days", 1, "Number of simulated days")
	flags.IntVar(&usersPerDay, "users", 1000, "Users exposed per day")
	flags.Float64Var(&uplift, "uplift", 0.02, "Treatment uplift applied to the checkout funnel")
	flags.BoolVar(&aaMode, "aa", false, "A/A calibration run: force uplift to 0")
	flags.IntVar(&workers, "workers", 0, "Generation workers (0 = GOMAXPROCS)")
	flags.StringVar(&dbPath, "db", "", "SQLite database for events, analysis results and grid cells")
	flags.StringVar(&metricsOut, "metrics-out", "", "Write Prometheus metrics in textfile format to this path")
	flags.StringVar(&logLevel, "log", "info", "Log level (trace, debug, info, warn, error, fatal, panic)")

	rootCmd.AddCommand(simulateCmd, analyzeCmd, sensitivityCmd, configCmd)
}
