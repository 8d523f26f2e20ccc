package cmd

import (
	"fmt"
	"io"
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	sim "github.com/checkout-sim/checkout-sim/sim"
)

var configOut string // Path for the written config; stdout when empty

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Print the built-in experiment configuration as YAML",
	Long: `Prints the configuration used when --config is not given. The output is a
valid --config file: edit it and pass it back in.`,
	Run: func(cmd *cobra.Command, args []string) {
		w := io.Writer(os.Stdout)
		if configOut != "" {
			f, err := os.Create(configOut)
			if err != nil {
				logrus.Fatalf("Failed to create config file: %v", err)
			}
			defer f.Close()
			w = f
		}
		if err := writeDefaultConfig(w); err != nil {
			logrus.Fatalf("Failed to write default config: %v", err)
		}
	},
}

// writeDefaultConfig encodes sim.DefaultConfig in the format LoadConfig reads.
func writeDefaultConfig(w io.Writer) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(sim.DefaultConfig()); err != nil {
		return fmt.Errorf("encoding config: %w", err)
	}
	return enc.Close()
}

func init() {
	configCmd.Flags().StringVar(&configOut, "out", "", "Write the config to this path instead of stdout")
}
