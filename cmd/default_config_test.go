package cmd

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	sim "github.com/checkout-sim/checkout-sim/sim"
)

func TestWriteDefaultConfig_LoadsBackUnchanged(t *testing.T) {
	// GIVEN the printed default config saved to a file
	var buf bytes.Buffer
	require.NoError(t, writeDefaultConfig(&buf))
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, buf.Bytes(), 0o644))

	// WHEN it is loaded with strict parsing
	cfg, err := sim.LoadConfig(path)

	// THEN it is valid and equal to the built-in defaults
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())
	assert.Equal(t, sim.DefaultConfig(), cfg)
}

func TestWriteDefaultConfig_UsesConfigKeys(t *testing.T) {
	// GIVEN the printed default config
	var buf bytes.Buffer
	require.NoError(t, writeDefaultConfig(&buf))

	// THEN it uses the YAML keys LoadConfig expects
	for _, key := range []string{"experiment:", "users_per_day:", "transitions:", "guardrails:", "sensitivity:"} {
		assert.Contains(t, buf.String(), key)
	}
}
