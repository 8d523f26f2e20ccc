// Package testutil provides shared test infrastructure for checkout-sim.
// It holds the golden statistics dataset types and assertion helpers used
// across sim/stats and sim/sensitivity test packages.
package testutil

import (
	"encoding/json"
	"math"
	"os"
	"path/filepath"
	"runtime"
	"testing"
)

// GoldenDataset represents the structure of testdata/goldendataset.json.
type GoldenDataset struct {
	ProportionTests []GoldenProportionCase `json:"proportion_tests"`
	MeanTests       []GoldenMeanCase       `json:"mean_tests"`
}

// GoldenProportionCase is one two-proportion readout with known results.
type GoldenProportionCase struct {
	Name               string         `json:"name"`
	ControlSuccesses   int            `json:"control_successes"`
	ControlTrials      int            `json:"control_trials"`
	TreatmentSuccesses int            `json:"treatment_successes"`
	TreatmentTrials    int            `json:"treatment_trials"`
	Alpha              float64        `json:"alpha"`
	Expected           GoldenExpected `json:"expected"`
}

// GoldenMeanSample mirrors stats.MeanSample without importing it.
type GoldenMeanSample struct {
	Count int     `json:"count"`
	Sum   float64 `json:"sum"`
	SumSq float64 `json:"sum_sq"`
}

// GoldenMeanCase is one Welch t-test readout with known results.
type GoldenMeanCase struct {
	Name      string           `json:"name"`
	Control   GoldenMeanSample `json:"control"`
	Treatment GoldenMeanSample `json:"treatment"`
	Alpha     float64          `json:"alpha"`
	Expected  GoldenExpected   `json:"expected"`
}

// GoldenExpected holds the reference values, computed independently.
type GoldenExpected struct {
	AbsDiff     float64 `json:"abs_diff"`
	RelDiff     float64 `json:"rel_diff"`
	Statistic   float64 `json:"statistic"`
	DF          float64 `json:"df"`
	PValue      float64 `json:"p_value"`
	CILow       float64 `json:"ci_low"`
	CIHigh      float64 `json:"ci_high"`
	Significant bool    `json:"significant"`
}

// LoadGoldenDataset loads the golden dataset from the testdata directory.
// The path is resolved relative to this source file: sim/internal/testutil/ → testdata/.
func LoadGoldenDataset(t *testing.T) *GoldenDataset {
	t.Helper()

	_, thisFile, _, ok := runtime.Caller(0)
	if !ok {
		t.Fatal("Failed to get current file path")
	}
	// Navigate from sim/internal/testutil/ to repo root testdata/
	path := filepath.Join(filepath.Dir(thisFile), "..", "..", "..", "testdata", "goldendataset.json")
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("Failed to read golden dataset: %v", err)
	}

	var dataset GoldenDataset
	if err := json.Unmarshal(data, &dataset); err != nil {
		t.Fatalf("Failed to parse golden dataset: %v", err)
	}

	return &dataset
}

// AssertFloat64Equal compares two float64 values with relative tolerance.
func AssertFloat64Equal(t *testing.T, name string, want, got, relTol float64) {
	t.Helper()
	if want == 0 && got == 0 {
		return
	}
	diff := math.Abs(want - got)
	maxVal := math.Max(math.Abs(want), math.Abs(got))
	if diff/maxVal > relTol {
		t.Errorf("%s: got %v, want %v (diff=%v, relDiff=%v)", name, got, want, diff, diff/maxVal)
	}
}

// AssertFloat64Near compares two float64 values with absolute tolerance,
// for quantities that may legitimately be zero.
func AssertFloat64Near(t *testing.T, name string, want, got, absTol float64) {
	t.Helper()
	if math.IsNaN(got) || math.Abs(want-got) > absTol {
		t.Errorf("%s: got %v, want %v ± %v", name, got, want, absTol)
	}
}
