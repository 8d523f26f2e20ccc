package sensitivity

import (
	"encoding/csv"
	"fmt"
	"io"
	"sort"
	"strconv"
	"time"
)

// Metadata describes a grid run.
type Metadata struct {
	GeneratedAt      time.Time `json:"generated_at_utc"`
	Alpha            float64   `json:"alpha"`
	SampleSizes      []int     `json:"sample_sizes"`
	Uplifts          []float64 `json:"uplifts"`
	GridSize         int       `json:"grid_size"`
	Repeats          int       `json:"repeats"`
	TotalSimulations int       `json:"total_simulations"`
	CompletedCells   int       `json:"completed_cells"`
	BaseSeed         int64     `json:"base_seed"`
	PowerTarget      float64   `json:"power_target,omitempty"`
}

// Metadata summarizes the run. Sizes and uplifts are reported sorted.
func (g *Grid) Metadata(now time.Time, powerTarget float64) Metadata {
	sizes := append([]int(nil), g.Spec.SampleSizes...)
	uplifts := append([]float64(nil), g.Spec.Uplifts...)
	sort.Ints(sizes)
	sort.Float64s(uplifts)
	gridSize := len(sizes) * len(uplifts)
	return Metadata{
		GeneratedAt:      now.UTC(),
		Alpha:            g.Alpha,
		SampleSizes:      sizes,
		Uplifts:          uplifts,
		GridSize:         gridSize,
		Repeats:          g.Spec.Repeats,
		TotalSimulations: gridSize * g.Spec.Repeats,
		CompletedCells:   len(g.Cells),
		BaseSeed:         g.Spec.BaseSeed,
		PowerTarget:      powerTarget,
	}
}

var csvHeader = []string{"sample_size", "uplift", "repeats", "detections", "refused", "detection_rate", "alpha"}

// WriteCSV writes one row per completed cell.
func (g *Grid) WriteCSV(w io.Writer) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(csvHeader); err != nil {
		return err
	}
	for _, c := range g.Cells {
		row := []string{
			strconv.Itoa(c.SampleSize),
			strconv.FormatFloat(c.Uplift, 'f', -1, 64),
			strconv.Itoa(c.Repeats),
			strconv.Itoa(c.Detections),
			strconv.Itoa(c.Refused),
			strconv.FormatFloat(c.DetectionRate, 'f', 4, 64),
			strconv.FormatFloat(c.Alpha, 'f', -1, 64),
		}
		if err := cw.Write(row); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// WriteTable prints a fixed-width summary of the grid.
func (g *Grid) WriteTable(w io.Writer) {
	fmt.Fprintf(w, "%-12s %-10s %-10s %-12s %-10s\n", "Users", "Uplift", "Repeats", "Detections", "Rate")
	for _, c := range g.Cells {
		fmt.Fprintf(w, "%-12d %-10.3f %-10d %-12d %-10s\n",
			c.SampleSize, c.Uplift, c.Repeats, c.Detections, fmt.Sprintf("%.1f%%", c.DetectionRate*100))
	}
}
