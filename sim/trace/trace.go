package trace

import "sync"

// TraceLevel controls the verbosity of data-quality tracing.
type TraceLevel string

const (
	// TraceLevelCounts keeps only per-reason tallies.
	TraceLevelCounts TraceLevel = "counts"
	// TraceLevelRecords additionally keeps every skip record.
	TraceLevelRecords TraceLevel = "records"
)

// validTraceLevels maps accepted trace level strings.
var validTraceLevels = map[TraceLevel]bool{
	TraceLevelCounts:  true,
	TraceLevelRecords: true,
	"":                true, // empty defaults to counts
}

// IsValidTraceLevel returns true if the given level string is a recognized trace level.
func IsValidTraceLevel(level string) bool {
	return validTraceLevels[TraceLevel(level)]
}

// TraceConfig controls trace collection behavior.
type TraceConfig struct {
	Level TraceLevel
}

// QualityTrace collects skip tallies and check results during a run.
// Safe for concurrent use by generation workers.
type QualityTrace struct {
	Config TraceConfig

	mu      sync.Mutex
	skipped map[string]int
	skips   []SkipRecord
	checks  []CheckRecord
}

// NewQualityTrace creates a QualityTrace ready for recording.
func NewQualityTrace(config TraceConfig) *QualityTrace {
	return &QualityTrace{
		Config:  config,
		skipped: make(map[string]int),
	}
}

// RecordSkip tallies a skipped unit under its reason.
func (qt *QualityTrace) RecordSkip(record SkipRecord) {
	qt.mu.Lock()
	defer qt.mu.Unlock()
	qt.skipped[record.Reason]++
	if qt.Config.Level == TraceLevelRecords {
		qt.skips = append(qt.skips, record)
	}
}

// RecordCheck appends a data-quality check result.
func (qt *QualityTrace) RecordCheck(record CheckRecord) {
	qt.mu.Lock()
	defer qt.mu.Unlock()
	qt.checks = append(qt.checks, record)
}

// Skips returns a copy of the retained skip records (empty below TraceLevelRecords).
func (qt *QualityTrace) Skips() []SkipRecord {
	qt.mu.Lock()
	defer qt.mu.Unlock()
	out := make([]SkipRecord, len(qt.skips))
	copy(out, qt.skips)
	return out
}

// Checks returns a copy of the recorded check results.
func (qt *QualityTrace) Checks() []CheckRecord {
	qt.mu.Lock()
	defer qt.mu.Unlock()
	out := make([]CheckRecord, len(qt.checks))
	copy(out, qt.checks)
	return out
}
