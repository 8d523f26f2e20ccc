package trace

// QualitySummary aggregates a QualityTrace into counts.
type QualitySummary struct {
	Skipped      int
	ByReason     map[string]int // reason → count of skipped units
	ChecksRun    int
	ChecksFailed int
	Failed       []string // names of failed checks
}

// Summarize computes aggregate counts from a QualityTrace.
// Safe for nil or empty traces (returns zero-value fields).
func Summarize(qt *QualityTrace) *QualitySummary {
	summary := &QualitySummary{
		ByReason: make(map[string]int),
	}
	if qt == nil {
		return summary
	}

	qt.mu.Lock()
	defer qt.mu.Unlock()

	for reason, n := range qt.skipped {
		summary.ByReason[reason] = n
		summary.Skipped += n
	}
	summary.ChecksRun = len(qt.checks)
	for _, c := range qt.checks {
		if !c.Passed {
			summary.ChecksFailed++
			summary.Failed = append(summary.Failed, c.Name)
		}
	}
	return summary
}
