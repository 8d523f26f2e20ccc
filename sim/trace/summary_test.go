package trace

import (
	"sync"
	"testing"
)

func TestSummarize_NilTrace_ZeroValues(t *testing.T) {
	summary := Summarize(nil)
	if summary.Skipped != 0 || summary.ChecksRun != 0 {
		t.Errorf("expected zero counts, got skipped=%d checks=%d", summary.Skipped, summary.ChecksRun)
	}
	if summary.ByReason == nil {
		t.Error("expected non-nil ByReason map")
	}
}

func TestSummarize_EmptyTrace_ZeroValues(t *testing.T) {
	// GIVEN an empty trace
	qt := NewQualityTrace(TraceConfig{})

	// WHEN summarized
	summary := Summarize(qt)

	// THEN all counts are zero
	if summary.Skipped != 0 {
		t.Errorf("expected 0 skipped, got %d", summary.Skipped)
	}
	if len(summary.ByReason) != 0 {
		t.Error("expected empty reason distribution")
	}
}

func TestSummarize_SkipsTalliedByReason(t *testing.T) {
	// GIVEN skips under two reasons
	qt := NewQualityTrace(TraceConfig{Level: TraceLevelCounts})
	qt.RecordSkip(SkipRecord{UserID: "", Reason: "empty"})
	qt.RecordSkip(SkipRecord{UserID: " ", Reason: "whitespace"})
	qt.RecordSkip(SkipRecord{UserID: "", Reason: "empty"})

	// WHEN summarized
	summary := Summarize(qt)

	// THEN counts match and records are not retained at counts level
	if summary.Skipped != 3 {
		t.Errorf("expected 3 skipped, got %d", summary.Skipped)
	}
	if summary.ByReason["empty"] != 2 || summary.ByReason["whitespace"] != 1 {
		t.Errorf("unexpected reason distribution %v", summary.ByReason)
	}
	if len(qt.Skips()) != 0 {
		t.Errorf("counts level retained %d records", len(qt.Skips()))
	}
}

func TestQualityTrace_RecordsLevel_RetainsSkips(t *testing.T) {
	qt := NewQualityTrace(TraceConfig{Level: TraceLevelRecords})
	qt.RecordSkip(SkipRecord{UserID: "bad id", Day: "2025-02-01", Reason: "whitespace"})
	skips := qt.Skips()
	if len(skips) != 1 || skips[0].UserID != "bad id" {
		t.Errorf("expected one retained record, got %+v", skips)
	}
}

func TestSummarize_FailedChecksListed(t *testing.T) {
	qt := NewQualityTrace(TraceConfig{})
	qt.RecordCheck(CheckRecord{Name: "balance", Passed: true})
	qt.RecordCheck(CheckRecord{Name: "srm", Passed: false, Message: "p=0.0001"})

	summary := Summarize(qt)

	if summary.ChecksRun != 2 || summary.ChecksFailed != 1 {
		t.Errorf("expected 2 run / 1 failed, got %d / %d", summary.ChecksRun, summary.ChecksFailed)
	}
	if len(summary.Failed) != 1 || summary.Failed[0] != "srm" {
		t.Errorf("expected failed=[srm], got %v", summary.Failed)
	}
}

func TestQualityTrace_ConcurrentSkips(t *testing.T) {
	qt := NewQualityTrace(TraceConfig{})
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			qt.RecordSkip(SkipRecord{Reason: "empty"})
		}()
	}
	wg.Wait()
	if got := Summarize(qt).Skipped; got != 50 {
		t.Errorf("expected 50 skipped, got %d", got)
	}
}
