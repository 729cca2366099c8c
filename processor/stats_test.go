package processor

import (
	"testing"
	"time"

	"meterflow/models"
)

func timedSnapshot(meterID string, raw map[string]any, at time.Time) *models.Snapshot {
	s := models.FromStatusPayload(meterID, raw, nil)
	s.CapturedAt = at
	return s
}

func TestSummarizeEmpty(t *testing.T) {
	summary := Summarize("m-1", nil)
	if summary.HasData {
		t.Error("HasData = true for empty input")
	}
	if summary.MeterID != "m-1" || summary.TotalSnapshots != 0 {
		t.Errorf("summary = %+v", summary)
	}
}

func TestSummarizeOnlyFailedPolls(t *testing.T) {
	snapshots := []*models.Snapshot{
		models.NewErrorSnapshot("m-1", "timeout"),
		models.NewErrorSnapshot("m-1", "refused"),
	}

	summary := Summarize("m-1", snapshots)
	if summary.HasData {
		t.Error("HasData = true with no successful snapshots")
	}
	if summary.TotalSnapshots != 2 || summary.SuccessfulSnapshots != 0 {
		t.Errorf("counts = %d/%d", summary.SuccessfulSnapshots, summary.TotalSnapshots)
	}
}

func TestSummarize(t *testing.T) {
	base := time.Date(2026, 8, 30, 10, 0, 0, 0, time.UTC)

	s1 := timedSnapshot("m-1", map[string]any{"current_reading": 100.0, "balance_unit": 50.0}, base)
	s2 := timedSnapshot("m-1", map[string]any{"current_reading": 150.0, "balance_unit": 55.0}, base.Add(time.Minute))
	s2.ComputeDeltas(s1)
	failed := models.NewErrorSnapshot("m-1", "timeout")
	failed.CapturedAt = base.Add(2 * time.Minute)
	s3 := timedSnapshot("m-1", map[string]any{"current_reading": 130.0, "balance_unit": 52.0}, base.Add(3*time.Minute))
	s3.ComputeDeltas(s2)

	summary := Summarize("m-1", []*models.Snapshot{s1, s2, failed, s3})

	if !summary.HasData {
		t.Fatal("HasData = false")
	}
	if summary.TotalSnapshots != 4 || summary.SuccessfulSnapshots != 3 {
		t.Errorf("counts = %d/%d, want 3/4", summary.SuccessfulSnapshots, summary.TotalSnapshots)
	}
	if summary.SuccessRate != 0.75 {
		t.Errorf("SuccessRate = %v, want 0.75", summary.SuccessRate)
	}
	if !summary.Start.Equal(base) || !summary.End.Equal(base.Add(3*time.Minute)) {
		t.Errorf("window = %v .. %v", summary.Start, summary.End)
	}

	rs := summary.ReadingStats
	if rs == nil || rs.Min != 100 || rs.Max != 150 || rs.Current != 130 {
		t.Errorf("ReadingStats = %+v", rs)
	}

	// Two deltas: +50 and -20. The first snapshot has none and is excluded.
	ds := summary.ReadingDeltaStats
	if ds == nil {
		t.Fatal("ReadingDeltaStats = nil")
	}
	if ds.TotalChange != 30 || ds.AverageChange != 15 || ds.MinDelta != -20 || ds.MaxDelta != 50 {
		t.Errorf("ReadingDeltaStats = %+v", ds)
	}
}

func TestSummarizeAbsentDeltasExcluded(t *testing.T) {
	base := time.Now()

	d1, d2 := 5.0, -3.0
	s1 := timedSnapshot("m-1", map[string]any{"balance_unit": 10.0}, base)
	s1.BalanceDelta = &d1
	s2 := timedSnapshot("m-1", map[string]any{"balance_unit": 7.0}, base.Add(time.Minute))
	s2.BalanceDelta = &d2
	s3 := timedSnapshot("m-1", map[string]any{"balance_unit": "7"}, base.Add(2*time.Minute))

	summary := Summarize("m-1", []*models.Snapshot{s1, s2, s3})

	ds := summary.BalanceDeltaStats
	if ds == nil {
		t.Fatal("BalanceDeltaStats = nil")
	}
	// Average over the two present deltas, not three.
	if ds.TotalChange != 2 || ds.AverageChange != 1 {
		t.Errorf("BalanceDeltaStats = %+v", ds)
	}

	// The string-valued snapshot contributes nothing to value stats either.
	if summary.BalanceStats == nil || summary.BalanceStats.Current != 7.0 {
		t.Errorf("BalanceStats = %+v", summary.BalanceStats)
	}
}

func TestSummarizeCurrentIsLastInInputOrder(t *testing.T) {
	base := time.Now()
	s1 := timedSnapshot("m-1", map[string]any{"current_reading": 300.0}, base.Add(time.Hour))
	s2 := timedSnapshot("m-1", map[string]any{"current_reading": 100.0}, base)

	// Caller order wins; nothing is sorted by timestamp.
	summary := Summarize("m-1", []*models.Snapshot{s1, s2})
	if summary.ReadingStats.Current != 100.0 {
		t.Errorf("Current = %v, want 100", summary.ReadingStats.Current)
	}
}
