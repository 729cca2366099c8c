package processor

import (
	"time"

	"meterflow/models"
)

// ValueStats summarises a numeric field over a run of snapshots.
type ValueStats struct {
	Min     float64 `json:"min"`
	Max     float64 `json:"max"`
	Current float64 `json:"current"`
}

// DeltaStats summarises one delta series. Absent deltas are excluded from
// every aggregate, not counted as zero.
type DeltaStats struct {
	TotalChange   float64 `json:"total_change"`
	AverageChange float64 `json:"average_change"`
	MinDelta      float64 `json:"min_delta"`
	MaxDelta      float64 `json:"max_delta"`
}

// Summary is the offline batch summary for one meter. HasData is false when
// the input held no successful snapshots; that is an explicit result, not an
// error.
type Summary struct {
	MeterID             string      `json:"meter_id"`
	HasData             bool        `json:"has_data"`
	TotalSnapshots      int         `json:"total_snapshots"`
	SuccessfulSnapshots int         `json:"successful_snapshots"`
	SuccessRate         float64     `json:"success_rate"`
	Start               time.Time   `json:"start"`
	End                 time.Time   `json:"end"`
	ReadingStats        *ValueStats `json:"reading_stats,omitempty"`
	BalanceStats        *ValueStats `json:"balance_stats,omitempty"`
	ReadingDeltaStats   *DeltaStats `json:"reading_delta_stats,omitempty"`
	BalanceDeltaStats   *DeltaStats `json:"balance_delta_stats,omitempty"`
}

// Summarize batch-computes summary statistics over snapshots for one meter.
// The caller supplies snapshots in chronological order; "current" values are
// taken from the last successful snapshot in input order, nothing is sorted.
func Summarize(meterID string, snapshots []*models.Snapshot) Summary {
	summary := Summary{MeterID: meterID, TotalSnapshots: len(snapshots)}

	var successful []*models.Snapshot
	for _, s := range snapshots {
		if s != nil && s.PollSuccessful {
			successful = append(successful, s)
		}
	}
	if len(successful) == 0 {
		return summary
	}

	summary.HasData = true
	summary.SuccessfulSnapshots = len(successful)
	summary.SuccessRate = float64(len(successful)) / float64(len(snapshots))

	summary.Start = successful[0].CapturedAt
	summary.End = successful[0].CapturedAt
	for _, s := range successful {
		if s.CapturedAt.Before(summary.Start) {
			summary.Start = s.CapturedAt
		}
		if s.CapturedAt.After(summary.End) {
			summary.End = s.CapturedAt
		}
	}

	summary.ReadingStats = valueStats(successful, func(s *models.Snapshot) (float64, bool) {
		return s.CurrentReading()
	})
	summary.BalanceStats = valueStats(successful, func(s *models.Snapshot) (float64, bool) {
		return s.BalanceUnit()
	})
	summary.ReadingDeltaStats = deltaStats(successful, func(s *models.Snapshot) *float64 {
		return s.ReadingDelta
	})
	summary.BalanceDeltaStats = deltaStats(successful, func(s *models.Snapshot) *float64 {
		return s.BalanceDelta
	})

	return summary
}

func valueStats(snapshots []*models.Snapshot, value func(*models.Snapshot) (float64, bool)) *ValueStats {
	var stats *ValueStats
	for _, s := range snapshots {
		v, ok := value(s)
		if !ok {
			continue
		}
		if stats == nil {
			stats = &ValueStats{Min: v, Max: v, Current: v}
			continue
		}
		if v < stats.Min {
			stats.Min = v
		}
		if v > stats.Max {
			stats.Max = v
		}
		stats.Current = v
	}
	return stats
}

func deltaStats(snapshots []*models.Snapshot, delta func(*models.Snapshot) *float64) *DeltaStats {
	var stats *DeltaStats
	count := 0
	for _, s := range snapshots {
		d := delta(s)
		if d == nil {
			continue
		}
		v := *d
		if stats == nil {
			stats = &DeltaStats{TotalChange: v, MinDelta: v, MaxDelta: v}
			count = 1
			continue
		}
		stats.TotalChange += v
		if v < stats.MinDelta {
			stats.MinDelta = v
		}
		if v > stats.MaxDelta {
			stats.MaxDelta = v
		}
		count++
	}
	if stats != nil {
		stats.AverageChange = stats.TotalChange / float64(count)
	}
	return stats
}
