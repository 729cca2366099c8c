package processor

import (
	"math"

	"meterflow/models"
)

// ExtremeDeltaThreshold flags per-poll changes larger than this many raw
// units. Fixed on purpose: the detector makes no assumptions about what a
// normal reading looks like beyond "not this big in one interval".
const ExtremeDeltaThreshold = 1000.0

// Anomalies maps an anomaly tag to its detail payload. Each rule writes at
// most one entry, so duplicate tags are impossible.
type Anomalies map[string]map[string]any

// DetectAnomalies classifies a snapshot, optionally against its predecessor.
// The rules are independent and order-insensitive; a snapshot may carry any
// combination of them. Failed polls are skipped entirely: poll_successful is
// their signal, not an anomaly.
func DetectAnomalies(snapshot, previous *models.Snapshot) Anomalies {
	anomalies := Anomalies{}
	if snapshot == nil || !snapshot.PollSuccessful {
		return anomalies
	}

	if previous != nil && snapshot.ReadingDelta != nil && *snapshot.ReadingDelta < 0 {
		anomalies["non_monotonic_reading"] = map[string]any{
			"current":  numberOrNil(snapshot.CurrentReading()),
			"previous": numberOrNil(previous.CurrentReading()),
			"delta":    *snapshot.ReadingDelta,
		}
	}

	if snapshot.ReadingDelta != nil && math.Abs(*snapshot.ReadingDelta) > ExtremeDeltaThreshold {
		anomalies["extreme_reading_delta"] = map[string]any{
			"delta":     *snapshot.ReadingDelta,
			"threshold": ExtremeDeltaThreshold,
		}
	}

	if snapshot.BalanceDelta != nil && math.Abs(*snapshot.BalanceDelta) > ExtremeDeltaThreshold {
		anomalies["extreme_balance_delta"] = map[string]any{
			"delta":     *snapshot.BalanceDelta,
			"threshold": ExtremeDeltaThreshold,
		}
	}

	if previous != nil {
		from := previous.IsOnline()
		to := snapshot.IsOnline()
		if from != to {
			anomalies["connectivity_change"] = map[string]any{
				"from": from,
				"to":   to,
			}
		}
	}

	return anomalies
}

func numberOrNil(v float64, ok bool) any {
	if !ok {
		return nil
	}
	return v
}
