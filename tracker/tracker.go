// Package tracker owns the per-meter baseline: the most recent successful
// snapshot for each meter, shared by all polling workers.
package tracker

import (
	"sync"

	"meterflow/logger"
	"meterflow/models"
)

// Tracker maps meter ids to their most recent successful snapshot. It is an
// explicit object passed by reference to each polling worker; safe for
// concurrent use, entries never expire implicitly.
type Tracker struct {
	mu        sync.RWMutex
	baselines map[string]*models.Snapshot
	log       *logger.Log
}

func New() *Tracker {
	return &Tracker{
		baselines: make(map[string]*models.Snapshot),
		log:       logger.GetLogger(),
	}
}

// Update recomputes the snapshot's deltas against the tracked baseline and
// installs the snapshot as the new baseline when the poll succeeded. This
// recomputation is authoritative: it overwrites whatever the constructor
// attached, so the tracker is the single source of truth for "previous".
// Failed polls never touch the baseline.
func (t *Tracker) Update(snapshot *models.Snapshot) *models.Snapshot {
	if snapshot == nil {
		return nil
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	previous := t.baselines[snapshot.MeterID]

	if previous != nil && snapshot.PollSuccessful {
		snapshot.ComputeDeltas(previous)

		if snapshot.ReadingDelta != nil && *snapshot.ReadingDelta != 0 {
			t.log.WithComponent("tracker").WithFields(logger.Fields{
				"meter_id": snapshot.MeterID,
				"delta":    *snapshot.ReadingDelta,
			}).Info("current_reading changed")
		}
		if snapshot.BalanceDelta != nil && *snapshot.BalanceDelta != 0 {
			t.log.WithComponent("tracker").WithFields(logger.Fields{
				"meter_id": snapshot.MeterID,
				"delta":    *snapshot.BalanceDelta,
			}).Info("balance_unit changed")
		}
	}

	if snapshot.PollSuccessful {
		t.baselines[snapshot.MeterID] = snapshot
	}

	return snapshot
}

// Previous returns the most recent successful snapshot for a meter. Unknown
// meters yield ok=false, never an error.
func (t *Tracker) Previous(meterID string) (*models.Snapshot, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	s, ok := t.baselines[meterID]
	return s, ok
}

// Remove evicts a meter from tracking. Removing an absent meter is a no-op.
func (t *Tracker) Remove(meterID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.baselines[meterID]; ok {
		delete(t.baselines, meterID)
		t.log.WithComponent("tracker").WithFields(logger.Fields{
			"meter_id": meterID,
		}).Info("removed meter from tracking")
	}
}

// TrackedIDs returns the ids of all currently tracked meters, in no
// particular order.
func (t *Tracker) TrackedIDs() []string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	ids := make([]string, 0, len(t.baselines))
	for id := range t.baselines {
		ids = append(ids, id)
	}
	return ids
}
