package tracker

import (
	"fmt"
	"sync"
	"testing"

	"meterflow/models"
)

func statusSnapshot(meterID string, reading float64) *models.Snapshot {
	return models.FromStatusPayload(meterID, map[string]any{"current_reading": reading}, nil)
}

func TestUpdateInstallsBaseline(t *testing.T) {
	trk := New()

	if _, ok := trk.Previous("m-1"); ok {
		t.Error("unknown meter should have no baseline")
	}

	s1 := statusSnapshot("m-1", 100)
	trk.Update(s1)

	prev, ok := trk.Previous("m-1")
	if !ok || prev != s1 {
		t.Fatalf("Previous = %v, %v; want s1", prev, ok)
	}
	if s1.ReadingDelta != nil {
		t.Error("first snapshot must not carry a delta")
	}
}

func TestUpdateComputesDeltas(t *testing.T) {
	trk := New()
	trk.Update(statusSnapshot("m-1", 100))

	s2 := statusSnapshot("m-1", 150)
	trk.Update(s2)

	if s2.ReadingDelta == nil || *s2.ReadingDelta != 50 {
		t.Errorf("ReadingDelta = %v, want 50", s2.ReadingDelta)
	}
	if prev, _ := trk.Previous("m-1"); prev != s2 {
		t.Error("baseline should advance to the newest successful snapshot")
	}
}

func TestUpdateOverridesConstructorDeltas(t *testing.T) {
	trk := New()
	trk.Update(statusSnapshot("m-1", 100))

	// Deltas attached against a different snapshot are recomputed against the
	// tracked baseline on update.
	stale := statusSnapshot("m-1", 999)
	s2 := models.FromStatusPayload("m-1", map[string]any{"current_reading": 150.0}, stale)
	trk.Update(s2)

	if s2.ReadingDelta == nil || *s2.ReadingDelta != 50 {
		t.Errorf("ReadingDelta = %v, want 50 against tracked baseline", s2.ReadingDelta)
	}
}

func TestUpdateFailedPollKeepsBaseline(t *testing.T) {
	trk := New()
	s1 := statusSnapshot("m-1", 100)
	trk.Update(s1)

	failed := models.NewErrorSnapshot("m-1", "timeout")
	trk.Update(failed)

	prev, ok := trk.Previous("m-1")
	if !ok || prev != s1 {
		t.Error("failed poll must not replace the baseline")
	}
	if failed.ReadingDelta != nil {
		t.Error("failed poll must not carry deltas")
	}

	// The next success computes its delta across the gap.
	s3 := statusSnapshot("m-1", 130)
	trk.Update(s3)
	if s3.ReadingDelta == nil || *s3.ReadingDelta != 30 {
		t.Errorf("ReadingDelta = %v, want 30", s3.ReadingDelta)
	}
}

func TestUpdateNil(t *testing.T) {
	trk := New()
	if got := trk.Update(nil); got != nil {
		t.Errorf("Update(nil) = %v", got)
	}
}

func TestMetersAreIndependent(t *testing.T) {
	trk := New()
	trk.Update(statusSnapshot("m-1", 100))
	trk.Update(statusSnapshot("m-2", 500))

	s := statusSnapshot("m-1", 120)
	trk.Update(s)
	if s.ReadingDelta == nil || *s.ReadingDelta != 20 {
		t.Errorf("ReadingDelta = %v, want 20", s.ReadingDelta)
	}

	ids := trk.TrackedIDs()
	if len(ids) != 2 {
		t.Errorf("TrackedIDs = %v", ids)
	}
}

func TestRemove(t *testing.T) {
	trk := New()
	trk.Update(statusSnapshot("m-1", 100))

	trk.Remove("m-1")
	if _, ok := trk.Previous("m-1"); ok {
		t.Error("baseline should be gone after Remove")
	}

	// Idempotent.
	trk.Remove("m-1")
	trk.Remove("never-tracked")
}

func TestConcurrentUpdates(t *testing.T) {
	trk := New()

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(worker int) {
			defer wg.Done()
			meterID := fmt.Sprintf("m-%d", worker)
			for j := 0; j < 100; j++ {
				trk.Update(statusSnapshot(meterID, float64(j)))
				trk.Previous(meterID)
			}
		}(i)
	}
	wg.Wait()

	if got := len(trk.TrackedIDs()); got != 10 {
		t.Errorf("tracked meters = %d, want 10", got)
	}
	for i := 0; i < 10; i++ {
		prev, ok := trk.Previous(fmt.Sprintf("m-%d", i))
		if !ok {
			t.Fatalf("m-%d lost its baseline", i)
		}
		if v, _ := prev.CurrentReading(); v != 99 {
			t.Errorf("m-%d baseline reading = %v, want 99", i, v)
		}
	}
}
