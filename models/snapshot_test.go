package models

import (
	"encoding/json"
	"testing"
	"time"
)

func successfulSnapshot(meterID string, raw map[string]any) *Snapshot {
	return FromStatusPayload(meterID, raw, nil)
}

func TestFromStatusPayload(t *testing.T) {
	payload := map[string]any{
		"name":            "warehouse-a",
		"timestamp":       "2026-08-30T10:00:00Z",
		"current_reading": 1523.5,
		"balance_unit":    88.2,
	}

	s := FromStatusPayload("m-1", payload, nil)

	if s.MeterID != "m-1" {
		t.Errorf("MeterID = %q, want m-1", s.MeterID)
	}
	if s.MeterName != "warehouse-a" {
		t.Errorf("MeterName = %q, want warehouse-a", s.MeterName)
	}
	if s.APITimestamp != "2026-08-30T10:00:00Z" {
		t.Errorf("APITimestamp = %q", s.APITimestamp)
	}
	if !s.PollSuccessful {
		t.Error("PollSuccessful = false, want true")
	}
	if s.ReadingDelta != nil || s.BalanceDelta != nil {
		t.Error("deltas should be absent without a previous snapshot")
	}
	if time.Since(s.CapturedAt) > time.Minute {
		t.Errorf("CapturedAt not recent: %v", s.CapturedAt)
	}

	// The raw payload is copied, not aliased.
	payload["current_reading"] = 9999.0
	if v, _ := s.CurrentReading(); v != 1523.5 {
		t.Errorf("CurrentReading = %v after mutating source payload, want 1523.5", v)
	}
}

func TestNewErrorSnapshot(t *testing.T) {
	s := NewErrorSnapshot("m-1", "connection refused")

	if s.PollSuccessful {
		t.Error("PollSuccessful = true, want false")
	}
	if s.ErrorMessage != "connection refused" {
		t.Errorf("ErrorMessage = %q", s.ErrorMessage)
	}
	if s.ReadingDelta != nil || s.BalanceDelta != nil {
		t.Error("error snapshot must not carry deltas")
	}
	if s.IsOnline() {
		t.Error("error snapshot must report offline")
	}
}

func TestComputeDeltas(t *testing.T) {
	prev := successfulSnapshot("m-1", map[string]any{
		"current_reading": 100.0,
		"balance_unit":    50.0,
	})
	cur := successfulSnapshot("m-1", map[string]any{
		"current_reading": 150.0,
		"balance_unit":    47.0,
	})

	cur.ComputeDeltas(prev)

	if cur.ReadingDelta == nil || *cur.ReadingDelta != 50.0 {
		t.Errorf("ReadingDelta = %v, want 50", cur.ReadingDelta)
	}
	if cur.BalanceDelta == nil || *cur.BalanceDelta != -3.0 {
		t.Errorf("BalanceDelta = %v, want -3", cur.BalanceDelta)
	}
}

func TestComputeDeltasStringValuesExcluded(t *testing.T) {
	prev := successfulSnapshot("m-1", map[string]any{"current_reading": "100"})
	cur := successfulSnapshot("m-1", map[string]any{"current_reading": "150"})

	cur.ComputeDeltas(prev)

	if cur.ReadingDelta != nil {
		t.Errorf("ReadingDelta = %v, want nil for string-typed readings", *cur.ReadingDelta)
	}
}

func TestComputeDeltasMixedTypes(t *testing.T) {
	prev := successfulSnapshot("m-1", map[string]any{"current_reading": 100.0})
	cur := successfulSnapshot("m-1", map[string]any{"current_reading": "150"})

	cur.ComputeDeltas(prev)
	if cur.ReadingDelta != nil {
		t.Error("delta must be absent when current value is non-numeric")
	}
}

func TestComputeDeltasOverwritesStale(t *testing.T) {
	prev := successfulSnapshot("m-1", map[string]any{"current_reading": 100.0})
	cur := successfulSnapshot("m-1", map[string]any{"balance_unit": 10.0})
	stale := 42.0
	cur.ReadingDelta = &stale

	cur.ComputeDeltas(prev)
	if cur.ReadingDelta != nil {
		t.Error("recompute must reset deltas that no longer apply")
	}
}

func TestComputeDeltasFailedPoll(t *testing.T) {
	prev := successfulSnapshot("m-1", map[string]any{"current_reading": 100.0})
	cur := NewErrorSnapshot("m-1", "timeout")

	cur.ComputeDeltas(prev)
	if cur.ReadingDelta != nil || cur.BalanceDelta != nil {
		t.Error("failed polls never carry deltas")
	}
}

func TestIsOnline(t *testing.T) {
	tests := []struct {
		name string
		raw  map[string]any
		want bool
	}{
		{"no connectivity block", map[string]any{"current_reading": 1.0}, true},
		{"online true", map[string]any{"connectivity": map[string]any{"online": true}}, true},
		{"online false", map[string]any{"connectivity": map[string]any{"online": false}}, false},
		{"online numeric 1", map[string]any{"connectivity": map[string]any{"online": 1.0}}, true},
		{"online numeric 0", map[string]any{"connectivity": map[string]any{"online": 0.0}}, false},
		{"online missing inside block", map[string]any{"connectivity": map[string]any{"signal": "ok"}}, true},
		{"connectivity not an object", map[string]any{"connectivity": "up"}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := successfulSnapshot("m-1", tt.raw)
			if got := s.IsOnline(); got != tt.want {
				t.Errorf("IsOnline() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestEstimatedCosts(t *testing.T) {
	s := successfulSnapshot("m-1", map[string]any{
		"current_reading": 200.0,
		"balance_unit":    10.0,
		"unit_price":      1.5,
	})

	if cost, ok := s.EstimatedReadingCost(); !ok || cost != 300.0 {
		t.Errorf("EstimatedReadingCost = %v, %v; want 300, true", cost, ok)
	}
	if cost, ok := s.EstimatedBalanceCost(); !ok || cost != 15.0 {
		t.Errorf("EstimatedBalanceCost = %v, %v; want 15, true", cost, ok)
	}

	noPrice := successfulSnapshot("m-1", map[string]any{"current_reading": 200.0})
	if _, ok := noPrice.EstimatedReadingCost(); ok {
		t.Error("cost must be absent without unit_price")
	}

	stringPrice := successfulSnapshot("m-1", map[string]any{
		"current_reading": 200.0,
		"unit_price":      "1.5",
	})
	if _, ok := stringPrice.EstimatedReadingCost(); ok {
		t.Error("cost must be absent when unit_price is a string")
	}
}

func TestAsNumber(t *testing.T) {
	tests := []struct {
		name  string
		value any
		want  float64
		ok    bool
	}{
		{"float64", 12.5, 12.5, true},
		{"int", 7, 7, true},
		{"int64", int64(-3), -3, true},
		{"json number", json.Number("42.25"), 42.25, true},
		{"string", "12.5", 0, false},
		{"bool", true, 0, false},
		{"nil", nil, 0, false},
		{"map", map[string]any{}, 0, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := AsNumber(tt.value)
			if ok != tt.ok || got != tt.want {
				t.Errorf("AsNumber(%v) = %v, %v; want %v, %v", tt.value, got, ok, tt.want, tt.ok)
			}
		})
	}
}

func TestParseNumber(t *testing.T) {
	if got, ok := ParseNumber(" 12.5 "); !ok || got != 12.5 {
		t.Errorf("ParseNumber(\" 12.5 \") = %v, %v; want 12.5, true", got, ok)
	}
	if got, ok := ParseNumber(3); !ok || got != 3 {
		t.Errorf("ParseNumber(3) = %v, %v; want 3, true", got, ok)
	}
	if _, ok := ParseNumber("abc"); ok {
		t.Error("ParseNumber(\"abc\") should fail")
	}
	if _, ok := ParseNumber(true); ok {
		t.Error("ParseNumber(true) should fail")
	}
}

func TestNewArchiveRecord(t *testing.T) {
	s := successfulSnapshot("m-1", map[string]any{
		"current_reading": 120.0,
		"balance_unit":    30.0,
	})
	prev := successfulSnapshot("m-1", map[string]any{
		"current_reading": 100.0,
		"balance_unit":    31.0,
	})
	s.ComputeDeltas(prev)

	rec := NewArchiveRecord(s)

	if rec.MeterID != "m-1" {
		t.Errorf("MeterID = %q", rec.MeterID)
	}
	if rec.Reading == nil || *rec.Reading != 120.0 {
		t.Errorf("Reading = %v, want 120", rec.Reading)
	}
	if rec.ReadingDelta == nil || *rec.ReadingDelta != 20.0 {
		t.Errorf("ReadingDelta = %v, want 20", rec.ReadingDelta)
	}
	if rec.BalanceDelta == nil || *rec.BalanceDelta != -1.0 {
		t.Errorf("BalanceDelta = %v, want -1", rec.BalanceDelta)
	}
	if !rec.PollSuccessful || !rec.Online {
		t.Error("successful online snapshot should archive as such")
	}
	if rec.RawJSON == "" {
		t.Error("RawJSON should carry the payload")
	}

	var raw map[string]any
	if err := json.Unmarshal([]byte(rec.RawJSON), &raw); err != nil {
		t.Fatalf("RawJSON not valid JSON: %v", err)
	}
	if raw["current_reading"] != 120.0 {
		t.Errorf("RawJSON current_reading = %v", raw["current_reading"])
	}
}

func TestNewArchiveRecordErrorSnapshot(t *testing.T) {
	rec := NewArchiveRecord(NewErrorSnapshot("m-2", "boom"))

	if rec.PollSuccessful || rec.Online {
		t.Error("error snapshot should archive as failed and offline")
	}
	if rec.Reading != nil || rec.Balance != nil {
		t.Error("error snapshot has no values to archive")
	}
	if rec.ErrorMessage != "boom" {
		t.Errorf("ErrorMessage = %q", rec.ErrorMessage)
	}
}
