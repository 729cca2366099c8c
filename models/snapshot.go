package models

import (
	"time"
)

// Raw payload fields the accessors look at. The payload itself is stored
// verbatim; these names are only used for derived values and deltas.
const (
	FieldCurrentReading = "current_reading"
	FieldBalanceUnit    = "balance_unit"
	FieldConnectivity   = "connectivity"
	FieldUnitPrice      = "unit_price"
)

// Snapshot is one poll's recorded outcome for a single meter. Raw holds the
// API payload exactly as received and is never rewritten or normalised;
// the only mutation after construction is attaching computed deltas.
type Snapshot struct {
	MeterID      string         `json:"meter_id"`
	MeterName    string         `json:"meter_name,omitempty"`
	CapturedAt   time.Time      `json:"captured_at"`
	APITimestamp string         `json:"api_timestamp,omitempty"`
	Raw          map[string]any `json:"raw_data"`

	// Deltas against the previous successful snapshot for the same meter.
	// nil means absent: no baseline, or either side non-numeric.
	ReadingDelta *float64 `json:"reading_delta,omitempty"`
	BalanceDelta *float64 `json:"balance_delta,omitempty"`

	PollSuccessful bool   `json:"poll_successful"`
	ErrorMessage   string `json:"error_message,omitempty"`
}

// FromStatusPayload builds a snapshot from a raw status payload. It never
// fails: malformed or missing fields degrade to absent derived values so the
// poll loop always gets a storable record. When previous is non-nil deltas
// are computed against it; the tracker recomputes them authoritatively on
// update, so the constructor's deltas are advisory.
func FromStatusPayload(meterID string, payload map[string]any, previous *Snapshot) *Snapshot {
	s := &Snapshot{
		MeterID:        meterID,
		CapturedAt:     time.Now(),
		Raw:            make(map[string]any, len(payload)),
		PollSuccessful: true,
	}
	for k, v := range payload {
		s.Raw[k] = v
	}
	if name, ok := payload["name"].(string); ok {
		s.MeterName = name
	}
	if ts, ok := payload["timestamp"].(string); ok {
		s.APITimestamp = ts
	}
	if previous != nil {
		s.ComputeDeltas(previous)
	}
	return s
}

// NewErrorSnapshot records a failed poll. It carries no raw fields and no
// deltas and is never installed as a tracker baseline.
func NewErrorSnapshot(meterID, message string) *Snapshot {
	return &Snapshot{
		MeterID:        meterID,
		CapturedAt:     time.Now(),
		PollSuccessful: false,
		ErrorMessage:   message,
	}
}

// ComputeDeltas recomputes both deltas against previous, overwriting any
// values attached earlier. A delta is set only when the field is strictly
// numeric on both sides; every other combination resets it to absent.
func (s *Snapshot) ComputeDeltas(previous *Snapshot) {
	s.ReadingDelta = nil
	s.BalanceDelta = nil
	if previous == nil || !s.PollSuccessful {
		return
	}
	if cur, ok := AsNumber(s.Raw[FieldCurrentReading]); ok {
		if prev, ok := AsNumber(previous.Raw[FieldCurrentReading]); ok {
			d := cur - prev
			s.ReadingDelta = &d
		}
	}
	if cur, ok := AsNumber(s.Raw[FieldBalanceUnit]); ok {
		if prev, ok := AsNumber(previous.Raw[FieldBalanceUnit]); ok {
			d := cur - prev
			s.BalanceDelta = &d
		}
	}
}

// CurrentReading returns the meter reading when the payload carries a
// numeric value for it.
func (s *Snapshot) CurrentReading() (float64, bool) {
	return AsNumber(s.Raw[FieldCurrentReading])
}

// BalanceUnit returns the balance value when the payload carries a numeric
// value for it.
func (s *Snapshot) BalanceUnit() (float64, bool) {
	return AsNumber(s.Raw[FieldBalanceUnit])
}

// IsOnline classifies connectivity from the payload's connectivity.online
// flag. Meters reporting no connectivity block are assumed online; a failed
// poll is always offline.
func (s *Snapshot) IsOnline() bool {
	if !s.PollSuccessful {
		return false
	}
	conn, ok := s.Raw[FieldConnectivity].(map[string]any)
	if !ok {
		return true
	}
	online, present := conn["online"]
	if !present {
		return true
	}
	switch v := online.(type) {
	case bool:
		return v
	default:
		if f, ok := AsNumber(online); ok {
			return f != 0
		}
		return true
	}
}

// EstimatedReadingCost is reading x unit_price when both are numeric. Raw
// arithmetic only; no unit interpretation.
func (s *Snapshot) EstimatedReadingCost() (float64, bool) {
	price, ok := AsNumber(s.Raw[FieldUnitPrice])
	if !ok {
		return 0, false
	}
	reading, ok := s.CurrentReading()
	if !ok {
		return 0, false
	}
	return reading * price, true
}

// EstimatedBalanceCost is balance x unit_price when both are numeric.
func (s *Snapshot) EstimatedBalanceCost() (float64, bool) {
	price, ok := AsNumber(s.Raw[FieldUnitPrice])
	if !ok {
		return 0, false
	}
	balance, ok := s.BalanceUnit()
	if !ok {
		return 0, false
	}
	return balance * price, true
}
