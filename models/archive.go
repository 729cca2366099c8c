package models

import (
	"encoding/json"
)

// ArchiveRecord is the flattened row written to parquet archives. Optional
// values stay nil when the snapshot has no numeric value for them.
type ArchiveRecord struct {
	MeterID        string   `parquet:"name=meter_id, type=BYTE_ARRAY, convertedtype=UTF8"`
	MeterName      string   `parquet:"name=meter_name, type=BYTE_ARRAY, convertedtype=UTF8"`
	CapturedAt     int64    `parquet:"name=captured_at, type=INT64"`
	Reading        *float64 `parquet:"name=reading, type=DOUBLE, repetitiontype=OPTIONAL"`
	Balance        *float64 `parquet:"name=balance, type=DOUBLE, repetitiontype=OPTIONAL"`
	ReadingDelta   *float64 `parquet:"name=reading_delta, type=DOUBLE, repetitiontype=OPTIONAL"`
	BalanceDelta   *float64 `parquet:"name=balance_delta, type=DOUBLE, repetitiontype=OPTIONAL"`
	PollSuccessful bool     `parquet:"name=poll_successful, type=BOOLEAN"`
	Online         bool     `parquet:"name=online, type=BOOLEAN"`
	ErrorMessage   string   `parquet:"name=error_message, type=BYTE_ARRAY, convertedtype=UTF8"`
	RawJSON        string   `parquet:"name=raw_json, type=BYTE_ARRAY, convertedtype=UTF8"`
}

// NewArchiveRecord flattens a snapshot for archival. The raw payload travels
// as a JSON string so the archive stays as faithful as the audit trail.
func NewArchiveRecord(s *Snapshot) ArchiveRecord {
	rec := ArchiveRecord{
		MeterID:        s.MeterID,
		MeterName:      s.MeterName,
		CapturedAt:     s.CapturedAt.UnixMilli(),
		ReadingDelta:   s.ReadingDelta,
		BalanceDelta:   s.BalanceDelta,
		PollSuccessful: s.PollSuccessful,
		Online:         s.IsOnline(),
		ErrorMessage:   s.ErrorMessage,
	}
	if v, ok := s.CurrentReading(); ok {
		rec.Reading = &v
	}
	if v, ok := s.BalanceUnit(); ok {
		rec.Balance = &v
	}
	if len(s.Raw) > 0 {
		if data, err := json.Marshal(s.Raw); err == nil {
			rec.RawJSON = string(data)
		}
	}
	return rec
}
