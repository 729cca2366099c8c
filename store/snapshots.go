package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"meterflow/logger"
	"meterflow/models"
)

// StoredSnapshot is an audit row read back from the database.
type StoredSnapshot struct {
	ID        int64 `json:"id"`
	models.Snapshot
	Online    bool                      `json:"is_online"`
	Anomalies map[string]map[string]any `json:"anomalies,omitempty"`
	CreatedAt string                    `json:"created_at"`
}

// AppendSnapshot stores one poll outcome. Append-only: rows are never
// updated or deleted. Both successful and error snapshots are accepted;
// detected anomalies ride along as a JSON column. Returns the row id.
func (db *DB) AppendSnapshot(s *models.Snapshot, anomalies map[string]map[string]any) (int64, error) {
	rawJSON, err := json.Marshal(s.Raw)
	if err != nil {
		return 0, fmt.Errorf("marshal raw data: %w", err)
	}

	var anomaliesJSON *string
	if len(anomalies) > 0 {
		data, err := json.Marshal(anomalies)
		if err != nil {
			return 0, fmt.Errorf("marshal anomalies: %w", err)
		}
		str := string(data)
		anomaliesJSON = &str
	}

	res, err := db.Exec(`
		INSERT INTO meter_snapshots (
			meter_id, meter_name, local_timestamp, api_timestamp,
			raw_data, current_reading_delta, balance_unit_delta,
			poll_successful, error_message, is_online, anomalies
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		s.MeterID,
		nullableString(s.MeterName),
		s.CapturedAt.Format(time.RFC3339Nano),
		nullableString(s.APITimestamp),
		string(rawJSON),
		s.ReadingDelta,
		s.BalanceDelta,
		s.PollSuccessful,
		nullableString(s.ErrorMessage),
		s.IsOnline(),
		anomaliesJSON,
	)
	if err != nil {
		return 0, fmt.Errorf("append snapshot: %w", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return 0, err
	}
	db.log.WithComponent("store").WithFields(logger.Fields{
		"meter_id": s.MeterID,
		"row_id":   id,
	}).Debug("stored snapshot")
	return id, nil
}

// RecentSnapshots returns up to limit rows for a meter, most recent first.
func (db *DB) RecentSnapshots(meterID string, limit int) ([]StoredSnapshot, error) {
	rows, err := db.Query(`
		SELECT id, meter_id, meter_name, local_timestamp, api_timestamp,
		       raw_data, current_reading_delta, balance_unit_delta,
		       poll_successful, error_message, is_online, anomalies, created_at
		FROM meter_snapshots
		WHERE meter_id = ?
		ORDER BY local_timestamp DESC
		LIMIT ?`, meterID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanSnapshots(rows)
}

// LoadSnapshots returns all of a meter's rows in chronological order, as
// the offline statistics aggregator expects them.
func (db *DB) LoadSnapshots(meterID string) ([]*models.Snapshot, error) {
	rows, err := db.Query(`
		SELECT id, meter_id, meter_name, local_timestamp, api_timestamp,
		       raw_data, current_reading_delta, balance_unit_delta,
		       poll_successful, error_message, is_online, anomalies, created_at
		FROM meter_snapshots
		WHERE meter_id = ?
		ORDER BY local_timestamp ASC`, meterID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	stored, err := scanSnapshots(rows)
	if err != nil {
		return nil, err
	}
	snapshots := make([]*models.Snapshot, 0, len(stored))
	for i := range stored {
		s := stored[i].Snapshot
		snapshots = append(snapshots, &s)
	}
	return snapshots, nil
}

func scanSnapshots(rows *sql.Rows) ([]StoredSnapshot, error) {
	var snapshots []StoredSnapshot
	for rows.Next() {
		var (
			s             StoredSnapshot
			meterName     sql.NullString
			localTS       string
			apiTS         sql.NullString
			rawJSON       string
			errorMessage  sql.NullString
			anomaliesJSON sql.NullString
		)
		if err := rows.Scan(&s.ID, &s.MeterID, &meterName, &localTS, &apiTS,
			&rawJSON, &s.ReadingDelta, &s.BalanceDelta,
			&s.PollSuccessful, &errorMessage, &s.Online, &anomaliesJSON, &s.CreatedAt); err != nil {
			return nil, err
		}
		s.MeterName = meterName.String
		s.APITimestamp = apiTS.String
		s.ErrorMessage = errorMessage.String
		if ts, err := time.Parse(time.RFC3339Nano, localTS); err == nil {
			s.CapturedAt = ts
		}
		if rawJSON != "" {
			if err := json.Unmarshal([]byte(rawJSON), &s.Raw); err != nil {
				return nil, fmt.Errorf("unmarshal raw data: %w", err)
			}
		}
		if anomaliesJSON.Valid {
			if err := json.Unmarshal([]byte(anomaliesJSON.String), &s.Anomalies); err != nil {
				return nil, fmt.Errorf("unmarshal anomalies: %w", err)
			}
		}
		snapshots = append(snapshots, s)
	}
	return snapshots, rows.Err()
}

// MeterSummary reports poll counts and latest values for one meter straight
// from SQL. Returns nil when the meter has no successful rows.
type MeterSummary struct {
	MeterID            string   `json:"meter_id"`
	TotalSnapshots     int      `json:"total_snapshots"`
	FirstPoll          string   `json:"first_poll"`
	LastPoll           string   `json:"last_poll"`
	LatestReading      *float64 `json:"latest_reading,omitempty"`
	LatestBalance      *float64 `json:"latest_balance,omitempty"`
	LatestReadingDelta *float64 `json:"latest_reading_delta,omitempty"`
	LatestBalanceDelta *float64 `json:"latest_balance_delta,omitempty"`
}

func (db *DB) GetMeterSummary(meterID string) (*MeterSummary, error) {
	var (
		count     int
		firstPoll sql.NullString
		lastPoll  sql.NullString
	)
	err := db.QueryRow(`
		SELECT COUNT(*), MIN(local_timestamp), MAX(local_timestamp)
		FROM meter_snapshots
		WHERE meter_id = ? AND poll_successful = 1`, meterID).
		Scan(&count, &firstPoll, &lastPoll)
	if err != nil {
		return nil, err
	}
	if count == 0 {
		return nil, nil
	}

	summary := &MeterSummary{
		MeterID:        meterID,
		TotalSnapshots: count,
		FirstPoll:      firstPoll.String,
		LastPoll:       lastPoll.String,
	}

	var (
		rawJSON      string
		readingDelta *float64
		balanceDelta *float64
	)
	err = db.QueryRow(`
		SELECT raw_data, current_reading_delta, balance_unit_delta
		FROM meter_snapshots
		WHERE meter_id = ? AND poll_successful = 1
		ORDER BY local_timestamp DESC
		LIMIT 1`, meterID).
		Scan(&rawJSON, &readingDelta, &balanceDelta)
	if err != nil {
		return nil, err
	}

	var raw map[string]any
	if err := json.Unmarshal([]byte(rawJSON), &raw); err == nil {
		if v, ok := models.AsNumber(raw[models.FieldCurrentReading]); ok {
			summary.LatestReading = &v
		}
		if v, ok := models.AsNumber(raw[models.FieldBalanceUnit]); ok {
			summary.LatestBalance = &v
		}
	}
	summary.LatestReadingDelta = readingDelta
	summary.LatestBalanceDelta = balanceDelta

	return summary, nil
}

func nullableString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
