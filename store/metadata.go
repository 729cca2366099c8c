package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

// SetMetadata upserts one key in the system metadata table. Values are
// stored as JSON so session records can carry structured payloads.
func (db *DB) SetMetadata(key string, value any) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("marshal metadata %q: %w", key, err)
	}
	_, err = db.Exec(`
		INSERT OR REPLACE INTO system_metadata (key, value, updated_at)
		VALUES (?, ?, ?)`,
		key, string(data), time.Now().UTC().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("set metadata %q: %w", key, err)
	}
	return nil
}

// GetMetadata reads one key back, decoding the stored JSON into out.
// Returns false when the key does not exist.
func (db *DB) GetMetadata(key string, out any) (bool, error) {
	var value string
	err := db.QueryRow(`SELECT value FROM system_metadata WHERE key = ?`, key).Scan(&value)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if out != nil {
		if err := json.Unmarshal([]byte(value), out); err != nil {
			return true, fmt.Errorf("unmarshal metadata %q: %w", key, err)
		}
	}
	return true, nil
}
