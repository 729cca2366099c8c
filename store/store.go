// Package store persists the append-only audit trail to SQLite.
package store

import (
	"database/sql"
	"fmt"

	_ "modernc.org/sqlite"

	"meterflow/logger"
)

// DB wraps the SQLite database connection.
type DB struct {
	*sql.DB
	log *logger.Log
}

// Open opens (or creates) the audit database and applies the schema.
func Open(path string) (*DB, error) {
	dsn := fmt.Sprintf("file:%s?_journal_mode=WAL&_busy_timeout=5000", path)
	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	// Serialises writers; SQLite allows one at a time anyway, and this keeps
	// concurrent appends from all polling workers queued instead of failing.
	sqlDB.SetMaxOpenConns(1)

	db := &DB{DB: sqlDB, log: logger.GetLogger()}
	if _, err := sqlDB.Exec(schema); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	db.log.WithComponent("store").WithFields(logger.Fields{"path": path}).Info("database initialized")
	return db, nil
}
