// Package db persists analysis runs and their estimate rows to sqlite.
// Estimation itself is pure and in-memory; the store exists so survey
// products are auditable after the fact (which inputs, which estimator,
// which diagnostics produced a published number).
package db

import (
	"database/sql"
	"fmt"

	_ "modernc.org/sqlite"
)

type DB struct {
	*sql.DB
}

// NewDB opens (creating if needed) the run store at path and brings the
// schema up to date.
func NewDB(path string) (*DB, error) {
	sdb, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open run store: %w", err)
	}
	if _, err := sdb.Exec(`PRAGMA foreign_keys = ON; PRAGMA busy_timeout = 5000;`); err != nil {
		sdb.Close()
		return nil, fmt.Errorf("failed to set pragmas: %w", err)
	}
	db := &DB{sdb}
	if err := db.migrateUp(); err != nil {
		sdb.Close()
		return nil, err
	}
	return db, nil
}
