// Package db provides database schema migration management.
package db

import (
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"fmt"
	"time"
)

// Migration represents a database schema migration.
type Migration struct {
	Version     int
	AppliedAt   time.Time
	Description string
	Checksum    string
}

// migrationStep is a schema migration embedded in the binary. The engine
// is a library, so migrations ship as code rather than as .sql files on
// disk.
type migrationStep struct {
	Version     int
	Description string
	SQL         string
}

// migrations lists all schema migrations in version order.
var migrations = []migrationStep{
	{
		Version:     1,
		Description: "initial_schema",
		SQL: `
CREATE TABLE IF NOT EXISTS records (
	tbl TEXT NOT NULL,
	id TEXT NOT NULL,
	payload TEXT NOT NULL DEFAULT '{}',
	last_modified INTEGER NOT NULL,
	version INTEGER NOT NULL DEFAULT 1,
	client_id TEXT NOT NULL DEFAULT '',
	needs_sync INTEGER NOT NULL DEFAULT 0,
	is_deleted INTEGER NOT NULL DEFAULT 0,
	created_at INTEGER NOT NULL,
	PRIMARY KEY (tbl, id)
);

CREATE INDEX IF NOT EXISTS idx_records_needs_sync ON records(tbl, needs_sync);
CREATE INDEX IF NOT EXISTS idx_records_modified ON records(tbl, last_modified);

CREATE TABLE IF NOT EXISTS sync_queue (
	id TEXT PRIMARY KEY,
	op_type TEXT NOT NULL,
	tbl TEXT NOT NULL,
	record_id TEXT NOT NULL,
	data TEXT NOT NULL DEFAULT '{}',
	timestamp INTEGER NOT NULL,
	retry_count INTEGER NOT NULL DEFAULT 0,
	max_retries INTEGER NOT NULL DEFAULT 3,
	priority TEXT NOT NULL DEFAULT 'medium',
	status TEXT NOT NULL DEFAULT 'pending',
	last_error TEXT NOT NULL DEFAULT ''
);

CREATE INDEX IF NOT EXISTS idx_queue_order ON sync_queue(status, priority, timestamp);
CREATE INDEX IF NOT EXISTS idx_queue_record ON sync_queue(tbl, record_id);

CREATE TABLE IF NOT EXISTS sync_metadata (
	tbl TEXT NOT NULL,
	record_id TEXT NOT NULL,
	last_synced INTEGER NOT NULL DEFAULT 0,
	local_version INTEGER NOT NULL DEFAULT 0,
	server_version INTEGER NOT NULL DEFAULT 0,
	PRIMARY KEY (tbl, record_id)
);

CREATE TABLE IF NOT EXISTS conflict_log (
	id TEXT PRIMARY KEY,
	tbl TEXT NOT NULL,
	record_id TEXT NOT NULL,
	strategy TEXT NOT NULL,
	client_data TEXT NOT NULL DEFAULT '{}',
	server_data TEXT NOT NULL DEFAULT '{}',
	resolved_data TEXT,
	resolved INTEGER NOT NULL DEFAULT 0,
	detected_at INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_conflict_unresolved ON conflict_log(resolved, detected_at);
`,
	},
}

// Migrator handles database schema migrations.
type Migrator struct {
	db *sql.DB
}

// NewMigrator creates a new Migrator instance.
func NewMigrator(db *sql.DB) *Migrator {
	return &Migrator{db: db}
}

// Initialize creates the schema_migrations table if it doesn't exist.
func (m *Migrator) Initialize() error {
	query := `
	CREATE TABLE IF NOT EXISTS schema_migrations (
		version INTEGER PRIMARY KEY CHECK(version > 0),
		applied_at INTEGER NOT NULL CHECK(applied_at > 0),
		description TEXT NOT NULL CHECK(length(description) > 0),
		checksum TEXT NOT NULL CHECK(length(checksum) = 64)
	);`
	_, err := m.db.Exec(query)
	return err
}

// CurrentVersion returns the current schema version.
func (m *Migrator) CurrentVersion() (int, error) {
	var version int
	err := m.db.QueryRow("SELECT COALESCE(MAX(version), 0) FROM schema_migrations").Scan(&version)
	return version, err
}

// GetAppliedMigrations returns all applied migrations.
func (m *Migrator) GetAppliedMigrations() ([]Migration, error) {
	rows, err := m.db.Query("SELECT version, applied_at, description, checksum FROM schema_migrations ORDER BY version")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var applied []Migration
	for rows.Next() {
		var mig Migration
		var appliedAt int64
		if err := rows.Scan(&mig.Version, &appliedAt, &mig.Description, &mig.Checksum); err != nil {
			return nil, err
		}
		mig.AppliedAt = time.Unix(appliedAt, 0)
		applied = append(applied, mig)
	}
	return applied, rows.Err()
}

// Up applies all pending migrations.
func (m *Migrator) Up() error {
	if err := m.Initialize(); err != nil {
		return fmt.Errorf("failed to initialize migrations table: %w", err)
	}

	applied, err := m.GetAppliedMigrations()
	if err != nil {
		return fmt.Errorf("failed to get applied migrations: %w", err)
	}
	appliedVersions := make(map[int]bool)
	for _, mig := range applied {
		appliedVersions[mig.Version] = true
	}

	for _, step := range migrations {
		if appliedVersions[step.Version] {
			continue // Already applied
		}
		if err := m.applyMigration(step); err != nil {
			return fmt.Errorf("failed to apply migration V%d: %w", step.Version, err)
		}
	}

	return nil
}

// applyMigration applies a single migration inside a transaction.
func (m *Migrator) applyMigration(step migrationStep) error {
	tx, err := m.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(step.SQL); err != nil {
		return fmt.Errorf("failed to execute migration SQL: %w", err)
	}

	// Record migration with a SHA-256 checksum of the SQL content
	hash := sha256.Sum256([]byte(step.SQL))
	checksum := hex.EncodeToString(hash[:])
	query := `INSERT INTO schema_migrations (version, applied_at, description, checksum)
			  VALUES (?, ?, ?, ?)`
	if _, err := tx.Exec(query, step.Version, time.Now().Unix(), step.Description, checksum); err != nil {
		return fmt.Errorf("failed to record migration: %w", err)
	}

	return tx.Commit()
}
