package store

import (
	"fmt"
)

// migrate runs all pending migrations
func (s *Store) migrate() error {
	// Create migrations table if it doesn't exist
	createMigrationsTableSQL := `
		CREATE TABLE IF NOT EXISTS migrations (
			id INTEGER PRIMARY KEY,
			version INTEGER NOT NULL UNIQUE,
			applied_at DATETIME DEFAULT CURRENT_TIMESTAMP
		);
	`

	if _, err := s.db.Exec(createMigrationsTableSQL); err != nil {
		return fmt.Errorf("failed to create migrations table: %w", err)
	}

	// Get the current schema version
	var currentVersion int
	err := s.db.QueryRow("SELECT COALESCE(MAX(version), 0) FROM migrations").Scan(&currentVersion)
	if err != nil {
		return fmt.Errorf("failed to get current migration version: %w", err)
	}

	s.logger.Debug("Current schema version", "version", currentVersion)

	// Define all migrations
	migrations := []struct {
		version int
		sql     string
	}{
		{
			version: 1,
			sql: `
				CREATE TABLE sync_runs (
					id INTEGER PRIMARY KEY AUTOINCREMENT,
					archive TEXT NOT NULL,
					arch TEXT NOT NULL DEFAULT '',
					dest_dir TEXT NOT NULL DEFAULT '',
					start_time DATETIME NOT NULL,
					end_time DATETIME,
					entries_copied INTEGER DEFAULT 0,
					entries_skipped INTEGER DEFAULT 0,
					entries_failed INTEGER DEFAULT 0,
					bytes_written INTEGER DEFAULT 0,
					status TEXT DEFAULT 'running',
					error_message TEXT
				);

				CREATE TABLE entry_records (
					name TEXT PRIMARY KEY,
					modified INTEGER NOT NULL,
					archive TEXT NOT NULL DEFAULT '',
					dest_path TEXT NOT NULL DEFAULT '',
					size INTEGER NOT NULL DEFAULT 0,
					sha256 TEXT NOT NULL DEFAULT '',
					copied_at DATETIME NOT NULL,
					sync_run_id INTEGER NOT NULL DEFAULT 0
				);
			`,
		},
		{
			version: 2,
			sql: `
				CREATE TABLE failed_entries (
					id INTEGER PRIMARY KEY AUTOINCREMENT,
					archive TEXT NOT NULL,
					entry_name TEXT NOT NULL,
					dest_path TEXT NOT NULL DEFAULT '',
					error TEXT NOT NULL DEFAULT '',
					retry_count INTEGER DEFAULT 0,
					first_failure DATETIME NOT NULL,
					last_failure DATETIME NOT NULL,
					resolved BOOLEAN DEFAULT 0
				);

				CREATE INDEX idx_failed_entries_name ON failed_entries(entry_name, resolved);
			`,
		},
	}

	// Run pending migrations
	for _, mig := range migrations {
		if mig.version > currentVersion {
			s.logger.Info("Running migration", "version", mig.version)

			if err := s.runMigration(mig.version, mig.sql); err != nil {
				return fmt.Errorf("failed to run migration %d: %w", mig.version, err)
			}

			s.logger.Info("Migration completed", "version", mig.version)
		}
	}

	return nil
}

// runMigration executes a migration and records it
func (s *Store) runMigration(version int, sql string) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	// Execute the migration SQL
	if _, err := tx.Exec(sql); err != nil {
		return fmt.Errorf("failed to execute migration SQL: %w", err)
	}

	// Record the migration
	insertSQL := "INSERT INTO migrations (version) VALUES (?)"
	if _, err := tx.Exec(insertSQL, version); err != nil {
		return fmt.Errorf("failed to record migration: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit migration transaction: %w", err)
	}

	return nil
}
