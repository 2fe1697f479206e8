package store

import (
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	_ "modernc.org/sqlite"
)

// Store provides SQLite-backed persistence
type Store struct {
	db     *sql.DB
	logger *slog.Logger
}

// New creates a new Store, opening the SQLite database and running migrations
func New(dbPath string, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Extract workers write concurrently. A single connection serializes
	// them and keeps ":memory:" databases to one instance.
	db.SetMaxOpenConns(1)

	// Test the connection
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	s := &Store{
		db:     db,
		logger: logger,
	}

	// Run migrations
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	logger.Debug("Store initialized successfully", "path", dbPath)
	return s, nil
}

// Close closes the database connection
func (s *Store) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("failed to close database: %w", err)
	}
	return nil
}

// ============================================================================
// Timestamp Operations
// ============================================================================

// GetTimestamp returns the persisted archive timestamp for an entry name.
// ok is false when the entry has never been copied.
func (s *Store) GetTimestamp(name string) (int64, bool, error) {
	var modified int64
	err := s.db.QueryRow("SELECT modified FROM entry_records WHERE name = ?", name).Scan(&modified)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("failed to query timestamp: %w", err)
	}
	return modified, true, nil
}

// SetTimestamp persists the archive timestamp for an entry name, keeping any
// other details already recorded for it.
func (s *Store) SetTimestamp(name string, modified int64) error {
	const query = `
		INSERT INTO entry_records (name, modified, copied_at) VALUES (?, ?, ?)
		ON CONFLICT(name) DO UPDATE SET modified = excluded.modified, copied_at = excluded.copied_at
	`
	if _, err := s.db.Exec(query, name, modified, time.Now()); err != nil {
		return fmt.Errorf("failed to set timestamp: %w", err)
	}
	return nil
}

// ============================================================================
// EntryRecord Operations
// ============================================================================

// AnnotateEntry records where a copied entry came from and what was written.
// The timestamp itself is owned by SetTimestamp; a missing row is an error.
func (s *Store) AnnotateEntry(rec *EntryRecord) error {
	const query = `
		UPDATE entry_records SET
			archive = ?, dest_path = ?, size = ?, sha256 = ?, sync_run_id = ?
		WHERE name = ?
	`

	result, err := s.db.Exec(query, rec.Archive, rec.DestPath, rec.Size, rec.SHA256, rec.SyncRunID, rec.Name)
	if err != nil {
		return fmt.Errorf("failed to annotate entry record: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}

	if rowsAffected == 0 {
		return fmt.Errorf("entry record not found: %s", rec.Name)
	}

	return nil
}

// GetEntryRecord retrieves an EntryRecord by entry name
func (s *Store) GetEntryRecord(name string) (*EntryRecord, error) {
	const query = `
		SELECT name, modified, archive, dest_path, size, sha256, copied_at, sync_run_id
		FROM entry_records WHERE name = ?
	`

	rec := &EntryRecord{}
	err := s.db.QueryRow(query, name).Scan(
		&rec.Name, &rec.Modified, &rec.Archive, &rec.DestPath,
		&rec.Size, &rec.SHA256, &rec.CopiedAt, &rec.SyncRunID,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("entry record not found: %s", name)
		}
		return nil, fmt.Errorf("failed to query entry record: %w", err)
	}

	return rec, nil
}

// ListEntryRecords retrieves EntryRecords, optionally filtered by archive
func (s *Store) ListEntryRecords(archive string) ([]EntryRecord, error) {
	query := `
		SELECT name, modified, archive, dest_path, size, sha256, copied_at, sync_run_id
		FROM entry_records
	`
	var args []interface{}

	if archive != "" {
		query += " WHERE archive = ?"
		args = append(args, archive)
	}

	query += " ORDER BY name"

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query entry records: %w", err)
	}
	defer rows.Close()

	var records []EntryRecord
	for rows.Next() {
		rec := EntryRecord{}
		err := rows.Scan(
			&rec.Name, &rec.Modified, &rec.Archive, &rec.DestPath,
			&rec.Size, &rec.SHA256, &rec.CopiedAt, &rec.SyncRunID,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan entry record: %w", err)
		}
		records = append(records, rec)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating entry records: %w", err)
	}

	return records, nil
}

// DeleteEntryRecord forgets an entry so the next sync copies it again.
// It reports whether a record existed.
func (s *Store) DeleteEntryRecord(name string) (bool, error) {
	result, err := s.db.Exec("DELETE FROM entry_records WHERE name = ?", name)
	if err != nil {
		return false, fmt.Errorf("failed to delete entry record: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}

	return rowsAffected > 0, nil
}

// DeleteAllEntryRecords forgets every entry and returns how many were removed.
func (s *Store) DeleteAllEntryRecords() (int64, error) {
	result, err := s.db.Exec("DELETE FROM entry_records")
	if err != nil {
		return 0, fmt.Errorf("failed to delete entry records: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}

	return rowsAffected, nil
}

// CountEntryRecords returns the number of persisted entries
func (s *Store) CountEntryRecords() (int, error) {
	var count int
	if err := s.db.QueryRow("SELECT COUNT(*) FROM entry_records").Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count entry records: %w", err)
	}
	return count, nil
}

// ============================================================================
// SyncRun Operations
// ============================================================================

// CreateSyncRun inserts a new SyncRun and sets its ID
func (s *Store) CreateSyncRun(run *SyncRun) error {
	const query = `
		INSERT INTO sync_runs (
			archive, arch, dest_dir, start_time, end_time, entries_copied,
			entries_skipped, entries_failed, bytes_written, status, error_message
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	result, err := s.db.Exec(
		query,
		run.Archive, run.Arch, run.DestDir, run.StartTime, run.EndTime,
		run.EntriesCopied, run.EntriesSkipped, run.EntriesFailed,
		run.BytesWritten, run.Status, run.ErrorMessage,
	)
	if err != nil {
		return fmt.Errorf("failed to insert sync run: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get last insert id: %w", err)
	}

	run.ID = id
	return nil
}

// UpdateSyncRun updates an existing SyncRun by ID
func (s *Store) UpdateSyncRun(run *SyncRun) error {
	const query = `
		UPDATE sync_runs SET
			archive = ?, arch = ?, dest_dir = ?, start_time = ?, end_time = ?,
			entries_copied = ?, entries_skipped = ?, entries_failed = ?,
			bytes_written = ?, status = ?, error_message = ?
		WHERE id = ?
	`

	result, err := s.db.Exec(
		query,
		run.Archive, run.Arch, run.DestDir, run.StartTime, run.EndTime,
		run.EntriesCopied, run.EntriesSkipped, run.EntriesFailed,
		run.BytesWritten, run.Status, run.ErrorMessage, run.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update sync run: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}

	if rowsAffected == 0 {
		return fmt.Errorf("sync run not found: %d", run.ID)
	}

	return nil
}

const syncRunColumns = `
	id, archive, arch, dest_dir, start_time, end_time, entries_copied,
	entries_skipped, entries_failed, bytes_written, status, error_message
`

func scanSyncRun(scan func(dest ...interface{}) error) (*SyncRun, error) {
	run := &SyncRun{}
	err := scan(
		&run.ID, &run.Archive, &run.Arch, &run.DestDir, &run.StartTime, &run.EndTime,
		&run.EntriesCopied, &run.EntriesSkipped, &run.EntriesFailed,
		&run.BytesWritten, &run.Status, &run.ErrorMessage,
	)
	return run, err
}

// GetSyncRun retrieves a SyncRun by ID
func (s *Store) GetSyncRun(id int64) (*SyncRun, error) {
	run, err := scanSyncRun(s.db.QueryRow("SELECT "+syncRunColumns+" FROM sync_runs WHERE id = ?", id).Scan)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("sync run not found: %d", id)
		}
		return nil, fmt.Errorf("failed to query sync run: %w", err)
	}

	return run, nil
}

// ListSyncRuns retrieves SyncRuns, optionally filtered by archive
func (s *Store) ListSyncRuns(archive string, limit int) ([]SyncRun, error) {
	query := "SELECT " + syncRunColumns + " FROM sync_runs"
	var args []interface{}

	if archive != "" {
		query += " WHERE archive = ?"
		args = append(args, archive)
	}

	query += " ORDER BY start_time DESC, id DESC"

	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query sync runs: %w", err)
	}
	defer rows.Close()

	var runs []SyncRun
	for rows.Next() {
		run, err := scanSyncRun(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("failed to scan sync run: %w", err)
		}
		runs = append(runs, *run)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating sync runs: %w", err)
	}

	return runs, nil
}

// ============================================================================
// FailedEntry Operations
// ============================================================================

// AddFailedEntry records a failed copy. An unresolved record for the same
// archive and entry is updated and its retry count bumped instead.
func (s *Store) AddFailedEntry(rec *FailedEntry) error {
	const upsertQuery = `
		UPDATE failed_entries
		SET error = ?, retry_count = retry_count + 1, last_failure = ?,
		    dest_path = COALESCE(NULLIF(?, ''), dest_path)
		WHERE archive = ? AND entry_name = ? AND resolved = 0
	`

	result, err := s.db.Exec(upsertQuery, rec.Error, rec.LastFailure, rec.DestPath, rec.Archive, rec.EntryName)
	if err != nil {
		return fmt.Errorf("failed to update failed entry: %w", err)
	}

	rowsAffected, _ := result.RowsAffected()
	if rowsAffected > 0 {
		return nil // existing record updated
	}

	// No existing unresolved record, insert new
	const insertQuery = `
		INSERT INTO failed_entries (
			archive, entry_name, dest_path, error, retry_count,
			first_failure, last_failure, resolved
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`

	result, err = s.db.Exec(
		insertQuery,
		rec.Archive, rec.EntryName, rec.DestPath, rec.Error, rec.RetryCount,
		rec.FirstFailure, rec.LastFailure, rec.Resolved,
	)
	if err != nil {
		return fmt.Errorf("failed to add failed entry: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get last insert id: %w", err)
	}

	rec.ID = id
	return nil
}

// ListFailedEntries retrieves unresolved FailedEntries, optionally filtered by archive
func (s *Store) ListFailedEntries(archive string) ([]FailedEntry, error) {
	query := `
		SELECT id, archive, entry_name, dest_path, error, retry_count,
		       first_failure, last_failure, resolved
		FROM failed_entries WHERE resolved = 0
	`
	var args []interface{}

	if archive != "" {
		query += " AND archive = ?"
		args = append(args, archive)
	}

	query += " ORDER BY last_failure DESC"

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query failed entries: %w", err)
	}
	defer rows.Close()

	var records []FailedEntry
	for rows.Next() {
		rec := FailedEntry{}
		err := rows.Scan(
			&rec.ID, &rec.Archive, &rec.EntryName, &rec.DestPath, &rec.Error,
			&rec.RetryCount, &rec.FirstFailure, &rec.LastFailure, &rec.Resolved,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan failed entry: %w", err)
		}
		records = append(records, rec)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating failed entries: %w", err)
	}

	return records, nil
}

// ResolveFailedEntries marks every unresolved failure of an entry as
// resolved and returns how many were updated.
func (s *Store) ResolveFailedEntries(entryName string) (int64, error) {
	const query = "UPDATE failed_entries SET resolved = 1 WHERE entry_name = ? AND resolved = 0"

	result, err := s.db.Exec(query, entryName)
	if err != nil {
		return 0, fmt.Errorf("failed to resolve failed entries: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}

	return rowsAffected, nil
}
