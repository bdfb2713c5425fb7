// Package store provides storage backends for schedengine.
//
// This file implements the SQLite-backed store.
package store

import (
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	_ "embed"

	_ "github.com/mattn/go-sqlite3"

	"schedengine/internal/models"
)

// DefaultDirPermissions defines the default permissions for database directories
const DefaultDirPermissions = 0755

//go:embed migrations_sqlite.sql
var sqliteMigrations string

type SQLiteStore struct {
	db *sql.DB
}

// Compile-time check that SQLiteStore implements Store.
var _ Store = (*SQLiteStore)(nil)

// NewSQLiteStore creates a new SQLite store. The DSN is a file path to the
// database file; its directory is created if missing.
func NewSQLiteStore(opts ...Option) (*SQLiteStore, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	slog.Debug("SQLiteStore.NewSQLiteStore: creating SQLite store", "DSN_set", cfg.DSN != "")

	dsn := cfg.DSN
	if dsn == "" {
		slog.Error("SQLiteStore DSN not set")
		return nil, fmt.Errorf("database DSN not set")
	}

	dir := filepath.Dir(dsn)
	if err := os.MkdirAll(dir, DefaultDirPermissions); err != nil {
		slog.Error("Failed to create database directory", "error", err, "dir", dir)
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		slog.Error("Failed to open SQLite connection", "error", err)
		return nil, err
	}
	// A single writer keeps the per-key read-modify-write sequences atomic.
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		slog.Error("SQLite ping failed", "error", err)
		return nil, err
	}

	if _, err := db.Exec(sqliteMigrations); err != nil {
		slog.Error("Failed to run migrations", "error", err)
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	slog.Debug("SQLite migrations applied successfully")

	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) PutSchedule(rec models.ScheduleRecord) error {
	payload, err := encodeSchedule(rec)
	if err != nil {
		return err
	}
	_, err = s.db.Exec(
		`INSERT INTO schedules (id, payload, updated_at) VALUES (?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET payload = excluded.payload, updated_at = excluded.updated_at`,
		rec.ID, string(payload), time.Now().UTC(),
	)
	if err != nil {
		slog.Error("SQLiteStore.PutSchedule failed", "error", err, "id", rec.ID)
		return fmt.Errorf("failed to upsert schedule %s: %w", rec.ID, err)
	}
	slog.Debug("SQLiteStore.PutSchedule succeeded", "id", rec.ID)
	return nil
}

func (s *SQLiteStore) GetSchedule(id string) (*models.ScheduleRecord, error) {
	var payload string
	err := s.db.QueryRow(`SELECT payload FROM schedules WHERE id = ?`, id).Scan(&payload)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		slog.Error("SQLiteStore.GetSchedule failed", "error", err, "id", id)
		return nil, fmt.Errorf("failed to query schedule %s: %w", id, err)
	}
	return decodeSchedule([]byte(payload)), nil
}

func (s *SQLiteStore) DeleteSchedule(id string) error {
	if _, err := s.db.Exec(`DELETE FROM schedules WHERE id = ?`, id); err != nil {
		slog.Error("SQLiteStore.DeleteSchedule failed", "error", err, "id", id)
		return fmt.Errorf("failed to delete schedule %s: %w", id, err)
	}
	return nil
}

// scanSchedules decodes every payload row, skipping unreadable records.
func scanSchedules(rows *sql.Rows) ([]models.ScheduleRecord, error) {
	defer rows.Close()
	var out []models.ScheduleRecord
	for rows.Next() {
		var payload string
		if err := rows.Scan(&payload); err != nil {
			return nil, fmt.Errorf("failed to scan schedule row: %w", err)
		}
		if rec := decodeSchedule([]byte(payload)); rec != nil {
			out = append(out, *rec)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate schedule rows: %w", err)
	}
	return out, nil
}

func (s *SQLiteStore) ListSchedules() ([]models.ScheduleRecord, error) {
	rows, err := s.db.Query(`SELECT payload FROM schedules`)
	if err != nil {
		slog.Error("SQLiteStore.ListSchedules query failed", "error", err)
		return nil, fmt.Errorf("failed to query schedules: %w", err)
	}
	return scanSchedules(rows)
}

func (s *SQLiteStore) ListSchedulesForGroup(groupID int64) ([]models.ScheduleRecord, error) {
	all, err := s.ListSchedules()
	if err != nil {
		return nil, err
	}
	var out []models.ScheduleRecord
	for _, rec := range all {
		if rec.GroupID == groupID && rec.Active {
			out = append(out, rec)
		}
	}
	slog.Debug("SQLiteStore.ListSchedulesForGroup succeeded", "groupID", groupID, "count", len(out))
	return out, nil
}

func (s *SQLiteStore) ListDueSchedules(now time.Time) ([]models.ScheduleRecord, error) {
	all, err := s.ListSchedules()
	if err != nil {
		return nil, err
	}
	var out []models.ScheduleRecord
	for _, rec := range all {
		if rec.IsDue(now) {
			out = append(out, rec)
		}
	}
	return out, nil
}

func (s *SQLiteStore) TryAcquireLock(id, token string, until, now time.Time) (bool, error) {
	tx, err := s.db.Begin()
	if err != nil {
		return false, fmt.Errorf("failed to begin lock transaction: %w", err)
	}
	defer tx.Rollback()

	var payload string
	err = tx.QueryRow(`SELECT payload FROM schedules WHERE id = ?`, id).Scan(&payload)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to read schedule %s for locking: %w", id, err)
	}

	rec := decodeSchedule([]byte(payload))
	// Re-check dueness, not just the fence: the caller's due scan may be
	// stale, and the record could already have been dispatched and advanced
	// by a concurrent claim.
	if rec == nil || !rec.IsDue(now) {
		return false, nil
	}

	rec.LockedUntil = &until
	rec.LockToken = token
	updated, err := encodeSchedule(*rec)
	if err != nil {
		return false, err
	}
	if _, err := tx.Exec(`UPDATE schedules SET payload = ?, updated_at = ? WHERE id = ?`,
		string(updated), time.Now().UTC(), id); err != nil {
		return false, fmt.Errorf("failed to write lock for schedule %s: %w", id, err)
	}
	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("failed to commit lock for schedule %s: %w", id, err)
	}
	slog.Debug("SQLiteStore.TryAcquireLock acquired", "id", id, "until", until)
	return true, nil
}

func (s *SQLiteStore) ReleaseLock(rec models.ScheduleRecord, token string) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin release transaction: %w", err)
	}
	defer tx.Rollback()

	var payload string
	err = tx.QueryRow(`SELECT payload FROM schedules WHERE id = ?`, rec.ID).Scan(&payload)
	if err == sql.ErrNoRows {
		return models.ErrScheduleNotFound
	}
	if err != nil {
		return fmt.Errorf("failed to read schedule %s for release: %w", rec.ID, err)
	}

	cur := decodeSchedule([]byte(payload))
	if cur == nil {
		return models.ErrScheduleNotFound
	}
	if cur.LockToken != token {
		return ErrLockLost
	}

	updated, err := encodeSchedule(rec)
	if err != nil {
		return err
	}
	if _, err := tx.Exec(`UPDATE schedules SET payload = ?, updated_at = ? WHERE id = ?`,
		string(updated), time.Now().UTC(), rec.ID); err != nil {
		return fmt.Errorf("failed to release schedule %s: %w", rec.ID, err)
	}
	return tx.Commit()
}

func (s *SQLiteStore) SetActive(id string, active bool) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin set-active transaction: %w", err)
	}
	defer tx.Rollback()

	var payload string
	err = tx.QueryRow(`SELECT payload FROM schedules WHERE id = ?`, id).Scan(&payload)
	if err == sql.ErrNoRows {
		return models.ErrScheduleNotFound
	}
	if err != nil {
		return fmt.Errorf("failed to read schedule %s: %w", id, err)
	}

	rec := decodeSchedule([]byte(payload))
	if rec == nil {
		return models.ErrScheduleNotFound
	}
	rec.Active = active

	updated, err := encodeSchedule(*rec)
	if err != nil {
		return err
	}
	if _, err := tx.Exec(`UPDATE schedules SET payload = ?, updated_at = ? WHERE id = ?`,
		string(updated), time.Now().UTC(), id); err != nil {
		return fmt.Errorf("failed to update schedule %s: %w", id, err)
	}
	return tx.Commit()
}

func (s *SQLiteStore) PutPending(session models.WizardSession) error {
	payload, err := encodeSession(session)
	if err != nil {
		return err
	}
	key := pendingKey(session.GroupID, session.CreatorID)
	_, err = s.db.Exec(
		`INSERT INTO wizard_sessions (session_key, payload, updated_at) VALUES (?, ?, ?)
		 ON CONFLICT(session_key) DO UPDATE SET payload = excluded.payload, updated_at = excluded.updated_at`,
		key, string(payload), time.Now().UTC(),
	)
	if err != nil {
		slog.Error("SQLiteStore.PutPending failed", "error", err, "key", key)
		return fmt.Errorf("failed to upsert wizard session: %w", err)
	}
	return nil
}

func (s *SQLiteStore) GetPending(groupID, creatorID int64) (*models.WizardSession, error) {
	var payload string
	err := s.db.QueryRow(`SELECT payload FROM wizard_sessions WHERE session_key = ?`,
		pendingKey(groupID, creatorID)).Scan(&payload)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		slog.Error("SQLiteStore.GetPending failed", "error", err, "groupID", groupID, "creatorID", creatorID)
		return nil, fmt.Errorf("failed to query wizard session: %w", err)
	}
	return decodeSession([]byte(payload)), nil
}

func (s *SQLiteStore) DeletePending(groupID, creatorID int64) error {
	_, err := s.db.Exec(`DELETE FROM wizard_sessions WHERE session_key = ?`,
		pendingKey(groupID, creatorID))
	if err != nil {
		slog.Error("SQLiteStore.DeletePending failed", "error", err, "groupID", groupID, "creatorID", creatorID)
		return fmt.Errorf("failed to delete wizard session: %w", err)
	}
	return nil
}

// Close closes the SQLite database connection.
func (s *SQLiteStore) Close() error {
	slog.Debug("Closing SQLite database connection")
	return s.db.Close()
}
