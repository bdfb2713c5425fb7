// Package store provides storage backends for schedengine.
//
// This file implements the PostgreSQL-backed store.
package store

import (
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	_ "embed"

	_ "github.com/lib/pq"

	"schedengine/internal/models"
)

// Database connection pool configuration constants
const (
	// DefaultMaxOpenConns is the default maximum number of open connections to the database
	DefaultMaxOpenConns = 25
	// DefaultMaxIdleConns is the default maximum number of idle connections in the pool
	DefaultMaxIdleConns = 25
	// DefaultConnMaxLifetime is the default maximum amount of time a connection may be reused
	DefaultConnMaxLifetime = 5 * time.Minute
)

//go:embed migrations_postgres.sql
var postgresMigrations string

type PostgresStore struct {
	db *sql.DB
}

// Compile-time check that PostgresStore implements Store.
var _ Store = (*PostgresStore)(nil)

// NewPostgresStore creates a new Postgres store based on provided options.
func NewPostgresStore(opts ...Option) (*PostgresStore, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	slog.Debug("PostgresStore.NewPostgresStore: creating Postgres store", "DSN_set", cfg.DSN != "")

	dsn := cfg.DSN
	if dsn == "" {
		slog.Error("PostgresStore DSN not set")
		return nil, fmt.Errorf("database DSN not set")
	}

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		slog.Error("Failed to open Postgres connection", "error", err)
		return nil, err
	}

	db.SetMaxOpenConns(DefaultMaxOpenConns)
	db.SetMaxIdleConns(DefaultMaxIdleConns)
	db.SetConnMaxLifetime(DefaultConnMaxLifetime)

	if err := db.Ping(); err != nil {
		slog.Error("Postgres ping failed", "error", err)
		return nil, err
	}

	if _, err := db.Exec(postgresMigrations); err != nil {
		slog.Error("Failed to run migrations", "error", err)
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	slog.Debug("Postgres migrations applied successfully")

	return &PostgresStore{db: db}, nil
}

func (s *PostgresStore) PutSchedule(rec models.ScheduleRecord) error {
	payload, err := encodeSchedule(rec)
	if err != nil {
		return err
	}
	_, err = s.db.Exec(
		`INSERT INTO schedules (id, payload, updated_at) VALUES ($1, $2, $3)
		 ON CONFLICT (id) DO UPDATE SET payload = EXCLUDED.payload, updated_at = EXCLUDED.updated_at`,
		rec.ID, string(payload), time.Now().UTC(),
	)
	if err != nil {
		slog.Error("PostgresStore.PutSchedule failed", "error", err, "id", rec.ID)
		return fmt.Errorf("failed to upsert schedule %s: %w", rec.ID, err)
	}
	slog.Debug("PostgresStore.PutSchedule succeeded", "id", rec.ID)
	return nil
}

func (s *PostgresStore) GetSchedule(id string) (*models.ScheduleRecord, error) {
	var payload string
	err := s.db.QueryRow(`SELECT payload FROM schedules WHERE id = $1`, id).Scan(&payload)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		slog.Error("PostgresStore.GetSchedule failed", "error", err, "id", id)
		return nil, fmt.Errorf("failed to query schedule %s: %w", id, err)
	}
	return decodeSchedule([]byte(payload)), nil
}

func (s *PostgresStore) DeleteSchedule(id string) error {
	if _, err := s.db.Exec(`DELETE FROM schedules WHERE id = $1`, id); err != nil {
		slog.Error("PostgresStore.DeleteSchedule failed", "error", err, "id", id)
		return fmt.Errorf("failed to delete schedule %s: %w", id, err)
	}
	return nil
}

func (s *PostgresStore) ListSchedules() ([]models.ScheduleRecord, error) {
	rows, err := s.db.Query(`SELECT payload FROM schedules`)
	if err != nil {
		slog.Error("PostgresStore.ListSchedules query failed", "error", err)
		return nil, fmt.Errorf("failed to query schedules: %w", err)
	}
	return scanSchedules(rows)
}

func (s *PostgresStore) ListSchedulesForGroup(groupID int64) ([]models.ScheduleRecord, error) {
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
	slog.Debug("PostgresStore.ListSchedulesForGroup succeeded", "groupID", groupID, "count", len(out))
	return out, nil
}

func (s *PostgresStore) ListDueSchedules(now time.Time) ([]models.ScheduleRecord, error) {
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

func (s *PostgresStore) TryAcquireLock(id, token string, until, now time.Time) (bool, error) {
	tx, err := s.db.Begin()
	if err != nil {
		return false, fmt.Errorf("failed to begin lock transaction: %w", err)
	}
	defer tx.Rollback()

	// Row lock keeps the read-modify-write atomic under concurrent claims.
	var payload string
	err = tx.QueryRow(`SELECT payload FROM schedules WHERE id = $1 FOR UPDATE`, id).Scan(&payload)
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
	if _, err := tx.Exec(`UPDATE schedules SET payload = $1, updated_at = $2 WHERE id = $3`,
		string(updated), time.Now().UTC(), id); err != nil {
		return false, fmt.Errorf("failed to write lock for schedule %s: %w", id, err)
	}
	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("failed to commit lock for schedule %s: %w", id, err)
	}
	slog.Debug("PostgresStore.TryAcquireLock acquired", "id", id, "until", until)
	return true, nil
}

func (s *PostgresStore) ReleaseLock(rec models.ScheduleRecord, token string) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin release transaction: %w", err)
	}
	defer tx.Rollback()

	var payload string
	err = tx.QueryRow(`SELECT payload FROM schedules WHERE id = $1 FOR UPDATE`, rec.ID).Scan(&payload)
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
	if _, err := tx.Exec(`UPDATE schedules SET payload = $1, updated_at = $2 WHERE id = $3`,
		string(updated), time.Now().UTC(), rec.ID); err != nil {
		return fmt.Errorf("failed to release schedule %s: %w", rec.ID, err)
	}
	return tx.Commit()
}

func (s *PostgresStore) SetActive(id string, active bool) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin set-active transaction: %w", err)
	}
	defer tx.Rollback()

	var payload string
	err = tx.QueryRow(`SELECT payload FROM schedules WHERE id = $1 FOR UPDATE`, id).Scan(&payload)
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
	if _, err := tx.Exec(`UPDATE schedules SET payload = $1, updated_at = $2 WHERE id = $3`,
		string(updated), time.Now().UTC(), id); err != nil {
		return fmt.Errorf("failed to update schedule %s: %w", id, err)
	}
	return tx.Commit()
}

func (s *PostgresStore) PutPending(session models.WizardSession) error {
	payload, err := encodeSession(session)
	if err != nil {
		return err
	}
	key := pendingKey(session.GroupID, session.CreatorID)
	_, err = s.db.Exec(
		`INSERT INTO wizard_sessions (session_key, payload, updated_at) VALUES ($1, $2, $3)
		 ON CONFLICT (session_key) DO UPDATE SET payload = EXCLUDED.payload, updated_at = EXCLUDED.updated_at`,
		key, string(payload), time.Now().UTC(),
	)
	if err != nil {
		slog.Error("PostgresStore.PutPending failed", "error", err, "key", key)
		return fmt.Errorf("failed to upsert wizard session: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetPending(groupID, creatorID int64) (*models.WizardSession, error) {
	var payload string
	err := s.db.QueryRow(`SELECT payload FROM wizard_sessions WHERE session_key = $1`,
		pendingKey(groupID, creatorID)).Scan(&payload)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		slog.Error("PostgresStore.GetPending failed", "error", err, "groupID", groupID, "creatorID", creatorID)
		return nil, fmt.Errorf("failed to query wizard session: %w", err)
	}
	return decodeSession([]byte(payload)), nil
}

func (s *PostgresStore) DeletePending(groupID, creatorID int64) error {
	_, err := s.db.Exec(`DELETE FROM wizard_sessions WHERE session_key = $1`,
		pendingKey(groupID, creatorID))
	if err != nil {
		slog.Error("PostgresStore.DeletePending failed", "error", err, "groupID", groupID, "creatorID", creatorID)
		return fmt.Errorf("failed to delete wizard session: %w", err)
	}
	return nil
}

// Close closes the Postgres database connection.
func (s *PostgresStore) Close() error {
	slog.Debug("Closing Postgres database connection")
	return s.db.Close()
}
