// Package store provides persistence for schedule records and in-flight
// wizard sessions.
//
// Records live in two logical namespaces: schedules (keyed by record id) and
// wizard sessions (keyed by a fixed-width (group_id, creator_id) composite
// key). Values are JSON payloads; a payload that no longer deserializes is
// treated as absent by read paths rather than failing the caller.
package store

import (
	"errors"
	"fmt"
	"time"

	"schedengine/internal/models"
)

// ErrLockLost is returned by ReleaseLock when the record's lock fence is no
// longer held by the given token (another claim took over after expiry).
var ErrLockLost = errors.New("schedule lock lost")

// Store is the persistence API used by the wizard, dispatcher and recovery.
type Store interface {
	// PutSchedule upserts a schedule record. Fails only on serialization or
	// storage I/O errors.
	PutSchedule(rec models.ScheduleRecord) error
	// GetSchedule returns nil for a missing or unreadable record.
	GetSchedule(id string) (*models.ScheduleRecord, error)
	// DeleteSchedule removes a record. Deleting a missing record is not an
	// error.
	DeleteSchedule(id string) error
	// ListSchedules returns every readable record, active or not.
	ListSchedules() ([]models.ScheduleRecord, error)
	// ListSchedulesForGroup returns the group's active records.
	ListSchedulesForGroup(groupID int64) ([]models.ScheduleRecord, error)
	// ListDueSchedules returns records eligible for dispatch at now.
	ListDueSchedules(now time.Time) ([]models.ScheduleRecord, error)

	// TryAcquireLock attempts to claim the record's lock fence with a
	// single-key read-modify-write: it succeeds only when the record is
	// still due at now (active, reached next_run_at, fence absent or
	// expired). The dueness re-check makes stale due-scan results safe to
	// claim from. Returns false on contention, which is expected and not an
	// error.
	TryAcquireLock(id, token string, until, now time.Time) (bool, error)
	// ReleaseLock persists rec (with the fence cleared by the caller) only
	// if the stored record's lock token still matches token. Returns
	// ErrLockLost otherwise, or models.ErrScheduleNotFound if the record
	// vanished.
	ReleaseLock(rec models.ScheduleRecord, token string) error
	// SetActive flips the record's active flag (pause/resume/cancel).
	SetActive(id string, active bool) error

	// PutPending upserts the wizard session for its (group, creator) key,
	// unconditionally overwriting any prior session.
	PutPending(session models.WizardSession) error
	// GetPending returns nil for a missing or unreadable session.
	GetPending(groupID, creatorID int64) (*models.WizardSession, error)
	// DeletePending removes a wizard session. Idempotent.
	DeletePending(groupID, creatorID int64) error

	Close() error
}

// pendingKey builds the composite wizard-session key. Fixed-width decimal
// rendering of both ids keeps the key space stable and collision-free.
func pendingKey(groupID, creatorID int64) string {
	return fmt.Sprintf("%020d:%020d", groupID, creatorID)
}
