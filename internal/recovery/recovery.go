// Package recovery restores scheduler state after an application restart.
//
// The boot pass walks every persisted schedule and repairs what a crash can
// leave behind: lock fences held by the dead process, and records missing
// their next occurrence. It also stamps each active record with the live
// dispatch job so the management surface can report what drives it.
package recovery

import (
	"log/slog"
	"time"

	"schedengine/internal/models"
	"schedengine/internal/recurrence"
	"schedengine/internal/store"
)

// Result summarizes one recovery pass.
type Result struct {
	// Scanned is the number of readable records visited.
	Scanned int
	// LocksCleared counts fences released because no process can still hold
	// them after a restart.
	LocksCleared int
	// Rescheduled counts active records whose next occurrence was recomputed.
	Rescheduled int
}

// Run performs the boot recovery pass at the given instant, stamping active
// records with jobID as the driving dispatch job.
func Run(st store.Store, now time.Time, jobID string) (Result, error) {
	var res Result

	records, err := st.ListSchedules()
	if err != nil {
		slog.Error("recovery.Run: failed to list schedules", "error", err)
		return res, err
	}
	res.Scanned = len(records)

	for _, rec := range records {
		changed := false

		// A single engine process owns every claim, so any fence found at
		// boot belongs to a run that did not survive the restart.
		if rec.LockedUntil != nil || rec.LockToken != "" {
			rec.LockedUntil = nil
			rec.LockToken = ""
			res.LocksCleared++
			changed = true
			slog.Info("recovery.Run: cleared stale lock", "id", rec.ID)
		}

		if rec.Active && rec.NextRunAt == nil && rec.Repeat != models.RepeatNone {
			next := nextOccurrence(rec, now)
			rec.NextRunAt = &next
			res.Rescheduled++
			changed = true
			slog.Info("recovery.Run: recomputed next occurrence", "id", rec.ID, "next_run_at", next)
		}

		if rec.Active && rec.SchedulerJobID != jobID {
			rec.SchedulerJobID = jobID
			changed = true
		}

		if changed {
			if err := st.PutSchedule(rec); err != nil {
				slog.Error("recovery.Run: failed to persist repaired record", "error", err, "id", rec.ID)
				return res, err
			}
		}
	}

	slog.Info("recovery.Run: completed",
		"scanned", res.Scanned, "locksCleared", res.LocksCleared, "rescheduled", res.Rescheduled)
	return res, nil
}

// nextOccurrence recomputes a record's first pending run from its anchors.
func nextOccurrence(rec models.ScheduleRecord, now time.Time) time.Time {
	if rec.StartAtUTC != nil {
		return recurrence.FirstPaymentRun(rec.Repeat, rec.WeeklyWeeks, *rec.StartAtUTC, now)
	}
	return recurrence.FirstPromptRun(rec.Repeat, rec.StartHourUTC, rec.StartMinuteUTC, now)
}
