// Package dispatcher drives due schedules to execution.
//
// Each tick scans the store for due records, claims every one behind its
// per-record lock fence, invokes the executor exactly once for the claimed
// occurrence, and writes back the run bookkeeping plus the next occurrence.
// Contention on a claim is routine (another dispatcher, or an earlier tick
// still running) and is skipped silently.
package dispatcher

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"schedengine/internal/models"
	"schedengine/internal/recurrence"
	"schedengine/internal/store"
)

// DefaultLockTTL bounds how long a crashed dispatch can hold a claim before
// it becomes reclaimable.
const DefaultLockTTL = 2 * time.Minute

// Executor performs the external side effect for one due occurrence.
type Executor interface {
	Execute(ctx context.Context, req models.ExecuteRequest) error
}

// Notifier delivers outcome notifications for records that asked for them.
type Notifier interface {
	Notify(ctx context.Context, event models.NotificationEvent) error
}

// Config controls dispatcher behavior.
type Config struct {
	// LockTTL is the claim fence duration. Defaults to DefaultLockTTL.
	LockTTL time.Duration
	// ExecutionsPerSecond throttles executor calls across a tick. Zero means
	// no throttling.
	ExecutionsPerSecond float64
}

// Dispatcher owns the per-tick dispatch cycle.
type Dispatcher struct {
	store    store.Store
	executor Executor
	notifier Notifier
	lockTTL  time.Duration
	limiter  *rate.Limiter
}

// New creates a dispatcher over the given store and collaborators.
func New(st store.Store, exec Executor, notifier Notifier, cfg Config) *Dispatcher {
	ttl := cfg.LockTTL
	if ttl <= 0 {
		ttl = DefaultLockTTL
	}
	var limiter *rate.Limiter
	if cfg.ExecutionsPerSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.ExecutionsPerSecond), 1)
	}
	return &Dispatcher{
		store:    st,
		executor: exec,
		notifier: notifier,
		lockTTL:  ttl,
		limiter:  limiter,
	}
}

// Tick runs one dispatch cycle at the given instant and blocks until every
// claimed record has been processed.
func (d *Dispatcher) Tick(ctx context.Context, now time.Time) error {
	due, err := d.store.ListDueSchedules(now)
	if err != nil {
		slog.Error("Dispatcher.Tick: due scan failed", "error", err)
		return err
	}
	if len(due) == 0 {
		return nil
	}
	slog.Debug("Dispatcher.Tick: due records found", "count", len(due))

	var wg sync.WaitGroup
	for _, rec := range due {
		wg.Add(1)
		go func(rec models.ScheduleRecord) {
			defer wg.Done()
			d.runOne(ctx, rec, now)
		}(rec)
	}
	wg.Wait()
	return nil
}

// runOne claims and executes a single due record. Every early return leaves
// the record untouched for a later tick.
func (d *Dispatcher) runOne(ctx context.Context, rec models.ScheduleRecord, now time.Time) {
	token := uuid.NewString()
	until := now.Add(d.lockTTL)

	ok, err := d.store.TryAcquireLock(rec.ID, token, until, now)
	if err != nil {
		slog.Error("Dispatcher.runOne: lock acquisition failed", "error", err, "id", rec.ID)
		return
	}
	if !ok {
		slog.Debug("Dispatcher.runOne: claim contention, skipping", "id", rec.ID)
		return
	}

	if d.limiter != nil {
		if err := d.limiter.Wait(ctx); err != nil {
			slog.Warn("Dispatcher.runOne: throttle wait aborted", "error", err, "id", rec.ID)
			return
		}
	}

	execErr := d.executor.Execute(ctx, models.ExecuteRequest{
		RecordID: rec.ID,
		RunCount: rec.RunCount,
		Action:   rec.Action,
	})

	// Re-read before writing bookkeeping so a pause or cancel that landed
	// mid-flight is respected.
	cur, err := d.store.GetSchedule(rec.ID)
	if err != nil {
		slog.Error("Dispatcher.runOne: post-execution read failed", "error", err, "id", rec.ID)
		return
	}
	if cur == nil {
		slog.Warn("Dispatcher.runOne: record vanished during execution", "id", rec.ID)
		return
	}

	cur.RunCount++
	ranAt := now
	cur.LastRunAt = &ranAt
	if execErr != nil {
		cur.LastAttemptStatus = models.AttemptStatusFailure
		cur.LastError = execErr.Error()
		slog.Error("Dispatcher.runOne: execution failed", "error", execErr, "id", rec.ID, "runCount", cur.RunCount)
	} else {
		cur.LastAttemptStatus = models.AttemptStatusSuccess
		cur.LastError = ""
		slog.Info("Dispatcher.runOne: execution succeeded", "id", rec.ID, "runCount", cur.RunCount)
	}

	// Advance to the next occurrence. A failed attempt still consumes its
	// occurrence; retrying would double-fire the action.
	if next, ok := recurrence.Next(cur.Repeat, cur.WeeklyWeeks, now); ok {
		cur.NextRunAt = &next
	} else {
		cur.NextRunAt = nil
		cur.Active = false
		slog.Info("Dispatcher.runOne: one-shot retired", "id", rec.ID)
	}

	cur.LockedUntil = nil
	cur.LockToken = ""
	if err := d.store.ReleaseLock(*cur, token); err != nil {
		if errors.Is(err, store.ErrLockLost) {
			// Our fence expired mid-execution and another claim took over.
			// Its bookkeeping wins; ours is dropped.
			slog.Warn("Dispatcher.runOne: lock lost during execution, dropping bookkeeping", "id", rec.ID)
			return
		}
		slog.Error("Dispatcher.runOne: release failed", "error", err, "id", rec.ID)
		return
	}

	d.notify(ctx, cur, execErr)
}

// notify emits the outcome event when the record's matching flag is set.
// Notification failures are logged, never propagated.
func (d *Dispatcher) notify(ctx context.Context, rec *models.ScheduleRecord, execErr error) {
	if d.notifier == nil {
		return
	}
	event := models.NotificationEvent{RecordID: rec.ID, Outcome: rec.LastAttemptStatus}
	switch {
	case execErr == nil && rec.NotifyOnSuccess:
		event.Detail = string(rec.Action.Kind) + " completed"
	case execErr != nil && rec.NotifyOnFailure:
		event.Detail = execErr.Error()
	default:
		return
	}
	if err := d.notifier.Notify(ctx, event); err != nil {
		slog.Warn("Dispatcher.notify: notification failed", "error", err, "id", rec.ID)
	}
}
