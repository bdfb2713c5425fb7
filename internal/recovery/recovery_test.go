package recovery

import (
	"testing"
	"time"

	"schedengine/internal/models"
	"schedengine/internal/store"
)

func seedRecord(id string, repeat models.RepeatPolicy) models.ScheduleRecord {
	return models.ScheduleRecord{
		ID:        id,
		GroupID:   100,
		CreatorID: 42,
		Action: models.Action{
			Kind:   models.ActionKindPrompt,
			Prompt: &models.PromptAction{Text: "check in"},
		},
		StartHourUTC: 9,
		Repeat:       repeat,
		Active:       true,
		CreatedAt:    time.Date(2025, time.June, 1, 0, 0, 0, 0, time.UTC),
	}
}

func TestRunClearsStaleLocks(t *testing.T) {
	st := store.NewInMemoryStore()
	now := time.Date(2025, time.June, 15, 8, 0, 0, 0, time.UTC)

	rec := seedRecord("sched_1", models.RepeatDaily)
	next := now.Add(time.Hour)
	rec.NextRunAt = &next
	lockedUntil := now.Add(time.Minute)
	rec.LockedUntil = &lockedUntil
	rec.LockToken = "tok-from-dead-process"
	if err := st.PutSchedule(rec); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	res, err := Run(st, now, "job-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Scanned != 1 || res.LocksCleared != 1 {
		t.Errorf("expected one scanned and one lock cleared, got %+v", res)
	}

	got, _ := st.GetSchedule("sched_1")
	if got.LockedUntil != nil || got.LockToken != "" {
		t.Errorf("stale fence should be cleared: %+v", got)
	}
	if got.SchedulerJobID != "job-1" {
		t.Errorf("active record should be stamped with the dispatch job, got %q", got.SchedulerJobID)
	}
}

func TestRunRecomputesMissingNextRun(t *testing.T) {
	st := store.NewInMemoryStore()
	now := time.Date(2025, time.June, 15, 8, 0, 0, 0, time.UTC)

	// Active repeating record without a next occurrence.
	if err := st.PutSchedule(seedRecord("sched_1", models.RepeatDaily)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	res, err := Run(st, now, "job-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Rescheduled != 1 {
		t.Errorf("expected one reschedule, got %+v", res)
	}

	got, _ := st.GetSchedule("sched_1")
	want := time.Date(2025, time.June, 15, 9, 0, 0, 0, time.UTC)
	if got.NextRunAt == nil || !got.NextRunAt.Equal(want) {
		t.Errorf("expected next run %v, got %v", want, got.NextRunAt)
	}
}

func TestRunRecomputesPaymentFromStartAnchor(t *testing.T) {
	st := store.NewInMemoryStore()
	now := time.Date(2025, time.June, 15, 8, 0, 0, 0, time.UTC)

	rec := seedRecord("sched_pay", models.RepeatWeekly)
	rec.Action = models.Action{
		Kind: models.ActionKindPayment,
		Payment: &models.PaymentAction{
			RecipientUsername:   "bob",
			TokenSymbol:         "USDC",
			Decimals:            6,
			AmountSmallestUnits: 1000000,
		},
	}
	rec.WeeklyWeeks = 1
	start := time.Date(2025, time.June, 1, 10, 0, 0, 0, time.UTC)
	rec.StartAtUTC = &start
	if err := st.PutSchedule(rec); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if _, err := Run(st, now, "job-1"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	got, _ := st.GetSchedule("sched_pay")
	// Weekly from June 1 10:00: the first slot at or after June 15 08:00 is
	// June 15 10:00.
	want := time.Date(2025, time.June, 15, 10, 0, 0, 0, time.UTC)
	if got.NextRunAt == nil || !got.NextRunAt.Equal(want) {
		t.Errorf("expected next run %v, got %v", want, got.NextRunAt)
	}
}

func TestRunLeavesRetiredRecordsAlone(t *testing.T) {
	st := store.NewInMemoryStore()
	now := time.Date(2025, time.June, 15, 8, 0, 0, 0, time.UTC)

	// A fired one-shot: inactive, no next run.
	rec := seedRecord("sched_done", models.RepeatNone)
	rec.Active = false
	rec.RunCount = 1
	if err := st.PutSchedule(rec); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	res, err := Run(st, now, "job-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Rescheduled != 0 {
		t.Errorf("retired records must not be rescheduled, got %+v", res)
	}
	got, _ := st.GetSchedule("sched_done")
	if got.NextRunAt != nil || got.Active {
		t.Errorf("retired record should stay retired: %+v", got)
	}
	if got.SchedulerJobID != "" {
		t.Errorf("inactive records should not be stamped, got %q", got.SchedulerJobID)
	}
}
