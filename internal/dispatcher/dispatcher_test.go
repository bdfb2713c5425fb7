package dispatcher

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"schedengine/internal/models"
	"schedengine/internal/store"
)

type countingExecutor struct {
	mu       sync.Mutex
	requests []models.ExecuteRequest
	errs     map[uint64]error // by run count, nil means success
	delay    time.Duration
}

func (e *countingExecutor) Execute(_ context.Context, req models.ExecuteRequest) error {
	if e.delay > 0 {
		time.Sleep(e.delay)
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.requests = append(e.requests, req)
	if e.errs != nil {
		return e.errs[req.RunCount]
	}
	return nil
}

func (e *countingExecutor) calls() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.requests)
}

type recordingNotifier struct {
	mu     sync.Mutex
	events []models.NotificationEvent
}

func (n *recordingNotifier) Notify(_ context.Context, event models.NotificationEvent) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, event)
	return nil
}

func dueRecord(id string, repeat models.RepeatPolicy, nextRun time.Time) models.ScheduleRecord {
	return models.ScheduleRecord{
		ID:        id,
		GroupID:   100,
		CreatorID: 42,
		Action: models.Action{
			Kind:   models.ActionKindPrompt,
			Prompt: &models.PromptAction{Text: "check in"},
		},
		Repeat:          repeat,
		Active:          true,
		CreatedAt:       nextRun.Add(-time.Hour),
		NextRunAt:       &nextRun,
		NotifyOnFailure: true,
	}
}

func TestTickRunsDueRecordOnce(t *testing.T) {
	st := store.NewInMemoryStore()
	exec := &countingExecutor{}
	d := New(st, exec, nil, Config{})

	now := time.Date(2025, time.June, 15, 9, 0, 0, 0, time.UTC)
	if err := st.PutSchedule(dueRecord("sched_1", models.RepeatDaily, now)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if err := d.Tick(context.Background(), now); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if exec.calls() != 1 {
		t.Fatalf("expected exactly one execution, got %d", exec.calls())
	}

	rec, _ := st.GetSchedule("sched_1")
	if rec.RunCount != 1 {
		t.Errorf("run count should be 1, got %d", rec.RunCount)
	}
	if rec.LastRunAt == nil || !rec.LastRunAt.Equal(now) {
		t.Errorf("last run should be stamped, got %v", rec.LastRunAt)
	}
	if rec.LastAttemptStatus != models.AttemptStatusSuccess {
		t.Errorf("expected success status, got %v", rec.LastAttemptStatus)
	}
	want := now.Add(24 * time.Hour)
	if rec.NextRunAt == nil || !rec.NextRunAt.Equal(want) {
		t.Errorf("expected next run %v, got %v", want, rec.NextRunAt)
	}
	if rec.LockedUntil != nil || rec.LockToken != "" {
		t.Errorf("fence should be cleared after dispatch: %+v", rec)
	}

	// A second tick at the same instant finds nothing due.
	if err := d.Tick(context.Background(), now); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if exec.calls() != 1 {
		t.Errorf("re-tick at the same instant must not re-fire, got %d calls", exec.calls())
	}
}

func TestRunCountMatchesOccurrencesUnderMixedOutcomes(t *testing.T) {
	st := store.NewInMemoryStore()
	exec := &countingExecutor{errs: map[uint64]error{1: errors.New("downstream unavailable")}}
	d := New(st, exec, nil, Config{})

	now := time.Date(2025, time.June, 15, 9, 0, 0, 0, time.UTC)
	if err := st.PutSchedule(dueRecord("sched_1", models.RepeatEvery1h, now)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	const ticks = 5
	for i := 0; i < ticks; i++ {
		at := now.Add(time.Duration(i) * time.Hour)
		if err := d.Tick(context.Background(), at); err != nil {
			t.Fatalf("tick %d: unexpected error: %v", i, err)
		}
	}

	rec, _ := st.GetSchedule("sched_1")
	if rec.RunCount != ticks {
		t.Errorf("every occurrence consumes exactly one run, want %d got %d", ticks, rec.RunCount)
	}
	if exec.calls() != ticks {
		t.Errorf("expected %d executions, got %d", ticks, exec.calls())
	}
	// A failed attempt still advances the occurrence.
	if !rec.Active || rec.NextRunAt == nil {
		t.Errorf("repeating record should stay active: %+v", rec)
	}
}

func TestConcurrentTicksFireExactlyOnce(t *testing.T) {
	st := store.NewInMemoryStore()
	exec := &countingExecutor{delay: 20 * time.Millisecond}
	d := New(st, exec, nil, Config{})

	now := time.Date(2025, time.June, 15, 9, 0, 0, 0, time.UTC)
	if err := st.PutSchedule(dueRecord("sched_1", models.RepeatDaily, now)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			d.Tick(context.Background(), now)
		}()
	}
	wg.Wait()

	if exec.calls() != 1 {
		t.Errorf("concurrent dispatch attempts must fire exactly once, got %d", exec.calls())
	}
	rec, _ := st.GetSchedule("sched_1")
	if rec.RunCount != 1 {
		t.Errorf("run count should be 1, got %d", rec.RunCount)
	}
}

func TestStaleDueScanCannotRefire(t *testing.T) {
	st := store.NewInMemoryStore()
	exec := &countingExecutor{}
	d := New(st, exec, nil, Config{})

	now := time.Date(2025, time.June, 15, 9, 0, 0, 0, time.UTC)
	stale := dueRecord("sched_1", models.RepeatDaily, now)
	if err := st.PutSchedule(stale); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// First tick dispatches the occurrence and advances next_run_at.
	if err := d.Tick(context.Background(), now); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// A claim goroutine scheduled late, still holding the due-scan copy from
	// before the dispatch, must fail its claim rather than fire again.
	d.runOne(context.Background(), stale, now)

	if exec.calls() != 1 {
		t.Fatalf("occurrence fired %d times; want exactly once", exec.calls())
	}
	rec, _ := st.GetSchedule("sched_1")
	if rec.RunCount != 1 {
		t.Errorf("run count should be 1, got %d", rec.RunCount)
	}
}

func TestOneShotRetiresAfterFiring(t *testing.T) {
	st := store.NewInMemoryStore()
	exec := &countingExecutor{}
	d := New(st, exec, nil, Config{})

	now := time.Date(2025, time.June, 15, 9, 0, 0, 0, time.UTC)
	if err := st.PutSchedule(dueRecord("sched_1", models.RepeatNone, now)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if err := d.Tick(context.Background(), now); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	rec, _ := st.GetSchedule("sched_1")
	if rec.Active {
		t.Error("one-shot should be inactive after firing")
	}
	if rec.NextRunAt != nil {
		t.Errorf("retired record should have no next run, got %v", rec.NextRunAt)
	}
	if rec.RunCount != 1 {
		t.Errorf("run count should be 1, got %d", rec.RunCount)
	}

	// Retired records never fire again.
	if err := d.Tick(context.Background(), now.Add(time.Hour)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if exec.calls() != 1 {
		t.Errorf("retired record fired again, %d calls", exec.calls())
	}
}

func TestFailureNotification(t *testing.T) {
	st := store.NewInMemoryStore()
	exec := &countingExecutor{errs: map[uint64]error{0: errors.New("payment rejected")}}
	notifier := &recordingNotifier{}
	d := New(st, exec, notifier, Config{})

	now := time.Date(2025, time.June, 15, 9, 0, 0, 0, time.UTC)
	rec := dueRecord("sched_1", models.RepeatDaily, now)
	rec.NotifyOnSuccess = true
	if err := st.PutSchedule(rec); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if err := d.Tick(context.Background(), now); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(notifier.events) != 1 {
		t.Fatalf("expected one notification, got %d", len(notifier.events))
	}
	event := notifier.events[0]
	if event.Outcome != models.AttemptStatusFailure || event.Detail != "payment rejected" {
		t.Errorf("wrong failure event: %+v", event)
	}

	// Next occurrence succeeds and notifies on success.
	if err := d.Tick(context.Background(), now.Add(24*time.Hour)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(notifier.events) != 2 {
		t.Fatalf("expected two notifications, got %d", len(notifier.events))
	}
	if notifier.events[1].Outcome != models.AttemptStatusSuccess {
		t.Errorf("wrong success event: %+v", notifier.events[1])
	}
}

func TestNoNotificationWhenFlagsUnset(t *testing.T) {
	st := store.NewInMemoryStore()
	exec := &countingExecutor{}
	notifier := &recordingNotifier{}
	d := New(st, exec, notifier, Config{})

	now := time.Date(2025, time.June, 15, 9, 0, 0, 0, time.UTC)
	rec := dueRecord("sched_1", models.RepeatDaily, now)
	rec.NotifyOnSuccess = false
	rec.NotifyOnFailure = false
	if err := st.PutSchedule(rec); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if err := d.Tick(context.Background(), now); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(notifier.events) != 0 {
		t.Errorf("expected no notifications, got %+v", notifier.events)
	}
}

func TestPauseDuringExecutionIsRespected(t *testing.T) {
	st := store.NewInMemoryStore()

	// Pause the record while the executor is running.
	exec := &pausingExecutor{st: st}
	d := New(st, exec, nil, Config{})

	now := time.Date(2025, time.June, 15, 9, 0, 0, 0, time.UTC)
	if err := st.PutSchedule(dueRecord("sched_1", models.RepeatDaily, now)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if err := d.Tick(context.Background(), now); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	rec, _ := st.GetSchedule("sched_1")
	if rec.Active {
		t.Error("mid-flight pause must not be overwritten by bookkeeping")
	}
	if rec.RunCount != 1 {
		t.Errorf("the in-flight occurrence still counts, got %d", rec.RunCount)
	}
}

type pausingExecutor struct {
	st store.Store
}

func (e *pausingExecutor) Execute(_ context.Context, req models.ExecuteRequest) error {
	return e.st.SetActive(req.RecordID, false)
}

func TestExecutionRateLimitSpacesCalls(t *testing.T) {
	st := store.NewInMemoryStore()
	exec := &countingExecutor{}
	d := New(st, exec, nil, Config{ExecutionsPerSecond: 50})

	now := time.Date(2025, time.June, 15, 9, 0, 0, 0, time.UTC)
	for _, id := range []string{"sched_1", "sched_2", "sched_3"} {
		if err := st.PutSchedule(dueRecord(id, models.RepeatDaily, now)); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}

	start := time.Now()
	if err := d.Tick(context.Background(), now); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	elapsed := time.Since(start)

	if exec.calls() != 3 {
		t.Fatalf("expected 3 executions, got %d", exec.calls())
	}
	// At 50/s with burst 1, the second and third calls each wait 20ms.
	if elapsed < 40*time.Millisecond {
		t.Errorf("executions were not throttled, tick took %v", elapsed)
	}
}
