package scheduler

import "testing"

func TestSchedulerAddJob(t *testing.T) {
	s := NewScheduler()
	defer s.Stop()

	id, err := s.AddJob("* * * * *", func() {})
	if err != nil {
		t.Errorf("Expected no error adding job, got %v", err)
	}
	if id == "" {
		t.Error("Expected a non-empty entry id")
	}

	// Removing by the returned id must not panic; neither must unknown ids.
	s.RemoveJob(id)
	s.RemoveJob("not-a-number")
}

func TestSchedulerRejectsInvalidExpression(t *testing.T) {
	s := NewScheduler()
	defer s.Stop()

	if _, err := s.AddJob("not a cron expr", func() {}); err == nil {
		t.Error("Expected error for invalid cron expression")
	}
}
