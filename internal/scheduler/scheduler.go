// Package scheduler provides the cron-based heartbeat for schedengine.
//
// The dispatch tick (and any other periodic task) is registered with a cron
// expression; jobs that overrun their interval are skipped rather than
// stacked.
package scheduler

import (
	"strconv"

	"github.com/robfig/cron/v3"
)

// Scheduler provides cron-based job scheduling.
type Scheduler struct {
	cron *cron.Cron
}

// NewScheduler creates and starts a cron scheduler.
func NewScheduler() *Scheduler {
	// Standard 5-field cron parser (min, hour, dom, month, dow). Recover keeps
	// a panicking tick from killing the process; SkipIfStillRunning keeps a
	// slow tick from overlapping the next one.
	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)
	c := cron.New(
		cron.WithParser(parser),
		cron.WithChain(cron.Recover(cron.DefaultLogger), cron.SkipIfStillRunning(cron.DefaultLogger)),
	)
	c.Start()
	return &Scheduler{cron: c}
}

// AddJob schedules a task using the provided cron expression and returns the
// entry's id. It returns an error if the expression is invalid.
func (s *Scheduler) AddJob(expr string, task func()) (string, error) {
	id, err := s.cron.AddFunc(expr, task)
	if err != nil {
		return "", err
	}
	return strconv.Itoa(int(id)), nil
}

// RemoveJob unregisters an entry by the id AddJob returned. Unknown ids are
// ignored.
func (s *Scheduler) RemoveJob(id string) {
	n, err := strconv.Atoi(id)
	if err != nil {
		return
	}
	s.cron.Remove(cron.EntryID(n))
}

// Stop stops the cron scheduler and waits for running jobs to finish.
func (s *Scheduler) Stop() {
	s.cron.Stop()
}
