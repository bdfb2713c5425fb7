package store

import (
	"sync"
	"time"

	"schedengine/internal/models"
)

// InMemoryStore keeps payloads in process memory. It is used by unit tests
// and by deployments that accept losing schedules on restart.
type InMemoryStore struct {
	mu        sync.Mutex
	schedules map[string][]byte
	pending   map[string][]byte
}

// Compile-time check that InMemoryStore implements Store.
var _ Store = (*InMemoryStore)(nil)

// NewInMemoryStore creates an empty in-memory store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		schedules: make(map[string][]byte),
		pending:   make(map[string][]byte),
	}
}

func (s *InMemoryStore) PutSchedule(rec models.ScheduleRecord) error {
	payload, err := encodeSchedule(rec)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.schedules[rec.ID] = payload
	return nil
}

func (s *InMemoryStore) GetSchedule(id string) (*models.ScheduleRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	payload, ok := s.schedules[id]
	if !ok {
		return nil, nil
	}
	return decodeSchedule(payload), nil
}

func (s *InMemoryStore) DeleteSchedule(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.schedules, id)
	return nil
}

func (s *InMemoryStore) ListSchedules() ([]models.ScheduleRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.ScheduleRecord
	for _, payload := range s.schedules {
		if rec := decodeSchedule(payload); rec != nil {
			out = append(out, *rec)
		}
	}
	return out, nil
}

func (s *InMemoryStore) ListSchedulesForGroup(groupID int64) ([]models.ScheduleRecord, error) {
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
	return out, nil
}

func (s *InMemoryStore) ListDueSchedules(now time.Time) ([]models.ScheduleRecord, error) {
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

func (s *InMemoryStore) TryAcquireLock(id, token string, until, now time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	payload, ok := s.schedules[id]
	if !ok {
		return false, nil
	}
	rec := decodeSchedule(payload)
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
	s.schedules[id] = updated
	return true, nil
}

func (s *InMemoryStore) ReleaseLock(rec models.ScheduleRecord, token string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	payload, ok := s.schedules[rec.ID]
	if !ok {
		return models.ErrScheduleNotFound
	}
	cur := decodeSchedule(payload)
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
	s.schedules[rec.ID] = updated
	return nil
}

func (s *InMemoryStore) SetActive(id string, active bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	payload, ok := s.schedules[id]
	if !ok {
		return models.ErrScheduleNotFound
	}
	rec := decodeSchedule(payload)
	if rec == nil {
		return models.ErrScheduleNotFound
	}
	rec.Active = active
	updated, err := encodeSchedule(*rec)
	if err != nil {
		return err
	}
	s.schedules[id] = updated
	return nil
}

func (s *InMemoryStore) PutPending(session models.WizardSession) error {
	payload, err := encodeSession(session)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pending[pendingKey(session.GroupID, session.CreatorID)] = payload
	return nil
}

func (s *InMemoryStore) GetPending(groupID, creatorID int64) (*models.WizardSession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	payload, ok := s.pending[pendingKey(groupID, creatorID)]
	if !ok {
		return nil, nil
	}
	return decodeSession(payload), nil
}

func (s *InMemoryStore) DeletePending(groupID, creatorID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.pending, pendingKey(groupID, creatorID))
	return nil
}

func (s *InMemoryStore) Close() error {
	return nil
}
