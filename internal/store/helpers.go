package store

import (
	"encoding/json"
	"fmt"
	"log/slog"

	"schedengine/internal/models"
)

// encodeSchedule serializes a record payload. Serialization failures are
// surfaced to the caller, never swallowed.
func encodeSchedule(rec models.ScheduleRecord) ([]byte, error) {
	b, err := json.Marshal(rec)
	if err != nil {
		return nil, fmt.Errorf("failed to serialize schedule %s: %w", rec.ID, err)
	}
	return b, nil
}

// decodeSchedule deserializes a record payload. An unreadable payload is
// logged and reported as absent (nil) so one bad record never blocks the
// caller.
func decodeSchedule(payload []byte) *models.ScheduleRecord {
	var rec models.ScheduleRecord
	if err := json.Unmarshal(payload, &rec); err != nil {
		slog.Warn("store: unreadable schedule payload, treating as absent", "error", err)
		return nil
	}
	if rec.ID == "" {
		slog.Warn("store: schedule payload missing id, treating as absent")
		return nil
	}
	return &rec
}

func encodeSession(session models.WizardSession) ([]byte, error) {
	b, err := json.Marshal(session)
	if err != nil {
		return nil, fmt.Errorf("failed to serialize wizard session: %w", err)
	}
	return b, nil
}

func decodeSession(payload []byte) *models.WizardSession {
	var session models.WizardSession
	if err := json.Unmarshal(payload, &session); err != nil {
		slog.Warn("store: unreadable wizard session payload, treating as absent", "error", err)
		return nil
	}
	if session.Step == "" {
		slog.Warn("store: wizard session payload missing step, treating as absent")
		return nil
	}
	return &session
}
