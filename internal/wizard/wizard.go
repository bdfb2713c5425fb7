// Package wizard implements the step-by-step capture of a new schedule.
//
// The wizard is a linear state machine: each step accepts exactly one
// already-parsed input value, advances, and persists the session. Invalid
// input leaves the session unchanged and surfaces an error for the caller
// to re-prompt. Confirming the final step is the only transition that
// produces a schedule record.
package wizard

import (
	"fmt"
	"log/slog"
	"math"
	"time"

	"schedengine/internal/models"
	"schedengine/internal/recurrence"
	"schedengine/internal/store"
	"schedengine/internal/util"
)

// DateLayout is the expected format for payment start dates (UTC).
const DateLayout = "2006-01-02"

// Input is one already-parsed value supplied to the current wizard step.
type Input interface {
	isInput()
}

// TextInput carries the prompt text.
type TextInput struct{ Text string }

// RecipientInput carries the resolved payment recipient.
type RecipientInput struct{ Username, Address string }

// TokenInput carries the resolved token metadata.
type TokenInput struct {
	Symbol    string
	TokenType string
	Decimals  uint8
}

// AmountInput carries the display-unit payment amount.
type AmountInput struct{ Amount float64 }

// DateInput carries the start date in YYYY-MM-DD form.
type DateInput struct{ Date string }

// HourInput carries the start hour (0-23, UTC).
type HourInput struct{ Hour int }

// MinuteInput carries the start minute (multiples of 5, UTC).
type MinuteInput struct{ Minute int }

// RepeatInput carries the chosen cadence; Weeks applies only to weekly
// payment cadences.
type RepeatInput struct {
	Policy models.RepeatPolicy
	Weeks  int
}

// ConfirmInput carries the final confirmation decision.
type ConfirmInput struct{ Accept bool }

func (TextInput) isInput()      {}
func (RecipientInput) isInput() {}
func (TokenInput) isInput()     {}
func (AmountInput) isInput()    {}
func (DateInput) isInput()      {}
func (HourInput) isInput()      {}
func (MinuteInput) isInput()    {}
func (RepeatInput) isInput()    {}
func (ConfirmInput) isInput()   {}

// Result reports the outcome of a wizard step.
type Result struct {
	// Prompt is the instruction for the transport to present next. Nil once
	// the wizard is finished.
	Prompt *models.StepPrompt
	// Done is set when the session ended (confirmed or declined).
	Done bool
	// RecordID is the created schedule's id when Done and confirmed.
	RecordID string
}

// Manager drives wizard sessions against the store.
type Manager struct {
	store store.Store
	// now is swappable for tests.
	now func() time.Time
}

// NewManager creates a wizard manager backed by the given store.
func NewManager(st store.Store) *Manager {
	return &Manager{store: st, now: func() time.Time { return time.Now().UTC() }}
}

// firstStep returns the entry step for an action kind.
func firstStep(kind models.ActionKind) models.WizardStep {
	if kind == models.ActionKindPayment {
		return models.StepAwaitingRecipient
	}
	return models.StepAwaitingPrompt
}

// nextStep returns the step following cur for the given kind. The second
// return is false past the end of the flow.
func nextStep(kind models.ActionKind, cur models.WizardStep) (models.WizardStep, bool) {
	var steps []models.WizardStep
	if kind == models.ActionKindPayment {
		steps = []models.WizardStep{
			models.StepAwaitingRecipient, models.StepAwaitingToken,
			models.StepAwaitingAmount, models.StepAwaitingDate,
			models.StepAwaitingHour, models.StepAwaitingMinute,
			models.StepAwaitingRepeat, models.StepAwaitingConfirm,
		}
	} else {
		steps = []models.WizardStep{
			models.StepAwaitingPrompt, models.StepAwaitingHour,
			models.StepAwaitingMinute, models.StepAwaitingRepeat,
			models.StepAwaitingConfirm,
		}
	}
	for i, s := range steps {
		if s == cur && i+1 < len(steps) {
			return steps[i+1], true
		}
	}
	return "", false
}

// Begin opens a fresh wizard session, unconditionally overwriting any prior
// in-flight session for the same (group, creator) key.
func (m *Manager) Begin(kind models.ActionKind, groupID, creatorID int64, creatorName, threadRef string) (*models.StepPrompt, error) {
	if !models.IsValidActionKind(kind) {
		return nil, models.ErrInvalidActionKind
	}
	now := m.now()
	session := models.WizardSession{
		GroupID:     groupID,
		CreatorID:   creatorID,
		CreatorName: creatorName,
		Kind:        kind,
		Step:        firstStep(kind),
		ThreadRef:   threadRef,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := m.store.PutPending(session); err != nil {
		slog.Error("Manager.Begin: failed to persist session", "error", err, "groupID", groupID, "creatorID", creatorID)
		return nil, err
	}
	slog.Debug("Manager.Begin: session opened", "kind", kind, "groupID", groupID, "creatorID", creatorID)
	return stepPrompt(&session), nil
}

// Cancel deletes the in-flight session without creating a record. Idempotent.
func (m *Manager) Cancel(groupID, creatorID int64) error {
	if err := m.store.DeletePending(groupID, creatorID); err != nil {
		slog.Error("Manager.Cancel failed", "error", err, "groupID", groupID, "creatorID", creatorID)
		return err
	}
	slog.Debug("Manager.Cancel: session deleted", "groupID", groupID, "creatorID", creatorID)
	return nil
}

// Input applies one value to the session's current step. On invalid input
// the session is left unchanged and the error is returned for re-prompting.
func (m *Manager) Input(groupID, creatorID int64, in Input) (*Result, error) {
	session, err := m.store.GetPending(groupID, creatorID)
	if err != nil {
		return nil, err
	}
	if session == nil {
		return nil, models.ErrNoWizardSession
	}

	if session.Step == models.StepAwaitingConfirm {
		return m.confirm(session, in)
	}

	if err := applyInput(session, in, m.now()); err != nil {
		slog.Debug("Manager.Input: rejected", "error", err, "step", session.Step, "groupID", groupID, "creatorID", creatorID)
		return nil, err
	}

	next, ok := nextStep(session.Kind, session.Step)
	if !ok {
		return nil, fmt.Errorf("no transition from step %s", session.Step)
	}
	session.Step = next
	session.UpdatedAt = m.now()
	if err := m.store.PutPending(*session); err != nil {
		slog.Error("Manager.Input: failed to persist session", "error", err, "groupID", groupID, "creatorID", creatorID)
		return nil, err
	}
	slog.Debug("Manager.Input: advanced", "step", session.Step, "groupID", groupID, "creatorID", creatorID)
	return &Result{Prompt: stepPrompt(session)}, nil
}

// applyInput validates in against the session's current step and records it.
func applyInput(session *models.WizardSession, in Input, now time.Time) error {
	switch session.Step {
	case models.StepAwaitingPrompt:
		v, ok := in.(TextInput)
		if !ok {
			return models.ErrUnexpectedInput
		}
		if v.Text == "" {
			return models.ErrEmptyPrompt
		}
		if len(v.Text) > models.MaxPromptLength {
			return models.ErrPromptTooLong
		}
		session.Prompt = &v.Text

	case models.StepAwaitingRecipient:
		v, ok := in.(RecipientInput)
		if !ok {
			return models.ErrUnexpectedInput
		}
		if v.Username == "" && v.Address == "" {
			return models.ErrEmptyRecipient
		}
		session.RecipientUsername = &v.Username
		session.RecipientAddress = &v.Address

	case models.StepAwaitingToken:
		v, ok := in.(TokenInput)
		if !ok {
			return models.ErrUnexpectedInput
		}
		if v.Symbol == "" {
			return models.ErrEmptyToken
		}
		session.TokenSymbol = &v.Symbol
		session.TokenType = &v.TokenType
		session.Decimals = &v.Decimals

	case models.StepAwaitingAmount:
		v, ok := in.(AmountInput)
		if !ok {
			return models.ErrUnexpectedInput
		}
		if v.Amount <= 0 || math.IsNaN(v.Amount) || math.IsInf(v.Amount, 0) {
			return models.ErrInvalidAmount
		}
		session.AmountDisplay = &v.Amount

	case models.StepAwaitingDate:
		v, ok := in.(DateInput)
		if !ok {
			return models.ErrUnexpectedInput
		}
		day, err := time.Parse(DateLayout, v.Date)
		if err != nil {
			return models.ErrInvalidDate
		}
		today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
		if day.Before(today) {
			return models.ErrStartInPast
		}
		session.Date = &v.Date

	case models.StepAwaitingHour:
		v, ok := in.(HourInput)
		if !ok {
			return models.ErrUnexpectedInput
		}
		if v.Hour < 0 || v.Hour > 23 {
			return models.ErrInvalidHour
		}
		session.HourUTC = &v.Hour

	case models.StepAwaitingMinute:
		v, ok := in.(MinuteInput)
		if !ok {
			return models.ErrUnexpectedInput
		}
		if v.Minute < 0 || v.Minute > 55 || v.Minute%models.MinuteStep != 0 {
			return models.ErrInvalidMinute
		}
		session.MinuteUTC = &v.Minute

	case models.StepAwaitingRepeat:
		v, ok := in.(RepeatInput)
		if !ok {
			return models.ErrUnexpectedInput
		}
		if !models.IsValidRepeatPolicy(v.Policy) {
			return models.ErrInvalidRepeat
		}
		weeks := 0
		if v.Policy == models.RepeatWeekly && session.Kind == models.ActionKindPayment {
			weeks = v.Weeks
			if weeks == 0 {
				weeks = 1
			}
			if !models.IsValidWeeklyWeeks(weeks) {
				return models.ErrInvalidWeeks
			}
		}
		session.Repeat = &v.Policy
		session.WeeklyWeeks = &weeks

	default:
		return models.ErrUnexpectedInput
	}
	return nil
}

// confirm handles the terminal step: a positive confirmation materializes
// the schedule record and deletes the session; a negative one just deletes
// the session.
func (m *Manager) confirm(session *models.WizardSession, in Input) (*Result, error) {
	v, ok := in.(ConfirmInput)
	if !ok {
		return nil, models.ErrUnexpectedInput
	}
	if !v.Accept {
		if err := m.store.DeletePending(session.GroupID, session.CreatorID); err != nil {
			return nil, err
		}
		slog.Info("Manager.confirm: declined, session discarded",
			"groupID", session.GroupID, "creatorID", session.CreatorID)
		return &Result{Done: true}, nil
	}

	rec, err := m.buildRecord(session)
	if err != nil {
		return nil, err
	}
	if err := m.store.PutSchedule(*rec); err != nil {
		slog.Error("Manager.confirm: failed to persist schedule", "error", err, "id", rec.ID)
		return nil, err
	}
	if err := m.store.DeletePending(session.GroupID, session.CreatorID); err != nil {
		return nil, err
	}
	slog.Info("Manager.confirm: schedule created",
		"id", rec.ID, "kind", rec.Action.Kind, "repeat", rec.Repeat, "next_run_at", rec.NextRunAt)
	return &Result{Done: true, RecordID: rec.ID}, nil
}

// buildRecord copies the collected fields into a fresh schedule record and
// computes its first occurrence.
func (m *Manager) buildRecord(session *models.WizardSession) (*models.ScheduleRecord, error) {
	now := m.now()
	rec := models.ScheduleRecord{
		ID:          util.GenerateScheduleID(),
		GroupID:     session.GroupID,
		CreatorID:   session.CreatorID,
		CreatorName: session.CreatorName,
		Repeat:      derefRepeat(session.Repeat),
		Active:      true,
		CreatedAt:   now,
	}
	if session.WeeklyWeeks != nil {
		rec.WeeklyWeeks = *session.WeeklyWeeks
	}
	if session.HourUTC != nil {
		rec.StartHourUTC = *session.HourUTC
	}
	if session.MinuteUTC != nil {
		rec.StartMinuteUTC = *session.MinuteUTC
	}

	switch session.Kind {
	case models.ActionKindPrompt:
		rec.Action = models.Action{
			Kind: models.ActionKindPrompt,
			Prompt: &models.PromptAction{
				Text:      deref(session.Prompt),
				ThreadRef: session.ThreadRef,
			},
		}
		rec.NotifyOnFailure = true
		first := recurrence.FirstPromptRun(rec.Repeat, rec.StartHourUTC, rec.StartMinuteUTC, now)
		rec.NextRunAt = &first

	case models.ActionKindPayment:
		decimals := uint8(8)
		if session.Decimals != nil {
			decimals = *session.Decimals
		}
		rec.Action = models.Action{
			Kind: models.ActionKindPayment,
			Payment: &models.PaymentAction{
				RecipientUsername:   deref(session.RecipientUsername),
				RecipientAddress:    deref(session.RecipientAddress),
				TokenSymbol:         deref(session.TokenSymbol),
				TokenType:           deref(session.TokenType),
				Decimals:            decimals,
				AmountSmallestUnits: toSmallestUnits(derefFloat(session.AmountDisplay), decimals),
			},
		}
		rec.NotifyOnSuccess = true
		rec.NotifyOnFailure = true

		start, err := startTimestamp(session)
		if err != nil {
			return nil, err
		}
		rec.StartAtUTC = &start
		first := recurrence.FirstPaymentRun(rec.Repeat, rec.WeeklyWeeks, start, now)
		rec.NextRunAt = &first

	default:
		return nil, models.ErrInvalidActionKind
	}

	if err := rec.Action.Validate(); err != nil {
		return nil, err
	}
	return &rec, nil
}

// startTimestamp combines the collected date + hour + minute into the
// payment schedule's absolute first-run anchor.
func startTimestamp(session *models.WizardSession) (time.Time, error) {
	day, err := time.Parse(DateLayout, deref(session.Date))
	if err != nil {
		return time.Time{}, models.ErrInvalidDate
	}
	hour, minute := 0, 0
	if session.HourUTC != nil {
		hour = *session.HourUTC
	}
	if session.MinuteUTC != nil {
		minute = *session.MinuteUTC
	}
	return time.Date(day.Year(), day.Month(), day.Day(), hour, minute, 0, 0, time.UTC), nil
}

// toSmallestUnits converts a display amount to the token's smallest units.
func toSmallestUnits(amount float64, decimals uint8) uint64 {
	scale := 1.0
	for i := uint8(0); i < decimals; i++ {
		scale *= 10
	}
	return uint64(math.Round(amount * scale))
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func derefFloat(f *float64) float64 {
	if f == nil {
		return 0
	}
	return *f
}

func derefRepeat(p *models.RepeatPolicy) models.RepeatPolicy {
	if p == nil {
		return models.RepeatNone
	}
	return *p
}
