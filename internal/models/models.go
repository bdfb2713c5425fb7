// Package models defines the core data structures for schedengine.
//
// It includes the persisted schedule record with its polymorphic action
// payload, the repeat cadence enum, and the transient wizard session types,
// which are shared across modules.
package models

import (
	"errors"
	"fmt"
	"time"
)

// ActionKind discriminates the polymorphic action payload of a schedule.
type ActionKind string

const (
	// ActionKindPrompt re-issues a stored prompt to the assistant.
	ActionKindPrompt ActionKind = "prompt"
	// ActionKindPayment submits a recurring token payment.
	ActionKindPayment ActionKind = "payment"
)

// IsValidActionKind checks if the given action kind is supported.
func IsValidActionKind(k ActionKind) bool {
	switch k {
	case ActionKindPrompt, ActionKindPayment:
		return true
	default:
		return false
	}
}

// RepeatPolicy is the closed set of supported cadences.
type RepeatPolicy string

const (
	RepeatNone     RepeatPolicy = "none"
	RepeatEvery5m  RepeatPolicy = "5m"
	RepeatEvery15m RepeatPolicy = "15m"
	RepeatEvery30m RepeatPolicy = "30m"
	RepeatEvery45m RepeatPolicy = "45m"
	RepeatEvery1h  RepeatPolicy = "1h"
	RepeatEvery3h  RepeatPolicy = "3h"
	RepeatEvery6h  RepeatPolicy = "6h"
	RepeatEvery12h RepeatPolicy = "12h"
	RepeatDaily    RepeatPolicy = "daily"
	RepeatWeekly   RepeatPolicy = "weekly"
	RepeatMonthly  RepeatPolicy = "monthly"
)

// IsValidRepeatPolicy checks if the given repeat policy is supported.
func IsValidRepeatPolicy(p RepeatPolicy) bool {
	switch p {
	case RepeatNone, RepeatEvery5m, RepeatEvery15m, RepeatEvery30m, RepeatEvery45m,
		RepeatEvery1h, RepeatEvery3h, RepeatEvery6h, RepeatEvery12h,
		RepeatDaily, RepeatWeekly, RepeatMonthly:
		return true
	default:
		return false
	}
}

// IsValidWeeklyWeeks checks a weekly-multiple parameter (payment schedules).
func IsValidWeeklyWeeks(weeks int) bool {
	return weeks == 1 || weeks == 2 || weeks == 4
}

// Validation constants for input validation
const (
	// MaxPromptLength defines the maximum allowed length for prompt text
	MaxPromptLength = 4096
	// MinuteStep is the granularity of the minute selector
	MinuteStep = 5
)

// Error variables for better error handling and testability
var (
	ErrInvalidActionKind = errors.New("invalid action kind")
	ErrMissingAction     = errors.New("action payload is missing")
	ErrAmbiguousAction   = errors.New("action must carry exactly one payload kind")
	ErrEmptyPrompt       = errors.New("prompt text cannot be empty")
	ErrPromptTooLong     = errors.New("prompt text exceeds maximum length")
	ErrEmptyRecipient    = errors.New("recipient cannot be empty")
	ErrEmptyToken        = errors.New("token symbol cannot be empty")
	ErrInvalidAmount     = errors.New("amount must be a positive number")
	ErrInvalidHour       = errors.New("hour must be between 0 and 23")
	ErrInvalidMinute     = errors.New("minute must be a multiple of 5 between 0 and 55")
	ErrInvalidDate       = errors.New("date must be in YYYY-MM-DD format")
	ErrStartInPast       = errors.New("start time is in the past")
	ErrInvalidRepeat     = errors.New("invalid repeat policy")
	ErrInvalidWeeks      = errors.New("weekly cadence must be 1, 2 or 4 weeks")
	ErrNoWizardSession   = errors.New("no wizard session in progress")
	ErrUnexpectedInput   = errors.New("input does not match the current wizard step")
	ErrScheduleNotFound  = errors.New("schedule not found")
)

// PromptAction is a stored prompt to be re-issued to the assistant.
type PromptAction struct {
	Text string `json:"text"`
	// ThreadRef correlates replies to the originating conversation thread.
	ThreadRef string `json:"thread_ref,omitempty"`
}

// PaymentAction is a token payment to be submitted on each occurrence.
type PaymentAction struct {
	RecipientUsername   string `json:"recipient_username"`
	RecipientAddress    string `json:"recipient_address"`
	TokenSymbol         string `json:"token_symbol"`
	TokenType           string `json:"token_type"`
	Decimals            uint8  `json:"decimals"`
	AmountSmallestUnits uint64 `json:"amount_smallest_units"`
}

// HumanAmount converts the stored smallest-units amount back to its display
// value using the token's decimals.
func (p *PaymentAction) HumanAmount() float64 {
	div := 1.0
	for i := uint8(0); i < p.Decimals; i++ {
		div *= 10
	}
	return float64(p.AmountSmallestUnits) / div
}

// Action is a tagged union over the supported action payloads. Exactly one
// payload matching Kind must be set.
type Action struct {
	Kind    ActionKind     `json:"kind"`
	Prompt  *PromptAction  `json:"prompt,omitempty"`
	Payment *PaymentAction `json:"payment,omitempty"`
}

// Validate performs comprehensive validation on an Action.
func (a *Action) Validate() error {
	if !IsValidActionKind(a.Kind) {
		return ErrInvalidActionKind
	}
	if a.Prompt != nil && a.Payment != nil {
		return ErrAmbiguousAction
	}
	switch a.Kind {
	case ActionKindPrompt:
		if a.Prompt == nil {
			return ErrMissingAction
		}
		if a.Prompt.Text == "" {
			return ErrEmptyPrompt
		}
		if len(a.Prompt.Text) > MaxPromptLength {
			return ErrPromptTooLong
		}
	case ActionKindPayment:
		if a.Payment == nil {
			return ErrMissingAction
		}
		if a.Payment.RecipientAddress == "" && a.Payment.RecipientUsername == "" {
			return ErrEmptyRecipient
		}
		if a.Payment.TokenSymbol == "" {
			return ErrEmptyToken
		}
		if a.Payment.AmountSmallestUnits == 0 {
			return ErrInvalidAmount
		}
	}
	return nil
}

// AttemptStatus records the outcome of the most recent dispatch attempt.
type AttemptStatus string

const (
	// AttemptStatusSuccess indicates the executor completed the action.
	AttemptStatusSuccess AttemptStatus = "success"
	// AttemptStatusFailure indicates the executor reported an error.
	AttemptStatusFailure AttemptStatus = "failure"
)

// ScheduleRecord is the persisted unit of recurring work.
type ScheduleRecord struct {
	ID          string `json:"id"`
	GroupID     int64  `json:"group_id"`
	CreatorID   int64  `json:"creator_id"`
	CreatorName string `json:"creator_name"`

	Action Action `json:"action"`

	// Prompt schedules anchor on a time of day (UTC); payment schedules on an
	// absolute start timestamp.
	StartHourUTC   int          `json:"start_hour_utc"`
	StartMinuteUTC int          `json:"start_minute_utc"`
	StartAtUTC     *time.Time   `json:"start_at_utc,omitempty"`
	Repeat         RepeatPolicy `json:"repeat"`
	// WeeklyWeeks parameterizes weekly cadences for payment schedules
	// (1, 2 or 4). Zero for all other policies.
	WeeklyWeeks int `json:"weekly_weeks,omitempty"`

	Active    bool       `json:"active"`
	CreatedAt time.Time  `json:"created_at"`
	LastRunAt *time.Time `json:"last_run_at,omitempty"`
	NextRunAt *time.Time `json:"next_run_at,omitempty"`
	RunCount  uint64     `json:"run_count"`

	// LockedUntil is the optimistic mutual-exclusion fence; LockToken
	// identifies the current claim so a stale holder cannot release a newer
	// one.
	LockedUntil *time.Time `json:"locked_until,omitempty"`
	LockToken   string     `json:"lock_token,omitempty"`

	SchedulerJobID    string        `json:"scheduler_job_id,omitempty"`
	LastError         string        `json:"last_error,omitempty"`
	LastAttemptStatus AttemptStatus `json:"last_attempt_status,omitempty"`
	NotifyOnSuccess   bool          `json:"notify_on_success"`
	NotifyOnFailure   bool          `json:"notify_on_failure"`
}

// Locked reports whether the lock fence is held at the given instant. An
// expired fence counts as released.
func (r *ScheduleRecord) Locked(now time.Time) bool {
	return r.LockedUntil != nil && r.LockedUntil.After(now)
}

// IsDue reports whether the record is eligible for dispatch at the given
// instant: active, with a reached next_run_at and no live lock fence.
func (r *ScheduleRecord) IsDue(now time.Time) bool {
	if !r.Active || r.NextRunAt == nil {
		return false
	}
	if r.NextRunAt.After(now) {
		return false
	}
	return !r.Locked(now)
}

// Describe returns a short human-readable cadence description.
func (r *ScheduleRecord) Describe() string {
	switch r.Repeat {
	case RepeatNone:
		return "one-shot"
	case RepeatWeekly:
		if r.WeeklyWeeks > 1 {
			return fmt.Sprintf("every %d weeks", r.WeeklyWeeks)
		}
		return "weekly"
	case RepeatDaily:
		return "daily"
	case RepeatMonthly:
		return "monthly"
	default:
		return "every " + string(r.Repeat)
	}
}

// NotificationEvent is emitted after a dispatch attempt when the record's
// corresponding notify flag is set.
type NotificationEvent struct {
	RecordID string        `json:"record_id"`
	Outcome  AttemptStatus `json:"outcome"`
	Detail   string        `json:"detail,omitempty"`
}

// ExecuteRequest is handed to the external executor once per due occurrence.
// (RecordID, RunCount) together form the idempotency key for collaborators
// that need exactly-once side effects under at-least-once invocation.
type ExecuteRequest struct {
	RecordID string `json:"record_id"`
	RunCount uint64 `json:"run_count"`
	Action   Action `json:"action"`
}
