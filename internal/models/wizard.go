// Package models defines wizard session structures for schedule capture.
package models

import "time"

// WizardStep enumerates the linear steps of the schedule-creation wizard.
type WizardStep string

const (
	StepAwaitingPrompt    WizardStep = "awaiting_prompt"
	StepAwaitingRecipient WizardStep = "awaiting_recipient"
	StepAwaitingToken     WizardStep = "awaiting_token"
	StepAwaitingAmount    WizardStep = "awaiting_amount"
	StepAwaitingDate      WizardStep = "awaiting_date"
	StepAwaitingHour      WizardStep = "awaiting_hour"
	StepAwaitingMinute    WizardStep = "awaiting_minute"
	StepAwaitingRepeat    WizardStep = "awaiting_repeat"
	StepAwaitingConfirm   WizardStep = "awaiting_confirm"
)

// WizardSession is the transient state of an in-flight schedule wizard,
// keyed by (group_id, creator_id). At most one session exists per key; a
// fresh wizard entry overwrites any prior session (last writer wins).
type WizardSession struct {
	GroupID     int64      `json:"group_id"`
	CreatorID   int64      `json:"creator_id"`
	CreatorName string     `json:"creator_name"`
	Kind        ActionKind `json:"kind"`
	Step        WizardStep `json:"step"`
	ThreadRef   string     `json:"thread_ref,omitempty"`

	// Collected fields, filled progressively. Pointers distinguish
	// "not yet provided" from zero values.
	Prompt            *string       `json:"prompt,omitempty"`
	RecipientUsername *string       `json:"recipient_username,omitempty"`
	RecipientAddress  *string       `json:"recipient_address,omitempty"`
	TokenSymbol       *string       `json:"token_symbol,omitempty"`
	TokenType         *string       `json:"token_type,omitempty"`
	Decimals          *uint8        `json:"decimals,omitempty"`
	AmountDisplay     *float64      `json:"amount_display,omitempty"`
	Date              *string       `json:"date,omitempty"`
	HourUTC           *int          `json:"hour_utc,omitempty"`
	MinuteUTC         *int          `json:"minute_utc,omitempty"`
	Repeat            *RepeatPolicy `json:"repeat,omitempty"`
	WeeklyWeeks       *int          `json:"weekly_weeks,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Button is one opaque inline-keyboard button. The engine only describes the
// layout; rendering and callback routing belong to the transport.
type Button struct {
	Label string `json:"label"`
	Data  string `json:"data"`
}

// StepPrompt instructs the transport what to present for the current wizard
// step: a text and, optionally, a keyboard layout.
type StepPrompt struct {
	Text     string     `json:"text"`
	Keyboard [][]Button `json:"keyboard,omitempty"`
}
