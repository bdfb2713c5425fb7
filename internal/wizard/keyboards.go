package wizard

import (
	"fmt"
	"strconv"
	"strings"

	"schedengine/internal/models"
)

// stepPrompt builds the transport-facing instruction for the session's
// current step. Keyboards are opaque layouts; callback data round-trips
// through the transport unchanged.
func stepPrompt(session *models.WizardSession) *models.StepPrompt {
	switch session.Step {
	case models.StepAwaitingPrompt:
		return &models.StepPrompt{
			Text: fmt.Sprintf("Send the prompt text to schedule (max %d characters).", models.MaxPromptLength),
		}
	case models.StepAwaitingRecipient:
		return &models.StepPrompt{
			Text: "Who should receive the payment? Send a username or an address.",
		}
	case models.StepAwaitingToken:
		return &models.StepPrompt{
			Text: "Which token should be sent? Send the token symbol.",
		}
	case models.StepAwaitingAmount:
		return &models.StepPrompt{
			Text: "How much should be sent each time? Send a positive amount.",
		}
	case models.StepAwaitingDate:
		return &models.StepPrompt{
			Text: "When should the first payment run? Send a date as YYYY-MM-DD (UTC).",
		}
	case models.StepAwaitingHour:
		return &models.StepPrompt{
			Text:     "Pick the start hour (UTC).",
			Keyboard: hourKeyboard(),
		}
	case models.StepAwaitingMinute:
		return &models.StepPrompt{
			Text:     "Pick the start minute.",
			Keyboard: minuteKeyboard(),
		}
	case models.StepAwaitingRepeat:
		return &models.StepPrompt{
			Text:     "How often should this repeat?",
			Keyboard: repeatKeyboard(session.Kind),
		}
	case models.StepAwaitingConfirm:
		return &models.StepPrompt{
			Text:     Summarize(session),
			Keyboard: confirmKeyboard(),
		}
	default:
		return &models.StepPrompt{Text: "Unknown step."}
	}
}

// hourKeyboard lays out hours 0-23 in rows of six.
func hourKeyboard() [][]models.Button {
	var rows [][]models.Button
	for h := 0; h < 24; h += 6 {
		var row []models.Button
		for i := h; i < h+6; i++ {
			row = append(row, models.Button{
				Label: fmt.Sprintf("%02d", i),
				Data:  "hour:" + strconv.Itoa(i),
			})
		}
		rows = append(rows, row)
	}
	return rows
}

// minuteKeyboard lays out minutes 0-55 in steps of five, rows of six.
func minuteKeyboard() [][]models.Button {
	var rows [][]models.Button
	var row []models.Button
	for m := 0; m < 60; m += models.MinuteStep {
		row = append(row, models.Button{
			Label: fmt.Sprintf(":%02d", m),
			Data:  "minute:" + strconv.Itoa(m),
		})
		if len(row) == 6 {
			rows = append(rows, row)
			row = nil
		}
	}
	if len(row) > 0 {
		rows = append(rows, row)
	}
	return rows
}

// repeatKeyboard offers the cadence menu. Payment schedules get weekly
// multiples instead of sub-hourly cadences.
func repeatKeyboard(kind models.ActionKind) [][]models.Button {
	if kind == models.ActionKindPayment {
		return [][]models.Button{
			{
				{Label: "Once", Data: "repeat:none"},
				{Label: "Daily", Data: "repeat:daily"},
			},
			{
				{Label: "Weekly", Data: "repeat:weekly:1"},
				{Label: "Every 2 weeks", Data: "repeat:weekly:2"},
				{Label: "Every 4 weeks", Data: "repeat:weekly:4"},
			},
			{
				{Label: "Monthly", Data: "repeat:monthly"},
			},
		}
	}
	return [][]models.Button{
		{
			{Label: "Once", Data: "repeat:none"},
			{Label: "5m", Data: "repeat:5m"},
			{Label: "15m", Data: "repeat:15m"},
			{Label: "30m", Data: "repeat:30m"},
		},
		{
			{Label: "45m", Data: "repeat:45m"},
			{Label: "1h", Data: "repeat:1h"},
			{Label: "3h", Data: "repeat:3h"},
			{Label: "6h", Data: "repeat:6h"},
		},
		{
			{Label: "12h", Data: "repeat:12h"},
			{Label: "Daily", Data: "repeat:daily"},
			{Label: "Weekly", Data: "repeat:weekly"},
			{Label: "Monthly", Data: "repeat:monthly"},
		},
	}
}

func confirmKeyboard() [][]models.Button {
	return [][]models.Button{
		{
			{Label: "Confirm", Data: "confirm:yes"},
			{Label: "Cancel", Data: "confirm:no"},
		},
	}
}

// Summarize renders the collected session fields for the confirmation step.
func Summarize(session *models.WizardSession) string {
	var b strings.Builder
	b.WriteString("Please confirm the schedule:\n")

	switch session.Kind {
	case models.ActionKindPayment:
		recipient := deref(session.RecipientUsername)
		if recipient == "" {
			recipient = deref(session.RecipientAddress)
		}
		fmt.Fprintf(&b, "Payment of %g %s to %s\n",
			derefFloat(session.AmountDisplay), deref(session.TokenSymbol), recipient)
		fmt.Fprintf(&b, "Starting %s", deref(session.Date))
	default:
		text := deref(session.Prompt)
		if len(text) > 80 {
			text = text[:77] + "..."
		}
		fmt.Fprintf(&b, "Prompt: %q\n", text)
		b.WriteString("Starting today or at the next occurrence")
	}

	hour, minute := 0, 0
	if session.HourUTC != nil {
		hour = *session.HourUTC
	}
	if session.MinuteUTC != nil {
		minute = *session.MinuteUTC
	}
	fmt.Fprintf(&b, " at %02d:%02d UTC\n", hour, minute)

	repeat := derefRepeat(session.Repeat)
	if repeat == models.RepeatNone {
		b.WriteString("Runs once")
		return b.String()
	}
	cadence := models.ScheduleRecord{Repeat: repeat}
	if session.WeeklyWeeks != nil {
		cadence.WeeklyWeeks = *session.WeeklyWeeks
	}
	fmt.Fprintf(&b, "Repeats %s", cadence.Describe())
	return b.String()
}
