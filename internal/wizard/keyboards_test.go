package wizard

import (
	"strings"
	"testing"

	"schedengine/internal/models"
)

func summarySession(repeat models.RepeatPolicy, weeks int) *models.WizardSession {
	text := "market summary"
	hour, minute := 9, 30
	session := &models.WizardSession{
		Kind:      models.ActionKindPrompt,
		Prompt:    &text,
		HourUTC:   &hour,
		MinuteUTC: &minute,
		Repeat:    &repeat,
	}
	if weeks > 0 {
		session.WeeklyWeeks = &weeks
	}
	return session
}

func TestSummarizeCadenceLine(t *testing.T) {
	tests := []struct {
		repeat models.RepeatPolicy
		weeks  int
		want   string
	}{
		{models.RepeatNone, 0, "Runs once"},
		{models.RepeatDaily, 0, "Repeats daily"},
		{models.RepeatWeekly, 0, "Repeats weekly"},
		{models.RepeatWeekly, 2, "Repeats every 2 weeks"},
		{models.RepeatMonthly, 0, "Repeats monthly"},
		{models.RepeatEvery30m, 0, "Repeats every 30m"},
	}

	for _, tt := range tests {
		got := Summarize(summarySession(tt.repeat, tt.weeks))
		if !strings.Contains(got, tt.want) {
			t.Errorf("summary for %s/%d should contain %q, got:\n%s", tt.repeat, tt.weeks, tt.want, got)
		}
	}
}
