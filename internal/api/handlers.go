package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"schedengine/internal/models"
	"schedengine/internal/wizard"
)

func (s *Server) healthHandler(w http.ResponseWriter, _ *http.Request) {
	writeJSONResponse(w, http.StatusOK, models.Success(map[string]string{"status": "healthy"}))
}

// listSchedulesHandler returns schedules, optionally filtered to one group's
// active records via ?group_id=.
func (s *Server) listSchedulesHandler(w http.ResponseWriter, r *http.Request) {
	groupParam := r.URL.Query().Get("group_id")
	if groupParam == "" {
		records, err := s.store.ListSchedules()
		if err != nil {
			slog.Error("Server.listSchedulesHandler: list failed", "error", err)
			writeJSONResponse(w, http.StatusInternalServerError, models.Error("failed to list schedules"))
			return
		}
		writeJSONResponse(w, http.StatusOK, models.Success(records))
		return
	}

	groupID, err := strconv.ParseInt(groupParam, 10, 64)
	if err != nil {
		writeJSONResponse(w, http.StatusBadRequest, models.Error("invalid group_id"))
		return
	}
	records, err := s.store.ListSchedulesForGroup(groupID)
	if err != nil {
		slog.Error("Server.listSchedulesHandler: group list failed", "error", err, "groupID", groupID)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("failed to list schedules"))
		return
	}
	writeJSONResponse(w, http.StatusOK, models.Success(records))
}

func (s *Server) getScheduleHandler(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	rec, err := s.store.GetSchedule(id)
	if err != nil {
		slog.Error("Server.getScheduleHandler: read failed", "error", err, "id", id)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("failed to read schedule"))
		return
	}
	if rec == nil {
		writeJSONResponse(w, http.StatusNotFound, models.Error("schedule not found"))
		return
	}
	writeJSONResponse(w, http.StatusOK, models.Success(rec))
}

func (s *Server) pauseScheduleHandler(w http.ResponseWriter, r *http.Request) {
	s.setActive(w, r.PathValue("id"), false, "paused")
}

func (s *Server) resumeScheduleHandler(w http.ResponseWriter, r *http.Request) {
	s.setActive(w, r.PathValue("id"), true, "resumed")
}

// cancelScheduleHandler retires the record. The record is kept for history;
// cancellation is deactivation, not deletion.
func (s *Server) cancelScheduleHandler(w http.ResponseWriter, r *http.Request) {
	s.setActive(w, r.PathValue("id"), false, "cancelled")
}

func (s *Server) setActive(w http.ResponseWriter, id string, active bool, verb string) {
	if err := s.store.SetActive(id, active); err != nil {
		if errors.Is(err, models.ErrScheduleNotFound) {
			writeJSONResponse(w, http.StatusNotFound, models.Error("schedule not found"))
			return
		}
		slog.Error("Server.setActive: update failed", "error", err, "id", id, "active", active)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("failed to update schedule"))
		return
	}
	slog.Info("Server.setActive: schedule "+verb, "id", id)
	writeJSONResponse(w, http.StatusOK, models.Success(map[string]string{"id": id, "state": verb}))
}

// wizardStartRequest opens a wizard session on behalf of a transport user.
type wizardStartRequest struct {
	Kind        models.ActionKind `json:"kind"`
	GroupID     int64             `json:"group_id"`
	CreatorID   int64             `json:"creator_id"`
	CreatorName string            `json:"creator_name"`
	ThreadRef   string            `json:"thread_ref,omitempty"`
}

func (s *Server) wizardStartHandler(w http.ResponseWriter, r *http.Request) {
	var req wizardStartRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSONResponse(w, http.StatusBadRequest, models.Error("invalid request body"))
		return
	}

	prompt, err := s.wizard.Begin(req.Kind, req.GroupID, req.CreatorID, req.CreatorName, req.ThreadRef)
	if err != nil {
		if errors.Is(err, models.ErrInvalidActionKind) {
			writeJSONResponse(w, http.StatusBadRequest, models.Error(err.Error()))
			return
		}
		slog.Error("Server.wizardStartHandler: begin failed", "error", err)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("failed to start wizard"))
		return
	}
	writeJSONResponse(w, http.StatusOK, models.Success(prompt))
}

// wizardInputRequest carries one typed wizard input. Type selects which of
// the value fields is read.
type wizardInputRequest struct {
	GroupID   int64  `json:"group_id"`
	CreatorID int64  `json:"creator_id"`
	Type      string `json:"type"`

	Text      string              `json:"text,omitempty"`
	Username  string              `json:"username,omitempty"`
	Address   string              `json:"address,omitempty"`
	Symbol    string              `json:"symbol,omitempty"`
	TokenType string              `json:"token_type,omitempty"`
	Decimals  uint8               `json:"decimals,omitempty"`
	Amount    float64             `json:"amount,omitempty"`
	Date      string              `json:"date,omitempty"`
	Hour      int                 `json:"hour,omitempty"`
	Minute    int                 `json:"minute,omitempty"`
	Repeat    models.RepeatPolicy `json:"repeat,omitempty"`
	Weeks     int                 `json:"weeks,omitempty"`
	Accept    bool                `json:"accept,omitempty"`
}

// toInput maps the request onto the wizard's input types.
func (req *wizardInputRequest) toInput() (wizard.Input, bool) {
	switch req.Type {
	case "text":
		return wizard.TextInput{Text: req.Text}, true
	case "recipient":
		return wizard.RecipientInput{Username: req.Username, Address: req.Address}, true
	case "token":
		return wizard.TokenInput{Symbol: req.Symbol, TokenType: req.TokenType, Decimals: req.Decimals}, true
	case "amount":
		return wizard.AmountInput{Amount: req.Amount}, true
	case "date":
		return wizard.DateInput{Date: req.Date}, true
	case "hour":
		return wizard.HourInput{Hour: req.Hour}, true
	case "minute":
		return wizard.MinuteInput{Minute: req.Minute}, true
	case "repeat":
		return wizard.RepeatInput{Policy: req.Repeat, Weeks: req.Weeks}, true
	case "confirm":
		return wizard.ConfirmInput{Accept: req.Accept}, true
	default:
		return nil, false
	}
}

func (s *Server) wizardInputHandler(w http.ResponseWriter, r *http.Request) {
	var req wizardInputRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSONResponse(w, http.StatusBadRequest, models.Error("invalid request body"))
		return
	}
	in, ok := req.toInput()
	if !ok {
		writeJSONResponse(w, http.StatusBadRequest, models.Error("unknown input type"))
		return
	}

	res, err := s.wizard.Input(req.GroupID, req.CreatorID, in)
	if err != nil {
		switch {
		case errors.Is(err, models.ErrNoWizardSession):
			writeJSONResponse(w, http.StatusNotFound, models.Error(err.Error()))
		case isValidationError(err):
			writeJSONResponse(w, http.StatusBadRequest, models.Error(err.Error()))
		default:
			slog.Error("Server.wizardInputHandler: input failed", "error", err)
			writeJSONResponse(w, http.StatusInternalServerError, models.Error("failed to process input"))
		}
		return
	}
	writeJSONResponse(w, http.StatusOK, models.Success(res))
}

// isValidationError classifies wizard rejections the client should fix.
func isValidationError(err error) bool {
	for _, target := range []error{
		models.ErrUnexpectedInput, models.ErrEmptyPrompt, models.ErrPromptTooLong,
		models.ErrEmptyRecipient, models.ErrEmptyToken, models.ErrInvalidAmount,
		models.ErrInvalidDate, models.ErrStartInPast, models.ErrInvalidHour,
		models.ErrInvalidMinute, models.ErrInvalidRepeat, models.ErrInvalidWeeks,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

// wizardCancelRequest identifies the session to discard.
type wizardCancelRequest struct {
	GroupID   int64 `json:"group_id"`
	CreatorID int64 `json:"creator_id"`
}

func (s *Server) wizardCancelHandler(w http.ResponseWriter, r *http.Request) {
	var req wizardCancelRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSONResponse(w, http.StatusBadRequest, models.Error("invalid request body"))
		return
	}
	if err := s.wizard.Cancel(req.GroupID, req.CreatorID); err != nil {
		slog.Error("Server.wizardCancelHandler: cancel failed", "error", err)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("failed to cancel wizard"))
		return
	}
	writeJSONResponse(w, http.StatusOK, models.Success(nil))
}
