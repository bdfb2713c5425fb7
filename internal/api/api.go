// Package api exposes the engine's HTTP management surface.
//
// Endpoints cover schedule inspection and lifecycle (list, pause, resume,
// cancel) plus the wizard session operations a transport drives on behalf of
// its users.
package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"schedengine/internal/store"
	"schedengine/internal/wizard"
)

// Server hosts the management API.
type Server struct {
	store  store.Store
	wizard *wizard.Manager
	http   *http.Server
}

// NewServer creates a management API server over the given store and wizard
// manager.
func NewServer(st store.Store, wm *wizard.Manager) *Server {
	return &Server{store: st, wizard: wm}
}

// Handler builds the route table.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", s.healthHandler)
	mux.HandleFunc("GET /schedules", s.listSchedulesHandler)
	mux.HandleFunc("GET /schedules/{id}", s.getScheduleHandler)
	mux.HandleFunc("POST /schedules/{id}/pause", s.pauseScheduleHandler)
	mux.HandleFunc("POST /schedules/{id}/resume", s.resumeScheduleHandler)
	mux.HandleFunc("DELETE /schedules/{id}", s.cancelScheduleHandler)
	mux.HandleFunc("POST /wizard/start", s.wizardStartHandler)
	mux.HandleFunc("POST /wizard/input", s.wizardInputHandler)
	mux.HandleFunc("DELETE /wizard", s.wizardCancelHandler)
	return mux
}

// Run serves the API on addr until the context is cancelled.
func (s *Server) Run(ctx context.Context, addr string) error {
	s.http = &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("Server.Run: listening", "addr", addr)
		errCh <- s.http.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.http.Shutdown(shutdownCtx); err != nil {
			slog.Error("Server.Run: shutdown failed", "error", err)
			return err
		}
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}
