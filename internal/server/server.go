// Package server exposes the broker over HTTP: the JSON registration and
// administration API plus the HTML tunnel gate.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/tunnelgate/tunnelgate/internal/broker"
	"github.com/tunnelgate/tunnelgate/internal/config"
	"github.com/tunnelgate/tunnelgate/internal/domain"
)

type Server struct {
	cfg    config.ServerConfig
	broker *broker.Broker
	log    *slog.Logger
}

func New(cfg config.ServerConfig, b *broker.Broker, logger *slog.Logger) *Server {
	return &Server{cfg: cfg, broker: b, log: logger}
}

// Handler returns the full route set.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/register", s.handleRegister)
	mux.HandleFunc("/api/status", s.handleStatus)
	mux.HandleFunc("/api/users", s.handleUsers)
	mux.HandleFunc("/api/activity", s.handleActivity)
	mux.HandleFunc("/tunnel/", s.handleTunnelAccess)
	mux.HandleFunc("/admin", s.handleAdmin)
	mux.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})
	mux.HandleFunc("/", s.handleHome)
	return mux
}

// Run serves until ctx is canceled, with a background janitor purging
// expired tunnels and activity entries.
func (s *Server) Run(ctx context.Context) error {
	go s.runJanitor(ctx)

	httpServer := &http.Server{
		Addr:              s.cfg.Listen,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- httpServer.ListenAndServe()
	}()
	s.log.Info("server listening", "addr", s.cfg.Listen, "public_url", s.cfg.PublicURL)

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
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

func (s *Server) runJanitor(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			tunnels, activity, err := s.broker.Cleanup(ctx)
			if err != nil {
				s.log.Error("cleanup failed", "err", err)
			} else if tunnels > 0 || activity > 0 {
				s.log.Info("expired records cleaned", "tunnels", tunnels, "activity_entries", activity)
			}
		}
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(data)
	_, _ = w.Write([]byte("\n"))
}

// writeAPIError maps broker sentinels onto the HTTP error taxonomy and emits
// a structured JSON body. Everything unmatched is an internal error; the
// underlying message is not leaked.
func (s *Server) writeAPIError(w http.ResponseWriter, err error) {
	var fieldErr *domain.FieldError
	switch {
	case errors.As(err, &fieldErr):
		writeJSON(w, http.StatusBadRequest, domain.ErrorResponse{Error: fieldErr.Error()})
	case errors.Is(err, domain.ErrTunnelNotFound):
		writeJSON(w, http.StatusNotFound, domain.ErrorResponse{Error: "Tunnel not found"})
	case errors.Is(err, domain.ErrUnauthorized):
		writeJSON(w, http.StatusUnauthorized, domain.ErrorResponse{Error: "Invalid admin password"})
	case errors.Is(err, domain.ErrInvalidCredentials):
		writeJSON(w, http.StatusUnauthorized, domain.ErrorResponse{Error: "Invalid username or password"})
	case errors.Is(err, domain.ErrTunnelExists):
		writeJSON(w, http.StatusConflict, domain.ErrorResponse{Error: "Tunnel already exists"})
	case errors.Is(err, domain.ErrUserExists):
		writeJSON(w, http.StatusConflict, domain.ErrorResponse{Error: "Username already exists"})
	case errors.Is(err, domain.ErrMaxUsersReached):
		writeJSON(w, http.StatusBadRequest, domain.ErrorResponse{Error: "Maximum users reached"})
	case errors.Is(err, domain.ErrTunnelInactive):
		writeJSON(w, http.StatusServiceUnavailable, domain.ErrorResponse{Error: "Tunnel inactive"})
	default:
		s.log.Error("request failed", "err", err)
		writeJSON(w, http.StatusInternalServerError, domain.ErrorResponse{Error: "Internal error"})
	}
}
