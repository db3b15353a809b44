package server

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/tunnelgate/tunnelgate/internal/domain"
)

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, s.cfg.MaxBodyBytes)
	var req domain.RegisterRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, domain.ErrorResponse{Error: "Invalid request body: " + err.Error()})
		return
	}

	rec, err := s.broker.Register(r.Context(), req)
	if err != nil {
		s.writeAPIError(w, err)
		return
	}

	resp := domain.RegisterResponse{
		Success:   true,
		TunnelID:  rec.TunnelID,
		TunnelURL: s.cfg.PublicURL + "/tunnel/" + rec.TunnelID,
		Message:   "Tunnel registered successfully",
	}
	if rec.MultiUser() {
		resp.UserCount = len(rec.Users)
		resp.AdminURL = s.cfg.PublicURL + "/admin?tunnel=" + rec.TunnelID
		resp.Message = "Multi-user tunnel registered successfully"
	}
	writeJSON(w, http.StatusCreated, resp)
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	tunnelID := r.URL.Query().Get("tunnelId")
	if tunnelID == "" {
		writeJSON(w, http.StatusBadRequest, domain.ErrorResponse{Error: "Missing tunnelId"})
		return
	}

	rec, err := s.broker.Status(r.Context(), tunnelID)
	if err != nil {
		s.writeAPIError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, domain.StatusResponse{
		TunnelID:    rec.TunnelID,
		Active:      rec.Active,
		Port:        rec.Port,
		Description: rec.Description,
		CreatedAt:   rec.CreatedAt.Format(time.RFC3339),
		LastSeen:    rec.LastSeen.Format(time.RFC3339),
	})
}

func (s *Server) handleUsers(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	tunnelID := q.Get("tunnelId")
	adminPassword := q.Get("adminPassword")
	if tunnelID == "" || adminPassword == "" {
		writeJSON(w, http.StatusBadRequest, domain.ErrorResponse{Error: "tunnelId and adminPassword required"})
		return
	}

	switch r.Method {
	case http.MethodGet:
		resp, err := s.broker.ListUsers(r.Context(), tunnelID, adminPassword)
		if err != nil {
			s.writeAPIError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, resp)

	case http.MethodPost:
		r.Body = http.MaxBytesReader(w, r.Body, s.cfg.MaxBodyBytes)
		var req domain.AddUserRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeJSON(w, http.StatusBadRequest, domain.ErrorResponse{Error: "Invalid request body: " + err.Error()})
			return
		}
		if req.Username == "" || req.Password == "" {
			writeJSON(w, http.StatusBadRequest, domain.ErrorResponse{Error: "Username and password required"})
			return
		}
		if err := s.broker.AddUser(r.Context(), tunnelID, adminPassword, req); err != nil {
			s.writeAPIError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"success": true, "message": "User added successfully"})

	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

func (s *Server) handleActivity(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	q := r.URL.Query()
	tunnelID := q.Get("tunnelId")
	adminPassword := q.Get("adminPassword")
	if tunnelID == "" || adminPassword == "" {
		writeJSON(w, http.StatusBadRequest, domain.ErrorResponse{Error: "tunnelId and adminPassword required"})
		return
	}

	entries, err := s.broker.Activity(r.Context(), tunnelID, adminPassword, 100)
	if err != nil {
		s.writeAPIError(w, err)
		return
	}

	views := make([]domain.ActivityView, 0, len(entries))
	for _, e := range entries {
		views = append(views, domain.ActivityView{
			Timestamp: e.CreatedAt.Format(time.RFC3339),
			TunnelID:  e.TunnelID,
			Principal: e.Principal,
			Action:    e.Action,
			Metadata:  e.Metadata,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"entries": views})
}
