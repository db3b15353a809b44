package server

import (
	"errors"
	"net/http"
	"strings"

	"github.com/tunnelgate/tunnelgate/internal/access"
	"github.com/tunnelgate/tunnelgate/internal/broker"
	"github.com/tunnelgate/tunnelgate/internal/domain"
)

const maxAccessFormBytes = 8 * 1024
const sessionCookieMaxAge = 3600

// handleTunnelAccess is the HTML gate in front of a tunnel: it resumes a
// session from the per-tunnel cookie, accepts form credentials on POST, and
// otherwise presents the login challenge.
func (s *Server) handleTunnelAccess(w http.ResponseWriter, r *http.Request) {
	tunnelID := strings.TrimPrefix(r.URL.Path, "/tunnel/")
	if tunnelID == "" || strings.Contains(tunnelID, "/") {
		http.Error(w, "Tunnel ID required", http.StatusBadRequest)
		return
	}

	req := broker.AccessRequest{
		TunnelID:     tunnelID,
		SessionToken: sessionTokenFromCookies(r, tunnelID),
	}

	if r.Method == http.MethodPost {
		r.Body = http.MaxBytesReader(w, r.Body, maxAccessFormBytes)
		if err := r.ParseForm(); err != nil {
			http.Error(w, "invalid form submission", http.StatusBadRequest)
			return
		}
		username := strings.TrimSpace(r.PostForm.Get(access.FormUserField))
		password := r.PostForm.Get(access.FormPasswordField)
		if password == "" {
			s.renderAuthPage(w, tunnelID, "Username and password are required", http.StatusBadRequest)
			return
		}
		req.Username = username
		req.Password = password
		req.HasCredentials = true
		// A stale cookie must not shortcut a fresh login attempt.
		req.SessionToken = ""
	}

	decision, err := s.broker.Authorize(r.Context(), req)
	if err != nil {
		s.writeAccessError(w, tunnelID, err)
		return
	}

	if decision.State == broker.StateChallenged {
		s.renderAuthPage(w, tunnelID, "", http.StatusOK)
		return
	}

	if decision.IssuedToken != "" {
		name := access.SessionCookieName(tunnelID)
		if !decision.Record.MultiUser() {
			name = access.AuthCookieName(tunnelID)
		}
		http.SetCookie(w, &http.Cookie{
			Name:     name,
			Value:    decision.IssuedToken,
			Path:     "/",
			HttpOnly: true,
			Secure:   true,
			SameSite: http.SameSiteStrictMode,
			MaxAge:   sessionCookieMaxAge,
		})
	}

	s.renderLandingPage(w, decision)
}

func (s *Server) writeAccessError(w http.ResponseWriter, tunnelID string, err error) {
	switch {
	case errors.Is(err, domain.ErrTunnelNotFound):
		s.renderErrorPage(w, "Tunnel Not Found", "The requested tunnel does not exist or has expired.", http.StatusNotFound)
	case errors.Is(err, domain.ErrTunnelInactive):
		s.renderErrorPage(w, "Tunnel Inactive", "This tunnel is currently inactive.", http.StatusServiceUnavailable)
	case errors.Is(err, domain.ErrInvalidCredentials):
		s.renderAuthPage(w, tunnelID, "Invalid username or password", http.StatusUnauthorized)
	default:
		s.log.Error("tunnel access failed", "tunnel_id", tunnelID, "err", err)
		s.renderErrorPage(w, "Internal Error", "The request could not be completed.", http.StatusInternalServerError)
	}
}

func sessionTokenFromCookies(r *http.Request, tunnelID string) string {
	if c, err := r.Cookie(access.SessionCookieName(tunnelID)); err == nil && c.Value != "" {
		return c.Value
	}
	if c, err := r.Cookie(access.AuthCookieName(tunnelID)); err == nil && c.Value != "" {
		return c.Value
	}
	return ""
}
