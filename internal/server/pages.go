package server

import (
	"fmt"
	"html"
	"net/http"
	"strings"

	"github.com/tunnelgate/tunnelgate/internal/access"
	"github.com/tunnelgate/tunnelgate/internal/broker"
)

const pageStyle = `
    body {
      font-family: -apple-system, BlinkMacSystemFont, "Segoe UI", Roboto, sans-serif;
      margin: 0;
      padding: 20px;
      background: linear-gradient(135deg, #667eea 0%, #764ba2 100%);
      min-height: 100vh;
      display: flex;
      align-items: center;
      justify-content: center;
    }
    .container {
      background: white;
      border-radius: 16px;
      padding: 40px;
      max-width: 420px;
      width: 100%;
      box-shadow: 0 20px 60px rgba(0,0,0,0.3);
      text-align: center;
    }
    h1 { color: #333; margin: 0 0 10px 0; }
    .tunnel-id {
      font-family: "Menlo", "Consolas", monospace;
      background: #f1f3f4;
      padding: 8px 12px;
      border-radius: 6px;
      font-size: 12px;
      color: #666;
      margin-bottom: 20px;
    }
    .error {
      color: #e53e3e;
      background: #fed7d7;
      padding: 12px;
      border-radius: 8px;
      margin-bottom: 20px;
      font-size: 14px;
    }
    input {
      width: 100%;
      padding: 14px;
      border: 2px solid #e0e0e0;
      border-radius: 10px;
      font-size: 16px;
      margin-bottom: 15px;
      box-sizing: border-box;
    }
    input:focus { outline: none; border-color: #667eea; }
    button {
      width: 100%;
      padding: 14px;
      background: linear-gradient(135deg, #667eea 0%, #764ba2 100%);
      color: white;
      border: none;
      border-radius: 10px;
      font-size: 16px;
      font-weight: 600;
      cursor: pointer;
    }
    .stat { background: #f8f9fa; padding: 12px; border-radius: 8px; margin: 8px 0; }
    .permission {
      display: inline-block;
      background: #28a745;
      color: white;
      padding: 2px 8px;
      border-radius: 4px;
      font-size: 12px;
      margin: 0 2px;
    }
`

func writeHTML(w http.ResponseWriter, status int) {
	w.Header().Set("Cache-Control", "no-store")
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
}

func (s *Server) renderAuthPage(w http.ResponseWriter, tunnelID, errorText string, status int) {
	writeHTML(w, status)

	errorBanner := ""
	if errorText != "" {
		errorBanner = `<div class="error">` + html.EscapeString(errorText) + `</div>`
	}

	_, _ = fmt.Fprintf(w, `<!DOCTYPE html>
<html>
<head>
  <title>Tunnel Access</title>
  <meta charset="utf-8">
  <meta name="viewport" content="width=device-width, initial-scale=1">
  <style>%s</style>
</head>
<body>
  <div class="container">
    <h1>Login Required</h1>
    <div class="tunnel-id">Tunnel: %s</div>
    %s
    <form method="POST">
      <input type="text" name="%s" placeholder="Username" autocomplete="username" autocapitalize="none" spellcheck="false" autofocus>
      <input type="password" name="%s" placeholder="Password" autocomplete="current-password" required>
      <button type="submit">Access Tunnel</button>
    </form>
  </div>
</body>
</html>`, pageStyle, html.EscapeString(tunnelID), errorBanner, access.FormUserField, access.FormPasswordField)
}

func (s *Server) renderLandingPage(w http.ResponseWriter, decision broker.Decision) {
	writeHTML(w, http.StatusOK)

	rec := decision.Record
	permBadges := ""
	for _, p := range decision.Permissions {
		permBadges += `<span class="permission">` + html.EscapeString(p) + `</span>`
	}
	statsBlock := ""
	if rec.MultiUser() {
		statsBlock = fmt.Sprintf(`<div class="stat">Total users: %d</div>
    <div class="stat">Total accesses: %d</div>
    <div class="stat">Active sessions: %d</div>`, len(rec.Users), rec.TotalAccesses, rec.CurrentSessions)
	}

	_, _ = fmt.Fprintf(w, `<!DOCTYPE html>
<html>
<head>
  <title>%s</title>
  <meta charset="utf-8">
  <meta name="viewport" content="width=device-width, initial-scale=1">
  <style>%s</style>
</head>
<body>
  <div class="container">
    <h1>%s</h1>
    <div class="tunnel-id">Tunnel: %s &bull; Port: %d</div>
    <p>Authenticated as <strong>%s</strong> %s</p>
    %s
    <p>Your secure tunnel to <strong>localhost:%d</strong> is active.</p>
    <p style="font-size: 12px; color: #666;">Session expires in 1 hour</p>
  </div>
</body>
</html>`,
		html.EscapeString(rec.Description),
		pageStyle,
		html.EscapeString(rec.Description),
		html.EscapeString(rec.TunnelID),
		rec.Port,
		html.EscapeString(decision.Principal),
		permBadges,
		statsBlock,
		rec.Port)
}

func (s *Server) renderErrorPage(w http.ResponseWriter, title, message string, status int) {
	writeHTML(w, status)
	_, _ = fmt.Fprintf(w, `<!DOCTYPE html>
<html>
<head>
  <title>Error - %s</title>
  <meta charset="utf-8">
  <meta name="viewport" content="width=device-width, initial-scale=1">
  <style>%s</style>
</head>
<body>
  <div class="container">
    <h1 style="color: #e53e3e;">%s</h1>
    <p>%s</p>
  </div>
</body>
</html>`, html.EscapeString(title), pageStyle, html.EscapeString(title), html.EscapeString(message))
}

func (s *Server) handleHome(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}
	writeHTML(w, http.StatusOK)
	_, _ = fmt.Fprintf(w, `<!DOCTYPE html>
<html>
<head>
  <title>Secure Tunnel Service</title>
  <meta charset="utf-8">
  <meta name="viewport" content="width=device-width, initial-scale=1">
  <style>%s</style>
</head>
<body>
  <div class="container">
    <h1>Secure Tunnel Service</h1>
    <p>Password-protected access to local services, with optional per-user
    credentials, permissions, and activity monitoring.</p>
    <div class="stat">POST /api/register &mdash; register a tunnel</div>
    <div class="stat">GET /api/status &mdash; check a tunnel</div>
    <div class="stat">GET|POST /api/users &mdash; manage users</div>
    <div class="stat">/tunnel/{id} &mdash; gated access</div>
  </div>
</body>
</html>`, pageStyle)
}

func (s *Server) handleAdmin(w http.ResponseWriter, r *http.Request) {
	tunnelID := strings.TrimSpace(r.URL.Query().Get("tunnel"))
	writeHTML(w, http.StatusOK)
	if tunnelID == "" {
		_, _ = fmt.Fprintf(w, `<!DOCTYPE html>
<html>
<head><title>Admin</title><meta charset="utf-8"><style>%s</style></head>
<body>
  <div class="container">
    <h1>Admin Access</h1>
    <p>Open <code>/admin?tunnel=&lt;tunnelId&gt;</code> to manage a tunnel.</p>
  </div>
</body>
</html>`, pageStyle)
		return
	}
	_, _ = fmt.Fprintf(w, `<!DOCTYPE html>
<html>
<head><title>Admin - %s</title><meta charset="utf-8"><style>%s</style></head>
<body>
  <div class="container">
    <h1>Admin Dashboard</h1>
    <div class="tunnel-id">Tunnel: %s</div>
    <div class="stat">GET /api/users?tunnelId=%s&amp;adminPassword=&hellip; &mdash; list users</div>
    <div class="stat">POST /api/users?tunnelId=%s&amp;adminPassword=&hellip; &mdash; add a user</div>
    <div class="stat">GET /api/activity?tunnelId=%s&amp;adminPassword=&hellip; &mdash; recent activity</div>
  </div>
</body>
</html>`,
		html.EscapeString(tunnelID), pageStyle,
		html.EscapeString(tunnelID), html.EscapeString(tunnelID),
		html.EscapeString(tunnelID), html.EscapeString(tunnelID))
}
