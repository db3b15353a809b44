// Package domain defines the core data types shared across the tunnelgate
// broker, store, and HTTP layers.
package domain

import "time"

// Activity actions recorded for security-relevant events.
const (
	ActionTunnelCreated = "tunnel_created"
	ActionLoginSuccess  = "login_success"
	ActionLoginFailed   = "login_failed"
	ActionUserAdded     = "user_added"
)

// Principals used for activity entries that are not tied to a named user.
const (
	PrincipalSystem = "system"
	PrincipalAdmin  = "admin"
)

// DefaultMaxUsers is applied when a multi-user registration omits maxUsers.
const DefaultMaxUsers = 10

// SessionLifetime bounds how long an issued session token stays valid.
const SessionLifetime = time.Hour

// ActivityRetention bounds how long activity entries are kept.
const ActivityRetention = 7 * 24 * time.Hour

// UserRecord is a credentialed user under a multi-user tunnel. Records are
// never deleted; only LastAccess and AccessCount mutate, and only on a
// successful authentication.
type UserRecord struct {
	Username     string
	PasswordHash string
	Permissions  []string
	CreatedAt    time.Time
	LastAccess   *time.Time
	AccessCount  int
}

// TunnelRecord is a registered tunnel. Single-user tunnels carry
// PasswordHash; multi-user tunnels carry AdminPasswordHash, MaxUsers, and an
// insertion-ordered user list. ExpiresAt of nil means the record is permanent
// until explicitly deactivated.
type TunnelRecord struct {
	TunnelID        string
	Active          bool
	Port            int
	Description     string
	CreatedAt       time.Time
	LastSeen        time.Time
	TotalAccesses   int
	CurrentSessions int

	PasswordHash string

	AdminPasswordHash string
	MaxUsers          int
	Users             []UserRecord

	ExpiresAt *time.Time
}

// MultiUser reports whether the tunnel is administered per-user rather than
// by a single shared password.
func (t *TunnelRecord) MultiUser() bool {
	return t.AdminPasswordHash != ""
}

// FindUser returns the user with the given username, or nil.
func (t *TunnelRecord) FindUser(username string) *UserRecord {
	for i := range t.Users {
		if t.Users[i].Username == username {
			return &t.Users[i]
		}
	}
	return nil
}

// SessionClaims is the decoded payload of a session token, binding exactly
// one tunnel and principal to an issuance time.
type SessionClaims struct {
	TunnelID string `json:"tunnel_id"`
	Username string `json:"username"`
	IssuedAt int64  `json:"issued_at"`
}

// ActivityEntry is a write-once audit record owned by the registry's storage.
type ActivityEntry struct {
	ID        string
	TunnelID  string
	Principal string
	Action    string
	Metadata  map[string]any
	CreatedAt time.Time
	ExpiresAt time.Time
}
