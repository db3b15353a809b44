// Package domain defines the core data types shared across the tunnelgate
// broker, store, and HTTP layers.
package domain

// RegisterUser is one entry of the users list in a multi-user registration.
type RegisterUser struct {
	Username    string   `json:"username"`
	Password    string   `json:"password"`
	Permissions []string `json:"permissions,omitempty"`
}

// RegisterRequest is the JSON body sent to create a new tunnel. Either
// Password (single-user) or AdminPassword plus a non-empty Users list
// (multi-user) must be present.
type RegisterRequest struct {
	TunnelID      string         `json:"tunnelId"`
	Password      string         `json:"password,omitempty"`
	AdminPassword string         `json:"adminPassword,omitempty"`
	Users         []RegisterUser `json:"users,omitempty"`
	Port          int            `json:"port"`
	Description   string         `json:"description,omitempty"`
	MaxUsers      int            `json:"maxUsers,omitempty"`
}

// RegisterResponse is returned on successful tunnel registration.
type RegisterResponse struct {
	Success   bool   `json:"success"`
	TunnelID  string `json:"tunnelId"`
	TunnelURL string `json:"tunnelUrl"`
	UserCount int    `json:"userCount,omitempty"`
	AdminURL  string `json:"adminUrl,omitempty"`
	Message   string `json:"message"`
}

// StatusResponse is the public view of a tunnel returned by the status API.
type StatusResponse struct {
	TunnelID    string `json:"tunnelId"`
	Active      bool   `json:"active"`
	Port        int    `json:"port"`
	Description string `json:"description"`
	CreatedAt   string `json:"createdAt"`
	LastSeen    string `json:"lastSeen"`
}

// UserView is a user as exposed to admins. Password digests never appear
// here.
type UserView struct {
	Username    string   `json:"username"`
	Permissions []string `json:"permissions"`
	CreatedAt   string   `json:"createdAt"`
	LastAccess  string   `json:"lastAccess,omitempty"`
	AccessCount int      `json:"accessCount"`
}

// UserListResponse is returned by the user listing API.
type UserListResponse struct {
	Users           []UserView `json:"users"`
	TotalUsers      int        `json:"totalUsers"`
	MaxUsers        int        `json:"maxUsers"`
	CurrentSessions int        `json:"currentSessions"`
}

// AddUserRequest is the JSON body for adding a user to a multi-user tunnel.
type AddUserRequest struct {
	Username    string   `json:"username"`
	Password    string   `json:"password"`
	Permissions []string `json:"permissions,omitempty"`
}

// ActivityView is one activity entry as exposed to admins.
type ActivityView struct {
	Timestamp string         `json:"timestamp"`
	TunnelID  string         `json:"tunnelId"`
	Principal string         `json:"principal"`
	Action    string         `json:"action"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

// ErrorResponse is the JSON body returned for structured errors.
type ErrorResponse struct {
	Error string `json:"error"`
}
