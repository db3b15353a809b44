// Package access holds the cookie and form field names shared by the tunnel
// gate handlers and their tests.
package access

const (
	FormUserField     = "username"
	FormPasswordField = "password"

	sessionCookiePrefix = "tunnel-session-"
	authCookiePrefix    = "tunnel-auth-"
)

// SessionCookieName returns the per-tunnel session cookie name used by
// multi-user tunnels.
func SessionCookieName(tunnelID string) string {
	return sessionCookiePrefix + tunnelID
}

// AuthCookieName returns the per-tunnel auth cookie name used by single-user
// tunnels.
func AuthCookieName(tunnelID string) string {
	return authCookiePrefix + tunnelID
}
