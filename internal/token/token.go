// Package token implements the session token codec. Tokens are compact,
// self-contained credentials binding one (tunnel, principal) pair to an
// issuance time, signed with a server-held key and never persisted.
package token

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"strings"
	"time"

	"github.com/tunnelgate/tunnelgate/internal/domain"
)

// Codec issues and validates session tokens. The zero value is not usable;
// construct with [New].
type Codec struct {
	secret []byte
	now    func() time.Time
}

// New returns a Codec signing with the given secret.
func New(secret string) *Codec {
	return &Codec{secret: []byte(secret), now: time.Now}
}

// NewWithClock is like [New] with an injected clock, for tests.
func NewWithClock(secret string, now func() time.Time) *Codec {
	return &Codec{secret: []byte(secret), now: now}
}

// Issue encodes claims for the tunnel and username as
// base64url(payload) "." base64url(mac), signed with a keyed HMAC-SHA256.
func (c *Codec) Issue(tunnelID, username string) (string, error) {
	claims := domain.SessionClaims{
		TunnelID: tunnelID,
		Username: username,
		IssuedAt: c.now().Unix(),
	}
	payload, err := json.Marshal(claims)
	if err != nil {
		return "", err
	}
	encoded := base64.RawURLEncoding.EncodeToString(payload)
	return encoded + "." + c.sign(payload), nil
}

// Validate decodes tok, checks its signature, tunnel binding, and freshness,
// and returns the embedded claims. Malformed input of any kind yields
// [domain.ErrInvalidToken]; Validate never panics.
func (c *Codec) Validate(tok, expectedTunnelID string) (domain.SessionClaims, error) {
	encoded, sig, ok := strings.Cut(tok, ".")
	if !ok || encoded == "" || sig == "" || strings.Contains(sig, ".") {
		return domain.SessionClaims{}, domain.ErrInvalidToken
	}

	payload, err := base64.RawURLEncoding.DecodeString(encoded)
	if err != nil {
		return domain.SessionClaims{}, domain.ErrInvalidToken
	}
	if !hmac.Equal([]byte(sig), []byte(c.sign(payload))) {
		return domain.SessionClaims{}, domain.ErrInvalidToken
	}

	var claims domain.SessionClaims
	if err := json.Unmarshal(payload, &claims); err != nil {
		return domain.SessionClaims{}, domain.ErrInvalidToken
	}
	if claims.TunnelID != expectedTunnelID {
		return domain.SessionClaims{}, domain.ErrInvalidToken
	}
	if c.now().Sub(time.Unix(claims.IssuedAt, 0)) > domain.SessionLifetime {
		return domain.SessionClaims{}, domain.ErrInvalidToken
	}
	return claims, nil
}

func (c *Codec) sign(payload []byte) string {
	mac := hmac.New(sha256.New, c.secret)
	_, _ = mac.Write(payload)
	return base64.RawURLEncoding.EncodeToString(mac.Sum(nil))
}
