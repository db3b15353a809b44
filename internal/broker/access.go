package broker

import (
	"context"

	"github.com/tunnelgate/tunnelgate/internal/auth"
	"github.com/tunnelgate/tunnelgate/internal/domain"
)

// Access decision states. NotFound, Inactive, and Rejected outcomes surface
// as sentinel errors instead.
const (
	StateAuthenticated = "authenticated"
	StateChallenged    = "challenged"
)

// AccessRequest carries everything one access attempt submits: an optional
// session token and optionally credentials. Single-user tunnels ignore
// Username.
type AccessRequest struct {
	TunnelID       string
	SessionToken   string
	Username       string
	Password       string
	HasCredentials bool
}

// Decision is the outcome of a successful (non-error) authorization pass.
type Decision struct {
	State       string
	Principal   string
	Permissions []string
	// IssuedToken is set only when this attempt authenticated with
	// credentials and a fresh session token was minted.
	IssuedToken string
	Record      domain.TunnelRecord
}

// Authorize runs the access state machine for one request.
//
// Entry order: absent tunnel fails with [domain.ErrTunnelNotFound]; an
// inactive tunnel with [domain.ErrTunnelInactive] regardless of credentials;
// a valid tunnel-matching session token authenticates directly without a
// password re-check; submitted credentials are verified against the stored
// digests; no credentials and no session yields a challenge, not an error.
//
// Counters, LastSeen, and LastAccess advance only on the success path, and
// exactly one activity entry is appended per credential attempt.
func (b *Broker) Authorize(ctx context.Context, req AccessRequest) (Decision, error) {
	rec, err := b.store.GetTunnel(ctx, req.TunnelID)
	if err != nil {
		return Decision{}, err
	}
	if !rec.Active {
		return Decision{}, domain.ErrTunnelInactive
	}

	if req.SessionToken != "" {
		if d, ok := b.resumeSession(rec, req.SessionToken); ok {
			return d, nil
		}
		// An invalid or expired token is not an error; the attempt falls
		// through to credentials or the challenge.
	}

	if req.HasCredentials {
		if rec.MultiUser() {
			return b.loginUser(ctx, rec, req.Username, req.Password)
		}
		return b.loginSingle(ctx, rec, req.Password)
	}

	return Decision{State: StateChallenged, Record: rec}, nil
}

func (b *Broker) resumeSession(rec domain.TunnelRecord, tok string) (Decision, bool) {
	claims, err := b.codec.Validate(tok, rec.TunnelID)
	if err != nil {
		return Decision{}, false
	}
	if rec.MultiUser() {
		user := rec.FindUser(claims.Username)
		if user == nil {
			return Decision{}, false
		}
		return Decision{
			State:       StateAuthenticated,
			Principal:   user.Username,
			Permissions: user.Permissions,
			Record:      rec,
		}, true
	}
	if claims.Username != domain.PrincipalAdmin {
		return Decision{}, false
	}
	return Decision{State: StateAuthenticated, Principal: domain.PrincipalAdmin, Record: rec}, true
}

func (b *Broker) loginUser(ctx context.Context, rec domain.TunnelRecord, username, password string) (Decision, error) {
	user := rec.FindUser(username)
	if user == nil {
		b.logActivity(ctx, rec.TunnelID, username, domain.ActionLoginFailed, map[string]any{"reason": "user_not_found"})
		return Decision{}, domain.ErrInvalidCredentials
	}
	if !auth.VerifyPasswordHash(user.PasswordHash, password) {
		b.logActivity(ctx, rec.TunnelID, username, domain.ActionLoginFailed, map[string]any{"reason": "wrong_password"})
		return Decision{}, domain.ErrInvalidCredentials
	}

	now := b.now().UTC()
	user.LastAccess = &now
	user.AccessCount++
	rec.TotalAccesses++
	rec.CurrentSessions++
	rec.LastSeen = now

	if err := b.store.PutTunnel(ctx, rec); err != nil {
		return Decision{}, &domain.TunnelError{TunnelID: rec.TunnelID, Op: "persist login", Err: err}
	}
	b.logActivity(ctx, rec.TunnelID, username, domain.ActionLoginSuccess, map[string]any{"permissions": user.Permissions})

	tok, err := b.codec.Issue(rec.TunnelID, username)
	if err != nil {
		return Decision{}, &domain.TunnelError{TunnelID: rec.TunnelID, Op: "issue session token", Err: err}
	}
	return Decision{
		State:       StateAuthenticated,
		Principal:   username,
		Permissions: user.Permissions,
		IssuedToken: tok,
		Record:      rec,
	}, nil
}

func (b *Broker) loginSingle(ctx context.Context, rec domain.TunnelRecord, password string) (Decision, error) {
	if !auth.VerifyPasswordHash(rec.PasswordHash, password) {
		b.logActivity(ctx, rec.TunnelID, domain.PrincipalAdmin, domain.ActionLoginFailed, map[string]any{"reason": "wrong_password"})
		return Decision{}, domain.ErrInvalidCredentials
	}

	rec.LastSeen = b.now().UTC()
	if err := b.store.PutTunnel(ctx, rec); err != nil {
		return Decision{}, &domain.TunnelError{TunnelID: rec.TunnelID, Op: "persist login", Err: err}
	}
	b.logActivity(ctx, rec.TunnelID, domain.PrincipalAdmin, domain.ActionLoginSuccess, nil)

	tok, err := b.codec.Issue(rec.TunnelID, domain.PrincipalAdmin)
	if err != nil {
		return Decision{}, &domain.TunnelError{TunnelID: rec.TunnelID, Op: "issue session token", Err: err}
	}
	return Decision{
		State:       StateAuthenticated,
		Principal:   domain.PrincipalAdmin,
		IssuedToken: tok,
		Record:      rec,
	}, nil
}
