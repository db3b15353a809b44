package broker

import (
	"context"
	"time"

	"github.com/tunnelgate/tunnelgate/internal/auth"
	"github.com/tunnelgate/tunnelgate/internal/domain"
)

// adminGate loads the tunnel and verifies the admin credential. Single-user
// tunnels expose no administration surface and fail the gate.
func (b *Broker) adminGate(ctx context.Context, tunnelID, adminPassword string) (domain.TunnelRecord, error) {
	rec, err := b.store.GetTunnel(ctx, tunnelID)
	if err != nil {
		return domain.TunnelRecord{}, err
	}
	if !rec.MultiUser() {
		return domain.TunnelRecord{}, domain.ErrUnauthorized
	}
	if !auth.VerifyPasswordHash(rec.AdminPasswordHash, adminPassword) {
		return domain.TunnelRecord{}, domain.ErrUnauthorized
	}
	return rec, nil
}

// ListUsers returns the tunnel's users for admin display. Stored digests are
// never included in the returned views.
func (b *Broker) ListUsers(ctx context.Context, tunnelID, adminPassword string) (domain.UserListResponse, error) {
	rec, err := b.adminGate(ctx, tunnelID, adminPassword)
	if err != nil {
		return domain.UserListResponse{}, err
	}

	views := make([]domain.UserView, 0, len(rec.Users))
	for _, u := range rec.Users {
		v := domain.UserView{
			Username:    u.Username,
			Permissions: u.Permissions,
			CreatedAt:   u.CreatedAt.Format(time.RFC3339),
			AccessCount: u.AccessCount,
		}
		if u.LastAccess != nil {
			v.LastAccess = u.LastAccess.Format(time.RFC3339)
		}
		views = append(views, v)
	}
	return domain.UserListResponse{
		Users:           views,
		TotalUsers:      len(rec.Users),
		MaxUsers:        rec.MaxUsers,
		CurrentSessions: rec.CurrentSessions,
	}, nil
}

// AddUser appends a user under the tunnel, enforcing username uniqueness and
// the maxUsers ceiling strictly.
func (b *Broker) AddUser(ctx context.Context, tunnelID, adminPassword string, req domain.AddUserRequest) error {
	rec, err := b.adminGate(ctx, tunnelID, adminPassword)
	if err != nil {
		return err
	}
	if req.Username == "" || req.Password == "" {
		return &domain.FieldError{Field: "username", Reason: "username and password required"}
	}
	if rec.FindUser(req.Username) != nil {
		return domain.ErrUserExists
	}
	if len(rec.Users) >= rec.MaxUsers {
		return domain.ErrMaxUsersReached
	}

	hash, err := auth.HashPassword(req.Password)
	if err != nil {
		return &domain.TunnelError{TunnelID: tunnelID, Op: "hash user password", Err: err}
	}
	perms := req.Permissions
	if len(perms) == 0 {
		perms = []string{"read"}
	}
	rec.Users = append(rec.Users, domain.UserRecord{
		Username:     req.Username,
		PasswordHash: hash,
		Permissions:  perms,
		CreatedAt:    b.now().UTC(),
	})

	if err := b.store.PutTunnel(ctx, rec); err != nil {
		return &domain.TunnelError{TunnelID: tunnelID, Op: "persist user", Err: err}
	}
	b.logActivity(ctx, tunnelID, domain.PrincipalAdmin, domain.ActionUserAdded, map[string]any{"username": req.Username})
	return nil
}

// Activity returns recent audit entries for the tunnel, gated by the admin
// credential.
func (b *Broker) Activity(ctx context.Context, tunnelID, adminPassword string, limit int) ([]domain.ActivityEntry, error) {
	if _, err := b.adminGate(ctx, tunnelID, adminPassword); err != nil {
		return nil, err
	}
	return b.store.ListActivity(ctx, tunnelID, limit)
}
