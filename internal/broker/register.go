package broker

import (
	"context"

	"github.com/tunnelgate/tunnelgate/internal/auth"
	"github.com/tunnelgate/tunnelgate/internal/domain"
)

// Register validates and persists a new tunnel, single-user or multi-user.
// Validation failures surface as [domain.FieldError]; a taken tunnel ID as
// [domain.ErrTunnelExists].
func (b *Broker) Register(ctx context.Context, req domain.RegisterRequest) (domain.TunnelRecord, error) {
	if req.TunnelID == "" {
		return domain.TunnelRecord{}, &domain.FieldError{Field: "tunnelId"}
	}
	if req.Port == 0 {
		return domain.TunnelRecord{}, &domain.FieldError{Field: "port"}
	}
	if req.Port < 1 || req.Port > 65535 {
		return domain.TunnelRecord{}, &domain.FieldError{Field: "port", Reason: "must be between 1 and 65535"}
	}

	multiUser := req.AdminPassword != "" || len(req.Users) > 0
	if !multiUser && req.Password == "" {
		return domain.TunnelRecord{}, &domain.FieldError{Field: "password"}
	}
	if multiUser {
		if req.AdminPassword == "" {
			return domain.TunnelRecord{}, &domain.FieldError{Field: "adminPassword"}
		}
		if len(req.Users) == 0 {
			return domain.TunnelRecord{}, &domain.FieldError{Field: "users", Reason: "must be a non-empty list of {username, password}"}
		}
	}

	now := b.now().UTC()
	rec := domain.TunnelRecord{
		TunnelID:  req.TunnelID,
		Active:    true,
		Port:      req.Port,
		CreatedAt: now,
		LastSeen:  now,
	}
	if b.tunnelTTL > 0 {
		expires := now.Add(b.tunnelTTL)
		rec.ExpiresAt = &expires
	}

	if multiUser {
		rec.Description = req.Description
		if rec.Description == "" {
			rec.Description = "Multi-User Tunnel"
		}
		rec.MaxUsers = req.MaxUsers
		if rec.MaxUsers <= 0 {
			rec.MaxUsers = domain.DefaultMaxUsers
		}
		if len(req.Users) > rec.MaxUsers {
			return domain.TunnelRecord{}, &domain.FieldError{Field: "users", Reason: "exceeds maxUsers"}
		}

		adminHash, err := auth.HashPassword(req.AdminPassword)
		if err != nil {
			return domain.TunnelRecord{}, &domain.TunnelError{TunnelID: req.TunnelID, Op: "hash admin password", Err: err}
		}
		rec.AdminPasswordHash = adminHash

		seen := make(map[string]struct{}, len(req.Users))
		for _, u := range req.Users {
			if u.Username == "" || u.Password == "" {
				return domain.TunnelRecord{}, &domain.FieldError{Field: "users", Reason: "each entry needs username and password"}
			}
			if _, dup := seen[u.Username]; dup {
				return domain.TunnelRecord{}, &domain.FieldError{Field: "users", Reason: "duplicate username " + u.Username}
			}
			seen[u.Username] = struct{}{}

			hash, err := auth.HashPassword(u.Password)
			if err != nil {
				return domain.TunnelRecord{}, &domain.TunnelError{TunnelID: req.TunnelID, Op: "hash user password", Err: err}
			}
			perms := u.Permissions
			if len(perms) == 0 {
				perms = []string{"read"}
			}
			rec.Users = append(rec.Users, domain.UserRecord{
				Username:     u.Username,
				PasswordHash: hash,
				Permissions:  perms,
				CreatedAt:    now,
			})
		}
	} else {
		rec.Description = req.Description
		if rec.Description == "" {
			rec.Description = "Local Service"
		}
		hash, err := auth.HashPassword(req.Password)
		if err != nil {
			return domain.TunnelRecord{}, &domain.TunnelError{TunnelID: req.TunnelID, Op: "hash password", Err: err}
		}
		rec.PasswordHash = hash
	}

	if err := b.store.CreateTunnel(ctx, rec); err != nil {
		return domain.TunnelRecord{}, err
	}

	b.logActivity(ctx, rec.TunnelID, domain.PrincipalSystem, domain.ActionTunnelCreated, map[string]any{
		"user_count": len(rec.Users),
		"port":       rec.Port,
	})
	return rec, nil
}
