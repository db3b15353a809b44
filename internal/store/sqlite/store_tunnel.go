package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/tunnelgate/tunnelgate/internal/domain"
)

// CreateTunnel persists a new tunnel record and its users. Registration is
// conflict-detecting: an already-taken tunnel ID fails with
// [domain.ErrTunnelExists] rather than overwriting.
func (s *Store) CreateTunnel(ctx context.Context, rec domain.TunnelRecord) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.ExecContext(ctx, `
INSERT INTO tunnels(tunnel_id, active, port, description, password_hash, admin_password_hash, max_users, created_at, last_seen, total_accesses, current_sessions, expires_at)
VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.TunnelID, boolToInt(rec.Active), rec.Port, rec.Description,
		nullableString(rec.PasswordHash), nullableString(rec.AdminPasswordHash), rec.MaxUsers,
		rec.CreatedAt, rec.LastSeen, rec.TotalAccesses, rec.CurrentSessions, nullableTime(rec.ExpiresAt))
	if err != nil {
		if strings.Contains(strings.ToLower(err.Error()), "unique") {
			return domain.ErrTunnelExists
		}
		return err
	}

	if err := insertUsers(ctx, tx, rec.TunnelID, rec.Users); err != nil {
		return err
	}
	return tx.Commit()
}

// GetTunnel returns the full record including its ordered user list. Missing
// and TTL-expired tunnels both yield [domain.ErrTunnelNotFound].
func (s *Store) GetTunnel(ctx context.Context, tunnelID string) (domain.TunnelRecord, error) {
	var rec domain.TunnelRecord
	var active int
	var passwordHash, adminPasswordHash sql.NullString
	var expiresAt sql.NullTime

	err := s.db.QueryRowContext(ctx, `
SELECT tunnel_id, active, port, description, password_hash, admin_password_hash, max_users, created_at, last_seen, total_accesses, current_sessions, expires_at
FROM tunnels
WHERE tunnel_id = ?`, tunnelID).Scan(
		&rec.TunnelID, &active, &rec.Port, &rec.Description, &passwordHash, &adminPasswordHash,
		&rec.MaxUsers, &rec.CreatedAt, &rec.LastSeen, &rec.TotalAccesses, &rec.CurrentSessions, &expiresAt)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.TunnelRecord{}, domain.ErrTunnelNotFound
	}
	if err != nil {
		return domain.TunnelRecord{}, err
	}

	rec.Active = active != 0
	if passwordHash.Valid {
		rec.PasswordHash = passwordHash.String
	}
	if adminPasswordHash.Valid {
		rec.AdminPasswordHash = adminPasswordHash.String
	}
	if expiresAt.Valid {
		t := expiresAt.Time
		rec.ExpiresAt = &t
		if time.Now().UTC().After(t) {
			return domain.TunnelRecord{}, domain.ErrTunnelNotFound
		}
	}

	rec.Users, err = s.listUsers(ctx, tunnelID)
	if err != nil {
		return domain.TunnelRecord{}, err
	}
	return rec, nil
}

// PutTunnel replaces the whole stored record: the tunnel row plus its user
// rows in one transaction. There is no optimistic-concurrency token, so
// concurrent read-modify-write cycles are last-write-wins.
func (s *Store) PutTunnel(ctx context.Context, rec domain.TunnelRecord) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(ctx, `
UPDATE tunnels
SET active = ?, port = ?, description = ?, password_hash = ?, admin_password_hash = ?, max_users = ?,
    created_at = ?, last_seen = ?, total_accesses = ?, current_sessions = ?, expires_at = ?
WHERE tunnel_id = ?`,
		boolToInt(rec.Active), rec.Port, rec.Description,
		nullableString(rec.PasswordHash), nullableString(rec.AdminPasswordHash), rec.MaxUsers,
		rec.CreatedAt, rec.LastSeen, rec.TotalAccesses, rec.CurrentSessions, nullableTime(rec.ExpiresAt),
		rec.TunnelID)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return domain.ErrTunnelNotFound
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM tunnel_users WHERE tunnel_id = ?`, rec.TunnelID); err != nil {
		return err
	}
	if err := insertUsers(ctx, tx, rec.TunnelID, rec.Users); err != nil {
		return err
	}
	return tx.Commit()
}

// PurgeExpiredTunnels deletes tunnels whose TTL has passed, along with their
// user rows. Activity entries age out on their own retention.
func (s *Store) PurgeExpiredTunnels(ctx context.Context, now time.Time) (int64, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `
DELETE FROM tunnel_users
WHERE tunnel_id IN (SELECT tunnel_id FROM tunnels WHERE expires_at IS NOT NULL AND expires_at < ?)`, now.UTC()); err != nil {
		return 0, err
	}
	res, err := tx.ExecContext(ctx, `DELETE FROM tunnels WHERE expires_at IS NOT NULL AND expires_at < ?`, now.UTC())
	if err != nil {
		return 0, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return affected, nil
}

func (s *Store) listUsers(ctx context.Context, tunnelID string) ([]domain.UserRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT username, password_hash, permissions, created_at, last_access, access_count
FROM tunnel_users
WHERE tunnel_id = ?
ORDER BY position ASC`, tunnelID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []domain.UserRecord
	for rows.Next() {
		var u domain.UserRecord
		var perms string
		var lastAccess sql.NullTime
		if err := rows.Scan(&u.Username, &u.PasswordHash, &perms, &u.CreatedAt, &lastAccess, &u.AccessCount); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(perms), &u.Permissions); err != nil {
			return nil, err
		}
		if lastAccess.Valid {
			t := lastAccess.Time
			u.LastAccess = &t
		}
		out = append(out, u)
	}
	return out, rows.Err()
}

func insertUsers(ctx context.Context, tx *sql.Tx, tunnelID string, users []domain.UserRecord) error {
	for i, u := range users {
		perms, err := json.Marshal(u.Permissions)
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `
INSERT INTO tunnel_users(tunnel_id, position, username, password_hash, permissions, created_at, last_access, access_count)
VALUES(?, ?, ?, ?, ?, ?, ?, ?)`,
			tunnelID, i, u.Username, u.PasswordHash, string(perms), u.CreatedAt, nullableTime(u.LastAccess), u.AccessCount); err != nil {
			if strings.Contains(strings.ToLower(err.Error()), "unique") {
				return domain.ErrUserExists
			}
			return err
		}
	}
	return nil
}

func nullableTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UTC()
}
