package sqlite

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/tunnelgate/tunnelgate/internal/domain"
)

// AppendActivity records a security-relevant event. Entries are write-once
// and disappear after their retention window.
func (s *Store) AppendActivity(ctx context.Context, entry domain.ActivityEntry) error {
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	if entry.Metadata == nil {
		entry.Metadata = map[string]any{}
	}
	meta, err := json.Marshal(entry.Metadata)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
INSERT INTO activity(id, tunnel_id, principal, action, metadata, created_at, expires_at)
VALUES(?, ?, ?, ?, ?, ?, ?)`,
		entry.ID, entry.TunnelID, entry.Principal, entry.Action, string(meta),
		entry.CreatedAt.UTC(), entry.ExpiresAt.UTC())
	return err
}

// ListActivity returns up to limit non-expired entries for the tunnel,
// newest first.
func (s *Store) ListActivity(ctx context.Context, tunnelID string, limit int) ([]domain.ActivityEntry, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx, `
SELECT id, tunnel_id, principal, action, metadata, created_at, expires_at
FROM activity
WHERE tunnel_id = ? AND expires_at > ?
ORDER BY created_at DESC
LIMIT ?`, tunnelID, time.Now().UTC(), limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []domain.ActivityEntry
	for rows.Next() {
		var e domain.ActivityEntry
		var meta string
		if err := rows.Scan(&e.ID, &e.TunnelID, &e.Principal, &e.Action, &meta, &e.CreatedAt, &e.ExpiresAt); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(meta), &e.Metadata); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// PurgeExpiredActivity deletes entries past their retention window.
func (s *Store) PurgeExpiredActivity(ctx context.Context, now time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM activity WHERE expires_at <= ?`, now.UTC())
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
