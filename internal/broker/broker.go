// Package broker implements the access-control engine: tunnel registration,
// credential verification, session issuance, per-user usage tracking, and
// activity logging. It orchestrates the registry, hasher, and token codec;
// the HTTP layer above it is a thin mapping onto this package.
package broker

import (
	"context"
	"log/slog"
	"time"

	"github.com/tunnelgate/tunnelgate/internal/domain"
	"github.com/tunnelgate/tunnelgate/internal/store/sqlite"
	"github.com/tunnelgate/tunnelgate/internal/token"
)

// Broker answers "is this request authorized for this tunnel, and as whom"
// and owns every mutation of registry records.
type Broker struct {
	store     *sqlite.Store
	codec     *token.Codec
	log       *slog.Logger
	now       func() time.Time
	tunnelTTL time.Duration
}

// Options tunes broker construction.
type Options struct {
	// TunnelTTL, when positive, expires registrations after the given
	// duration. Zero keeps records until explicitly deactivated.
	TunnelTTL time.Duration

	// Clock overrides time.Now, for tests.
	Clock func() time.Time
}

// New constructs a Broker over the given store and session codec.
func New(store *sqlite.Store, codec *token.Codec, logger *slog.Logger, opts Options) *Broker {
	now := opts.Clock
	if now == nil {
		now = time.Now
	}
	return &Broker{
		store:     store,
		codec:     codec,
		log:       logger,
		now:       now,
		tunnelTTL: opts.TunnelTTL,
	}
}

// Status returns the tunnel record for status reporting.
func (b *Broker) Status(ctx context.Context, tunnelID string) (domain.TunnelRecord, error) {
	return b.store.GetTunnel(ctx, tunnelID)
}

// Cleanup purges TTL-expired tunnels and aged-out activity entries. Run it
// periodically from a janitor goroutine.
func (b *Broker) Cleanup(ctx context.Context) (tunnels, activity int64, err error) {
	now := b.now()
	tunnels, err = b.store.PurgeExpiredTunnels(ctx, now)
	if err != nil {
		return tunnels, 0, err
	}
	activity, err = b.store.PurgeExpiredActivity(ctx, now)
	return tunnels, activity, err
}

// logActivity appends an audit entry. Logging failures must never mask the
// auth decision they accompany, so errors are warned and swallowed.
func (b *Broker) logActivity(ctx context.Context, tunnelID, principal, action string, metadata map[string]any) {
	now := b.now().UTC()
	err := b.store.AppendActivity(ctx, domain.ActivityEntry{
		TunnelID:  tunnelID,
		Principal: principal,
		Action:    action,
		Metadata:  metadata,
		CreatedAt: now,
		ExpiresAt: now.Add(domain.ActivityRetention),
	})
	if err != nil && b.log != nil {
		b.log.Warn("activity log append failed", "tunnel_id", tunnelID, "action", action, "err", err)
	}
}
