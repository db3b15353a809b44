package sqlite

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/tunnelgate/tunnelgate/internal/domain"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func testTunnel(id string) domain.TunnelRecord {
	now := time.Now().UTC().Truncate(time.Second)
	return domain.TunnelRecord{
		TunnelID:     id,
		Active:       true,
		Port:         3000,
		Description:  "Local Service",
		CreatedAt:    now,
		LastSeen:     now,
		PasswordHash: "$2a$10$fakefakefakefakefakefake",
	}
}

func TestCreateAndGetTunnel(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	rec := testTunnel("swift-river-1")
	if err := store.CreateTunnel(ctx, rec); err != nil {
		t.Fatal(err)
	}

	got, err := store.GetTunnel(ctx, "swift-river-1")
	if err != nil {
		t.Fatal(err)
	}
	if got.TunnelID != rec.TunnelID || got.Port != rec.Port || !got.Active {
		t.Fatalf("round trip mismatch: %+v", got)
	}
	if got.MultiUser() {
		t.Fatal("single-user tunnel reported as multi-user")
	}
}

func TestCreateTunnelConflict(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	if err := store.CreateTunnel(ctx, testTunnel("swift-river-1")); err != nil {
		t.Fatal(err)
	}
	err := store.CreateTunnel(ctx, testTunnel("swift-river-1"))
	if !errors.Is(err, domain.ErrTunnelExists) {
		t.Fatalf("expected ErrTunnelExists, got %v", err)
	}
}

func TestGetTunnelNotFound(t *testing.T) {
	store := openTestStore(t)

	_, err := store.GetTunnel(context.Background(), "no-such-tunnel")
	if !errors.Is(err, domain.ErrTunnelNotFound) {
		t.Fatalf("expected ErrTunnelNotFound, got %v", err)
	}
}

func TestMultiUserTunnelPreservesUserOrder(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Second)

	rec := testTunnel("bold-ocean-2")
	rec.PasswordHash = ""
	rec.AdminPasswordHash = "adminhash"
	rec.MaxUsers = 5
	rec.Users = []domain.UserRecord{
		{Username: "alice", PasswordHash: "h1", Permissions: []string{"read", "write"}, CreatedAt: now},
		{Username: "bob", PasswordHash: "h2", Permissions: []string{"read"}, CreatedAt: now},
	}
	if err := store.CreateTunnel(ctx, rec); err != nil {
		t.Fatal(err)
	}

	got, err := store.GetTunnel(ctx, "bold-ocean-2")
	if err != nil {
		t.Fatal(err)
	}
	if !got.MultiUser() {
		t.Fatal("expected multi-user tunnel")
	}
	if len(got.Users) != 2 || got.Users[0].Username != "alice" || got.Users[1].Username != "bob" {
		t.Fatalf("user order not preserved: %+v", got.Users)
	}
	if len(got.Users[0].Permissions) != 2 {
		t.Fatalf("permissions lost: %+v", got.Users[0])
	}
}

func TestCreateTunnelDuplicateUser(t *testing.T) {
	store := openTestStore(t)
	now := time.Now().UTC()

	rec := testTunnel("gamma-delta-3")
	rec.PasswordHash = ""
	rec.AdminPasswordHash = "adminhash"
	rec.Users = []domain.UserRecord{
		{Username: "alice", PasswordHash: "h1", Permissions: []string{"read"}, CreatedAt: now},
		{Username: "alice", PasswordHash: "h2", Permissions: []string{"read"}, CreatedAt: now},
	}
	err := store.CreateTunnel(context.Background(), rec)
	if !errors.Is(err, domain.ErrUserExists) {
		t.Fatalf("expected ErrUserExists, got %v", err)
	}
}

func TestPutTunnelReplacesRecord(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Second)

	rec := testTunnel("omega-sigma-4")
	rec.PasswordHash = ""
	rec.AdminPasswordHash = "adminhash"
	rec.MaxUsers = 3
	rec.Users = []domain.UserRecord{
		{Username: "alice", PasswordHash: "h1", Permissions: []string{"read"}, CreatedAt: now},
	}
	if err := store.CreateTunnel(ctx, rec); err != nil {
		t.Fatal(err)
	}

	rec.TotalAccesses = 7
	rec.Users[0].AccessCount = 7
	last := now.Add(time.Minute)
	rec.Users[0].LastAccess = &last
	rec.Users = append(rec.Users, domain.UserRecord{
		Username: "bob", PasswordHash: "h2", Permissions: []string{"read"}, CreatedAt: now,
	})
	if err := store.PutTunnel(ctx, rec); err != nil {
		t.Fatal(err)
	}

	got, err := store.GetTunnel(ctx, "omega-sigma-4")
	if err != nil {
		t.Fatal(err)
	}
	if got.TotalAccesses != 7 || len(got.Users) != 2 {
		t.Fatalf("update not applied: %+v", got)
	}
	if got.Users[0].AccessCount != 7 || got.Users[0].LastAccess == nil {
		t.Fatalf("user counters not applied: %+v", got.Users[0])
	}
}

// Two callers that both read the record before either writes it back will
// overwrite each other: PutTunnel replaces the whole record with no version
// check, so the later write wins.
func TestPutTunnelLastWriteWins(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Second)

	rec := testTunnel("alpha-beta-6")
	rec.PasswordHash = ""
	rec.AdminPasswordHash = "adminhash"
	rec.MaxUsers = 5
	rec.Users = []domain.UserRecord{
		{Username: "alice", PasswordHash: "h1", Permissions: []string{"read"}, CreatedAt: now},
	}
	if err := store.CreateTunnel(ctx, rec); err != nil {
		t.Fatal(err)
	}

	first, err := store.GetTunnel(ctx, "alpha-beta-6")
	if err != nil {
		t.Fatal(err)
	}
	second, err := store.GetTunnel(ctx, "alpha-beta-6")
	if err != nil {
		t.Fatal(err)
	}

	first.Users = append(first.Users, domain.UserRecord{
		Username: "bob", PasswordHash: "h2", Permissions: []string{"read"}, CreatedAt: now,
	})
	if err := store.PutTunnel(ctx, first); err != nil {
		t.Fatal(err)
	}

	second.Users = append(second.Users, domain.UserRecord{
		Username: "carol", PasswordHash: "h3", Permissions: []string{"read"}, CreatedAt: now,
	})
	if err := store.PutTunnel(ctx, second); err != nil {
		t.Fatal(err)
	}

	got, err := store.GetTunnel(ctx, "alpha-beta-6")
	if err != nil {
		t.Fatal(err)
	}
	if len(got.Users) != 2 || got.FindUser("bob") != nil || got.FindUser("carol") == nil {
		t.Fatalf("expected the second write to win wholesale, got %+v", got.Users)
	}
}

func TestPutTunnelMissing(t *testing.T) {
	store := openTestStore(t)

	err := store.PutTunnel(context.Background(), testTunnel("never-created-9"))
	if !errors.Is(err, domain.ErrTunnelNotFound) {
		t.Fatalf("expected ErrTunnelNotFound, got %v", err)
	}
}

func TestExpiredTunnelHiddenAndPurged(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	rec := testTunnel("phoenix-dragon-5")
	past := time.Now().UTC().Add(-time.Hour)
	rec.ExpiresAt = &past
	if err := store.CreateTunnel(ctx, rec); err != nil {
		t.Fatal(err)
	}

	if _, err := store.GetTunnel(ctx, "phoenix-dragon-5"); !errors.Is(err, domain.ErrTunnelNotFound) {
		t.Fatalf("expected expired tunnel to be hidden, got %v", err)
	}

	n, err := store.PurgeExpiredTunnels(ctx, time.Now().UTC())
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Fatalf("expected 1 purged tunnel, got %d", n)
	}
}

func TestActivityAppendListPurge(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Second)

	entries := []domain.ActivityEntry{
		{TunnelID: "swift-river-1", Principal: "alice", Action: domain.ActionLoginSuccess,
			Metadata: map[string]any{"permissions": []string{"read"}}, CreatedAt: now.Add(-time.Minute), ExpiresAt: now.Add(domain.ActivityRetention)},
		{TunnelID: "swift-river-1", Principal: "bob", Action: domain.ActionLoginFailed,
			CreatedAt: now, ExpiresAt: now.Add(domain.ActivityRetention)},
		{TunnelID: "other-tunnel-2", Principal: "carol", Action: domain.ActionLoginSuccess,
			CreatedAt: now, ExpiresAt: now.Add(domain.ActivityRetention)},
		{TunnelID: "swift-river-1", Principal: "old", Action: domain.ActionLoginFailed,
			CreatedAt: now.Add(-8 * 24 * time.Hour), ExpiresAt: now.Add(-24 * time.Hour)},
	}
	for _, e := range entries {
		if err := store.AppendActivity(ctx, e); err != nil {
			t.Fatal(err)
		}
	}

	got, err := store.ListActivity(ctx, "swift-river-1", 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 live entries for tunnel, got %d", len(got))
	}
	if got[0].Principal != "bob" {
		t.Fatalf("expected newest entry first, got %+v", got[0])
	}
	if got[0].Action != domain.ActionLoginFailed {
		t.Fatalf("unexpected action: %s", got[0].Action)
	}

	n, err := store.PurgeExpiredActivity(ctx, now)
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Fatalf("expected 1 purged activity entry, got %d", n)
	}
}

func TestResolveSessionSecret(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	first, err := store.ResolveSessionSecret(ctx, "")
	if err != nil {
		t.Fatal(err)
	}
	if first == "" {
		t.Fatal("expected a generated secret")
	}

	second, err := store.ResolveSessionSecret(ctx, "")
	if err != nil {
		t.Fatal(err)
	}
	if second != first {
		t.Fatal("secret not stable across restarts")
	}

	if _, err := store.ResolveSessionSecret(ctx, "different-secret"); err == nil {
		t.Fatal("expected mismatch error for conflicting configured secret")
	}
}
