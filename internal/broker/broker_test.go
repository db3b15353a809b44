package broker

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/tunnelgate/tunnelgate/internal/domain"
	"github.com/tunnelgate/tunnelgate/internal/store/sqlite"
	"github.com/tunnelgate/tunnelgate/internal/token"
)

func newTestBroker(t *testing.T, opts Options) (*Broker, *sqlite.Store) {
	t.Helper()
	store, err := sqlite.Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = store.Close() })

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	codec := token.New("test-secret")
	if opts.Clock != nil {
		codec = token.NewWithClock("test-secret", opts.Clock)
	}
	return New(store, codec, logger, opts), store
}

func TestRegisterSingleUserDefaults(t *testing.T) {
	b, _ := newTestBroker(t, Options{})
	ctx := context.Background()

	rec, err := b.Register(ctx, domain.RegisterRequest{
		TunnelID: "swift-river-1",
		Password: "hunter2",
		Port:     3000,
	})
	if err != nil {
		t.Fatal(err)
	}
	if !rec.Active {
		t.Fatal("new tunnel should be active")
	}
	if rec.Description != "Local Service" {
		t.Fatalf("expected default description, got %q", rec.Description)
	}
	if rec.MultiUser() {
		t.Fatal("single-user tunnel reported as multi-user")
	}
	if rec.PasswordHash == "hunter2" || rec.PasswordHash == "" {
		t.Fatal("password must be stored as a digest")
	}
	if rec.ExpiresAt != nil {
		t.Fatal("no TTL configured, record should be permanent")
	}
}

func TestRegisterMultiUserDefaults(t *testing.T) {
	b, _ := newTestBroker(t, Options{})

	rec, err := b.Register(context.Background(), domain.RegisterRequest{
		TunnelID:      "bold-ocean-2",
		AdminPassword: "admin-secret",
		Users: []domain.RegisterUser{
			{Username: "alice", Password: "pw1"},
		},
		Port: 8080,
	})
	if err != nil {
		t.Fatal(err)
	}
	if rec.Description != "Multi-User Tunnel" {
		t.Fatalf("expected default description, got %q", rec.Description)
	}
	if rec.MaxUsers != domain.DefaultMaxUsers {
		t.Fatalf("expected default maxUsers %d, got %d", domain.DefaultMaxUsers, rec.MaxUsers)
	}
	if len(rec.Users) != 1 || len(rec.Users[0].Permissions) != 1 || rec.Users[0].Permissions[0] != "read" {
		t.Fatalf("expected default read permission, got %+v", rec.Users)
	}
}

func TestRegisterValidation(t *testing.T) {
	b, _ := newTestBroker(t, Options{})
	ctx := context.Background()

	cases := []struct {
		name string
		req  domain.RegisterRequest
	}{
		{"missing id", domain.RegisterRequest{Password: "pw", Port: 3000}},
		{"missing port", domain.RegisterRequest{TunnelID: "t", Password: "pw"}},
		{"port out of range", domain.RegisterRequest{TunnelID: "t", Password: "pw", Port: 70000}},
		{"missing password", domain.RegisterRequest{TunnelID: "t", Port: 3000}},
		{"users without admin password", domain.RegisterRequest{TunnelID: "t", Port: 3000,
			Users: []domain.RegisterUser{{Username: "a", Password: "p"}}}},
		{"admin password without users", domain.RegisterRequest{TunnelID: "t", Port: 3000,
			AdminPassword: "ap"}},
		{"users exceed maxUsers", domain.RegisterRequest{TunnelID: "t", Port: 3000,
			AdminPassword: "ap", MaxUsers: 1,
			Users: []domain.RegisterUser{{Username: "a", Password: "p"}, {Username: "b", Password: "p"}}}},
		{"duplicate usernames", domain.RegisterRequest{TunnelID: "t", Port: 3000,
			AdminPassword: "ap",
			Users: []domain.RegisterUser{{Username: "a", Password: "p"}, {Username: "a", Password: "q"}}}},
		{"user without password", domain.RegisterRequest{TunnelID: "t", Port: 3000,
			AdminPassword: "ap", Users: []domain.RegisterUser{{Username: "a"}}}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := b.Register(ctx, tc.req)
			var fieldErr *domain.FieldError
			if !errors.As(err, &fieldErr) {
				t.Fatalf("expected FieldError, got %v", err)
			}
		})
	}
}

func TestRegisterConflict(t *testing.T) {
	b, _ := newTestBroker(t, Options{})
	ctx := context.Background()

	req := domain.RegisterRequest{TunnelID: "swift-river-1", Password: "pw", Port: 3000}
	if _, err := b.Register(ctx, req); err != nil {
		t.Fatal(err)
	}
	if _, err := b.Register(ctx, req); !errors.Is(err, domain.ErrTunnelExists) {
		t.Fatalf("expected ErrTunnelExists, got %v", err)
	}
}

func TestMultiUserAccessFlow(t *testing.T) {
	b, _ := newTestBroker(t, Options{})
	ctx := context.Background()

	_, err := b.Register(ctx, domain.RegisterRequest{
		TunnelID:      "team-tunnel-1",
		AdminPassword: "admin-secret",
		MaxUsers:      2,
		Users: []domain.RegisterUser{
			{Username: "alice", Password: "alice-pw", Permissions: []string{"read", "write"}},
			{Username: "bob", Password: "bob-pw"},
		},
		Port: 8080,
	})
	if err != nil {
		t.Fatal(err)
	}

	// Unknown user.
	_, err = b.Authorize(ctx, AccessRequest{
		TunnelID: "team-tunnel-1", Username: "carol", Password: "whatever", HasCredentials: true,
	})
	if !errors.Is(err, domain.ErrInvalidCredentials) {
		t.Fatalf("expected ErrInvalidCredentials for unknown user, got %v", err)
	}

	// Wrong password leaves counters untouched.
	_, err = b.Authorize(ctx, AccessRequest{
		TunnelID: "team-tunnel-1", Username: "alice", Password: "wrong", HasCredentials: true,
	})
	if !errors.Is(err, domain.ErrInvalidCredentials) {
		t.Fatalf("expected ErrInvalidCredentials for wrong password, got %v", err)
	}
	rec, err := b.Status(ctx, "team-tunnel-1")
	if err != nil {
		t.Fatal(err)
	}
	if rec.TotalAccesses != 0 || rec.FindUser("alice").AccessCount != 0 {
		t.Fatalf("failed login must not advance counters: %+v", rec)
	}

	// Correct credentials authenticate, mint a token, advance counters.
	d, err := b.Authorize(ctx, AccessRequest{
		TunnelID: "team-tunnel-1", Username: "alice", Password: "alice-pw", HasCredentials: true,
	})
	if err != nil {
		t.Fatal(err)
	}
	if d.State != StateAuthenticated || d.Principal != "alice" || d.IssuedToken == "" {
		t.Fatalf("unexpected decision: %+v", d)
	}
	if len(d.Permissions) != 2 {
		t.Fatalf("expected alice's permissions, got %v", d.Permissions)
	}
	rec, err = b.Status(ctx, "team-tunnel-1")
	if err != nil {
		t.Fatal(err)
	}
	alice := rec.FindUser("alice")
	if rec.TotalAccesses != 1 || alice.AccessCount != 1 || alice.LastAccess == nil {
		t.Fatalf("success login must advance counters: total=%d user=%+v", rec.TotalAccesses, alice)
	}

	// Session resume skips the password check and does not advance counters.
	d2, err := b.Authorize(ctx, AccessRequest{
		TunnelID: "team-tunnel-1", SessionToken: d.IssuedToken,
	})
	if err != nil {
		t.Fatal(err)
	}
	if d2.State != StateAuthenticated || d2.Principal != "alice" || d2.IssuedToken != "" {
		t.Fatalf("unexpected resume decision: %+v", d2)
	}
	rec, _ = b.Status(ctx, "team-tunnel-1")
	if rec.TotalAccesses != 1 {
		t.Fatalf("session resume must not advance counters, got %d", rec.TotalAccesses)
	}

	// A token for one tunnel does not open another.
	if _, err := b.Register(ctx, domain.RegisterRequest{
		TunnelID: "other-tunnel-2", Password: "pw", Port: 9090,
	}); err != nil {
		t.Fatal(err)
	}
	d3, err := b.Authorize(ctx, AccessRequest{
		TunnelID: "other-tunnel-2", SessionToken: d.IssuedToken,
	})
	if err != nil {
		t.Fatal(err)
	}
	if d3.State != StateChallenged {
		t.Fatalf("cross-tunnel token must fall back to challenge, got %+v", d3)
	}
}

func TestSingleUserAccessFlow(t *testing.T) {
	b, _ := newTestBroker(t, Options{})
	ctx := context.Background()

	if _, err := b.Register(ctx, domain.RegisterRequest{
		TunnelID: "solo-tunnel-1", Password: "hunter2", Port: 3000,
	}); err != nil {
		t.Fatal(err)
	}

	// No token, no credentials: challenge.
	d, err := b.Authorize(ctx, AccessRequest{TunnelID: "solo-tunnel-1"})
	if err != nil {
		t.Fatal(err)
	}
	if d.State != StateChallenged {
		t.Fatalf("expected challenge, got %+v", d)
	}

	_, err = b.Authorize(ctx, AccessRequest{
		TunnelID: "solo-tunnel-1", Password: "wrong", HasCredentials: true,
	})
	if !errors.Is(err, domain.ErrInvalidCredentials) {
		t.Fatalf("expected ErrInvalidCredentials, got %v", err)
	}

	d, err = b.Authorize(ctx, AccessRequest{
		TunnelID: "solo-tunnel-1", Password: "hunter2", HasCredentials: true,
	})
	if err != nil {
		t.Fatal(err)
	}
	if d.Principal != domain.PrincipalAdmin || d.IssuedToken == "" {
		t.Fatalf("unexpected decision: %+v", d)
	}

	d, err = b.Authorize(ctx, AccessRequest{
		TunnelID: "solo-tunnel-1", SessionToken: d.IssuedToken,
	})
	if err != nil {
		t.Fatal(err)
	}
	if d.State != StateAuthenticated || d.Principal != domain.PrincipalAdmin {
		t.Fatalf("unexpected resume decision: %+v", d)
	}
}

func TestAuthorizeUnknownAndInactive(t *testing.T) {
	b, store := newTestBroker(t, Options{})
	ctx := context.Background()

	_, err := b.Authorize(ctx, AccessRequest{TunnelID: "no-such-tunnel"})
	if !errors.Is(err, domain.ErrTunnelNotFound) {
		t.Fatalf("expected ErrTunnelNotFound, got %v", err)
	}

	rec, err := b.Register(ctx, domain.RegisterRequest{
		TunnelID: "paused-tunnel-1", Password: "pw", Port: 3000,
	})
	if err != nil {
		t.Fatal(err)
	}
	rec.Active = false
	if err := store.PutTunnel(ctx, rec); err != nil {
		t.Fatal(err)
	}

	// Inactive wins even over valid credentials.
	_, err = b.Authorize(ctx, AccessRequest{
		TunnelID: "paused-tunnel-1", Password: "pw", HasCredentials: true,
	})
	if !errors.Is(err, domain.ErrTunnelInactive) {
		t.Fatalf("expected ErrTunnelInactive, got %v", err)
	}
}

func TestUserAdministration(t *testing.T) {
	b, _ := newTestBroker(t, Options{})
	ctx := context.Background()

	if _, err := b.Register(ctx, domain.RegisterRequest{
		TunnelID:      "team-tunnel-1",
		AdminPassword: "admin-secret",
		MaxUsers:      2,
		Users:         []domain.RegisterUser{{Username: "alice", Password: "pw1"}},
		Port:          8080,
	}); err != nil {
		t.Fatal(err)
	}

	if _, err := b.ListUsers(ctx, "team-tunnel-1", "wrong"); !errors.Is(err, domain.ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized for wrong admin password, got %v", err)
	}

	list, err := b.ListUsers(ctx, "team-tunnel-1", "admin-secret")
	if err != nil {
		t.Fatal(err)
	}
	if list.TotalUsers != 1 || list.MaxUsers != 2 || len(list.Users) != 1 {
		t.Fatalf("unexpected list: %+v", list)
	}
	if list.Users[0].LastAccess != "" {
		t.Fatalf("never-authenticated user must have empty lastAccess: %+v", list.Users[0])
	}

	if err := b.AddUser(ctx, "team-tunnel-1", "admin-secret", domain.AddUserRequest{
		Username: "alice", Password: "other",
	}); !errors.Is(err, domain.ErrUserExists) {
		t.Fatalf("expected ErrUserExists, got %v", err)
	}

	if err := b.AddUser(ctx, "team-tunnel-1", "admin-secret", domain.AddUserRequest{
		Username: "bob", Password: "pw2",
	}); err != nil {
		t.Fatal(err)
	}

	if err := b.AddUser(ctx, "team-tunnel-1", "admin-secret", domain.AddUserRequest{
		Username: "carol", Password: "pw3",
	}); !errors.Is(err, domain.ErrMaxUsersReached) {
		t.Fatalf("expected ErrMaxUsersReached, got %v", err)
	}

	// Single-user tunnels expose no admin surface at all.
	if _, err := b.Register(ctx, domain.RegisterRequest{
		TunnelID: "solo-tunnel-1", Password: "pw", Port: 3000,
	}); err != nil {
		t.Fatal(err)
	}
	if _, err := b.ListUsers(ctx, "solo-tunnel-1", "pw"); !errors.Is(err, domain.ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized for single-user tunnel, got %v", err)
	}
}

func TestActivityTrail(t *testing.T) {
	b, _ := newTestBroker(t, Options{})
	ctx := context.Background()

	if _, err := b.Register(ctx, domain.RegisterRequest{
		TunnelID:      "team-tunnel-1",
		AdminPassword: "admin-secret",
		Users:         []domain.RegisterUser{{Username: "alice", Password: "pw1"}},
		Port:          8080,
	}); err != nil {
		t.Fatal(err)
	}
	if _, err := b.Authorize(ctx, AccessRequest{
		TunnelID: "team-tunnel-1", Username: "alice", Password: "nope", HasCredentials: true,
	}); !errors.Is(err, domain.ErrInvalidCredentials) {
		t.Fatal("expected failed login")
	}
	if _, err := b.Authorize(ctx, AccessRequest{
		TunnelID: "team-tunnel-1", Username: "alice", Password: "pw1", HasCredentials: true,
	}); err != nil {
		t.Fatal(err)
	}

	entries, err := b.Activity(ctx, "team-tunnel-1", "admin-secret", 0)
	if err != nil {
		t.Fatal(err)
	}

	actions := map[string]int{}
	for _, e := range entries {
		actions[e.Action]++
	}
	if actions[domain.ActionTunnelCreated] != 1 {
		t.Fatalf("expected one tunnel_created entry, got %v", actions)
	}
	if actions[domain.ActionLoginFailed] != 1 || actions[domain.ActionLoginSuccess] != 1 {
		t.Fatalf("expected one failed and one successful login entry, got %v", actions)
	}
}

func TestCleanupPurgesExpired(t *testing.T) {
	now := time.Now().Add(-2 * time.Hour)
	b, _ := newTestBroker(t, Options{
		TunnelTTL: time.Hour,
		Clock:     func() time.Time { return now },
	})
	ctx := context.Background()

	rec, err := b.Register(ctx, domain.RegisterRequest{
		TunnelID: "short-lived-1", Password: "pw", Port: 3000,
	})
	if err != nil {
		t.Fatal(err)
	}
	if rec.ExpiresAt == nil {
		t.Fatal("TTL configured, record must carry an expiry")
	}

	now = now.Add(2 * time.Hour)
	tunnels, _, err := b.Cleanup(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if tunnels != 1 {
		t.Fatalf("expected 1 purged tunnel, got %d", tunnels)
	}
}
