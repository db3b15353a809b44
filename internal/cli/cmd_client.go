package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/tunnelgate/tunnelgate/internal/domain"
)

const clientTimeout = 15 * time.Second

func runRegister(ctx context.Context, args []string) int {
	fs := flag.NewFlagSet("register", flag.ContinueOnError)
	serverURL := envOr("TUNNELGATE_SERVER", "")
	var (
		tunnelID      string
		password      string
		adminPassword string
		usersSpec     string
		port          int
		description   string
		maxUsers      int
	)
	fs.StringVar(&serverURL, "server", serverURL, "Broker URL (e.g. https://tunnel.example.com)")
	fs.StringVar(&tunnelID, "id", "", "Tunnel ID (generated when omitted)")
	fs.StringVar(&password, "password", "", "Shared password (single-user tunnel)")
	fs.StringVar(&adminPassword, "admin-password", "", "Admin password (multi-user tunnel)")
	fs.StringVar(&usersSpec, "users", "", "Users as user:pass[:perm,perm];user2:pass2 or JSON array")
	fs.IntVar(&port, "port", 0, "Local port the tunnel fronts")
	fs.StringVar(&description, "description", "", "Tunnel description")
	fs.IntVar(&maxUsers, "max-users", 0, "Maximum number of users (multi-user)")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if serverURL == "" {
		fmt.Fprintln(os.Stderr, "register: --server or TUNNELGATE_SERVER is required")
		return 2
	}
	if tunnelID == "" {
		tunnelID = generateTunnelID()
	}

	req := domain.RegisterRequest{
		TunnelID:      tunnelID,
		Password:      password,
		AdminPassword: adminPassword,
		Port:          port,
		Description:   description,
		MaxUsers:      maxUsers,
	}
	if usersSpec != "" {
		users, err := parseUsersSpec(usersSpec)
		if err != nil {
			fmt.Fprintln(os.Stderr, "register:", err)
			return 2
		}
		req.Users = users
	}

	var resp domain.RegisterResponse
	if err := postJSON(ctx, serverURL+"/api/register", req, &resp); err != nil {
		fmt.Fprintln(os.Stderr, "register:", err)
		return 1
	}

	fmt.Printf("Tunnel registered: %s\n", resp.TunnelID)
	fmt.Printf("URL: %s\n", resp.TunnelURL)
	if resp.UserCount > 0 {
		fmt.Printf("Users: %d\n", resp.UserCount)
	}
	if resp.AdminURL != "" {
		fmt.Printf("Admin: %s\n", resp.AdminURL)
	}
	return 0
}

func runStatus(ctx context.Context, args []string) int {
	fs := flag.NewFlagSet("status", flag.ContinueOnError)
	serverURL := envOr("TUNNELGATE_SERVER", "")
	var tunnelID string
	fs.StringVar(&serverURL, "server", serverURL, "Broker URL")
	fs.StringVar(&tunnelID, "id", "", "Tunnel ID")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if serverURL == "" || tunnelID == "" {
		fmt.Fprintln(os.Stderr, "status: --server and --id are required")
		return 2
	}

	var resp domain.StatusResponse
	endpoint := serverURL + "/api/status?tunnelId=" + url.QueryEscape(tunnelID)
	if err := getJSON(ctx, endpoint, &resp); err != nil {
		fmt.Fprintln(os.Stderr, "status:", err)
		return 1
	}

	state := "inactive"
	if resp.Active {
		state = "active"
	}
	fmt.Printf("Tunnel %s: %s\n", resp.TunnelID, state)
	fmt.Printf("Port: %d\n", resp.Port)
	fmt.Printf("Description: %s\n", resp.Description)
	fmt.Printf("Created: %s\n", resp.CreatedAt)
	if resp.LastSeen != "" {
		fmt.Printf("Last seen: %s\n", resp.LastSeen)
	}
	return 0
}

func runUsers(ctx context.Context, args []string) int {
	if len(args) == 0 {
		fmt.Fprintln(os.Stderr, "users: expected 'list' or 'add'")
		return 2
	}
	switch args[0] {
	case "list":
		return runUsersList(ctx, args[1:])
	case "add":
		return runUsersAdd(ctx, args[1:])
	default:
		fmt.Fprintf(os.Stderr, "users: unknown subcommand %q\n", args[0])
		return 2
	}
}

func runUsersList(ctx context.Context, args []string) int {
	fs := flag.NewFlagSet("users list", flag.ContinueOnError)
	serverURL := envOr("TUNNELGATE_SERVER", "")
	var tunnelID, adminPassword string
	fs.StringVar(&serverURL, "server", serverURL, "Broker URL")
	fs.StringVar(&tunnelID, "id", "", "Tunnel ID")
	fs.StringVar(&adminPassword, "admin-password", "", "Admin password")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if serverURL == "" || tunnelID == "" || adminPassword == "" {
		fmt.Fprintln(os.Stderr, "users list: --server, --id and --admin-password are required")
		return 2
	}

	var resp domain.UserListResponse
	if err := getJSON(ctx, usersEndpoint(serverURL, tunnelID, adminPassword), &resp); err != nil {
		fmt.Fprintln(os.Stderr, "users list:", err)
		return 1
	}

	fmt.Printf("Users for %s: %d / %d (sessions: %d)\n",
		tunnelID, resp.TotalUsers, resp.MaxUsers, resp.CurrentSessions)
	for _, u := range resp.Users {
		last := u.LastAccess
		if last == "" {
			last = "never"
		}
		fmt.Printf("  %s  perms=[%s]  accesses=%d  last=%s\n",
			u.Username, strings.Join(u.Permissions, ","), u.AccessCount, last)
	}
	return 0
}

func runUsersAdd(ctx context.Context, args []string) int {
	fs := flag.NewFlagSet("users add", flag.ContinueOnError)
	serverURL := envOr("TUNNELGATE_SERVER", "")
	var tunnelID, adminPassword, username, password, perms string
	fs.StringVar(&serverURL, "server", serverURL, "Broker URL")
	fs.StringVar(&tunnelID, "id", "", "Tunnel ID")
	fs.StringVar(&adminPassword, "admin-password", "", "Admin password")
	fs.StringVar(&username, "username", "", "New username")
	fs.StringVar(&password, "password", "", "New user password")
	fs.StringVar(&perms, "permissions", "read", "Comma-separated permissions")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if serverURL == "" || tunnelID == "" || adminPassword == "" || username == "" || password == "" {
		fmt.Fprintln(os.Stderr, "users add: --server, --id, --admin-password, --username and --password are required")
		return 2
	}

	req := domain.AddUserRequest{
		Username:    username,
		Password:    password,
		Permissions: splitPerms(perms),
	}
	var resp map[string]any
	if err := postJSON(ctx, usersEndpoint(serverURL, tunnelID, adminPassword), req, &resp); err != nil {
		fmt.Fprintln(os.Stderr, "users add:", err)
		return 1
	}
	fmt.Printf("User %s added to %s\n", username, tunnelID)
	return 0
}

func usersEndpoint(serverURL, tunnelID, adminPassword string) string {
	return serverURL + "/api/users?tunnelId=" + url.QueryEscape(tunnelID) +
		"&adminPassword=" + url.QueryEscape(adminPassword)
}

// parseUsersSpec accepts a JSON array or the compact
// user:pass[:perm,perm];user2:pass2 form.
func parseUsersSpec(spec string) ([]domain.RegisterUser, error) {
	if strings.HasPrefix(strings.TrimSpace(spec), "[") {
		var users []domain.RegisterUser
		if err := json.Unmarshal([]byte(spec), &users); err != nil {
			return nil, fmt.Errorf("parse users JSON: %w", err)
		}
		return users, nil
	}
	var users []domain.RegisterUser
	for _, entry := range strings.Split(spec, ";") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		parts := strings.SplitN(entry, ":", 3)
		if len(parts) < 2 {
			return nil, fmt.Errorf("invalid user entry %q, expected username:password[:permissions]", entry)
		}
		u := domain.RegisterUser{
			Username: strings.TrimSpace(parts[0]),
			Password: strings.TrimSpace(parts[1]),
		}
		if len(parts) == 3 {
			u.Permissions = splitPerms(parts[2])
		}
		users = append(users, u)
	}
	return users, nil
}

func splitPerms(s string) []string {
	var perms []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			perms = append(perms, p)
		}
	}
	return perms
}

func postJSON(ctx context.Context, endpoint string, body, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	return doJSON(req, out)
}

func getJSON(ctx context.Context, endpoint string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return err
	}
	return doJSON(req, out)
}

func doJSON(req *http.Request, out any) error {
	client := &http.Client{Timeout: clientTimeout}
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return err
	}
	if resp.StatusCode >= 400 {
		var apiErr domain.ErrorResponse
		if json.Unmarshal(data, &apiErr) == nil && apiErr.Error != "" {
			return fmt.Errorf("server returned %d: %s", resp.StatusCode, apiErr.Error)
		}
		return fmt.Errorf("server returned %d", resp.StatusCode)
	}
	if out == nil {
		return nil
	}
	return json.Unmarshal(data, out)
}
