// Package config parses server configuration from flags and TUNNELGATE_*
// environment variables.
package config

import (
	"errors"
	"flag"
	"os"
	"strconv"
	"strings"
	"time"
)

type ServerConfig struct {
	Listen          string
	DBPath          string
	PublicURL       string
	SessionSecret   string
	LogLevel        string
	TunnelTTL       time.Duration
	CleanupInterval time.Duration
	RequestTimeout  time.Duration
	MaxBodyBytes    int64
}

const defaultListen = ":8787"
const defaultDBPath = "./tunnelgate.db"
const defaultCleanupInterval = 10 * time.Minute

func ParseServerFlags(args []string) (ServerConfig, error) {
	cfg := ServerConfig{
		Listen:          envOrDefault("TUNNELGATE_LISTEN", defaultListen),
		DBPath:          envOrDefault("TUNNELGATE_DB_PATH", defaultDBPath),
		PublicURL:       envOrDefault("TUNNELGATE_PUBLIC_URL", ""),
		SessionSecret:   envOrDefault("TUNNELGATE_SESSION_SECRET", ""),
		LogLevel:        envOrDefault("TUNNELGATE_LOG_LEVEL", "info"),
		TunnelTTL:       envDurationOrDefault("TUNNELGATE_TUNNEL_TTL", 0),
		CleanupInterval: defaultCleanupInterval,
		RequestTimeout:  30 * time.Second,
		MaxBodyBytes:    1 << 20,
	}

	fs := flag.NewFlagSet("server", flag.ContinueOnError)
	fs.StringVar(&cfg.Listen, "listen", cfg.Listen, "HTTP listen address")
	fs.StringVar(&cfg.DBPath, "db", cfg.DBPath, "SQLite database path")
	fs.StringVar(&cfg.PublicURL, "public-url", cfg.PublicURL, "Public base URL used in registration responses (e.g. https://tunnel.example.com)")
	fs.StringVar(&cfg.SessionSecret, "session-secret", cfg.SessionSecret, "Session signing secret override")
	fs.StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "Log level: debug|info|warn|error")
	fs.DurationVar(&cfg.TunnelTTL, "tunnel-ttl", cfg.TunnelTTL, "Registration lifetime before expiry (0 = permanent)")
	if err := fs.Parse(args); err != nil {
		return cfg, err
	}

	cfg.PublicURL = strings.TrimSuffix(strings.TrimSpace(cfg.PublicURL), "/")
	if cfg.PublicURL == "" {
		return cfg, errors.New("missing --public-url or TUNNELGATE_PUBLIC_URL")
	}
	if cfg.TunnelTTL < 0 {
		return cfg, errors.New("tunnel ttl must be >= 0")
	}
	if cfg.CleanupInterval <= 0 {
		return cfg, errors.New("cleanup interval must be > 0")
	}

	return cfg, nil
}

func envOrDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envDurationOrDefault(key string, def time.Duration) time.Duration {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	if d, err := time.ParseDuration(v); err == nil {
		return d
	}
	if n, err := strconv.Atoi(v); err == nil {
		return time.Duration(n) * time.Second
	}
	return def
}
