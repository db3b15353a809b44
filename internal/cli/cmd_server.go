package cli

import (
	"context"
	"fmt"
	"os"

	"github.com/tunnelgate/tunnelgate/internal/broker"
	"github.com/tunnelgate/tunnelgate/internal/config"
	"github.com/tunnelgate/tunnelgate/internal/log"
	"github.com/tunnelgate/tunnelgate/internal/server"
	"github.com/tunnelgate/tunnelgate/internal/store/sqlite"
	"github.com/tunnelgate/tunnelgate/internal/token"
)

func runServer(ctx context.Context, args []string) int {
	cfg, err := config.ParseServerFlags(args)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 2
	}

	logger := log.New(cfg.LogLevel)

	store, err := sqlite.Open(cfg.DBPath)
	if err != nil {
		logger.Error("open database", "path", cfg.DBPath, "error", err)
		return 1
	}
	defer store.Close()

	secret, err := store.ResolveSessionSecret(ctx, cfg.SessionSecret)
	if err != nil {
		logger.Error("resolve session secret", "error", err)
		return 1
	}

	b := broker.New(store, token.New(secret), logger, broker.Options{
		TunnelTTL: cfg.TunnelTTL,
	})

	srv := server.New(cfg, b, logger)
	if err := srv.Run(ctx); err != nil {
		logger.Error("server stopped", "error", err)
		return 1
	}
	return 0
}
