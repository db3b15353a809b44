// Package cli dispatches the tunnelgate subcommands.
package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
)

// Run executes the subcommand named by args and returns a process exit code.
func Run(args []string) int {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if len(args) == 0 {
		printUsage()
		return 2
	}

	switch args[0] {
	case "server":
		return runServer(ctx, args[1:])
	case "register":
		return runRegister(ctx, args[1:])
	case "status":
		return runStatus(ctx, args[1:])
	case "users":
		return runUsers(ctx, args[1:])
	case "-h", "--help", "help":
		printUsage()
		return 0
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n", args[0])
		printUsage()
		return 2
	}
}

func printUsage() {
	fmt.Fprint(os.Stderr, `Usage:
  tunnelgate server [flags]               Run the broker server
  tunnelgate register [flags]             Register a tunnel
  tunnelgate status --id <tunnelId>       Check a tunnel
  tunnelgate users list --id <tunnelId>   List users (admin)
  tunnelgate users add --id <tunnelId>    Add a user (admin)

Common flags: --server <url> (or TUNNELGATE_SERVER)
Run 'tunnelgate <command> -h' for command flags.
`)
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
