package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/fatih/color"
	"github.com/sentinelops/fleetsync/internal/config"
	"github.com/sentinelops/fleetsync/internal/remote"
	"github.com/sentinelops/fleetsync/internal/store"
	"github.com/spf13/cobra"
)

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize a fleetsync workspace",
	Long: `Initialize a fleetsync workspace in the current directory.
This creates a .fleetsync directory holding the config and the offline queue.

The server does not have to be reachable: logs are queued until it is.`,
	Run: runInit,
}

var (
	initServerURL string
	initToken     string
	initBackend   string
)

func init() {
	initCmd.Flags().StringVar(&initServerURL, "server-url", envOrDefault(config.EnvServerURL, "http://localhost:8730"), "Fleet log service URL")
	initCmd.Flags().StringVar(&initToken, "token", "", "Bearer token for the log service")
	initCmd.Flags().StringVar(&initBackend, "backend", store.BackendBbolt, "Queue backend (bbolt|sqlite)")
}

func runInit(cmd *cobra.Command, args []string) {
	if initBackend != store.BackendBbolt && initBackend != store.BackendSQLite {
		exitError("unknown queue backend %q (want %s or %s)", initBackend, store.BackendBbolt, store.BackendSQLite)
	}

	cfg, err := config.Initialize(initServerURL)
	if err != nil {
		exitError("failed to initialize config: %v", err)
	}

	cfg.Token = initToken
	cfg.QueueBackend = initBackend
	if err := cfg.Save(); err != nil {
		exitError("failed to save config: %v", err)
	}

	if _, err := store.OpenShared(cfg.QueueBackend, cfg.QueuePath()); err != nil {
		exitError("failed to create queue: %v", err)
	}

	fmt.Printf("Initialized fleetsync workspace in %s\n", cfg.Path())
	fmt.Printf("Queue: %s (%s)\n", cfg.QueuePath(), cfg.QueueBackend)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	client := remote.NewHTTPClient(cfg.ServerURL, cfg.Token)
	if err := client.Ping(ctx); err != nil {
		color.New(color.FgYellow).Printf("Server %s is not reachable yet; logs will be queued.\n", cfg.ServerURL)
		return
	}
	color.New(color.FgGreen).Printf("Connected to %s\n", cfg.ServerURL)

	if cfg.Token == "" {
		return
	}
	if op, err := client.CurrentOperator(ctx); err == nil {
		fmt.Printf("Signed in as %s (%s)\n", op.Name, shortID(op.ID))
	} else {
		color.New(color.FgYellow).Printf("Token was not accepted: %v\n", err)
	}
}
