// Package cli implements the command-line interface for fleetsync.
package cli

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/sentinelops/fleetsync/internal/config"
	"github.com/sentinelops/fleetsync/internal/core"
	"github.com/sentinelops/fleetsync/internal/remote"
	"github.com/sentinelops/fleetsync/internal/store"
	"github.com/sentinelops/fleetsync/internal/upload"
	"github.com/spf13/cobra"
)

var (
	logLevel  string
	logFormat string
)

// cmdContext holds common resources for CLI commands
type cmdContext struct {
	Config   *config.Config
	Queue    store.Queue
	Client   *remote.HTTPClient
	Service  remote.LogService
	Uploader upload.Uploader
	Logger   *slog.Logger
}

// Close releases resources held by cmdContext
func (c *cmdContext) Close() {
	if c.Queue != nil {
		c.Queue.Close()
	}
}

// initContext loads the config and opens the local queue (no client).
// The queue file is only held during each call, so an agent and one-shot
// commands can share it.
func initContext() *cmdContext {
	cfg, err := config.Load()
	if err != nil {
		exitError("%v", err)
	}

	q, err := store.OpenShared(cfg.QueueBackend, cfg.QueuePath())
	if err != nil {
		exitError("failed to open queue: %v", err)
	}

	return &cmdContext{Config: cfg, Queue: q, Logger: newLogger(os.Stderr, logLevel, logFormat)}
}

// initFullContext also builds the log service client and the photo uploader
func initFullContext(ctx context.Context) *cmdContext {
	c := initContext()

	if c.Config.ServerURL == "" {
		c.Close()
		exitError("no server_url configured; run 'fleetsync init --server-url <url>'")
	}

	c.Client = remote.NewHTTPClient(c.Config.ServerURL, c.Config.Token)
	initial, max := c.Config.Retry.Backoffs()
	c.Service = remote.NewRetryClient(c.Client, &remote.RetryConfig{
		MaxRetries:     c.Config.Retry.MaxRetries,
		InitialBackoff: initial,
		MaxBackoff:     max,
		JitterFraction: 0.25,
	})

	up, err := upload.New(ctx, c.Config.Upload, c.Service)
	if err != nil {
		c.Close()
		exitError("failed to set up photo upload: %v", err)
	}
	c.Uploader = up

	return c
}

// probeOnce checks the server once and returns a signal holding the result.
func (c *cmdContext) probeOnce(ctx context.Context) *core.Signal {
	sig := core.NewSignal(false)
	core.NewProber(c.Client, sig, c.Config.ProbeEvery(), c.Logger).Probe(ctx)
	return sig
}

func (c *cmdContext) newEngine(conn core.Connectivity, progress core.SyncProgress) *core.Engine {
	return core.NewEngine(c.Queue, c.Service, c.Uploader, conn, core.EngineOptions{
		RecordTimeout: c.Config.RecordDeadline(),
		Progress:      progress,
		Logger:        c.Logger,
	})
}

var rootCmd = &cobra.Command{
	Use:   "fleetsync",
	Short: "Offline log sync for fleet maintenance",
	Long: `fleetsync records maintenance and inspection logs for fleet assets and
delivers them to the fleet log service. Logs written while the service is
unreachable are kept in a local queue and synced once connectivity returns.`,
}

// Execute runs the root command
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVar(&logLevel, "log-level", envOrDefault("FLEETSYNC_LOG_LEVEL", "warn"), "Log level (debug|info|warn|error)")
	pf.StringVar(&logFormat, "log-format", envOrDefault("FLEETSYNC_LOG_FORMAT", "text"), "Log format (json|text)")

	rootCmd.AddCommand(initCmd)
	rootCmd.AddCommand(submitCmd)
	rootCmd.AddCommand(syncCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(pendingCmd)
	rootCmd.AddCommand(assetsCmd)
	rootCmd.AddCommand(agentCmd)
	rootCmd.AddCommand(serverCmd)
}

// newLogger builds a slog logger from the level and format flag values.
func newLogger(w io.Writer, level, format string) *slog.Logger {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}

	var handler slog.Handler
	opts := &slog.HandlerOptions{Level: lvl}
	if format == "json" {
		handler = slog.NewJSONHandler(w, opts)
	} else {
		handler = slog.NewTextHandler(w, opts)
	}
	return slog.New(handler)
}

// envOrDefault returns the value of the environment variable key, or defaultVal if unset.
func envOrDefault(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

// exitError prints an error and exits
func exitError(format string, args ...interface{}) {
	fmt.Fprintf(os.Stderr, "error: "+format+"\n", args...)
	os.Exit(1)
}

// shortID returns first 8 characters of an ID
func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

// formatMillis renders an epoch-milliseconds timestamp in local time.
func formatMillis(ms int64) string {
	return time.UnixMilli(ms).Local().Format("2006-01-02 15:04:05")
}
