package cli

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/sentinelops/fleetsync/internal/config"
	"github.com/sentinelops/fleetsync/internal/models"
	"github.com/sentinelops/fleetsync/internal/remote"
	"github.com/sentinelops/fleetsync/internal/remote/metastore"
	"github.com/sentinelops/fleetsync/internal/remote/server"
	"github.com/spf13/cobra"
)

var (
	serverListen      string
	serverDataDir     string
	serverTLSCert     string
	serverTLSKey      string
	serverWebhookURLs string
	serverPublicURL   string
	serverSeed        bool

	serverAdminURL      string
	serverAdminToken    string
	serverTokenDesc     string
	serverOperatorID    string
	serverOperatorName  string
	serverOperatorOrgID string
)

var serverCmd = &cobra.Command{
	Use:   "server",
	Short: "Run the fleet log service",
	Long:  "Commands for running and administering the fleet log service.",
}

var serverStartCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the fleet log service",
	Long: `Start the fleet log service.

Assets, logs and idempotency keys are stored in bbolt and photos on the local
filesystem under --data-dir. Bearer token authentication is required for all
/api/v1 endpoints.

The admin token is read from the FLEETSYNC_ADMIN_TOKEN environment variable
and enables the /admin/ endpoints for token management.

Examples:
  fleetsync server start
  fleetsync server start --listen 0.0.0.0:8730 --data-dir /var/lib/fleetsync --seed
  fleetsync server start --tls-cert server.crt --tls-key server.key`,
	Run: runServerStart,
}

var serverSeedCmd = &cobra.Command{
	Use:   "seed",
	Short: "Load the demo assets into a data directory",
	Long: `Load the demo fleet (an excavator, a drill and a tractor) into the data
directory. Assets that already exist are left alone. The server must not be
running, since the metadata database is opened exclusively.`,
	Run: runServerSeed,
}

func init() {
	serverCmd.AddCommand(serverStartCmd, serverSeedCmd, serverTokensCmd)

	serverCmd.PersistentFlags().StringVar(&serverDataDir, "data-dir", envOrDefault("FLEETSYNC_DATA_DIR", defaultDataDir()), "Directory for server data")

	f := serverStartCmd.Flags()
	f.StringVar(&serverListen, "listen", envOrDefault("FLEETSYNC_LISTEN", "127.0.0.1:8730"), "Listen address (host:port)")
	f.StringVar(&serverTLSCert, "tls-cert", os.Getenv("FLEETSYNC_TLS_CERT"), "TLS certificate file")
	f.StringVar(&serverTLSKey, "tls-key", os.Getenv("FLEETSYNC_TLS_KEY"), "TLS key file")
	f.StringVar(&serverWebhookURLs, "webhook-urls", os.Getenv("FLEETSYNC_WEBHOOK_URLS"), "Comma-separated webhook URLs to notify on new logs")
	f.StringVar(&serverPublicURL, "public-url", os.Getenv("FLEETSYNC_PUBLIC_URL"), "Base URL used in returned photo links")
	f.BoolVar(&serverSeed, "seed", false, "Load the demo assets before serving")

	tp := serverTokensCmd.PersistentFlags()
	tp.StringVar(&serverAdminURL, "url", envOrDefault(config.EnvServerURL, ""), "Server base URL (env: FLEETSYNC_SERVER_URL)")
	tp.StringVar(&serverAdminToken, "admin-token", os.Getenv("FLEETSYNC_ADMIN_TOKEN"), "Admin token (env: FLEETSYNC_ADMIN_TOKEN)")

	serverTokensCmd.AddCommand(serverTokensCreateCmd, serverTokensListCmd, serverTokensDeleteCmd)

	tf := serverTokensCreateCmd.Flags()
	tf.StringVar(&serverTokenDesc, "desc", "", "Token description")
	tf.StringVar(&serverOperatorName, "operator", "", "Operator name the token signs in as")
	tf.StringVar(&serverOperatorID, "operator-id", "", "Operator id (UUID, generated when empty)")
	tf.StringVar(&serverOperatorOrgID, "org", "", "Organization id")
	_ = serverTokensCreateCmd.MarkFlagRequired("operator")
}

func runServerStart(cmd *cobra.Command, _ []string) {
	// The server logs at info in JSON unless asked otherwise.
	level, format := logLevel, logFormat
	if !cmd.Flags().Changed("log-level") && os.Getenv("FLEETSYNC_LOG_LEVEL") == "" {
		level = "info"
	}
	if !cmd.Flags().Changed("log-format") && os.Getenv("FLEETSYNC_LOG_FORMAT") == "" {
		format = "json"
	}
	logger := newLogger(os.Stdout, level, format)

	data, err := server.OpenDataDir(serverDataDir, logger)
	if err != nil {
		logger.Error("failed to open data directory", "error", err, "path", serverDataDir)
		os.Exit(1)
	}
	defer data.Close()

	if serverSeed {
		n, err := server.Seed(context.Background(), data.Meta)
		if err != nil {
			logger.Error("failed to seed assets", "error", err)
			os.Exit(1)
		}
		logger.Info("seeded assets", "created", n)
	}

	cfg := server.DefaultServerConfig()
	cfg.AdminToken = os.Getenv("FLEETSYNC_ADMIN_TOKEN")
	cfg.PublicURL = serverPublicURL
	if cfg.Webhooks = server.WebhooksFromList(serverWebhookURLs, logger); cfg.Webhooks != nil {
		logger.Info("webhooks configured")
	}

	h, handlerCleanup := server.Handler(data.Meta, data.Blobs, data.Tokens, cfg, logger)
	defer handlerCleanup()

	srv := &http.Server{
		Addr:              serverListen,
		Handler:           h,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      2 * time.Minute,
		IdleTimeout:       120 * time.Second,
		BaseContext:       func(_ net.Listener) context.Context { return context.Background() },
	}

	done := make(chan os.Signal, 1)
	signal.Notify(done, os.Interrupt, syscall.SIGTERM)

	go func() {
		logger.Info("starting fleetsync server", "listen", serverListen, "data_dir", serverDataDir)
		var err error
		if serverTLSCert != "" && serverTLSKey != "" {
			err = srv.ListenAndServeTLS(serverTLSCert, serverTLSKey)
		} else {
			err = srv.ListenAndServe()
		}
		if err != nil && err != http.ErrServerClosed {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	<-done
	logger.Info("shutting down...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		logger.Error("shutdown error", "error", err)
	}
	logger.Info("server stopped")
}

func runServerSeed(_ *cobra.Command, _ []string) {
	if err := os.MkdirAll(serverDataDir, 0755); err != nil {
		exitError("failed to create data directory: %v", err)
	}

	meta, err := metastore.NewBboltStore(filepath.Join(serverDataDir, server.MetaFile))
	if err != nil {
		exitError("%v (is the server running?)", err)
	}
	defer meta.Close()

	n, err := server.Seed(context.Background(), meta)
	if err != nil {
		exitError("%v", err)
	}

	assets, err := meta.ListAssets(context.Background())
	if err != nil {
		exitError("%v", err)
	}
	color.New(color.FgGreen).Printf("Seeded %d new asset(s)\n", n)
	printAssets(assets)
}

// defaultDataDir returns the default server data directory (~/.fleetsync-server).
func defaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "/var/lib/fleetsync-server"
	}
	return filepath.Join(home, ".fleetsync-server")
}

// --- fleetsync server tokens ---

var serverTokensCmd = &cobra.Command{
	Use:   "tokens",
	Short: "Manage operator tokens",
	Long:  "Commands for managing operator tokens on a running fleetsync server.",
}

var serverTokensCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Create a token for an operator",
	Run:   runServerTokensCreate,
}

var serverTokensListCmd = &cobra.Command{
	Use:   "list",
	Short: "List all tokens",
	Run:   runServerTokensList,
}

var serverTokensDeleteCmd = &cobra.Command{
	Use:   "delete <id>",
	Short: "Delete a token",
	Args:  cobra.ExactArgs(1),
	Run:   runServerTokensDelete,
}

// resolveAdminClient builds an AdminClient from the admin flag vars.
func resolveAdminClient() *remote.AdminClient {
	if serverAdminURL == "" {
		exitError("--url or FLEETSYNC_SERVER_URL is required")
	}
	if serverAdminToken == "" {
		exitError("--admin-token or FLEETSYNC_ADMIN_TOKEN is required")
	}
	return remote.NewAdminClient(serverAdminURL, serverAdminToken)
}

func runServerTokensCreate(_ *cobra.Command, _ []string) {
	c := resolveAdminClient()

	resp, err := c.CreateToken(context.Background(), serverTokenDesc, models.Operator{
		ID:    serverOperatorID,
		Name:  serverOperatorName,
		OrgID: serverOperatorOrgID,
	})
	if err != nil {
		exitError("%v", err)
	}

	fmt.Println("Token created.")
	fmt.Printf("  ID:          %s\n", resp.ID)
	fmt.Printf("  Description: %s\n", resp.Description)
	fmt.Printf("  Operator:    %s (%s)\n", resp.Operator.Name, resp.Operator.ID)
	if resp.Operator.OrgID != "" {
		fmt.Printf("  Org:         %s\n", resp.Operator.OrgID)
	}
	fmt.Println()
	color.New(color.FgGreen).Printf("Token: %s\n", resp.Token)
	color.New(color.FgYellow).Println("Save this token; it will not be shown again.")
}

func runServerTokensList(_ *cobra.Command, _ []string) {
	c := resolveAdminClient()

	tokens, err := c.ListTokens(context.Background())
	if err != nil {
		exitError("%v", err)
	}
	if len(tokens) == 0 {
		fmt.Println("No tokens")
		return
	}

	fmt.Printf("  %-32s  %-20s  %-20s  %s\n", "ID", "Description", "Operator", "Last used")
	for _, t := range tokens {
		lastUsed := "never"
		if t.LastUsedAt != nil {
			lastUsed = t.LastUsedAt.Local().Format("2006-01-02 15:04")
		}
		fmt.Printf("  %-32s  %-20s  %-20s  %s\n", t.ID, t.Description, t.Operator.Name, lastUsed)
	}
}

func runServerTokensDelete(_ *cobra.Command, args []string) {
	c := resolveAdminClient()

	if err := c.DeleteToken(context.Background(), args[0]); err != nil {
		exitError("%v", err)
	}
	fmt.Printf("Deleted token '%s'\n", args[0])
}
