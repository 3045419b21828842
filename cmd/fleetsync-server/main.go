// Command fleetsync-server runs the fleet log service.
package main

import (
	"context"
	"flag"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sentinelops/fleetsync/internal/remote/server"
)

func main() {
	listen := flag.String("listen", envOrDefault("FLEETSYNC_LISTEN", "0.0.0.0:8730"), "Listen address")
	dataDir := flag.String("data-dir", envOrDefault("FLEETSYNC_DATA_DIR", "/var/lib/fleetsync-server"), "Data directory")
	adminToken := flag.String("admin-token", os.Getenv("FLEETSYNC_ADMIN_TOKEN"), "Admin API token")
	publicURL := flag.String("public-url", os.Getenv("FLEETSYNC_PUBLIC_URL"), "Base URL used in returned photo links")
	logLevel := flag.String("log-level", envOrDefault("FLEETSYNC_LOG_LEVEL", "info"), "Log level (debug, info, warn, error)")
	logFormat := flag.String("log-format", envOrDefault("FLEETSYNC_LOG_FORMAT", "json"), "Log format (json, text)")
	tlsCert := flag.String("tls-cert", os.Getenv("FLEETSYNC_TLS_CERT"), "TLS certificate file")
	tlsKey := flag.String("tls-key", os.Getenv("FLEETSYNC_TLS_KEY"), "TLS key file")
	webhookURLs := flag.String("webhook-urls", os.Getenv("FLEETSYNC_WEBHOOK_URLS"), "Comma-separated webhook URLs to notify on new logs")
	rpm := flag.Int("rate-limit", 300, "Requests per minute allowed per token or client IP")
	seed := flag.Bool("seed", os.Getenv("FLEETSYNC_SEED") == "true", "Load the demo assets on startup")
	flag.Parse()

	var level slog.Level
	switch *logLevel {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	var handler slog.Handler
	opts := &slog.HandlerOptions{Level: level}
	if *logFormat == "text" {
		handler = slog.NewTextHandler(os.Stdout, opts)
	} else {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	}
	logger := slog.New(handler)

	data, err := server.OpenDataDir(*dataDir, logger)
	if err != nil {
		logger.Error("failed to open data directory", "error", err, "path", *dataDir)
		os.Exit(1)
	}
	defer data.Close()

	if *seed {
		n, err := server.Seed(context.Background(), data.Meta)
		if err != nil {
			logger.Error("failed to seed assets", "error", err)
			os.Exit(1)
		}
		logger.Info("seeded assets", "created", n)
	}

	cfg := server.DefaultServerConfig()
	cfg.AdminToken = *adminToken
	cfg.PublicURL = *publicURL
	cfg.RequestsPerMinute = *rpm
	cfg.Webhooks = server.WebhooksFromList(*webhookURLs, logger)

	h, handlerCleanup := server.Handler(data.Meta, data.Blobs, data.Tokens, cfg, logger)
	defer handlerCleanup()

	srv := &http.Server{
		Addr:              *listen,
		Handler:           h,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      2 * time.Minute,
		IdleTimeout:       120 * time.Second,
		BaseContext:       func(_ net.Listener) context.Context { return context.Background() },
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go func() {
		logger.Info("starting fleetsync-server", "listen", *listen, "data_dir", *dataDir)
		var err error
		if *tlsCert != "" && *tlsKey != "" {
			err = srv.ListenAndServeTLS(*tlsCert, *tlsKey)
		} else {
			err = srv.ListenAndServe()
		}
		if err != nil && err != http.ErrServerClosed {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown error", "error", err)
	}
	logger.Info("server stopped")
}

func envOrDefault(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}
