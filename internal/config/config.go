// Package config manages fleetsync configuration and the .fleetsync directory.
// It handles loading, saving, and initializing the client configuration.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/pelletier/go-toml/v2"
)

const (
	FleetSyncDir = ".fleetsync"
	ConfigFile   = "config"
	BboltFile    = "queue.db"
	SQLiteFile   = "queue.sqlite"
)

// Environment overrides applied on Load.
const (
	EnvToken     = "FLEETSYNC_TOKEN"
	EnvServerURL = "FLEETSYNC_SERVER_URL"
)

// Defaults for unset durations.
const (
	DefaultSyncInterval  = 30 * time.Second
	DefaultProbeInterval = 10 * time.Second
	DefaultRecordTimeout = 30 * time.Second
)

// Config represents the fleetsync client configuration
type Config struct {
	ServerURL     string       `toml:"server_url" validate:"omitempty,url"`
	Token         string       `toml:"token,omitempty"`
	QueueBackend  string       `toml:"queue_backend" validate:"omitempty,oneof=bbolt sqlite"`
	SyncInterval  string       `toml:"sync_interval,omitempty" validate:"omitempty,duration"`
	ProbeInterval string       `toml:"probe_interval,omitempty" validate:"omitempty,duration"`
	RecordTimeout string       `toml:"record_timeout,omitempty" validate:"omitempty,duration"`
	Retry         RetryConfig  `toml:"retry"`
	Upload        UploadConfig `toml:"upload"`
	path          string       // path to .fleetsync directory
}

// RetryConfig tunes in-call retries against the log service.
type RetryConfig struct {
	MaxRetries     int    `toml:"max_retries" validate:"gte=0,lte=10"`
	InitialBackoff string `toml:"initial_backoff,omitempty" validate:"omitempty,duration"`
	MaxBackoff     string `toml:"max_backoff,omitempty" validate:"omitempty,duration"`
}

// UploadConfig selects where photos are stored.
type UploadConfig struct {
	Kind          string `toml:"kind" validate:"omitempty,oneof=http minio s3"`
	Endpoint      string `toml:"endpoint,omitempty" validate:"required_if=Kind minio"`
	Bucket        string `toml:"bucket,omitempty" validate:"required_if=Kind minio,required_if=Kind s3"`
	Region        string `toml:"region,omitempty"`
	AccessKey     string `toml:"access_key,omitempty"`
	SecretKey     string `toml:"secret_key,omitempty"`
	UseSSL        bool   `toml:"use_ssl"`
	PublicBaseURL string `toml:"public_base_url,omitempty" validate:"omitempty,url"`
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	_ = v.RegisterValidation("duration", func(fl validator.FieldLevel) bool {
		d, err := time.ParseDuration(fl.Field().String())
		return err == nil && d > 0
	})
	return v
}

// FindRoot finds the .fleetsync directory by walking up from current directory
func FindRoot() (string, error) {
	dir, err := os.Getwd()
	if err != nil {
		return "", err
	}

	for {
		p := filepath.Join(dir, FleetSyncDir)
		if info, err := os.Stat(p); err == nil && info.IsDir() {
			return p, nil
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			return "", fmt.Errorf("not a fleetsync workspace (or any parent up to root); run 'fleetsync init'")
		}
		dir = parent
	}
}

// Load loads the configuration from the nearest .fleetsync directory and
// applies environment overrides.
func Load() (*Config, error) {
	root, err := FindRoot()
	if err != nil {
		return nil, err
	}
	return LoadFrom(root)
}

// LoadFrom loads the configuration stored in the given .fleetsync directory.
func LoadFrom(root string) (*Config, error) {
	data, err := os.ReadFile(filepath.Join(root, ConfigFile))
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	cfg := Default()
	if err := toml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	cfg.path = root
	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Default returns a configuration with every optional value filled in.
func Default() *Config {
	return &Config{
		QueueBackend:  "bbolt",
		SyncInterval:  DefaultSyncInterval.String(),
		ProbeInterval: DefaultProbeInterval.String(),
		RecordTimeout: DefaultRecordTimeout.String(),
		Retry: RetryConfig{
			MaxRetries:     3,
			InitialBackoff: "500ms",
			MaxBackoff:     "10s",
		},
		Upload: UploadConfig{Kind: "http"},
	}
}

func (c *Config) applyEnv() {
	if v := os.Getenv(EnvToken); v != "" {
		c.Token = v
	}
	if v := os.Getenv(EnvServerURL); v != "" {
		c.ServerURL = v
	}
}

// Validate checks field formats and cross-field requirements.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

// Save saves the configuration to disk
func (c *Config) Save() error {
	configPath := filepath.Join(c.path, ConfigFile)
	data, err := toml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	return os.WriteFile(configPath, data, 0600)
}

// Path returns the path to the .fleetsync directory
func (c *Config) Path() string {
	return c.path
}

// QueuePath returns the path of the local queue database for the
// configured backend.
func (c *Config) QueuePath() string {
	if c.QueueBackend == "sqlite" {
		return filepath.Join(c.path, SQLiteFile)
	}
	return filepath.Join(c.path, BboltFile)
}

// SyncEvery returns the periodic sync interval.
func (c *Config) SyncEvery() time.Duration {
	return parseDuration(c.SyncInterval, DefaultSyncInterval)
}

// ProbeEvery returns the connectivity probe interval.
func (c *Config) ProbeEvery() time.Duration {
	return parseDuration(c.ProbeInterval, DefaultProbeInterval)
}

// RecordDeadline returns the per-record delivery timeout.
func (c *Config) RecordDeadline() time.Duration {
	return parseDuration(c.RecordTimeout, DefaultRecordTimeout)
}

// Backoffs returns the parsed initial and maximum retry backoff.
func (r RetryConfig) Backoffs() (initial, max time.Duration) {
	return parseDuration(r.InitialBackoff, 500*time.Millisecond), parseDuration(r.MaxBackoff, 10*time.Second)
}

func parseDuration(s string, def time.Duration) time.Duration {
	if s == "" {
		return def
	}
	d, err := time.ParseDuration(s)
	if err != nil || d <= 0 {
		return def
	}
	return d
}

// Initialize creates a new .fleetsync directory in the current directory.
func Initialize(serverURL string) (*Config, error) {
	cwd, err := os.Getwd()
	if err != nil {
		return nil, err
	}
	return InitializeAt(cwd, serverURL)
}

// InitializeAt creates a new .fleetsync directory inside dir.
func InitializeAt(dir, serverURL string) (*Config, error) {
	root := filepath.Join(dir, FleetSyncDir)

	// Check if already initialized
	if _, err := os.Stat(root); err == nil {
		return nil, fmt.Errorf("fleetsync workspace already exists at %s", root)
	}

	cfg := Default()
	cfg.ServerURL = serverURL
	cfg.path = root
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	if err := os.MkdirAll(root, 0755); err != nil {
		return nil, fmt.Errorf("failed to create %s directory: %w", FleetSyncDir, err)
	}

	if err := cfg.Save(); err != nil {
		// Cleanup on failure
		os.RemoveAll(root)
		return nil, err
	}

	return cfg, nil
}
