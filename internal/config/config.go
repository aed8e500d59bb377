// Package config provides configuration management functionality.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds application configuration
type Config struct {
	DataDir  string // Base directory for databases and session state (always absolute)
	Port     int
	DevMode  bool
	LogLevel string

	// OwnerID is the acting principal. Every mutation against the ledger is
	// checked against this id.
	OwnerID string

	// Remote backend selection: "s3" or "http"
	RemoteBackend string

	// S3 backend settings
	S3Bucket          string
	S3Region          string
	S3Endpoint        string // Custom endpoint (R2, MinIO); empty for AWS
	S3AccessKeyID     string
	S3SecretAccessKey string

	// HTTP backend settings
	RemoteBaseURL string
	RemoteToken   string

	// RemoteFolderName is the app folder on the hosting service where the
	// ledger file lives.
	RemoteFolderName string
	// RemoteFileName is the ledger document's file name.
	RemoteFileName string

	Sync SyncConfig
}

// SyncConfig holds every timing knob of the sync loop. All windows exist to
// keep the independent poll and push timelines from feeding back into each
// other; see the orchestrator for how each one is consulted.
type SyncConfig struct {
	PollInterval   time.Duration // metadata poll cadence
	DebounceWindow time.Duration // local edits within this window collapse into one push

	// Feedback-loop guards
	PushPullSuppress  time.Duration // after a push, ignore our own revision on poll
	PullPushSuppress  time.Duration // after a pull, hold back racing pushes
	DeletionGrace     time.Duration // after a deletion push, extended pull suppression
	EditLock          time.Duration // after a local edit, never pull over it
	EmptySkipCooldown time.Duration // after an empty-remote skip, don't re-trigger

	// Content-level fallback comparison (revision tokens are not guaranteed
	// to change on every manual edit, so content diffing backstops them).
	ContentCheckInterval time.Duration
	StaleSyncForce       time.Duration // force a content check if nothing synced for this long

	// Error handling
	BackoffAfterErrors int           // consecutive errors before backoff kicks in
	BackoffCap         int           // max poll-interval multiplier
	InFlightTagTTL     time.Duration // dedup tag lifetime for in-flight pulls

	// ClockSkewTolerance pads first-edit-wins comparisons between the local
	// clock and the hosting service's modified-time. The two clocks are not
	// synchronized; arbitration is best-effort.
	ClockSkewTolerance time.Duration
}

// Load reads configuration from environment variables
func Load() (*Config, error) {
	// Load .env file if it exists
	_ = godotenv.Load()

	dataDir := getEnv("FOLIOSYNC_DATA_DIR", "")
	if dataDir == "" {
		dataDir = "./data"
	}

	absDataDir, err := filepath.Abs(dataDir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve data directory path: %w", err)
	}

	if err := os.MkdirAll(absDataDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	cfg := &Config{
		DataDir:  absDataDir,
		Port:     getEnvAsInt("FOLIOSYNC_PORT", 8080),
		DevMode:  getEnvAsBool("DEV_MODE", false),
		LogLevel: getEnv("LOG_LEVEL", "info"),

		OwnerID: getEnv("FOLIOSYNC_OWNER_ID", "local"),

		RemoteBackend: getEnv("REMOTE_BACKEND", "s3"),

		S3Bucket:          getEnv("S3_BUCKET", ""),
		S3Region:          getEnv("S3_REGION", "auto"),
		S3Endpoint:        getEnv("S3_ENDPOINT", ""),
		S3AccessKeyID:     getEnv("S3_ACCESS_KEY_ID", ""),
		S3SecretAccessKey: getEnv("S3_SECRET_ACCESS_KEY", ""),

		RemoteBaseURL: getEnv("REMOTE_BASE_URL", ""),
		RemoteToken:   getEnv("REMOTE_TOKEN", ""),

		RemoteFolderName: getEnv("REMOTE_FOLDER_NAME", "FolioSync"),
		RemoteFileName:   getEnv("REMOTE_FILE_NAME", "portfolio-trades.json"),

		Sync: SyncConfig{
			PollInterval:         getEnvAsDuration("SYNC_POLL_INTERVAL", 15*time.Second),
			DebounceWindow:       getEnvAsDuration("SYNC_DEBOUNCE_WINDOW", 2*time.Second),
			PushPullSuppress:     getEnvAsDuration("SYNC_PUSH_PULL_SUPPRESS", 30*time.Second),
			PullPushSuppress:     getEnvAsDuration("SYNC_PULL_PUSH_SUPPRESS", 5*time.Second),
			DeletionGrace:        getEnvAsDuration("SYNC_DELETION_GRACE", 120*time.Second),
			EditLock:             getEnvAsDuration("SYNC_EDIT_LOCK", 10*time.Second),
			EmptySkipCooldown:    getEnvAsDuration("SYNC_EMPTY_SKIP_COOLDOWN", 60*time.Second),
			ContentCheckInterval: getEnvAsDuration("SYNC_CONTENT_CHECK_INTERVAL", 3*time.Second),
			StaleSyncForce:       getEnvAsDuration("SYNC_STALE_FORCE", 30*time.Second),
			BackoffAfterErrors:   getEnvAsInt("SYNC_BACKOFF_AFTER_ERRORS", 3),
			BackoffCap:           getEnvAsInt("SYNC_BACKOFF_CAP", 8),
			InFlightTagTTL:       getEnvAsDuration("SYNC_INFLIGHT_TAG_TTL", 10*time.Second),
			ClockSkewTolerance:   getEnvAsDuration("SYNC_CLOCK_SKEW_TOLERANCE", 0),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks if required configuration is present
func (c *Config) Validate() error {
	switch c.RemoteBackend {
	case "s3":
		if c.S3Bucket == "" {
			return fmt.Errorf("S3_BUCKET is required when REMOTE_BACKEND=s3")
		}
	case "http":
		if c.RemoteBaseURL == "" {
			return fmt.Errorf("REMOTE_BASE_URL is required when REMOTE_BACKEND=http")
		}
	default:
		return fmt.Errorf("unknown REMOTE_BACKEND %q (expected s3 or http)", c.RemoteBackend)
	}

	if c.Sync.PollInterval <= 0 {
		return fmt.Errorf("SYNC_POLL_INTERVAL must be positive")
	}
	if c.Sync.BackoffCap < 1 {
		return fmt.Errorf("SYNC_BACKOFF_CAP must be at least 1")
	}

	return nil
}

// LedgerDBPath returns the path of the primary trade database.
func (c *Config) LedgerDBPath() string {
	return filepath.Join(c.DataDir, "ledger.db")
}

// MirrorDBPath returns the path of the device-local mirror database.
func (c *Config) MirrorDBPath() string {
	return filepath.Join(c.DataDir, "mirror.db")
}

// SessionStatePath returns the path of the persisted sync session state.
func (c *Config) SessionStatePath() string {
	return filepath.Join(c.DataDir, "sync-session.bin")
}

// Helper functions
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
		}
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
