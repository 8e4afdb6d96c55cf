package config

import (
	"database/sql"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// Version is set at build time via -ldflags
// Default "dev" is used for development builds
var Version = "dev"

// Sync modes select where the shared timer document lives.
const (
	SyncLocal  = "local"
	SyncSQLite = "sqlite"
	SyncFile   = "file"
)

// Poll interval bounds for the viewer refresh loop.
const (
	MinPollInterval     = 50 * time.Millisecond
	MaxPollInterval     = time.Second
	DefaultPollInterval = 250 * time.Millisecond
)

// Config holds all application configuration loaded from environment variables.
// All fields have sensible defaults if environment variables are not set.
type Config struct {
	// Port is the HTTP server listen port (default: 3095)
	Port string

	// BasePath is the URL base path for reverse proxy setups (default: "/")
	BasePath string

	// BasePathSource indicates where the base path came from: "environment", "database", "flag" or "default"
	BasePathSource string

	// LogLevel controls logging verbosity: "debug", "info", "warn", "error" (default: "info")
	LogLevel string

	// LogMaxSizeMB, LogMaxBackups and LogMaxAgeDays control log file rotation
	LogMaxSizeMB  int
	LogMaxBackups int
	LogMaxAgeDays int

	// PollInterval is how often viewers get a fresh reading (default: 250ms, clamped to 50ms..1s)
	PollInterval time.Duration

	// SyncMode is "local" (in-process only), "sqlite" (shared database document) or "file"
	SyncMode string

	// SyncFilePath is the shared document for file mode. A .cbor suffix selects binary encoding.
	SyncFilePath string

	// SyncDocumentPath is the document key in sqlite mode (default: timers/shared)
	SyncDocumentPath string

	// SyncPollInterval is how often store-backed modes look for external changes (default: 500ms)
	SyncPollInterval time.Duration

	// TimersFile is an optional YAML file with timer presets. Empty uses the built-in pair.
	TimersFile string

	// DatabaseDriver is "sqlite" (pure Go, default) or "sqlite3" (CGo)
	DatabaseDriver string

	// NotifyURLs are shoutrrr service URLs alerted on cycle completion
	NotifyURLs []string

	// NotifyMinInterval throttles repeated alerts for the same timer (default: 30s)
	NotifyMinInterval time.Duration

	// MDNSEnabled advertises the HTTP service over mDNS (default: false)
	MDNSEnabled bool

	// MDNSInstance is the advertised instance name (default: "Infinity Status")
	MDNSInstance string

	// HomeKitEnabled exposes every timer as a HomeKit switch (default: false)
	HomeKitEnabled bool

	// HomeKitPin is the 8-digit pairing code (default: 00102003)
	HomeKitPin string

	// HomeKitStoreDir holds HomeKit pairing data (default: <DataDir>/homekit)
	HomeKitStoreDir string

	// CORSOrigin is the allowed cross-origin for the REST and websocket endpoints (default: same origin only)
	CORSOrigin string

	// RetentionDays is the number of days to keep old events (default: 30)
	// Set to 0 to disable automatic pruning
	RetentionDays int

	// DataDir is the directory for persistent data (database, logs, backups)
	// Default: /config in Docker, ./config locally
	DataDir string

	// DatabasePath is the SQLite database file path (default: <DataDir>/infinity.db)
	DatabasePath string

	// LogDir is the directory for log files (default: <DataDir>/logs)
	LogDir string
}

// Global singleton
var cfg *Config

// Load reads configuration from environment variables with sensible defaults.
// Should be called once at application startup.
func Load() *Config {
	basePath := getEnvOrDefault("INFINITY_BASE_PATH", "")
	basePathSource := "default"

	if basePath != "" {
		basePathSource = "environment"
	} else {
		basePath = "/"
	}
	basePath = normalizeBasePath(basePath)

	// Determine DataDir - this is where all persistent data lives
	// In Docker: /config is created automatically
	dataDir := getEnvOrDefault("INFINITY_DATA_DIR", "")
	if dataDir == "" {
		if info, err := os.Stat("/config"); err == nil && info.IsDir() {
			dataDir = "/config"
		} else if execPath, err := os.Executable(); err == nil {
			dataDir = filepath.Join(filepath.Dir(execPath), "config")
		} else if cwd, err := os.Getwd(); err == nil {
			dataDir = filepath.Join(cwd, "config")
		} else {
			dataDir = "./config"
		}
	}

	// Ensure dataDir is absolute
	if absDataDir, err := filepath.Abs(dataDir); err == nil {
		dataDir = absDataDir
	}

	// Create data directory if it doesn't exist
	os.MkdirAll(dataDir, 0755)

	// Database path - inside data directory unless explicitly set
	dbPath := getEnvOrDefault("INFINITY_DATABASE_PATH", "")
	if dbPath == "" {
		dbPath = filepath.Join(dataDir, "infinity.db")
	}

	// Log directory - inside data directory
	logDir := filepath.Join(dataDir, "logs")
	os.MkdirAll(logDir, 0755)

	syncFile := getEnvOrDefault("INFINITY_SYNC_FILE", "")
	if syncFile == "" {
		syncFile = filepath.Join(dataDir, "timers.json")
	}

	homekitDir := getEnvOrDefault("INFINITY_HOMEKIT_STORE_DIR", "")
	if homekitDir == "" {
		homekitDir = filepath.Join(dataDir, "homekit")
	}

	cfg = &Config{
		Port:              getEnvOrDefault("INFINITY_PORT", "3095"),
		BasePath:          basePath,
		BasePathSource:    basePathSource,
		LogLevel:          strings.ToLower(getEnvOrDefault("INFINITY_LOG_LEVEL", "info")),
		LogMaxSizeMB:      getEnvIntOrDefault("INFINITY_LOG_MAX_SIZE_MB", 20),
		LogMaxBackups:     getEnvIntOrDefault("INFINITY_LOG_MAX_BACKUPS", 3),
		LogMaxAgeDays:     getEnvIntOrDefault("INFINITY_LOG_MAX_AGE_DAYS", 14),
		PollInterval:      ClampPollInterval(getEnvDurationOrDefault("INFINITY_POLL_INTERVAL", DefaultPollInterval)),
		SyncMode:          strings.ToLower(getEnvOrDefault("INFINITY_SYNC_MODE", SyncLocal)),
		SyncFilePath:      syncFile,
		SyncDocumentPath:  getEnvOrDefault("INFINITY_SYNC_DOCUMENT", "timers/shared"),
		SyncPollInterval:  getEnvDurationOrDefault("INFINITY_SYNC_POLL_INTERVAL", 500*time.Millisecond),
		TimersFile:        getEnvOrDefault("INFINITY_TIMERS_FILE", ""),
		DatabaseDriver:    strings.ToLower(getEnvOrDefault("INFINITY_DB_DRIVER", "sqlite")),
		NotifyURLs:        getEnvListOrDefault("INFINITY_NOTIFY_URLS", nil),
		NotifyMinInterval: getEnvDurationOrDefault("INFINITY_NOTIFY_MIN_INTERVAL", 30*time.Second),
		MDNSEnabled:       getEnvBoolOrDefault("INFINITY_MDNS", false),
		MDNSInstance:      getEnvOrDefault("INFINITY_MDNS_INSTANCE", "Infinity Status"),
		HomeKitEnabled:    getEnvBoolOrDefault("INFINITY_HOMEKIT", false),
		HomeKitPin:        getEnvOrDefault("INFINITY_HOMEKIT_PIN", "00102003"),
		HomeKitStoreDir:   homekitDir,
		CORSOrigin:        getEnvOrDefault("INFINITY_CORS_ORIGIN", ""),
		RetentionDays:     getEnvIntOrDefault("INFINITY_RETENTION_DAYS", 30),
		DataDir:           dataDir,
		DatabasePath:      dbPath,
		LogDir:            logDir,
	}

	cfg.validate()
	return cfg
}

// validate falls back to defaults for values outside their allowed set.
func (c *Config) validate() {
	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		c.LogLevel = "info"
	}
	switch c.SyncMode {
	case SyncLocal, SyncSQLite, SyncFile:
	default:
		c.SyncMode = SyncLocal
	}
	switch c.DatabaseDriver {
	case "sqlite", "sqlite3":
	default:
		c.DatabaseDriver = "sqlite"
	}
	if c.SyncPollInterval <= 0 {
		c.SyncPollInterval = 500 * time.Millisecond
	}
}

// ClampPollInterval keeps the viewer refresh cadence between 50ms and 1s.
func ClampPollInterval(d time.Duration) time.Duration {
	if d < MinPollInterval {
		return MinPollInterval
	}
	if d > MaxPollInterval {
		return MaxPollInterval
	}
	return d
}

func normalizeBasePath(basePath string) string {
	if basePath == "/" {
		return basePath
	}
	if !strings.HasPrefix(basePath, "/") {
		basePath = "/" + basePath
	}
	return strings.TrimSuffix(basePath, "/")
}

// LoadBasePathFromDB loads the base path from the database if not set via environment.
// Should be called after database is initialized.
func LoadBasePathFromDB(db *sql.DB) {
	if cfg == nil {
		return
	}

	// Only load from DB if not set via environment variable
	if cfg.BasePathSource == "environment" || cfg.BasePathSource == "flag" {
		return
	}

	var basePath string
	err := db.QueryRow("SELECT value FROM settings WHERE key = 'base_path'").Scan(&basePath)
	if err != nil || basePath == "" {
		return // Keep default
	}

	cfg.BasePath = normalizeBasePath(basePath)
	cfg.BasePathSource = "database"
}

// Get returns the current configuration. Panics if Load() hasn't been called.
func Get() *Config {
	if cfg == nil {
		panic("config.Load() must be called before config.Get()")
	}
	return cfg
}

// SetForTesting allows tests to set the global config without calling Load().
// This should ONLY be used in test code.
func SetForTesting(c *Config) {
	cfg = c
}

// NewTestConfig returns a minimal Config suitable for unit tests.
func NewTestConfig() *Config {
	return &Config{
		Port:              "8080",
		BasePath:          "/",
		BasePathSource:    "test",
		LogLevel:          "debug",
		LogMaxSizeMB:      1,
		LogMaxBackups:     1,
		LogMaxAgeDays:     1,
		PollInterval:      DefaultPollInterval,
		SyncMode:          SyncLocal,
		SyncDocumentPath:  "timers/shared",
		SyncPollInterval:  50 * time.Millisecond,
		DatabaseDriver:    "sqlite",
		NotifyMinInterval: 30 * time.Second,
		MDNSInstance:      "Infinity Status Test",
		HomeKitPin:        "00102003",
		RetentionDays:     30,
		DataDir:           "/tmp/infinity-test",
		DatabasePath:      "/tmp/infinity-test/infinity.db",
		LogDir:            "/tmp/infinity-test/logs",
	}
}

// getEnvOrDefault returns the environment variable value or the default if not set.
func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvIntOrDefault returns the environment variable as an int or the default if not set/invalid.
func getEnvIntOrDefault(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}

// getEnvDurationOrDefault returns the environment variable as a duration or the default if not set/invalid.
// Accepts Go duration strings like "250ms", "5m", "72h".
func getEnvDurationOrDefault(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

// getEnvBoolOrDefault returns the environment variable as a bool or the default if not set.
// Accepts "true", "1", "yes" as true values (case-insensitive).
func getEnvBoolOrDefault(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		lower := strings.ToLower(value)
		return lower == "true" || lower == "1" || lower == "yes"
	}
	return defaultValue
}

// getEnvListOrDefault splits a comma or whitespace separated variable, dropping empty items.
func getEnvListOrDefault(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	fields := strings.FieldsFunc(value, func(r rune) bool {
		return r == ',' || r == ' ' || r == '\n' || r == '\t'
	})
	if len(fields) == 0 {
		return defaultValue
	}
	return fields
}

// FlagOverrides holds command-line flag values that can override environment variables
type FlagOverrides struct {
	Port           *string
	BasePath       *string
	LogLevel       *string
	PollInterval   *time.Duration
	SyncMode       *string
	SyncFilePath   *string
	TimersFile     *string
	DatabaseDriver *string
	MDNSEnabled    *bool
	HomeKitEnabled *bool
	RetentionDays  *int
	DataDir        *string
	DatabasePath   *string
}

// ApplyFlags applies command-line flag overrides to the configuration.
// Should be called after Load() and after flag parsing.
// Only non-nil values with non-default flag values will override.
func ApplyFlags(flags FlagOverrides) {
	if cfg == nil {
		return
	}

	if flags.Port != nil && *flags.Port != "" {
		cfg.Port = *flags.Port
	}
	if flags.BasePath != nil && *flags.BasePath != "" {
		cfg.BasePath = normalizeBasePath(*flags.BasePath)
		cfg.BasePathSource = "flag"
	}
	if flags.LogLevel != nil && *flags.LogLevel != "" {
		cfg.LogLevel = strings.ToLower(*flags.LogLevel)
	}
	if flags.PollInterval != nil && *flags.PollInterval != 0 {
		cfg.PollInterval = ClampPollInterval(*flags.PollInterval)
	}
	if flags.SyncMode != nil && *flags.SyncMode != "" {
		cfg.SyncMode = strings.ToLower(*flags.SyncMode)
	}
	if flags.SyncFilePath != nil && *flags.SyncFilePath != "" {
		cfg.SyncFilePath = *flags.SyncFilePath
	}
	if flags.TimersFile != nil && *flags.TimersFile != "" {
		cfg.TimersFile = *flags.TimersFile
	}
	if flags.DatabaseDriver != nil && *flags.DatabaseDriver != "" {
		cfg.DatabaseDriver = strings.ToLower(*flags.DatabaseDriver)
	}
	if flags.MDNSEnabled != nil && *flags.MDNSEnabled {
		cfg.MDNSEnabled = true
	}
	if flags.HomeKitEnabled != nil && *flags.HomeKitEnabled {
		cfg.HomeKitEnabled = true
	}
	if flags.RetentionDays != nil {
		cfg.RetentionDays = *flags.RetentionDays
	}
	if flags.DataDir != nil && *flags.DataDir != "" {
		cfg.DataDir = *flags.DataDir
	}
	if flags.DatabasePath != nil && *flags.DatabasePath != "" {
		cfg.DatabasePath = *flags.DatabasePath
	}

	cfg.validate()
}
