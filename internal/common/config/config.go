package config

import (
	"os"
	"strconv"
	"time"
)

// DLP provider names accepted in DLP_PROVIDER.
const (
	ProviderCloud = "cloud"
	ProviderLocal = "local"
)

// DLPKeyConfig holds the deterministic-encryption key material. Either the
// wrapped pair or the unwrapped key is used, never both.
type DLPKeyConfig struct {
	WrappedKey           string // base64, wrapped by Cloud KMS
	WrappedKeyResourceID string // projects/.../cryptoKeys/...
	UnwrappedKey         string
}

// HasWrapped reports whether both halves of the KMS-wrapped key are present.
func (k DLPKeyConfig) HasWrapped() bool {
	return k.WrappedKey != "" && k.WrappedKeyResourceID != ""
}

type Config struct {
	ProjectID      string
	Environment    string
	Version        string
	LogLevel       string
	LogFormat      string
	DebugLogging   bool
	VersionLogging bool

	// Gateway
	APIPort        string
	GRPCHealthPort string
	DLPProvider    string
	DLPEndpoint    string
	DLP            DLPKeyConfig

	// Reaper
	ReaperPort     string
	ReaperInterval time.Duration
	ReaperLabel    string
	ReaperZone     string
	LockEnabled    bool
	CacheHost      string
	CachePort      string
	CachePassword  string
	LockTTL        time.Duration

	// ReaperWriteTimeout bounds one push request, which waits on every
	// delete in the pass. Zero disables it.
	ReaperWriteTimeout time.Duration

	// Audit trail (disabled when empty)
	AuditDatabaseURL string
}

// version is stamped at build time with -ldflags "-X .../config.version=...".
var version = "dev"

func Load() *Config {
	return &Config{
		ProjectID:      getEnv("PROJECT_ID", getEnv("GCP_PROJECT", os.Getenv("GOOGLE_CLOUD_PROJECT"))),
		Environment:    getEnv("ENVIRONMENT", "production"),
		Version:        version,
		LogLevel:       getEnv("LOG_LEVEL", "info"),
		LogFormat:      getEnv("LOG_FORMAT", "json"),
		DebugLogging:   getEnvAsBool("DEBUG_LOGGING", false),
		VersionLogging: getEnvAsBool("VERSION_LOGGING", false),

		APIPort:        getEnv("API_PORT", "8080"),
		GRPCHealthPort: getEnv("GRPC_HEALTH_PORT", "9080"),
		DLPProvider:    getEnv("DLP_PROVIDER", ProviderCloud),
		DLPEndpoint:    getEnv("DLP_ENDPOINT", ""),
		DLP: DLPKeyConfig{
			WrappedKey:           getEnv("DLP_WRAPPED_KEY", ""),
			WrappedKeyResourceID: getEnv("DLP_WRAPPED_KEY_RESOURCE_ID", ""),
			UnwrappedKey:         getEnv("DLP_UNWRAPPED_KEY", ""),
		},

		ReaperPort:     getEnv("REAPER_PORT", "8081"),
		ReaperInterval: getEnvAsDuration("REAPER_INTERVAL", 5*time.Minute),
		ReaperLabel:    getEnv("REAPER_LABEL", ""),
		ReaperZone:     getEnv("REAPER_ZONE", ""),
		LockEnabled:    getEnvAsBool("LOCK_ENABLED", false),
		CacheHost:      getEnv("CACHE_HOST", "localhost"),
		CachePort:      getEnv("CACHE_PORT", "6379"),
		CachePassword:  getEnv("CACHE_PASSWORD", ""),
		LockTTL:        getEnvAsDuration("LOCK_TTL", 10*time.Minute),

		ReaperWriteTimeout: getEnvAsDuration("REAPER_WRITE_TIMEOUT", 10*time.Minute),

		AuditDatabaseURL: getEnv("AUDIT_DATABASE_URL", ""),
	}
}

// AppVersion is the string written by version logging.
func (c *Config) AppVersion() string {
	return c.Version + " env:" + c.Environment
}

// CacheAddr returns the redis address used for instance locks.
func (c *Config) CacheAddr() string {
	return c.CacheHost + ":" + c.CachePort
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvAsBool parses an environment variable as a boolean
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
