package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/schoolwelfare/caseboard/pkg/observability"
	"github.com/schoolwelfare/caseboard/pkg/rbac"
	"github.com/schoolwelfare/caseboard/pkg/storage"
)

// Snapshot persistence backends
const (
	BackendNone       = "none"
	BackendFilesystem = "filesystem"
	BackendRedis      = "redis"
	BackendPostgres   = "postgres"
	BackendS3         = "s3"
)

// Config holds all application configuration
type Config struct {
	// Server configuration
	Server ServerConfig

	// Snapshot persistence and its backends
	Persistence PersistenceConfig
	Redis       storage.RedisConfig
	S3          storage.S3Config

	// Audit sinks
	Audit AuditConfig

	// Role policy and permission checks
	Policy PolicyConfig

	// Scheduled backups
	Backup BackupConfig

	// Observability configuration
	Observability ObservabilityConfig
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host            string
	Port            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration
}

// PersistenceConfig selects where snapshots are written through
type PersistenceConfig struct {
	Backend        string
	FilesystemRoot string
	DatabaseURL    string

	// Database pool limits
	DBMaxConns        int
	DBMaxIdleConns    int
	DBConnMaxLifetime time.Duration

	// RestoreOnStart loads the last snapshot before serving
	RestoreOnStart bool
}

// AuditConfig selects the audit sinks. The in-memory log is always on.
type AuditConfig struct {
	FileEnabled  bool
	FileDir      string
	FileMaxSize  int64
	FileMaxFiles int
	DBEnabled    bool
}

// PolicyConfig holds role policy settings
type PolicyConfig struct {
	File               string
	Watch              bool
	CascadeMode        rbac.CascadeMode
	CheckerCacheSize   int
	CheckerTTL         time.Duration
	EnforcePermissions bool

	// NotifyRedis relays change events between processes through Redis
	NotifyRedis   bool
	NotifyChannel string
}

// BackupConfig holds scheduled backup settings
type BackupConfig struct {
	Enabled  bool
	Schedule string
	Target   string
	Dir      string
}

// ObservabilityConfig holds observability settings
type ObservabilityConfig struct {
	// Logging
	LogLevel observability.LogLevel

	// Metrics
	MetricsEnabled bool

	// OpenTelemetry
	OTelEnabled        bool
	OTelEndpoint       string
	OTelServiceName    string
	OTelServiceVersion string
	OTelInsecure       bool // Use insecure gRPC connection
}

// LoadEnvFiles loads KEY=value files into the environment. Missing files are
// skipped and variables already set are not overridden.
func LoadEnvFiles(paths ...string) error {
	for _, p := range paths {
		if err := godotenv.Load(p); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return fmt.Errorf("failed to load env file %s: %w", p, err)
		}
	}
	return nil
}

// LoadConfig loads configuration from environment variables
func LoadConfig() (*Config, error) {
	policy, err := loadPolicyConfig()
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		Server:        loadServerConfig(),
		Persistence:   loadPersistenceConfig(),
		Redis:         loadRedisConfig(),
		S3:            loadS3Config(),
		Audit:         loadAuditConfig(),
		Policy:        policy,
		Backup:        loadBackupConfig(),
		Observability: loadObservabilityConfig(),
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

// loadServerConfig loads server configuration from environment
func loadServerConfig() ServerConfig {
	return ServerConfig{
		Host:            getEnv("CASEBOARD_HOST", "0.0.0.0"),
		Port:            getEnv("CASEBOARD_PORT", "8080"),
		ReadTimeout:     getEnvDuration("CASEBOARD_READ_TIMEOUT", 15*time.Second),
		WriteTimeout:    getEnvDuration("CASEBOARD_WRITE_TIMEOUT", 15*time.Second),
		IdleTimeout:     getEnvDuration("CASEBOARD_IDLE_TIMEOUT", 60*time.Second),
		ShutdownTimeout: getEnvDuration("CASEBOARD_SHUTDOWN_TIMEOUT", 30*time.Second),
	}
}

func loadPersistenceConfig() PersistenceConfig {
	return PersistenceConfig{
		Backend:        strings.ToLower(getEnv("CASEBOARD_SNAPSHOT_BACKEND", BackendNone)),
		FilesystemRoot: getEnv("CASEBOARD_FILESYSTEM_ROOT", "./data/snapshots"),
		DatabaseURL:    getEnv("CASEBOARD_DATABASE_URL", ""),
		RestoreOnStart: getEnvBool("CASEBOARD_RESTORE_ON_START", true),

		DBMaxConns:        getEnvInt("CASEBOARD_DB_MAX_CONNS", 10),
		DBMaxIdleConns:    getEnvInt("CASEBOARD_DB_MAX_IDLE_CONNS", 2),
		DBConnMaxLifetime: getEnvDuration("CASEBOARD_DB_CONN_MAX_LIFETIME", 30*time.Minute),
	}
}

func loadRedisConfig() storage.RedisConfig {
	return storage.RedisConfig{
		URL:          getEnv("CASEBOARD_REDIS_URL", ""),
		Prefix:       getEnv("CASEBOARD_REDIS_PREFIX", "caseboard"),
		HistoryLimit: getEnvInt64("CASEBOARD_REDIS_HISTORY_LIMIT", 20),
	}
}

func loadS3Config() storage.S3Config {
	return storage.S3Config{
		Endpoint:     getEnv("CASEBOARD_S3_ENDPOINT", ""),
		Region:       getEnv("CASEBOARD_S3_REGION", "us-east-1"),
		Bucket:       getEnv("CASEBOARD_S3_BUCKET", ""),
		Prefix:       getEnv("CASEBOARD_S3_PREFIX", "permissions"),
		AccessKey:    getEnv("CASEBOARD_S3_ACCESS_KEY", ""),
		SecretKey:    getEnv("CASEBOARD_S3_SECRET_KEY", ""),
		UsePathStyle: getEnvBool("CASEBOARD_S3_USE_PATH_STYLE", false),
	}
}

func loadAuditConfig() AuditConfig {
	return AuditConfig{
		FileEnabled:  getEnvBool("CASEBOARD_AUDIT_FILE_ENABLED", false),
		FileDir:      getEnv("CASEBOARD_AUDIT_FILE_DIR", "./data/audit"),
		FileMaxSize:  getEnvInt64("CASEBOARD_AUDIT_FILE_MAX_SIZE", 50*1024*1024),
		FileMaxFiles: getEnvInt("CASEBOARD_AUDIT_FILE_MAX_FILES", 10),
		DBEnabled:    getEnvBool("CASEBOARD_AUDIT_DB_ENABLED", false),
	}
}

func loadPolicyConfig() (PolicyConfig, error) {
	mode, err := rbac.ParseCascadeMode(getEnv("CASEBOARD_CASCADE_MODE", string(rbac.CascadeUncustomized)))
	if err != nil {
		return PolicyConfig{}, err
	}
	return PolicyConfig{
		File:               getEnv("CASEBOARD_POLICY_FILE", ""),
		Watch:              getEnvBool("CASEBOARD_POLICY_WATCH", false),
		CascadeMode:        mode,
		CheckerCacheSize:   getEnvInt("CASEBOARD_CHECKER_CACHE_SIZE", rbac.DefaultCheckerSize),
		CheckerTTL:         getEnvDuration("CASEBOARD_CHECKER_TTL", rbac.DefaultCheckerTTL),
		EnforcePermissions: getEnvBool("CASEBOARD_ENFORCE_PERMISSIONS", false),
		NotifyRedis:        getEnvBool("CASEBOARD_NOTIFY_REDIS", false),
		NotifyChannel:      getEnv("CASEBOARD_NOTIFY_CHANNEL", "caseboard:permissions:changed"),
	}, nil
}

func loadBackupConfig() BackupConfig {
	return BackupConfig{
		Enabled:  getEnvBool("CASEBOARD_BACKUP_ENABLED", false),
		Schedule: getEnv("CASEBOARD_BACKUP_SCHEDULE", "@daily"),
		Target:   strings.ToLower(getEnv("CASEBOARD_BACKUP_TARGET", BackendFilesystem)),
		Dir:      getEnv("CASEBOARD_BACKUP_DIR", "./data/backups"),
	}
}

// loadObservabilityConfig loads observability configuration from environment
func loadObservabilityConfig() ObservabilityConfig {
	return ObservabilityConfig{
		LogLevel:           observability.ParseLevel(getEnv("CASEBOARD_LOG_LEVEL", "info")),
		MetricsEnabled:     getEnvBool("CASEBOARD_METRICS_ENABLED", true),
		OTelEnabled:        getEnvBool("CASEBOARD_OTEL_ENABLED", false),
		OTelEndpoint:       getEnv("CASEBOARD_OTEL_ENDPOINT", "localhost:4317"),
		OTelServiceName:    getEnv("CASEBOARD_OTEL_SERVICE_NAME", "caseboard"),
		OTelServiceVersion: getEnv("CASEBOARD_OTEL_SERVICE_VERSION", "1.0.0"),
		OTelInsecure:       getEnvBool("CASEBOARD_OTEL_INSECURE", true),
	}
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.Server.Port == "" {
		return fmt.Errorf("server port is required")
	}

	switch c.Persistence.Backend {
	case BackendNone:
	case BackendFilesystem:
		if c.Persistence.FilesystemRoot == "" {
			return fmt.Errorf("filesystem root is required for filesystem snapshots")
		}
	case BackendRedis:
		if c.Redis.URL == "" {
			return fmt.Errorf("redis URL is required for redis snapshots")
		}
	case BackendPostgres:
		if c.Persistence.DatabaseURL == "" {
			return fmt.Errorf("database URL is required for postgres snapshots")
		}
	case BackendS3:
		if c.S3.Bucket == "" {
			return fmt.Errorf("S3 bucket is required for s3 snapshots")
		}
	default:
		return fmt.Errorf("invalid snapshot backend: %s (must be none, filesystem, redis, postgres, or s3)", c.Persistence.Backend)
	}

	if c.Audit.DBEnabled && c.Persistence.DatabaseURL == "" {
		return fmt.Errorf("database URL is required for the audit database sink")
	}

	if c.Policy.Watch && c.Policy.File == "" {
		return fmt.Errorf("policy file is required when policy watch is enabled")
	}
	if c.Policy.NotifyRedis && c.Redis.URL == "" {
		return fmt.Errorf("redis URL is required for redis change notifications")
	}
	if c.Policy.NotifyRedis && c.Persistence.Backend == BackendNone {
		return fmt.Errorf("a shared snapshot backend is required for redis change notifications")
	}

	if c.Backup.Enabled {
		if c.Backup.Schedule == "" {
			return fmt.Errorf("backup schedule is required when backups are enabled")
		}
		switch c.Backup.Target {
		case BackendFilesystem:
			if c.Backup.Dir == "" {
				return fmt.Errorf("backup directory is required for filesystem backups")
			}
		case BackendS3:
			if c.S3.Bucket == "" {
				return fmt.Errorf("S3 bucket is required for s3 backups")
			}
		default:
			return fmt.Errorf("invalid backup target: %s (must be filesystem or s3)", c.Backup.Target)
		}
	}

	if c.Observability.OTelEnabled {
		if c.Observability.OTelEndpoint == "" {
			return fmt.Errorf("OpenTelemetry endpoint is required when OTel is enabled")
		}
		if c.Observability.OTelServiceName == "" {
			return fmt.Errorf("OpenTelemetry service name is required when OTel is enabled")
		}
	}

	return nil
}

// DBConfig returns the pool settings for DatabaseURL
func (p PersistenceConfig) DBConfig() storage.DBConfig {
	cfg := storage.DefaultDBConfig(p.DatabaseURL)
	cfg.MaxConns = p.DBMaxConns
	cfg.MinConns = p.DBMaxIdleConns
	cfg.MaxLifetime = p.DBConnMaxLifetime
	return cfg
}

// Addr returns host:port of the API server
func (s ServerConfig) Addr() string {
	return s.Host + ":" + s.Port
}

// getEnv returns an environment variable value or a default
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvBool returns a boolean environment variable or a default
func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		return strings.ToLower(value) == "true" || value == "1"
	}
	return defaultValue
}

// getEnvInt returns an integer environment variable or a default
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

// getEnvInt64 returns an int64 environment variable or a default
func getEnvInt64(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.ParseInt(value, 10, 64); err == nil {
			return intVal
		}
	}
	return defaultValue
}

// getEnvDuration returns a duration environment variable or a default
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}
