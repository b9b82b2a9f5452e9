package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/schoolwelfare/caseboard/pkg/observability"
	"github.com/schoolwelfare/caseboard/pkg/rbac"
)

// TestGetEnv tests the getEnv helper function
func TestGetEnv(t *testing.T) {
	tests := []struct {
		name         string
		key          string
		defaultValue string
		envValue     string
		want         string
	}{
		{
			name:         "returns env value when set",
			key:          "CASEBOARD_TEST_VAR",
			defaultValue: "default",
			envValue:     "custom",
			want:         "custom",
		},
		{
			name:         "returns default when env not set",
			key:          "CASEBOARD_TEST_VAR_NOT_SET",
			defaultValue: "default",
			envValue:     "",
			want:         "default",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.envValue != "" {
				t.Setenv(tt.key, tt.envValue)
			}

			got := getEnv(tt.key, tt.defaultValue)
			if got != tt.want {
				t.Errorf("getEnv() = %v, want %v", got, tt.want)
			}
		})
	}
}

// TestGetEnvBool tests the getEnvBool helper function
func TestGetEnvBool(t *testing.T) {
	tests := []struct {
		name         string
		envValue     string
		defaultValue bool
		want         bool
	}{
		{"returns true for 'true'", "true", false, true},
		{"returns true for '1'", "1", false, true},
		{"returns false for 'false'", "false", true, false},
		{"returns true for 'TRUE' (case insensitive)", "TRUE", false, true},
		{"returns default when not set", "", true, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("CASEBOARD_TEST_BOOL", tt.envValue)

			got := getEnvBool("CASEBOARD_TEST_BOOL", tt.defaultValue)
			if got != tt.want {
				t.Errorf("getEnvBool() = %v, want %v", got, tt.want)
			}
		})
	}
}

// TestGetEnvNumbers tests the numeric and duration helpers
func TestGetEnvNumbers(t *testing.T) {
	t.Setenv("CASEBOARD_TEST_INT", "42")
	t.Setenv("CASEBOARD_TEST_BAD_INT", "forty-two")
	t.Setenv("CASEBOARD_TEST_DURATION", "90s")
	t.Setenv("CASEBOARD_TEST_BAD_DURATION", "soon")

	assert.Equal(t, 42, getEnvInt("CASEBOARD_TEST_INT", 1))
	assert.Equal(t, 1, getEnvInt("CASEBOARD_TEST_BAD_INT", 1))
	assert.Equal(t, int64(42), getEnvInt64("CASEBOARD_TEST_INT", 1))
	assert.Equal(t, int64(7), getEnvInt64("CASEBOARD_TEST_MISSING", 7))
	assert.Equal(t, 90*time.Second, getEnvDuration("CASEBOARD_TEST_DURATION", time.Second))
	assert.Equal(t, time.Second, getEnvDuration("CASEBOARD_TEST_BAD_DURATION", time.Second))
}

func TestLoadServerConfig(t *testing.T) {
	t.Run("defaults", func(t *testing.T) {
		cfg := loadServerConfig()
		assert.Equal(t, ServerConfig{
			Host:            "0.0.0.0",
			Port:            "8080",
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    15 * time.Second,
			IdleTimeout:     60 * time.Second,
			ShutdownTimeout: 30 * time.Second,
		}, cfg)
		assert.Equal(t, "0.0.0.0:8080", cfg.Addr())
	})

	t.Run("custom values", func(t *testing.T) {
		t.Setenv("CASEBOARD_HOST", "localhost")
		t.Setenv("CASEBOARD_PORT", "3000")
		t.Setenv("CASEBOARD_READ_TIMEOUT", "30s")
		t.Setenv("CASEBOARD_SHUTDOWN_TIMEOUT", "5s")

		cfg := loadServerConfig()
		assert.Equal(t, "localhost:3000", cfg.Addr())
		assert.Equal(t, 30*time.Second, cfg.ReadTimeout)
		assert.Equal(t, 5*time.Second, cfg.ShutdownTimeout)
	})
}

func TestLoadObservabilityConfig(t *testing.T) {
	t.Setenv("CASEBOARD_LOG_LEVEL", "debug")
	t.Setenv("CASEBOARD_OTEL_ENABLED", "true")
	t.Setenv("CASEBOARD_METRICS_ENABLED", "false")

	cfg := loadObservabilityConfig()
	assert.Equal(t, observability.DebugLevel, cfg.LogLevel)
	assert.True(t, cfg.OTelEnabled)
	assert.False(t, cfg.MetricsEnabled)
	assert.Equal(t, "caseboard", cfg.OTelServiceName)
	assert.Equal(t, "localhost:4317", cfg.OTelEndpoint)
}

func TestLoadPolicyConfig(t *testing.T) {
	cfg, err := loadPolicyConfig()
	require.NoError(t, err)
	assert.Equal(t, rbac.CascadeUncustomized, cfg.CascadeMode)
	assert.Equal(t, rbac.DefaultCheckerTTL, cfg.CheckerTTL)
	assert.False(t, cfg.EnforcePermissions)

	t.Setenv("CASEBOARD_CASCADE_MODE", "all")
	cfg, err = loadPolicyConfig()
	require.NoError(t, err)
	assert.Equal(t, rbac.CascadeAll, cfg.CascadeMode)

	t.Setenv("CASEBOARD_CASCADE_MODE", "sometimes")
	_, err = loadPolicyConfig()
	assert.Error(t, err)
}

func validConfig() Config {
	return Config{
		Server:      ServerConfig{Port: "8080"},
		Persistence: PersistenceConfig{Backend: BackendNone},
		Backup:      BackupConfig{Schedule: "@daily", Target: BackendFilesystem, Dir: "/tmp/b"},
	}
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr string
	}{
		{"valid", func(c *Config) {}, ""},
		{"missing server port", func(c *Config) { c.Server.Port = "" }, "server port is required"},
		{"unknown backend", func(c *Config) { c.Persistence.Backend = "floppy" }, "invalid snapshot backend"},
		{"filesystem without root", func(c *Config) {
			c.Persistence.Backend = BackendFilesystem
		}, "filesystem root is required"},
		{"redis without url", func(c *Config) { c.Persistence.Backend = BackendRedis }, "redis URL is required"},
		{"redis with url", func(c *Config) {
			c.Persistence.Backend = BackendRedis
			c.Redis.URL = "redis://localhost:6379"
		}, ""},
		{"postgres without url", func(c *Config) { c.Persistence.Backend = BackendPostgres }, "database URL is required"},
		{"s3 without bucket", func(c *Config) { c.Persistence.Backend = BackendS3 }, "S3 bucket is required"},
		{"audit db without url", func(c *Config) { c.Audit.DBEnabled = true }, "audit database sink"},
		{"watch without file", func(c *Config) { c.Policy.Watch = true }, "policy file is required"},
		{"redis notify without url", func(c *Config) { c.Policy.NotifyRedis = true }, "redis change notifications"},
		{"redis notify without shared snapshots", func(c *Config) {
			c.Policy.NotifyRedis = true
			c.Redis.URL = "redis://localhost:6379"
		}, "shared snapshot backend is required"},
		{"redis notify with shared snapshots", func(c *Config) {
			c.Policy.NotifyRedis = true
			c.Redis.URL = "redis://localhost:6379"
			c.Persistence.Backend = BackendRedis
		}, ""},
		{"backup bad target", func(c *Config) {
			c.Backup.Enabled = true
			c.Backup.Target = "tape"
		}, "invalid backup target"},
		{"backup s3 without bucket", func(c *Config) {
			c.Backup.Enabled = true
			c.Backup.Target = BackendS3
		}, "S3 bucket is required for s3 backups"},
		{"backup without schedule", func(c *Config) {
			c.Backup.Enabled = true
			c.Backup.Schedule = ""
		}, "backup schedule is required"},
		{"otel enabled without endpoint", func(c *Config) {
			c.Observability.OTelEnabled = true
			c.Observability.OTelServiceName = "caseboard"
		}, "OpenTelemetry endpoint is required"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestLoadConfig(t *testing.T) {
	t.Run("defaults are valid", func(t *testing.T) {
		cfg, err := LoadConfig()
		require.NoError(t, err)
		assert.Equal(t, BackendNone, cfg.Persistence.Backend)
		assert.Equal(t, "caseboard", cfg.Redis.Prefix)
		assert.Equal(t, "@daily", cfg.Backup.Schedule)
		assert.Equal(t, 10, cfg.Persistence.DBConfig().MaxConns)
	})

	t.Run("invalid backend", func(t *testing.T) {
		t.Setenv("CASEBOARD_SNAPSHOT_BACKEND", "postgres")
		_, err := LoadConfig()
		require.Error(t, err)
		assert.True(t, strings.HasPrefix(err.Error(), "configuration validation failed"))
	})
}

func TestLoadEnvFiles(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, ".env")
	require.NoError(t, os.WriteFile(path, []byte("CASEBOARD_TEST_DOTENV=from-file\nCASEBOARD_TEST_DOTENV_SET=from-file\n"), 0644))

	t.Setenv("CASEBOARD_TEST_DOTENV_SET", "from-env")
	t.Cleanup(func() { os.Unsetenv("CASEBOARD_TEST_DOTENV") })

	require.NoError(t, LoadEnvFiles(filepath.Join(dir, "missing.env"), path))
	assert.Equal(t, "from-file", os.Getenv("CASEBOARD_TEST_DOTENV"))
	assert.Equal(t, "from-env", os.Getenv("CASEBOARD_TEST_DOTENV_SET"))
}
