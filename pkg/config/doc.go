// Package config provides application configuration management from environment variables.
//
// # Overview
//
// This package loads and validates configuration from environment variables with
// sensible defaults for all settings. A .env file may be loaded first with
// LoadEnvFiles; variables already set in the environment win.
//
// # Configuration Structure
//
// Server settings:
//
//	CASEBOARD_HOST="0.0.0.0"
//	CASEBOARD_PORT="8080"
//	CASEBOARD_READ_TIMEOUT="15s"
//	CASEBOARD_SHUTDOWN_TIMEOUT="30s"
//
// Snapshot persistence:
//
//	CASEBOARD_SNAPSHOT_BACKEND="redis"  # none, filesystem, redis, postgres, s3
//	CASEBOARD_FILESYSTEM_ROOT="./data/snapshots"
//	CASEBOARD_DATABASE_URL="postgres://localhost/caseboard?sslmode=disable"
//	CASEBOARD_DB_MAX_CONNS="10"
//	CASEBOARD_REDIS_URL="redis://localhost:6379/0"
//	CASEBOARD_S3_BUCKET="caseboard-permissions"
//
// Audit sinks:
//
//	CASEBOARD_AUDIT_FILE_ENABLED="true"
//	CASEBOARD_AUDIT_FILE_DIR="./data/audit"
//	CASEBOARD_AUDIT_DB_ENABLED="true"
//
// Role policy:
//
//	CASEBOARD_POLICY_FILE="./policy.yaml"
//	CASEBOARD_POLICY_WATCH="true"
//	CASEBOARD_CASCADE_MODE="uncustomized"  # or "all"
//	CASEBOARD_ENFORCE_PERMISSIONS="true"
//	CASEBOARD_NOTIFY_REDIS="true"  # needs a shared snapshot backend
//
// Backups:
//
//	CASEBOARD_BACKUP_ENABLED="true"
//	CASEBOARD_BACKUP_SCHEDULE="@daily"
//	CASEBOARD_BACKUP_TARGET="s3"  # filesystem or s3
//
// Observability settings:
//
//	CASEBOARD_LOG_LEVEL="info"  # debug, info, warn, error
//	CASEBOARD_METRICS_ENABLED="true"
//	CASEBOARD_OTEL_ENABLED="true"
//	CASEBOARD_OTEL_ENDPOINT="otel-collector:4317"
//
// # Usage Example
//
//	if err := config.LoadEnvFiles(".env"); err != nil {
//		log.Fatal(err)
//	}
//	cfg, err := config.LoadConfig()
//	if err != nil {
//		log.Fatal(err)
//	}
//
// # Policy files
//
// LoadPolicyFile parses a YAML policy and PolicyWatcher reloads it on change:
//
//	roles:
//	  school: [students:view, occurrences:create]
//	  teacher: [students:view]
package config
