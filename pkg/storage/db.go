package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// DBConfig holds database pool settings shared by the SQL snapshot store and
// the audit database sink
type DBConfig struct {
	Driver      string // "postgres" in production
	URL         string
	MaxConns    int
	MinConns    int
	Timeout     time.Duration
	MaxLifetime time.Duration
	MaxIdleTime time.Duration
}

// DefaultDBConfig returns pool defaults for url
func DefaultDBConfig(url string) DBConfig {
	return DBConfig{
		Driver:      "postgres",
		URL:         url,
		MaxConns:    10,
		MinConns:    2,
		Timeout:     5 * time.Second,
		MaxLifetime: 30 * time.Minute,
		MaxIdleTime: 5 * time.Minute,
	}
}

// OpenDB opens a pool, applies its limits and pings it
func OpenDB(ctx context.Context, cfg DBConfig) (*sql.DB, error) {
	if cfg.Driver == "" {
		cfg.Driver = "postgres"
	}
	db, err := sql.Open(cfg.Driver, cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if cfg.MaxConns > 0 {
		db.SetMaxOpenConns(cfg.MaxConns)
	}
	if cfg.MinConns > 0 {
		db.SetMaxIdleConns(cfg.MinConns)
	}
	db.SetConnMaxLifetime(cfg.MaxLifetime)
	db.SetConnMaxIdleTime(cfg.MaxIdleTime)

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	pingCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	return db, nil
}
