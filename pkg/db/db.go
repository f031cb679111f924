// Package db opens database/sql pools with sizing and a fail-fast
// connectivity check. The lock store and segment registry share it.
package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// Config sizes a connection pool.
type Config struct {
	Driver string
	DSN    string

	// MaxOpenConns caps concurrent connections. Default 25. SQLite in-memory
	// databases are forced to 1; each connection would otherwise see its own
	// empty database.
	MaxOpenConns int

	// MaxIdleConns keeps warm connections around. Default 5.
	MaxIdleConns int

	// ConnMaxLifetime recycles connections. Default 5m.
	ConnMaxLifetime time.Duration

	// PingTimeout bounds the startup connectivity check. Default 5s.
	PingTimeout time.Duration
}

// Open builds the pool and verifies connectivity before returning it.
func Open(ctx context.Context, cfg Config) (*sql.DB, error) {
	if cfg.Driver == "" {
		return nil, errors.New("db: Driver is required")
	}
	if cfg.DSN == "" {
		return nil, errors.New("db: DSN is required")
	}
	if cfg.MaxOpenConns <= 0 {
		cfg.MaxOpenConns = 25
	}
	if cfg.MaxIdleConns <= 0 {
		cfg.MaxIdleConns = 5
	}
	if cfg.ConnMaxLifetime <= 0 {
		cfg.ConnMaxLifetime = 5 * time.Minute
	}
	if cfg.PingTimeout <= 0 {
		cfg.PingTimeout = 5 * time.Second
	}
	if cfg.Driver == "sqlite3" && cfg.DSN == ":memory:" {
		cfg.MaxOpenConns = 1
	}

	pool, err := sql.Open(cfg.Driver, cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("db: opening %s pool: %w", cfg.Driver, err)
	}
	pool.SetMaxOpenConns(cfg.MaxOpenConns)
	pool.SetMaxIdleConns(cfg.MaxIdleConns)
	pool.SetConnMaxLifetime(cfg.ConnMaxLifetime)

	pingCtx, cancel := context.WithTimeout(ctx, cfg.PingTimeout)
	defer cancel()
	if err := pool.PingContext(pingCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("db: pinging %s: %w", cfg.Driver, err)
	}
	return pool, nil
}
