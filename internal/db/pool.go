// Package db opens the optional external stores. Callers check the Enabled
// flag of the matching config section before calling any opener.
package db

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jmehdipour/dm-dispatcher/internal/config"
	"github.com/jmoiron/sqlx"
)

var ErrDisabled = errors.New("store disabled in config")

func open(driver string, c config.DatabaseConfig, defaultPing time.Duration) (*sqlx.DB, error) {
	if !c.Enabled {
		return nil, fmt.Errorf("%s: %w", driver, ErrDisabled)
	}
	if c.DSN == "" {
		return nil, fmt.Errorf("%s: empty DSN", driver)
	}

	db, err := sqlx.Open(driver, c.DSN)
	if err != nil {
		return nil, fmt.Errorf("%s open: %w", driver, err)
	}
	if c.MaxOpenConns > 0 {
		db.SetMaxOpenConns(c.MaxOpenConns)
	}
	if c.MaxIdleConns > 0 {
		db.SetMaxIdleConns(c.MaxIdleConns)
	}
	if c.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(c.ConnMaxLifetime)
	}
	if c.ConnMaxIdleTime > 0 {
		db.SetConnMaxIdleTime(c.ConnMaxIdleTime)
	}

	timeout := c.PingTimeout
	if timeout <= 0 {
		timeout = defaultPing
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("%s ping: %w", driver, err)
	}
	return db, nil
}
