package db_test

import (
	"errors"
	"testing"

	"github.com/jmehdipour/dm-dispatcher/internal/config"
	"github.com/jmehdipour/dm-dispatcher/internal/db"
	"github.com/m-mizutani/gt"
)

func TestOpenersRefuseDisabledStores(t *testing.T) {
	_, err := db.OpenMySQL(config.DatabaseConfig{DSN: "x"})
	gt.True(t, errors.Is(err, db.ErrDisabled))

	_, err = db.OpenClickHouse(config.DatabaseConfig{})
	gt.True(t, errors.Is(err, db.ErrDisabled))

	_, err = db.OpenRedis(config.RedisConfig{})
	gt.True(t, errors.Is(err, db.ErrDisabled))
}

func TestOpenMySQLRequiresDSN(t *testing.T) {
	_, err := db.OpenMySQL(config.DatabaseConfig{Enabled: true})
	gt.Error(t, err)
	gt.False(t, errors.Is(err, db.ErrDisabled))
}
