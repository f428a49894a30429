package db

import (
	"time"

	_ "github.com/ClickHouse/clickhouse-go/v2"
	"github.com/jmehdipour/dm-dispatcher/internal/config"
	"github.com/jmoiron/sqlx"
)

// OpenClickHouse connects through the database/sql driver,
// e.g. clickhouse://default:@localhost:9000/dmd?dial_timeout=5s
func OpenClickHouse(c config.DatabaseConfig) (*sqlx.DB, error) {
	return open("clickhouse", c, 3*time.Second)
}
