package db

import (
	"time"

	_ "github.com/go-sql-driver/mysql"
	"github.com/jmehdipour/dm-dispatcher/internal/config"
	"github.com/jmoiron/sqlx"
)

// OpenMySQL connects to the operators/outcomes database. The DSN needs
// parseTime=true; multiStatements=true is required by the migrate command.
func OpenMySQL(c config.DatabaseConfig) (*sqlx.DB, error) {
	return open("mysql", c, 5*time.Second)
}
