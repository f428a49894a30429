package cmd

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/jmehdipour/dm-dispatcher/internal/db"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var migrationsDir string

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Run database migrations (dev: DROP & CREATE MySQL tables, create ClickHouse tables)",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, log, err := bootstrap()
		if err != nil {
			return err
		}
		ctx := cmd.Context()
		if ctx == nil {
			ctx = context.Background()
		}

		if !cfg.MySQL.Enabled && !cfg.ClickHouse.Enabled {
			return fmt.Errorf("nothing to migrate: enable mysql and/or clickhouse")
		}

		if cfg.MySQL.Enabled {
			sqlDB, err := db.OpenMySQL(cfg.MySQL)
			if err != nil {
				return fmt.Errorf("open mysql: %w", err)
			}
			defer sqlDB.Close()

			sqlPath := filepath.Join(migrationsDir, "001_init.sql")
			sqlBytes, err := os.ReadFile(sqlPath)
			if err != nil {
				return fmt.Errorf("read migration file %s: %w", sqlPath, err)
			}
			// the DSN enables multiStatements, so the file runs as one Exec
			if _, err := sqlDB.ExecContext(ctx, string(sqlBytes)); err != nil {
				return fmt.Errorf("exec mysql migration: %w", err)
			}
			log.Info("mysql migration complete", zap.String("file", sqlPath))
		}

		if cfg.ClickHouse.Enabled {
			chDB, err := db.OpenClickHouse(cfg.ClickHouse)
			if err != nil {
				return fmt.Errorf("open clickhouse: %w", err)
			}
			defer chDB.Close()

			sqlPath := filepath.Join(migrationsDir, "clickhouse", "001_init.sql")
			sqlBytes, err := os.ReadFile(sqlPath)
			if err != nil {
				return fmt.Errorf("read migration file %s: %w", sqlPath, err)
			}
			stmts := splitStatements(string(sqlBytes))
			for _, s := range stmts {
				if _, err := chDB.ExecContext(ctx, s); err != nil {
					return fmt.Errorf("exec clickhouse migration: %w", err)
				}
			}
			log.Info("clickhouse migration complete", zap.String("file", sqlPath), zap.Int("statements", len(stmts)))
		}
		return nil
	},
}

func init() {
	migrateCmd.Flags().StringVar(&migrationsDir, "dir", "migrations", "directory holding the migration files")
}

// splitStatements cuts a SQL script on ';'. The ClickHouse driver runs one
// statement per Exec; the scripts contain no ';' inside literals.
func splitStatements(script string) []string {
	var out []string
	for _, s := range strings.Split(script, ";") {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}
