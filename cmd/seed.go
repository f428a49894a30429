package cmd

import (
	"context"
	"fmt"

	"github.com/jmehdipour/dm-dispatcher/internal/db"
	"github.com/jmehdipour/dm-dispatcher/internal/model"
	"github.com/jmehdipour/dm-dispatcher/internal/repository"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var seedCmd = &cobra.Command{
	Use:   "seed",
	Short: "Seed the database with demo operators",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, log, err := bootstrap()
		if err != nil {
			return err
		}
		if !cfg.MySQL.Enabled {
			return fmt.Errorf("seed needs mysql.enabled")
		}

		sqlDB, err := db.OpenMySQL(cfg.MySQL)
		if err != nil {
			return fmt.Errorf("mysql connect: %w", err)
		}
		defer sqlDB.Close()

		ctx := cmd.Context()
		if ctx == nil {
			ctx = context.Background()
		}
		repo := repository.NewOperatorsRepository(sqlDB)
		for _, op := range demoOperators() {
			if err := repo.Upsert(ctx, op); err != nil {
				return fmt.Errorf("upsert operator %q: %w", op.Name, err)
			}
			log.Info("seeded operator", zap.String("name", op.Name), zap.String("status", op.Status))
		}
		return nil
	},
}

// demoOperators are deterministic so the seed is idempotent on api_key.
func demoOperators() []model.Operator {
	return []model.Operator{
		{Name: "Growth Team", APIKey: "11111111111111111111111111111111", Status: "active", RateLimitRPS: intptr(20)},
		{Name: "Support Desk", APIKey: "22222222222222222222222222222222", Status: "active", RateLimitRPS: intptr(5)},
		{Name: "Agency Partner", APIKey: "33333333333333333333333333333333", Status: "active", RateLimitRPS: nil},
		{Name: "Former Contractor", APIKey: "44444444444444444444444444444444", Status: "suspended", RateLimitRPS: nil},
	}
}

func intptr(i int) *int { return &i }
