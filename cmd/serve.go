package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jmehdipour/dm-dispatcher/internal/db"
	"github.com/jmehdipour/dm-dispatcher/internal/dispatch"
	httpSrv "github.com/jmehdipour/dm-dispatcher/internal/http"
	"github.com/jmehdipour/dm-dispatcher/internal/kafka"
	"github.com/jmehdipour/dm-dispatcher/internal/platform"
	"github.com/jmehdipour/dm-dispatcher/internal/progress"
	"github.com/jmehdipour/dm-dispatcher/internal/repository"
	"github.com/jmehdipour/dm-dispatcher/internal/session"
	"github.com/jmehdipour/dm-dispatcher/internal/util"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API, progress websocket and dispatch engine",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, log, err := bootstrap()
		if err != nil {
			return err
		}
		defer func() { _ = log.Sync() }()

		// optional stores
		var rdb *redis.Client
		if cfg.Redis.Enabled {
			if rdb, err = db.OpenRedis(cfg.Redis); err != nil {
				return fmt.Errorf("redis connect: %w", err)
			}
			defer func() { _ = rdb.Close() }()
		}

		var operators repository.OperatorsRepository
		if cfg.MySQL.Enabled {
			mysqlDB, err := db.OpenMySQL(cfg.MySQL)
			if err != nil {
				return fmt.Errorf("mysql connect: %w", err)
			}
			defer mysqlDB.Close()
			operators = repository.NewOperatorsRepository(mysqlDB)
		} else if cfg.Auth.RequireAPIKey {
			log.Warn("auth.require_api_key is set but mysql is disabled; API keys are not checked")
		}

		var reports repository.CHOutcomesRepository
		if cfg.ClickHouse.Enabled {
			chDB, err := db.OpenClickHouse(cfg.ClickHouse)
			if err != nil {
				return fmt.Errorf("clickhouse connect: %w", err)
			}
			defer func() { _ = chDB.Close() }()
			reports = repository.NewCHOutcomesRepository(chDB)
		}

		var sink dispatch.OutcomeSink
		if cfg.Kafka.Enabled {
			producer, err := kafka.NewOutcomeProducer(cfg.Kafka, log)
			if err != nil {
				return fmt.Errorf("kafka producer: %w", err)
			}
			defer func() { _ = producer.Close() }()
			sink = producer
		}

		// progress channel
		hub := progress.NewHub(cfg.Progress.SubscriberBuffer)
		var pub progress.Publisher = hub
		var relay *progress.RedisRelay
		if cfg.Progress.Relay {
			if rdb == nil {
				return errors.New("progress.relay requires redis.enabled")
			}
			relay = progress.NewRedisRelay(hub, rdb, cfg.Progress.RelayChannel, util.NewID(), log)
			pub = relay
		}

		sessions := session.NewRegistry()
		factory := platform.NewHTTPFactory(platform.HTTPOptions{
			BaseURL:       cfg.Platform.BaseURL,
			Timeout:       cfg.Platform.Timeout,
			PageDelayMin:  cfg.Platform.PageDelayMin,
			PageDelayMax:  cfg.Platform.PageDelayMax,
			FailThreshold: cfg.Platform.Breaker.FailThreshold,
			OpenFor:       cfg.Platform.Breaker.OpenFor,
			Log:           log,
		})
		engine := dispatch.NewEngine(sessions, dispatch.Options{
			Publisher: pub,
			Sink:      sink,
			Log:       log,
			StatusMax: cfg.Dispatch.StatusMax,
			StatusTTL: cfg.Dispatch.StatusTTL,
		})

		server := httpSrv.NewServer(httpSrv.Deps{
			Config:    cfg,
			Sessions:  sessions,
			Factory:   factory,
			Engine:    engine,
			Hub:       hub,
			Publisher: pub,
			Operators: operators,
			Reports:   reports,
			Redis:     rdb,
			Log:       log,
		})

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		g, gctx := errgroup.WithContext(ctx)
		g.Go(func() error {
			if err := server.Start(cfg.HTTP.Addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("http server: %w", err)
			}
			return nil
		})
		if relay != nil {
			g.Go(func() error {
				relay.Run(gctx)
				return nil
			})
		}
		g.Go(func() error {
			<-gctx.Done()
			log.Info("shutting down")

			timeout := cfg.HTTP.ShutdownTimeout
			if timeout <= 0 {
				timeout = 5 * time.Second
			}
			sctx, cancel := context.WithTimeout(context.Background(), timeout)
			defer cancel()

			if err := server.Shutdown(sctx); err != nil {
				log.Warn("http shutdown", zap.Error(err))
			}
			if err := engine.Shutdown(sctx); err != nil {
				log.Warn("dispatch runs did not stop in time", zap.Error(err))
			}
			return nil
		})

		return g.Wait()
	},
}
