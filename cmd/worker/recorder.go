package worker

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/jmehdipour/dm-dispatcher/internal/config"
	"github.com/jmehdipour/dm-dispatcher/internal/db"
	"github.com/jmehdipour/dm-dispatcher/internal/kafka"
	"github.com/jmehdipour/dm-dispatcher/internal/logger"
	"github.com/jmehdipour/dm-dispatcher/internal/metrics"
	"github.com/jmehdipour/dm-dispatcher/internal/repository"
	"github.com/jmehdipour/dm-dispatcher/internal/worker"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var recorderCmd = &cobra.Command{
	Use:   "recorder",
	Short: "Persist dispatch outcomes from Kafka into MySQL and ClickHouse",
	RunE:  runRecorder,
}

func runRecorder(cmd *cobra.Command, args []string) error {
	cfgPath, _ := cmd.Root().PersistentFlags().GetString("config")
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	log, err := logger.Init(cfg.Log.Level, cfg.Log.Encoding)
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	defer func() { _ = log.Sync() }()

	metrics.MustRegister(prometheus.DefaultRegisterer)

	if !cfg.Kafka.Enabled {
		return fmt.Errorf("recorder needs kafka.enabled")
	}

	stores := map[string]worker.Store{}
	if cfg.MySQL.Enabled {
		mysqlDB, err := db.OpenMySQL(cfg.MySQL)
		if err != nil {
			return fmt.Errorf("mysql connect: %w", err)
		}
		defer mysqlDB.Close()
		stores["mysql"] = repository.NewOutcomesRepository(mysqlDB)
	}
	if cfg.ClickHouse.Enabled {
		chDB, err := db.OpenClickHouse(cfg.ClickHouse)
		if err != nil {
			return fmt.Errorf("clickhouse connect: %w", err)
		}
		defer chDB.Close()
		stores["clickhouse"] = repository.NewCHOutcomesRepository(chDB)
	}
	if len(stores) == 0 {
		return fmt.Errorf("recorder needs mysql and/or clickhouse enabled")
	}

	consumer := kafka.NewConsumer(cfg.Kafka)
	defer consumer.Close()

	w := worker.NewRecorder(consumer, stores, log)
	if cfg.Recorder.BatchSize > 0 {
		w.BatchSize = cfg.Recorder.BatchSize
	}
	if cfg.Recorder.BatchWait > 0 {
		w.BatchWait = cfg.Recorder.BatchWait
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	sinks := make([]string, 0, len(stores))
	for name := range stores {
		sinks = append(sinks, name)
	}
	log.Info("recorder started",
		zap.String("topic", cfg.Kafka.Topic),
		zap.String("group", cfg.Kafka.GroupID),
		zap.Strings("sinks", sinks),
		zap.Int("batch_size", w.BatchSize),
		zap.Duration("batch_wait", w.BatchWait),
	)
	return w.Run(ctx)
}
