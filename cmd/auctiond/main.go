package main

import (
	"context"
	"flag"
	"os/signal"
	"syscall"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/cloudx-io/openbid/config"
	"github.com/cloudx-io/openbid/engine"
	"github.com/cloudx-io/openbid/outbox"
	"github.com/cloudx-io/openbid/store"
)

const defaultConfigPath = "./config/auctiond.yaml"

func main() {
	confPath := flag.String("conf", defaultConfigPath, "conf file path")
	migrate := flag.Bool("migrate", false, "apply the database schema and exit")
	flag.Parse()

	cfg, err := config.Load(*confPath)
	if err != nil {
		panic(err)
	}

	log, err := newLogger(cfg.Log)
	if err != nil {
		panic(err)
	}
	defer log.Sync() //nolint:errcheck

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	st, err := store.ConnectPostgres(ctx, cfg.Database.ConnString(), cfg.Database.MinConns, cfg.Database.MaxConns)
	if err != nil {
		log.Fatal("failed on connect database", zap.Error(err))
	}
	defer st.Close()

	if *migrate {
		if err := st.Migrate(ctx); err != nil {
			log.Fatal("failed on apply schema", zap.Error(err))
		}
		log.Info("schema applied")
		return
	}

	eng := engine.New(st,
		engine.WithLogger(log),
		engine.WithMaxRetries(cfg.Engine.MaxRetries),
	)
	sweeper := engine.NewSweeper(eng, cfg.Sweeper.Interval, cfg.Sweeper.BatchSize, cfg.Sweeper.Concurrency, log)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return sweeper.Run(gctx) })

	if cfg.Escrow.Enabled {
		producer, err := outbox.NewProducer(cfg.Escrow.Brokers)
		if err != nil {
			log.Fatal("failed on create kafka producer", zap.Error(err))
		}
		defer producer.Close() //nolint:errcheck

		publisher := outbox.NewPublisher(st, producer, cfg.Escrow.Topic, cfg.Escrow.Interval, log)
		g.Go(func() error { return publisher.Run(gctx) })
	}

	log.Info("auctiond running")
	if err := g.Wait(); err != nil && ctx.Err() == nil {
		log.Fatal("auctiond exited", zap.Error(err))
	}
	log.Info("auctiond shut down")
}

func newLogger(cfg config.LogConfig) (*zap.Logger, error) {
	var zcfg zap.Config
	if cfg.Mode == "development" {
		zcfg = zap.NewDevelopmentConfig()
	} else {
		zcfg = zap.NewProductionConfig()
	}
	level, err := zap.ParseAtomicLevel(cfg.Level)
	if err != nil {
		return nil, err
	}
	zcfg.Level = level
	return zcfg.Build()
}
