package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"smbload/internal/config"
	"smbload/internal/listener"
	"smbload/internal/metrics"
	"smbload/internal/pipeline"
	"smbload/internal/source"
	"smbload/internal/storage"
)

func main() {
	cfg, err := config.Load()
	must(err)

	zcfg := zap.NewProductionConfig()
	level, err := zap.ParseAtomicLevel(cfg.LogLevel)
	must(err)
	zcfg.Level = level
	logger, err := zcfg.Build()
	must(err)
	defer func() { _ = logger.Sync() }()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	store, err := storage.OpenStore(ctx, cfg)
	must(err)
	defer store.Close()

	m := metrics.New()
	loader := pipeline.NewLoader(store, pipeline.Options{
		Workers:       cfg.Workers,
		MaxRetries:    cfg.SinkMaxRetries,
		RetryInterval: cfg.SinkRetryInterval(),
		SinkTimeout:   cfg.SinkTimeout(),
		Logger:        logger,
		Metrics:       m,
	})

	onBatch := func(ctx context.Context, summary pipeline.Summary) {
		if err := store.RecordRun(context.WithoutCancel(ctx), summary.RunRecord()); err != nil {
			logger.Error("record run", zap.Error(err))
		}
		if err := m.WriteTextfile(cfg.MetricsTextfile); err != nil {
			logger.Error("write metrics", zap.Error(err))
		}
	}

	svc := listener.NewService(loader, cfg.DataDir, source.Dir{Pattern: cfg.FilePattern}, cfg.WatchDebounce(), logger, onBatch)
	must(svc.Run(ctx))
}

func must(err error) {
	if err == nil {
		return
	}
	fmt.Fprintf(os.Stderr, "error: %v\n", err)
	os.Exit(1)
}
