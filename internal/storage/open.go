package storage

import (
	"context"
	"fmt"

	"smbload/internal"
	"smbload/internal/config"
)

// Store is a sink that also keeps the run ledger.
type Store interface {
	internal.Sink
	internal.RunRecorder
	ListRuns(ctx context.Context, limit int) ([]internal.RunRecord, error)
	Close() error
}

var (
	_ Store = (*DB)(nil)
	_ Store = (*Postgres)(nil)
)

// OpenStore opens the sink selected by cfg.SinkDriver.
func OpenStore(ctx context.Context, cfg config.Config) (Store, error) {
	switch cfg.SinkDriver {
	case config.DriverSQLite, "":
		db, err := Open(cfg.DBPath)
		if err != nil {
			return nil, err
		}
		return db, nil
	case config.DriverPostgres:
		pg, err := OpenPostgres(ctx, cfg.DatabaseURL, cfg.PageSize)
		if err != nil {
			return nil, err
		}
		return pg, nil
	default:
		return nil, fmt.Errorf("unknown sink driver %q", cfg.SinkDriver)
	}
}
