package main

import (
	"context"

	"github.com/rotisserie/eris"

	"github.com/sells-group/directory-cli/internal/store"
)

func initStore(ctx context.Context) (store.Store, error) {
	tuning := store.Tuning{
		BatchSize:        cfg.Store.BatchSize,
		FlushConcurrency: cfg.Store.FlushConcurrency,
	}

	switch cfg.Store.Driver {
	case "sqlite":
		dsn := cfg.Store.DatabaseURL
		if dsn == "" {
			dsn = "directory.db"
		}
		return store.NewSQLite(dsn, tuning)
	case "postgres":
		return store.NewPostgres(ctx, cfg.Store.DatabaseURL, nil, tuning)
	default:
		return nil, eris.Errorf("unsupported store driver: %s", cfg.Store.Driver)
	}
}
