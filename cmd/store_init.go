package main

import (
	"context"

	"github.com/rotisserie/eris"

	"github.com/creatorpulse/trendwatch/internal/lock"
	"github.com/creatorpulse/trendwatch/internal/pipeline"
	"github.com/creatorpulse/trendwatch/internal/store"
	"github.com/creatorpulse/trendwatch/pkg/anthropic"
)

func initStore(ctx context.Context) (store.Store, error) {
	switch cfg.Store.Driver {
	case "sqlite":
		dsn := cfg.Store.DatabaseURL
		if dsn == "" {
			dsn = "trendwatch.db"
		}
		return store.NewSQLite(dsn)
	case "postgres":
		return store.NewPostgres(ctx, cfg.Store.DatabaseURL, &store.PoolConfig{
			MaxConns: cfg.Store.MaxConns,
			MinConns: cfg.Store.MinConns,
		})
	default:
		return nil, eris.Errorf("unsupported store driver: %s", cfg.Store.Driver)
	}
}

// initLocker builds the per-tenant run lock. Postgres deployments use a
// session advisory lock so concurrent processes exclude each other; anything
// else gets an in-process TTL lease.
func initLocker(st store.Store) lock.Locker {
	if pg, ok := st.(*store.PostgresStore); ok && pg.Pool() != nil {
		return lock.NewAdvisory(pg.Pool())
	}
	return lock.NewKeyed(cfg.Detection.LockTTL())
}

func initExplainer() pipeline.Explainer {
	if !cfg.Explain.Enabled || cfg.Anthropic.Key == "" {
		return pipeline.NoopExplainer{}
	}
	client := anthropic.NewClient(cfg.Anthropic.Key)
	return pipeline.NewAnthropicExplainer(client, cfg.Anthropic.Model, cfg.Explain)
}
