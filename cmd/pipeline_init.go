package main

import (
	"context"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sahel-hr/import-cli/internal/conflict"
	"github.com/sahel-hr/import-cli/internal/oracle"
	"github.com/sahel-hr/import-cli/internal/pipeline"
	"github.com/sahel-hr/import-cli/internal/store"
	anthropicpkg "github.com/sahel-hr/import-cli/pkg/anthropic"
)

// pipelineEnv holds the initialized store, oracle, and pipeline needed by the
// run and serve commands.
type pipelineEnv struct {
	Store    store.Store
	Oracle   oracle.Oracle
	Pipeline *pipeline.Pipeline
}

// Close releases resources held by the pipeline environment.
func (pe *pipelineEnv) Close() {
	if pe.Store != nil {
		_ = pe.Store.Close()
	}
}

func initStore(ctx context.Context) (store.Store, error) {
	switch cfg.Store.Driver {
	case "sqlite":
		dsn := cfg.Store.DatabaseURL
		if dsn == "" {
			dsn = "hr-import.db"
		}
		return store.NewSQLite(dsn)
	case "postgres":
		return store.NewPostgres(ctx, cfg.Store.DatabaseURL, &store.PoolConfig{
			MaxConns: int32(cfg.Store.MaxConns),
			MinConns: int32(cfg.Store.MinConns),
		})
	default:
		return nil, eris.Errorf("unsupported store driver: %s", cfg.Store.Driver)
	}
}

// initPipeline sets up the store and the Anthropic oracle and builds the
// Pipeline. Callers should defer env.Close().
func initPipeline(ctx context.Context, mode string, opts pipeline.Options) (*pipelineEnv, error) {
	if err := cfg.Validate(mode); err != nil {
		return nil, err
	}

	st, err := initStore(ctx)
	if err != nil {
		return nil, err
	}

	if err := st.Migrate(ctx); err != nil {
		_ = st.Close()
		return nil, eris.Wrap(err, "migrate store")
	}

	if cfg.Import.PlanCacheSweeps {
		if n, sweepErr := st.DeleteExpiredPlans(ctx); sweepErr != nil {
			zap.L().Warn("plan cache sweep failed", zap.Error(sweepErr))
		} else if n > 0 {
			zap.L().Info("swept expired cached plans", zap.Int("deleted", n))
		}
	}

	anthropicClient := anthropicpkg.NewClient(cfg.Anthropic.Key)
	o := oracle.NewAnthropic(anthropicClient, cfg.Anthropic.Model, cfg.Import.Country)

	if opts.PlanTTL <= 0 {
		opts.PlanTTL = cfg.Import.PlanTTL()
	}
	opts.Resolver = conflict.ResolverOptions{
		Country:     cfg.Import.Country,
		Timeout:     cfg.Import.OracleTimeout,
		Concurrency: cfg.Import.Concurrency,
		RatePerSec:  cfg.Import.RatePerSec,
	}

	p := pipeline.New(st, o, opts)

	return &pipelineEnv{Store: st, Oracle: o, Pipeline: p}, nil
}
