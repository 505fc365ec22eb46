package main

import (
	"context"
	"fmt"
	"log"

	"github.com/redis/go-redis/v9"

	"github.com/mohammad-safakhou/partyplanner/config"
	"github.com/mohammad-safakhou/partyplanner/internal/catalog"
	"github.com/mohammad-safakhou/partyplanner/internal/embeddings"
	"github.com/mohammad-safakhou/partyplanner/internal/gateway"
	"github.com/mohammad-safakhou/partyplanner/internal/orchestrator"
	"github.com/mohammad-safakhou/partyplanner/internal/prompts"
	"github.com/mohammad-safakhou/partyplanner/internal/telemetry"
	"github.com/mohammad-safakhou/partyplanner/provider"
)

// app holds the collaborators shared by every subcommand.
type app struct {
	cfg        *config.Config
	metrics    *telemetry.Metrics
	catalog    *catalog.Catalog
	orch       *orchestrator.Orchestrator
	embeddings *embeddings.Service
}

func buildApp(cfg *config.Config) (*app, error) {
	metrics := telemetry.NewMetrics()

	cat := catalog.Default()
	if cfg.Catalog.File != "" {
		var err error
		cat, err = catalog.LoadFile(cfg.Catalog.File, cfg.Catalog.SigningSecret)
		if err != nil {
			return nil, fmt.Errorf("load catalog: %w", err)
		}
		log.Printf("loaded %d actions from %s", cat.Len(), cfg.Catalog.File)
	}

	llm, err := provider.NewProvider(cfg.LLM)
	if err != nil {
		return nil, err
	}
	gw := gateway.New(llm, prompts.Default(),
		gateway.WithTimeout(cfg.LLM.Timeout),
		gateway.WithMetrics(metrics),
	)

	opts := orchestrator.OptionsFromConfig(cfg.Planner)
	opts.Metrics = metrics
	a := &app{
		cfg:     cfg,
		metrics: metrics,
		catalog: cat,
		orch:    orchestrator.New(gw, cat, opts),
	}
	if cfg.Embeddings.Enabled {
		a.embeddings = embeddings.NewService(llm, cfg.Embeddings.DefaultModel, cfg.Embeddings.MaxInputs, metrics)
	}
	return a, nil
}

func newRedis(ctx context.Context, cfg config.RedisConfig) (*redis.Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	rdb := redis.NewClient(&redis.Options{
		Addr:        cfg.Addr(),
		Password:    cfg.Password,
		DB:          cfg.DB,
		DialTimeout: cfg.Timeout,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis connection failed (%s): %w", cfg.Addr(), err)
	}
	return rdb, nil
}
