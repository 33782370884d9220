package main

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/warp/payout-engine/config"
	"github.com/warp/payout-engine/generic"
	"github.com/warp/payout-engine/logging"
	"github.com/warp/payout-engine/store/sqlite"
)

// env is what one-shot commands need: config, logger, store, id generator.
type env struct {
	cfg    *config.Config
	logger *zap.Logger
	store  *sqlite.Store
	ids    *generic.SnowflakeIDs
}

func openEnv(configPath string) (*env, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	logger, err := logging.New(cfg)
	if err != nil {
		return nil, err
	}
	store, err := sqlite.New(cfg.Database.Path)
	if err != nil {
		return nil, fmt.Errorf("open database %s: %w", cfg.Database.Path, err)
	}
	ids, err := generic.NewSnowflakeIDs(cfg.Snowflake.Node)
	if err != nil {
		store.Close()
		return nil, err
	}
	return &env{cfg: cfg, logger: logger, store: store, ids: ids}, nil
}

func (e *env) Close() {
	if err := e.store.Close(); err != nil {
		e.logger.Warn("close database", zap.Error(err))
	}
	_ = e.logger.Sync()
}
