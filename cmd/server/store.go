package main

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/DoyleJ11/tictactoe-backend/internal/config"
	"github.com/DoyleJ11/tictactoe-backend/internal/store"
	"github.com/DoyleJ11/tictactoe-backend/internal/store/memstore"
	"github.com/DoyleJ11/tictactoe-backend/internal/store/pgstore"
	"github.com/DoyleJ11/tictactoe-backend/internal/store/redisstore"
)

// openStore returns a reachable store for the configured driver.
func openStore(ctx context.Context, cfg *config.Config, logger *zap.Logger) (store.Store, error) {
	var (
		st  store.Store
		err error
	)
	switch cfg.StoreDriver {
	case config.DriverPostgres:
		st, err = pgstore.Open(ctx, cfg.DatabaseURL, logger)
	case config.DriverRedis:
		st, err = redisstore.Open(ctx, cfg.RedisURL, logger)
	default:
		logger.Warn("using in-memory store; rooms do not survive a restart")
		st = memstore.New()
	}
	if err != nil {
		return nil, fmt.Errorf("open %s store: %w", cfg.StoreDriver, err)
	}
	if err := st.Ping(ctx); err != nil {
		_ = st.Close()
		return nil, fmt.Errorf("ping %s store: %w", cfg.StoreDriver, err)
	}
	return st, nil
}
