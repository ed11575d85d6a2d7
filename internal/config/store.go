package config

import (
	"context"
	"fmt"

	"github.com/Shivanand-hulikatti/ticket-checkin/internal/database"
	"github.com/Shivanand-hulikatti/ticket-checkin/internal/repository"
	"github.com/rs/zerolog"
)

// OpenStore connects the configured backend. PostgreSQL migrations are
// applied before the store is returned. The caller owns Store.Close.
func OpenStore(ctx context.Context, cfg Config, log zerolog.Logger) (*repository.Store, error) {
	switch cfg.Store {
	case StorePostgres:
		pool, err := database.NewPool(ctx, cfg.Database, log)
		if err != nil {
			return nil, err
		}
		applied, err := database.Migrate(ctx, pool)
		if err != nil {
			pool.Close()
			return nil, fmt.Errorf("migrate: %w", err)
		}
		log.Info().Strs("applied", applied).Msg("connected to postgres")
		return repository.NewPostgresStore(pool), nil

	case StoreSQLite:
		pool, err := database.OpenSQLite(cfg.SQLite, log)
		if err != nil {
			return nil, err
		}
		return repository.NewSQLiteStore(pool), nil

	case StoreMemory:
		log.Warn().Msg("using in-memory store; state is lost on exit")
		return repository.NewMemoryStore(), nil
	}
	return nil, fmt.Errorf("unknown store %q", cfg.Store)
}
