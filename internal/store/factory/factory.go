// Package factory constructs the configured store adapter.
package factory

import (
	"fmt"
	"strconv"

	"token-warden/internal/config"
	"token-warden/internal/store"
	"token-warden/internal/store/memory"
	"token-warden/internal/store/postgres"
	"token-warden/internal/store/redis"
	"token-warden/internal/store/sqlite"
)

// New builds the store named by cfg.StoreType. SQLite is the default;
// memory exists for tests and throwaway runs.
func New(cfg *config.Config) (store.Store, error) {
	switch cfg.StoreType {
	case "sqlite":
		return sqlite.NewAdapter(&sqlite.Config{DatabasePath: cfg.DatabasePath})
	case "postgres", "postgresql":
		port, err := strconv.Atoi(cfg.PostgresPort)
		if err != nil {
			return nil, fmt.Errorf("invalid postgres port %q: %w", cfg.PostgresPort, err)
		}
		return postgres.NewAdapter(&postgres.Config{
			Host:     cfg.PostgresHost,
			Port:     port,
			User:     cfg.PostgresUser,
			Password: cfg.PostgresPassword,
			Database: cfg.PostgresDB,
			SSLMode:  cfg.PostgresSSLMode,
		})
	case "redis":
		return redis.NewAdapter(&redis.Config{
			Address:  cfg.RedisAddress,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
	case "memory":
		return memory.NewAdapter(), nil
	default:
		return nil, fmt.Errorf("unknown store type: %s", cfg.StoreType)
	}
}
