package repository

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/hive-corporation/ctiwatch/internal/core/ports"
)

const (
	DriverPostgres = "postgres"
	DriverBolt     = "bolt"
	DriverMemory   = "memory"
)

// Open connects to the store selected by driver. The postgres schema is
// created on first use.
func Open(ctx context.Context, driver, databaseURL, boltPath string) (ports.IOCStore, error) {
	switch driver {
	case DriverPostgres, "":
		pool, err := pgxpool.New(ctx, databaseURL)
		if err != nil {
			return nil, fmt.Errorf("unable to create connection pool: %w", err)
		}
		if err := pool.Ping(ctx); err != nil {
			pool.Close()
			return nil, fmt.Errorf("unable to reach database: %w", err)
		}
		repo := NewPostgresRepository(pool)
		if err := repo.EnsureSchema(ctx); err != nil {
			pool.Close()
			return nil, err
		}
		return repo, nil
	case DriverBolt:
		return NewBoltRepository(boltPath)
	case DriverMemory:
		return NewMemoryRepository(), nil
	default:
		return nil, fmt.Errorf("unknown store driver %q", driver)
	}
}
