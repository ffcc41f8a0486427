package storage

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"matchpicks/internal/config"
)

// Open builds the backend selected in configuration.
func Open(ctx context.Context, cfg config.StorageConfig) (Port, error) {
	switch cfg.Backend {
	case config.BackendFile:
		return NewFileStore(cfg.File.Dir)
	case config.BackendPostgres:
		pool, err := NewPool(ctx, cfg.Postgres)
		if err != nil {
			return nil, wrapErr(postgresBackend, "open", "pool", err)
		}
		store := NewPostgresStore(pool)
		if cfg.Postgres.AutoMigrate {
			if err := store.EnsureSchema(ctx); err != nil {
				store.Close()
				return nil, err
			}
		}
		return store, nil
	case config.BackendDynamoDB:
		awsCfg, err := LoadAWSConfig(ctx, cfg.DynamoDB.Region, cfg.DynamoDB.Endpoint)
		if err != nil {
			return nil, wrapErr(dynamoBackend, "open", cfg.DynamoDB.Table, err)
		}
		return NewDynamoStore(NewDynamoClient(awsCfg, cfg.DynamoDB.Endpoint), cfg.DynamoDB.Table), nil
	default:
		return nil, fmt.Errorf("unknown storage backend %q", cfg.Backend)
	}
}

// NewPool configures a PostgreSQL connection pool from runtime settings.
func NewPool(ctx context.Context, cfg config.PostgresConfig) (*pgxpool.Pool, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("storage.postgres.dsn is required")
	}

	poolConfig, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse database dsn: %w", err)
	}

	if cfg.MaxConns > 0 {
		poolConfig.MaxConns = int32(cfg.MaxConns)
	}
	if cfg.MinConns > 0 {
		poolConfig.MinConns = int32(cfg.MinConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		poolConfig.MaxConnLifetime = cfg.ConnMaxLifetime
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("create pgx pool: %w", err)
	}

	return pool, nil
}
