package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
	"go.uber.org/zap"

	"identity-service/internal/config"
	"identity-service/internal/repository/postgres/migrations"
	"identity-service/internal/util"
)

// Client wraps the pgx connection pool shared by the Postgres repositories.
type Client struct {
	Pool   *pgxpool.Pool
	config *config.PostgresConfig
}

// NewClient connects to Postgres, verifies the connection and optionally
// applies pending schema migrations.
func NewClient(cfg *config.Config, logger *zap.Logger) (*Client, error) {
	pgConfig := cfg.Postgres

	poolConfig, err := pgxpool.ParseConfig(pgConfig.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse postgres url: %w", err)
	}
	if pgConfig.MaxConns > 0 {
		poolConfig.MaxConns = int32(pgConfig.MaxConns)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create postgres pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping postgres: %w", err)
	}

	client := &Client{Pool: pool, config: &pgConfig}

	if pgConfig.MigrateOnStart {
		if err := client.RunMigrations(ctx); err != nil {
			pool.Close()
			return nil, fmt.Errorf("failed to run migrations: %w", err)
		}
	}

	util.Info("Postgres client initialized successfully",
		util.String("database", poolConfig.ConnConfig.Database),
		util.Bool("migrated", pgConfig.MigrateOnStart))

	return client, nil
}

// RunMigrations applies the embedded goose migrations. Goose drives a
// database/sql handle, so a short-lived one is opened next to the pool.
func (c *Client) RunMigrations(ctx context.Context) error {
	db, err := sql.Open("pgx", c.config.URL)
	if err != nil {
		return fmt.Errorf("failed to open migration connection: %w", err)
	}
	defer db.Close()

	goose.SetBaseFS(migrations.Migrations)
	if err := goose.SetDialect("pgx"); err != nil {
		return fmt.Errorf("failed to set migration dialect: %w", err)
	}

	if err := goose.UpContext(ctx, db, "."); err != nil {
		return fmt.Errorf("failed to apply migrations: %w", err)
	}

	util.Info("Database migrations applied")
	return nil
}

// HealthCheck verifies the pool can reach Postgres.
func (c *Client) HealthCheck(ctx context.Context) error {
	if err := c.Pool.Ping(ctx); err != nil {
		return fmt.Errorf("postgres health check failed: %w", err)
	}
	return nil
}

// Close releases the connection pool.
func (c *Client) Close() {
	c.Pool.Close()
	util.Info("Postgres connection closed")
}
