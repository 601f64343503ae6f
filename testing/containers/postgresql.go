//go:build integration

// Package containers starts throwaway databases for capsql integration tests.
package containers

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/gaborage/capsql/config"
	"github.com/gaborage/capsql/engine"
	"github.com/gaborage/capsql/logger"
	"github.com/gaborage/capsql/testing/fixtures"
)

// PostgreSQLConfig describes the PostgreSQL container to start.
type PostgreSQLConfig struct {
	// ImageTag is the postgres image tag (default: "17-alpine")
	ImageTag string
	Username string
	Password string
	Database string
	// StartupTimeout bounds the wait for the server to accept connections (default: 60s)
	StartupTimeout time.Duration
}

// DefaultPostgreSQLConfig returns the configuration used when none is given.
func DefaultPostgreSQLConfig() *PostgreSQLConfig {
	return &PostgreSQLConfig{
		ImageTag:       "17-alpine",
		Username:       "capsql",
		Password:       "capsql",
		Database:       "capsql",
		StartupTimeout: 60 * time.Second,
	}
}

// PostgreSQL is a running PostgreSQL container.
type PostgreSQL struct {
	container *postgres.PostgresContainer
	connStr   string
}

// StartPostgreSQL starts a PostgreSQL container and terminates it when t finishes.
// The test is skipped when no Docker daemon is reachable.
func StartPostgreSQL(ctx context.Context, t *testing.T, cfg *PostgreSQLConfig) *PostgreSQL {
	t.Helper()

	if cfg == nil {
		cfg = DefaultPostgreSQLConfig()
	}
	if !dockerAvailable(ctx) {
		t.Skip("Docker is not available - skipping integration test")
	}

	container, err := postgres.Run(ctx,
		fmt.Sprintf("postgres:%s", cfg.ImageTag),
		postgres.WithDatabase(cfg.Database),
		postgres.WithUsername(cfg.Username),
		postgres.WithPassword(cfg.Password),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2). // postgres restarts once after init
				WithStartupTimeout(cfg.StartupTimeout),
		),
	)
	if err != nil {
		t.Fatalf("failed to start PostgreSQL container: %v", err)
	}

	p := &PostgreSQL{container: container}
	t.Cleanup(func() {
		if err := p.container.Terminate(context.Background()); err != nil {
			t.Logf("failed to terminate PostgreSQL container: %v", err)
		}
	})

	p.connStr, err = container.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		t.Fatalf("failed to get PostgreSQL connection string: %v", err)
	}

	filter := logger.NewSensitiveDataFilter(logger.DefaultFilterConfig())
	t.Logf("PostgreSQL container started at %s", filter.FilterString("dsn", p.connStr))
	return p
}

// ConnectionString returns the URL of the database, with sslmode=disable.
func (p *PostgreSQL) ConnectionString() string {
	return p.connStr
}

// DatabaseConfig returns a capsql database section pointing at the container.
func (p *PostgreSQL) DatabaseConfig() *config.DatabaseConfig {
	return &config.DatabaseConfig{
		Type:             config.PostgreSQL,
		ConnectionString: p.connStr,
	}
}

// EngineFactory returns a fixtures factory that opens an engine on the container.
func (p *PostgreSQL) EngineFactory(log logger.Logger) fixtures.EngineFactory {
	return func(context.Context) (*engine.Engine, error) {
		return engine.Open(p.DatabaseConfig(), log)
	}
}

func dockerAvailable(ctx context.Context) bool {
	provider, err := testcontainers.NewDockerProvider()
	if err != nil {
		return false
	}
	defer provider.Close()

	_, err = provider.DaemonHost(ctx)
	return err == nil
}
