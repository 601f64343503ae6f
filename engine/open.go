package engine

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/stdlib"
	go_ora "github.com/sijms/go-ora/v2"

	"github.com/gaborage/capsql/config"
	"github.com/gaborage/capsql/logger"
)

const pingTimeout = 10 * time.Second

var (
	openPostgresDB = func(cfg *pgx.ConnConfig) *sql.DB {
		return stdlib.OpenDB(*cfg)
	}
	openOracleDB = func(dsn string) (*sql.DB, error) {
		return sql.Open("oracle", dsn)
	}
	pingDB = func(ctx context.Context, db *sql.DB) error {
		return db.PingContext(ctx)
	}
)

// Open connects to the database described by cfg and wraps the pool in an Engine
// with the vendor's dialect and the statement settings from cfg. opts are applied
// after those defaults.
func Open(cfg *config.DatabaseConfig, log logger.Logger, opts ...Option) (*Engine, error) {
	if cfg == nil || !config.IsDatabaseConfigured(cfg) {
		return nil, config.NewNotConfiguredError("database")
	}
	if log == nil {
		log = logger.Nop()
	}

	var (
		db  *sql.DB
		err error
	)
	switch strings.ToLower(cfg.Type) {
	case VendorPostgreSQL:
		db, err = openPostgres(cfg)
	case VendorOracle:
		db, err = openOracle(cfg)
	default:
		return nil, config.NewInvalidFieldError("database.type",
			fmt.Sprintf("unsupported database type %q", cfg.Type),
			[]string{config.PostgreSQL, config.Oracle})
	}
	if err != nil {
		return nil, err
	}

	applyPool(db, cfg.Pool)

	ctx, cancel := context.WithTimeout(context.Background(), pingTimeout)
	defer cancel()

	if err := pingDB(ctx, db); err != nil {
		if closeErr := db.Close(); closeErr != nil {
			log.Error().Err(closeErr).Msg("Failed to close database connection after ping failure")
		}
		return nil, fmt.Errorf("failed to ping %s database: %w", cfg.Type, err)
	}

	log.Info().
		Str("vendor", cfg.Type).
		Str("host", cfg.Host).
		Int("port", cfg.Port).
		Str("database", cfg.Database).
		Msg("Connected to database")

	opts = append([]Option{
		WithDialect(DialectFor(cfg.Type)),
		WithLogger(log),
		WithSettings(NewSettings(cfg)),
	}, opts...)
	return New(db, opts...), nil
}

func openPostgres(cfg *config.DatabaseConfig) (*sql.DB, error) {
	pgxConfig, err := pgx.ParseConfig(postgresDSN(cfg))
	if err != nil {
		return nil, fmt.Errorf("failed to parse PostgreSQL config: %w", err)
	}
	return openPostgresDB(pgxConfig), nil
}

func postgresDSN(cfg *config.DatabaseConfig) string {
	if cfg.ConnectionString != "" {
		return cfg.ConnectionString
	}

	parts := []string{
		fmt.Sprintf("host=%s", quoteDSN(cfg.Host)),
		fmt.Sprintf("port=%d", cfg.Port),
		fmt.Sprintf("user=%s", quoteDSN(cfg.Username)),
		fmt.Sprintf("password=%s", quoteDSN(cfg.Password)),
		fmt.Sprintf("dbname=%s", quoteDSN(cfg.Database)),
	}
	if cfg.SSLMode != "" {
		parts = append(parts, fmt.Sprintf("sslmode=%s", cfg.SSLMode))
	}
	return strings.Join(parts, " ")
}

// quoteDSN quotes a keyword/value DSN value following libpq rules.
func quoteDSN(value string) string {
	if value == "" {
		return "''"
	}

	needsQuoting := false
	for _, r := range value {
		if (r < 'a' || r > 'z') && (r < 'A' || r > 'Z') &&
			(r < '0' || r > '9') && r != '.' && r != '_' && r != '-' {
			needsQuoting = true
			break
		}
	}
	if !needsQuoting {
		return value
	}

	escaped := strings.ReplaceAll(value, "\\", "\\\\")
	escaped = strings.ReplaceAll(escaped, "'", "\\'")
	return "'" + escaped + "'"
}

func openOracle(cfg *config.DatabaseConfig) (*sql.DB, error) {
	db, err := openOracleDB(oracleDSN(cfg))
	if err != nil {
		return nil, fmt.Errorf("failed to open Oracle connection: %w", err)
	}
	return db, nil
}

func oracleDSN(cfg *config.DatabaseConfig) string {
	switch {
	case cfg.ConnectionString != "":
		return cfg.ConnectionString
	case cfg.ServiceName != "":
		return go_ora.BuildUrl(cfg.Host, cfg.Port, cfg.ServiceName, cfg.Username, cfg.Password, nil)
	case cfg.SID != "":
		return go_ora.BuildUrl(cfg.Host, cfg.Port, "", cfg.Username, cfg.Password, map[string]string{"SID": cfg.SID})
	default:
		return go_ora.BuildUrl(cfg.Host, cfg.Port, cfg.Database, cfg.Username, cfg.Password, nil)
	}
}

func applyPool(db *sql.DB, pool config.PoolConfig) {
	if pool.MaxConns > 0 {
		db.SetMaxOpenConns(int(pool.MaxConns))
	}
	if pool.MaxIdleConns > 0 {
		db.SetMaxIdleConns(int(pool.MaxIdleConns))
	}
	if pool.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(pool.ConnMaxLifetime)
	}
	if pool.ConnMaxIdleTime > 0 {
		db.SetConnMaxIdleTime(pool.ConnMaxIdleTime)
	}
}
