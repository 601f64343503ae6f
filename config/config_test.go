package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	databaseHost = "database.host"

	postgresYAML = `
database:
  type: postgresql
  host: localhost
  port: 5432
  database: orders
  username: app
  password: secret
  sslmode: disable
  query:
    slow:
      threshold: 50ms
    log:
      parameters: true
log:
  level: debug
`
)

func TestLoadYAMLPostgres(t *testing.T) {
	cfg, err := LoadYAML([]byte(postgresYAML))
	require.NoError(t, err)

	db := cfg.Database
	assert.Equal(t, PostgreSQL, db.Type)
	assert.Equal(t, "localhost", db.Host)
	assert.Equal(t, 5432, db.Port)
	assert.Equal(t, "orders", db.Database)
	assert.Equal(t, "app", db.Username)
	assert.Equal(t, "secret", db.Password)
	assert.Equal(t, "disable", db.SSLMode)
	assert.Equal(t, 50*time.Millisecond, db.Query.Slow.Threshold)
	assert.True(t, db.Query.Log.Parameters)
	assert.Equal(t, 1000, db.Query.Log.MaxLength)
	assert.Equal(t, int32(10), db.Pool.MaxConns)
	assert.Equal(t, 30*time.Minute, db.Pool.ConnMaxLifetime)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "localhost", cfg.Koanf().String(databaseHost))
}

func TestLoadYAMLDefaults(t *testing.T) {
	cfg, err := LoadYAML(nil)
	require.NoError(t, err)

	assert.False(t, IsDatabaseConfigured(&cfg.Database))
	assert.Equal(t, "disabled", cfg.Log.Level)
	assert.Equal(t, defaultSlowQueryThreshold, cfg.Database.Query.Slow.Threshold)
}

func TestLoadYAMLEnvironmentOverrides(t *testing.T) {
	t.Setenv("CAPSQL_DATABASE_HOST", "db.internal")
	t.Setenv("CAPSQL_DATABASE_PORT", "6543")
	t.Setenv("CAPSQL_DATABASE_QUERY_LOG_PARAMETERS", "false")
	t.Setenv("CAPSQL_LOG_LEVEL", "warn")
	t.Setenv("UNRELATED_DATABASE_HOST", "ignored")

	cfg, err := LoadYAML([]byte(postgresYAML))
	require.NoError(t, err)

	assert.Equal(t, "db.internal", cfg.Database.Host)
	assert.Equal(t, 6543, cfg.Database.Port)
	assert.False(t, cfg.Database.Query.Log.Parameters)
	assert.Equal(t, "warn", cfg.Log.Level)
}

func TestLoadReadsConfigFileFromEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "custom.yaml")
	require.NoError(t, os.WriteFile(path, []byte(postgresYAML), 0o600))
	t.Setenv(ConfigFileEnv, path)

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "orders", cfg.Database.Database)
	assert.Empty(t, cfg.Koanf().String("config.file"))
}

func TestLoadMissingExplicitFile(t *testing.T) {
	t.Setenv(ConfigFileEnv, filepath.Join(t.TempDir(), "missing.yaml"))

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "missing.yaml")
}

func TestLoadWithoutFileUsesEnvironment(t *testing.T) {
	t.Setenv("CAPSQL_DATABASE_TYPE", "oracle")
	t.Setenv("CAPSQL_DATABASE_HOST", "oracle.local")
	t.Setenv("CAPSQL_DATABASE_PORT", "1521")
	t.Setenv("CAPSQL_DATABASE_USERNAME", "system")
	t.Setenv("CAPSQL_DATABASE_SERVICENAME", "FREEPDB1")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, Oracle, cfg.Database.Type)
	assert.Equal(t, "FREEPDB1", cfg.Database.ServiceName)
}

func TestLoadYAMLMalformed(t *testing.T) {
	_, err := LoadYAML([]byte("database: [unclosed"))
	assert.Error(t, err)
}

func TestValidateDatabase(t *testing.T) {
	valid := func() *Config {
		return &Config{Database: DatabaseConfig{
			Type:     PostgreSQL,
			Host:     "localhost",
			Port:     5432,
			Database: "orders",
			Username: "app",
		}}
	}

	tests := []struct {
		name          string
		mutate        func(*Config)
		expectedField string
		category      string
	}{
		{name: "valid", mutate: func(*Config) {}},
		{name: "not_configured", mutate: func(c *Config) { c.Database = DatabaseConfig{} }},
		{
			name:          "missing_type",
			mutate:        func(c *Config) { c.Database.Type = "" },
			expectedField: "database.type",
			category:      "missing",
		},
		{
			name:          "unsupported_type",
			mutate:        func(c *Config) { c.Database.Type = "mongodb" },
			expectedField: "database.type",
			category:      "invalid",
		},
		{
			name:          "missing_host",
			mutate:        func(c *Config) { c.Database.Host = "" },
			expectedField: databaseHost,
			category:      "missing",
		},
		{
			name:          "port_out_of_range",
			mutate:        func(c *Config) { c.Database.Port = 70000 },
			expectedField: "database.port",
			category:      "invalid",
		},
		{
			name:          "missing_database_name",
			mutate:        func(c *Config) { c.Database.Database = "" },
			expectedField: "database.database",
			category:      "missing",
		},
		{
			name: "oracle_without_service",
			mutate: func(c *Config) {
				c.Database.Type = Oracle
				c.Database.Database = ""
			},
			expectedField: "database.servicename",
			category:      "missing",
		},
		{
			name: "connection_string_skips_core_fields",
			mutate: func(c *Config) {
				c.Database = DatabaseConfig{Type: PostgreSQL, ConnectionString: "postgres://app@localhost/orders"}
			},
		},
		{
			name:          "invalid_log_level",
			mutate:        func(c *Config) { c.Log.Level = "verbose" },
			expectedField: "log.level",
			category:      "invalid",
		},
		{
			name:          "negative_pool_size",
			mutate:        func(c *Config) { c.Database.Pool.MaxConns = -1 },
			expectedField: "database.pool.maxconns",
			category:      "invalid",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(cfg)

			err := Validate(cfg)
			if tt.expectedField == "" {
				require.NoError(t, err)
				return
			}

			require.Error(t, err)
			var configErr *ConfigError
			require.True(t, errors.As(err, &configErr), "expected ConfigError, got %T", err)
			assert.Equal(t, tt.expectedField, configErr.Field)
			assert.Equal(t, tt.category, configErr.Category)
		})
	}
}

func TestValidateAppliesQueryDefaults(t *testing.T) {
	cfg := &Config{Database: DatabaseConfig{Type: PostgreSQL, ConnectionString: "postgres://app@localhost/orders"}}

	require.NoError(t, Validate(cfg))
	assert.Equal(t, defaultMaxQueryLength, cfg.Database.Query.Log.MaxLength)
	assert.Equal(t, defaultSlowQueryThreshold, cfg.Database.Query.Slow.Threshold)
}

func TestConfigErrorError(t *testing.T) {
	tests := []struct {
		name     string
		err      *ConfigError
		expected string
	}{
		{
			name:     "missing_field",
			err:      NewMissingFieldError(databaseHost),
			expected: "config_missing: database.host required set CAPSQL_DATABASE_HOST env var or add database.host to capsql.yaml",
		},
		{
			name:     "invalid_with_options",
			err:      NewInvalidFieldError("database.type", "invalid value \"x\"", []string{PostgreSQL, Oracle}),
			expected: "config_invalid: database.type invalid value \"x\" must be one of: postgresql, oracle",
		},
		{
			name: "with_details",
			err: &ConfigError{
				Category: "missing",
				Field:    "database.servicename",
				Details:  []string{"detail1", "detail2"},
			},
			expected: "config_missing: database.servicename detail1; detail2",
		},
		{
			name:     "empty",
			err:      &ConfigError{},
			expected: "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, tt.err.Error())
		})
	}
}

func TestIsNotConfigured(t *testing.T) {
	assert.False(t, IsNotConfigured(nil))
	assert.False(t, IsNotConfigured(errors.New("other")))
	assert.True(t, IsNotConfigured(ErrNotConfigured))
	assert.True(t, IsNotConfigured(NewNotConfiguredError("database")))
	assert.False(t, IsNotConfigured(NewMissingFieldError(databaseHost)))
}

func TestEnvVar(t *testing.T) {
	assert.Equal(t, "CAPSQL_DATABASE_QUERY_SLOW_THRESHOLD", EnvVar("database.query.slow.threshold"))
}

func TestLoadYAMLObservabilityDefaults(t *testing.T) {
	cfg, err := LoadYAML(nil)
	require.NoError(t, err)

	obs := cfg.Observability
	assert.False(t, obs.Enabled)
	assert.Equal(t, "capsql", obs.Service.Name)
	assert.Equal(t, "stdout", obs.Trace.Endpoint)
	assert.Equal(t, "http", obs.Trace.Protocol)
	assert.Equal(t, "stdout", obs.Metrics.Endpoint)
	assert.Equal(t, 10*time.Second, obs.Metrics.Interval)
}

func TestLoadYAMLObservability(t *testing.T) {
	cfg, err := LoadYAML([]byte(`
observability:
  enabled: true
  service:
    name: orders-tests
    version: 1.2.0
  trace:
    enabled: true
    endpoint: collector:4317
    protocol: grpc
    insecure: true
    headers:
      x-team: payments
`))
	require.NoError(t, err)

	obs := cfg.Observability
	assert.True(t, obs.Enabled)
	assert.Equal(t, "orders-tests", obs.Service.Name)
	assert.Equal(t, "1.2.0", obs.Service.Version)
	assert.True(t, obs.Trace.Enabled)
	assert.Equal(t, "collector:4317", obs.Trace.Endpoint)
	assert.Equal(t, "grpc", obs.Trace.Protocol)
	assert.True(t, obs.Trace.Insecure)
	assert.Equal(t, map[string]string{"x-team": "payments"}, obs.Trace.Headers)
	assert.False(t, obs.Metrics.Enabled)
}

func TestValidateObservability(t *testing.T) {
	tests := []struct {
		name    string
		obs     ObservabilityConfig
		field   string
		wantErr bool
	}{
		{
			name: "disabled ignores missing fields",
			obs:  ObservabilityConfig{},
		},
		{
			name: "enabled with stdout exporters",
			obs: ObservabilityConfig{
				Enabled: true,
				Service: ServiceConfig{Name: "capsql"},
				Trace:   ExportConfig{Enabled: true, Endpoint: "stdout", Protocol: "http"},
				Metrics: ExportConfig{Enabled: true, Endpoint: "stdout", Protocol: "http"},
			},
		},
		{
			name:    "missing service name",
			obs:     ObservabilityConfig{Enabled: true},
			field:   "observability.service.name",
			wantErr: true,
		},
		{
			name: "missing trace endpoint",
			obs: ObservabilityConfig{
				Enabled: true,
				Service: ServiceConfig{Name: "capsql"},
				Trace:   ExportConfig{Enabled: true, Protocol: "http"},
			},
			field:   "observability.trace.endpoint",
			wantErr: true,
		},
		{
			name: "missing metrics endpoint",
			obs: ObservabilityConfig{
				Enabled: true,
				Service: ServiceConfig{Name: "capsql"},
				Metrics: ExportConfig{Enabled: true, Protocol: "grpc"},
			},
			field:   "observability.metrics.endpoint",
			wantErr: true,
		},
		{
			name: "unknown protocol",
			obs: ObservabilityConfig{
				Enabled: true,
				Service: ServiceConfig{Name: "capsql"},
				Trace:   ExportConfig{Enabled: true, Endpoint: "collector:4318", Protocol: "tcp"},
			},
			field:   "observability.trace.protocol",
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Validate(&Config{Observability: tt.obs})
			if !tt.wantErr {
				assert.NoError(t, err)
				return
			}

			var cfgErr *ConfigError
			require.ErrorAs(t, err, &cfgErr)
			assert.Equal(t, tt.field, cfgErr.Field)
		})
	}
}
