package config

import (
	"time"

	"github.com/knadh/koanf/v2"
)

// Config is the capsql configuration: the database the fixtures connect to, the
// logger the engine writes to and where statement telemetry is exported.
type Config struct {
	Database      DatabaseConfig      `koanf:"database" json:"database" yaml:"database"`
	Log           LogConfig           `koanf:"log" json:"log" yaml:"log"`
	Observability ObservabilityConfig `koanf:"observability" json:"observability" yaml:"observability"`

	k *koanf.Koanf
}

// Koanf exposes the loaded key space, e.g. for keys a caller defines itself.
func (c *Config) Koanf() *koanf.Koanf {
	return c.k
}

// DatabaseConfig holds connection settings for the engine under test.
type DatabaseConfig struct {
	Type     string `koanf:"type" json:"type" yaml:"type" validate:"omitempty,oneof=postgresql oracle"`
	Host     string `koanf:"host" json:"host" yaml:"host"`
	Port     int    `koanf:"port" json:"port" yaml:"port" validate:"omitempty,min=1,max=65535"`
	Database string `koanf:"database" json:"database" yaml:"database"`
	Username string `koanf:"username" json:"username" yaml:"username"`
	Password string `koanf:"password" json:"password" yaml:"password"`

	// ConnectionString takes precedence over the discrete fields above.
	ConnectionString string `koanf:"connectionstring" json:"connectionstring" yaml:"connectionstring"`

	// PostgreSQL only.
	SSLMode string `koanf:"sslmode" json:"sslmode" yaml:"sslmode" validate:"omitempty,oneof=disable allow prefer require verify-ca verify-full"`

	// Oracle only. ServiceName wins over SID, SID over Database.
	ServiceName string `koanf:"servicename" json:"servicename" yaml:"servicename"`
	SID         string `koanf:"sid" json:"sid" yaml:"sid"`

	Pool  PoolConfig  `koanf:"pool" json:"pool" yaml:"pool"`
	Query QueryConfig `koanf:"query" json:"query" yaml:"query"`
}

// PoolConfig holds database/sql pool settings.
type PoolConfig struct {
	MaxConns        int32         `koanf:"maxconns" json:"maxconns" yaml:"maxconns" validate:"gte=0"`
	MaxIdleConns    int32         `koanf:"maxidleconns" json:"maxidleconns" yaml:"maxidleconns" validate:"gte=0"`
	ConnMaxLifetime time.Duration `koanf:"connmaxlifetime" json:"connmaxlifetime" yaml:"connmaxlifetime" validate:"gte=0"`
	ConnMaxIdleTime time.Duration `koanf:"connmaxidletime" json:"connmaxidletime" yaml:"connmaxidletime" validate:"gte=0"`
}

// QueryConfig holds statement logging and slow-statement detection settings.
type QueryConfig struct {
	Slow SlowQueryConfig `koanf:"slow" json:"slow" yaml:"slow"`
	Log  QueryLogConfig  `koanf:"log" json:"log" yaml:"log"`
}

// SlowQueryConfig sets the duration above which a statement is logged at warn level.
type SlowQueryConfig struct {
	Threshold time.Duration `koanf:"threshold" json:"threshold" yaml:"threshold" validate:"gte=0"`
}

// QueryLogConfig controls what a statement log line contains.
type QueryLogConfig struct {
	Parameters bool `koanf:"parameters" json:"parameters" yaml:"parameters"`
	MaxLength  int  `koanf:"maxlength" json:"maxlength" yaml:"maxlength" validate:"gte=0"`
}

// LogConfig holds logger settings.
type LogConfig struct {
	Level  string `koanf:"level" json:"level" yaml:"level" validate:"omitempty,oneof=trace debug info warn error fatal panic disabled"`
	Pretty bool   `koanf:"pretty" json:"pretty" yaml:"pretty"`
}

// ObservabilityConfig controls export of the engine's statement spans and metrics.
// When disabled the engine reports to the global OpenTelemetry providers.
type ObservabilityConfig struct {
	Enabled bool          `koanf:"enabled" json:"enabled" yaml:"enabled"`
	Service ServiceConfig `koanf:"service" json:"service" yaml:"service"`
	Trace   ExportConfig  `koanf:"trace" json:"trace" yaml:"trace"`
	Metrics ExportConfig  `koanf:"metrics" json:"metrics" yaml:"metrics"`
}

// ServiceConfig names the test run in exported telemetry.
type ServiceConfig struct {
	Name    string `koanf:"name" json:"name" yaml:"name"`
	Version string `koanf:"version" json:"version" yaml:"version"`
}

// ExportConfig describes one exporter. Endpoint "stdout" prints to standard output;
// anything else is an OTLP collector address.
type ExportConfig struct {
	Enabled  bool              `koanf:"enabled" json:"enabled" yaml:"enabled"`
	Endpoint string            `koanf:"endpoint" json:"endpoint" yaml:"endpoint"`
	Protocol string            `koanf:"protocol" json:"protocol" yaml:"protocol" validate:"omitempty,oneof=http grpc"`
	Insecure bool              `koanf:"insecure" json:"insecure" yaml:"insecure"`
	Headers  map[string]string `koanf:"headers" json:"headers" yaml:"headers"`
	// Interval is the metrics export period. Unused for traces.
	Interval time.Duration `koanf:"interval" json:"interval" yaml:"interval" validate:"gte=0"`
}
