package config

import (
	"errors"
	"fmt"
	"reflect"
	"strings"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
)

const (
	defaultSlowQueryThreshold = 200 * time.Millisecond
	defaultMaxQueryLength     = 1000
)

// Database type constants
const (
	PostgreSQL = "postgresql"
	Oracle     = "oracle"
)

var (
	validateOnce sync.Once
	validate     *validator.Validate
)

// structValidator reports field paths by their koanf keys, e.g. "database.port".
func structValidator() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New(validator.WithRequiredStructEnabled())
		validate.RegisterTagNameFunc(func(field reflect.StructField) string {
			name := strings.SplitN(field.Tag.Get("koanf"), ",", 2)[0]
			if name == "" || name == "-" {
				return field.Name
			}
			return name
		})
	})
	return validate
}

// Validate checks cfg's struct tags, then the cross-field rules of the database
// and observability sections. Zero query settings are replaced by their defaults.
func Validate(cfg *Config) error {
	if err := validateTags(cfg); err != nil {
		return err
	}

	if err := validateDatabase(&cfg.Database); err != nil {
		return fmt.Errorf("database config: %w", err)
	}

	if err := validateObservability(&cfg.Observability); err != nil {
		return fmt.Errorf("observability config: %w", err)
	}

	return nil
}

func validateTags(cfg *Config) error {
	err := structValidator().Struct(cfg)
	if err == nil {
		return nil
	}

	var validationErrors validator.ValidationErrors
	if !errors.As(err, &validationErrors) {
		return err
	}

	configErrs := make([]error, 0, len(validationErrors))
	for _, fe := range validationErrors {
		configErrs = append(configErrs, toConfigError(fe))
	}
	return errors.Join(configErrs...)
}

func toConfigError(fe validator.FieldError) *ConfigError {
	// Namespace is "Config.database.port"; drop the root struct name.
	field := fe.Namespace()
	if i := strings.IndexByte(field, '.'); i >= 0 {
		field = field[i+1:]
	}

	switch fe.Tag() {
	case "oneof":
		return NewInvalidFieldError(field, fmt.Sprintf("invalid value %q", fmt.Sprint(fe.Value())), strings.Fields(fe.Param()))
	case "min", "max", "gte":
		return NewInvalidFieldError(field, fmt.Sprintf("value %v out of range (%s=%s)", fe.Value(), fe.Tag(), fe.Param()), nil)
	default:
		return NewInvalidFieldError(field, fmt.Sprintf("failed %q validation", fe.Tag()), nil)
	}
}

// IsDatabaseConfigured determines if a database is intentionally configured.
func IsDatabaseConfigured(cfg *DatabaseConfig) bool {
	if cfg.ConnectionString != "" {
		return true
	}
	return cfg.Host != "" || cfg.Type != ""
}

func validateDatabase(cfg *DatabaseConfig) error {
	if !IsDatabaseConfigured(cfg) {
		return nil
	}

	if cfg.Type == "" {
		return NewMissingFieldError("database.type")
	}

	if cfg.ConnectionString == "" {
		if err := validateDatabaseCoreFields(cfg); err != nil {
			return err
		}
	}

	applyQueryDefaults(cfg)
	return nil
}

func validateDatabaseCoreFields(cfg *DatabaseConfig) error {
	if cfg.Host == "" {
		return NewMissingFieldError("database.host")
	}
	if cfg.Port == 0 {
		return NewMissingFieldError("database.port")
	}
	if cfg.Username == "" {
		return NewMissingFieldError("database.username")
	}

	switch cfg.Type {
	case Oracle:
		if cfg.ServiceName == "" && cfg.SID == "" && cfg.Database == "" {
			err := NewMissingFieldError("database.servicename")
			err.Details = []string{"database.sid or database.database are accepted instead"}
			return err
		}
	default:
		if cfg.Database == "" {
			return NewMissingFieldError("database.database")
		}
	}
	return nil
}

func applyQueryDefaults(cfg *DatabaseConfig) {
	if cfg.Query.Log.MaxLength == 0 {
		cfg.Query.Log.MaxLength = defaultMaxQueryLength
	}
	if cfg.Query.Slow.Threshold == 0 {
		cfg.Query.Slow.Threshold = defaultSlowQueryThreshold
	}
}

func validateObservability(cfg *ObservabilityConfig) error {
	if !cfg.Enabled {
		return nil
	}
	if cfg.Service.Name == "" {
		return NewMissingFieldError("observability.service.name")
	}
	if cfg.Trace.Enabled && cfg.Trace.Endpoint == "" {
		return NewMissingFieldError("observability.trace.endpoint")
	}
	if cfg.Metrics.Enabled && cfg.Metrics.Endpoint == "" {
		return NewMissingFieldError("observability.metrics.endpoint")
	}
	return nil
}
