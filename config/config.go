// Package config loads capsql settings from defaults, an optional YAML file and
// CAPSQL_-prefixed environment variables.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env/v2"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/rawbytes"
	"github.com/knadh/koanf/v2"
)

const (
	// EnvPrefix prefixes every environment variable read by Load.
	EnvPrefix = "CAPSQL_"
	// ConfigFileEnv names the variable holding an explicit config file path.
	ConfigFileEnv = "CAPSQL_CONFIG_FILE"
	// DefaultConfigFile is read from the working directory when present.
	DefaultConfigFile = "capsql.yaml"
)

// Load loads configuration from multiple sources with priority:
// 1. Environment variables (highest priority)
// 2. The YAML file named by CAPSQL_CONFIG_FILE, or capsql.yaml
// 3. Default values (lowest priority)
func Load() (*Config, error) {
	k := koanf.New(".")

	if err := loadDefaults(k); err != nil {
		return nil, fmt.Errorf("failed to load defaults: %w", err)
	}

	if err := loadFile(k); err != nil {
		return nil, err
	}

	if err := loadEnv(k); err != nil {
		return nil, err
	}

	return finish(k)
}

// LoadYAML runs the Load pipeline with data in place of the config file.
func LoadYAML(data []byte) (*Config, error) {
	k := koanf.New(".")

	if err := loadDefaults(k); err != nil {
		return nil, fmt.Errorf("failed to load defaults: %w", err)
	}

	if err := k.Load(rawbytes.Provider(data), yaml.Parser()); err != nil {
		return nil, fmt.Errorf("failed to parse yaml config: %w", err)
	}

	if err := loadEnv(k); err != nil {
		return nil, err
	}

	return finish(k)
}

func finish(k *koanf.Koanf) (*Config, error) {
	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	cfg.k = k

	if err := Validate(&cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

func loadDefaults(k *koanf.Koanf) error {
	defaults := map[string]any{
		// No connection defaults: the fixtures only connect when a database is
		// explicitly configured.
		"database.pool.maxconns":        10,
		"database.pool.maxidleconns":    2,
		"database.pool.connmaxlifetime": "30m",
		"database.pool.connmaxidletime": "5m",
		"database.query.slow.threshold": "200ms",
		"database.query.log.maxlength":  1000,
		"database.query.log.parameters": false,

		"log.level":  "disabled",
		"log.pretty": false,

		"observability.enabled":          false,
		"observability.service.name":     "capsql",
		"observability.trace.endpoint":   "stdout",
		"observability.trace.protocol":   "http",
		"observability.metrics.endpoint": "stdout",
		"observability.metrics.protocol": "http",
		"observability.metrics.interval": "10s",
	}

	return k.Load(confmap.Provider(defaults, "."), nil)
}

func loadFile(k *koanf.Koanf) error {
	path := os.Getenv(ConfigFileEnv)
	explicit := path != ""
	if !explicit {
		path = DefaultConfigFile
	}

	if _, err := os.Stat(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) && !explicit {
			return nil
		}
		return fmt.Errorf("config file %s: %w", path, err)
	}

	if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
		return fmt.Errorf("failed to load %s: %w", path, err)
	}
	return nil
}

func loadEnv(k *koanf.Koanf) error {
	provider := env.Provider(".", env.Opt{
		Prefix: EnvPrefix,
		TransformFunc: func(key, value string) (string, any) {
			key = strings.TrimPrefix(key, EnvPrefix)
			if key == strings.TrimPrefix(ConfigFileEnv, EnvPrefix) {
				return "", nil
			}
			// CAPSQL_DATABASE_HOST -> database.host
			return strings.ReplaceAll(strings.ToLower(key), "_", "."), value
		},
	})

	if err := k.Load(provider, nil); err != nil {
		return fmt.Errorf("failed to load environment variables: %w", err)
	}
	return nil
}
