// Package config loads nodeledger settings from defaults, an optional YAML
// file, NODELEDGER_* environment variables and command-line flags, in
// increasing order of precedence.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/spf13/viper"
)

// Storage drivers.
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
	DriverMemory   = "memory"
)

// EnvPrefix is prepended to every environment override, e.g.
// NODELEDGER_STORAGE_DRIVER for storage.driver.
const EnvPrefix = "NODELEDGER"

type Config struct {
	Storage Storage `mapstructure:"storage"`
	Engine  Engine  `mapstructure:"engine"`
	Ingest  Ingest  `mapstructure:"ingest"`
	Log     Log     `mapstructure:"log"`
}

type Storage struct {
	Driver      string `mapstructure:"driver"`
	SQLitePath  string `mapstructure:"sqlite_path"`
	PostgresDSN string `mapstructure:"postgres_dsn"`
}

type Engine struct {
	SuppressDuplicates bool `mapstructure:"suppress_duplicates"`

	// TypesDir holds .cue files that add or override resource types.
	TypesDir string `mapstructure:"types_dir"`
}

type Ingest struct {
	Workers int `mapstructure:"workers"`
}

type Log struct {
	Level string `mapstructure:"level"`
}

// New returns a viper instance with every key defaulted and environment
// overrides enabled. Callers bind flags on it before calling Read.
func New() *viper.Viper {
	v := viper.New()
	v.SetDefault("storage.driver", DriverSQLite)
	v.SetDefault("storage.sqlite_path", "nodeledger.db")
	v.SetDefault("storage.postgres_dsn", "")
	v.SetDefault("engine.suppress_duplicates", false)
	v.SetDefault("engine.types_dir", "")
	v.SetDefault("ingest.workers", 8)
	v.SetDefault("log.level", "info")

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

// BindLocation routes a database location given on the command line to
// the key of the driver v resolves to: a file path for sqlite, a DSN for
// postgres. The memory driver has no location and rejects one.
func BindLocation(v *viper.Viper, location string) error {
	if location == "" {
		return nil
	}
	switch driver := v.GetString("storage.driver"); driver {
	case DriverSQLite:
		v.Set("storage.sqlite_path", location)
	case DriverPostgres:
		v.Set("storage.postgres_dsn", location)
	case DriverMemory:
		return errors.New("the memory driver does not take a database location")
	default:
		return fmt.Errorf("unknown storage.driver %q (want %s, %s or %s)",
			driver, DriverSQLite, DriverPostgres, DriverMemory)
	}
	return nil
}

// Read reads configFile, or searches for nodeledger.yaml in the working
// directory and $HOME/.config/nodeledger when configFile is empty. A
// missing file in the search path is not an error; a missing explicit file
// is.
func Read(v *viper.Viper, configFile string) error {
	if configFile != "" {
		v.SetConfigFile(configFile)
	} else {
		v.SetConfigName("nodeledger")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("$HOME/.config/nodeledger")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if configFile != "" || !errors.As(err, &notFound) {
			return fmt.Errorf("read config: %w", err)
		}
	}
	return nil
}

// Decode unmarshals and validates the settings v holds.
func Decode(v *viper.Viper) (Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate rejects settings no command can run with.
func (c Config) Validate() error {
	switch c.Storage.Driver {
	case DriverSQLite:
		if c.Storage.SQLitePath == "" {
			return errors.New("storage.sqlite_path is required for the sqlite driver")
		}
	case DriverPostgres:
		if c.Storage.PostgresDSN == "" {
			return errors.New("storage.postgres_dsn is required for the postgres driver")
		}
	case DriverMemory:
	default:
		return fmt.Errorf("unknown storage.driver %q (want %s, %s or %s)",
			c.Storage.Driver, DriverSQLite, DriverPostgres, DriverMemory)
	}

	if c.Ingest.Workers < 1 {
		return fmt.Errorf("ingest.workers must be at least 1, got %d", c.Ingest.Workers)
	}
	if _, err := ParseLevel(c.Log.Level); err != nil {
		return err
	}
	return nil
}

// SlogLevel returns the configured log level. Validate has already
// rejected unknown names.
func (c Config) SlogLevel() slog.Level {
	level, _ := ParseLevel(c.Log.Level)
	return level
}

// ParseLevel maps debug, info, warn and error to slog levels.
func ParseLevel(s string) (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(s)); err != nil {
		return 0, fmt.Errorf("unknown log.level %q", s)
	}
	return level, nil
}
