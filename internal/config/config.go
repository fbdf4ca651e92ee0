// Package config loads featuretables settings with viper.
//
// Precedence, highest first: explicit overrides (CLI flags), FEATURETABLES_*
// environment variables, featuretables.yaml, defaults.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/spf13/viper"
)

const (
	fileName  = "featuretables"
	fileType  = "yaml"
	envPrefix = "FEATURETABLES"

	KeyLazyTables     = "lazy_tables"
	KeyDescriptorRoot = "descriptor_root"
	KeyTables         = "tables"
	KeyPreload        = "preload"
	KeyDB             = "db"
	KeyFullSync       = "full_sync"
	KeyLogLevel       = "log_level"
)

// Config holds resolved settings.
type Config struct {
	// LazyTables lets contributions create undeclared tables.
	LazyTables bool

	// DescriptorRoot is the directory descriptor source refs resolve against.
	// Empty means the directory of each descriptor file.
	DescriptorRoot string

	// Tables is the default base table set file for merge.
	Tables string

	// Preload loads descriptors at registration.
	Preload bool

	// DB is the journal path. Empty disables journaling.
	DB string

	// FullSync fsyncs the journal on every commit.
	FullSync bool

	// LogLevel is one of debug, info, warn, error.
	LogLevel string
}

// Load reads configuration.
//
// With an explicit path the file must exist. Otherwise featuretables.yaml
// is searched in dirs (the working directory when dirs is empty) and a
// missing file is not an error.
func Load(path string, dirs ...string) (*Config, error) {
	v := newViper()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
		return decode(v)
	}

	v.SetConfigName(fileName)
	v.SetConfigType(fileType)
	if len(dirs) == 0 {
		dirs = []string{"."}
	}
	for _, dir := range dirs {
		v.AddConfigPath(dir)
	}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}
	return decode(v)
}

// Default returns the configuration with no file and no environment.
func Default() *Config {
	return &Config{LazyTables: true, LogLevel: "info"}
}

func newViper() *viper.Viper {
	v := viper.New()
	d := Default()
	v.SetDefault(KeyLazyTables, d.LazyTables)
	v.SetDefault(KeyDescriptorRoot, d.DescriptorRoot)
	v.SetDefault(KeyTables, d.Tables)
	v.SetDefault(KeyPreload, d.Preload)
	v.SetDefault(KeyDB, d.DB)
	v.SetDefault(KeyFullSync, d.FullSync)
	v.SetDefault(KeyLogLevel, d.LogLevel)

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()
	return v
}

func decode(v *viper.Viper) (*Config, error) {
	cfg := &Config{
		LazyTables:     v.GetBool(KeyLazyTables),
		DescriptorRoot: v.GetString(KeyDescriptorRoot),
		Tables:         v.GetString(KeyTables),
		Preload:        v.GetBool(KeyPreload),
		DB:             v.GetString(KeyDB),
		FullSync:       v.GetBool(KeyFullSync),
		LogLevel:       strings.ToLower(v.GetString(KeyLogLevel)),
	}
	if _, err := cfg.Level(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Level parses LogLevel.
func (c *Config) Level() (slog.Level, error) {
	var level slog.Level
	if c.LogLevel == "" {
		return slog.LevelInfo, nil
	}
	if err := level.UnmarshalText([]byte(c.LogLevel)); err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", KeyLogLevel, c.LogLevel, err)
	}
	return level, nil
}
