// Package config resolves operator configuration for tablescrub.
//
// Only ambient concerns are configurable (logging and the job server); the
// redaction rules themselves are fixed. Values come from, in order of
// precedence: command-line flags, TABLESCRUB_* environment variables, an
// optional tablescrub.yaml file, and the defaults below.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

// EnvPrefix is prepended to every environment variable, e.g. serve.secret is
// read from TABLESCRUB_SERVE_SECRET.
const EnvPrefix = "TABLESCRUB"

// Viper keys.
const (
	KeyLogLevel         = "log_level"
	KeyLogFormat        = "log_format"
	KeyServeAddr        = "serve.addr"
	KeyServeSecret      = "serve.secret"
	KeyServeTempDir     = "serve.temp_dir"
	KeyServeDBPath      = "serve.db_path"
	KeyServeMaxUploadMB = "serve.max_upload_mb"
)

const (
	DefaultLogLevel    = "warn"
	DefaultLogFormat   = "console"
	DefaultAddr        = ":8080"
	DefaultMaxUploadMB = 20
)

// ErrMissingSecret is returned by ServeConfig.Validate when no bearer secret
// is configured.
var ErrMissingSecret = errors.New("serve.secret is required (set TABLESCRUB_SERVE_SECRET)")

// Config is the resolved configuration.
type Config struct {
	LogLevel  string      `yaml:"log_level"`
	LogFormat string      `yaml:"log_format"`
	Serve     ServeConfig `yaml:"serve"`
}

// ServeConfig configures the HTTP job server.
type ServeConfig struct {
	Addr        string `yaml:"addr"`
	Secret      string `yaml:"secret"`
	TempDir     string `yaml:"temp_dir"`
	DBPath      string `yaml:"db_path"`
	MaxUploadMB int    `yaml:"max_upload_mb"`
}

// SetDefaults registers defaults and environment bindings on v. The legacy
// BACKEND_SECRET and TEMP_DIR variables are honoured as fallbacks.
func SetDefaults(v *viper.Viper) {
	v.SetDefault(KeyLogLevel, DefaultLogLevel)
	v.SetDefault(KeyLogFormat, DefaultLogFormat)
	v.SetDefault(KeyServeAddr, DefaultAddr)
	v.SetDefault(KeyServeMaxUploadMB, DefaultMaxUploadMB)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	_ = v.BindEnv(KeyServeSecret, EnvPrefix+"_SERVE_SECRET", "BACKEND_SECRET")
	_ = v.BindEnv(KeyServeTempDir, EnvPrefix+"_SERVE_TEMP_DIR", "TEMP_DIR")
}

// ReadFile loads an explicit config file, or searches the working directory
// and ~/.tablescrub for tablescrub.yaml. A missing file is not an error.
func ReadFile(v *viper.Viper, path string) error {
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return fmt.Errorf("reading config %s: %w", path, err)
		}
		return nil
	}

	v.SetConfigName("tablescrub")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	if home, err := os.UserHomeDir(); err == nil {
		v.AddConfigPath(filepath.Join(home, ".tablescrub"))
	}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) {
			return nil
		}
		return fmt.Errorf("reading config: %w", err)
	}
	return nil
}

// Load resolves a Config from v, filling derived defaults.
func Load(v *viper.Viper) *Config {
	cfg := &Config{
		LogLevel:  v.GetString(KeyLogLevel),
		LogFormat: v.GetString(KeyLogFormat),
		Serve: ServeConfig{
			Addr:        v.GetString(KeyServeAddr),
			Secret:      v.GetString(KeyServeSecret),
			TempDir:     v.GetString(KeyServeTempDir),
			DBPath:      v.GetString(KeyServeDBPath),
			MaxUploadMB: v.GetInt(KeyServeMaxUploadMB),
		},
	}
	if cfg.Serve.TempDir == "" {
		cfg.Serve.TempDir = filepath.Join(os.TempDir(), "tablescrub")
	}
	if cfg.Serve.DBPath == "" {
		cfg.Serve.DBPath = filepath.Join(cfg.Serve.TempDir, "jobs.db")
	}
	return cfg
}

// Validate checks the settings the job server cannot run without.
func (c *ServeConfig) Validate() error {
	if c.Secret == "" {
		return ErrMissingSecret
	}
	if c.MaxUploadMB <= 0 {
		return fmt.Errorf("serve.max_upload_mb must be positive, got %d", c.MaxUploadMB)
	}
	return nil
}

// MaxUploadBytes returns the upload limit in bytes.
func (c *ServeConfig) MaxUploadBytes() int64 {
	return int64(c.MaxUploadMB) << 20
}

// Redacted returns a copy safe to print.
func (c Config) Redacted() Config {
	if c.Serve.Secret != "" {
		c.Serve.Secret = "********"
	}
	return c
}
