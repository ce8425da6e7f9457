package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"github.com/vk/recsexplorer/internal/autosave"
	"github.com/vk/recsexplorer/internal/pipeline"
	"github.com/vk/recsexplorer/internal/session"
)

const (
	EnvPrefix = "RECSX"

	SessionsDirFlag      = "sessions-dir"
	LogLevelFlag         = "log-level"
	LogFormatFlag        = "log-format"
	AutoSaveIntervalFlag = "autosave-interval"
	AutoSaveDebounceFlag = "autosave-debounce"
	MaxMemoryBytesFlag   = "max-memory-bytes"
	CachePolicyFlag      = "cache-policy"
	HealthcheckPortFlag  = "healthcheck-port"
	SessionMaxAgeFlag    = "session-max-age"
)

// Config holds everything the application needs to start.
type Config struct {
	SessionsDir      string        `mapstructure:"sessions-dir"`
	LogLevel         string        `mapstructure:"log-level"`
	LogFormat        string        `mapstructure:"log-format"`
	AutoSaveInterval time.Duration `mapstructure:"autosave-interval"`
	AutoSaveDebounce time.Duration `mapstructure:"autosave-debounce"`
	MaxMemoryBytes   int64         `mapstructure:"max-memory-bytes"`
	CachePolicy      string        `mapstructure:"cache-policy"`
	HealthcheckPort  int           `mapstructure:"healthcheck-port"`
	SessionMaxAge    time.Duration `mapstructure:"session-max-age"`
}

// Default returns the configuration used when nothing is overridden.
func Default() Config {
	return Config{
		SessionsDir:      defaultSessionsDir(),
		LogLevel:         "info",
		LogFormat:        "text",
		AutoSaveInterval: autosave.DefaultInterval,
		AutoSaveDebounce: autosave.DefaultDebounce,
		MaxMemoryBytes:   pipeline.DefaultMaxMemoryBytes,
		CachePolicy:      string(pipeline.CacheAll),
		SessionMaxAge:    session.DefaultMaxAge,
	}
}

func defaultSessionsDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".recsexplorer", "sessions")
	}
	return filepath.Join(home, ".recsexplorer", "sessions")
}

// BindFlags registers every configuration flag on flags.
func BindFlags(flags *pflag.FlagSet) {
	d := Default()
	flags.String(SessionsDirFlag, d.SessionsDir, "directory holding saved sessions")
	flags.String(LogLevelFlag, d.LogLevel, "log level: debug, info, warn or error")
	flags.String(LogFormatFlag, d.LogFormat, "log format: text or json")
	flags.Duration(AutoSaveIntervalFlag, d.AutoSaveInterval, "how often unsaved changes are persisted")
	flags.Duration(AutoSaveDebounceFlag, d.AutoSaveDebounce, "quiet period after a pipeline edit before it is persisted")
	flags.Int64(MaxMemoryBytesFlag, d.MaxMemoryBytes, "memory budget for cached stage outputs")
	flags.String(CachePolicyFlag, d.CachePolicy, "which stage outputs to cache: all, selective or none")
	flags.Int(HealthcheckPortFlag, d.HealthcheckPort, "port for the /health and /metrics endpoints, 0 disables it")
	flags.Duration(SessionMaxAgeFlag, d.SessionMaxAge, "sessions untouched for longer are removed by 'sessions clean'")
}

// Options locate the optional configuration files.
type Options struct {
	// EnvFile is loaded into the process environment when it exists.
	EnvFile string
	// ConfigFile overrides the config.yaml search path.
	ConfigFile string
}

// Load resolves the configuration. flags should have been passed to BindFlags;
// only flags the user set take precedence over the environment.
func Load(flags *pflag.FlagSet, opts Options) (*Config, error) {
	if opts.EnvFile != "" {
		if err := godotenv.Load(opts.EnvFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("load %s: %w", opts.EnvFile, err)
		}
	}

	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	if opts.ConfigFile != "" {
		v.SetConfigFile(opts.ConfigFile)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath(filepath.Join("$HOME", ".recsexplorer"))
	}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if opts.ConfigFile != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	if flags != nil {
		if err := v.BindPFlags(flags); err != nil {
			return nil, fmt.Errorf("bind flags: %w", err)
		}
	}

	cfg := Default()
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	return NewConfig(cfg)
}

// NewConfig validates cfg and returns a copy of it.
func NewConfig(cfg Config) (*Config, error) {
	if cfg.SessionsDir == "" {
		return nil, errors.New("sessions-dir is a required configuration field and cannot be empty")
	}

	cfg.LogLevel = strings.ToLower(cfg.LogLevel)
	switch cfg.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return nil, fmt.Errorf("invalid log-level %q: must be 'debug', 'info', 'warn', or 'error'", cfg.LogLevel)
	}

	cfg.LogFormat = strings.ToLower(cfg.LogFormat)
	if cfg.LogFormat != "text" && cfg.LogFormat != "json" {
		return nil, fmt.Errorf("invalid log-format %q: must be 'text' or 'json'", cfg.LogFormat)
	}

	if !pipeline.CachePolicy(cfg.CachePolicy).Valid() {
		return nil, fmt.Errorf("invalid cache-policy %q: must be 'all', 'selective' or 'none'", cfg.CachePolicy)
	}
	if cfg.MaxMemoryBytes <= 0 {
		return nil, fmt.Errorf("max-memory-bytes must be positive, got %d", cfg.MaxMemoryBytes)
	}
	if cfg.AutoSaveInterval <= 0 || cfg.AutoSaveDebounce <= 0 {
		return nil, errors.New("autosave-interval and autosave-debounce must be positive")
	}
	if cfg.SessionMaxAge <= 0 {
		return nil, errors.New("session-max-age must be positive")
	}
	if cfg.HealthcheckPort < 0 || cfg.HealthcheckPort > 65535 {
		return nil, fmt.Errorf("invalid healthcheck-port %d", cfg.HealthcheckPort)
	}
	return &cfg, nil
}
