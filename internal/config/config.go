package config

import (
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	toml "github.com/pelletier/go-toml/v2"
	"github.com/pkg/errors"
)

// Config holds everything alloclog reads from its config file and the
// environment.
type Config struct {
	Address         string
	Token           string
	Region          string
	Namespace       string
	ClientTimeout   time.Duration
	ServerTimeout   time.Duration
	PollInterval    time.Duration
	StatsInterval   time.Duration
	MaxOutputLength int
	Polling         bool
	LogFile         string
	LogLevel        string
}

const (
	defaultConfigPath      = "~/.config/alloclog/config.toml"
	defaultLogFile         = "~/.local/state/alloclog/alloclog.log"
	defaultAddress         = "http://127.0.0.1:4646"
	defaultLogLevel        = "info"
	defaultClientTimeout   = time.Second
	defaultServerTimeout   = 5 * time.Second
	defaultPollInterval    = time.Second
	defaultStatsInterval   = 2 * time.Second
	defaultMaxOutputLength = 50000
)

// Environment variables that override the file, named as the nomad CLI
// names them.
const (
	EnvAddress   = "NOMAD_ADDR"
	EnvToken     = "NOMAD_TOKEN"
	EnvRegion    = "NOMAD_REGION"
	EnvNamespace = "NOMAD_NAMESPACE"
)

// Default returns the configuration used when no file exists.
func Default() Config {
	return Config{
		Address:         defaultAddress,
		ClientTimeout:   defaultClientTimeout,
		ServerTimeout:   defaultServerTimeout,
		PollInterval:    defaultPollInterval,
		StatsInterval:   defaultStatsInterval,
		MaxOutputLength: defaultMaxOutputLength,
		LogFile:         mustExpand(defaultLogFile),
		LogLevel:        defaultLogLevel,
	}
}

type rawConfig struct {
	Address         string `toml:"address"`
	Token           string `toml:"token"`
	Region          string `toml:"region"`
	Namespace       string `toml:"namespace"`
	ClientTimeout   string `toml:"client_timeout"`
	ServerTimeout   string `toml:"server_timeout"`
	PollInterval    string `toml:"poll_interval"`
	StatsInterval   string `toml:"stats_interval"`
	MaxOutputLength int    `toml:"max_output_length"`
	Polling         bool   `toml:"polling"`
	LogFile         string `toml:"log_file"`
	LogLevel        string `toml:"log_level"`
}

// Load reads the config file at path (the default location when empty),
// falling back to defaults when it is missing, then applies environment
// overrides.
func Load(path string) (Config, error) {
	resolved, err := resolvePath(path)
	if err != nil {
		return Config{}, err
	}

	cfg := Default()

	file, err := os.Open(resolved)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			applyEnv(&cfg)
			return cfg, nil
		}
		return Config{}, errors.Wrap(err, "open config")
	}
	defer file.Close()

	bytes, err := io.ReadAll(file)
	if err != nil {
		return Config{}, errors.Wrap(err, "read config")
	}

	var raw rawConfig
	if err := toml.Unmarshal(bytes, &raw); err != nil {
		return Config{}, errors.Wrap(err, "parse config")
	}
	if err := merge(&cfg, raw); err != nil {
		return Config{}, err
	}
	applyEnv(&cfg)
	return cfg, nil
}

func merge(cfg *Config, raw rawConfig) error {
	if v := strings.TrimSpace(raw.Address); v != "" {
		cfg.Address = v
	}
	cfg.Token = strings.TrimSpace(raw.Token)
	cfg.Region = strings.TrimSpace(raw.Region)
	cfg.Namespace = strings.TrimSpace(raw.Namespace)

	durations := []struct {
		key string
		raw string
		dst *time.Duration
	}{
		{"client_timeout", raw.ClientTimeout, &cfg.ClientTimeout},
		{"server_timeout", raw.ServerTimeout, &cfg.ServerTimeout},
		{"poll_interval", raw.PollInterval, &cfg.PollInterval},
		{"stats_interval", raw.StatsInterval, &cfg.StatsInterval},
	}
	for _, d := range durations {
		v := strings.TrimSpace(d.raw)
		if v == "" {
			continue
		}
		parsed, err := time.ParseDuration(v)
		if err != nil {
			return errors.Wrapf(err, "parse config: %s", d.key)
		}
		if parsed <= 0 {
			return errors.Errorf("parse config: %s must be positive, got %s", d.key, v)
		}
		*d.dst = parsed
	}

	if raw.MaxOutputLength < 0 {
		return errors.Errorf("parse config: max_output_length must not be negative, got %d", raw.MaxOutputLength)
	}
	if raw.MaxOutputLength > 0 {
		cfg.MaxOutputLength = raw.MaxOutputLength
	}
	cfg.Polling = raw.Polling

	if v := strings.TrimSpace(raw.LogFile); v != "" {
		cfg.LogFile = mustExpand(v)
	}
	if v := strings.TrimSpace(raw.LogLevel); v != "" {
		cfg.LogLevel = strings.ToLower(v)
	}
	return nil
}

func applyEnv(cfg *Config) {
	overrides := []struct {
		env string
		dst *string
	}{
		{EnvAddress, &cfg.Address},
		{EnvToken, &cfg.Token},
		{EnvRegion, &cfg.Region},
		{EnvNamespace, &cfg.Namespace},
	}
	for _, o := range overrides {
		if v := strings.TrimSpace(os.Getenv(o.env)); v != "" {
			*o.dst = v
		}
	}
}

// DefaultPath returns the expanded default config file location.
func DefaultPath() string {
	return mustExpand(defaultConfigPath)
}

func resolvePath(path string) (string, error) {
	if strings.TrimSpace(path) == "" {
		return expandPath(defaultConfigPath)
	}
	return expandPath(path)
}

func mustExpand(path string) string {
	expanded, err := expandPath(path)
	if err != nil {
		return path
	}
	return expanded
}

// ExpandPath resolves a leading ~ and returns an absolute path.
func ExpandPath(path string) (string, error) {
	return expandPath(path)
}

func expandPath(path string) (string, error) {
	trimmed := strings.TrimSpace(path)
	if trimmed == "" {
		return "", errors.New("path is empty")
	}
	if strings.HasPrefix(trimmed, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", errors.Wrap(err, "resolve home dir")
		}
		trimmed = filepath.Join(home, strings.TrimPrefix(trimmed, "~"))
	}
	return filepath.Abs(trimmed)
}
