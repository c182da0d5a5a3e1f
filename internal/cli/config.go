package cli

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/posflag"
	"github.com/knadh/koanf/v2"
	"github.com/spf13/pflag"
)

// EnvPrefix is the prefix for environment overrides, e.g.
// TRAININGIMPORT_DATABASE_URL.
const EnvPrefix = "TRAININGIMPORT_"

// DefaultConfigFile is read when --config is not given and the file exists.
const DefaultConfigFile = "trainingimport.yaml"

// Config is the CLI configuration.
type Config struct {
	DatabaseURL string `koanf:"database_url"`

	// StatePath is the SQLite file that carries sessions between invocations.
	StatePath  string        `koanf:"state_path"`
	SessionTTL time.Duration `koanf:"session_ttl"`

	DefaultTrainingType string        `koanf:"default_training_type"`
	DefaultRecordStatus string        `koanf:"default_record_status"`
	CommitWorkers       int           `koanf:"commit_workers"`
	CommitTimeout       time.Duration `koanf:"commit_timeout"`
	MaxFileSize         int64         `koanf:"max_file_size"`

	LogLevel  string `koanf:"log_level"`
	LogFormat string `koanf:"log_format"`

	// Output is "table" or "json".
	Output string `koanf:"output"`
}

func defaults() map[string]any {
	return map[string]any{
		"state_path":            ".trainingimport.db",
		"session_ttl":           "24h",
		"default_training_type": "in_service",
		"default_record_status": "completed",
		"commit_workers":        4,
		"commit_timeout":        "10m",
		"max_file_size":         20 << 20,
		"log_level":             "warn",
		"log_format":            "text",
		"output":                "table",
	}
}

// LoadConfig builds the configuration from, lowest precedence first:
// built-in defaults, the YAML file, TRAININGIMPORT_* env vars, and flags
// that were set explicitly.
func LoadConfig(cfgFile string, flags *pflag.FlagSet) (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(confmap.Provider(defaults(), "."), nil); err != nil {
		return nil, fmt.Errorf("load defaults: %w", err)
	}

	path := cfgFile
	if path == "" {
		if _, err := os.Stat(DefaultConfigFile); err == nil {
			path = DefaultConfigFile
		}
	}
	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("load config file %s: %w", path, err)
		}
	}

	if err := k.Load(env.Provider(EnvPrefix, ".", func(s string) string {
		return strings.ToLower(strings.TrimPrefix(s, EnvPrefix))
	}), nil); err != nil {
		return nil, fmt.Errorf("load environment: %w", err)
	}

	if flags != nil {
		if err := k.Load(posflag.ProviderWithFlag(flags, ".", k, func(f *pflag.Flag) (string, interface{}) {
			if !f.Changed {
				return "", nil
			}
			return flagKey(f.Name), posflag.FlagVal(flags, f)
		}), nil); err != nil {
			return nil, fmt.Errorf("load flags: %w", err)
		}
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// flagKey maps a flag name to its config key.
func flagKey(name string) string {
	switch name {
	case "state":
		return "state_path"
	}
	return strings.ReplaceAll(name, "-", "_")
}

// Validate checks values that would otherwise fail deep inside a command.
func (c *Config) Validate() error {
	var errs []string
	if c.StatePath == "" {
		errs = append(errs, "state_path is required")
	}
	if c.SessionTTL <= 0 {
		errs = append(errs, "session_ttl must be positive")
	}
	if c.CommitWorkers < 1 {
		errs = append(errs, "commit_workers must be at least 1")
	}
	if c.CommitTimeout <= 0 {
		errs = append(errs, "commit_timeout must be positive")
	}
	if c.MaxFileSize <= 0 {
		errs = append(errs, "max_file_size must be positive")
	}
	if strings.TrimSpace(c.DefaultTrainingType) == "" {
		errs = append(errs, "default_training_type is required")
	}
	if strings.TrimSpace(c.DefaultRecordStatus) == "" {
		errs = append(errs, "default_record_status is required")
	}
	switch c.Output {
	case "table", "json":
	default:
		errs = append(errs, fmt.Sprintf("output must be table or json, got %q", c.Output))
	}
	if len(errs) > 0 {
		return fmt.Errorf("invalid configuration:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}
