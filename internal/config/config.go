// Package config loads orchard.yaml with environment overrides.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

// ErrInvalid is wrapped by every validation failure returned from Load.
var ErrInvalid = errors.New("config: invalid")

// Edge cache policies.
const (
	EdgeCacheReset   = "reset"
	EdgeCachePersist = "persist"
)

// DefaultWorkerCommand is the worker binary used for languages without an
// explicit sidecar entry.
const DefaultWorkerCommand = "orchard-worker"

type Config struct {
	Database string        `mapstructure:"database" validate:"required"`
	Log      LogConfig     `mapstructure:"log"`
	Sidecar  SidecarConfig `mapstructure:"sidecar"`
	Ingest   IngestConfig  `mapstructure:"ingest"`
}

type LogConfig struct {
	Level string `mapstructure:"level" validate:"oneof=debug info warn error"`
}

type SidecarConfig struct {
	BasePort         int                      `mapstructure:"base_port" validate:"min=1,max=65535"`
	HandshakeTimeout time.Duration            `mapstructure:"handshake_timeout" validate:"gt=0"`
	Backoff          BackoffConfig            `mapstructure:"backoff"`
	Workers          map[string]WorkerCommand `mapstructure:"workers" validate:"dive"`
}

type BackoffConfig struct {
	Initial time.Duration `mapstructure:"initial" validate:"gt=0"`
	Max     time.Duration `mapstructure:"max" validate:"gtefield=Initial"`
}

// WorkerCommand is how a language's sidecar is launched. The bridge appends
// the database connection string and the allocated port.
type WorkerCommand struct {
	Command string   `mapstructure:"command" validate:"required"`
	Args    []string `mapstructure:"args"`
}

type IngestConfig struct {
	EdgeCache string `mapstructure:"edge_cache" validate:"oneof=reset persist"`
	CacheDir  string `mapstructure:"cache_dir" validate:"required_if=EdgeCache persist"`
	Workers   int    `mapstructure:"workers" validate:"min=0"`
}

// Worker returns the launch command for language, falling back to the
// default worker binary.
func (c *Config) Worker(language string) WorkerCommand {
	if w, ok := c.Sidecar.Workers[strings.ToLower(language)]; ok {
		return w
	}
	return DefaultWorker(language)
}

// DefaultWorker runs the bundled worker binary for language.
func DefaultWorker(language string) WorkerCommand {
	return WorkerCommand{
		Command: DefaultWorkerCommand,
		Args:    []string{"--language", strings.ToLower(language)},
	}
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("database", ".orchard/index.db")
	v.SetDefault("log.level", "info")
	v.SetDefault("sidecar.base_port", 9091)
	v.SetDefault("sidecar.handshake_timeout", 25*time.Second)
	v.SetDefault("sidecar.backoff.initial", 50*time.Millisecond)
	v.SetDefault("sidecar.backoff.max", 2*time.Second)
	v.SetDefault("ingest.edge_cache", EdgeCacheReset)
	v.SetDefault("ingest.cache_dir", "")
	v.SetDefault("ingest.workers", 0)
}

// Default returns the configuration Load produces without a file or
// environment overrides.
func Default() *Config {
	v := viper.New()
	setDefaults(v)
	cfg := &Config{}
	_ = v.Unmarshal(cfg)
	return cfg
}

// Load reads configuration. When path is empty, orchard.yaml is searched for
// in searchDirs and a missing file is not an error. ORCHARD_* environment
// variables override file values (ORCHARD_SIDECAR_BASE_PORT, ...).
func Load(path string, searchDirs ...string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("ORCHARD")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("orchard")
		v.SetConfigType("yaml")
		for _, dir := range searchDirs {
			v.AddConfigPath(dir)
		}
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("config: read: %w", err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("config: decode: %w", err)
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks cfg against its struct tags.
func Validate(cfg *Config) error {
	if err := validate.Struct(cfg); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	return nil
}
