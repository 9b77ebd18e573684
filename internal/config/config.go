package config

import (
	"fmt"
	"os"
	"time"

	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v2"
)

// Config represents the complete pipeline configuration. It is built once at
// startup and passed explicitly to each component; no component reads
// configuration ambiently.
type Config struct {
	Input    InputConfig    `yaml:"input" envconfig:"INPUT"`
	Snapshot SnapshotConfig `yaml:"snapshot" envconfig:"SNAPSHOT"`
	Store    StoreConfig    `yaml:"store" envconfig:"STORE"`
	Logging  LoggingConfig  `yaml:"logging" envconfig:"LOGGING"`
}

// InputConfig describes where raw run extracts are discovered.
type InputConfig struct {
	Dir string `yaml:"dir" envconfig:"DIR" default:"extracts"`
}

// SnapshotConfig describes the persisted columnar snapshot.
type SnapshotConfig struct {
	Path string `yaml:"path" envconfig:"PATH" default:"data/runs.parquet"`
}

// StoreConfig describes the hosted relational store the merged dataset is
// upserted into. An empty DSN disables the sync stage.
type StoreConfig struct {
	DSN          string        `yaml:"dsn" envconfig:"DSN"`
	Table        string        `yaml:"table" envconfig:"TABLE" default:"bond_runs"`
	BatchSize    int           `yaml:"batch_size" envconfig:"BATCH_SIZE" default:"500"`
	BatchPause   time.Duration `yaml:"batch_pause" envconfig:"BATCH_PAUSE" default:"250ms"`
	BatchTimeout time.Duration `yaml:"batch_timeout" envconfig:"BATCH_TIMEOUT" default:"30s"`
}

// LoggingConfig contains logging configuration.
type LoggingConfig struct {
	Level    string `yaml:"level" envconfig:"LEVEL" default:"info"`
	Format   string `yaml:"format" envconfig:"FORMAT" default:"json"`
	Output   string `yaml:"output" envconfig:"OUTPUT" default:"console"`
	FilePath string `yaml:"file_path" envconfig:"FILE_PATH" default:"logs/pipeline.log"`
}

// Load loads configuration from environment variables and, when present, a
// YAML config file. Environment variables take precedence over file values.
func Load(configFile string) (*Config, error) {
	var cfg Config

	if err := envconfig.Process("BONDPULSE", &cfg); err != nil {
		return nil, fmt.Errorf("failed to load config from env: %w", err)
	}

	if configFile != "" {
		if _, err := os.Stat(configFile); err == nil {
			fileCfg, err := loadFromFile(configFile)
			if err != nil {
				return nil, fmt.Errorf("failed to load config from file: %w", err)
			}
			cfg = mergeConfigs(*fileCfg, cfg)
		}
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

// loadFromFile loads configuration from a YAML file.
func loadFromFile(filePath string) (*Config, error) {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// mergeConfigs merges file config with env config. Explicit file values win
// over envconfig defaults; values set through the environment win over both.
func mergeConfigs(fileConfig, envConfig Config) Config {
	merged := envConfig

	if v, ok := os.LookupEnv("BONDPULSE_INPUT_DIR"); !ok || v == "" {
		if fileConfig.Input.Dir != "" {
			merged.Input.Dir = fileConfig.Input.Dir
		}
	}
	if v, ok := os.LookupEnv("BONDPULSE_SNAPSHOT_PATH"); !ok || v == "" {
		if fileConfig.Snapshot.Path != "" {
			merged.Snapshot.Path = fileConfig.Snapshot.Path
		}
	}
	if v, ok := os.LookupEnv("BONDPULSE_STORE_DSN"); !ok || v == "" {
		if fileConfig.Store.DSN != "" {
			merged.Store.DSN = fileConfig.Store.DSN
		}
	}
	if v, ok := os.LookupEnv("BONDPULSE_STORE_TABLE"); !ok || v == "" {
		if fileConfig.Store.Table != "" {
			merged.Store.Table = fileConfig.Store.Table
		}
	}
	if v, ok := os.LookupEnv("BONDPULSE_STORE_BATCH_SIZE"); !ok || v == "" {
		if fileConfig.Store.BatchSize != 0 {
			merged.Store.BatchSize = fileConfig.Store.BatchSize
		}
	}
	if v, ok := os.LookupEnv("BONDPULSE_STORE_BATCH_PAUSE"); !ok || v == "" {
		if fileConfig.Store.BatchPause != 0 {
			merged.Store.BatchPause = fileConfig.Store.BatchPause
		}
	}
	if v, ok := os.LookupEnv("BONDPULSE_STORE_BATCH_TIMEOUT"); !ok || v == "" {
		if fileConfig.Store.BatchTimeout != 0 {
			merged.Store.BatchTimeout = fileConfig.Store.BatchTimeout
		}
	}
	if v, ok := os.LookupEnv("BONDPULSE_LOGGING_LEVEL"); !ok || v == "" {
		if fileConfig.Logging.Level != "" {
			merged.Logging.Level = fileConfig.Logging.Level
		}
	}
	if v, ok := os.LookupEnv("BONDPULSE_LOGGING_FORMAT"); !ok || v == "" {
		if fileConfig.Logging.Format != "" {
			merged.Logging.Format = fileConfig.Logging.Format
		}
	}
	if v, ok := os.LookupEnv("BONDPULSE_LOGGING_OUTPUT"); !ok || v == "" {
		if fileConfig.Logging.Output != "" {
			merged.Logging.Output = fileConfig.Logging.Output
		}
	}
	if v, ok := os.LookupEnv("BONDPULSE_LOGGING_FILE_PATH"); !ok || v == "" {
		if fileConfig.Logging.FilePath != "" {
			merged.Logging.FilePath = fileConfig.Logging.FilePath
		}
	}

	return merged
}

// validate checks configuration invariants that would otherwise surface as
// confusing mid-run failures.
func (c *Config) validate() error {
	if c.Input.Dir == "" {
		return fmt.Errorf("input.dir must not be empty")
	}
	if c.Snapshot.Path == "" {
		return fmt.Errorf("snapshot.path must not be empty")
	}
	if c.Store.BatchSize <= 0 {
		return fmt.Errorf("store.batch_size must be positive, got %d", c.Store.BatchSize)
	}
	if c.Store.BatchPause < 0 {
		return fmt.Errorf("store.batch_pause must not be negative, got %s", c.Store.BatchPause)
	}
	if c.Store.DSN != "" && c.Store.Table == "" {
		return fmt.Errorf("store.table must be set when store.dsn is configured")
	}
	return nil
}
