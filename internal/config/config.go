// Package config loads service configuration from an optional YAML file with
// environment variable overrides. Env-only deployments work with no file at all.
package config

import (
	"os"
	"strconv"
	"time"

	yaml "gopkg.in/yaml.v3"
)

type Config struct {
	Server   ServerConfig `yaml:"server"`
	Database Database     `yaml:"database"`
	Redis    Redis        `yaml:"redis"`
	Bulk     Bulk         `yaml:"bulk"`
}

type ServerConfig struct {
	Port string `yaml:"port"`
}

type Database struct {
	URL     string `yaml:"url"`
	Migrate bool   `yaml:"migrate"`
}

type Redis struct {
	URL string `yaml:"url"`
}

// Bulk holds the processing defaults; per-job options override these.
type Bulk struct {
	InputFolderPath    string        `yaml:"inputFolderPath"`
	BatchSize          int           `yaml:"batchSize"`
	Concurrency        int           `yaml:"concurrency"`
	InterBatchPause    time.Duration `yaml:"interBatchPause"`
	ItemTimeout        time.Duration `yaml:"itemTimeout"`
	PerTaskTimeout     time.Duration `yaml:"perTaskTimeout"`
	CheckpointInterval int           `yaml:"checkpointInterval"`
	MaxPointsPerFile   int           `yaml:"maxPointsPerFile"`
	StoredPointCap     int           `yaml:"storedPointCap"`
	DispatchPerSecond  float64       `yaml:"dispatchPerSecond"`
	MemoryHighWaterMB  uint64        `yaml:"memoryHighWaterMB"`
	GovernorPause      time.Duration `yaml:"governorPause"`
}

// Defaults returns the built-in configuration.
func Defaults() Config {
	return Config{
		Server: ServerConfig{Port: "8080"},
		Bulk: Bulk{
			InputFolderPath:    "data",
			BatchSize:          25,
			Concurrency:        5,
			InterBatchPause:    2 * time.Second,
			ItemTimeout:        5 * time.Minute,
			PerTaskTimeout:     60 * time.Second,
			CheckpointInterval: 10,
			MaxPointsPerFile:   10000,
			StoredPointCap:     1000,
			DispatchPerSecond:  50,
			MemoryHighWaterMB:  1024,
			GovernorPause:      5 * time.Second,
		},
	}
}

// Load reads the config file at path (if non-empty and present) over Defaults,
// then applies environment overrides.
func Load(path string) (Config, error) {
	cfg := Defaults()
	if path != "" {
		data, err := os.ReadFile(path)
		if err == nil {
			if err := yaml.Unmarshal(data, &cfg); err != nil {
				return cfg, err
			}
		} else if !os.IsNotExist(err) {
			return cfg, err
		}
	}
	cfg.applyEnv()
	return cfg, nil
}

func (c *Config) applyEnv() {
	if v := os.Getenv("PORT"); v != "" {
		c.Server.Port = v
	}
	if v := os.Getenv("DATABASE_URL"); v != "" {
		c.Database.URL = v
	}
	if os.Getenv("DB_MIGRATE") != "false" {
		c.Database.Migrate = true
	}
	if v := os.Getenv("REDIS_URL"); v != "" {
		c.Redis.URL = v
	}
	if v := os.Getenv("BULK_INPUT_FOLDER"); v != "" {
		c.Bulk.InputFolderPath = v
	}
	if n, ok := envInt("BULK_BATCH_SIZE"); ok {
		c.Bulk.BatchSize = n
	}
	if n, ok := envInt("BULK_CONCURRENCY"); ok {
		c.Bulk.Concurrency = n
	}
	if n, ok := envInt("BULK_CHECKPOINT_INTERVAL"); ok {
		c.Bulk.CheckpointInterval = n
	}
	if n, ok := envInt("BULK_MEMORY_HIGH_WATER_MB"); ok && n > 0 {
		c.Bulk.MemoryHighWaterMB = uint64(n)
	}
}

func envInt(key string) (int, bool) {
	v := os.Getenv(key)
	if v == "" {
		return 0, false
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return 0, false
	}
	return n, true
}
