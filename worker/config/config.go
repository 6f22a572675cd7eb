package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/pelletier/go-toml/v2"
)

const mb = 1024 * 1024

type Engine struct {
	MaxConcurrent    int     `toml:"max_concurrent" validate:"gte=1,lte=64"`
	MemoryBudgetMB   int64   `toml:"memory_budget_mb" validate:"gte=1"`
	MaxTotalSizeMB   int64   `toml:"max_total_size_mb" validate:"gte=1"`
	EstimateFactor   float64 `toml:"estimate_factor" validate:"gt=0"`
	EvictCount       int     `toml:"evict_count" validate:"gte=1"`
	WarningThreshold float64 `toml:"warning_threshold" validate:"gt=0,lte=1"`
	// TaskTimeout is a Go duration string, empty waits indefinitely.
	TaskTimeout string `toml:"task_timeout"`
}

type Image struct {
	Quality      int `toml:"quality" validate:"gte=1,lte=100"`
	MaxDimension int `toml:"max_dimension" validate:"gte=1"`
}

type Output struct {
	Dir              string `toml:"dir" validate:"required"`
	SingleFileDirect bool   `toml:"single_file_direct"`
}

type Upload struct {
	Enabled   bool   `toml:"enabled"`
	Endpoint  string `toml:"endpoint" validate:"required_if=Enabled true"`
	AccessKey string `toml:"access_key"`
	SecretKey string `toml:"secret_key"`
	Bucket    string `toml:"bucket" validate:"required_if=Enabled true"`
	Region    string `toml:"region"`
	Prefix    string `toml:"prefix"`
	UseSSL    bool   `toml:"use_ssl"`
}

type Counter struct {
	Backend       string   `toml:"backend" validate:"oneof=local redis remote kafka none"`
	URL           string   `toml:"url" validate:"required_if=Backend remote"`
	Token         string   `toml:"token"`
	RedisAddr     string   `toml:"redis_addr" validate:"required_if=Backend redis"`
	RedisPassword string   `toml:"redis_password"`
	RedisDB       int      `toml:"redis_db" validate:"gte=0"`
	KafkaBrokers  []string `toml:"kafka_brokers" validate:"required_if=Backend kafka"`
	KafkaTopic    string   `toml:"kafka_topic"`
}

type Watch struct {
	DebounceMS int `toml:"debounce_ms" validate:"gte=0"`
}

type Logging struct {
	Level      string `toml:"level" validate:"oneof=debug info warn error"`
	Format     string `toml:"format" validate:"oneof=json console"`
	File       string `toml:"file"`
	MaxSizeMB  int    `toml:"max_size_mb"`
	MaxBackups int    `toml:"max_backups"`
	MaxAgeDays int    `toml:"max_age_days"`
}

// Config holds everything the imgbatch CLI needs. Values come from defaults,
// then the TOML file, then the environment.
type Config struct {
	DataDir string  `toml:"data_dir" validate:"required"`
	Engine  Engine  `toml:"engine"`
	Image   Image   `toml:"image"`
	Output  Output  `toml:"output"`
	Upload  Upload  `toml:"upload"`
	Counter Counter `toml:"counter"`
	Watch   Watch   `toml:"watch"`
	Logging Logging `toml:"logging"`
}

func Default() Config {
	return Config{
		DataDir: "~/.local/share/imgbatch",
		Engine: Engine{
			MaxConcurrent:    3,
			MemoryBudgetMB:   500,
			MaxTotalSizeMB:   500,
			EstimateFactor:   3.5,
			EvictCount:       3,
			WarningThreshold: 0.8,
		},
		Image:   Image{Quality: 80, MaxDimension: 1920},
		Output:  Output{Dir: "."},
		Counter: Counter{Backend: "local", KafkaTopic: "imgbatch.counter.increments"},
		Watch:   Watch{DebounceMS: 500},
		Logging: Logging{Level: "info", Format: "console", MaxSizeMB: 50, MaxBackups: 3, MaxAgeDays: 14},
	}
}

// Load reads path (or the default locations when empty), applies .env and
// environment overrides and validates the result.
func Load(path string) (*Config, string, error) {
	cfg := Default()

	resolved, exists, err := resolvePath(path)
	if err != nil {
		return nil, "", err
	}
	if exists {
		data, err := os.ReadFile(resolved)
		if err != nil {
			return nil, "", fmt.Errorf("open config: %w", err)
		}
		if err := toml.Unmarshal(data, &cfg); err != nil {
			return nil, "", fmt.Errorf("parse config: %w", err)
		}
	} else {
		resolved = ""
	}

	// a missing .env is normal
	_ = godotenv.Load()
	cfg.applyEnv()

	if err := cfg.normalize(); err != nil {
		return nil, "", err
	}
	if err := cfg.Validate(); err != nil {
		return nil, "", err
	}
	return &cfg, resolved, nil
}

func (c *Config) applyEnv() {
	c.DataDir = getEnv("IMGBATCH_DATA_DIR", c.DataDir)
	c.Engine.MaxConcurrent = getEnvAsInt("IMGBATCH_MAX_CONCURRENT", c.Engine.MaxConcurrent)
	c.Engine.MemoryBudgetMB = int64(getEnvAsInt("IMGBATCH_MEMORY_BUDGET_MB", int(c.Engine.MemoryBudgetMB)))
	c.Engine.MaxTotalSizeMB = int64(getEnvAsInt("IMGBATCH_MAX_TOTAL_SIZE_MB", int(c.Engine.MaxTotalSizeMB)))
	c.Engine.TaskTimeout = getEnv("IMGBATCH_TASK_TIMEOUT", c.Engine.TaskTimeout)
	c.Image.Quality = getEnvAsInt("IMGBATCH_QUALITY", c.Image.Quality)
	c.Output.Dir = getEnv("IMGBATCH_OUTPUT_DIR", c.Output.Dir)

	c.Upload.Endpoint = getEnv("MINIO_ENDPOINT", c.Upload.Endpoint)
	c.Upload.AccessKey = getEnv("MINIO_ACCESS_KEY", c.Upload.AccessKey)
	c.Upload.SecretKey = getEnv("MINIO_SECRET_KEY", c.Upload.SecretKey)
	c.Upload.Bucket = getEnv("MINIO_BUCKET", c.Upload.Bucket)

	c.Counter.Backend = getEnv("IMGBATCH_COUNTER", c.Counter.Backend)
	c.Counter.URL = getEnv("IMGBATCH_COUNTER_URL", c.Counter.URL)
	c.Counter.Token = getEnv("IMGBATCH_COUNTER_TOKEN", c.Counter.Token)
	c.Counter.RedisAddr = getEnv("REDIS_ADDR", c.Counter.RedisAddr)
	c.Counter.RedisPassword = getEnv("REDIS_PASSWORD", c.Counter.RedisPassword)
	if brokers := getEnv("KAFKA_BROKERS", ""); brokers != "" {
		c.Counter.KafkaBrokers = strings.Split(brokers, ",")
	}
	c.Counter.KafkaTopic = getEnv("KAFKA_TOPIC", c.Counter.KafkaTopic)

	c.Logging.Level = getEnv("LOG_LEVEL", c.Logging.Level)
	c.Logging.Format = getEnv("LOG_FORMAT", c.Logging.Format)
	c.Logging.File = getEnv("LOG_FILE", c.Logging.File)
}

func (c *Config) normalize() error {
	var err error
	if c.DataDir, err = expandPath(c.DataDir); err != nil {
		return err
	}
	if c.Output.Dir, err = expandPath(c.Output.Dir); err != nil {
		return err
	}
	if c.Logging.File, err = expandPath(c.Logging.File); err != nil {
		return err
	}
	c.Counter.Backend = strings.ToLower(strings.TrimSpace(c.Counter.Backend))
	c.Logging.Level = strings.ToLower(c.Logging.Level)
	c.Logging.Format = strings.ToLower(c.Logging.Format)
	for i, b := range c.Counter.KafkaBrokers {
		c.Counter.KafkaBrokers[i] = strings.TrimSpace(b)
	}
	return nil
}

var validate = validator.New(validator.WithRequiredStructEnabled())

func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			return fmt.Errorf("invalid config: %s failed %q", verrs[0].Namespace(), verrs[0].Tag())
		}
		return fmt.Errorf("invalid config: %w", err)
	}
	if _, err := c.TaskTimeout(); err != nil {
		return fmt.Errorf("invalid config: engine.task_timeout: %w", err)
	}
	return nil
}

func (c *Config) TaskTimeout() (time.Duration, error) {
	if c.Engine.TaskTimeout == "" {
		return 0, nil
	}
	return time.ParseDuration(c.Engine.TaskTimeout)
}

func (c *Config) MemoryBudget() int64 { return c.Engine.MemoryBudgetMB * mb }

func (c *Config) MaxTotalSize() int64 { return c.Engine.MaxTotalSizeMB * mb }

func (c *Config) DatabasePath() string { return filepath.Join(c.DataDir, "imgbatch.db") }

func (c *Config) Debounce() time.Duration {
	return time.Duration(c.Watch.DebounceMS) * time.Millisecond
}

func resolvePath(path string) (string, bool, error) {
	candidates := []string{path}
	if path == "" {
		candidates = []string{"~/.config/imgbatch/config.toml", "imgbatch.toml"}
	}
	for _, candidate := range candidates {
		expanded, err := expandPath(candidate)
		if err != nil {
			return "", false, err
		}
		info, err := os.Stat(expanded)
		switch {
		case err == nil && !info.IsDir():
			return expanded, true, nil
		case err != nil && !errors.Is(err, fs.ErrNotExist):
			return "", false, fmt.Errorf("stat config: %w", err)
		}
	}
	return "", false, nil
}

func expandPath(value string) (string, error) {
	if value == "" {
		return value, nil
	}
	if strings.HasPrefix(value, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home directory: %w", err)
		}
		value = filepath.Join(home, strings.TrimPrefix(value[1:], "/"))
	}
	abs, err := filepath.Abs(filepath.Clean(value))
	if err != nil {
		return "", fmt.Errorf("resolve absolute path for %q: %w", value, err)
	}
	return abs, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}
