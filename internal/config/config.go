package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/miradorstack/mirador-leads/internal/cache"
	"github.com/miradorstack/mirador-leads/internal/dataset"
	"github.com/miradorstack/mirador-leads/internal/engine"
	"github.com/miradorstack/mirador-leads/internal/forest"
)

// Config captures the settings required to boot the lead scoring service.
type Config struct {
	Server  ServerConfig  `yaml:"server"`
	Logging LoggingConfig `yaml:"logging"`
	Cache   CacheConfig   `yaml:"cache"`
	Storage StorageConfig `yaml:"storage"`
	Ingest  IngestConfig  `yaml:"ingest"`
	Model   ModelConfig   `yaml:"model"`
	Rules   RulesConfig   `yaml:"rules"`
	Notify  NotifyConfig  `yaml:"notify"`
}

// ServerConfig controls gRPC listener behaviour.
type ServerConfig struct {
	Address         string        `yaml:"address"`
	MetricsAddress  string        `yaml:"metricsAddress"`
	GracefulTimeout time.Duration `yaml:"gracefulTimeout"`
}

// LoggingConfig controls structured logging.
type LoggingConfig struct {
	Level string `yaml:"level"`
	JSON  bool   `yaml:"json"`
}

// CacheConfig selects the prediction result cache.
type CacheConfig struct {
	Backend      string        `yaml:"backend"`
	Addr         string        `yaml:"addr"`
	Username     string        `yaml:"username"`
	Password     string        `yaml:"password"`
	DB           int           `yaml:"db"`
	DialTimeout  time.Duration `yaml:"dialTimeout"`
	ReadTimeout  time.Duration `yaml:"readTimeout"`
	WriteTimeout time.Duration `yaml:"writeTimeout"`
	MaxRetries   int           `yaml:"maxRetries"`
	TLS          bool          `yaml:"tls"`
	ResultTTL    time.Duration `yaml:"resultTTL"`
}

// Redis returns the Redis settings of the cache section.
func (c CacheConfig) Redis() cache.RedisConfig {
	return cache.RedisConfig{
		Addr:         c.Addr,
		Username:     c.Username,
		Password:     c.Password,
		DB:           c.DB,
		DialTimeout:  c.DialTimeout,
		ReadTimeout:  c.ReadTimeout,
		WriteTimeout: c.WriteTimeout,
		MaxRetries:   c.MaxRetries,
		TLS:          c.TLS,
	}
}

// StorageConfig locates the run database and the model file.
type StorageConfig struct {
	DSN       string `yaml:"dsn"`
	ModelPath string `yaml:"modelPath"`
}

// IngestConfig bounds accepted uploads.
type IngestConfig struct {
	MaxRows  int   `yaml:"maxRows"`
	MaxBytes int64 `yaml:"maxBytes"`
}

// Limits converts the section into dataset limits.
func (c IngestConfig) Limits() dataset.Limits {
	return dataset.Limits{MaxRows: c.MaxRows, MaxBytes: c.MaxBytes}
}

// ModelConfig controls training.
type ModelConfig struct {
	Forest       forest.Params `yaml:"forest"`
	TestFraction float64       `yaml:"testFraction"`
	CVFolds      int           `yaml:"cvFolds"`
	CVMinRows    int           `yaml:"cvMinRows"`
}

// Trainer converts the section into trainer settings.
func (c ModelConfig) Trainer() engine.TrainerConfig {
	return engine.TrainerConfig{
		Forest:       c.Forest,
		TestFraction: c.TestFraction,
		CVFolds:      c.CVFolds,
		CVMinRows:    c.CVMinRows,
	}
}

// RulesConfig controls rule-pack loading for next actions.
type RulesConfig struct {
	Path string `yaml:"path"`
}

// NotifyConfig configures the optional completion webhook.
type NotifyConfig struct {
	WebhookURL string        `yaml:"webhookURL"`
	Timeout    time.Duration `yaml:"timeout"`
}

// Load initialises Config from a YAML file and optional environment overrides.
// Variables from .env in the working directory are loaded first when the file exists.
func Load(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}
	if path == "" {
		path = os.Getenv("LEADS_CONFIG")
	}

	cfg := defaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil, fmt.Errorf("config file %s not found: %w", path, err)
			}
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	applyEnvOverrides(&cfg)
	return &cfg, nil
}

func defaultConfig() Config {
	trainer := engine.DefaultTrainerConfig()
	return Config{
		Server: ServerConfig{
			Address:         ":50051",
			MetricsAddress:  ":2112",
			GracefulTimeout: 10 * time.Second,
		},
		Logging: LoggingConfig{Level: "info", JSON: false},
		Cache: CacheConfig{
			Backend:      cache.BackendMemory,
			DialTimeout:  2 * time.Second,
			ReadTimeout:  500 * time.Millisecond,
			WriteTimeout: 500 * time.Millisecond,
			MaxRetries:   2,
			ResultTTL:    engine.DefaultCacheTTL,
		},
		Storage: StorageConfig{
			DSN:       "file:data/leads.db?_pragma=busy_timeout(5000)",
			ModelPath: "data/model.json",
		},
		Ingest: IngestConfig{MaxRows: dataset.DefaultMaxRows, MaxBytes: dataset.DefaultMaxBytes},
		Model: ModelConfig{
			Forest:       trainer.Forest,
			TestFraction: trainer.TestFraction,
			CVFolds:      trainer.CVFolds,
			CVMinRows:    trainer.CVMinRows,
		},
		Rules:  RulesConfig{Path: "configs/rules.yaml"},
		Notify: NotifyConfig{Timeout: 5 * time.Second},
	}
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("LEADS_SERVER_ADDRESS"); v != "" {
		cfg.Server.Address = v
	}
	if v := os.Getenv("LEADS_METRICS_ADDRESS"); v != "" {
		cfg.Server.MetricsAddress = v
	}
	if v := os.Getenv("LEADS_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("LEADS_LOG_FORMAT"); v == "json" {
		cfg.Logging.JSON = true
	}
	if v := os.Getenv("LEADS_CACHE_BACKEND"); v != "" {
		cfg.Cache.Backend = strings.ToLower(v)
	}
	if v := os.Getenv("LEADS_CACHE_ADDR"); v != "" {
		cfg.Cache.Addr = v
	}
	if v := os.Getenv("LEADS_CACHE_USERNAME"); v != "" {
		cfg.Cache.Username = v
	}
	if v := os.Getenv("LEADS_CACHE_PASSWORD"); v != "" {
		cfg.Cache.Password = v
	}
	if v := os.Getenv("LEADS_CACHE_DB"); v != "" {
		if db, err := strconv.Atoi(v); err == nil {
			cfg.Cache.DB = db
		}
	}
	if v := os.Getenv("LEADS_CACHE_TLS"); strings.EqualFold(v, "true") || strings.EqualFold(v, "1") {
		cfg.Cache.TLS = true
	}
	if v := os.Getenv("LEADS_CACHE_TTL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Cache.ResultTTL = d
		}
	}
	if v := os.Getenv("LEADS_DB_DSN"); v != "" {
		cfg.Storage.DSN = v
	}
	if v := os.Getenv("LEADS_MODEL_PATH"); v != "" {
		cfg.Storage.ModelPath = v
	}
	if v := os.Getenv("LEADS_MAX_ROWS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Ingest.MaxRows = n
		}
	}
	if v := os.Getenv("LEADS_MAX_BYTES"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			cfg.Ingest.MaxBytes = n
		}
	}
	if v := os.Getenv("LEADS_MODEL_TREES"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Model.Forest.Trees = n
		}
	}
	if v := os.Getenv("LEADS_MODEL_SEED"); v != "" {
		if n, err := strconv.ParseUint(v, 10, 64); err == nil {
			cfg.Model.Forest.Seed = n
		}
	}
	if v := os.Getenv("LEADS_RULES_PATH"); v != "" {
		cfg.Rules.Path = v
	}
	if v := os.Getenv("LEADS_WEBHOOK_URL"); v != "" {
		cfg.Notify.WebhookURL = v
	}
}
