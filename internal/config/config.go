package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"

	"gopkg.in/yaml.v3"
)

// Config is the full process configuration. Workers only read the sections
// they need; validation is per-section via the Require* helpers so a worker
// without SMTP credentials can still start.
type Config struct {
	DatabaseURL string `yaml:"database_url"`
	NATSURL     string `yaml:"nats_url"`
	RedisAddr   string `yaml:"redis_addr"`

	Minio MinioConfig `yaml:"minio"`

	Ingest IngestConfig `yaml:"ingest"`
	Models ModelConfig  `yaml:"models"`

	SMTP     SMTPConfig     `yaml:"smtp"`
	Telegram TelegramConfig `yaml:"telegram"`
	Signal   SignalConfig   `yaml:"signal"`

	DomainName    string `yaml:"domain_name"`
	JWTSigningKey string `yaml:"jwt_signing_key"`

	LogLevel  string `yaml:"log_level"`  // DEBUG, INFO, WARN, ERROR
	LogFormat string `yaml:"log_format"` // json, text

	HTTPAddr    string `yaml:"http_addr"`
	MetricsAddr string `yaml:"metrics_addr"`
}

type MinioConfig struct {
	Endpoint  string `yaml:"endpoint"`
	AccessKey string `yaml:"access_key"`
	SecretKey string `yaml:"secret_key"`
	UseSSL    bool   `yaml:"use_ssl"`
}

type IngestConfig struct {
	DropDir string `yaml:"drop_dir"`
}

type ModelConfig struct {
	CacheDir       string `yaml:"cache_dir"`
	DetectorPath   string `yaml:"detector_path"`
	DetectorURL    string `yaml:"detector_url"`
	ClassifierPath string `yaml:"classifier_path"`
	ClassifierURL  string `yaml:"classifier_url"`
	LabelsPath     string `yaml:"labels_path"`
}

type SMTPConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	From     string `yaml:"from"`
}

type TelegramConfig struct {
	BotToken    string `yaml:"bot_token"`
	BotUsername string `yaml:"bot_username"` // for t.me deep links
}

type SignalConfig struct {
	APIURL string `yaml:"api_url"` // signal-cli REST endpoint
	Sender string `yaml:"sender"`  // registered sender phone
}

// Load reads CONFIG_FILE (if set) then applies environment overrides.
// Env always wins so containers can override a baked-in YAML.
func Load() (*Config, error) {
	cfg := &Config{
		RedisAddr:   "localhost:6379",
		NATSURL:     "nats://localhost:4222",
		LogLevel:    "INFO",
		LogFormat:   "text",
		HTTPAddr:    ":8080",
		MetricsAddr: ":9090",
	}

	if path := os.Getenv("CONFIG_FILE"); path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("config file: %w", err)
		}
		if err := yaml.Unmarshal(raw, cfg); err != nil {
			return nil, fmt.Errorf("config parse: %w", err)
		}
	}

	applyEnv(cfg)

	if cfg.LogLevel != "DEBUG" && cfg.LogLevel != "INFO" && cfg.LogLevel != "WARN" && cfg.LogLevel != "ERROR" {
		return nil, fmt.Errorf("invalid LOG_LEVEL %q", cfg.LogLevel)
	}
	if cfg.LogFormat != "json" && cfg.LogFormat != "text" {
		return nil, fmt.Errorf("invalid LOG_FORMAT %q", cfg.LogFormat)
	}
	return cfg, nil
}

func applyEnv(cfg *Config) {
	setStr(&cfg.DatabaseURL, "DATABASE_URL")
	setStr(&cfg.NATSURL, "NATS_URL")
	setStr(&cfg.RedisAddr, "REDIS_ADDR")

	setStr(&cfg.Minio.Endpoint, "MINIO_ENDPOINT")
	setStr(&cfg.Minio.AccessKey, "MINIO_ACCESS_KEY")
	setStr(&cfg.Minio.SecretKey, "MINIO_SECRET_KEY")
	if v := os.Getenv("MINIO_USE_SSL"); v != "" {
		cfg.Minio.UseSSL = v == "true" || v == "1"
	}

	setStr(&cfg.Ingest.DropDir, "INGEST_DROP_DIR")

	setStr(&cfg.Models.CacheDir, "MODEL_CACHE_DIR")
	setStr(&cfg.Models.DetectorPath, "DETECTOR_MODEL_PATH")
	setStr(&cfg.Models.DetectorURL, "DETECTOR_MODEL_URL")
	setStr(&cfg.Models.ClassifierPath, "CLASSIFIER_MODEL_PATH")
	setStr(&cfg.Models.ClassifierURL, "CLASSIFIER_MODEL_URL")
	setStr(&cfg.Models.LabelsPath, "CLASSIFIER_LABELS_PATH")

	setStr(&cfg.SMTP.Host, "SMTP_HOST")
	if v := os.Getenv("SMTP_PORT"); v != "" {
		if p, err := strconv.Atoi(v); err == nil {
			cfg.SMTP.Port = p
		}
	}
	setStr(&cfg.SMTP.Username, "SMTP_USERNAME")
	setStr(&cfg.SMTP.Password, "SMTP_PASSWORD")
	setStr(&cfg.SMTP.From, "SMTP_FROM")

	setStr(&cfg.Telegram.BotToken, "TELEGRAM_BOT_TOKEN")
	setStr(&cfg.Telegram.BotUsername, "TELEGRAM_BOT_USERNAME")
	setStr(&cfg.Signal.APIURL, "SIGNAL_API_URL")
	setStr(&cfg.Signal.Sender, "SIGNAL_SENDER")

	setStr(&cfg.DomainName, "DOMAIN_NAME")
	setStr(&cfg.JWTSigningKey, "JWT_SIGNING_KEY")

	setStr(&cfg.LogLevel, "LOG_LEVEL")
	setStr(&cfg.LogFormat, "LOG_FORMAT")
	setStr(&cfg.HTTPAddr, "HTTP_ADDR")
	setStr(&cfg.MetricsAddr, "METRICS_ADDR")
}

func setStr(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

// RequireDB fails when the relational store is not configured.
func (c *Config) RequireDB() error {
	if c.DatabaseURL == "" {
		return errors.New("DATABASE_URL is required")
	}
	return nil
}

// RequireMinio fails when the object store is not configured.
func (c *Config) RequireMinio() error {
	if c.Minio.Endpoint == "" || c.Minio.AccessKey == "" || c.Minio.SecretKey == "" {
		return errors.New("MINIO_ENDPOINT, MINIO_ACCESS_KEY and MINIO_SECRET_KEY are required")
	}
	return nil
}

// RequireIngest fails when the drop directory is not configured.
func (c *Config) RequireIngest() error {
	if c.Ingest.DropDir == "" {
		return errors.New("INGEST_DROP_DIR is required")
	}
	return nil
}

// RequireJWT fails when the signing key is not configured.
func (c *Config) RequireJWT() error {
	if c.JWTSigningKey == "" {
		return errors.New("JWT_SIGNING_KEY is required")
	}
	return nil
}

// DeepLink builds an absolute frontend URL for notification messages.
func (c *Config) DeepLink(path string) string {
	if c.DomainName == "" {
		return path
	}
	return "https://" + c.DomainName + path
}
