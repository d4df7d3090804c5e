package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// Config represents runtime configuration for the service.
type Config struct {
	BasicConfig BasicConfig               `json:"basic_config"`
	Telegram    TelegramConfig            `json:"telegram"`
	Databases   map[string]DatabaseConfig `json:"databases"`
	Redis       RedisConfig               `json:"redis"`
	Providers   map[string]ProviderConfig `json:"providers"`
	Extraction  ExtractionConfig          `json:"extraction"`
	Media       MediaConfig               `json:"media"`
	Telemetry   TelemetryConfig           `json:"telemetry"`
}

type BasicConfig struct {
	ServerAddress     string `json:"server_address"`
	WebhookSecret     string `json:"webhook_secret"`
	MinWorkers        int    `json:"min_workers"`
	MaxWorkers        int    `json:"max_workers"`
	QueueSize         int    `json:"queue_size"`
	WorkerIdleTimeout int    `json:"worker_idle_timeout"` // minutes
	QuietPeriodMs     int    `json:"quiet_period_ms"`
	PhotoLimit        int    `json:"photo_limit"`
	SessionIdleTTL    int    `json:"session_idle_ttl"` // minutes
	SweepInterval     int    `json:"sweep_interval"`   // minutes
	SaveTimeout       int    `json:"save_timeout"`     // seconds
}

type TelegramConfig struct {
	Token       string `json:"token"`
	APIEndpoint string `json:"api_endpoint"`
	WebhookURL  string `json:"webhook_url"`
	Debug       bool   `json:"debug"`
}

type DatabaseConfig struct {
	DSN      string `json:"dsn"`
	Host     string `json:"host"`
	Port     int    `json:"port"`
	Username string `json:"username"`
	Password string `json:"password"`
	DBName   string `json:"db_name"`
	Params   string `json:"params"`
	SSLMode  string `json:"ssl_mode"`
}

type RedisConfig struct {
	Enabled  bool   `json:"enabled"`
	Host     string `json:"host"`
	Port     int    `json:"port"`
	Username string `json:"username"`
	Password string `json:"password"`
	DB       int    `json:"db"`
}

type ProviderConfig struct {
	BaseURL string `json:"base_url"`
	Model   string `json:"model"`
	APIKey  string `json:"api_key"`
}

type ExtractionConfig struct {
	Provider      string `json:"provider"`
	Model         string `json:"model"`
	PromptFile    string `json:"prompt_file"`
	SearchEnabled bool   `json:"search_enabled"`
	TimeoutSec    int    `json:"timeout_sec"`
}

type MediaConfig struct {
	BaseDir        string `json:"base_dir"`
	BaseURL        string `json:"base_url"`
	MaxConcurrency int    `json:"max_concurrency"`
	MaxRetries     int    `json:"max_retries"`
	RetryDelayMs   int    `json:"retry_delay_ms"`
}

type TelemetryConfig struct {
	ServiceName  string `json:"service_name"`
	Environment  string `json:"environment"`
	OTLPEndpoint string `json:"otlp_endpoint"`
}

const (
	defaultServerAddress = ":8090"
	defaultQuietPeriodMs = 1500
	defaultPhotoLimit    = 20
	defaultIdleTTL       = 60
	defaultSweepInterval = 5
	defaultSaveTimeout   = 90
)

// Load reads configuration from the provided path (defaults to config.json).
// Environment variables override the file for secrets.
func Load(path string) (*Config, error) {
	if path == "" {
		path = "config.json"
	}

	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolve config path: %w", err)
	}

	file, err := os.Open(absPath)
	if err != nil {
		return nil, fmt.Errorf("open config %s: %w", absPath, err)
	}
	defer file.Close()

	var cfg Config
	if err := json.NewDecoder(file).Decode(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}

	applyEnv(&cfg)
	cfg.applyDefaults()

	if strings.TrimSpace(cfg.Telegram.Token) == "" {
		return nil, errors.New("telegram token must be configured")
	}

	base := filepath.Dir(absPath)
	for name, db := range cfg.Databases {
		if isSQLite(name) && db.DSN != "" && db.DSN != ":memory:" && !filepath.IsAbs(db.DSN) {
			db.DSN = filepath.Join(base, db.DSN)
			cfg.Databases[name] = db
		}
	}
	if !filepath.IsAbs(cfg.Media.BaseDir) {
		cfg.Media.BaseDir = filepath.Join(base, cfg.Media.BaseDir)
	}
	if cfg.Extraction.PromptFile != "" && !filepath.IsAbs(cfg.Extraction.PromptFile) {
		cfg.Extraction.PromptFile = filepath.Join(base, cfg.Extraction.PromptFile)
	}

	return &cfg, nil
}

func (c *Config) applyDefaults() {
	b := &c.BasicConfig
	if b.ServerAddress == "" {
		b.ServerAddress = defaultServerAddress
	}
	if b.MinWorkers <= 0 {
		b.MinWorkers = 2
	}
	if b.MaxWorkers < b.MinWorkers {
		b.MaxWorkers = b.MinWorkers * 4
	}
	if b.QueueSize <= 0 {
		b.QueueSize = 256
	}
	if b.QuietPeriodMs <= 0 {
		b.QuietPeriodMs = defaultQuietPeriodMs
	}
	if b.PhotoLimit <= 0 {
		b.PhotoLimit = defaultPhotoLimit
	}
	if b.SessionIdleTTL <= 0 {
		b.SessionIdleTTL = defaultIdleTTL
	}
	if b.SweepInterval <= 0 {
		b.SweepInterval = defaultSweepInterval
	}
	if b.SaveTimeout <= 0 {
		b.SaveTimeout = defaultSaveTimeout
	}
	if c.Media.BaseDir == "" {
		c.Media.BaseDir = "./data/media"
	}
	if c.Media.BaseURL == "" {
		c.Media.BaseURL = "/media"
	}
	if c.Media.MaxConcurrency <= 0 {
		c.Media.MaxConcurrency = 4
	}
	if c.Media.MaxRetries <= 0 {
		c.Media.MaxRetries = 3
	}
	if c.Media.RetryDelayMs <= 0 {
		c.Media.RetryDelayMs = 500
	}
	if c.Extraction.TimeoutSec <= 0 {
		c.Extraction.TimeoutSec = 30
	}
	if c.Telemetry.ServiceName == "" {
		c.Telemetry.ServiceName = "listingbot"
	}
	if c.Databases == nil {
		c.Databases = make(map[string]DatabaseConfig)
	}
	if _, ok := c.Databases["sqlite3"]; !ok {
		c.Databases["sqlite3"] = DatabaseConfig{DSN: "./data/listings.db"}
	}
}

func applyEnv(c *Config) {
	if v := os.Getenv("LISTINGBOT_TELEGRAM_TOKEN"); v != "" {
		c.Telegram.Token = v
	}
	if v := os.Getenv("LISTINGBOT_WEBHOOK_SECRET"); v != "" {
		c.BasicConfig.WebhookSecret = v
	}
	if v := os.Getenv("LISTINGBOT_WEBHOOK_URL"); v != "" {
		c.Telegram.WebhookURL = v
	}
	if v := os.Getenv("LISTINGBOT_REDIS_PASSWORD"); v != "" {
		c.Redis.Password = v
	}
	if v := os.Getenv("LISTINGBOT_QUIET_PERIOD_MS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.BasicConfig.QuietPeriodMs = n
		}
	}
	for name, p := range c.Providers {
		key := "LISTINGBOT_" + strings.ToUpper(name) + "_API_KEY"
		if v := os.Getenv(key); v != "" {
			p.APIKey = v
			c.Providers[name] = p
		}
	}
}

func isSQLite(name string) bool {
	switch strings.ToLower(name) {
	case "sqlite", "sqlite3":
		return true
	}
	return false
}
