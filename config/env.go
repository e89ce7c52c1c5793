package config

import (
	"net/url"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
	"github.com/joho/godotenv"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

// Config holds all ariaview settings
type Config struct {
	LogLevel string `yaml:"log_level" env:"LOG_LEVEL" env-default:"info"`
	Server   Server `yaml:"server"`
	Aria2    Aria2  `yaml:"aria2"`
	Sync     Sync   `yaml:"sync"`
}

// Server configures the viewer-facing HTTP listener
type Server struct {
	Port        int      `yaml:"port" env:"SERVER_PORT" env-default:"8080"`
	GinMode     string   `yaml:"gin_mode" env:"GIN_MODE" env-default:"release"`
	CORSOrigins []string `yaml:"cors_origins" env:"CORS_ORIGINS" env-separator:"," env-default:"http://localhost:3000,http://localhost:5173"`
}

// Aria2 configures the upstream JSON-RPC connection
type Aria2 struct {
	URL     string        `yaml:"url" env:"ARIA2_RPC_URL" env-default:"ws://localhost:6800/jsonrpc"`
	Secret  string        `yaml:"secret" env:"ARIA2_RPC_SECRET"`
	Timeout time.Duration `yaml:"timeout" env:"ARIA2_RPC_TIMEOUT" env-default:"10s"`
}

// Sync configures polling and notification handling
type Sync struct {
	PollInterval time.Duration `yaml:"poll_interval" env:"POLL_INTERVAL" env-default:"2s"`
	PageSize     int           `yaml:"page_size" env:"PAGE_SIZE" env-default:"1000"`
	MaxJobs      int           `yaml:"max_jobs" env:"MAX_JOBS" env-default:"10000"`
	BackoffMin   time.Duration `yaml:"backoff_min" env:"BACKOFF_MIN" env-default:"1s"`
	BackoffMax   time.Duration `yaml:"backoff_max" env:"BACKOFF_MAX" env-default:"30s"`
}

// Load reads .env (if present), then either the YAML file at path or the
// environment. Environment variables override file values.
func Load(path string) (*Config, error) {
	// .env is optional
	_ = godotenv.Load()

	var cfg Config
	if path != "" {
		if err := cleanenv.ReadConfig(path, &cfg); err != nil {
			return nil, errors.Wrapf(err, "failed to read config file %s", path)
		}
	} else if err := cleanenv.ReadEnv(&cfg); err != nil {
		return nil, errors.Wrap(err, "failed to read config from environment")
	}

	if err := validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// validate rejects settings the service cannot run with and resets the
// ones that merely look wrong
func validate(cfg *Config) error {
	u, err := url.Parse(cfg.Aria2.URL)
	if err != nil {
		return errors.Wrapf(err, "invalid ARIA2_RPC_URL %q", cfg.Aria2.URL)
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return errors.Errorf("ARIA2_RPC_URL must use ws:// or wss://, got %q", cfg.Aria2.URL)
	}

	if cfg.Server.Port < 1 || cfg.Server.Port > 65535 {
		log.Warnf("SERVER_PORT %d out of range, resetting to 8080", cfg.Server.Port)
		cfg.Server.Port = 8080
	}
	if cfg.Aria2.Timeout <= 0 {
		log.Warn("ARIA2_RPC_TIMEOUT must be positive, resetting to 10s")
		cfg.Aria2.Timeout = 10 * time.Second
	}
	if cfg.Sync.PollInterval < 100*time.Millisecond {
		log.Warnf("POLL_INTERVAL %s too short, resetting to 2s", cfg.Sync.PollInterval)
		cfg.Sync.PollInterval = 2 * time.Second
	}
	if cfg.Sync.PageSize < 1 {
		log.Warn("PAGE_SIZE must be at least 1, resetting to 1000")
		cfg.Sync.PageSize = 1000
	}
	if cfg.Sync.MaxJobs < cfg.Sync.PageSize {
		log.Warnf("MAX_JOBS %d below PAGE_SIZE, raising to %d", cfg.Sync.MaxJobs, cfg.Sync.PageSize)
		cfg.Sync.MaxJobs = cfg.Sync.PageSize
	}
	if cfg.Sync.BackoffMin <= 0 {
		cfg.Sync.BackoffMin = time.Second
	}
	if cfg.Sync.BackoffMax < cfg.Sync.BackoffMin {
		log.Warnf("BACKOFF_MAX %s below BACKOFF_MIN, raising to %s", cfg.Sync.BackoffMax, cfg.Sync.BackoffMin)
		cfg.Sync.BackoffMax = cfg.Sync.BackoffMin
	}
	return nil
}
