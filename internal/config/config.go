package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
)

// Config holds the application configuration.
type Config struct {
	GeminiAPIKey string `env:"GEMINI_API_KEY"`

	SaveDir    string `env:"CONESTOGA_SAVE_DIR" envDefault:".saves"`
	ContentDir string `env:"CONESTOGA_CONTENT_DIR"`
	TuningFile string `env:"CONESTOGA_TUNING_FILE"`
	AuditDB    string `env:"CONESTOGA_AUDIT_DB"`
	Seed       int64  `env:"CONESTOGA_SEED"`

	LogLevel  string `env:"CONESTOGA_LOG_LEVEL"  envDefault:"info"`
	LogFormat string `env:"CONESTOGA_LOG_FORMAT" envDefault:"console"`
	LogFile   string `env:"CONESTOGA_LOG_FILE"   envDefault:"conestoga.log"`

	AttemptCap       int           `env:"CONESTOGA_ATTEMPT_CAP"       envDefault:"2"`
	WaitBudget       time.Duration `env:"CONESTOGA_WAIT_BUDGET"       envDefault:"5s"`
	CallBudget       int           `env:"CONESTOGA_CALL_BUDGET"       envDefault:"120"`
	OfflineThreshold int           `env:"CONESTOGA_OFFLINE_THRESHOLD" envDefault:"3"`

	OTelEndpoint string `env:"CONESTOGA_OTEL_ENDPOINT"`

	// Offline forces fallback content for the whole session.
	Offline bool `env:"CONESTOGA_OFFLINE"`
}

// LoadConfig loads the configuration from environment variables. A missing
// API key is not an error: the session runs offline.
func LoadConfig() (*Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}
	cfg.AttemptCap = min(max(cfg.AttemptCap, 2), 3)
	if cfg.WaitBudget <= 0 {
		cfg.WaitBudget = 5 * time.Second
	}
	if cfg.OfflineThreshold < 1 {
		cfg.OfflineThreshold = 1
	}
	return &cfg, nil
}

// Online reports whether the generation service may be called.
func (c *Config) Online() bool {
	return c.GeminiAPIKey != "" && !c.Offline
}

// Redacted returns a copy that is safe to log.
func (c Config) Redacted() Config {
	if c.GeminiAPIKey != "" {
		c.GeminiAPIKey = "***"
	}
	return c
}
