// Package config loads process configuration from the environment.
//
// Load fails fast: a missing or weak JWT secret, a bcrypt cost below the
// production floor or a nonsensical limiter setting stops the process
// before it binds a port.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/caarlos0/env/v10"

	"github.com/sakif/quest-platform/internal/auth"
)

const (
	EnvDevelopment = "development"
	EnvProduction  = "production"

	// MinProductionSecretLength applies to every environment except development.
	MinProductionSecretLength = 32
)

type Config struct {
	Environment string `env:"ENVIRONMENT" envDefault:"development"`
	Port        int    `env:"PORT" envDefault:"8080"`
	LogLevel    string `env:"LOG_LEVEL" envDefault:"info"`
	DBPath      string `env:"DB_PATH" envDefault:"data/quest.db"`
	UploadDir   string `env:"UPLOAD_DIR" envDefault:"upload"`

	JWTSecret     string        `env:"JWT_SECRET,required,notEmpty"`
	SessionTTL    time.Duration `env:"SESSION_TTL" envDefault:"1h"`
	ResetTokenTTL time.Duration `env:"RESET_TOKEN_TTL" envDefault:"15m"`
	BcryptCost    int           `env:"BCRYPT_COST" envDefault:"12"`

	LoginRateWindow         time.Duration `env:"LOGIN_RATE_WINDOW" envDefault:"15m"`
	LoginRateMax            int           `env:"LOGIN_RATE_MAX" envDefault:"5"`
	LoginRateResetOnSuccess bool          `env:"LOGIN_RATE_RESET_ON_SUCCESS" envDefault:"false"`
	RateLimitRedisURL       string        `env:"RATE_LIMIT_REDIS_URL"`

	ThrottleRPS   int `env:"THROTTLE_RPS" envDefault:"20"`
	ThrottleBurst int `env:"THROTTLE_BURST" envDefault:"40"`

	GoogleClientID     string `env:"GOOGLE_CLIENT_ID"`
	GoogleClientSecret string `env:"GOOGLE_CLIENT_SECRET"`

	BaseURL            string   `env:"BASE_URL" envDefault:"http://localhost:8080"`
	FrontURL           string   `env:"FRONT_URL" envDefault:"http://localhost:3000"`
	CORSAllowedOrigins []string `env:"CORS_ALLOWED_ORIGINS" envSeparator:","`

	SMTPHost     string        `env:"SMTP_HOST"`
	SMTPPort     string        `env:"SMTP_PORT" envDefault:"587"`
	SMTPUsername string        `env:"SMTP_USERNAME"`
	SMTPPassword string        `env:"SMTP_PASSWORD"`
	MailFrom     string        `env:"MAIL_FROM"`
	MailTimeout  time.Duration `env:"MAIL_TIMEOUT" envDefault:"10s"`
}

// Load parses the environment into a Config and validates it.
func Load() (*Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	cfg.FrontURL = strings.TrimRight(cfg.FrontURL, "/")
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return &cfg, nil
}

// Validate reports every problem at once.
func (c *Config) Validate() error {
	var errs []error

	switch {
	case len(c.JWTSecret) < auth.MinSecretLength:
		errs = append(errs, fmt.Errorf("JWT_SECRET must be at least %d characters", auth.MinSecretLength))
	case !c.IsDevelopment() && len(c.JWTSecret) < MinProductionSecretLength:
		errs = append(errs, fmt.Errorf("JWT_SECRET must be at least %d characters outside development", MinProductionSecretLength))
	}
	if c.BcryptCost < auth.MinCost {
		errs = append(errs, fmt.Errorf("BCRYPT_COST must be at least %d, got %d", auth.MinCost, c.BcryptCost))
	}
	if c.Port <= 0 || c.Port > 65535 {
		errs = append(errs, fmt.Errorf("PORT must be between 1 and 65535, got %d", c.Port))
	}
	if c.SessionTTL <= 0 {
		errs = append(errs, errors.New("SESSION_TTL must be positive"))
	}
	if c.ResetTokenTTL <= 0 {
		errs = append(errs, errors.New("RESET_TOKEN_TTL must be positive"))
	}
	if c.LoginRateMax <= 0 || c.LoginRateWindow <= 0 {
		errs = append(errs, errors.New("LOGIN_RATE_MAX and LOGIN_RATE_WINDOW must be positive"))
	}
	if c.ThrottleRPS <= 0 || c.ThrottleBurst <= 0 {
		errs = append(errs, errors.New("THROTTLE_RPS and THROTTLE_BURST must be positive"))
	}
	if c.MailTimeout <= 0 {
		errs = append(errs, errors.New("MAIL_TIMEOUT must be positive"))
	}
	if c.SMTPHost != "" && c.MailFrom == "" {
		errs = append(errs, errors.New("MAIL_FROM is required when SMTP_HOST is set"))
	}
	if _, err := ParseLogLevel(c.LogLevel); err != nil {
		errs = append(errs, err)
	}

	return errors.Join(errs...)
}

func (c *Config) IsDevelopment() bool { return c.Environment == EnvDevelopment }

// SecureCookies is true only in production, where the site is served over HTTPS.
func (c *Config) SecureCookies() bool { return c.Environment == EnvProduction }

// GoogleEnabled reports whether both OAuth credentials are set.
func (c *Config) GoogleEnabled() bool {
	return c.GoogleClientID != "" && c.GoogleClientSecret != ""
}

// MailEnabled reports whether outbound SMTP is configured.
func (c *Config) MailEnabled() bool { return c.SMTPHost != "" }

// AllowedOrigins is CORS_ALLOWED_ORIGINS, or FRONT_URL alone when unset.
func (c *Config) AllowedOrigins() []string {
	if len(c.CORSAllowedOrigins) > 0 {
		return c.CORSAllowedOrigins
	}
	return []string{c.FrontURL}
}

// ParseLogLevel maps debug|info|warn|error to a slog level.
func ParseLogLevel(s string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug, nil
	case "", "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	}
	return slog.LevelInfo, fmt.Errorf("LOG_LEVEL %q is not one of debug, info, warn, error", s)
}
