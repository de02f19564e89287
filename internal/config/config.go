package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

type Config struct {
	Port   string `env:"PORT" envDefault:"8080"`
	AppEnv string `env:"APP_ENV" envDefault:"development"`

	DatabaseURL              string `env:"DATABASE_URL,required,notEmpty"`
	DBMaxOpenConns           int    `env:"DB_MAX_OPEN_CONNS" envDefault:"10"`
	DBMaxIdleConns           int    `env:"DB_MAX_IDLE_CONNS" envDefault:"5"`
	DBConnMaxLifetimeMinutes int    `env:"DB_CONN_MAX_LIFETIME_MINUTES" envDefault:"30"`
	DBConnMaxIdleTimeMinutes int    `env:"DB_CONN_MAX_IDLE_TIME_MINUTES" envDefault:"10"`
	RunMigrationsOnStartup   bool   `env:"RUN_MIGRATIONS_ON_STARTUP" envDefault:"false"`

	JWTSecret             string `env:"JWT_SECRET,required,notEmpty"`
	JWTRefreshSecret      string `env:"JWT_REFRESH_SECRET,required,notEmpty"`
	AccessTokenTTLMinutes int    `env:"ACCESS_TOKEN_TTL_MINUTES" envDefault:"15"`
	RefreshTokenTTLHours  int    `env:"REFRESH_TOKEN_TTL_HOURS" envDefault:"168"`
	BcryptCost            int    `env:"BCRYPT_COST" envDefault:"0"`

	RateLimitMax           int    `env:"AUTH_RATE_LIMIT_MAX" envDefault:"5"`
	RateLimitWindowSeconds int    `env:"AUTH_RATE_LIMIT_WINDOW_SECONDS" envDefault:"60"`
	RateLimitBackend       string `env:"AUTH_RATE_LIMIT_BACKEND" envDefault:"memory"`

	AdminEmail    string `env:"ADMIN_EMAIL"`
	AdminPassword string `env:"ADMIN_PASSWORD"`

	CronSecret             string `env:"CRON_SECRET"`
	RateLimitRetentionDays int    `env:"RATE_LIMIT_RETENTION_DAYS" envDefault:"2"`
	CleanupBatchSize       int    `env:"CLEANUP_BATCH_SIZE" envDefault:"500"`

	SentryDSN     string   `env:"SENTRY_DSN"`
	CloudinaryURL string   `env:"CLOUDINARY_URL"`
	CORSOrigins   []string `env:"CORS_ORIGINS" envSeparator:","`

	// TrustedProxies lists proxy IPs or CIDRs allowed to set X-Forwarded-For.
	TrustedProxies []string `env:"TRUSTED_PROXIES" envSeparator:","`
}

type Options struct {
	LoadDotEnv bool
	Environ    map[string]string
}

// Load reads the process environment (optionally seeded from .env) into a
// validated Config.
func Load(options Options) (Config, error) {
	if options.LoadDotEnv {
		_ = godotenv.Load()
	}

	var cfg Config
	parseOpts := env.Options{}
	if options.Environ != nil {
		parseOpts.Environment = options.Environ
	}
	if err := env.ParseWithOptions(&cfg, parseOpts); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}

	cfg.normalize()
	if err := cfg.validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func (c *Config) normalize() {
	c.AdminEmail = strings.TrimSpace(c.AdminEmail)
	c.AdminPassword = strings.TrimSpace(c.AdminPassword)
	c.CronSecret = strings.TrimSpace(c.CronSecret)
	c.RateLimitBackend = strings.TrimSpace(strings.ToLower(c.RateLimitBackend))

	c.CORSOrigins = compact(c.CORSOrigins)
	c.TrustedProxies = compact(c.TrustedProxies)
}

func compact(values []string) []string {
	out := make([]string, 0, len(values))
	for _, value := range values {
		if value = strings.TrimSpace(value); value != "" {
			out = append(out, value)
		}
	}
	return out
}

func (c Config) validate() error {
	if c.JWTSecret == c.JWTRefreshSecret {
		return errors.New("JWT_SECRET and JWT_REFRESH_SECRET must differ")
	}
	if (c.AdminEmail == "") != (c.AdminPassword == "") {
		return errors.New("ADMIN_EMAIL and ADMIN_PASSWORD are required together")
	}
	if c.AccessTokenTTL() >= c.RefreshTokenTTL() {
		return errors.New("access token ttl must be shorter than refresh token ttl")
	}
	switch c.RateLimitBackend {
	case "memory", "postgres":
	default:
		return fmt.Errorf("unknown AUTH_RATE_LIMIT_BACKEND: %s", c.RateLimitBackend)
	}
	return nil
}

func (c Config) Addr() string {
	return ":" + c.Port
}

func (c Config) AccessTokenTTL() time.Duration {
	return positiveOr(c.AccessTokenTTLMinutes, 15) * time.Minute
}

func (c Config) RefreshTokenTTL() time.Duration {
	return positiveOr(c.RefreshTokenTTLHours, 168) * time.Hour
}

func (c Config) ConnMaxLifetime() time.Duration {
	return positiveOr(c.DBConnMaxLifetimeMinutes, 30) * time.Minute
}

func (c Config) ConnMaxIdleTime() time.Duration {
	return positiveOr(c.DBConnMaxIdleTimeMinutes, 10) * time.Minute
}

func (c Config) RateLimitWindow() time.Duration {
	return positiveOr(c.RateLimitWindowSeconds, 60) * time.Second
}

func (c Config) RateLimitRetention() time.Duration {
	return positiveOr(c.RateLimitRetentionDays, 2) * 24 * time.Hour
}

func positiveOr(value, fallback int) time.Duration {
	if value <= 0 {
		return time.Duration(fallback)
	}
	return time.Duration(value)
}
