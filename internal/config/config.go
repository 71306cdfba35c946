package config

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/sethvargo/go-envconfig"
)

// Config holds all application configuration
type Config struct {
	Server   ServerConfig   `env:",prefix=SERVER_"`
	Database DatabaseConfig `env:",prefix=DB_"`
	Auth     AuthConfig     `env:",prefix=AUTH_"`
	Mail     MailConfig     `env:",prefix=MAIL_"`
	Rate     RateConfig     `env:",prefix=RATE_"`
	CORS     CORSConfig     `env:",prefix=CORS_"`
	App      AppConfig      `env:",prefix=APP_"`
}

type ServerConfig struct {
	Port            string        `env:"PORT,default=8080"`
	Host            string        `env:"HOST,default=0.0.0.0"`
	ReadTimeout     time.Duration `env:"READ_TIMEOUT,default=30s"`
	WriteTimeout    time.Duration `env:"WRITE_TIMEOUT,default=30s"`
	ShutdownTimeout time.Duration `env:"SHUTDOWN_TIMEOUT,default=30s"`
}

// DatabaseConfig holds PostgreSQL configuration. URL wins over the discrete fields.
type DatabaseConfig struct {
	URL      string `env:"URL"`
	Host     string `env:"HOST,default=localhost"`
	Port     string `env:"PORT,default=5432"`
	User     string `env:"USER,default=postgres"`
	Password string `env:"PASSWORD,default=postgres"`
	Name     string `env:"NAME,default=mindpoints"`
	SSLMode  string `env:"SSL_MODE,default=disable"`
	MaxConns int32  `env:"MAX_CONNS,default=25"`
	MinConns int32  `env:"MIN_CONNS,default=2"`
}

// AuthConfig verifies identity tokens issued by the external identity provider.
type AuthConfig struct {
	JWTSecret    string `env:"JWT_SECRET"`
	Issuer       string `env:"ISSUER"`
	Audience     string `env:"AUDIENCE"`
	ServiceToken string `env:"SERVICE_TOKEN"`
}

type MailConfig struct {
	Enabled  bool   `env:"ENABLED,default=false"`
	Host     string `env:"HOST,default=localhost"`
	Port     int    `env:"PORT,default=587"`
	Username string `env:"USERNAME"`
	Password string `env:"PASSWORD"`
	From     string `env:"FROM,default=Mind Points <no-reply@mindpoints.local>"`
}

// RateConfig limits redemptions per user.
type RateConfig struct {
	RedeemPerMinute float64 `env:"REDEEM_PER_MINUTE,default=6"`
	RedeemBurst     int     `env:"REDEEM_BURST,default=3"`
}

type CORSConfig struct {
	AllowedOrigins []string `env:"ALLOWED_ORIGINS,default=http://localhost:3000"`
}

type AppConfig struct {
	Environment  string `env:"ENVIRONMENT,default=development"`
	LogLevel     string `env:"LOG_LEVEL,default=info"`
	SiteURL      string `env:"SITE_URL,default=http://localhost:3000"`
	EmailWorkers int    `env:"EMAIL_WORKERS,default=5"`
}

// Load reads .env (if present) into the process environment and then
// processes the environment. Variables already set are not overridden.
func Load(ctx context.Context) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}
	return LoadFrom(ctx, envconfig.OsLookuper())
}

// LoadFrom processes configuration from an arbitrary lookuper.
func LoadFrom(ctx context.Context, lookuper envconfig.Lookuper) (*Config, error) {
	var cfg Config
	if err := envconfig.ProcessWith(ctx, &envconfig.Config{Target: &cfg, Lookuper: lookuper}); err != nil {
		return nil, fmt.Errorf("failed to process environment config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	if c.App.IsProduction() {
		if c.Auth.JWTSecret == "" {
			return errors.New("AUTH_JWT_SECRET is required in production")
		}
		if c.Auth.ServiceToken == "" {
			return errors.New("AUTH_SERVICE_TOKEN is required in production")
		}
	}
	if c.Rate.RedeemPerMinute <= 0 || c.Rate.RedeemBurst < 1 {
		return fmt.Errorf("invalid redeem rate %v/min burst %d", c.Rate.RedeemPerMinute, c.Rate.RedeemBurst)
	}
	return nil
}

// GetDatabaseURL returns the PostgreSQL connection string
func (c *DatabaseConfig) GetDatabaseURL() string {
	if c.URL != "" {
		return c.URL
	}
	return fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Name, c.SSLMode)
}

func (c *ServerConfig) GetServerAddr() string {
	return fmt.Sprintf("%s:%s", c.Host, c.Port)
}

func (c *AppConfig) IsProduction() bool {
	return c.Environment == "production"
}

// SlogLevel maps LOG_LEVEL to a slog level; unknown values mean info.
func (c *AppConfig) SlogLevel() slog.Level {
	switch strings.ToLower(c.LogLevel) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
