// Package config reads process configuration from the environment.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
)

// Config is the full process configuration. Field tags name the
// environment variables.
type Config struct {
	HTTPAddr string `env:"CINEMA_HTTP_ADDR" envDefault:":8080"`
	// GRPCAddr serves grpc.health.v1; empty disables it.
	GRPCAddr string `env:"CINEMA_GRPC_ADDR" envDefault:":9090"`

	PostgresDSN     string `env:"CINEMA_PG_DSN"`
	SideStoreDriver string `env:"CINEMA_SIDESTORE_DRIVER" envDefault:"sqlite"`
	SideStorePath   string `env:"CINEMA_SIDESTORE_PATH"   envDefault:"data/sidestore.db"`

	JWTSecret   string `env:"CINEMA_JWT_SECRET"`
	LoginSecret string `env:"CINEMA_LOGIN_SECRET"`
	JWTIssuer   string `env:"CINEMA_JWT_ISSUER" envDefault:"cinemaws"`
	BcryptCost  int    `env:"CINEMA_BCRYPT_COST" envDefault:"10"`

	AdminUsername  string `env:"CINEMA_ADMIN_USERNAME"`
	RevokeOnDelete bool   `env:"CINEMA_REVOKE_ON_DELETE" envDefault:"false"`

	CORSOrigins     []string      `env:"CINEMA_CORS_ORIGINS"        envDefault:"http://localhost:3000" envSeparator:","`
	LoginRatePerSec float64       `env:"CINEMA_LOGIN_RATE_PER_SEC"  envDefault:"5"`
	LoginRateBurst  int           `env:"CINEMA_LOGIN_RATE_BURST"    envDefault:"10"`
	MaxBodyBytes    int64         `env:"CINEMA_MAX_BODY_BYTES"      envDefault:"1048576"`
	ShutdownTimeout time.Duration `env:"CINEMA_SHUTDOWN_TIMEOUT"    envDefault:"10s"`

	Version string `env:"CINEMA_VERSION" envDefault:"dev"`
}

// Load parses the environment. It does not check serve-only requirements;
// see ValidateServe.
func Load() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	cfg.SideStoreDriver = strings.ToLower(strings.TrimSpace(cfg.SideStoreDriver))
	cfg.CORSOrigins = trimAll(cfg.CORSOrigins)
	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) validate() error {
	var errs []error
	switch c.SideStoreDriver {
	case "sqlite", "file":
	default:
		errs = append(errs, fmt.Errorf("CINEMA_SIDESTORE_DRIVER: unknown driver %q", c.SideStoreDriver))
	}
	if strings.TrimSpace(c.SideStorePath) == "" {
		errs = append(errs, errors.New("CINEMA_SIDESTORE_PATH is required"))
	}
	if c.LoginRatePerSec <= 0 || c.LoginRateBurst <= 0 {
		errs = append(errs, errors.New("login rate and burst must be positive"))
	}
	if c.MaxBodyBytes <= 0 {
		errs = append(errs, errors.New("CINEMA_MAX_BODY_BYTES must be positive"))
	}
	if c.BcryptCost < 4 || c.BcryptCost > 31 {
		errs = append(errs, fmt.Errorf("CINEMA_BCRYPT_COST: %d out of range", c.BcryptCost))
	}
	return errors.Join(errs...)
}

// ValidateServe reports every variable the API server needs but is unset.
func (c Config) ValidateServe() error {
	var missing []string
	if strings.TrimSpace(c.PostgresDSN) == "" {
		missing = append(missing, "CINEMA_PG_DSN")
	}
	if c.JWTSecret == "" {
		missing = append(missing, "CINEMA_JWT_SECRET")
	}
	if c.LoginSecret == "" {
		missing = append(missing, "CINEMA_LOGIN_SECRET")
	}
	if len(missing) > 0 {
		return fmt.Errorf("missing required configuration: %s", strings.Join(missing, ", "))
	}
	return nil
}

func trimAll(values []string) []string {
	out := values[:0]
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	return out
}
