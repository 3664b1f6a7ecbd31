// Package config loads the console's runtime configuration from the
// environment (and an optional .env file).
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"strings"
	"time"

	"github.com/caarlos0/env/v10"
	"github.com/joho/godotenv"
)

// DefaultAPIBaseURL is used when neither the build nor the environment
// names an API base.
const DefaultAPIBaseURL = "/api"

// BuildAPIBaseURL is set at build time and wins over the environment:
//
//	go build -ldflags "-X panel/internal/config.BuildAPIBaseURL=https://api.example.com/api" ./cmd/web
var BuildAPIBaseURL string

type Config struct {
	Port     int    `env:"PORT" envDefault:"8080"`
	LogLevel string `env:"LOG_LEVEL" envDefault:"info"`

	// APIBaseURL is the runtime-injected API base. A relative value is
	// resolved against BackendOrigin.
	APIBaseURL    string `env:"API_BASE_URL"`
	BackendOrigin string `env:"BACKEND_ORIGIN" envDefault:"http://localhost:8000"`

	RequestTimeout      time.Duration `env:"REQUEST_TIMEOUT" envDefault:"15s"`
	RenewalCooldown     time.Duration `env:"RENEWAL_COOLDOWN" envDefault:"5s"`
	ReplayFailedRenewal bool          `env:"REPLAY_FAILED_RENEWAL" envDefault:"false"`

	SessionLifetime    time.Duration `env:"SESSION_LIFETIME" envDefault:"24h"`
	SessionIdleTimeout time.Duration `env:"SESSION_IDLE_TIMEOUT" envDefault:"2h"`
	// SessionDB is a sqlite file for console sessions; empty keeps them in memory.
	SessionDB     string `env:"SESSION_DB"`
	SecureCookies bool   `env:"SECURE_COOKIES" envDefault:"false"`

	ShowUnauthorizedMessage bool `env:"SHOW_UNAUTHORIZED_MESSAGE" envDefault:"true"`

	// TraceExporter is "none" or "stdout".
	TraceExporter string `env:"OTEL_EXPORTER" envDefault:"none"`
}

// Load reads .env files when present, then the environment.
func Load(files ...string) (Config, error) {
	if err := godotenv.Load(files...); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return Config{}, fmt.Errorf("config: load env file: %w", err)
	}

	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("config: %w", err)
	}
	if cfg.Port <= 0 || cfg.Port > 65535 {
		return Config{}, fmt.Errorf("config: PORT %d out of range", cfg.Port)
	}
	switch cfg.TraceExporter {
	case "none", "stdout":
	default:
		return Config{}, fmt.Errorf("config: OTEL_EXPORTER %q must be none or stdout", cfg.TraceExporter)
	}
	return cfg, nil
}

// ResolveAPIBaseURL picks the API base: build-time value, then runtime
// value, then DefaultAPIBaseURL.
func ResolveAPIBaseURL(build, runtime string) string {
	if v := strings.TrimSpace(build); v != "" {
		return v
	}
	if v := strings.TrimSpace(runtime); v != "" {
		return v
	}
	return DefaultAPIBaseURL
}

// APIBase returns the absolute API base URL.
func (c Config) APIBase() (*url.URL, error) {
	raw := ResolveAPIBaseURL(BuildAPIBaseURL, c.APIBaseURL)

	ref, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("config: API base %q: %w", raw, err)
	}
	if ref.IsAbs() {
		return ref, nil
	}

	origin, err := url.Parse(c.BackendOrigin)
	if err != nil || !origin.IsAbs() || origin.Host == "" {
		return nil, fmt.Errorf("config: BACKEND_ORIGIN %q must be an absolute URL", c.BackendOrigin)
	}
	return origin.ResolveReference(ref), nil
}
