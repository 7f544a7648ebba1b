// Package config loads configuration from environment variables.
package config

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"os"
	"strconv"
	"time"

	env "github.com/Netflix/go-env"
	"github.com/joho/godotenv"
)

// Config holds the client configuration.
type Config struct {
	// Backend
	BackendURL   string `env:"MACWORP_BACKEND_BASE_URL,default=http://localhost:3001"`
	WebSocketURL string `env:"MACWORP_BACKEND_WS_URL,default=http://localhost:3001"`

	// Size limits in bytes. The upload limit is informational only.
	UploadMaxFileSize int64 `env:"MACWORP_UPLOAD_MAX_FILE_SIZE,default=5368709120"`
	RenderMaxFileSize int64 `env:"MACWORP_RENDER_MAX_FILE_SIZE,default=1048576"`

	// Gateway
	Interface   string `env:"MACWORP_FRONTEND_INTERFACE,default=127.0.0.1"`
	Port        int    `env:"MACWORP_FRONTEND_PORT,default=5001"`
	MetricsAddr string `env:"MACWORP_METRICS_ADDR"`

	// Session persistence; empty means the XDG default.
	SessionFile string `env:"MACWORP_SESSION_FILE"`

	// Logging
	LogLevel  string `env:"MACWORP_LOG_LEVEL,default=info"`
	LogFormat string `env:"MACWORP_LOG_FORMAT,default=console"`

	RequestTimeoutSec    int  `env:"MACWORP_REQUEST_TIMEOUT,default=30"`
	SkipCertVerification bool `env:"MACWORP_SKIP_CERT_VERIFICATION,default=false"`
}

// Load reads configuration from environment variables with defaults.
// Each existing dotenv file is loaded first; variables already present in
// the environment win over the file.
func Load(dotenvFiles ...string) (*Config, error) {
	for _, f := range dotenvFiles {
		if _, err := os.Stat(f); errors.Is(err, os.ErrNotExist) {
			continue
		}
		if err := godotenv.Load(f); err != nil {
			return nil, fmt.Errorf("load %s: %w", f, err)
		}
	}

	cfg := &Config{}
	if _, err := env.UnmarshalFromEnviron(cfg); err != nil {
		return nil, fmt.Errorf("parse environment: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the configuration for obvious mistakes.
func (c *Config) Validate() error {
	if err := checkURL("MACWORP_BACKEND_BASE_URL", c.BackendURL, "http", "https"); err != nil {
		return err
	}
	if err := checkURL("MACWORP_BACKEND_WS_URL", c.WebSocketURL, "http", "https", "ws", "wss"); err != nil {
		return err
	}
	if c.RenderMaxFileSize <= 0 {
		return fmt.Errorf("MACWORP_RENDER_MAX_FILE_SIZE must be positive, got %d", c.RenderMaxFileSize)
	}
	if c.UploadMaxFileSize <= 0 {
		return fmt.Errorf("MACWORP_UPLOAD_MAX_FILE_SIZE must be positive, got %d", c.UploadMaxFileSize)
	}
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("MACWORP_FRONTEND_PORT out of range: %d", c.Port)
	}
	return nil
}

// ListenAddr returns the gateway listen address.
func (c *Config) ListenAddr() string {
	return net.JoinHostPort(c.Interface, strconv.Itoa(c.Port))
}

// RequestTimeout returns the per-request timeout of the backend client.
func (c *Config) RequestTimeout() time.Duration {
	if c.RequestTimeoutSec <= 0 {
		return 30 * time.Second
	}
	return time.Duration(c.RequestTimeoutSec) * time.Second
}

func checkURL(key, raw string, schemes ...string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("%s: %w", key, err)
	}
	for _, s := range schemes {
		if u.Scheme == s && u.Host != "" {
			return nil
		}
	}
	return fmt.Errorf("%s: unsupported url %q", key, raw)
}
