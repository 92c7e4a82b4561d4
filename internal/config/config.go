package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"AraChat/internal/geo"
)

// Config holds application configuration
type Config struct {
	Model  string // Gemini model name, e.g. "gemini-2.5-flash"
	APIKey string
	Debug  bool

	LogDir string
	DBPath string // SQLite file collecting submitted feedback

	// Listen switches from the terminal REPL to the WebSocket server when set
	Listen string
	// SendRate is the per-connection limit on utterances per second
	SendRate  float64
	SendBurst int

	// RequestTimeout bounds one remote call; zero means no deadline
	RequestTimeout time.Duration
	// CacheTTL enables response caching when positive
	CacheTTL time.Duration

	// Latitude/Longitude pre-seed the location fix
	Latitude  *float64
	Longitude *float64
}

// Default returns the configuration used when no flags are given
func Default() Config {
	return Config{
		Model:          "gemini-2.5-flash",
		LogDir:         "logs",
		DBPath:         "arachat.db",
		SendRate:       1,
		SendBurst:      3,
		RequestTimeout: 60 * time.Second,
	}
}

// LoadEnv reads .env.local and .env from the working directory without
// overriding variables already set in the environment, then fills APIKey
// from GEMINI_API_KEY or API_KEY if it is still empty.
func (c *Config) LoadEnv() error {
	for _, p := range []string{".env.local", ".env"} {
		if err := godotenv.Load(p); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return fmt.Errorf("failed to load %s: %w", p, err)
		}
	}

	if c.APIKey == "" {
		for _, name := range []string{"GEMINI_API_KEY", "API_KEY"} {
			if v := strings.TrimSpace(os.Getenv(name)); v != "" {
				c.APIKey = v
				break
			}
		}
	}
	return nil
}

// Location returns the configured starting location, if any
func (c Config) Location() *geo.Location {
	if c.Latitude == nil || c.Longitude == nil {
		return nil
	}
	return &geo.Location{Latitude: *c.Latitude, Longitude: *c.Longitude}
}

// Validate checks option combinations
func (c Config) Validate() error {
	if c.Model == "" {
		return errors.New("model must not be empty")
	}
	if (c.Latitude == nil) != (c.Longitude == nil) {
		return errors.New("latitude and longitude must be given together")
	}
	if loc := c.Location(); loc != nil {
		if err := loc.Validate(); err != nil {
			return err
		}
	}
	if c.CacheTTL < 0 {
		return fmt.Errorf("cache ttl must not be negative: %s", c.CacheTTL)
	}
	if c.RequestTimeout < 0 {
		return fmt.Errorf("request timeout must not be negative: %s", c.RequestTimeout)
	}
	if c.Listen != "" && (c.SendRate <= 0 || c.SendBurst < 1) {
		return fmt.Errorf("send rate must be positive with burst >= 1, got %v/%d", c.SendRate, c.SendBurst)
	}
	return nil
}
