// Package config provides configuration loading from YAML files.
package config

import (
	"os"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/creasty/defaults"
	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// Config represents the application configuration.
type Config struct {
	Server  ServerConfig  `yaml:"server"`
	Game    GameConfig    `yaml:"game"`
	Rooms   RoomsConfig   `yaml:"rooms"`
	Spotify SpotifyConfig `yaml:"spotify"`
}

// ServerConfig represents server configuration.
type ServerConfig struct {
	Addr string `yaml:"addr" default:":8080"`
	// BaseURL is the public origin the OAuth callback redirects back to.
	BaseURL       string `yaml:"base_url" default:"http://localhost:8080"`
	AllowedOrigin string `yaml:"allowed_origin"`
	Environment   string `yaml:"environment" default:"development" validate:"oneof=development production"`
}

// GameConfig represents game pacing configuration.
type GameConfig struct {
	MaxPlayers         int `yaml:"max_players" default:"10" validate:"gte=2,lte=32"`
	RoundDurationMs    int `yaml:"round_duration_ms" default:"60000" validate:"gte=5000,lte=300000"`
	RevealDurationMs   int `yaml:"reveal_duration_ms" default:"8000" validate:"gte=1000,lte=60000"`
	CountdownMs        int `yaml:"countdown_ms" default:"5000" validate:"gte=0,lte=30000"`
	EliminationPauseMs int `yaml:"elimination_pause_ms" default:"3000" validate:"gte=0,lte=30000"`
}

// RoomsConfig represents room lifecycle configuration.
type RoomsConfig struct {
	SweepIntervalMin int `yaml:"sweep_interval_min" default:"60" validate:"gte=1"`
	MaxIdleAgeHours  int `yaml:"max_idle_age_hours" default:"24" validate:"gte=1"`
}

// SpotifyConfig represents Spotify API configuration.
type SpotifyConfig struct {
	ClientID     string `yaml:"client_id" validate:"required"`
	ClientSecret string `yaml:"client_secret" validate:"required"`
	RedirectURI  string `yaml:"redirect_uri" validate:"required,url"`
}

// Load loads configuration from a YAML file. A missing file is not an
// error; everything can come from defaults and the environment.
// Environment variables take precedence over file values for sensitive
// fields.
func Load(path string) (*Config, error) {
	var cfg Config

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return nil, errors.Wrap(err, "failed to read config file")
			}
		} else if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, errors.Wrap(err, "failed to parse config file")
		}
	}

	// Override with environment variables
	cfg.overrideFromEnv()

	// Set defaults using creasty/defaults
	if err := defaults.Set(&cfg); err != nil {
		return nil, errors.Wrap(err, "failed to set defaults")
	}

	// Validate configuration
	if err := cfg.Validate(); err != nil {
		return nil, errors.Wrap(err, "config validation failed")
	}

	return &cfg, nil
}

// overrideFromEnv overrides config values with environment variables.
func (c *Config) overrideFromEnv() {
	if v := os.Getenv("SPOTIFY_CLIENT_ID"); v != "" {
		c.Spotify.ClientID = v
	}
	if v := os.Getenv("SPOTIFY_CLIENT_SECRET"); v != "" {
		c.Spotify.ClientSecret = v
	}
	if v := os.Getenv("SPOTIFY_REDIRECT_URI"); v != "" {
		c.Spotify.RedirectURI = v
	}
	if v := os.Getenv("SERVER_BASE_URL"); v != "" {
		c.Server.BaseURL = v
	}
	if v := os.Getenv("PORT"); v != "" {
		c.Server.Addr = ":" + v
	}
	if v := os.Getenv("APP_ENV"); v != "" {
		c.Server.Environment = v
	}
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	validate := validator.New()
	if err := validate.Struct(c); err != nil {
		return errors.Wrap(err, "struct validation failed")
	}
	return nil
}

// RoundDuration returns the round length as a duration.
func (c *Config) RoundDuration() time.Duration {
	return time.Duration(c.Game.RoundDurationMs) * time.Millisecond
}

// RevealDuration returns the reveal length as a duration.
func (c *Config) RevealDuration() time.Duration {
	return time.Duration(c.Game.RevealDurationMs) * time.Millisecond
}

// Countdown returns the pre-game countdown as a duration.
func (c *Config) Countdown() time.Duration {
	return time.Duration(c.Game.CountdownMs) * time.Millisecond
}

// EliminationPause returns the post-elimination pause as a duration.
func (c *Config) EliminationPause() time.Duration {
	return time.Duration(c.Game.EliminationPauseMs) * time.Millisecond
}

// SweepInterval returns the room sweeper interval as a duration.
func (c *Config) SweepInterval() time.Duration {
	return time.Duration(c.Rooms.SweepIntervalMin) * time.Minute
}

// MaxIdleAge returns the stale-room age limit as a duration.
func (c *Config) MaxIdleAge() time.Duration {
	return time.Duration(c.Rooms.MaxIdleAgeHours) * time.Hour
}

// IsProduction reports whether the server runs in production mode.
func (c *Config) IsProduction() bool {
	return c.Server.Environment == "production"
}
