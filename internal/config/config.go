package config

import (
	"fmt"
	"os"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/seino/sync-garoon-calendar/internal/models"
)

// DefaultPath is tried when the CLI does not override the config location.
const DefaultPath = "sync-garoon-calendar.toml"

// Config is the full application configuration, loaded from a TOML file with
// secrets optionally overridden from the environment.
type Config struct {
	LogLevel        string   `toml:"log_level"`
	StateDB         string   `toml:"state_db"`
	DefaultTimezone string   `toml:"default_timezone"`
	SyncDays        int      `toml:"sync_days"`
	BatchSize       int      `toml:"batch_size"`
	IncludePrivate  bool     `toml:"include_private"`
	ExcludeMarkers  []string `toml:"exclude_markers"`

	Garoon      Garoon      `toml:"garoon"`
	Scopes      []Scope     `toml:"scopes"`
	Destination Destination `toml:"destination"`
	Notify      Notify      `toml:"notify"`
	Retry       Retry       `toml:"retry"`
}

// Garoon holds the source service connection settings.
type Garoon struct {
	BaseURL   string `toml:"base_url"`
	Username  string `toml:"username"`
	Password  string `toml:"password"`
	PageLimit int    `toml:"page_limit"`
}

// Scope mirrors models.Scope in config form.
type Scope struct {
	Kind string `toml:"kind"`
	ID   string `toml:"id"`
}

// Destination selects and configures exactly one destination calendar.
type Destination struct {
	Type   string `toml:"type"` // "google" or "caldav"
	Google Google `toml:"google"`
	CalDAV CalDAV `toml:"caldav"`
}

// Google configures the Google Calendar destination.
type Google struct {
	CalendarID   string `toml:"calendar_id"`
	ClientID     string `toml:"client_id"`
	ClientSecret string `toml:"client_secret"`
	TokenFile    string `toml:"token_file"`
}

// CalDAV configures the CalDAV destination.
type CalDAV struct {
	ServerURL    string `toml:"server_url"`
	Username     string `toml:"username"`
	Password     string `toml:"password"`
	CalendarPath string `toml:"calendar_path"`
}

// Notify configures the webhook notification sink.
type Notify struct {
	Mode       string `toml:"mode"` // "always", "on-error" or "off"
	WebhookURL string `toml:"webhook_url"`
}

// Retry configures the backoff policy applied to destination calls.
type Retry struct {
	MaxRetries  int `toml:"max_retries"`
	BaseDelayMS int `toml:"base_delay_ms"`
	MaxDelayMS  int `toml:"max_delay_ms"`
}

// BaseDelay returns the configured base delay as a duration.
func (r Retry) BaseDelay() time.Duration { return time.Duration(r.BaseDelayMS) * time.Millisecond }

// MaxDelay returns the configured delay ceiling as a duration.
func (r Retry) MaxDelay() time.Duration { return time.Duration(r.MaxDelayMS) * time.Millisecond }

// Load reads a TOML config file, applies environment overrides and defaults,
// and validates the result.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg Config
	if err := toml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	cfg.applyEnv()
	cfg.applyDefaults()

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// applyEnv lets secrets live outside the config file. Environment values win
// over file values.
func (c *Config) applyEnv() {
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		c.LogLevel = v
	}
	if v := os.Getenv("GAROON_PASSWORD"); v != "" {
		c.Garoon.Password = v
	}
	if v := os.Getenv("GOOGLE_CLIENT_ID"); v != "" {
		c.Destination.Google.ClientID = v
	}
	if v := os.Getenv("GOOGLE_CLIENT_SECRET"); v != "" {
		c.Destination.Google.ClientSecret = v
	}
	if v := os.Getenv("CALDAV_PASSWORD"); v != "" {
		c.Destination.CalDAV.Password = v
	}
	if v := os.Getenv("NOTIFY_WEBHOOK_URL"); v != "" {
		c.Notify.WebhookURL = v
	}
}

func (c *Config) applyDefaults() {
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	if c.StateDB == "" {
		c.StateDB = "sync-state.db"
	}
	if c.DefaultTimezone == "" {
		c.DefaultTimezone = "UTC"
	}
	if c.SyncDays <= 0 {
		c.SyncDays = 30
	}
	if c.BatchSize <= 0 {
		c.BatchSize = 5
	}
	if c.Garoon.PageLimit <= 0 {
		c.Garoon.PageLimit = 100
	}
	if c.Destination.Google.CalendarID == "" {
		c.Destination.Google.CalendarID = "primary"
	}
	if c.Destination.Google.TokenFile == "" {
		c.Destination.Google.TokenFile = "token.json"
	}
	if c.Notify.Mode == "" {
		c.Notify.Mode = "off"
	}
	if c.Retry.MaxRetries <= 0 {
		c.Retry.MaxRetries = 3
	}
	if c.Retry.BaseDelayMS <= 0 {
		c.Retry.BaseDelayMS = 1000
	}
	if c.Retry.MaxDelayMS <= 0 {
		c.Retry.MaxDelayMS = 10000
	}
}

func (c *Config) validate() error {
	if c.Garoon.BaseURL == "" {
		return fmt.Errorf("garoon.base_url is required")
	}
	if len(c.Scopes) == 0 {
		return fmt.Errorf("at least one [[scopes]] entry is required")
	}
	for i, s := range c.Scopes {
		switch models.ScopeKind(s.Kind) {
		case models.ScopeUser, models.ScopeOrganization:
		default:
			return fmt.Errorf("scopes[%d]: unknown kind %q (want %q or %q)",
				i, s.Kind, models.ScopeUser, models.ScopeOrganization)
		}
		if s.ID == "" {
			return fmt.Errorf("scopes[%d]: id is required", i)
		}
	}
	switch c.Destination.Type {
	case "google", "caldav":
	default:
		return fmt.Errorf("destination.type must be \"google\" or \"caldav\", got %q", c.Destination.Type)
	}
	if c.Destination.Type == "caldav" && c.Destination.CalDAV.ServerURL == "" {
		return fmt.Errorf("destination.caldav.server_url is required for the caldav destination")
	}
	switch c.Notify.Mode {
	case "always", "on-error", "off":
	default:
		return fmt.Errorf("notify.mode must be \"always\", \"on-error\" or \"off\", got %q", c.Notify.Mode)
	}
	if c.Notify.Mode != "off" && c.Notify.WebhookURL == "" {
		return fmt.Errorf("notify.webhook_url is required when notify.mode is %q", c.Notify.Mode)
	}
	if _, err := time.LoadLocation(c.DefaultTimezone); err != nil {
		return fmt.Errorf("invalid default_timezone %q: %w", c.DefaultTimezone, err)
	}
	return nil
}

// ScopeList converts the configured scopes into the model type, preserving
// declaration order. Order matters: the multi-scope merge resolves duplicate
// event IDs in favor of the later scope.
func (c *Config) ScopeList() []models.Scope {
	scopes := make([]models.Scope, 0, len(c.Scopes))
	for _, s := range c.Scopes {
		scopes = append(scopes, models.Scope{Kind: models.ScopeKind(s.Kind), ID: s.ID})
	}
	return scopes
}
