package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/seino/sync-garoon-calendar/internal/models"
)

const minimalTOML = `
[garoon]
base_url = "https://example.cybozu.com/g"
username = "sync-bot"

[[scopes]]
kind = "user"
id = "42"

[destination]
type = "google"
`

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoad_MinimalConfigGetsDefaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, minimalTOML))
	require.NoError(t, err)

	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, "sync-state.db", cfg.StateDB)
	assert.Equal(t, "UTC", cfg.DefaultTimezone)
	assert.Equal(t, 30, cfg.SyncDays)
	assert.Equal(t, 5, cfg.BatchSize)
	assert.Equal(t, 100, cfg.Garoon.PageLimit)
	assert.Equal(t, "primary", cfg.Destination.Google.CalendarID)
	assert.Equal(t, "token.json", cfg.Destination.Google.TokenFile)
	assert.Equal(t, "off", cfg.Notify.Mode)
	assert.Equal(t, 3, cfg.Retry.MaxRetries)
	assert.Equal(t, time.Second, cfg.Retry.BaseDelay())
	assert.Equal(t, 10*time.Second, cfg.Retry.MaxDelay())
}

func TestLoad_FullConfig(t *testing.T) {
	cfg, err := Load(writeConfig(t, `
log_level = "debug"
state_db = "/var/lib/sgc/state.db"
default_timezone = "Asia/Tokyo"
sync_days = 14
batch_size = 10
include_private = true
exclude_markers = ["[private]", "[no-sync]"]

[garoon]
base_url = "https://example.cybozu.com/g/"
username = "sync-bot"
password = "file-secret"
page_limit = 50

[[scopes]]
kind = "user"
id = "42"

[[scopes]]
kind = "organization"
id = "7"

[destination]
type = "caldav"

[destination.caldav]
server_url = "https://dav.example.com"
username = "bot"
calendar_path = "/calendars/bot/work/"

[notify]
mode = "on-error"
webhook_url = "https://hooks.example.com/T123"

[retry]
max_retries = 5
base_delay_ms = 200
max_delay_ms = 2000
`))
	require.NoError(t, err)

	assert.Equal(t, "debug", cfg.LogLevel)
	assert.True(t, cfg.IncludePrivate)
	assert.Equal(t, []string{"[private]", "[no-sync]"}, cfg.ExcludeMarkers)
	assert.Equal(t, 50, cfg.Garoon.PageLimit)
	assert.Equal(t, "caldav", cfg.Destination.Type)
	assert.Equal(t, "on-error", cfg.Notify.Mode)
	assert.Equal(t, 200*time.Millisecond, cfg.Retry.BaseDelay())

	scopes := cfg.ScopeList()
	require.Len(t, scopes, 2)
	assert.Equal(t, models.Scope{Kind: models.ScopeUser, ID: "42"}, scopes[0])
	assert.Equal(t, models.Scope{Kind: models.ScopeOrganization, ID: "7"}, scopes[1], "declaration order preserved")
}

func TestLoad_EnvironmentOverridesFile(t *testing.T) {
	t.Setenv("GAROON_PASSWORD", "env-secret")
	t.Setenv("LOG_LEVEL", "warn")
	t.Setenv("NOTIFY_WEBHOOK_URL", "https://hooks.example.com/from-env")

	cfg, err := Load(writeConfig(t, minimalTOML+`
[notify]
mode = "always"
webhook_url = "https://hooks.example.com/from-file"
`))
	require.NoError(t, err)

	assert.Equal(t, "env-secret", cfg.Garoon.Password)
	assert.Equal(t, "warn", cfg.LogLevel)
	assert.Equal(t, "https://hooks.example.com/from-env", cfg.Notify.WebhookURL)
}

func TestLoad_ValidationFailures(t *testing.T) {
	tests := []struct {
		name string
		toml string
	}{
		{"missing base_url", `
[[scopes]]
kind = "user"
id = "42"
[destination]
type = "google"
`},
		{"no scopes", `
[garoon]
base_url = "https://example.cybozu.com/g"
[destination]
type = "google"
`},
		{"bad scope kind", `
[garoon]
base_url = "https://example.cybozu.com/g"
[[scopes]]
kind = "group"
id = "42"
[destination]
type = "google"
`},
		{"scope without id", `
[garoon]
base_url = "https://example.cybozu.com/g"
[[scopes]]
kind = "user"
[destination]
type = "google"
`},
		{"unknown destination type", `
[garoon]
base_url = "https://example.cybozu.com/g"
[[scopes]]
kind = "user"
id = "42"
[destination]
type = "exchange"
`},
		{"caldav without server_url", `
[garoon]
base_url = "https://example.cybozu.com/g"
[[scopes]]
kind = "user"
id = "42"
[destination]
type = "caldav"
`},
		{"bad notify mode", minimalTOML + `
[notify]
mode = "sometimes"
`},
		{"notify without webhook", minimalTOML + `
[notify]
mode = "always"
`},
		{"bad timezone", `
default_timezone = "Mars/Olympus"
` + minimalTOML},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tt.toml))
			assert.Error(t, err)
		})
	}
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.toml"))
	require.Error(t, err)
}
