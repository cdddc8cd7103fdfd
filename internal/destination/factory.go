package destination

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/seino/sync-garoon-calendar/internal/config"
	"github.com/seino/sync-garoon-calendar/internal/google"
)

// NewProvider builds the destination provider selected by configuration.
// Exactly one destination is active per run.
func NewProvider(ctx context.Context, logger *slog.Logger, cfg config.Destination) (Provider, error) {
	switch cfg.Type {
	case "google":
		client, err := google.Client(ctx, cfg.Google.ClientID, cfg.Google.ClientSecret, cfg.Google.TokenFile)
		if err != nil {
			return nil, fmt.Errorf("failed to build google client: %w", err)
		}
		return NewGoogleProvider(ctx, logger, client, cfg.Google.CalendarID)

	case "caldav":
		return NewCalDAVProvider(ctx, logger,
			cfg.CalDAV.ServerURL, cfg.CalDAV.Username, cfg.CalDAV.Password, cfg.CalDAV.CalendarPath)

	default:
		return nil, fmt.Errorf("unsupported destination type: %q", cfg.Type)
	}
}
