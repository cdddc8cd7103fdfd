package main

import (
	"bufio"
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/urfave/cli/v2"

	"github.com/seino/sync-garoon-calendar/internal/config"
	"github.com/seino/sync-garoon-calendar/internal/destination"
	"github.com/seino/sync-garoon-calendar/internal/garoon"
	"github.com/seino/sync-garoon-calendar/internal/google"
	"github.com/seino/sync-garoon-calendar/internal/models"
	"github.com/seino/sync-garoon-calendar/internal/notify"
	"github.com/seino/sync-garoon-calendar/internal/retry"
	"github.com/seino/sync-garoon-calendar/internal/state"
	"github.com/seino/sync-garoon-calendar/internal/syncer"
)

func main() {
	// Load .env first, but don't error if it doesn't exist.
	_ = godotenv.Load()

	app := &cli.App{
		Name:  "sync-garoon-calendar",
		Usage: "One-way sync of Garoon schedule events into a destination calendar.",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Value:   config.DefaultPath,
				Usage:   "Path to the TOML configuration file.",
			},
		},
		Commands: []*cli.Command{
			syncCommand(),
			authCommand(),
			pruneCommand(),
			logsCommand(),
		},
	}

	if err := app.Run(os.Args); err != nil {
		slog.Error("Application failed", "error", err)
		os.Exit(1)
	}
}

func syncCommand() *cli.Command {
	return &cli.Command{
		Name:  "sync",
		Usage: "Run the reconciliation process.",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "start", Usage: "Range start date (YYYY-MM-DD). Default: today."},
			&cli.StringFlag{Name: "end", Usage: "Range end date (YYYY-MM-DD). Default: today plus sync_days."},
			&cli.BoolFlag{Name: "dry-run", Usage: "Log what would be synced without making changes."},
			&cli.IntFlag{Name: "watch", Usage: "Repeat the sync every N seconds instead of running once."},
		},
		Action: func(c *cli.Context) error {
			cfg, logger, err := setup(c)
			if err != nil {
				return err
			}

			startDate := c.String("start")
			endDate := c.String("end")
			now := time.Now()
			if startDate == "" {
				startDate = now.Format(models.DateLayout)
			}
			if endDate == "" {
				endDate = now.AddDate(0, 0, cfg.SyncDays).Format(models.DateLayout)
			}

			store, err := state.Open(cfg.StateDB)
			if err != nil {
				return err
			}
			defer store.Close()

			s, err := buildSyncer(c.Context, logger, cfg, store, c.Bool("dry-run"))
			if err != nil {
				return err
			}

			if interval := c.Int("watch"); interval > 0 {
				ticker := time.NewTicker(time.Duration(interval) * time.Second)
				defer ticker.Stop()
				logger.Info("Starting watcher.", "intervalSeconds", interval)
				for ; true; <-ticker.C {
					if _, err := s.Run(c.Context, startDate, endDate); err != nil {
						logger.Error("Sync run failed", "error", err)
					}
				}
				return nil
			}

			// A completed run exits 0 even when individual events failed;
			// the error counter is in the summary and the activity log.
			_, err = s.Run(c.Context, startDate, endDate)
			return err
		},
	}
}

func buildSyncer(ctx context.Context, logger *slog.Logger, cfg *config.Config, store *state.Store, dryRun bool) (*syncer.Syncer, error) {
	retryOpts := retry.Options{
		MaxRetries: cfg.Retry.MaxRetries,
		BaseDelay:  cfg.Retry.BaseDelay(),
		MaxDelay:   cfg.Retry.MaxDelay(),
	}

	source, err := garoon.NewClient(garoon.Options{
		BaseURL:   cfg.Garoon.BaseURL,
		Username:  cfg.Garoon.Username,
		Password:  cfg.Garoon.Password,
		PageLimit: cfg.Garoon.PageLimit,
		Retry:     retryOpts,
		Logger:    logger,
	})
	if err != nil {
		return nil, err
	}

	provider, err := destination.NewProvider(ctx, logger, cfg.Destination)
	if err != nil {
		return nil, err
	}

	notifier, err := notify.New(logger, cfg.Notify.Mode, cfg.Notify.WebhookURL)
	if err != nil {
		return nil, err
	}

	return syncer.New(syncer.Options{
		Logger:          logger,
		Source:          source,
		Destination:     destination.WithRetry(provider, retryOpts, logger),
		Store:           store,
		Notifier:        notifier,
		Scopes:          cfg.ScopeList(),
		DefaultTimezone: cfg.DefaultTimezone,
		BatchSize:       cfg.BatchSize,
		IncludePrivate:  cfg.IncludePrivate,
		ExcludeMarkers:  cfg.ExcludeMarkers,
		DryRun:          dryRun,
	}), nil
}

func authCommand() *cli.Command {
	return &cli.Command{
		Name:  "auth",
		Usage: "Authenticate the Google destination and save the API token.",
		Action: func(c *cli.Context) error {
			cfg, logger, err := setup(c)
			if err != nil {
				return err
			}
			gcfg := cfg.Destination.Google

			oauthConfig, err := google.OAuthConfig(gcfg.ClientID, gcfg.ClientSecret)
			if err != nil {
				return err
			}

			authURL := oauthConfig.AuthCodeURL("state-token")
			fmt.Printf("Go to the following link in your browser then type the "+
				"authorization code:\n%v\n", authURL)

			fmt.Print("Enter Authorization Code: ")
			reader := bufio.NewReader(os.Stdin)
			authCode, _ := reader.ReadString('\n')
			authCode = strings.TrimSpace(authCode)

			token, err := google.Exchange(c.Context, oauthConfig, authCode)
			if err != nil {
				return err
			}
			if err := google.SaveToken(gcfg.TokenFile, token); err != nil {
				return err
			}

			logger.Info("Successfully authenticated and saved token.", "file", gcfg.TokenFile)
			return nil
		},
	}
}

func pruneCommand() *cli.Command {
	return &cli.Command{
		Name:  "prune",
		Usage: "Remove sync state not touched within the retention window.",
		Flags: []cli.Flag{
			&cli.IntFlag{Name: "days", Value: 90, Usage: "Retention window in days."},
		},
		Action: func(c *cli.Context) error {
			cfg, logger, err := setup(c)
			if err != nil {
				return err
			}
			store, err := state.Open(cfg.StateDB)
			if err != nil {
				return err
			}
			defer store.Close()

			pruned, err := store.PruneOlderThan(c.Context, c.Int("days"))
			if err != nil {
				return err
			}
			logger.Info("Pruned stale sync state.", "records", pruned, "days", c.Int("days"))
			return nil
		},
	}
}

func logsCommand() *cli.Command {
	return &cli.Command{
		Name:  "logs",
		Usage: "Show recent sync activity, newest first.",
		Flags: []cli.Flag{
			&cli.IntFlag{Name: "limit", Value: 50, Usage: "Maximum number of entries."},
		},
		Action: func(c *cli.Context) error {
			cfg, _, err := setup(c)
			if err != nil {
				return err
			}
			store, err := state.Open(cfg.StateDB)
			if err != nil {
				return err
			}
			defer store.Close()

			entries, err := store.RecentLogs(c.Context, c.Int("limit"))
			if err != nil {
				return err
			}
			for _, e := range entries {
				fmt.Printf("%s  %-9s  src=%s dst=%s %s\n",
					e.Timestamp.Format(time.RFC3339), e.Action, e.SourceEventID, e.DestinationEventID, e.Detail)
			}
			return nil
		},
	}
}

func setup(c *cli.Context) (*config.Config, *slog.Logger, error) {
	cfg, err := config.Load(c.String("config"))
	if err != nil {
		return nil, nil, err
	}
	return cfg, setupLogger(cfg.LogLevel), nil
}

func setupLogger(level string) *slog.Logger {
	var logLevel slog.Level
	switch strings.ToLower(level) {
	case "debug":
		logLevel = slog.LevelDebug
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel}))
}
