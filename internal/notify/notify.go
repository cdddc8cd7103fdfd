// Package notify delivers end-of-run summaries and error reports to a
// webhook. The sink is an external collaborator: failures here are logged by
// the caller, never allowed to fail a sync run retroactively.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"log/slog"

	"github.com/seino/sync-garoon-calendar/internal/models"
)

// Notifier receives either a final run summary or an error report.
type Notifier interface {
	Summary(ctx context.Context, stats models.SyncStats) error
	Error(ctx context.Context, title, message string) error
}

// New builds the notifier selected by configuration. A misconfigured webhook
// URL is a setup error (run-aborting); mode "off" yields a no-op sink.
func New(logger *slog.Logger, mode, webhookURL string) (Notifier, error) {
	if mode == "" || mode == "off" {
		return noop{}, nil
	}
	u, err := url.Parse(webhookURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("invalid notify webhook URL %q", webhookURL)
	}
	return &Webhook{
		url:        webhookURL,
		onlyErrors: mode == "on-error",
		httpClient: &http.Client{Timeout: 10 * time.Second},
		logger:     logger,
	}, nil
}

// Disabled returns a sink that drops everything.
func Disabled() Notifier { return noop{} }

type noop struct{}

func (noop) Summary(context.Context, models.SyncStats) error { return nil }
func (noop) Error(context.Context, string, string) error     { return nil }

// Webhook posts Slack-style {title, text} JSON payloads.
type Webhook struct {
	url        string
	onlyErrors bool
	httpClient *http.Client
	logger     *slog.Logger
}

type payload struct {
	Title string `json:"title"`
	Text  string `json:"text"`
}

// Summary reports the aggregate counters of a completed run. In on-error
// mode a clean run is not reported.
func (w *Webhook) Summary(ctx context.Context, stats models.SyncStats) error {
	if w.onlyErrors && stats.Errors == 0 {
		return nil
	}
	text := fmt.Sprintf("added %d, updated %d, deleted %d, errors %d",
		stats.Added, stats.Updated, stats.Deleted, stats.Errors)
	return w.post(ctx, payload{Title: "Calendar sync completed", Text: text})
}

// Error reports a run-aborting failure. Sent in every mode except off.
func (w *Webhook) Error(ctx context.Context, title, message string) error {
	return w.post(ctx, payload{Title: title, Text: message})
}

func (w *Webhook) post(ctx context.Context, p payload) error {
	body, err := json.Marshal(p)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := w.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to deliver notification: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("notification webhook returned status %d", resp.StatusCode)
	}
	w.logger.Debug("Delivered notification.", "title", p.Title)
	return nil
}
