package destination

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"google.golang.org/api/calendar/v3"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"

	"github.com/seino/sync-garoon-calendar/internal/models"
)

// GoogleProvider writes events to one Google Calendar. The originating source
// event identity travels in the event's private extended properties, which is
// what lets reconciliation recognize its own events without scanning.
type GoogleProvider struct {
	service    *calendar.Service
	calendarID string
	logger     *slog.Logger
}

// NewGoogleProvider creates a provider over an authenticated HTTP client.
func NewGoogleProvider(ctx context.Context, logger *slog.Logger, client *http.Client, calendarID string) (*GoogleProvider, error) {
	service, err := calendar.NewService(ctx, option.WithHTTPClient(client))
	if err != nil {
		return nil, fmt.Errorf("failed to create calendar service: %w", err)
	}
	if calendarID == "" {
		calendarID = "primary"
	}
	return &GoogleProvider{service: service, calendarID: calendarID, logger: logger}, nil
}

func (g *GoogleProvider) Create(ctx context.Context, event *models.DestinationEvent) (string, error) {
	created, err := g.service.Events.Insert(g.calendarID, toGoogleEvent(event)).Context(ctx).Do()
	if err != nil {
		return "", fmt.Errorf("failed to create event: %w", err)
	}
	g.logger.Debug("Created destination event.", "id", created.Id, "title", event.Title)
	return created.Id, nil
}

func (g *GoogleProvider) Update(ctx context.Context, id string, event *models.DestinationEvent) error {
	if _, err := g.service.Events.Update(g.calendarID, id, toGoogleEvent(event)).Context(ctx).Do(); err != nil {
		return fmt.Errorf("failed to update event %s: %w", id, err)
	}
	g.logger.Debug("Updated destination event.", "id", id, "title", event.Title)
	return nil
}

// Delete removes an event. A missing event is a success: the goal state
// (no event at this id) already holds.
func (g *GoogleProvider) Delete(ctx context.Context, id string) error {
	err := g.service.Events.Delete(g.calendarID, id).Context(ctx).Do()
	if err != nil {
		if isGoogleGone(err) {
			g.logger.Debug("Destination event already absent on delete.", "id", id)
			return nil
		}
		return fmt.Errorf("failed to delete event %s: %w", id, err)
	}
	return nil
}

// Get reads an event back, returning (nil, nil) when it no longer exists.
// Google reports out-of-band deletions either as 404/410 or as a tombstone
// with status "cancelled"; both count as absent.
func (g *GoogleProvider) Get(ctx context.Context, id string) (*models.DestinationEvent, error) {
	item, err := g.service.Events.Get(g.calendarID, id).Context(ctx).Do()
	if err != nil {
		if isGoogleGone(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get event %s: %w", id, err)
	}
	if item.Status == "cancelled" {
		return nil, nil
	}
	return fromGoogleEvent(item)
}

func isGoogleGone(err error) bool {
	var gerr *googleapi.Error
	return errors.As(err, &gerr) && (gerr.Code == http.StatusNotFound || gerr.Code == http.StatusGone)
}

func toGoogleEvent(event *models.DestinationEvent) *calendar.Event {
	gev := &calendar.Event{
		Summary:     event.Title,
		Description: event.Description,
		Location:    event.Location,
		Start:       toGoogleTime(event.Start),
		End:         toGoogleTime(event.End),
	}
	if event.Visibility == models.VisibilityRestricted {
		gev.Visibility = "private"
	} else {
		gev.Visibility = "default"
	}
	if len(event.Metadata) > 0 {
		gev.ExtendedProperties = &calendar.EventExtendedProperties{Private: event.Metadata}
	}
	return gev
}

func toGoogleTime(t models.EventTime) *calendar.EventDateTime {
	if t.IsDate() {
		return &calendar.EventDateTime{Date: t.Date}
	}
	return &calendar.EventDateTime{
		DateTime: t.DateTime.Format(time.RFC3339),
		TimeZone: t.TimeZone,
	}
}

func fromGoogleEvent(item *calendar.Event) (*models.DestinationEvent, error) {
	start, err := fromGoogleTime(item.Start)
	if err != nil {
		return nil, fmt.Errorf("event %s: invalid start: %w", item.Id, err)
	}
	end, err := fromGoogleTime(item.End)
	if err != nil {
		return nil, fmt.Errorf("event %s: invalid end: %w", item.Id, err)
	}

	visibility := models.VisibilityDefault
	if item.Visibility == "private" {
		visibility = models.VisibilityRestricted
	}

	metadata := map[string]string{}
	if item.ExtendedProperties != nil && item.ExtendedProperties.Private != nil {
		metadata = item.ExtendedProperties.Private
	}

	return &models.DestinationEvent{
		ID:          item.Id,
		Title:       item.Summary,
		Description: item.Description,
		Start:       start,
		End:         end,
		Location:    item.Location,
		Visibility:  visibility,
		Metadata:    metadata,
	}, nil
}

func fromGoogleTime(t *calendar.EventDateTime) (models.EventTime, error) {
	if t == nil {
		return models.EventTime{}, fmt.Errorf("missing boundary")
	}
	if t.Date != "" {
		return models.EventTime{Date: t.Date}, nil
	}
	at, err := time.Parse(time.RFC3339, t.DateTime)
	if err != nil {
		return models.EventTime{}, fmt.Errorf("invalid dateTime %q: %w", t.DateTime, err)
	}
	return models.EventTime{DateTime: at, TimeZone: t.TimeZone}, nil
}
