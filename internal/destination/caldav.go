package destination

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"path"
	"time"

	"github.com/emersion/go-ical"
	"github.com/emersion/go-webdav"
	"github.com/emersion/go-webdav/caldav"
	"github.com/google/uuid"

	"github.com/seino/sync-garoon-calendar/internal/models"
)

// iCal X- properties carrying the reconciliation metadata. CalDAV has no
// extended-properties map, so the source identity rides on the VEVENT itself.
const (
	propSourceID      = "X-SGC-SOURCE-ID"
	propSourceUpdated = "X-SGC-SOURCE-UPDATED"
)

const icalDateLayout = "20060102"

// CalDAVProvider writes events to a single collection on a CalDAV server.
// Event IDs are the iCal UIDs; the object path is derived from the UID.
type CalDAVProvider struct {
	client       *caldav.Client
	calendarPath string
	logger       *slog.Logger
}

// NewCalDAVProvider connects to a CalDAV server with basic auth and verifies
// that the configured calendar collection exists.
func NewCalDAVProvider(ctx context.Context, logger *slog.Logger, serverURL, username, password, calendarPath string) (*CalDAVProvider, error) {
	var httpClient webdav.HTTPClient = http.DefaultClient
	if username != "" && password != "" {
		httpClient = webdav.HTTPClientWithBasicAuth(httpClient, username, password)
	}

	client, err := caldav.NewClient(httpClient, serverURL)
	if err != nil {
		return nil, fmt.Errorf("failed to create caldav client: %w", err)
	}

	p := &CalDAVProvider{client: client, calendarPath: calendarPath, logger: logger}

	if calendarPath == "" {
		return nil, fmt.Errorf("caldav calendar path is required")
	}
	if _, err := client.FindCalendars(ctx, path.Dir(path.Clean(calendarPath))); err != nil {
		return nil, fmt.Errorf("failed to reach caldav server: %w", err)
	}
	return p, nil
}

func (c *CalDAVProvider) Create(ctx context.Context, event *models.DestinationEvent) (string, error) {
	uid := uuid.New().String()
	if _, err := c.client.PutCalendarObject(ctx, c.objectPath(uid), c.toCalendar(uid, event)); err != nil {
		return "", fmt.Errorf("failed to create event: %w", err)
	}
	c.logger.Debug("Created destination event.", "uid", uid, "title", event.Title)
	return uid, nil
}

func (c *CalDAVProvider) Update(ctx context.Context, id string, event *models.DestinationEvent) error {
	if _, err := c.client.PutCalendarObject(ctx, c.objectPath(id), c.toCalendar(id, event)); err != nil {
		return fmt.Errorf("failed to update event %s: %w", id, err)
	}
	c.logger.Debug("Updated destination event.", "uid", id, "title", event.Title)
	return nil
}

// Delete removes the event object; a 404 means the goal state already holds.
func (c *CalDAVProvider) Delete(ctx context.Context, id string) error {
	if err := c.client.RemoveAll(ctx, c.objectPath(id)); err != nil {
		if isNotFound(err) {
			c.logger.Debug("Destination event already absent on delete.", "uid", id)
			return nil
		}
		return fmt.Errorf("failed to delete event %s: %w", id, err)
	}
	return nil
}

// Get reads an event object back, returning (nil, nil) when absent.
func (c *CalDAVProvider) Get(ctx context.Context, id string) (*models.DestinationEvent, error) {
	obj, err := c.client.GetCalendarObject(ctx, c.objectPath(id))
	if err != nil {
		if isNotFound(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get event %s: %w", id, err)
	}
	return fromCalendarObject(id, obj.Data)
}

func (c *CalDAVProvider) objectPath(uid string) string {
	return path.Join(c.calendarPath, uid+".ics")
}

func isNotFound(err error) bool {
	var httpErr *webdav.HTTPError
	return errors.As(err, &httpErr) && httpErr.Code == http.StatusNotFound
}

func (c *CalDAVProvider) toCalendar(uid string, event *models.DestinationEvent) *ical.Calendar {
	ve := ical.NewComponent(ical.CompEvent)
	ve.Props.SetText(ical.PropUID, uid)
	ve.Props.SetText(ical.PropSummary, event.Title)
	ve.Props.SetDateTime(ical.PropDateTimeStamp, time.Now().UTC())
	setEventTime(ve, ical.PropDateTimeStart, event.Start)
	setEventTime(ve, ical.PropDateTimeEnd, event.End)

	if event.Description != "" {
		ve.Props.SetText(ical.PropDescription, event.Description)
	}
	if event.Location != "" {
		ve.Props.SetText(ical.PropLocation, event.Location)
	}
	if event.Visibility == models.VisibilityRestricted {
		ve.Props.SetText(ical.PropClass, "PRIVATE")
	} else {
		ve.Props.SetText(ical.PropClass, "PUBLIC")
	}
	if v := event.Metadata[models.MetaSourceEventID]; v != "" {
		ve.Props.SetText(propSourceID, v)
	}
	if v := event.Metadata[models.MetaSourceUpdatedAt]; v != "" {
		ve.Props.SetText(propSourceUpdated, v)
	}

	cal := ical.NewCalendar()
	cal.Props.SetText(ical.PropVersion, "2.0")
	cal.Props.SetText(ical.PropProductID, "-//sync-garoon-calendar//EN")
	cal.Children = append(cal.Children, ve)
	return cal
}

func setEventTime(ve *ical.Component, name string, t models.EventTime) {
	p := ical.NewProp(name)
	if t.IsDate() {
		day, _ := time.Parse(models.DateLayout, t.Date)
		p.SetValueType(ical.ValueDate)
		p.Value = day.Format(icalDateLayout)
	} else {
		p.SetDateTime(t.DateTime)
	}
	ve.Props.Set(p)
}

func fromCalendarObject(uid string, cal *ical.Calendar) (*models.DestinationEvent, error) {
	var ve *ical.Component
	for _, comp := range cal.Children {
		if comp.Name == ical.CompEvent {
			ve = comp
			break
		}
	}
	if ve == nil {
		return nil, fmt.Errorf("event %s: calendar object has no VEVENT", uid)
	}

	start, err := eventTimeProp(ve, ical.PropDateTimeStart)
	if err != nil {
		return nil, fmt.Errorf("event %s: %w", uid, err)
	}
	end, err := eventTimeProp(ve, ical.PropDateTimeEnd)
	if err != nil {
		return nil, fmt.Errorf("event %s: %w", uid, err)
	}

	visibility := models.VisibilityDefault
	if textProp(ve, ical.PropClass) == "PRIVATE" {
		visibility = models.VisibilityRestricted
	}

	metadata := map[string]string{}
	if v := textProp(ve, propSourceID); v != "" {
		metadata[models.MetaSourceEventID] = v
	}
	if v := textProp(ve, propSourceUpdated); v != "" {
		metadata[models.MetaSourceUpdatedAt] = v
	}

	return &models.DestinationEvent{
		ID:          uid,
		Title:       textProp(ve, ical.PropSummary),
		Description: textProp(ve, ical.PropDescription),
		Start:       start,
		End:         end,
		Location:    textProp(ve, ical.PropLocation),
		Visibility:  visibility,
		Metadata:    metadata,
	}, nil
}

func eventTimeProp(ve *ical.Component, name string) (models.EventTime, error) {
	prop := ve.Props.Get(name)
	if prop == nil {
		return models.EventTime{}, fmt.Errorf("missing %s", name)
	}
	if prop.ValueType() == ical.ValueDate {
		day, err := time.Parse(icalDateLayout, prop.Value)
		if err != nil {
			return models.EventTime{}, fmt.Errorf("invalid %s %q: %w", name, prop.Value, err)
		}
		return models.EventTime{Date: day.Format(models.DateLayout)}, nil
	}
	at, err := prop.DateTime(time.UTC)
	if err != nil {
		return models.EventTime{}, fmt.Errorf("invalid %s: %w", name, err)
	}
	return models.EventTime{DateTime: at, TimeZone: at.Location().String()}, nil
}

func textProp(ve *ical.Component, name string) string {
	prop := ve.Props.Get(name)
	if prop == nil {
		return ""
	}
	return prop.Value
}
