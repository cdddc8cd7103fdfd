package syncer

import (
	"fmt"
	"strings"
	"time"

	"github.com/seino/sync-garoon-calendar/internal/models"
)

// Translate converts a source event into the destination shape, embedding the
// source identity and last-modified timestamp in the metadata map.
//
// An event is treated as all-day when the source says so explicitly (flag or
// event type), when either boundary is already date-only, or when a timed
// event spans midnight-to-midnight / midnight-to-23:59:59 — the shape some
// sources use to encode all-day events. Destination calendars treat the end
// date of an all-day event as exclusive, so the end date is advanced by one
// calendar day.
func Translate(src models.SourceEvent, defaultTZ string) (*models.DestinationEvent, error) {
	dst := &models.DestinationEvent{
		Title:       title(src),
		Description: description(src),
		Location:    src.Location,
		Visibility:  src.Visibility,
		Metadata: map[string]string{
			models.MetaSourceEventID:   src.ID,
			models.MetaSourceUpdatedAt: src.UpdatedAt.UTC().Format(time.RFC3339),
		},
	}

	if isAllDay(src) {
		startDay, err := boundaryDate(src.Start)
		if err != nil {
			return nil, fmt.Errorf("translate event %s: start: %w", src.ID, err)
		}
		endDay, err := boundaryDate(src.End)
		if err != nil {
			return nil, fmt.Errorf("translate event %s: end: %w", src.ID, err)
		}
		dst.Start = models.EventTime{Date: startDay.Format(models.DateLayout)}
		dst.End = models.EventTime{Date: endDay.AddDate(0, 0, 1).Format(models.DateLayout)}
		return dst, nil
	}

	dst.Start = timedBoundary(src.Start, defaultTZ)
	dst.End = timedBoundary(src.End, defaultTZ)
	return dst, nil
}

func isAllDay(src models.SourceEvent) bool {
	if src.AllDay || src.EventType == "ALL_DAY" {
		return true
	}
	if src.Start.IsDate() || src.End.IsDate() {
		return true
	}
	return isMidnight(src.Start.DateTime) && (isMidnight(src.End.DateTime) || isEndOfDay(src.End.DateTime))
}

func isMidnight(t time.Time) bool {
	h, m, s := t.Clock()
	return h == 0 && m == 0 && s == 0
}

func isEndOfDay(t time.Time) bool {
	h, m, s := t.Clock()
	return h == 23 && m == 59 && s == 59
}

// boundaryDate resolves a boundary to its calendar day, using the boundary's
// own zone for timed values.
func boundaryDate(t models.EventTime) (time.Time, error) {
	if t.IsDate() {
		day, err := time.Parse(models.DateLayout, t.Date)
		if err != nil {
			return time.Time{}, fmt.Errorf("invalid date %q: %w", t.Date, err)
		}
		return day, nil
	}
	y, m, d := t.DateTime.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC), nil
}

func timedBoundary(t models.EventTime, defaultTZ string) models.EventTime {
	zone := t.TimeZone
	if zone == "" {
		zone = defaultTZ
	}
	return models.EventTime{DateTime: t.DateTime, TimeZone: zone}
}

func title(src models.SourceEvent) string {
	if src.Category == "" {
		return src.Subject
	}
	return fmt.Sprintf("[%s] %s", src.Category, src.Subject)
}

// description carries the notes plus an informational attendee summary. The
// destination adapter runs without delegated invite rights, so individual
// attendees are listed by name rather than invited.
func description(src models.SourceEvent) string {
	var names []string
	for _, a := range src.Attendees {
		if a.Kind == models.AttendeeUser && a.Name != "" {
			names = append(names, a.Name)
		}
	}

	switch {
	case len(names) == 0:
		return src.Notes
	case src.Notes == "":
		return "Attendees: " + strings.Join(names, ", ")
	default:
		return src.Notes + "\n\nAttendees: " + strings.Join(names, ", ")
	}
}
