package models

import "time"

// DateLayout is the wire format for date-only event boundaries and for the
// CLI/adapter date-range arguments.
const DateLayout = "2006-01-02"

// EventTime is one boundary of an event. It is a two-shape union: either a
// date-only value (all-day events, Date set to a YYYY-MM-DD string) or an
// instant with an explicit timezone (DateTime plus TimeZone). Exactly one
// shape is populated; IsDate reports which.
type EventTime struct {
	Date     string    // "2006-01-02" when date-only, empty otherwise
	DateTime time.Time // zero when date-only
	TimeZone string    // IANA zone name, empty when date-only
}

// IsDate reports whether the boundary is a date-only value.
func (t EventTime) IsDate() bool { return t.Date != "" }

// DateOnly builds a date-only boundary from a calendar day.
func DateOnly(year int, month time.Month, day int) EventTime {
	return EventTime{Date: time.Date(year, month, day, 0, 0, 0, 0, time.UTC).Format(DateLayout)}
}

// Timed builds an instant boundary carrying its zone name.
func Timed(at time.Time, zone string) EventTime {
	return EventTime{DateTime: at, TimeZone: zone}
}

// AttendeeKind tags what sort of subject an attendee is.
type AttendeeKind string

const (
	AttendeeUser         AttendeeKind = "user"
	AttendeeOrganization AttendeeKind = "organization"
	AttendeeFacility     AttendeeKind = "facility"
)

// Attendee is one participant of a source event.
type Attendee struct {
	ID   string
	Name string
	Kind AttendeeKind
}

// Visibility tags how widely an event may be shown.
type Visibility string

const (
	VisibilityDefault    Visibility = "default"
	VisibilityRestricted Visibility = "restricted"
)

// SourceEvent is an immutable snapshot of one Garoon schedule event, fetched
// fresh each run. Only its ID and UpdatedAt are ever persisted.
type SourceEvent struct {
	ID         string
	Subject    string
	Category   string // event menu label, may be empty
	EventType  string // REGULAR, ALL_DAY, ...
	Notes      string
	Start      EventTime
	End        EventTime
	AllDay     bool
	Attendees  []Attendee
	Visibility Visibility
	UpdatedAt  time.Time
	CreatedAt  time.Time
	Location   string
}

// Metadata keys embedded in every destination event so reconciliation can
// recognize its own records without scanning titles.
const (
	MetaSourceEventID   = "sourceEventId"
	MetaSourceUpdatedAt = "sourceUpdatedAt"
)

// DestinationEvent is the canonical shape written to the destination
// calendar. ID is assigned by the destination on create.
type DestinationEvent struct {
	ID          string
	Title       string
	Description string
	Start       EventTime
	End         EventTime
	Location    string
	Visibility  Visibility
	Metadata    map[string]string
}

// SourceEventID returns the originating source event ID embedded in the
// metadata map, or "" for events this system did not create.
func (e *DestinationEvent) SourceEventID() string {
	return e.Metadata[MetaSourceEventID]
}

// ScopeKind selects how a scope ID is interpreted by the source service.
type ScopeKind string

const (
	ScopeUser         ScopeKind = "user"
	ScopeOrganization ScopeKind = "organization"
)

// Scope names one subject (a user or an organization) whose schedule is
// queried on the source side.
type Scope struct {
	Kind ScopeKind
	ID   string
}

func (s Scope) String() string { return string(s.Kind) + "/" + s.ID }

// SyncStats are the per-run counters. A fresh value is returned by every run;
// nothing here is shared between runs.
type SyncStats struct {
	Added   int
	Updated int
	Deleted int
	Errors  int
}
