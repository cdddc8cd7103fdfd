package destination

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/calendar/v3"
	"google.golang.org/api/googleapi"

	"github.com/seino/sync-garoon-calendar/internal/models"
)

func TestToGoogleEvent_TimedEvent(t *testing.T) {
	loc, err := time.LoadLocation("Asia/Tokyo")
	require.NoError(t, err)
	start := time.Date(2024, 6, 1, 9, 0, 0, 0, loc)

	ev := &models.DestinationEvent{
		Title:       "[Meeting] Planning",
		Description: "Agenda attached.",
		Location:    "Room A",
		Start:       models.Timed(start, "Asia/Tokyo"),
		End:         models.Timed(start.Add(time.Hour), "Asia/Tokyo"),
		Metadata: map[string]string{
			models.MetaSourceEventID:   "g-1",
			models.MetaSourceUpdatedAt: "2024-05-30T01:02:03Z",
		},
	}

	gev := toGoogleEvent(ev)
	assert.Equal(t, "[Meeting] Planning", gev.Summary)
	assert.Equal(t, "default", gev.Visibility)
	assert.Equal(t, start.Format(time.RFC3339), gev.Start.DateTime)
	assert.Equal(t, "Asia/Tokyo", gev.Start.TimeZone)
	assert.Empty(t, gev.Start.Date)
	require.NotNil(t, gev.ExtendedProperties)
	assert.Equal(t, "g-1", gev.ExtendedProperties.Private[models.MetaSourceEventID])
}

func TestToGoogleEvent_AllDayAndVisibility(t *testing.T) {
	ev := &models.DestinationEvent{
		Title:      "Holiday",
		Visibility: models.VisibilityRestricted,
		Start:      models.EventTime{Date: "2024-06-10"},
		End:        models.EventTime{Date: "2024-06-11"},
	}

	gev := toGoogleEvent(ev)
	assert.Equal(t, "private", gev.Visibility)
	assert.Equal(t, "2024-06-10", gev.Start.Date)
	assert.Empty(t, gev.Start.DateTime)
	assert.Nil(t, gev.ExtendedProperties)
}

func TestFromGoogleEvent_Roundtrip(t *testing.T) {
	src := &models.DestinationEvent{
		Title:      "Planning",
		Start:      models.Timed(time.Date(2024, 6, 1, 9, 0, 0, 0, time.UTC), "UTC"),
		End:        models.Timed(time.Date(2024, 6, 1, 10, 0, 0, 0, time.UTC), "UTC"),
		Visibility: models.VisibilityRestricted,
		Metadata:   map[string]string{models.MetaSourceEventID: "g-9"},
	}

	gev := toGoogleEvent(src)
	gev.Id = "dest-9"

	got, err := fromGoogleEvent(gev)
	require.NoError(t, err)
	assert.Equal(t, "dest-9", got.ID)
	assert.Equal(t, src.Title, got.Title)
	assert.Equal(t, models.VisibilityRestricted, got.Visibility)
	assert.True(t, src.Start.DateTime.Equal(got.Start.DateTime))
	assert.Equal(t, "g-9", got.SourceEventID())
}

func TestFromGoogleEvent_MissingBoundary(t *testing.T) {
	_, err := fromGoogleEvent(&calendar.Event{Id: "x", Summary: "broken"})
	require.Error(t, err)
}

func TestIsGoogleGone(t *testing.T) {
	assert.True(t, isGoogleGone(&googleapi.Error{Code: 404}))
	assert.True(t, isGoogleGone(&googleapi.Error{Code: 410}))
	assert.False(t, isGoogleGone(&googleapi.Error{Code: 500}))
	assert.False(t, isGoogleGone(errors.New("plain")))
}
