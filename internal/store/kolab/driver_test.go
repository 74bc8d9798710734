package kolab

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Acidburn0zzz/cubemail/internal/models"
	"github.com/Acidburn0zzz/cubemail/internal/store"
)

func testSession() *store.Session {
	return &store.Session{UserID: 7, Username: "john.doe"}
}

func seedEvent(t *testing.T, d *Driver, sess *store.Session, ev *models.Event) string {
	t.Helper()
	id, err := d.InsertEvent(context.Background(), sess, ev)
	require.NoError(t, err)
	return id
}

func TestListCalendars(t *testing.T) {
	storage := NewMemoryStorage("Calendar", "Other Users/jane/Calendar")
	storage.MarkReadOnly("Other Users/jane/Calendar")
	d := NewDriver(storage, nil)

	calendars, err := d.ListCalendars(context.Background(), testSession())
	require.NoError(t, err)
	require.Len(t, calendars, 2)

	byName := map[string]*models.Calendar{}
	for _, cal := range calendars {
		byName[cal.Name] = cal
		assert.Equal(t, FolderID(cal.Name), cal.ID, "id must not leak the folder path")
	}
	require.Contains(t, byName, "Calendar")
	assert.False(t, byName["Calendar"].ReadOnly)
}

func TestCalendarFolderLifecycle(t *testing.T) {
	storage := NewMemoryStorage("Calendar")
	d := NewDriver(storage, nil)
	sess := testSession()
	ctx := context.Background()

	id, err := d.CreateCalendar(ctx, sess, &models.Calendar{Name: "Projects", Color: "0000cc", ShowAlarms: true})
	require.NoError(t, err)
	assert.Equal(t, FolderID("Projects"), id)

	calendars, err := d.ListCalendars(ctx, sess)
	require.NoError(t, err)
	require.Len(t, calendars, 2)

	// metadata-capable storage carries the color
	var projects *models.Calendar
	for _, cal := range calendars {
		if cal.ID == id {
			projects = cal
		}
	}
	require.NotNil(t, projects)
	assert.Equal(t, "0000cc", projects.Color)

	require.NoError(t, d.RemoveCalendar(ctx, sess, id))
	calendars, err = d.ListCalendars(ctx, sess)
	require.NoError(t, err)
	assert.Len(t, calendars, 1)
}

func TestInsertIntoReadOnlyCalendarFails(t *testing.T) {
	storage := NewMemoryStorage("Shared Folders/team")
	storage.MarkReadOnly("Shared Folders/team")
	d := NewDriver(storage, nil)

	_, err := d.InsertEvent(context.Background(), testSession(), &models.Event{
		Title: "Nope",
		Start: time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC),
		End:   time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC),
	})
	assert.Error(t, err)
}

func TestGetEventBySyntheticID(t *testing.T) {
	storage := NewMemoryStorage("Calendar")
	d := NewDriver(storage, nil)
	sess := testSession()
	start := time.Date(2024, 1, 1, 9, 0, 0, 0, time.UTC)

	uid := seedEvent(t, d, sess, &models.Event{
		Title:      "Review",
		Start:      start,
		End:        start.Add(time.Hour),
		Recurrence: &models.Recurrence{Freq: "WEEKLY", Count: 5},
	})

	occ, err := d.GetEvent(context.Background(), sess, uid+"-2")
	require.NoError(t, err)
	assert.Equal(t, time.Date(2024, 1, 15, 9, 0, 0, 0, time.UTC), occ.Start.UTC())
	assert.Equal(t, 2, occ.Instance)
	assert.Equal(t, uid, occ.RecurrenceID)
	assert.Nil(t, occ.Recurrence)

	_, err = d.GetEvent(context.Background(), sess, uid+"-99")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestLoadEventsFiltersAndSearches(t *testing.T) {
	storage := NewMemoryStorage("Calendar", "Projects")
	d := NewDriver(storage, nil)
	sess := testSession()
	ctx := context.Background()
	start := time.Date(2024, 6, 3, 14, 0, 0, 0, time.UTC)

	seedEvent(t, d, sess, &models.Event{
		Calendar: FolderID("Calendar"),
		Title:    "Dentist appointment",
		Start:    start,
		End:      start.Add(time.Hour),
	})
	seedEvent(t, d, sess, &models.Event{
		Calendar: FolderID("Projects"),
		Title:    "Sprint planning",
		Start:    start.Add(2 * time.Hour),
		End:      start.Add(3 * time.Hour),
	})

	rangeStart := start.Add(-time.Hour)
	rangeEnd := start.Add(6 * time.Hour)

	all, err := d.LoadEvents(ctx, sess, rangeStart, rangeEnd, "", nil)
	require.NoError(t, err)
	assert.Len(t, all, 2)

	onlyProjects, err := d.LoadEvents(ctx, sess, rangeStart, rangeEnd, "", []string{FolderID("Projects")})
	require.NoError(t, err)
	require.Len(t, onlyProjects, 1)
	assert.Equal(t, "Sprint planning", onlyProjects[0].Title)

	found, err := d.LoadEvents(ctx, sess, rangeStart, rangeEnd, "dentist", nil)
	require.NoError(t, err)
	require.Len(t, found, 1)
	assert.Equal(t, "Dentist appointment", found[0].Title)
}

func TestUpdateExceptionKeepsMaster(t *testing.T) {
	storage := NewMemoryStorage("Calendar")
	d := NewDriver(storage, nil)
	sess := testSession()
	ctx := context.Background()
	start := time.Date(2024, 1, 1, 9, 0, 0, 0, time.UTC)

	uid := seedEvent(t, d, sess, &models.Event{
		Title:      "Standup",
		Start:      start,
		End:        start.Add(30 * time.Minute),
		Recurrence: &models.Recurrence{Freq: "DAILY", Count: 5},
	})

	occ, err := d.GetEvent(ctx, sess, uid+"-2")
	require.NoError(t, err)

	ex := occ.Clone()
	ex.Title = "Standup (retro)"
	require.NoError(t, d.UpdateEvent(ctx, sess, ex))

	events, err := d.LoadEvents(ctx, sess, start, start.AddDate(0, 0, 10), "", nil)
	require.NoError(t, err)
	require.Len(t, events, 5)

	var replaced int
	for _, ev := range events {
		if ev.Title == "Standup (retro)" {
			replaced++
			assert.Equal(t, 2, ev.Instance)
		}
	}
	assert.Equal(t, 1, replaced)

	master, err := d.GetEvent(ctx, sess, uid)
	require.NoError(t, err)
	assert.Equal(t, "Standup", master.Title)
}

func TestPendingAlarmsWithoutDatabase(t *testing.T) {
	storage := NewMemoryStorage("Calendar")
	d := NewDriver(storage, nil)
	sess := testSession()
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Minute)

	// due: starts in 10 minutes with a 15 minute lead
	seedEvent(t, d, sess, &models.Event{
		Title: "Soon",
		Start: now.Add(10 * time.Minute),
		End:   now.Add(40 * time.Minute),
		Alarm: &models.Alarm{Offset: -15, Unit: models.AlarmMinutes, Action: "DISPLAY"},
	})
	// not due yet: a day away
	seedEvent(t, d, sess, &models.Event{
		Title: "Later",
		Start: now.Add(24 * time.Hour),
		End:   now.Add(25 * time.Hour),
		Alarm: &models.Alarm{Offset: -15, Unit: models.AlarmMinutes, Action: "DISPLAY"},
	})

	pending, err := d.PendingAlarms(ctx, sess, now, nil)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, "Soon", pending[0].Title)
}

func TestAttachmentsTravelWithTheEvent(t *testing.T) {
	d := NewDriver(NewMemoryStorage("Calendar"), nil)
	sess := testSession()
	ctx := context.Background()

	start := time.Date(2024, 2, 1, 14, 0, 0, 0, time.UTC)
	payload := []byte("%PDF-1.4 minutes")
	uid := seedEvent(t, d, sess, &models.Event{
		Title: "Board meeting",
		Start: start,
		End:   start.Add(time.Hour),
		Attachments: []*models.Attachment{
			{Name: "minutes.pdf", MimeType: "application/pdf", Data: payload},
		},
	})

	ev, err := d.GetEvent(ctx, sess, uid)
	require.NoError(t, err)

	atts, err := d.ListAttachments(ctx, sess, ev)
	require.NoError(t, err)
	require.Len(t, atts, 1)
	assert.Equal(t, "minutes.pdf", atts[0].Name)
	assert.Equal(t, "application/pdf", atts[0].MimeType)
	assert.Equal(t, int64(len(payload)), atts[0].Size)
	assert.NotEmpty(t, atts[0].ID, "stored attachments are content addressed")

	body, err := d.GetAttachmentBody(ctx, sess, atts[0].ID, ev)
	require.NoError(t, err)
	assert.Equal(t, payload, body)

	_, err = d.GetAttachment(ctx, sess, "no-such-id", ev)
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestCategoriesAreImmutable(t *testing.T) {
	d := NewDriver(NewMemoryStorage("Calendar"), nil)
	sess := testSession()
	ctx := context.Background()

	palette, err := d.ListCategories(ctx, sess)
	require.NoError(t, err)
	assert.NotEmpty(t, palette)

	assert.ErrorIs(t, d.AddCategory(ctx, sess, "New", "123456"), store.ErrImmutableCategories)
	assert.ErrorIs(t, d.ReplaceCategory(ctx, sess, "Work", "Job", "123456"), store.ErrImmutableCategories)
	assert.ErrorIs(t, d.RemoveCategory(ctx, sess, "Work"), store.ErrImmutableCategories)
	assert.True(t, d.Capabilities().CategoriesImmutable)
}

func TestSplitSyntheticID(t *testing.T) {
	uid, n, ok := splitSyntheticID("abc-123-4")
	assert.True(t, ok)
	assert.Equal(t, "abc-123", uid)
	assert.Equal(t, 4, n)

	_, _, ok = splitSyntheticID("plain")
	assert.False(t, ok)
	_, _, ok = splitSyntheticID("trailing-")
	assert.False(t, ok)
	_, _, ok = splitSyntheticID("zero-0")
	assert.False(t, ok)
}
