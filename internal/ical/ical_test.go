package ical

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Acidburn0zzz/cubemail/internal/models"
)

func doc(lines ...string) string {
	all := append([]string{
		"BEGIN:VCALENDAR",
		"VERSION:2.0",
		"PRODID:-//Test//Test//EN",
	}, lines...)
	all = append(all, "END:VCALENDAR")
	return strings.Join(all, "\r\n") + "\r\n"
}

func TestImportBasicEvent(t *testing.T) {
	events, err := Import(doc(
		"BEGIN:VEVENT",
		"UID:evt-1@example.org",
		"DTSTART:20240315T100000Z",
		"DTEND:20240315T113000Z",
		"SUMMARY:Team meeting",
		"LOCATION:Room 4",
		"DESCRIPTION:Agenda\\nItem one\\, item two",
		"CATEGORIES:Work",
		"END:VEVENT",
	), time.UTC)
	require.NoError(t, err)
	require.Len(t, events, 1)

	ev := events[0]
	assert.Equal(t, "evt-1@example.org", ev.UID)
	assert.Equal(t, time.Date(2024, 3, 15, 10, 0, 0, 0, time.UTC), ev.Start.UTC())
	assert.Equal(t, time.Date(2024, 3, 15, 11, 30, 0, 0, time.UTC), ev.End.UTC())
	assert.Equal(t, "Team meeting", ev.Title)
	assert.Equal(t, "Room 4", ev.Location)
	assert.Equal(t, "Agenda\nItem one, item two", ev.Description)
	assert.Equal(t, "Work", ev.Categories)
	assert.False(t, ev.AllDay)
	assert.Equal(t, models.FreeBusyBusy, ev.FreeBusy)
	assert.Equal(t, 1, ev.Priority)
}

func TestTextEscapingSingleLayer(t *testing.T) {
	events, err := Import(doc(
		"BEGIN:VEVENT",
		"UID:esc-1",
		"DTSTART:20240315T120000Z",
		"DTEND:20240315T130000Z",
		`SUMMARY:Lunch\; bring snacks`,
		`DESCRIPTION:C:\\neat`,
		"END:VEVENT",
	), time.UTC)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, "Lunch; bring snacks", events[0].Title)
	assert.Equal(t, `C:\neat`, events[0].Description)

	events[0].Description = "Agenda\nItem one, item two; done"
	out := Export(events, "")
	assert.Contains(t, out, `DESCRIPTION:Agenda\nItem one\, item two\; done`)
	assert.Contains(t, out, `SUMMARY:Lunch\; bring snacks`)
}

func TestImportAllDay(t *testing.T) {
	events, err := Import(doc(
		"BEGIN:VEVENT",
		"UID:allday-1",
		"DTSTART;VALUE=DATE:20240315",
		"DTEND;VALUE=DATE:20240316",
		"SUMMARY:Company holiday",
		"END:VEVENT",
	), time.UTC)
	require.NoError(t, err)
	require.Len(t, events, 1)

	ev := events[0]
	assert.True(t, ev.AllDay)
	assert.Equal(t, time.Date(2024, 3, 15, 0, 0, 0, 0, time.UTC), ev.Start)
	// a one day event collapses to its start date plus the placeholder
	assert.True(t, ev.End.After(ev.Start))
	assert.Equal(t, time.March, ev.End.Month())
	assert.Equal(t, 15, ev.End.Day())
}

func TestImportMissingUIDGetsGenerated(t *testing.T) {
	events, err := Import(doc(
		"BEGIN:VEVENT",
		"DTSTART:20240315T100000Z",
		"DTEND:20240315T110000Z",
		"SUMMARY:Anonymous",
		"END:VEVENT",
	), time.UTC)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.NotEmpty(t, events[0].UID)
}

func TestImportRecurrenceWithExdate(t *testing.T) {
	events, err := Import(doc(
		"BEGIN:VEVENT",
		"UID:rec-1",
		"DTSTART:20240101T090000Z",
		"DTEND:20240101T100000Z",
		"SUMMARY:Standup",
		"RRULE:FREQ=WEEKLY;COUNT=10",
		"EXDATE:20240115T090000Z",
		"EXDATE:20240122T090000Z,20240129T090000Z",
		"END:VEVENT",
	), time.UTC)
	require.NoError(t, err)
	require.Len(t, events, 1)

	rec := events[0].Recurrence
	require.NotNil(t, rec)
	assert.Equal(t, "WEEKLY", rec.Freq)
	assert.Equal(t, 10, rec.Count)
	require.Len(t, rec.Exdates, 3)
	assert.True(t, rec.HasExdate(time.Date(2024, 1, 22, 9, 0, 0, 0, time.UTC)))
}

func TestImportAlarms(t *testing.T) {
	events, err := Import(doc(
		"BEGIN:VEVENT",
		"UID:alarm-1",
		"DTSTART:20240315T100000Z",
		"DTEND:20240315T110000Z",
		"SUMMARY:Dentist",
		"BEGIN:VALARM",
		"ACTION:DISPLAY",
		"TRIGGER:-PT15M",
		"END:VALARM",
		"END:VEVENT",
	), time.UTC)
	require.NoError(t, err)
	require.Len(t, events, 1)

	a := events[0].Alarm
	require.NotNil(t, a)
	assert.Equal(t, -15, a.Offset)
	assert.Equal(t, models.AlarmMinutes, a.Unit)
	assert.Equal(t, "DISPLAY", a.Action)
}

func TestImportAlarmRelatedEnd(t *testing.T) {
	events, err := Import(doc(
		"BEGIN:VEVENT",
		"UID:alarm-2",
		"DTSTART:20240315T100000Z",
		"DTEND:20240315T110000Z",
		"SUMMARY:Checkout",
		"BEGIN:VALARM",
		"ACTION:EMAIL",
		"TRIGGER;RELATED=END:PT1H",
		"END:VALARM",
		"END:VEVENT",
	), time.UTC)
	require.NoError(t, err)
	require.Len(t, events, 1)

	a := events[0].Alarm
	require.NotNil(t, a)
	assert.Equal(t, 1, a.Offset)
	assert.Equal(t, models.AlarmHours, a.Unit)
	assert.Equal(t, "EMAIL", a.Action)
}

func TestImportPriorityBands(t *testing.T) {
	for prio, want := range map[string]int{"1": 2, "4": 2, "5": 1, "6": 0, "9": 0} {
		events, err := Import(doc(
			"BEGIN:VEVENT",
			"UID:prio",
			"DTSTART:20240315T100000Z",
			"DTEND:20240315T110000Z",
			"SUMMARY:P",
			"PRIORITY:"+prio,
			"END:VEVENT",
		), time.UTC)
		require.NoError(t, err)
		assert.Equal(t, want, events[0].Priority, "PRIORITY:%s", prio)
	}
}

func TestImportAvailability(t *testing.T) {
	events, err := Import(doc(
		"BEGIN:VEVENT",
		"UID:fb-1",
		"DTSTART:20240315T100000Z",
		"DTEND:20240315T110000Z",
		"SUMMARY:Away",
		"TRANSP:OPAQUE",
		"X-MICROSOFT-CDO-BUSYSTATUS:OOF",
		"END:VEVENT",
	), time.UTC)
	require.NoError(t, err)
	assert.Equal(t, models.FreeBusyOutOfOffice, events[0].FreeBusy)

	events, err = Import(doc(
		"BEGIN:VEVENT",
		"UID:fb-2",
		"DTSTART:20240315T100000Z",
		"DTEND:20240315T110000Z",
		"SUMMARY:Slack time",
		"TRANSP:TRANSPARENT",
		"END:VEVENT",
	), time.UTC)
	require.NoError(t, err)
	assert.Equal(t, models.FreeBusyFree, events[0].FreeBusy)
}

func TestExportImportRoundTrip(t *testing.T) {
	until := time.Date(2024, 12, 31, 9, 0, 0, 0, time.UTC)
	src := &models.Event{
		UID:         "rt-1@example.org",
		Start:       time.Date(2024, 3, 4, 9, 0, 0, 0, time.UTC),
		End:         time.Date(2024, 3, 4, 9, 30, 0, 0, time.UTC),
		Title:       "Weekly sync",
		Description: "Notes,\nwith punctuation; intact",
		Location:    "HQ",
		Categories:  "Work",
		FreeBusy:    models.FreeBusyTentative,
		Priority:    2,
		Sensitivity: models.SensitivityPrivate,
		Attendees: []models.Attendee{
			{Name: "John Doe", Email: "john@example.org", Role: "ORGANIZER", Status: "NEEDS-ACTION"},
			{Name: "Jane Doe", Email: "jane@example.org", Role: "REQ-PARTICIPANT", Status: "ACCEPTED"},
		},
		Alarm: &models.Alarm{Offset: -30, Unit: models.AlarmMinutes, Action: "DISPLAY"},
		Recurrence: &models.Recurrence{
			Freq:    "WEEKLY",
			ByDay:   "MO",
			Until:   &until,
			Exdates: []time.Time{time.Date(2024, 4, 1, 9, 0, 0, 0, time.UTC)},
		},
	}

	events, err := Import(Export([]*models.Event{src}, ""), time.UTC)
	require.NoError(t, err)
	require.Len(t, events, 1)

	got := events[0]
	assert.Equal(t, src.UID, got.UID)
	assert.True(t, got.Start.Equal(src.Start))
	assert.True(t, got.End.Equal(src.End))
	assert.Equal(t, src.Title, got.Title)
	assert.Equal(t, src.Description, got.Description)
	assert.Equal(t, src.Location, got.Location)
	assert.Equal(t, src.Categories, got.Categories)
	assert.Equal(t, src.FreeBusy, got.FreeBusy)
	assert.Equal(t, src.Priority, got.Priority)
	assert.Equal(t, src.Sensitivity, got.Sensitivity)
	assert.Equal(t, src.Attendees, got.Attendees)
	require.NotNil(t, got.Alarm)
	assert.Equal(t, src.Alarm.Offset, got.Alarm.Offset)
	assert.Equal(t, src.Alarm.Unit, got.Alarm.Unit)
	require.NotNil(t, got.Recurrence)
	assert.Equal(t, "WEEKLY", got.Recurrence.Freq)
	assert.Equal(t, "MO", got.Recurrence.ByDay)
	require.NotNil(t, got.Recurrence.Until)
	assert.True(t, got.Recurrence.Until.Equal(until))
	require.Len(t, got.Recurrence.Exdates, 1)
}

func TestExportAllDayUsesDateValues(t *testing.T) {
	src := &models.Event{
		UID:    "ad-1",
		Start:  time.Date(2024, 3, 15, 0, 0, 0, 0, time.UTC),
		End:    time.Date(2024, 3, 15, 1, 0, 0, 0, time.UTC),
		AllDay: true,
		Title:  "Holiday",
	}

	out := Export([]*models.Event{src}, "")
	assert.Contains(t, out, "DTSTART;VALUE=DATE:20240315")
	assert.Contains(t, out, "DTEND;VALUE=DATE:20240316")

	events, err := Import(out, time.UTC)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.True(t, events[0].AllDay)
	assert.True(t, events[0].Start.Equal(src.Start))
}

func TestExportCancelledStatus(t *testing.T) {
	src := &models.Event{
		UID:       "st-1",
		Start:     time.Date(2024, 3, 15, 10, 0, 0, 0, time.UTC),
		End:       time.Date(2024, 3, 15, 11, 0, 0, 0, time.UTC),
		Title:     "Dropped",
		Cancelled: true,
		FreeBusy:  models.FreeBusyBusy,
	}

	out := Export([]*models.Event{src}, "CANCEL")
	assert.Contains(t, out, "STATUS:CANCELLED")
	assert.Contains(t, out, "METHOD:CANCEL")

	events, err := Import(out, time.UTC)
	require.NoError(t, err)
	assert.True(t, events[0].Cancelled)
}
