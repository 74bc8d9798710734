package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAttendeeRoundTrip(t *testing.T) {
	attendees := []Attendee{
		{Name: "John Doe", Email: "john@example.org", Role: "ORGANIZER", Status: "ACCEPTED"},
		{Name: `Jane "JD" Doe`, Email: "jane@example.org", Role: "REQ-PARTICIPANT", Status: "NEEDS-ACTION"},
		{Email: "anon@example.org", Role: "OPT-PARTICIPANT", Status: "TENTATIVE"},
	}

	got := ParseAttendees(FormatAttendees(attendees))
	require.Len(t, got, 3)
	assert.Equal(t, attendees, got)
}

func TestFormatAttendeesSkipsEmptyEntries(t *testing.T) {
	block := FormatAttendees([]Attendee{{}, {Name: "Solo", Email: "solo@example.org"}})
	got := ParseAttendees(block)
	require.Len(t, got, 1)
	assert.Equal(t, "Solo", got[0].Name)
}

func TestParseAttendeesEmpty(t *testing.T) {
	assert.Nil(t, ParseAttendees(""))
}

func TestAttendeeQuotedSemicolons(t *testing.T) {
	attendees := []Attendee{{Name: "Doe; John", Email: "john@example.org", Role: "CHAIR", Status: "ACCEPTED"}}
	got := ParseAttendees(FormatAttendees(attendees))
	require.Len(t, got, 1)
	assert.Equal(t, "Doe; John", got[0].Name)
}
