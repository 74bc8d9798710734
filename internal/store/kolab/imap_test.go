package kolab

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDedupeObjectsPrefersLiveRevision(t *testing.T) {
	// a replaced revision left behind by a server without UIDPLUS must
	// not shadow the live one, and soft-deleted events stay listed
	objects := dedupeObjects([]*Object{
		{UID: "a", ICS: "old", Deleted: true},
		{UID: "a", ICS: "new"},
		{UID: "b", ICS: "gone", Deleted: true},
	})
	require.Len(t, objects, 2)
	assert.Equal(t, "new", objects[0].ICS)
	assert.False(t, objects[0].Deleted)
	assert.True(t, objects[1].Deleted)
}

func TestDedupeObjectsKeepsLiveOverLaterDeleted(t *testing.T) {
	objects := dedupeObjects([]*Object{
		{UID: "a", ICS: "live"},
		{UID: "a", ICS: "stale", Deleted: true},
	})
	require.Len(t, objects, 1)
	assert.Equal(t, "live", objects[0].ICS)
}

func TestExtractICS(t *testing.T) {
	msg := "Subject: uid-1\r\nContent-Type: text/calendar\r\n\r\nBEGIN:VCALENDAR\r\nEND:VCALENDAR\r\n"
	assert.Equal(t, "BEGIN:VCALENDAR\r\nEND:VCALENDAR\r\n", extractICS(msg))
}

func TestFolderOwner(t *testing.T) {
	assert.Equal(t, "jane", folderOwner("Other Users/jane/Calendar"))
	assert.Equal(t, "jane", folderOwner("Other Users/jane"))
	assert.Empty(t, folderOwner("Calendar"))
	assert.Empty(t, folderOwner("Shared Folders/resources/Room A"))
}
