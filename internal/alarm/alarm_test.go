package alarm

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Acidburn0zzz/cubemail/internal/models"
)

func TestParseRelative(t *testing.T) {
	a, err := Parse("-15M:DISPLAY")
	require.NoError(t, err)
	assert.Equal(t, -15, a.Offset)
	assert.Equal(t, models.AlarmMinutes, a.Unit)
	assert.Equal(t, ActionDisplay, a.Action)

	a, err = Parse("+1D:EMAIL")
	require.NoError(t, err)
	assert.Equal(t, 1, a.Offset)
	assert.Equal(t, models.AlarmDays, a.Unit)
	assert.Equal(t, ActionEmail, a.Action)
}

func TestParseAbsolute(t *testing.T) {
	a, err := Parse("@1704103200:EMAIL")
	require.NoError(t, err)
	require.NotNil(t, a.Absolute)
	assert.Equal(t, int64(1704103200), a.Absolute.Unix())
	assert.Equal(t, ActionEmail, a.Action)
}

func TestParseDefaultsActionToDisplay(t *testing.T) {
	a, err := Parse("-2H")
	require.NoError(t, err)
	assert.Equal(t, ActionDisplay, a.Action)
	assert.Equal(t, -2, a.Offset)
	assert.Equal(t, models.AlarmHours, a.Unit)
}

func TestParseEmptyAndMalformed(t *testing.T) {
	a, err := Parse("")
	require.NoError(t, err)
	assert.Nil(t, a)

	for _, s := range []string{"15M:DISPLAY", "-15X:DISPLAY", "@later:EMAIL", "soon"} {
		_, err := Parse(s)
		assert.Error(t, err, s)
	}
}

func TestFormatRoundTrip(t *testing.T) {
	for _, s := range []string{"-15M:DISPLAY", "+1D:EMAIL", "@1704103200:EMAIL"} {
		a, err := Parse(s)
		require.NoError(t, err)
		assert.Equal(t, s, Format(a))
	}
	assert.Equal(t, "", Format(nil))
}

func TestComputeNotifyAt(t *testing.T) {
	start := time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC)
	end := time.Date(2024, 1, 1, 11, 0, 0, 0, time.UTC)
	now := time.Date(2023, 12, 31, 0, 0, 0, 0, time.UTC)

	got := ComputeTriggerNotifyAt("-15M:DISPLAY", start, end, now)
	require.NotNil(t, got)
	assert.Equal(t, time.Date(2024, 1, 1, 9, 45, 0, 0, time.UTC), *got)

	got = ComputeTriggerNotifyAt("+1H:DISPLAY", start, end, now)
	require.NotNil(t, got)
	assert.Equal(t, time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC), *got)

	got = ComputeTriggerNotifyAt("+1D:EMAIL", start, end, now)
	require.NotNil(t, got)
	assert.Equal(t, time.Date(2024, 1, 2, 11, 0, 0, 0, time.UTC), *got)

	got = ComputeTriggerNotifyAt("@1704103200:EMAIL", start, end, now)
	require.NotNil(t, got)
	assert.Equal(t, int64(1704103200), got.Unix())
}

func TestComputeNotifyAtSkipsStartedEvents(t *testing.T) {
	start := time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC)
	end := start.Add(time.Hour)
	now := start.Add(time.Minute)

	assert.Nil(t, ComputeTriggerNotifyAt("-15M:DISPLAY", start, end, now))
	// malformed triggers degrade to no alarm
	assert.Nil(t, ComputeTriggerNotifyAt("bogus", start, end, now.Add(-time.Hour)))
}

func TestTriggerTimeIgnoresNow(t *testing.T) {
	start := time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC)
	end := start.Add(time.Hour)
	a := &models.Alarm{Offset: -15, Unit: models.AlarmMinutes, Action: ActionDisplay}

	got := TriggerTime(a, start, end)
	require.NotNil(t, got)
	assert.Equal(t, start.Add(-15*time.Minute), *got)

	assert.Nil(t, TriggerTime(nil, start, end))
}
