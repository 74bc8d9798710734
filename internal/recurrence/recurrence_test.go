package recurrence

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Acidburn0zzz/cubemail/internal/models"
)

func collect(e *Expander) []time.Time {
	var out []time.Time
	for {
		t, ok := e.Next()
		if !ok {
			return out
		}
		out = append(out, t)
	}
}

func TestExpanderDailyCount(t *testing.T) {
	start := time.Date(2024, 1, 1, 9, 0, 0, 0, time.UTC)
	rule := &models.Recurrence{Freq: "DAILY", Count: 10}

	got := collect(NewExpander(start, rule, time.UTC))

	// the seed start is the first occurrence but is not emitted
	require.Len(t, got, 9)
	assert.Equal(t, time.Date(2024, 1, 2, 9, 0, 0, 0, time.UTC), got[0])
	assert.Equal(t, time.Date(2024, 1, 10, 9, 0, 0, 0, time.UTC), got[8])
}

func TestExpanderWeeklyUntil(t *testing.T) {
	start := time.Date(2024, 1, 1, 9, 0, 0, 0, time.UTC) // a Monday
	until := time.Date(2024, 1, 29, 9, 0, 0, 0, time.UTC)
	rule := &models.Recurrence{Freq: "WEEKLY", Until: &until}

	got := collect(NewExpander(start, rule, time.UTC))

	require.Len(t, got, 4)
	assert.Equal(t, time.Date(2024, 1, 8, 9, 0, 0, 0, time.UTC), got[0])
	assert.Equal(t, until, got[3])
}

func TestExpanderSkipsExdates(t *testing.T) {
	start := time.Date(2024, 1, 1, 9, 0, 0, 0, time.UTC)
	until := time.Date(2024, 1, 29, 9, 0, 0, 0, time.UTC)
	rule := &models.Recurrence{
		Freq:    "WEEKLY",
		Until:   &until,
		Exdates: []time.Time{time.Date(2024, 1, 15, 9, 0, 0, 0, time.UTC)},
	}

	got := collect(NewExpander(start, rule, time.UTC))

	require.Len(t, got, 3)
	for _, occ := range got {
		assert.False(t, occ.Equal(rule.Exdates[0]), "excluded occurrence was emitted")
	}
}

func TestExpanderInterval(t *testing.T) {
	start := time.Date(2024, 1, 1, 9, 0, 0, 0, time.UTC)
	rule := &models.Recurrence{Freq: "DAILY", Interval: 3, Count: 4}

	got := collect(NewExpander(start, rule, time.UTC))

	require.Len(t, got, 3)
	assert.Equal(t, time.Date(2024, 1, 4, 9, 0, 0, 0, time.UTC), got[0])
	assert.Equal(t, time.Date(2024, 1, 10, 9, 0, 0, 0, time.UTC), got[2])
}

func TestExpanderCapsUnboundedRules(t *testing.T) {
	start := time.Date(2024, 1, 1, 9, 0, 0, 0, time.UTC)
	rule := &models.Recurrence{Freq: "DAILY"}

	got := collect(NewExpander(start, rule, time.UTC))

	assert.Len(t, got, 999)
}

func TestExpanderHorizonOnSparseRules(t *testing.T) {
	// yearly occurrences never reach 999 before the 20 year horizon
	start := time.Now().UTC().Truncate(time.Hour)
	rule := &models.Recurrence{Freq: "YEARLY"}

	got := collect(NewExpander(start, rule, time.UTC))

	require.NotEmpty(t, got)
	assert.LessOrEqual(t, len(got), 20)
	horizon := time.Now().AddDate(20, 0, 0)
	assert.False(t, got[len(got)-1].After(horizon))
}

func TestExpanderDegradesOnBadRule(t *testing.T) {
	start := time.Date(2024, 1, 1, 9, 0, 0, 0, time.UTC)

	assert.Empty(t, collect(NewExpander(start, nil, time.UTC)))
	assert.Empty(t, collect(NewExpander(start, &models.Recurrence{Freq: "HOURLY"}, time.UTC)))
	assert.Empty(t, collect(NewExpander(start, &models.Recurrence{Freq: "WEEKLY", ByDay: "XX"}, time.UTC)))
}

func TestRemainingCountAtSplit(t *testing.T) {
	// daily series of 10 starting Jan 1, split at the Jan 6 occurrence:
	// Jan 6 through Jan 10 remain
	start := time.Date(2024, 1, 1, 9, 0, 0, 0, time.UTC)
	rule := &models.Recurrence{Freq: "DAILY", Count: 10}
	splitAt := time.Date(2024, 1, 6, 9, 0, 0, 0, time.UTC)

	assert.Equal(t, 5, RemainingCount(start, rule, time.UTC, splitAt))
}

func TestFormatRuleCanonical(t *testing.T) {
	until := time.Date(2024, 6, 30, 9, 0, 0, 0, time.UTC)
	r := &models.Recurrence{
		Freq:     "WEEKLY",
		Interval: 2,
		ByDay:    "MO,WE",
		Until:    &until,
		Exdates:  []time.Time{time.Date(2024, 2, 5, 9, 0, 0, 0, time.UTC)},
	}

	assert.Equal(t,
		"FREQ=WEEKLY;INTERVAL=2;BYDAY=MO,WE;UNTIL=20240630T090000;EXDATE=20240205T090000",
		FormatRule(r))
	// RRULE emission carries EXDATE as a separate property
	assert.Equal(t,
		"FREQ=WEEKLY;INTERVAL=2;BYDAY=MO,WE;UNTIL=20240630T090000",
		FormatRRule(r))
}

func TestFormatRuleOmitsDefaults(t *testing.T) {
	assert.Equal(t, "FREQ=DAILY", FormatRule(&models.Recurrence{Freq: "DAILY", Interval: 1}))
	assert.Equal(t, "", FormatRule(nil))
	assert.Equal(t, "", FormatRule(&models.Recurrence{}))
}

func TestParseRuleRoundTrip(t *testing.T) {
	src := "FREQ=MONTHLY;INTERVAL=3;BYDAY=2TU;COUNT=12;EXDATE=20240305T100000"
	r, err := ParseRule(src)
	require.NoError(t, err)

	assert.Equal(t, "MONTHLY", r.Freq)
	assert.Equal(t, 3, r.Interval)
	assert.Equal(t, "2TU", r.ByDay)
	assert.Equal(t, 12, r.Count)
	require.Len(t, r.Exdates, 1)

	assert.Equal(t, src, FormatRule(r))
}

func TestParseRuleAcceptsRRulePrefix(t *testing.T) {
	r, err := ParseRule("RRULE:FREQ=DAILY;COUNT=3")
	require.NoError(t, err)
	assert.Equal(t, "DAILY", r.Freq)
	assert.Equal(t, 3, r.Count)
}

func TestParseRuleErrors(t *testing.T) {
	for _, src := range []string{
		"FREQ",
		"FREQ=DAILY;INTERVAL=x",
		"INTERVAL=2",
		"FREQ=DAILY;UNTIL=notadate",
	} {
		_, err := ParseRule(src)
		assert.Error(t, err, "rule %q", src)
	}

	r, err := ParseRule("")
	require.NoError(t, err)
	assert.Nil(t, r)
}

func TestParseUTCTimeForms(t *testing.T) {
	want := time.Date(2024, 3, 15, 0, 0, 0, 0, time.UTC)

	for _, v := range []string{"20240315", "20240315T000000", "20240315T000000Z"} {
		got, err := ParseUTCTime(v)
		require.NoError(t, err, v)
		assert.True(t, got.Equal(want), v)
	}
}
