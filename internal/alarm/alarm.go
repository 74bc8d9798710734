// Package alarm converts between the compact trigger spec string
// ("-15M:DISPLAY", "@1704103200:EMAIL") and absolute notification times.
package alarm

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/Acidburn0zzz/cubemail/internal/models"
)

// Supported delivery actions. The action is carried alongside the
// trigger but does not affect timing.
const (
	ActionDisplay = "DISPLAY"
	ActionEmail   = "EMAIL"
)

var relativeRe = regexp.MustCompile(`^([+-])(\d+)([MHD])$`)

// Parse decodes a trigger spec string. The empty string yields nil; a
// malformed spec is reported as an error which callers treat as "no
// alarm" per the non-fatal degradation policy.
func Parse(s string) (*models.Alarm, error) {
	if s == "" {
		return nil, nil
	}
	trigger, action, _ := strings.Cut(s, ":")
	a := &models.Alarm{Action: strings.ToUpper(action)}
	if a.Action == "" {
		a.Action = ActionDisplay
	}

	if strings.HasPrefix(trigger, "@") {
		unix, err := strconv.ParseInt(trigger[1:], 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid absolute trigger %q", trigger)
		}
		t := time.Unix(unix, 0).UTC()
		a.Absolute = &t
		return a, nil
	}

	m := relativeRe.FindStringSubmatch(trigger)
	if m == nil {
		return nil, fmt.Errorf("invalid trigger %q", trigger)
	}
	n, err := strconv.Atoi(m[2])
	if err != nil {
		return nil, fmt.Errorf("invalid trigger offset %q", m[2])
	}
	if m[1] == "-" {
		n = -n
	}
	a.Offset = n
	a.Unit = models.AlarmUnit(m[3][0])
	return a, nil
}

// Format serializes an alarm back to its trigger spec string.
func Format(a *models.Alarm) string {
	if a == nil {
		return ""
	}
	action := a.Action
	if action == "" {
		action = ActionDisplay
	}
	if a.Absolute != nil {
		return fmt.Sprintf("@%d:%s", a.Absolute.Unix(), action)
	}
	return fmt.Sprintf("%+d%c:%s", a.Offset, a.Unit, action)
}

// unitDuration returns the length of one trigger offset unit.
func unitDuration(u models.AlarmUnit) time.Duration {
	switch u {
	case models.AlarmMinutes:
		return time.Minute
	case models.AlarmHours:
		return time.Hour
	case models.AlarmDays:
		return 24 * time.Hour
	default:
		return 0
	}
}

// ComputeNotifyAt resolves an alarm to the absolute instant the user
// should be notified. Negative offsets count back from the event start,
// positive offsets forward from the event end. Alarms for events that
// have already started at save time are not scheduled; nil means "no
// notification".
func ComputeNotifyAt(a *models.Alarm, start, end, now time.Time) *time.Time {
	if a == nil {
		return nil
	}
	if !start.After(now) {
		return nil
	}

	var notifyAt time.Time
	if a.Absolute != nil {
		notifyAt = *a.Absolute
	} else {
		unit := unitDuration(a.Unit)
		if unit == 0 {
			return nil
		}
		offset := time.Duration(a.Offset) * unit
		if a.Offset < 0 {
			notifyAt = start.Add(offset)
		} else {
			notifyAt = end.Add(offset)
		}
	}
	return &notifyAt
}

// TriggerTime resolves the alarm's absolute trigger instant without the
// already-started cutoff of ComputeNotifyAt. Backends that derive
// pending alarms on the fly need the raw time.
func TriggerTime(a *models.Alarm, start, end time.Time) *time.Time {
	if a == nil {
		return nil
	}
	if a.Absolute != nil {
		t := *a.Absolute
		return &t
	}
	unit := unitDuration(a.Unit)
	if unit == 0 {
		return nil
	}
	offset := time.Duration(a.Offset) * unit
	var t time.Time
	if a.Offset < 0 {
		t = start.Add(offset)
	} else {
		t = end.Add(offset)
	}
	return &t
}

// ComputeTriggerNotifyAt is a convenience for stores holding the raw
// trigger string. A malformed trigger degrades to nil.
func ComputeTriggerNotifyAt(trigger string, start, end, now time.Time) *time.Time {
	a, err := Parse(trigger)
	if err != nil {
		return nil
	}
	return ComputeNotifyAt(a, start, end, now)
}
