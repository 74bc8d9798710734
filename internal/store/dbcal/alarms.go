package dbcal

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/Acidburn0zzz/cubemail/internal/models"
	"github.com/Acidburn0zzz/cubemail/internal/store"
)

// PendingAlarms returns events whose stored trigger time has passed and
// that have not ended yet, restricted to calendars with alarms enabled.
func (s *Store) PendingAlarms(ctx context.Context, sess *store.Session, now time.Time, calendarIDs []string) ([]*models.Event, error) {
	calendars, err := s.readCalendars(ctx, sess)
	if err != nil {
		return nil, err
	}
	ids := make([]int64, 0, len(calendars))
	for id, cal := range calendars {
		if cal.ShowAlarms {
			ids = append(ids, id)
		}
	}
	if len(calendarIDs) > 0 {
		ids = intersectIDs(ids, calendarIDs)
	}
	if len(ids) == 0 {
		return nil, nil
	}

	rows, err := s.db.Pool.Query(ctx,
		`SELECT `+eventColumns+` FROM events
		 WHERE calendar_id = ANY($1) AND notifyat <= $2 AND end_time > $2
		 ORDER BY notifyat`,
		ids, now.UTC(),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to load pending alarms: %w", err)
	}
	defer rows.Close()

	var events []*models.Event
	for rows.Next() {
		ev, err := scanEvent(rows, sess.Loc())
		if err != nil {
			return nil, err
		}
		events = append(events, ev)
	}
	return events, rows.Err()
}

// DismissAlarm acknowledges a fired alarm. A positive snooze interval
// re-arms the trigger that far into the future, zero clears it.
func (s *Store) DismissAlarm(ctx context.Context, sess *store.Session, eventID string, snooze time.Duration) error {
	id, err := strconv.ParseInt(eventID, 10, 64)
	if err != nil {
		return store.ErrNotFound
	}
	ids, err := s.calendarIDs(ctx, sess)
	if err != nil {
		return err
	}

	var notifyAt *time.Time
	if snooze > 0 {
		t := time.Now().Add(snooze).UTC()
		notifyAt = &t
	}
	tag, err := s.db.Pool.Exec(ctx,
		`UPDATE events SET notifyat = $1 WHERE event_id = $2 AND calendar_id = ANY($3)`,
		notifyAt, id, ids,
	)
	if err != nil {
		return fmt.Errorf("failed to dismiss alarm: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return store.ErrNotFound
	}
	sess.DropCache()
	return nil
}
