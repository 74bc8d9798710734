// Package dbcal implements the relational event store: calendars and
// events as PostgreSQL rows, with recurring occurrences eagerly
// materialized as additional rows sharing the master's recurrence_id.
package dbcal

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/Acidburn0zzz/cubemail/internal/database"
	"github.com/Acidburn0zzz/cubemail/internal/models"
	"github.com/Acidburn0zzz/cubemail/internal/store"
)

const (
	defaultCalendarName  = "Default"
	defaultCalendarColor = "cc0000"

	prefHiddenCalendars = "hidden_calendars"
	prefCategories      = "calendar_categories"
)

// Store is the SQL-backed store.Store implementation. Event reads go
// through the request-scoped cache on the session.
type Store struct {
	db *database.DB
}

func New(db *database.DB) *Store {
	return &Store{db: db}
}

func (s *Store) Capabilities() store.Capabilities {
	return store.Capabilities{
		Alarms:      true,
		Attendees:   true,
		Attachments: true,
	}
}

// readCalendars loads all calendars owned by the session user, keyed by
// id, with the subscription state resolved from the hidden-calendars
// preference.
func (s *Store) readCalendars(ctx context.Context, sess *store.Session) (map[int64]*models.Calendar, error) {
	hidden, err := s.hiddenCalendars(ctx, sess)
	if err != nil {
		return nil, err
	}

	rows, err := s.db.Pool.Query(ctx,
		`SELECT calendar_id, name, color, showalarms
		 FROM calendars WHERE user_id = $1
		 ORDER BY name`,
		sess.UserID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list calendars: %w", err)
	}
	defer rows.Close()

	calendars := make(map[int64]*models.Calendar)
	for rows.Next() {
		var (
			id         int64
			cal        models.Calendar
			showalarms int16
		)
		if err := rows.Scan(&id, &cal.Name, &cal.Color, &showalarms); err != nil {
			return nil, err
		}
		cal.ID = strconv.FormatInt(id, 10)
		cal.ShowAlarms = showalarms != 0
		cal.Active = !hidden[cal.ID]
		calendars[id] = &cal
	}
	return calendars, rows.Err()
}

func (s *Store) ListCalendars(ctx context.Context, sess *store.Session) ([]*models.Calendar, error) {
	calendars, err := s.readCalendars(ctx, sess)
	if err != nil {
		return nil, err
	}

	// attempt to create a default calendar for this user
	if len(calendars) == 0 {
		_, err := s.CreateCalendar(ctx, sess, &models.Calendar{
			Name:       defaultCalendarName,
			Color:      defaultCalendarColor,
			ShowAlarms: true,
		})
		if err != nil {
			return nil, err
		}
		if calendars, err = s.readCalendars(ctx, sess); err != nil {
			return nil, err
		}
	}

	out := make([]*models.Calendar, 0, len(calendars))
	for _, cal := range calendars {
		out = append(out, cal)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (s *Store) CreateCalendar(ctx context.Context, sess *store.Session, props *models.Calendar) (string, error) {
	color := props.Color
	if color == "" {
		color = defaultCalendarColor
	}
	var id int64
	err := s.db.Pool.QueryRow(ctx,
		`INSERT INTO calendars (user_id, name, color, showalarms)
		 VALUES ($1, $2, $3, $4)
		 RETURNING calendar_id`,
		sess.UserID, props.Name, color, boolToInt(props.ShowAlarms),
	).Scan(&id)
	if err != nil {
		return "", fmt.Errorf("failed to create calendar: %w", err)
	}
	return strconv.FormatInt(id, 10), nil
}

func (s *Store) EditCalendar(ctx context.Context, sess *store.Session, props *models.Calendar) error {
	id, err := strconv.ParseInt(props.ID, 10, 64)
	if err != nil {
		return store.ErrInvalidCalendar
	}
	tag, err := s.db.Pool.Exec(ctx,
		`UPDATE calendars SET name = $1, color = $2, showalarms = $3
		 WHERE calendar_id = $4 AND user_id = $5`,
		props.Name, props.Color, boolToInt(props.ShowAlarms), id, sess.UserID,
	)
	if err != nil {
		return fmt.Errorf("failed to update calendar: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (s *Store) RemoveCalendar(ctx context.Context, sess *store.Session, id string) error {
	cid, err := strconv.ParseInt(id, 10, 64)
	if err != nil {
		return store.ErrInvalidCalendar
	}
	// events and attachments are removed by foreign key cascade
	tag, err := s.db.Pool.Exec(ctx,
		`DELETE FROM calendars WHERE calendar_id = $1 AND user_id = $2`,
		cid, sess.UserID,
	)
	if err != nil {
		return fmt.Errorf("failed to remove calendar: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return store.ErrNotFound
	}
	sess.DropCache()
	return nil
}

// SubscribeCalendar toggles calendar visibility by maintaining the
// hidden-calendars list in user preferences.
func (s *Store) SubscribeCalendar(ctx context.Context, sess *store.Session, id string, active bool) error {
	hidden, err := s.hiddenCalendars(ctx, sess)
	if err != nil {
		return err
	}
	if active {
		delete(hidden, id)
	} else {
		hidden[id] = true
	}
	ids := make([]string, 0, len(hidden))
	for hid := range hidden {
		ids = append(ids, hid)
	}
	sort.Strings(ids)
	return s.db.SetPref(ctx, sess.UserID, prefHiddenCalendars, strings.Join(ids, ","))
}

func (s *Store) hiddenCalendars(ctx context.Context, sess *store.Session) (map[string]bool, error) {
	value, err := s.db.GetPref(ctx, sess.UserID, prefHiddenCalendars)
	if err != nil {
		return nil, fmt.Errorf("failed to read preferences: %w", err)
	}
	hidden := make(map[string]bool)
	for _, id := range strings.Split(value, ",") {
		if id != "" {
			hidden[id] = true
		}
	}
	return hidden, nil
}

func boolToInt(b bool) int16 {
	if b {
		return 1
	}
	return 0
}
