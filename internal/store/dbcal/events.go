package dbcal

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/Acidburn0zzz/cubemail/internal/alarm"
	"github.com/Acidburn0zzz/cubemail/internal/models"
	"github.com/Acidburn0zzz/cubemail/internal/recurrence"
	"github.com/Acidburn0zzz/cubemail/internal/store"
)

const eventColumns = `event_id, calendar_id, recurrence_id, uid, created, changed,
	start_time, end_time, all_day, recurrence, title, description, location,
	categories, free_busy, priority, sensitivity, status, attendees, alarms, notifyat`

func (s *Store) GetEvent(ctx context.Context, sess *store.Session, idOrUID string) (*models.Event, error) {
	if ev := sess.CacheGet(idOrUID); ev != nil {
		return ev, nil
	}

	ids, err := s.calendarIDs(ctx, sess)
	if err != nil {
		return nil, err
	}

	var row pgx.Row
	if id, err := strconv.ParseInt(idOrUID, 10, 64); err == nil {
		row = s.db.Pool.QueryRow(ctx,
			`SELECT `+eventColumns+` FROM events
			 WHERE event_id = $1 AND calendar_id = ANY($2)`,
			id, ids,
		)
	} else {
		// masters sort before their materialized occurrences
		row = s.db.Pool.QueryRow(ctx,
			`SELECT `+eventColumns+` FROM events
			 WHERE uid = $1 AND calendar_id = ANY($2)
			 ORDER BY recurrence_id, event_id LIMIT 1`,
			idOrUID, ids,
		)
	}

	ev, err := scanEvent(row, sess.Loc())
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get event: %w", err)
	}
	sess.CachePut(idOrUID, ev)
	return ev, nil
}

func (s *Store) LoadEvents(ctx context.Context, sess *store.Session, start, end time.Time, search string, calendarIDs []string) ([]*models.Event, error) {
	ids, err := s.calendarIDs(ctx, sess)
	if err != nil {
		return nil, err
	}
	if len(calendarIDs) > 0 {
		ids = intersectIDs(ids, calendarIDs)
	}
	if len(ids) == 0 {
		return nil, nil
	}

	query := `SELECT ` + eventColumns + ` FROM events
		WHERE calendar_id = ANY($1) AND start_time <= $2 AND end_time >= $3`
	args := []any{ids, end.UTC(), start.UTC()}
	if search != "" {
		query += ` AND (title ILIKE $4 OR location ILIKE $4 OR description ILIKE $4
			OR categories ILIKE $4 OR attendees ILIKE $4)`
		args = append(args, "%"+search+"%")
	}
	query += ` ORDER BY start_time`

	rows, err := s.db.Pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to load events: %w", err)
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

func (s *Store) InsertEvent(ctx context.Context, sess *store.Session, ev *models.Event) (string, error) {
	cid, err := s.resolveCalendar(ctx, sess, ev.Calendar)
	if err != nil {
		return "", err
	}

	rec := prepare(ev)
	now := time.Now().UTC()

	var id int64
	err = s.db.Pool.QueryRow(ctx,
		`INSERT INTO events (calendar_id, uid, created, changed, start_time, end_time,
			all_day, recurrence, title, description, location, categories, free_busy,
			priority, sensitivity, status, attendees, alarms, notifyat)
		 VALUES ($1, $2, $3, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18)
		 RETURNING event_id`,
		cid, rec.uid, now, ev.Start.UTC(), ev.End.UTC(), rec.allDay,
		rec.recurrence, ev.Title, ev.Description, ev.Location, ev.Categories,
		rec.freeBusy, ev.Priority, int16(ev.Sensitivity), rec.status,
		rec.attendees, rec.alarms, rec.notifyAt,
	).Scan(&id)
	if err != nil {
		return "", fmt.Errorf("failed to insert event: %w", err)
	}

	ev.ID = strconv.FormatInt(id, 10)
	ev.UID = rec.uid
	ev.Calendar = strconv.FormatInt(cid, 10)

	for _, att := range ev.Attachments {
		if err := s.insertAttachment(ctx, id, att); err != nil {
			return "", err
		}
	}
	if err := s.materialize(ctx, cid, id, ev); err != nil {
		return "", err
	}
	sess.DropCache()
	return ev.ID, nil
}

func (s *Store) UpdateEvent(ctx context.Context, sess *store.Session, ev *models.Event) error {
	id, err := strconv.ParseInt(ev.ID, 10, 64)
	if err != nil {
		return store.ErrNotFound
	}
	ids, err := s.calendarIDs(ctx, sess)
	if err != nil {
		return err
	}

	rec := prepare(ev)
	tag, err := s.db.Pool.Exec(ctx,
		`UPDATE events SET changed = $1, start_time = $2, end_time = $3, all_day = $4,
			recurrence = $5, title = $6, description = $7, location = $8, categories = $9,
			free_busy = $10, priority = $11, sensitivity = $12, status = $13,
			attendees = $14, alarms = $15, notifyat = $16
		 WHERE event_id = $17 AND calendar_id = ANY($18)`,
		time.Now().UTC(), ev.Start.UTC(), ev.End.UTC(), rec.allDay,
		rec.recurrence, ev.Title, ev.Description, ev.Location, ev.Categories,
		rec.freeBusy, ev.Priority, int16(ev.Sensitivity), rec.status,
		rec.attendees, rec.alarms, rec.notifyAt, id, ids,
	)
	if err != nil {
		return fmt.Errorf("failed to update event: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return store.ErrNotFound
	}

	for _, att := range ev.Attachments {
		if att.ID != "" {
			continue // already stored
		}
		if err := s.insertAttachment(ctx, id, att); err != nil {
			return err
		}
	}

	// detached exceptions keep their own single row, everything else
	// gets its occurrence set rebuilt
	if ev.RecurrenceID == "" {
		cid, err := strconv.ParseInt(ev.Calendar, 10, 64)
		if err != nil {
			return store.ErrInvalidCalendar
		}
		if err := s.materialize(ctx, cid, id, ev); err != nil {
			return err
		}
	}
	sess.DropCache()
	return nil
}

// occurrence is one stored row of a materialized series.
type occurrence struct {
	start    time.Time
	end      time.Time
	notifyAt *time.Time
}

// expandOccurrences yields the occurrence rows of a recurring master
// past its first instance. The expansion depends only on the master and
// the reference time, so rebuilding after an edit replaces the previous
// set instead of accumulating rows.
func expandOccurrences(ev *models.Event, now time.Time) []occurrence {
	if !ev.IsRecurring() {
		return nil
	}
	duration := ev.Duration()
	exp := recurrence.NewExpander(ev.Start, ev.Recurrence, ev.Start.Location())
	var out []occurrence
	for {
		next, ok := exp.Next()
		if !ok {
			break
		}
		occ := occurrence{start: next, end: next.Add(duration)}
		if ev.Alarm != nil {
			occ.notifyAt = alarm.ComputeNotifyAt(ev.Alarm, occ.start, occ.end, now)
		}
		out = append(out, occ)
	}
	return out
}

// materialize replaces the stored occurrence rows of a recurring master
// with a freshly expanded set. Non-recurring events just lose any stale
// rows left over from a removed recurrence rule.
func (s *Store) materialize(ctx context.Context, calendarID, masterID int64, ev *models.Event) error {
	_, err := s.db.Pool.Exec(ctx,
		`DELETE FROM events WHERE recurrence_id = $1 AND calendar_id = $2`,
		masterID, calendarID,
	)
	if err != nil {
		return fmt.Errorf("failed to clear occurrences: %w", err)
	}

	now := time.Now().UTC()
	for _, occ := range expandOccurrences(ev, now) {
		_, err := s.db.Pool.Exec(ctx,
			`INSERT INTO events (calendar_id, recurrence_id, uid, created, changed,
				start_time, end_time, all_day, recurrence, title, description, location,
				categories, free_busy, priority, sensitivity, status, attendees, alarms, notifyat)
			 VALUES ($1, $2, $3, $4, $4, $5, $6, $7, '', $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18)`,
			calendarID, masterID, ev.UID, now, occ.start.UTC(), occ.end.UTC(),
			boolToInt(ev.AllDay), ev.Title, ev.Description, ev.Location,
			ev.Categories, ev.FreeBusy.Code(), ev.Priority, int16(ev.Sensitivity),
			statusValue(ev), prepareAttendees(ev), prepareAlarm(ev), occ.notifyAt,
		)
		if err != nil {
			return fmt.Errorf("failed to insert occurrence: %w", err)
		}
	}
	return nil
}

func (s *Store) DeleteEvent(ctx context.Context, sess *store.Session, ev *models.Event, force bool) error {
	id, err := strconv.ParseInt(ev.ID, 10, 64)
	if err != nil {
		return store.ErrNotFound
	}
	ids, err := s.calendarIDs(ctx, sess)
	if err != nil {
		return err
	}
	tag, err := s.db.Pool.Exec(ctx,
		`DELETE FROM events
		 WHERE (event_id = $1 OR recurrence_id = $1) AND calendar_id = ANY($2)`,
		id, ids,
	)
	if err != nil {
		return fmt.Errorf("failed to delete event: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return store.ErrNotFound
	}
	sess.DropCache()
	return nil
}

func (s *Store) DeleteInstance(ctx context.Context, sess *store.Session, ev *models.Event) error {
	id, err := strconv.ParseInt(ev.ID, 10, 64)
	if err != nil {
		return store.ErrNotFound
	}
	ids, err := s.calendarIDs(ctx, sess)
	if err != nil {
		return err
	}
	_, err = s.db.Pool.Exec(ctx,
		`DELETE FROM events WHERE event_id = $1 AND calendar_id = ANY($2)`,
		id, ids,
	)
	if err != nil {
		return fmt.Errorf("failed to delete occurrence: %w", err)
	}
	sess.DropCache()
	return nil
}

func (s *Store) DeleteFutureInstances(ctx context.Context, sess *store.Session, master *models.Event, from time.Time) error {
	id, err := strconv.ParseInt(master.ID, 10, 64)
	if err != nil {
		return store.ErrNotFound
	}
	ids, err := s.calendarIDs(ctx, sess)
	if err != nil {
		return err
	}
	_, err = s.db.Pool.Exec(ctx,
		`DELETE FROM events
		 WHERE recurrence_id = $1 AND calendar_id = ANY($2) AND start_time >= $3`,
		id, ids, from.UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to delete occurrences: %w", err)
	}
	sess.DropCache()
	return nil
}

func (s *Store) RestoreEvent(ctx context.Context, sess *store.Session, ev *models.Event) error {
	return store.ErrNotSupported
}

// resolveCalendar maps the event's calendar id to an owned numeric id,
// falling back to the user's first calendar when unset or foreign.
func (s *Store) resolveCalendar(ctx context.Context, sess *store.Session, id string) (int64, error) {
	calendars, err := s.readCalendars(ctx, sess)
	if err != nil {
		return 0, err
	}
	if len(calendars) == 0 {
		return 0, store.ErrInvalidCalendar
	}
	if cid, err := strconv.ParseInt(id, 10, 64); err == nil {
		if _, ok := calendars[cid]; ok {
			return cid, nil
		}
	}
	first := int64(0)
	for cid := range calendars {
		if first == 0 || cid < first {
			first = cid
		}
	}
	return first, nil
}

func (s *Store) calendarIDs(ctx context.Context, sess *store.Session) ([]int64, error) {
	calendars, err := s.readCalendars(ctx, sess)
	if err != nil {
		return nil, err
	}
	ids := make([]int64, 0, len(calendars))
	for id := range calendars {
		ids = append(ids, id)
	}
	return ids, nil
}

func intersectIDs(owned []int64, wanted []string) []int64 {
	keep := make(map[int64]bool, len(wanted))
	for _, w := range wanted {
		if id, err := strconv.ParseInt(w, 10, 64); err == nil {
			keep[id] = true
		}
	}
	var out []int64
	for _, id := range owned {
		if keep[id] {
			out = append(out, id)
		}
	}
	return out
}

type eventRecord struct {
	uid        string
	allDay     int16
	recurrence string
	freeBusy   int16
	status     string
	attendees  string
	alarms     string
	notifyAt   *time.Time
}

// prepare converts the mutable event fields to their column encodings.
func prepare(ev *models.Event) eventRecord {
	rec := eventRecord{
		uid:       ev.UID,
		allDay:    boolToInt(ev.AllDay),
		freeBusy:  int16(ev.FreeBusy.Code()),
		status:    statusValue(ev),
		attendees: prepareAttendees(ev),
		alarms:    prepareAlarm(ev),
	}
	if rec.uid == "" {
		rec.uid = models.NewUID()
	}
	if ev.Recurrence != nil {
		rec.recurrence = recurrence.FormatRule(ev.Recurrence)
	}
	if ev.Alarm != nil {
		rec.notifyAt = alarm.ComputeNotifyAt(ev.Alarm, ev.Start, ev.End, time.Now())
	}
	return rec
}

func prepareAttendees(ev *models.Event) string {
	return models.FormatAttendees(ev.Attendees)
}

func prepareAlarm(ev *models.Event) string {
	return alarm.Format(ev.Alarm)
}

func statusValue(ev *models.Event) string {
	if ev.Cancelled {
		return "CANCELLED"
	}
	return ""
}

func scanEvent(row pgx.Row, loc *time.Location) (*models.Event, error) {
	var (
		ev           models.Event
		id, cid, rid int64
		allDay       int16
		freeBusy     int16
		sensitivity  int16
		rule         string
		status       string
		attendees    string
		alarms       string
		notifyAt     *time.Time
	)
	err := row.Scan(&id, &cid, &rid, &ev.UID, &ev.Created, &ev.Changed,
		&ev.Start, &ev.End, &allDay, &rule, &ev.Title, &ev.Description,
		&ev.Location, &ev.Categories, &freeBusy, &ev.Priority, &sensitivity,
		&status, &attendees, &alarms, &notifyAt)
	if err != nil {
		return nil, err
	}

	ev.ID = strconv.FormatInt(id, 10)
	ev.Calendar = strconv.FormatInt(cid, 10)
	if rid != 0 {
		ev.RecurrenceID = strconv.FormatInt(rid, 10)
	}
	ev.Start = ev.Start.In(loc)
	ev.End = ev.End.In(loc)
	ev.AllDay = allDay != 0
	ev.FreeBusy = models.FreeBusyFromCode(int(freeBusy))
	ev.Sensitivity = models.Sensitivity(sensitivity)
	ev.Cancelled = status == "CANCELLED"

	if rule != "" {
		rec, err := recurrence.ParseRule(rule)
		if err == nil {
			ev.Recurrence = rec
		}
	}
	ev.Attendees = models.ParseAttendees(attendees)
	if a, err := alarm.Parse(alarms); err == nil {
		ev.Alarm = a
	}
	return &ev, nil
}
