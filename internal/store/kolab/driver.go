package kolab

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sort"
	"strings"
	"time"

	"github.com/Acidburn0zzz/cubemail/internal/alarm"
	"github.com/Acidburn0zzz/cubemail/internal/database"
	"github.com/Acidburn0zzz/cubemail/internal/models"
	"github.com/Acidburn0zzz/cubemail/internal/store"
)

const (
	prefHiddenCalendars = "kolab_hidden_calendars"
	prefColorPrefix     = "kolab_color_"
	prefNoAlarmsPrefix  = "kolab_noalarms_"
	prefAlarmSlot       = "kolab_alarm_slot"

	// alarm scans are gated to one pass per slot, candidates are taken
	// from a one year lookahead
	alarmSlot      = 5 * time.Minute
	alarmLookahead = 365 * 24 * time.Hour
)

// categoryPalette is the fixed category set of the document backend.
// Folder annotations have no room for a user palette, so it cannot be
// edited.
var categoryPalette = map[string]string{
	"Personal": "c0c0c0",
	"Work":     "ff0000",
	"Family":   "00ff00",
	"Holiday":  "ff6600",
}

// Driver is the document-backed store.Store implementation. The
// optional database handle carries alarm dismissal state and the
// preference fallbacks for folder color and visibility; without it
// those degrade gracefully.
type Driver struct {
	storage Storage
	db      *database.DB
}

func NewDriver(storage Storage, db *database.DB) *Driver {
	return &Driver{storage: storage, db: db}
}

func (d *Driver) Capabilities() store.Capabilities {
	return store.Capabilities{
		Alarms:              true,
		Attendees:           true,
		Attachments:         true,
		FreeBusy:            true,
		Undelete:            true,
		CategoriesImmutable: true,
	}
}

func (d *Driver) calendars(ctx context.Context, sess *store.Session) ([]*Calendar, error) {
	infos, err := d.storage.Folders(ctx, sess)
	if err != nil {
		return nil, err
	}
	calendars := make([]*Calendar, 0, len(infos))
	for _, info := range infos {
		calendars = append(calendars, newCalendar(d.storage, info))
	}
	return calendars, nil
}

func (d *Driver) calendar(ctx context.Context, sess *store.Session, id string) (*Calendar, error) {
	calendars, err := d.calendars(ctx, sess)
	if err != nil {
		return nil, err
	}
	for _, cal := range calendars {
		if cal.ID() == id {
			return cal, nil
		}
	}
	return nil, store.ErrInvalidCalendar
}

func (d *Driver) ListCalendars(ctx context.Context, sess *store.Session) ([]*models.Calendar, error) {
	calendars, err := d.calendars(ctx, sess)
	if err != nil {
		return nil, err
	}
	hidden := d.hiddenCalendars(ctx, sess)

	out := make([]*models.Calendar, 0, len(calendars))
	for _, cal := range calendars {
		props := &models.Calendar{
			ID:         cal.ID(),
			Name:       cal.DisplayName(),
			ReadOnly:   cal.ReadOnly(),
			ShowAlarms: true,
			Active:     !hidden[cal.ID()],
		}
		d.applyFolderSettings(ctx, sess, cal, props)
		out = append(out, props)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// applyFolderSettings resolves color and alarm visibility from folder
// annotations, falling back to user preferences when the storage has no
// metadata support.
func (d *Driver) applyFolderSettings(ctx context.Context, sess *store.Session, cal *Calendar, props *models.Calendar) {
	meta, err := d.storage.GetMetadata(ctx, sess, cal.Name())
	if err == nil {
		if color, ok := meta[MetaColor]; ok && color != "" {
			props.Color = color
		}
		if v, ok := meta[MetaShowAlarms]; ok {
			props.ShowAlarms = v != "false"
		}
		return
	}
	if !errors.Is(err, store.ErrNotSupported) || d.db == nil {
		return
	}
	if color, err := d.db.GetPref(ctx, sess.UserID, prefColorPrefix+cal.ID()); err == nil && color != "" {
		props.Color = color
	}
	if v, err := d.db.GetPref(ctx, sess.UserID, prefNoAlarmsPrefix+cal.ID()); err == nil && v == "1" {
		props.ShowAlarms = false
	}
}

func (d *Driver) saveFolderSettings(ctx context.Context, sess *store.Session, cal *Calendar, props *models.Calendar) error {
	entries := map[string]string{MetaColor: props.Color}
	if props.ShowAlarms {
		entries[MetaShowAlarms] = "true"
	} else {
		entries[MetaShowAlarms] = "false"
	}
	err := d.storage.SetMetadata(ctx, sess, cal.Name(), entries)
	if err == nil || !errors.Is(err, store.ErrNotSupported) {
		return err
	}
	if d.db == nil {
		return nil
	}
	if err := d.db.SetPref(ctx, sess.UserID, prefColorPrefix+cal.ID(), props.Color); err != nil {
		return err
	}
	noAlarms := "0"
	if !props.ShowAlarms {
		noAlarms = "1"
	}
	return d.db.SetPref(ctx, sess.UserID, prefNoAlarmsPrefix+cal.ID(), noAlarms)
}

func (d *Driver) CreateCalendar(ctx context.Context, sess *store.Session, props *models.Calendar) (string, error) {
	if err := d.storage.CreateFolder(ctx, sess, props.Name); err != nil {
		return "", fmt.Errorf("failed to create calendar folder: %w", err)
	}
	cal := newCalendar(d.storage, &FolderInfo{Name: props.Name})
	if err := d.saveFolderSettings(ctx, sess, cal, props); err != nil {
		return "", err
	}
	return cal.ID(), nil
}

func (d *Driver) EditCalendar(ctx context.Context, sess *store.Session, props *models.Calendar) error {
	cal, err := d.calendar(ctx, sess, props.ID)
	if err != nil {
		return err
	}
	if cal.ReadOnly() {
		return store.ErrReadOnly
	}
	if props.Name != "" && props.Name != cal.Name() {
		if err := d.storage.RenameFolder(ctx, sess, cal.Name(), props.Name); err != nil {
			return fmt.Errorf("failed to rename calendar folder: %w", err)
		}
		cal = newCalendar(d.storage, &FolderInfo{Name: props.Name})
	}
	return d.saveFolderSettings(ctx, sess, cal, props)
}

func (d *Driver) RemoveCalendar(ctx context.Context, sess *store.Session, id string) error {
	cal, err := d.calendar(ctx, sess, id)
	if err != nil {
		return err
	}
	if cal.ReadOnly() {
		return store.ErrReadOnly
	}
	return d.storage.DeleteFolder(ctx, sess, cal.Name())
}

func (d *Driver) SubscribeCalendar(ctx context.Context, sess *store.Session, id string, active bool) error {
	if d.db == nil {
		return nil
	}
	hidden := d.hiddenCalendars(ctx, sess)
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
	return d.db.SetPref(ctx, sess.UserID, prefHiddenCalendars, strings.Join(ids, ","))
}

func (d *Driver) hiddenCalendars(ctx context.Context, sess *store.Session) map[string]bool {
	hidden := make(map[string]bool)
	if d.db == nil {
		return hidden
	}
	value, err := d.db.GetPref(ctx, sess.UserID, prefHiddenCalendars)
	if err != nil {
		return hidden
	}
	for _, id := range strings.Split(value, ",") {
		if id != "" {
			hidden[id] = true
		}
	}
	return hidden
}

func (d *Driver) GetEvent(ctx context.Context, sess *store.Session, idOrUID string) (*models.Event, error) {
	calendars, err := d.calendars(ctx, sess)
	if err != nil {
		return nil, err
	}
	for _, cal := range calendars {
		ev, err := cal.GetEvent(ctx, sess, idOrUID, false)
		if err == nil {
			return ev, nil
		}
		if !errors.Is(err, store.ErrNotFound) {
			return nil, err
		}
	}
	return nil, store.ErrNotFound
}

func (d *Driver) LoadEvents(ctx context.Context, sess *store.Session, start, end time.Time, search string, calendarIDs []string) ([]*models.Event, error) {
	calendars, err := d.calendars(ctx, sess)
	if err != nil {
		return nil, err
	}
	wanted := make(map[string]bool, len(calendarIDs))
	for _, id := range calendarIDs {
		wanted[id] = true
	}

	var out []*models.Event
	for _, cal := range calendars {
		if len(wanted) > 0 && !wanted[cal.ID()] {
			continue
		}
		events, err := cal.ListEvents(ctx, sess, start, end, search)
		if err != nil {
			return nil, err
		}
		out = append(out, events...)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Start.Before(out[j].Start) })
	return out, nil
}

// writableCalendar resolves the target calendar of a mutation, falling
// back to the first writable one when the reference is missing.
func (d *Driver) writableCalendar(ctx context.Context, sess *store.Session, id string) (*Calendar, error) {
	calendars, err := d.calendars(ctx, sess)
	if err != nil {
		return nil, err
	}
	var fallback *Calendar
	for _, cal := range calendars {
		if cal.ID() == id {
			if cal.ReadOnly() {
				return nil, store.ErrReadOnly
			}
			return cal, nil
		}
		if fallback == nil && !cal.ReadOnly() {
			fallback = cal
		}
	}
	if fallback == nil {
		return nil, store.ErrInvalidCalendar
	}
	return fallback, nil
}

func (d *Driver) InsertEvent(ctx context.Context, sess *store.Session, ev *models.Event) (string, error) {
	cal, err := d.writableCalendar(ctx, sess, ev.Calendar)
	if err != nil {
		return "", err
	}
	if ev.UID == "" {
		ev.UID = models.NewUID()
	}
	ev.ID = ev.UID
	ev.Calendar = cal.ID()
	if err := cal.SaveObject(ctx, sess, ev, nil); err != nil {
		return "", err
	}
	d.notifyFreeBusy(sess, ev)
	return ev.ID, nil
}

func (d *Driver) UpdateEvent(ctx context.Context, sess *store.Session, ev *models.Event) error {
	cal, err := d.writableCalendar(ctx, sess, ev.Calendar)
	if err != nil {
		return err
	}

	// exception records live inside their master's object
	if ev.RecurrenceID != "" {
		return d.updateException(ctx, sess, cal, ev)
	}

	exceptions, err := cal.Exceptions(ctx, sess, ev.UID)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return err
	}
	if err := cal.SaveObject(ctx, sess, ev, exceptions); err != nil {
		return err
	}
	d.notifyFreeBusy(sess, ev)
	return nil
}

// updateException replaces or adds the detached exception matching the
// event's recurrence id, keeping the master untouched.
func (d *Driver) updateException(ctx context.Context, sess *store.Session, cal *Calendar, ev *models.Event) error {
	masterUID := ev.RecurrenceID
	if uid, _, ok := splitSyntheticID(ev.ID); ok {
		masterUID = uid
	}
	master, err := cal.GetEvent(ctx, sess, masterUID, false)
	if err != nil {
		return err
	}
	exceptions, err := cal.Exceptions(ctx, sess, master.UID)
	if err != nil {
		return err
	}

	replaced := false
	key := occurrenceKey(ev.Start)
	ex := ev.Clone()
	ex.UID = master.UID
	ex.RecurrenceID = key
	ex.Recurrence = nil
	for i, old := range exceptions {
		if old.RecurrenceID == key {
			exceptions[i] = ex
			replaced = true
			break
		}
	}
	if !replaced {
		exceptions = append(exceptions, ex)
	}
	if err := cal.SaveObject(ctx, sess, master, exceptions); err != nil {
		return err
	}
	d.notifyFreeBusy(sess, master)
	return nil
}

func (d *Driver) DeleteEvent(ctx context.Context, sess *store.Session, ev *models.Event, force bool) error {
	cal, err := d.calendar(ctx, sess, ev.Calendar)
	if err != nil {
		return err
	}
	uid := ev.UID
	if ev.RecurrenceID != "" && !strings.Contains(ev.RecurrenceID, "T") {
		uid = ev.RecurrenceID
	}
	if err := cal.DeleteObject(ctx, sess, uid, force); err != nil {
		return err
	}
	d.notifyFreeBusy(sess, ev)
	return nil
}

// DeleteInstance removes a persisted exception. Virtual occurrences
// have no record of their own, excluding them is the caller's business
// via the master's exdate list.
func (d *Driver) DeleteInstance(ctx context.Context, sess *store.Session, ev *models.Event) error {
	cal, err := d.calendar(ctx, sess, ev.Calendar)
	if err != nil {
		return err
	}
	master, err := cal.GetEvent(ctx, sess, ev.UID, false)
	if err != nil || !master.IsRecurring() {
		return nil
	}
	exceptions, err := cal.Exceptions(ctx, sess, master.UID)
	if err != nil {
		return err
	}

	kept := exceptions[:0]
	for _, ex := range exceptions {
		if t, err := time.Parse(occurrenceKeyLayout, ex.RecurrenceID); err == nil && t.Equal(ev.Start.UTC()) {
			continue
		}
		kept = append(kept, ex)
	}
	if len(kept) == len(exceptions) {
		return nil
	}
	return cal.SaveObject(ctx, sess, master, kept)
}

// DeleteFutureInstances drops exceptions at or after the cutoff; the
// truncated recurrence rule itself arrives via UpdateEvent.
func (d *Driver) DeleteFutureInstances(ctx context.Context, sess *store.Session, master *models.Event, from time.Time) error {
	cal, err := d.calendar(ctx, sess, master.Calendar)
	if err != nil {
		return err
	}
	exceptions, err := cal.Exceptions(ctx, sess, master.UID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil
		}
		return err
	}

	kept := exceptions[:0]
	for _, ex := range exceptions {
		if !ex.Start.Before(from) {
			continue
		}
		kept = append(kept, ex)
	}
	if len(kept) == len(exceptions) {
		return nil
	}
	return cal.SaveObject(ctx, sess, master, kept)
}

func (d *Driver) RestoreEvent(ctx context.Context, sess *store.Session, ev *models.Event) error {
	cal, err := d.calendar(ctx, sess, ev.Calendar)
	if err != nil {
		return err
	}
	return cal.RestoreObject(ctx, sess, ev.UID)
}

// PendingAlarms derives due alarms on the fly. Scans are expensive over
// IMAP, so at most one runs per gating slot; dismissal and snooze state
// lives in the database.
func (d *Driver) PendingAlarms(ctx context.Context, sess *store.Session, now time.Time, calendarIDs []string) ([]*models.Event, error) {
	slot := now.Truncate(alarmSlot)
	if d.db != nil {
		last, err := d.db.GetPref(ctx, sess.UserID, prefAlarmSlot)
		if err == nil && last == slot.Format(time.RFC3339) {
			return nil, nil
		}
		if err := d.db.SetPref(ctx, sess.UserID, prefAlarmSlot, slot.Format(time.RFC3339)); err != nil {
			return nil, err
		}
	}

	if len(calendarIDs) == 0 {
		list, err := d.ListCalendars(ctx, sess)
		if err != nil {
			return nil, err
		}
		for _, cal := range list {
			if cal.ShowAlarms {
				calendarIDs = append(calendarIDs, cal.ID)
			}
		}
	}

	candidates, err := d.LoadEvents(ctx, sess, now, now.Add(alarmLookahead), "", calendarIDs)
	if err != nil {
		return nil, err
	}

	var pending []*models.Event
	for _, ev := range candidates {
		if ev.Alarm == nil || !ev.End.After(now) {
			continue
		}
		notifyAt := alarm.TriggerTime(ev.Alarm, ev.Start, ev.End)
		if notifyAt == nil || notifyAt.After(now) {
			continue
		}
		due, err := d.alarmDue(ctx, sess, ev.ID, now)
		if err != nil {
			return nil, err
		}
		if due {
			pending = append(pending, ev)
		}
	}
	return pending, nil
}

// alarmDue consults stored dismissal state: dismissed alarms never
// fire again, snoozed ones fire once the snooze expires.
func (d *Driver) alarmDue(ctx context.Context, sess *store.Session, eventID string, now time.Time) (bool, error) {
	if d.db == nil {
		return true, nil
	}
	var (
		dismissed int16
		notifyAt  *time.Time
	)
	err := d.db.Pool.QueryRow(ctx,
		`SELECT dismissed, notifyat FROM kolab_alarms WHERE event_id = $1 AND user_id = $2`,
		eventID, sess.UserID,
	).Scan(&dismissed, &notifyAt)
	if err != nil {
		return true, nil // no record means never touched
	}
	if dismissed != 0 {
		return false, nil
	}
	if notifyAt != nil && notifyAt.After(now) {
		return false, nil
	}
	return true, nil
}

func (d *Driver) DismissAlarm(ctx context.Context, sess *store.Session, eventID string, snooze time.Duration) error {
	if d.db == nil {
		return store.ErrNotSupported
	}
	var (
		dismissed int16
		notifyAt  *time.Time
	)
	if snooze > 0 {
		t := time.Now().Add(snooze).UTC()
		notifyAt = &t
	} else {
		dismissed = 1
	}
	_, err := d.db.Pool.Exec(ctx,
		`INSERT INTO kolab_alarms (event_id, user_id, dismissed, notifyat)
		 VALUES ($1, $2, $3, $4)
		 ON CONFLICT (event_id, user_id)
		 DO UPDATE SET dismissed = EXCLUDED.dismissed, notifyat = EXCLUDED.notifyat`,
		eventID, sess.UserID, dismissed, notifyAt,
	)
	if err != nil {
		return fmt.Errorf("failed to record alarm state: %w", err)
	}
	return nil
}

// Attachments live inside the event document itself, so serving them
// is a matter of re-reading the addressed record. A detached exception
// carries its own attachment set.
func (d *Driver) ListAttachments(ctx context.Context, sess *store.Session, ev *models.Event) ([]*models.Attachment, error) {
	loaded, err := d.GetEvent(ctx, sess, attachmentOwnerID(ev))
	if err != nil {
		return nil, err
	}
	return loaded.Attachments, nil
}

func (d *Driver) GetAttachment(ctx context.Context, sess *store.Session, id string, ev *models.Event) (*models.Attachment, error) {
	atts, err := d.ListAttachments(ctx, sess, ev)
	if err != nil {
		return nil, err
	}
	for _, att := range atts {
		if att.ID == id {
			return att, nil
		}
	}
	return nil, store.ErrNotFound
}

func (d *Driver) GetAttachmentBody(ctx context.Context, sess *store.Session, id string, ev *models.Event) ([]byte, error) {
	att, err := d.GetAttachment(ctx, sess, id, ev)
	if err != nil {
		return nil, err
	}
	return att.Data, nil
}

func attachmentOwnerID(ev *models.Event) string {
	if ev.ID != "" {
		return ev.ID
	}
	return ev.UID
}

func (d *Driver) ListCategories(ctx context.Context, sess *store.Session) (map[string]string, error) {
	palette := make(map[string]string, len(categoryPalette))
	for name, color := range categoryPalette {
		palette[name] = color
	}
	return palette, nil
}

func (d *Driver) AddCategory(ctx context.Context, sess *store.Session, name, color string) error {
	return store.ErrImmutableCategories
}

func (d *Driver) ReplaceCategory(ctx context.Context, sess *store.Session, oldName, name, color string) error {
	return store.ErrImmutableCategories
}

func (d *Driver) RemoveCategory(ctx context.Context, sess *store.Session, name string) error {
	return store.ErrImmutableCategories
}

// notifyFreeBusy announces that the user's availability changed. The
// actual trigger is an out-of-band HTTP hook in deployments that run
// one; failures must never surface into the save path.
func (d *Driver) notifyFreeBusy(sess *store.Session, ev *models.Event) {
	if ev.FreeBusy == models.FreeBusyFree {
		return
	}
	log.Printf("freebusy: availability of %s changed", sess.Username)
}
