package kolab

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/Acidburn0zzz/cubemail/internal/ical"
	"github.com/Acidburn0zzz/cubemail/internal/models"
	"github.com/Acidburn0zzz/cubemail/internal/recurrence"
	"github.com/Acidburn0zzz/cubemail/internal/store"
)

// syntheticLookupYears bounds the expansion when resolving an
// occurrence id whose date is not known in advance.
const syntheticLookupYears = 10

// Calendar binds one storage folder to the event model. Folder paths
// leak IMAP details, so the public calendar id is a digest of the path.
type Calendar struct {
	storage Storage
	info    *FolderInfo
	id      string
}

func newCalendar(storage Storage, info *FolderInfo) *Calendar {
	return &Calendar{storage: storage, info: info, id: FolderID(info.Name)}
}

// FolderID derives the stable public id of a folder path.
func FolderID(name string) string {
	sum := md5.Sum([]byte(name))
	return hex.EncodeToString(sum[:])
}

func (c *Calendar) ID() string     { return c.id }
func (c *Calendar) Name() string   { return c.info.Name }
func (c *Calendar) ReadOnly() bool { return c.info.ReadOnly }

// DisplayName is the folder path with namespace prefixes resolved to
// something presentable.
func (c *Calendar) DisplayName() string {
	name := c.info.Name
	if c.info.Owner != "" {
		name = strings.TrimPrefix(name, otherUsersPrefix)
		return fmt.Sprintf("%s (%s)", name[strings.IndexByte(name, '/')+1:], c.info.Owner)
	}
	return strings.TrimPrefix(name, sharedPrefix)
}

const occurrenceKeyLayout = "20060102T150405Z"

func occurrenceKey(t time.Time) string {
	return t.UTC().Format(occurrenceKeyLayout)
}

// decodeObject parses a stored object into its master event and any
// detached exceptions keyed by the occurrence start they replace.
func (c *Calendar) decodeObject(obj *Object, loc *time.Location) (*models.Event, map[string]*models.Event, error) {
	events, err := ical.Import(obj.ICS, loc)
	if err != nil {
		return nil, nil, fmt.Errorf("calendar %s: object %s: %w", c.id, obj.UID, err)
	}
	if len(events) == 0 {
		return nil, nil, fmt.Errorf("calendar %s: object %s has no events", c.id, obj.UID)
	}

	var master *models.Event
	exceptions := make(map[string]*models.Event)
	for _, ev := range events {
		ev.Calendar = c.id
		if ev.RecurrenceID == "" {
			if master == nil {
				master = ev
			}
			continue
		}
		if t, err := recurrence.ParseUTCTime(ev.RecurrenceID); err == nil {
			exceptions[occurrenceKey(t)] = ev
		}
	}
	if master == nil {
		master = events[0]
	}
	master.ID = master.UID
	return master, exceptions, nil
}

// ListEvents returns the events overlapping [start, end], expanding
// recurring masters into virtual occurrences with synthetic uid-N ids.
func (c *Calendar) ListEvents(ctx context.Context, sess *store.Session, start, end time.Time, search string) ([]*models.Event, error) {
	objects, err := c.storage.Objects(ctx, sess, c.info.Name, false)
	if err != nil {
		return nil, err
	}

	var out []*models.Event
	for _, obj := range objects {
		master, exceptions, err := c.decodeObject(obj, sess.Loc())
		if err != nil {
			continue // skip undecodable objects, the rest stays usable
		}
		if search != "" && !matchesSearch(master, search) {
			continue
		}
		if !master.IsRecurring() {
			if overlaps(master, start, end) {
				out = append(out, master)
			}
			continue
		}
		out = append(out, c.expand(master, exceptions, start, end)...)
	}
	return out, nil
}

// expand generates the in-range occurrences of a recurring master. The
// master itself stands for the first occurrence; later ones become
// virtual copies unless a detached exception replaces them.
func (c *Calendar) expand(master *models.Event, exceptions map[string]*models.Event, start, end time.Time) []*models.Event {
	var out []*models.Event
	if overlaps(master, start, end) {
		out = append(out, master)
	}

	duration := master.Duration()
	exp := recurrence.NewExpander(master.Start, master.Recurrence, master.Start.Location())
	for i := 1; ; i++ {
		next, ok := exp.Next()
		if !ok {
			break
		}
		if next.After(end) {
			break
		}
		if next.Add(duration).Before(start) {
			continue
		}

		if ex, ok := exceptions[occurrenceKey(next)]; ok {
			ex.ID = master.UID + "-" + strconv.Itoa(i)
			ex.RecurrenceID = master.UID
			ex.Instance = i
			out = append(out, ex)
			continue
		}

		occ := master.Clone()
		occ.ID = master.UID + "-" + strconv.Itoa(i)
		occ.RecurrenceID = master.UID
		occ.Instance = i
		occ.Recurrence = nil
		occ.Start = next
		occ.End = next.Add(duration)
		out = append(out, occ)
	}
	return out
}

// GetEvent resolves an object uid or a synthetic occurrence id.
func (c *Calendar) GetEvent(ctx context.Context, sess *store.Session, idOrUID string, withDeleted bool) (*models.Event, error) {
	obj, err := c.storage.Get(ctx, sess, c.info.Name, idOrUID)
	if err == nil {
		if obj.Deleted && !withDeleted {
			return nil, store.ErrNotFound
		}
		master, _, err := c.decodeObject(obj, sess.Loc())
		return master, err
	}
	if err != store.ErrNotFound {
		return nil, err
	}

	// uid-N occurrence ids have no stored object of their own
	uid, instance, ok := splitSyntheticID(idOrUID)
	if !ok {
		return nil, store.ErrNotFound
	}
	obj, err = c.storage.Get(ctx, sess, c.info.Name, uid)
	if err != nil {
		return nil, err
	}
	master, exceptions, err := c.decodeObject(obj, sess.Loc())
	if err != nil {
		return nil, err
	}
	if !master.IsRecurring() {
		return nil, store.ErrNotFound
	}

	horizon := master.Start.AddDate(syntheticLookupYears, 0, 0)
	for _, occ := range c.expand(master, exceptions, master.Start, horizon) {
		if occ.Instance == instance {
			return occ, nil
		}
	}
	return nil, store.ErrNotFound
}

func splitSyntheticID(id string) (uid string, instance int, ok bool) {
	i := strings.LastIndexByte(id, '-')
	if i <= 0 || i == len(id)-1 {
		return "", 0, false
	}
	n, err := strconv.Atoi(id[i+1:])
	if err != nil || n < 1 {
		return "", 0, false
	}
	return id[:i], n, true
}

// SaveObject writes a master event and its exceptions back as one
// iCalendar document.
func (c *Calendar) SaveObject(ctx context.Context, sess *store.Session, master *models.Event, exceptions []*models.Event) error {
	if c.info.ReadOnly {
		return store.ErrReadOnly
	}
	events := append([]*models.Event{master}, exceptions...)
	return c.storage.Put(ctx, sess, c.info.Name, master.UID, ical.Export(events, ""))
}

// Exceptions returns the detached exception events stored with a
// master, sorted by the occurrence they replace.
func (c *Calendar) Exceptions(ctx context.Context, sess *store.Session, uid string) ([]*models.Event, error) {
	obj, err := c.storage.Get(ctx, sess, c.info.Name, uid)
	if err != nil {
		return nil, err
	}
	_, exceptions, err := c.decodeObject(obj, sess.Loc())
	if err != nil {
		return nil, err
	}
	out := make([]*models.Event, 0, len(exceptions))
	for _, ex := range exceptions {
		out = append(out, ex)
	}
	return out, nil
}

func (c *Calendar) DeleteObject(ctx context.Context, sess *store.Session, uid string, expunge bool) error {
	if c.info.ReadOnly {
		return store.ErrReadOnly
	}
	return c.storage.Delete(ctx, sess, c.info.Name, uid, expunge)
}

func (c *Calendar) RestoreObject(ctx context.Context, sess *store.Session, uid string) error {
	if c.info.ReadOnly {
		return store.ErrReadOnly
	}
	return c.storage.Undelete(ctx, sess, c.info.Name, uid)
}

func overlaps(ev *models.Event, start, end time.Time) bool {
	return !ev.Start.After(end) && !ev.End.Before(start)
}

func matchesSearch(ev *models.Event, search string) bool {
	search = strings.ToLower(search)
	for _, field := range []string{ev.Title, ev.Description, ev.Location, ev.Categories} {
		if strings.Contains(strings.ToLower(field), search) {
			return true
		}
	}
	for _, att := range ev.Attendees {
		if strings.Contains(strings.ToLower(att.Name), search) ||
			strings.Contains(strings.ToLower(att.Email), search) {
			return true
		}
	}
	return false
}
