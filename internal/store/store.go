// Package store defines the backend-agnostic event storage interface
// implemented by the relational (dbcal) and document (kolab) drivers.
package store

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/Acidburn0zzz/cubemail/internal/models"
)

// SaveMode is the caller-supplied intent that disambiguates how an edit
// or delete of one occurrence affects the rest of a recurring series.
type SaveMode string

const (
	SaveModeAll     SaveMode = "all"
	SaveModeCurrent SaveMode = "current"
	SaveModeFuture  SaveMode = "future"
	SaveModeNew     SaveMode = "new"
)

var (
	ErrNotFound            = errors.New("record not found")
	ErrInvalidCalendar     = errors.New("invalid calendar reference")
	ErrReadOnly            = errors.New("calendar is read-only")
	ErrImmutableCategories = errors.New("category palette is immutable")
	ErrNotSupported        = errors.New("operation not supported by this backend")
)

// Session is the execution context accompanying every store call:
// identity, timezone preference and a credential-acquisition capability
// for backends that authenticate per user. It replaces the ambient
// globals of the legacy design.
type Session struct {
	UserID   int64
	Username string
	Email    string
	Location *time.Location

	// Credentials returns the login and decrypted password for backend
	// authentication. Optional; only document backends consult it.
	Credentials func() (login, password string, err error)

	mu    sync.Mutex
	cache map[string]*models.Event
}

// Loc returns the session timezone, defaulting to UTC.
func (s *Session) Loc() *time.Location {
	if s == nil || s.Location == nil {
		return time.UTC
	}
	return s.Location
}

// CacheGet returns a copy of an event already read during this session.
// The cache dies with the session, so other writers can only be shadowed
// for the span of one request.
func (s *Session) CacheGet(key string) *models.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	if ev, ok := s.cache[key]; ok {
		return ev.Clone()
	}
	return nil
}

func (s *Session) CachePut(key string, ev *models.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cache == nil {
		s.cache = make(map[string]*models.Event)
	}
	s.cache[key] = ev.Clone()
}

// DropCache clears the read cache. Stores call it after every write.
func (s *Session) DropCache() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cache = nil
}

// Capabilities describes optional backend features so callers can adapt
// without type switches.
type Capabilities struct {
	Alarms              bool
	Attendees           bool
	Attachments         bool
	FreeBusy            bool
	Undelete            bool
	CategoriesImmutable bool
}

// Store is the capability-set interface over calendar storage. Both
// backends expose identical operations so the edit propagator stays
// backend-agnostic. Mutating primitives here are raw: savemode
// dispatching lives in the propagate package.
type Store interface {
	Capabilities() Capabilities

	ListCalendars(ctx context.Context, sess *Session) ([]*models.Calendar, error)
	CreateCalendar(ctx context.Context, sess *Session, props *models.Calendar) (string, error)
	EditCalendar(ctx context.Context, sess *Session, props *models.Calendar) error
	RemoveCalendar(ctx context.Context, sess *Session, id string) error
	SubscribeCalendar(ctx context.Context, sess *Session, id string, active bool) error

	// GetEvent looks up by backend id or uid; ErrNotFound when absent.
	GetEvent(ctx context.Context, sess *Session, idOrUID string) (*models.Event, error)
	// LoadEvents returns events overlapping [start, end], optionally
	// filtered by a case-insensitive substring search and calendar ids.
	LoadEvents(ctx context.Context, sess *Session, start, end time.Time, search string, calendarIDs []string) ([]*models.Event, error)

	InsertEvent(ctx context.Context, sess *Session, ev *models.Event) (string, error)
	// UpdateEvent rewrites a single record and refreshes derived
	// occurrence state (materialized rows or cached expansions).
	UpdateEvent(ctx context.Context, sess *Session, ev *models.Event) error
	// DeleteEvent removes a master together with every instance sharing
	// its recurrence id. force requests irreversible removal where the
	// backend distinguishes soft deletes.
	DeleteEvent(ctx context.Context, sess *Session, ev *models.Event, force bool) error
	// DeleteInstance removes one materialized or detached instance
	// record; a no-op for purely virtual occurrences.
	DeleteInstance(ctx context.Context, sess *Session, ev *models.Event) error
	// DeleteFutureInstances removes materialized instances of master
	// starting at or after from; backends without materialized rows
	// treat this as a no-op (the master's UNTIL marks the cutoff).
	DeleteFutureInstances(ctx context.Context, sess *Session, master *models.Event, from time.Time) error
	RestoreEvent(ctx context.Context, sess *Session, ev *models.Event) error

	// PendingAlarms returns events whose notify-at has passed but whose
	// end has not, on calendars with alarms enabled, minus dismissed
	// state. Backends may rate-limit and return an empty slice.
	PendingAlarms(ctx context.Context, sess *Session, now time.Time, calendarIDs []string) ([]*models.Event, error)
	DismissAlarm(ctx context.Context, sess *Session, eventID string, snooze time.Duration) error

	ListAttachments(ctx context.Context, sess *Session, ev *models.Event) ([]*models.Attachment, error)
	GetAttachment(ctx context.Context, sess *Session, id string, ev *models.Event) (*models.Attachment, error)
	GetAttachmentBody(ctx context.Context, sess *Session, id string, ev *models.Event) ([]byte, error)

	ListCategories(ctx context.Context, sess *Session) (map[string]string, error)
	AddCategory(ctx context.Context, sess *Session, name, color string) error
	ReplaceCategory(ctx context.Context, sess *Session, oldName, name, color string) error
	RemoveCategory(ctx context.Context, sess *Session, name string) error
}
