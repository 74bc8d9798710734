// Package kolab implements the document-oriented event store: events
// live as iCalendar objects inside per-user IMAP folders, recurring
// series stay single objects and occurrences are derived on read.
package kolab

import (
	"context"

	"github.com/Acidburn0zzz/cubemail/internal/store"
)

// Folder metadata annotation keys, mirroring the IMAP METADATA names
// used for calendar folders.
const (
	MetaColor      = "/shared/vendor/kolab/color"
	MetaShowAlarms = "/private/vendor/kolab/showalarms"
	MetaType       = "/shared/vendor/kolab/folder-type"
)

// FolderInfo describes one calendar folder as seen by the session user.
type FolderInfo struct {
	Name     string // full folder path, e.g. "Calendar" or "Other Users/john/Calendar"
	Owner    string // owning login, empty for the session user's own folders
	ReadOnly bool
}

// Object is one stored calendar object: a master event together with
// its detached exceptions, serialized as a single iCalendar document.
type Object struct {
	UID     string
	ICS     string
	Deleted bool // flagged for deletion but still recoverable
}

// Storage is the folder-level persistence behind the kolab store. The
// production implementation speaks IMAP; tests use the in-memory one.
type Storage interface {
	Folders(ctx context.Context, sess *store.Session) ([]*FolderInfo, error)
	CreateFolder(ctx context.Context, sess *store.Session, name string) error
	RenameFolder(ctx context.Context, sess *store.Session, oldName, newName string) error
	DeleteFolder(ctx context.Context, sess *store.Session, name string) error

	// Objects lists the folder contents. Soft-deleted objects are
	// included only when withDeleted is set.
	Objects(ctx context.Context, sess *store.Session, folder string, withDeleted bool) ([]*Object, error)
	Get(ctx context.Context, sess *store.Session, folder, uid string) (*Object, error)
	// Put stores or replaces the object with the given uid.
	Put(ctx context.Context, sess *store.Session, folder, uid, ics string) error
	// Delete flags the object deleted; expunge makes it unrecoverable.
	Delete(ctx context.Context, sess *store.Session, folder, uid string, expunge bool) error
	Undelete(ctx context.Context, sess *store.Session, folder, uid string) error

	// Folder annotations. Implementations without METADATA support
	// return store.ErrNotSupported and callers fall back to prefs.
	GetMetadata(ctx context.Context, sess *store.Session, folder string) (map[string]string, error)
	SetMetadata(ctx context.Context, sess *store.Session, folder string, entries map[string]string) error
}
