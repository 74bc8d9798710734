package kolab

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/emersion/go-imap"
	uidplus "github.com/emersion/go-imap-uidplus"
	"github.com/emersion/go-imap/client"

	"github.com/Acidburn0zzz/cubemail/internal/store"
)

const (
	otherUsersPrefix  = "Other Users/"
	sharedPrefix      = "Shared Folders/"
	calendarMimeType  = "text/calendar; charset=UTF-8; method=PUBLISH"
	messageTimeLayout = time.RFC1123Z
)

// IMAPStorage persists calendar objects as messages in IMAP folders,
// one message per object, addressed by the object uid in the Subject
// header. Connections are established per operation with the session's
// credentials.
type IMAPStorage struct {
	Addr string // host:port, implicit TLS
}

func NewIMAPStorage(addr string) *IMAPStorage {
	return &IMAPStorage{Addr: addr}
}

func (s *IMAPStorage) connect(sess *store.Session) (*client.Client, error) {
	if sess == nil || sess.Credentials == nil {
		return nil, fmt.Errorf("imap: session has no credentials")
	}
	login, password, err := sess.Credentials()
	if err != nil {
		return nil, fmt.Errorf("imap: failed to acquire credentials: %w", err)
	}
	c, err := client.DialTLS(s.Addr, nil)
	if err != nil {
		return nil, fmt.Errorf("imap: failed to connect to %s: %w", s.Addr, err)
	}
	if err := c.Login(login, password); err != nil {
		c.Logout()
		return nil, fmt.Errorf("imap: login failed for %s: %w", login, err)
	}
	return c, nil
}

func (s *IMAPStorage) Folders(ctx context.Context, sess *store.Session) ([]*FolderInfo, error) {
	c, err := s.connect(sess)
	if err != nil {
		return nil, err
	}
	defer c.Logout()

	mailboxes := make(chan *imap.MailboxInfo, 16)
	done := make(chan error, 1)
	go func() {
		done <- c.List("", "*", mailboxes)
	}()

	var infos []*FolderInfo
	for m := range mailboxes {
		if hasAttr(m.Attributes, imap.NoSelectAttr) {
			continue
		}
		infos = append(infos, &FolderInfo{
			Name:     m.Name,
			Owner:    folderOwner(m.Name),
			ReadOnly: strings.HasPrefix(m.Name, sharedPrefix),
		})
	}
	if err := <-done; err != nil {
		return nil, fmt.Errorf("imap: failed to list folders: %w", err)
	}
	return infos, nil
}

// folderOwner extracts the owning login from a shared-namespace path.
func folderOwner(name string) string {
	if !strings.HasPrefix(name, otherUsersPrefix) {
		return ""
	}
	rest := strings.TrimPrefix(name, otherUsersPrefix)
	if i := strings.IndexByte(rest, '/'); i > 0 {
		return rest[:i]
	}
	return rest
}

func hasAttr(attrs []string, want string) bool {
	for _, a := range attrs {
		if strings.EqualFold(a, want) {
			return true
		}
	}
	return false
}

func (s *IMAPStorage) CreateFolder(ctx context.Context, sess *store.Session, name string) error {
	c, err := s.connect(sess)
	if err != nil {
		return err
	}
	defer c.Logout()
	if err := c.Create(name); err != nil {
		return fmt.Errorf("imap: failed to create folder %s: %w", name, err)
	}
	return nil
}

func (s *IMAPStorage) RenameFolder(ctx context.Context, sess *store.Session, oldName, newName string) error {
	c, err := s.connect(sess)
	if err != nil {
		return err
	}
	defer c.Logout()
	if err := c.Rename(oldName, newName); err != nil {
		return fmt.Errorf("imap: failed to rename folder %s: %w", oldName, err)
	}
	return nil
}

func (s *IMAPStorage) DeleteFolder(ctx context.Context, sess *store.Session, name string) error {
	c, err := s.connect(sess)
	if err != nil {
		return err
	}
	defer c.Logout()
	if err := c.Delete(name); err != nil {
		return fmt.Errorf("imap: failed to delete folder %s: %w", name, err)
	}
	return nil
}

func (s *IMAPStorage) Objects(ctx context.Context, sess *store.Session, folder string, withDeleted bool) ([]*Object, error) {
	c, err := s.connect(sess)
	if err != nil {
		return nil, err
	}
	defer c.Logout()

	mbox, err := c.Select(folder, true)
	if err != nil {
		return nil, store.ErrInvalidCalendar
	}
	if mbox.Messages == 0 {
		return nil, nil
	}

	seqset := new(imap.SeqSet)
	seqset.AddRange(1, mbox.Messages)
	objects, err := s.fetch(c, seqset, false, withDeleted)
	if err != nil {
		return nil, err
	}
	return dedupeObjects(objects), nil
}

// dedupeObjects collapses leftover replaced revisions sharing a uid,
// which servers without UIDPLUS accumulate. The live revision wins;
// among deleted ones the last appended is kept.
func dedupeObjects(objects []*Object) []*Object {
	index := make(map[string]int, len(objects))
	var out []*Object
	for _, obj := range objects {
		i, seen := index[obj.UID]
		if !seen {
			index[obj.UID] = len(out)
			out = append(out, obj)
			continue
		}
		if out[i].Deleted || !obj.Deleted {
			out[i] = obj
		}
	}
	return out
}

func (s *IMAPStorage) Get(ctx context.Context, sess *store.Session, folder, uid string) (*Object, error) {
	c, err := s.connect(sess)
	if err != nil {
		return nil, err
	}
	defer c.Logout()

	ids, err := s.findMessage(c, folder, uid)
	if err != nil {
		return nil, err
	}

	seqset := new(imap.SeqSet)
	seqset.AddNum(ids...)
	objects, err := s.fetch(c, seqset, true, true)
	if err != nil {
		return nil, err
	}
	objects = dedupeObjects(objects)
	if len(objects) == 0 {
		return nil, store.ErrNotFound
	}
	return objects[0], nil
}

// findMessage locates the message(s) carrying an object uid.
func (s *IMAPStorage) findMessage(c *client.Client, folder, uid string) ([]uint32, error) {
	if _, err := c.Select(folder, false); err != nil {
		return nil, store.ErrInvalidCalendar
	}
	criteria := imap.NewSearchCriteria()
	criteria.Header.Add("Subject", uid)
	ids, err := c.UidSearch(criteria)
	if err != nil {
		return nil, fmt.Errorf("imap: search failed: %w", err)
	}
	if len(ids) == 0 {
		return nil, store.ErrNotFound
	}
	return ids, nil
}

func (s *IMAPStorage) fetch(c *client.Client, seqset *imap.SeqSet, byUID, withDeleted bool) ([]*Object, error) {
	section := &imap.BodySectionName{Peek: true}
	items := []imap.FetchItem{section.FetchItem(), imap.FetchFlags, imap.FetchEnvelope}

	messages := make(chan *imap.Message, 16)
	done := make(chan error, 1)
	go func() {
		if byUID {
			done <- c.UidFetch(seqset, items, messages)
		} else {
			done <- c.Fetch(seqset, items, messages)
		}
	}()

	var objects []*Object
	for msg := range messages {
		deleted := hasAttr(msg.Flags, imap.DeletedFlag)
		if deleted && !withDeleted {
			continue
		}
		r := msg.GetBody(section)
		if r == nil || msg.Envelope == nil {
			continue
		}
		body, err := io.ReadAll(r)
		if err != nil {
			return nil, fmt.Errorf("imap: failed to read message body: %w", err)
		}
		objects = append(objects, &Object{
			UID:     msg.Envelope.Subject,
			ICS:     extractICS(string(body)),
			Deleted: deleted,
		})
	}
	if err := <-done; err != nil {
		return nil, fmt.Errorf("imap: fetch failed: %w", err)
	}
	return objects, nil
}

// extractICS strips the RFC 822 header block from a stored message.
func extractICS(body string) string {
	body = strings.ReplaceAll(body, "\r\n", "\n")
	if i := strings.Index(body, "\n\n"); i >= 0 {
		return strings.ReplaceAll(body[i+2:], "\n", "\r\n")
	}
	return strings.ReplaceAll(body, "\n", "\r\n")
}

func (s *IMAPStorage) Put(ctx context.Context, sess *store.Session, folder, uid, ics string) error {
	c, err := s.connect(sess)
	if err != nil {
		return err
	}
	defer c.Logout()

	// replace-by-append: flag any previous revision deleted first
	var old []uint32
	if ids, err := s.findMessage(c, folder, uid); err == nil {
		if err := s.flagDeleted(c, ids); err != nil {
			return err
		}
		old = ids
	} else if err != store.ErrNotFound {
		return err
	}

	var msg bytes.Buffer
	fmt.Fprintf(&msg, "Date: %s\r\n", time.Now().Format(messageTimeLayout))
	fmt.Fprintf(&msg, "From: %s\r\n", sess.Email)
	fmt.Fprintf(&msg, "Subject: %s\r\n", uid)
	fmt.Fprintf(&msg, "Content-Type: %s\r\n", calendarMimeType)
	msg.WriteString("\r\n")
	msg.WriteString(ics)

	if err := c.Append(folder, nil, time.Now(), &msg); err != nil {
		return fmt.Errorf("imap: failed to store object %s: %w", uid, err)
	}
	return s.expungeRevisions(c, old)
}

// expungeRevisions removes the replaced revisions of an object. A
// folder-wide EXPUNGE would also destroy soft-deleted events kept
// around for undelete, so the expunge must stay scoped to the given
// uids. Without UIDPLUS the flagged revisions stay behind and the
// readers pick the live one.
func (s *IMAPStorage) expungeRevisions(c *client.Client, ids []uint32) error {
	if len(ids) == 0 {
		return nil
	}
	up := uidplus.NewClient(c)
	if ok, err := up.SupportUidPlus(); err != nil || !ok {
		return nil
	}
	seqset := new(imap.SeqSet)
	seqset.AddNum(ids...)
	if err := up.UidExpunge(seqset, nil); err != nil {
		return fmt.Errorf("imap: failed to expunge replaced revisions: %w", err)
	}
	return nil
}

func (s *IMAPStorage) flagDeleted(c *client.Client, ids []uint32) error {
	seqset := new(imap.SeqSet)
	seqset.AddNum(ids...)
	item := imap.FormatFlagsOp(imap.AddFlags, true)
	flags := []interface{}{imap.DeletedFlag}
	if err := c.UidStore(seqset, item, flags, nil); err != nil {
		return fmt.Errorf("imap: failed to flag message deleted: %w", err)
	}
	return nil
}

func (s *IMAPStorage) Delete(ctx context.Context, sess *store.Session, folder, uid string, expunge bool) error {
	c, err := s.connect(sess)
	if err != nil {
		return err
	}
	defer c.Logout()

	ids, err := s.findMessage(c, folder, uid)
	if err != nil {
		return err
	}
	if err := s.flagDeleted(c, ids); err != nil {
		return err
	}
	if expunge {
		if err := c.Expunge(nil); err != nil {
			return fmt.Errorf("imap: expunge failed: %w", err)
		}
	}
	return nil
}

func (s *IMAPStorage) Undelete(ctx context.Context, sess *store.Session, folder, uid string) error {
	c, err := s.connect(sess)
	if err != nil {
		return err
	}
	defer c.Logout()

	ids, err := s.findMessage(c, folder, uid)
	if err != nil {
		return err
	}
	seqset := new(imap.SeqSet)
	seqset.AddNum(ids...)
	item := imap.FormatFlagsOp(imap.RemoveFlags, true)
	flags := []interface{}{imap.DeletedFlag}
	if err := c.UidStore(seqset, item, flags, nil); err != nil {
		return fmt.Errorf("imap: failed to restore message: %w", err)
	}
	return nil
}

// GetMetadata is unsupported by plain IMAP; callers fall back to user
// preferences for folder color and alarm settings.
func (s *IMAPStorage) GetMetadata(ctx context.Context, sess *store.Session, folder string) (map[string]string, error) {
	return nil, store.ErrNotSupported
}

func (s *IMAPStorage) SetMetadata(ctx context.Context, sess *store.Session, folder string, entries map[string]string) error {
	return store.ErrNotSupported
}
