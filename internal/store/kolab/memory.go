package kolab

import (
	"context"
	"sort"
	"sync"

	"github.com/Acidburn0zzz/cubemail/internal/store"
)

// MemoryStorage is an in-process Storage used by tests and as a model
// of the IMAP semantics: soft deletes, per-folder uid keyed objects and
// folder annotations.
type MemoryStorage struct {
	mu       sync.Mutex
	folders  map[string]*memFolder
	readOnly map[string]bool
}

type memFolder struct {
	objects  map[string]*Object
	metadata map[string]string
}

func NewMemoryStorage(folders ...string) *MemoryStorage {
	s := &MemoryStorage{
		folders:  make(map[string]*memFolder),
		readOnly: make(map[string]bool),
	}
	for _, name := range folders {
		s.folders[name] = newMemFolder()
	}
	return s
}

func newMemFolder() *memFolder {
	return &memFolder{
		objects:  make(map[string]*Object),
		metadata: make(map[string]string),
	}
}

// MarkReadOnly flags a folder as not writable by the session user.
func (s *MemoryStorage) MarkReadOnly(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.readOnly[name] = true
}

func (s *MemoryStorage) Folders(ctx context.Context, sess *store.Session) ([]*FolderInfo, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	names := make([]string, 0, len(s.folders))
	for name := range s.folders {
		names = append(names, name)
	}
	sort.Strings(names)

	infos := make([]*FolderInfo, 0, len(names))
	for _, name := range names {
		infos = append(infos, &FolderInfo{Name: name, ReadOnly: s.readOnly[name]})
	}
	return infos, nil
}

func (s *MemoryStorage) CreateFolder(ctx context.Context, sess *store.Session, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.folders[name]; !ok {
		s.folders[name] = newMemFolder()
	}
	return nil
}

func (s *MemoryStorage) RenameFolder(ctx context.Context, sess *store.Session, oldName, newName string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	f, ok := s.folders[oldName]
	if !ok {
		return store.ErrNotFound
	}
	delete(s.folders, oldName)
	s.folders[newName] = f
	return nil
}

func (s *MemoryStorage) DeleteFolder(ctx context.Context, sess *store.Session, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.folders[name]; !ok {
		return store.ErrNotFound
	}
	delete(s.folders, name)
	return nil
}

func (s *MemoryStorage) Objects(ctx context.Context, sess *store.Session, folder string, withDeleted bool) ([]*Object, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	f, ok := s.folders[folder]
	if !ok {
		return nil, store.ErrInvalidCalendar
	}

	uids := make([]string, 0, len(f.objects))
	for uid := range f.objects {
		uids = append(uids, uid)
	}
	sort.Strings(uids)

	var objects []*Object
	for _, uid := range uids {
		obj := f.objects[uid]
		if obj.Deleted && !withDeleted {
			continue
		}
		copied := *obj
		objects = append(objects, &copied)
	}
	return objects, nil
}

func (s *MemoryStorage) Get(ctx context.Context, sess *store.Session, folder, uid string) (*Object, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	f, ok := s.folders[folder]
	if !ok {
		return nil, store.ErrInvalidCalendar
	}
	obj, ok := f.objects[uid]
	if !ok {
		return nil, store.ErrNotFound
	}
	copied := *obj
	return &copied, nil
}

func (s *MemoryStorage) Put(ctx context.Context, sess *store.Session, folder, uid, ics string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	f, ok := s.folders[folder]
	if !ok {
		return store.ErrInvalidCalendar
	}
	if s.readOnly[folder] {
		return store.ErrReadOnly
	}
	f.objects[uid] = &Object{UID: uid, ICS: ics}
	return nil
}

func (s *MemoryStorage) Delete(ctx context.Context, sess *store.Session, folder, uid string, expunge bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	f, ok := s.folders[folder]
	if !ok {
		return store.ErrInvalidCalendar
	}
	if s.readOnly[folder] {
		return store.ErrReadOnly
	}
	obj, ok := f.objects[uid]
	if !ok {
		return store.ErrNotFound
	}
	if expunge {
		delete(f.objects, uid)
	} else {
		obj.Deleted = true
	}
	return nil
}

func (s *MemoryStorage) Undelete(ctx context.Context, sess *store.Session, folder, uid string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	f, ok := s.folders[folder]
	if !ok {
		return store.ErrInvalidCalendar
	}
	obj, ok := f.objects[uid]
	if !ok || !obj.Deleted {
		return store.ErrNotFound
	}
	obj.Deleted = false
	return nil
}

func (s *MemoryStorage) GetMetadata(ctx context.Context, sess *store.Session, folder string) (map[string]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	f, ok := s.folders[folder]
	if !ok {
		return nil, store.ErrInvalidCalendar
	}
	entries := make(map[string]string, len(f.metadata))
	for k, v := range f.metadata {
		entries[k] = v
	}
	return entries, nil
}

func (s *MemoryStorage) SetMetadata(ctx context.Context, sess *store.Session, folder string, entries map[string]string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	f, ok := s.folders[folder]
	if !ok {
		return store.ErrInvalidCalendar
	}
	for k, v := range entries {
		f.metadata[k] = v
	}
	return nil
}
