package token

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/gofrs/flock"
	"github.com/jonboulle/clockwork"
)

// snapshotPerm keeps the snapshot owner-only; it holds bearer tokens.
const snapshotPerm = 0o600

// FileStore mirrors credential state to a JSON snapshot on disk so that
// sessions survive process restarts. It offers the same contracts as
// Cache, but every mutation rewrites the snapshot.
//
// The snapshot is always replaced atomically (write to a temp file, then
// rename), and the file is guarded by an advisory lock held only for the
// duration of the read or write, so cooperating processes do not corrupt
// each other. The design still assumes a single writer in steady state.
type FileStore struct {
	path    string
	mu      sync.Mutex
	clock   clockwork.Clock
	logger  *slog.Logger
	records map[string]*Record
}

// NewFileStore creates a store backed by the snapshot at path and loads
// it immediately. A missing snapshot starts empty. A corrupt or
// unreadable snapshot also starts empty: losing persisted sessions is
// preferred over a crash-looping service, but the fallback is logged
// loudly so it never passes unnoticed.
func NewFileStore(path string) *FileStore {
	return NewFileStoreWithClock(path, clockwork.NewRealClock())
}

// NewFileStoreWithClock creates a store with an injected clock for tests.
func NewFileStoreWithClock(path string, clock clockwork.Clock) *FileStore {
	s := &FileStore{
		path:    path,
		clock:   clock,
		logger:  slog.Default(),
		records: make(map[string]*Record),
	}
	s.load()
	return s
}

// SetLogger sets a custom logger for the store.
func (s *FileStore) SetLogger(logger *slog.Logger) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.logger = logger
}

// Path returns the snapshot location.
func (s *FileStore) Path() string {
	return s.path
}

// load reads the snapshot into memory. Callers must not hold s.mu when
// the store is shared; the constructor and Reload serialize access.
func (s *FileStore) load() {
	if _, err := os.Stat(s.path); err != nil {
		s.records = make(map[string]*Record)
		return
	}

	lock := flock.New(s.path)
	if err := lock.RLock(); err != nil {
		s.logger.Error("could not acquire shared lock on token snapshot, starting empty",
			"path", s.path, "error", err)
		s.records = make(map[string]*Record)
		return
	}
	data, err := os.ReadFile(s.path)
	_ = lock.Unlock()

	if err != nil {
		s.logger.Error("token snapshot unreadable, starting empty",
			"path", s.path, "error", err)
		s.records = make(map[string]*Record)
		return
	}

	var records map[string]*Record
	if err := json.Unmarshal(data, &records); err != nil {
		// Availability over durability: a corrupt snapshot must not
		// crash-loop the service. Users re-authenticate instead.
		s.logger.Error("token snapshot corrupt, discarding persisted credentials",
			"path", s.path, "error", err)
		s.records = make(map[string]*Record)
		return
	}
	if records == nil {
		records = make(map[string]*Record)
	}
	s.records = records
}

// save writes the full in-memory snapshot to disk. This is the one
// operation allowed to fail loudly: a failed persist is never silently
// swallowed. Must be called with s.mu held.
func (s *FileStore) save() error {
	data, err := json.MarshalIndent(s.records, "", "  ")
	if err != nil {
		return fmt.Errorf("%w: marshal snapshot: %v", ErrPersistence, err)
	}

	if dir := filepath.Dir(s.path); dir != "." {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return fmt.Errorf("%w: create snapshot directory: %v", ErrPersistence, err)
		}
	}

	lock := flock.New(s.path)
	if err := lock.Lock(); err != nil {
		return fmt.Errorf("%w: acquire exclusive lock: %v", ErrPersistence, err)
	}
	defer func() { _ = lock.Unlock() }()

	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, snapshotPerm); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("%w: write temp snapshot: %v", ErrPersistence, err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("%w: replace snapshot: %v", ErrPersistence, err)
	}
	if err := os.Chmod(s.path, snapshotPerm); err != nil {
		return fmt.Errorf("%w: restrict snapshot permissions: %v", ErrPersistence, err)
	}
	return nil
}

// Store records a credential for an identity and persists the snapshot.
// The in-memory record is kept even when persisting fails, so the error
// return tells the caller durability was lost.
func (s *FileStore) Store(identity string, fields Fields) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.records[identity] = newRecord(fields, s.clock.Now())
	return s.save()
}

// Get returns a copy of the stored record, or false if absent.
func (s *FileStore) Get(identity string) (*Record, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.records[identity]
	if !ok {
		return nil, false
	}
	return r.clone(), true
}

// IsValid reports whether a usable credential exists for the identity,
// honoring the same safety buffer as the Cache.
func (s *FileStore) IsValid(identity string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.records[identity]
	if !ok {
		return false
	}
	return r.usable(s.clock.Now())
}

// Remove deletes the credential for an identity and persists. Removing
// an absent identity is a no-op and does not touch the disk.
func (s *FileStore) Remove(identity string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.records[identity]; !ok {
		return nil
	}
	delete(s.records, identity)
	return s.save()
}

// Identities returns the identities present in the snapshot.
func (s *FileStore) Identities() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	ids := make([]string, 0, len(s.records))
	for id := range s.records {
		ids = append(ids, id)
	}
	return ids
}

// Clear removes all credentials and persists the empty snapshot.
func (s *FileStore) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.records = make(map[string]*Record)
	return s.save()
}

// Reload discards in-memory state and re-reads the snapshot, picking up
// out-of-band edits made by another process.
func (s *FileStore) Reload() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.load()
}

// IsPersistenceError reports whether err is a durability failure.
func IsPersistenceError(err error) bool {
	return errors.Is(err, ErrPersistence)
}
