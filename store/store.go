package store

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/billenewman4/itemcache/record"
)

const (
	dirPerm  = 0o755
	filePerm = 0o644
)

// Store reads and writes cache snapshots at a fixed path.
//
// Contract:
//   - Concurrency: safe for concurrent use. Save is atomic at the file
//     level; concurrent savers do not interleave bytes, last rename wins.
//   - Durability: Save writes to a temp file in the target directory,
//     fsyncs, then renames over the destination. A crash at any point
//     leaves either the previous file or the new one, never a partial.
//   - Errors: Load wraps decode and consistency failures in ErrCorrupt.
//     Save wraps consistency failures in ErrInvariant and never touches
//     the destination when validation fails.
type Store struct {
	path  string
	vocab record.Vocabulary
	now   func() time.Time
}

// Option configures a Store.
type Option func(*Store)

// WithVocabulary sets the acceptance vocabulary recorded in snapshot
// metadata. Defaults to record.DefaultVocabulary.
func WithVocabulary(v record.Vocabulary) Option {
	return func(s *Store) { s.vocab = slices.Clone(v) }
}

// WithClock overrides the time source used to stamp snapshots. Intended
// for tests.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// New creates a Store for the cache file at path. The file does not need
// to exist yet; Load treats a missing file as an empty cache.
func New(path string, opts ...Option) (*Store, error) {
	if path == "" {
		return nil, errors.New("store: path must not be empty")
	}
	s := &Store{
		path:  path,
		vocab: record.DefaultVocabulary(),
		now:   time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Path returns the cache file location.
func (s *Store) Path() string { return s.path }

// Vocabulary returns a copy of the acceptance vocabulary this store stamps
// into snapshot metadata.
func (s *Store) Vocabulary() record.Vocabulary { return slices.Clone(s.vocab) }

// Exists reports whether the cache file has been written. A cache that was
// never refreshed does not exist yet; Load would return an empty snapshot
// for it.
func (s *Store) Exists() (bool, error) {
	_, err := os.Stat(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("store: stat %s: %w", s.path, err)
	}
	return true, nil
}

// Load reads the current snapshot from disk.
//
// A missing file is not an error: it returns an empty snapshot so that the
// first refresh can bootstrap the cache. A file that exists but cannot be
// decoded, or that fails consistency checks, returns ErrCorrupt; Load never
// silently rebuilds over a corrupt file.
func (s *Store) Load() (*Snapshot, error) {
	data, err := os.ReadFile(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		return s.emptySnapshot(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("store: read %s: %w", s.path, err)
	}
	snap, err := decodeSnapshot(data)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrCorrupt, s.path, err)
	}
	if issues := snap.Validate(); len(issues) > 0 {
		return nil, fmt.Errorf("%w: %s: %s", ErrCorrupt, s.path, strings.Join(issues, "; "))
	}
	return snap, nil
}

// Save atomically replaces the cache file with the given snapshot.
//
// The snapshot is validated first; an inconsistent snapshot returns
// ErrInvariant and leaves the existing file untouched. The write path is
// temp file, fsync, rename, so a reader never observes a partial file.
func (s *Store) Save(snap *Snapshot) error {
	if issues := snap.Validate(); len(issues) > 0 {
		return fmt.Errorf("%w: %s", ErrInvariant, strings.Join(issues, "; "))
	}
	data, err := encodeSnapshot(snap)
	if err != nil {
		return fmt.Errorf("store: encode snapshot: %w", err)
	}
	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, dirPerm); err != nil {
		return fmt.Errorf("store: create cache directory: %w", err)
	}
	tmp, err := os.CreateTemp(dir, filepath.Base(s.path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("store: create temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("store: write temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("store: sync temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("store: close temp file: %w", err)
	}
	if err := os.Chmod(tmpName, filePerm); err != nil {
		return fmt.Errorf("store: chmod temp file: %w", err)
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		return fmt.Errorf("store: replace %s: %w", s.path, err)
	}
	return nil
}

func (s *Store) emptySnapshot() *Snapshot {
	return &Snapshot{
		Metadata: Metadata{
			LastUpdated:    s.now(),
			Version:        Version,
			KeyStrategy:    KeyStrategy,
			FilterCriteria: FilterCriteria{ApprovedValues: s.Vocabulary()},
		},
		Items: map[record.Key]Item{},
	}
}
