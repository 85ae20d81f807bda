package session

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/steveyegge/phoenix/internal/util"
)

// ErrNotFound means neither the cache nor the status document yielded a
// descriptor. It signals a first boot, not a failure.
var ErrNotFound = errors.New("no prior session")

// ErrCountDecrease is returned by Save when the write would lower the
// persisted recovery count.
var ErrCountDecrease = errors.New("recovery count must not decrease")

// Store reads and writes the session descriptor.
type Store struct {
	cachePath string
	docPath   string
}

// NewStore creates a Store for the given cache file and status document.
func NewStore(cachePath, docPath string) *Store {
	return &Store{cachePath: cachePath, docPath: docPath}
}

// CachePath returns the primary cache file path.
func (s *Store) CachePath() string {
	return s.cachePath
}

// CacheDir returns the directory holding the cache file.
func (s *Store) CacheDir() string {
	return filepath.Dir(s.cachePath)
}

// Load returns the last known session.
//
// The cache is returned as parsed, tagged SourceCache. If it is missing or
// malformed, a descriptor is derived from the status document and tagged
// SourceFallback. If both fail, the returned error matches ErrNotFound.
// Load never writes.
func (s *Store) Load() (*Descriptor, error) {
	d, cacheErr := s.readCache()
	if cacheErr == nil {
		return d, nil
	}

	d, docErr := deriveFromDocument(s.docPath)
	if docErr == nil {
		return d, nil
	}

	return nil, fmt.Errorf("%w: %w", ErrNotFound, errors.Join(cacheErr, docErr))
}

// readCache parses the primary cache. Fields beyond the descriptor are ignored.
func (s *Store) readCache() (*Descriptor, error) {
	data, err := os.ReadFile(s.cachePath) //nolint:gosec // G304: path comes from settings
	if err != nil {
		return nil, fmt.Errorf("reading session cache: %w", err)
	}

	var d Descriptor
	if err := json.Unmarshal(data, &d); err != nil {
		return nil, fmt.Errorf("parsing session cache: %w", err)
	}
	d.Source = SourceCache
	return &d, nil
}

// CacheExists reports whether the primary cache file is present.
func (s *Store) CacheExists() bool {
	_, err := os.Stat(s.cachePath)
	return err == nil
}

// EnsureDir creates the cache directory if needed. Safe to call repeatedly.
func (s *Store) EnsureDir() error {
	if err := os.MkdirAll(s.CacheDir(), 0755); err != nil {
		return fmt.Errorf("creating cache directory: %w", err)
	}
	return nil
}

// Save persists d atomically. It refuses to lower the recovery count of a
// readable existing cache.
func (s *Store) Save(d *Descriptor) error {
	if existing, err := s.readCache(); err == nil && d.RecoveryCount < existing.RecoveryCount {
		return fmt.Errorf("%w: have %d, writing %d", ErrCountDecrease, existing.RecoveryCount, d.RecoveryCount)
	}

	if err := util.AtomicWriteJSON(s.cachePath, d); err != nil {
		return fmt.Errorf("writing session cache: %w", err)
	}
	return nil
}
