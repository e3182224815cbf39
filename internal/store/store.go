// Package store owns the canonical on-disk library: atomic load/mutate/save,
// timestamped backup rotation, restore, and migration of the legacy SQLite
// database.
package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/cesargomez89/tubecrate/internal/constants"
	"github.com/cesargomez89/tubecrate/internal/domain"
	"github.com/cesargomez89/tubecrate/internal/logger"
	"github.com/cesargomez89/tubecrate/internal/storage"
)

// ErrCorrupt matches any corruption failure via errors.Is.
var ErrCorrupt = errors.New("library corrupt")

// CorruptError means the canonical file exists but cannot be trusted. It is
// always surfaced to the caller, never repaired or discarded silently.
type CorruptError struct {
	Path string
	Err  error
}

func (e *CorruptError) Error() string {
	return fmt.Sprintf("library file %s is corrupt: %v", e.Path, e.Err)
}

func (e *CorruptError) Unwrap() error {
	return e.Err
}

func (e *CorruptError) Is(target error) bool {
	return target == ErrCorrupt
}

// Store serializes every access to the canonical library file. Mutations go
// through load-mutate-save under one lock; a mutation that fails part way
// discards the in-memory state so the next access reloads from disk.
type Store struct {
	DataDir   string
	Retention time.Duration
	Logger    *logger.Logger

	mu      sync.Mutex
	library *domain.Library
	loaded  bool
}

func New(dataDir string, log *logger.Logger) *Store {
	return &Store{
		DataDir:   dataDir,
		Retention: constants.DefaultBackupRetention,
		Logger:    log.WithComponent("store"),
	}
}

func (s *Store) path() string {
	return filepath.Join(s.DataDir, constants.LibraryFile)
}

func (s *Store) backupsDir() string {
	return filepath.Join(s.DataDir, constants.BackupsDir)
}

// View runs fn against a consistent snapshot of the library. fn must not
// mutate it.
func (s *Store) View(fn func(*domain.Library) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.loadLocked(); err != nil {
		return err
	}
	return fn(s.library)
}

// Mutate runs fn on the library and persists the result atomically. When fn
// fails nothing reaches disk and the in-memory state is thrown away.
func (s *Store) Mutate(fn func(*domain.Library) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.loadLocked(); err != nil {
		return err
	}
	if err := fn(s.library); err != nil {
		s.loaded = false
		s.library = nil
		return err
	}
	return s.saveLocked()
}

// Flush forces a save of the current state, loading first if needed.
func (s *Store) Flush() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.loadLocked(); err != nil {
		return err
	}
	return s.saveLocked()
}

func (s *Store) loadLocked() error {
	if s.loaded {
		return nil
	}

	path := s.path()
	b, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		// First run. A leftover legacy database takes precedence over an
		// empty library.
		res, merr := s.migrateLegacyLocked()
		if merr != nil {
			return merr
		}
		if res != nil {
			s.Logger.Info("migrated legacy database",
				"videos", res.Videos, "playlists", res.Playlists, "moved_to", res.MovedTo)
			return nil
		}
		s.library = domain.NewLibrary()
		s.loaded = true
		return nil
	}
	if err != nil {
		return fmt.Errorf("read library: %w", err)
	}

	lib, err := decodeLibrary(path, b)
	if err != nil {
		return err
	}
	s.library = lib
	s.loaded = true
	return nil
}

// decodeLibrary parses and validates canonical JSON. Raw status strings are
// checked here, at the trust boundary; indexes are rebuilt rather than
// trusted; referential integrity failures surface as corruption.
func decodeLibrary(path string, b []byte) (*domain.Library, error) {
	var lib domain.Library
	if err := json.Unmarshal(b, &lib); err != nil {
		return nil, &CorruptError{Path: path, Err: err}
	}

	if lib.SchemaVersion > constants.LibrarySchemaVersion {
		return nil, fmt.Errorf("library schema %d is newer than supported %d",
			lib.SchemaVersion, constants.LibrarySchemaVersion)
	}

	if lib.Videos == nil {
		lib.Videos = make(map[string]*domain.Video)
	}
	if lib.Playlists == nil {
		lib.Playlists = make(map[string]*domain.Playlist)
	}

	for id, v := range lib.Videos {
		if v == nil || v.ID == "" || v.ID != id {
			return nil, &CorruptError{Path: path, Err: fmt.Errorf("video entry %q is inconsistent", id)}
		}
		if _, err := domain.ParseAnnotationStatus(string(v.Annotation)); v.Annotation != "" && err != nil {
			return nil, &CorruptError{Path: path, Err: err}
		}
		v.Normalize()
	}

	lib.RebuildIndexes()
	lib.RefreshTotals()

	if err := lib.CheckIntegrity(); err != nil {
		return nil, &CorruptError{Path: path, Err: err}
	}
	return &lib, nil
}

func (s *Store) saveLocked() error {
	if storage.FileExists(s.path()) {
		if _, err := s.backupLocked(); err != nil {
			return err
		}
	}
	return s.writeLocked()
}

// writeLocked serializes the library to the canonical path without taking a
// backup first. Only saveLocked and Restore call this.
func (s *Store) writeLocked() error {
	lib := s.library
	lib.RebuildIndexes()
	lib.RefreshTotals()
	lib.SchemaVersion = constants.LibrarySchemaVersion
	lib.UpdatedAt = time.Now().UTC()

	if err := storage.WriteJSONAtomic(s.path(), lib, constants.FilePermissions); err != nil {
		return fmt.Errorf("save library: %w", err)
	}
	s.Logger.Debug("library saved", "videos", lib.TotalVideos, "playlists", lib.TotalPlaylists)
	return nil
}

// DeleteVideo removes one video, cascading through every playlist
// membership and every index. Returns false when the id is unknown.
func (s *Store) DeleteVideo(id string) (bool, error) {
	var removed bool
	err := s.Mutate(func(lib *domain.Library) error {
		removed = lib.RemoveVideo(id)
		return nil
	})
	return removed, err
}

// RebuildIndexes regenerates the derived indexes and persists the result.
func (s *Store) RebuildIndexes() (videos, playlists int, err error) {
	err = s.Mutate(func(lib *domain.Library) error {
		lib.RebuildIndexes()
		videos = len(lib.Videos)
		playlists = len(lib.Playlists)
		return nil
	})
	return videos, playlists, err
}
