package store

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/cesargomez89/tubecrate/internal/constants"
	"github.com/cesargomez89/tubecrate/internal/storage"
)

const backupPrefix = "library-"

// BackupInfo describes one timestamped backup file.
type BackupInfo struct {
	Name      string    `json:"name"`
	Path      string    `json:"path"`
	Size      int64     `json:"size"`
	CreatedAt time.Time `json:"created_at"`
}

// Backup snapshots the current canonical file into the backups directory and
// prunes expired snapshots. Returns the backup path, or "" when there is no
// canonical file yet.
func (s *Store) Backup() (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.backupLocked()
}

func (s *Store) backupLocked() (string, error) {
	dst, err := storage.TimestampedCopy(s.path(), s.backupsDir(), backupPrefix)
	if err != nil {
		return "", fmt.Errorf("backup library: %w", err)
	}
	if dst == "" {
		return "", nil
	}

	if removed, err := s.pruneLocked(s.Retention); err != nil {
		s.Logger.Warn("backup pruning failed", "error", err)
	} else if removed > 0 {
		s.Logger.Debug("pruned expired backups", "removed", removed)
	}
	return dst, nil
}

// ListBackups returns the available backups, newest first.
func (s *Store) ListBackups() ([]BackupInfo, error) {
	entries, err := os.ReadDir(s.backupsDir())
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("list backups: %w", err)
	}

	var backups []BackupInfo
	for _, e := range entries {
		if e.IsDir() || !strings.HasPrefix(e.Name(), backupPrefix) || !strings.HasSuffix(e.Name(), ".json") {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		backups = append(backups, BackupInfo{
			Name:      e.Name(),
			Path:      filepath.Join(s.backupsDir(), e.Name()),
			Size:      info.Size(),
			CreatedAt: backupTime(e.Name(), info.ModTime()),
		})
	}

	sort.Slice(backups, func(i, j int) bool {
		return backups[i].CreatedAt.After(backups[j].CreatedAt)
	})
	return backups, nil
}

// backupTime recovers the snapshot time from the file name, falling back to
// the file's mtime for names written by hand.
func backupTime(name string, fallback time.Time) time.Time {
	stamp := strings.TrimSuffix(strings.TrimPrefix(name, backupPrefix), ".json")
	if t, err := time.Parse(constants.BackupTimeFormat, stamp); err == nil {
		return t
	}
	return fallback
}

// PruneBackups removes backups older than retention, always keeping the
// newest one. Returns how many files were removed.
func (s *Store) PruneBackups(retention time.Duration) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pruneLocked(retention)
}

func (s *Store) pruneLocked(retention time.Duration) (int, error) {
	if retention <= 0 {
		return 0, nil
	}
	backups, err := s.ListBackups()
	if err != nil {
		return 0, err
	}

	cutoff := time.Now().UTC().Add(-retention)
	removed := 0
	for i, b := range backups {
		if i == 0 {
			continue
		}
		if b.CreatedAt.Before(cutoff) {
			if err := storage.RemoveFile(b.Path); err != nil {
				return removed, fmt.Errorf("prune backup %s: %w", b.Name, err)
			}
			removed++
		}
	}
	return removed, nil
}

// RestoreResult summarizes a completed restore.
type RestoreResult struct {
	RestoredVideos    int    `json:"restored_videos"`
	RestoredPlaylists int    `json:"restored_playlists"`
	PreRestoreBackup  string `json:"pre_restore_backup,omitempty"`
}

// Restore replaces the canonical library with the named backup. The backup
// is validated before anything is touched, and the current canonical content
// is snapshotted first so a restore is itself reversible.
func (s *Store) Restore(name string) (*RestoreResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	backupPath := name
	if !strings.ContainsRune(name, os.PathSeparator) {
		backupPath = filepath.Join(s.backupsDir(), name)
	}

	b, err := os.ReadFile(backupPath)
	if err != nil {
		return nil, fmt.Errorf("read backup: %w", err)
	}
	lib, err := decodeLibrary(backupPath, b)
	if err != nil {
		return nil, err
	}

	preBackup, err := s.backupLocked()
	if err != nil {
		return nil, err
	}

	s.library = lib
	s.loaded = true
	if err := s.writeLocked(); err != nil {
		return nil, err
	}

	s.Logger.Info("library restored", "from", backupPath,
		"videos", lib.TotalVideos, "pre_restore_backup", preBackup)
	return &RestoreResult{
		RestoredVideos:    lib.TotalVideos,
		RestoredPlaylists: lib.TotalPlaylists,
		PreRestoreBackup:  preBackup,
	}, nil
}
