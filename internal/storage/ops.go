// Package storage provides the low-level file operations shared by the
// library store, the source registry and the credential store.
package storage

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/cesargomez89/tubecrate/internal/constants"
)

func EnsureDir(path string) error {
	return os.MkdirAll(path, constants.DirPermissions)
}

func FileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

func RemoveFile(path string) error {
	return os.Remove(path)
}

// WriteFileAtomic writes data through a temp file in the target directory
// followed by a single rename, so the destination is always either the old
// or the new content, never a partial write.
func WriteFileAtomic(path string, data []byte, mode fs.FileMode) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, constants.DirPermissions); err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, ".tmp_*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer func() {
		_ = os.Remove(tmpName)
	}()

	if err := tmp.Chmod(mode); err != nil {
		_ = tmp.Close()
		return err
	}

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}

	return os.Rename(tmpName, path)
}

// WriteJSONAtomic marshals v with indentation and writes it atomically.
func WriteJSONAtomic(path string, v any, mode fs.FileMode) error {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal json: %w", err)
	}
	b = append(b, '\n')
	if err := WriteFileAtomic(path, b, mode); err != nil {
		return fmt.Errorf("write json: %w", err)
	}
	return nil
}

// CopyFile copies src onto dst through a temp file and rename. It reports
// false without error when src does not exist, and leaves dst alone when it
// already exists and overwrite is unset.
func CopyFile(src, dst string, overwrite bool) (bool, error) {
	if src == "" || dst == "" {
		return false, errors.New("copy: empty path")
	}

	if _, err := os.Stat(src); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return false, nil
		}
		return false, err
	}

	if !overwrite {
		if _, err := os.Stat(dst); err == nil {
			return false, nil
		} else if !errors.Is(err, fs.ErrNotExist) {
			return false, err
		}
	}

	b, err := os.ReadFile(src)
	if err != nil {
		return false, err
	}
	if err := WriteFileAtomic(dst, b, constants.FilePermissions); err != nil {
		return false, err
	}
	return true, nil
}

// TimestampedCopy snapshots src into dstDir under prefix<stamp>.json,
// suffixing a counter when saves land in the same second. Returns "" without
// error when src does not exist.
func TimestampedCopy(src, dstDir, prefix string) (string, error) {
	if !FileExists(src) {
		return "", nil
	}
	stamp := time.Now().UTC().Format(constants.BackupTimeFormat)
	dst := filepath.Join(dstDir, fmt.Sprintf("%s%s.json", prefix, stamp))
	for n := 2; FileExists(dst); n++ {
		dst = filepath.Join(dstDir, fmt.Sprintf("%s%s-%d.json", prefix, stamp, n))
	}
	if _, err := CopyFile(src, dst, false); err != nil {
		return "", err
	}
	return dst, nil
}

// MoveFile renames src onto dst, falling back to copy+remove when rename
// fails (e.g. across filesystems).
func MoveFile(src, dst string) error {
	if err := os.MkdirAll(filepath.Dir(dst), constants.DirPermissions); err != nil {
		return err
	}
	if err := os.Rename(src, dst); err == nil {
		return nil
	}
	if _, err := CopyFile(src, dst, true); err != nil {
		return fmt.Errorf("move %s to %s: %w", src, dst, err)
	}
	return os.Remove(src)
}
