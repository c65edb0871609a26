package fileutil

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// DeleteFilesInDir removes every file and symlink below directory, keeping
// the directory tree itself. It keeps going after a failure and reports
// the first one.
func DeleteFilesInDir(directory string) error {
	var firstErr error
	err := filepath.WalkDir(directory, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			if os.IsNotExist(err) {
				return nil
			}
			return err
		}
		if d.IsDir() {
			return nil
		}
		if err := os.Remove(path); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("delete %s: %w", path, err)
		}
		return nil
	})
	if err != nil {
		return err
	}
	return firstErr
}

// MoveDirIntoDataOldDir renames dir into a fresh, randomly named directory
// under oldDir. Nothing happens when dir does not exist. A plain file
// squatting on oldDir is deleted first.
func MoveDirIntoDataOldDir(dir, oldDir string) (string, error) {
	fi, err := os.Stat(dir)
	if err != nil || !fi.IsDir() {
		return "", nil
	}

	if ofi, err := os.Lstat(oldDir); err == nil && !ofi.IsDir() {
		if err := os.Remove(oldDir); err != nil {
			return "", fmt.Errorf("delete file %s: %w", oldDir, err)
		}
	}
	if err := os.MkdirAll(oldDir, 0700); err != nil {
		return "", fmt.Errorf("create %s: %w", oldDir, err)
	}

	prefix := strings.TrimSuffix(filepath.Base(dir), string(filepath.Separator)) + "_"
	target, err := os.MkdirTemp(oldDir, prefix)
	if err != nil {
		return "", fmt.Errorf("create temporary directory in %s: %w", oldDir, err)
	}
	// Renaming onto an existing empty directory replaces it.
	if err := os.Rename(dir, target); err != nil {
		return "", fmt.Errorf("rename %s to %s: %w", dir, target, err)
	}
	return target, nil
}
