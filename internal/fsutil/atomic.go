// Package fsutil holds small filesystem helpers shared by the index and the
// local archive.
package fsutil

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// WriteFile replaces filename with data by writing a synced temp file in the
// same directory and renaming it into place. Readers never observe a partial
// file. Concurrent writers of the same name need external coordination.
func WriteFile(filename string, data []byte, perm os.FileMode) error {
	dir := filepath.Dir(filename)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return fmt.Errorf("create %s: %w", dir, err)
	}
	f, err := os.CreateTemp(dir, "."+filepath.Base(filename)+".tmp-*")
	if err != nil {
		return fmt.Errorf("write %s: %w", filename, err)
	}
	tempname := f.Name()

	_, err = f.Write(data)
	if err2 := f.Sync(); err2 != nil && err == nil {
		err = err2
	}
	if err2 := f.Close(); err2 != nil && err == nil {
		err = err2
	}
	if err == nil {
		err = os.Chmod(tempname, perm)
	}
	if err != nil {
		_ = os.Remove(tempname)
		return fmt.Errorf("write %s: %w", filename, err)
	}
	if err := os.Rename(tempname, filename); err != nil {
		_ = os.Remove(tempname)
		return fmt.Errorf("write %s: %w", filename, err)
	}
	return nil
}

// WriteJSON marshals v with indentation and writes it atomically.
func WriteJSON(filename string, v any, perm os.FileMode) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("encode %s: %w", filename, err)
	}
	return WriteFile(filename, append(data, '\n'), perm)
}
