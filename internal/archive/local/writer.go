// Package local writes fetched documents to the local filesystem.
package local

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/JakeFAU/statute-crawler/internal/archive"
	"github.com/JakeFAU/statute-crawler/internal/fsutil"
	"github.com/JakeFAU/statute-crawler/internal/statute"
)

// Config captures the parameters for the local filesystem archive.
type Config struct {
	// BaseDir is the root directory where documents will be stored.
	BaseDir string `mapstructure:"base_dir" yaml:"base_dir"`
}

// Writer implements statute.DocumentWriter on the local filesystem.
type Writer struct {
	baseDir string
	now     func() time.Time
}

type marker struct {
	CompletedAt time.Time `json:"completed_at"`
}

// New creates a filesystem-backed archive writer.
func New(cfg Config) (*Writer, error) {
	if strings.TrimSpace(cfg.BaseDir) == "" {
		return nil, fmt.Errorf("base directory is required")
	}

	info, err := os.Stat(cfg.BaseDir)
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("failed to stat base directory: %w", err)
		}
		if mkErr := os.MkdirAll(cfg.BaseDir, 0o750); mkErr != nil {
			return nil, fmt.Errorf("failed to create base directory: %w", mkErr)
		}
	} else if !info.IsDir() {
		return nil, fmt.Errorf("base directory path is not a directory")
	}

	testFile := filepath.Join(cfg.BaseDir, ".writable_test")
	if err := os.WriteFile(testFile, []byte("test"), 0o600); err != nil {
		return nil, fmt.Errorf("base directory is not writable: %w", err)
	}
	if err := os.Remove(testFile); err != nil {
		return nil, fmt.Errorf("failed to clean up test file: %w", err)
	}

	return &Writer{baseDir: cfg.BaseDir, now: time.Now}, nil
}

// Write stores the raw JSON and the rendered text of doc. Each file is
// replaced atomically, so a retry overwrites an earlier attempt. If either
// write fails both files are removed, leaving the target absent rather than
// half written.
func (w *Writer) Write(_ context.Context, target statute.FetchTarget, doc statute.Document) error {
	base, err := w.resolve(archive.Name(target))
	if err != nil {
		return err
	}
	raw, err := archive.RawBytes(doc)
	if err != nil {
		return err
	}
	text := archive.Text(target, doc)
	if err := fsutil.WriteFile(base+archive.TextExt, []byte(text), 0o600); err != nil {
		return errors.Join(err, removeArtifacts(base))
	}
	if err := fsutil.WriteFile(base+archive.RawExt, raw, 0o600); err != nil {
		return errors.Join(err, removeArtifacts(base))
	}
	return nil
}

func removeArtifacts(base string) error {
	var errs []error
	for _, ext := range []string{archive.TextExt, archive.RawExt} {
		if err := os.Remove(base + ext); err != nil && !errors.Is(err, fs.ErrNotExist) {
			errs = append(errs, fmt.Errorf("remove partial artifact: %w", err))
		}
	}
	return errors.Join(errs...)
}

// Exists reports whether both artifacts of target are present.
func (w *Writer) Exists(_ context.Context, target statute.FetchTarget) (bool, error) {
	base, err := w.resolve(archive.Name(target))
	if err != nil {
		return false, err
	}
	for _, ext := range []string{archive.RawExt, archive.TextExt} {
		ok, err := fileExists(base + ext)
		if err != nil || !ok {
			return false, err
		}
	}
	return true, nil
}

// MarkComplete records that window needs no further passes.
func (w *Writer) MarkComplete(_ context.Context, window statute.Window) error {
	path, err := w.resolve(archive.Marker(window))
	if err != nil {
		return err
	}
	return fsutil.WriteJSON(path, marker{CompletedAt: w.now().UTC()}, 0o600)
}

// IsComplete reports whether window carries a completion marker.
func (w *Writer) IsComplete(_ context.Context, window statute.Window) (bool, error) {
	path, err := w.resolve(archive.Marker(window))
	if err != nil {
		return false, err
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return false, nil
		}
		return false, fmt.Errorf("read marker: %w", err)
	}
	var m marker
	if err := json.Unmarshal(raw, &m); err != nil {
		return false, fmt.Errorf("decode marker %s: %w", path, err)
	}
	return true, nil
}

// resolve maps a slash-separated name into baseDir, rejecting traversal.
func (w *Writer) resolve(name string) (string, error) {
	if strings.TrimSpace(name) == "" {
		return "", fmt.Errorf("path is required")
	}
	fullPath := filepath.Join(w.baseDir, filepath.FromSlash(name))
	cleanBaseDir := filepath.Clean(w.baseDir)
	if !strings.HasPrefix(filepath.Clean(fullPath), cleanBaseDir+string(filepath.Separator)) {
		return "", fmt.Errorf("path traversal detected")
	}
	return fullPath, nil
}

func fileExists(path string) (bool, error) {
	_, err := os.Stat(path)
	if err == nil {
		return true, nil
	}
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	return false, fmt.Errorf("stat %s: %w", path, err)
}
