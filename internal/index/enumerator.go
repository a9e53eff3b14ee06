package index

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"iter"
	"os"

	"go.uber.org/zap"

	"github.com/JakeFAU/statute-crawler/internal/statute"
)

// SkipFunc reports whether a target no longer needs fetching.
type SkipFunc func(ctx context.Context, target statute.FetchTarget) (bool, error)

// Enumerator lists fetch targets from month index files.
type Enumerator struct {
	root   string
	skip   SkipFunc
	logger *zap.Logger
}

// NewEnumerator constructs an Enumerator rooted at dir. skip may be nil.
func NewEnumerator(dir string, skip SkipFunc, logger *zap.Logger) *Enumerator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Enumerator{root: dir, skip: skip, logger: logger.Named("index")}
}

// ListTargets yields every target of window. Index files are re-read on each
// call so a later pass observes new or repaired months. A month that fails
// to decode yields one error and iteration continues.
func (e *Enumerator) ListTargets(ctx context.Context, window statute.Window) iter.Seq2[statute.FetchTarget, error] {
	return func(yield func(statute.FetchTarget, error) bool) {
		for month := 1; month <= 12; month++ {
			if err := ctx.Err(); err != nil {
				yield(statute.FetchTarget{}, err)
				return
			}
			file, ok, err := ReadMonth(e.root, window, month)
			if err != nil {
				if !yield(statute.FetchTarget{}, err) {
					return
				}
				continue
			}
			if !ok {
				continue
			}
			for _, entry := range file.Data {
				target := statute.FetchTarget{
					Category: window.Category,
					Year:     window.Year,
					Month:    month,
					ID:       entry.ID,
					Title:    entry.Title,
				}
				if e.skip != nil {
					done, err := e.skip(ctx, target)
					if err != nil {
						e.logger.Warn("skip check failed",
							zap.String("window", window.String()),
							zap.String("id", string(target.ID)),
							zap.Error(err),
						)
					} else if done {
						continue
					}
				}
				if !yield(target, nil) {
					return
				}
			}
		}
	}
}

// HasIndex reports whether any month file exists for window.
func (e *Enumerator) HasIndex(window statute.Window) bool {
	return HasIndex(e.root, window)
}

// HasIndex reports whether any month file of window exists under root.
func HasIndex(root string, window statute.Window) bool {
	for month := 1; month <= 12; month++ {
		if _, err := os.Stat(MonthPath(root, window, month)); err == nil {
			return true
		}
	}
	return false
}

// ReadMonth loads one month index. The boolean is false when the file does
// not exist.
func ReadMonth(root string, window statute.Window, month int) (File, bool, error) {
	path := MonthPath(root, window, month)
	raw, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return File{}, false, nil
		}
		return File{}, false, fmt.Errorf("read index %s: %w", path, err)
	}
	var file File
	if err := json.Unmarshal(raw, &file); err != nil {
		return File{}, false, fmt.Errorf("decode index %s: %w", path, err)
	}
	return file, true, nil
}
