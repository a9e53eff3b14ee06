package index

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/statute-crawler/internal/fsutil"
	"github.com/JakeFAU/statute-crawler/internal/statute"
)

// BuilderConfig controls index building.
type BuilderConfig struct {
	Dir       string
	PageSize  int
	PageDelay time.Duration
	// MaxPages bounds one month as a guard against an API that never
	// returns an empty page. Zero means no bound.
	MaxPages int
}

// Builder pages the search API to produce month index files.
type Builder struct {
	searcher statute.Searcher
	clock    statute.Clock
	cfg      BuilderConfig
	logger   *zap.Logger
}

// NewBuilder constructs a Builder.
func NewBuilder(searcher statute.Searcher, clock statute.Clock, cfg BuilderConfig, logger *zap.Logger) *Builder {
	if cfg.PageSize <= 0 {
		cfg.PageSize = 10
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Builder{
		searcher: searcher,
		clock:    clock,
		cfg:      cfg,
		logger:   logger.Named("index_builder"),
	}
}

// HasIndex reports whether window already has any month file.
func (b *Builder) HasIndex(window statute.Window) bool {
	return HasIndex(b.cfg.Dir, window)
}

// BuildMonth pages the search API from page 0 until an empty page and writes
// the month file. It returns the number of indexed entries. Months without
// hits produce no file. A page that echoes the wrong index fails the build
// with statute.ErrPageMismatch and writes nothing.
func (b *Builder) BuildMonth(ctx context.Context, token string, window statute.Window, month int) (int, error) {
	begin, end := MonthRange(window.Year, month)
	logger := b.logger.With(zap.String("window", window.String()), zap.Int("month", month))

	var entries []Entry
	for page := 0; b.cfg.MaxPages == 0 || page < b.cfg.MaxPages; page++ {
		resp, err := b.searcher.Search(ctx, token, statute.SearchRequest{
			Category:  window.Category,
			BeginDate: begin,
			EndDate:   end,
			PageIndex: page,
			PageSize:  b.cfg.PageSize,
		})
		if err != nil {
			return 0, fmt.Errorf("search %s month %d page %d: %w", window, month, page, err)
		}
		if resp.Code != 0 {
			return 0, fmt.Errorf("search %s month %d page %d: %w", window, month, page,
				&statute.APIError{Code: resp.Code, Message: resp.Message})
		}
		if len(resp.Rows) == 0 {
			break
		}
		if resp.PageIndex != page {
			return 0, fmt.Errorf("search %s month %d page %d: %w (got page %d)",
				window, month, page, statute.ErrPageMismatch, resp.PageIndex)
		}
		for _, row := range resp.Rows {
			entries = append(entries, Entry{ID: row.ID, Title: row.Title})
		}
		logger.Debug("indexed page", zap.Int("page", page), zap.Int("rows", len(resp.Rows)))
		if err := b.clock.Sleep(ctx, b.cfg.PageDelay); err != nil {
			return 0, err
		}
	}

	if len(entries) == 0 {
		logger.Info("month has no entries")
		return 0, nil
	}
	file := File{
		Year:        window.Year,
		Month:       month,
		HierarchyID: window.Category.ID(),
		Total:       len(entries),
		Data:        entries,
	}
	if err := fsutil.WriteJSON(MonthPath(b.cfg.Dir, window, month), file, 0o600); err != nil {
		return 0, err
	}
	logger.Info("month indexed", zap.Int("total", len(entries)))
	return len(entries), nil
}

// BuildWindow indexes all twelve months of window. Months that already have
// a file are kept unless force is set.
func (b *Builder) BuildWindow(ctx context.Context, token string, window statute.Window, force bool) (int, error) {
	total := 0
	for month := 1; month <= 12; month++ {
		if !force {
			if _, ok, err := ReadMonth(b.cfg.Dir, window, month); err == nil && ok {
				continue
			}
		}
		n, err := b.BuildMonth(ctx, token, window, month)
		if err != nil {
			return total, err
		}
		total += n
	}
	return total, nil
}
