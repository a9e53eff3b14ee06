// Package index reads and writes the per-month search indexes that list the
// fetch targets of a crawl window.
package index

import (
	"fmt"
	"path/filepath"

	"github.com/JakeFAU/statute-crawler/internal/statute"
)

// File is the on-disk shape of one month index.
type File struct {
	Year        int     `json:"year"`
	Month       int     `json:"month"`
	HierarchyID int     `json:"hierarchy_id"`
	Total       int     `json:"total"`
	Data        []Entry `json:"data"`
}

// Entry is one indexed statute.
type Entry struct {
	ID    statute.DocumentID `json:"statuteId"`
	Title string             `json:"title"`
}

// WindowDir returns the directory holding the month files of window.
func WindowDir(root string, window statute.Window) string {
	return filepath.Join(root, window.Category.Slug(), fmt.Sprintf("%d", window.Year))
}

// MonthPath returns the month index file path.
func MonthPath(root string, window statute.Window, month int) string {
	return filepath.Join(WindowDir(root, window), fmt.Sprintf("api_response_%d.json", month))
}

// MonthRange returns the publish date bounds used to search one month.
// The upper bound is the first day of the following month, except December.
func MonthRange(year, month int) (string, string) {
	begin := fmt.Sprintf("%d-%02d-01", year, month)
	if month == 12 {
		return begin, fmt.Sprintf("%d-12-31", year)
	}
	return begin, fmt.Sprintf("%d-%02d-01", year, month+1)
}
