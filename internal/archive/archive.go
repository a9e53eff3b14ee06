// Package archive names the artifacts written for fetched documents. The
// local and gcs subpackages implement statute.DocumentWriter on top of it.
package archive

import (
	"encoding/json"
	"fmt"
	"path"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/JakeFAU/statute-crawler/internal/statute"
)

const (
	// RawExt is the extension of the raw JSON artifact.
	RawExt = ".json"
	// TextExt is the extension of the rendered text artifact.
	TextExt = ".txt"
	// MarkerName is the completion marker written once a window is done.
	MarkerName = ".complete"

	maxNameRunes = 120
)

// Dir returns the slash-separated directory of a window.
func Dir(window statute.Window) string {
	return path.Join(window.Category.Slug(), fmt.Sprintf("%d", window.Year))
}

// Name returns the slash-separated artifact base name of target, without
// extension.
func Name(target statute.FetchTarget) string {
	window := statute.Window{Category: target.Category, Year: target.Year}
	return path.Join(Dir(window), baseName(target))
}

// Marker returns the slash-separated completion marker name of a window.
func Marker(window statute.Window) string {
	return path.Join(Dir(window), MarkerName)
}

// RawBytes returns the JSON artifact body of doc.
func RawBytes(doc statute.Document) ([]byte, error) {
	if len(doc.Raw) > 0 {
		return doc.Raw, nil
	}
	raw, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encode document %s: %w", doc.ID, err)
	}
	return raw, nil
}

// Text renders doc with the category formatter of target.
func Text(target statute.FetchTarget, doc statute.Document) string {
	return target.Category.Render(doc)
}

func baseName(target statute.FetchTarget) string {
	title := sanitize(target.Title)
	id := sanitize(string(target.ID))
	switch {
	case title == "" && id == "":
		return "untitled"
	case title == "":
		return id
	case id == "":
		return title
	default:
		return title + "_" + id
	}
}

// sanitize replaces path separators, reserved punctuation and control
// characters and bounds the length in runes.
func sanitize(s string) string {
	var b strings.Builder
	for _, r := range strings.TrimSpace(s) {
		switch {
		case strings.ContainsRune(`/\:*?"<>|`, r), unicode.IsControl(r):
			b.WriteRune('_')
		default:
			b.WriteRune(r)
		}
	}
	out := strings.Trim(b.String(), ". ")
	if utf8.RuneCountInString(out) > maxNameRunes {
		out = string([]rune(out)[:maxNameRunes])
	}
	return out
}
