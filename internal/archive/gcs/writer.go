// Package gcs provides a DocumentWriter backed by Google Cloud Storage.
package gcs

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"
	"time"

	"cloud.google.com/go/storage"

	"github.com/JakeFAU/statute-crawler/internal/archive"
	"github.com/JakeFAU/statute-crawler/internal/statute"
)

// Config captures the parameters required to write to GCS.
type Config struct {
	Bucket string
	Prefix string
}

// Writer uploads documents to a configured GCS bucket.
type Writer struct {
	client *storage.Client
	bucket string
	prefix string
	now    func() time.Time
}

// New creates a GCS-backed archive writer.
func New(client *storage.Client, cfg Config) (*Writer, error) {
	if client == nil {
		return nil, fmt.Errorf("storage client is required")
	}
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("bucket name is required")
	}
	return &Writer{
		client: client,
		bucket: cfg.Bucket,
		prefix: strings.Trim(cfg.Prefix, "/"),
		now:    time.Now,
	}, nil
}

// Write uploads the raw JSON and rendered text of doc. Objects are replaced
// as a whole on each upload.
func (w *Writer) Write(ctx context.Context, target statute.FetchTarget, doc statute.Document) error {
	base := w.object(archive.Name(target))
	raw, err := archive.RawBytes(doc)
	if err != nil {
		return err
	}
	if err := w.put(ctx, base+archive.RawExt, "application/json", raw); err != nil {
		return err
	}
	text := archive.Text(target, doc)
	return w.put(ctx, base+archive.TextExt, "text/plain; charset=utf-8", []byte(text))
}

// Exists reports whether both objects of target are present.
func (w *Writer) Exists(ctx context.Context, target statute.FetchTarget) (bool, error) {
	base := w.object(archive.Name(target))
	for _, ext := range []string{archive.RawExt, archive.TextExt} {
		ok, err := w.exists(ctx, base+ext)
		if err != nil || !ok {
			return false, err
		}
	}
	return true, nil
}

// MarkComplete uploads the completion marker object of window.
func (w *Writer) MarkComplete(ctx context.Context, window statute.Window) error {
	body, err := json.Marshal(map[string]time.Time{"completed_at": w.now().UTC()})
	if err != nil {
		return fmt.Errorf("encode marker: %w", err)
	}
	return w.put(ctx, w.object(archive.Marker(window)), "application/json", body)
}

// IsComplete reports whether the completion marker object exists.
func (w *Writer) IsComplete(ctx context.Context, window statute.Window) (bool, error) {
	return w.exists(ctx, w.object(archive.Marker(window)))
}

func (w *Writer) object(name string) string {
	if w.prefix == "" {
		return name
	}
	return path.Join(w.prefix, name)
}

func (w *Writer) put(ctx context.Context, name, contentType string, data []byte) error {
	writer := w.client.Bucket(w.bucket).Object(name).NewWriter(ctx)
	writer.ContentType = contentType
	if _, err := io.Copy(writer, bytes.NewReader(data)); err != nil {
		if closeErr := writer.Close(); closeErr != nil {
			return fmt.Errorf("copy object %s: %w (close writer: %v)", name, err, closeErr)
		}
		return fmt.Errorf("copy object %s: %w", name, err)
	}
	if err := writer.Close(); err != nil {
		return fmt.Errorf("close writer %s: %w", name, err)
	}
	return nil
}

func (w *Writer) exists(ctx context.Context, name string) (bool, error) {
	_, err := w.client.Bucket(w.bucket).Object(name).Attrs(ctx)
	if err == nil {
		return true, nil
	}
	if errors.Is(err, storage.ErrObjectNotExist) {
		return false, nil
	}
	return false, fmt.Errorf("stat object %s: %w", name, err)
}
