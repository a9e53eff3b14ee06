package gcs

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"cloud.google.com/go/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/option"

	"github.com/JakeFAU/statute-crawler/internal/statute"
)

type fakeBucket struct {
	mu      sync.Mutex
	uploads map[string]string
}

func (b *fakeBucket) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if strings.Contains(r.URL.Path, "/upload/") {
		name := r.URL.Query().Get("name")
		body, _ := io.ReadAll(r.Body)
		b.uploads[name] = string(body)
		fmt.Fprintf(w, `{"name":%q,"bucket":"test-bucket"}`, name)
		return
	}
	idx := strings.Index(r.URL.Path, "/o/")
	if idx < 0 {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	name := r.URL.Path[idx+3:]
	if _, ok := b.uploads[name]; !ok {
		w.WriteHeader(http.StatusNotFound)
		fmt.Fprint(w, `{"error":{"code":404,"message":"Not Found"}}`)
		return
	}
	fmt.Fprintf(w, `{"name":%q,"bucket":"test-bucket"}`, name)
}

func (b *fakeBucket) uploaded() map[string]string {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make(map[string]string, len(b.uploads))
	for k, v := range b.uploads {
		out[k] = v
	}
	return out
}

func newTestWriter(t *testing.T, prefix string) (*Writer, *fakeBucket) {
	t.Helper()

	bucket := &fakeBucket{uploads: map[string]string{}}
	server := httptest.NewServer(bucket)
	t.Cleanup(server.Close)

	client, err := storage.NewClient(context.Background(), option.WithEndpoint(server.URL), option.WithoutAuthentication())
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })

	w, err := New(client, Config{Bucket: "test-bucket", Prefix: prefix})
	require.NoError(t, err)
	return w, bucket
}

func TestNewValidation(t *testing.T) {
	_, err := New(nil, Config{Bucket: "b"})
	assert.Error(t, err)

	client, err := storage.NewClient(context.Background(), option.WithoutAuthentication())
	require.NoError(t, err)
	defer client.Close()
	_, err = New(client, Config{})
	assert.Error(t, err)
}

func TestWriteUploadsBothObjects(t *testing.T) {
	w, bucket := newTestWriter(t, "/archive/")
	target := statute.FetchTarget{Category: statute.IndustryNews, Year: 2025, ID: "9", Title: "监管动态"}
	doc := statute.Document{ID: "9", Title: "监管动态", Organization: "人民银行", Raw: []byte(`{"statuteId":"9"}`)}

	require.NoError(t, w.Write(context.Background(), target, doc))

	uploads := bucket.uploaded()
	raw, ok := uploads["archive/hierarchy_3_行业动态/2025/监管动态_9.json"]
	require.True(t, ok, "raw object missing: %v", uploads)
	assert.Contains(t, raw, `{"statuteId":"9"}`)
	text, ok := uploads["archive/hierarchy_3_行业动态/2025/监管动态_9.txt"]
	require.True(t, ok)
	assert.Contains(t, text, "来源: 人民银行")
}

func TestExistsAndCompletion(t *testing.T) {
	w, _ := newTestWriter(t, "")
	ctx := context.Background()
	target := statute.FetchTarget{Category: statute.LegalRegulation, Year: 2024, ID: "1", Title: "a"}

	ok, err := w.Exists(ctx, target)
	require.NoError(t, err)
	require.False(t, ok)

	require.NoError(t, w.Write(ctx, target, statute.Document{ID: "1", Title: "a"}))
	ok, err = w.Exists(ctx, target)
	require.NoError(t, err)
	require.True(t, ok)

	window := statute.Window{Category: statute.LegalRegulation, Year: 2024}
	done, err := w.IsComplete(ctx, window)
	require.NoError(t, err)
	require.False(t, done)

	require.NoError(t, w.MarkComplete(ctx, window))
	done, err = w.IsComplete(ctx, window)
	require.NoError(t, err)
	require.True(t, done)
}
