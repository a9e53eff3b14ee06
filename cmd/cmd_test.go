package cmd

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/statute-crawler/internal/app"
	"github.com/JakeFAU/statute-crawler/internal/archive/local"
	"github.com/JakeFAU/statute-crawler/internal/config"
	"github.com/JakeFAU/statute-crawler/internal/fsutil"
	"github.com/JakeFAU/statute-crawler/internal/index"
	"github.com/JakeFAU/statute-crawler/internal/pool"
	"github.com/JakeFAU/statute-crawler/internal/statute"
)

const (
	staticTokenOne = "eyJhbGciOiJIUzI1NiJ9.static-one.sig"
	staticTokenTwo = "eyJhbGciOiJIUzI1NiJ9.static-two.sig"
)

// fakeAPI serves the search and detail endpoints. January 2024 of every
// category holds a single document with id 42.
type fakeAPI struct {
	server  *httptest.Server
	details atomic.Int32
}

func newFakeAPI(t *testing.T) *fakeAPI {
	t.Helper()
	f := &fakeAPI{}
	mux := http.NewServeMux()
	mux.HandleFunc("POST /search", func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			PageIndex int    `json:"pageIndex"`
			Begin     string `json:"beginPublishDate"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		rows := []map[string]any{}
		if body.PageIndex == 0 && body.Begin == "2024-01-01" {
			rows = append(rows, map[string]any{"statuteId": "42", "title": "Banking Act"})
		}
		writeEnvelope(w, map[string]any{"pageIndex": body.PageIndex, "total": len(rows), "rows": rows})
	})
	mux.HandleFunc("GET /statutes/{id}", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Access-Token") == "" {
			http.Error(w, "missing token", http.StatusUnauthorized)
			return
		}
		f.details.Add(1)
		writeEnvelope(w, map[string]any{
			"statuteId":   r.PathValue("id"),
			"title":       "Banking Act",
			"publishDate": "2024-01-05",
			"paragraphs":  []map[string]any{{"groupId": 1, "content": "<p>Article 1</p>"}},
		})
	})
	f.server = httptest.NewServer(mux)
	t.Cleanup(f.server.Close)
	return f
}

func writeEnvelope(w http.ResponseWriter, data any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{"code": 0, "message": "ok", "data": data})
}

type testEnv struct {
	configPath string
	indexDir   string
	archiveDir string
}

func newTestEnv(t *testing.T, api *fakeAPI, extra string) testEnv {
	t.Helper()
	dir := t.TempDir()
	env := testEnv{
		configPath: filepath.Join(dir, "config.yaml"),
		indexDir:   filepath.Join(dir, "index"),
		archiveDir: filepath.Join(dir, "archive"),
	}
	apiURL := "http://127.0.0.1:1"
	if api != nil {
		apiURL = api.server.URL
	}
	yaml := fmt.Sprintf(`
logging:
  development: false
  level: error
store:
  backend: memory
pool:
  required_token_count: 1
  mint_pause_min_seconds: 0
  mint_pause_max_seconds: 0
scheduler:
  pass_backoff_min_seconds: 0
  pass_backoff_max_seconds: 0
  error_backoff_seconds: 0
  no_token_pause_seconds: 0
login:
  provider: static
  static_tokens: [%q, %q]
api:
  search_url: %s/search
  detail_url: %s/statutes/{id}
  fetch_rate: 0
  timeout_seconds: 5
index:
  dir: %s
  page_delay_seconds: 0
archive:
  backend: local
  dir: %s
%s`, staticTokenOne, staticTokenTwo, apiURL, apiURL, env.indexDir, env.archiveDir, extra)
	require.NoError(t, os.WriteFile(env.configPath, []byte(yaml), 0o600))
	return env
}

func run(t *testing.T, ctx context.Context, args ...string) (string, error) {
	t.Helper()
	root, cleanup := NewRootCmd()
	defer cleanup()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(io.Discard)
	root.SetArgs(args)
	err := root.ExecuteContext(ctx)
	return out.String(), err
}

var (
	window2024 = statute.Window{Category: statute.LegalRegulation, Year: 2024}
	target42   = statute.FetchTarget{Category: statute.LegalRegulation, Year: 2024, Month: 1, ID: "42", Title: "Banking Act"}
)

func writeIndex(t *testing.T, root string) {
	t.Helper()
	file := index.File{
		Year:        2024,
		Month:       1,
		HierarchyID: 1,
		Total:       1,
		Data:        []index.Entry{{ID: target42.ID, Title: target42.Title}},
	}
	require.NoError(t, fsutil.WriteJSON(index.MonthPath(root, window2024, 1), file, 0o644))
}

func TestBuildWindows(t *testing.T) {
	testCases := []struct {
		name     string
		category int
		from, to int
		want     int
		wantErr  bool
	}{
		{name: "single category", category: 1, from: 2022, to: 2025, want: 4},
		{name: "all categories", category: 0, from: 2024, to: 2024, want: 3},
		{name: "inverted years", category: 1, from: 2025, to: 2022, wantErr: true},
		{name: "unknown category", category: 9, from: 2024, to: 2024, wantErr: true},
		{name: "non-positive year", category: 1, from: 0, to: 2024, wantErr: true},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			windows, err := buildWindows(tc.category, tc.from, tc.to)
			if tc.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Len(t, windows, tc.want)
		})
	}

	windows, err := buildWindows(2, 2023, 2024)
	require.NoError(t, err)
	assert.Equal(t, []statute.Window{
		{Category: statute.RegulatoryRule, Year: 2023},
		{Category: statute.RegulatoryRule, Year: 2024},
	}, windows)
}

func TestCrawl_ArchivesIndexedWindowAndSkipsItNextTime(t *testing.T) {
	api := newFakeAPI(t)
	env := newTestEnv(t, api, "")
	writeIndex(t, env.indexDir)

	ctx := context.Background()
	_, err := run(t, ctx, "--config", env.configPath, "crawl", "--category", "1", "--from", "2024", "--to", "2024")
	require.NoError(t, err)
	assert.EqualValues(t, 1, api.details.Load())

	writer, err := local.New(local.Config{BaseDir: env.archiveDir})
	require.NoError(t, err)
	ok, err := writer.Exists(ctx, target42)
	require.NoError(t, err)
	assert.True(t, ok)
	done, err := writer.IsComplete(ctx, window2024)
	require.NoError(t, err)
	assert.True(t, done)

	_, err = run(t, ctx, "--config", env.configPath, "crawl", "--category", "1", "--from", "2024", "--to", "2024")
	require.NoError(t, err)
	assert.EqualValues(t, 1, api.details.Load())

	_, err = run(t, ctx, "--config", env.configPath, "crawl", "--category", "1", "--from", "2024", "--to", "2024", "--force")
	require.NoError(t, err)
	assert.EqualValues(t, 2, api.details.Load())
}

func TestCrawl_RejectsBadYears(t *testing.T) {
	env := newTestEnv(t, nil, "")
	_, err := run(t, context.Background(), "--config", env.configPath, "crawl", "--from", "2025", "--to", "2024")
	require.Error(t, err)
}

func TestIndex_BuildsMonthFiles(t *testing.T) {
	api := newFakeAPI(t)
	env := newTestEnv(t, api, "")

	out, err := run(t, context.Background(), "--config", env.configPath, "index", "--category", "1", "--year", "2024")
	require.NoError(t, err)
	assert.Equal(t, "indexed 1 entries\n", out)

	file, ok, err := index.ReadMonth(env.indexDir, window2024, 1)
	require.NoError(t, err)
	require.True(t, ok)
	require.Len(t, file.Data, 1)
	assert.Equal(t, target42.ID, file.Data[0].ID)

	_, ok, err = index.ReadMonth(env.indexDir, window2024, 2)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestIndex_RejectsBadMonth(t *testing.T) {
	env := newTestEnv(t, nil, "")
	_, err := run(t, context.Background(), "--config", env.configPath, "index", "--month", "13")
	require.Error(t, err)
}

func TestPool_EnsureFillsStaticTokens(t *testing.T) {
	env := newTestEnv(t, nil, "")
	t.Setenv("STATUTE_POOL_REQUIRED_TOKEN_COUNT", "2")

	out, err := run(t, context.Background(), "--config", env.configPath, "pool", "ensure")
	require.NoError(t, err)

	var st pool.Status
	require.NoError(t, json.Unmarshal([]byte(out), &st))
	assert.EqualValues(t, 2, st.Count)
	assert.Equal(t, 2, st.Required)
}

func TestPool_SharedRedisLifecycle(t *testing.T) {
	api := newFakeAPI(t)
	mr := miniredis.RunT(t)
	env := newTestEnv(t, api, fmt.Sprintf("redis:\n  address: %s\n", mr.Addr()))
	t.Setenv("STATUTE_STORE_BACKEND", "redis")
	ctx := context.Background()

	_, err := run(t, ctx, "--config", env.configPath, "pool", "ensure")
	require.NoError(t, err)

	out, err := run(t, ctx, "--config", env.configPath, "pool", "probe")
	require.NoError(t, err)
	var reports []pool.ProbeReport
	require.NoError(t, json.Unmarshal([]byte(out), &reports))
	require.Len(t, reports, 1)
	assert.True(t, reports[0].Healthy)
	assert.Equal(t, statute.MaskToken(staticTokenOne), reports[0].Token)

	out, err = run(t, ctx, "--config", env.configPath, "pool", "primary", staticTokenTwo, "--ttl", "1h")
	require.NoError(t, err)
	assert.Contains(t, out, statute.MaskToken(staticTokenTwo))
	assert.NotContains(t, out, staticTokenTwo)

	out, err = run(t, ctx, "--config", env.configPath, "pool", "clear", "--primary")
	require.NoError(t, err)
	assert.Equal(t, "removed 1 records\n", out)

	out, err = run(t, ctx, "--config", env.configPath, "pool", "status")
	require.NoError(t, err)
	var st pool.Status
	require.NoError(t, json.Unmarshal([]byte(out), &st))
	assert.Zero(t, st.Count)
	assert.False(t, st.PrimarySet)
}

func TestRoot_InvalidConfig(t *testing.T) {
	env := newTestEnv(t, nil, "server:\n  port: -1\n")
	_, err := run(t, context.Background(), "--config", env.configPath, "pool", "status")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "server.port")
}

func TestRoot_AppInitFailure(t *testing.T) {
	orig := newApp
	newApp = func(context.Context, config.Config, *zap.Logger) (*app.App, error) {
		return nil, errors.New("backend down")
	}
	defer func() { newApp = orig }()

	env := newTestEnv(t, nil, "")
	_, err := run(t, context.Background(), "--config", env.configPath, "pool", "status")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "backend down")
}

func TestServe_ShutsDownOnCancel(t *testing.T) {
	port := freePort(t)
	env := newTestEnv(t, nil, fmt.Sprintf("server:\n  port: %d\n", port))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	errCh := make(chan error, 1)
	go func() {
		_, err := run(t, ctx, "--config", env.configPath, "serve")
		errCh <- err
	}()

	url := fmt.Sprintf("http://127.0.0.1:%d/healthz", port)
	require.Eventually(t, func() bool {
		resp, err := http.Get(url) //nolint:noctx // test helper
		if err != nil {
			return false
		}
		_ = resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, 5*time.Second, 20*time.Millisecond)

	cancel()
	select {
	case err := <-errCh:
		require.NoError(t, err)
	case <-time.After(shutdownTimeout):
		t.Fatal("serve did not stop after cancel")
	}
}

func freePort(t *testing.T) int {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer l.Close()
	return l.Addr().(*net.TCPAddr).Port
}
