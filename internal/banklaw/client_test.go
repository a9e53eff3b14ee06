package banklaw

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gocolly/colly/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/statute-crawler/internal/statute"
)

func TestSearch_PostsOriginalBodyAndDecodesRows(t *testing.T) {
	t.Parallel()

	var (
		gotBody   map[string]any
		gotToken  string
		gotMethod string
		gotCT     string
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotMethod = r.Method
		gotToken = r.Header.Get("Access-Token")
		gotCT = r.Header.Get("Content-Type")
		raw, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(raw, &gotBody)
		_, _ = w.Write([]byte(`{"code":0,"message":"ok","data":{"pageIndex":2,"total":31,` +
			`"rows":[{"statuteId":"1001","title":"商业银行法"},{"statuteId":1002,"title":"银行业监督管理法"}]}}`))
	}))
	defer srv.Close()

	client := New(Config{SearchURL: srv.URL + "/search", Timeout: time.Second})
	resp, err := client.Search(context.Background(), "tok-search", statute.SearchRequest{
		Category:  statute.RegulatoryRule,
		BeginDate: "2024-03-01",
		EndDate:   "2024-04-01",
		PageIndex: 2,
		PageSize:  10,
	})
	require.NoError(t, err)

	assert.Equal(t, http.MethodPost, gotMethod)
	assert.Equal(t, "tok-search", gotToken)
	assert.Contains(t, gotCT, "application/json")
	assert.EqualValues(t, 2, gotBody["pageIndex"])
	assert.EqualValues(t, 10, gotBody["pageSize"])
	assert.EqualValues(t, 2, gotBody["hierarchyAliasId"])
	assert.Equal(t, "2024-03-01", gotBody["beginPublishDate"])
	assert.Equal(t, "2024-04-01", gotBody["endPublishDate"])
	assert.Equal(t, true, gotBody["exactMatch"])

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, 2, resp.PageIndex)
	assert.Equal(t, 31, resp.Total)
	require.Len(t, resp.Rows, 2)
	assert.Equal(t, statute.DocumentID("1001"), resp.Rows[0].ID)
	assert.Equal(t, statute.DocumentID("1002"), resp.Rows[1].ID)
}

func TestSearch_RepeatedIdenticalCallsAreSent(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		_, _ = w.Write([]byte(`{"code":0,"data":{"pageIndex":1,"rows":[]}}`))
	}))
	defer srv.Close()

	client := New(Config{SearchURL: srv.URL})
	req := statute.SearchRequest{Category: statute.LegalRegulation, PageIndex: 1, PageSize: 1}
	for range 2 {
		_, err := client.Search(context.Background(), "tok", req)
		require.NoError(t, err)
	}
	require.EqualValues(t, 2, calls.Load())
}

func TestSearch_ApplicationErrorIsReported(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"code":401,"message":"今日访问次数已达上限","data":null}`))
	}))
	defer srv.Close()

	resp, err := New(Config{SearchURL: srv.URL}).Search(context.Background(), "tok",
		statute.SearchRequest{Category: statute.LegalRegulation, PageIndex: 1})
	require.NoError(t, err)
	require.Equal(t, 401, resp.Code)
	require.Contains(t, resp.Message, "上限")
	require.Empty(t, resp.Rows)
}

func TestSearch_HTTPErrorIsStatusError(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer srv.Close()

	_, err := New(Config{SearchURL: srv.URL}).Search(context.Background(), "tok",
		statute.SearchRequest{Category: statute.LegalRegulation})
	require.Error(t, err)
	var statusErr *statute.StatusError
	require.True(t, errors.As(err, &statusErr))
	require.Equal(t, http.StatusForbidden, statusErr.StatusCode)
}

func TestSearch_RequiresCategory(t *testing.T) {
	t.Parallel()

	_, err := New(Config{}).Search(context.Background(), "tok", statute.SearchRequest{})
	require.ErrorIs(t, err, statute.ErrUnknownCategory)
}

func TestFetch_DecodesDocument(t *testing.T) {
	t.Parallel()

	var gotPath string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		_, _ = w.Write([]byte(`{"code":0,"data":{"statuteId":"77","title":"反洗钱法",` +
			`"publishDate":"2024-11-08","referenceNo":"主席令第三十八号",` +
			`"paragraphs":[{"groupId":2,"content":"第二条"},{"groupId":1,"content":"<p>第一条</p>"}]}}`))
	}))
	defer srv.Close()

	client := New(Config{DetailURL: srv.URL + "/statutes/{id}/detail"})
	doc, err := client.Fetch(context.Background(), "tok", statute.FetchTarget{
		Category: statute.LegalRegulation, Year: 2024, Month: 11, ID: "77", Title: "反洗钱法",
	})
	require.NoError(t, err)

	assert.Equal(t, "/statutes/77/detail", gotPath)
	assert.Equal(t, statute.DocumentID("77"), doc.ID)
	assert.Equal(t, "反洗钱法", doc.Title)
	assert.Equal(t, "主席令第三十八号", doc.ReferenceNo)
	require.Len(t, doc.Paragraphs, 2)
	assert.Contains(t, string(doc.Raw), `"statuteId":"77"`)
}

func TestFetch_Errors(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		name    string
		payload string
		target  error
	}{
		{"empty title", `{"code":0,"data":{"statuteId":"1","title":""}}`, ErrEmptyDocument},
		{"missing data", `{"code":0}`, ErrEmptyDocument},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				_, _ = w.Write([]byte(tc.payload))
			}))
			defer srv.Close()

			_, err := New(Config{DetailURL: srv.URL + "/{id}"}).Fetch(context.Background(), "tok",
				statute.FetchTarget{Category: statute.LegalRegulation, ID: "1"})
			require.ErrorIs(t, err, tc.target)
		})
	}
}

func TestFetch_NonZeroCodeIsAPIError(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"code":500,"message":"系统繁忙"}`))
	}))
	defer srv.Close()

	_, err := New(Config{DetailURL: srv.URL + "/{id}"}).Fetch(context.Background(), "tok",
		statute.FetchTarget{Category: statute.LegalRegulation, ID: "9"})
	var apiErr *statute.APIError
	require.True(t, errors.As(err, &apiErr))
	require.Equal(t, 500, apiErr.Code)
}

func TestFetch_MissingIDFailsFast(t *testing.T) {
	t.Parallel()

	_, err := New(Config{}).Fetch(context.Background(), "tok", statute.FetchTarget{Category: statute.LegalRegulation})
	require.ErrorIs(t, err, ErrEmptyDocument)
}

func TestFetch_Cancellation(t *testing.T) {
	t.Parallel()

	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := New(Config{DetailURL: srv.URL + "/{id}", Timeout: 5 * time.Second}).Fetch(ctx, "tok",
		statute.FetchTarget{Category: statute.LegalRegulation, ID: "5"})
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestClient_ConcurrentCallsShareOneCollector(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost {
			_, _ = w.Write([]byte(`{"code":0,"data":{"pageIndex":1,"rows":[]}}`))
			return
		}
		id := strings.TrimPrefix(r.URL.Path, "/statutes/")
		_, _ = fmt.Fprintf(w, `{"code":0,"data":{"statuteId":%q,"title":"doc %s"}}`, id, id)
	}))
	defer srv.Close()

	client := New(Config{
		SearchURL: srv.URL + "/search",
		DetailURL: srv.URL + "/statutes/{id}",
		Timeout:   2 * time.Second,
	})

	const workers = 8
	var wg sync.WaitGroup
	errs := make(chan error, workers*2)
	for i := range workers {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			id := statute.DocumentID(fmt.Sprintf("%d", i))
			doc, err := client.Fetch(context.Background(), "tok", statute.FetchTarget{
				Category: statute.LegalRegulation, Year: 2024, ID: id,
			})
			if err == nil && doc.ID != id {
				err = fmt.Errorf("fetch %s returned %s", id, doc.ID)
			}
			errs <- err
			_, err = client.Search(context.Background(), "tok", statute.SearchRequest{
				Category: statute.LegalRegulation, PageIndex: 1, PageSize: 1,
			})
			errs <- err
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}
}

func TestConfigureCollectorHooks_SetsHeaders(t *testing.T) {
	t.Parallel()

	c := New(Config{Origin: "https://example.test"})
	hooks := &stubHooks{}
	var ex exchange
	c.configureCollectorHooks(hooks, "tok-hdr", http.MethodPost, &ex)
	require.NotNil(t, hooks.onRequest)
	require.NotNil(t, hooks.onResponse)
	require.NotNil(t, hooks.onError)

	hdr := http.Header{}
	hooks.onRequest(&colly.Request{Headers: &hdr})
	assert.Equal(t, "tok-hdr", hdr.Get("Access-Token"))
	assert.Equal(t, "https://example.test", hdr.Get("Origin"))
	assert.Contains(t, hdr.Get("Content-Type"), "application/json")

	hooks.onError(nil, errors.New("boom"))
	require.EqualError(t, ex.err, "boom")
}

type stubHooks struct {
	onRequest  colly.RequestCallback
	onResponse colly.ResponseCallback
	onError    colly.ErrorCallback
}

func (s *stubHooks) OnRequest(cb colly.RequestCallback)   { s.onRequest = cb }
func (s *stubHooks) OnResponse(cb colly.ResponseCallback) { s.onResponse = cb }
func (s *stubHooks) OnError(cb colly.ErrorCallback)       { s.onError = cb }
