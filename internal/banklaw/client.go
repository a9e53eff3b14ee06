// Package banklaw implements the statute search and detail API client on
// top of gocolly.
package banklaw

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/gocolly/colly/v2"

	"github.com/JakeFAU/statute-crawler/internal/statute"
)

// Default endpoints of the public API.
const (
	DefaultSearchURL = "https://api2.banklaw.com/search/v1/statutes/search"
	DefaultDetailURL = "https://api2.banklaw.com/search/v1/statutes/{id}"
	DefaultOrigin    = "https://www.banklaw.com"
	DefaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 " +
		"(KHTML, like Gecko) Chrome/134.0.0.0 Safari/537.36"

	idPlaceholder = "{id}"
)

// ErrEmptyDocument is returned when a detail payload carries no title.
var ErrEmptyDocument = errors.New("empty document")

// Config controls the API client.
type Config struct {
	SearchURL string
	DetailURL string
	Origin    string
	UserAgent string
	Timeout   time.Duration
}

// Client implements statute.Searcher and statute.DetailFetcher.
type Client struct {
	cfg           Config
	baseCollector *colly.Collector
}

type collectorHooks interface {
	OnRequest(colly.RequestCallback)
	OnResponse(colly.ResponseCallback)
	OnError(colly.ErrorCallback)
}

// exchange captures the outcome of one collector run.
type exchange struct {
	status int
	body   []byte
	err    error
}

// New builds a Client.
func New(cfg Config) *Client {
	if cfg.SearchURL == "" {
		cfg.SearchURL = DefaultSearchURL
	}
	if cfg.DetailURL == "" {
		cfg.DetailURL = DefaultDetailURL
	}
	if cfg.Origin == "" {
		cfg.Origin = DefaultOrigin
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = DefaultUserAgent
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}

	// Clones share the base collector's http.Client, so its timeout and
	// transport are set here once and never touched per call.
	c := colly.NewCollector(colly.Async(false), colly.AllowURLRevisit())
	c.WithTransport(newHTTPTransport())
	c.SetRequestTimeout(cfg.Timeout)

	return &Client{
		cfg:           cfg,
		baseCollector: c,
	}
}

type searchBody struct {
	PageIndex                     int    `json:"pageIndex"`
	PageSize                      int    `json:"pageSize"`
	Sort                          int    `json:"sort"`
	ExactMatch                    bool   `json:"exactMatch"`
	SecurityLevel                 string `json:"securityLevel"`
	HierarchyAliasID              int    `json:"hierarchyAliasId"`
	NeedImportantNews             bool   `json:"needImportantNews"`
	Content                       string `json:"content"`
	OrganizationName              string `json:"organizationName"`
	ReferenceNo                   string `json:"referenceNo"`
	BeginPublishDate              string `json:"beginPublishDate"`
	EndPublishDate                string `json:"endPublishDate"`
	Code                          int    `json:"code"`
	NoChild                       bool   `json:"nochild"`
	StatusChangeContainDoubleDate int    `json:"statusChangeContainDoubleDate"`
}

type envelope struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

type searchData struct {
	PageIndex int                 `json:"pageIndex"`
	Total     int                 `json:"total"`
	Rows      []statute.SearchRow `json:"rows"`
}

// Search posts one search page. An application error code is reported in
// the response, not as an error, so callers can classify it.
func (c *Client) Search(ctx context.Context, token string, req statute.SearchRequest) (statute.SearchResponse, error) {
	if req.Category == nil {
		return statute.SearchResponse{}, fmt.Errorf("search: %w", statute.ErrUnknownCategory)
	}
	pageSize := req.PageSize
	if pageSize <= 0 {
		pageSize = 10
	}
	body, err := json.Marshal(searchBody{
		PageIndex:         req.PageIndex,
		PageSize:          pageSize,
		Sort:              1,
		ExactMatch:        true,
		HierarchyAliasID:  req.Category.ID(),
		NeedImportantNews: true,
		BeginPublishDate:  req.BeginDate,
		EndPublishDate:    req.EndDate,
		Code:              2,
	})
	if err != nil {
		return statute.SearchResponse{}, fmt.Errorf("encode search body: %w", err)
	}

	ex, err := c.do(ctx, token, http.MethodPost, c.cfg.SearchURL, body)
	if err != nil {
		return statute.SearchResponse{}, err
	}

	var env envelope
	if err := json.Unmarshal(ex.body, &env); err != nil {
		return statute.SearchResponse{}, fmt.Errorf("decode search response: %w", err)
	}
	resp := statute.SearchResponse{
		StatusCode: ex.status,
		Code:       env.Code,
		Message:    env.Message,
	}
	if len(env.Data) == 0 || string(env.Data) == "null" {
		return resp, nil
	}
	var data searchData
	if err := json.Unmarshal(env.Data, &data); err != nil {
		return statute.SearchResponse{}, fmt.Errorf("decode search rows: %w", err)
	}
	resp.PageIndex = data.PageIndex
	resp.Total = data.Total
	resp.Rows = data.Rows
	return resp, nil
}

// Fetch retrieves the detail record of target.
func (c *Client) Fetch(ctx context.Context, token string, target statute.FetchTarget) (statute.Document, error) {
	if target.ID == "" {
		return statute.Document{}, fmt.Errorf("fetch: %w: missing id", ErrEmptyDocument)
	}
	url := strings.ReplaceAll(c.cfg.DetailURL, idPlaceholder, string(target.ID))

	ex, err := c.do(ctx, token, http.MethodGet, url, nil)
	if err != nil {
		return statute.Document{}, err
	}

	var env envelope
	if err := json.Unmarshal(ex.body, &env); err != nil {
		return statute.Document{}, fmt.Errorf("decode detail response: %w", err)
	}
	if env.Code != 0 {
		return statute.Document{}, &statute.APIError{Code: env.Code, Message: env.Message}
	}
	var doc statute.Document
	if len(env.Data) > 0 {
		if err := json.Unmarshal(env.Data, &doc); err != nil {
			return statute.Document{}, fmt.Errorf("decode detail record: %w", err)
		}
	}
	if strings.TrimSpace(doc.Title) == "" {
		return statute.Document{}, fmt.Errorf("fetch %s: %w", target.ID, ErrEmptyDocument)
	}
	if doc.ID == "" {
		doc.ID = target.ID
	}
	doc.Raw = append([]byte(nil), env.Data...)
	return doc, nil
}

func (c *Client) do(ctx context.Context, token, method, url string, body []byte) (exchange, error) {
	var ex exchange
	collector := c.buildCollector(ctx)
	c.configureCollectorHooks(collector, token, method, &ex)
	if err := c.runCollector(ctx, collector, method, url, body, &ex); err != nil {
		return exchange{}, err
	}
	return ex, nil
}

func (c *Client) buildCollector(ctx context.Context) *colly.Collector {
	collector := c.baseCollector.Clone()
	collector.UserAgent = c.cfg.UserAgent
	collector.Context = ctx
	return collector
}

func (c *Client) configureCollectorHooks(hooks collectorHooks, token, method string, ex *exchange) {
	hooks.OnRequest(func(r *colly.Request) {
		r.Headers.Set("Accept", "application/json")
		r.Headers.Set("Accept-Language", "zh-CN,zh;q=0.9")
		r.Headers.Set("Cache-Control", "no-cache")
		r.Headers.Set("Origin", c.cfg.Origin)
		r.Headers.Set("Access-Token", token)
		if method == http.MethodPost {
			r.Headers.Set("Content-Type", "application/json; charset=utf-8")
		}
	})

	hooks.OnResponse(func(r *colly.Response) {
		ex.status = r.StatusCode
		ex.body = append([]byte(nil), r.Body...)
	})

	hooks.OnError(func(r *colly.Response, err error) {
		if r != nil && r.StatusCode != 0 {
			ex.status = r.StatusCode
			ex.err = &statute.StatusError{StatusCode: r.StatusCode}
			return
		}
		ex.err = err
	})
}

func (c *Client) runCollector(
	ctx context.Context,
	collector *colly.Collector,
	method, url string,
	body []byte,
	ex *exchange,
) error {
	done := make(chan error, 1)
	go func() {
		if method == http.MethodPost {
			done <- collector.PostRaw(url, body)
			return
		}
		done <- collector.Visit(url)
	}()

	select {
	case <-ctx.Done():
		return fmt.Errorf("banklaw %s canceled: %w", method, ctx.Err())
	case err := <-done:
		if ex.err != nil {
			return fmt.Errorf("banklaw %s %s: %w", method, url, ex.err)
		}
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return fmt.Errorf("banklaw %s canceled: %w", method, ctxErr)
			}
			return fmt.Errorf("banklaw %s %s: %w", method, url, err)
		}
		return nil
	}
}

func newHTTPTransport() *http.Transport {
	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   15 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
	}
}
