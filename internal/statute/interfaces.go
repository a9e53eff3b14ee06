package statute

import (
	"context"
	"time"
)

// TokenStore is the shared, multi-process visible credential store. Every
// method maps onto a single atomic store operation.
type TokenStore interface {
	Push(ctx context.Context, record string) error
	List(ctx context.Context) ([]string, error)
	RemoveByValue(ctx context.Context, record string) (int64, error)
	Count(ctx context.Context) (int64, error)
	SetPrimary(ctx context.Context, token string, ttl time.Duration) error
	GetPrimary(ctx context.Context) (string, bool, error)
	PrimaryTTL(ctx context.Context) (time.Duration, bool, error)
	DeletePrimary(ctx context.Context) error
}

// Prober classifies a single token against the live API.
type Prober interface {
	Probe(ctx context.Context, token string) ProbeResult
}

// LoginProvider mints one new credential. Calls may block for a long time.
type LoginProvider interface {
	Login(ctx context.Context) (Credential, error)
}

// Searcher runs one paginated search call.
type Searcher interface {
	Search(ctx context.Context, token string, req SearchRequest) (SearchResponse, error)
}

// DetailFetcher retrieves the detail record of one target.
type DetailFetcher interface {
	Fetch(ctx context.Context, token string, target FetchTarget) (Document, error)
}

// DocumentWriter persists fetched documents. Writes overwrite.
type DocumentWriter interface {
	Write(ctx context.Context, target FetchTarget, doc Document) error
	Exists(ctx context.Context, target FetchTarget) (bool, error)
	MarkComplete(ctx context.Context, window Window) error
	IsComplete(ctx context.Context, window Window) (bool, error)
}

// Clock returns the current time and sleeps (useful for testing).
type Clock interface {
	Now() time.Time
	Sleep(ctx context.Context, d time.Duration) error
}
