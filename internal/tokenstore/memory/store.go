// Package memory keeps the token pool in-process for development and tests.
package memory

import (
	"context"
	"sync"
	"time"
)

// Store is a mutex-guarded TokenStore with the same list semantics as the
// redis adapter.
type Store struct {
	mu            sync.Mutex
	records       []string
	primary       string
	primaryExpiry time.Time
	now           func() time.Time
}

// New creates an empty Store.
func New() *Store {
	return &Store{now: time.Now}
}

// NewWithClock creates a Store that evaluates primary TTLs against now.
func NewWithClock(now func() time.Time) *Store {
	return &Store{now: now}
}

// Push appends a record to the tail of the pool.
func (s *Store) Push(_ context.Context, record string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = append(s.records, record)
	return nil
}

// List returns a snapshot of all records.
func (s *Store) List(_ context.Context) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.records...), nil
}

// RemoveByValue drops every record equal to record and returns how many
// were removed. Removing an absent record is a no-op.
func (s *Store) RemoveByValue(_ context.Context, record string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	kept := s.records[:0]
	var removed int64
	for _, r := range s.records {
		if r == record {
			removed++
			continue
		}
		kept = append(kept, r)
	}
	s.records = kept
	return removed, nil
}

// Count returns the pool size.
func (s *Store) Count(_ context.Context) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return int64(len(s.records)), nil
}

// SetPrimary stores the primary token. A non-positive ttl never expires.
func (s *Store) SetPrimary(_ context.Context, token string, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.primary = token
	s.primaryExpiry = time.Time{}
	if ttl > 0 {
		s.primaryExpiry = s.now().Add(ttl)
	}
	return nil
}

// GetPrimary returns the primary token if set and not expired.
func (s *Store) GetPrimary(_ context.Context) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.expireLocked()
	return s.primary, s.primary != "", nil
}

// PrimaryTTL returns the remaining lifetime of the primary token. The
// second value is false when there is no primary or it has no expiry.
func (s *Store) PrimaryTTL(_ context.Context) (time.Duration, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.expireLocked()
	if s.primary == "" || s.primaryExpiry.IsZero() {
		return 0, false, nil
	}
	return s.primaryExpiry.Sub(s.now()), true, nil
}

// DeletePrimary clears the primary slot.
func (s *Store) DeletePrimary(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.primary = ""
	s.primaryExpiry = time.Time{}
	return nil
}

func (s *Store) expireLocked() {
	if s.primary != "" && !s.primaryExpiry.IsZero() && !s.now().Before(s.primaryExpiry) {
		s.primary = ""
		s.primaryExpiry = time.Time{}
	}
}
