package memory

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStoreListOperations(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := New()
	require.NoError(t, s.Push(ctx, "a"))
	require.NoError(t, s.Push(ctx, "b"))
	require.NoError(t, s.Push(ctx, "a"))

	n, err := s.Count(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 3, n)

	removed, err := s.RemoveByValue(ctx, "a")
	require.NoError(t, err)
	assert.EqualValues(t, 2, removed)

	removed, err = s.RemoveByValue(ctx, "a")
	require.NoError(t, err)
	assert.Zero(t, removed)

	records, err := s.List(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"b"}, records)
}

func TestStorePrimaryExpires(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	now := time.Unix(1000, 0)
	var mu sync.Mutex
	s := NewWithClock(func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		return now
	})

	require.NoError(t, s.SetPrimary(ctx, "primary-token", time.Minute))
	token, ok, err := s.GetPrimary(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "primary-token", token)

	ttl, ok, err := s.PrimaryTTL(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, time.Minute, ttl)

	mu.Lock()
	now = now.Add(2 * time.Minute)
	mu.Unlock()

	_, ok, err = s.GetPrimary(ctx)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestStoreConcurrentRemoveIsSafe(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := New()
	for i := 0; i < 50; i++ {
		require.NoError(t, s.Push(ctx, "dup"))
	}

	var wg sync.WaitGroup
	var mu sync.Mutex
	var total int64
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			n, err := s.RemoveByValue(ctx, "dup")
			assert.NoError(t, err)
			mu.Lock()
			total += n
			mu.Unlock()
		}()
	}
	wg.Wait()

	assert.EqualValues(t, 50, total)
	n, err := s.Count(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
}
