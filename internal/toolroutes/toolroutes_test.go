package toolroutes

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCacheLookup(t *testing.T) {
	ctx := context.Background()

	t.Run("first lookup refreshes", func(t *testing.T) {
		var fetches int32
		cache := NewCache(SourceFunc(func(context.Context) (Table, error) {
			atomic.AddInt32(&fetches, 1)
			return DefaultTable(), nil
		}), time.Minute)

		route, err := cache.Lookup(ctx, "claude_cli")
		require.NoError(t, err)
		assert.Equal(t, "claude", route.Command)
		assert.EqualValues(t, 1, atomic.LoadInt32(&fetches))

		// Within TTL: no second fetch.
		_, err = cache.Lookup(ctx, "gemini_cli")
		require.NoError(t, err)
		assert.EqualValues(t, 1, atomic.LoadInt32(&fetches))
	})

	t.Run("unknown tool id", func(t *testing.T) {
		cache := NewCache(Static(DefaultTable()), time.Minute)
		_, err := cache.Lookup(ctx, "mystery_cli")
		require.Error(t, err)
		assert.Contains(t, err.Error(), `no route for tool "mystery_cli"`)
	})

	t.Run("stale served on refresh failure", func(t *testing.T) {
		var fail atomic.Bool
		cache := NewCache(SourceFunc(func(context.Context) (Table, error) {
			if fail.Load() {
				return nil, errors.New("route service unavailable")
			}
			return DefaultTable(), nil
		}), time.Nanosecond)

		_, err := cache.Lookup(ctx, "claude_cli")
		require.NoError(t, err)

		fail.Store(true)
		time.Sleep(time.Millisecond) // let the TTL lapse

		route, err := cache.Lookup(ctx, "claude_cli")
		require.NoError(t, err, "stale table must be served on refresh failure")
		assert.Equal(t, "claude", route.Command)
	})

	t.Run("error when no table was ever fetched", func(t *testing.T) {
		cache := NewCache(SourceFunc(func(context.Context) (Table, error) {
			return nil, errors.New("boom")
		}), time.Minute)

		_, err := cache.Lookup(ctx, "claude_cli")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "no cached table")
	})

	t.Run("concurrent refresh collapsed", func(t *testing.T) {
		var fetches int32
		release := make(chan struct{})
		cache := NewCache(SourceFunc(func(context.Context) (Table, error) {
			atomic.AddInt32(&fetches, 1)
			<-release
			return DefaultTable(), nil
		}), time.Minute)

		var wg sync.WaitGroup
		for i := 0; i < 8; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				_, err := cache.Lookup(ctx, "claude_cli")
				assert.NoError(t, err)
			}()
		}
		// Give the goroutines time to pile up on the single-flight group.
		time.Sleep(10 * time.Millisecond)
		close(release)
		wg.Wait()

		assert.EqualValues(t, 1, atomic.LoadInt32(&fetches))
	})
}
