// Package storagetest provides the conformance suite shared by every
// storage variant.
package storagetest

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Backend mirrors storage.Backend so this package can be imported from the
// variants' tests without an import cycle.
type Backend interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Replace(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error)
	Delete(ctx context.Context, key string) error
	List(ctx context.Context, prefix string) ([]string, error)
	Take(ctx context.Context, key string) ([]byte, bool, error)
	Ping(ctx context.Context) error
	Close() error
}

// Factory returns a fresh, empty backend for one subtest.
type Factory func(t *testing.T) Backend

// shortTTL and ttlWait are kept small so the suite stays fast against a
// real server.
const (
	shortTTL = 50 * time.Millisecond
	ttlWait  = 150 * time.Millisecond
)

// Run executes the conformance suite against backends produced by newBackend.
func Run(t *testing.T, newBackend Factory) {
	t.Run("get absent key", func(t *testing.T) {
		b := newBackend(t)
		v, ok, err := b.Get(context.Background(), "txn:missing")
		require.NoError(t, err)
		assert.False(t, ok)
		assert.Nil(t, v)
	})

	t.Run("set then get", func(t *testing.T) {
		b := newBackend(t)
		ctx := context.Background()
		require.NoError(t, b.Set(ctx, "token:abc", []byte(`{"a":1}`), time.Hour))

		v, ok, err := b.Get(ctx, "token:abc")
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, `{"a":1}`, string(v))
	})

	t.Run("overwrite replaces whole value", func(t *testing.T) {
		b := newBackend(t)
		ctx := context.Background()
		require.NoError(t, b.Set(ctx, "token:abc", []byte("first-long-value"), time.Hour))
		require.NoError(t, b.Set(ctx, "token:abc", []byte("second"), time.Hour))

		v, ok, err := b.Get(ctx, "token:abc")
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, "second", string(v))
	})

	t.Run("no ttl does not expire", func(t *testing.T) {
		b := newBackend(t)
		ctx := context.Background()
		require.NoError(t, b.Set(ctx, "token:forever", []byte("v"), 0))
		time.Sleep(ttlWait)

		_, ok, err := b.Get(ctx, "token:forever")
		require.NoError(t, err)
		assert.True(t, ok)
	})

	t.Run("expired key reads as absent", func(t *testing.T) {
		b := newBackend(t)
		ctx := context.Background()
		require.NoError(t, b.Set(ctx, "txn:short", []byte("v"), shortTTL))
		time.Sleep(ttlWait)

		v, ok, err := b.Get(ctx, "txn:short")
		require.NoError(t, err)
		assert.False(t, ok)
		assert.Nil(t, v)

		_, ok, err = b.Take(ctx, "txn:short")
		require.NoError(t, err)
		assert.False(t, ok)

		keys, err := b.List(ctx, "txn:")
		require.NoError(t, err)
		assert.Empty(t, keys)
	})

	t.Run("replace only overwrites live keys", func(t *testing.T) {
		b := newBackend(t)
		ctx := context.Background()

		ok, err := b.Replace(ctx, "token:absent", []byte("v"), time.Hour)
		require.NoError(t, err)
		assert.False(t, ok)
		_, found, err := b.Get(ctx, "token:absent")
		require.NoError(t, err)
		assert.False(t, found, "replace must not create a key")

		require.NoError(t, b.Set(ctx, "token:live", []byte("old"), time.Hour))
		ok, err = b.Replace(ctx, "token:live", []byte("new"), time.Hour)
		require.NoError(t, err)
		assert.True(t, ok)
		v, _, err := b.Get(ctx, "token:live")
		require.NoError(t, err)
		assert.Equal(t, "new", string(v))

		require.NoError(t, b.Delete(ctx, "token:live"))
		ok, err = b.Replace(ctx, "token:live", []byte("newer"), time.Hour)
		require.NoError(t, err)
		assert.False(t, ok)
		_, found, err = b.Get(ctx, "token:live")
		require.NoError(t, err)
		assert.False(t, found)

		require.NoError(t, b.Set(ctx, "token:short", []byte("v"), shortTTL))
		time.Sleep(ttlWait)
		ok, err = b.Replace(ctx, "token:short", []byte("v2"), time.Hour)
		require.NoError(t, err)
		assert.False(t, ok, "an expired key is absent")
	})

	t.Run("delete is idempotent", func(t *testing.T) {
		b := newBackend(t)
		ctx := context.Background()
		require.NoError(t, b.Set(ctx, "token:gone", []byte("v"), time.Hour))
		require.NoError(t, b.Delete(ctx, "token:gone"))
		require.NoError(t, b.Delete(ctx, "token:gone"))
		require.NoError(t, b.Delete(ctx, "token:never-existed"))

		_, ok, err := b.Get(ctx, "token:gone")
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("list by prefix", func(t *testing.T) {
		b := newBackend(t)
		ctx := context.Background()
		for _, k := range []string{"token:b", "token:a", "txn:1", "grant:x"} {
			require.NoError(t, b.Set(ctx, k, []byte("v"), time.Hour))
		}

		keys, err := b.List(ctx, "token:")
		require.NoError(t, err)
		assert.Equal(t, []string{"token:a", "token:b"}, keys)

		keys, err = b.List(ctx, "nothing:")
		require.NoError(t, err)
		assert.Empty(t, keys)
	})

	t.Run("take reads and deletes", func(t *testing.T) {
		b := newBackend(t)
		ctx := context.Background()
		require.NoError(t, b.Set(ctx, "txn:once", []byte("payload"), time.Hour))

		v, ok, err := b.Take(ctx, "txn:once")
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, "payload", string(v))

		_, ok, err = b.Take(ctx, "txn:once")
		require.NoError(t, err)
		assert.False(t, ok)

		_, ok, err = b.Get(ctx, "txn:once")
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("concurrent take has a single winner", func(t *testing.T) {
		b := newBackend(t)
		ctx := context.Background()

		for round := 0; round < 5; round++ {
			key := fmt.Sprintf("txn:race-%d", round)
			require.NoError(t, b.Set(ctx, key, []byte("v"), time.Hour))

			var winners atomic.Int32
			var wg sync.WaitGroup
			for i := 0; i < 8; i++ {
				wg.Add(1)
				go func() {
					defer wg.Done()
					_, ok, err := b.Take(ctx, key)
					if err != nil {
						t.Errorf("Take() error = %v", err)
						return
					}
					if ok {
						winners.Add(1)
					}
				}()
			}
			wg.Wait()
			assert.Equal(t, int32(1), winners.Load(), "round %d", round)
		}
	})

	t.Run("ping", func(t *testing.T) {
		b := newBackend(t)
		assert.NoError(t, b.Ping(context.Background()))
	})
}
