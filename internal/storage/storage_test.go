package storage

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teemow/calendar-mcp/internal/storage/file"
	"github.com/teemow/calendar-mcp/internal/storage/memory"
	"github.com/teemow/calendar-mcp/internal/storage/storagetest"
)

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		cfg     Config
		wantErr bool
	}{
		{"default is memory", Config{}, false},
		{"memory", Config{Type: TypeMemory}, false},
		{"file with dir", Config{Type: TypeFile, Dir: "/tmp/x"}, false},
		{"file without dir", Config{Type: TypeFile}, true},
		{"valkey with url", Config{Type: TypeValkey, Valkey: ValkeyConfig{URL: "localhost:6379"}}, false},
		{"valkey without url", Config{Type: TypeValkey}, true},
		{"unknown type", Config{Type: "dynamo"}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestNew_SelectsVariant(t *testing.T) {
	ctx := context.Background()

	b, err := New(ctx, Config{Type: TypeMemory}, nil)
	require.NoError(t, err)
	assert.IsType(t, &memory.Store{}, b)
	require.NoError(t, b.Close())

	dir := t.TempDir()
	b, err = New(ctx, Config{Type: TypeFile, Dir: dir}, nil)
	require.NoError(t, err)
	assert.IsType(t, &file.Store{}, b)

	_, err = New(ctx, Config{Type: "bogus"}, nil)
	assert.Error(t, err)
}

func TestNamespaced_Conformance(t *testing.T) {
	storagetest.Run(t, func(t *testing.T) storagetest.Backend {
		m := memory.New()
		t.Cleanup(func() { _ = m.Close() })
		return WithNamespace(m, "tenant-a:")
	})
}

func TestNamespaced_PrefixesKeys(t *testing.T) {
	ctx := context.Background()
	m := memory.New()
	defer m.Close()

	a := WithNamespace(m, "a:")
	b := WithNamespace(m, "b:")

	require.NoError(t, a.Set(ctx, "token:1", []byte("x"), time.Minute))

	_, ok, err := b.Get(ctx, "token:1")
	require.NoError(t, err)
	assert.False(t, ok)

	raw, err := m.List(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, []string{"a:token:1"}, raw)

	keys, err := a.List(ctx, "token:")
	require.NoError(t, err)
	assert.Equal(t, []string{"token:1"}, keys)
}

type fakeRecorder struct {
	mu  sync.Mutex
	ops []string
}

func (f *fakeRecorder) RecordStorageOperation(_ context.Context, backend, operation, status string, _ time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ops = append(f.ops, backend+"/"+operation+"/"+status)
}

func TestWithRecorder(t *testing.T) {
	ctx := context.Background()
	m := memory.New()
	defer m.Close()

	assert.Same(t, Backend(m), WithRecorder(m, "memory", nil))

	rec := &fakeRecorder{}
	b := WithRecorder(m, "memory", rec)

	require.NoError(t, b.Set(ctx, "k", []byte("v"), 0))
	_, _, _ = b.Get(ctx, "k")
	_, _ = b.Replace(ctx, "k", []byte("v2"), 0)
	_, _ = b.List(ctx, "")
	_, _, _ = b.Take(ctx, "k")
	require.NoError(t, b.Delete(ctx, "k"))

	assert.Equal(t, []string{
		"memory/set/success",
		"memory/get/success",
		"memory/replace/success",
		"memory/list/success",
		"memory/take/success",
		"memory/delete/success",
	}, rec.ops)
}
