// Package file is the file-backed storage variant. Each key namespace (the
// part of the key before the first ':') is one JSON document on disk, and
// every operation is a read-modify-write under an exclusive file lock, so
// several processes on one machine can share a directory.
package file

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/gofrs/flock"
)

const (
	// dirPerm is the permission mode for the storage directory.
	dirPerm = fs.FileMode(0o700)

	// filePerm is the permission mode for namespace documents.
	filePerm = fs.FileMode(0o600)

	// lockRetryDelay is how long to wait between lock attempts.
	lockRetryDelay = 10 * time.Millisecond

	// defaultNamespace holds keys without a ':' separator.
	defaultNamespace = "default"

	docExt  = ".json"
	lockExt = ".lock"
)

type record struct {
	Value     []byte     `json:"value"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
}

func (r record) expired(now time.Time) bool {
	return r.ExpiresAt != nil && !now.Before(*r.ExpiresAt)
}

// document is the on-disk representation of one namespace.
type document struct {
	Entries map[string]record `json:"entries"`
}

// Store persists values as JSON documents under a directory.
type Store struct {
	dir    string
	now    func() time.Time
	logger *slog.Logger

	// mu serializes operations within this process; the file lock
	// serializes them across processes.
	mu sync.Mutex
}

// Option configures a Store.
type Option func(*Store)

// WithClock overrides the time source, for tests.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Store) { s.logger = logger }
}

// New opens a store rooted at dir, creating the directory if needed.
func New(dir string, opts ...Option) (*Store, error) {
	if dir == "" {
		return nil, fmt.Errorf("storage directory is required")
	}

	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("resolving storage directory: %w", err)
	}
	if err := os.MkdirAll(abs, dirPerm); err != nil {
		return nil, fmt.Errorf("creating storage directory: %w", err)
	}

	s := &Store{
		dir:    abs,
		now:    time.Now,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}

	s.logger.Info("Using file-backed OAuth storage", "dir", abs)
	return s, nil
}

// Dir returns the absolute storage directory.
func (s *Store) Dir() string {
	return s.dir
}

// Get returns the value for key. Expired entries read as absent.
func (s *Store) Get(ctx context.Context, key string) ([]byte, bool, error) {
	var (
		value []byte
		found bool
	)
	err := s.withDocument(ctx, namespaceOf(key), false, func(doc *document) bool {
		r, ok := doc.Entries[key]
		if ok && !r.expired(s.now()) {
			value, found = r.Value, true
		}
		return false
	})
	return value, found, err
}

// Set stores value under key. A ttl <= 0 means no expiry.
func (s *Store) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	r := record{Value: value}
	if ttl > 0 {
		exp := s.now().Add(ttl).UTC()
		r.ExpiresAt = &exp
	}
	return s.withDocument(ctx, namespaceOf(key), true, func(doc *document) bool {
		doc.Entries[key] = r
		return true
	})
}

// Replace overwrites key within one locked read-modify-write if it holds a
// live value.
func (s *Store) Replace(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error) {
	var replaced bool
	err := s.withDocument(ctx, namespaceOf(key), true, func(doc *document) bool {
		now := s.now()
		if old, ok := doc.Entries[key]; !ok || old.expired(now) {
			return false
		}
		r := record{Value: value}
		if ttl > 0 {
			exp := now.Add(ttl).UTC()
			r.ExpiresAt = &exp
		}
		doc.Entries[key] = r
		replaced = true
		return true
	})
	return replaced, err
}

// Delete removes key.
func (s *Store) Delete(ctx context.Context, key string) error {
	return s.withDocument(ctx, namespaceOf(key), true, func(doc *document) bool {
		if _, ok := doc.Entries[key]; !ok {
			return false
		}
		delete(doc.Entries, key)
		return true
	})
}

// Take reads and deletes key within one locked read-modify-write.
func (s *Store) Take(ctx context.Context, key string) ([]byte, bool, error) {
	var (
		value []byte
		found bool
	)
	err := s.withDocument(ctx, namespaceOf(key), true, func(doc *document) bool {
		r, ok := doc.Entries[key]
		if !ok {
			return false
		}
		delete(doc.Entries, key)
		if !r.expired(s.now()) {
			value, found = r.Value, true
		}
		return true
	})
	return value, found, err
}

// List returns the live keys with the given prefix, sorted. A prefix
// containing ':' reads only its namespace document; otherwise every
// document in the directory is scanned.
func (s *Store) List(ctx context.Context, prefix string) ([]string, error) {
	namespaces := []string{namespaceOf(prefix)}
	if !strings.Contains(prefix, ":") {
		all, err := s.namespaces()
		if err != nil {
			return nil, err
		}
		namespaces = all
	}

	keys := make([]string, 0)
	for _, ns := range namespaces {
		err := s.withDocument(ctx, ns, false, func(doc *document) bool {
			now := s.now()
			for k, r := range doc.Entries {
				if strings.HasPrefix(k, prefix) && !r.expired(now) {
					keys = append(keys, k)
				}
			}
			return false
		})
		if err != nil {
			return nil, err
		}
	}
	sort.Strings(keys)
	return keys, nil
}

// Ping checks that the directory is still accessible.
func (s *Store) Ping(context.Context) error {
	if _, err := os.Stat(s.dir); err != nil {
		return fmt.Errorf("storage directory unavailable: %w", err)
	}
	return nil
}

// Close is a no-op; no handles are held between operations.
func (s *Store) Close() error {
	return nil
}

// withDocument loads a namespace document under the file lock and passes it
// to fn. When write is true and fn reports a change, the document is pruned
// of expired entries and written back before the lock is released.
func (s *Store) withDocument(ctx context.Context, ns string, write bool, fn func(*document) bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	docPath := filepath.Join(s.dir, ns+docExt)
	lock := flock.New(docPath + lockExt)

	var (
		locked bool
		err    error
	)
	if write {
		locked, err = lock.TryLockContext(ctx, lockRetryDelay)
	} else {
		locked, err = lock.TryRLockContext(ctx, lockRetryDelay)
	}
	if err != nil {
		return fmt.Errorf("locking %s: %w", ns, err)
	}
	if !locked {
		return fmt.Errorf("locking %s: lock not acquired", ns)
	}
	defer func() {
		if err := lock.Unlock(); err != nil {
			s.logger.Warn("Failed to release storage lock", "namespace", ns, "error", err)
		}
	}()

	doc, err := readDocument(docPath)
	if err != nil {
		return err
	}

	if !fn(doc) || !write {
		return nil
	}

	now := s.now()
	for k, r := range doc.Entries {
		if r.expired(now) {
			delete(doc.Entries, k)
		}
	}
	return s.writeDocument(docPath, doc)
}

func readDocument(path string) (*document, error) {
	doc := &document{Entries: make(map[string]record)}

	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return doc, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", filepath.Base(path), err)
	}
	if len(data) == 0 {
		return doc, nil
	}

	if err := json.Unmarshal(data, doc); err != nil {
		return nil, fmt.Errorf("decoding %s: %w", filepath.Base(path), err)
	}
	if doc.Entries == nil {
		doc.Entries = make(map[string]record)
	}
	return doc, nil
}

// writeDocument replaces the document atomically via a temp file rename.
func (s *Store) writeDocument(path string, doc *document) error {
	data, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("encoding %s: %w", filepath.Base(path), err)
	}

	tmp, err := os.CreateTemp(s.dir, filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer func() {
		// Rename consumed the file on success; this only cleans up failures.
		_ = os.Remove(tmpName)
	}()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("writing temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("syncing temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("closing temp file: %w", err)
	}
	if err := os.Chmod(tmpName, filePerm); err != nil {
		return fmt.Errorf("setting permissions: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("replacing %s: %w", filepath.Base(path), err)
	}
	return nil
}

// namespaces lists the namespace documents present in the directory.
func (s *Store) namespaces() ([]string, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("reading storage directory: %w", err)
	}

	var out []string
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasSuffix(name, docExt) {
			continue
		}
		out = append(out, strings.TrimSuffix(name, docExt))
	}
	return out, nil
}

// namespaceOf maps a key to a safe document name.
func namespaceOf(key string) string {
	ns, _, found := strings.Cut(key, ":")
	if !found || ns == "" {
		return defaultNamespace
	}

	var b strings.Builder
	for _, r := range ns {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			b.WriteRune(r)
		default:
			b.WriteRune('_')
		}
	}
	return b.String()
}
