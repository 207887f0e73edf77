package storage

import (
	"context"
	"strings"
	"time"
)

// Namespaced prefixes every key of an underlying backend. Keys returned by
// List have the prefix stripped again.
type Namespaced struct {
	Backend
	prefix string
}

// WithNamespace returns a view of b in which every key is stored as
// prefix + key.
func WithNamespace(b Backend, prefix string) *Namespaced {
	return &Namespaced{Backend: b, prefix: prefix}
}

// Get reads prefix + key.
func (n *Namespaced) Get(ctx context.Context, key string) ([]byte, bool, error) {
	return n.Backend.Get(ctx, n.prefix+key)
}

// Set writes prefix + key.
func (n *Namespaced) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	return n.Backend.Set(ctx, n.prefix+key, value, ttl)
}

// Replace overwrites prefix + key if it is live.
func (n *Namespaced) Replace(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error) {
	return n.Backend.Replace(ctx, n.prefix+key, value, ttl)
}

// Delete removes prefix + key.
func (n *Namespaced) Delete(ctx context.Context, key string) error {
	return n.Backend.Delete(ctx, n.prefix+key)
}

// Take reads and removes prefix + key.
func (n *Namespaced) Take(ctx context.Context, key string) ([]byte, bool, error) {
	return n.Backend.Take(ctx, n.prefix+key)
}

// List returns the live keys under prefix + prefix, without the
// namespace prefix.
func (n *Namespaced) List(ctx context.Context, prefix string) ([]string, error) {
	keys, err := n.Backend.List(ctx, n.prefix+prefix)
	if err != nil {
		return nil, err
	}
	for i, k := range keys {
		keys[i] = strings.TrimPrefix(k, n.prefix)
	}
	return keys, nil
}
