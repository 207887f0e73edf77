package storage

import (
	"context"
	"time"
)

// Recorder receives one observation per storage operation.
type Recorder interface {
	RecordStorageOperation(ctx context.Context, backend, operation, status string, duration time.Duration)
}

// Instrumented reports the outcome and latency of every call to an
// underlying backend.
type Instrumented struct {
	Backend
	name     string
	recorder Recorder
}

// WithRecorder wraps b so that each operation is reported to r under the
// given backend name. A nil recorder returns b unchanged.
func WithRecorder(b Backend, name string, r Recorder) Backend {
	if r == nil {
		return b
	}
	return &Instrumented{Backend: b, name: name, recorder: r}
}

func (i *Instrumented) observe(ctx context.Context, op string, start time.Time, err error) {
	status := "success"
	if err != nil {
		status = "error"
	}
	i.recorder.RecordStorageOperation(ctx, i.name, op, status, time.Since(start))
}

// Get reports the call as "get".
func (i *Instrumented) Get(ctx context.Context, key string) ([]byte, bool, error) {
	start := time.Now()
	v, ok, err := i.Backend.Get(ctx, key)
	i.observe(ctx, "get", start, err)
	return v, ok, err
}

// Set reports the call as "set".
func (i *Instrumented) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	start := time.Now()
	err := i.Backend.Set(ctx, key, value, ttl)
	i.observe(ctx, "set", start, err)
	return err
}

// Replace reports the call as "replace".
func (i *Instrumented) Replace(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error) {
	start := time.Now()
	ok, err := i.Backend.Replace(ctx, key, value, ttl)
	i.observe(ctx, "replace", start, err)
	return ok, err
}

// Delete reports the call as "delete".
func (i *Instrumented) Delete(ctx context.Context, key string) error {
	start := time.Now()
	err := i.Backend.Delete(ctx, key)
	i.observe(ctx, "delete", start, err)
	return err
}

// List reports the call as "list".
func (i *Instrumented) List(ctx context.Context, prefix string) ([]string, error) {
	start := time.Now()
	keys, err := i.Backend.List(ctx, prefix)
	i.observe(ctx, "list", start, err)
	return keys, err
}

// Take reports the call as "take".
func (i *Instrumented) Take(ctx context.Context, key string) ([]byte, bool, error) {
	start := time.Now()
	v, ok, err := i.Backend.Take(ctx, key)
	i.observe(ctx, "take", start, err)
	return v, ok, err
}
