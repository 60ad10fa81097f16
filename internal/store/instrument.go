package store

import (
	"context"
	"errors"
	"time"

	"bulletin/internal/metrics"
)

type instrumented struct {
	next    Adapter
	backend string
}

// Instrument wraps an adapter so every call is counted and timed.
func Instrument(a Adapter) Adapter {
	if a == nil {
		return nil
	}
	if _, ok := a.(instrumented); ok {
		return a
	}
	return instrumented{next: a, backend: a.Capabilities().Backend}
}

// Unwrap returns the adapter beneath the instrumentation.
func Unwrap(a Adapter) Adapter {
	if in, ok := a.(instrumented); ok {
		return in.next
	}
	return a
}

func (a instrumented) observe(op string, start time.Time, err error) {
	metrics.ObserveStoreOp(a.backend, op, resultLabel(err), time.Since(start))
}

func resultLabel(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrConflict):
		return "conflict"
	case errors.Is(err, ErrUnavailable):
		return "unavailable"
	case errors.Is(err, ErrCorruptData):
		return "corrupt"
	default:
		return "error"
	}
}

func (a instrumented) Get(ctx context.Context, path string) (obj Object, err error) {
	defer func(start time.Time) { a.observe("get", start, err) }(time.Now())
	return a.next.Get(ctx, path)
}

func (a instrumented) Put(ctx context.Context, path string, content []byte, opts WriteOptions) (token string, err error) {
	defer func(start time.Time) { a.observe("put", start, err) }(time.Now())
	return a.next.Put(ctx, path, content, opts)
}

func (a instrumented) Delete(ctx context.Context, path string, opts WriteOptions) (err error) {
	defer func(start time.Time) { a.observe("delete", start, err) }(time.Now())
	return a.next.Delete(ctx, path, opts)
}

func (a instrumented) List(ctx context.Context, prefix string) (entries []Entry, err error) {
	defer func(start time.Time) { a.observe("list", start, err) }(time.Now())
	return a.next.List(ctx, prefix)
}

func (a instrumented) PutBinary(ctx context.Context, path string, data []byte, message string) (token string, err error) {
	defer func(start time.Time) { a.observe("put_binary", start, err) }(time.Now())
	return a.next.PutBinary(ctx, path, data, message)
}

func (a instrumented) GetBinary(ctx context.Context, path string) (data []byte, err error) {
	defer func(start time.Time) { a.observe("get_binary", start, err) }(time.Now())
	return a.next.GetBinary(ctx, path)
}

func (a instrumented) Capabilities() Capabilities {
	return a.next.Capabilities()
}
