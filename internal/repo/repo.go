package repo

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"bulletin/internal/metrics"
	"bulletin/internal/store"
)

// Document locations.
const (
	PostsDir       = "posts"
	ArchitectsPath = "config/architects.json"
	StatusesPath   = "config/statuses.json"
	UsersPath      = "config/users.json"
)

// ErrNotFound aliases the store sentinel so callers need one import.
var ErrNotFound = store.ErrNotFound

// Versioned pairs a decoded document with the token it was read at.
type Versioned[T any] struct {
	Doc   T
	Token string
}

// Repo is the document repository over a store adapter.
type Repo struct {
	Store store.Adapter
	Retry RetryPolicy
	Log   zerolog.Logger
	// Sleep replaces the backoff wait in tests.
	Sleep func(ctx context.Context, d time.Duration) error
}

// New returns a repository and warns when the adapter only emulates CAS.
func New(s store.Adapter, retry RetryPolicy, log zerolog.Logger) Repo {
	r := Repo{Store: s, Retry: retry, Log: log.With().Str("component", "repo").Logger()}
	if caps := s.Capabilities(); caps.CAS == store.CASEmulated {
		r.Log.Warn().Str("backend", caps.Backend).Msg("adapter emulates compare-and-swap; concurrent writers in other processes may race")
	}
	return r
}

// Encode renders a document in its stored form: two-space indented JSON with a trailing newline.
func Encode(v any) ([]byte, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return nil, err
	}
	return append(data, '\n'), nil
}

func decode[T any](path string, content []byte) (T, error) {
	var doc T
	if len(bytes.TrimSpace(content)) == 0 {
		return doc, fmt.Errorf("%w: %s is empty", store.ErrCorruptData, path)
	}
	if err := json.Unmarshal(content, &doc); err != nil {
		return doc, fmt.Errorf("%w: %s: %v", store.ErrCorruptData, path, err)
	}
	if n, ok := any(&doc).(interface{ Normalize() }); ok {
		n.Normalize()
	}
	return doc, nil
}

func getDoc[T any](ctx context.Context, r Repo, path string) (Versioned[T], error) {
	var obj store.Object
	err := r.withRetry(ctx, "get "+path, func() error {
		var err error
		obj, err = r.Store.Get(ctx, path)
		return err
	})
	if err != nil {
		return Versioned[T]{}, err
	}
	doc, err := decode[T](path, obj.Content)
	if err != nil {
		r.Log.Error().Err(err).Str("path", path).Msg("stored document is corrupt")
		return Versioned[T]{}, err
	}
	return Versioned[T]{Doc: doc, Token: obj.Token}, nil
}

// putDoc writes doc with CAS. An empty token creates the path.
func putDoc[T any](ctx context.Context, r Repo, path string, doc T, token, message string) (string, error) {
	content, err := Encode(doc)
	if err != nil {
		return "", fmt.Errorf("encode %s: %w", path, err)
	}
	var next string
	err = r.withRetry(ctx, "put "+path, func() error {
		var err error
		next, err = r.Store.Put(ctx, path, content, store.WriteOptions{Token: token, Message: message})
		return err
	})
	return next, err
}

// mutateOptions controls the read-modify-write cycle.
type mutateOptions[T any] struct {
	// idempotent merges are re-read and re-applied on conflict.
	idempotent bool
	// seed, when set, supplies the starting document if the path is missing.
	seed func() T
}

// mutateDoc reads path, applies fn to a copy and writes it back with the token
// it was read at. Errors returned by fn abort the cycle without writing.
func mutateDoc[T any](ctx context.Context, r Repo, path, message string, fn func(*T) error, opts mutateOptions[T]) (Versioned[T], error) {
	attempts := r.Retry.attempts()
	for attempt := 1; ; attempt++ {
		cur, err := getDoc[T](ctx, r, path)
		if errors.Is(err, store.ErrNotFound) && opts.seed != nil {
			cur, err = Versioned[T]{Doc: opts.seed()}, nil
		}
		if err != nil {
			return Versioned[T]{}, err
		}
		doc := cur.Doc
		if err := fn(&doc); err != nil {
			return Versioned[T]{}, err
		}
		token, err := putDoc(ctx, r, path, doc, cur.Token, message)
		if err == nil {
			return Versioned[T]{Doc: doc, Token: token}, nil
		}
		if !errors.Is(err, store.ErrConflict) || !opts.idempotent || attempt >= attempts {
			return Versioned[T]{}, err
		}
		metrics.ObserveRetry("conflict")
		r.Log.Info().Str("path", path).Int("attempt", attempt).Msg("version conflict on merge, re-reading")
		if serr := r.sleep(ctx, r.Retry.Backoff(attempt)); serr != nil {
			return Versioned[T]{}, err
		}
	}
}

func deleteDoc(ctx context.Context, r Repo, path, token, message string) error {
	return r.withRetry(ctx, "delete "+path, func() error {
		return r.Store.Delete(ctx, path, store.WriteOptions{Token: token, Message: message})
	})
}

// Token resolves the current version token of path.
func (r Repo) Token(ctx context.Context, path string) (string, error) {
	var obj store.Object
	err := r.withRetry(ctx, "get "+path, func() error {
		var err error
		obj, err = r.Store.Get(ctx, path)
		return err
	})
	return obj.Token, err
}

// PutBinary writes bytes create-only; an existing path is ErrConflict.
func (r Repo) PutBinary(ctx context.Context, path string, data []byte, message string) (string, error) {
	var token string
	err := r.withRetry(ctx, "put binary "+path, func() error {
		var err error
		token, err = r.Store.PutBinary(ctx, path, data, message)
		return err
	})
	return token, err
}

func (r Repo) GetBinary(ctx context.Context, path string) ([]byte, error) {
	var data []byte
	err := r.withRetry(ctx, "get binary "+path, func() error {
		var err error
		data, err = r.Store.GetBinary(ctx, path)
		return err
	})
	return data, err
}

// DeleteBinary resolves the current token of path and deletes it with CAS.
func (r Repo) DeleteBinary(ctx context.Context, path, message string) error {
	token, err := r.Token(ctx, path)
	if err != nil {
		return err
	}
	return deleteDoc(ctx, r, path, token, message)
}
