// Package memstore is an in-process adapter with native compare-and-swap. It
// reports git blob SHAs as tokens so it behaves like the commit-versioned
// backend in tests and local runs.
package memstore

import (
	"context"
	"sort"
	"sync"

	"bulletin/internal/store"
)

// Commit records one mutation and its audit message.
type Commit struct {
	Op      string
	Path    string
	Message string
}

type Store struct {
	mu      sync.RWMutex
	files   map[string][]byte
	commits []Commit
}

func New() *Store {
	return &Store{files: map[string][]byte{}}
}

func (s *Store) Capabilities() store.Capabilities {
	return store.Capabilities{Backend: "memory", CAS: store.CASNative}
}

func (s *Store) Get(ctx context.Context, path string) (store.Object, error) {
	if err := ctx.Err(); err != nil {
		return store.Object{}, err
	}
	clean, err := store.CleanPath(path)
	if err != nil {
		return store.Object{}, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	data, ok := s.files[clean]
	if !ok {
		return store.Object{}, store.ErrNotFound
	}
	content := append([]byte(nil), data...)
	return store.Object{Path: clean, Content: content, Token: store.GitBlobSHA(content)}, nil
}

func (s *Store) Put(ctx context.Context, path string, content []byte, opts store.WriteOptions) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	clean, err := store.CheckWrite(path, opts)
	if err != nil {
		return "", err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	current, exists := s.files[clean]
	switch {
	case opts.Token == "" && exists:
		return "", &store.ConflictError{Path: clean, Current: store.GitBlobSHA(current)}
	case opts.Token != "" && !exists:
		return "", &store.ConflictError{Path: clean, Expected: opts.Token}
	case opts.Token != "":
		if cur := store.GitBlobSHA(current); cur != opts.Token {
			return "", &store.ConflictError{Path: clean, Expected: opts.Token, Current: cur}
		}
	}
	data := append([]byte(nil), content...)
	s.files[clean] = data
	op := "create"
	if exists {
		op = "update"
	}
	s.commits = append(s.commits, Commit{Op: op, Path: clean, Message: opts.Message})
	return store.GitBlobSHA(data), nil
}

func (s *Store) Delete(ctx context.Context, path string, opts store.WriteOptions) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	clean, err := store.CheckDelete(path, opts)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	current, exists := s.files[clean]
	if !exists {
		return store.ErrNotFound
	}
	if cur := store.GitBlobSHA(current); cur != opts.Token {
		return &store.ConflictError{Path: clean, Expected: opts.Token, Current: cur}
	}
	delete(s.files, clean)
	s.commits = append(s.commits, Commit{Op: "delete", Path: clean, Message: opts.Message})
	return nil
}

func (s *Store) List(ctx context.Context, prefix string) ([]store.Entry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	clean, err := store.CleanPrefix(prefix)
	if err != nil {
		return nil, err
	}
	s.mu.RLock()
	paths := make([]string, 0, len(s.files))
	for p := range s.files {
		paths = append(paths, p)
	}
	s.mu.RUnlock()
	sort.Strings(paths)
	return store.ChildEntries(clean, paths), nil
}

func (s *Store) PutBinary(ctx context.Context, path string, data []byte, message string) (string, error) {
	return s.Put(ctx, path, data, store.WriteOptions{Message: message})
}

func (s *Store) GetBinary(ctx context.Context, path string) ([]byte, error) {
	obj, err := s.Get(ctx, path)
	if err != nil {
		return nil, err
	}
	return obj.Content, nil
}

// Commits returns a copy of the audit trail.
func (s *Store) Commits() []Commit {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]Commit(nil), s.commits...)
}
