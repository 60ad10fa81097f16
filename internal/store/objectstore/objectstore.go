// Package objectstore is an S3-style adapter backed by a local directory. The
// ETag (MD5 of the content) is the version token. The backend has no native
// conditional write, so compare-and-swap is emulated under a process-local lock:
// writers in other processes sharing the directory are not serialized.
package objectstore

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"bulletin/internal/store"
)

const (
	objectsDir = "objects"
	changeLog  = "changes.log"
	tmpPrefix  = ".tmp-"
)

// Change is one line of the append-only change log.
type Change struct {
	Op      string    `json:"op"`
	Path    string    `json:"path"`
	ETag    string    `json:"etag,omitempty"`
	Message string    `json:"message"`
	At      time.Time `json:"at"`
}

type Store struct {
	root   string
	mu     sync.Mutex
	logger zerolog.Logger
	now    func() time.Time
}

// New opens (creating if needed) a store rooted at dir.
func New(dir string) (*Store, error) {
	if strings.TrimSpace(dir) == "" {
		return nil, errors.New("objectstore directory is required")
	}
	if err := os.MkdirAll(filepath.Join(dir, objectsDir), 0o755); err != nil {
		return nil, fmt.Errorf("create objectstore: %w", err)
	}
	return &Store{root: dir, logger: zerolog.Nop(), now: time.Now}, nil
}

func (s *Store) SetLogger(logger zerolog.Logger) {
	s.logger = logger.With().Str("component", "objectstore").Logger()
}

func (s *Store) Capabilities() store.Capabilities {
	return store.Capabilities{Backend: "objectstore", CAS: store.CASEmulated}
}

func etag(data []byte) string {
	sum := md5.Sum(data)
	return hex.EncodeToString(sum[:])
}

func (s *Store) objectPath(clean string) string {
	return filepath.Join(s.root, objectsDir, filepath.FromSlash(clean))
}

func unavailable(op string, err error) error {
	return &store.UnavailableError{Op: op, Err: err}
}

func (s *Store) read(clean string) ([]byte, bool, error) {
	data, err := os.ReadFile(s.objectPath(clean))
	switch {
	case err == nil:
		return data, true, nil
	case errors.Is(err, fs.ErrNotExist), isDirErr(err):
		return nil, false, nil
	default:
		return nil, false, err
	}
}

func isDirErr(err error) bool {
	return errors.Is(err, syscall.EISDIR)
}

func (s *Store) Get(ctx context.Context, path string) (store.Object, error) {
	if err := ctx.Err(); err != nil {
		return store.Object{}, err
	}
	clean, err := store.CleanPath(path)
	if err != nil {
		return store.Object{}, err
	}
	data, ok, err := s.read(clean)
	if err != nil {
		return store.Object{}, unavailable("get "+clean, err)
	}
	if !ok {
		return store.Object{}, store.ErrNotFound
	}
	return store.Object{Path: clean, Content: data, Token: etag(data)}, nil
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

	current, exists, err := s.read(clean)
	if err != nil {
		return "", unavailable("put "+clean, err)
	}
	switch {
	case opts.Token == "" && exists:
		return "", &store.ConflictError{Path: clean, Current: etag(current)}
	case opts.Token != "" && !exists:
		return "", &store.ConflictError{Path: clean, Expected: opts.Token}
	case opts.Token != "":
		if cur := etag(current); cur != opts.Token {
			return "", &store.ConflictError{Path: clean, Expected: opts.Token, Current: cur}
		}
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}
	target := s.objectPath(clean)
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return "", unavailable("put "+clean, err)
	}
	if err := writeAtomic(target, content); err != nil {
		return "", unavailable("put "+clean, err)
	}
	tag := etag(content)
	op := "create"
	if exists {
		op = "update"
	}
	s.appendChange(Change{Op: op, Path: clean, ETag: tag, Message: opts.Message})
	s.logger.Debug().Str("op", op).Str("path", clean).Str("etag", tag).Msg("object written")
	return tag, nil
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

	current, exists, err := s.read(clean)
	if err != nil {
		return unavailable("delete "+clean, err)
	}
	if !exists {
		return store.ErrNotFound
	}
	if cur := etag(current); cur != opts.Token {
		return &store.ConflictError{Path: clean, Expected: opts.Token, Current: cur}
	}
	target := s.objectPath(clean)
	if err := os.Remove(target); err != nil {
		return unavailable("delete "+clean, err)
	}
	s.pruneEmptyDirs(filepath.Dir(target))
	s.appendChange(Change{Op: "delete", Path: clean, Message: opts.Message})
	s.logger.Debug().Str("op", "delete").Str("path", clean).Msg("object deleted")
	return nil
}

// pruneEmptyDirs removes now-empty parents so listings match a key-prefix view.
func (s *Store) pruneEmptyDirs(dir string) {
	base := filepath.Join(s.root, objectsDir)
	for dir != base && strings.HasPrefix(dir, base) {
		if err := os.Remove(dir); err != nil {
			return
		}
		dir = filepath.Dir(dir)
	}
}

func (s *Store) List(ctx context.Context, prefix string) ([]store.Entry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	clean, err := store.CleanPrefix(prefix)
	if err != nil {
		return nil, err
	}
	dir := filepath.Join(s.root, objectsDir, filepath.FromSlash(clean))
	items, err := os.ReadDir(dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) || !isDir(dir) {
			return []store.Entry{}, nil
		}
		return nil, unavailable("list "+clean, err)
	}
	entries := make([]store.Entry, 0, len(items))
	for _, it := range items {
		if strings.HasPrefix(it.Name(), tmpPrefix) {
			continue
		}
		p := it.Name()
		if clean != "" {
			p = clean + "/" + it.Name()
		}
		kind := store.KindFile
		if it.IsDir() {
			kind = store.KindDir
		}
		entries = append(entries, store.Entry{Name: it.Name(), Path: p, Kind: kind})
	}
	return entries, nil
}

func isDir(p string) bool {
	info, err := os.Stat(p)
	return err == nil && info.IsDir()
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

// Changes reads back the change log.
func (s *Store) Changes() ([]Change, error) {
	data, err := os.ReadFile(filepath.Join(s.root, changeLog))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var out []Change
	for _, line := range strings.Split(strings.TrimSpace(string(data)), "\n") {
		if line == "" {
			continue
		}
		var c Change
		if err := json.Unmarshal([]byte(line), &c); err != nil {
			return nil, fmt.Errorf("%w: change log: %v", store.ErrCorruptData, err)
		}
		out = append(out, c)
	}
	return out, nil
}

func (s *Store) appendChange(c Change) {
	c.At = s.now().UTC()
	line, err := json.Marshal(c)
	if err != nil {
		return
	}
	f, err := os.OpenFile(filepath.Join(s.root, changeLog), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		s.logger.Warn().Err(err).Str("path", c.Path).Msg("append change log")
		return
	}
	defer f.Close()
	if _, err := f.Write(append(line, '\n')); err != nil {
		s.logger.Warn().Err(err).Str("path", c.Path).Msg("append change log")
	}
}

// writeAtomic writes to a temp file in the target directory and renames it
// over the target, so readers never observe a partial object.
func writeAtomic(path string, data []byte) error {
	tmp, err := os.OpenFile(filepath.Join(filepath.Dir(path), tmpPrefix+uuid.NewString()), os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	ok := false
	defer func() {
		if !ok {
			_ = tmp.Close()
			_ = os.Remove(tmpName)
		}
	}()
	if _, err := tmp.Write(data); err != nil {
		return err
	}
	if err := tmp.Sync(); err != nil {
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmpName, path); err != nil {
		return err
	}
	ok = true
	return nil
}
