// Package blobstore is a blob-store adapter on SQLite. Every write takes the
// next number from a store-wide sequence (the commit log), so a generation is
// never reused, not even after a path is deleted and created again.
// Conditional writes are a single UPDATE guarded by that generation, so
// compare-and-swap is native.
package blobstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"time"

	"bulletin/internal/db"
	"bulletin/internal/migrate"
	"bulletin/internal/store"
)

type Store struct {
	db  *sql.DB
	now func() time.Time
}

// Commit is one row of the write log.
type Commit struct {
	Op        string
	Path      string
	Version   int64
	Message   string
	CreatedAt string
}

// Open opens the database at path and applies migrations.
func Open(path string) (*Store, error) {
	conn, err := db.Open(db.Config{Path: path})
	if err != nil {
		return nil, fmt.Errorf("open blobstore: %w", err)
	}
	if _, err := migrate.Migrate(context.Background(), conn); err != nil {
		conn.Close()
		return nil, fmt.Errorf("migrate blobstore: %w", err)
	}
	return &Store{db: conn, now: time.Now}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) Capabilities() store.Capabilities {
	return store.Capabilities{Backend: "blobstore", CAS: store.CASNative}
}

func token(version int64) string {
	return strconv.FormatInt(version, 10)
}

func parseToken(t string) (int64, bool) {
	v, err := strconv.ParseInt(t, 10, 64)
	return v, err == nil && v > 0
}

// wrap maps lock contention to ErrUnavailable and leaves other errors as is.
func wrap(ctx context.Context, op string, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return fmt.Errorf("%s: %w", op, ctxErr)
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%s: %w", op, err)
	}
	if db.IsBusy(err) {
		return &store.UnavailableError{Op: op, Err: err}
	}
	return fmt.Errorf("%s: %w", op, err)
}

func (s *Store) current(ctx context.Context, q interface {
	QueryRowContext(context.Context, string, ...any) *sql.Row
}, path string) (int64, bool, error) {
	var v int64
	err := q.QueryRowContext(ctx, `SELECT version FROM blobs WHERE path=?`, path).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	return v, true, nil
}

// nextVersion returns the next generation of the store-wide sequence. Callers
// hold the write transaction, which serializes allocation.
func nextVersion(ctx context.Context, tx *sql.Tx) (int64, error) {
	var v int64
	err := tx.QueryRowContext(ctx, `SELECT COALESCE(MAX(version), 0) + 1 FROM commits`).Scan(&v)
	return v, err
}

func (s *Store) Get(ctx context.Context, path string) (store.Object, error) {
	if err := ctx.Err(); err != nil {
		return store.Object{}, err
	}
	clean, err := store.CleanPath(path)
	if err != nil {
		return store.Object{}, err
	}
	var (
		content []byte
		version int64
	)
	err = s.db.QueryRowContext(ctx, `SELECT content, version FROM blobs WHERE path=?`, clean).Scan(&content, &version)
	if errors.Is(err, sql.ErrNoRows) {
		return store.Object{}, store.ErrNotFound
	}
	if err != nil {
		return store.Object{}, wrap(ctx, "get "+clean, err)
	}
	if content == nil {
		content = []byte{}
	}
	return store.Object{Path: clean, Content: content, Token: token(version)}, nil
}

func (s *Store) Put(ctx context.Context, path string, content []byte, opts store.WriteOptions) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	clean, err := store.CheckWrite(path, opts)
	if err != nil {
		return "", err
	}
	if content == nil {
		content = []byte{}
	}
	now := s.now().UTC().Format(time.RFC3339Nano)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return "", wrap(ctx, "put "+clean, err)
	}
	defer tx.Rollback()

	next, err := nextVersion(ctx, tx)
	if err != nil {
		return "", wrap(ctx, "put "+clean, err)
	}
	var op string
	if opts.Token == "" {
		res, err := tx.ExecContext(ctx, `INSERT INTO blobs(path, content, version, updated_at) VALUES(?, ?, ?, ?) ON CONFLICT(path) DO NOTHING`, clean, content, next, now)
		if err != nil {
			return "", wrap(ctx, "put "+clean, err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			cur, _, err := s.current(ctx, tx, clean)
			if err != nil {
				return "", wrap(ctx, "put "+clean, err)
			}
			return "", &store.ConflictError{Path: clean, Current: token(cur)}
		}
		op = "create"
	} else {
		expected, ok := parseToken(opts.Token)
		if !ok {
			return "", &store.ConflictError{Path: clean, Expected: opts.Token}
		}
		res, err := tx.ExecContext(ctx, `UPDATE blobs SET content=?, version=?, updated_at=? WHERE path=? AND version=?`, content, next, now, clean, expected)
		if err != nil {
			return "", wrap(ctx, "put "+clean, err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			cur, exists, err := s.current(ctx, tx, clean)
			if err != nil {
				return "", wrap(ctx, "put "+clean, err)
			}
			ce := &store.ConflictError{Path: clean, Expected: opts.Token}
			if exists {
				ce.Current = token(cur)
			}
			return "", ce
		}
		op = "update"
	}
	if _, err := tx.ExecContext(ctx, `INSERT INTO commits(op, path, version, message, created_at) VALUES(?, ?, ?, ?, ?)`, op, clean, next, opts.Message, now); err != nil {
		return "", wrap(ctx, "put "+clean, err)
	}
	if err := tx.Commit(); err != nil {
		return "", wrap(ctx, "put "+clean, err)
	}
	return token(next), nil
}

func (s *Store) Delete(ctx context.Context, path string, opts store.WriteOptions) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	clean, err := store.CheckDelete(path, opts)
	if err != nil {
		return err
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return wrap(ctx, "delete "+clean, err)
	}
	defer tx.Rollback()

	cur, exists, err := s.current(ctx, tx, clean)
	if err != nil {
		return wrap(ctx, "delete "+clean, err)
	}
	if !exists {
		return store.ErrNotFound
	}
	expected, ok := parseToken(opts.Token)
	if !ok || expected != cur {
		return &store.ConflictError{Path: clean, Expected: opts.Token, Current: token(cur)}
	}
	res, err := tx.ExecContext(ctx, `DELETE FROM blobs WHERE path=? AND version=?`, clean, expected)
	if err != nil {
		return wrap(ctx, "delete "+clean, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return &store.ConflictError{Path: clean, Expected: opts.Token}
	}
	now := s.now().UTC().Format(time.RFC3339Nano)
	if _, err := tx.ExecContext(ctx, `INSERT INTO commits(op, path, version, message, created_at) VALUES('delete', ?, ?, ?, ?)`, clean, expected, opts.Message, now); err != nil {
		return wrap(ctx, "delete "+clean, err)
	}
	if err := tx.Commit(); err != nil {
		return wrap(ctx, "delete "+clean, err)
	}
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
	var rows *sql.Rows
	if clean == "" {
		rows, err = s.db.QueryContext(ctx, `SELECT path FROM blobs ORDER BY path`)
	} else {
		// '0' sorts immediately after '/', bounding the range to clean + "/".
		rows, err = s.db.QueryContext(ctx, `SELECT path FROM blobs WHERE path >= ? AND path < ? ORDER BY path`, clean+"/", clean+"0")
	}
	if err != nil {
		return nil, wrap(ctx, "list "+clean, err)
	}
	defer rows.Close()
	var paths []string
	for rows.Next() {
		var p string
		if err := rows.Scan(&p); err != nil {
			return nil, wrap(ctx, "list "+clean, err)
		}
		paths = append(paths, p)
	}
	if err := rows.Err(); err != nil {
		return nil, wrap(ctx, "list "+clean, err)
	}
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

// Commits returns the write log for path, oldest first.
func (s *Store) Commits(ctx context.Context, path string) ([]Commit, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT op, path, version, message, created_at FROM commits WHERE path=? ORDER BY id`, path)
	if err != nil {
		return nil, wrap(ctx, "commits "+path, err)
	}
	defer rows.Close()
	var out []Commit
	for rows.Next() {
		var c Commit
		if err := rows.Scan(&c.Op, &c.Path, &c.Version, &c.Message, &c.CreatedAt); err != nil {
			return nil, wrap(ctx, "commits "+path, err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}
