// Package store defines the uniform document store contract that every backend
// adapter implements, together with the error taxonomy callers branch on.
//
// A version token is an opaque string bound to the exact bytes last read from a
// path. Writes that carry a token succeed only when it still matches the
// backend's current token (compare-and-swap); writes without a token create the
// path and fail when it already exists.
package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

var (
	ErrNotFound        = errors.New("not found")
	ErrConflict        = errors.New("version conflict")
	ErrUnavailable     = errors.New("backend unavailable")
	ErrCorruptData     = errors.New("corrupt data")
	ErrMessageRequired = errors.New("change message required")
	ErrInvalidPath     = errors.New("invalid path")
	ErrTokenRequired   = errors.New("version token required")
)

// ConflictError reports a stale or missing version token for a path.
type ConflictError struct {
	Path     string
	Expected string
	Current  string
}

func (e *ConflictError) Error() string {
	switch {
	case e.Expected == "" && e.Current != "":
		return fmt.Sprintf("version conflict on %s: path already exists", e.Path)
	case e.Current == "":
		return fmt.Sprintf("version conflict on %s: expected %s", e.Path, e.Expected)
	default:
		return fmt.Sprintf("version conflict on %s: expected %s, current %s", e.Path, e.Expected, e.Current)
	}
}

func (e *ConflictError) Is(target error) bool {
	return target == ErrConflict
}

// UnavailableError wraps a transport or backend failure that may succeed on retry.
type UnavailableError struct {
	Op  string
	Err error
}

func (e *UnavailableError) Error() string {
	return fmt.Sprintf("%s: backend unavailable: %v", e.Op, e.Err)
}

func (e *UnavailableError) Unwrap() error { return e.Err }

func (e *UnavailableError) Is(target error) bool {
	return target == ErrUnavailable
}

// Kind of a listed entry.
type Kind string

const (
	KindFile Kind = "file"
	KindDir  Kind = "dir"
)

// Object is the normalized result of a read.
type Object struct {
	Path    string
	Content []byte
	Token   string
}

// Entry is one child of a listed prefix.
type Entry struct {
	Name string `json:"name"`
	Path string `json:"path"`
	Kind Kind   `json:"kind"`
}

// WriteOptions carries the compare-and-swap token and the mandatory audit message.
// An empty Token means "create"; the write fails with ErrConflict if the path exists.
type WriteOptions struct {
	Token   string
	Message string
}

// CASMode describes how an adapter honours version tokens.
type CASMode string

const (
	// CASNative means the backend itself rejects stale tokens atomically.
	CASNative CASMode = "native"
	// CASEmulated means the adapter compares tokens before writing; concurrent
	// writers in other processes can still race between the compare and the write.
	CASEmulated CASMode = "emulated"
)

type Capabilities struct {
	Backend string
	CAS     CASMode
}

// Adapter is the uniform store contract. All methods are blocking network or
// disk operations and honour ctx cancellation.
type Adapter interface {
	Get(ctx context.Context, path string) (Object, error)
	Put(ctx context.Context, path string, content []byte, opts WriteOptions) (string, error)
	Delete(ctx context.Context, path string, opts WriteOptions) error
	List(ctx context.Context, prefix string) ([]Entry, error)
	PutBinary(ctx context.Context, path string, data []byte, message string) (string, error)
	GetBinary(ctx context.Context, path string) ([]byte, error)
	Capabilities() Capabilities
}

// CleanPath normalizes a document path: forward slashes, no leading or
// trailing slash, no empty or dot segments.
func CleanPath(p string) (string, error) {
	p = strings.Trim(strings.ReplaceAll(p, "\\", "/"), "/")
	if p == "" {
		return "", ErrInvalidPath
	}
	for _, seg := range strings.Split(p, "/") {
		if seg == "" || seg == "." || seg == ".." {
			return "", fmt.Errorf("%w: %q", ErrInvalidPath, p)
		}
	}
	return p, nil
}

// CleanPrefix is CleanPath for list prefixes, where the empty prefix means the root.
func CleanPrefix(p string) (string, error) {
	if strings.Trim(p, "/") == "" {
		return "", nil
	}
	return CleanPath(p)
}

// CheckWrite validates the inputs shared by every mutating call.
func CheckWrite(path string, opts WriteOptions) (string, error) {
	clean, err := CleanPath(path)
	if err != nil {
		return "", err
	}
	if strings.TrimSpace(opts.Message) == "" {
		return "", ErrMessageRequired
	}
	return clean, nil
}

// CheckDelete is CheckWrite plus the rule that deletes always carry a token.
func CheckDelete(path string, opts WriteOptions) (string, error) {
	clean, err := CheckWrite(path, opts)
	if err != nil {
		return "", err
	}
	if opts.Token == "" {
		return "", ErrTokenRequired
	}
	return clean, nil
}

// IsRetryable reports whether err is a transient backend failure.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrUnavailable)
}
