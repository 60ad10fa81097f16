// Package assets stores uploaded attachment and proof-of-work bytes. Uploads
// are write-once: every upload gets a new timestamped path.
package assets

import (
	"context"
	"errors"
	"fmt"
	"path"
	"strconv"
	"strings"
	"time"

	"bulletin/internal/audit"
	"bulletin/internal/domain"
	"bulletin/internal/repo"
	"bulletin/internal/store"
)

// Upload kinds, used as the second path segment.
const (
	KindAttachment = "attachments"
	KindProof      = "proof"

	rootDir = "uploads"
	// collisionAttempts bounds how often a same-millisecond name clash is retried.
	collisionAttempts = 5
)

var (
	ErrEmptyUpload = errors.New("upload is empty")
	ErrInvalidKind = errors.New("unknown upload kind")
)

// Upload is one file received from a caller.
type Upload struct {
	Filename string
	Data     []byte
}

type Store struct {
	Repo repo.Repo
	Now  func() time.Time
}

func New(r repo.Repo) Store {
	return Store{Repo: r, Now: time.Now}
}

func (s Store) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}

// Sanitize keeps [A-Za-z0-9._-] and replaces everything else with '_'.
func Sanitize(name string) string {
	if i := strings.LastIndexAny(name, `/\`); i >= 0 {
		name = name[i+1:]
	}
	var b strings.Builder
	b.Grow(len(name))
	for _, r := range name {
		switch {
		case r >= 'A' && r <= 'Z', r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '.', r == '_', r == '-':
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}
	if b.Len() == 0 {
		return "file"
	}
	return b.String()
}

// Path returns uploads/{kind}/{postID}/{unixMillis}-{sanitized}.
func Path(kind, postID string, at time.Time, filename string) string {
	return path.Join(rootDir, kind, postID, strconv.FormatInt(at.UnixMilli(), 10)+"-"+Sanitize(filename))
}

// ParsePath splits an upload path into its kind and post id.
func ParsePath(p string) (kind, postID string, ok bool) {
	parts := strings.Split(strings.Trim(p, "/"), "/")
	if len(parts) != 4 || parts[0] != rootDir {
		return "", "", false
	}
	if parts[1] != KindAttachment && parts[1] != KindProof {
		return "", "", false
	}
	if _, ok := domain.ParsePostID(parts[2]); !ok {
		return "", "", false
	}
	return parts[1], parts[2], true
}

func resource(kind string) string {
	if kind == KindProof {
		return audit.ResourceProof
	}
	return audit.ResourceAttachment
}

// Put stores u for postID and returns its descriptor.
func (s Store) Put(ctx context.Context, kind, postID, actor string, u Upload) (domain.FileDescriptor, error) {
	if kind != KindAttachment && kind != KindProof {
		return domain.FileDescriptor{}, fmt.Errorf("%w: %q", ErrInvalidKind, kind)
	}
	if len(u.Data) == 0 {
		return domain.FileDescriptor{}, fmt.Errorf("%w: %s", ErrEmptyUpload, u.Filename)
	}
	msg := audit.Message(audit.VerbUpload, resource(kind), postID, actor)
	at := s.now()
	for attempt := 1; ; attempt++ {
		p := Path(kind, postID, at, u.Filename)
		_, err := s.Repo.PutBinary(ctx, p, u.Data, msg)
		if err == nil {
			return domain.FileDescriptor{Filename: Sanitize(u.Filename), Path: p, Size: int64(len(u.Data))}, nil
		}
		if !errors.Is(err, store.ErrConflict) || attempt >= collisionAttempts {
			return domain.FileDescriptor{}, err
		}
		at = at.Add(time.Millisecond)
	}
}

func (s Store) Get(ctx context.Context, p string) ([]byte, error) {
	if _, _, ok := ParsePath(p); !ok {
		return nil, fmt.Errorf("%w: %q is not an upload path", store.ErrInvalidPath, p)
	}
	return s.Repo.GetBinary(ctx, p)
}

// Delete removes the upload at p after resolving its current token.
func (s Store) Delete(ctx context.Context, p, actor string) error {
	kind, postID, ok := ParsePath(p)
	if !ok {
		return fmt.Errorf("%w: %q is not an upload path", store.ErrInvalidPath, p)
	}
	return s.Repo.DeleteBinary(ctx, p, audit.Message(audit.VerbDelete, resource(kind), postID+" "+path.Base(p), actor))
}
