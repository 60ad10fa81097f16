package repo

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"

	"bulletin/internal/domain"
	"bulletin/internal/store"
)

const listConcurrency = 4

// PostPath is the document path of a post.
func PostPath(id string) string {
	return PostsDir + "/" + id + ".json"
}

func (r Repo) GetPost(ctx context.Context, id string) (Versioned[domain.Post], error) {
	return getDoc[domain.Post](ctx, r, PostPath(id))
}

// PostIDs lists the ids of every stored post, sorted.
func (r Repo) PostIDs(ctx context.Context) ([]string, error) {
	var entries []store.Entry
	err := r.withRetry(ctx, "list "+PostsDir, func() error {
		var err error
		entries, err = r.Store.List(ctx, PostsDir)
		return err
	})
	if err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.Kind != store.KindFile {
			continue
		}
		id, ok := strings.CutSuffix(e.Name, ".json")
		if !ok {
			continue
		}
		if _, ok := domain.ParsePostID(id); ok {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids, nil
}

// NextPostID scans the collection and returns max+1. Concurrent creators can
// compute the same id; the create-only write then fails with ErrConflict.
func (r Repo) NextPostID(ctx context.Context) (string, error) {
	ids, err := r.PostIDs(ctx)
	if err != nil {
		return "", err
	}
	max := 0
	for _, id := range ids {
		if n, ok := domain.ParsePostID(id); ok && n > max {
			max = n
		}
	}
	return domain.FormatPostID(max + 1), nil
}

// ListPosts reads every post. Corrupt or vanished documents are logged and
// skipped so one bad file cannot take the board down.
func (r Repo) ListPosts(ctx context.Context) ([]Versioned[domain.Post], error) {
	ids, err := r.PostIDs(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]*Versioned[domain.Post], len(ids))
	errs := make([]error, len(ids))
	sem := make(chan struct{}, listConcurrency)
	var wg sync.WaitGroup
	for i, id := range ids {
		wg.Add(1)
		go func(i int, id string) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()
			v, err := r.GetPost(ctx, id)
			if err != nil {
				errs[i] = err
				return
			}
			out[i] = &v
		}(i, id)
	}
	wg.Wait()

	posts := make([]Versioned[domain.Post], 0, len(ids))
	for i, v := range out {
		if err := errs[i]; err != nil {
			switch {
			case errors.Is(err, store.ErrCorruptData):
				continue
			case errors.Is(err, store.ErrNotFound):
				r.Log.Debug().Str("post_id", ids[i]).Msg("post vanished during listing")
				continue
			default:
				return nil, err
			}
		}
		posts = append(posts, *v)
	}
	return posts, nil
}

// CountActive returns the number of non-archived posts.
func (r Repo) CountActive(ctx context.Context) (int, error) {
	posts, err := r.ListPosts(ctx)
	if err != nil {
		return 0, err
	}
	n := 0
	for _, p := range posts {
		if !p.Doc.IsArchived {
			n++
		}
	}
	return n, nil
}

// CreatePost writes a new post create-only; ErrConflict means the id is taken.
func (r Repo) CreatePost(ctx context.Context, p domain.Post, message string) (string, error) {
	p.Normalize()
	return putDoc(ctx, r, PostPath(p.ID), p, "", message)
}

// SavePost replaces a post if token is still current; conflicts are surfaced.
func (r Repo) SavePost(ctx context.Context, p domain.Post, token, message string) (string, error) {
	if token == "" {
		return "", store.ErrTokenRequired
	}
	p.Normalize()
	return putDoc(ctx, r, PostPath(p.ID), p, token, message)
}

// MutatePost runs a read-modify-write on a post. Idempotent merges are retried
// on conflict; others surface it.
func (r Repo) MutatePost(ctx context.Context, id, message string, idempotent bool, fn func(*domain.Post) error) (Versioned[domain.Post], error) {
	return mutateDoc(ctx, r, PostPath(id), message, func(p *domain.Post) error {
		if err := fn(p); err != nil {
			return err
		}
		p.Normalize()
		return nil
	}, mutateOptions[domain.Post]{idempotent: idempotent})
}

func (r Repo) DeletePost(ctx context.Context, id, token, message string) error {
	return deleteDoc(ctx, r, PostPath(id), token, message)
}
