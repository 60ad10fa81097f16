package repo_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/sebdah/goldie/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bulletin/internal/domain"
	"bulletin/internal/repo"
	"bulletin/internal/store"
	"bulletin/internal/store/memstore"
)

func noSleep(context.Context, time.Duration) error { return nil }

func newRepo(t *testing.T, s store.Adapter) repo.Repo {
	t.Helper()
	r := repo.New(s, repo.RetryPolicy{Attempts: 3, BaseDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond}, zerolog.Nop())
	r.Sleep = noSleep
	return r
}

// flaky fails the first n calls of every operation with ErrUnavailable.
type flaky struct {
	store.Adapter
	mu    sync.Mutex
	n     int
	calls int
}

func (f *flaky) fail(op string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.n > 0 {
		f.n--
		return &store.UnavailableError{Op: op, Err: errors.New("connection reset")}
	}
	return nil
}

func (f *flaky) Get(ctx context.Context, path string) (store.Object, error) {
	if err := f.fail("get"); err != nil {
		return store.Object{}, err
	}
	return f.Adapter.Get(ctx, path)
}

func (f *flaky) List(ctx context.Context, prefix string) ([]store.Entry, error) {
	if err := f.fail("list"); err != nil {
		return nil, err
	}
	return f.Adapter.List(ctx, prefix)
}

// racing lets another writer slip in before the next n Puts.
type racing struct {
	store.Adapter
	n      int
	meddle func(store.Adapter)
	mu     sync.Mutex
	raced  int
}

func (r *racing) Put(ctx context.Context, path string, content []byte, opts store.WriteOptions) (string, error) {
	r.mu.Lock()
	if r.n > 0 && opts.Token != "" {
		r.n--
		r.raced++
		r.meddle(r.Adapter)
	}
	r.mu.Unlock()
	return r.Adapter.Put(ctx, path, content, opts)
}

func seedPost(t *testing.T, r repo.Repo, id string, archived bool) string {
	t.Helper()
	p := domain.Post{ID: id, Title: "Post " + id, Status: domain.StatusNew, IsArchived: archived, CreatedAt: "2026-01-01T00:00:00Z", CreatedBy: "admin"}
	token, err := r.CreatePost(context.Background(), p, "create post "+id+" by admin")
	require.NoError(t, err)
	return token
}

func TestPostDocumentLayout(t *testing.T) {
	p := domain.Post{
		ID:                 "post-0007",
		Title:              "Replace the lobby HVAC controller",
		Description:        "Controller firmware is end-of-life.",
		ConcernedParties:   []string{"facilities", "security"},
		Status:             domain.StatusSubmitted,
		AssignedArchitects: []string{"ada"},
		Attachments: []domain.Attachment{{
			Filename: "brief.pdf", Path: "uploads/attachments/post-0007/1700000000000-brief.pdf",
			Size: 2048, UploadedBy: "admin", UploadedAt: "2026-03-01T09:00:00Z",
		}},
		ProofOfWork: []domain.ProofBatch{{
			ID: "batch-1", UploadedBy: "ada", UploadedAt: "2026-03-02T10:00:00Z",
			Files: []domain.FileDescriptor{{Filename: "log.txt", Path: "uploads/proof/post-0007/1700000100000-log.txt", Size: 12}},
		}},
		Conversations: []domain.Comment{{ID: "c-1", Author: "admin", Message: "Please attach the wiring diagram.", Timestamp: "2026-03-01T09:05:00Z"}},
		CreatedAt:     "2026-03-01T09:00:00Z",
		CreatedBy:     "admin",
		UpdatedAt:     "2026-03-02T10:05:00Z",
		UpdatedBy:     "ada",
		SubmittedAt:   "2026-03-02T10:05:00Z",
		SubmittedBy:   "ada",
	}
	s := memstore.New()
	r := newRepo(t, s)
	_, err := r.CreatePost(context.Background(), p, "create post post-0007 by admin")
	require.NoError(t, err)
	obj, err := s.Get(context.Background(), "posts/post-0007.json")
	require.NoError(t, err)

	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, "post_document", obj.Content)
}

func TestNextPostIDIsMaxPlusOne(t *testing.T) {
	ctx := context.Background()
	s := memstore.New()
	r := newRepo(t, s)

	id, err := r.NextPostID(ctx)
	require.NoError(t, err)
	assert.Equal(t, "post-0001", id)

	for i := 0; i < 3; i++ {
		id, err := r.NextPostID(ctx)
		require.NoError(t, err)
		seedPost(t, r, id, false)
	}
	seedPost(t, r, "post-0010", true)
	_, err = s.Put(ctx, "posts/README.md", []byte("notes"), store.WriteOptions{Message: "create readme by admin"})
	require.NoError(t, err)

	ids, err := r.PostIDs(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"post-0001", "post-0002", "post-0003", "post-0010"}, ids)

	id, err = r.NextPostID(ctx)
	require.NoError(t, err)
	assert.Equal(t, "post-0011", id)
}

func TestNonCanonicalPostNamesAreIgnored(t *testing.T) {
	ctx := context.Background()
	s := memstore.New()
	r := newRepo(t, s)
	seedPost(t, r, "post-0002", false)
	for _, name := range []string{"post-00050.json", "post-7.json", "post-0000.json"} {
		_, err := s.Put(ctx, "posts/"+name, []byte(`{}`), store.WriteOptions{Message: "create stray " + name + " by admin"})
		require.NoError(t, err)
	}

	ids, err := r.PostIDs(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"post-0002"}, ids)

	id, err := r.NextPostID(ctx)
	require.NoError(t, err)
	assert.Equal(t, "post-0003", id)
}

func TestCreatePostCollisionIsConflict(t *testing.T) {
	r := newRepo(t, memstore.New())
	seedPost(t, r, "post-0001", false)
	_, err := r.CreatePost(context.Background(), domain.Post{ID: "post-0001"}, "create post post-0001 by bob")
	require.ErrorIs(t, err, store.ErrConflict)
}

func TestSavePostStaleTokenConflicts(t *testing.T) {
	ctx := context.Background()
	r := newRepo(t, memstore.New())
	t1 := seedPost(t, r, "post-0001", false)

	a, err := r.GetPost(ctx, "post-0001")
	require.NoError(t, err)
	b, err := r.GetPost(ctx, "post-0001")
	require.NoError(t, err)
	require.Equal(t, t1, a.Token)

	a.Doc.Title = "writer A"
	t2, err := r.SavePost(ctx, a.Doc, a.Token, "update post post-0001 by a")
	require.NoError(t, err)

	b.Doc.Title = "writer B"
	_, err = r.SavePost(ctx, b.Doc, b.Token, "update post post-0001 by b")
	require.ErrorIs(t, err, store.ErrConflict)

	cur, err := r.GetPost(ctx, "post-0001")
	require.NoError(t, err)
	assert.Equal(t, "writer A", cur.Doc.Title)
	assert.Equal(t, t2, cur.Token)

	_, err = r.SavePost(ctx, b.Doc, "", "update post post-0001 by b")
	require.ErrorIs(t, err, store.ErrTokenRequired)
}

func TestMutatePostRetriesIdempotentMerges(t *testing.T) {
	ctx := context.Background()
	mem := memstore.New()
	race := &racing{Adapter: mem, n: 2, meddle: func(a store.Adapter) {
		obj, err := a.Get(ctx, "posts/post-0001.json")
		require.NoError(t, err)
		_, err = a.Put(ctx, "posts/post-0001.json", append(obj.Content, ' '), store.WriteOptions{Token: obj.Token, Message: "touch post post-0001 by other"})
		require.NoError(t, err)
	}}
	r := newRepo(t, mem)
	seedPost(t, r, "post-0001", false)
	r.Store = race

	v, err := r.MutatePost(ctx, "post-0001", "comment on post post-0001 by ada", true, func(p *domain.Post) error {
		p.Conversations = append(p.Conversations, domain.Comment{ID: "c1", Author: "ada", Message: "hi"})
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 2, race.raced)
	require.Len(t, v.Doc.Conversations, 1)

	cur, err := r.GetPost(ctx, "post-0001")
	require.NoError(t, err)
	assert.Equal(t, v.Token, cur.Token)
	assert.Len(t, cur.Doc.Conversations, 1)
}

func TestMutatePostSurfacesConflictWhenNotIdempotent(t *testing.T) {
	ctx := context.Background()
	mem := memstore.New()
	r := newRepo(t, mem)
	seedPost(t, r, "post-0001", false)
	race := &racing{Adapter: mem, n: 1, meddle: func(a store.Adapter) {
		obj, _ := a.Get(ctx, "posts/post-0001.json")
		_, _ = a.Put(ctx, "posts/post-0001.json", append(obj.Content, '\n'), store.WriteOptions{Token: obj.Token, Message: "touch by other"})
	}}
	r.Store = race

	calls := 0
	_, err := r.MutatePost(ctx, "post-0001", "close post post-0001 by admin", false, func(p *domain.Post) error {
		calls++
		p.Status = domain.StatusClosed
		return nil
	})
	require.ErrorIs(t, err, store.ErrConflict)
	assert.Equal(t, 1, calls)
}

func TestMutatePostAbortsOnMutationError(t *testing.T) {
	ctx := context.Background()
	mem := memstore.New()
	r := newRepo(t, mem)
	token := seedPost(t, r, "post-0001", false)

	boom := errors.New("rejected")
	_, err := r.MutatePost(ctx, "post-0001", "update post post-0001 by x", true, func(p *domain.Post) error {
		p.Title = "changed"
		return boom
	})
	require.ErrorIs(t, err, boom)

	cur, err := r.GetPost(ctx, "post-0001")
	require.NoError(t, err)
	assert.Equal(t, token, cur.Token)
	assert.Len(t, mem.Commits(), 1)
}

func TestUnavailableIsRetried(t *testing.T) {
	mem := memstore.New()
	r := newRepo(t, mem)
	seedPost(t, r, "post-0001", false)

	f := &flaky{Adapter: mem, n: 2}
	r.Store = f
	v, err := r.GetPost(context.Background(), "post-0001")
	require.NoError(t, err)
	assert.Equal(t, "post-0001", v.Doc.ID)
	assert.Equal(t, 3, f.calls)

	f.n = 5
	_, err = r.GetPost(context.Background(), "post-0001")
	require.ErrorIs(t, err, store.ErrUnavailable)
}

func TestCorruptDocuments(t *testing.T) {
	ctx := context.Background()
	mem := memstore.New()
	r := newRepo(t, mem)
	seedPost(t, r, "post-0001", false)
	seedPost(t, r, "post-0003", true)
	_, err := mem.Put(ctx, "posts/post-0002.json", []byte("{not json"), store.WriteOptions{Message: "create post post-0002 by vandal"})
	require.NoError(t, err)

	_, err = r.GetPost(ctx, "post-0002")
	require.ErrorIs(t, err, store.ErrCorruptData)

	posts, err := r.ListPosts(ctx)
	require.NoError(t, err)
	require.Len(t, posts, 2)
	assert.Equal(t, "post-0001", posts[0].Doc.ID)
	assert.Equal(t, "post-0003", posts[1].Doc.ID)

	active, err := r.CountActive(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, active)
}

func TestDeletePost(t *testing.T) {
	ctx := context.Background()
	r := newRepo(t, memstore.New())
	token := seedPost(t, r, "post-0001", false)
	require.ErrorIs(t, r.DeletePost(ctx, "post-0001", "stale", "delete post post-0001 by admin"), store.ErrConflict)
	require.NoError(t, r.DeletePost(ctx, "post-0001", token, "delete post post-0001 by admin"))
	_, err := r.GetPost(ctx, "post-0001")
	require.ErrorIs(t, err, repo.ErrNotFound)
}

func TestConfigDocuments(t *testing.T) {
	ctx := context.Background()
	r := newRepo(t, memstore.New())

	archs, err := r.Architects(ctx)
	require.NoError(t, err)
	assert.Empty(t, archs.Doc)
	assert.Empty(t, archs.Token)

	v, err := r.MutateArchitects(ctx, "create architect ada by admin", func(list *[]domain.Architect) error {
		*list = append(*list, domain.Architect{ID: "a1", Username: "ada", Status: domain.ArchitectActive})
		return nil
	})
	require.NoError(t, err)
	require.NotEmpty(t, v.Token)

	archs, err = r.Architects(ctx)
	require.NoError(t, err)
	require.Len(t, archs.Doc, 1)
	assert.Equal(t, "ada", archs.Doc[0].Username)

	statuses, err := r.Statuses(ctx)
	require.NoError(t, err)
	assert.Equal(t, domain.DefaultStatuses(), statuses.Doc)
	require.NoError(t, r.SeedStatuses(ctx, "create config statuses by system"))
	require.NoError(t, r.SeedStatuses(ctx, "create config statuses by system"))
	statuses, err = r.Statuses(ctx)
	require.NoError(t, err)
	assert.NotEmpty(t, statuses.Token)

	_, err = r.MutateUsers(ctx, "update user root by admin", func(users *[]domain.User) error {
		*users = append(*users, domain.User{Username: "root", Role: "admin"})
		return nil
	})
	require.NoError(t, err)
	users, err := r.Users(ctx)
	require.NoError(t, err)
	require.Len(t, users.Doc, 1)
}

func TestBackoff(t *testing.T) {
	p := repo.RetryPolicy{Attempts: 5, BaseDelay: 100 * time.Millisecond, MaxDelay: 350 * time.Millisecond}
	assert.Equal(t, 100*time.Millisecond, p.Backoff(1))
	assert.Equal(t, 200*time.Millisecond, p.Backoff(2))
	assert.Equal(t, 350*time.Millisecond, p.Backoff(3))
	assert.Equal(t, 350*time.Millisecond, p.Backoff(9))
	assert.Zero(t, repo.RetryPolicy{}.Backoff(1))
}
