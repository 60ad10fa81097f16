package assets_test

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bulletin/internal/assets"
	"bulletin/internal/repo"
	"bulletin/internal/store"
	"bulletin/internal/store/memstore"
)

var fixed = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

func newStore(t *testing.T) (assets.Store, *memstore.Store) {
	t.Helper()
	mem := memstore.New()
	s := assets.New(repo.New(mem, repo.DefaultRetryPolicy(), zerolog.Nop()))
	s.Now = func() time.Time { return fixed }
	return s, mem
}

func TestSanitize(t *testing.T) {
	cases := map[string]string{
		"report.pdf":          "report.pdf",
		"my report (v2).pdf":  "my_report__v2_.pdf",
		"../../etc/passwd":    "passwd",
		`C:\Users\a\log.txt`:  "log.txt",
		"résumé.docx":         "r_sum_.docx",
		"":                    "file",
		"under_score-dash.md": "under_score-dash.md",
	}
	for in, want := range cases {
		assert.Equal(t, want, assets.Sanitize(in), in)
	}
}

func TestPathLayout(t *testing.T) {
	p := assets.Path(assets.KindProof, "post-0001", fixed, "build log.txt")
	assert.Equal(t, "uploads/proof/post-0001/1772355600000-build_log.txt", p)

	kind, id, ok := assets.ParsePath(p)
	require.True(t, ok)
	assert.Equal(t, assets.KindProof, kind)
	assert.Equal(t, "post-0001", id)

	for _, bad := range []string{"posts/post-0001.json", "uploads/other/post-0001/x", "uploads/proof/x/y", "uploads/proof/post-0001"} {
		_, _, ok := assets.ParsePath(bad)
		assert.False(t, ok, bad)
	}
}

func TestPutIsWriteOnce(t *testing.T) {
	s, mem := newStore(t)
	ctx := context.Background()

	d1, err := s.Put(ctx, assets.KindAttachment, "post-0001", "admin", assets.Upload{Filename: "brief.pdf", Data: []byte("v1")})
	require.NoError(t, err)
	d2, err := s.Put(ctx, assets.KindAttachment, "post-0001", "admin", assets.Upload{Filename: "brief.pdf", Data: []byte("v2")})
	require.NoError(t, err)
	assert.NotEqual(t, d1.Path, d2.Path)
	assert.Equal(t, "brief.pdf", d2.Filename)
	assert.EqualValues(t, 2, d2.Size)

	got, err := s.Get(ctx, d1.Path)
	require.NoError(t, err)
	assert.Equal(t, "v1", string(got))

	commits := mem.Commits()
	require.Len(t, commits, 2)
	assert.Equal(t, "upload attachment post-0001 by admin", commits[0].Message)
}

func TestPutRejectsBadInput(t *testing.T) {
	s, _ := newStore(t)
	_, err := s.Put(context.Background(), "misc", "post-0001", "a", assets.Upload{Filename: "a", Data: []byte("x")})
	require.ErrorIs(t, err, assets.ErrInvalidKind)
	_, err = s.Put(context.Background(), assets.KindProof, "post-0001", "a", assets.Upload{Filename: "a"})
	require.ErrorIs(t, err, assets.ErrEmptyUpload)
}

func TestDeleteResolvesToken(t *testing.T) {
	s, _ := newStore(t)
	ctx := context.Background()
	d, err := s.Put(ctx, assets.KindProof, "post-0002", "ada", assets.Upload{Filename: "out.txt", Data: []byte("ok")})
	require.NoError(t, err)

	require.NoError(t, s.Delete(ctx, d.Path, "admin"))
	_, err = s.Get(ctx, d.Path)
	require.ErrorIs(t, err, store.ErrNotFound)
	require.ErrorIs(t, s.Delete(ctx, d.Path, "admin"), store.ErrNotFound)
	require.ErrorIs(t, s.Delete(ctx, "posts/post-0002.json", "admin"), store.ErrInvalidPath)
}
