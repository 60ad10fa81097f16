package store_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bulletin/internal/store"
)

func TestChildEntries(t *testing.T) {
	paths := []string{"posts/post-0001.json", "posts/post-0002.json", "uploads/proof/post-0001/1-a.txt", "config/users.json"}

	root := store.ChildEntries("", paths)
	require.Len(t, root, 3)
	assert.Equal(t, store.Entry{Name: "config", Path: "config", Kind: store.KindDir}, root[0])
	assert.Equal(t, "posts", root[1].Name)
	assert.Equal(t, "uploads", root[2].Name)

	posts := store.ChildEntries("posts", paths)
	require.Len(t, posts, 2)
	assert.Equal(t, store.KindFile, posts[0].Kind)

	assert.Empty(t, store.ChildEntries("missing", paths))
}

func TestCleanPath(t *testing.T) {
	p, err := store.CleanPath("/posts/post-0001.json/")
	require.NoError(t, err)
	assert.Equal(t, "posts/post-0001.json", p)

	for _, bad := range []string{"", "/", "posts//a", "../etc/passwd", "posts/./a"} {
		_, err := store.CleanPath(bad)
		assert.ErrorIs(t, err, store.ErrInvalidPath, bad)
	}
}

func TestConflictErrorIs(t *testing.T) {
	var err error = &store.ConflictError{Path: "posts/post-0001.json", Expected: "a", Current: "b"}
	assert.ErrorIs(t, err, store.ErrConflict)
	assert.NotErrorIs(t, err, store.ErrNotFound)
	assert.Contains(t, err.Error(), "expected a, current b")

	var unavailable error = &store.UnavailableError{Op: "get", Err: assert.AnError}
	assert.True(t, store.IsRetryable(unavailable))
	assert.ErrorIs(t, unavailable, assert.AnError)
}
