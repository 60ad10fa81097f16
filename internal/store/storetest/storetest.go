// Package storetest holds the behavioural contract every store.Adapter must pass.
package storetest

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bulletin/internal/store"
)

// Factory returns a fresh, empty adapter.
type Factory func(t *testing.T) store.Adapter

func msg(s string) store.WriteOptions { return store.WriteOptions{Message: s} }

// Run exercises the uniform adapter contract against adapters built by newAdapter.
func Run(t *testing.T, newAdapter Factory) {
	t.Run("get missing", func(t *testing.T) {
		a := newAdapter(t)
		_, err := a.Get(context.Background(), "posts/post-0001.json")
		require.ErrorIs(t, err, store.ErrNotFound)
	})

	t.Run("create then read", func(t *testing.T) {
		a := newAdapter(t)
		ctx := context.Background()
		token, err := a.Put(ctx, "posts/post-0001.json", []byte(`{"id":"post-0001"}`), msg("create post post-0001 by alice"))
		require.NoError(t, err)
		require.NotEmpty(t, token)

		obj, err := a.Get(ctx, "posts/post-0001.json")
		require.NoError(t, err)
		assert.Equal(t, `{"id":"post-0001"}`, string(obj.Content))
		assert.Equal(t, token, obj.Token)

		again, err := a.Get(ctx, "posts/post-0001.json")
		require.NoError(t, err)
		assert.Equal(t, obj.Token, again.Token)
	})

	t.Run("create over existing path conflicts", func(t *testing.T) {
		a := newAdapter(t)
		ctx := context.Background()
		_, err := a.Put(ctx, "config/architects.json", []byte(`[]`), msg("create config architects by admin"))
		require.NoError(t, err)
		_, err = a.Put(ctx, "config/architects.json", []byte(`[{}]`), msg("create config architects by admin"))
		require.ErrorIs(t, err, store.ErrConflict)

		obj, err := a.Get(ctx, "config/architects.json")
		require.NoError(t, err)
		assert.Equal(t, `[]`, string(obj.Content))
	})

	t.Run("update with current token", func(t *testing.T) {
		a := newAdapter(t)
		ctx := context.Background()
		t1, err := a.Put(ctx, "posts/post-0002.json", []byte(`v1`), msg("create post post-0002 by alice"))
		require.NoError(t, err)
		t2, err := a.Put(ctx, "posts/post-0002.json", []byte(`v2`), store.WriteOptions{Token: t1, Message: "update post post-0002 by alice"})
		require.NoError(t, err)
		assert.NotEqual(t, t1, t2)

		obj, err := a.Get(ctx, "posts/post-0002.json")
		require.NoError(t, err)
		assert.Equal(t, "v2", string(obj.Content))
		assert.Equal(t, t2, obj.Token)
	})

	t.Run("stale token never overwrites", func(t *testing.T) {
		a := newAdapter(t)
		ctx := context.Background()
		t1, err := a.Put(ctx, "posts/post-0003.json", []byte(`base`), msg("create post post-0003 by alice"))
		require.NoError(t, err)
		_, err = a.Put(ctx, "posts/post-0003.json", []byte(`writer-a`), store.WriteOptions{Token: t1, Message: "update post post-0003 by a"})
		require.NoError(t, err)
		_, err = a.Put(ctx, "posts/post-0003.json", []byte(`writer-b`), store.WriteOptions{Token: t1, Message: "update post post-0003 by b"})
		require.ErrorIs(t, err, store.ErrConflict)

		obj, err := a.Get(ctx, "posts/post-0003.json")
		require.NoError(t, err)
		assert.Equal(t, "writer-a", string(obj.Content))
	})

	t.Run("update of missing path with token conflicts", func(t *testing.T) {
		a := newAdapter(t)
		_, err := a.Put(context.Background(), "posts/post-0099.json", []byte(`x`), store.WriteOptions{Token: "deadbeef", Message: "update post post-0099 by a"})
		require.ErrorIs(t, err, store.ErrConflict)
	})

	t.Run("message is mandatory", func(t *testing.T) {
		a := newAdapter(t)
		ctx := context.Background()
		_, err := a.Put(ctx, "posts/post-0004.json", []byte(`x`), store.WriteOptions{})
		require.ErrorIs(t, err, store.ErrMessageRequired)
		_, err = a.PutBinary(ctx, "uploads/proof/post-0004/1-a.txt", []byte(`x`), " ")
		require.ErrorIs(t, err, store.ErrMessageRequired)
	})

	t.Run("delete", func(t *testing.T) {
		a := newAdapter(t)
		ctx := context.Background()
		token, err := a.Put(ctx, "posts/post-0005.json", []byte(`x`), msg("create post post-0005 by admin"))
		require.NoError(t, err)

		err = a.Delete(ctx, "posts/post-0005.json", store.WriteOptions{Message: "delete post post-0005 by admin"})
		require.ErrorIs(t, err, store.ErrTokenRequired)
		err = a.Delete(ctx, "posts/post-0005.json", store.WriteOptions{Token: "0000", Message: "delete post post-0005 by admin"})
		require.ErrorIs(t, err, store.ErrConflict)
		err = a.Delete(ctx, "posts/post-0005.json", store.WriteOptions{Token: token})
		require.ErrorIs(t, err, store.ErrMessageRequired)

		require.NoError(t, a.Delete(ctx, "posts/post-0005.json", store.WriteOptions{Token: token, Message: "delete post post-0005 by admin"}))
		_, err = a.Get(ctx, "posts/post-0005.json")
		require.ErrorIs(t, err, store.ErrNotFound)

		err = a.Delete(ctx, "posts/post-0005.json", store.WriteOptions{Token: token, Message: "delete post post-0005 by admin"})
		require.ErrorIs(t, err, store.ErrNotFound)
	})

	t.Run("token from before a delete does not carry over to a recreated path", func(t *testing.T) {
		a := newAdapter(t)
		ctx := context.Background()
		old, err := a.Put(ctx, "posts/post-0006.json", []byte(`{"title":"first"}`), msg("create post post-0006 by admin"))
		require.NoError(t, err)
		require.NoError(t, a.Delete(ctx, "posts/post-0006.json", store.WriteOptions{Token: old, Message: "delete post post-0006 by admin"}))

		fresh, err := a.Put(ctx, "posts/post-0006.json", []byte(`{"title":"second"}`), msg("create post post-0006 by admin"))
		require.NoError(t, err)
		assert.NotEqual(t, old, fresh)

		_, err = a.Put(ctx, "posts/post-0006.json", []byte(`{"title":"stale"}`), store.WriteOptions{Token: old, Message: "update post post-0006 by bob"})
		require.ErrorIs(t, err, store.ErrConflict)
		err = a.Delete(ctx, "posts/post-0006.json", store.WriteOptions{Token: old, Message: "delete post post-0006 by bob"})
		require.ErrorIs(t, err, store.ErrConflict)

		obj, err := a.Get(ctx, "posts/post-0006.json")
		require.NoError(t, err)
		assert.Equal(t, `{"title":"second"}`, string(obj.Content))
		assert.Equal(t, fresh, obj.Token)
	})

	t.Run("list", func(t *testing.T) {
		a := newAdapter(t)
		ctx := context.Background()
		entries, err := a.List(ctx, "posts")
		require.NoError(t, err)
		assert.Empty(t, entries)

		for _, p := range []string{"posts/post-0002.json", "posts/post-0001.json", "uploads/proof/post-0001/1-a.txt", "uploads/attachments/post-0001/1-b.txt"} {
			_, err := a.Put(ctx, p, []byte(p), msg("create "+p+" by tester"))
			require.NoError(t, err)
		}
		entries, err = a.List(ctx, "posts")
		require.NoError(t, err)
		require.Len(t, entries, 2)
		assert.Equal(t, store.Entry{Name: "post-0001.json", Path: "posts/post-0001.json", Kind: store.KindFile}, entries[0])
		assert.Equal(t, "post-0002.json", entries[1].Name)

		entries, err = a.List(ctx, "uploads")
		require.NoError(t, err)
		require.Len(t, entries, 2)
		assert.Equal(t, store.Entry{Name: "attachments", Path: "uploads/attachments", Kind: store.KindDir}, entries[0])
		assert.Equal(t, store.Entry{Name: "proof", Path: "uploads/proof", Kind: store.KindDir}, entries[1])

		entries, err = a.List(ctx, "uploads/proof/post-0001/")
		require.NoError(t, err)
		require.Len(t, entries, 1)
		assert.Equal(t, "uploads/proof/post-0001/1-a.txt", entries[0].Path)
	})

	t.Run("binary is write once", func(t *testing.T) {
		a := newAdapter(t)
		ctx := context.Background()
		data := []byte{0x00, 0xff, 0x10, 0x80, 'p', 'd', 'f'}
		token, err := a.PutBinary(ctx, "uploads/attachments/post-0001/1700000000000-brief.pdf", data, "upload attachment post-0001 by alice")
		require.NoError(t, err)
		require.NotEmpty(t, token)

		got, err := a.GetBinary(ctx, "uploads/attachments/post-0001/1700000000000-brief.pdf")
		require.NoError(t, err)
		assert.Equal(t, data, got)

		_, err = a.PutBinary(ctx, "uploads/attachments/post-0001/1700000000000-brief.pdf", []byte("other"), "upload attachment post-0001 by bob")
		require.ErrorIs(t, err, store.ErrConflict)

		_, err = a.GetBinary(ctx, "uploads/attachments/post-0001/missing.pdf")
		require.ErrorIs(t, err, store.ErrNotFound)
	})

	t.Run("invalid path", func(t *testing.T) {
		a := newAdapter(t)
		_, err := a.Get(context.Background(), "posts/../secrets")
		require.ErrorIs(t, err, store.ErrInvalidPath)
	})

	t.Run("canceled context", func(t *testing.T) {
		a := newAdapter(t)
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		_, err := a.Put(ctx, "posts/post-0006.json", []byte(`x`), msg("create post post-0006 by alice"))
		require.Error(t, err)
		assert.True(t, errors.Is(err, context.Canceled), "expected context.Canceled, got %v", err)

		_, err = a.Get(context.Background(), "posts/post-0006.json")
		require.ErrorIs(t, err, store.ErrNotFound)
	})
}
