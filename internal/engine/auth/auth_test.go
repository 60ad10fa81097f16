package auth_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bulletin/internal/engine/auth"
)

func TestPolicy(t *testing.T) {
	p := auth.NewPolicy([]string{"Admin", " lead ", ""})
	assert.True(t, p.IsPrivileged(auth.Principal{Username: "a", Role: "admin"}))
	assert.True(t, p.IsPrivileged(auth.Principal{Username: "a", Role: "LEAD"}))
	assert.False(t, p.IsPrivileged(auth.Principal{Username: "a", Role: "architect"}))
	assert.False(t, p.IsPrivileged(auth.Principal{Username: "a"}))

	require.NoError(t, p.RequirePrivileged(auth.Principal{Username: "root", Role: "admin"}, "close post"))

	err := p.RequirePrivileged(auth.Principal{Username: "bob", Role: "architect"}, "close post")
	var fe auth.ForbiddenError
	require.True(t, errors.As(err, &fe))
	assert.Equal(t, "close post", fe.Action)
	assert.Equal(t, "close post requires a privileged role", err.Error())

	require.ErrorIs(t, p.RequirePrivileged(auth.Principal{Role: "admin"}, "close post"), auth.ErrUnauthenticated)
}

func TestPrincipalContext(t *testing.T) {
	_, ok := auth.FromContext(context.Background())
	assert.False(t, ok)

	ctx := auth.WithPrincipal(context.Background(), auth.Principal{Username: "ada", Role: "architect"})
	p, ok := auth.FromContext(ctx)
	require.True(t, ok)
	assert.Equal(t, "ada", p.Username)
}
