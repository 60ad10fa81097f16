package domain_test

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bulletin/internal/domain"
)

func TestPostIDs(t *testing.T) {
	assert.Equal(t, "post-0001", domain.FormatPostID(1))
	assert.Equal(t, "post-0420", domain.FormatPostID(420))
	assert.Equal(t, "post-12345", domain.FormatPostID(12345))

	n, ok := domain.ParsePostID("post-0042")
	require.True(t, ok)
	assert.Equal(t, 42, n)
	n, ok = domain.ParsePostID("post-12345")
	require.True(t, ok)
	assert.Equal(t, 12345, n)
	for _, bad := range []string{"post-", "post-abc", "task-0001", "", "post--1", "post-+5", "post-+005", "post-00005", "post-5", "post-042", "post-0000", "post- 042"} {
		_, ok := domain.ParsePostID(bad)
		assert.False(t, ok, bad)
	}
}

func TestNormalizeSerializesEmptyLists(t *testing.T) {
	p := domain.Post{ID: "post-0001", Status: domain.StatusNew}
	p.Normalize()
	data, err := json.Marshal(p)
	require.NoError(t, err)
	s := string(data)
	assert.Contains(t, s, `"assignedArchitects":[]`)
	assert.Contains(t, s, `"proofOfWork":[]`)
	assert.NotContains(t, s, "submittedAt")
}

func TestCloneDoesNotAlias(t *testing.T) {
	p := domain.Post{
		AssignedArchitects: []string{"x"},
		ProofOfWork:        []domain.ProofBatch{{ID: "b1", Files: []domain.FileDescriptor{{Filename: "a"}}}},
	}
	c := p.Clone()
	c.AssignedArchitects[0] = "y"
	c.ProofOfWork[0].Files[0].Filename = "b"
	assert.Equal(t, "x", p.AssignedArchitects[0])
	assert.Equal(t, "a", p.ProofOfWork[0].Files[0].Filename)
	assert.True(t, p.IsAssigned("x"))
	assert.False(t, p.IsAssigned("y"))
}

func TestNewPostValidation(t *testing.T) {
	require.NoError(t, domain.NewPost{Title: "Fix the roof", ConcernedParties: []string{"ops"}}.Validate())
	assert.Error(t, domain.NewPost{}.Validate())
	assert.Error(t, domain.NewPost{Title: strings.Repeat("x", 201)}.Validate())
	assert.Error(t, domain.NewPost{Title: "ok", ConcernedParties: []string{""}}.Validate())
}

func TestPostFieldsValidation(t *testing.T) {
	empty := ""
	title := "New title"
	parties := []string{"a", ""}
	assert.True(t, domain.PostFields{}.Empty())
	require.NoError(t, domain.PostFields{Title: &title}.Validate())
	assert.Error(t, domain.PostFields{Title: &empty}.Validate())
	assert.Error(t, domain.PostFields{ConcernedParties: &parties}.Validate())
}

func TestArchitectAndUserValidation(t *testing.T) {
	require.NoError(t, domain.NewArchitect{Username: "ada", DisplayName: "Ada L", Email: "ada@example.com"}.Validate())
	assert.Error(t, domain.NewArchitect{Username: "a b", DisplayName: "x"}.Validate())
	assert.Error(t, domain.NewArchitect{Username: "ada", DisplayName: "x", Email: "nope"}.Validate())
	require.NoError(t, domain.User{Username: "root", Role: "admin"}.Validate())
	assert.Error(t, domain.User{Username: "root"}.Validate())
	assert.True(t, domain.ValidUsername("bob.smith"))
	assert.False(t, domain.ValidUsername("-bob"))
}

func TestDefaultStatusesCoverLifecycle(t *testing.T) {
	defs := domain.DefaultStatuses()
	require.Len(t, defs, len(domain.Statuses))
	for i, d := range defs {
		assert.Equal(t, domain.Statuses[i], d.Key)
	}
}
