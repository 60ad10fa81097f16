package engine_test

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bulletin/internal/domain"
	"bulletin/internal/engine"
)

const ts = "2026-03-01T09:00:00Z"

var (
	admin = engine.Actor{Username: "root", Privileged: true}
	ada   = engine.Actor{Username: "ada"}
	bob   = engine.Actor{Username: "bob"}
)

func basePost() domain.Post {
	p := domain.Post{ID: "post-0001", Title: "Roof survey", Status: domain.StatusNew, CreatedAt: ts, CreatedBy: "root"}
	p.Normalize()
	return p
}

func apply(t *testing.T, p domain.Post, a engine.Action, actor engine.Actor) domain.Post {
	t.Helper()
	next, err := engine.Apply(p, a, actor, ts)
	require.NoError(t, err)
	return next
}

func TestApplyDoesNotMutateInput(t *testing.T) {
	p := basePost()
	next := apply(t, p, engine.AssignSelf{}, ada)
	assert.Empty(t, p.AssignedArchitects)
	assert.Equal(t, domain.StatusNew, p.Status)
	assert.Equal(t, []string{"ada"}, next.AssignedArchitects)
}

func TestSelfAssignmentTransitions(t *testing.T) {
	p := apply(t, basePost(), engine.AssignSelf{}, ada)
	assert.Equal(t, domain.StatusAssigned, p.Status)
	assert.Equal(t, "ada", p.UpdatedBy)

	_, err := engine.Apply(p, engine.AssignSelf{}, ada, ts)
	require.ErrorIs(t, err, engine.ErrInvariant)
	assert.Equal(t, engine.CodeAlreadyAssigned, engine.Code(err))

	p = apply(t, p, engine.AssignSelf{}, bob)
	assert.Equal(t, []string{"ada", "bob"}, p.AssignedArchitects)
}

func TestUnassignLastRevertsToNew(t *testing.T) {
	p := apply(t, basePost(), engine.AssignSelf{}, ada)
	p = apply(t, p, engine.Unassign{Username: "ada"}, ada)
	assert.Equal(t, domain.StatusNew, p.Status)
	assert.Empty(t, p.AssignedArchitects)

	_, err := engine.Apply(p, engine.Unassign{Username: "ada"}, ada, ts)
	assert.Equal(t, engine.CodeNotAssigned, engine.Code(err))

	// the forward transition fires again on reassignment
	p = apply(t, p, engine.AssignSelf{}, bob)
	assert.Equal(t, domain.StatusAssigned, p.Status)
}

func TestUnassignOthersRequiresPrivilege(t *testing.T) {
	p := apply(t, basePost(), engine.AssignSelf{}, ada)
	_, err := engine.Apply(p, engine.Unassign{Username: "ada"}, bob, ts)
	require.ErrorIs(t, err, engine.ErrForbidden)

	p = apply(t, p, engine.Unassign{Username: "ada"}, admin)
	assert.Equal(t, domain.StatusNew, p.Status)
}

func TestAdminAssignmentLocksSelfService(t *testing.T) {
	p := apply(t, basePost(), engine.AssignArchitects{Usernames: []string{"ada"}}, admin)
	assert.True(t, p.AdminAssigned)
	assert.Equal(t, domain.StatusAssigned, p.Status)

	_, err := engine.Apply(p, engine.AssignSelf{}, bob, ts)
	assert.Equal(t, engine.CodeAdminAssigned, engine.Code(err))
	_, err = engine.Apply(p, engine.Unassign{Username: "ada"}, ada, ts)
	assert.Equal(t, engine.CodeAdminAssigned, engine.Code(err))

	_, err = engine.Apply(p, engine.AssignArchitects{Usernames: []string{"bob", "bob"}}, admin, ts)
	assert.Equal(t, engine.CodeAlreadyAssigned, engine.Code(err))
	_, err = engine.Apply(p, engine.AssignArchitects{Usernames: []string{"ada"}}, admin, ts)
	assert.Equal(t, engine.CodeAlreadyAssigned, engine.Code(err))
	_, err = engine.Apply(basePost(), engine.AssignArchitects{Usernames: []string{"ada"}}, ada, ts)
	require.ErrorIs(t, err, engine.ErrForbidden)
}

func TestSubmitRules(t *testing.T) {
	assigned := apply(t, basePost(), engine.AssignSelf{}, ada)

	_, err := engine.Apply(assigned, engine.Submit{}, ada, ts)
	assert.Equal(t, engine.CodeProofRequired, engine.Code(err))

	withProof := apply(t, assigned, engine.AddProof{BatchID: "b1", Files: []domain.FileDescriptor{{Filename: "a.pdf", Path: "uploads/proof/post-0001/1-a.pdf", Size: 3}}}, ada)
	assert.Len(t, withProof.ProofOfWork, 1)

	_, err = engine.Apply(withProof, engine.Submit{}, bob, ts)
	require.ErrorIs(t, err, engine.ErrForbidden)
	_, err = engine.Apply(withProof, engine.Submit{}, admin, ts)
	require.ErrorIs(t, err, engine.ErrForbidden)

	submitted := apply(t, withProof, engine.Submit{}, ada)
	assert.Equal(t, domain.StatusSubmitted, submitted.Status)
	assert.Equal(t, ts, submitted.SubmittedAt)
	assert.Equal(t, "ada", submitted.SubmittedBy)

	_, err = engine.Apply(submitted, engine.Submit{}, ada, ts)
	require.ErrorIs(t, err, engine.ErrInvalidTransition)
}

func TestReviewTransitions(t *testing.T) {
	p := basePost()
	p.Status = domain.StatusSubmitted

	_, err := engine.Apply(p, engine.MarkPending{}, ada, ts)
	require.ErrorIs(t, err, engine.ErrForbidden)
	pending := apply(t, p, engine.MarkPending{}, admin)
	assert.Equal(t, domain.StatusPending, pending.Status)
	_, err = engine.Apply(pending, engine.MarkPending{}, admin, ts)
	require.ErrorIs(t, err, engine.ErrInvalidTransition)

	closed := apply(t, pending, engine.Close{}, admin)
	assert.Equal(t, domain.StatusClosed, closed.Status)
	assert.Equal(t, "root", closed.ClosedBy)
	assert.Equal(t, "root", closed.ApprovedBy)
	assert.Equal(t, ts, closed.ClosedAt)
}

func TestEscalateFromAnyOpenState(t *testing.T) {
	for _, status := range []string{domain.StatusNew, domain.StatusAssigned, domain.StatusSubmitted, domain.StatusPending} {
		p := basePost()
		p.Status = status
		next := apply(t, p, engine.Escalate{}, bob)
		assert.Equal(t, domain.StatusEscalate, next.Status, status)
		assert.Equal(t, "bob", next.EscalatedBy)

		_, err := engine.Apply(next, engine.Escalate{}, bob, ts)
		assert.Equal(t, engine.CodeAlreadyEscalated, engine.Code(err))
	}
}

func TestClosedPostsOnlyAcceptCommentsAndArchiving(t *testing.T) {
	p := basePost()
	p.Status = domain.StatusClosed

	for _, a := range []engine.Action{engine.AssignSelf{}, engine.Escalate{}, engine.Close{}, engine.Submit{}} {
		_, err := engine.Apply(p, a, admin, ts)
		require.ErrorIs(t, err, engine.ErrInvalidTransition)
		assert.Equal(t, engine.CodePostClosed, engine.Code(err))
	}

	commented := apply(t, p, engine.AddComment{ID: "c1", Message: "thanks"}, ada)
	assert.Len(t, commented.Conversations, 1)
	archived := apply(t, p, engine.Archive{}, admin)
	assert.Equal(t, domain.StatusClosed, archived.Status)
}

func TestArchiveRestoreKeepsStatus(t *testing.T) {
	p := apply(t, basePost(), engine.AssignSelf{}, ada)
	archived := apply(t, p, engine.Archive{}, admin)
	assert.True(t, archived.IsArchived)
	assert.Equal(t, p.Status, archived.Status)
	assert.Equal(t, p.UpdatedAt, archived.UpdatedAt)

	_, err := engine.Apply(archived, engine.Archive{}, admin, ts)
	assert.Equal(t, engine.CodeAlreadyArchived, engine.Code(err))

	restored := apply(t, archived, engine.Restore{}, admin)
	assert.False(t, restored.IsArchived)
	assert.Equal(t, p.Status, restored.Status)

	// apart from the archive trail the document round-trips
	restored.ArchivedAt, restored.ArchivedBy, restored.RestoredAt, restored.RestoredBy = "", "", "", ""
	assert.Equal(t, p, restored)

	_, err = engine.Apply(restored, engine.Restore{}, admin, ts)
	assert.Equal(t, engine.CodeNotArchived, engine.Code(err))
	_, err = engine.Apply(p, engine.Archive{}, ada, ts)
	require.ErrorIs(t, err, engine.ErrForbidden)
}

func TestCommentIsIdempotentByID(t *testing.T) {
	p := apply(t, basePost(), engine.AddComment{ID: "c1", Message: "hello"}, bob)
	p = apply(t, p, engine.AddComment{ID: "c1", Message: "hello"}, bob)
	require.Len(t, p.Conversations, 1)
	assert.Equal(t, domain.Comment{ID: "c1", Author: "bob", Message: "hello", Timestamp: ts}, p.Conversations[0])

	_, err := engine.Apply(p, engine.AddComment{ID: "c2", Message: "  "}, bob, ts)
	require.ErrorIs(t, err, engine.ErrValidation)
}

func TestAttachmentsAndAssetRemoval(t *testing.T) {
	file := domain.FileDescriptor{Filename: "plan.pdf", Path: "uploads/attachments/post-0001/1-plan.pdf", Size: 10}

	_, err := engine.Apply(basePost(), engine.AddAttachments{Files: []domain.FileDescriptor{file}}, ada, ts)
	require.ErrorIs(t, err, engine.ErrForbidden)

	p := apply(t, basePost(), engine.AddAttachments{Files: []domain.FileDescriptor{file}}, admin)
	p = apply(t, p, engine.AddAttachments{Files: []domain.FileDescriptor{file}}, admin)
	require.Len(t, p.Attachments, 1)
	assert.Equal(t, "root", p.Attachments[0].UploadedBy)
	assert.True(t, engine.References(p, file.Path))

	_, err = engine.Apply(p, engine.RemoveAsset{Path: file.Path}, ada, ts)
	require.ErrorIs(t, err, engine.ErrForbidden)
	p = apply(t, p, engine.RemoveAsset{Path: file.Path}, admin)
	assert.Empty(t, p.Attachments)
	assert.False(t, engine.References(p, file.Path))
}

func TestEditValidatesFields(t *testing.T) {
	title := "New title"
	p := apply(t, basePost(), engine.Edit{Fields: domain.PostFields{Title: &title}}, admin)
	assert.Equal(t, "New title", p.Title)

	empty := ""
	_, err := engine.Apply(p, engine.Edit{Fields: domain.PostFields{Title: &empty}}, admin, ts)
	require.ErrorIs(t, err, engine.ErrValidation)
	_, err = engine.Apply(p, engine.Edit{}, admin, ts)
	require.ErrorIs(t, err, engine.ErrValidation)
	_, err = engine.Apply(p, engine.Edit{Fields: domain.PostFields{Title: &title}}, ada, ts)
	require.ErrorIs(t, err, engine.ErrForbidden)
}

func TestErrorMatchesOnlyItsKind(t *testing.T) {
	_, err := engine.Apply(basePost(), engine.Restore{}, admin, ts)
	assert.True(t, errors.Is(err, engine.ErrInvariant))
	assert.False(t, errors.Is(err, engine.ErrForbidden))
	assert.Equal(t, "", engine.Code(errors.New("plain")))
}
