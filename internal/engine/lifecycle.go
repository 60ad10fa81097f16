package engine

import (
	"strings"

	"bulletin/internal/audit"
	"bulletin/internal/domain"
)

// Actor is the principal a transition is evaluated for.
type Actor struct {
	Username   string
	Privileged bool
}

// Action is one requested change to a post. Implementations are pure: they
// mutate the copy handed to them and never touch storage.
type Action interface {
	// Verb names the action in change descriptions.
	Verb() string
	apply(p *domain.Post, actor Actor, now string) error
}

// Apply evaluates action against current and returns the resulting document.
// current is never modified.
func Apply(current domain.Post, action Action, actor Actor, now string) (domain.Post, error) {
	next := current.Clone()
	if next.Status == domain.StatusClosed && !allowedWhenClosed(action) {
		return current, badTransition(CodePostClosed, "%s is closed; cannot %s", current.ID, action.Verb())
	}
	if err := action.apply(&next, actor, now); err != nil {
		return current, err
	}
	if touchesUpdated(action) {
		next.UpdatedAt = now
		next.UpdatedBy = actor.Username
	}
	return next, nil
}

func allowedWhenClosed(a Action) bool {
	switch a.(type) {
	case AddComment, Archive, Restore:
		return true
	}
	return false
}

// Archive and restore leave the edit trail alone.
func touchesUpdated(a Action) bool {
	switch a.(type) {
	case Archive, Restore:
		return false
	}
	return true
}

func markAssigned(p *domain.Post) {
	if p.Status == domain.StatusNew && len(p.AssignedArchitects) > 0 {
		p.Status = domain.StatusAssigned
	}
}

// AssignSelf adds the actor to the post's assignees.
type AssignSelf struct{}

func (AssignSelf) Verb() string { return audit.VerbAssign }

func (AssignSelf) apply(p *domain.Post, actor Actor, _ string) error {
	if p.AdminAssigned && !actor.Privileged {
		return forbidden(CodeAdminAssigned, "%s was assigned by an administrator", p.ID)
	}
	if p.IsAssigned(actor.Username) {
		return invariant(CodeAlreadyAssigned, "%s is already assigned to %s", actor.Username, p.ID)
	}
	p.AssignedArchitects = append(p.AssignedArchitects, actor.Username)
	markAssigned(p)
	return nil
}

// AssignArchitects is an administrator assignment of one or more architects.
type AssignArchitects struct {
	Usernames []string
}

func (AssignArchitects) Verb() string { return audit.VerbAssign }

func (a AssignArchitects) apply(p *domain.Post, actor Actor, _ string) error {
	if !actor.Privileged {
		return forbidden(CodeForbidden, "assigning architects requires a privileged role")
	}
	if len(a.Usernames) == 0 {
		return badInput("no architects given")
	}
	seen := make(map[string]struct{}, len(a.Usernames))
	for _, u := range a.Usernames {
		if _, dup := seen[u]; dup || p.IsAssigned(u) {
			return invariant(CodeAlreadyAssigned, "%s is already assigned to %s", u, p.ID)
		}
		seen[u] = struct{}{}
	}
	p.AssignedArchitects = append(p.AssignedArchitects, a.Usernames...)
	p.AdminAssigned = true
	markAssigned(p)
	return nil
}

// Unassign removes one architect. Non-privileged actors may only remove
// themselves, and only from posts they assigned themselves to.
type Unassign struct {
	Username string
}

func (Unassign) Verb() string { return audit.VerbUnassign }

func (u Unassign) apply(p *domain.Post, actor Actor, _ string) error {
	if !actor.Privileged {
		if u.Username != actor.Username {
			return forbidden(CodeForbidden, "only a privileged role may unassign another architect")
		}
		if p.AdminAssigned {
			return forbidden(CodeAdminAssigned, "%s was assigned by an administrator", p.ID)
		}
	}
	idx := -1
	for i, a := range p.AssignedArchitects {
		if a == u.Username {
			idx = i
			break
		}
	}
	if idx < 0 {
		return invariant(CodeNotAssigned, "%s is not assigned to %s", u.Username, p.ID)
	}
	p.AssignedArchitects = append(p.AssignedArchitects[:idx], p.AssignedArchitects[idx+1:]...)
	if len(p.AssignedArchitects) == 0 && p.Status == domain.StatusAssigned {
		p.Status = domain.StatusNew
	}
	return nil
}

// Submit hands the post over for review.
type Submit struct{}

func (Submit) Verb() string { return audit.VerbSubmit }

func (Submit) apply(p *domain.Post, actor Actor, now string) error {
	if actor.Privileged {
		return forbidden(CodeForbidden, "only an assigned architect may submit %s", p.ID)
	}
	if !p.IsAssigned(actor.Username) {
		return forbidden(CodeNotAssigned, "%s is not assigned to %s", actor.Username, p.ID)
	}
	if p.Status != domain.StatusAssigned {
		return badTransition(CodeInvalidTransition, "cannot submit %s from %s", p.ID, p.Status)
	}
	if len(p.ProofOfWork) == 0 {
		return invariant(CodeProofRequired, "%s has no proof of work", p.ID)
	}
	p.Status = domain.StatusSubmitted
	p.SubmittedAt = now
	p.SubmittedBy = actor.Username
	return nil
}

// MarkPending moves a submitted or escalated post to pending.
type MarkPending struct{}

func (MarkPending) Verb() string { return audit.VerbPending }

func (MarkPending) apply(p *domain.Post, actor Actor, _ string) error {
	if !actor.Privileged {
		return forbidden(CodeForbidden, "marking pending requires a privileged role")
	}
	if p.Status != domain.StatusSubmitted && p.Status != domain.StatusEscalate {
		return badTransition(CodeInvalidTransition, "cannot mark %s pending from %s", p.ID, p.Status)
	}
	p.Status = domain.StatusPending
	return nil
}

// Close approves and closes the post.
type Close struct{}

func (Close) Verb() string { return audit.VerbClose }

func (Close) apply(p *domain.Post, actor Actor, now string) error {
	if !actor.Privileged {
		return forbidden(CodeForbidden, "closing requires a privileged role")
	}
	p.Status = domain.StatusClosed
	p.ClosedAt = now
	p.ClosedBy = actor.Username
	p.ApprovedBy = actor.Username
	return nil
}

// Escalate flags the post for attention from any non-closed state.
type Escalate struct{}

func (Escalate) Verb() string { return audit.VerbEscalate }

func (Escalate) apply(p *domain.Post, actor Actor, now string) error {
	if p.Status == domain.StatusEscalate {
		return invariant(CodeAlreadyEscalated, "%s is already escalated", p.ID)
	}
	p.Status = domain.StatusEscalate
	p.EscalatedAt = now
	p.EscalatedBy = actor.Username
	return nil
}

type Archive struct{}

func (Archive) Verb() string { return audit.VerbArchive }

func (Archive) apply(p *domain.Post, actor Actor, now string) error {
	if !actor.Privileged {
		return forbidden(CodeForbidden, "archiving requires a privileged role")
	}
	if p.IsArchived {
		return invariant(CodeAlreadyArchived, "%s is already archived", p.ID)
	}
	p.IsArchived = true
	p.ArchivedAt = now
	p.ArchivedBy = actor.Username
	return nil
}

type Restore struct{}

func (Restore) Verb() string { return audit.VerbRestore }

func (Restore) apply(p *domain.Post, actor Actor, now string) error {
	if !actor.Privileged {
		return forbidden(CodeForbidden, "restoring requires a privileged role")
	}
	if !p.IsArchived {
		return invariant(CodeNotArchived, "%s is not archived", p.ID)
	}
	p.IsArchived = false
	p.RestoredAt = now
	p.RestoredBy = actor.Username
	return nil
}

// AddComment appends to the conversation. Re-applying a comment whose id is
// already present is a no-op.
type AddComment struct {
	ID      string
	Message string
}

func (AddComment) Verb() string { return audit.VerbComment }

func (c AddComment) apply(p *domain.Post, actor Actor, now string) error {
	if strings.TrimSpace(c.Message) == "" {
		return badInput("comment is empty")
	}
	for _, existing := range p.Conversations {
		if existing.ID == c.ID {
			return nil
		}
	}
	p.Conversations = append(p.Conversations, domain.Comment{
		ID:        c.ID,
		Author:    actor.Username,
		Message:   c.Message,
		Timestamp: now,
	})
	return nil
}

// AddAttachments records stored attachment files on the post.
type AddAttachments struct {
	Files []domain.FileDescriptor
}

func (AddAttachments) Verb() string { return audit.VerbUpload }

func (a AddAttachments) apply(p *domain.Post, actor Actor, now string) error {
	if !actor.Privileged && !p.IsAssigned(actor.Username) {
		return forbidden(CodeNotAssigned, "%s is not assigned to %s", actor.Username, p.ID)
	}
	if len(a.Files) == 0 {
		return badInput("no files given")
	}
	have := make(map[string]struct{}, len(p.Attachments))
	for _, at := range p.Attachments {
		have[at.Path] = struct{}{}
	}
	for _, f := range a.Files {
		if _, ok := have[f.Path]; ok {
			continue
		}
		p.Attachments = append(p.Attachments, domain.Attachment{
			Filename:   f.Filename,
			Path:       f.Path,
			Size:       f.Size,
			UploadedBy: actor.Username,
			UploadedAt: now,
		})
	}
	return nil
}

// AddProof records one proof-of-work batch. Only assigned architects submit proof.
type AddProof struct {
	BatchID string
	Note    string
	Files   []domain.FileDescriptor
}

func (AddProof) Verb() string { return audit.VerbUpload }

func (a AddProof) apply(p *domain.Post, actor Actor, now string) error {
	if actor.Privileged {
		return forbidden(CodeForbidden, "only an assigned architect may upload proof of work")
	}
	if !p.IsAssigned(actor.Username) {
		return forbidden(CodeNotAssigned, "%s is not assigned to %s", actor.Username, p.ID)
	}
	if len(a.Files) == 0 {
		return badInput("no files given")
	}
	for _, b := range p.ProofOfWork {
		if b.ID == a.BatchID {
			return nil
		}
	}
	p.ProofOfWork = append(p.ProofOfWork, domain.ProofBatch{
		ID:         a.BatchID,
		UploadedBy: actor.Username,
		UploadedAt: now,
		Note:       a.Note,
		Files:      append([]domain.FileDescriptor{}, a.Files...),
	})
	return nil
}

// RemoveAsset drops every reference to an uploaded file. Missing references
// are ignored so the merge can be re-applied.
type RemoveAsset struct {
	Path string
}

func (RemoveAsset) Verb() string { return audit.VerbDelete }

func (r RemoveAsset) apply(p *domain.Post, actor Actor, _ string) error {
	if !actor.Privileged {
		return forbidden(CodeForbidden, "deleting uploads requires a privileged role")
	}
	attachments := p.Attachments[:0]
	for _, a := range p.Attachments {
		if a.Path != r.Path {
			attachments = append(attachments, a)
		}
	}
	p.Attachments = attachments
	for i := range p.ProofOfWork {
		files := p.ProofOfWork[i].Files[:0]
		for _, f := range p.ProofOfWork[i].Files {
			if f.Path != r.Path {
				files = append(files, f)
			}
		}
		p.ProofOfWork[i].Files = files
	}
	return nil
}

// Edit changes the descriptive fields of a post.
type Edit struct {
	Fields domain.PostFields
}

func (Edit) Verb() string { return audit.VerbUpdate }

func (e Edit) apply(p *domain.Post, actor Actor, _ string) error {
	if !actor.Privileged {
		return forbidden(CodeForbidden, "editing posts requires a privileged role")
	}
	if e.Fields.Empty() {
		return badInput("nothing to update")
	}
	if err := e.Fields.Validate(); err != nil {
		return invalidInput(err)
	}
	if e.Fields.Title != nil {
		p.Title = strings.TrimSpace(*e.Fields.Title)
	}
	if e.Fields.Description != nil {
		p.Description = *e.Fields.Description
	}
	if e.Fields.ConcernedParties != nil {
		p.ConcernedParties = append([]string{}, (*e.Fields.ConcernedParties)...)
	}
	return nil
}

// References reports whether the post points at the uploaded file path.
func References(p domain.Post, path string) bool {
	for _, a := range p.Attachments {
		if a.Path == path {
			return true
		}
	}
	for _, b := range p.ProofOfWork {
		for _, f := range b.Files {
			if f.Path == path {
				return true
			}
		}
	}
	return false
}
