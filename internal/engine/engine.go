package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"bulletin/internal/assets"
	"bulletin/internal/audit"
	"bulletin/internal/config"
	"bulletin/internal/domain"
	"bulletin/internal/engine/auth"
	"bulletin/internal/metrics"
	"bulletin/internal/notify"
	"bulletin/internal/repo"
	"bulletin/internal/store"
)

type Engine struct {
	Repo      repo.Repo
	Assets    assets.Store
	Notifier  notify.Notifier
	Policy    auth.Policy
	MaxActive int
	Log       zerolog.Logger
	Now       func() time.Time
	NewID     func() string
}

func New(r repo.Repo, cfg *config.Config, n notify.Notifier, log zerolog.Logger) Engine {
	if n == nil {
		n = notify.Nop{}
	}
	return Engine{
		Repo:      r,
		Assets:    assets.New(r),
		Notifier:  n,
		Policy:    auth.NewPolicy(cfg.Board.PrivilegedRoles),
		MaxActive: cfg.Board.MaxActivePosts,
		Log:       log.With().Str("component", "engine").Logger(),
		Now:       time.Now,
		NewID:     uuid.NewString,
	}
}

func (e Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

func (e Engine) timestamp() string {
	return e.now().UTC().Format(time.RFC3339)
}

func (e Engine) newID() string {
	if e.NewID != nil {
		return e.NewID()
	}
	return uuid.NewString()
}

func (e Engine) actor(pr auth.Principal) (Actor, error) {
	if !pr.Valid() {
		return Actor{}, auth.ErrUnauthenticated
	}
	return Actor{Username: pr.Username, Privileged: e.Policy.IsPrivileged(pr)}, nil
}

func (e Engine) requirePrivileged(pr auth.Principal, action string) error {
	err := e.Policy.RequirePrivileged(pr, action)
	var fe auth.ForbiddenError
	if errors.As(err, &fe) {
		return &Error{Kind: ErrForbidden, Code: CodeForbidden, Message: fe.Error(), Err: err}
	}
	return err
}

func checkPostID(id string) error {
	if _, ok := domain.ParsePostID(id); !ok {
		return fmt.Errorf("%w: post %q", store.ErrNotFound, id)
	}
	return nil
}

// PostFilter narrows ListPosts. Zero values match everything.
type PostFilter struct {
	Archived *bool
	Status   string
	Assignee string
}

func (f PostFilter) match(p domain.Post) bool {
	if f.Archived != nil && p.IsArchived != *f.Archived {
		return false
	}
	if f.Status != "" && p.Status != f.Status {
		return false
	}
	if f.Assignee != "" && !p.IsAssigned(f.Assignee) {
		return false
	}
	return true
}

func (e Engine) GetPost(ctx context.Context, id string) (repo.Versioned[domain.Post], error) {
	if err := checkPostID(id); err != nil {
		return repo.Versioned[domain.Post]{}, err
	}
	return e.Repo.GetPost(ctx, id)
}

// ListPosts returns the matching posts ordered by id.
func (e Engine) ListPosts(ctx context.Context, f PostFilter) ([]repo.Versioned[domain.Post], error) {
	all, err := e.Repo.ListPosts(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]repo.Versioned[domain.Post], 0, len(all))
	for _, v := range all {
		if f.match(v.Doc) {
			out = append(out, v)
		}
	}
	return out, nil
}

func (e Engine) checkCeiling(ctx context.Context) error {
	if e.MaxActive <= 0 {
		return nil
	}
	n, err := e.Repo.CountActive(ctx)
	if err != nil {
		return err
	}
	if n >= e.MaxActive {
		return invariant(CodeActivePostLimit, "board already holds %d active posts (limit %d)", n, e.MaxActive)
	}
	return nil
}

// CreatePost allocates the next post id and writes the post create-only. A
// concurrent creator taking the same id causes a bounded re-scan.
func (e Engine) CreatePost(ctx context.Context, pr auth.Principal, in domain.NewPost) (repo.Versioned[domain.Post], error) {
	if err := e.requirePrivileged(pr, "create post"); err != nil {
		return repo.Versioned[domain.Post]{}, err
	}
	if err := in.Validate(); err != nil {
		return repo.Versioned[domain.Post]{}, invalidInput(err)
	}
	attempts := e.Repo.Retry.Attempts
	if attempts < 1 {
		attempts = 1
	}
	for attempt := 1; ; attempt++ {
		if err := e.checkCeiling(ctx); err != nil {
			return repo.Versioned[domain.Post]{}, err
		}
		id, err := e.Repo.NextPostID(ctx)
		if err != nil {
			return repo.Versioned[domain.Post]{}, err
		}
		p := domain.Post{
			ID:               id,
			Title:            in.Title,
			Description:      in.Description,
			ConcernedParties: append([]string{}, in.ConcernedParties...),
			Status:           domain.StatusNew,
			CreatedAt:        e.timestamp(),
			CreatedBy:        pr.Username,
		}
		p.Normalize()
		entry := audit.Entry{Verb: audit.VerbCreate, Resource: audit.ResourcePost, ID: id, Actor: pr.Username}
		token, err := e.Repo.CreatePost(ctx, p, entry.Message())
		if err == nil {
			audit.Log(e.Log, entry, token)
			return repo.Versioned[domain.Post]{Doc: p, Token: token}, nil
		}
		if !errors.Is(err, store.ErrConflict) || attempt >= attempts {
			return repo.Versioned[domain.Post]{}, err
		}
		metrics.ObserveRetry("id_collision")
		e.Log.Info().Str("post_id", id).Int("attempt", attempt).Msg("post id taken by a concurrent creator, rescanning")
	}
}

func resourceFor(a Action) string {
	switch a.(type) {
	case AddAttachments:
		return audit.ResourceAttachment
	case AddProof:
		return audit.ResourceProof
	case RemoveAsset:
		return audit.ResourceAsset
	}
	return audit.ResourcePost
}

// transition commits action against post id. With a version the write is a
// single CAS against it; without one the repository read-modify-write is used
// and conflicts are retried only when idempotent is set.
func (e Engine) transition(ctx context.Context, actor Actor, id string, action Action, version string, idempotent bool) (repo.Versioned[domain.Post], error) {
	if err := checkPostID(id); err != nil {
		return repo.Versioned[domain.Post]{}, err
	}
	entry := audit.Entry{Verb: action.Verb(), Resource: resourceFor(action), ID: id, Actor: actor.Username}
	now := e.timestamp()

	if version != "" {
		cur, err := e.Repo.GetPost(ctx, id)
		if err != nil {
			return repo.Versioned[domain.Post]{}, err
		}
		if cur.Token != version {
			return repo.Versioned[domain.Post]{}, &store.ConflictError{Path: repo.PostPath(id), Expected: version, Current: cur.Token}
		}
		next, err := Apply(cur.Doc, action, actor, now)
		if err != nil {
			return repo.Versioned[domain.Post]{}, err
		}
		token, err := e.Repo.SavePost(ctx, next, version, entry.Message())
		if err != nil {
			return repo.Versioned[domain.Post]{}, err
		}
		audit.Log(e.Log, entry, token)
		return repo.Versioned[domain.Post]{Doc: next, Token: token}, nil
	}

	v, err := e.Repo.MutatePost(ctx, id, entry.Message(), idempotent, func(p *domain.Post) error {
		next, err := Apply(*p, action, actor, now)
		if err != nil {
			return err
		}
		*p = next
		return nil
	})
	if err != nil {
		return repo.Versioned[domain.Post]{}, err
	}
	audit.Log(e.Log, entry, v.Token)
	return v, nil
}

func (e Engine) run(ctx context.Context, pr auth.Principal, id string, action Action, version string) (repo.Versioned[domain.Post], error) {
	actor, err := e.actor(pr)
	if err != nil {
		return repo.Versioned[domain.Post]{}, err
	}
	return e.transition(ctx, actor, id, action, version, false)
}

func (e Engine) UpdatePost(ctx context.Context, pr auth.Principal, id string, fields domain.PostFields, version string) (repo.Versioned[domain.Post], error) {
	return e.run(ctx, pr, id, Edit{Fields: fields}, version)
}

// DeletePost removes the post document. Uploaded files are left in place.
func (e Engine) DeletePost(ctx context.Context, pr auth.Principal, id, version string) error {
	if err := e.requirePrivileged(pr, "delete post"); err != nil {
		return err
	}
	if err := checkPostID(id); err != nil {
		return err
	}
	if version == "" {
		return store.ErrTokenRequired
	}
	entry := audit.Entry{Verb: audit.VerbDelete, Resource: audit.ResourcePost, ID: id, Actor: pr.Username}
	if err := e.Repo.DeletePost(ctx, id, version, entry.Message()); err != nil {
		return err
	}
	audit.Log(e.Log, entry, "")
	return nil
}

// AssignSelf adds the calling architect to the post.
func (e Engine) AssignSelf(ctx context.Context, pr auth.Principal, id, version string) (repo.Versioned[domain.Post], error) {
	actor, err := e.actor(pr)
	if err != nil {
		return repo.Versioned[domain.Post]{}, err
	}
	if err := e.requireActiveArchitect(ctx, actor.Username); err != nil {
		return repo.Versioned[domain.Post]{}, err
	}
	return e.transition(ctx, actor, id, AssignSelf{}, version, false)
}

// AssignArchitects is the administrator assignment; it locks the assignee
// list against self-service changes.
func (e Engine) AssignArchitects(ctx context.Context, pr auth.Principal, id string, usernames []string, version string) (repo.Versioned[domain.Post], error) {
	actor, err := e.actor(pr)
	if err != nil {
		return repo.Versioned[domain.Post]{}, err
	}
	if actor.Privileged {
		for _, u := range usernames {
			if err := e.requireActiveArchitect(ctx, u); err != nil {
				return repo.Versioned[domain.Post]{}, err
			}
		}
	}
	return e.transition(ctx, actor, id, AssignArchitects{Usernames: usernames}, version, false)
}

func (e Engine) Unassign(ctx context.Context, pr auth.Principal, id, username, version string) (repo.Versioned[domain.Post], error) {
	return e.run(ctx, pr, id, Unassign{Username: username}, version)
}

// SubmitForReview moves the post to submitted and fires the admin
// notification once the write is acknowledged. Notification failures are
// logged; the submit stands.
func (e Engine) SubmitForReview(ctx context.Context, pr auth.Principal, id, version string) (repo.Versioned[domain.Post], error) {
	v, err := e.run(ctx, pr, id, Submit{}, version)
	if err != nil {
		return v, err
	}
	if nerr := e.Notifier.PostSubmitted(ctx, v.Doc); nerr != nil {
		e.Log.Warn().Err(nerr).Str("post_id", id).Msg("submit notification failed")
	}
	return v, nil
}

func (e Engine) MarkPending(ctx context.Context, pr auth.Principal, id, version string) (repo.Versioned[domain.Post], error) {
	return e.run(ctx, pr, id, MarkPending{}, version)
}

func (e Engine) ClosePost(ctx context.Context, pr auth.Principal, id, version string) (repo.Versioned[domain.Post], error) {
	return e.run(ctx, pr, id, Close{}, version)
}

func (e Engine) Escalate(ctx context.Context, pr auth.Principal, id, version string) (repo.Versioned[domain.Post], error) {
	return e.run(ctx, pr, id, Escalate{}, version)
}

// ArchivePost frees the post's slot against the active ceiling.
func (e Engine) ArchivePost(ctx context.Context, pr auth.Principal, id, version string) (repo.Versioned[domain.Post], error) {
	return e.run(ctx, pr, id, Archive{}, version)
}

// RestorePost re-occupies a slot, so the ceiling is checked first.
func (e Engine) RestorePost(ctx context.Context, pr auth.Principal, id, version string) (repo.Versioned[domain.Post], error) {
	actor, err := e.actor(pr)
	if err != nil {
		return repo.Versioned[domain.Post]{}, err
	}
	if actor.Privileged {
		cur, err := e.GetPost(ctx, id)
		if err != nil {
			return repo.Versioned[domain.Post]{}, err
		}
		if cur.Doc.IsArchived {
			if err := e.checkCeiling(ctx); err != nil {
				return repo.Versioned[domain.Post]{}, err
			}
		}
	}
	return e.transition(ctx, actor, id, Restore{}, version, false)
}

// AddComment appends a comment. The merge is idempotent and retried on conflict.
func (e Engine) AddComment(ctx context.Context, pr auth.Principal, id, message string) (repo.Versioned[domain.Post], error) {
	actor, err := e.actor(pr)
	if err != nil {
		return repo.Versioned[domain.Post]{}, err
	}
	return e.transition(ctx, actor, id, AddComment{ID: e.newID(), Message: message}, "", true)
}

func checkUploads(uploads []assets.Upload) error {
	if len(uploads) == 0 {
		return badInput("no files given")
	}
	for _, u := range uploads {
		if len(u.Data) == 0 {
			return badInput("%s is empty", u.Filename)
		}
	}
	return nil
}

func placeholders(uploads []assets.Upload) []domain.FileDescriptor {
	out := make([]domain.FileDescriptor, len(uploads))
	for i, u := range uploads {
		out[i] = domain.FileDescriptor{Filename: assets.Sanitize(u.Filename), Size: int64(len(u.Data))}
	}
	return out
}

// upload checks action against the current post, stores the bytes, then
// merges the descriptors built by build into the post.
func (e Engine) upload(ctx context.Context, pr auth.Principal, id, kind string, uploads []assets.Upload, build func([]domain.FileDescriptor) Action) (repo.Versioned[domain.Post], error) {
	actor, err := e.actor(pr)
	if err != nil {
		return repo.Versioned[domain.Post]{}, err
	}
	if err := checkUploads(uploads); err != nil {
		return repo.Versioned[domain.Post]{}, err
	}
	cur, err := e.GetPost(ctx, id)
	if err != nil {
		return repo.Versioned[domain.Post]{}, err
	}
	if _, err := Apply(cur.Doc, build(placeholders(uploads)), actor, e.timestamp()); err != nil {
		return repo.Versioned[domain.Post]{}, err
	}
	files := make([]domain.FileDescriptor, 0, len(uploads))
	for _, u := range uploads {
		fd, err := e.Assets.Put(ctx, kind, id, actor.Username, u)
		if err != nil {
			if len(files) > 0 {
				e.Log.Warn().Err(err).Str("post_id", id).Int("stored", len(files)).Msg("upload batch failed part way; stored files are unreferenced")
			}
			return repo.Versioned[domain.Post]{}, err
		}
		files = append(files, fd)
	}
	return e.transition(ctx, actor, id, build(files), "", true)
}

func (e Engine) UploadAttachment(ctx context.Context, pr auth.Principal, id string, uploads []assets.Upload) (repo.Versioned[domain.Post], error) {
	return e.upload(ctx, pr, id, assets.KindAttachment, uploads, func(files []domain.FileDescriptor) Action {
		return AddAttachments{Files: files}
	})
}

// UploadProofOfWork stores one proof batch for an assigned architect.
func (e Engine) UploadProofOfWork(ctx context.Context, pr auth.Principal, id, note string, uploads []assets.Upload) (repo.Versioned[domain.Post], error) {
	batchID := e.newID()
	return e.upload(ctx, pr, id, assets.KindProof, uploads, func(files []domain.FileDescriptor) Action {
		return AddProof{BatchID: batchID, Note: note, Files: files}
	})
}

func (e Engine) GetAsset(ctx context.Context, path string) ([]byte, error) {
	data, err := e.Assets.Get(ctx, path)
	if errors.Is(err, store.ErrInvalidPath) {
		return nil, invalidInput(err)
	}
	return data, err
}

// DeleteAsset removes an uploaded file and every reference to it.
func (e Engine) DeleteAsset(ctx context.Context, pr auth.Principal, path string) error {
	actor, err := e.actor(pr)
	if err != nil {
		return err
	}
	_, postID, ok := assets.ParsePath(path)
	if !ok {
		return invalidInput(fmt.Errorf("%w: %q is not an upload path", store.ErrInvalidPath, path))
	}
	cur, err := e.Repo.GetPost(ctx, postID)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return err
	}
	referenced := err == nil && References(cur.Doc, path)
	if referenced {
		if _, err := Apply(cur.Doc, RemoveAsset{Path: path}, actor, e.timestamp()); err != nil {
			return err
		}
	} else if err := e.requirePrivileged(pr, "delete upload"); err != nil {
		return err
	}
	if err := e.Assets.Delete(ctx, path, actor.Username); err != nil {
		if !errors.Is(err, store.ErrNotFound) || !referenced {
			return err
		}
		e.Log.Warn().Str("path", path).Msg("upload bytes already gone; dropping reference")
	}
	if !referenced {
		return nil
	}
	_, err = e.transition(ctx, actor, postID, RemoveAsset{Path: path}, "", true)
	return err
}
