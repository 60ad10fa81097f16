package server

import (
	"context"
	"net/http"
	"strconv"

	"github.com/danielgtaylor/huma/v2"

	"bulletin/internal/assets"
	"bulletin/internal/domain"
	"bulletin/internal/engine"
	"bulletin/internal/engine/auth"
	"bulletin/internal/repo"
)

const maxUploadBytes = 32 << 20

type postOutput struct {
	ETag string `header:"ETag"`
	Body PostResponse
}

func (h handlers) postResult(v repo.Versioned[domain.Post], err error) (*postOutput, error) {
	if err != nil {
		return nil, h.handleError(err)
	}
	return &postOutput{ETag: etag(v.Token), Body: postResponse(v)}, nil
}

type postInput struct {
	ID      string `path:"id" pattern:"^post-[0-9]+$"`
	IfMatch string `header:"If-Match" doc:"Version the change is based on; omit to apply to the latest version"`
}

var postErrors = []int{
	http.StatusBadRequest,
	http.StatusUnauthorized,
	http.StatusForbidden,
	http.StatusNotFound,
	http.StatusConflict,
	http.StatusUnprocessableEntity,
	http.StatusServiceUnavailable,
}

func (h handlers) registerPosts(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "list-posts",
		Method:      http.MethodGet,
		Path:        "/posts",
		Summary:     "List posts",
		Errors:      []int{http.StatusBadRequest, http.StatusServiceUnavailable},
	}, func(ctx context.Context, input *struct {
		Archived string `query:"archived" enum:"true,false" doc:"Filter on the archive flag"`
		Status   string `query:"status" enum:"new,assigned,submitted,pending,closed,escalate"`
		Assignee string `query:"assignee"`
	}) (*struct {
		Body []PostResponse `json:"body"`
	}, error) {
		f := engine.PostFilter{Status: input.Status, Assignee: input.Assignee}
		if input.Archived != "" {
			b, err := strconv.ParseBool(input.Archived)
			if err != nil {
				return nil, newAPIError(http.StatusBadRequest, "bad_request", "archived must be true or false", nil)
			}
			f.Archived = &b
		}
		items, err := h.e.ListPosts(ctx, f)
		if err != nil {
			return nil, h.handleError(err)
		}
		return &struct {
			Body []PostResponse `json:"body"`
		}{Body: mapPosts(items)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "create-post",
		Method:        http.MethodPost,
		Path:          "/posts",
		Summary:       "Create post",
		DefaultStatus: http.StatusCreated,
		Errors:        postErrors,
	}, func(ctx context.Context, input *struct {
		Body domain.NewPost
	}) (*postOutput, error) {
		p, authErr := principal(ctx)
		if authErr != nil {
			return nil, authErr
		}
		return h.postResult(h.e.CreatePost(ctx, p, input.Body))
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-post",
		Method:      http.MethodGet,
		Path:        "/posts/{id}",
		Summary:     "Get post",
		Errors:      []int{http.StatusNotFound, http.StatusServiceUnavailable},
	}, func(ctx context.Context, input *struct {
		ID string `path:"id"`
	}) (*postOutput, error) {
		return h.postResult(h.e.GetPost(ctx, input.ID))
	})

	huma.Register(api, huma.Operation{
		OperationID: "update-post",
		Method:      http.MethodPatch,
		Path:        "/posts/{id}",
		Summary:     "Edit post fields",
		Errors:      postErrors,
	}, func(ctx context.Context, input *struct {
		postInput
		Body UpdatePostRequest
	}) (*postOutput, error) {
		p, authErr := principal(ctx)
		if authErr != nil {
			return nil, authErr
		}
		version := input.Body.Version
		if version == "" {
			version = versionFrom(input.IfMatch)
		}
		return h.postResult(h.e.UpdatePost(ctx, p, input.ID, input.Body.PostFields, version))
	})

	huma.Register(api, huma.Operation{
		OperationID:   "delete-post",
		Method:        http.MethodDelete,
		Path:          "/posts/{id}",
		Summary:       "Delete post",
		Description:   "Requires the current version in If-Match.",
		DefaultStatus: http.StatusNoContent,
		Errors:        append([]int{http.StatusPreconditionRequired}, postErrors...),
	}, func(ctx context.Context, input *postInput) (*struct{}, error) {
		p, authErr := principal(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if err := h.e.DeletePost(ctx, p, input.ID, versionFrom(input.IfMatch)); err != nil {
			return nil, h.handleError(err)
		}
		return nil, nil
	})
}

type transitionFunc func(ctx context.Context, pr auth.Principal, id, version string) (repo.Versioned[domain.Post], error)

// registerTransition exposes a bodiless lifecycle action at POST /posts/{id}/{action}.
func (h handlers) registerTransition(api huma.API, action, summary string, fn transitionFunc) {
	huma.Register(api, huma.Operation{
		OperationID: action + "-post",
		Method:      http.MethodPost,
		Path:        "/posts/{id}/" + action,
		Summary:     summary,
		Errors:      postErrors,
	}, func(ctx context.Context, input *postInput) (*postOutput, error) {
		p, authErr := principal(ctx)
		if authErr != nil {
			return nil, authErr
		}
		return h.postResult(fn(ctx, p, input.ID, versionFrom(input.IfMatch)))
	})
}

func (h handlers) registerLifecycle(api huma.API) {
	h.registerTransition(api, "assign", "Self-assign the calling architect", h.e.AssignSelf)
	h.registerTransition(api, "submit", "Submit for review", h.e.SubmitForReview)
	h.registerTransition(api, "pending", "Mark pending", h.e.MarkPending)
	h.registerTransition(api, "close", "Approve and close", h.e.ClosePost)
	h.registerTransition(api, "escalate", "Escalate", h.e.Escalate)
	h.registerTransition(api, "archive", "Archive", h.e.ArchivePost)
	h.registerTransition(api, "restore", "Restore from archive", h.e.RestorePost)

	huma.Register(api, huma.Operation{
		OperationID: "assign-architects",
		Method:      http.MethodPost,
		Path:        "/posts/{id}/assignees",
		Summary:     "Assign architects (administrator)",
		Errors:      postErrors,
	}, func(ctx context.Context, input *struct {
		postInput
		Body AssignArchitectsRequest
	}) (*postOutput, error) {
		p, authErr := principal(ctx)
		if authErr != nil {
			return nil, authErr
		}
		return h.postResult(h.e.AssignArchitects(ctx, p, input.ID, input.Body.Usernames, versionFrom(input.IfMatch)))
	})

	huma.Register(api, huma.Operation{
		OperationID: "unassign-architect",
		Method:      http.MethodDelete,
		Path:        "/posts/{id}/assignees/{username}",
		Summary:     "Unassign an architect",
		Errors:      postErrors,
	}, func(ctx context.Context, input *struct {
		postInput
		Username string `path:"username"`
	}) (*postOutput, error) {
		p, authErr := principal(ctx)
		if authErr != nil {
			return nil, authErr
		}
		return h.postResult(h.e.Unassign(ctx, p, input.ID, input.Username, versionFrom(input.IfMatch)))
	})

	huma.Register(api, huma.Operation{
		OperationID: "comment-post",
		Method:      http.MethodPost,
		Path:        "/posts/{id}/comments",
		Summary:     "Add a comment",
		Errors:      postErrors,
	}, func(ctx context.Context, input *struct {
		ID   string `path:"id"`
		Body CommentRequest
	}) (*postOutput, error) {
		p, authErr := principal(ctx)
		if authErr != nil {
			return nil, authErr
		}
		return h.postResult(h.e.AddComment(ctx, p, input.ID, input.Body.Message))
	})
}

func toUploads(files []UploadFile) []assets.Upload {
	out := make([]assets.Upload, len(files))
	for i, f := range files {
		out[i] = assets.Upload{Filename: f.Filename, Data: f.Content}
	}
	return out
}

func (h handlers) registerUploads(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID:  "upload-attachments",
		Method:       http.MethodPost,
		Path:         "/posts/{id}/attachments",
		Summary:      "Upload attachments",
		MaxBodyBytes: maxUploadBytes,
		Errors:       postErrors,
	}, func(ctx context.Context, input *struct {
		ID   string `path:"id"`
		Body UploadRequest
	}) (*postOutput, error) {
		p, authErr := principal(ctx)
		if authErr != nil {
			return nil, authErr
		}
		return h.postResult(h.e.UploadAttachment(ctx, p, input.ID, toUploads(input.Body.Files)))
	})

	huma.Register(api, huma.Operation{
		OperationID:  "upload-proof",
		Method:       http.MethodPost,
		Path:         "/posts/{id}/proof",
		Summary:      "Upload a proof-of-work batch",
		MaxBodyBytes: maxUploadBytes,
		Errors:       postErrors,
	}, func(ctx context.Context, input *struct {
		ID   string `path:"id"`
		Body UploadRequest
	}) (*postOutput, error) {
		p, authErr := principal(ctx)
		if authErr != nil {
			return nil, authErr
		}
		return h.postResult(h.e.UploadProofOfWork(ctx, p, input.ID, input.Body.Note, toUploads(input.Body.Files)))
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-asset",
		Method:      http.MethodGet,
		Path:        "/assets",
		Summary:     "Download an uploaded file",
		Errors:      []int{http.StatusBadRequest, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		Path string `query:"path" required:"true"`
	}) (*struct {
		ContentType string `header:"Content-Type"`
		Body        []byte
	}, error) {
		data, err := h.e.GetAsset(ctx, input.Path)
		if err != nil {
			return nil, h.handleError(err)
		}
		return &struct {
			ContentType string `header:"Content-Type"`
			Body        []byte
		}{ContentType: http.DetectContentType(data), Body: data}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "delete-asset",
		Method:        http.MethodDelete,
		Path:          "/assets",
		Summary:       "Delete an uploaded file",
		DefaultStatus: http.StatusNoContent,
		Errors:        postErrors,
	}, func(ctx context.Context, input *struct {
		Path string `query:"path" required:"true"`
	}) (*struct{}, error) {
		p, authErr := principal(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if err := h.e.DeleteAsset(ctx, p, input.Path); err != nil {
			return nil, h.handleError(err)
		}
		return nil, nil
	})
}
