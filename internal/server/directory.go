package server

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"bulletin/internal/domain"
)

type architectOutput struct {
	Body domain.Architect
}

func (h handlers) registerDirectory(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "list-architects",
		Method:      http.MethodGet,
		Path:        "/architects",
		Summary:     "List architects",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body []domain.Architect `json:"body"`
	}, error) {
		items, err := h.e.ListArchitects(ctx)
		if err != nil {
			return nil, h.handleError(err)
		}
		return &struct {
			Body []domain.Architect `json:"body"`
		}{Body: items}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "add-architect",
		Method:        http.MethodPost,
		Path:          "/architects",
		Summary:       "Register an architect",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusBadRequest, http.StatusForbidden, http.StatusUnprocessableEntity},
	}, func(ctx context.Context, input *struct {
		Body domain.NewArchitect
	}) (*architectOutput, error) {
		p, authErr := principal(ctx)
		if authErr != nil {
			return nil, authErr
		}
		a, err := h.e.AddArchitect(ctx, p, input.Body)
		if err != nil {
			return nil, h.handleError(err)
		}
		return &architectOutput{Body: a}, nil
	})

	for _, active := range []bool{false, true} {
		action, summary := "deactivate", "Deactivate an architect"
		if active {
			action, summary = "reactivate", "Reactivate an architect"
		}
		set := h.e.DeactivateArchitect
		if active {
			set = h.e.ReactivateArchitect
		}
		huma.Register(api, huma.Operation{
			OperationID: action + "-architect",
			Method:      http.MethodPost,
			Path:        "/architects/{username}/" + action,
			Summary:     summary,
			Errors:      []int{http.StatusForbidden, http.StatusUnprocessableEntity},
		}, func(ctx context.Context, input *struct {
			Username string `path:"username"`
		}) (*architectOutput, error) {
			p, authErr := principal(ctx)
			if authErr != nil {
				return nil, authErr
			}
			a, err := set(ctx, p, input.Username)
			if err != nil {
				return nil, h.handleError(err)
			}
			return &architectOutput{Body: a}, nil
		})
	}

	huma.Register(api, huma.Operation{
		OperationID: "list-statuses",
		Method:      http.MethodGet,
		Path:        "/statuses",
		Summary:     "Status display definitions",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body []domain.StatusDef `json:"body"`
	}, error) {
		items, err := h.e.Statuses(ctx)
		if err != nil {
			return nil, h.handleError(err)
		}
		return &struct {
			Body []domain.StatusDef `json:"body"`
		}{Body: items}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-users",
		Method:      http.MethodGet,
		Path:        "/users",
		Summary:     "Known users",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body []domain.User `json:"body"`
	}, error) {
		items, err := h.e.ListUsers(ctx)
		if err != nil {
			return nil, h.handleError(err)
		}
		return &struct {
			Body []domain.User `json:"body"`
		}{Body: items}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "upsert-user",
		Method:      http.MethodPut,
		Path:        "/users/{username}",
		Summary:     "Create or replace a user",
		Errors:      []int{http.StatusBadRequest, http.StatusForbidden},
	}, func(ctx context.Context, input *struct {
		Username string `path:"username"`
		Body     struct {
			DisplayName string `json:"displayName,omitempty"`
			Role        string `json:"role"`
			Email       string `json:"email,omitempty"`
		}
	}) (*struct {
		Body domain.User
	}, error) {
		p, authErr := principal(ctx)
		if authErr != nil {
			return nil, authErr
		}
		u, err := h.e.UpsertUser(ctx, p, domain.User{
			Username:    input.Username,
			DisplayName: input.Body.DisplayName,
			Role:        input.Body.Role,
			Email:       input.Body.Email,
		})
		if err != nil {
			return nil, h.handleError(err)
		}
		return &struct {
			Body domain.User
		}{Body: u}, nil
	})
}
