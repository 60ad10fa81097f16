package repo

import (
	"context"
	"errors"

	"bulletin/internal/domain"
	"bulletin/internal/store"
)

// Architects returns the architect list; a missing document is an empty list.
func (r Repo) Architects(ctx context.Context) (Versioned[[]domain.Architect], error) {
	v, err := getDoc[[]domain.Architect](ctx, r, ArchitectsPath)
	if errors.Is(err, store.ErrNotFound) {
		return Versioned[[]domain.Architect]{Doc: []domain.Architect{}}, nil
	}
	if v.Doc == nil && err == nil {
		v.Doc = []domain.Architect{}
	}
	return v, err
}

// MutateArchitects merges into the architect list, creating it if missing.
func (r Repo) MutateArchitects(ctx context.Context, message string, fn func(*[]domain.Architect) error) (Versioned[[]domain.Architect], error) {
	return mutateDoc(ctx, r, ArchitectsPath, message, fn, mutateOptions[[]domain.Architect]{
		idempotent: true,
		seed:       func() []domain.Architect { return []domain.Architect{} },
	})
}

// Statuses returns the status definitions, falling back to the defaults.
func (r Repo) Statuses(ctx context.Context) (Versioned[[]domain.StatusDef], error) {
	v, err := getDoc[[]domain.StatusDef](ctx, r, StatusesPath)
	if errors.Is(err, store.ErrNotFound) {
		return Versioned[[]domain.StatusDef]{Doc: domain.DefaultStatuses()}, nil
	}
	return v, err
}

// SeedStatuses writes the default status definitions if none exist.
func (r Repo) SeedStatuses(ctx context.Context, message string) error {
	_, err := putDoc(ctx, r, StatusesPath, domain.DefaultStatuses(), "", message)
	if errors.Is(err, store.ErrConflict) {
		return nil
	}
	return err
}

// Users returns the known users; a missing document is an empty list.
func (r Repo) Users(ctx context.Context) (Versioned[[]domain.User], error) {
	v, err := getDoc[[]domain.User](ctx, r, UsersPath)
	if errors.Is(err, store.ErrNotFound) {
		return Versioned[[]domain.User]{Doc: []domain.User{}}, nil
	}
	if v.Doc == nil && err == nil {
		v.Doc = []domain.User{}
	}
	return v, err
}

func (r Repo) MutateUsers(ctx context.Context, message string, fn func(*[]domain.User) error) (Versioned[[]domain.User], error) {
	return mutateDoc(ctx, r, UsersPath, message, fn, mutateOptions[[]domain.User]{
		idempotent: true,
		seed:       func() []domain.User { return []domain.User{} },
	})
}
