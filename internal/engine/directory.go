package engine

import (
	"context"
	"strings"

	"bulletin/internal/audit"
	"bulletin/internal/domain"
	"bulletin/internal/engine/auth"
)

func findArchitect(list []domain.Architect, username string) int {
	for i, a := range list {
		if strings.EqualFold(a.Username, username) {
			return i
		}
	}
	return -1
}

func (e Engine) requireActiveArchitect(ctx context.Context, username string) error {
	v, err := e.Repo.Architects(ctx)
	if err != nil {
		return err
	}
	i := findArchitect(v.Doc, username)
	if i < 0 {
		return invariant(CodeArchitectUnknown, "%s is not a registered architect", username)
	}
	if v.Doc[i].Status != domain.ArchitectActive {
		return invariant(CodeArchitectInactive, "%s is not an active architect", username)
	}
	return nil
}

func (e Engine) ListArchitects(ctx context.Context) ([]domain.Architect, error) {
	v, err := e.Repo.Architects(ctx)
	return v.Doc, err
}

// AddArchitect registers a new active architect.
func (e Engine) AddArchitect(ctx context.Context, pr auth.Principal, in domain.NewArchitect) (domain.Architect, error) {
	if err := e.requirePrivileged(pr, "add architect"); err != nil {
		return domain.Architect{}, err
	}
	if err := in.Validate(); err != nil {
		return domain.Architect{}, invalidInput(err)
	}
	added := domain.Architect{
		ID:             e.newID(),
		Username:       in.Username,
		DisplayName:    in.DisplayName,
		Email:          in.Email,
		Specialization: in.Specialization,
		Status:         domain.ArchitectActive,
		AddedAt:        e.timestamp(),
		AddedBy:        pr.Username,
	}
	entry := audit.Entry{Verb: audit.VerbCreate, Resource: audit.ResourceArchitect, ID: in.Username, Actor: pr.Username}
	v, err := e.Repo.MutateArchitects(ctx, entry.Message(), func(list *[]domain.Architect) error {
		if i := findArchitect(*list, in.Username); i >= 0 {
			if (*list)[i].ID == added.ID {
				return nil
			}
			return invariant(CodeArchitectExists, "architect %s already exists", in.Username)
		}
		*list = append(*list, added)
		return nil
	})
	if err != nil {
		return domain.Architect{}, err
	}
	audit.Log(e.Log, entry, v.Token)
	return added, nil
}

func (e Engine) setArchitectStatus(ctx context.Context, pr auth.Principal, username string, active bool) (domain.Architect, error) {
	verb := audit.VerbDeactivate
	if active {
		verb = audit.VerbReactivate
	}
	if err := e.requirePrivileged(pr, verb+" architect"); err != nil {
		return domain.Architect{}, err
	}
	now := e.timestamp()
	entry := audit.Entry{Verb: verb, Resource: audit.ResourceArchitect, ID: username, Actor: pr.Username}
	var out domain.Architect
	v, err := e.Repo.MutateArchitects(ctx, entry.Message(), func(list *[]domain.Architect) error {
		i := findArchitect(*list, username)
		if i < 0 {
			return invariant(CodeArchitectUnknown, "%s is not a registered architect", username)
		}
		a := &(*list)[i]
		switch {
		case active && a.Status != domain.ArchitectActive:
			a.Status = domain.ArchitectActive
			a.DeactivatedAt, a.DeactivatedBy = "", ""
		case !active && a.Status == domain.ArchitectActive:
			a.Status = domain.ArchitectInactive
			a.DeactivatedAt, a.DeactivatedBy = now, pr.Username
		}
		out = *a
		return nil
	})
	if err != nil {
		return domain.Architect{}, err
	}
	audit.Log(e.Log, entry, v.Token)
	return out, nil
}

// DeactivateArchitect soft-deletes an architect; existing assignments stay.
func (e Engine) DeactivateArchitect(ctx context.Context, pr auth.Principal, username string) (domain.Architect, error) {
	return e.setArchitectStatus(ctx, pr, username, false)
}

func (e Engine) ReactivateArchitect(ctx context.Context, pr auth.Principal, username string) (domain.Architect, error) {
	return e.setArchitectStatus(ctx, pr, username, true)
}

func (e Engine) Statuses(ctx context.Context) ([]domain.StatusDef, error) {
	v, err := e.Repo.Statuses(ctx)
	return v.Doc, err
}

// Bootstrap seeds the status definitions on a fresh backend.
func (e Engine) Bootstrap(ctx context.Context) error {
	return e.Repo.SeedStatuses(ctx, audit.Message(audit.VerbCreate, audit.ResourceConfig, "statuses", "system"))
}

func (e Engine) ListUsers(ctx context.Context) ([]domain.User, error) {
	v, err := e.Repo.Users(ctx)
	return v.Doc, err
}

// UpsertUser adds a user or replaces the one with the same username.
func (e Engine) UpsertUser(ctx context.Context, pr auth.Principal, u domain.User) (domain.User, error) {
	if err := e.requirePrivileged(pr, "update user"); err != nil {
		return domain.User{}, err
	}
	if err := u.Validate(); err != nil {
		return domain.User{}, invalidInput(err)
	}
	entry := audit.Entry{Verb: audit.VerbUpdate, Resource: audit.ResourceUser, ID: u.Username, Actor: pr.Username}
	v, err := e.Repo.MutateUsers(ctx, entry.Message(), func(list *[]domain.User) error {
		for i := range *list {
			if strings.EqualFold((*list)[i].Username, u.Username) {
				(*list)[i] = u
				return nil
			}
		}
		*list = append(*list, u)
		return nil
	})
	if err != nil {
		return domain.User{}, err
	}
	audit.Log(e.Log, entry, v.Token)
	return u, nil
}
