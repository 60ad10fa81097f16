package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// ErrUnauthenticated is returned when no usable principal is present.
var ErrUnauthenticated = errors.New("authenticated principal required")

// Principal is the authenticated caller as reported by the auth layer.
type Principal struct {
	Username string `json:"username"`
	Role     string `json:"role"`
}

func (p Principal) Valid() bool {
	return strings.TrimSpace(p.Username) != ""
}

// ForbiddenError indicates the principal's role does not allow the action.
type ForbiddenError struct {
	Action string
	Reason string
}

func (e ForbiddenError) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("%s forbidden: %s", e.Action, e.Reason)
	}
	return fmt.Sprintf("%s requires a privileged role", e.Action)
}

// Policy answers the privileged-role predicate.
type Policy struct {
	privileged map[string]struct{}
}

func NewPolicy(privilegedRoles []string) Policy {
	p := Policy{privileged: map[string]struct{}{}}
	for _, r := range privilegedRoles {
		r = strings.ToLower(strings.TrimSpace(r))
		if r != "" {
			p.privileged[r] = struct{}{}
		}
	}
	return p
}

func (p Policy) IsPrivileged(pr Principal) bool {
	_, ok := p.privileged[strings.ToLower(strings.TrimSpace(pr.Role))]
	return ok
}

// RequirePrivileged returns ForbiddenError unless pr holds a privileged role.
func (p Policy) RequirePrivileged(pr Principal, action string) error {
	if !pr.Valid() {
		return ErrUnauthenticated
	}
	if !p.IsPrivileged(pr) {
		return ForbiddenError{Action: action}
	}
	return nil
}

type principalKey struct{}

func WithPrincipal(ctx context.Context, p Principal) context.Context {
	return context.WithValue(ctx, principalKey{}, p)
}

func FromContext(ctx context.Context) (Principal, bool) {
	p, ok := ctx.Value(principalKey{}).(Principal)
	return p, ok && p.Valid()
}
