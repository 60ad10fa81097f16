package engine

import (
	"errors"
	"fmt"
)

// Error kinds. Every *Error matches exactly one of these with errors.Is.
var (
	ErrInvariant         = errors.New("invariant violation")
	ErrForbidden         = errors.New("forbidden")
	ErrInvalidTransition = errors.New("invalid transition")
	ErrValidation        = errors.New("invalid input")
)

// Stable error codes.
const (
	CodeActivePostLimit   = "active_post_limit"
	CodeAlreadyAssigned   = "already_assigned"
	CodeNotAssigned       = "not_assigned"
	CodeAdminAssigned     = "admin_assigned"
	CodeProofRequired     = "proof_required"
	CodeArchitectInactive = "architect_inactive"
	CodeArchitectUnknown  = "architect_unknown"
	CodeArchitectExists   = "architect_exists"
	CodePostClosed        = "post_closed"
	CodeInvalidTransition = "invalid_transition"
	CodeForbidden         = "forbidden"
	CodeInvalidInput      = "invalid_input"
	CodeAlreadyArchived   = "already_archived"
	CodeNotArchived       = "not_archived"
	CodeAlreadyEscalated  = "already_escalated"
	CodeStaleVersion      = "stale_version"
)

// Error is a domain rejection raised before any write is attempted.
type Error struct {
	Kind    error
	Code    string
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return e.Code + ": " + e.Message
}

func (e *Error) Is(target error) bool { return target == e.Kind }

func (e *Error) Unwrap() error { return e.Err }

func invariant(code, format string, args ...any) *Error {
	return &Error{Kind: ErrInvariant, Code: code, Message: fmt.Sprintf(format, args...)}
}

func forbidden(code, format string, args ...any) *Error {
	return &Error{Kind: ErrForbidden, Code: code, Message: fmt.Sprintf(format, args...)}
}

func badTransition(code, format string, args ...any) *Error {
	return &Error{Kind: ErrInvalidTransition, Code: code, Message: fmt.Sprintf(format, args...)}
}

func badInput(format string, args ...any) *Error {
	return &Error{Kind: ErrValidation, Code: CodeInvalidInput, Message: fmt.Sprintf(format, args...)}
}

func invalidInput(err error) *Error {
	return &Error{Kind: ErrValidation, Code: CodeInvalidInput, Message: "invalid input", Err: err}
}

// Code returns the stable code carried by err, or "" if it is not a domain error.
func Code(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}
