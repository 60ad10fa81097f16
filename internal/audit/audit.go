// Package audit builds the change descriptions attached to every write.
package audit

import (
	"fmt"
	"strings"

	"github.com/rs/zerolog"
)

// Verbs used in change descriptions.
const (
	VerbCreate     = "create"
	VerbUpdate     = "update"
	VerbDelete     = "delete"
	VerbAssign     = "assign"
	VerbUnassign   = "unassign"
	VerbSubmit     = "submit"
	VerbPending    = "mark pending"
	VerbClose      = "close"
	VerbEscalate   = "escalate"
	VerbArchive    = "archive"
	VerbRestore    = "restore"
	VerbComment    = "comment on"
	VerbUpload     = "upload"
	VerbDeactivate = "deactivate"
	VerbReactivate = "reactivate"
)

// Resources named in change descriptions.
const (
	ResourcePost       = "post"
	ResourceConfig     = "config"
	ResourceAttachment = "attachment"
	ResourceProof      = "proof"
	ResourceAsset      = "asset"
	ResourceArchitect  = "architect"
	ResourceUser       = "user"
)

// Entry describes one mutation.
type Entry struct {
	Verb     string
	Resource string
	ID       string
	Actor    string
}

// Message renders "{verb} {resource} {id} by {actor}".
func (e Entry) Message() string {
	actor := strings.TrimSpace(e.Actor)
	if actor == "" {
		actor = "system"
	}
	return fmt.Sprintf("%s %s %s by %s", e.Verb, e.Resource, e.ID, actor)
}

func (e Entry) String() string { return e.Message() }

// Message is shorthand for Entry{...}.Message().
func Message(verb, resource, id, actor string) string {
	return Entry{Verb: verb, Resource: resource, ID: id, Actor: actor}.Message()
}

// Log records a committed entry with its resulting version token.
func Log(logger zerolog.Logger, e Entry, token string) {
	logger.Info().
		Str("verb", e.Verb).
		Str("resource", e.Resource).
		Str("id", e.ID).
		Str("actor", e.Actor).
		Str("version", token).
		Msg(e.Message())
}
