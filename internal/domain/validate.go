package domain

import (
	"regexp"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/go-ozzo/ozzo-validation/v4/is"
)

var usernameRegex = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._-]{0,62}$`)

// NewPost is the input for creating a post.
type NewPost struct {
	Title            string   `json:"title" maxLength:"200"`
	Description      string   `json:"description,omitempty" maxLength:"10000"`
	ConcernedParties []string `json:"concernedParties,omitempty"`
}

func (n NewPost) Validate() error {
	return validation.ValidateStruct(&n,
		validation.Field(&n.Title, validation.Required.Error("title_required"), validation.RuneLength(1, 200).Error("title_too_long")),
		validation.Field(&n.Description, validation.RuneLength(0, 10000).Error("description_too_long")),
		validation.Field(&n.ConcernedParties, validation.Length(0, 50), validation.Each(validation.Required, validation.RuneLength(1, 100))),
	)
}

// PostFields is a partial update of the editable post fields.
type PostFields struct {
	Title            *string   `json:"title,omitempty" maxLength:"200"`
	Description      *string   `json:"description,omitempty" maxLength:"10000"`
	ConcernedParties *[]string `json:"concernedParties,omitempty"`
}

func (f PostFields) Validate() error {
	return validation.ValidateStruct(&f,
		validation.Field(&f.Title, validation.NilOrNotEmpty.Error("title_required"), validation.RuneLength(1, 200).Error("title_too_long")),
		validation.Field(&f.Description, validation.RuneLength(0, 10000).Error("description_too_long")),
		validation.Field(&f.ConcernedParties, validation.By(func(v any) error {
			parties, _ := v.(*[]string)
			if parties == nil {
				return nil
			}
			return validation.Validate(*parties, validation.Length(0, 50), validation.Each(validation.Required, validation.RuneLength(1, 100)))
		})),
	)
}

// Empty reports whether the update changes nothing.
func (f PostFields) Empty() bool {
	return f.Title == nil && f.Description == nil && f.ConcernedParties == nil
}

// NewArchitect is the input for registering an architect.
type NewArchitect struct {
	Username       string `json:"username"`
	DisplayName    string `json:"displayName"`
	Email          string `json:"email,omitempty"`
	Specialization string `json:"specialization,omitempty"`
}

func (a NewArchitect) Validate() error {
	return validation.ValidateStruct(&a,
		validation.Field(&a.Username, validation.Required.Error("username_required"), validation.Match(usernameRegex).Error("invalid_username")),
		validation.Field(&a.DisplayName, validation.Required.Error("display_name_required"), validation.RuneLength(1, 100)),
		validation.Field(&a.Email, is.EmailFormat.Error("invalid_email_format")),
		validation.Field(&a.Specialization, validation.RuneLength(0, 100)),
	)
}

func (u User) Validate() error {
	return validation.ValidateStruct(&u,
		validation.Field(&u.Username, validation.Required.Error("username_required"), validation.Match(usernameRegex).Error("invalid_username")),
		validation.Field(&u.DisplayName, validation.RuneLength(0, 100)),
		validation.Field(&u.Role, validation.Required.Error("role_required"), validation.Match(usernameRegex).Error("invalid_role")),
		validation.Field(&u.Email, is.EmailFormat.Error("invalid_email_format")),
	)
}

// ValidUsername reports whether s is acceptable as an actor or architect key.
func ValidUsername(s string) bool {
	return usernameRegex.MatchString(s)
}
