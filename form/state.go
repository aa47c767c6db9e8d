// Package form implements the registration form engine: field state,
// rule evaluation, the derived username, and submission.
package form

// Field names a form input. The values are the names used on the wire and
// as ValidationErrors keys.
type Field string

const (
	FieldName            Field = "name"
	FieldEmail           Field = "email"
	FieldPassword        Field = "password"
	FieldConfirmPassword Field = "confirmPassword"
	FieldProfileImage    Field = "profileImage"
	FieldAcceptedTerms   Field = "acceptedTerms"
)

// Fields lists every form field in display order.
func Fields() []Field {
	return []Field{
		FieldName,
		FieldEmail,
		FieldPassword,
		FieldConfirmPassword,
		FieldProfileImage,
		FieldAcceptedTerms,
	}
}

// State holds the current value of every field. The zero value is the
// empty form.
type State struct {
	Name            string `json:"name" validate:"required,alphaspace"`
	Email           string `json:"email" validate:"required,email"`
	Password        string `json:"password" validate:"min=8"`
	ConfirmPassword string `json:"confirmPassword" validate:"eqfield=Password"`
	ProfileImage    string `json:"profileImage" validate:"required,startswithany=http://|https://"`
	AcceptedTerms   bool   `json:"acceptedTerms" validate:"accepted"`
}

// IsZero reports whether every field holds its default.
func (s State) IsZero() bool {
	return s == State{}
}

// FieldChange is a single input event. AcceptedTerms reads Checked; every
// other field reads Value.
type FieldChange struct {
	Field   string `json:"field"`
	Value   string `json:"value,omitempty"`
	Checked bool   `json:"checked,omitempty"`
}

// Apply writes the change into s. It returns false, leaving s untouched,
// when the field name is unknown.
func (s *State) Apply(c FieldChange) bool {
	switch Field(c.Field) {
	case FieldName:
		s.Name = c.Value
	case FieldEmail:
		s.Email = c.Value
	case FieldPassword:
		s.Password = c.Value
	case FieldConfirmPassword:
		s.ConfirmPassword = c.Value
	case FieldProfileImage:
		s.ProfileImage = c.Value
	case FieldAcceptedTerms:
		s.AcceptedTerms = c.Checked
	default:
		return false
	}
	return true
}
