package form

import (
	"strings"

	"github.com/dalemusser/regform/validate"
)

// Errors maps a field name to the message explaining why it fails. A key is
// present iff that field currently fails its rule.
type Errors map[string]string

// Has reports whether f currently fails.
func (e Errors) Has(f Field) bool {
	_, ok := e[string(f)]
	return ok
}

// Valid reports whether no field fails.
func (e Errors) Valid() bool {
	return len(e) == 0
}

// Failing lists the failing field names in display order.
func (e Errors) Failing() []string {
	var out []string
	for _, f := range Fields() {
		if e.Has(f) {
			out = append(out, string(f))
		}
	}
	return out
}

func (e Errors) clone() Errors {
	cp := make(Errors, len(e))
	for k, v := range e {
		cp[k] = v
	}
	return cp
}

// Validator evaluates the form rules declared on State against a message
// catalog. It holds no per-form state and is safe for concurrent use.
type Validator struct {
	v *validate.Validator
}

// NewValidator returns a Validator reporting messages from m. A nil m uses
// the built-in catalogs.
func NewValidator(m *validate.MessageProvider) *Validator {
	if m == nil {
		m = validate.DefaultMessages()
	}
	return &Validator{
		v: validate.New(validate.WithMessages(m), validate.WithFirstErrorPerField()),
	}
}

// Validate runs every rule on s and returns the failing fields. The result
// is never nil.
func (v *Validator) Validate(s State) Errors {
	err := v.v.Struct(s)
	if err == nil {
		return Errors{}
	}
	errs, ok := err.(validate.Errors)
	if !ok {
		// State is always a struct; anything else is a programming error.
		panic("form: " + err.Error())
	}
	return Errors(errs.Messages())
}

// SuccessMessage returns the localized text shown after a valid submit.
func (v *Validator) SuccessMessage() string {
	return v.v.Messages().Text("form.success")
}

var defaultValidator = NewValidator(nil)

// Validate runs the form rules with the built-in French catalog.
func Validate(s State) Errors {
	return defaultValidator.Validate(s)
}

// Username derives the display username from an email address: everything
// before the first '@', or the whole string when there is none.
func Username(email string) string {
	local, _, _ := strings.Cut(email, "@")
	return local
}
