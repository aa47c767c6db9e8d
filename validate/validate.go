// Package validate provides struct validation using struct tags with
// localized error messages.
//
// Basic usage:
//
//	type Signup struct {
//	    Name     string `json:"name" validate:"required,alphaspace"`
//	    Password string `json:"password" validate:"min=8"`
//	    Confirm  string `json:"confirm" validate:"eqfield=Password"`
//	}
//
//	v := validate.New(validate.WithFirstErrorPerField())
//	if err := v.Struct(s); err != nil {
//	    for field, msg := range err.(validate.Errors).Messages() {
//	        fmt.Printf("%s: %s\n", field, msg)
//	    }
//	}
package validate

import (
	"fmt"
	"reflect"
	"strings"
	"sync"
)

// Validator validates struct fields using tags.
type Validator struct {
	tagName       string
	rules         map[string]RuleFunc
	messages      *MessageProvider
	mu            sync.RWMutex
	firstPerField bool
}

// RuleFunc is a validation rule function.
// It receives the field value, the parameter (if any), and the full struct.
// Returns an error message key if validation fails, empty string if valid.
type RuleFunc func(value any, param string, structValue reflect.Value) string

// Option configures the validator.
type Option func(*Validator)

// New creates a new validator with the built-in rules and default messages.
func New(opts ...Option) *Validator {
	v := &Validator{
		tagName:  "validate",
		rules:    make(map[string]RuleFunc),
		messages: DefaultMessages(),
	}

	v.registerBuiltinRules()

	for _, opt := range opts {
		opt(v)
	}

	return v
}

// WithTagName sets a custom tag name (default: "validate").
func WithTagName(name string) Option {
	return func(v *Validator) {
		v.tagName = name
	}
}

// WithMessages sets a custom message provider.
func WithMessages(m *MessageProvider) Option {
	return func(v *Validator) {
		v.messages = m
	}
}

// WithFirstErrorPerField stops evaluating a field's remaining rules once one
// of them fails. Other fields are still validated.
func WithFirstErrorPerField() Option {
	return func(v *Validator) {
		v.firstPerField = true
	}
}

// RegisterRule registers a custom validation rule.
func (v *Validator) RegisterRule(name string, fn RuleFunc) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.rules[name] = fn
}

// Messages returns the validator's message provider.
func (v *Validator) Messages() *MessageProvider {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.messages
}

// Struct validates a struct using its validate tags. It returns nil when
// every field passes, Errors otherwise, or a plain error if s is not a
// struct.
func (v *Validator) Struct(s any) error {
	val := reflect.ValueOf(s)
	if val.Kind() == reflect.Ptr {
		if val.IsNil() {
			return fmt.Errorf("validate: nil pointer")
		}
		val = val.Elem()
	}

	if val.Kind() != reflect.Struct {
		return fmt.Errorf("validate: expected struct, got %s", val.Kind())
	}

	if errs := v.validateStruct(val); len(errs) > 0 {
		return errs
	}
	return nil
}

func (v *Validator) validateStruct(val reflect.Value) Errors {
	var errs Errors
	typ := val.Type()

	for i := 0; i < val.NumField(); i++ {
		field := typ.Field(i)
		if !field.IsExported() {
			continue
		}

		fieldName := field.Name
		if jsonTag := field.Tag.Get("json"); jsonTag != "" {
			name, _, _ := strings.Cut(jsonTag, ",")
			if name != "" && name != "-" {
				fieldName = name
			}
		}

		errs = append(errs, v.validateValue(val.Field(i), fieldName, field.Tag.Get(v.tagName), val)...)
	}

	return errs
}

func (v *Validator) validateValue(val reflect.Value, fieldName, tag string, structVal reflect.Value) Errors {
	if tag == "" || tag == "-" {
		return nil
	}

	var value any
	if val.IsValid() && val.CanInterface() {
		value = val.Interface()
	}

	v.mu.RLock()
	defer v.mu.RUnlock()

	var errs Errors
	for _, r := range parseTag(tag) {
		ruleFn, ok := v.rules[r.name]
		if !ok {
			continue
		}

		msgKey := ruleFn(value, r.param, structVal)
		if msgKey == "" {
			continue
		}

		errs = append(errs, &Error{
			Field:   fieldName,
			Rule:    r.name,
			Param:   r.param,
			Value:   value,
			Message: v.messages.Lookup(fieldName, msgKey, r.param),
		})

		if v.firstPerField {
			return errs
		}
	}

	return errs
}

// rule represents a parsed validation rule.
type rule struct {
	name  string
	param string
}

// parseTag parses a validation tag into rules.
func parseTag(tag string) []rule {
	var rules []rule
	for _, part := range strings.Split(tag, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}

		name, param, _ := strings.Cut(part, "=")
		rules = append(rules, rule{name: name, param: param})
	}
	return rules
}

// Error represents a validation error.
type Error struct {
	Field   string
	Rule    string
	Param   string
	Value   any
	Message string
}

func (e *Error) Error() string {
	return e.Message
}

// Errors is a collection of validation errors.
type Errors []*Error

func (e Errors) Error() string {
	if len(e) == 0 {
		return ""
	}

	msgs := make([]string, 0, len(e))
	for _, err := range e {
		msgs = append(msgs, err.Message)
	}
	return strings.Join(msgs, "; ")
}

// HasErrors returns true if there are any errors.
func (e Errors) HasErrors() bool {
	return len(e) > 0
}

// FieldErrors returns all errors for a specific field.
func (e Errors) FieldErrors(field string) Errors {
	var result Errors
	for _, err := range e {
		if err.Field == field {
			result = append(result, err)
		}
	}
	return result
}

// ToMap converts errors to a map of field -> messages.
func (e Errors) ToMap() map[string][]string {
	result := make(map[string][]string)
	for _, err := range e {
		result[err.Field] = append(result[err.Field], err.Message)
	}
	return result
}

// Messages returns the first message reported for each failing field.
// The map is never nil.
func (e Errors) Messages() map[string]string {
	result := make(map[string]string, len(e))
	for _, err := range e {
		if _, seen := result[err.Field]; !seen {
			result[err.Field] = err.Message
		}
	}
	return result
}

// toString converts a value to string.
func toString(v any) string {
	if v == nil {
		return ""
	}
	switch val := v.(type) {
	case string:
		return val
	case []byte:
		return string(val)
	case fmt.Stringer:
		return val.String()
	default:
		return fmt.Sprintf("%v", v)
	}
}

// getFieldValue gets a field value from a struct by Go field name.
func getFieldValue(structVal reflect.Value, fieldName string) (any, bool) {
	if !structVal.IsValid() || structVal.Kind() != reflect.Struct {
		return nil, false
	}

	field := structVal.FieldByName(fieldName)
	if !field.IsValid() || !field.CanInterface() {
		return nil, false
	}

	return field.Interface(), true
}
