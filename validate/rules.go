package validate

import (
	"reflect"
	"regexp"
	"strconv"
	"strings"
	"unicode/utf16"
)

// whitespace matches the characters a browser treats as \s: ASCII
// whitespace plus the Unicode space separators, line/paragraph separators
// and the BOM.
const whitespace = `\s\v\p{Zs}\x{2028}\x{2029}\x{feff}`

var (
	alphaSpaceRegex = regexp.MustCompile(`^[A-Za-z` + whitespace + `]+$`)
	emailRegex      = regexp.MustCompile(`^[^@` + whitespace + `]+@[^@` + whitespace + `]+\.[^@` + whitespace + `]+$`)
)

// registerBuiltinRules registers all built-in validation rules.
func (v *Validator) registerBuiltinRules() {
	v.rules["required"] = ruleRequired
	v.rules["accepted"] = ruleAccepted

	v.rules["alphaspace"] = ruleAlphaSpace
	v.rules["email"] = ruleEmail

	v.rules["min"] = ruleMin
	v.rules["eqfield"] = ruleEqField
	v.rules["startswithany"] = ruleStartsWithAny
}

// ruleRequired fails on nil, empty strings and empty collections.
// Whitespace-only strings count as present.
func ruleRequired(value any, param string, sv reflect.Value) string {
	if value == nil {
		return "required"
	}

	val := reflect.ValueOf(value)
	switch val.Kind() {
	case reflect.String:
		if val.Len() == 0 {
			return "required"
		}
	case reflect.Slice, reflect.Map, reflect.Array:
		if val.Len() == 0 {
			return "required"
		}
	case reflect.Ptr, reflect.Interface:
		if val.IsNil() {
			return "required"
		}
	}

	return ""
}

// ruleAccepted requires a boolean to be true, as for a terms checkbox.
func ruleAccepted(value any, param string, sv reflect.Value) string {
	if b, ok := value.(bool); ok && b {
		return ""
	}
	return "accepted"
}

func ruleAlphaSpace(value any, param string, sv reflect.Value) string {
	s := toString(value)
	if s == "" {
		return ""
	}
	if !alphaSpaceRegex.MatchString(s) {
		return "alphaspace"
	}
	return ""
}

func ruleEmail(value any, param string, sv reflect.Value) string {
	s := toString(value)
	if s == "" {
		return ""
	}
	if !emailRegex.MatchString(s) {
		return "email"
	}
	return ""
}

// ruleMin checks string length in UTF-16 code units, collection length, or
// numeric value against param.
func ruleMin(value any, param string, sv reflect.Value) string {
	if value == nil {
		return ""
	}

	min, err := strconv.ParseFloat(param, 64)
	if err != nil {
		return ""
	}

	val := reflect.ValueOf(value)
	switch val.Kind() {
	case reflect.String:
		if float64(utf16Len(val.String())) < min {
			return "min"
		}
	case reflect.Slice, reflect.Map, reflect.Array:
		if float64(val.Len()) < min {
			return "min"
		}
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		if float64(val.Int()) < min {
			return "min"
		}
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		if float64(val.Uint()) < min {
			return "min"
		}
	case reflect.Float32, reflect.Float64:
		if val.Float() < min {
			return "min"
		}
	}

	return ""
}

// utf16Len is the length a browser reports for s: characters outside the
// Basic Multilingual Plane count twice.
func utf16Len(s string) int {
	n := 0
	for _, r := range s {
		n += utf16.RuneLen(r)
	}
	return n
}

func ruleEqField(value any, param string, sv reflect.Value) string {
	other, ok := getFieldValue(sv, param)
	if !ok {
		return ""
	}
	if !reflect.DeepEqual(value, other) {
		return "eqfield"
	}
	return ""
}

// ruleStartsWithAny passes when the value starts with one of the
// '|'-separated prefixes in param. Matching is case-sensitive.
func ruleStartsWithAny(value any, param string, sv reflect.Value) string {
	s := toString(value)
	if s == "" {
		return ""
	}
	for _, prefix := range strings.Split(param, "|") {
		if prefix != "" && strings.HasPrefix(s, prefix) {
			return ""
		}
	}
	return "startswithany"
}
