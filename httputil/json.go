// Package httputil holds the JSON response and request helpers shared by
// the HTTP handlers.
package httputil

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"reflect"
	"strings"
	"sync/atomic"

	"go.uber.org/zap"
)

// ErrorResponse is the JSON error envelope. Errors carries per-field
// validation messages when the error is about form content.
type ErrorResponse struct {
	Error   string            `json:"error"`
	Message string            `json:"message,omitempty"`
	Errors  map[string]string `json:"errors,omitempty"`
}

// ErrBodyTooLarge is returned by BindJSON when the body exceeds the limit
// set with http.MaxBytesReader.
var ErrBodyTooLarge = errors.New("request body too large")

var encodeLogger atomic.Pointer[zap.Logger]

// SetLogger sets the logger used to report encoding failures that happen
// after the status line was sent.
func SetLogger(logger *zap.Logger) {
	encodeLogger.Store(logger)
}

// WriteJSON writes v as JSON with the given status. Status codes outside
// 100-599 are sent as 500.
func WriteJSON(w http.ResponseWriter, status int, v any) {
	if status < 100 || status > 599 {
		status = http.StatusInternalServerError
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(v); err != nil {
		if l := encodeLogger.Load(); l != nil {
			typeName := "nil"
			if v != nil {
				typeName = reflect.TypeOf(v).String()
			}
			l.Error("json encoding failed after headers sent",
				zap.String("type", typeName),
				zap.Error(err))
		}
	}
}

// JSONError writes an ErrorResponse with the given code and message.
func JSONError(w http.ResponseWriter, status int, code, message string) {
	WriteJSON(w, status, ErrorResponse{Error: code, Message: message})
}

// FieldErrors writes an ErrorResponse carrying per-field messages.
func FieldErrors(w http.ResponseWriter, status int, code string, errs map[string]string) {
	WriteJSON(w, status, ErrorResponse{Error: code, Errors: errs})
}

// BindJSON decodes the request body into v. Unknown fields, trailing
// values and empty bodies are rejected. The returned error text is safe to
// show to clients.
func BindJSON(r *http.Request, v any) error {
	if r.Body == nil || r.ContentLength == 0 {
		return errors.New("request body is empty")
	}
	defer r.Body.Close()

	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()

	if err := dec.Decode(v); err != nil {
		return parseJSONError(err)
	}
	if dec.More() {
		return errors.New("request body contains multiple JSON values")
	}
	return nil
}

func parseJSONError(err error) error {
	if errors.Is(err, io.EOF) {
		return errors.New("request body is empty")
	}

	var syntaxErr *json.SyntaxError
	if errors.As(err, &syntaxErr) {
		return fmt.Errorf("malformed JSON at position %d", syntaxErr.Offset)
	}

	var typeErr *json.UnmarshalTypeError
	if errors.As(err, &typeErr) {
		return fmt.Errorf("invalid value for field %q: expected %s", typeErr.Field, typeErr.Type.String())
	}

	var maxErr *http.MaxBytesError
	if errors.As(err, &maxErr) {
		return ErrBodyTooLarge
	}

	// encoding/json has no typed error for unknown fields.
	if field, ok := strings.CutPrefix(err.Error(), "json: unknown field "); ok {
		return fmt.Errorf("unknown field %q", strings.Trim(field, `"`))
	}

	return errors.New("invalid JSON in request body")
}
