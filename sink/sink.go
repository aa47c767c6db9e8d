// Package sink provides collaborators that receive submission records.
package sink

import (
	"context"
	"errors"

	"github.com/dalemusser/regform/form"
)

// ErrClosed is returned by sinks used after Close.
var ErrClosed = errors.New("sink: closed")

// Func adapts a function to form.Sink.
type Func func(ctx context.Context, rec form.SubmissionRecord) error

// Emit calls f.
func (f Func) Emit(ctx context.Context, rec form.SubmissionRecord) error {
	return f(ctx, rec)
}

// Multi sends each record to every sink, in order. All sinks run even when
// one fails; the failures are joined.
type Multi []form.Sink

// Emit implements form.Sink.
func (m Multi) Emit(ctx context.Context, rec form.SubmissionRecord) error {
	var errs []error
	for _, s := range m {
		if s == nil {
			continue
		}
		if err := s.Emit(ctx, rec); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
