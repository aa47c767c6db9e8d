package form

import (
	"context"
	"time"
)

// SubmissionRecord is built from a valid form at submit time. Passwords are
// never part of it.
type SubmissionRecord struct {
	Name          string    `json:"name"`
	Email         string    `json:"email"`
	ProfileImage  string    `json:"profileImage"`
	AcceptedTerms bool      `json:"acceptedTerms"`
	Username      string    `json:"username"`
	SubmittedAt   time.Time `json:"submittedAt"`
}

func newRecord(s State, at time.Time) SubmissionRecord {
	return SubmissionRecord{
		Name:          s.Name,
		Email:         s.Email,
		ProfileImage:  s.ProfileImage,
		AcceptedTerms: s.AcceptedTerms,
		Username:      Username(s.Email),
		SubmittedAt:   at.UTC(),
	}
}

// Sink receives records from successful submits.
type Sink interface {
	Emit(ctx context.Context, rec SubmissionRecord) error
}

// Observer is told about session activity. Implementations must not block.
type Observer interface {
	FieldChanged(field Field, errs Errors)
	Submitted(accepted bool)
	SuccessCleared()
}

type nopObserver struct{}

func (nopObserver) FieldChanged(Field, Errors) {}
func (nopObserver) Submitted(bool)             {}
func (nopObserver) SuccessCleared()            {}
