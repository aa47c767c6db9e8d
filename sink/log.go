package sink

import (
	"context"

	"github.com/dalemusser/regform/form"
	"go.uber.org/zap"
)

// Log writes each record as a structured log entry.
type Log struct {
	logger *zap.Logger
}

// NewLog returns a Log sink writing to logger at info level.
func NewLog(logger *zap.Logger) *Log {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Log{logger: logger.Named("submission")}
}

// Emit implements form.Sink. It never fails.
func (l *Log) Emit(_ context.Context, rec form.SubmissionRecord) error {
	l.logger.Info("registration submitted",
		zap.String("name", rec.Name),
		zap.String("email", rec.Email),
		zap.String("profile_image", rec.ProfileImage),
		zap.Bool("accepted_terms", rec.AcceptedTerms),
		zap.String("username", rec.Username),
		zap.Time("submitted_at", rec.SubmittedAt),
	)
	return nil
}
