package form

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
)

// DefaultSuccessTTL is how long the success message stays visible.
const DefaultSuccessTTL = 3 * time.Second

// Overlap selects what a submit does while an earlier success message is
// still waiting to be cleared.
type Overlap string

const (
	// OverlapRestart cancels the pending clear and starts a full TTL for the
	// new message.
	OverlapRestart Overlap = "restart"
	// OverlapIgnore keeps the pending clear; the new message disappears at
	// the earlier deadline.
	OverlapIgnore Overlap = "ignore"
)

// ParseOverlap parses "restart" or "ignore" (case-insensitive). Empty
// selects OverlapRestart.
func ParseOverlap(s string) (Overlap, error) {
	switch Overlap(strings.ToLower(strings.TrimSpace(s))) {
	case "", OverlapRestart:
		return OverlapRestart, nil
	case OverlapIgnore:
		return OverlapIgnore, nil
	}
	return "", fmt.Errorf("form: unknown overlap policy %q (want restart or ignore)", s)
}

// Timer is the handle of a scheduled callback.
type Timer interface {
	Stop() bool
}

// AfterFunc schedules f to run once after d.
type AfterFunc func(d time.Duration, f func()) Timer

func stdAfterFunc(d time.Duration, f func()) Timer {
	return time.AfterFunc(d, f)
}

// ErrClosed is returned by Submit after Close.
var ErrClosed = errors.New("form: session closed")

// InvalidError is returned by Submit when the form fails validation. Errors
// is the error map the submit was rejected on.
type InvalidError struct {
	Errors Errors
}

func (e *InvalidError) Error() string {
	return "form: invalid fields: " + strings.Join(e.Errors.Failing(), ", ")
}

// Snapshot is a consistent view of a session for UI collaborators.
type Snapshot struct {
	State          State  `json:"state"`
	Errors         Errors `json:"errors"`
	Valid          bool   `json:"valid"`
	Username       string `json:"username"`
	SuccessMessage string `json:"successMessage"`
}

// Session owns one form. Every change recomputes the full error map; a
// valid submit emits a record, shows the success message for the TTL and
// resets the form. It is safe for concurrent use.
type Session struct {
	mu      sync.Mutex
	state   State
	errors  Errors
	success string
	timer   Timer
	gen     uint64
	seq     uint64
	closed  bool

	validator *Validator
	sink      Sink
	observer  Observer
	logger    *zap.Logger
	now       func() time.Time
	afterFunc AfterFunc
	ttl       time.Duration
	overlap   Overlap

	lmu       sync.Mutex
	listeners []listener
	nextID    int

	// dmu serializes delivery; delivered is the seq of the last snapshot
	// handed to listeners.
	dmu       sync.Mutex
	delivered uint64
}

type listener struct {
	id int
	fn func(Snapshot)
}

// Option configures a Session.
type Option func(*Session)

// WithValidator sets the validator (and therefore the message locale).
func WithValidator(v *Validator) Option {
	return func(s *Session) {
		if v != nil {
			s.validator = v
		}
	}
}

// WithSink sets where submission records go.
func WithSink(sink Sink) Option {
	return func(s *Session) {
		s.sink = sink
	}
}

// WithObserver sets an activity observer.
func WithObserver(o Observer) Option {
	return func(s *Session) {
		if o != nil {
			s.observer = o
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(s *Session) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithClock sets the time source used for SubmittedAt.
func WithClock(now func() time.Time) Option {
	return func(s *Session) {
		if now != nil {
			s.now = now
		}
	}
}

// WithAfterFunc sets the scheduler used for the success clear.
func WithAfterFunc(f AfterFunc) Option {
	return func(s *Session) {
		if f != nil {
			s.afterFunc = f
		}
	}
}

// WithSuccessTTL sets how long the success message is shown. Non-positive
// values keep DefaultSuccessTTL.
func WithSuccessTTL(d time.Duration) Option {
	return func(s *Session) {
		if d > 0 {
			s.ttl = d
		}
	}
}

// WithOverlap sets the overlap policy.
func WithOverlap(o Overlap) Option {
	return func(s *Session) {
		if o != "" {
			s.overlap = o
		}
	}
}

// NewSession returns a session holding the empty form.
func NewSession(opts ...Option) *Session {
	s := &Session{
		validator: defaultValidator,
		observer:  nopObserver{},
		logger:    zap.NewNop(),
		now:       time.Now,
		afterFunc: stdAfterFunc,
		ttl:       DefaultSuccessTTL,
		overlap:   OverlapRestart,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.errors = s.validator.Validate(s.state)
	return s
}

// Apply records a field change and revalidates the whole form. Unknown
// fields leave the form untouched and report false.
func (s *Session) Apply(c FieldChange) (Snapshot, bool) {
	s.mu.Lock()
	if !s.state.Apply(c) {
		snap := s.snapshotLocked()
		s.mu.Unlock()
		s.logger.Debug("ignoring change to unknown field", zap.String("field", c.Field))
		return snap, false
	}
	s.errors = s.validator.Validate(s.state)
	snap, seq := s.publishLocked()
	s.mu.Unlock()

	s.observer.FieldChanged(Field(c.Field), snap.Errors)
	s.notify(seq, snap)
	return snap, true
}

// Submit emits a record and resets the form when it is valid. It returns
// an *InvalidError carrying the failing fields when the form is not valid,
// and ErrClosed after Close. In both cases nothing changes.
//
// Listeners see the reset form before the record reaches the sink.
func (s *Session) Submit(ctx context.Context) (SubmissionRecord, error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		s.observer.Submitted(false)
		return SubmissionRecord{}, ErrClosed
	}
	if !s.errors.Valid() {
		errs := s.errors.clone()
		s.mu.Unlock()
		s.logger.Debug("submit rejected", zap.Strings("failing_fields", errs.Failing()))
		s.observer.Submitted(false)
		return SubmissionRecord{}, &InvalidError{Errors: errs}
	}

	rec := newRecord(s.state, s.now())
	s.success = s.validator.SuccessMessage()
	s.scheduleClearLocked()
	s.state = State{}
	s.errors = s.validator.Validate(s.state)
	snap, seq := s.publishLocked()
	s.mu.Unlock()

	s.observer.Submitted(true)
	s.notify(seq, snap)

	if s.sink != nil {
		if err := s.sink.Emit(ctx, rec); err != nil {
			s.logger.Warn("submission sink failed",
				zap.String("username", rec.Username),
				zap.Error(err))
		}
	}
	return rec, nil
}

// scheduleClearLocked must be called with s.mu held.
func (s *Session) scheduleClearLocked() {
	if s.timer != nil {
		if s.overlap == OverlapIgnore {
			return
		}
		s.timer.Stop()
	}
	s.gen++
	gen := s.gen
	s.timer = s.afterFunc(s.ttl, func() { s.clearSuccess(gen) })
}

func (s *Session) clearSuccess(gen uint64) {
	s.mu.Lock()
	if gen != s.gen || s.closed {
		s.mu.Unlock()
		return
	}
	s.success = ""
	s.timer = nil
	snap, seq := s.publishLocked()
	s.mu.Unlock()

	s.observer.SuccessCleared()
	s.notify(seq, snap)
}

// Close stops a pending success clear. Later submits are rejected.
func (s *Session) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
}

// Snapshot returns the current view of the session.
func (s *Session) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

// publishLocked takes the snapshot to deliver for a change and numbers it.
// It must be called with s.mu held.
func (s *Session) publishLocked() (Snapshot, uint64) {
	s.seq++
	return s.snapshotLocked(), s.seq
}

func (s *Session) snapshotLocked() Snapshot {
	return Snapshot{
		State:          s.state,
		Errors:         s.errors.clone(),
		Valid:          s.errors.Valid(),
		Username:       Username(s.state.Email),
		SuccessMessage: s.success,
	}
}

// State returns the current field values.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Errors returns a copy of the current error map.
func (s *Session) Errors() Errors {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.errors.clone()
}

// Valid reports whether the form can be submitted.
func (s *Session) Valid() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.errors.Valid()
}

// Username derives the username from the current email.
func (s *Session) Username() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Username(s.state.Email)
}

// SuccessMessage returns the success text, or "" outside the success window.
func (s *Session) SuccessMessage() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.success
}

// Subscribe registers fn to receive a snapshot after every change, submit
// and success clear. Calls happen on the goroutine that caused the change,
// one at a time and in the order the changes were made; a snapshot that
// lost the race to a newer one is dropped. fn must not call Apply or Submit.
// The returned func removes the subscription.
func (s *Session) Subscribe(fn func(Snapshot)) (unsubscribe func()) {
	s.lmu.Lock()
	s.nextID++
	id := s.nextID
	s.listeners = append(s.listeners, listener{id: id, fn: fn})
	s.lmu.Unlock()

	return func() {
		s.lmu.Lock()
		defer s.lmu.Unlock()
		for i, l := range s.listeners {
			if l.id == id {
				s.listeners = append(s.listeners[:i], s.listeners[i+1:]...)
				return
			}
		}
	}
}

func (s *Session) notify(seq uint64, snap Snapshot) {
	s.dmu.Lock()
	defer s.dmu.Unlock()
	if seq <= s.delivered {
		return
	}
	s.delivered = seq

	s.lmu.Lock()
	ls := make([]listener, len(s.listeners))
	copy(ls, s.listeners)
	s.lmu.Unlock()

	for _, l := range ls {
		l.fn(snap)
	}
}
