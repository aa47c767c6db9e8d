package form

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

type fakeTimer struct {
	d       time.Duration
	f       func()
	stopped bool
	fired   bool
}

func (t *fakeTimer) Stop() bool {
	active := !t.stopped && !t.fired
	t.stopped = true
	return active
}

// fire runs the callback even when stopped, like a timer that had already
// expired when Stop was called.
func (t *fakeTimer) fire() {
	t.fired = true
	t.f()
}

type fakeScheduler struct {
	mu     sync.Mutex
	timers []*fakeTimer
}

func (s *fakeScheduler) AfterFunc(d time.Duration, f func()) Timer {
	s.mu.Lock()
	defer s.mu.Unlock()
	t := &fakeTimer{d: d, f: f}
	s.timers = append(s.timers, t)
	return t
}

func (s *fakeScheduler) last() *fakeTimer {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.timers) == 0 {
		return nil
	}
	return s.timers[len(s.timers)-1]
}

type recordingSink struct {
	mu      sync.Mutex
	records []SubmissionRecord
	err     error
}

func (r *recordingSink) Emit(_ context.Context, rec SubmissionRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.records = append(r.records, rec)
	return r.err
}

type countingObserver struct {
	changes  []Field
	accepted int
	rejected int
	cleared  int
}

func (o *countingObserver) FieldChanged(f Field, _ Errors) { o.changes = append(o.changes, f) }
func (o *countingObserver) Submitted(ok bool) {
	if ok {
		o.accepted++
	} else {
		o.rejected++
	}
}
func (o *countingObserver) SuccessCleared() { o.cleared++ }

var fixedNow = time.Date(2026, 3, 14, 15, 9, 26, 0, time.FixedZone("CET", 3600))

func newTestSession(t *testing.T, opts ...Option) (*Session, *fakeScheduler, *recordingSink) {
	t.Helper()
	sched := &fakeScheduler{}
	sink := &recordingSink{}
	base := []Option{
		WithAfterFunc(sched.AfterFunc),
		WithSink(sink),
		WithClock(func() time.Time { return fixedNow }),
	}
	s := NewSession(append(base, opts...)...)
	t.Cleanup(s.Close)
	return s, sched, sink
}

func fill(s *Session, st State) {
	s.Apply(FieldChange{Field: "name", Value: st.Name})
	s.Apply(FieldChange{Field: "email", Value: st.Email})
	s.Apply(FieldChange{Field: "password", Value: st.Password})
	s.Apply(FieldChange{Field: "confirmPassword", Value: st.ConfirmPassword})
	s.Apply(FieldChange{Field: "profileImage", Value: st.ProfileImage})
	s.Apply(FieldChange{Field: "acceptedTerms", Checked: st.AcceptedTerms})
}

func TestNewSession_Defaults(t *testing.T) {
	s, _, _ := newTestSession(t)

	if !s.State().IsZero() {
		t.Errorf("initial state = %+v, want zero", s.State())
	}
	if s.Valid() {
		t.Error("empty form must be invalid")
	}
	if len(s.Errors()) != 5 {
		t.Errorf("initial errors = %v, want 5 entries", s.Errors())
	}
	if s.SuccessMessage() != "" {
		t.Errorf("success = %q", s.SuccessMessage())
	}
}

func TestSession_ApplyRecomputes(t *testing.T) {
	s, _, _ := newTestSession(t)

	snap, ok := s.Apply(FieldChange{Field: "name", Value: "J4ne"})
	if !ok {
		t.Fatal("Apply(name) = false")
	}
	if !snap.Errors.Has(FieldName) {
		t.Error("expected name error for J4ne")
	}

	snap, _ = s.Apply(FieldChange{Field: "name", Value: "Jane"})
	if snap.Errors.Has(FieldName) {
		t.Error("name error not cleared after fixing the value")
	}

	snap, _ = s.Apply(FieldChange{Field: "email", Value: "jane@example.com"})
	if snap.Username != "jane" || s.Username() != "jane" {
		t.Errorf("username = %q / %q", snap.Username, s.Username())
	}
}

func TestSession_ApplyUnknownField(t *testing.T) {
	s, _, _ := newTestSession(t)
	calls := 0
	s.Subscribe(func(Snapshot) { calls++ })

	before := s.Snapshot()
	snap, ok := s.Apply(FieldChange{Field: "nickname", Value: "x"})
	if ok {
		t.Fatal("Apply(unknown) = true")
	}
	if diff := cmp.Diff(before, snap); diff != "" {
		t.Errorf("snapshot changed (-before +after):\n%s", diff)
	}
	if calls != 0 {
		t.Errorf("listeners notified %d times for an ignored change", calls)
	}
}

func TestSession_SubmitValid(t *testing.T) {
	obs := &countingObserver{}
	s, sched, sink := newTestSession(t, WithObserver(obs))
	fill(s, validState())

	if !s.Valid() {
		t.Fatalf("filled form invalid: %v", s.Errors())
	}

	rec, err := s.Submit(context.Background())
	if err != nil {
		t.Fatalf("Submit() = %v", err)
	}

	want := SubmissionRecord{
		Name:          "Jane Doe",
		Email:         "jane@example.com",
		ProfileImage:  "https://x.com/a.png",
		AcceptedTerms: true,
		Username:      "jane",
		SubmittedAt:   fixedNow.UTC(),
	}
	if diff := cmp.Diff(want, rec); diff != "" {
		t.Errorf("record mismatch (-want +got):\n%s", diff)
	}
	if len(sink.records) != 1 || sink.records[0] != rec {
		t.Errorf("sink got %v", sink.records)
	}

	if !s.State().IsZero() {
		t.Errorf("state after submit = %+v, want defaults", s.State())
	}
	if got := s.SuccessMessage(); got != "Inscription réussie !" {
		t.Errorf("success = %q", got)
	}
	if timer := sched.last(); timer == nil || timer.d != DefaultSuccessTTL {
		t.Fatalf("clear timer = %+v, want one with %v", timer, DefaultSuccessTTL)
	}

	sched.last().fire()
	if got := s.SuccessMessage(); got != "" {
		t.Errorf("success after TTL = %q", got)
	}
	if obs.accepted != 1 || obs.cleared != 1 {
		t.Errorf("observer = %+v", obs)
	}
}

func TestSession_SubmitInvalidIsNoop(t *testing.T) {
	obs := &countingObserver{}
	s, sched, sink := newTestSession(t, WithObserver(obs))

	st := validState()
	st.AcceptedTerms = false
	fill(s, st)
	before := s.Snapshot()

	_, err := s.Submit(context.Background())
	var invalid *InvalidError
	if !errors.As(err, &invalid) {
		t.Fatalf("Submit() with terms unchecked = %v, want *InvalidError", err)
	}
	if diff := cmp.Diff(before.Errors, invalid.Errors); diff != "" {
		t.Errorf("rejected-on errors mismatch (-want +got):\n%s", diff)
	}
	if got := err.Error(); got != "form: invalid fields: acceptedTerms" {
		t.Errorf("Error() = %q", got)
	}
	if diff := cmp.Diff(before, s.Snapshot()); diff != "" {
		t.Errorf("state changed on rejected submit (-before +after):\n%s", diff)
	}
	if len(sink.records) != 0 {
		t.Errorf("sink received %v", sink.records)
	}
	if sched.last() != nil {
		t.Error("timer scheduled on rejected submit")
	}
	if obs.rejected != 1 || obs.accepted != 0 {
		t.Errorf("observer = %+v", obs)
	}
}

func TestSession_TermsGateSubmitRegardlessOfFields(t *testing.T) {
	states := []State{
		{},
		{Name: "Jane", Email: "j@x.io", Password: "12345678", ConfirmPassword: "12345678", ProfileImage: "http://x"},
		{Name: "J4ne", Email: "bad"},
	}
	for i, st := range states {
		s, _, sink := newTestSession(t)
		fill(s, st)
		if _, err := s.Submit(context.Background()); err == nil || len(sink.records) != 0 {
			t.Errorf("state %d: submit without accepted terms produced a record", i)
		}
	}
}

func TestSession_OverlapRestart(t *testing.T) {
	s, sched, _ := newTestSession(t, WithOverlap(OverlapRestart))

	fill(s, validState())
	s.Submit(context.Background())
	first := sched.last()

	fill(s, validState())
	s.Submit(context.Background())
	second := sched.last()

	if first == second {
		t.Fatal("restart policy must schedule a new timer")
	}
	if !first.stopped {
		t.Error("first timer not stopped")
	}

	// A callback that raced past Stop must not clear the newer message.
	first.fire()
	if s.SuccessMessage() == "" {
		t.Fatal("stale timer cleared the newer message")
	}

	second.fire()
	if s.SuccessMessage() != "" {
		t.Error("second timer did not clear the message")
	}
}

func TestSession_OverlapIgnore(t *testing.T) {
	s, sched, _ := newTestSession(t, WithOverlap(OverlapIgnore))

	fill(s, validState())
	s.Submit(context.Background())
	first := sched.last()

	fill(s, validState())
	if _, err := s.Submit(context.Background()); err != nil {
		t.Fatalf("second submit rejected: %v", err)
	}
	if len(sched.timers) != 1 {
		t.Fatalf("ignore policy scheduled %d timers, want 1", len(sched.timers))
	}

	first.fire()
	if s.SuccessMessage() != "" {
		t.Error("first deadline did not clear the message")
	}

	fill(s, validState())
	s.Submit(context.Background())
	if len(sched.timers) != 2 {
		t.Errorf("submit after clear scheduled %d timers in total, want 2", len(sched.timers))
	}
}

func TestSession_SinkErrorLogged(t *testing.T) {
	core, logs := observer.New(zap.WarnLevel)
	s, _, sink := newTestSession(t, WithLogger(zap.New(core)))
	sink.err = errors.New("broker down")

	fill(s, validState())
	if _, err := s.Submit(context.Background()); err != nil {
		t.Fatalf("sink failure must not reject the submit: %v", err)
	}
	if !s.State().IsZero() {
		t.Error("state not reset after sink failure")
	}
	if logs.FilterMessage("submission sink failed").Len() != 1 {
		t.Errorf("expected one warning, got %v", logs.All())
	}
}

func TestSession_Subscribe(t *testing.T) {
	s, sched, _ := newTestSession(t)

	var got []Snapshot
	unsubscribe := s.Subscribe(func(snap Snapshot) { got = append(got, snap) })

	fill(s, validState())
	if len(got) != 6 {
		t.Fatalf("got %d snapshots after 6 changes", len(got))
	}
	if !got[5].Valid {
		t.Error("last snapshot should be valid")
	}

	s.Submit(context.Background())
	if n := len(got); n != 7 || got[6].SuccessMessage == "" || !got[6].State.IsZero() {
		t.Fatalf("submit snapshot = %+v", got[n-1])
	}

	sched.last().fire()
	if len(got) != 8 || got[7].SuccessMessage != "" {
		t.Fatalf("clear snapshot missing: %d snapshots", len(got))
	}

	unsubscribe()
	s.Apply(FieldChange{Field: "name", Value: "x"})
	if len(got) != 8 {
		t.Error("listener called after unsubscribe")
	}
}

// blockingSink holds Emit until release is closed.
type blockingSink struct {
	entered chan struct{}
	release chan struct{}
}

func (b *blockingSink) Emit(_ context.Context, _ SubmissionRecord) error {
	close(b.entered)
	<-b.release
	return nil
}

func TestSession_ListenersSeeChangesInOrder(t *testing.T) {
	sink := &blockingSink{entered: make(chan struct{}), release: make(chan struct{})}
	s, sched, _ := newTestSession(t, WithSink(sink))
	fill(s, validState())

	var mu sync.Mutex
	var last Snapshot
	s.Subscribe(func(snap Snapshot) {
		mu.Lock()
		last = snap
		mu.Unlock()
	})

	done := make(chan error, 1)
	go func() {
		_, err := s.Submit(context.Background())
		done <- err
	}()
	<-sink.entered

	// The success window ends and another edit lands while the sink is
	// still publishing.
	sched.last().fire()
	s.Apply(FieldChange{Field: "name", Value: "Bob"})

	close(sink.release)
	if err := <-done; err != nil {
		t.Fatalf("Submit() = %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if diff := cmp.Diff(s.Snapshot(), last); diff != "" {
		t.Errorf("last delivered snapshot is stale (-session +delivered):\n%s", diff)
	}
}

func TestSession_StaleSnapshotDropped(t *testing.T) {
	s, _, _ := newTestSession(t)
	var got []Snapshot
	s.Subscribe(func(snap Snapshot) { got = append(got, snap) })

	s.notify(2, Snapshot{Username: "new"})
	s.notify(1, Snapshot{Username: "old"})
	if len(got) != 1 || got[0].Username != "new" {
		t.Errorf("delivered %+v, want only the newer snapshot", got)
	}
}

func TestErrors_FailingInDisplayOrder(t *testing.T) {
	errs := Errors{"acceptedTerms": "a", "email": "b", "name": "c"}
	want := []string{"name", "email", "acceptedTerms"}
	if diff := cmp.Diff(want, errs.Failing()); diff != "" {
		t.Errorf("Failing() mismatch (-want +got):\n%s", diff)
	}
}

func TestSession_SnapshotIsACopy(t *testing.T) {
	s, _, _ := newTestSession(t)
	snap := s.Snapshot()
	snap.Errors["name"] = "tampered"
	delete(snap.Errors, "email")

	errs := s.Errors()
	if errs["name"] == "tampered" || !errs.Has(FieldEmail) {
		t.Error("mutating a snapshot changed the session")
	}
}

func TestSession_Close(t *testing.T) {
	s, sched, _ := newTestSession(t)
	fill(s, validState())
	s.Submit(context.Background())
	timer := sched.last()

	s.Close()
	if !timer.stopped {
		t.Error("Close did not stop the pending timer")
	}

	fill(s, validState())
	if _, err := s.Submit(context.Background()); !errors.Is(err, ErrClosed) {
		t.Errorf("submit after Close = %v, want ErrClosed", err)
	}
}

func TestSession_SuccessTTL(t *testing.T) {
	s, sched, _ := newTestSession(t, WithSuccessTTL(50*time.Millisecond))
	fill(s, validState())
	s.Submit(context.Background())
	if got := sched.last().d; got != 50*time.Millisecond {
		t.Errorf("ttl = %v", got)
	}
}

func TestSession_RealTimerClears(t *testing.T) {
	s := NewSession(WithSuccessTTL(10 * time.Millisecond))
	defer s.Close()

	cleared := make(chan struct{}, 1)
	s.Subscribe(func(snap Snapshot) {
		if snap.SuccessMessage == "" && snap.State.IsZero() && snap.Errors.Has(FieldName) {
			select {
			case cleared <- struct{}{}:
			default:
			}
		}
	})

	fill(s, validState())
	if _, err := s.Submit(context.Background()); err != nil {
		t.Fatalf("submit rejected: %v", err)
	}

	select {
	case <-cleared:
	case <-time.After(2 * time.Second):
		t.Fatal("success message was never cleared")
	}
}

func TestParseOverlap(t *testing.T) {
	tests := []struct {
		in      string
		want    Overlap
		wantErr bool
	}{
		{"", OverlapRestart, false},
		{"restart", OverlapRestart, false},
		{" IGNORE ", OverlapIgnore, false},
		{"queue", "", true},
	}
	for _, tt := range tests {
		got, err := ParseOverlap(tt.in)
		if (err != nil) != tt.wantErr || got != tt.want {
			t.Errorf("ParseOverlap(%q) = %q, %v", tt.in, got, err)
		}
	}
}
