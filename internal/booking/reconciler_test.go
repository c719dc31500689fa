package booking

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/curohealth/clinic-scheduler/internal/recurrence"
	"github.com/curohealth/clinic-scheduler/internal/timeslot"
	"github.com/curohealth/clinic-scheduler/pkg/logging"
)

type stubBackend struct {
	listResult   []Booking
	listErr      error
	listCalls    int
	createResult []Booking
	createErr    error
	lastCreate   CreateRequest
	lastKey      string
	rescheduled  []Booking
	cancelResult CancelResult
	cancelErr    error
	lastScope    CancelScope
	lastActor    Actor
	confirmed    Booking
	deleteErr    error
	blockCreate  chan struct{}
}

func (s *stubBackend) ListBookings(ctx context.Context) ([]Booking, error) {
	s.listCalls++
	return s.listResult, s.listErr
}

func (s *stubBackend) CreateBooking(ctx context.Context, req CreateRequest, key string) ([]Booking, error) {
	if s.blockCreate != nil {
		<-s.blockCreate
	}
	s.lastCreate = req
	s.lastKey = key
	return s.createResult, s.createErr
}

func (s *stubBackend) RescheduleBooking(ctx context.Context, id string, req CreateRequest) ([]Booking, error) {
	return s.rescheduled, nil
}

func (s *stubBackend) CancelBooking(ctx context.Context, id string, scope CancelScope, actor Actor, tillDate *time.Time) (CancelResult, error) {
	s.lastScope = scope
	s.lastActor = actor
	return s.cancelResult, s.cancelErr
}

func (s *stubBackend) ConfirmBooking(ctx context.Context, id string) (Booking, error) {
	return s.confirmed, nil
}

func (s *stubBackend) DeleteBooking(ctx context.Context, id string, scope DeleteScope) error {
	return s.deleteErr
}

func quietLogger() *logging.Logger {
	return logging.NewWithWriter("error", testWriter{})
}

func seedInterval(day int) timeslot.Interval {
	start := time.Date(2024, 6, day, 3, 30, 0, 0, time.UTC)
	return timeslot.Interval{Start: start, End: start.Add(30 * time.Minute)}
}

func occurrence(id, series string, day int, status Status) Booking {
	iv := seedInterval(day)
	return Booking{
		ID: id, SeriesID: series,
		Start: iv.Start, End: iv.End,
		PatientID: "p1", EmployeeID: "e1", SellableID: "svc1",
		Status: status,
	}
}

func TestCreateAppendsServerOccurrences(t *testing.T) {
	backend := &stubBackend{
		createResult: []Booking{
			occurrence("b1", "s1", 3, StatusScheduled),
			occurrence("b2", "s1", 10, StatusScheduled),
			occurrence("b3", "s1", 17, StatusScheduled),
		},
	}
	rec := NewReconciler(backend, quietLogger(), nil)

	created, err := rec.Create(context.Background(), SubmitRequest{
		Seed:       seedInterval(3),
		Rule:       recurrence.Rule{Frequency: recurrence.FreqWeekly, ByWeekday: []time.Weekday{time.Monday}, Count: 3},
		PatientID:  "p1",
		EmployeeID: "e1",
		SellableID: "svc1",
	})
	if err != nil {
		t.Fatalf("Create returned error: %v", err)
	}
	if len(created) != 3 {
		t.Fatalf("expected 3 occurrences, got %d", len(created))
	}
	if backend.lastCreate.Rule != "RRULE:FREQ=WEEKLY;BYDAY=MO;COUNT=3" {
		t.Fatalf("rule string mismatch: %q", backend.lastCreate.Rule)
	}
	if backend.lastKey == "" {
		t.Fatal("create must carry an idempotency key")
	}
	if got := rec.Snapshot(); len(got) != 3 {
		t.Fatalf("collection size mismatch: %d", len(got))
	}
}

func TestCreateWeeklyWithoutWeekdaysUsesSeedDay(t *testing.T) {
	backend := &stubBackend{
		createResult: []Booking{
			occurrence("b1", "s1", 3, StatusScheduled),
			occurrence("b2", "s1", 10, StatusScheduled),
		},
	}
	rec := NewReconciler(backend, quietLogger(), nil)

	// 2024-06-03 is a Monday; "weekly, same day" sends no weekday set.
	_, err := rec.Create(context.Background(), SubmitRequest{
		Seed:       seedInterval(3),
		Rule:       recurrence.Rule{Frequency: recurrence.FreqWeekly, Count: 2},
		PatientID:  "p1",
		EmployeeID: "e1",
	})
	if err != nil {
		t.Fatalf("Create returned error: %v", err)
	}
	if backend.lastCreate.Rule != "RRULE:FREQ=WEEKLY;BYDAY=MO;COUNT=2" {
		t.Fatalf("rule string mismatch: %q", backend.lastCreate.Rule)
	}
}

func TestCreateInvalidRuleNeverReachesBackend(t *testing.T) {
	backend := &stubBackend{}
	rec := NewReconciler(backend, quietLogger(), nil)

	until := time.Now().UTC()
	_, err := rec.Create(context.Background(), SubmitRequest{
		Seed: seedInterval(3),
		Rule: recurrence.Rule{
			Frequency: recurrence.FreqWeekly,
			ByWeekday: []time.Weekday{time.Monday},
			Until:     &until,
			Count:     2,
		},
	})
	if !errors.Is(err, recurrence.ErrInvalidRecurrence) {
		t.Fatalf("expected ErrInvalidRecurrence, got %v", err)
	}
	if backend.lastKey != "" {
		t.Fatal("invalid request must not hit the backend")
	}
}

func TestRescheduleReplacesSeries(t *testing.T) {
	backend := &stubBackend{
		listResult: []Booking{
			occurrence("b1", "s1", 3, StatusScheduled),
			occurrence("b2", "s1", 10, StatusScheduled),
			occurrence("x1", "", 5, StatusScheduled),
		},
		rescheduled: []Booking{
			occurrence("b9", "s2", 4, StatusScheduled),
			occurrence("b10", "s2", 11, StatusScheduled),
		},
	}
	rec := NewReconciler(backend, quietLogger(), nil)
	if err := rec.Load(context.Background()); err != nil {
		t.Fatalf("Load returned error: %v", err)
	}

	updated, err := rec.Reschedule(context.Background(), "b1", SubmitRequest{
		Seed: seedInterval(4), PatientID: "p1", EmployeeID: "e1",
	})
	if err != nil {
		t.Fatalf("Reschedule returned error: %v", err)
	}
	if len(updated) != 2 {
		t.Fatalf("expected 2 occurrences back, got %d", len(updated))
	}

	snapshot := rec.Snapshot()
	if len(snapshot) != 3 {
		t.Fatalf("expected 3 bookings after replace, got %d", len(snapshot))
	}
	for _, b := range snapshot {
		if b.SeriesID == "s1" {
			t.Fatalf("old series entry survived: %+v", b)
		}
	}
	if _, err := rec.Get("x1"); err != nil {
		t.Fatal("unrelated booking must survive reschedule")
	}
}

func TestCancelThisAndFutureMarksSiblings(t *testing.T) {
	first := occurrence("b1", "s1", 3, StatusScheduled)
	second := occurrence("b2", "s1", 10, StatusScheduled)
	third := occurrence("b3", "s1", 17, StatusScheduled)
	cancelled := second
	cancelled.Status = StatusCancelled

	backend := &stubBackend{
		listResult:   []Booking{first, second, third},
		cancelResult: CancelResult{Booking: cancelled, SiblingIDs: []string{"b3"}},
	}
	rec := NewReconciler(backend, quietLogger(), nil)
	if err := rec.Load(context.Background()); err != nil {
		t.Fatalf("Load returned error: %v", err)
	}

	got, err := rec.Cancel(context.Background(), "b2", ScopeThisAndFuture, ActorEmployee, nil)
	if err != nil {
		t.Fatalf("Cancel returned error: %v", err)
	}
	if got.Status != StatusCancelled {
		t.Fatalf("returned booking not cancelled: %s", got.Status)
	}
	if backend.lastScope != ScopeThisAndFuture || backend.lastActor != ActorEmployee {
		t.Fatalf("scope/actor not passed through: %s/%s", backend.lastScope, backend.lastActor)
	}

	wantStatus := map[string]Status{"b1": StatusScheduled, "b2": StatusCancelled, "b3": StatusCancelled}
	for _, b := range rec.Snapshot() {
		if b.Status != wantStatus[b.ID] {
			t.Fatalf("booking %s status %s, want %s", b.ID, b.Status, wantStatus[b.ID])
		}
	}
}

func TestCancelErrorLeavesStateUnchanged(t *testing.T) {
	backend := &stubBackend{
		listResult: []Booking{occurrence("b1", "", 3, StatusScheduled)},
		cancelErr:  &ServerRejectedError{StatusCode: 422, Detail: "nope"},
	}
	rec := NewReconciler(backend, quietLogger(), nil)
	if err := rec.Load(context.Background()); err != nil {
		t.Fatalf("Load returned error: %v", err)
	}

	if _, err := rec.Cancel(context.Background(), "b1", ScopeThisOnly, ActorEmployee, nil); err == nil {
		t.Fatal("expected cancel error")
	}
	if b, _ := rec.Get("b1"); b.Status != StatusScheduled {
		t.Fatalf("failed cancel must not touch local state, got %s", b.Status)
	}
}

func TestConfirmRefetchesCollection(t *testing.T) {
	completed := occurrence("b1", "", 3, StatusCompleted)
	backend := &stubBackend{
		listResult: []Booking{completed},
		confirmed:  completed,
	}
	rec := NewReconciler(backend, quietLogger(), nil)
	if err := rec.Load(context.Background()); err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	callsAfterLoad := backend.listCalls

	got, err := rec.Confirm(context.Background(), "b1")
	if err != nil {
		t.Fatalf("Confirm returned error: %v", err)
	}
	if got.Status != StatusCompleted {
		t.Fatalf("confirm status mismatch: %s", got.Status)
	}
	if backend.listCalls != callsAfterLoad+1 {
		t.Fatalf("confirm must refetch the collection, list calls %d", backend.listCalls)
	}
}

func TestConfirmPatchesLocallyWhenRefetchFails(t *testing.T) {
	scheduled := occurrence("b1", "", 3, StatusScheduled)
	completed := scheduled
	completed.Status = StatusCompleted
	backend := &stubBackend{
		listResult: []Booking{scheduled},
		confirmed:  completed,
	}
	rec := NewReconciler(backend, quietLogger(), nil)
	if err := rec.Load(context.Background()); err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	backend.listErr = errors.New("backend down")

	if _, err := rec.Confirm(context.Background(), "b1"); err != nil {
		t.Fatalf("Confirm returned error: %v", err)
	}
	if b, _ := rec.Get("b1"); b.Status != StatusCompleted {
		t.Fatalf("expected local patch to completed, got %s", b.Status)
	}
}

func TestDeleteOccurrenceScopes(t *testing.T) {
	bookings := []Booking{
		occurrence("b1", "s1", 3, StatusScheduled),
		occurrence("b2", "s1", 10, StatusScheduled),
		occurrence("x1", "", 5, StatusScheduled),
	}

	t.Run("single", func(t *testing.T) {
		backend := &stubBackend{listResult: bookings}
		rec := NewReconciler(backend, quietLogger(), nil)
		if err := rec.Load(context.Background()); err != nil {
			t.Fatal(err)
		}
		if err := rec.DeleteOccurrence(context.Background(), "b1", DeleteSingle); err != nil {
			t.Fatalf("DeleteOccurrence returned error: %v", err)
		}
		if len(rec.Snapshot()) != 2 {
			t.Fatalf("expected 2 left, got %d", len(rec.Snapshot()))
		}
		if _, err := rec.Get("b2"); err != nil {
			t.Fatal("sibling must survive single delete")
		}
	})

	t.Run("recurrence", func(t *testing.T) {
		backend := &stubBackend{listResult: bookings}
		rec := NewReconciler(backend, quietLogger(), nil)
		if err := rec.Load(context.Background()); err != nil {
			t.Fatal(err)
		}
		if err := rec.DeleteOccurrence(context.Background(), "b1", DeleteRecurrence); err != nil {
			t.Fatalf("DeleteOccurrence returned error: %v", err)
		}
		snapshot := rec.Snapshot()
		if len(snapshot) != 1 || snapshot[0].ID != "x1" {
			t.Fatalf("expected whole series removed, got %+v", snapshot)
		}
	})
}

func TestDoubleSubmitRejectedWhileInFlight(t *testing.T) {
	backend := &stubBackend{
		blockCreate:  make(chan struct{}),
		createResult: []Booking{occurrence("b1", "", 3, StatusScheduled)},
	}
	rec := NewReconciler(backend, quietLogger(), nil)

	done := make(chan error, 1)
	go func() {
		_, err := rec.Create(context.Background(), SubmitRequest{Seed: seedInterval(3)})
		done <- err
	}()

	// Wait until the first create is parked inside the backend call.
	deadline := time.After(2 * time.Second)
	for !rec.busy.Load() {
		select {
		case <-deadline:
			t.Fatal("first create never started")
		default:
			time.Sleep(time.Millisecond)
		}
	}

	_, err := rec.Create(context.Background(), SubmitRequest{Seed: seedInterval(4)})
	if !errors.Is(err, ErrRequestInFlight) {
		t.Fatalf("expected ErrRequestInFlight, got %v", err)
	}

	close(backend.blockCreate)
	if err := <-done; err != nil {
		t.Fatalf("first create failed: %v", err)
	}

	// Guard released: next submit goes through.
	if _, err := rec.Create(context.Background(), SubmitRequest{Seed: seedInterval(5)}); err != nil {
		t.Fatalf("create after release failed: %v", err)
	}
}

func TestSnapshotIsACopy(t *testing.T) {
	backend := &stubBackend{listResult: []Booking{occurrence("b1", "", 3, StatusScheduled)}}
	rec := NewReconciler(backend, quietLogger(), nil)
	if err := rec.Load(context.Background()); err != nil {
		t.Fatal(err)
	}

	snap := rec.Snapshot()
	snap[0].Status = StatusCancelled

	if b, _ := rec.Get("b1"); b.Status != StatusScheduled {
		t.Fatal("mutating a snapshot must not affect the collection")
	}
}
