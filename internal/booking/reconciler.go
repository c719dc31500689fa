package booking

import (
	"context"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/curohealth/clinic-scheduler/internal/observability/metrics"
	"github.com/curohealth/clinic-scheduler/internal/recurrence"
	"github.com/curohealth/clinic-scheduler/internal/timeslot"
	"github.com/curohealth/clinic-scheduler/pkg/logging"
)

var reconcilerTracer = otel.Tracer("clinic.internal.booking")

// Backend is the slice of the schedule API the reconciler depends on.
// *Client satisfies it; tests inject stubs.
type Backend interface {
	ListBookings(ctx context.Context) ([]Booking, error)
	CreateBooking(ctx context.Context, req CreateRequest, idempotencyKey string) ([]Booking, error)
	RescheduleBooking(ctx context.Context, bookingID string, req CreateRequest) ([]Booking, error)
	CancelBooking(ctx context.Context, bookingID string, scope CancelScope, actor Actor, tillDate *time.Time) (CancelResult, error)
	ConfirmBooking(ctx context.Context, bookingID string) (Booking, error)
	DeleteBooking(ctx context.Context, bookingID string, scope DeleteScope) error
}

// Reconciler owns the canonical in-memory booking collection. Every
// mutation flows through one of its operations and reflects the backend's
// response; nothing else touches the collection.
type Reconciler struct {
	backend Backend
	logger  *logging.Logger
	metrics *metrics.ScheduleMetrics

	// newIdempotencyKey generates the per-submit token for create calls.
	newIdempotencyKey func() string

	mu     sync.Mutex
	events []Booking

	// busy guards against double-submission of mutating operations.
	busy atomic.Bool
}

// NewReconciler constructs a reconciler. metrics may be nil.
func NewReconciler(backend Backend, logger *logging.Logger, m *metrics.ScheduleMetrics) *Reconciler {
	if backend == nil {
		panic("booking: backend required")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Reconciler{
		backend:           backend,
		logger:            logger,
		metrics:           m,
		newIdempotencyKey: uuid.NewString,
	}
}

// SubmitRequest is the input to Create and Reschedule: an already
// normalized UTC seed interval plus the structured recurrence request.
type SubmitRequest struct {
	Seed       timeslot.Interval
	Rule       recurrence.Rule
	PatientID  string
	EmployeeID string
	SellableID string
}

// Load replaces the local collection with a full backend fetch.
func (r *Reconciler) Load(ctx context.Context) error {
	ctx, span := reconcilerTracer.Start(ctx, "booking.load")
	defer span.End()

	start := time.Now()
	events, err := r.backend.ListBookings(ctx)
	r.observe("load", start, err)
	if err != nil {
		span.RecordError(err)
		return err
	}

	r.mu.Lock()
	r.events = append(r.events[:0:0], events...)
	r.sortLocked()
	size := len(r.events)
	r.mu.Unlock()

	r.metrics.SetCollectionSize(size)
	r.logger.Info("booking collection loaded", "count", size)
	return nil
}

// Create submits one seed+rule request and appends the occurrences the
// backend materialized. Expansion is delegated to the server via the
// encoded rule string; a fresh idempotency key covers retries of the same
// submit action.
func (r *Reconciler) Create(ctx context.Context, req SubmitRequest) ([]Booking, error) {
	release, err := r.acquire()
	if err != nil {
		return nil, err
	}
	defer release()

	ctx, span := reconcilerTracer.Start(ctx, "booking.create")
	defer span.End()
	span.SetAttributes(
		attribute.String("clinic.patient_id", req.PatientID),
		attribute.String("clinic.employee_id", req.EmployeeID),
	)

	wireReq, err := req.toWire()
	if err != nil {
		return nil, err
	}

	key := r.newIdempotencyKey()
	start := time.Now()
	created, err := r.backend.CreateBooking(ctx, wireReq, key)
	r.observe("create", start, err)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	r.mu.Lock()
	r.events = append(r.events, created...)
	r.sortLocked()
	size := len(r.events)
	r.mu.Unlock()

	r.metrics.SetCollectionSize(size)
	r.logger.Info("booking created",
		"occurrences", len(created),
		"patient_id", req.PatientID,
		"employee_id", req.EmployeeID,
		"idempotency_key", key,
	)
	return created, nil
}

// Reschedule moves a booking (or its series) to a new seed and rule. The
// server's returned set is the new truth for that series identity; prior
// local entries sharing it are discarded.
func (r *Reconciler) Reschedule(ctx context.Context, bookingID string, req SubmitRequest) ([]Booking, error) {
	release, err := r.acquire()
	if err != nil {
		return nil, err
	}
	defer release()

	ctx, span := reconcilerTracer.Start(ctx, "booking.reschedule")
	defer span.End()
	span.SetAttributes(attribute.String("clinic.booking_id", bookingID))

	wireReq, err := req.toWire()
	if err != nil {
		return nil, err
	}

	start := time.Now()
	updated, err := r.backend.RescheduleBooking(ctx, bookingID, wireReq)
	r.observe("reschedule", start, err)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	r.mu.Lock()
	key := r.seriesKeyOfLocked(bookingID)
	kept := r.events[:0]
	for _, b := range r.events {
		if b.ID != bookingID && (key == "" || b.seriesKey() != key) {
			kept = append(kept, b)
		}
	}
	r.events = append(kept, updated...)
	r.sortLocked()
	size := len(r.events)
	r.mu.Unlock()

	r.metrics.SetCollectionSize(size)
	r.logger.Info("booking rescheduled", "booking_id", bookingID, "occurrences", len(updated))
	return updated, nil
}

// Cancel marks the booking cancelled under the given scope. Which siblings
// a scope touches is the server's call; locally only the requested booking
// and any sibling IDs the server reports are marked.
func (r *Reconciler) Cancel(ctx context.Context, bookingID string, scope CancelScope, actor Actor, tillDate *time.Time) (Booking, error) {
	release, err := r.acquire()
	if err != nil {
		return Booking{}, err
	}
	defer release()

	ctx, span := reconcilerTracer.Start(ctx, "booking.cancel")
	defer span.End()
	span.SetAttributes(
		attribute.String("clinic.booking_id", bookingID),
		attribute.String("clinic.cancel_scope", string(scope)),
	)

	start := time.Now()
	result, err := r.backend.CancelBooking(ctx, bookingID, scope, actor, tillDate)
	r.observe("cancel", start, err)
	if err != nil {
		span.RecordError(err)
		return Booking{}, err
	}

	cancelled := map[string]struct{}{bookingID: {}}
	for _, id := range result.SiblingIDs {
		cancelled[id] = struct{}{}
	}

	r.mu.Lock()
	for i := range r.events {
		if _, ok := cancelled[r.events[i].ID]; ok {
			r.events[i].Status = StatusCancelled
		}
	}
	r.mu.Unlock()

	r.logger.Info("booking cancelled",
		"booking_id", bookingID,
		"scope", string(scope),
		"siblings", len(result.SiblingIDs),
	)
	return result.Booking, nil
}

// Confirm marks the visit completed, then refetches the whole collection.
// The confirm response alone is too thin to patch siblings reliably, so a
// full refresh is the consistent policy; when the refetch itself fails the
// local booking is patched and the stale remainder kept.
func (r *Reconciler) Confirm(ctx context.Context, bookingID string) (Booking, error) {
	release, err := r.acquire()
	if err != nil {
		return Booking{}, err
	}
	defer release()

	ctx, span := reconcilerTracer.Start(ctx, "booking.confirm")
	defer span.End()
	span.SetAttributes(attribute.String("clinic.booking_id", bookingID))

	start := time.Now()
	confirmed, err := r.backend.ConfirmBooking(ctx, bookingID)
	r.observe("confirm", start, err)
	if err != nil {
		span.RecordError(err)
		return Booking{}, err
	}

	events, listErr := r.backend.ListBookings(ctx)
	r.mu.Lock()
	if listErr == nil {
		r.events = append(r.events[:0:0], events...)
	} else {
		for i := range r.events {
			if r.events[i].ID == bookingID {
				r.events[i].Status = StatusCompleted
			}
		}
	}
	r.sortLocked()
	size := len(r.events)
	r.mu.Unlock()

	r.metrics.SetCollectionSize(size)
	if listErr != nil {
		r.logger.Warn("refetch after confirm failed, patched locally",
			"booking_id", bookingID, "error", listErr)
	} else {
		r.logger.Info("booking confirmed", "booking_id", bookingID)
	}
	return confirmed, nil
}

// DeleteOccurrence removes the booking, or its whole series, from the
// backend and then from the local collection.
func (r *Reconciler) DeleteOccurrence(ctx context.Context, bookingID string, scope DeleteScope) error {
	release, err := r.acquire()
	if err != nil {
		return err
	}
	defer release()

	ctx, span := reconcilerTracer.Start(ctx, "booking.delete")
	defer span.End()
	span.SetAttributes(
		attribute.String("clinic.booking_id", bookingID),
		attribute.String("clinic.delete_scope", string(scope)),
	)

	start := time.Now()
	err = r.backend.DeleteBooking(ctx, bookingID, scope)
	r.observe("delete", start, err)
	if err != nil {
		span.RecordError(err)
		return err
	}

	r.mu.Lock()
	key := r.seriesKeyOfLocked(bookingID)
	kept := r.events[:0]
	for _, b := range r.events {
		switch scope {
		case DeleteRecurrence:
			if b.ID == bookingID || (key != "" && b.seriesKey() == key) {
				continue
			}
		default:
			if b.ID == bookingID {
				continue
			}
		}
		kept = append(kept, b)
	}
	r.events = kept
	size := len(r.events)
	r.mu.Unlock()

	r.metrics.SetCollectionSize(size)
	r.logger.Info("booking deleted", "booking_id", bookingID, "scope", string(scope))
	return nil
}

// Snapshot returns a copy of the collection; callers never see the live
// slice.
func (r *Reconciler) Snapshot() []Booking {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Booking, len(r.events))
	copy(out, r.events)
	return out
}

// Get returns the local booking with the given ID.
func (r *Reconciler) Get(bookingID string) (Booking, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, b := range r.events {
		if b.ID == bookingID {
			return b, nil
		}
	}
	return Booking{}, ErrNotFound
}

func (req SubmitRequest) toWire() (CreateRequest, error) {
	// "Weekly, same day" requests arrive without an explicit weekday set;
	// the seed carries the day. The handler defaults in the clinic-local
	// frame, this is the safety net for direct callers.
	rule, err := recurrence.Encode(req.Rule.WithSeedWeekday(req.Seed.Start.Weekday()))
	if err != nil {
		return CreateRequest{}, err
	}
	return CreateRequest{
		Start:      req.Seed.Start,
		End:        req.Seed.End,
		PatientID:  req.PatientID,
		EmployeeID: req.EmployeeID,
		SellableID: req.SellableID,
		Rule:       rule,
	}, nil
}

func (r *Reconciler) acquire() (func(), error) {
	if !r.busy.CompareAndSwap(false, true) {
		return nil, ErrRequestInFlight
	}
	return func() { r.busy.Store(false) }, nil
}

func (r *Reconciler) seriesKeyOfLocked(bookingID string) string {
	for _, b := range r.events {
		if b.ID == bookingID {
			return b.seriesKey()
		}
	}
	return ""
}

func (r *Reconciler) sortLocked() {
	sort.SliceStable(r.events, func(i, j int) bool {
		return r.events[i].Start.Before(r.events[j].Start)
	})
}

func (r *Reconciler) observe(op string, start time.Time, err error) {
	status := "ok"
	if err != nil {
		status = "error"
	}
	r.metrics.ObserveOperation(op, status, time.Since(start).Seconds())
}
