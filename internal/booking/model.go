// Package booking holds the appointment model, the REST client for the
// clinic backend, and the reconciler that owns the in-memory event
// collection.
package booking

import (
	"time"

	"github.com/curohealth/clinic-scheduler/internal/recurrence"
)

// Status is a booking's lifecycle state. Created bookings are scheduled;
// confirm moves them to completed and cancel to cancelled, both
// irreversible here. Deletion removes the record instead of transitioning.
type Status string

const (
	StatusScheduled Status = "scheduled"
	StatusCompleted Status = "completed"
	StatusCancelled Status = "cancelled"
)

// CancelScope selects which sibling occurrences of a series a cancellation
// affects. The values are the backend's wire codes; their exact semantics
// (notably whether ScopeAll touches past occurrences) are server-defined
// and passed through unchanged.
type CancelScope string

const (
	ScopeThisOnly      CancelScope = "S"
	ScopeThisAndFuture CancelScope = "F"
	ScopeAll           CancelScope = "A"
	ScopeUntilDate     CancelScope = "T"
)

// Actor identifies who initiated a cancellation on the wire.
type Actor string

const (
	ActorEmployee Actor = "E"
	ActorPatient  Actor = "P"
)

// DeleteScope selects whether a delete removes one occurrence or the whole
// recurring series.
type DeleteScope string

const (
	DeleteSingle     DeleteScope = "single"
	DeleteRecurrence DeleteScope = "recurrence"
)

// Booking is one concrete occurrence of a (possibly recurring) appointment.
// ID is assigned by the backend and empty while creation is pending.
// Occurrences expanded from one recurrence request share a SeriesID.
type Booking struct {
	ID         string
	SeriesID   string
	Start      time.Time // UTC
	End        time.Time // UTC
	PatientID  string
	EmployeeID string
	SellableID string
	Recurrence recurrence.Rule
	Status     Status
}

// seriesKey is the identity used when replacing a rescheduled series: the
// series when one exists, otherwise the single booking's own ID.
func (b Booking) seriesKey() string {
	if b.SeriesID != "" {
		return b.SeriesID
	}
	return b.ID
}
