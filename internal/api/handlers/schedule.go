// Package handlers exposes the scheduling core over HTTP for the calendar
// front-end.
package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/curohealth/clinic-scheduler/internal/booking"
	"github.com/curohealth/clinic-scheduler/internal/calendar"
	"github.com/curohealth/clinic-scheduler/internal/recurrence"
	"github.com/curohealth/clinic-scheduler/internal/settings"
	"github.com/curohealth/clinic-scheduler/internal/timeslot"
	"github.com/curohealth/clinic-scheduler/internal/workinghours"
	"github.com/curohealth/clinic-scheduler/pkg/logging"
)

// ScheduleHandler wires the normalizer, guard, expander and reconciler
// behind the calendar API.
type ScheduleHandler struct {
	reconciler    *booking.Reconciler
	settings      *settings.Store
	offsetMinutes int
	weekStart     time.Weekday
	logger        *logging.Logger
	now           func() time.Time
}

// NewScheduleHandler constructs the handler.
func NewScheduleHandler(rec *booking.Reconciler, store *settings.Store, offsetMinutes int, weekStart time.Weekday, logger *logging.Logger) *ScheduleHandler {
	if rec == nil {
		panic("handlers: reconciler required")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &ScheduleHandler{
		reconciler:    rec,
		settings:      store,
		offsetMinutes: offsetMinutes,
		weekStart:     weekStart,
		logger:        logger,
		now:           time.Now,
	}
}

// Routes mounts the schedule endpoints.
func (h *ScheduleHandler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Get("/view", h.View)
	r.Post("/bookings", h.Create)
	r.Patch("/bookings/{id}/reschedule", h.Reschedule)
	r.Patch("/bookings/{id}/cancel", h.Cancel)
	r.Patch("/bookings/{id}/confirm", h.Confirm)
	r.Delete("/bookings/{id}", h.Delete)
	return r
}

type bookingRequest struct {
	Date            string `json:"date"`             // YYYY-MM-DD, clinic-local
	Time            string `json:"time"`             // HH:MM, clinic-local
	DurationMinutes int    `json:"duration_minutes"`
	PatientID       string `json:"patient"`
	EmployeeID      string `json:"employee"`
	SellableID      string `json:"sellable"`

	Frequency    string `json:"frequency"` // "none" or "weekly"
	Weekdays     []int  `json:"weekdays,omitempty"`
	UntilDate    string `json:"until_date,omitempty"` // YYYY-MM-DD, inclusive
	SessionCount int    `json:"session_count,omitempty"`
}

type bookingResponse struct {
	ID       string `json:"id"`
	SeriesID string `json:"series,omitempty"`
	Start    string `json:"start"`
	End      string `json:"end"`
	Patient  string `json:"patient"`
	Employee string `json:"employee"`
	Sellable string `json:"sellable,omitempty"`
	Status   string `json:"status"`
}

type viewResponse struct {
	Window struct {
		Start string `json:"start"`
		End   string `json:"end"`
	} `json:"window"`
	Anchor    string            `json:"anchor"`
	Events    []bookingResponse `json:"events"`
	ActiveDay activeDayResponse `json:"active_day"`
}

type activeDayResponse struct {
	MorningStart   string `json:"morning_start"`
	MorningEnd     string `json:"morning_end"`
	AfternoonStart string `json:"afternoon_start"`
	AfternoonEnd   string `json:"afternoon_end"`
}

// View projects the collection into the requested calendar window.
// Query params: granularity (day|week|month), anchor (YYYY-MM-DD),
// direction (prev|next|today), employee, patient, show_cancelled.
func (h *ScheduleHandler) View(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	granularity := calendar.Granularity(q.Get("granularity"))
	switch granularity {
	case calendar.ViewDay, calendar.ViewWeek, calendar.ViewMonth:
	case "":
		granularity = calendar.ViewWeek
	default:
		writeError(w, http.StatusBadRequest, "unknown granularity")
		return
	}

	anchor := h.localNow()
	if raw := q.Get("anchor"); raw != "" {
		parsed, err := time.Parse("2006-01-02", raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "bad anchor date")
			return
		}
		anchor = parsed
	}
	if dir := q.Get("direction"); dir != "" {
		switch d := calendar.Direction(dir); d {
		case calendar.Prev, calendar.Next, calendar.Today:
			anchor = calendar.Navigate(d, anchor, granularity, h.localNow())
		default:
			writeError(w, http.StatusBadRequest, "unknown direction")
			return
		}
	}

	// Hours are decorative on the view; render without them if the
	// settings store is unavailable.
	week, err := h.settings.WorkingHours(r.Context())
	if err != nil {
		h.logger.Warn("working hours unavailable for view", "error", err)
		week = workinghours.Week{}
	}

	filters := calendar.FilterState{
		EmployeeID:    q.Get("employee"),
		PatientID:     q.Get("patient"),
		ShowCancelled: q.Get("show_cancelled") == "true",
	}

	// The window is computed in the clinic-local frame and shifted to UTC
	// for intersection with the UTC event collection.
	localWindow := calendar.WindowFor(anchor, granularity, h.weekStart)
	utcWindow := timeslot.Interval{
		Start: localWindow.Start.Add(-time.Duration(h.offsetMinutes) * time.Minute),
		End:   localWindow.End.Add(-time.Duration(h.offsetMinutes) * time.Minute),
	}

	projection := calendar.Project(h.reconciler.Snapshot(), filters, utcWindow, week, anchor.Weekday())

	var resp viewResponse
	resp.Window.Start = projection.Window.Start.Format(time.RFC3339)
	resp.Window.End = projection.Window.End.Format(time.RFC3339)
	resp.Anchor = anchor.Format("2006-01-02")
	resp.Events = make([]bookingResponse, 0, len(projection.Events))
	for _, b := range projection.Events {
		resp.Events = append(resp.Events, toBookingResponse(b))
	}
	resp.ActiveDay = activeDayResponse{
		MorningStart:   minutesToClock(projection.ActiveDay.MorningStart),
		MorningEnd:     minutesToClock(projection.ActiveDay.MorningEnd),
		AfternoonStart: minutesToClock(projection.ActiveDay.AfternoonStart),
		AfternoonEnd:   minutesToClock(projection.ActiveDay.AfternoonEnd),
	}
	writeJSON(w, http.StatusOK, resp)
}

// Create books a new appointment, running local validation before any
// network call.
func (h *ScheduleHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req bookingRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "malformed request body")
		return
	}

	submit, status, msg := h.buildSubmit(r, req)
	if msg != "" {
		writeError(w, status, msg)
		return
	}

	created, err := h.reconciler.Create(r.Context(), submit)
	if err != nil {
		h.writeRemoteError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toBookingResponses(created))
}

// Reschedule moves an existing booking or series.
func (h *ScheduleHandler) Reschedule(w http.ResponseWriter, r *http.Request) {
	var req bookingRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "malformed request body")
		return
	}

	submit, status, msg := h.buildSubmit(r, req)
	if msg != "" {
		writeError(w, status, msg)
		return
	}

	updated, err := h.reconciler.Reschedule(r.Context(), chi.URLParam(r, "id"), submit)
	if err != nil {
		h.writeRemoteError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toBookingResponses(updated))
}

type cancelRequest struct {
	Scope    string `json:"scope"` // S, F, A or T
	Actor    string `json:"actor"` // E or P
	TillDate string `json:"till_date,omitempty"`
}

// Cancel marks a booking cancelled under the requested scope.
func (h *ScheduleHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	var req cancelRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "malformed request body")
		return
	}

	scope := booking.CancelScope(req.Scope)
	switch scope {
	case booking.ScopeThisOnly, booking.ScopeThisAndFuture, booking.ScopeAll, booking.ScopeUntilDate:
	default:
		writeError(w, http.StatusBadRequest, "unknown cancellation scope")
		return
	}
	actor := booking.Actor(req.Actor)
	switch actor {
	case booking.ActorEmployee, booking.ActorPatient:
	default:
		writeError(w, http.StatusBadRequest, "unknown actor")
		return
	}

	var tillDate *time.Time
	if scope == booking.ScopeUntilDate {
		if req.TillDate == "" {
			writeError(w, http.StatusBadRequest, "till_date required for until-date scope")
			return
		}
		parsed, err := time.Parse("2006-01-02", req.TillDate)
		if err != nil {
			writeError(w, http.StatusBadRequest, "bad till_date")
			return
		}
		tillDate = &parsed
	}

	cancelled, err := h.reconciler.Cancel(r.Context(), chi.URLParam(r, "id"), scope, actor, tillDate)
	if err != nil {
		h.writeRemoteError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toBookingResponse(cancelled))
}

// Confirm marks the visit completed.
func (h *ScheduleHandler) Confirm(w http.ResponseWriter, r *http.Request) {
	confirmed, err := h.reconciler.Confirm(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeRemoteError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toBookingResponse(confirmed))
}

// Delete removes a booking occurrence or its whole series
// (?scope=single|recurrence).
func (h *ScheduleHandler) Delete(w http.ResponseWriter, r *http.Request) {
	scope := booking.DeleteScope(r.URL.Query().Get("scope"))
	switch scope {
	case booking.DeleteSingle, booking.DeleteRecurrence:
	case "":
		scope = booking.DeleteSingle
	default:
		writeError(w, http.StatusBadRequest, "unknown delete scope")
		return
	}

	if err := h.reconciler.DeleteOccurrence(r.Context(), chi.URLParam(r, "id"), scope); err != nil {
		h.writeRemoteError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// buildSubmit runs the local pipeline: normalize, advisory working-hours
// check, recurrence assembly. A non-empty msg means the request must be
// rejected with the given status before any network call.
func (h *ScheduleHandler) buildSubmit(r *http.Request, req bookingRequest) (booking.SubmitRequest, int, string) {
	seed, err := timeslot.ToUTCInterval(req.Date, req.Time, req.DurationMinutes, h.offsetMinutes)
	if err != nil {
		return booking.SubmitRequest{}, http.StatusBadRequest, err.Error()
	}
	if req.PatientID == "" || req.EmployeeID == "" {
		return booking.SubmitRequest{}, http.StatusBadRequest, "patient and employee are required"
	}

	rule, err := h.buildRule(req)
	if err != nil {
		return booking.SubmitRequest{}, http.StatusBadRequest, err.Error()
	}
	// Weekly without explicit weekdays means "same day as the seed",
	// evaluated in the clinic's local frame.
	local := seed.Start.Add(time.Duration(h.offsetMinutes) * time.Minute)
	rule = rule.WithSeedWeekday(local.Weekday())

	// Advisory slot check. A settings outage must not block booking; the
	// backend rechecks anyway.
	if week, werr := h.settings.WorkingHours(r.Context()); werr == nil {
		startMin, _ := timeslot.MinutesOfDay(req.Time)
		endMin := startMin + req.DurationMinutes
		if verr := workinghours.Validate(startMin, endMin, week.Day(local.Weekday())); verr != nil {
			return booking.SubmitRequest{}, http.StatusUnprocessableEntity, verr.Error()
		}
	} else {
		h.logger.Warn("working-hours check skipped", "error", werr)
	}

	return booking.SubmitRequest{
		Seed:       seed,
		Rule:       rule,
		PatientID:  req.PatientID,
		EmployeeID: req.EmployeeID,
		SellableID: req.SellableID,
	}, 0, ""
}

func (h *ScheduleHandler) buildRule(req bookingRequest) (recurrence.Rule, error) {
	switch req.Frequency {
	case "", "none":
		return recurrence.Rule{}, nil
	case "weekly":
	default:
		return recurrence.Rule{}, errors.New("unknown frequency")
	}

	rule := recurrence.Rule{Frequency: recurrence.FreqWeekly, Count: req.SessionCount}
	if req.Weekdays != nil {
		rule.ByWeekday = make([]time.Weekday, 0, len(req.Weekdays))
		for _, d := range req.Weekdays {
			rule.ByWeekday = append(rule.ByWeekday, time.Weekday(d))
		}
	}
	if req.UntilDate != "" {
		day, err := time.Parse("2006-01-02", req.UntilDate)
		if err != nil {
			return recurrence.Rule{}, errors.New("bad until_date")
		}
		// Inclusive to the end of the clinic-local day.
		until := day.AddDate(0, 0, 1).Add(-time.Second).
			Add(-time.Duration(h.offsetMinutes) * time.Minute).UTC()
		rule.Until = &until
	}
	return rule, nil
}

func (h *ScheduleHandler) localNow() time.Time {
	return h.now().UTC().Add(time.Duration(h.offsetMinutes) * time.Minute)
}

func (h *ScheduleHandler) writeRemoteError(w http.ResponseWriter, err error) {
	var (
		conflict *booking.ConflictError
		rejected *booking.ServerRejectedError
		network  *booking.NetworkError
	)
	switch {
	case errors.Is(err, booking.ErrAuthExpired):
		writeError(w, http.StatusUnauthorized, "session expired")
	case errors.Is(err, booking.ErrRequestInFlight):
		writeError(w, http.StatusTooManyRequests, "another request is in flight")
	case errors.Is(err, recurrence.ErrInvalidRecurrence):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.As(err, &conflict):
		writeError(w, http.StatusConflict, conflict.Detail)
	case errors.As(err, &rejected):
		writeError(w, http.StatusBadGateway, rejected.Detail)
	case errors.As(err, &network):
		writeError(w, http.StatusBadGateway, "backend unreachable")
	default:
		h.logger.Error("schedule operation failed", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func toBookingResponses(bookings []booking.Booking) []bookingResponse {
	out := make([]bookingResponse, 0, len(bookings))
	for _, b := range bookings {
		out = append(out, toBookingResponse(b))
	}
	return out
}

func toBookingResponse(b booking.Booking) bookingResponse {
	return bookingResponse{
		ID:       b.ID,
		SeriesID: b.SeriesID,
		Start:    b.Start.Format(time.RFC3339),
		End:      b.End.Format(time.RFC3339),
		Patient:  b.PatientID,
		Employee: b.EmployeeID,
		Sellable: b.SellableID,
		Status:   string(b.Status),
	}
}

func minutesToClock(m int) string {
	return time.Date(0, 1, 1, m/60, m%60, 0, 0, time.UTC).Format("15:04")
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, detail string) {
	writeJSON(w, status, map[string]string{"detail": detail})
}
