package booking

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/curohealth/clinic-scheduler/internal/recurrence"
	"github.com/curohealth/clinic-scheduler/pkg/logging"
)

const defaultTimeout = 15 * time.Second

// Client talks to the clinic backend's schedule API. All timestamps on the
// wire are UTC ISO-8601.
type Client struct {
	baseURL    string
	clinicID   string
	authToken  string
	httpClient *http.Client
	logger     *logging.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient injects a custom HTTP client; tests pass httptest clients
// here.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		c.httpClient = hc
	}
}

// NewClient creates a backend schedule API client.
func NewClient(baseURL, clinicID, authToken string, logger *logging.Logger, opts ...Option) *Client {
	if logger == nil {
		logger = logging.Default()
	}
	c := &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		clinicID:   clinicID,
		authToken:  authToken,
		httpClient: &http.Client{Timeout: defaultTimeout},
		logger:     logger,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// CreateRequest is the body for create and reschedule calls. Rule is the
// encoded recurrence string; the backend expands it into occurrences.
type CreateRequest struct {
	Start      time.Time
	End        time.Time
	PatientID  string
	EmployeeID string
	SellableID string
	Rule       string
}

// CancelResult is the outcome of a cancel call. SiblingIDs lists further
// occurrences the server cancelled under the requested scope.
type CancelResult struct {
	Booking    Booking
	SiblingIDs []string
}

type bookingWire struct {
	ID       string   `json:"id"`
	SeriesID string   `json:"series,omitempty"`
	Start    string   `json:"start"`
	End      string   `json:"end"`
	Patient  wireRef  `json:"patient"`
	Employee wireRef  `json:"employee"`
	Sellable *wireRef `json:"sellable,omitempty"`
	Rule     string   `json:"recurrence,omitempty"`
	Status   string   `json:"status"`
}

type wireRef struct {
	ID   string `json:"id"`
	Name string `json:"name,omitempty"`
}

type createBody struct {
	Start      string  `json:"start"`
	End        string  `json:"end"`
	Patient    string  `json:"patient"`
	Employee   string  `json:"employee"`
	Sellable   string  `json:"sellable"`
	Recurrence *string `json:"recurrence"`
}

type cancelBody struct {
	Scope    string  `json:"scope"`
	Actor    string  `json:"actor"`
	TillDate *string `json:"till_date"`
}

type cancelWire struct {
	bookingWire
	CancelledIDs []string `json:"cancelled_ids,omitempty"`
}

type errorBody struct {
	Detail string `json:"detail"`
}

func (c *Client) scheduleURL(parts ...string) string {
	url := fmt.Sprintf("%s/clinic/%s/schedule/booking/", c.baseURL, c.clinicID)
	if len(parts) > 0 {
		url += strings.Join(parts, "/") + "/"
	}
	return url
}

// ListBookings fetches the full booking collection.
func (c *Client) ListBookings(ctx context.Context) ([]Booking, error) {
	body, err := c.do(ctx, "list", http.MethodGet, c.scheduleURL(), nil, "")
	if err != nil {
		return nil, err
	}
	return decodeBookings("list", body)
}

// CreateBooking submits one booking seed plus encoded recurrence rule and
// returns the occurrences the backend materialized. The idempotency key is
// a client-generated token letting the backend deduplicate double-submits.
func (c *Client) CreateBooking(ctx context.Context, req CreateRequest, idempotencyKey string) ([]Booking, error) {
	body, err := c.do(ctx, "create", http.MethodPost, c.scheduleURL(), req.wire(), idempotencyKey)
	if err != nil {
		return nil, err
	}
	return decodeBookings("create", body)
}

// RescheduleBooking moves a booking (or series) to a new seed and rule.
func (c *Client) RescheduleBooking(ctx context.Context, bookingID string, req CreateRequest) ([]Booking, error) {
	body, err := c.do(ctx, "reschedule", http.MethodPatch, c.scheduleURL(bookingID, "reschedule"), req.wire(), "")
	if err != nil {
		return nil, err
	}
	return decodeBookings("reschedule", body)
}

// CancelBooking cancels under the given scope and actor. tillDate is only
// meaningful for ScopeUntilDate; scope semantics are server-defined.
func (c *Client) CancelBooking(ctx context.Context, bookingID string, scope CancelScope, actor Actor, tillDate *time.Time) (CancelResult, error) {
	payload := cancelBody{Scope: string(scope), Actor: string(actor)}
	if tillDate != nil {
		d := tillDate.UTC().Format("2006-01-02")
		payload.TillDate = &d
	}
	body, err := c.do(ctx, "cancel", http.MethodPatch, c.scheduleURL(bookingID, "cancel"), payload, "")
	if err != nil {
		return CancelResult{}, err
	}
	var wire cancelWire
	if err := json.Unmarshal(body, &wire); err != nil {
		return CancelResult{}, fmt.Errorf("booking: cancel: decode response: %w", err)
	}
	b, err := wire.bookingWire.toBooking()
	if err != nil {
		return CancelResult{}, err
	}
	return CancelResult{Booking: b, SiblingIDs: wire.CancelledIDs}, nil
}

// ConfirmBooking marks the visit completed.
func (c *Client) ConfirmBooking(ctx context.Context, bookingID string) (Booking, error) {
	body, err := c.do(ctx, "confirm", http.MethodPatch, c.scheduleURL(bookingID, "confirm"), struct{}{}, "")
	if err != nil {
		return Booking{}, err
	}
	var wire bookingWire
	if err := json.Unmarshal(body, &wire); err != nil {
		return Booking{}, fmt.Errorf("booking: confirm: decode response: %w", err)
	}
	return wire.toBooking()
}

// DeleteBooking removes a booking or its whole series.
func (c *Client) DeleteBooking(ctx context.Context, bookingID string, scope DeleteScope) error {
	url := c.scheduleURL(bookingID, "delete") + "?scope=" + string(scope)
	_, err := c.do(ctx, "delete", http.MethodDelete, url, nil, "")
	return err
}

// FetchSettings returns the raw working-hours settings payload.
func (c *Client) FetchSettings(ctx context.Context) ([]byte, error) {
	url := fmt.Sprintf("%s/clinic/%s/schedule/settings/", c.baseURL, c.clinicID)
	return c.do(ctx, "settings", http.MethodGet, url, nil, "")
}

func (req CreateRequest) wire() createBody {
	body := createBody{
		Start:    req.Start.UTC().Format(time.RFC3339),
		End:      req.End.UTC().Format(time.RFC3339),
		Patient:  req.PatientID,
		Employee: req.EmployeeID,
		Sellable: req.SellableID,
	}
	if req.Rule != "" {
		body.Recurrence = &req.Rule
	}
	return body
}

func (c *Client) do(ctx context.Context, op, method, url string, payload any, idempotencyKey string) ([]byte, error) {
	var reqBody io.Reader
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("booking: %s: encode request: %w", op, err)
		}
		reqBody = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, reqBody)
	if err != nil {
		return nil, fmt.Errorf("booking: %s: build request: %w", op, err)
	}
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.authToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.authToken)
	}
	if idempotencyKey != "" {
		req.Header.Set("Idempotency-Key", idempotencyKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &NetworkError{Op: op, Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &NetworkError{Op: op, Err: err}
	}

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return body, nil
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return nil, fmt.Errorf("%w (%s)", ErrAuthExpired, op)
	case resp.StatusCode == http.StatusConflict:
		return nil, &ConflictError{Detail: errorDetail(body)}
	default:
		c.logger.Warn("backend rejected schedule call",
			"op", op,
			"status", resp.StatusCode,
		)
		return nil, &ServerRejectedError{StatusCode: resp.StatusCode, Detail: errorDetail(body)}
	}
}

func errorDetail(body []byte) string {
	var eb errorBody
	if err := json.Unmarshal(body, &eb); err == nil && eb.Detail != "" {
		return eb.Detail
	}
	return strings.TrimSpace(string(body))
}

// decodeBookings accepts either a single booking object or an array; the
// backend returns an array for recurring creates and a bare object
// otherwise.
func decodeBookings(op string, body []byte) ([]Booking, error) {
	trimmed := bytes.TrimSpace(body)
	var wires []bookingWire
	if len(trimmed) > 0 && trimmed[0] == '[' {
		if err := json.Unmarshal(trimmed, &wires); err != nil {
			return nil, fmt.Errorf("booking: %s: decode response: %w", op, err)
		}
	} else {
		var single bookingWire
		if err := json.Unmarshal(trimmed, &single); err != nil {
			return nil, fmt.Errorf("booking: %s: decode response: %w", op, err)
		}
		wires = []bookingWire{single}
	}

	out := make([]Booking, 0, len(wires))
	for _, w := range wires {
		b, err := w.toBooking()
		if err != nil {
			return nil, fmt.Errorf("booking: %s: %w", op, err)
		}
		out = append(out, b)
	}
	return out, nil
}

func (w bookingWire) toBooking() (Booking, error) {
	start, err := time.Parse(time.RFC3339, w.Start)
	if err != nil {
		return Booking{}, fmt.Errorf("booking: bad start %q: %w", w.Start, err)
	}
	end, err := time.Parse(time.RFC3339, w.End)
	if err != nil {
		return Booking{}, fmt.Errorf("booking: bad end %q: %w", w.End, err)
	}
	rule, err := recurrence.Parse(w.Rule)
	if err != nil {
		return Booking{}, err
	}

	status := Status(w.Status)
	switch status {
	case StatusScheduled, StatusCompleted, StatusCancelled:
	default:
		return Booking{}, fmt.Errorf("booking: unknown status %q", w.Status)
	}

	b := Booking{
		ID:         w.ID,
		SeriesID:   w.SeriesID,
		Start:      start.UTC(),
		End:        end.UTC(),
		PatientID:  w.Patient.ID,
		EmployeeID: w.Employee.ID,
		Recurrence: rule,
		Status:     status,
	}
	if w.Sellable != nil {
		b.SellableID = w.Sellable.ID
	}
	return b, nil
}
