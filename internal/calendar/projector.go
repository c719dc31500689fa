// Package calendar derives display-ready views from the booking
// collection: filtering, visible time windows per day/week/month, and
// anchor navigation. It never mutates bookings.
package calendar

import (
	"time"

	"github.com/curohealth/clinic-scheduler/internal/booking"
	"github.com/curohealth/clinic-scheduler/internal/timeslot"
	"github.com/curohealth/clinic-scheduler/internal/workinghours"
)

// Granularity is the active calendar view.
type Granularity string

const (
	ViewDay   Granularity = "day"
	ViewWeek  Granularity = "week"
	ViewMonth Granularity = "month"
)

// Direction is a navigation step.
type Direction string

const (
	Prev  Direction = "prev"
	Next  Direction = "next"
	Today Direction = "today"
)

// DefaultWeekStart is the declared week-start convention for week views.
const DefaultWeekStart = time.Monday

// FilterState selects which bookings are visible. Empty IDs mean no
// filter; cancelled bookings are hidden unless ShowCancelled.
type FilterState struct {
	EmployeeID    string
	PatientID     string
	ShowCancelled bool
}

// Projection is a derived view: the visible events, the window they were
// projected into, and the anchor weekday's working hours so the slot guard
// tracks navigation across day boundaries.
type Projection struct {
	Events    []booking.Booking
	Window    timeslot.Interval
	ActiveDay workinghours.DayHours
}

// WindowFor computes the visible [start, end) window for an anchor date
// and granularity. Anchors are interpreted in the clinic's local frame;
// pass the anchor already shifted if it came from UTC.
func WindowFor(anchor time.Time, granularity Granularity, weekStart time.Weekday) timeslot.Interval {
	day := startOfDay(anchor)
	switch granularity {
	case ViewWeek:
		shift := (int(day.Weekday()) - int(weekStart) + 7) % 7
		start := day.AddDate(0, 0, -shift)
		return timeslot.Interval{Start: start, End: start.AddDate(0, 0, 7)}
	case ViewMonth:
		start := time.Date(day.Year(), day.Month(), 1, 0, 0, 0, 0, day.Location())
		return timeslot.Interval{Start: start, End: start.AddDate(0, 1, 0)}
	default:
		return timeslot.Interval{Start: day, End: day.AddDate(0, 0, 1)}
	}
}

// Navigate shifts the anchor by one unit of the granularity, or resets it
// to now for Today.
func Navigate(direction Direction, anchor time.Time, granularity Granularity, now time.Time) time.Time {
	if direction == Today {
		return startOfDay(now)
	}
	step := 1
	if direction == Prev {
		step = -1
	}
	switch granularity {
	case ViewWeek:
		return anchor.AddDate(0, 0, 7*step)
	case ViewMonth:
		// AddDate normalizes overflow (Jan 31 + 1 month = Mar 2), which
		// would skip or repeat a month. Step from the first of the month
		// and clamp the day to the target month's length instead.
		first := time.Date(anchor.Year(), anchor.Month(), 1,
			anchor.Hour(), anchor.Minute(), anchor.Second(), anchor.Nanosecond(),
			anchor.Location()).AddDate(0, step, 0)
		day := anchor.Day()
		if last := time.Date(first.Year(), first.Month()+1, 0, 0, 0, 0, 0, anchor.Location()).Day(); day > last {
			day = last
		}
		return first.AddDate(0, 0, day-1)
	default:
		return anchor.AddDate(0, 0, step)
	}
}

// Project filters the collection down to events intersecting the window.
// Partial overlap at the window edges keeps an event visible. The anchor
// weekday's working hours ride along for the guard.
func Project(events []booking.Booking, filters FilterState, window timeslot.Interval, week workinghours.Week, anchorWeekday time.Weekday) Projection {
	visible := make([]booking.Booking, 0, len(events))
	for _, b := range events {
		if filters.EmployeeID != "" && b.EmployeeID != filters.EmployeeID {
			continue
		}
		if filters.PatientID != "" && b.PatientID != filters.PatientID {
			continue
		}
		if b.Status == booking.StatusCancelled && !filters.ShowCancelled {
			continue
		}
		if !window.Overlaps(timeslot.Interval{Start: b.Start, End: b.End}) {
			continue
		}
		visible = append(visible, b)
	}
	return Projection{
		Events:    visible,
		Window:    window,
		ActiveDay: week.Day(anchorWeekday),
	}
}

func startOfDay(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
}
