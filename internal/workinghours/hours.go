// Package workinghours validates candidate appointment slots against the
// clinic's per-weekday open hours and break windows. The check is advisory:
// it blocks obviously bad slots before submission, but the backend remains
// the authority on acceptance.
package workinghours

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrWithinBreak is returned when any part of the candidate slot falls
	// inside the midday break window.
	ErrWithinBreak = errors.New("workinghours: slot overlaps the break window")
	// ErrOutsideWorkingHours is returned when the slot starts before opening
	// or ends after closing.
	ErrOutsideWorkingHours = errors.New("workinghours: slot outside working hours")
	// ErrIncompleteWeek is returned at config load when any weekday is
	// missing; there is no silent fallback to another day's schedule.
	ErrIncompleteWeek = errors.New("workinghours: settings must cover all seven weekdays")
	// ErrInvalidDayHours is returned when a day's segment boundaries are not
	// monotonically ordered.
	ErrInvalidDayHours = errors.New("workinghours: day segments out of order")
)

// DayHours holds one weekday's schedule as minutes since local midnight.
// The break window is [MorningEnd, AfternoonStart).
type DayHours struct {
	MorningStart   int
	MorningEnd     int
	AfternoonStart int
	AfternoonEnd   int
}

func (d DayHours) validate() error {
	if d.MorningStart < 0 || d.AfternoonEnd > 24*60 {
		return fmt.Errorf("%w: bounds %d..%d", ErrInvalidDayHours, d.MorningStart, d.AfternoonEnd)
	}
	if d.MorningStart > d.MorningEnd || d.MorningEnd > d.AfternoonStart || d.AfternoonStart > d.AfternoonEnd {
		return fmt.Errorf("%w: %d <= %d <= %d <= %d violated",
			ErrInvalidDayHours, d.MorningStart, d.MorningEnd, d.AfternoonStart, d.AfternoonEnd)
	}
	return nil
}

// Week holds the full clinic schedule, indexed by time.Weekday (Sunday=0).
type Week [7]DayHours

// Day returns the schedule for the given weekday.
func (w Week) Day(wd time.Weekday) DayHours {
	return w[wd]
}

// Validate checks a candidate slot, given as minutes since local midnight,
// against one day's schedule. The break check runs first: a slot touching
// the break window is rejected as ErrWithinBreak even when it also spills
// past closing.
func Validate(startMin, endMin int, day DayHours) error {
	if startMin < day.AfternoonStart && endMin > day.MorningEnd {
		if day.MorningEnd < day.AfternoonStart {
			return fmt.Errorf("%w: break is %s-%s", ErrWithinBreak,
				formatMinutes(day.MorningEnd), formatMinutes(day.AfternoonStart))
		}
	}
	if startMin < day.MorningStart || endMin > day.AfternoonEnd {
		return fmt.Errorf("%w: open %s-%s", ErrOutsideWorkingHours,
			formatMinutes(day.MorningStart), formatMinutes(day.AfternoonEnd))
	}
	return nil
}

func formatMinutes(m int) string {
	return fmt.Sprintf("%02d:%02d", m/60, m%60)
}
