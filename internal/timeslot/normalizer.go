// Package timeslot converts local wall-clock appointment input into
// canonical UTC intervals. The clinic operates in a single fixed UTC
// offset configured per deployment; the runtime's local timezone is
// never consulted.
package timeslot

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrInvalidTimeFormat is returned for clock strings that are not
	// HH:MM with HH in [00,23] and MM in [00,59].
	ErrInvalidTimeFormat = errors.New("timeslot: invalid time format, want HH:MM")
	// ErrInvalidDate is returned for strings that do not parse to a real
	// calendar date.
	ErrInvalidDate = errors.New("timeslot: invalid date, want YYYY-MM-DD")
	// ErrInvalidDuration is returned for non-positive durations.
	ErrInvalidDuration = errors.New("timeslot: duration must be positive")
)

const dateLayout = "2006-01-02"

// Interval is a half-open [Start, End) span of absolute UTC instants.
// End is always strictly after Start.
type Interval struct {
	Start time.Time
	End   time.Time
}

// Duration returns the interval length.
func (iv Interval) Duration() time.Duration {
	return iv.End.Sub(iv.Start)
}

// Overlaps reports whether iv intersects other, even partially.
func (iv Interval) Overlaps(other Interval) bool {
	return iv.Start.Before(other.End) && other.Start.Before(iv.End)
}

// ToUTCInterval converts a local date ("2006-01-02"), clock time ("15:04")
// and duration into a UTC interval by subtracting the clinic's fixed UTC
// offset in minutes (e.g. +330 for IST).
func ToUTCInterval(date, clock string, durationMinutes, offsetMinutes int) (Interval, error) {
	if durationMinutes <= 0 {
		return Interval{}, fmt.Errorf("%w: got %d minutes", ErrInvalidDuration, durationMinutes)
	}
	minutes, err := MinutesOfDay(clock)
	if err != nil {
		return Interval{}, err
	}
	day, err := time.Parse(dateLayout, date)
	if err != nil {
		return Interval{}, fmt.Errorf("%w: %q", ErrInvalidDate, date)
	}

	local := day.Add(time.Duration(minutes) * time.Minute)
	start := local.Add(-time.Duration(offsetMinutes) * time.Minute).UTC()
	return Interval{
		Start: start,
		End:   start.Add(time.Duration(durationMinutes) * time.Minute),
	}, nil
}

// MinutesOfDay parses an HH:MM clock string into minutes since midnight.
func MinutesOfDay(clock string) (int, error) {
	if len(clock) != 5 || clock[2] != ':' {
		return 0, fmt.Errorf("%w: %q", ErrInvalidTimeFormat, clock)
	}
	hh, ok1 := twoDigits(clock[0], clock[1])
	mm, ok2 := twoDigits(clock[3], clock[4])
	if !ok1 || !ok2 || hh > 23 || mm > 59 {
		return 0, fmt.Errorf("%w: %q", ErrInvalidTimeFormat, clock)
	}
	return hh*60 + mm, nil
}

func twoDigits(a, b byte) (int, bool) {
	if a < '0' || a > '9' || b < '0' || b > '9' {
		return 0, false
	}
	return int(a-'0')*10 + int(b-'0'), true
}
