// Package recurrence expands weekly recurrence rules into bounded sequences
// of booking intervals and encodes them in the backend's RRULE wire format.
package recurrence

import (
	"errors"
	"fmt"
	"time"

	"github.com/curohealth/clinic-scheduler/internal/timeslot"
)

// ErrInvalidRecurrence is returned for rules that cannot be expanded or
// encoded: both terminators set, an empty weekday set on a weekly rule, or
// a malformed rule string.
var ErrInvalidRecurrence = errors.New("recurrence: invalid rule")

// Frequency is how often a series repeats.
type Frequency int

const (
	FreqNone Frequency = iota
	FreqWeekly
)

// Rule describes a recurrence request. For weekly rules exactly one of
// Until/Count may be set; when neither is set expansion is capped at one
// calendar month from the seed. A nil ByWeekday means "not supplied" and
// defaults to the seed's weekday during expansion.
type Rule struct {
	Frequency Frequency
	ByWeekday []time.Weekday
	Until     *time.Time
	Count     int
}

// IsZero reports whether r is a non-recurring rule.
func (r Rule) IsZero() bool {
	return r.Frequency == FreqNone
}

// WithSeedWeekday fills an unsupplied weekday set from the seed's weekday,
// the "weekly, same day" shorthand. A non-nil set, even empty, is left
// alone for Validate to judge.
func (r Rule) WithSeedWeekday(wd time.Weekday) Rule {
	if r.Frequency == FreqWeekly && r.ByWeekday == nil {
		r.ByWeekday = []time.Weekday{wd}
	}
	return r
}

// Validate checks the rule's internal consistency. Weekly rules must carry
// a non-empty weekday set; apply WithSeedWeekday first for the defaulting
// behavior.
func (r Rule) Validate() error {
	if r.Frequency == FreqNone {
		return nil
	}
	if r.Until != nil && r.Count > 0 {
		return fmt.Errorf("%w: until and count are mutually exclusive", ErrInvalidRecurrence)
	}
	if r.Count < 0 {
		return fmt.Errorf("%w: negative count", ErrInvalidRecurrence)
	}
	if len(r.ByWeekday) == 0 {
		return fmt.Errorf("%w: weekly rule without weekdays", ErrInvalidRecurrence)
	}
	for _, wd := range r.ByWeekday {
		if wd < time.Sunday || wd > time.Saturday {
			return fmt.Errorf("%w: weekday %d out of range", ErrInvalidRecurrence, wd)
		}
	}
	return nil
}

// normalized returns a copy with the weekday set deduplicated and sorted
// Monday-first, matching the calendar's week-start convention.
func (r Rule) normalized() Rule {
	if len(r.ByWeekday) == 0 {
		return r
	}
	var present [7]bool
	for _, wd := range r.ByWeekday {
		if wd >= time.Sunday && wd <= time.Saturday {
			present[wd] = true
		}
	}
	days := make([]time.Weekday, 0, len(r.ByWeekday))
	for i := 0; i < 7; i++ {
		wd := time.Weekday((i + 1) % 7) // Monday..Sunday
		if present[wd] {
			days = append(days, wd)
		}
	}
	r.ByWeekday = days
	return r
}

// Expand materializes the rule into concrete occurrence intervals starting
// from seed. Weekday membership and the Until boundary are evaluated in
// clinic-local time, i.e. seed shifted by offsetMinutes; the returned
// intervals remain UTC. Until is inclusive: an occurrence starting exactly
// at Until is produced.
func Expand(seed timeslot.Interval, r Rule, offsetMinutes int) ([]timeslot.Interval, error) {
	if r.Frequency == FreqNone {
		return []timeslot.Interval{seed}, nil
	}
	local := seed.Start.Add(time.Duration(offsetMinutes) * time.Minute)
	r = r.WithSeedWeekday(local.Weekday())
	if err := r.Validate(); err != nil {
		return nil, err
	}

	until := r.Until
	if until == nil && r.Count == 0 {
		// Bounded-default policy: one calendar month from the seed start.
		limit := seed.Start.AddDate(0, 1, 0)
		until = &limit
	}

	duration := seed.Duration()
	inSet := func(wd time.Weekday) bool {
		for _, d := range r.ByWeekday {
			if d == wd {
				return true
			}
		}
		return false
	}

	var out []timeslot.Interval
	for day := 0; ; day++ {
		start := seed.Start.AddDate(0, 0, day)
		if until != nil && start.After(*until) {
			break
		}
		local := start.Add(time.Duration(offsetMinutes) * time.Minute)
		if !inSet(local.Weekday()) {
			continue
		}
		out = append(out, timeslot.Interval{Start: start, End: start.Add(duration)})
		if r.Count > 0 && len(out) == r.Count {
			break
		}
	}
	return out, nil
}
