package recurrence

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

const (
	rulePrefix  = "RRULE:"
	untilLayout = "20060102T150405Z"
)

var weekdayCodes = [7]string{"SU", "MO", "TU", "WE", "TH", "FR", "SA"}

// Encode renders the rule in the backend's RRULE wire format, e.g.
// "RRULE:FREQ=WEEKLY;BYDAY=MO,WE;COUNT=3". Non-recurring rules encode to
// the empty string. Encode is the exact inverse of Parse.
func Encode(r Rule) (string, error) {
	if r.Frequency == FreqNone {
		return "", nil
	}
	if err := r.Validate(); err != nil {
		return "", err
	}
	r = r.normalized()

	codes := make([]string, len(r.ByWeekday))
	for i, wd := range r.ByWeekday {
		codes[i] = weekdayCodes[wd]
	}

	var b strings.Builder
	b.WriteString(rulePrefix)
	b.WriteString("FREQ=WEEKLY;BYDAY=")
	b.WriteString(strings.Join(codes, ","))
	switch {
	case r.Until != nil:
		b.WriteString(";UNTIL=")
		b.WriteString(r.Until.UTC().Format(untilLayout))
	case r.Count > 0:
		b.WriteString(";COUNT=")
		b.WriteString(strconv.Itoa(r.Count))
	}
	return b.String(), nil
}

// Parse decodes a rule string produced by Encode. The empty string decodes
// to a non-recurring rule.
func Parse(s string) (Rule, error) {
	if s == "" {
		return Rule{Frequency: FreqNone}, nil
	}
	if !strings.HasPrefix(s, rulePrefix) {
		return Rule{}, fmt.Errorf("%w: missing %q prefix in %q", ErrInvalidRecurrence, rulePrefix, s)
	}

	r := Rule{Frequency: FreqNone}
	for _, part := range strings.Split(strings.TrimPrefix(s, rulePrefix), ";") {
		key, value, found := strings.Cut(part, "=")
		if !found || value == "" {
			return Rule{}, fmt.Errorf("%w: malformed component %q", ErrInvalidRecurrence, part)
		}
		switch key {
		case "FREQ":
			if value != "WEEKLY" {
				return Rule{}, fmt.Errorf("%w: unsupported frequency %q", ErrInvalidRecurrence, value)
			}
			r.Frequency = FreqWeekly
		case "BYDAY":
			for _, code := range strings.Split(value, ",") {
				wd, err := parseWeekday(code)
				if err != nil {
					return Rule{}, err
				}
				r.ByWeekday = append(r.ByWeekday, wd)
			}
		case "UNTIL":
			t, err := time.Parse(untilLayout, value)
			if err != nil {
				return Rule{}, fmt.Errorf("%w: bad UNTIL %q", ErrInvalidRecurrence, value)
			}
			u := t.UTC()
			r.Until = &u
		case "COUNT":
			n, err := strconv.Atoi(value)
			if err != nil || n <= 0 {
				return Rule{}, fmt.Errorf("%w: bad COUNT %q", ErrInvalidRecurrence, value)
			}
			r.Count = n
		default:
			return Rule{}, fmt.Errorf("%w: unknown component %q", ErrInvalidRecurrence, key)
		}
	}
	if r.Frequency == FreqNone {
		return Rule{}, fmt.Errorf("%w: missing FREQ in %q", ErrInvalidRecurrence, s)
	}
	if err := r.Validate(); err != nil {
		return Rule{}, err
	}
	return r.normalized(), nil
}

func parseWeekday(code string) (time.Weekday, error) {
	for i, c := range weekdayCodes {
		if c == code {
			return time.Weekday(i), nil
		}
	}
	return 0, fmt.Errorf("%w: unknown weekday code %q", ErrInvalidRecurrence, code)
}
