package workinghours

import (
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/curohealth/clinic-scheduler/internal/timeslot"
)

// settingsPayload mirrors GET /clinic/{id}/schedule/settings/.
type settingsPayload struct {
	WorkingHours map[string]daySegments `json:"working_hours"`
}

type daySegments struct {
	Morning   segment `json:"morning"`
	Afternoon segment `json:"afternoon"`
}

type segment struct {
	Start string `json:"start"` // "09:00"
	End   string `json:"end"`
}

// ParseSettings decodes the backend settings payload into a Week. Every
// weekday key "0".."6" (Sunday=0) must be present and internally ordered;
// a partial week fails fast rather than defaulting any day.
func ParseSettings(raw []byte) (Week, error) {
	var payload settingsPayload
	if err := json.Unmarshal(raw, &payload); err != nil {
		return Week{}, fmt.Errorf("workinghours: decode settings: %w", err)
	}

	var week Week
	for i := 0; i < 7; i++ {
		segs, ok := payload.WorkingHours[strconv.Itoa(i)]
		if !ok {
			return Week{}, fmt.Errorf("%w: weekday %d missing", ErrIncompleteWeek, i)
		}
		day, err := segs.toDayHours()
		if err != nil {
			return Week{}, fmt.Errorf("workinghours: weekday %d: %w", i, err)
		}
		week[i] = day
	}
	return week, nil
}

func (d daySegments) toDayHours() (DayHours, error) {
	var (
		day DayHours
		err error
	)
	if day.MorningStart, err = timeslot.MinutesOfDay(d.Morning.Start); err != nil {
		return DayHours{}, err
	}
	if day.MorningEnd, err = timeslot.MinutesOfDay(d.Morning.End); err != nil {
		return DayHours{}, err
	}
	if day.AfternoonStart, err = timeslot.MinutesOfDay(d.Afternoon.Start); err != nil {
		return DayHours{}, err
	}
	if day.AfternoonEnd, err = timeslot.MinutesOfDay(d.Afternoon.End); err != nil {
		return DayHours{}, err
	}
	if err := day.validate(); err != nil {
		return DayHours{}, err
	}
	return day, nil
}
