package automation

import (
	"fmt"
	"time"

	"outreach/models"
)

// WorkingWindow answers whether a step may run at a given instant
type WorkingWindow struct {
	start    int // minutes since midnight, inclusive
	end      int // minutes since midnight, exclusive
	days     map[time.Weekday]bool
	location *time.Location
}

// NewWorkingWindow builds the window described by settings.
// fallback is used when settings carry no timezone.
func NewWorkingWindow(settings models.SequenceSettings, fallback *time.Location) (*WorkingWindow, error) {
	start, err := models.ParseClock(settings.WorkingHours.Start)
	if err != nil {
		return nil, configError("working_hours.start", err)
	}
	end, err := models.ParseClock(settings.WorkingHours.End)
	if err != nil {
		return nil, configError("working_hours.end", err)
	}
	if start >= end {
		return nil, configError("working_hours", fmt.Errorf("%w (%s-%s)",
			ErrInvalidWorkingHours, settings.WorkingHours.Start, settings.WorkingHours.End))
	}

	if len(settings.WorkingDays) == 0 {
		return nil, configError("working_days", ErrNoWorkingDays)
	}
	days := make(map[time.Weekday]bool, len(settings.WorkingDays))
	for _, name := range settings.WorkingDays {
		day, err := models.ParseWeekday(name)
		if err != nil {
			return nil, configError("working_days", err)
		}
		days[day] = true
	}

	location := fallback
	if location == nil {
		location = time.UTC
	}
	if settings.Timezone != "" {
		loc, err := time.LoadLocation(settings.Timezone)
		if err != nil {
			return nil, configError("timezone", err)
		}
		location = loc
	}

	return &WorkingWindow{start: start, end: end, days: days, location: location}, nil
}

// Location is the timezone the window is evaluated in
func (w *WorkingWindow) Location() *time.Location {
	return w.location
}

// Contains reports whether t falls on a working day inside working hours
func (w *WorkingWindow) Contains(t time.Time) bool {
	local := t.In(w.location)
	if !w.days[local.Weekday()] {
		return false
	}
	minute := local.Hour()*60 + local.Minute()
	return minute >= w.start && minute < w.end
}

// Next returns t itself when it is inside the window, otherwise the
// earliest working-hours start that is after t.
func (w *WorkingWindow) Next(t time.Time) time.Time {
	if w.Contains(t) {
		return t
	}
	local := t.In(w.location)
	for offset := 0; offset <= 7; offset++ {
		candidate := time.Date(local.Year(), local.Month(), local.Day()+offset,
			w.start/60, w.start%60, 0, 0, w.location)
		if !w.days[candidate.Weekday()] {
			continue
		}
		if candidate.After(local) {
			return candidate
		}
	}
	// unreachable with at least one working day
	return t
}
