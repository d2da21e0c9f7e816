// Package schedule contains pure business logic for the weekly watering schedule.
// This package has NO external dependencies (no GPIO, MQTT, OS, or time.Sleep).
// Time is always injectable via time.Time parameters.
package schedule

import (
	"fmt"
	"strings"
	"time"
)

// Weekday identifies a day of the week. Monday is 0 and Sunday is 6,
// which differs from time.Weekday (Sunday is 0 there).
type Weekday int

const (
	Monday Weekday = iota
	Tuesday
	Wednesday
	Thursday
	Friday
	Saturday
	Sunday
)

var weekdayNames = [...]string{
	"Monday", "Tuesday", "Wednesday", "Thursday", "Friday", "Saturday", "Sunday",
}

// String returns the English name of the day.
func (d Weekday) String() string {
	if d < Monday || d > Sunday {
		return fmt.Sprintf("Weekday(%d)", int(d))
	}
	return weekdayNames[d]
}

// Valid reports whether d is one of the seven days.
func (d Weekday) Valid() bool {
	return d >= Monday && d <= Sunday
}

// WeekdayOf returns the Monday-based weekday of t.
func WeekdayOf(t time.Time) Weekday {
	return Weekday((int(t.Weekday()) + 6) % 7)
}

// ParseWeekday maps a case-insensitive English day name to a Weekday.
// Surrounding whitespace is ignored.
func ParseWeekday(name string) (Weekday, error) {
	n := strings.ToLower(strings.TrimSpace(name))
	for i, w := range weekdayNames {
		if strings.ToLower(w) == n {
			return Weekday(i), nil
		}
	}
	return 0, fmt.Errorf("unknown weekday %q", name)
}

// State represents the relay state.
type State string

const (
	StateOn  State = "ON"
	StateOff State = "OFF"
)

// EventType represents a scheduler event.
type EventType string

const (
	EventNextSession EventType = "NEXT_SESSION"
	EventWateringOn  EventType = "WATERING_ON"
	EventWateringOff EventType = "WATERING_OFF"
)

// Event represents a scheduler event to be published.
type Event struct {
	Timestamp time.Time
	Type      EventType
	Relay     State
	// Session identifies one watering occurrence; empty for NEXT_SESSION.
	Session string
	// NextSession is the upcoming occurrence (NEXT_SESSION only).
	NextSession time.Time
	// Duration is the configured watering duration, or the actual one for WATERING_OFF.
	Duration time.Duration
}
