package schedule

import (
	"sort"
	"strings"
	"time"
)

// NextOccurrence returns the next watering slot at or after now.
//
// A slot is the start of hour on one of days, in now's location. A day earlier
// in the week than today is always next week's. Today's slot counts as already
// passed once now's hour is at or past hour, so a call made during or right
// after a watering session never returns that same session.
//
// days must be non-empty and hour within [0,23]; otherwise the zero Time is
// returned.
func NextOccurrence(now time.Time, days []Weekday, hour int) time.Time {
	if hour < 0 || hour > 23 {
		return time.Time{}
	}

	today := WeekdayOf(now)
	best := -1
	for _, d := range days {
		if !d.Valid() {
			continue
		}
		delta := (int(d) - int(today) + 7) % 7
		if delta == 0 && now.Hour() >= hour {
			delta = 7
		}
		if best < 0 || delta < best {
			best = delta
		}
	}
	if best < 0 {
		return time.Time{}
	}

	// time.Date normalises day overflow across month and year boundaries and
	// keeps wall-clock hour across DST changes.
	return time.Date(now.Year(), now.Month(), now.Day()+best, hour, 0, 0, 0, now.Location())
}

// Upcoming returns the next n slots starting at now.
func Upcoming(now time.Time, days []Weekday, hour, n int) []time.Time {
	var out []time.Time
	t := now
	for i := 0; i < n; i++ {
		next := NextOccurrence(t, days, hour)
		if next.IsZero() {
			break
		}
		out = append(out, next)
		// Step into the slot's hour so the same slot is rolled over.
		t = next
	}
	return out
}

// Normalize returns days sorted Monday first with duplicates removed.
func Normalize(days []Weekday) []Weekday {
	var seen [7]bool
	out := make([]Weekday, 0, len(days))
	for _, d := range days {
		if !d.Valid() || seen[d] {
			continue
		}
		seen[d] = true
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// FormatDays renders days as a comma-separated list of names.
func FormatDays(days []Weekday) string {
	names := make([]string, len(days))
	for i, d := range days {
		names[i] = d.String()
	}
	return strings.Join(names, ",")
}
