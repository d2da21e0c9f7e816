// Package settings holds the watering configuration and its remote loader.
package settings

import (
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"
	"unicode"

	"github.com/spf13/cast"
	"github.com/spf13/viper"

	"github.com/kernelmethod/rpi-watering/internal/schedule"
)

// Keys of the settings document.
const (
	KeyWateringTime = "watering_time"
	KeyWateringHour = "watering_hour"
	KeyWateringDays = "watering_days"
)

// Built-in fallback values.
const (
	DefaultDuration = 8 * time.Second
	DefaultHour     = 12
)

// MaxDuration bounds a single watering session.
const MaxDuration = 24 * time.Hour

// DefaultDays are watered when no valid settings are available.
var DefaultDays = []schedule.Weekday{schedule.Tuesday, schedule.Saturday}

// Config is one complete watering configuration. It is always replaced as a
// whole; a partially valid document never leaks into a Config.
type Config struct {
	Duration time.Duration
	Hour     int
	Days     []schedule.Weekday
}

// Default returns the built-in configuration.
func Default() Config {
	days := make([]schedule.Weekday, len(DefaultDays))
	copy(days, DefaultDays)
	return Config{
		Duration: DefaultDuration,
		Hour:     DefaultHour,
		Days:     days,
	}
}

// Validate checks the invariants of a Config.
func (c Config) Validate() error {
	if c.Duration <= 0 {
		return fmt.Errorf("%s must be positive, got %v", KeyWateringTime, c.Duration)
	}
	if c.Duration > MaxDuration {
		return fmt.Errorf("%s must be at most %v, got %v", KeyWateringTime, MaxDuration, c.Duration)
	}
	if c.Hour < 0 || c.Hour > 23 {
		return fmt.Errorf("%s must be within 0-23, got %d", KeyWateringHour, c.Hour)
	}
	if len(c.Days) == 0 {
		return fmt.Errorf("%s must name at least one day", KeyWateringDays)
	}
	for _, d := range c.Days {
		if !d.Valid() {
			return fmt.Errorf("%s: invalid day %v", KeyWateringDays, d)
		}
	}
	return nil
}

// Next returns the next watering slot after now.
func (c Config) Next(now time.Time) time.Time {
	return schedule.NextOccurrence(now, c.Days, c.Hour)
}

func (c Config) String() string {
	return fmt.Sprintf("%v at %02d:00 on %s", c.Duration, c.Hour, schedule.FormatDays(c.Days))
}

// Parse decodes and validates a JSON settings document:
//
//	{"watering_time": "8", "watering_hour": "12", "watering_days": "Tuesday, Saturday"}
//
// Numbers may be given as JSON numbers or decimal strings. Day names are
// case-insensitive and whitespace is ignored. Any missing or malformed key
// fails the whole document.
func Parse(r io.Reader) (Config, error) {
	v := viper.New()
	v.SetConfigType("json")
	if err := v.ReadConfig(r); err != nil {
		return Config{}, fmt.Errorf("decode settings: %w", err)
	}

	for _, k := range []string{KeyWateringTime, KeyWateringHour, KeyWateringDays} {
		if !v.IsSet(k) {
			return Config{}, fmt.Errorf("settings: missing key %q", k)
		}
	}

	secs, err := toInt(v.Get(KeyWateringTime))
	if err != nil {
		return Config{}, fmt.Errorf("settings: %s: %w", KeyWateringTime, err)
	}
	// Checked before the multiplication below, which would overflow.
	if secs > int(MaxDuration/time.Second) {
		return Config{}, fmt.Errorf("settings: %s must be at most %d seconds, got %d", KeyWateringTime, int(MaxDuration/time.Second), secs)
	}
	hour, err := toInt(v.Get(KeyWateringHour))
	if err != nil {
		return Config{}, fmt.Errorf("settings: %s: %w", KeyWateringHour, err)
	}
	rawDays, err := cast.ToStringE(v.Get(KeyWateringDays))
	if err != nil {
		return Config{}, fmt.Errorf("settings: %s: %w", KeyWateringDays, err)
	}
	days, err := ParseDays(rawDays)
	if err != nil {
		return Config{}, fmt.Errorf("settings: %s: %w", KeyWateringDays, err)
	}

	cfg := Config{
		Duration: time.Duration(secs) * time.Second,
		Hour:     hour,
		Days:     days,
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("settings: %w", err)
	}
	return cfg, nil
}

// ParseDays parses a comma-separated list of weekday names.
func ParseDays(s string) ([]schedule.Weekday, error) {
	s = strings.Map(func(r rune) rune {
		if unicode.IsSpace(r) {
			return -1
		}
		return r
	}, s)

	var days []schedule.Weekday
	for _, name := range strings.Split(s, ",") {
		d, err := schedule.ParseWeekday(name)
		if err != nil {
			return nil, err
		}
		days = append(days, d)
	}
	return schedule.Normalize(days), nil
}

// toInt accepts JSON numbers and base-10 strings. Booleans and null are
// rejected rather than coerced to 0/1.
func toInt(v any) (int, error) {
	switch x := v.(type) {
	case nil:
		return 0, errors.New("value is null")
	case bool:
		return 0, fmt.Errorf("not an integer: %v", x)
	case string:
		n, err := strconv.Atoi(strings.TrimSpace(x))
		if err != nil {
			return 0, fmt.Errorf("not an integer: %q", x)
		}
		return n, nil
	default:
		return cast.ToIntE(x)
	}
}
