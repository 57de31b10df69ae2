// Package calendar converts the civil dates and wall-clock times used for
// planning into concrete days and UTC instants.
//
// Wall-clock resolution policy around daylight-saving transitions:
//   - an ambiguous local time (clocks fall back) resolves to the earliest instant,
//     i.e. it is read with the offset in effect before the transition;
//   - a nonexistent local time (clocks spring forward) is also read with the
//     offset in effect before the transition, which moves it forward by the
//     size of the gap (02:30 becomes 03:30 when an hour is skipped).
package calendar

import (
	"strconv"
	"strings"
	"time"
	_ "time/tzdata" // fallback when the host has no zoneinfo database

	"github.com/cyderes/content-planner/internal/apperr"
)

const (
	// DateLayout is the civil date format used across the API
	DateLayout = "2006-01-02"
	// ClockLayout is the local time-of-day format used across the API
	ClockLayout = "15:04"
)

// ParseDate parses a YYYY-MM-DD civil date. The result is midnight UTC and
// must only be used as a calendar day.
func ParseDate(value string) (time.Time, error) {
	d, err := time.Parse(DateLayout, strings.TrimSpace(value))
	if err != nil {
		return time.Time{}, apperr.Validationf("invalid date %q: expected YYYY-MM-DD", value)
	}
	return d, nil
}

// FormatDate renders a day produced by ParseDate or ExpandRange
func FormatDate(day time.Time) string {
	return day.Format(DateLayout)
}

// ExpandRange returns every calendar day from start to end inclusive
func ExpandRange(start, end string) ([]time.Time, error) {
	first, err := ParseDate(start)
	if err != nil {
		return nil, err
	}
	last, err := ParseDate(end)
	if err != nil {
		return nil, err
	}
	if first.After(last) {
		return nil, apperr.Validationf("start date %s is after end date %s", start, end)
	}

	days := make([]time.Time, 0, DaysBetween(first, last)+1)
	for d := first; !d.After(last); d = d.AddDate(0, 0, 1) {
		days = append(days, d)
	}
	return days, nil
}

// DaysBetween counts whole days from first to last
func DaysBetween(first, last time.Time) int {
	return int(last.Sub(first).Hours() / 24)
}

// ParseClock parses an HH:MM time of day
func ParseClock(value string) (hour, minute int, err error) {
	parts := strings.Split(strings.TrimSpace(value), ":")
	if len(parts) != 2 || len(parts[0]) == 0 || len(parts[1]) != 2 {
		return 0, 0, apperr.Validationf("invalid time %q: expected HH:MM", value)
	}
	hour, herr := strconv.Atoi(parts[0])
	minute, merr := strconv.Atoi(parts[1])
	if herr != nil || merr != nil || hour < 0 || hour > 23 || minute < 0 || minute > 59 {
		return 0, 0, apperr.Validationf("invalid time %q: expected HH:MM", value)
	}
	return hour, minute, nil
}

// LoadZone resolves an IANA zone name
func LoadZone(name string) (*time.Location, error) {
	if strings.TrimSpace(name) == "" {
		return nil, apperr.Validationf("timezone is required")
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		return nil, apperr.Validationf("unknown timezone %q", name)
	}
	return loc, nil
}

// ToUTC returns the instant at which the wall clock in zone shows date and clock
func ToUTC(date, clock, zone string) (time.Time, error) {
	loc, err := LoadZone(zone)
	if err != nil {
		return time.Time{}, err
	}
	day, err := ParseDate(date)
	if err != nil {
		return time.Time{}, err
	}
	hour, minute, err := ParseClock(clock)
	if err != nil {
		return time.Time{}, err
	}

	wall := time.Date(day.Year(), day.Month(), day.Day(), hour, minute, 0, 0, time.UTC)
	return resolveWall(wall, loc), nil
}

// resolveWall maps a wall clock (carried in a UTC time value) onto an instant in loc.
// A day either side of the wall clock is far enough to see both offsets of any
// single transition.
func resolveWall(wall time.Time, loc *time.Location) time.Time {
	_, before := wall.Add(-24 * time.Hour).In(loc).Zone()
	_, after := wall.Add(24 * time.Hour).In(loc).Zone()

	var resolved time.Time
	for _, offset := range []int{before, after} {
		candidate := wall.Add(-time.Duration(offset) * time.Second)
		if _, actual := candidate.In(loc).Zone(); actual != offset {
			continue
		}
		if resolved.IsZero() || candidate.Before(resolved) {
			resolved = candidate
		}
	}
	if resolved.IsZero() {
		// skipped wall clock
		resolved = wall.Add(-time.Duration(before) * time.Second)
	}
	return resolved.UTC()
}
