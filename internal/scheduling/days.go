// Package scheduling answers calendar-day questions about appointments:
// same-day collisions and per-day booking ordinals.
package scheduling

import (
	"fmt"
	"sync"
	"time"
)

// DateLayout is the wire format of appointment dates.
const DateLayout = "2006-01-02"

// Location returns the *time.Location for a tenant timezone string, falling
// back to fallback and then UTC.
func Location(timezone string, fallback *time.Location) *time.Location {
	if timezone != "" {
		if loc, err := time.LoadLocation(timezone); err == nil {
			return loc
		}
	}
	if fallback != nil {
		return fallback
	}
	return time.UTC
}

// Zones resolves tenant timezone names, loading each from tzdata once.
type Zones struct {
	fallback *time.Location
	loaded   sync.Map // name -> *time.Location
}

// NewZones returns a cache that answers unknown or empty names with fallback
// (UTC when nil).
func NewZones(fallback *time.Location) *Zones {
	if fallback == nil {
		fallback = time.UTC
	}
	return &Zones{fallback: fallback}
}

// Lookup returns the location for name. Unknown names are cached as the
// fallback so they are not retried on every call.
func (z *Zones) Lookup(name string) *time.Location {
	if name == "" {
		return z.fallback
	}
	if loc, ok := z.loaded.Load(name); ok {
		return loc.(*time.Location)
	}
	loc := Location(name, z.fallback)
	actual, _ := z.loaded.LoadOrStore(name, loc)
	return actual.(*time.Location)
}

// DayOf returns the calendar day of t as observed in loc, encoded as midnight
// UTC (the representation Postgres DATE columns scan into).
func DayOf(t time.Time, loc *time.Location) time.Time {
	local := t.In(loc)
	return time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, time.UTC)
}

// Today is DayOf(now, loc).
func Today(now time.Time, loc *time.Location) time.Time {
	return DayOf(now, loc)
}

// ParseDay reads a "2006-01-02" calendar day. Timestamps are rejected: the
// day they denote depends on the clinic's zone, which the caller does not
// know.
func ParseDay(raw string) (time.Time, error) {
	d, err := time.Parse(DateLayout, raw)
	if err != nil {
		return time.Time{}, fmt.Errorf("scheduling: date %q is not in %s format", raw, DateLayout)
	}
	return d, nil
}

// SameDay reports whether two day values denote the same calendar day.
func SameDay(a, b time.Time) bool {
	return dayKey(a) == dayKey(b)
}

// IsFuture reports whether day falls on a later calendar day than today.
func IsFuture(day, today time.Time) bool {
	return dayKey(day) > dayKey(today)
}

// IsPast reports whether day falls on an earlier calendar day than today.
func IsPast(day, today time.Time) bool {
	return dayKey(day) < dayKey(today)
}

// dayKey compares calendar days by their wall-clock date, ignoring the
// location each value carries.
func dayKey(t time.Time) int {
	y, m, d := t.Date()
	return y*10000 + int(m)*100 + d
}
