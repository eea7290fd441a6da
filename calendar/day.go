/*
Package calendar decides which local calendar day an instant belongs to.

PURPOSE:
  Every "today" question in the engine (has the user signed in, how many
  times was a task completed, is there a quiz wager) is answered by bucketing
  record timestamps into local calendar days. This package is the single
  place where that bucketing happens.

KEY CONCEPTS:
  - Day:    the half-open window [local midnight, next local midnight)
  - DayKey: the "2006-01-02" label of a Day, as persisted in lastSignInDate

RULES:
  1. One location per query. DayOf always truncates in the supplied location;
     callers never mix UTC and local truncation.
  2. Windows are built with time.Date, not by adding 24h, so days that are
     23 or 25 hours long (DST transitions) are bucketed correctly.
  3. Contains compares instants, so the location attached to the checked
     time.Time does not matter.

SEE ALSO:
  - ledger/ledger.go: DailyCount uses Day.Contains
  - quiz/quiz.go: today's wager lookup
*/
package calendar

import (
	"fmt"
	"time"
)

// KeyLayout is the persisted form of a DayKey.
const KeyLayout = "2006-01-02"

// =============================================================================
// DAY KEY
// =============================================================================

// DayKey labels a local calendar day, e.g. "2026-10-16".
type DayKey string

// ParseKey validates a persisted day label.
func ParseKey(s string) (DayKey, error) {
	if _, err := time.Parse(KeyLayout, s); err != nil {
		return "", fmt.Errorf("invalid day key %q: %w", s, err)
	}
	return DayKey(s), nil
}

// Day returns the window labelled by k in loc.
func (k DayKey) Day(loc *time.Location) (Day, error) {
	t, err := time.ParseInLocation(KeyLayout, string(k), locOrLocal(loc))
	if err != nil {
		return Day{}, fmt.Errorf("invalid day key %q: %w", k, err)
	}
	return DayOf(t, loc), nil
}

func (k DayKey) String() string { return string(k) }

// =============================================================================
// DAY WINDOW
// =============================================================================

// Day is the half-open interval [Start, End) of one local calendar day.
type Day struct {
	Start time.Time
	End   time.Time
}

// DayOf returns the local calendar day containing t.
func DayOf(t time.Time, loc *time.Location) Day {
	loc = locOrLocal(loc)
	lt := t.In(loc)
	start := time.Date(lt.Year(), lt.Month(), lt.Day(), 0, 0, 0, 0, loc)
	return Day{Start: start, End: start.AddDate(0, 0, 1)}
}

// Contains reports whether t falls inside the window.
func (d Day) Contains(t time.Time) bool {
	return !t.Before(d.Start) && t.Before(d.End)
}

// Key returns the persisted label of the day.
func (d Day) Key() DayKey { return DayKey(d.Start.Format(KeyLayout)) }

// Next returns the following calendar day.
func (d Day) Next() Day { return DayOf(d.End, d.Start.Location()) }

// Prev returns the preceding calendar day.
func (d Day) Prev() Day {
	loc := d.Start.Location()
	start := time.Date(d.Start.Year(), d.Start.Month(), d.Start.Day()-1, 0, 0, 0, 0, loc)
	return Day{Start: start, End: d.Start}
}

// Equal reports whether both windows start at the same instant.
func (d Day) Equal(other Day) bool { return d.Start.Equal(other.Start) }

// Length is 24h except on DST transition days.
func (d Day) Length() time.Duration { return d.End.Sub(d.Start) }

func (d Day) String() string { return string(d.Key()) }

// =============================================================================
// HELPERS
// =============================================================================

// KeyOf is shorthand for DayOf(t, loc).Key().
func KeyOf(t time.Time, loc *time.Location) DayKey { return DayOf(t, loc).Key() }

// SameDay reports whether a and b fall in the same local calendar day.
func SameDay(a, b time.Time, loc *time.Location) bool {
	return DayOf(a, loc).Equal(DayOf(b, loc))
}

// LoadLocation resolves a configured zone name; empty means time.Local.
func LoadLocation(name string) (*time.Location, error) {
	if name == "" || name == "Local" {
		return time.Local, nil
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		return nil, fmt.Errorf("load location %q: %w", name, err)
	}
	return loc, nil
}

func locOrLocal(loc *time.Location) *time.Location {
	if loc == nil {
		return time.Local
	}
	return loc
}
