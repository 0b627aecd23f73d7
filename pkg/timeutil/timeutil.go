// Package timeutil provides the reference clock shared by the whole engine.
// Every "today" and "this week" decision goes through a Reference so that
// two requests arriving near midnight agree on which calendar day an action
// belongs to, regardless of the caller's local clock.
package timeutil

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"
)

// Clock abstracts the wall clock.
type Clock interface {
	Now() time.Time
}

// SystemClock reads time.Now.
type SystemClock struct{}

// Now returns the current wall-clock time.
func (SystemClock) Now() time.Time { return time.Now() }

// FixedClock is a settable clock for tests and replays.
type FixedClock struct {
	mu sync.Mutex
	t  time.Time
}

// NewFixedClock creates a clock frozen at t.
func NewFixedClock(t time.Time) *FixedClock {
	return &FixedClock{t: t}
}

// Now returns the frozen time.
func (c *FixedClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

// Set moves the clock to t.
func (c *FixedClock) Set(t time.Time) {
	c.mu.Lock()
	c.t = t
	c.mu.Unlock()
}

// Advance moves the clock forward by d.
func (c *FixedClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

// Reference combines a clock with the configured reference zone.
type Reference struct {
	clock Clock
	loc   *time.Location
}

// NewReference creates a Reference. A nil clock means the system clock,
// a nil location means UTC.
func NewReference(clock Clock, loc *time.Location) *Reference {
	if clock == nil {
		clock = SystemClock{}
	}
	if loc == nil {
		loc = time.UTC
	}
	return &Reference{clock: clock, loc: loc}
}

var offsetPattern = regexp.MustCompile(`^(?:UTC|GMT)?([+-])(\d{1,2})(?::?(\d{2}))?$`)

// ParseLocation accepts an IANA zone name ("Asia/Almaty") or a fixed
// offset ("UTC+05:00", "+0530", "-03").
func ParseLocation(name string) (*time.Location, error) {
	name = strings.TrimSpace(name)
	if name == "" || strings.EqualFold(name, "UTC") || strings.EqualFold(name, "GMT") {
		return time.UTC, nil
	}

	if m := offsetPattern.FindStringSubmatch(strings.ToUpper(name)); m != nil {
		hours, _ := strconv.Atoi(m[2])
		mins := 0
		if m[3] != "" {
			mins, _ = strconv.Atoi(m[3])
		}
		if hours > 14 || mins > 59 {
			return nil, fmt.Errorf("timeutil: offset out of range: %q", name)
		}
		secs := hours*3600 + mins*60
		if m[1] == "-" {
			secs = -secs
		}
		return time.FixedZone(name, secs), nil
	}

	loc, err := time.LoadLocation(name)
	if err != nil {
		return nil, fmt.Errorf("timeutil: unknown zone %q: %w", name, err)
	}
	return loc, nil
}

// Location returns the reference zone.
func (r *Reference) Location() *time.Location { return r.loc }

// Now returns the current time in the reference zone.
func (r *Reference) Now() time.Time {
	return r.clock.Now().In(r.loc)
}

// Today returns the start of the current reference day.
func (r *Reference) Today() time.Time {
	return r.StartOfDay(r.clock.Now())
}

// StartOfDay returns 00:00:00 of t's day in the reference zone.
func (r *Reference) StartOfDay(t time.Time) time.Time {
	lt := t.In(r.loc)
	return time.Date(lt.Year(), lt.Month(), lt.Day(), 0, 0, 0, 0, r.loc)
}

// StartOfWeek returns Monday 00:00:00 of t's ISO week in the reference zone.
func (r *Reference) StartOfWeek(t time.Time) time.Time {
	lt := t.In(r.loc)
	weekday := int(lt.Weekday())
	if weekday == 0 {
		weekday = 7 // Sunday
	}
	return r.StartOfDay(lt.AddDate(0, 0, -(weekday - 1)))
}

// AddDays returns the start of the day n calendar days after t's day.
func (r *Reference) AddDays(t time.Time, n int) time.Time {
	return r.StartOfDay(t).AddDate(0, 0, n)
}

// DaysBetween returns the number of calendar days from a to b in the
// reference zone. It is negative when b is before a and ignores DST shifts.
func (r *Reference) DaysBetween(a, b time.Time) int {
	return DaysBetweenIn(r.loc, a, b)
}

// DaysBetweenIn is DaysBetween for an explicit zone.
func DaysBetweenIn(loc *time.Location, a, b time.Time) int {
	return dayNumber(b.In(loc)) - dayNumber(a.In(loc))
}

// IsSameDay checks if two times fall on the same reference day.
func (r *Reference) IsSameDay(a, b time.Time) bool {
	return r.DaysBetween(a, b) == 0
}

// FormatDate formats t as YYYY-MM-DD in the reference zone.
func (r *Reference) FormatDate(t time.Time) string {
	return t.In(r.loc).Format(FormatDate)
}

// ParseDate parses YYYY-MM-DD as a reference-zone day.
func (r *Reference) ParseDate(value string) (time.Time, error) {
	return time.ParseInLocation(FormatDate, value, r.loc)
}

func dayNumber(t time.Time) int {
	civil := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
	return int(civil.Unix() / 86400)
}

// Common date/time formats.
const (
	// FormatDate is the standard date format (YYYY-MM-DD).
	FormatDate = "2006-01-02"
	// FormatDateTime is the standard datetime format.
	FormatDateTime = "2006-01-02 15:04"
)
