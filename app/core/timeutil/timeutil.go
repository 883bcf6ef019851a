// Package timeutil is the single authoritative deadline pipeline: every
// deadline that crosses a component boundary is a UTC ISO-8601 string
// with a trailing "Z", produced here.
package timeutil

import (
	"strings"
	"time"
)

// UTCLayout is the canonical cross-boundary deadline representation.
const UTCLayout = "2006-01-02T15:04:05Z"

// nearFutureBuffer is used when a computed reminder instant is already
// in the past: fire almost immediately rather than never.
const nearFutureBuffer = 10 * time.Second

var offsetLayouts = []string{
	time.RFC3339,
	"2006-01-02T15:04Z07:00",
}

var wallClockLayouts = []string{
	"2006-01-02T15:04:05",
	"2006-01-02T15:04",
	"2006-01-02 15:04:05",
	"2006-01-02 15:04",
}

// NowUTC returns the current instant truncated to seconds, in UTC.
func NowUTC() time.Time {
	return time.Now().UTC().Truncate(time.Second)
}

// FormatUTC renders an instant in the canonical form.
func FormatUTC(t time.Time) string {
	return t.UTC().Format(UTCLayout)
}

// ParseUTC parses a canonical (or RFC3339) timestamp. The bool reports
// whether the input was usable.
func ParseUTC(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, false
	}
	for _, layout := range offsetLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), true
		}
	}
	return time.Time{}, false
}

// LoadLocation resolves an IANA timezone name, falling back to UTC when
// the name is empty or unknown.
func LoadLocation(name string) *time.Location {
	name = strings.TrimSpace(name)
	if name == "" {
		return time.UTC
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		return time.UTC
	}
	return loc
}

// NormalizeToUTC converts an ISO-ish timestamp to the canonical UTC form.
//
//   - empty or malformed input yields ""
//   - a trailing "Z" or an explicit offset is honored with real timezone
//     math, never a naive offset substitution
//   - input without an offset is read as wall-clock time in tzName
//   - date-only input gets 23:59:00 in tzName before conversion
//
// DST-ambiguous wall times resolve to the first valid mapping chosen by
// time.Date in the loaded zone.
func NormalizeToUTC(raw string, tzName string) string {
	s := strings.TrimSpace(raw)
	if s == "" {
		return ""
	}

	for _, layout := range offsetLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return FormatUTC(t)
		}
	}

	loc := LoadLocation(tzName)
	for _, layout := range wallClockLayouts {
		if t, err := time.ParseInLocation(layout, s, loc); err == nil {
			return FormatUTC(t)
		}
	}

	if t, err := time.ParseInLocation("2006-01-02", s, loc); err == nil {
		t = time.Date(t.Year(), t.Month(), t.Day(), 23, 59, 0, 0, loc)
		return FormatUTC(t)
	}

	return ""
}

// ComputeRemindAt returns dueUTC minus offsetMin minutes, clamped so the
// result is never behind now.
func ComputeRemindAt(dueUTC string, offsetMin int, now time.Time) string {
	due, ok := ParseUTC(dueUTC)
	if !ok {
		return ""
	}
	remind := due.Add(-time.Duration(offsetMin) * time.Minute)
	if !remind.After(now) {
		remind = now.Add(nearFutureBuffer)
	}
	return FormatUTC(remind)
}

// CalculateNextOccurrence advances a canonical UTC instant by one
// recurrence period, preserving the time of day. Monthly steps clamp to
// the last valid day of the target month (Jan 31 -> Feb 28/29).
// Unrecognized recurrence types behave as daily.
func CalculateNextOccurrence(currentUTC string, recurrenceType string, interval int) string {
	t, ok := ParseUTC(currentUTC)
	if !ok {
		return ""
	}
	switch strings.ToLower(strings.TrimSpace(recurrenceType)) {
	case "weekly":
		t = t.AddDate(0, 0, 7)
	case "monthly":
		t = addMonthClamped(t)
	case "custom":
		if interval < 1 {
			interval = 1
		}
		t = t.AddDate(0, 0, interval)
	default:
		t = t.AddDate(0, 0, 1)
	}
	return FormatUTC(t)
}

func addMonthClamped(t time.Time) time.Time {
	year, month, day := t.Date()
	nextMonth := time.Date(year, month, 1, 0, 0, 0, 0, t.Location()).AddDate(0, 1, 0)
	if last := daysInMonth(nextMonth.Year(), nextMonth.Month()); day > last {
		day = last
	}
	return time.Date(nextMonth.Year(), nextMonth.Month(), day,
		t.Hour(), t.Minute(), t.Second(), t.Nanosecond(), t.Location())
}

func daysInMonth(year int, month time.Month) int {
	return time.Date(year, month+1, 0, 0, 0, 0, 0, time.UTC).Day()
}
