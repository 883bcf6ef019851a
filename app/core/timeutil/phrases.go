package timeutil

import (
	"regexp"
	"strconv"
	"strings"
	"time"
)

// Russian quick-reply parsing for the pending-state flows: "за 5 минут",
// "через полчаса", "завтра" handled by the NLU; this file covers the
// deterministic patterns we never want to pay an LLM call for.

var (
	reOffsetHalfHour = regexp.MustCompile(`(?:^|\s)за\s+пол\s*час`)
	reOffsetHour     = regexp.MustCompile(`(?:^|\s)за\s+час(?:$|[^\p{L}])`)
	reOffsetMinutes  = regexp.MustCompile(`(?:^|\s)за\s+(\d{1,3})\s*(?:мин(?:ут[ауы]?)?|м)(?:$|[^\p{L}])`)
	reOffsetHours    = regexp.MustCompile(`(?:^|\s)за\s+(\d{1,3})\s*(?:час(?:а|ов)?|ч)(?:$|[^\p{L}])`)
	reBareMinutes    = regexp.MustCompile(`\b(\d{1,3})\s*(?:мин(?:ут[ауы]?)?|м)(?:$|[^\p{L}])`)
	reBareHours      = regexp.MustCompile(`\b(\d{1,3})\s*(?:час(?:а|ов)?|ч)(?:$|[^\p{L}])`)

	reDelayHalfHour = regexp.MustCompile(`(?:^|\s)через\s+пол\s*час`)
	reDelayHour     = regexp.MustCompile(`(?:^|\s)через\s+час(?:$|[^\p{L}])`)
	reDelayMinutes  = regexp.MustCompile(`(?:^|\s)через\s+(\d{1,3})\s*(?:мин(?:ут[ауы]?)?|м)(?:$|[^\p{L}])`)
	reDelayHours    = regexp.MustCompile(`(?:^|\s)через\s+(\d{1,3})\s*(?:час(?:а|ов)?|ч)(?:$|[^\p{L}])`)
	rePlusMinutes   = regexp.MustCompile(`^\+\s*(\d{1,3})\s*(?:мин(?:ут[ауы]?)?|м)(?:$|[^\p{L}])`)
	rePlusHours     = regexp.MustCompile(`^\+\s*(\d{1,3})\s*(?:час(?:а|ов)?|ч)(?:$|[^\p{L}])`)

	reHHMM = regexp.MustCompile(`\b(\d{1,2}):(\d{2})\b`)
	reDDMM = regexp.MustCompile(`\b(\d{1,2})\.(\d{1,2})(?:\.(\d{2,4}))?\b`)
)

// ParseOffsetMinutes parses "за 5 минут", "за полчаса", "за час" style
// reminder-offset phrases. Bare "5 минут" without "за" is accepted too.
func ParseOffsetMinutes(text string) (int, bool) {
	lower := strings.ToLower(strings.TrimSpace(text))
	if lower == "" {
		return 0, false
	}

	if strings.Contains(lower, "полчас") || strings.Contains(lower, "пол часа") {
		if reOffsetHalfHour.MatchString(lower) {
			return 30, true
		}
	}
	if reOffsetHour.MatchString(lower) {
		return 60, true
	}
	if m := reOffsetMinutes.FindStringSubmatch(lower); m != nil {
		return atoiGroup(m[1]), true
	}
	if m := reOffsetHours.FindStringSubmatch(lower); m != nil {
		return atoiGroup(m[1]) * 60, true
	}
	if m := reBareMinutes.FindStringSubmatch(lower); m != nil {
		return atoiGroup(m[1]), true
	}
	if m := reBareHours.FindStringSubmatch(lower); m != nil {
		return atoiGroup(m[1]) * 60, true
	}
	return 0, false
}

// ParseDelayMinutes parses snooze phrases: "через 5 минут", "через
// полчаса", "через час", "+30 мин".
func ParseDelayMinutes(text string) (int, bool) {
	lower := strings.ToLower(strings.TrimSpace(text))
	if lower == "" {
		return 0, false
	}

	if strings.Contains(lower, "полчас") || strings.Contains(lower, "пол часа") {
		if reDelayHalfHour.MatchString(lower) {
			return 30, true
		}
	}
	if reDelayHour.MatchString(lower) {
		return 60, true
	}
	if m := reDelayMinutes.FindStringSubmatch(lower); m != nil {
		return atoiGroup(m[1]), true
	}
	if m := reDelayHours.FindStringSubmatch(lower); m != nil {
		return atoiGroup(m[1]) * 60, true
	}
	if m := rePlusMinutes.FindStringSubmatch(lower); m != nil {
		return atoiGroup(m[1]), true
	}
	if m := rePlusHours.FindStringSubmatch(lower); m != nil {
		return atoiGroup(m[1]) * 60, true
	}
	return 0, false
}

// ParseHHMM extracts a clock time like "18:05" or "9:30".
func ParseHHMM(text string) (hour, minute int, ok bool) {
	m := reHHMM.FindStringSubmatch(text)
	if m == nil {
		return 0, 0, false
	}
	hour = atoiGroup(m[1])
	minute = atoiGroup(m[2])
	if hour > 23 || minute > 59 {
		return 0, 0, false
	}
	return hour, minute, true
}

// ParseDDMM extracts a date like "30.12" or "05.01.2026". Year is 0 when
// not given; two-digit years are read as 20xx.
func ParseDDMM(text string) (day, month, year int, ok bool) {
	m := reDDMM.FindStringSubmatch(text)
	if m == nil {
		return 0, 0, 0, false
	}
	day = atoiGroup(m[1])
	month = atoiGroup(m[2])
	if m[3] != "" {
		year = atoiGroup(m[3])
		if year < 100 {
			year += 2000
		}
	}
	if day < 1 || day > 31 || month < 1 || month > 12 {
		return 0, 0, 0, false
	}
	return day, month, year, true
}

// ParseDatetimeFromText resolves an exact-time reply deterministically:
//
//   - "через N минут/час" -> now + delta
//   - "DD.MM HH:MM" (optionally with year) -> that instant
//   - "HH:MM" alone -> baseDate (or today); rolls to tomorrow when the
//     time already passed
//
// The result carries now's location.
func ParseDatetimeFromText(text string, now time.Time, baseDate *time.Time) (time.Time, bool) {
	if strings.TrimSpace(text) == "" {
		return time.Time{}, false
	}

	if delay, ok := ParseDelayMinutes(text); ok {
		return now.Add(time.Duration(delay) * time.Minute), true
	}

	hour, minute, hasTime := ParseHHMM(text)
	day, month, year, hasDate := ParseDDMM(text)
	loc := now.Location()

	if hasDate && hasTime {
		y := year
		if y == 0 {
			y = now.Year()
		}
		dt, valid := makeDate(y, month, day, hour, minute, loc)
		if !valid {
			return time.Time{}, false
		}
		if year == 0 && dt.Before(now) {
			if next, ok := makeDate(now.Year()+1, month, day, hour, minute, loc); ok && next.After(now) {
				return next, true
			}
		}
		return dt, true
	}

	if hasTime {
		base := now
		if baseDate != nil {
			base = *baseDate
		}
		dt := time.Date(base.Year(), base.Month(), base.Day(), hour, minute, 0, 0, loc)
		if !dt.After(now) {
			dt = dt.AddDate(0, 0, 1)
		}
		return dt, true
	}

	return time.Time{}, false
}

func makeDate(year, month, day, hour, minute int, loc *time.Location) (time.Time, bool) {
	dt := time.Date(year, time.Month(month), day, hour, minute, 0, 0, loc)
	if dt.Day() != day || dt.Month() != time.Month(month) {
		return time.Time{}, false
	}
	return dt, true
}

func atoiGroup(s string) int {
	n, _ := strconv.Atoi(s)
	return n
}
