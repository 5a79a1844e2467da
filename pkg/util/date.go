package util

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// ParseTime tries RFC3339, RFC3339Nano, and unix seconds. Returns (t, true) if any worked.
func ParseTime(s string) (time.Time, bool) {
	if s == "" {
		return time.Time{}, false
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, true
	}
	if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return t, true
	}
	if ts, err := strconv.ParseInt(s, 10, 64); err == nil && ts > 0 {
		return time.Unix(ts, 0), true
	}
	return time.Time{}, false
}

// ParseTimeDefault parses time or returns default if empty/invalid.
func ParseTimeDefault(s string, def time.Time) time.Time {
	if t, ok := ParseTime(s); ok {
		return t
	}
	return def
}

// Calendar units understood by PeriodStart.
const (
	UnitHour  = "hour"
	UnitDay   = "day"
	UnitWeek  = "week"
	UnitMonth = "month"
)

// PeriodStart truncates t (in UTC) to the start of its calendar unit.
// Weeks start on Monday.
func PeriodStart(unit string, t time.Time) (time.Time, error) {
	t = t.UTC()
	switch unit {
	case UnitHour:
		return t.Truncate(time.Hour), nil
	case UnitDay:
		return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC), nil
	case UnitWeek:
		day := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
		offset := (int(day.Weekday()) + 6) % 7
		return day.AddDate(0, 0, -offset), nil
	case UnitMonth:
		return time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, time.UTC), nil
	}
	return time.Time{}, fmt.Errorf("unknown period unit %q", unit)
}

// NextPeriod returns the start of the period after the one beginning at start.
func NextPeriod(unit string, start time.Time) time.Time {
	switch unit {
	case UnitHour:
		return start.Add(time.Hour)
	case UnitDay:
		return start.AddDate(0, 0, 1)
	case UnitWeek:
		return start.AddDate(0, 0, 7)
	default:
		return start.AddDate(0, 1, 0)
	}
}

// PreviousPeriod returns the start of the period before the one beginning at start.
func PreviousPeriod(unit string, start time.Time) time.Time {
	switch unit {
	case UnitHour:
		return start.Add(-time.Hour)
	case UnitDay:
		return start.AddDate(0, 0, -1)
	case UnitWeek:
		return start.AddDate(0, 0, -7)
	default:
		return start.AddDate(0, -1, 0)
	}
}

// ParseInterval converts exchange interval notation (1s, 15m, 4h, 1d, 1w) to a duration.
func ParseInterval(s string) (time.Duration, error) {
	s = strings.TrimSpace(s)
	if len(s) < 2 {
		return 0, fmt.Errorf("invalid interval %q", s)
	}
	n, err := strconv.Atoi(s[:len(s)-1])
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("invalid interval %q", s)
	}
	var unit time.Duration
	switch s[len(s)-1] {
	case 's':
		unit = time.Second
	case 'm':
		unit = time.Minute
	case 'h':
		unit = time.Hour
	case 'd':
		unit = 24 * time.Hour
	case 'w':
		unit = 7 * 24 * time.Hour
	default:
		return 0, fmt.Errorf("invalid interval %q", s)
	}
	return time.Duration(n) * unit, nil
}
