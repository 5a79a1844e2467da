package util

import (
	"strconv"
	"testing"
	"time"
)

func TestParseTimeRFC3339(t *testing.T) {
	s := "2024-10-10T10:10:10Z"
	got, ok := ParseTime(s)
	if !ok {
		t.Fatalf("expected ok")
	}
	if got.UTC().Format(time.RFC3339) != s {
		t.Fatalf("unexpected time %v", got)
	}
}

func TestParseTimeUnix(t *testing.T) {
	ts := time.Date(2024, 10, 10, 10, 10, 10, 0, time.UTC).Unix()
	got, ok := ParseTime(strconv.FormatInt(ts, 10))
	if !ok {
		t.Fatalf("expected ok")
	}
	if got.Unix() != ts {
		t.Fatalf("unexpected unix %v", got.Unix())
	}
}

func TestParseTimeDefault(t *testing.T) {
	def := time.Date(2024, 10, 10, 10, 10, 10, 0, time.UTC)
	if got := ParseTimeDefault("", def); !got.Equal(def) {
		t.Fatalf("expected default")
	}
}

func TestPeriodStart(t *testing.T) {
	// Thursday
	at := time.Date(2024, 2, 29, 17, 45, 3, 0, time.UTC)
	cases := map[string]time.Time{
		UnitHour:  time.Date(2024, 2, 29, 17, 0, 0, 0, time.UTC),
		UnitDay:   time.Date(2024, 2, 29, 0, 0, 0, 0, time.UTC),
		UnitWeek:  time.Date(2024, 2, 26, 0, 0, 0, 0, time.UTC),
		UnitMonth: time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC),
	}
	for unit, want := range cases {
		got, err := PeriodStart(unit, at)
		if err != nil {
			t.Fatalf("%s: %v", unit, err)
		}
		if !got.Equal(want) {
			t.Fatalf("%s: got %v want %v", unit, got, want)
		}
	}
	if _, err := PeriodStart("decade", at); err == nil {
		t.Fatalf("expected error for unknown unit")
	}
}

func TestPeriodStartSundayBelongsToPreviousWeek(t *testing.T) {
	sunday := time.Date(2024, 3, 3, 23, 0, 0, 0, time.UTC)
	got, _ := PeriodStart(UnitWeek, sunday)
	if want := time.Date(2024, 2, 26, 0, 0, 0, 0, time.UTC); !got.Equal(want) {
		t.Fatalf("got %v want %v", got, want)
	}
}

func TestNextAndPreviousPeriod(t *testing.T) {
	jan := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	if got := NextPeriod(UnitMonth, jan); got.Month() != time.February {
		t.Fatalf("unexpected next month %v", got)
	}
	if got := PreviousPeriod(UnitMonth, jan); got.Year() != 2023 || got.Month() != time.December {
		t.Fatalf("unexpected previous month %v", got)
	}
	if got := PreviousPeriod(UnitWeek, jan); !got.Equal(jan.AddDate(0, 0, -7)) {
		t.Fatalf("unexpected previous week %v", got)
	}
}

func TestParseInterval(t *testing.T) {
	cases := map[string]time.Duration{"1m": time.Minute, "15m": 15 * time.Minute, "4h": 4 * time.Hour, "1d": 24 * time.Hour}
	for in, want := range cases {
		got, err := ParseInterval(in)
		if err != nil || got != want {
			t.Fatalf("%s: got %v, %v", in, got, err)
		}
	}
	for _, bad := range []string{"", "m", "0m", "5x"} {
		if _, err := ParseInterval(bad); err == nil {
			t.Fatalf("%q: expected error", bad)
		}
	}
}
