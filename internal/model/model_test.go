package model

import (
	"testing"
	"time"
)

func TestDate_AddDaysCrossesBoundaries(t *testing.T) {
	tests := []struct {
		from Date
		n    int
		want string
	}{
		{Date{2026, time.February, 28}, 1, "2026-03-01"},
		{Date{2028, time.February, 28}, 1, "2028-02-29"},
		{Date{2026, time.December, 31}, 1, "2027-01-01"},
		{Date{2026, time.March, 1}, -1, "2026-02-28"},
		{Date{2026, time.March, 10}, 0, "2026-03-10"},
	}
	for _, tt := range tests {
		if got := tt.from.AddDays(tt.n).String(); got != tt.want {
			t.Errorf("%s.AddDays(%d) = %s, want %s", tt.from, tt.n, got, tt.want)
		}
	}
}

func TestDate_MonthBounds(t *testing.T) {
	d := Date{2026, time.February, 14}
	if got := d.FirstOfMonth().String(); got != "2026-02-01" {
		t.Errorf("FirstOfMonth() = %s, want 2026-02-01", got)
	}
	if got := d.LastOfMonth().String(); got != "2026-02-28" {
		t.Errorf("LastOfMonth() = %s, want 2026-02-28", got)
	}
	if got := (Date{2026, time.January, 31}).LastOfMonth().String(); got != "2026-01-31" {
		t.Errorf("LastOfMonth() = %s, want 2026-01-31", got)
	}
}

func TestDate_CompareAndParse(t *testing.T) {
	a, err := ParseDate("2026-03-10")
	if err != nil {
		t.Fatalf("ParseDate() error = %v", err)
	}
	b := Date{2026, time.March, 11}
	if !a.Before(b) || b.Before(a) || !b.After(a) {
		t.Errorf("ordering wrong for %s and %s", a, b)
	}
	if a.Compare(a) != 0 {
		t.Errorf("Compare(self) = %d, want 0", a.Compare(a))
	}
	if _, err := ParseDate("2026-13-40"); err == nil {
		t.Error("ParseDate(invalid) expected error")
	}
	if got := a.Weekday(); got != time.Tuesday {
		t.Errorf("Weekday() = %v, want Tuesday", got)
	}
}

func TestColorFromID(t *testing.T) {
	tests := []struct {
		id   string
		want string
	}{
		{"", "blue"},
		{"1", "blue"},
		{"4", "red"},
		{"7", "turquoise"},
		{"11", "boldRed"},
		{"42", "gray"},
	}
	for _, tt := range tests {
		if got := ColorFromID(tt.id).String(); got != tt.want {
			t.Errorf("ColorFromID(%q) = %s, want %s", tt.id, got, tt.want)
		}
	}
}

func TestViewMode(t *testing.T) {
	if got := ViewDay.Next().Next().Next(); got != ViewDay {
		t.Errorf("rotation did not wrap, got %s", got)
	}
	if got := ViewWeek.Next(); got != ViewMonth {
		t.Errorf("ViewWeek.Next() = %s, want month", got)
	}
	if _, err := ParseViewMode("year"); err == nil {
		t.Error("ParseViewMode(year) expected error")
	}
	if m, err := ParseViewMode("week"); err != nil || m != ViewWeek {
		t.Errorf("ParseViewMode(week) = %s, %v", m, err)
	}
}
