package ics

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"reflect"
	"strings"
	"testing"
	"time"

	appLog "calboard/internal/log"
	"calboard/internal/model"
	"calboard/internal/testutil"
)

func TestMain(m *testing.M) {
	appLog.SetOutput(io.Discard)
	os.Exit(m.Run())
}

const feedBody = `BEGIN:VCALENDAR
VERSION:2.0
PRODID:-//calboard//test//EN
BEGIN:VEVENT
UID:standup
DTSTAMP:20260301T000000Z
SUMMARY:Standup
DTSTART:20260302T003000Z
DTEND:20260302T004500Z
RRULE:FREQ=WEEKLY;BYDAY=MO;COUNT=4
EXDATE:20260309T003000Z
END:VEVENT
BEGIN:VEVENT
UID:standup
DTSTAMP:20260301T000000Z
RECURRENCE-ID:20260316T003000Z
SUMMARY:Standup (moved)
DTSTART:20260316T020000Z
DTEND:20260316T021500Z
END:VEVENT
BEGIN:VEVENT
UID:holiday
DTSTAMP:20260301T000000Z
SUMMARY:Holiday
DTSTART;VALUE=DATE:20260320
DTEND;VALUE=DATE:20260321
END:VEVENT
BEGIN:VEVENT
UID:outside
DTSTAMP:20260301T000000Z
SUMMARY:Later
DTSTART:20260501T000000Z
DTEND:20260501T010000Z
END:VEVENT
BEGIN:VEVENT
DTSTAMP:20260301T000000Z
SUMMARY:No UID
DTSTART:20260305T000000Z
END:VEVENT
END:VCALENDAR
`

func crlf(s string) []byte {
	return []byte(strings.ReplaceAll(s, "\n", "\r\n"))
}

func TestParseICS(t *testing.T) {
	feed := Feed{ID: "team", Color: model.ColorGreen}
	events, err := ParseICS(feed, crlf(feedBody))
	if err != nil {
		t.Fatalf("ParseICS() error = %v", err)
	}
	if len(events) != 4 {
		t.Fatalf("len(events) = %d, want 4 (event without UID skipped)", len(events))
	}

	standup := events[0]
	if standup.RawRRule == "" || len(standup.ExDates) != 1 || standup.IsOverride {
		t.Errorf("standup = %+v", standup)
	}
	if !events[1].IsOverride || events[1].Recurrence == nil {
		t.Errorf("override not detected: %+v", events[1])
	}
	holiday := events[2]
	if !holiday.AllDay {
		t.Error("holiday not detected as all-day")
	}
	if want := time.Date(2026, 3, 20, 0, 0, 0, 0, time.UTC); !holiday.Start.Equal(want) {
		t.Errorf("holiday start = %v, want %v", holiday.Start, want)
	}
}

func TestParseICS_Empty(t *testing.T) {
	if _, err := ParseICS(Feed{ID: "x"}, nil); err == nil {
		t.Error("ParseICS(nil) expected error")
	}
}

func TestExpandOccurrences(t *testing.T) {
	feed := Feed{ID: "team", Color: model.ColorGreen}
	parsed, err := ParseICS(feed, crlf(feedBody))
	if err != nil {
		t.Fatalf("ParseICS() error = %v", err)
	}

	res, err := ExpandOccurrences(parsed, ExpandConfig{
		RangeStart: time.Date(2026, 3, 1, 0, 0, 0, 0, testutil.Seoul),
		RangeEnd:   time.Date(2026, 4, 5, 0, 0, 0, 0, testutil.Seoul),
	})
	if err != nil {
		t.Fatalf("ExpandOccurrences() error = %v", err)
	}

	var got []string
	for _, e := range res.Events {
		got = append(got, e.ID+" "+e.Summary)
		if e.SourceID != "team" || e.Color != model.ColorGreen {
			t.Errorf("event %s source/color = %s/%v", e.ID, e.SourceID, e.Color)
		}
	}
	want := []string{
		"standup_20260302T003000Z Standup",
		"standup_20260316T003000Z Standup (moved)",
		"standup_20260323T003000Z Standup",
		"holiday Holiday",
	}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("events =\n%v\nwant\n%v", got, want)
	}

	moved := res.Events[1]
	if moved.Start.DateTime != "2026-03-16T02:00:00Z" {
		t.Errorf("moved start = %q", moved.Start.DateTime)
	}
	holiday := res.Events[3]
	if holiday.Start != (model.EventTime{Date: "2026-03-20"}) || holiday.End != (model.EventTime{Date: "2026-03-21"}) {
		t.Errorf("holiday times = %+v %+v", holiday.Start, holiday.End)
	}
}

func TestExpandOccurrences_Cap(t *testing.T) {
	ev := ParsedEvent{
		Feed:     Feed{ID: "f"},
		UID:      "daily",
		Start:    time.Date(2026, 1, 1, 9, 0, 0, 0, time.UTC),
		End:      time.Date(2026, 1, 1, 10, 0, 0, 0, time.UTC),
		RawRRule: "FREQ=DAILY",
	}
	res, err := ExpandOccurrences([]ParsedEvent{ev}, ExpandConfig{
		RangeStart:             time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
		RangeEnd:               time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC),
		MaxOccurrencesPerEvent: 10,
	})
	if err != nil {
		t.Fatalf("ExpandOccurrences() error = %v", err)
	}
	if len(res.Events) != 10 {
		t.Errorf("len(Events) = %d, want 10", len(res.Events))
	}
	if !reflect.DeepEqual(res.TruncatedEvents, []string{"daily"}) {
		t.Errorf("TruncatedEvents = %v", res.TruncatedEvents)
	}
}

func TestExpandOccurrences_LatestSequenceWins(t *testing.T) {
	start := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	events := []ParsedEvent{
		{UID: "u", Seq: 2, Summary: "v2", Start: start, End: start.Add(time.Hour)},
		{UID: "u", Seq: 1, Summary: "v1", Start: start, End: start.Add(time.Hour)},
	}
	res, err := ExpandOccurrences(events, ExpandConfig{RangeStart: start.Add(-time.Hour), RangeEnd: start.Add(time.Hour)})
	if err != nil {
		t.Fatalf("ExpandOccurrences() error = %v", err)
	}
	if len(res.Events) != 1 || res.Events[0].Summary != "v2" {
		t.Errorf("events = %+v", res.Events)
	}
}

func TestExpandOccurrences_BadRange(t *testing.T) {
	now := time.Now()
	if _, err := ExpandOccurrences(nil, ExpandConfig{RangeStart: now, RangeEnd: now.Add(-time.Hour)}); err == nil {
		t.Error("expected error for inverted range")
	}
}

func TestFetcher_ConditionalAndFallback(t *testing.T) {
	var status int
	var sawETag string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sawETag = r.Header.Get("If-None-Match")
		switch status {
		case http.StatusOK:
			w.Header().Set("ETag", `"v1"`)
			_, _ = w.Write(crlf(feedBody))
		default:
			w.WriteHeader(status)
		}
	}))
	defer srv.Close()

	f := NewFetcher(t.TempDir(), srv.Client())
	feed := Feed{ID: "team", URL: srv.URL + "/private/secret.ics"}
	ctx := context.Background()

	status = http.StatusOK
	first, err := f.FetchOne(ctx, feed)
	if err != nil || first.FromCache || len(first.Body) == 0 {
		t.Fatalf("first fetch = %+v, %v", first, err)
	}

	status = http.StatusNotModified
	second, err := f.FetchOne(ctx, feed)
	if err != nil || !second.FromCache {
		t.Fatalf("second fetch = fromCache %v, %v", second.FromCache, err)
	}
	if sawETag != `"v1"` {
		t.Errorf("If-None-Match = %q, want \"v1\"", sawETag)
	}

	status = http.StatusInternalServerError
	third, err := f.FetchOne(ctx, feed)
	if err != nil || !third.FromCache || string(third.Body) != string(first.Body) {
		t.Fatalf("fallback fetch = fromCache %v, %v", third.FromCache, err)
	}

	results, errs := f.FetchAll(ctx, []Feed{feed, {ID: "broken"}})
	if len(results) != 1 || len(errs) != 1 {
		t.Errorf("FetchAll() = %d results, %d errors", len(results), len(errs))
	}
}

func TestFetcher_NoCacheFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotModified)
	}))
	defer srv.Close()

	f := NewFetcher(t.TempDir(), srv.Client())
	if _, err := f.FetchOne(context.Background(), Feed{ID: "x", URL: srv.URL}); err == nil {
		t.Error("304 without cache should fail")
	}
}

func TestRedactURL(t *testing.T) {
	tests := map[string]string{
		"https://calendar.example.com/ical/abc/private-xyz/basic.ics": "https://calendar.example.com/...(redacted)",
		"webcal://host/path?token=1":                                   "webcal://host/...(redacted)",
		"not a url":                                                    "ics://...(redacted)",
	}
	for in, want := range tests {
		if got := redactURL(in); got != want {
			t.Errorf("redactURL(%q) = %q, want %q", in, got, want)
		}
	}
}
