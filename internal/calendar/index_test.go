package calendar

import (
	"bytes"
	"errors"
	"io"
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

func timed(id, start, end string) model.Event {
	return model.Event{ID: id, Summary: id, Start: model.EventTime{DateTime: start}, End: model.EventTime{DateTime: end}}
}

func allDay(id, start, end string) model.Event {
	return model.Event{ID: id, Summary: id, Start: model.EventTime{Date: start}, End: model.EventTime{Date: end}}
}

func ids(events []*model.Event) []string {
	out := make([]string, 0, len(events))
	for _, e := range events {
		out = append(out, e.ID)
	}
	return out
}

func mustDate(t *testing.T, s string) model.Date {
	t.Helper()
	d, err := model.ParseDate(s)
	if err != nil {
		t.Fatalf("ParseDate(%q) error = %v", s, err)
	}
	return d
}

func TestNormalizer_Date(t *testing.T) {
	n := NewNormalizer(testutil.Seoul)

	tests := []struct {
		name string
		in   model.EventTime
		want string
	}{
		{"civil date unchanged", model.EventTime{Date: "2026-03-10"}, "2026-03-10"},
		{"instant in reference zone", model.EventTime{DateTime: "2026-03-01T23:30:00+09:00"}, "2026-03-01"},
		{"utc just before local midnight", model.EventTime{DateTime: "2026-03-01T14:59:59Z"}, "2026-03-01"},
		{"utc at local midnight", model.EventTime{DateTime: "2026-03-01T15:00:00Z"}, "2026-03-02"},
		{"other zone rolls forward", model.EventTime{DateTime: "2026-03-01T10:30:00-05:00"}, "2026-03-02"},
		{"no offset uses source zone", model.EventTime{DateTime: "2026-03-01T20:00:00", TimeZone: "UTC"}, "2026-03-02"},
		{"no offset falls back to reference zone", model.EventTime{DateTime: "2026-03-01T20:00:00"}, "2026-03-01"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := n.Date(tt.in)
			if err != nil {
				t.Fatalf("Date() error = %v", err)
			}
			if got.String() != tt.want {
				t.Errorf("Date() = %s, want %s", got, tt.want)
			}
		})
	}
}

func TestNormalizer_DateInvalid(t *testing.T) {
	n := NewNormalizer(testutil.Seoul)
	for _, in := range []model.EventTime{
		{},
		{DateTime: "yesterday"},
		{Date: "2026-02-30"},
		{Date: "03/10/2026"},
	} {
		_, err := n.Date(in)
		if !errors.Is(err, ErrInvalidTemporalValue) {
			t.Errorf("Date(%+v) error = %v, want ErrInvalidTemporalValue", in, err)
		}
		var terr *TemporalError
		if !errors.As(err, &terr) {
			t.Errorf("Date(%+v) error is not a *TemporalError", in)
		}
	}
}

func TestBuildIndex_AllDayEndIsExclusive(t *testing.T) {
	ix := BuildIndex([]model.Event{allDay("trip", "2026-03-10", "2026-03-13")}, NewNormalizer(testutil.Seoul))

	for _, day := range []string{"2026-03-10", "2026-03-11", "2026-03-12"} {
		if got := ids(ix.Lookup(mustDate(t, day))); !reflect.DeepEqual(got, []string{"trip"}) {
			t.Errorf("Lookup(%s) = %v, want [trip]", day, got)
		}
	}
	if got := ix.Lookup(mustDate(t, "2026-03-13")); len(got) != 0 {
		t.Errorf("Lookup(2026-03-13) = %v, want empty", ids(got))
	}
}

func TestBuildIndex_TimedEndDayIsInclusive(t *testing.T) {
	ix := BuildIndex([]model.Event{
		timed("late", "2026-03-01T23:30:00+09:00", "2026-03-02T00:30:00+09:00"),
	}, NewNormalizer(testutil.Seoul))

	for _, day := range []string{"2026-03-01", "2026-03-02"} {
		if got := ids(ix.Lookup(mustDate(t, day))); !reflect.DeepEqual(got, []string{"late"}) {
			t.Errorf("Lookup(%s) = %v, want [late]", day, got)
		}
	}
	if got := ix.Keys(); !reflect.DeepEqual(got, []string{"2026-03-01", "2026-03-02"}) {
		t.Errorf("Keys() = %v", got)
	}
}

func TestBuildIndex_TimedMultiDaySpan(t *testing.T) {
	ix := BuildIndex([]model.Event{
		timed("conf", "2026-03-03T09:00:00+09:00", "2026-03-06T18:00:00+09:00"),
		timed("short", "2026-03-03T09:00:00+09:00", "2026-03-03T10:00:00+09:00"),
		timed("open", "2026-03-04T09:00:00+09:00", ""),
	}, NewNormalizer(testutil.Seoul))

	want := map[string][]string{
		"2026-03-03": {"conf", "short"},
		"2026-03-04": {"conf", "open"},
		"2026-03-05": {"conf"},
		"2026-03-06": {"conf"},
	}
	for day, w := range want {
		if got := ids(ix.Lookup(mustDate(t, day))); !reflect.DeepEqual(got, w) {
			t.Errorf("Lookup(%s) = %v, want %v", day, got, w)
		}
	}
	if n := len(ix.Keys()); n != len(want) {
		t.Errorf("len(Keys()) = %d, want %d", n, len(want))
	}
}

func TestBuildIndex_LongSpanTruncated(t *testing.T) {
	var logs bytes.Buffer
	appLog.SetOutput(&logs)
	t.Cleanup(func() { appLog.SetOutput(io.Discard) })

	ix := BuildIndex([]model.Event{
		allDay("forever", "2026-01-01", "2028-01-01"),
		timed("quarter", "2026-01-01T09:00:00+09:00", "2026-03-31T18:00:00+09:00"),
	}, NewNormalizer(testutil.Seoul))

	if got := len(ix.Keys()); got != maxSpanDays {
		t.Errorf("len(Keys()) = %d, want %d", got, maxSpanDays)
	}
	if got := ids(ix.Lookup(mustDate(t, "2027-01-01"))); !reflect.DeepEqual(got, []string{"forever"}) {
		t.Errorf("Lookup(2027-01-01) = %v, want [forever]", got)
	}
	if got := ix.Lookup(mustDate(t, "2027-01-02")); len(got) != 0 {
		t.Errorf("Lookup(2027-01-02) = %v, want empty", ids(got))
	}
	if got := ids(ix.Lookup(mustDate(t, "2026-03-31"))); !reflect.DeepEqual(got, []string{"forever", "quarter"}) {
		t.Errorf("Lookup(2026-03-31) = %v", got)
	}

	out := logs.String()
	if !strings.Contains(out, "event span truncated") || !strings.Contains(out, "id=forever") {
		t.Errorf("missing truncation warning:\n%s", out)
	}
	if strings.Contains(out, "id=quarter") {
		t.Errorf("unexpected warning for quarter:\n%s", out)
	}
}

func TestBuildIndex_AllDaySingleDayFallbacks(t *testing.T) {
	ix := BuildIndex([]model.Event{
		allDay("no-end", "2026-04-01", ""),
		allDay("same-end", "2026-04-02", "2026-04-02"),
		allDay("bad-end", "2026-04-03", "soon"),
		allDay("one-day", "2026-04-04", "2026-04-05"),
	}, NewNormalizer(testutil.Seoul))

	want := []string{"2026-04-01", "2026-04-02", "2026-04-03", "2026-04-04"}
	if got := ix.Keys(); !reflect.DeepEqual(got, want) {
		t.Errorf("Keys() = %v, want %v", got, want)
	}
	if len(ix.Malformed()) != 0 {
		t.Errorf("Malformed() = %v, want none", ix.Malformed())
	}
}

func TestBuildIndex_MalformedStartSkipped(t *testing.T) {
	events := []model.Event{
		timed("ok-1", "2026-03-01T09:00:00+09:00", "2026-03-01T10:00:00+09:00"),
		timed("bad-datetime", "not-a-time", ""),
		{ID: "missing-start", Summary: "missing"},
		allDay("bad-date", "2026-02-31", "2026-03-01"),
		allDay("ok-2", "2026-03-02", "2026-03-03"),
	}
	ix := BuildIndex(events, NewNormalizer(testutil.Seoul))

	malformed := ix.Malformed()
	if len(malformed) != 3 {
		t.Fatalf("len(Malformed()) = %d, want 3", len(malformed))
	}
	gotIDs := []string{malformed[0].EventID, malformed[1].EventID, malformed[2].EventID}
	if !reflect.DeepEqual(gotIDs, []string{"bad-datetime", "missing-start", "bad-date"}) {
		t.Errorf("malformed ids = %v", gotIDs)
	}
	for _, m := range malformed {
		if !errors.Is(m, ErrInvalidTemporalValue) {
			t.Errorf("malformed %s does not wrap ErrInvalidTemporalValue: %v", m.EventID, m)
		}
	}

	seen := map[string]int{}
	for _, k := range ix.Keys() {
		for _, e := range ix.Lookup(mustDate(t, k)) {
			seen[e.ID]++
		}
	}
	if seen["ok-1"] == 0 || seen["ok-2"] == 0 {
		t.Errorf("valid events missing from index: %v", seen)
	}
	for _, id := range []string{"bad-datetime", "missing-start", "bad-date"} {
		if seen[id] != 0 {
			t.Errorf("malformed event %s appears in %d buckets", id, seen[id])
		}
	}
}

func TestBuildIndex_EveryValidEventIndexed(t *testing.T) {
	events := []model.Event{
		timed("a", "2026-05-01T00:00:00Z", "2026-05-01T01:00:00Z"),
		timed("b", "2026-05-31T23:00:00-07:00", "2026-06-01T02:00:00-07:00"),
		allDay("c", "2026-05-15", "2026-05-16"),
		allDay("d", "2026-12-31", "2027-01-02"),
		timed("e", "2026-05-10T12:00:00+09:00", "2026-05-09T12:00:00+09:00"),
	}
	ix := BuildIndex(events, NewNormalizer(testutil.Seoul))

	seen := map[string]bool{}
	for _, k := range ix.Keys() {
		for _, e := range ix.Lookup(mustDate(t, k)) {
			seen[e.ID] = true
		}
	}
	for _, e := range events {
		if !seen[e.ID] {
			t.Errorf("event %s not indexed", e.ID)
		}
	}
	if ix.Len() != len(events) {
		t.Errorf("Len() = %d, want %d", ix.Len(), len(events))
	}
}

func TestBuildIndex_BucketOrdering(t *testing.T) {
	events := []model.Event{
		timed("ten", "2026-03-05T10:00:00+09:00", ""),
		timed("nine", "2026-03-05T09:00:00+09:00", ""),
		allDay("holiday", "2026-03-05", "2026-03-06"),
		timed("ten-again", "2026-03-05T01:00:00Z", ""),
		allDay("started-earlier", "2026-03-03", "2026-03-07"),
		timed("overnight", "2026-03-04T22:00:00+09:00", "2026-03-05T02:00:00+09:00"),
	}
	ix := BuildIndex(events, NewNormalizer(testutil.Seoul))

	want := []string{"started-earlier", "overnight", "holiday", "nine", "ten", "ten-again"}
	if got := ids(ix.Lookup(mustDate(t, "2026-03-05"))); !reflect.DeepEqual(got, want) {
		t.Errorf("bucket order = %v, want %v", got, want)
	}
}

func TestBuildIndex_Idempotent(t *testing.T) {
	events := []model.Event{
		timed("a", "2026-03-01T23:30:00+09:00", "2026-03-02T00:30:00+09:00"),
		allDay("b", "2026-03-10", "2026-03-13"),
		timed("c", "bogus", ""),
	}
	n := NewNormalizer(testutil.Seoul)
	first := BuildIndex(events, n)
	second := BuildIndex(events, n)

	if !reflect.DeepEqual(first.Keys(), second.Keys()) {
		t.Fatalf("keys differ: %v vs %v", first.Keys(), second.Keys())
	}
	for _, k := range first.Keys() {
		d := mustDate(t, k)
		if !reflect.DeepEqual(ids(first.Lookup(d)), ids(second.Lookup(d))) {
			t.Errorf("bucket %s differs", k)
		}
	}
	if len(first.Malformed()) != 1 || len(second.Malformed()) != 1 {
		t.Errorf("malformed counts = %d, %d, want 1, 1", len(first.Malformed()), len(second.Malformed()))
	}
}

func TestBuildIndex_OwnsEvents(t *testing.T) {
	events := []model.Event{timed("a", "2026-03-01T09:00:00+09:00", "")}
	ix := BuildIndex(events, NewNormalizer(testutil.Seoul))

	events[0].Summary = "mutated"
	if got := ix.Lookup(mustDate(t, "2026-03-01"))[0].Summary; got != "a" {
		t.Errorf("index saw caller mutation, summary = %q", got)
	}
}

func TestNormalizer_TodayAndMidnight(t *testing.T) {
	n := NewNormalizer(testutil.Seoul)
	now := time.Date(2026, 3, 1, 15, 30, 0, 0, time.UTC)
	today := n.Today(now)
	if today.String() != "2026-03-02" {
		t.Errorf("Today() = %s, want 2026-03-02", today)
	}
	if got := n.Midnight(today); !got.Equal(time.Date(2026, 3, 1, 15, 0, 0, 0, time.UTC)) {
		t.Errorf("Midnight() = %v", got)
	}
}
