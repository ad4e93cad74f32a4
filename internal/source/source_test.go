package source

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
	"time"

	"google.golang.org/api/option"

	"calboard/internal/ics"
	appLog "calboard/internal/log"
	"calboard/internal/model"
	"calboard/internal/testutil"
)

func TestMain(m *testing.M) {
	appLog.SetOutput(io.Discard)
	os.Exit(m.Run())
}

const eventsJSON = `{
  "kind": "calendar#events",
  "items": [
    {"id": "a", "summary": "Standup", "colorId": "11",
     "start": {"dateTime": "2026-03-11T09:30:00+09:00"},
     "end": {"dateTime": "2026-03-11T09:45:00+09:00"}},
    {"id": "b", "summary": "Offsite", "location": "Busan",
     "start": {"date": "2026-03-12"}, "end": {"date": "2026-03-14"}},
    {"id": "c", "status": "cancelled",
     "start": {"date": "2026-03-12"}, "end": {"date": "2026-03-13"}}
  ]
}`

func TestGoogle_ListEvents(t *testing.T) {
	var query map[string]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Bearer tok" {
			t.Errorf("Authorization = %q", got)
		}
		if !strings.HasSuffix(r.URL.Path, "/calendars/team@example.com/events") {
			t.Errorf("path = %s", r.URL.Path)
		}
		query = map[string]string{}
		for k := range r.URL.Query() {
			query[k] = r.URL.Query().Get(k)
		}
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, eventsJSON)
	}))
	defer srv.Close()

	g := NewGoogle("team@example.com", 0, option.WithEndpoint(srv.URL+"/"))
	start := time.Date(2026, 3, 8, 0, 0, 0, 0, testutil.Seoul)
	events, err := g.ListEvents(context.Background(), "tok", start, start.AddDate(0, 0, 7))
	if err != nil {
		t.Fatalf("ListEvents() error = %v", err)
	}

	if query["singleEvents"] != "true" || query["orderBy"] != "startTime" || query["maxResults"] != "250" {
		t.Errorf("query = %v", query)
	}
	if query["timeMin"] != "2026-03-08T00:00:00+09:00" || query["timeMax"] != "2026-03-15T00:00:00+09:00" {
		t.Errorf("time bounds = %s .. %s", query["timeMin"], query["timeMax"])
	}

	if len(events) != 2 {
		t.Fatalf("len(events) = %d, want 2 (cancelled dropped)", len(events))
	}
	if e := events[0]; e.ID != "a" || e.Color != model.ColorBoldRed || e.Start.DateTime != "2026-03-11T09:30:00+09:00" {
		t.Errorf("events[0] = %+v", e)
	}
	if e := events[1]; e.Start.Date != "2026-03-12" || e.End.Date != "2026-03-14" || e.Color != model.ColorDefault || e.Location != "Busan" {
		t.Errorf("events[1] = %+v", e)
	}
}

func TestGoogle_Unauthorized(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnauthorized)
		fmt.Fprint(w, `{"error":{"code":401,"message":"Invalid Credentials"}}`)
	}))
	defer srv.Close()

	g := NewGoogle("", 10, option.WithEndpoint(srv.URL+"/"))
	_, err := g.ListEvents(context.Background(), "stale", time.Now(), time.Now().Add(time.Hour))
	if !IsAuth(err) {
		t.Fatalf("ListEvents() error = %v, want auth error", err)
	}
	var aerr *AuthError
	if !errors.As(err, &aerr) || aerr.Source != "google:primary" {
		t.Errorf("AuthError = %+v", aerr)
	}

	if _, err := g.ListEvents(context.Background(), "", time.Now(), time.Now()); !IsAuth(err) {
		t.Errorf("empty token error = %v, want auth error", err)
	}
}

func TestGoogle_ServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusForbidden)
		fmt.Fprint(w, `{"error":{"code":403,"message":"Rate Limit Exceeded"}}`)
	}))
	defer srv.Close()

	g := NewGoogle("primary", 0, option.WithEndpoint(srv.URL+"/"))
	_, err := g.ListEvents(context.Background(), "tok", time.Now(), time.Now().Add(time.Hour))
	var ferr *FetchError
	if !errors.As(err, &ferr) || IsAuth(err) {
		t.Errorf("ListEvents() error = %v, want FetchError", err)
	}
}

const icsBody = "BEGIN:VCALENDAR\r\nVERSION:2.0\r\nPRODID:-//calboard//test//EN\r\n" +
	"BEGIN:VEVENT\r\nUID:one\r\nDTSTAMP:20260301T000000Z\r\nSUMMARY:One\r\nDTSTART:20260310T010000Z\r\nDTEND:20260310T020000Z\r\nEND:VEVENT\r\n" +
	"BEGIN:VEVENT\r\nUID:two\r\nDTSTAMP:20260301T000000Z\r\nSUMMARY:Two\r\nDTSTART;VALUE=DATE:20260311\r\nEND:VEVENT\r\n" +
	"END:VCALENDAR\r\n"

func TestICS_ListEvents(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/broken.ics" {
			http.Error(w, "gone", http.StatusNotFound)
			return
		}
		fmt.Fprint(w, icsBody)
	}))
	defer srv.Close()

	fetcher := ics.NewFetcher(t.TempDir(), srv.Client())
	s := NewICS(fetcher, []ics.Feed{
		{ID: "broken", URL: srv.URL + "/broken.ics"},
		{ID: "team", URL: srv.URL + "/team.ics", Color: model.ColorTurquoise},
	}, 1)
	if s.RequiresCredential() {
		t.Error("ICS source should not require a credential")
	}

	start := time.Date(2026, 3, 8, 0, 0, 0, 0, testutil.Seoul)
	events, err := s.ListEvents(context.Background(), "", start, start.AddDate(0, 0, 7))
	if err != nil {
		t.Fatalf("ListEvents() error = %v", err)
	}
	if len(events) != 1 || events[0].ID != "one" || events[0].Color != model.ColorTurquoise {
		t.Errorf("events = %+v, want only [one] after truncation", events)
	}

	all := NewICS(fetcher, []ics.Feed{{ID: "broken", URL: srv.URL + "/broken.ics"}}, 0)
	if _, err := all.ListEvents(context.Background(), "", start, start.AddDate(0, 0, 7)); err == nil {
		t.Error("ListEvents() with every feed failing should error")
	}
}
