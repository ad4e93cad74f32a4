package source

import (
	"context"
	"errors"
	"time"

	"calboard/internal/ics"
	appLog "calboard/internal/log"
	"calboard/internal/model"
)

// ICS lists events from public or secret-URL iCalendar feeds. Feeds are
// fetched in order and the output keeps that order.
type ICS struct {
	fetcher *ics.Fetcher
	feeds   []ics.Feed
	max     int
}

// NewICS returns an ICS source over feeds. maxResults caps the combined
// event list.
func NewICS(fetcher *ics.Fetcher, feeds []ics.Feed, maxResults int) *ICS {
	if maxResults <= 0 {
		maxResults = DefaultMaxResults
	}
	return &ICS{fetcher: fetcher, feeds: feeds, max: maxResults}
}

func (s *ICS) Name() string { return "ics" }

func (s *ICS) RequiresCredential() bool { return false }

// ListEvents fails only when no feed produced events; partial failures are
// logged.
func (s *ICS) ListEvents(ctx context.Context, _ string, start, end time.Time) ([]model.Event, error) {
	if len(s.feeds) == 0 {
		return nil, nil
	}

	results, errs := s.fetcher.FetchAll(ctx, s.feeds)
	if len(results) == 0 {
		return nil, &FetchError{Source: s.Name(), Err: errors.Join(errs...)}
	}

	var parsed []ics.ParsedEvent
	for _, res := range results {
		evs, err := ics.ParseICS(res.Feed, res.Body)
		if err != nil {
			appLog.Error("source: feed unparsable", err, "feed", res.Feed.ID)
			continue
		}
		parsed = append(parsed, evs...)
	}

	out, err := ics.ExpandOccurrences(parsed, ics.ExpandConfig{RangeStart: start, RangeEnd: end})
	if err != nil {
		return nil, &FetchError{Source: s.Name(), Err: err}
	}

	events := out.Events
	if len(events) > s.max {
		appLog.Warn("source: result truncated", "source", s.Name(), "count", len(events), "max_results", s.max)
		events = events[:s.max]
	}
	return events, nil
}
