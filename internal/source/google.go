package source

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"golang.org/x/oauth2"
	gcal "google.golang.org/api/calendar/v3"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"

	appLog "calboard/internal/log"
	"calboard/internal/model"
)

// Google lists events from one Google calendar through the Calendar v3 API.
type Google struct {
	calendarID string
	maxResults int64
	opts       []option.ClientOption
}

// NewGoogle returns a Google source. Extra options are appended after the
// per-request HTTP client, so tests can point it at a local endpoint.
func NewGoogle(calendarID string, maxResults int, opts ...option.ClientOption) *Google {
	if calendarID == "" {
		calendarID = "primary"
	}
	if maxResults <= 0 {
		maxResults = DefaultMaxResults
	}
	return &Google{calendarID: calendarID, maxResults: int64(maxResults), opts: opts}
}

func (g *Google) Name() string { return "google:" + g.calendarID }

func (g *Google) RequiresCredential() bool { return true }

// ListEvents expands recurring events server-side and returns them ordered
// by start time.
func (g *Google) ListEvents(ctx context.Context, token string, start, end time.Time) ([]model.Event, error) {
	if token == "" {
		return nil, &AuthError{Source: g.Name(), Err: errors.New("no access token")}
	}

	client := oauth2.NewClient(ctx, oauth2.StaticTokenSource(&oauth2.Token{AccessToken: token, TokenType: "Bearer"}))
	opts := append([]option.ClientOption{option.WithHTTPClient(client)}, g.opts...)
	svc, err := gcal.NewService(ctx, opts...)
	if err != nil {
		return nil, &FetchError{Source: g.Name(), Err: fmt.Errorf("creating calendar service: %w", err)}
	}

	resp, err := svc.Events.List(g.calendarID).
		TimeMin(start.Format(time.RFC3339)).
		TimeMax(end.Format(time.RFC3339)).
		SingleEvents(true).
		ShowDeleted(false).
		OrderBy("startTime").
		MaxResults(g.maxResults).
		Context(ctx).
		Do()
	if err != nil {
		var apiErr *googleapi.Error
		if errors.As(err, &apiErr) && apiErr.Code == http.StatusUnauthorized {
			return nil, &AuthError{Source: g.Name(), Err: err}
		}
		return nil, &FetchError{Source: g.Name(), Err: err}
	}
	if resp.NextPageToken != "" {
		appLog.Warn("source: result truncated", "source", g.Name(), "max_results", g.maxResults)
	}

	events := make([]model.Event, 0, len(resp.Items))
	for _, item := range resp.Items {
		if item.Status == "cancelled" || item.Start == nil {
			continue
		}
		events = append(events, convertGoogleEvent(g.calendarID, item))
	}
	appLog.Debug("source: listed events", "source", g.Name(), "count", len(events))
	return events, nil
}

func convertGoogleEvent(calendarID string, item *gcal.Event) model.Event {
	return model.Event{
		SourceID:    calendarID,
		ID:          item.Id,
		Summary:     item.Summary,
		Description: item.Description,
		Location:    item.Location,
		Color:       model.ColorFromID(item.ColorId),
		Start:       convertGoogleTime(item.Start),
		End:         convertGoogleTime(item.End),
	}
}

func convertGoogleTime(t *gcal.EventDateTime) model.EventTime {
	if t == nil {
		return model.EventTime{}
	}
	return model.EventTime{DateTime: t.DateTime, Date: t.Date, TimeZone: t.TimeZone}
}
