package ics

import (
	"errors"
	"time"

	"github.com/teambition/rrule-go"

	appLog "calboard/internal/log"
	"calboard/internal/model"
)

const defaultMaxOccurrencesPerEvent = 5000

// ExpandConfig bounds recurrence expansion.
type ExpandConfig struct {
	// RangeStart / RangeEnd is the window occurrences must touch.
	RangeStart time.Time
	RangeEnd   time.Time

	// MaxOccurrencesPerEvent caps one RRULE. Zero means 5000.
	MaxOccurrencesPerEvent int
}

// ExpandResult is the flattened event list.
type ExpandResult struct {
	Events []model.Event
	// TruncatedEvents lists UIDs that hit MaxOccurrencesPerEvent.
	TruncatedEvents []string
}

// ExpandOccurrences turns parsed VEVENTs into concrete model events in the
// window. RRULE, EXDATE and RECURRENCE-ID overrides are applied. Output
// follows the order UIDs first appear in events.
func ExpandOccurrences(events []ParsedEvent, cfg ExpandConfig) (ExpandResult, error) {
	var result ExpandResult
	if cfg.RangeEnd.Before(cfg.RangeStart) {
		return result, errors.New("expand: range end before range start")
	}
	if cfg.MaxOccurrencesPerEvent <= 0 {
		cfg.MaxOccurrencesPerEvent = defaultMaxOccurrencesPerEvent
	}

	// A UID repeated without RECURRENCE-ID is a revision; the highest
	// SEQUENCE wins.
	var order []string
	base := make(map[string]ParsedEvent)
	overrides := make(map[string][]ParsedEvent)
	for _, ev := range events {
		if ev.IsOverride && ev.Recurrence != nil {
			overrides[ev.UID] = append(overrides[ev.UID], ev)
			continue
		}
		prev, seen := base[ev.UID]
		if !seen {
			order = append(order, ev.UID)
		}
		if !seen || ev.Seq >= prev.Seq {
			base[ev.UID] = ev
		}
	}

	for _, uid := range order {
		out, truncated := expandEvent(base[uid], overrides[uid], cfg)
		result.Events = append(result.Events, out...)
		if truncated {
			result.TruncatedEvents = append(result.TruncatedEvents, uid)
			appLog.Warn("ics: occurrences truncated", "uid", uid, "cap", cfg.MaxOccurrencesPerEvent)
		}
	}
	return result, nil
}

func expandEvent(ev ParsedEvent, overrides []ParsedEvent, cfg ExpandConfig) ([]model.Event, bool) {
	if ev.RawRRule == "" {
		if o, ok := findOverride(overrides, ev.Start); ok {
			ev = o
		}
		if !overlaps(ev, ev.Start, ev.End, cfg) {
			return nil, false
		}
		return []model.Event{toEvent(ev, ev.Start, ev.End)}, false
	}
	return expandRecurring(ev, overrides, cfg)
}

func expandRecurring(ev ParsedEvent, overrides []ParsedEvent, cfg ExpandConfig) ([]model.Event, bool) {
	opt, err := rrule.StrToROption(ev.RawRRule)
	if err != nil {
		appLog.Warn("ics: bad RRULE", "uid", ev.UID, "rrule", ev.RawRRule, "error", err.Error())
		return nil, false
	}
	opt.Dtstart = ev.Start
	r, err := rrule.NewRRule(*opt)
	if err != nil {
		appLog.Warn("ics: bad RRULE", "uid", ev.UID, "rrule", ev.RawRRule, "error", err.Error())
		return nil, false
	}

	var set rrule.Set
	set.RRule(r)
	for _, ex := range ev.ExDates {
		set.ExDate(ex.In(ev.Start.Location()))
	}

	dur := ev.End.Sub(ev.Start)
	// Widen by the event duration so occurrences that started before the
	// window but run into it are kept.
	from, to := cfg.RangeStart.Add(-dur), cfg.RangeEnd
	if ev.AllDay {
		from, to = from.Add(-24*time.Hour), to.Add(24*time.Hour)
	}
	starts := set.Between(from.In(ev.Start.Location()), to.In(ev.Start.Location()), true)

	hitCap := false
	if len(starts) > cfg.MaxOccurrencesPerEvent {
		starts = starts[:cfg.MaxOccurrencesPerEvent]
		hitCap = true
	}

	out := make([]model.Event, 0, len(starts))
	for _, s := range starts {
		inst, start, end := ev, s, s.Add(dur)
		if o, ok := findOverride(overrides, s); ok {
			inst, start, end = o, o.Start, o.End
		}
		if !overlaps(inst, start, end, cfg) {
			continue
		}
		e := toEvent(inst, start, end)
		e.ID = ev.UID + "_" + s.UTC().Format(icsUTCLayout)
		out = append(out, e)
	}
	return out, hitCap
}

// findOverride returns the override whose RECURRENCE-ID equals start.
func findOverride(overrides []ParsedEvent, start time.Time) (ParsedEvent, bool) {
	for _, o := range overrides {
		if o.Recurrence != nil && o.Recurrence.Equal(start) {
			return o, true
		}
	}
	return ParsedEvent{}, false
}

// overlaps reports whether [start, end] touches the window. All-day events
// compare by civil date since their UTC midnights are not instants.
func overlaps(ev ParsedEvent, start, end time.Time, cfg ExpandConfig) bool {
	if ev.AllDay {
		first := model.DateOf(cfg.RangeStart)
		last := model.DateOf(cfg.RangeEnd)
		s, e := model.DateOf(start), model.DateOf(end)
		return s.Compare(last) <= 0 && e.After(first)
	}
	return !end.Before(cfg.RangeStart) && start.Before(cfg.RangeEnd)
}

func toEvent(ev ParsedEvent, start, end time.Time) model.Event {
	e := model.Event{
		SourceID:    ev.Feed.ID,
		ID:          ev.UID,
		Summary:     ev.Summary,
		Description: ev.Description,
		Location:    ev.Location,
		Color:       ev.Feed.Color,
	}
	if ev.AllDay {
		e.Start.Date = start.Format(model.DateLayout)
		e.End.Date = end.Format(model.DateLayout)
		return e
	}
	e.Start = model.EventTime{DateTime: start.Format(time.RFC3339), TimeZone: ev.StartTZ}
	e.End = model.EventTime{DateTime: end.Format(time.RFC3339), TimeZone: ev.StartTZ}
	return e
}
