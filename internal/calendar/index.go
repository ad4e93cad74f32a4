package calendar

import (
	"fmt"
	"sort"
	"time"

	appLog "calboard/internal/log"
	"calboard/internal/model"
)

// maxSpanDays caps how many buckets a single event may occupy. Days past the
// cap are dropped with a warning.
const maxSpanDays = 366

// MalformedEventError records an event dropped from the index because its
// start could not be resolved.
type MalformedEventError struct {
	EventID string
	Summary string
	Err     error
}

func (e *MalformedEventError) Error() string {
	return fmt.Sprintf("malformed event %q: %v", e.EventID, e.Err)
}

func (e *MalformedEventError) Unwrap() error { return e.Err }

// Index maps YYYY-MM-DD keys in the reference zone to the events covering
// that day. It owns a private copy of the events; buckets hold pointers into it.
type Index struct {
	events    []model.Event
	buckets   map[string][]*model.Event
	malformed []*MalformedEventError
}

type indexEntry struct {
	ev    *model.Event
	key   time.Time
	order int
}

// BuildIndex indexes every event into every day it covers.
//
//   - Timed events land on their start day and, when the end falls on a
//     later day, on every following day through the end day inclusive.
//   - All-day events cover start through end-1 (end is exclusive); a
//     missing or non-increasing end makes them single-day.
//   - Events whose start cannot be resolved are skipped and recorded.
func BuildIndex(events []model.Event, n *Normalizer) *Index {
	ix := &Index{
		events:  append([]model.Event(nil), events...),
		buckets: make(map[string][]*model.Event),
	}

	entries := make(map[string][]indexEntry)

	for i := range ix.events {
		ev := &ix.events[i]

		days, key, err := n.coveredDays(ev)
		if err != nil {
			merr := &MalformedEventError{EventID: ev.ID, Summary: ev.Summary, Err: err}
			ix.malformed = append(ix.malformed, merr)
			appLog.Warn("calendar: skipping malformed event", "id", ev.ID, "source", ev.SourceID, "reason", err)
			continue
		}

		for _, d := range days {
			k := d.String()
			entries[k] = append(entries[k], indexEntry{ev: ev, key: key, order: i})
		}
	}

	for k, list := range entries {
		sort.SliceStable(list, func(a, b int) bool {
			if !list[a].key.Equal(list[b].key) {
				return list[a].key.Before(list[b].key)
			}
			return list[a].order < list[b].order
		})
		refs := make([]*model.Event, len(list))
		for i, e := range list {
			refs[i] = e.ev
		}
		ix.buckets[k] = refs
	}

	if len(ix.malformed) > 0 {
		appLog.Info("calendar: index built with skipped events",
			"events", len(ix.events),
			"days", len(ix.buckets),
			"malformed", len(ix.malformed),
		)
	}

	return ix
}

// coveredDays returns the civil dates ev occupies plus its sort key.
func (n *Normalizer) coveredDays(ev *model.Event) ([]model.Date, time.Time, error) {
	if ev.Start.IsZero() {
		return nil, time.Time{}, &TemporalError{Value: "", Err: fmt.Errorf("missing start")}
	}

	startDay, err := n.Date(ev.Start)
	if err != nil {
		return nil, time.Time{}, err
	}
	key, err := n.sortKey(ev.Start)
	if err != nil {
		return nil, time.Time{}, err
	}

	if ev.Start.IsInstant() {
		return n.timedDays(ev, startDay), key, nil
	}
	return n.allDayDays(ev, startDay), key, nil
}

func (n *Normalizer) timedDays(ev *model.Event, startDay model.Date) []model.Date {
	days := []model.Date{startDay}
	if ev.End.IsZero() {
		return days
	}
	endDay, err := n.Date(ev.End)
	if err != nil {
		appLog.Debug("calendar: unreadable end, treating as single day", "id", ev.ID, "reason", err)
		return days
	}
	// The end instant lies inside endDay, so endDay itself is covered.
	return spanDays(ev, days, endDay)
}

func (n *Normalizer) allDayDays(ev *model.Event, startDay model.Date) []model.Date {
	days := []model.Date{startDay}
	if ev.End.IsZero() {
		return days
	}
	endDay, err := n.Date(ev.End)
	if err != nil {
		appLog.Debug("calendar: unreadable all-day end, treating as single day", "id", ev.ID, "reason", err)
		return days
	}
	// End is exclusive for date-only ranges.
	return spanDays(ev, days, endDay.AddDays(-1))
}

// spanDays extends days, which holds the start day, through last.
func spanDays(ev *model.Event, days []model.Date, last model.Date) []model.Date {
	for d := days[0].AddDays(1); !d.After(last); d = d.AddDays(1) {
		if len(days) == maxSpanDays {
			appLog.Warn("calendar: event span truncated", "id", ev.ID, "start", days[0], "end", last, "max_days", maxSpanDays)
			break
		}
		days = append(days, d)
	}
	return days
}

// Lookup returns the bucket for d, or nil.
func (ix *Index) Lookup(d model.Date) []*model.Event {
	if ix == nil {
		return nil
	}
	return ix.buckets[d.String()]
}

// Keys returns all bucket keys in ascending order.
func (ix *Index) Keys() []string {
	if ix == nil {
		return nil
	}
	keys := make([]string, 0, len(ix.buckets))
	for k := range ix.buckets {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Len returns the number of events the index was built from, including
// malformed ones.
func (ix *Index) Len() int {
	if ix == nil {
		return 0
	}
	return len(ix.events)
}

// Malformed returns the events skipped during indexing.
func (ix *Index) Malformed() []*MalformedEventError {
	if ix == nil {
		return nil
	}
	return ix.malformed
}
