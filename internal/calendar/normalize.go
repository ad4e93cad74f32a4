// Package calendar turns fetched events into per-day buckets in a fixed
// reference timezone and lays those buckets out as day, week and month grids.
package calendar

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"calboard/internal/model"
)

// ErrInvalidTemporalValue marks a start/end value that cannot be read as
// either an instant or a civil date.
var ErrInvalidTemporalValue = errors.New("invalid temporal value")

// TemporalError reports the offending raw value.
type TemporalError struct {
	Value string
	Err   error
}

func (e *TemporalError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %q", ErrInvalidTemporalValue, e.Value)
	}
	return fmt.Sprintf("%s: %q: %v", ErrInvalidTemporalValue, e.Value, e.Err)
}

func (e *TemporalError) Unwrap() []error {
	if e.Err == nil {
		return []error{ErrInvalidTemporalValue}
	}
	return []error{ErrInvalidTemporalValue, e.Err}
}

// localDateTimeLayout is an RFC 3339 timestamp without offset.
const localDateTimeLayout = "2006-01-02T15:04:05"

// Normalizer converts event times into civil dates of the reference zone.
type Normalizer struct {
	loc *time.Location
}

// NewNormalizer returns a Normalizer for loc. A nil loc means time.Local.
func NewNormalizer(loc *time.Location) *Normalizer {
	if loc == nil {
		loc = time.Local
	}
	return &Normalizer{loc: loc}
}

// Location returns the reference zone.
func (n *Normalizer) Location() *time.Location {
	return n.loc
}

// Today returns the civil date of now in the reference zone.
func (n *Normalizer) Today(now time.Time) model.Date {
	return model.DateOf(now.In(n.loc))
}

// Midnight returns the instant at which d begins in the reference zone.
func (n *Normalizer) Midnight(d model.Date) time.Time {
	return d.In(n.loc)
}

// Date resolves t to a civil date in the reference zone. Instants are
// converted absolutely; civil dates pass through untouched.
func (n *Normalizer) Date(t model.EventTime) (model.Date, error) {
	if t.IsInstant() {
		inst, err := n.Instant(t)
		if err != nil {
			return model.Date{}, err
		}
		return model.DateOf(inst.In(n.loc)), nil
	}
	if t.Date == "" {
		return model.Date{}, &TemporalError{Value: "", Err: errors.New("empty value")}
	}
	d, err := model.ParseDate(strings.TrimSpace(t.Date))
	if err != nil {
		return model.Date{}, &TemporalError{Value: t.Date, Err: err}
	}
	return d, nil
}

// Instant parses the DateTime form of t. Timestamps without an offset are
// read in t.TimeZone when it loads, otherwise in the reference zone.
func (n *Normalizer) Instant(t model.EventTime) (time.Time, error) {
	raw := strings.TrimSpace(t.DateTime)
	if raw == "" {
		return time.Time{}, &TemporalError{Value: t.DateTime, Err: errors.New("not an instant")}
	}
	if inst, err := time.Parse(time.RFC3339Nano, raw); err == nil {
		return inst, nil
	}
	loc := n.loc
	if t.TimeZone != "" {
		if l, err := time.LoadLocation(t.TimeZone); err == nil {
			loc = l
		}
	}
	inst, err := time.ParseInLocation(localDateTimeLayout, raw, loc)
	if err != nil {
		return time.Time{}, &TemporalError{Value: t.DateTime, Err: err}
	}
	return inst, nil
}

// sortKey orders events within a bucket: timed events by instant, all-day
// events by the reference-zone midnight of their date.
func (n *Normalizer) sortKey(t model.EventTime) (time.Time, error) {
	if t.IsInstant() {
		return n.Instant(t)
	}
	d, err := n.Date(t)
	if err != nil {
		return time.Time{}, err
	}
	return n.Midnight(d), nil
}
