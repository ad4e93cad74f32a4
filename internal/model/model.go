package model

// Event is a single calendar entry as delivered by a data source.
//
// Start and End are kept in their source representation; conversion into
// the reference timezone happens in internal/calendar so that one bad
// value only drops its own event.
type Event struct {
	SourceID string // data source ID (config source or ICS ID)
	ID       string

	Summary     string
	Description string
	Location    string
	Color       ColorTag

	Start EventTime
	End   EventTime
}

// EventTime is either an instant (DateTime) or a civil date (Date).
type EventTime struct {
	// DateTime is an RFC 3339 timestamp. When it carries no offset it is
	// interpreted in TimeZone.
	DateTime string
	// Date is a YYYY-MM-DD civil date used by all-day events.
	Date string
	// TimeZone is the IANA zone the source attached to DateTime, if any.
	TimeZone string
}

// IsZero reports whether neither form is set.
func (t EventTime) IsZero() bool {
	return t.DateTime == "" && t.Date == ""
}

// IsInstant reports whether t is a point in time rather than a civil date.
func (t EventTime) IsInstant() bool {
	return t.DateTime != ""
}

// AllDay reports whether the event is a date-only event.
func (e *Event) AllDay() bool {
	return !e.Start.IsInstant()
}
