package credential

import (
	"time"

	"calboard/internal/model"
)

// Policy holds the timing rules for credential expiry and automatic attempts.
// Every predicate takes the current time explicitly.
type Policy struct {
	// Location is the reference zone that defines "today" and the daily window.
	Location *time.Location

	// TargetHour / TargetMinute is the daily automatic-login time.
	TargetHour   int
	TargetMinute int
	// Tolerance is the half-width of the daily window around the target.
	Tolerance time.Duration

	// WarnBefore is how long before expiry a credential counts as expiring soon.
	WarnBefore time.Duration
	// DefaultTTL applies when the provider does not report a lifetime.
	DefaultTTL time.Duration
}

// DefaultPolicy mirrors the dashboard defaults: 06:00 +-5m, 5m warning, 1h TTL.
func DefaultPolicy(loc *time.Location) Policy {
	return Policy{
		Location:     loc,
		TargetHour:   6,
		TargetMinute: 0,
		Tolerance:    5 * time.Minute,
		WarnBefore:   5 * time.Minute,
		DefaultTTL:   time.Hour,
	}
}

func (p Policy) loc() *time.Location {
	if p.Location == nil {
		return time.Local
	}
	return p.Location
}

// Today returns the reference-zone civil date of now.
func (p Policy) Today(now time.Time) model.Date {
	return model.DateOf(now.In(p.loc()))
}

// Target returns the automatic-login instant on day.
func (p Policy) Target(day model.Date) time.Time {
	return time.Date(day.Year, day.Month, day.Day, p.TargetHour, p.TargetMinute, 0, 0, p.loc())
}

// InWindow reports whether now lies strictly within Tolerance of today's target.
func (p Policy) InWindow(now time.Time) bool {
	diff := now.Sub(p.Target(p.Today(now)))
	if diff < 0 {
		diff = -diff
	}
	return diff < p.Tolerance
}

// AttemptedOn reports whether the last automatic attempt fell on the day of now.
func (p Policy) AttemptedOn(last model.Date, now time.Time) bool {
	return !last.IsZero() && last == p.Today(now)
}

// StateAt derives the lifecycle state of c at now.
func (p Policy) StateAt(c *Credential, now time.Time) State {
	switch {
	case c == nil:
		return NoCredential
	case !now.Before(c.ExpiresAt):
		return Expired
	case !now.Before(c.ExpiresAt.Add(-p.WarnBefore)):
		return ExpiringSoon
	default:
		return Valid
	}
}

// nextWindow returns the earliest moment at or after from that falls inside
// a daily window on a day other than last. Inside an open window that is
// from itself; otherwise it is the target of the next eligible day.
func (p Policy) nextWindow(from time.Time, last model.Date) time.Time {
	day := p.Today(from)
	if day != last {
		if p.InWindow(from) {
			return from
		}
		if from.Before(p.Target(day)) {
			return p.Target(day)
		}
	}
	return p.Target(day.AddDays(1))
}
