package refresh

import (
	"time"

	"calboard/internal/calendar"
	"calboard/internal/credential"
	"calboard/internal/model"
)

// CredentialStatus is the credential part of a Snapshot.
type CredentialStatus struct {
	Required        bool
	State           credential.State
	ExpiresAt       time.Time
	SessionExpired  bool
	AttemptRunning  bool
	NextAutoAttempt time.Time
}

// Snapshot is a read-only view of the coordinator, safe to hand to any
// goroutine. Grid is nil until the first successful fetch.
type Snapshot struct {
	Mode        model.ViewMode
	Today       model.Date
	Grid        *calendar.Grid
	Loading     bool
	LastRefresh time.Time
	LastError   string
	Malformed   int
	TakenAt     time.Time
	Credential  CredentialStatus
}

// Snapshot returns the state published after the last loop operation.
func (c *Coordinator) Snapshot() Snapshot {
	return *c.snap.Load()
}

func (c *Coordinator) publish() {
	now := c.clock.Now()
	s := &Snapshot{
		Mode:        c.mode,
		Today:       c.norm.Today(now),
		Grid:        c.grid,
		Loading:     len(c.pending) > 0,
		LastRefresh: c.lastRefresh,
		TakenAt:     now,
	}
	if c.lastErr != nil {
		s.LastError = c.lastErr.Error()
	}
	if c.index != nil {
		s.Malformed = len(c.index.Malformed())
	}

	s.Credential = CredentialStatus{
		Required:        c.src.RequiresCredential(),
		State:           c.creds.State(now),
		SessionExpired:  c.creds.SessionExpired(),
		AttemptRunning:  c.creds.InFlight() != nil,
		NextAutoAttempt: c.creds.NextAutoAttempt(now),
	}
	if cred, ok := c.creds.Current(); ok {
		s.Credential.ExpiresAt = cred.ExpiresAt
	}
	c.snap.Store(s)
}
