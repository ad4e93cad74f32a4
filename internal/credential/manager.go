// Package credential tracks the calendar access token and decides when the
// dashboard may try to obtain a new one on its own.
package credential

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	appLog "calboard/internal/log"
	"calboard/internal/model"
	"calboard/internal/store"
)

// State is the credential lifecycle state.
type State int

const (
	NoCredential State = iota
	Valid
	ExpiringSoon
	Expired
)

func (s State) String() string {
	switch s {
	case Valid:
		return "valid"
	case ExpiringSoon:
		return "expiring_soon"
	case Expired:
		return "expired"
	default:
		return "no_credential"
	}
}

// Credential is the current access token.
type Credential struct {
	Token     string
	ExpiresAt time.Time
	CreatedAt time.Time
}

// Kind says why an acquisition was started.
type Kind int

const (
	AutoLogin Kind = iota
	AutoRenew
	Manual
)

func (k Kind) String() string {
	switch k {
	case AutoRenew:
		return "auto_renew"
	case Manual:
		return "manual"
	default:
		return "auto_login"
	}
}

// Attempt is one acquisition in progress.
type Attempt struct {
	ID        string
	Kind      Kind
	StartedAt time.Time
}

// AcquisitionError wraps a failed login or renewal.
type AcquisitionError struct {
	Kind Kind
	Err  error
}

func (e *AcquisitionError) Error() string {
	return fmt.Sprintf("credential %s failed: %v", e.Kind, e.Err)
}

func (e *AcquisitionError) Unwrap() error { return e.Err }

// Persister receives fire-and-forget writes. *store.AsyncWriter satisfies it.
type Persister interface {
	Set(key, value string)
	Delete(key string)
}

// Manager owns the credential state. It is not safe for concurrent use; the
// refresh loop is its only caller.
type Manager struct {
	policy   Policy
	provider Provider
	persist  Persister

	cred           *Credential
	lastAuto       model.Date
	inFlight       *Attempt
	sessionExpired bool
}

// NewManager returns a Manager with no credential.
func NewManager(policy Policy, provider Provider, persist Persister) *Manager {
	return &Manager{
		policy:   policy,
		provider: provider,
		persist:  persist,
	}
}

// Policy returns the manager's timing rules.
func (m *Manager) Policy() Policy {
	return m.policy
}

// Restore loads persisted state. Missing keys are normal; unreadable values
// are logged and ignored.
func (m *Manager) Restore(ctx context.Context, kv store.KeyValueStore) error {
	token, hasToken, err := kv.Get(ctx, store.KeyToken)
	if err != nil {
		return fmt.Errorf("restoring token: %w", err)
	}
	expiresRaw, hasExpiry, err := kv.Get(ctx, store.KeyExpiresAt)
	if err != nil {
		return fmt.Errorf("restoring expiry: %w", err)
	}
	createdRaw, _, err := kv.Get(ctx, store.KeyCreatedAt)
	if err != nil {
		return fmt.Errorf("restoring created_at: %w", err)
	}
	lastRaw, hasLast, err := kv.Get(ctx, store.KeyLastAutoAttempt)
	if err != nil {
		return fmt.Errorf("restoring last attempt: %w", err)
	}

	if hasToken && hasExpiry && token != "" {
		expiresAt, perr := time.Parse(time.RFC3339Nano, expiresRaw)
		if perr != nil {
			appLog.Warn("credential: ignoring unreadable stored expiry", "value", expiresRaw)
		} else {
			createdAt, _ := time.Parse(time.RFC3339Nano, createdRaw)
			m.cred = &Credential{Token: token, ExpiresAt: expiresAt, CreatedAt: createdAt}
		}
	}

	if hasLast {
		d, perr := model.ParseDate(lastRaw)
		if perr != nil {
			appLog.Warn("credential: ignoring unreadable last attempt date", "value", lastRaw)
		} else {
			m.lastAuto = d
		}
	}

	appLog.Info("credential: restored",
		"has_token", m.cred != nil,
		"last_auto_attempt", m.lastAuto,
	)
	return nil
}

// State returns the lifecycle state at now.
func (m *Manager) State(now time.Time) State {
	return m.policy.StateAt(m.cred, now)
}

// Current returns a copy of the credential, if any.
func (m *Manager) Current() (Credential, bool) {
	if m.cred == nil {
		return Credential{}, false
	}
	return *m.cred, true
}

// Token returns the access token when it may be used to query the source.
func (m *Manager) Token(now time.Time) (string, bool) {
	switch m.State(now) {
	case Valid, ExpiringSoon:
		return m.cred.Token, true
	default:
		return "", false
	}
}

// SessionExpired reports whether the last credential was lost to expiry or
// an authentication failure and nothing has replaced it yet.
func (m *Manager) SessionExpired() bool {
	return m.sessionExpired
}

// LastAutoAttempt returns the day of the last recorded automatic attempt.
func (m *Manager) LastAutoAttempt() (model.Date, bool) {
	return m.lastAuto, !m.lastAuto.IsZero()
}

// InFlight returns the attempt currently running, if any.
func (m *Manager) InFlight() *Attempt {
	return m.inFlight
}

// Check runs the periodic evaluation. An expired credential is dropped. If
// the policy allows an automatic attempt now, the attempt is recorded
// against today's budget and returned; the caller runs it and reports back
// through Finish.
func (m *Manager) Check(now time.Time) *Attempt {
	if m.State(now) == Expired {
		m.invalidate("expired", true)
	}

	if m.inFlight != nil {
		return nil
	}
	if m.policy.AttemptedOn(m.lastAuto, now) {
		return nil
	}

	var kind Kind
	switch m.State(now) {
	case NoCredential:
		if !m.policy.InWindow(now) {
			return nil
		}
		kind = AutoLogin
	case ExpiringSoon:
		kind = AutoRenew
	default:
		return nil
	}

	return m.begin(kind, now)
}

// BeginManual starts a user-initiated acquisition. It is never rate limited
// and it consumes today's automatic budget.
func (m *Manager) BeginManual(now time.Time) *Attempt {
	return m.begin(Manual, now)
}

func (m *Manager) begin(kind Kind, now time.Time) *Attempt {
	today := m.policy.Today(now)
	m.lastAuto = today
	m.persist.Set(store.KeyLastAutoAttempt, today.String())

	a := &Attempt{ID: uuid.NewString(), Kind: kind, StartedAt: now}
	m.inFlight = a
	appLog.Info("credential: acquisition started", "attempt", a.ID, "kind", kind, "day", today)
	return a
}

// Run calls the provider for a. It touches no manager state and may run on
// any goroutine.
func (m *Manager) Run(ctx context.Context, a *Attempt) (Grant, error) {
	if m.provider == nil {
		return Grant{}, errors.New("no credential provider configured")
	}
	return m.provider.Acquire(ctx)
}

// Finish applies the outcome of a. On success the new credential supersedes
// any previous one, with expiry measured from now.
func (m *Manager) Finish(a *Attempt, g Grant, err error, now time.Time) error {
	if m.inFlight == a {
		m.inFlight = nil
	}

	if err == nil && g.AccessToken == "" {
		err = errors.New("provider returned an empty access token")
	}
	if err != nil {
		aerr := &AcquisitionError{Kind: a.Kind, Err: err}
		appLog.Error("credential: acquisition failed", aerr, "attempt", a.ID, "kind", a.Kind)
		return aerr
	}

	ttl := g.TTL
	if ttl <= 0 {
		ttl = m.policy.DefaultTTL
	}
	m.cred = &Credential{Token: g.AccessToken, CreatedAt: now, ExpiresAt: now.Add(ttl)}
	m.sessionExpired = false

	m.persist.Set(store.KeyToken, m.cred.Token)
	m.persist.Set(store.KeyExpiresAt, m.cred.ExpiresAt.Format(time.RFC3339Nano))
	m.persist.Set(store.KeyCreatedAt, m.cred.CreatedAt.Format(time.RFC3339Nano))
	if g.RefreshToken != "" {
		m.persist.Set(store.KeyRefreshToken, g.RefreshToken)
	}

	appLog.Info("credential: acquired",
		"attempt", a.ID,
		"kind", a.Kind,
		"expires_at", m.cred.ExpiresAt.In(m.policy.loc()).Format(time.RFC3339),
	)
	return nil
}

// Acquire runs a manual acquisition synchronously.
func (m *Manager) Acquire(ctx context.Context, now func() time.Time) error {
	a := m.BeginManual(now())
	g, err := m.Run(ctx, a)
	return m.Finish(a, g, err, now())
}

// AuthFailed drops the credential after the data source rejected it.
func (m *Manager) AuthFailed() {
	m.invalidate("auth_failed", true)
}

// Logout drops the credential at the user's request.
func (m *Manager) Logout() {
	m.invalidate("logout", false)
}

func (m *Manager) invalidate(reason string, expired bool) {
	if m.cred == nil {
		return
	}
	m.cred = nil
	m.sessionExpired = expired
	m.persist.Delete(store.KeyToken)
	m.persist.Delete(store.KeyExpiresAt)
	m.persist.Delete(store.KeyCreatedAt)
	appLog.Info("credential: invalidated", "reason", reason)
}

// NextAutoAttempt returns when the next automatic attempt could start.
func (m *Manager) NextAutoAttempt(now time.Time) time.Time {
	switch m.State(now) {
	case Valid, ExpiringSoon:
		renewAt := m.cred.ExpiresAt.Add(-m.policy.WarnBefore)
		if renewAt.Before(now) {
			renewAt = now
		}
		if m.policy.Today(renewAt) != m.lastAuto {
			return renewAt
		}
		// Today's budget is spent: the token will lapse and the next
		// chance is a later daily window.
		return m.policy.nextWindow(m.cred.ExpiresAt, m.lastAuto)
	default:
		return m.policy.nextWindow(now, m.lastAuto)
	}
}
