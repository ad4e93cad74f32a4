package credential

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"

	appLog "calboard/internal/log"
	"calboard/internal/store"
)

// CalendarReadonlyScope is the OAuth scope the dashboard asks for.
const CalendarReadonlyScope = "https://www.googleapis.com/auth/calendar.readonly"

// Grant is what a provider hands back on success. A zero TTL means the
// provider did not say; the policy default applies.
type Grant struct {
	AccessToken  string
	RefreshToken string
	TTL          time.Duration
}

// Provider obtains a fresh access token.
type Provider interface {
	Acquire(ctx context.Context) (Grant, error)
}

// ErrNoRefreshToken is returned when the refresh provider has nothing to
// exchange. Run the interactive login first.
var ErrNoRefreshToken = errors.New("no refresh token stored")

// NewOAuthConfig returns a Google OAuth2 config for the calendar scope.
func NewOAuthConfig(clientID, clientSecret string, scopes []string) *oauth2.Config {
	if len(scopes) == 0 {
		scopes = []string{CalendarReadonlyScope}
	}
	return &oauth2.Config{
		ClientID:     clientID,
		ClientSecret: clientSecret,
		Endpoint:     google.Endpoint,
		Scopes:       scopes,
	}
}

// RefreshTokenProvider exchanges a stored refresh token for an access token.
// It needs no user interaction, so it serves the automatic daily login.
type RefreshTokenProvider struct {
	Config *oauth2.Config
	Store  store.KeyValueStore
	// Fallback is used when the store holds no refresh token.
	Fallback string
}

func (p *RefreshTokenProvider) refreshToken(ctx context.Context) (string, error) {
	if p.Store != nil {
		rt, ok, err := p.Store.Get(ctx, store.KeyRefreshToken)
		if err != nil {
			return "", fmt.Errorf("reading refresh token: %w", err)
		}
		if ok && rt != "" {
			return rt, nil
		}
	}
	if p.Fallback != "" {
		return p.Fallback, nil
	}
	return "", ErrNoRefreshToken
}

func (p *RefreshTokenProvider) Acquire(ctx context.Context) (Grant, error) {
	rt, err := p.refreshToken(ctx)
	if err != nil {
		return Grant{}, err
	}

	tok, err := p.Config.TokenSource(ctx, &oauth2.Token{RefreshToken: rt}).Token()
	if err != nil {
		return Grant{}, fmt.Errorf("refreshing token: %w", err)
	}

	g := Grant{AccessToken: tok.AccessToken, TTL: ttlOf(tok)}
	if tok.RefreshToken != "" && tok.RefreshToken != rt {
		g.RefreshToken = tok.RefreshToken
	}
	return g, nil
}

// DeviceFlowProvider runs the OAuth device authorization flow. Prompt is
// shown the verification URL and user code and must not block.
type DeviceFlowProvider struct {
	Config *oauth2.Config
	Prompt func(verificationURL, userCode string)
}

func (p *DeviceFlowProvider) Acquire(ctx context.Context) (Grant, error) {
	resp, err := p.Config.DeviceAuth(ctx)
	if err != nil {
		return Grant{}, fmt.Errorf("device authorization: %w", err)
	}

	url := resp.VerificationURIComplete
	if url == "" {
		url = resp.VerificationURI
	}
	if p.Prompt != nil {
		p.Prompt(url, resp.UserCode)
	} else {
		appLog.Info("credential: complete login in a browser", "url", url, "code", resp.UserCode)
	}

	tok, err := p.Config.DeviceAccessToken(ctx, resp)
	if err != nil {
		return Grant{}, fmt.Errorf("device token: %w", err)
	}
	return Grant{AccessToken: tok.AccessToken, RefreshToken: tok.RefreshToken, TTL: ttlOf(tok)}, nil
}

// FallbackProvider tries each provider in turn and returns the first success.
type FallbackProvider []Provider

func (f FallbackProvider) Acquire(ctx context.Context) (Grant, error) {
	var errs []error
	for _, p := range f {
		g, err := p.Acquire(ctx)
		if err == nil {
			return g, nil
		}
		errs = append(errs, err)
	}
	if len(errs) == 0 {
		return Grant{}, errors.New("no credential provider configured")
	}
	return Grant{}, errors.Join(errs...)
}

func ttlOf(tok *oauth2.Token) time.Duration {
	if tok.Expiry.IsZero() {
		return 0
	}
	ttl := time.Until(tok.Expiry)
	if ttl < 0 {
		return 0
	}
	return ttl
}
