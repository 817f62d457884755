package google

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	calendar "google.golang.org/api/calendar/v3"

	"github.com/teemow/urmindr/internal/instrumentation"
)

// RefreshThreshold is how close to expiry a credential must be before it is
// refreshed.
const RefreshThreshold = 5 * time.Minute

var (
	// ErrNotConfigured is returned when no OAuth client is configured.
	ErrNotConfigured = errors.New("google oauth client is not configured")

	// ErrNoCredential is returned when a tool needs delegated access and the
	// caller supplied none.
	ErrNoCredential = errors.New("no delegated credential")

	// ErrCredentialExpired is returned for an expired credential that cannot
	// be refreshed.
	ErrCredentialExpired = errors.New("delegated credential expired")

	// ErrRefreshFailed wraps a failed refresh.
	ErrRefreshFailed = errors.New("failed to refresh delegated credential")
)

// Scopes requested for delegated calendar access.
var Scopes = []string{calendar.CalendarScope}

// OAuthConfig holds the OAuth client registration.
type OAuthConfig struct {
	ClientID     string
	ClientSecret string
	RedirectURL  string
}

// OAuth wraps the oauth2 configuration for the calendar scope.
type OAuth struct {
	config     *oauth2.Config
	httpClient *http.Client
	metrics    *instrumentation.Metrics
	logger     *slog.Logger
	now        func() time.Time
}

// Option customizes an OAuth.
type Option func(*OAuth)

// WithHTTPClient sets the client used for token endpoint calls.
func WithHTTPClient(c *http.Client) Option {
	return func(o *OAuth) { o.httpClient = c }
}

// WithMetrics records refresh outcomes.
func WithMetrics(m *instrumentation.Metrics) Option {
	return func(o *OAuth) { o.metrics = m }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(o *OAuth) { o.logger = l }
}

// WithEndpoint overrides the Google endpoint, used by tests.
func WithEndpoint(e oauth2.Endpoint) Option {
	return func(o *OAuth) { o.config.Endpoint = e }
}

// NewOAuth builds the calendar OAuth configuration. An empty client id
// yields an OAuth whose Configured method reports false.
func NewOAuth(cfg OAuthConfig, opts ...Option) *OAuth {
	o := &OAuth{
		config: &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			Endpoint:     google.Endpoint,
			RedirectURL:  cfg.RedirectURL,
			Scopes:       Scopes,
		},
		logger: slog.Default(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Configured reports whether a client id and redirect URL are set.
func (o *OAuth) Configured() bool {
	return o != nil && o.config.ClientID != "" && o.config.RedirectURL != ""
}

// AuthURL returns the consent URL for state. Offline access is requested so
// the callback yields a refresh token.
func (o *OAuth) AuthURL(state string) (string, error) {
	if !o.Configured() {
		return "", ErrNotConfigured
	}
	return o.config.AuthCodeURL(state, oauth2.AccessTypeOffline, oauth2.ApprovalForce), nil
}

// Exchange trades an authorization code for a credential.
func (o *OAuth) Exchange(ctx context.Context, code string) (*Credential, error) {
	if !o.Configured() {
		return nil, ErrNotConfigured
	}
	tok, err := o.config.Exchange(o.clientContext(ctx), code)
	if err != nil {
		return nil, fmt.Errorf("failed to exchange auth code: %w", err)
	}
	return CredentialFromToken(tok), nil
}

// RefreshIfNeeded returns cred unchanged while it is valid beyond
// RefreshThreshold. Otherwise it refreshes with the refresh token and reports
// refreshed=true.
func (o *OAuth) RefreshIfNeeded(ctx context.Context, cred *Credential) (fresh *Credential, refreshed bool, err error) {
	if cred == nil || cred.AccessToken == "" {
		return nil, false, ErrNoCredential
	}

	tok := cred.Token()
	if !isTokenExpired(tok, o.now(), RefreshThreshold) {
		return cred, false, nil
	}

	if tok.RefreshToken == "" {
		// Still usable for a few minutes without a refresh token.
		if tok.Expiry.After(o.now()) {
			return cred, false, nil
		}
		return nil, false, ErrCredentialExpired
	}
	if !o.Configured() {
		return nil, false, fmt.Errorf("%w: %w", ErrRefreshFailed, ErrNotConfigured)
	}

	// Force the token source to hit the token endpoint.
	tok.Expiry = o.now().Add(-time.Minute)
	newTok, err := o.config.TokenSource(o.clientContext(ctx), tok).Token()
	if err != nil {
		o.metrics.RecordOAuthTokenRefresh(ctx, instrumentation.RefreshResultFailure)
		o.logger.Warn("delegated credential refresh failed", "error", err)
		return nil, false, fmt.Errorf("%w: %w", ErrRefreshFailed, err)
	}
	o.metrics.RecordOAuthTokenRefresh(ctx, instrumentation.RefreshResultSuccess)

	if newTok.RefreshToken == "" {
		newTok.RefreshToken = cred.RefreshToken
	}
	return CredentialFromToken(newTok), true, nil
}

func (o *OAuth) clientContext(ctx context.Context) context.Context {
	if o.httpClient != nil {
		return context.WithValue(ctx, oauth2.HTTPClient, o.httpClient)
	}
	return ctx
}

// isTokenExpired reports whether tok expires within threshold of now.
// Tokens without expiry never expire.
func isTokenExpired(tok *oauth2.Token, now time.Time, threshold time.Duration) bool {
	if tok.Expiry.IsZero() {
		return false
	}
	return now.Add(threshold).After(tok.Expiry)
}
