// Package token owns the access token for one page session: it hands out the
// held token, refreshes it silently, and falls back to a login redirect.
package token

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/oauth2"
	"golang.org/x/sync/singleflight"

	"kcsession/internal/environment"
)

// DefaultMinValidity is how close to expiry a held token may be before it is refreshed.
const DefaultMinValidity = 5 * time.Second

// refreshTimeout bounds a shared refresh once no caller's context governs it.
const refreshTimeout = 30 * time.Second

var (
	ErrNoRefreshToken = errors.New("no refresh token held")
	ErrEmptyToken     = errors.New("token endpoint returned no access token")
)

// Navigator performs the full-page navigation to the login page.
type Navigator interface {
	Navigate(loginURL string)
}

type NavigatorFunc func(loginURL string)

func (f NavigatorFunc) Navigate(loginURL string) { f(loginURL) }

// Broker is safe for concurrent use. Concurrent refreshes are coalesced so a
// burst of failing callers produces a single login redirect.
type Broker struct {
	oauth       *oauth2.Config
	httpClient  *http.Client
	nav         Navigator
	clk         clock.Clock
	log         *zap.SugaredLogger
	minValidity time.Duration

	mu      sync.Mutex
	tok     *oauth2.Token
	pending *Grant

	sf singleflight.Group
}

type Option func(*Broker)

func WithHTTPClient(c *http.Client) Option { return func(b *Broker) { b.httpClient = c } }
func WithNavigator(n Navigator) Option { return func(b *Broker) { b.nav = n } }
func WithClock(c clock.Clock) Option { return func(b *Broker) { b.clk = c } }
func WithLogger(l *zap.SugaredLogger) Option {
	return func(b *Broker) { b.log = l }
}
func WithMinValidity(d time.Duration) Option { return func(b *Broker) { b.minValidity = d } }
func WithScopes(scopes ...string) Option {
	return func(b *Broker) { b.oauth.Scopes = scopes }
}

// WithToken seeds the broker with tokens handed to the page. The access
// token's expiry is read from its exp claim.
func WithToken(accessToken, refreshToken string) Option {
	return func(b *Broker) {
		if accessToken == "" && refreshToken == "" {
			return
		}
		b.tok = &oauth2.Token{
			AccessToken:  accessToken,
			RefreshToken: refreshToken,
			TokenType:    "Bearer",
			Expiry:       expiryFromJWT(accessToken),
		}
	}
}

// NewBroker builds a broker for the tenant's account console client.
func NewBroker(env environment.Environment, opts ...Option) *Broker {
	clientID := env.ClientID
	if clientID == "" {
		clientID = environment.DefaultClientID
	}
	b := &Broker{
		oauth: &oauth2.Config{
			ClientID:    clientID,
			RedirectURL: env.RedirectURL(),
			Scopes:      []string{"openid"},
			Endpoint: oauth2.Endpoint{
				AuthURL:   env.AuthURL(),
				TokenURL:  env.TokenURL(),
				AuthStyle: oauth2.AuthStyleInParams,
			},
		},
		httpClient:  http.DefaultClient,
		clk:         clock.New(),
		log:         zap.NewNop().Sugar(),
		minValidity: DefaultMinValidity,
	}
	for _, fn := range opts {
		fn(b)
	}
	return b
}

type requestOptions struct {
	locale string
}

type RequestOption func(*requestOptions)

// WithLocale makes a forced login redirect open in the user's language.
func WithLocale(locale string) RequestOption {
	return func(o *requestOptions) { o.locale = locale }
}

// AccessToken returns a Ready grant with a usable token, refreshing when the
// held one is missing or about to expire. When no token can be obtained it
// triggers the login redirect once and returns RedirectPending.
func (b *Broker) AccessToken(ctx context.Context, opts ...RequestOption) Grant {
	var ro requestOptions
	for _, fn := range opts {
		fn(&ro)
	}

	b.mu.Lock()
	if b.pending != nil {
		g := *b.pending
		b.mu.Unlock()
		return g
	}
	if b.usable(b.tok) {
		access := b.tok.AccessToken
		b.mu.Unlock()
		return readyGrant(access)
	}
	b.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return Grant{State: Failed, Err: err}
	}
	// The flight outlives any single caller; each caller only stops waiting.
	flight := b.sf.DoChan("refresh", func() (any, error) {
		fctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), refreshTimeout)
		defer cancel()
		return b.refresh(fctx)
	})
	select {
	case <-ctx.Done():
		return Grant{State: Failed, Err: ctx.Err()}
	case res := <-flight:
		if res.Err == nil {
			return readyGrant(res.Val.(string))
		}
		b.log.Debugw("silent refresh failed", "err", res.Err, "shared", res.Shared)
		return b.redirect(ro.locale)
	}
}

// Held reports the current access token without refreshing.
func (b *Broker) Held() (string, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.tok == nil || b.tok.AccessToken == "" {
		return "", false
	}
	return b.tok.AccessToken, true
}

func (b *Broker) usable(t *oauth2.Token) bool {
	if t == nil || t.AccessToken == "" {
		return false
	}
	if t.Expiry.IsZero() {
		return true
	}
	return t.Expiry.After(b.clk.Now().Add(b.minValidity))
}

func (b *Broker) refresh(ctx context.Context) (string, error) {
	b.mu.Lock()
	// Another flight may have finished between the check and DoChan.
	if b.usable(b.tok) {
		access := b.tok.AccessToken
		b.mu.Unlock()
		return access, nil
	}
	var refreshToken string
	if b.tok != nil {
		refreshToken = b.tok.RefreshToken
	}
	b.mu.Unlock()

	if refreshToken == "" {
		return "", ErrNoRefreshToken
	}

	ctx = context.WithValue(ctx, oauth2.HTTPClient, b.httpClient)
	// An empty access token forces the source to hit the token endpoint.
	fresh, err := b.oauth.TokenSource(ctx, &oauth2.Token{RefreshToken: refreshToken}).Token()
	if err != nil {
		return "", fmt.Errorf("refresh token grant: %w", err)
	}
	if fresh.AccessToken == "" {
		return "", ErrEmptyToken
	}
	if fresh.Expiry.IsZero() {
		fresh.Expiry = expiryFromJWT(fresh.AccessToken)
	}
	if fresh.RefreshToken == "" {
		fresh.RefreshToken = refreshToken
	}

	b.mu.Lock()
	b.tok = fresh
	b.mu.Unlock()
	b.log.Debugw("access token refreshed", "expiry", fresh.Expiry)
	return fresh.AccessToken, nil
}

func (b *Broker) redirect(locale string) Grant {
	b.mu.Lock()
	if b.pending != nil {
		g := *b.pending
		b.mu.Unlock()
		return g
	}
	verifier := oauth2.GenerateVerifier()
	state := uuid.NewString()
	params := []oauth2.AuthCodeOption{oauth2.S256ChallengeOption(verifier)}
	if locale != "" {
		params = append(params, oauth2.SetAuthURLParam("ui_locales", locale))
	}
	g := Grant{
		State: RedirectPending,
		Redirect: LoginRedirect{
			URL:          b.oauth.AuthCodeURL(state, params...),
			State:        state,
			CodeVerifier: verifier,
		},
	}
	b.pending = &g
	b.mu.Unlock()

	b.log.Infow("login redirect triggered", "locale", locale)
	if b.nav != nil {
		b.nav.Navigate(g.Redirect.URL)
	}
	return g
}
