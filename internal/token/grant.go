package token

import (
	"time"

	"github.com/lestrrat-go/jwx/v2/jwt"
)

type State int

const (
	// Ready: Token is usable.
	Ready State = iota
	// RedirectPending: the browser is navigating to the login page. Callers
	// keep their loading state and must not show an error.
	RedirectPending
	// Failed: the attempt was abandoned (typically a cancelled context).
	Failed
)

func (s State) String() string {
	switch s {
	case Ready:
		return "ready"
	case RedirectPending:
		return "redirect_pending"
	case Failed:
		return "failed"
	}
	return "unknown"
}

// LoginRedirect is the authorization-code request the browser is sent to.
// State and CodeVerifier must survive the round trip to complete the login.
type LoginRedirect struct {
	URL          string `json:"url"`
	State        string `json:"-"`
	CodeVerifier string `json:"-"`
}

// Grant is the outcome of asking the broker for a token.
type Grant struct {
	State    State
	Token    string
	Redirect LoginRedirect
	Err      error
}

func readyGrant(token string) Grant { return Grant{State: Ready, Token: token} }

// NoToken is a Ready grant carrying no bearer; requests rely on cookies alone.
func NoToken() Grant { return Grant{State: Ready} }

func (g Grant) Ready() bool { return g.State == Ready }

// expiryFromJWT reads exp without verifying the signature; the resource
// server verifies. Opaque tokens yield the zero time (no known expiry).
func expiryFromJWT(raw string) time.Time {
	if raw == "" {
		return time.Time{}
	}
	t, err := jwt.ParseString(raw, jwt.WithVerify(false), jwt.WithValidate(false))
	if err != nil {
		return time.Time{}
	}
	return t.Expiration()
}
