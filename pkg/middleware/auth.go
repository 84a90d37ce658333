// pkg/middleware/auth.go
package middleware

import (
	"context"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/lestrrat-go/jwx/v2/jwk"
	"github.com/lestrrat-go/jwx/v2/jwt"
	"go.uber.org/zap"

	"kcsession/pkg/config"
	"kcsession/pkg/problems"
)

// jwksCache caches JWKS sets per URL.
type jwksCache struct {
	mu   sync.RWMutex
	sets map[string]cachedJWKS
}

type cachedJWKS struct {
	set     jwk.Set
	expires time.Time
}

func (c *jwksCache) get(ctx context.Context, url string, ttl time.Duration) (jwk.Set, error) {
	c.mu.RLock()
	if e, ok := c.sets[url]; ok && time.Now().Before(e.expires) {
		c.mu.RUnlock()
		return e.set, nil
	}
	c.mu.RUnlock()

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sets == nil {
		c.sets = map[string]cachedJWKS{}
	}
	if e, ok := c.sets[url]; ok && time.Now().Before(e.expires) {
		return e.set, nil
	}
	set, err := jwk.Fetch(ctx, url)
	if err != nil {
		return nil, err
	}
	c.sets[url] = cachedJWKS{set: set, expires: time.Now().Add(ttl)}
	return set, nil
}

// Credentials are what the browser hands over for one request. The access
// token may be expired; the broker refreshes it with RefreshToken.
type Credentials struct {
	AccessToken  string
	RefreshToken string
	SessionID    string
	Subject      string
	Verified     bool // Subject comes from a signature-checked token
	Expired      bool // verified token is past its exp claim
}

type ctxCredsKey struct{}

// SessionAuth extracts the bearer token, refresh token and tab session id.
// Missing tokens pass through; the broker answers with a login redirect.
// With cfg.VerifyTokens the bearer signature and issuer are checked against
// the resolved realm; expiry is left to the broker. Must run after WithPage.
func SessionAuth(cfg config.Config, log *zap.SugaredLogger) func(http.Handler) http.Handler {
	cache := &jwksCache{}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.URL.Path == "/healthz" || r.URL.Path == "/metrics" {
				next.ServeHTTP(w, r)
				return
			}

			creds := Credentials{
				RefreshToken: strings.TrimSpace(r.Header.Get("X-Refresh-Token")),
				SessionID:    strings.TrimSpace(r.Header.Get("X-Session-Id")),
			}
			if authz := strings.TrimSpace(r.Header.Get("Authorization")); authz != "" {
				if !strings.HasPrefix(strings.ToLower(authz), "bearer ") {
					unauthorized(w, "invalid-authorization", "authorization must be a bearer token")
					return
				}
				creds.AccessToken = strings.TrimSpace(authz[len("Bearer "):])
			}

			page := PageFrom(r.Context())
			if creds.AccessToken != "" {
				if cfg.VerifyTokens && page.Resolved {
					issuer := page.Env.RealmURL()
					set, err := cache.get(r.Context(), issuer+"/protocol/openid-connect/certs", cfg.JWKSTTL)
					if err != nil {
						log.Warnw("jwks fetch failed", "realm", page.Env.Realm, "err", err)
						problems.Write(w, problems.Problem{Type: problems.Type("jwks-unavailable"), Title: "jwks fetch failed", Status: http.StatusBadGateway})
						return
					}
					jt, err := jwt.ParseString(creds.AccessToken, jwt.WithKeySet(set), jwt.WithValidate(false))
					if err != nil || strings.TrimRight(jt.Issuer(), "/") != issuer {
						unauthorized(w, "invalid-token", "token signature or issuer rejected")
						return
					}
					creds.Subject, creds.Verified = jt.Subject(), true
					if exp := jt.Expiration(); !exp.IsZero() && !exp.After(time.Now()) {
						creds.Expired = true
					}
				} else if jt, err := jwt.ParseString(creds.AccessToken, jwt.WithVerify(false), jwt.WithValidate(false)); err == nil {
					creds.Subject = jt.Subject()
				}
			}

			ctx := context.WithValue(r.Context(), ctxCredsKey{}, creds)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func unauthorized(w http.ResponseWriter, slug, detail string) {
	problems.Write(w, problems.Problem{
		Type:   problems.Type(slug),
		Title:  "unauthorized",
		Status: http.StatusUnauthorized,
		Detail: detail,
	})
}

func CredentialsFrom(ctx context.Context) Credentials {
	if v, ok := ctx.Value(ctxCredsKey{}).(Credentials); ok {
		return v
	}
	return Credentials{}
}

// CacheScope is the cache partition for the request: the token subject,
// narrowed to the tab session when one is given. Only a verified, unexpired
// token earns a scope; empty means the request must not read or write the
// shared cache.
func (c Credentials) CacheScope() string {
	if c.Subject == "" || !c.Verified || c.Expired {
		return ""
	}
	if c.SessionID != "" {
		return c.Subject + "/" + c.SessionID
	}
	return c.Subject
}
