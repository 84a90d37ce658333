// Package server exposes the account session layer over HTTP for the page
// rendering layer.
package server

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"kcsession/internal/accountapi"
	"kcsession/internal/cache"
	"kcsession/internal/metrics"
	"kcsession/internal/pagectx"
	"kcsession/internal/session"
	"kcsession/internal/token"
	"kcsession/pkg/middleware"
	"kcsession/pkg/problems"
)

// DefaultPasskeyLabel is used for credentials without a label.
const DefaultPasskeyLabel = "Passkey"

type Server struct {
	client      *accountapi.Client
	cache       *cache.Cache
	metrics     *metrics.Metrics
	log         *zap.SugaredLogger
	minValidity time.Duration
}

type Option func(*Server)

func WithCache(c *cache.Cache) Option { return func(s *Server) { s.cache = c } }
func WithMetrics(m *metrics.Metrics) Option { return func(s *Server) { s.metrics = m } }
func WithLogger(l *zap.SugaredLogger) Option { return func(s *Server) { s.log = l } }

// WithMinValidity sets how long a held token must remain valid to be reused.
func WithMinValidity(d time.Duration) Option { return func(s *Server) { s.minValidity = d } }

func New(client *accountapi.Client, opts ...Option) *Server {
	s := &Server{
		client:      client,
		log:         zap.NewNop().Sugar(),
		minValidity: token.DefaultMinValidity,
	}
	for _, fn := range opts {
		fn(s)
	}
	return s
}

// RegisterRoutes mounts the account endpoints. The router must run
// middleware.WithPage and middleware.SessionAuth first.
// GET    /v1/account                   all account data, cache-or-fresh
// GET    /v1/account/profile           normalized profile attributes
// POST   /v1/account/profile           save the profile form
// GET    /v1/account/passkeys          passkeys and whether registration is offered
// DELETE /v1/account/credentials/{id}  delete one credential
// GET    /v1/account/actions           application-initiated action URLs
func (s *Server) RegisterRoutes(r chi.Router) {
	r.Route("/v1/account", func(r chi.Router) {
		r.Get("/", s.getAccount)
		r.Get("/profile", s.getProfile)
		r.Post("/profile", s.saveProfile)
		r.Get("/passkeys", s.getPasskeys)
		r.Delete("/credentials/{id}", s.deleteCredential)
		r.Get("/actions", s.getActions)
	})
}

// pageSession carries one request's session and the broker backing it so
// a refreshed token can be handed back to the caller.
type pageSession struct {
	*session.Session
	broker *token.Broker
	page   middleware.Page
	creds  middleware.Credentials
}

func (s *Server) open(r *http.Request) pageSession {
	page := middleware.PageFrom(r.Context())
	creds := middleware.CredentialsFrom(r.Context())
	broker := token.NewBroker(page.Env,
		token.WithHTTPClient(s.client.HTTPClient()),
		token.WithToken(creds.AccessToken, creds.RefreshToken),
		token.WithMinValidity(s.minValidity),
		token.WithLogger(s.log),
	)
	opts := []session.Option{
		session.WithMetrics(s.metrics),
		session.WithLogger(s.log),
		session.WithCookies(r.Cookies()),
	}
	if scope := creds.CacheScope(); scope != "" && s.cache != nil {
		opts = append(opts, session.WithCache(s.cache.Scope(scope)))
	}
	return pageSession{
		Session: session.New(page.Env, broker, s.client, opts...),
		broker:  broker,
		page:    page,
		creds:   creds,
	}
}

// grantFailed writes the response for a grant that is not Ready and reports
// whether it did.
func grantFailed(w http.ResponseWriter, g token.Grant) bool {
	switch g.State {
	case token.RedirectPending:
		problems.Write(w, problems.Problem{
			Type:   problems.Type("login-redirect"),
			Title:  "login required",
			Status: http.StatusUnauthorized,
			Extensions: map[string]any{
				"login_url":     g.Redirect.URL,
				"state":         g.Redirect.State,
				"code_verifier": g.Redirect.CodeVerifier,
			},
		})
		return true
	case token.Failed:
		detail := ""
		if g.Err != nil {
			detail = g.Err.Error()
		}
		problems.Write(w, problems.Problem{
			Type:   problems.Type("token-unavailable"),
			Title:  "access token unavailable",
			Status: http.StatusServiceUnavailable,
			Detail: detail,
		})
		return true
	}
	return false
}

func unresolved(w http.ResponseWriter) {
	problems.Write(w, problems.Problem{
		Type:   problems.Type("unresolved-environment"),
		Title:  "account environment could not be resolved",
		Status: http.StatusUnprocessableEntity,
		Detail: "pass accountUrl or X-Account-Url containing /realms/<realm>/",
	})
}

// writeJSON sends v, first handing back a refreshed access token when the
// broker obtained one.
func (ps pageSession) writeJSON(w http.ResponseWriter, status int, v any) {
	if ps.broker != nil {
		if tok, ok := ps.broker.Held(); ok && tok != ps.creds.AccessToken {
			w.Header().Set("X-Access-Token", tok)
		}
	}
	writeJSON(w, status, v)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func fixtures(r *http.Request) pagectx.PageContext {
	return middleware.PageFrom(r.Context()).Context
}
