// Package session binds one page load's tenant, token broker and the shared
// cache into the operations the rendering layer calls.
package session

import (
	"context"
	"errors"
	"net/http"

	"go.uber.org/zap"

	"kcsession/internal/accountapi"
	"kcsession/internal/cache"
	"kcsession/internal/environment"
	"kcsession/internal/metrics"
	"kcsession/internal/orchestrator"
	"kcsession/internal/passkeys"
	"kcsession/internal/profile"
	"kcsession/internal/token"
)

// User-visible messages for failures that carry no server text.
const (
	MsgSaveTimeout    = "the server took too long to respond. try again."
	MsgSaveFailed     = profile.DefaultSaveError
	MsgDeleteFailed   = "failed to delete passkey. try again later."
	MsgPasskeysFailed = "passkeys could not be loaded. check your connection or try again later."
)

var allKinds = []cache.Kind{cache.KindProfile, cache.KindMessages, cache.KindApplications, cache.KindCredentials}

// MutationResult is the outcome of a write. Callers must branch on OK; when
// Grant is RedirectPending the browser is leaving and no error should show.
type MutationResult struct {
	OK          bool              `json:"ok"`
	FieldErrors map[string]string `json:"fieldErrors,omitempty"`
	Message     string            `json:"message,omitempty"`
	Grant       token.Grant       `json:"-"`
}

func (m MutationResult) RedirectPending() bool { return m.Grant.State == token.RedirectPending }

type Session struct {
	env     environment.Environment
	tokens  orchestrator.TokenSource
	client  *accountapi.Client
	cache   *cache.Cache
	orch    *orchestrator.Orchestrator
	metrics *metrics.Metrics
	log     *zap.SugaredLogger
	cookies []*http.Cookie
}

type Option func(*Session)

func WithCache(c *cache.Cache) Option { return func(s *Session) { s.cache = c } }
func WithMetrics(m *metrics.Metrics) Option { return func(s *Session) { s.metrics = m } }
func WithLogger(l *zap.SugaredLogger) Option { return func(s *Session) { s.log = l } }

// WithCookies forwards the browser's identity-server cookies on every call.
func WithCookies(cookies []*http.Cookie) Option { return func(s *Session) { s.cookies = cookies } }

func New(env environment.Environment, tokens orchestrator.TokenSource, client *accountapi.Client, opts ...Option) *Session {
	s := &Session{
		env:    env,
		tokens: tokens,
		client: client,
		log:    zap.NewNop().Sugar(),
	}
	for _, fn := range opts {
		fn(s)
	}
	s.orch = orchestrator.New(client,
		orchestrator.WithCache(s.cache),
		orchestrator.WithMetrics(s.metrics),
		orchestrator.WithLogger(s.log))
	return s
}

func (s *Session) Environment() environment.Environment { return s.env }

// Load returns cached data when every needed kind is cached and fresh,
// otherwise it runs a full fetch. No needs means all four kinds.
func (s *Session) Load(ctx context.Context, locale string, needs ...cache.Kind) orchestrator.Result {
	if len(needs) == 0 {
		needs = allKinds
	}
	if data, ok := s.fromCache(ctx, locale, needs); ok {
		return orchestrator.Result{Grant: token.NoToken(), Data: data, Cached: true}
	}
	return s.Refresh(ctx, locale)
}

// Refresh always fetches and overwrites the cache.
func (s *Session) Refresh(ctx context.Context, locale string) orchestrator.Result {
	return s.orch.Fetch(ctx, orchestrator.Request{Env: s.env, Tokens: s.tokens, Locale: locale, Cookies: s.cookies})
}

func (s *Session) fromCache(ctx context.Context, locale string, needs []cache.Kind) (orchestrator.AccountData, bool) {
	data := orchestrator.AccountData{Messages: map[string]string{}, Applications: []accountapi.Application{}}
	if s.cache == nil {
		return data, false
	}
	for _, kind := range needs {
		var hit bool
		switch kind {
		case cache.KindProfile:
			data.Profile, hit = cache.Load[map[string]any](ctx, s.cache, s.env, kind, locale)
		case cache.KindMessages:
			var m map[string]string
			if m, hit = cache.Load[map[string]string](ctx, s.cache, s.env, kind, locale); hit {
				data.Messages = m
			}
		case cache.KindApplications:
			var apps []accountapi.Application
			if apps, hit = cache.Load[[]accountapi.Application](ctx, s.cache, s.env, kind, locale); hit && apps != nil {
				data.Applications = apps
			}
		case cache.KindCredentials:
			data.Credentials, hit = cache.Load[[]accountapi.CredentialContainer](ctx, s.cache, s.env, kind, locale)
		}
		s.metrics.CacheLookup(string(kind), hit)
		if !hit {
			return data, false
		}
	}
	return data, true
}

// Profile returns the normalized attributes. When the live profile is
// unavailable the fallback attributes are used.
func (s *Session) Profile(ctx context.Context, locale string, realm profile.Realm, fallback map[string]profile.Attribute) (profile.Schema, orchestrator.Result) {
	res := s.Load(ctx, locale, cache.KindProfile)
	return profile.Build(res.Data.Profile, realm, fallback), res
}

// PasskeyView is what the authenticator page renders.
type PasskeyView struct {
	Passkeys []passkeys.Passkey `json:"passkeys"`
	Enabled  bool               `json:"enabled"`
	Error    string             `json:"error,omitempty"`
}

// Passkeys lists the user's passkeys. When credentials cannot be loaded the
// view reports an error and keeps registration enabled. locale is the page
// locale a cache miss refetches under.
func (s *Session) Passkeys(ctx context.Context, locale, defaultLabel string) (PasskeyView, orchestrator.Result) {
	res := s.Load(ctx, locale, cache.KindCredentials)
	return passkeyView(res.Data.Credentials, defaultLabel), res
}

func passkeyView(containers []accountapi.CredentialContainer, defaultLabel string) PasskeyView {
	if containers == nil {
		return PasskeyView{Passkeys: []passkeys.Passkey{}, Enabled: true, Error: MsgPasskeysFailed}
	}
	return PasskeyView{
		Passkeys: passkeys.Extract(containers, defaultLabel),
		Enabled:  passkeys.Enabled(containers),
	}
}

func (s *Session) options(grant token.Grant, locale string) accountapi.Options {
	return accountapi.Options{AccessToken: grant.Token, Locale: locale, Cookies: s.cookies}
}

// DeleteCredential removes one credential, then refetches the credential
// list so the cache reflects the deletion.
func (s *Session) DeleteCredential(ctx context.Context, credentialID string) MutationResult {
	grant := s.tokens.AccessToken(ctx)
	if !grant.Ready() {
		return MutationResult{Grant: grant, Message: errMessage(grant.Err, MsgDeleteFailed)}
	}
	resp, err := s.client.DeleteCredential(ctx, s.env, credentialID, s.options(grant, ""))
	if err != nil {
		s.log.Warnw("delete credential failed", "realm", s.env.Realm, "err", err)
		s.metrics.Mutation("delete_credential", false)
		return MutationResult{Grant: grant, Message: MsgDeleteFailed}
	}
	body := accountapi.DrainBody(resp)
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		s.metrics.Mutation("delete_credential", false)
		ue := profile.ParseUpdateErrors(body)
		msg := ue.Message
		if msg == "" || msg == profile.DefaultSaveError {
			msg = MsgDeleteFailed
		}
		return MutationResult{Grant: grant, Message: msg}
	}
	s.metrics.Mutation("delete_credential", true)

	if resp, err := s.client.FetchCredentials(ctx, s.env, s.options(grant, "")); err == nil {
		if containers, ok := accountapi.DecodeCredentials(resp); ok && s.cache != nil {
			s.cache.Store(ctx, s.env, cache.KindCredentials, "", containers)
		}
	}
	return MutationResult{OK: true, Grant: grant}
}

// SaveProfile submits the form once. Rejections are parsed into per-field
// and general messages translated against the catalog; transport failures
// and timeouts produce a message. A successful save refreshes the cache.
func (s *Session) SaveProfile(ctx context.Context, locale string, form profile.FormData) MutationResult {
	grant := s.tokens.AccessToken(ctx, token.WithLocale(locale))
	if !grant.Ready() {
		return MutationResult{Grant: grant, Message: errMessage(grant.Err, MsgSaveFailed)}
	}
	rep := profile.FormToRepresentation(form)
	resp, err := s.client.UpdateAccount(ctx, s.env, rep, s.options(grant, locale))
	if err != nil {
		s.metrics.Mutation("save_profile", false)
		s.log.Warnw("profile save failed", "realm", s.env.Realm, "err", err)
		if errors.Is(err, context.DeadlineExceeded) {
			return MutationResult{Grant: grant, Message: MsgSaveTimeout}
		}
		return MutationResult{Grant: grant, Message: MsgSaveFailed}
	}
	body := accountapi.DrainBody(resp)
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		s.metrics.Mutation("save_profile", false)
		ue := profile.ParseUpdateErrors(body).Translate(s.catalog(ctx, grant, locale))
		return MutationResult{Grant: grant, FieldErrors: ue.FieldErrors, Message: ue.Message}
	}
	s.metrics.Mutation("save_profile", true)
	s.Refresh(ctx, locale)
	return MutationResult{OK: true, Grant: grant}
}

func (s *Session) catalog(ctx context.Context, grant token.Grant, locale string) map[string]string {
	if s.cache != nil {
		if m, ok := cache.Load[map[string]string](ctx, s.cache, s.env, cache.KindMessages, locale); ok {
			return m
		}
	}
	return s.client.FetchMessages(ctx, s.env, s.options(grant, locale))
}

func errMessage(err error, fallback string) string {
	if err != nil && errors.Is(err, context.DeadlineExceeded) {
		return MsgSaveTimeout
	}
	return fallback
}
