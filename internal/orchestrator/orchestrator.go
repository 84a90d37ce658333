// Package orchestrator fans out the four account resource fetches for one
// page load and joins them without letting any single failure abort the rest.
package orchestrator

import (
	"context"
	"net/http"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"kcsession/internal/accountapi"
	"kcsession/internal/cache"
	"kcsession/internal/environment"
	"kcsession/internal/metrics"
	"kcsession/internal/token"
)

// TokenSource hands out the access token shared by every call in a run.
type TokenSource interface {
	AccessToken(ctx context.Context, opts ...token.RequestOption) token.Grant
}

// Resources is the subset of the account client the fan-out uses.
type Resources interface {
	FetchProfile(ctx context.Context, env environment.Environment, o accountapi.Options) (*http.Response, error)
	FetchCredentials(ctx context.Context, env environment.Environment, o accountapi.Options) (*http.Response, error)
	FetchApplications(ctx context.Context, env environment.Environment, o accountapi.Options) (*http.Response, error)
	FetchMessages(ctx context.Context, env environment.Environment, o accountapi.Options) map[string]string
}

// AccountData is the aggregate of one run. Profile and Credentials are nil
// when unavailable; Messages and Applications are empty, never nil.
type AccountData struct {
	Profile      map[string]any                   `json:"profile"`
	Messages     map[string]string                `json:"messages"`
	Applications []accountapi.Application         `json:"applications"`
	Credentials  []accountapi.CredentialContainer `json:"credentials"`
}

func emptyData() AccountData {
	return AccountData{Messages: map[string]string{}, Applications: []accountapi.Application{}}
}

// Result carries the grant the run was made under. When the grant is not
// Ready no resource was requested and Data is empty.
type Result struct {
	Grant  token.Grant
	Data   AccountData
	Cached bool // served from the session cache without a network call
}

// Request describes one run.
type Request struct {
	Env     environment.Environment
	Tokens  TokenSource
	Locale  string
	Cookies []*http.Cookie
}

type Orchestrator struct {
	client  Resources
	cache   *cache.Cache
	metrics *metrics.Metrics
	log     *zap.SugaredLogger
	tracer  trace.Tracer
}

type Option func(*Orchestrator)

// WithCache makes every run overwrite the cache with what it fetched.
func WithCache(c *cache.Cache) Option { return func(o *Orchestrator) { o.cache = c } }
func WithMetrics(m *metrics.Metrics) Option { return func(o *Orchestrator) { o.metrics = m } }
func WithLogger(l *zap.SugaredLogger) Option { return func(o *Orchestrator) { o.log = l } }
func WithTracer(t trace.Tracer) Option { return func(o *Orchestrator) { o.tracer = t } }

func New(client Resources, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		client: client,
		log:    zap.NewNop().Sugar(),
		tracer: otel.Tracer("kcsession/orchestrator"),
	}
	for _, fn := range opts {
		fn(o)
	}
	return o
}

// Fetch resolves one token, then requests profile, messages, applications
// and credentials concurrently and waits for all of them. A failed or
// malformed resource leaves only its own slot empty. A run whose ctx is
// cancelled returns empty data and writes nothing to the cache.
func (o *Orchestrator) Fetch(ctx context.Context, req Request) Result {
	ctx, span := o.tracer.Start(ctx, "account.fetch_all", trace.WithAttributes(
		attribute.String("kc.realm", req.Env.Realm),
		attribute.String("kc.locale", req.Locale),
	))
	defer span.End()

	grant := req.Tokens.AccessToken(ctx, token.WithLocale(req.Locale))
	o.metrics.Grant(grant.State.String())
	if !grant.Ready() {
		span.SetAttributes(attribute.String("kc.grant", grant.State.String()))
		if grant.State == token.RedirectPending {
			o.metrics.Run("redirect")
		} else {
			o.metrics.Run("failed")
		}
		return Result{Grant: grant, Data: emptyData()}
	}

	opts := accountapi.Options{AccessToken: grant.Token, Locale: req.Locale, Cookies: req.Cookies}
	data := emptyData()
	var profileOut, messagesOut, appsOut, credsOut string

	// Each goroutine owns one slot and never returns an error.
	var g errgroup.Group
	g.Go(func() error {
		defer o.observe("profile", time.Now(), &profileOut)
		resp, err := o.client.FetchProfile(ctx, req.Env, opts)
		if err != nil {
			profileOut = metrics.OutcomeError
			return nil
		}
		data.Profile = accountapi.DecodeProfile(resp)
		profileOut = outcome(data.Profile != nil)
		return nil
	})
	g.Go(func() error {
		defer o.observe("messages", time.Now(), &messagesOut)
		if msgs := o.client.FetchMessages(ctx, req.Env, opts); msgs != nil {
			data.Messages = msgs
		}
		messagesOut = outcome(len(data.Messages) > 0)
		return nil
	})
	g.Go(func() error {
		defer o.observe("applications", time.Now(), &appsOut)
		resp, err := o.client.FetchApplications(ctx, req.Env, opts)
		if err != nil {
			appsOut = metrics.OutcomeError
			return nil
		}
		appsOut = outcome(accountapi.IsJSON(resp))
		data.Applications = accountapi.DecodeApplications(resp)
		return nil
	})
	g.Go(func() error {
		defer o.observe("credentials", time.Now(), &credsOut)
		resp, err := o.client.FetchCredentials(ctx, req.Env, opts)
		if err != nil {
			credsOut = metrics.OutcomeError
			return nil
		}
		var ok bool
		data.Credentials, ok = accountapi.DecodeCredentials(resp)
		credsOut = outcome(ok)
		return nil
	})
	_ = g.Wait()

	// A cancelled run was superseded; whatever it got is stale.
	if err := ctx.Err(); err != nil {
		span.SetAttributes(attribute.Bool("kc.cancelled", true))
		o.metrics.Run("cancelled")
		o.log.Debugw("account fetch cancelled", "realm", req.Env.Realm, "err", err)
		return Result{Grant: grant, Data: emptyData()}
	}

	profileOK := profileOut == metrics.OutcomeOK
	messagesOK := messagesOut == metrics.OutcomeOK
	appsOK := appsOut == metrics.OutcomeOK
	credsOK := credsOut == metrics.OutcomeOK

	if o.cache != nil {
		if profileOK {
			o.cache.Store(ctx, req.Env, cache.KindProfile, req.Locale, data.Profile)
		}
		if messagesOK {
			o.cache.Store(ctx, req.Env, cache.KindMessages, req.Locale, data.Messages)
		}
		if appsOK {
			o.cache.Store(ctx, req.Env, cache.KindApplications, req.Locale, data.Applications)
		}
		if credsOK {
			o.cache.Store(ctx, req.Env, cache.KindCredentials, req.Locale, data.Credentials)
		}
	}

	span.SetAttributes(
		attribute.Bool("kc.profile", profileOK),
		attribute.Bool("kc.messages", messagesOK),
		attribute.Bool("kc.applications", appsOK),
		attribute.Bool("kc.credentials", credsOK),
	)
	if profileOK && messagesOK && appsOK && credsOK {
		o.metrics.Run("complete")
	} else {
		o.metrics.Run("partial")
		o.log.Debugw("partial account data", "realm", req.Env.Realm,
			"profile", profileOK, "messages", messagesOK, "applications", appsOK, "credentials", credsOK)
	}
	return Result{Grant: grant, Data: data}
}

func outcome(ok bool) string {
	if ok {
		return metrics.OutcomeOK
	}
	return metrics.OutcomeEmpty
}

func (o *Orchestrator) observe(resource string, start time.Time, out *string) {
	o.metrics.Fetch(resource, *out, time.Since(start))
}
