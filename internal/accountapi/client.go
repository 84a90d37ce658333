// Package accountapi wraps the identity server's account REST resources.
// Every call returns the raw response and errors only on transport failure;
// callers check status and content type before decoding.
package accountapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.uber.org/zap"

	"kcsession/internal/environment"
)

// DefaultUpdateTimeout bounds a profile save regardless of the caller's context.
const DefaultUpdateTimeout = 30 * time.Second

// Options carries the per-call inputs. AccessToken is always supplied by the
// caller; an empty value means "no token" and no Authorization header is sent.
type Options struct {
	AccessToken string
	Locale      string
	Query       url.Values
	Cookies     []*http.Cookie
}

type Client struct {
	http          *http.Client
	log           *zap.SugaredLogger
	updateTimeout time.Duration
}

type Option func(*Client)

func WithHTTPClient(c *http.Client) Option { return func(cl *Client) { cl.http = c } }
func WithLogger(l *zap.SugaredLogger) Option { return func(cl *Client) { cl.log = l } }
func WithUpdateTimeout(d time.Duration) Option { return func(cl *Client) { cl.updateTimeout = d } }

func New(opts ...Option) *Client {
	c := &Client{
		http:          &http.Client{Transport: otelhttp.NewTransport(http.DefaultTransport)},
		log:           zap.NewNop().Sugar(),
		updateTimeout: DefaultUpdateTimeout,
	}
	for _, fn := range opts {
		fn(c)
	}
	return c
}

// HTTPClient exposes the instrumented client so the token broker can share it.
func (c *Client) HTTPClient() *http.Client { return c.http }

// FetchProfile: GET / with user-profile metadata, localized when Locale is set.
func (c *Client) FetchProfile(ctx context.Context, env environment.Environment, o Options) (*http.Response, error) {
	q := cloneQuery(o.Query)
	q.Set("userProfileMetadata", "true")
	if o.Locale != "" {
		q.Set("kc_locale", o.Locale)
	}
	return c.do(ctx, http.MethodGet, withQuery(env.AccountURL("/"), q), nil, o, true)
}

// FetchCredentials: GET /credentials?user-credentials=true.
func (c *Client) FetchCredentials(ctx context.Context, env environment.Environment, o Options) (*http.Response, error) {
	q := cloneQuery(o.Query)
	q.Set("user-credentials", "true")
	return c.do(ctx, http.MethodGet, withQuery(env.AccountURL("/credentials"), q), nil, o, false)
}

func (c *Client) DeleteCredential(ctx context.Context, env environment.Environment, credentialID string, o Options) (*http.Response, error) {
	u := env.AccountURL("/credentials/" + url.PathEscape(credentialID))
	return c.do(ctx, http.MethodDelete, u, nil, o, false)
}

func (c *Client) FetchApplications(ctx context.Context, env environment.Environment, o Options) (*http.Response, error) {
	return c.do(ctx, http.MethodGet, withQuery(env.AccountURL("/applications"), o.Query), nil, o, false)
}

// UpdateAccount posts a user representation. The request is cancelled after
// the update timeout even if ctx is still live; the response body stays
// readable until it is closed.
func (c *Client) UpdateAccount(ctx context.Context, env environment.Environment, rep any, o Options) (*http.Response, error) {
	body, err := json.Marshal(rep)
	if err != nil {
		return nil, fmt.Errorf("encode representation: %w", err)
	}
	ctx, cancel := context.WithTimeout(ctx, c.updateTimeout)
	resp, err := c.do(ctx, http.MethodPost, env.AccountURL("/"), body, o, false)
	if err != nil {
		cancel()
		return nil, err
	}
	resp.Body = &cancelOnClose{ReadCloser: resp.Body, cancel: cancel}
	return resp, nil
}

func (c *Client) do(ctx context.Context, method, u string, body []byte, o Options, localized bool) (*http.Response, error) {
	var rdr io.Reader
	if body != nil {
		rdr = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, u, rdr)
	if err != nil {
		return nil, fmt.Errorf("build %s request: %w", method, err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	setCommon(req, o, localized)

	resp, err := c.http.Do(req)
	if err != nil {
		c.log.Debugw("account request failed", "method", method, "url", u, "err", err)
		return nil, fmt.Errorf("%s %s: %w", method, req.URL.Path, err)
	}
	return resp, nil
}

func setCommon(req *http.Request, o Options, localized bool) {
	if o.AccessToken != "" {
		req.Header.Set("Authorization", "Bearer "+o.AccessToken)
	}
	if localized && o.Locale != "" {
		req.Header.Set("Accept-Language", o.Locale)
	}
	for _, ck := range o.Cookies {
		req.AddCookie(ck)
	}
}

func cloneQuery(q url.Values) url.Values {
	out := url.Values{}
	for k, v := range q {
		out[k] = append([]string(nil), v...)
	}
	return out
}

func withQuery(u string, q url.Values) string {
	if len(q) == 0 {
		return u
	}
	return u + "?" + q.Encode()
}

type cancelOnClose struct {
	io.ReadCloser
	cancel context.CancelFunc
}

func (b *cancelOnClose) Close() error {
	defer b.cancel()
	return b.ReadCloser.Close()
}
