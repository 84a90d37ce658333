package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kcsession/internal/accountapi"
	"kcsession/internal/cache"
	"kcsession/internal/environment"
	"kcsession/internal/metrics"
	"kcsession/internal/token"
)

type staticTokens struct {
	grant token.Grant
	calls atomic.Int32
}

func (s *staticTokens) AccessToken(context.Context, ...token.RequestOption) token.Grant {
	s.calls.Add(1)
	return s.grant
}

func jsonResponse(status int, v any) *http.Response {
	rec := httptest.NewRecorder()
	rec.Header().Set("Content-Type", "application/json")
	rec.WriteHeader(status)
	_ = json.NewEncoder(rec).Encode(v)
	return rec.Result()
}

func htmlResponse() *http.Response {
	rec := httptest.NewRecorder()
	rec.Header().Set("Content-Type", "text/html; charset=utf-8")
	rec.WriteHeader(http.StatusOK)
	_, _ = io.WriteString(rec, "<html><body>Sign in</body></html>")
	return rec.Result()
}

var errTransport = errors.New("connection reset")

// fakeResources fails the resources whose bit is set in failMask:
// 1 profile, 2 messages, 4 applications, 8 credentials.
type fakeResources struct {
	failMask int
	calls    atomic.Int32
	tokens   chan string
}

func (f *fakeResources) record(o accountapi.Options) {
	f.calls.Add(1)
	if f.tokens != nil {
		f.tokens <- o.AccessToken
	}
}

func (f *fakeResources) FetchProfile(_ context.Context, _ environment.Environment, o accountapi.Options) (*http.Response, error) {
	f.record(o)
	if f.failMask&1 != 0 {
		return nil, errTransport
	}
	return jsonResponse(200, map[string]any{"username": "jdoe"}), nil
}

func (f *fakeResources) FetchMessages(_ context.Context, _ environment.Environment, o accountapi.Options) map[string]string {
	f.record(o)
	if f.failMask&2 != 0 {
		return map[string]string{}
	}
	return map[string]string{"save": "Save"}
}

func (f *fakeResources) FetchApplications(_ context.Context, _ environment.Environment, o accountapi.Options) (*http.Response, error) {
	f.record(o)
	if f.failMask&4 != 0 {
		return htmlResponse(), nil
	}
	return jsonResponse(200, []any{map[string]any{"clientId": "app1"}}), nil
}

func (f *fakeResources) FetchCredentials(_ context.Context, _ environment.Environment, o accountapi.Options) (*http.Response, error) {
	f.record(o)
	if f.failMask&8 != 0 {
		return jsonResponse(500, map[string]any{"error": "boom"}), nil
	}
	return jsonResponse(200, []any{map[string]any{"type": "webauthn"}}), nil
}

var env = environment.Environment{ServerBaseURL: "https://idp.example.com", Realm: "acme", AccountBasePath: "/realms/acme/account"}

func TestEveryFailureSubsetSettles(t *testing.T) {
	for mask := 0; mask < 16; mask++ {
		t.Run(fmt.Sprintf("mask=%04b", mask), func(t *testing.T) {
			res := &fakeResources{failMask: mask}
			tokens := &staticTokens{grant: token.Grant{State: token.Ready, Token: "t"}}
			out := New(res).Fetch(context.Background(), Request{Env: env, Tokens: tokens, Locale: "en"})

			require.True(t, out.Grant.Ready())
			assert.Equal(t, int32(4), res.calls.Load())
			assert.Equal(t, int32(1), tokens.calls.Load())

			d := out.Data
			assert.NotNil(t, d.Messages)
			assert.NotNil(t, d.Applications)

			if mask&1 != 0 {
				assert.Nil(t, d.Profile)
			} else {
				assert.Equal(t, "jdoe", d.Profile["username"])
			}
			if mask&2 != 0 {
				assert.Empty(t, d.Messages)
			} else {
				assert.Equal(t, "Save", d.Messages["save"])
			}
			if mask&4 != 0 {
				assert.Empty(t, d.Applications)
			} else {
				require.Len(t, d.Applications, 1)
				assert.Equal(t, "app1", d.Applications[0].ClientID)
			}
			if mask&8 != 0 {
				assert.Nil(t, d.Credentials)
			} else {
				require.Len(t, d.Credentials, 1)
				assert.Equal(t, "webauthn", d.Credentials[0].Type)
			}
		})
	}
}

func TestSingleTokenSharedByAllCalls(t *testing.T) {
	res := &fakeResources{tokens: make(chan string, 4)}
	tokens := &staticTokens{grant: token.Grant{State: token.Ready, Token: "shared"}}
	New(res).Fetch(context.Background(), Request{Env: env, Tokens: tokens})
	close(res.tokens)
	for tok := range res.tokens {
		assert.Equal(t, "shared", tok)
	}
	assert.Equal(t, int32(1), tokens.calls.Load())
}

func TestRedirectPendingSkipsFetches(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	res := &fakeResources{}
	grant := token.Grant{State: token.RedirectPending, Redirect: token.LoginRedirect{URL: "https://idp.example.com/login"}}
	out := New(res, WithMetrics(m)).Fetch(context.Background(), Request{Env: env, Tokens: &staticTokens{grant: grant}})

	assert.Equal(t, token.RedirectPending, out.Grant.State)
	assert.Equal(t, "https://idp.example.com/login", out.Grant.Redirect.URL)
	assert.Equal(t, int32(0), res.calls.Load())
	assert.NotNil(t, out.Data.Messages)

	n, err := testutil.GatherAndCount(reg, "kcsession_account_orchestrations_total")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestSuccessfulSlotsCached(t *testing.T) {
	c := cache.New(cache.NewMemoryBackend())
	res := &fakeResources{failMask: 1 | 8}
	tokens := &staticTokens{grant: token.Grant{State: token.Ready}}
	New(res, WithCache(c)).Fetch(context.Background(), Request{Env: env, Tokens: tokens, Locale: "de"})

	ctx := context.Background()
	assert.False(t, c.Fresh(ctx, env, cache.KindProfile, "de"))
	assert.False(t, c.Fresh(ctx, env, cache.KindCredentials, ""))

	msgs, ok := cache.Load[map[string]string](ctx, c, env, cache.KindMessages, "de")
	require.True(t, ok)
	assert.Equal(t, "Save", msgs["save"])
	_, ok = cache.Load[map[string]string](ctx, c, env, cache.KindMessages, "fr")
	assert.False(t, ok)

	apps, ok := cache.Load[[]accountapi.Application](ctx, c, env, cache.KindApplications, "")
	require.True(t, ok)
	assert.Equal(t, "app1", apps[0].ClientID)
}

// A sign-in page served with 200 in place of the profile must not spoil the
// applications fetched in the same run.
func TestHTMLProfileWithLiveClient(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/realms/acme/account/":
			w.Header().Set("Content-Type", "text/html")
			_, _ = io.WriteString(w, "<html>login</html>")
		case "/realms/acme/account/applications":
			w.Header().Set("Content-Type", "application/json")
			_, _ = io.WriteString(w, `[{"clientId":"web","clientName":"Web App"}]`)
		case "/realms/acme/account/credentials":
			w.Header().Set("Content-Type", "application/json")
			_, _ = io.WriteString(w, `[]`)
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	live, ok := environment.Resolve(srv.URL + "/realms/acme/account")
	require.True(t, ok)
	tokens := &staticTokens{grant: token.Grant{State: token.Ready, Token: "t"}}
	out := New(accountapi.New()).Fetch(context.Background(), Request{Env: live, Tokens: tokens, Locale: "en"})

	assert.Nil(t, out.Data.Profile)
	require.Len(t, out.Data.Applications, 1)
	assert.Equal(t, "Web App", out.Data.Applications[0].ClientName)
	assert.Empty(t, out.Data.Messages)
	assert.NotNil(t, out.Data.Credentials)
	assert.Empty(t, out.Data.Credentials)
}

func TestCancelledRunAbortsWithoutCaching(t *testing.T) {
	entered := make(chan struct{}, 8)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/realms/acme/account/applications" {
			w.Header().Set("Content-Type", "application/json")
			_, _ = io.WriteString(w, `[{"clientId":"web"}]`)
			return
		}
		entered <- struct{}{}
		<-r.Context().Done()
	}))
	defer srv.Close()

	live, ok := environment.Resolve(srv.URL + "/realms/acme/account")
	require.True(t, ok)
	reg := prometheus.NewRegistry()
	c := cache.New(cache.NewMemoryBackend())
	orch := New(accountapi.New(), WithCache(c), WithMetrics(metrics.New(reg)))
	tokens := &staticTokens{grant: token.Grant{State: token.Ready, Token: "t"}}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan Result, 1)
	go func() { done <- orch.Fetch(ctx, Request{Env: live, Tokens: tokens, Locale: "en"}) }()

	<-entered
	cancel()

	var out Result
	select {
	case out = <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("cancelled run did not return")
	}

	require.True(t, out.Grant.Ready())
	assert.Nil(t, out.Data.Profile)
	assert.Nil(t, out.Data.Credentials)
	assert.Empty(t, out.Data.Messages)
	assert.NotNil(t, out.Data.Messages)
	assert.Empty(t, out.Data.Applications)
	assert.NotNil(t, out.Data.Applications)

	bg := context.Background()
	for _, kind := range []cache.Kind{cache.KindProfile, cache.KindMessages, cache.KindApplications, cache.KindCredentials} {
		assert.False(t, c.Fresh(bg, live, kind, "en"), kind)
	}
	expected := `
# HELP kcsession_account_orchestrations_total Fan-out runs by result (complete, partial, cancelled, redirect, failed)
# TYPE kcsession_account_orchestrations_total counter
kcsession_account_orchestrations_total{result="cancelled"} 1
`
	assert.NoError(t, testutil.GatherAndCompare(reg, strings.NewReader(expected), "kcsession_account_orchestrations_total"))
}
