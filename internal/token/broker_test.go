package token

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/lestrrat-go/jwx/v2/jwa"
	"github.com/lestrrat-go/jwx/v2/jwt"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kcsession/internal/environment"
)

type tokenServer struct {
	*httptest.Server
	hits    atomic.Int32
	release chan struct{}
	fail    bool
	body    map[string]any
	grants  chan url.Values
}

func newTokenServer(t *testing.T) *tokenServer {
	t.Helper()
	ts := &tokenServer{
		body: map[string]any{
			"access_token":  "fresh",
			"refresh_token": "r2",
			"token_type":    "Bearer",
			"expires_in":    300,
		},
		grants: make(chan url.Values, 16),
	}
	ts.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ts.hits.Add(1)
		if ts.release != nil {
			<-ts.release
		}
		_ = r.ParseForm()
		ts.grants <- r.PostForm
		w.Header().Set("Content-Type", "application/json")
		if ts.fail {
			w.WriteHeader(http.StatusBadRequest)
			_, _ = w.Write([]byte(`{"error":"invalid_grant","error_description":"Session not active"}`))
			return
		}
		_ = json.NewEncoder(w).Encode(ts.body)
	}))
	t.Cleanup(ts.Close)
	return ts
}

func testEnv(t *testing.T, serverURL string) environment.Environment {
	t.Helper()
	env, ok := environment.Resolve(serverURL + "/realms/acme/account")
	require.True(t, ok)
	return env
}

func signedJWT(t *testing.T, exp time.Time) string {
	t.Helper()
	tok := jwt.New()
	require.NoError(t, tok.Set(jwt.ExpirationKey, exp))
	b, err := jwt.Sign(tok, jwt.WithKey(jwa.HS256, []byte("test-secret")))
	require.NoError(t, err)
	return string(b)
}

func TestHeldTokenReturnedWithoutRefresh(t *testing.T) {
	ts := newTokenServer(t)
	clk := clock.NewMock()
	clk.Set(time.Now())
	access := signedJWT(t, clk.Now().Add(time.Minute))

	b := NewBroker(testEnv(t, ts.URL), WithClock(clk), WithToken(access, "r1"))
	g := b.AccessToken(context.Background())

	require.True(t, g.Ready())
	assert.Equal(t, access, g.Token)
	assert.Equal(t, int32(0), ts.hits.Load())
}

func TestExpiringTokenRefreshed(t *testing.T) {
	ts := newTokenServer(t)
	clk := clock.NewMock()
	clk.Set(time.Now())
	access := signedJWT(t, clk.Now().Add(3*time.Second))

	b := NewBroker(testEnv(t, ts.URL), WithClock(clk), WithToken(access, "r1"))
	g := b.AccessToken(context.Background())

	require.True(t, g.Ready())
	assert.Equal(t, "fresh", g.Token)
	require.Equal(t, int32(1), ts.hits.Load())

	form := <-ts.grants
	assert.Equal(t, "refresh_token", form.Get("grant_type"))
	assert.Equal(t, "r1", form.Get("refresh_token"))
	assert.Equal(t, environment.DefaultClientID, form.Get("client_id"))

	held, ok := b.Held()
	require.True(t, ok)
	assert.Equal(t, "fresh", held)
}

func TestOpaqueTokenTreatedAsValid(t *testing.T) {
	ts := newTokenServer(t)
	b := NewBroker(testEnv(t, ts.URL), WithToken("opaque", ""))
	g := b.AccessToken(context.Background())
	require.True(t, g.Ready())
	assert.Equal(t, "opaque", g.Token)
	assert.Equal(t, int32(0), ts.hits.Load())
}

func TestConcurrentRefreshCoalesced(t *testing.T) {
	ts := newTokenServer(t)
	ts.release = make(chan struct{})
	b := NewBroker(testEnv(t, ts.URL), WithToken("", "r1"))

	const n = 8
	var wg sync.WaitGroup
	grants := make([]Grant, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			grants[i] = b.AccessToken(context.Background())
		}(i)
	}
	time.Sleep(50 * time.Millisecond)
	close(ts.release)
	wg.Wait()

	assert.Equal(t, int32(1), ts.hits.Load())
	for _, g := range grants {
		require.True(t, g.Ready())
		assert.Equal(t, "fresh", g.Token)
	}
}

func TestRefreshFailureRedirectsOnce(t *testing.T) {
	ts := newTokenServer(t)
	ts.fail = true
	var navigations atomic.Int32
	var navigated string
	nav := NavigatorFunc(func(u string) {
		navigations.Add(1)
		navigated = u
	})
	b := NewBroker(testEnv(t, ts.URL), WithNavigator(nav), WithToken("", "r1"))

	var wg sync.WaitGroup
	grants := make([]Grant, 5)
	for i := range grants {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			grants[i] = b.AccessToken(context.Background(), WithLocale("de"))
		}(i)
	}
	wg.Wait()

	require.Equal(t, int32(1), navigations.Load())
	for _, g := range grants {
		assert.Equal(t, RedirectPending, g.State)
		assert.Equal(t, navigated, g.Redirect.URL)
		assert.NoError(t, g.Err)
	}

	u, err := url.Parse(navigated)
	require.NoError(t, err)
	q := u.Query()
	assert.Equal(t, "/realms/acme/protocol/openid-connect/auth", u.Path)
	assert.Equal(t, "de", q.Get("ui_locales"))
	assert.Equal(t, "S256", q.Get("code_challenge_method"))
	assert.Equal(t, "code", q.Get("response_type"))
	assert.Equal(t, grants[0].Redirect.State, q.Get("state"))
	assert.NotEmpty(t, grants[0].Redirect.CodeVerifier)
	assert.Equal(t, ts.URL+"/realms/acme/account", q.Get("redirect_uri"))

	// Later callers get the same pending redirect without new requests.
	hits := ts.hits.Load()
	g := b.AccessToken(context.Background())
	assert.Equal(t, RedirectPending, g.State)
	assert.Equal(t, hits, ts.hits.Load())
	assert.Equal(t, int32(1), navigations.Load())
}

func TestNoTokensRedirects(t *testing.T) {
	ts := newTokenServer(t)
	b := NewBroker(testEnv(t, ts.URL))
	g := b.AccessToken(context.Background())
	assert.Equal(t, RedirectPending, g.State)
	assert.NotEmpty(t, g.Redirect.URL)
	assert.Equal(t, int32(0), ts.hits.Load())
}

func TestCancelledContextFails(t *testing.T) {
	ts := newTokenServer(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	b := NewBroker(testEnv(t, ts.URL), WithToken("", "r1"))
	g := b.AccessToken(ctx)
	assert.Equal(t, Failed, g.State)
	assert.ErrorIs(t, g.Err, context.Canceled)
}

func TestCancelledCallerDoesNotFailSharedRefresh(t *testing.T) {
	ts := newTokenServer(t)
	ts.release = make(chan struct{})
	var navigations atomic.Int32
	nav := NavigatorFunc(func(string) { navigations.Add(1) })
	b := NewBroker(testEnv(t, ts.URL), WithNavigator(nav), WithToken("", "r1"))

	leaderCtx, cancel := context.WithCancel(context.Background())
	leader := make(chan Grant, 1)
	go func() { leader <- b.AccessToken(leaderCtx) }()
	require.Eventually(t, func() bool { return ts.hits.Load() == 1 }, time.Second, 5*time.Millisecond)

	follower := make(chan Grant, 1)
	go func() { follower <- b.AccessToken(context.Background()) }()
	time.Sleep(20 * time.Millisecond)

	cancel()
	select {
	case g := <-leader:
		assert.Equal(t, Failed, g.State)
		assert.ErrorIs(t, g.Err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("cancelled caller kept waiting on the refresh")
	}

	close(ts.release)
	g := <-follower
	require.True(t, g.Ready())
	assert.Equal(t, "fresh", g.Token)
	assert.Equal(t, int32(0), navigations.Load())
	assert.Equal(t, int32(1), ts.hits.Load())

	held, ok := b.Held()
	require.True(t, ok)
	assert.Equal(t, "fresh", held)
}

func TestExpiryFromJWT(t *testing.T) {
	exp := time.Unix(1_900_000_000, 0)
	assert.True(t, exp.Equal(expiryFromJWT(signedJWT(t, exp))))
	assert.True(t, expiryFromJWT("not-a-jwt").IsZero())
	assert.True(t, expiryFromJWT("").IsZero())
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "ready", Ready.String())
	assert.Equal(t, "redirect_pending", RedirectPending.String())
	assert.Equal(t, "failed", Failed.String())
}
