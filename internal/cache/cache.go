// Package cache keeps recently fetched account resources per tenant so
// repeat page loads render without waiting on the network. Caching is an
// optimization only: every backend failure is swallowed.
package cache

import (
	"context"
	"encoding/json"
	"time"

	"github.com/benbjohnson/clock"
	"go.uber.org/zap"

	"kcsession/internal/environment"
)

const (
	DefaultPrefix = "keycloak-account"
	DefaultTTL    = 5 * time.Minute
)

// Kind names a cached resource.
type Kind string

const (
	KindProfile      Kind = "profile"
	KindMessages     Kind = "messages"
	KindApplications Kind = "applications"
	KindCredentials  Kind = "credentials"
)

// Localized reports whether the resource content depends on the UI language.
func (k Kind) Localized() bool {
	return k == KindProfile || k == KindMessages
}

// Backend stores opaque values by key. Implementations must be safe for
// concurrent use.
type Backend interface {
	Get(ctx context.Context, key string) (value []byte, ok bool, err error)
	Set(ctx context.Context, key string, value []byte) error
}

type entry struct {
	Data      json.RawMessage `json:"data"`
	Timestamp int64           `json:"timestamp"` // unix millis
}

type Cache struct {
	backend Backend
	prefix  string
	ttl     time.Duration
	clk     clock.Clock
	log     *zap.SugaredLogger
}

type Option func(*Cache)

func WithPrefix(p string) Option { return func(c *Cache) { c.prefix = p } }
func WithTTL(d time.Duration) Option { return func(c *Cache) { c.ttl = d } }
func WithClock(clk clock.Clock) Option { return func(c *Cache) { c.clk = clk } }
func WithLogger(l *zap.SugaredLogger) Option { return func(c *Cache) { c.log = l } }

func New(b Backend, opts ...Option) *Cache {
	c := &Cache{
		backend: b,
		prefix:  DefaultPrefix,
		ttl:     DefaultTTL,
		clk:     clock.New(),
		log:     zap.NewNop().Sugar(),
	}
	for _, fn := range opts {
		fn(c)
	}
	return c
}

// Scope returns a view of the cache whose keys are private to one browser
// tab or session. An empty id returns c.
func (c *Cache) Scope(id string) *Cache {
	if id == "" {
		return c
	}
	cp := *c
	cp.prefix = c.prefix + "/" + id
	return &cp
}

func (c *Cache) TTL() time.Duration { return c.ttl }

// Key is {prefix}:{serverBaseUrl}:{realm}:{kind}[:{locale}]. The locale
// suffix is only added for localized kinds.
func (c *Cache) Key(env environment.Environment, kind Kind, locale string) string {
	k := c.prefix + ":" + env.ServerBaseURL + ":" + env.Realm + ":" + string(kind)
	if kind.Localized() && locale != "" {
		k += ":" + locale
	}
	return k
}

// Store writes v stamped with the current time. Failures are logged at
// debug and otherwise ignored.
func (c *Cache) Store(ctx context.Context, env environment.Environment, kind Kind, locale string, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		c.log.Debugw("cache encode failed", "kind", kind, "err", err)
		return
	}
	raw, err := json.Marshal(entry{Data: data, Timestamp: c.clk.Now().UnixMilli()})
	if err != nil {
		return
	}
	key := c.Key(env, kind, locale)
	if err := c.backend.Set(ctx, key, raw); err != nil {
		c.log.Debugw("cache write failed", "key", key, "err", err)
	}
}

// lookup returns the entry payload when present and not older than the TTL.
// Stale entries are left in place.
func (c *Cache) lookup(ctx context.Context, env environment.Environment, kind Kind, locale string) (json.RawMessage, bool) {
	key := c.Key(env, kind, locale)
	raw, ok, err := c.backend.Get(ctx, key)
	if err != nil {
		c.log.Debugw("cache read failed", "key", key, "err", err)
		return nil, false
	}
	if !ok {
		return nil, false
	}
	var e entry
	if err := json.Unmarshal(raw, &e); err != nil || len(e.Data) == 0 {
		return nil, false
	}
	age := c.clk.Now().Sub(time.UnixMilli(e.Timestamp))
	if age > c.ttl {
		return nil, false
	}
	return e.Data, true
}

// Fresh reports whether a usable entry exists without decoding it.
func (c *Cache) Fresh(ctx context.Context, env environment.Environment, kind Kind, locale string) bool {
	_, ok := c.lookup(ctx, env, kind, locale)
	return ok
}

// Load returns the cached value for kind, or ok=false when it is missing,
// stale or undecodable.
func Load[T any](ctx context.Context, c *Cache, env environment.Environment, kind Kind, locale string) (v T, ok bool) {
	data, ok := c.lookup(ctx, env, kind, locale)
	if !ok {
		return v, false
	}
	if err := json.Unmarshal(data, &v); err != nil {
		var zero T
		return zero, false
	}
	return v, true
}
