// pkg/middleware/page.go
package middleware

import (
	"context"
	"net/http"
	"strconv"

	"go.uber.org/zap"

	"kcsession/internal/environment"
	"kcsession/internal/pagectx"
	"kcsession/internal/profile"
	"kcsession/pkg/config"
	"kcsession/pkg/tenants"
)

type ctxPageKey struct{}

// Page is the page context of one inbound request and the tenant it
// resolved to. Resolved is false when the request must be served from
// fixtures.
type Page struct {
	Context  pagectx.PageContext
	Env      environment.Environment
	Resolved bool
}

// WithPage reads the page context from query parameters, falling back to
// X-Account-* headers, overlays it on defaults and resolves the tenant.
// An environment whose identity server prov does not know stays unresolved.
func WithPage(cfg config.Config, defaults pagectx.PageContext, prov tenants.Provider, log *zap.SugaredLogger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			switch r.URL.Path {
			case "/healthz", "/metrics":
				next.ServeHTTP(w, r)
				return
			}
			pc := defaults.Merge(pageFromRequest(r))
			page := Page{Context: pc}
			if !cfg.ForceFixtures {
				page.Env, page.Resolved = pc.Environment(
					environment.WithOrigin(cfg.PublicOrigin),
					environment.WithClientID(cfg.ClientID),
				)
			}
			if page.Resolved {
				if _, err := prov.ResolveTenantByOrigin(r.Context(), page.Env.Origin(), page.Env.Realm); err != nil {
					log.Warnw("unknown identity server", "origin", page.Env.Origin(), "realm", page.Env.Realm)
					page.Env, page.Resolved = environment.Environment{}, false
				}
			}
			ctx := context.WithValue(r.Context(), ctxPageKey{}, page)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func pageFromRequest(r *http.Request) pagectx.PageContext {
	pick := func(param, header string) string {
		if v := r.URL.Query().Get(param); v != "" {
			return v
		}
		return r.Header.Get(header)
	}
	pc := pagectx.PageContext{
		AccountURL:  pick("accountUrl", "X-Account-Url"),
		BasePathURL: pick("basePathUrl", "X-Account-Base-Url"),
		ResourceURL: pick("resourceUrl", "X-Account-Resource-Url"),
		Locale:      pick("locale", "X-Account-Locale"),
	}
	if v := r.URL.Query().Get("emailAsUsername"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			pc = pc.WithRealm(profile.Realm{RegistrationEmailAsUsername: b})
		}
	}
	return pc
}

func PageFrom(ctx context.Context) Page {
	if v, ok := ctx.Value(ctxPageKey{}).(Page); ok {
		return v
	}
	return Page{}
}
